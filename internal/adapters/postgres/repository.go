package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/DanielPopoola/mpesa-payment-engine/internal/core/domain"
	"github.com/DanielPopoola/mpesa-payment-engine/internal/core/ports"
	"github.com/DanielPopoola/mpesa-payment-engine/internal/tenant"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type PaymentRepository struct {
	pool *pgxpool.Pool
	q    Executor
}

func NewPaymentRepository(db *DB) ports.PaymentRepository {
	return &PaymentRepository{
		pool: db.Pool,
		q:    db.Pool,
	}
}

const paymentColumns = `id, tenant_id, order_id, customer_id, parent_payment_id, method_id, method_type,
	amount, processing_fee, net_amount, status, failure_reason, transaction_id, reference, description,
	gateway_response, verified_by, initiated_at, completed_at, expires_at, verified_at, created_at, updated_at`

// CreatePayment saves a new payment to the database
func (r *PaymentRepository) CreatePayment(ctx context.Context, p *domain.Payment) error {
	query := `INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`

	_, err := r.q.Exec(ctx, query,
		p.ID,
		p.TenantID,
		p.OrderID,
		p.CustomerID,
		p.ParentPaymentID,
		p.MethodID,
		p.MethodType,
		decimalToNumeric(p.Amount),
		decimalToNumeric(p.ProcessingFee),
		decimalToNumeric(p.NetAmount),
		p.Status,
		p.FailureReason,
		p.TransactionID,
		p.Reference,
		p.Description,
		jsonb(p.GatewayResponse),
		p.VerifiedBy,
		p.InitiatedAt,
		p.CompletedAt,
		p.ExpiresAt,
		p.VerifiedAt,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

// FindByID retrieves a payment of the current tenant by its ID
func (r *PaymentRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1 AND tenant_id = $2`
	p, err := scanPayment(r.q.QueryRow(ctx, query, id, tenant.FromContext(ctx)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NewPaymentNotFoundError(id.String())
	}
	return p, err
}

// FindByIDForUpdate retrieves a payment and locks the row until the transaction ends
func (r *PaymentRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1 AND tenant_id = $2 FOR UPDATE`
	p, err := scanPayment(r.q.QueryRow(ctx, query, id, tenant.FromContext(ctx)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NewPaymentNotFoundError(id.String())
	}
	return p, err
}

func (r *PaymentRepository) FindByOrderID(ctx context.Context, orderID uuid.UUID) ([]*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments
		WHERE order_id = $1 AND tenant_id = $2
		ORDER BY initiated_at`

	rows, err := r.q.Query(ctx, query, orderID, tenant.FromContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("query payments by order_id: %w", err)
	}
	return collectPayments(rows)
}

// FindStaleProcessing returns mobile-money payments of every tenant that have
// been waiting for a confirmation longer than olderThan. Payments polled within
// the same window are skipped and the least recently polled come first, so a
// payment that keeps failing to resolve cannot hold back the rest.
func (r *PaymentRepository) FindStaleProcessing(ctx context.Context, olderThan time.Duration, limit int) ([]*domain.Payment, error) {
	cutoff := time.Now().Add(-olderThan)

	query := `SELECT ` + paymentColumns + ` FROM payments
		WHERE status = 'processing' AND method_type = 'mpesa' AND updated_at < $1
			AND (last_polled_at IS NULL OR last_polled_at < $1)
		ORDER BY last_polled_at NULLS FIRST, updated_at
		LIMIT $2`

	rows, err := r.q.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("query stale processing payments: %w", err)
	}
	return collectPayments(rows)
}

// RecordPollAttempt notes that the gateway was asked about a payment. It does
// not touch updated_at, which tracks status changes only.
func (r *PaymentRepository) RecordPollAttempt(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `UPDATE payments
		SET last_polled_at = $3, poll_attempts = poll_attempts + 1
		WHERE id = $1 AND tenant_id = $2`

	if _, err := r.q.Exec(ctx, query, id, tenant.FromContext(ctx), at); err != nil {
		return fmt.Errorf("failed to record poll attempt: %w", err)
	}
	return nil
}

// SumMethodVolume totals the amounts committed against a method since the
// given time. Open payments count until they expire.
func (r *PaymentRepository) SumMethodVolume(ctx context.Context, methodID string, since time.Time) (decimal.Decimal, error) {
	query := `SELECT COALESCE(SUM(amount), 0) FROM payments
		WHERE tenant_id = $1 AND method_id = $2 AND initiated_at >= $3
			AND (status IN ('processing', 'completed', 'verified')
				OR (status = 'pending' AND (expires_at IS NULL OR expires_at > NOW())))`

	var total pgtype.Numeric
	if err := r.q.QueryRow(ctx, query, tenant.FromContext(ctx), methodID, since).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("sum method volume: %w", err)
	}
	return numericToDecimal(total), nil
}

// LockMethodVolume takes a transaction scoped advisory lock on the tenant and
// method pair. Outside a transaction the lock is released immediately.
func (r *PaymentRepository) LockMethodVolume(ctx context.Context, methodID string) error {
	_, err := r.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1 || ':' || $2))`, tenant.FromContext(ctx), methodID)
	if err != nil {
		return fmt.Errorf("failed to lock method volume: %w", err)
	}
	return nil
}

func (r *PaymentRepository) MarkProcessing(ctx context.Context, id uuid.UUID, gatewayResponse json.RawMessage, at time.Time) (bool, error) {
	query := `UPDATE payments
		SET status = 'processing', gateway_response = COALESCE($3, gateway_response), updated_at = $4
		WHERE id = $1 AND tenant_id = $2 AND status = 'pending'`

	return r.transition(ctx, "processing", query, id, tenant.FromContext(ctx), jsonb(gatewayResponse), at)
}

func (r *PaymentRepository) CompletePayment(ctx context.Context, id uuid.UUID, receipt string, at time.Time) (bool, error) {
	query := `UPDATE payments
		SET status = 'completed', transaction_id = COALESCE(NULLIF($3, ''), transaction_id),
			completed_at = $4, updated_at = $4
		WHERE id = $1 AND tenant_id = $2 AND status IN ('pending', 'processing')`

	return r.transition(ctx, "completed", query, id, tenant.FromContext(ctx), receipt, at)
}

func (r *PaymentRepository) FailPayment(ctx context.Context, id uuid.UUID, reason string, gatewayResponse json.RawMessage, at time.Time) (bool, error) {
	query := `UPDATE payments
		SET status = 'failed', failure_reason = $3, gateway_response = COALESCE($4, gateway_response), updated_at = $5
		WHERE id = $1 AND tenant_id = $2 AND status IN ('pending', 'processing')`

	return r.transition(ctx, "failed", query, id, tenant.FromContext(ctx), reason, jsonb(gatewayResponse), at)
}

func (r *PaymentRepository) CancelPayment(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	query := `UPDATE payments
		SET status = 'cancelled', updated_at = $3
		WHERE id = $1 AND tenant_id = $2 AND status IN ('pending', 'processing')`

	return r.transition(ctx, "cancelled", query, id, tenant.FromContext(ctx), at)
}

func (r *PaymentRepository) VerifyPayment(ctx context.Context, id uuid.UUID, by string, at time.Time) (bool, error) {
	query := `UPDATE payments
		SET status = 'verified', verified_by = $3, verified_at = $4, updated_at = $4
		WHERE id = $1 AND tenant_id = $2 AND status = 'completed'`

	return r.transition(ctx, "verified", query, id, tenant.FromContext(ctx), by, at)
}

// BackfillReceipt sets the receipt of a settled payment that was completed without one.
func (r *PaymentRepository) BackfillReceipt(ctx context.Context, id uuid.UUID, receipt string) (bool, error) {
	query := `UPDATE payments
		SET transaction_id = $3, updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2 AND transaction_id IS NULL AND status IN ('completed', 'verified')`

	return r.transition(ctx, "receipt backfill", query, id, tenant.FromContext(ctx), receipt)
}

func (r *PaymentRepository) transition(ctx context.Context, name, query string, args ...any) (bool, error) {
	tag, err := r.q.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to apply %s transition: %w", name, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PaymentRepository) CreateGatewayTransaction(ctx context.Context, t *domain.GatewayTransaction) error {
	query := `INSERT INTO gateway_transactions (id, payment_id, phone_number, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.q.Exec(ctx, query, t.ID, t.PaymentID, t.PhoneNumber, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		if IsUniqueViolation(err) && constraintName(err) == "gateway_transactions_payment_id_key" {
			return domain.NewValidationError("payment %s already has a gateway transaction", t.PaymentID)
		}
		return fmt.Errorf("failed to create gateway transaction: %w", err)
	}
	return nil
}

const gatewayColumns = `g.id, g.payment_id, g.phone_number, g.merchant_request_id, g.checkout_request_id,
	g.receipt_number, g.transaction_date, g.result_code, g.result_desc, g.raw_callback, g.created_at, g.updated_at`

func (r *PaymentRepository) FindGatewayTransactionByPaymentID(ctx context.Context, paymentID uuid.UUID) (*domain.GatewayTransaction, error) {
	query := `SELECT ` + gatewayColumns + ` FROM gateway_transactions g
		JOIN payments p ON p.id = g.payment_id
		WHERE g.payment_id = $1 AND p.tenant_id = $2`

	t, err := scanGatewayTransaction(r.q.QueryRow(ctx, query, paymentID, tenant.FromContext(ctx)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NewPaymentNotFoundError(paymentID.String())
	}
	return t, err
}

func (r *PaymentRepository) FindGatewayTransactionByCheckoutID(ctx context.Context, checkoutRequestID string) (*domain.GatewayTransaction, error) {
	query := `SELECT ` + gatewayColumns + ` FROM gateway_transactions g
		JOIN payments p ON p.id = g.payment_id
		WHERE g.checkout_request_id = $1 AND p.tenant_id = $2`

	t, err := scanGatewayTransaction(r.q.QueryRow(ctx, query, checkoutRequestID, tenant.FromContext(ctx)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NewCallbackMismatchError(checkoutRequestID)
	}
	return t, err
}

// AttachCheckout records the gateway correlation ids once the push was accepted.
func (r *PaymentRepository) AttachCheckout(ctx context.Context, id uuid.UUID, merchantRequestID, checkoutRequestID string) error {
	query := `UPDATE gateway_transactions
		SET merchant_request_id = $2, checkout_request_id = $3, updated_at = NOW()
		WHERE id = $1 AND checkout_request_id IS NULL`

	tag, err := r.q.Exec(ctx, query, id, merchantRequestID, checkoutRequestID)
	if err != nil {
		if IsUniqueViolation(err) {
			return domain.NewValidationError("checkout request %s is already attached to another payment", checkoutRequestID)
		}
		return fmt.Errorf("failed to attach checkout ids: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewInvalidTransitionError(domain.StatusProcessing, domain.StatusProcessing)
	}
	return nil
}

// RecordCallbackResult fills the confirmation fields that are still empty.
// The first delivery wins; later duplicates leave the row unchanged.
func (r *PaymentRepository) RecordCallbackResult(ctx context.Context, id uuid.UUID, res domain.CallbackResult) error {
	query := `UPDATE gateway_transactions SET
			receipt_number = COALESCE(receipt_number, NULLIF($2, '')),
			transaction_date = COALESCE(transaction_date, $3),
			result_code = COALESCE(result_code, $4),
			result_desc = COALESCE(result_desc, $5),
			raw_callback = COALESCE(raw_callback, $6),
			updated_at = NOW()
		WHERE id = $1`

	_, err := r.q.Exec(ctx, query, id, res.ReceiptNumber, res.TransactionDate, res.ResultCode, res.ResultDesc, jsonb(res.Raw))
	if err != nil {
		return fmt.Errorf("failed to record callback result: %w", err)
	}
	return nil
}

func (r *PaymentRepository) CreateRefund(ctx context.Context, ref *domain.Refund) error {
	query := `INSERT INTO refunds (id, payment_id, amount, reason, status, processed_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.q.Exec(ctx, query,
		ref.ID,
		ref.PaymentID,
		decimalToNumeric(ref.Amount),
		ref.Reason,
		ref.Status,
		ref.ProcessedBy,
		ref.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create refund: %w", err)
	}
	return nil
}

func (r *PaymentRepository) SumRefunds(ctx context.Context, paymentID uuid.UUID) (decimal.Decimal, error) {
	query := `SELECT COALESCE(SUM(amount), 0) FROM refunds WHERE payment_id = $1 AND status = 'completed'`

	var total pgtype.Numeric
	if err := r.q.QueryRow(ctx, query, paymentID).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("sum refunds: %w", err)
	}
	return numericToDecimal(total), nil
}

func (r *PaymentRepository) FindRefunds(ctx context.Context, paymentID uuid.UUID) ([]*domain.Refund, error) {
	query := `SELECT id, payment_id, amount, reason, status, processed_by, created_at
		FROM refunds WHERE payment_id = $1 ORDER BY created_at`

	rows, err := r.q.Query(ctx, query, paymentID)
	if err != nil {
		return nil, fmt.Errorf("query refunds: %w", err)
	}
	refunds, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.Refund, error) {
		var ref domain.Refund
		var amount pgtype.Numeric
		err := row.Scan(&ref.ID, &ref.PaymentID, &amount, &ref.Reason, &ref.Status, &ref.ProcessedBy, &ref.CreatedAt)
		ref.Amount = numericToDecimal(amount)
		return &ref, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan refunds: %w", err)
	}
	return refunds, nil
}

const orderColumns = `id, tenant_id, customer_id, customer_phone, total_amount, payment_status, payment_method, payment_date`

func (r *PaymentRepository) FindOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 AND tenant_id = $2`
	return r.findOrder(ctx, query, id)
}

// FindOrderForUpdate locks the order row so concurrent reconciliations serialize.
func (r *PaymentRepository) FindOrderForUpdate(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 AND tenant_id = $2 FOR UPDATE`
	return r.findOrder(ctx, query, id)
}

func (r *PaymentRepository) findOrder(ctx context.Context, query string, id uuid.UUID) (*domain.Order, error) {
	var o domain.Order
	var total pgtype.Numeric
	err := r.q.QueryRow(ctx, query, id, tenant.FromContext(ctx)).Scan(
		&o.ID,
		&o.TenantID,
		&o.CustomerID,
		&o.CustomerPhone,
		&total,
		&o.PaymentStatus,
		&o.PaymentMethod,
		&o.PaymentDate,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewOrderNotFoundError(id.String())
		}
		return nil, fmt.Errorf("failed to scan order: %w", err)
	}
	o.TotalAmount = numericToDecimal(total)
	return &o, nil
}

// UpdateOrderPayment writes only the derived payment columns of an order.
func (r *PaymentRepository) UpdateOrderPayment(ctx context.Context, id uuid.UUID, s *domain.Settlement) error {
	query := `UPDATE orders
		SET payment_status = $3, payment_method = $4, payment_date = $5, updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2`

	tag, err := r.q.Exec(ctx, query, id, tenant.FromContext(ctx), s.Status, s.PaymentMethod, s.PaymentDate)
	if err != nil {
		return fmt.Errorf("failed to update order payment fields: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewOrderNotFoundError(id.String())
	}
	return nil
}

func (r *PaymentRepository) SaveCallbackLog(ctx context.Context, l *domain.CallbackLog) error {
	query := `INSERT INTO callback_logs (id, tenant_id, kind, checkout_request_id, outcome, payload, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.q.Exec(ctx, query, l.ID, l.TenantID, l.Kind, l.CheckoutRequestID, l.Outcome, string(l.Payload), l.ReceivedAt)
	if err != nil {
		return fmt.Errorf("failed to save callback log: %w", err)
	}
	return nil
}

func (r *PaymentRepository) EnqueueEvent(ctx context.Context, e *domain.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	query := `INSERT INTO outbox_events (event_id, event_type, tenant_id, aggregate_type, aggregate_id, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = r.q.Exec(ctx, query, e.ID, e.Type, e.TenantID, e.AggregateType, e.AggregateID, payload, e.OccurredAt)
	if err != nil {
		return fmt.Errorf("failed to enqueue event: %w", err)
	}
	return nil
}

const maxPublishAttempts = 10

func (r *PaymentRepository) FetchUnpublishedEvents(ctx context.Context, limit int) ([]*domain.OutboxEntry, error) {
	query := `SELECT payload, attempts, published_at, last_error FROM outbox_events
		WHERE published_at IS NULL AND attempts < $1
		ORDER BY occurred_at
		LIMIT $2`

	rows, err := r.q.Query(ctx, query, maxPublishAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.OutboxEntry, error) {
		var entry domain.OutboxEntry
		var payload []byte
		if err := row.Scan(&payload, &entry.Attempts, &entry.PublishedAt, &entry.LastError); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(payload, &entry.Event); err != nil {
			return nil, fmt.Errorf("decode outbox payload: %w", err)
		}
		return &entry, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan outbox: %w", err)
	}
	return entries, nil
}

func (r *PaymentRepository) MarkEventPublished(ctx context.Context, eventID string, at time.Time) error {
	_, err := r.q.Exec(ctx,
		`UPDATE outbox_events SET published_at = $2, attempts = attempts + 1, last_error = NULL WHERE event_id = $1`,
		eventID, at)
	if err != nil {
		return fmt.Errorf("failed to mark event published: %w", err)
	}
	return nil
}

func (r *PaymentRepository) MarkEventFailed(ctx context.Context, eventID string, reason string) error {
	_, err := r.q.Exec(ctx,
		`UPDATE outbox_events SET attempts = attempts + 1, last_error = $2 WHERE event_id = $1`,
		eventID, reason)
	if err != nil {
		return fmt.Errorf("failed to mark event failed: %w", err)
	}
	return nil
}

// WithTx executes a function within a database transaction
func (r *PaymentRepository) WithTx(ctx context.Context, fn func(ports.PaymentRepository) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	// Rollback is a no-op once the transaction has been committed
	defer tx.Rollback(ctx)

	repoWithTx := &PaymentRepository{
		pool: r.pool,
		q:    tx,
	}

	if err := fn(repoWithTx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var p domain.Payment
	var amount, fee, net pgtype.Numeric
	var gatewayResponse []byte

	err := row.Scan(
		&p.ID,
		&p.TenantID,
		&p.OrderID,
		&p.CustomerID,
		&p.ParentPaymentID,
		&p.MethodID,
		&p.MethodType,
		&amount,
		&fee,
		&net,
		&p.Status,
		&p.FailureReason,
		&p.TransactionID,
		&p.Reference,
		&p.Description,
		&gatewayResponse,
		&p.VerifiedBy,
		&p.InitiatedAt,
		&p.CompletedAt,
		&p.ExpiresAt,
		&p.VerifiedAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan payment: %w", err)
	}

	p.Amount = numericToDecimal(amount)
	p.ProcessingFee = numericToDecimal(fee)
	p.NetAmount = numericToDecimal(net)
	if len(gatewayResponse) > 0 {
		p.GatewayResponse = json.RawMessage(gatewayResponse)
	}
	return &p, nil
}

func collectPayments(rows pgx.Rows) ([]*domain.Payment, error) {
	payments, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.Payment, error) {
		return scanPayment(row)
	})
	if err != nil {
		return nil, fmt.Errorf("error occurred while scanning rows: %w", err)
	}
	return payments, nil
}

func scanGatewayTransaction(row pgx.Row) (*domain.GatewayTransaction, error) {
	var t domain.GatewayTransaction
	var raw []byte

	err := row.Scan(
		&t.ID,
		&t.PaymentID,
		&t.PhoneNumber,
		&t.MerchantRequestID,
		&t.CheckoutRequestID,
		&t.ReceiptNumber,
		&t.TransactionDate,
		&t.ResultCode,
		&t.ResultDesc,
		&raw,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan gateway transaction: %w", err)
	}
	if len(raw) > 0 {
		t.RawCallback = json.RawMessage(raw)
	}
	return &t, nil
}
