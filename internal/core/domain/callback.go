package domain

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// EastAfricaTime is the gateway's local zone. Compact timestamps in both
// directions are expressed in it.
var EastAfricaTime = time.FixedZone("EAT", 3*60*60)

const CompactTimestampLayout = "20060102150405"

// Wire schema of an STK push confirmation.
type stkCallbackEnvelope struct {
	Body struct {
		STKCallback *stkCallbackBody `json:"stkCallback"`
	} `json:"Body"`
}

type stkCallbackBody struct {
	MerchantRequestID string       `json:"MerchantRequestID"`
	CheckoutRequestID string       `json:"CheckoutRequestID"`
	ResultCode        *json.Number `json:"ResultCode"`
	ResultDesc        string       `json:"ResultDesc"`
	CallbackMetadata  *struct {
		Item []callbackItem `json:"Item"`
	} `json:"CallbackMetadata"`
}

type callbackItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value"`
}

// STKCallback is a validated confirmation.
type STKCallback struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string
	ReceiptNumber     string
	Amount            *decimal.Decimal
	PhoneNumber       string
	TransactionDate   *time.Time
	Raw               json.RawMessage
}

func (c *STKCallback) Succeeded() bool {
	return c.ResultCode == 0
}

// Result converts the callback into the fields persisted on the gateway transaction.
func (c *STKCallback) Result() CallbackResult {
	return CallbackResult{
		ResultCode:      c.ResultCode,
		ResultDesc:      c.ResultDesc,
		ReceiptNumber:   c.ReceiptNumber,
		TransactionDate: c.TransactionDate,
		PhoneNumber:     c.PhoneNumber,
		Raw:             c.Raw,
	}
}

// ParseSTKCallback validates an inbound confirmation body. On a parse error the
// returned callback is non-nil whenever the correlation ids could be read, so
// the caller can still attribute the raw body.
func ParseSTKCallback(body []byte) (*STKCallback, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, NewParseError("callback body is empty", nil)
	}

	var env stkCallbackEnvelope
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return nil, NewParseError("callback body is not valid JSON", err)
	}

	raw := env.Body.STKCallback
	if raw == nil {
		return nil, NewParseError("callback is missing Body.stkCallback", nil)
	}

	cb := &STKCallback{
		MerchantRequestID: raw.MerchantRequestID,
		CheckoutRequestID: strings.TrimSpace(raw.CheckoutRequestID),
		ResultDesc:        raw.ResultDesc,
		Raw:               json.RawMessage(body),
	}
	if cb.CheckoutRequestID == "" {
		return nil, NewParseError("callback is missing CheckoutRequestID", nil)
	}
	if raw.ResultCode == nil {
		return cb, NewParseError("callback is missing ResultCode", nil)
	}
	code, err := raw.ResultCode.Int64()
	if err != nil {
		return cb, NewParseError("callback ResultCode is not an integer", err)
	}
	cb.ResultCode = int(code)

	if !cb.Succeeded() {
		return cb, nil
	}

	if raw.CallbackMetadata == nil {
		return cb, NewParseError("successful callback is missing CallbackMetadata", nil)
	}
	for _, item := range raw.CallbackMetadata.Item {
		value, err := itemString(item.Value)
		if err != nil {
			return cb, NewParseError("callback item "+item.Name+" has an unreadable value", err)
		}
		switch item.Name {
		case "MpesaReceiptNumber":
			cb.ReceiptNumber = value
		case "Amount":
			if value == "" {
				continue
			}
			amount, err := decimal.NewFromString(value)
			if err != nil {
				return cb, NewParseError("callback Amount is not numeric", err)
			}
			cb.Amount = &amount
		case "PhoneNumber":
			cb.PhoneNumber = value
		case "TransactionDate":
			if value == "" {
				continue
			}
			ts, err := ParseTransactionDate(value)
			if err != nil {
				return cb, err
			}
			cb.TransactionDate = &ts
		}
	}
	if cb.ReceiptNumber == "" {
		return cb, NewParseError("successful callback is missing MpesaReceiptNumber", nil)
	}
	return cb, nil
}

// ParseTransactionDate accepts the compact YYYYMMDDHHmmss form and epoch milliseconds.
func ParseTransactionDate(value string) (time.Time, error) {
	if _, err := strconv.ParseInt(value, 10, 64); err != nil {
		return time.Time{}, NewParseError("TransactionDate is not numeric", err)
	}
	switch len(value) {
	case len(CompactTimestampLayout):
		ts, err := time.ParseInLocation(CompactTimestampLayout, value, EastAfricaTime)
		if err != nil {
			return time.Time{}, NewParseError("TransactionDate is not a valid compact timestamp", err)
		}
		return ts, nil
	case 13:
		ms, _ := strconv.ParseInt(value, 10, 64)
		return time.UnixMilli(ms).In(EastAfricaTime), nil
	default:
		return time.Time{}, NewParseError("TransactionDate has an unrecognised format: "+value, nil)
	}
}

func itemString(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", err
		}
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

var resultReasons = map[int]string{
	1:    "Insufficient funds",
	1001: "Subscriber is locked in another transaction",
	1019: "Payment request expired",
	1025: "Payment request could not be processed",
	1032: "Payment cancelled by user",
	1037: "Payment request timed out",
	2001: "Invalid M-Pesa PIN",
	9999: "Payment request could not be processed",
}

// ReasonExpired is recorded on an M-Pesa payment that was still unconfirmed
// well after its prompt expired.
const ReasonExpired = "expired"

// FailureReason maps a known gateway result code to a readable reason and
// falls back to the gateway's own description.
func FailureReason(code int, desc string) string {
	if reason, ok := resultReasons[code]; ok {
		return reason
	}
	if desc = strings.TrimSpace(desc); desc != "" {
		return desc
	}
	return "Payment failed with result code " + strconv.Itoa(code)
}

// C2BNotification is a customer-initiated paybill or till payment as sent to
// the validation and confirmation URLs.
type C2BNotification struct {
	TransactionType   string `json:"TransactionType"`
	TransID           string `json:"TransID"`
	TransTime         string `json:"TransTime"`
	TransAmount       string `json:"TransAmount"`
	BusinessShortCode string `json:"BusinessShortCode"`
	BillRefNumber     string `json:"BillRefNumber"`
	MSISDN            string `json:"MSISDN"`
	FirstName         string `json:"FirstName"`
}

func ParseC2BNotification(body []byte) (*C2BNotification, error) {
	var n C2BNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, NewParseError("c2b notification is not valid JSON", err)
	}
	if strings.TrimSpace(n.TransID) == "" {
		return nil, NewParseError("c2b notification is missing TransID", nil)
	}
	return &n, nil
}
