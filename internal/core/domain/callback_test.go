package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const successBody = `{
  "Body": {
    "stkCallback": {
      "MerchantRequestID": "29115-34620561-1",
      "CheckoutRequestID": "ws_CO_191220191020363925",
      "ResultCode": 0,
      "ResultDesc": "The service request is processed successfully.",
      "CallbackMetadata": {
        "Item": [
          {"Name": "Amount", "Value": 1.00},
          {"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
          {"Name": "Balance"},
          {"Name": "TransactionDate", "Value": 20191219102115},
          {"Name": "PhoneNumber", "Value": 254708374149}
        ]
      }
    }
  }
}`

func TestParseSTKCallback_Success(t *testing.T) {
	cb, err := ParseSTKCallback([]byte(successBody))
	require.NoError(t, err)

	assert.True(t, cb.Succeeded())
	assert.Equal(t, "ws_CO_191220191020363925", cb.CheckoutRequestID)
	assert.Equal(t, "29115-34620561-1", cb.MerchantRequestID)
	assert.Equal(t, "NLJ7RT61SV", cb.ReceiptNumber)
	assert.Equal(t, "254708374149", cb.PhoneNumber)
	require.NotNil(t, cb.Amount)
	assert.Equal(t, "1", cb.Amount.String())
	require.NotNil(t, cb.TransactionDate)
	assert.True(t, time.Date(2019, 12, 19, 7, 21, 15, 0, time.UTC).Equal(*cb.TransactionDate))
	assert.JSONEq(t, successBody, string(cb.Raw))

	res := cb.Result()
	assert.Equal(t, 0, res.ResultCode)
	assert.Equal(t, "NLJ7RT61SV", res.ReceiptNumber)
}

func TestParseSTKCallback_Failure(t *testing.T) {
	body := `{"Body":{"stkCallback":{"MerchantRequestID":"m-1","CheckoutRequestID":"ws_CO_1","ResultCode":1032,"ResultDesc":"Request cancelled by user"}}}`

	cb, err := ParseSTKCallback([]byte(body))
	require.NoError(t, err)

	assert.False(t, cb.Succeeded())
	assert.Equal(t, 1032, cb.ResultCode)
	assert.Equal(t, "Payment cancelled by user", FailureReason(cb.ResultCode, cb.ResultDesc))
	assert.Empty(t, cb.ReceiptNumber)
}

func TestParseSTKCallback_StringResultCode(t *testing.T) {
	body := `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_1","ResultCode":"1","ResultDesc":"insufficient"}}}`

	cb, err := ParseSTKCallback([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, 1, cb.ResultCode)
}

func TestParseSTKCallback_Malformed(t *testing.T) {
	tests := map[string]struct {
		body        string
		hasCheckout bool
	}{
		"empty":            {body: ""},
		"whitespace":       {body: "   "},
		"invalid json":     {body: "{"},
		"no stkCallback":   {body: `{"Body":{}}`},
		"no checkout id":   {body: `{"Body":{"stkCallback":{"ResultCode":0}}}`},
		"no result code":   {body: `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_1"}}}`, hasCheckout: true},
		"float code":       {body: `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_1","ResultCode":1.5}}}`, hasCheckout: true},
		"success no items": {body: `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_1","ResultCode":0}}}`, hasCheckout: true},
		"success no receipt": {
			body:        `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_1","ResultCode":0,"CallbackMetadata":{"Item":[{"Name":"Amount","Value":10}]}}}}`,
			hasCheckout: true,
		},
		"bad amount": {
			body:        `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_1","ResultCode":0,"CallbackMetadata":{"Item":[{"Name":"Amount","Value":"ten"}]}}}}`,
			hasCheckout: true,
		},
		"bad date": {
			body:        `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_1","ResultCode":0,"CallbackMetadata":{"Item":[{"Name":"TransactionDate","Value":"yesterday"}]}}}}`,
			hasCheckout: true,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			cb, err := ParseSTKCallback([]byte(tt.body))
			assert.True(t, IsErrorCode(err, ErrCodeParse), "got %v", err)
			if tt.hasCheckout {
				require.NotNil(t, cb)
				assert.Equal(t, "ws_CO_1", cb.CheckoutRequestID)
			} else {
				assert.Nil(t, cb)
			}
		})
	}
}

func TestParseTransactionDate(t *testing.T) {
	compact, err := ParseTransactionDate("20250314093000")
	require.NoError(t, err)
	assert.True(t, time.Date(2025, 3, 14, 6, 30, 0, 0, time.UTC).Equal(compact))

	millis, err := ParseTransactionDate("1741933800000")
	require.NoError(t, err)
	assert.True(t, time.UnixMilli(1741933800000).Equal(millis))

	for _, bad := range []string{"", "2025-03-14", "20251399000000", "123"} {
		_, err := ParseTransactionDate(bad)
		assert.True(t, IsErrorCode(err, ErrCodeParse), bad)
	}
}

func TestFailureReason(t *testing.T) {
	assert.Equal(t, "Insufficient funds", FailureReason(1, "whatever"))
	assert.Equal(t, "Payment request could not be processed", FailureReason(9999, ""))
	assert.Equal(t, "Some gateway text", FailureReason(17, "  Some gateway text "))
	assert.Equal(t, "Payment failed with result code 17", FailureReason(17, ""))
}

func TestParseC2BNotification(t *testing.T) {
	n, err := ParseC2BNotification([]byte(`{"TransID":"RKTQDM7W6S","TransAmount":"10","MSISDN":"254708374149","BillRefNumber":"INV-7"}`))
	require.NoError(t, err)
	assert.Equal(t, "RKTQDM7W6S", n.TransID)
	assert.Equal(t, "INV-7", n.BillRefNumber)

	_, err = ParseC2BNotification([]byte(`{"TransAmount":"10"}`))
	assert.True(t, IsErrorCode(err, ErrCodeParse))
	_, err = ParseC2BNotification([]byte(`nope`))
	assert.True(t, IsErrorCode(err, ErrCodeParse))
}
