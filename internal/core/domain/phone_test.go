package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePhone(t *testing.T) {
	valid := map[string]string{
		"0712345678":        "254712345678",
		"712345678":         "254712345678",
		"254712345678":      "254712345678",
		"+254712345678":     "254712345678",
		" +254 712 345 678": "254712345678",
		"0712-345-678":      "254712345678",
		"0110123456":        "254110123456",
	}
	for in, want := range valid {
		got, err := NormalizePhone(in)
		assert.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	invalid := []string{"", "12345", "+15551234567", "0812345678", "07123456789", "07123abc78", "254+712345678"}
	for _, in := range invalid {
		_, err := NormalizePhone(in)
		assert.True(t, IsErrorCode(err, ErrCodeValidation), "%q should be rejected", in)
	}
}
