package domain

import (
	"strings"
	"unicode"
)

const kenyaCountryCode = "254"

// NormalizePhone converts the local and international spellings of a Kenyan
// mobile number into the 2547XXXXXXXX / 2541XXXXXXXX form the gateway expects.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '+' && b.Len() == 0:
		case r == ' ' || r == '-' || r == '(' || r == ')':
		default:
			return "", NewValidationError("phone number %q contains invalid characters", raw)
		}
	}
	digits := b.String()

	switch {
	case len(digits) == 12 && strings.HasPrefix(digits, kenyaCountryCode):
	case len(digits) == 10 && strings.HasPrefix(digits, "0"):
		digits = kenyaCountryCode + digits[1:]
	case len(digits) == 9:
		digits = kenyaCountryCode + digits
	default:
		return "", NewValidationError("phone number %q is not a valid mobile number", raw)
	}

	if digits[3] != '7' && digits[3] != '1' {
		return "", NewValidationError("phone number %q is not a valid mobile number", raw)
	}
	return digits, nil
}
