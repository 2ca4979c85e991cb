package telephony

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidRecipient indicates a phone number that cannot be normalized to
// E.164. It is returned before any provider traffic is generated.
var ErrInvalidRecipient = errors.New("invalid recipient phone number")

// NormalizePhoneNumber converts raw user input to E.164 form. Separators and
// surrounding punctuation are tolerated; a leading "00" is rewritten to "+".
// A bare 10-digit number is assumed to be NANP and prefixed with +1.
func NormalizePhoneNumber(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty number", ErrInvalidRecipient)
	}

	hasPlus := strings.HasPrefix(trimmed, "+")

	var digits strings.Builder
	for _, r := range trimmed {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r == '+' || r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
			// separator noise
		default:
			return "", fmt.Errorf("%w: unexpected character %q in %q", ErrInvalidRecipient, r, raw)
		}
	}

	number := digits.String()
	if !hasPlus && strings.HasPrefix(number, "00") {
		number = number[2:]
		hasPlus = true
	}
	if !hasPlus && len(number) == 10 {
		number = "1" + number
	}

	if len(number) < 8 || len(number) > 15 {
		return "", fmt.Errorf("%w: %q has %d digits", ErrInvalidRecipient, raw, len(number))
	}
	if number[0] == '0' {
		return "", fmt.Errorf("%w: %q has no valid country code", ErrInvalidRecipient, raw)
	}

	return "+" + number, nil
}
