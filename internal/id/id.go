package id

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// AccountNumberPrefix starts every human-referenceable account number.
const AccountNumberPrefix = "ACC-"

const accountNumberDigits = 12

// NewAccountID returns a fresh account identifier.
func NewAccountID() string {
	return uuid.NewString()
}

// NewTransactionID returns a fresh transaction identifier.
func NewTransactionID() string {
	return uuid.NewString()
}

// NewAccountNumber returns an account number like "ACC-3F9A0C41B27E".
func NewAccountNumber() string {
	return FormatAccountNumber(uuid.New())
}

// FormatAccountNumber derives an account number from the leading bytes of u.
func FormatAccountNumber(u uuid.UUID) string {
	hex := strings.ReplaceAll(u.String(), "-", "")
	return AccountNumberPrefix + strings.ToUpper(hex[:accountNumberDigits])
}

// ValidateAccountNumber checks the "ACC-XXXXXXXXXXXX" shape.
func ValidateAccountNumber(s string) error {
	rest, ok := strings.CutPrefix(s, AccountNumberPrefix)
	if !ok {
		return fmt.Errorf("invalid account number %q: missing %s prefix", s, AccountNumberPrefix)
	}
	if len(rest) != accountNumberDigits {
		return fmt.Errorf("invalid account number %q: want %d characters after prefix", s, accountNumberDigits)
	}
	for _, r := range rest {
		if (r < '0' || r > '9') && (r < 'A' || r > 'F') {
			return fmt.Errorf("invalid account number %q: unexpected %q", s, r)
		}
	}
	return nil
}

// ParseID normalizes a textual UUID identifier.
func ParseID(s string) (string, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid identifier %q: %w", s, err)
	}
	return u.String(), nil
}
