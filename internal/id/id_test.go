package id

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatAccountNumber(t *testing.T) {
	tests := []struct {
		uuid string
		want string
	}{
		{"3f9a0c41-b27e-4d11-9a0b-0123456789ab", "ACC-3F9A0C41B27E"},
		{"00000000-0000-0000-0000-000000000000", "ACC-000000000000"},
	}
	for _, tt := range tests {
		got := FormatAccountNumber(uuid.MustParse(tt.uuid))
		assert.Equal(t, tt.want, got)
	}
}

func TestNewAccountNumber(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		n := NewAccountNumber()
		require.NoError(t, ValidateAccountNumber(n), "generated %s", n)
		assert.False(t, seen[n], "duplicate account number %s", n)
		seen[n] = true
	}
}

func TestValidateAccountNumber_Errors(t *testing.T) {
	badInputs := []string{
		"",
		"3F9A0C41B27E",
		"ACC-3F9A0C41B27",
		"ACC-3F9A0C41B27EE",
		"ACC-3f9a0c41b27e",
		"ACC-3F9A0C41B27G",
	}
	for _, input := range badInputs {
		assert.Error(t, ValidateAccountNumber(input), "expected error for input: %s", input)
	}
}

func TestNewIDsAreUnique(t *testing.T) {
	a, b := NewAccountID(), NewTransactionID()
	assert.NotEqual(t, a, b)
	_, err := uuid.Parse(a)
	assert.NoError(t, err)
	_, err = uuid.Parse(b)
	assert.NoError(t, err)
}

func TestParseID(t *testing.T) {
	got, err := ParseID("3F9A0C41-B27E-4D11-9A0B-0123456789AB")
	require.NoError(t, err)
	assert.Equal(t, "3f9a0c41-b27e-4d11-9a0b-0123456789ab", got)

	_, err = ParseID("not-a-uuid")
	assert.Error(t, err)
}
