package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/pesacore/pesacore/internal/accounts"
	"github.com/pesacore/pesacore/internal/ledger"
)

// CodeValidation marks a malformed request rejected before it reached the ledger.
const CodeValidation = "VALIDATION_ERROR"

// validationError is a request the transport layer refuses outright.
type validationError struct {
	msg string
}

func (e *validationError) Error() string { return e.msg }

func invalid(msg string) error { return &validationError{msg: msg} }

// Status maps an error code to its HTTP status.
func Status(code string) int {
	switch code {
	case ledger.CodeAccountNotFound:
		return http.StatusNotFound
	case ledger.CodeInvalidAmount, CodeValidation:
		return http.StatusBadRequest
	case ledger.CodeInsufficientFunds:
		return http.StatusUnprocessableEntity
	case ledger.CodeStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorCode(err error) string {
	var verr *validationError
	switch {
	case errors.As(err, &verr),
		errors.Is(err, accounts.ErrOwnerRequired),
		errors.Is(err, accounts.ErrInvalidCurrency):
		return CodeValidation
	default:
		return ledger.Code(err)
	}
}

// storeError marks an account-service failure with no business meaning as a
// store failure.
func storeError(err error) error {
	if errorCode(err) != ledger.CodeInternal {
		return err
	}
	return fmt.Errorf("%w: %w", ledger.ErrStore, err)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errorCode(err)
	status := Status(code)

	body := ErrorResponse{Code: code, Message: err.Error()}
	if status >= http.StatusInternalServerError {
		// Infrastructure detail stays in the log.
		body.Message = http.StatusText(status)
		s.log.Error("request failed", zap.String("path", r.URL.Path), zap.String("code", code), zap.Error(err))
	}
	if failed, ok := ledger.FailedTransaction(err); ok {
		t := NewTransactionResponse(failed)
		body.Transaction = &t
	}
	writeJSON(w, status, body)
}
