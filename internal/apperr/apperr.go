package apperr

import (
	"errors"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Type is the local error taxonomy. Database and payment-provider errors
// are remapped onto it so handlers never leak raw SQLSTATEs or provider
// codes to clients.
type Type int

const (
	Internal Type = iota
	NotFound
	Duplicate
	ForeignKey
	CheckViolation
	Conflict
	PermissionDenied
	Unavailable
	Timeout
	InvalidInput
	CardDeclined
	InsufficientFunds
	RateLimited
)

var typeNames = map[Type]string{
	Internal:          "internal",
	NotFound:          "not_found",
	Duplicate:         "duplicate",
	ForeignKey:        "foreign_key",
	CheckViolation:    "check_violation",
	Conflict:          "conflict",
	PermissionDenied:  "permission_denied",
	Unavailable:       "unavailable",
	Timeout:           "timeout",
	InvalidInput:      "invalid_input",
	CardDeclined:      "card_declined",
	InsufficientFunds: "insufficient_funds",
	RateLimited:       "rate_limited",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return "internal"
}

// Error carries a taxonomy type, a user-safe message and the wrapped cause.
type Error struct {
	Type Type
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error without a cause.
func New(t Type, msg string) *Error { return &Error{Type: t, Msg: msg} }

// Wrap builds an Error around a cause.
func Wrap(t Type, msg string, err error) *Error { return &Error{Type: t, Msg: msg, Err: err} }

// TypeOf extracts the taxonomy type; unclassified errors are Internal.
func TypeOf(err error) Type {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return Internal
}

// Message returns the user-safe message, or a generic one for
// unclassified errors.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return "something went wrong"
}

// HTTPStatus maps a taxonomy type to a response status.
func HTTPStatus(t Type) int {
	switch t {
	case NotFound:
		return http.StatusNotFound
	case Duplicate, Conflict:
		return http.StatusConflict
	case ForeignKey, CheckViolation, InvalidInput:
		return http.StatusBadRequest
	case PermissionDenied:
		return http.StatusForbidden
	case CardDeclined, InsufficientFunds:
		return http.StatusPaymentRequired
	case RateLimited:
		return http.StatusTooManyRequests
	case Unavailable:
		return http.StatusBadGateway
	case Timeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether an operation failing with this type is worth
// retrying. Drives the retry helper.
func Retryable(t Type) bool {
	switch t {
	case Conflict, Unavailable, Timeout, RateLimited:
		return true
	default:
		return false
	}
}

// ClassifyDB remaps a gorm/Postgres error onto the taxonomy.
func ClassifyDB(err error) *Error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Wrap(NotFound, "record not found", err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return Wrap(Duplicate, "already exists", err)
		case pgErr.Code == "23503":
			return Wrap(ForeignKey, "related record missing", err)
		case pgErr.Code == "23514":
			return Wrap(CheckViolation, "value rejected", err)
		case pgErr.Code == "40001" || pgErr.Code == "40P01":
			return Wrap(Conflict, "concurrent update, retry", err)
		case pgErr.Code == "42501":
			return Wrap(PermissionDenied, "not allowed", err)
		case pgErr.Code == "57014":
			return Wrap(Timeout, "query timed out", err)
		case strings.HasPrefix(pgErr.Code, "08"):
			return Wrap(Unavailable, "database unavailable", err)
		}
	}
	return Wrap(Internal, "database error", err)
}

// ClassifyPayment remaps a provider error (its type plus decline code)
// onto the taxonomy. Shapes follow the provider's error JSON.
func ClassifyPayment(errType, code, message string) *Error {
	msg := message
	if msg == "" {
		msg = "payment failed"
	}
	switch errType {
	case "card_error":
		if code == "insufficient_funds" {
			return New(InsufficientFunds, msg)
		}
		return New(CardDeclined, msg)
	case "rate_limit_error":
		return New(RateLimited, "too many requests to payment provider")
	case "invalid_request_error":
		if code == "resource_missing" {
			return New(NotFound, msg)
		}
		return New(InvalidInput, msg)
	case "authentication_error":
		return New(PermissionDenied, "payment provider rejected credentials")
	case "api_error", "api_connection_error":
		return New(Unavailable, "payment provider unavailable")
	case "idempotency_error":
		return New(Conflict, msg)
	default:
		return New(Internal, msg)
	}
}
