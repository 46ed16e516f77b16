// Package errs defines the error kinds shared across the ingestion pipeline.
package errs

import "errors"

// Kind classifies an Error so callers can branch on failure category without
// string-matching messages.
type Kind string

const (
	NotFound         Kind = "not_found"
	AlreadyExists    Kind = "already_exists"
	PermissionDenied Kind = "permission_denied"
	UnknownUser      Kind = "unknown_user"
	UnknownCollection Kind = "unknown_collection"
	InvalidArgument  Kind = "invalid_argument"
	FileMissing      Kind = "file_missing"
	ConversionFailed Kind = "conversion_failed"
	EmbeddingDegraded Kind = "embedding_degraded"
	IndexWriteFailed Kind = "index_write_failed"
	Transient        Kind = "transient"
)

// Error is the shared error type returned by every pipeline component.
type Error struct {
	Kind    Kind
	Op      string
	Err     error
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return string(e.Kind) + ": " + e.Message
	}
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Op + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Op
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an Error of the given kind.
func New(kind Kind, op string, err error, message string) *Error {
	return &Error{Kind: kind, Op: op, Err: err, Message: message}
}

// Is reports whether err (or anything it wraps) is an *Error of kind k.
func Is(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}

func NotFoundError(op, message string) error {
	return New(NotFound, op, nil, message)
}

func AlreadyExistsError(op, message string) error {
	return New(AlreadyExists, op, nil, message)
}

func PermissionDeniedError(op, message string) error {
	return New(PermissionDenied, op, nil, message)
}

func UnknownUserError(op, message string) error {
	return New(UnknownUser, op, nil, message)
}

func UnknownCollectionError(op, message string) error {
	return New(UnknownCollection, op, nil, message)
}

func InvalidArgumentError(op, message string) error {
	return New(InvalidArgument, op, nil, message)
}

func FileMissingError(op, message string) error {
	return New(FileMissing, op, nil, message)
}

func ConversionFailedError(op string, err error) error {
	return New(ConversionFailed, op, err, "")
}

func EmbeddingDegradedError(op string) error {
	return New(EmbeddingDegraded, op, nil, "all embeddings returned the zero vector")
}

func IndexWriteFailedError(op string, err error) error {
	return New(IndexWriteFailed, op, err, "")
}

func TransientError(op string, err error) error {
	return New(Transient, op, err, "")
}
