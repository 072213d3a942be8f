package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")
	ErrBatchAborted  = errors.New("batch aborted")
	ErrInvalidInput  = errors.New("invalid input")
)

// Kind classifies why a defect record was not accepted as-is.
type Kind string

const (
	KindMissingField         Kind = "MissingField"
	KindInvalidEnum          Kind = "InvalidEnum"
	KindMissingWcagReference Kind = "MissingWcagReference"
	KindFingerprintAmbiguous Kind = "FingerprintCollisionAmbiguous"
)

var (
	ErrMissingField         = errors.New("missing field")
	ErrInvalidEnum          = errors.New("invalid enum value")
	ErrMissingWcagReference = errors.New("missing wcag reference")
	ErrFingerprintAmbiguous = errors.New("fingerprint collision ambiguous")
)

var kindErrors = map[Kind]error{
	KindMissingField:         ErrMissingField,
	KindInvalidEnum:          ErrInvalidEnum,
	KindMissingWcagReference: ErrMissingWcagReference,
	KindFingerprintAmbiguous: ErrFingerprintAmbiguous,
}

// Rejection describes a record excluded from aggregation.
// It unwraps to the sentinel error of its Kind.
type Rejection struct {
	Kind   Kind   `json:"kind"`
	Field  string `json:"field,omitempty"`
	Source string `json:"source"`
	Detail string `json:"detail,omitempty"`
}

func (r *Rejection) Error() string {
	msg := fmt.Sprintf("%s: %s", r.Source, r.Kind)
	if r.Field != "" {
		msg += " (" + r.Field + ")"
	}
	if r.Detail != "" {
		msg += ": " + r.Detail
	}
	return msg
}

func (r *Rejection) Unwrap() error {
	return kindErrors[r.Kind]
}
