package wire

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownKind is returned by Decode for a record whose kind tag is
	// missing or outside the protocol range.
	ErrUnknownKind = errors.New("wire: unknown message kind")

	// ErrMalformedRecord is returned by Decode for bytes that are not a JSON
	// object in the record schema.
	ErrMalformedRecord = errors.New("wire: malformed record")

	// ErrUnencodable is returned by Encode for a payload that has no JSON form.
	ErrUnencodable = errors.New("wire: message cannot be encoded")

	ErrFrameTooLarge = errors.New("wire: frame too large")
	ErrSocketClosed  = errors.New("wire: socket closed")
)

// TypedError is an application error reported by the remote side in a
// Response. Use errors.As to inspect Code and Detail.
type TypedError struct {
	Code   string
	Detail string
}

// NewTypedError builds a TypedError.
func NewTypedError(code, detail string) *TypedError {
	return &TypedError{Code: code, Detail: detail}
}

// FromErrorData converts the wire form to a TypedError.
func FromErrorData(e ErrorData) *TypedError {
	return NewTypedError(e.Code, e.Detail)
}

func (e *TypedError) Error() string {
	if e.Code == "" {
		return e.Detail
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

// ErrorData returns the wire form of e.
func (e *TypedError) ErrorData() ErrorData {
	return ErrorData{Code: e.Code, Detail: e.Detail}
}
