package logging

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// OperationError ties a failure to the operation that raised it, the request
// it served and, when there is one, the subject it failed on: the form field
// of an uploaded image ("input", "verification") or the model file an engine
// was loaded from.
type OperationError struct {
	Operation string
	RequestID string
	Subject   string
	Err       error
}

func (e *OperationError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	op := e.Operation
	if e.Subject != "" {
		op += "[" + e.Subject + "]"
	}
	if e.RequestID != "" {
		return fmt.Sprintf("%s (request_id=%s): %v", op, e.RequestID, e.Err)
	}
	return fmt.Sprintf("%s: %v", op, e.Err)
}

func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// MarshalLogObject lets the error be logged with zap.Object so each part
// lands in its own field.
func (e *OperationError) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("operation", e.Operation)
	if e.RequestID != "" {
		enc.AddString("request_id", e.RequestID)
	}
	if e.Subject != "" {
		enc.AddString("subject", e.Subject)
	}
	if e.Err != nil {
		enc.AddString("cause", e.Err.Error())
	}
	return nil
}

// NewOperationError wraps err with the operation and request it failed in.
// A nil err stays nil.
func NewOperationError(operation, requestID string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Operation: operation, RequestID: requestID, Err: err}
}

// NewSubjectError is NewOperationError for failures tied to one image field
// or model file.
func NewSubjectError(operation, subject string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Operation: operation, Subject: subject, Err: err}
}

// SubjectOf returns the subject of the outermost OperationError in err's
// chain, or "" when there is none.
func SubjectOf(err error) string {
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr.Subject
	}
	return ""
}

// ErrorField logs err as a structured object when it is an OperationError
// and as a plain error otherwise.
func ErrorField(err error) zap.Field {
	if opErr, ok := err.(*OperationError); ok && opErr != nil {
		return zap.Object("error", opErr)
	}
	return zap.Error(err)
}
