package pipeline

import (
	"errors"
	"fmt"
)

// Code classifies ingestion failures so the transport layer can map them
// to a response without string matching.
type Code string

const (
	CodeMissingField       Code = "missing_field"
	CodeInvalidLine        Code = "invalid_line"
	CodeInvalidCoordinates Code = "invalid_coordinates"
	CodeAnomalyRejected    Code = "anomaly_rejected"
	CodeStorageUnavailable Code = "storage_unavailable"
	CodeTransactionFailed  Code = "transaction_failed"
)

// Error is an ingestion failure with a taxonomy code. Field names the
// offending input field for client errors.
type Error struct {
	Code    Code
	Field   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf extracts the taxonomy code from an error chain, or "" when the
// error did not originate in the pipeline.
func CodeOf(err error) Code {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Code
	}
	return ""
}

func missingField(field string) *Error {
	return &Error{
		Code:    CodeMissingField,
		Field:   field,
		Message: fmt.Sprintf("missing required field: %s", field),
	}
}

func invalidLine(line string) *Error {
	return &Error{
		Code:    CodeInvalidLine,
		Field:   "bus_line",
		Message: fmt.Sprintf("invalid bus line: %q", line),
	}
}

func invalidCoordinates(lat, lon float64) *Error {
	return &Error{
		Code:    CodeInvalidCoordinates,
		Message: fmt.Sprintf("invalid GPS coordinates: [%v, %v]", lat, lon),
	}
}
