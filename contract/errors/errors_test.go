package errors_test

import (
	"errors"
	"fmt"
	"testing"

	berr "github.com/next-trace/scg-micro/contract/errors"
)

func TestCodeAndVars(t *testing.T) {
	e := berr.Code(berr.ErrCodePayloadDecoding)
	if e.Error() != berr.ErrCodePayloadDecoding {
		t.Fatalf("unexpected error string: %s", e.Error())
	}

	// exported variables must carry their codes
	tests := []struct {
		err  error
		code string
	}{
		{berr.ErrInvalidHandler, berr.ErrCodeInvalidHandler},
		{berr.ErrMissingServiceContext, berr.ErrCodeMissingServiceContext},
		{berr.ErrDuplicateEndpoint, berr.ErrCodeDuplicateEndpoint},
		{berr.ErrPayloadDecoding, berr.ErrCodePayloadDecoding},
		{berr.ErrMissingArgument, berr.ErrCodeMissingArgument},
		{berr.ErrResultEncoding, berr.ErrCodeResultEncoding},
		{berr.ErrHandlerPanic, berr.ErrCodeHandlerPanic},
		{berr.ErrResolveFailed, berr.ErrCodeResolveFailed},
		{berr.ErrConnectFailed, berr.ErrCodeConnectFailed},
		{berr.ErrRegisterFailed, berr.ErrCodeRegisterFailed},
		{berr.ErrRespondFailed, berr.ErrCodeRespondFailed},
		{berr.ErrCallFailed, berr.ErrCodeCallFailed},
	}

	for _, tc := range tests {
		if !errors.Is(tc.err, berr.Code(tc.code)) {
			t.Fatalf("expected %s to be %s", tc.err, tc.code)
		}
	}
}

func TestStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"decoding", fmt.Errorf("decode: %w", errors.Join(berr.ErrPayloadDecoding, errors.New("bad"))), berr.StatusBadRequest},
		{"missing argument", fmt.Errorf("decode: %w", berr.ErrMissingArgument), berr.StatusBadRequest},
		{"internal", errors.New("boom"), berr.StatusInternalError},
		{"explicit", fmt.Errorf("lookup: %w", berr.WithStatus("404", errors.New("not found"))), "404"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			code, desc := berr.Status(tc.err)
			if code != tc.code {
				t.Fatalf("code=%s want %s", code, tc.code)
			}

			if desc == "" {
				t.Fatalf("expected description")
			}
		})
	}

	if berr.WithStatus("404", nil) != nil {
		t.Fatalf("WithStatus(nil) must be nil")
	}
}

func TestWithStatusText(t *testing.T) {
	err := berr.WithStatus("418", errors.New("short and stout"))
	if got := err.Error(); got != "short and stout" {
		t.Fatalf("Error()=%q", got)
	}

	code, desc := berr.Status(fmt.Errorf("brew: %w", err))
	if code != "418" || desc != "short and stout" {
		t.Fatalf("Status()=%q, %q", code, desc)
	}

	se := &berr.StatusError{Code: "409", Description: "conflict", Err: errors.New("version 3")}
	if got := se.Error(); got != "conflict: version 3" {
		t.Fatalf("Error()=%q", got)
	}

	if _, desc := berr.Status(se); desc != "conflict" {
		t.Fatalf("explicit description=%q", desc)
	}
}
