package rpc

import (
	"errors"
	"testing"

	"github.com/adamavenir/cogdbg/internal/driver"
	"github.com/adamavenir/cogdbg/internal/session"
	"github.com/adamavenir/cogdbg/internal/tool"
)

func TestClassifyErrorUnknownToolIsMethodNotFound(t *testing.T) {
	got := classifyError(tool.ErrUnknownTool)
	if got.Code != codeMethodNotFound {
		t.Fatalf("expected %d, got %d", codeMethodNotFound, got.Code)
	}
}

func TestClassifyErrorMissingFieldIsInvalidParams(t *testing.T) {
	got := classifyError(tool.ErrMissingField)
	if got.Code != codeInvalidParams {
		t.Fatalf("expected %d, got %d", codeInvalidParams, got.Code)
	}
}

func TestClassifyErrorUnknownSessionIsInvalidParams(t *testing.T) {
	got := classifyError(session.ErrUnknownSession)
	if got.Code != codeInvalidParams {
		t.Fatalf("expected %d, got %d", codeInvalidParams, got.Code)
	}
}

func TestClassifyErrorNotPausedIsInvalidParams(t *testing.T) {
	got := classifyError(driver.ErrNotPaused)
	if got.Code != codeInvalidParams {
		t.Fatalf("ErrNotPaused is a caller precondition violation, expected %d, got %d", codeInvalidParams, got.Code)
	}
}

func TestClassifyErrorDriverPreconditionSentinelsAreInvalidParams(t *testing.T) {
	sentinels := []error{
		driver.ErrUnsupportedLanguage,
		driver.ErrFileNotIndexed,
		driver.ErrLineHasNoCode,
		driver.ErrUnknownBreakpoint,
		driver.ErrUnknownReference,
		driver.ErrEvaluationFailed,
		driver.ErrBadFrame,
	}
	for _, sentinel := range sentinels {
		got := classifyError(sentinel)
		if got.Code != codeInvalidParams {
			t.Errorf("%v: expected %d, got %d", sentinel, codeInvalidParams, got.Code)
		}
	}
}

func TestClassifyErrorBackendFailuresAreInternalError(t *testing.T) {
	sentinels := []error{
		driver.ErrSpawnFailed,
		driver.ErrAdapterHandshake,
		driver.ErrBackend,
	}
	for _, sentinel := range sentinels {
		got := classifyError(sentinel)
		if got.Code != codeInternalError {
			t.Errorf("%v: expected %d, got %d", sentinel, codeInternalError, got.Code)
		}
	}
}

func TestClassifyErrorMessageOnlyCopyOfSentinelIsInternalError(t *testing.T) {
	wrapped := errors.New("inspect: " + driver.ErrNotPaused.Error())
	got := classifyError(wrapped)
	if got.Code != codeInternalError {
		t.Fatalf("a plain errors.New wrapping only the message, not the sentinel, must not classify as invalid params; expected %d, got %d", codeInternalError, got.Code)
	}
}

func TestClassifyErrorUnknownErrorIsInternalError(t *testing.T) {
	got := classifyError(errors.New("boom"))
	if got.Code != codeInternalError {
		t.Fatalf("expected %d, got %d", codeInternalError, got.Code)
	}
}
