package errors

import (
	"fmt"
	"testing"
)

func TestExitCodeFollowsWrappedError(t *testing.T) {
	base := New(CodeValidation, "invalid swap request")
	wrapped := fmt.Errorf("propose: %w", base)
	if got := ExitCode(wrapped); got != int(CodeValidation) {
		t.Fatalf("expected exit %d, got %d", CodeValidation, got)
	}
	if !HasCode(wrapped, CodeValidation) {
		t.Fatal("expected HasCode to see validation code through wrapping")
	}
	if ExitCode(nil) != 0 {
		t.Fatal("expected nil error to exit 0")
	}
	if ExitCode(fmt.Errorf("plain")) != int(CodeInternal) {
		t.Fatal("expected untyped error to map to internal")
	}
}

func TestErrorMessageIncludesCause(t *testing.T) {
	err := Wrap(CodeUnavailable, "connect rpc", fmt.Errorf("dial tcp: refused"))
	if err.Error() != "connect rpc: dial tcp: refused" {
		t.Fatalf("unexpected message: %s", err.Error())
	}
}

func TestTypeName(t *testing.T) {
	if TypeName(CodeInputRejected) != "input_rejected" {
		t.Fatalf("unexpected type name: %s", TypeName(CodeInputRejected))
	}
	if TypeName(Code(99)) != "internal_error" {
		t.Fatalf("unexpected fallback type name: %s", TypeName(Code(99)))
	}
}
