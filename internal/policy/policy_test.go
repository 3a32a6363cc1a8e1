package policy

import (
	"testing"

	clierr "github.com/ggonzalez94/swapguard/internal/errors"
)

func TestCheckCommandAllowed(t *testing.T) {
	if err := CheckCommandAllowed(nil, "chains best"); err != nil {
		t.Fatalf("unexpected error with empty allowlist: %v", err)
	}
	if err := CheckCommandAllowed([]string{"chains  BEST"}, "chains best"); err != nil {
		t.Fatalf("expected command to be allowed: %v", err)
	}
	if err := CheckCommandAllowed([]string{"chains list"}, "screen"); !clierr.HasCode(err, clierr.CodeBlocked) {
		t.Fatalf("expected command to be blocked, got %v", err)
	}
}

func TestCheckToolAllowed(t *testing.T) {
	if err := CheckToolAllowed(nil, "swapTokens"); err != nil {
		t.Fatalf("unexpected error with empty allowlist: %v", err)
	}
	if err := CheckToolAllowed([]string{"checkBalance"}, "checkbalance"); err != nil {
		t.Fatalf("expected tool to be allowed: %v", err)
	}
	err := CheckToolAllowed([]string{"checkBalance"}, "swapTokens")
	if !clierr.HasCode(err, clierr.CodeBlocked) {
		t.Fatalf("expected tool to be blocked, got %v", err)
	}
}
