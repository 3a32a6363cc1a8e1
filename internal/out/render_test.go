package out

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	clierr "github.com/ggonzalez94/swapguard/internal/errors"
	"github.com/ggonzalez94/swapguard/internal/model"
)

func TestRenderJSONSelectResultsOnly(t *testing.T) {
	env := model.Envelope{
		Version: "v1",
		Success: true,
		Data:    []map[string]any{{"name": "base", "chain_id": 8453}},
		Meta:    model.EnvelopeMeta{Timestamp: time.Now()},
	}
	var buf bytes.Buffer
	if err := Render(&buf, env, Options{Mode: "json", Select: []string{"name"}, ResultsOnly: true}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	var out []map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if len(out) != 1 || out[0]["name"] != "base" {
		t.Fatalf("unexpected output: %s", buf.String())
	}
	if _, ok := out[0]["chain_id"]; ok {
		t.Fatalf("field projection failed: %s", buf.String())
	}
}

func TestRenderSelectNestedField(t *testing.T) {
	env := model.Envelope{
		Success: true,
		Data:    map[string]any{"sanitized": "hi", "detection": map[string]any{"severity": "none", "detected": false}},
	}
	var buf bytes.Buffer
	if err := Render(&buf, env, Options{Mode: "json", Select: []string{"detection.severity"}, ResultsOnly: true}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if strings.TrimSpace(buf.String()) != "{\n  \"detection.severity\": \"none\"\n}" {
		t.Fatalf("unexpected output: %s", buf.String())
	}
}

func TestRenderPlain(t *testing.T) {
	env := model.Envelope{
		Version: "v1",
		Success: true,
		Data:    []map[string]any{{"name": "base", "tokens": []string{"ETH", "USDC"}}},
		Meta:    model.EnvelopeMeta{Timestamp: time.Now()},
	}
	var buf bytes.Buffer
	if err := Render(&buf, env, Options{Mode: "plain", ResultsOnly: true}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(buf.String(), `name=base tokens=["ETH","USDC"]`) {
		t.Fatalf("unexpected plain output: %s", buf.String())
	}
}

func TestRenderPlainErrorLeadsWithUserMessage(t *testing.T) {
	env := model.Envelope{
		Success: false,
		Error: &model.ErrorBody{
			Code:        12,
			Type:        "unavailable",
			Message:     "dial tcp: connection refused",
			UserMessage: "We could not reach the network.",
			Guidance:    "Check your connection and try again.",
			Action:      "Try Again",
		},
	}
	var buf bytes.Buffer
	if err := Render(&buf, env, Options{Mode: "plain"}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if lines[0] != "error: We could not reach the network." || lines[2] != "action: Try Again" {
		t.Fatalf("unexpected plain error: %q", lines)
	}
}

func TestRenderJSONErrorIgnoresResultsOnly(t *testing.T) {
	env := model.Envelope{Success: false, Error: &model.ErrorBody{Code: 20, Type: "validation_error", Message: "bad"}}
	var buf bytes.Buffer
	if err := Render(&buf, env, Options{Mode: "json", ResultsOnly: true}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(buf.String(), `"validation_error"`) {
		t.Fatalf("error envelope missing: %s", buf.String())
	}
}

func TestErrorBodyClassifies(t *testing.T) {
	body := ErrorBody(clierr.New(clierr.CodeRateLimited, "rate limit exceeded; retry in 3s"))
	if body.Code != 11 || body.Type != "rate_limited" || body.Recovery != "RATE_LIMITED" || !body.Retryable || body.Action == "" {
		t.Fatalf("unexpected error body: %+v", body)
	}
	plain := ErrorBody(errors.New("user rejected the request"))
	if plain.Code != 1 || plain.Recovery != "USER_REJECTED" || plain.Retryable {
		t.Fatalf("unexpected error body: %+v", plain)
	}
	if ErrorBody(nil) != nil {
		t.Fatal("nil error must have no body")
	}
}
