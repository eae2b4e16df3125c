package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestSetupEmitsStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := Setup("escrowd", "test", Options{Level: "debug", Output: &buf})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	defer closer.Close()

	logger.Debug("agreement committed", "operation", "deposit")
	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	for key, want := range map[string]string{
		"severity":  "DEBUG",
		"message":   "agreement committed",
		"service":   "escrowd",
		"env":       "test",
		"operation": "deposit",
	} {
		if got, _ := line[key].(string); got != want {
			t.Fatalf("%s: want %q got %q", key, want, got)
		}
	}
	if _, ok := line["timestamp"]; !ok {
		t.Fatalf("expected timestamp key in %v", line)
	}
}

func TestSetupFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := Setup("escrowd", "", Options{Level: "warn", Output: &buf})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	logger.Info("quiet")
	if buf.Len() != 0 {
		t.Fatalf("info line should be filtered at warn level: %s", buf.String())
	}
}

func TestSetupRejectsUnknownLevel(t *testing.T) {
	if _, _, err := Setup("escrowd", "", Options{Level: "chatty"}); err == nil {
		t.Fatalf("expected unknown level to be rejected")
	}
}

func TestMaskField(t *testing.T) {
	if got := MaskField("auth_secret", "hunter2"); got.Value.String() != RedactedValue {
		t.Fatalf("secret must be redacted, got %s", got.Value)
	}
	if got := MaskField("method", "agreement_create"); got.Value.String() != "agreement_create" {
		t.Fatalf("allowlisted key must pass through, got %s", got.Value)
	}
	if got := MaskBearer("Bearer abc.def.ghi"); got != "Bearer "+RedactedValue {
		t.Fatalf("unexpected bearer mask %q", got)
	}
	if got := MaskBearer(""); got != "" {
		t.Fatalf("empty header must stay empty")
	}
	if !strings.Contains(strings.Join(RedactionAllowlist(), ","), "request_id") {
		t.Fatalf("request_id should be allowlisted")
	}
}
