package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"testing"
)

const testSecret = "postgres://seam:hunter2@db:5432/tiles"

func TestSecretString_Formatting(t *testing.T) {
	s := SecretString(testSecret)

	for _, verb := range []string{"%s", "%v", "%+v"} {
		result := fmt.Sprintf(verb, s)
		if strings.Contains(result, testSecret) {
			t.Errorf("fmt.Sprintf(%s) leaked the raw secret: %s", verb, result)
		}
		if result != redactedPlaceholder {
			t.Errorf("fmt.Sprintf(%s) = %q, want %q", verb, result, redactedPlaceholder)
		}
	}
}

func TestSecretString_MarshalJSON_InStruct(t *testing.T) {
	type modelConfig struct {
		APIKey SecretString `json:"api_key"`
		URL    string       `json:"url"`
	}

	data, err := json.Marshal(modelConfig{APIKey: SecretString(testSecret), URL: "http://models:8080"})
	if err != nil {
		t.Fatalf("json.Marshal returned error: %v", err)
	}
	if strings.Contains(string(data), testSecret) {
		t.Errorf("json.Marshal leaked the raw secret: %s", data)
	}
	if !strings.Contains(string(data), redactedPlaceholder) {
		t.Errorf("json.Marshal did not contain redacted placeholder: %s", data)
	}
}

func TestSecretString_Slog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	logger.Info("connecting", "database_url", SecretString(testSecret))

	if strings.Contains(buf.String(), testSecret) {
		t.Errorf("slog leaked the raw secret: %s", buf.String())
	}
	if !strings.Contains(buf.String(), redactedPlaceholder) {
		t.Errorf("slog output missing placeholder: %s", buf.String())
	}
}

func TestSecretString_UnmaskAndIsSet(t *testing.T) {
	s := SecretString(testSecret)
	if s.Unmask() != testSecret {
		t.Errorf("Unmask() = %q, want %q", s.Unmask(), testSecret)
	}
	if !s.IsSet() {
		t.Error("IsSet() = false for non-empty secret")
	}
	if SecretString("").IsSet() {
		t.Error("IsSet() = true for empty secret")
	}
}
