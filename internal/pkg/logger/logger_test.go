package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(os.Stderr) })
	return &buf
}

func TestWith_CarriesComponentAndRedacts(t *testing.T) {
	buf := capture(t)

	With("component", "worker").Info("dispatch failed", "email", "john.doe@example.com", "err", "to jane@example.org")

	var entry map[string]string
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "worker", entry["component"])
	assert.Equal(t, "jo***@example.com", entry["email"])
	assert.Equal(t, "to ja***@example.org", entry["err"])
}

func TestLevelFiltering(t *testing.T) {
	buf := capture(t)
	SetLevel(WARN)
	t.Cleanup(func() { SetLevel(INFO) })

	Info("hidden")
	Warn("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "shown")
}

func TestRedactEmail(t *testing.T) {
	assert.Equal(t, "jo***@example.com", RedactEmail("john.doe@example.com"))
	assert.Equal(t, "***@example.com", RedactEmail("ab@example.com"))
	assert.Equal(t, "***@***", RedactEmail("not-an-email"))
	assert.Equal(t, "***@***", RedactEmail("a@b@c.com"))
}

func TestRedactSecret(t *testing.T) {
	assert.Equal(t, "eyJ0***", RedactSecret("eyJ0ZW5hbnRJZCI6InQxIn0.c2ln"))
	assert.Equal(t, "***", RedactSecret("short"))
	assert.Equal(t, "eyJ0***", redactPIIValue("unsubscribe_token", "eyJ0ZW5hbnRJZCI6InQxIn0.c2ln"))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel("warning"))
	assert.Equal(t, INFO, ParseLevel(""))
}
