package obs

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestLogRequestWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	restore := SetOutput(&buf)
	defer restore()

	LogRequest(map[string]any{"method": "GET", "status": 200})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v (%q)", err, buf.String())
	}
	if entry["message"] != "request_complete" {
		t.Fatalf("unexpected message: %v", entry["message"])
	}
	if entry["method"] != "GET" || entry["status"] != float64(200) {
		t.Fatalf("fields missing: %v", entry)
	}
	if entry["service"] != "garage-api" {
		t.Fatalf("service field missing: %v", entry)
	}
}
