package submission_test

import (
	"encoding/json"
	"strings"
	"testing"

	"arbiter/internal/submission"
)

func TestMetadataPreservesUnknownFields(t *testing.T) {
	input := `{"team":"alpha","emails":["a@example.org"],"timestamp":"2024-05-01T12:30:45.000001","evaluated":false,"note":{"k":1}}`
	var meta submission.Metadata
	if err := json.Unmarshal([]byte(input), &meta); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if meta.Team != "alpha" || len(meta.Emails) != 1 || meta.Evaluated {
		t.Fatalf("unexpected metadata: %+v", meta)
	}
	meta.Evaluated = true
	meta.Scores = map[string]any{"pixel": 92.5}

	data, err := json.Marshal(meta)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	note, ok := out["note"].(map[string]any)
	if !ok || note["k"].(float64) != 1 {
		t.Fatalf("unknown field lost: %s", data)
	}
	if out["evaluated"] != true {
		t.Fatalf("evaluated not written: %s", data)
	}
	scores := out["scores"].(map[string]any)
	if scores["pixel"].(float64) != 92.5 {
		t.Fatalf("scores not written: %s", data)
	}
	if _, ok := out["attempts"]; ok {
		t.Fatalf("zero attempts should be omitted: %s", data)
	}
}

func TestMetadataAcceptsStringEmails(t *testing.T) {
	var meta submission.Metadata
	if err := json.Unmarshal([]byte(`{"team":"t","emails":"a@x.org\r\nb@x.org\n"}`), &meta); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if strings.Join(meta.Emails, ",") != "a@x.org,b@x.org" {
		t.Fatalf("unexpected emails %v", meta.Emails)
	}
}

func TestMetadataRejectsNonObject(t *testing.T) {
	var meta submission.Metadata
	if err := json.Unmarshal([]byte(`[1,2]`), &meta); err == nil {
		t.Fatal("expected error for array metadata")
	}
	if err := json.Unmarshal([]byte(`null`), &meta); err == nil {
		t.Fatal("expected error for null metadata")
	}
}

func TestPending(t *testing.T) {
	meta := submission.Metadata{}
	if !meta.Pending() {
		t.Fatal("fresh metadata should be pending")
	}
	meta.Failed = true
	if meta.Pending() {
		t.Fatal("failed metadata should not be pending")
	}
}
