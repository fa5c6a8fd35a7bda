package submission

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"strings"
)

// Metadata is the content of an instance's metadata.json. Fields the worker
// does not know about are preserved across Load/Save.
type Metadata struct {
	Team        string
	Emails      []string
	Timestamp   string
	Evaluated   bool
	Scores      map[string]any
	EvaluatedAt string
	Attempts    int
	LastError   string
	FailureKind string
	Failed      bool
	ArchiveHash string

	extra map[string]json.RawMessage
}

const (
	keyTeam        = "team"
	keyEmails      = "emails"
	keyTimestamp   = "timestamp"
	keyEvaluated   = "evaluated"
	keyScores      = "scores"
	keyEvaluatedAt = "evaluated_at"
	keyAttempts    = "attempts"
	keyLastError   = "last_error"
	keyFailureKind = "failure_kind"
	keyFailed      = "failed"
	keyArchiveHash = "archive_sha256"
)

// Extra returns a copy of the fields that have no typed counterpart.
func (m *Metadata) Extra() map[string]json.RawMessage {
	return maps.Clone(m.extra)
}

// Pending reports whether the worker should still try to score the instance.
func (m *Metadata) Pending() bool {
	return !m.Evaluated && !m.Failed
}

// MarshalJSON writes the typed fields over the preserved unknown fields.
func (m Metadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.extra)+11)
	for k, v := range m.extra {
		out[k] = v
	}
	emails := m.Emails
	if emails == nil {
		emails = []string{}
	}
	out[keyTeam] = m.Team
	out[keyEmails] = emails
	out[keyTimestamp] = m.Timestamp
	out[keyEvaluated] = m.Evaluated
	if m.Scores != nil {
		out[keyScores] = m.Scores
	}
	if m.EvaluatedAt != "" {
		out[keyEvaluatedAt] = m.EvaluatedAt
	}
	if m.Attempts > 0 {
		out[keyAttempts] = m.Attempts
	}
	if m.LastError != "" {
		out[keyLastError] = m.LastError
	}
	if m.FailureKind != "" {
		out[keyFailureKind] = m.FailureKind
	}
	if m.Failed {
		out[keyFailed] = true
	}
	if m.ArchiveHash != "" {
		out[keyArchiveHash] = m.ArchiveHash
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes known fields and stashes the rest.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		return fmt.Errorf("metadata is not an object")
	}
	*m = Metadata{}

	fields := []struct {
		key    string
		target any
	}{
		{keyTeam, &m.Team},
		{keyTimestamp, &m.Timestamp},
		{keyEvaluated, &m.Evaluated},
		{keyScores, &m.Scores},
		{keyEvaluatedAt, &m.EvaluatedAt},
		{keyAttempts, &m.Attempts},
		{keyLastError, &m.LastError},
		{keyFailureKind, &m.FailureKind},
		{keyFailed, &m.Failed},
		{keyArchiveHash, &m.ArchiveHash},
	}
	for _, field := range fields {
		value, ok := raw[field.key]
		if !ok {
			continue
		}
		delete(raw, field.key)
		if bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
			continue
		}
		if err := json.Unmarshal(value, field.target); err != nil {
			return fmt.Errorf("decode %s: %w", field.key, err)
		}
	}

	if value, ok := raw[keyEmails]; ok {
		delete(raw, keyEmails)
		emails, err := decodeEmails(value)
		if err != nil {
			return err
		}
		m.Emails = emails
	}

	if len(raw) > 0 {
		m.extra = raw
	}
	return nil
}

// decodeEmails accepts either a list of addresses or one newline separated
// string, the shape older uploads used.
func decodeEmails(value json.RawMessage) ([]string, error) {
	var list []string
	if err := json.Unmarshal(value, &list); err == nil {
		return list, nil
	}
	var single string
	if err := json.Unmarshal(value, &single); err != nil {
		if bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode emails: %w", err)
	}
	var out []string
	for _, line := range strings.Split(single, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out, nil
}
