// Package types holds the canonical domain shapes shared across the sync
// layer, plus the decode boundary that maps the backend's drifting response
// variants onto them.
package types

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Message roles.
const (
	RoleUser = "user"
	RoleAI   = "ai"
)

// AuditStatus tracks the one-way pending→complete transition of a
// message's audit fields. User turns are never audited.
type AuditStatus string

const (
	AuditPending       AuditStatus = "pending"
	AuditComplete      AuditStatus = "complete"
	AuditNotApplicable AuditStatus = "n/a"
)

// Timestamp is a time.Time that unmarshals from the variants the backend
// has been observed to send: RFC3339 strings, unix seconds, and unix
// milliseconds. It always marshals as RFC3339.
type Timestamp struct {
	time.Time
}

func Now() Timestamp { return Timestamp{time.Now().UTC()} }

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		t.Time = time.Time{}
		return nil
	}
	if s[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		parsed, err := time.Parse(time.RFC3339Nano, str)
		if err != nil {
			parsed, err = time.Parse(time.RFC3339, str)
		}
		if err != nil {
			return err
		}
		t.Time = parsed
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	// Heuristic: values past the year 33658 in seconds are milliseconds.
	if n > 1e12 {
		t.Time = time.UnixMilli(int64(n)).UTC()
	} else {
		t.Time = time.Unix(int64(n), 0).UTC()
	}
	return nil
}

// ConversationSummary is one row of the conversation list. The server is
// authoritative but the local mirror may diverge during optimistic edits.
type ConversationSummary struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	LastUpdated Timestamp `json:"last_updated"`
	IsPinned    bool      `json:"is_pinned"`
}

// LedgerEntry is one value judgement in a message's conscience ledger.
// Immutable once received.
type LedgerEntry struct {
	Value      string  `json:"value"`
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// Message is a single turn in a conversation history. Append-only except
// for the audit fields, which transition exactly once from pending to
// complete (user turns stay n/a).
type Message struct {
	MessageID        string        `json:"message_id"`
	Role             string        `json:"role"`
	Content          string        `json:"content"`
	Timestamp        Timestamp     `json:"timestamp"`
	ConscienceLedger []LedgerEntry `json:"conscience_ledger,omitempty"`
	ProfileName      string        `json:"profile_name,omitempty"`
	ProfileValues    []string      `json:"profile_values,omitempty"`
	SpiritScore      *float64      `json:"spirit_score,omitempty"`
	SuggestedPrompts []string      `json:"suggested_prompts,omitempty"`
	AuditStatus      AuditStatus   `json:"audit_status"`
}

// AuditResult is the deferred audit payload polled for a single message.
type AuditResult struct {
	Ledger           []LedgerEntry
	SpiritScore      *float64
	SuggestedPrompts []string
	ProfileName      string
	ProfileValues    []string
}

// Empty reports whether the result carries nothing worth applying yet:
// no ledger, no suggestions, no score.
func (a *AuditResult) Empty() bool {
	return a == nil || (len(a.Ledger) == 0 && len(a.SuggestedPrompts) == 0 && a.SpiritScore == nil)
}

// ProcessReply is the server's answer to a process-message call.
type ProcessReply struct {
	MessageID string
	Content   string
	Audit     AuditResult
}
