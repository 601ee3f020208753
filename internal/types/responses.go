package types

import (
	"bytes"
	"encoding/json"
	"fmt"

	synerr "github.com/jnamaya/SAFi-sub001/internal/errors"
)

// The backend's response shapes have drifted across versions: lists arrive
// bare or wrapped, ledgers arrive as native arrays or JSON-encoded strings,
// ids change names. Each Decode* function below is the single place a
// response shape is interpreted; everything past this boundary sees one
// canonical form. Truly malformed input is rejected, not guessed at.

func badFormat(reason string, err error) error {
	if err != nil {
		reason = fmt.Sprintf("%s: %v", reason, err)
	}
	return &synerr.BadResponseFormatError{Reason: reason}
}

// ledgerList tolerates a ledger sent as a native array or as a
// JSON-encoded string containing the array.
type ledgerList []LedgerEntry

func (l *ledgerList) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		*l = nil
		return nil
	}
	if trimmed[0] == '"' {
		var inner string
		if err := json.Unmarshal(trimmed, &inner); err != nil {
			return err
		}
		if inner == "" {
			*l = nil
			return nil
		}
		trimmed = []byte(inner)
	}
	var entries []LedgerEntry
	if err := json.Unmarshal(trimmed, &entries); err != nil {
		return err
	}
	*l = entries
	return nil
}

// stringList tolerates a list sent as a native array or as a JSON-encoded
// string containing the array.
type stringList []string

func (s *stringList) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		*s = nil
		return nil
	}
	if trimmed[0] == '"' {
		var inner string
		if err := json.Unmarshal(trimmed, &inner); err != nil {
			return err
		}
		if inner == "" {
			*s = nil
			return nil
		}
		trimmed = []byte(inner)
	}
	var items []string
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return err
	}
	*s = items
	return nil
}

// DecodeConversationList accepts either a bare array of summaries or a
// {"conversations": [...]} wrapper.
func DecodeConversationList(raw json.RawMessage) ([]ConversationSummary, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var list []ConversationSummary
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, badFormat("conversation list", err)
		}
		return list, nil
	}
	var wrapper struct {
		Conversations []ConversationSummary `json:"conversations"`
	}
	if err := json.Unmarshal(trimmed, &wrapper); err != nil {
		return nil, badFormat("conversation list wrapper", err)
	}
	return wrapper.Conversations, nil
}

// wireMessage is the over-the-wire message shape with tolerant fields.
type wireMessage struct {
	MessageID        string     `json:"message_id"`
	ID               string     `json:"id"`
	Role             string     `json:"role"`
	Content          string     `json:"content"`
	Timestamp        Timestamp  `json:"timestamp"`
	ConscienceLedger ledgerList `json:"conscience_ledger"`
	ProfileName      string     `json:"profile_name"`
	ProfileValues    stringList `json:"profile_values"`
	SpiritScore      *float64   `json:"spirit_score"`
	SuggestedPrompts stringList `json:"suggested_prompts"`
	AuditStatus      string     `json:"audit_status"`
}

func (w *wireMessage) canonical() Message {
	m := Message{
		MessageID:        w.MessageID,
		Role:             w.Role,
		Content:          w.Content,
		Timestamp:        w.Timestamp,
		ConscienceLedger: w.ConscienceLedger,
		ProfileName:      w.ProfileName,
		ProfileValues:    w.ProfileValues,
		SpiritScore:      w.SpiritScore,
		SuggestedPrompts: w.SuggestedPrompts,
		AuditStatus:      AuditStatus(w.AuditStatus),
	}
	if m.MessageID == "" {
		m.MessageID = w.ID
	}
	switch m.AuditStatus {
	case AuditPending, AuditComplete, AuditNotApplicable:
	default:
		// Older servers omit audit_status; derive it.
		if m.Role == RoleUser {
			m.AuditStatus = AuditNotApplicable
		} else if len(m.ConscienceLedger) > 0 {
			m.AuditStatus = AuditComplete
		} else {
			m.AuditStatus = AuditPending
		}
	}
	return m
}

// DecodeHistory accepts either a bare array of messages or a
// {"messages": [...]} wrapper.
func DecodeHistory(raw json.RawMessage) ([]Message, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil, nil
	}
	var wires []wireMessage
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &wires); err != nil {
			return nil, badFormat("message history", err)
		}
	} else {
		var wrapper struct {
			Messages []wireMessage `json:"messages"`
		}
		if err := json.Unmarshal(trimmed, &wrapper); err != nil {
			return nil, badFormat("message history wrapper", err)
		}
		wires = wrapper.Messages
	}
	msgs := make([]Message, 0, len(wires))
	for i := range wires {
		msgs = append(msgs, wires[i].canonical())
	}
	return msgs, nil
}

// DecodeCreateConversation extracts the new conversation id, whichever
// field name the server used for it.
func DecodeCreateConversation(raw json.RawMessage) (string, error) {
	var body struct {
		ConversationID string `json:"conversation_id"`
		ID             string `json:"id"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", badFormat("create conversation response", err)
	}
	id := body.ConversationID
	if id == "" {
		id = body.ID
	}
	if id == "" {
		return "", badFormat("create conversation response missing id", nil)
	}
	return id, nil
}

// DecodeProcessReply maps a process-message response to the canonical
// reply: AI content plus whatever audit fields arrived inline.
func DecodeProcessReply(raw json.RawMessage) (*ProcessReply, error) {
	var body struct {
		MessageID        string     `json:"message_id"`
		ID               string     `json:"id"`
		Reply            string     `json:"reply"`
		Response         string     `json:"response"`
		Content          string     `json:"content"`
		ConscienceLedger ledgerList `json:"conscience_ledger"`
		SpiritScore      *float64   `json:"spirit_score"`
		SuggestedPrompts stringList `json:"suggested_prompts"`
		ProfileName      string     `json:"profile_name"`
		ProfileValues    stringList `json:"profile_values"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, badFormat("process reply", err)
	}
	content := body.Reply
	if content == "" {
		content = body.Response
	}
	if content == "" {
		content = body.Content
	}
	if content == "" {
		return nil, badFormat("process reply missing content", nil)
	}
	id := body.MessageID
	if id == "" {
		id = body.ID
	}
	return &ProcessReply{
		MessageID: id,
		Content:   content,
		Audit: AuditResult{
			Ledger:           body.ConscienceLedger,
			SpiritScore:      body.SpiritScore,
			SuggestedPrompts: body.SuggestedPrompts,
			ProfileName:      body.ProfileName,
			ProfileValues:    body.ProfileValues,
		},
	}, nil
}

// DecodeAuditResult maps an audit-poll response to the canonical result.
func DecodeAuditResult(raw json.RawMessage) (*AuditResult, error) {
	var body struct {
		ConscienceLedger ledgerList `json:"conscience_ledger"`
		SpiritScore      *float64   `json:"spirit_score"`
		SuggestedPrompts stringList `json:"suggested_prompts"`
		ProfileName      string     `json:"profile_name"`
		ProfileValues    stringList `json:"profile_values"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, badFormat("audit result", err)
	}
	return &AuditResult{
		Ledger:           body.ConscienceLedger,
		SpiritScore:      body.SpiritScore,
		SuggestedPrompts: body.SuggestedPrompts,
		ProfileName:      body.ProfileName,
		ProfileValues:    body.ProfileValues,
	}, nil
}
