// Package mirror maintains the local copy of server-authoritative
// conversation state: the summary list and one message history per
// conversation. It supports optimistic mutation, reconciliation against
// server responses, and space-constrained eviction.
//
// Every mutating operation executes as a job on a per-resource shard key
// ("summaries", "history/<id>"), so two logical operations against the
// same resource run strictly in submission order. That serialization is
// the mirror's only isolation guarantee. Eviction is the one exception:
// it runs inside whichever job hit the storage quota and removes history
// blobs without holding their keys, so a concurrent history save can
// re-persist an evicted blob. That is accepted; the blob is just evicted
// again on the next quota failure.
package mirror

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/jnamaya/SAFi-sub001/internal/kv"
	"github.com/jnamaya/SAFi-sub001/internal/shardqueue"
	"github.com/jnamaya/SAFi-sub001/internal/types"
)

// Storage keys.
const (
	SummariesKey  = "conversations"
	HistoryPrefix = "history/"
)

// evictBatchSize bounds how many histories one eviction pass clears.
const evictBatchSize = 5

// SummaryPatch is a partial update for UpsertSummary. Nil fields are
// left untouched on merge.
type SummaryPatch struct {
	Title       *string
	LastUpdated *types.Timestamp
	IsPinned    *bool
}

// Mirror is the local conversation store.
type Mirror struct {
	store kv.Store
	exec  *shardqueue.ShardExecutor
}

func New(store kv.Store, exec *shardqueue.ShardExecutor) *Mirror {
	return &Mirror{store: store, exec: exec}
}

// ------------------------- summaries -------------------------

// LoadSummaries returns the tracked conversation list. Corrupt or missing
// data degrades to an empty list, and is_pinned is normalized to a strict
// boolean whatever shape a legacy record stored it in.
func (m *Mirror) LoadSummaries(ctx context.Context) ([]types.ConversationSummary, error) {
	var out []types.ConversationSummary
	err := m.exec.Do(ctx, SummariesKey, func(c context.Context) error {
		out = m.loadSummariesLocked(c)
		return nil
	})
	return out, err
}

// SaveSummaries replaces the whole tracked list as one unit.
func (m *Mirror) SaveSummaries(ctx context.Context, list []types.ConversationSummary) error {
	return m.exec.Do(ctx, SummariesKey, func(c context.Context) error {
		return m.saveSummariesLocked(c, list)
	})
}

// UpsertSummary shallow-merges patch into the summary with the given id,
// or inserts a new record at the front when the id is unknown. This is how
// optimistic edits (pin, rename) and offline-created conversations appear
// locally before the server has confirmed them. The pre-merge record is
// returned for rollback; nil means the record was created by this call.
func (m *Mirror) UpsertSummary(ctx context.Context, id string, patch SummaryPatch) (*types.ConversationSummary, error) {
	var prev *types.ConversationSummary
	err := m.exec.Do(ctx, SummariesKey, func(c context.Context) error {
		list := m.loadSummariesLocked(c)
		for i := range list {
			if list[i].ID != id {
				continue
			}
			p := list[i]
			prev = &p
			applyPatch(&list[i], patch)
			return m.saveSummariesLocked(c, list)
		}
		fresh := types.ConversationSummary{ID: id}
		applyPatch(&fresh, patch)
		list = append([]types.ConversationSummary{fresh}, list...)
		return m.saveSummariesLocked(c, list)
	})
	return prev, err
}

// Delete removes the summary and that conversation's persisted history.
// The history blob is removed under its own shard key so the removal runs
// after any history job already submitted for that conversation.
func (m *Mirror) Delete(ctx context.Context, id string) error {
	err := m.exec.Do(ctx, SummariesKey, func(c context.Context) error {
		list := m.loadSummariesLocked(c)
		kept := list[:0]
		for _, s := range list {
			if s.ID != id {
				kept = append(kept, s)
			}
		}
		return m.saveSummariesLocked(c, kept)
	})
	if err != nil {
		return err
	}
	return m.exec.Do(ctx, HistoryPrefix+id, func(c context.Context) error {
		return m.store.Remove(c, HistoryPrefix+id)
	})
}

// ------------------------- histories -------------------------

// LoadHistory returns the stored message array for a conversation.
// Corrupt or missing data degrades to an empty history.
func (m *Mirror) LoadHistory(ctx context.Context, id string) ([]types.Message, error) {
	var out []types.Message
	err := m.exec.Do(ctx, HistoryPrefix+id, func(c context.Context) error {
		out = m.loadHistoryLocked(c, id)
		return nil
	})
	return out, err
}

// SaveHistory replaces a conversation's whole history as one unit.
func (m *Mirror) SaveHistory(ctx context.Context, id string, history []types.Message) error {
	return m.exec.Do(ctx, HistoryPrefix+id, func(c context.Context) error {
		return m.saveHistoryLocked(c, id, history)
	})
}

// AppendMessage appends msg to the conversation's history, persisting the
// result. Idempotent by message_id: a duplicate append is a no-op, which
// makes accidental double-calls safe.
func (m *Mirror) AppendMessage(ctx context.Context, id string, msg types.Message) (bool, error) {
	if err := types.ValidateIDPresent(msg.MessageID, "message_id"); err != nil {
		return false, err
	}
	if err := types.ValidateRole(msg.Role); err != nil {
		return false, err
	}
	appended := false
	err := m.exec.Do(ctx, HistoryPrefix+id, func(c context.Context) error {
		history := m.loadHistoryLocked(c, id)
		for i := range history {
			if history[i].MessageID == msg.MessageID {
				return nil
			}
		}
		history = append(history, msg)
		appended = true
		return m.saveHistoryLocked(c, id, history)
	})
	return appended, err
}

// MergeAudit applies a deferred audit result to the stored message,
// transitioning audit_status from pending to complete exactly once.
// The updated message is returned; nil means the message was not found
// or had already completed its transition.
func (m *Mirror) MergeAudit(ctx context.Context, convoID, messageID string, audit types.AuditResult) (*types.Message, error) {
	var updated *types.Message
	err := m.exec.Do(ctx, HistoryPrefix+convoID, func(c context.Context) error {
		history := m.loadHistoryLocked(c, convoID)
		for i := range history {
			if history[i].MessageID != messageID {
				continue
			}
			if history[i].AuditStatus != types.AuditPending {
				return nil // the transition happens exactly once
			}
			history[i].ConscienceLedger = audit.Ledger
			history[i].SpiritScore = audit.SpiritScore
			history[i].SuggestedPrompts = audit.SuggestedPrompts
			if audit.ProfileName != "" {
				history[i].ProfileName = audit.ProfileName
			}
			if len(audit.ProfileValues) > 0 {
				history[i].ProfileValues = audit.ProfileValues
			}
			history[i].AuditStatus = types.AuditComplete
			msg := history[i]
			updated = &msg
			return m.saveHistoryLocked(c, convoID, history)
		}
		return nil
	})
	return updated, err
}

// ------------------------- eviction -------------------------

// EvictOldCache reclaims space after a storage-quota failure: it deletes
// the persisted history blobs (never the summaries) of up to five
// conversations, oldest last_updated first, then falls back to removing
// orphaned history blobs no summary tracks. Recency is approximated by
// last_updated rather than true local access time, which is cheap and
// close enough since display order already favors recency.
func (m *Mirror) EvictOldCache(ctx context.Context) error {
	return m.exec.Do(ctx, SummariesKey, func(c context.Context) error {
		return m.evictLocked(c)
	})
}

func (m *Mirror) evictLocked(ctx context.Context) error {
	list := m.loadSummariesLocked(ctx)
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].LastUpdated.Before(list[j].LastUpdated.Time)
	})

	cleared := 0
	for _, s := range list {
		if cleared >= evictBatchSize {
			break
		}
		key := HistoryPrefix + s.ID
		if _, ok, _ := m.store.Get(ctx, key); !ok {
			continue
		}
		if err := m.store.Remove(ctx, key); err != nil {
			return err
		}
		log.Debug().Str("conversation", s.ID).Msg("mirror: evicted history")
		cleared++
	}
	if cleared >= evictBatchSize {
		return nil
	}

	// The tracked list may be stale; sweep history blobs nothing tracks.
	tracked := make(map[string]bool, len(list))
	for _, s := range list {
		tracked[s.ID] = true
	}
	keys, err := m.store.Keys(ctx, HistoryPrefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		id := strings.TrimPrefix(key, HistoryPrefix)
		if tracked[id] {
			continue
		}
		if err := m.store.Remove(ctx, key); err != nil {
			return err
		}
		log.Debug().Str("conversation", id).Msg("mirror: removed orphaned history")
	}
	return nil
}

// ------------------------- internals -------------------------

// storedSummary tolerates legacy records where is_pinned was written as a
// string or number, normalizing to a strict bool on load.
type storedSummary struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	LastUpdated types.Timestamp `json:"last_updated"`
	IsPinned    flexBool        `json:"is_pinned"`
}

type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	switch strings.TrimSpace(string(data)) {
	case "true", `"true"`, "1":
		*b = true
	default:
		*b = false
	}
	return nil
}

func (m *Mirror) loadSummariesLocked(ctx context.Context) []types.ConversationSummary {
	data, ok, err := m.store.Get(ctx, SummariesKey)
	if err != nil || !ok {
		return nil
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		log.Warn().Err(err).Msg("mirror: corrupt summary list, starting empty")
		return nil
	}
	list := make([]types.ConversationSummary, 0, len(raws))
	for _, raw := range raws {
		var s storedSummary
		if err := json.Unmarshal(raw, &s); err != nil || s.ID == "" {
			// Skip malformed records instead of failing the whole load.
			continue
		}
		list = append(list, types.ConversationSummary{
			ID:          s.ID,
			Title:       s.Title,
			LastUpdated: s.LastUpdated,
			IsPinned:    bool(s.IsPinned),
		})
	}
	return list
}

func (m *Mirror) saveSummariesLocked(ctx context.Context, list []types.ConversationSummary) error {
	if list == nil {
		list = []types.ConversationSummary{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return err
	}
	return kv.SetWithRecovery(ctx, m.store, SummariesKey, data, m.evictLocked)
}

func (m *Mirror) loadHistoryLocked(ctx context.Context, id string) []types.Message {
	data, ok, err := m.store.Get(ctx, HistoryPrefix+id)
	if err != nil || !ok {
		return nil
	}
	var history []types.Message
	if err := json.Unmarshal(data, &history); err != nil {
		log.Warn().Err(err).Str("conversation", id).Msg("mirror: corrupt history, starting empty")
		return nil
	}
	return history
}

func (m *Mirror) saveHistoryLocked(ctx context.Context, id string, history []types.Message) error {
	data, err := json.Marshal(history)
	if err != nil {
		return err
	}
	return kv.SetWithRecovery(ctx, m.store, HistoryPrefix+id, data, m.evictLocked)
}

func applyPatch(s *types.ConversationSummary, patch SummaryPatch) {
	if patch.Title != nil {
		s.Title = *patch.Title
	}
	if patch.LastUpdated != nil {
		s.LastUpdated = *patch.LastUpdated
	}
	if patch.IsPinned != nil {
		s.IsPinned = *patch.IsPinned
	}
}
