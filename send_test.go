package safi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// Sending while offline appends the optimistic user message, queues the
// process call, and leaves no AI entry in history.
func TestSendMessage_OfflineQueues(t *testing.T) {
	t.Parallel()
	c, r, _ := newTestClient(t, "http://backend", false)
	ctx := context.Background()

	if err := c.mirror.SaveSummaries(ctx, []ConversationSummary{{ID: "c1", Title: "t"}}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	// Offline with no cached history returns an error, but the session
	// is still switched.
	_ = c.SwitchConversation(ctx, "c1")

	convoID, err := c.SendMessage(ctx, "hi")
	if err != nil || convoID != "c1" {
		t.Fatalf("send: id=%q err=%v", convoID, err)
	}

	history, _ := c.mirror.LoadHistory(ctx, "c1")
	if len(history) != 1 || history[0].Role != RoleUser || history[0].Content != "hi" {
		t.Fatalf("optimistic user entry missing: %+v", history)
	}
	pending := c.queue.Pending(ctx)
	if len(pending) != 1 || pending[0].Method != http.MethodPost {
		t.Fatalf("process call not queued: %+v", pending)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.notices) == 0 {
		t.Fatalf("queued-send notice not shown")
	}
}

// A reply arriving with its ledger inline is stored complete; no polling.
func TestSendMessage_InlineAuditComplete(t *testing.T) {
	t.Parallel()
	var auditPolls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/conversations/c1/messages", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message_id":"ai-1","reply":"hello","conscience_ledger":[{"value":"care","score":1,"confidence":0.9,"reason":"r"}],"spirit_score":0.8}`))
	})
	mux.HandleFunc("/api/conversations/c1/messages/ai-1/audit", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&auditPolls, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, _, _ := newTestClient(t, srv.URL, true)
	ctx := context.Background()
	c.beginSession("c1")

	if _, err := c.SendMessage(ctx, "hi"); err != nil {
		t.Fatalf("send: %v", err)
	}

	history, _ := c.mirror.LoadHistory(ctx, "c1")
	if len(history) != 2 {
		t.Fatalf("history: %+v", history)
	}
	ai := history[1]
	if ai.Role != RoleAI || ai.AuditStatus != AuditComplete || len(ai.ConscienceLedger) != 1 || *ai.SpiritScore != 0.8 {
		t.Fatalf("ai entry: %+v", ai)
	}
	time.Sleep(30 * time.Millisecond)
	if atomic.LoadInt32(&auditPolls) != 0 {
		t.Fatalf("inline-complete reply must not start polling")
	}
}

// A reply without a ledger is stored pending and the poll loop merges the
// deferred audit when it arrives; 404s along the way mean "not ready".
func TestSendMessage_DeferredAuditMerged(t *testing.T) {
	t.Parallel()
	var polls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/conversations/c1/messages", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message_id":"ai-1","reply":"hello"}`))
	})
	mux.HandleFunc("/api/conversations/c1/messages/ai-1/audit", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&polls, 1)
		if n == 1 {
			http.Error(w, "not ready", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"conscience_ledger": []map[string]any{{"value": "care", "score": 1, "confidence": 0.9, "reason": "r"}},
			"spirit_score":      0.7,
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, r, _ := newTestClient(t, srv.URL, true)
	ctx := context.Background()
	c.beginSession("c1")

	if _, err := c.SendMessage(ctx, "hi"); err != nil {
		t.Fatalf("send: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		history, _ := c.mirror.LoadHistory(ctx, "c1")
		if len(history) == 2 && history[1].AuditStatus == AuditComplete {
			if *history[1].SpiritScore != 0.7 || len(history[1].ConscienceLedger) != 1 {
				t.Fatalf("audit fields not merged: %+v", history[1])
			}
			if got, ok := r.lastUpdate(); !ok || got.MessageID != "ai-1" || got.AuditStatus != AuditComplete {
				t.Fatalf("UI not notified of audit completion: %+v", got)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("deferred audit never merged")
}

// Exhausting the attempt budget leaves the message pending for good.
// The configured budget is total polls, not retries after the first.
func TestWatchAudit_GivesUp(t *testing.T) {
	t.Parallel()
	var polls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&polls, 1)
		http.Error(w, "not ready", http.StatusNotFound)
	}))
	defer srv.Close()

	c, _, _ := newTestClient(t, srv.URL, true)
	ctx := context.Background()
	s := c.beginSession("c1")
	if _, err := c.mirror.AppendMessage(ctx, "c1", Message{MessageID: "ai-1", Role: RoleAI, AuditStatus: AuditPending}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := c.watchAudit(s, "c1", "ai-1"); err != ErrAuditGaveUp {
		t.Fatalf("expected ErrAuditGaveUp, got %v", err)
	}
	if got := atomic.LoadInt32(&polls); got != 3 {
		t.Fatalf("polled %d times, want the configured 3", got)
	}
	history, _ := c.mirror.LoadHistory(ctx, "c1")
	if history[0].AuditStatus != AuditPending {
		t.Fatalf("message should stay pending: %+v", history[0])
	}
}

// A non-404/401 poll error stops polling permanently.
func TestWatchAudit_PermanentErrorStops(t *testing.T) {
	t.Parallel()
	var polls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&polls, 1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, _, _ := newTestClient(t, srv.URL, true)
	s := c.beginSession("c1")
	if err := c.watchAudit(s, "c1", "ai-1"); err == nil {
		t.Fatalf("expected permanent error")
	}
	if atomic.LoadInt32(&polls) != 1 {
		t.Fatalf("permanent error retried: %d polls", polls)
	}
}

// Switching conversations cancels the poll loop immediately.
func TestWatchAudit_SessionSwitchCancels(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not ready", http.StatusNotFound)
	}))
	defer srv.Close()

	c, _, _ := newTestClient(t, srv.URL, true, WithAuditPolling(time.Hour, 5))
	s := c.beginSession("c1")
	done := make(chan error, 1)
	go func() { done <- c.watchAudit(s, "c1", "ai-1") }()

	time.Sleep(10 * time.Millisecond)
	c.beginSession("c2")

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("switched-away poll should settle quietly: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("poll loop did not cancel on switch")
	}
}

// First send in an unsaved conversation creates it server-side first; a
// QUEUED create aborts the send.
func TestSendMessage_CreateFirst(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/conversations", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"conversation_id":"c9"}`))
	})
	mux.HandleFunc("/api/conversations/c9/messages", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message_id":"ai-1","reply":"hello","conscience_ledger":[{"value":"v","score":1,"confidence":1,"reason":"r"}]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, _, _ := newTestClient(t, srv.URL, true)
	ctx := context.Background()
	c.NewConversation()

	convoID, err := c.SendMessage(ctx, "hello there")
	if err != nil || convoID != "c9" {
		t.Fatalf("send: id=%q err=%v", convoID, err)
	}
	if c.ActiveConversationID() != "c9" {
		t.Fatalf("session not bound to new conversation")
	}
	list, _ := c.mirror.LoadSummaries(ctx)
	if len(list) != 1 || list[0].ID != "c9" || list[0].Title != "hello there" {
		t.Fatalf("new conversation not mirrored: %+v", list)
	}
}

func TestSendMessage_CreateQueuedAborts(t *testing.T) {
	t.Parallel()
	c, r, _ := newTestClient(t, "http://backend", false)
	c.NewConversation()

	_, err := c.SendMessage(context.Background(), "hi")
	if err != ErrCreateUnconfirmed {
		t.Fatalf("expected ErrCreateUnconfirmed, got %v", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.notices) == 0 {
		t.Fatalf("abort notice not shown")
	}
}

func TestTitleFrom_Truncates(t *testing.T) {
	t.Parallel()
	if got := titleFrom("  short title  "); got != "short title" {
		t.Fatalf("got %q", got)
	}
	long := "this is a very long first message that keeps going well past forty runes"
	got := titleFrom(long)
	if len([]rune(got)) > 43 || got[len(got)-3:] != "..." {
		t.Fatalf("got %q", got)
	}
}
