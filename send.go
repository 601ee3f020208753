package safi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	synerr "github.com/jnamaya/SAFi-sub001/internal/errors"
	"github.com/jnamaya/SAFi-sub001/internal/mirror"
	"github.com/jnamaya/SAFi-sub001/internal/types"
)

// Poll loop control errors, mapped to outcomes in watchAudit.
var (
	errAuditNotReady   = errors.New("audit result not ready")
	errSessionSwitched = errors.New("conversation switched")
)

// SendMessage sends content in the active conversation, creating the
// conversation first when none exists yet. The user's message is appended
// to the mirror optimistically before the server confirms. A QUEUED
// process call leaves state as-is for a later flush-driven resend; on
// success the AI reply is appended with audit_status complete when the
// ledger arrived inline, else pending with a bounded poll loop started
// for the deferred result. Returns the conversation id the message
// belongs to.
func (c *Client) SendMessage(ctx context.Context, content string) (string, error) {
	s := c.currentSession()
	if s == nil || s.id == "" {
		id, err := c.createConversation(ctx, content)
		if err != nil {
			return "", err
		}
		s = c.beginSession(id)
	}
	convoID := s.id

	userMsg := Message{
		MessageID:   uuid.NewString(),
		Role:        RoleUser,
		Content:     content,
		Timestamp:   types.Now(),
		AuditStatus: AuditNotApplicable,
	}
	if _, err := c.mirror.AppendMessage(ctx, convoID, userMsg); err != nil {
		return convoID, err
	}
	now := types.Now()
	if _, err := c.mirror.UpsertSummary(ctx, convoID, mirror.SummaryPatch{LastUpdated: &now}); err != nil {
		log.Warn().Err(err).Str("conversation", convoID).Msg("could not bump last_updated")
	}
	c.renderer.UpdateMessage(convoID, userMsg)

	body, err := json.Marshal(types.ProcessMessageRequest{
		ConversationID: convoID,
		MessageID:      userMsg.MessageID,
		Content:        content,
	})
	if err != nil {
		return convoID, err
	}

	sendCtx := c.trackInflight(ctx)
	defer c.clearInflight()

	out, err := c.queue.PostWithQueue(sendCtx, c.historyURL(convoID), http.MethodPost, nil, string(body))
	if err != nil {
		return convoID, err
	}
	if out.Queued() {
		c.renderer.Notify("You're offline. Your message will be sent when the connection returns.")
		return convoID, nil
	}

	reply, err := types.DecodeProcessReply(out.Data)
	if err != nil {
		return convoID, err
	}

	aiMsg := Message{
		MessageID: reply.MessageID,
		Role:      RoleAI,
		Content:   reply.Content,
		Timestamp: types.Now(),
	}
	if aiMsg.MessageID == "" {
		// Provisional id; the server confirms asynchronously.
		aiMsg.MessageID = uuid.NewString()
	}
	if len(reply.Audit.Ledger) > 0 {
		aiMsg.AuditStatus = AuditComplete
		aiMsg.ConscienceLedger = reply.Audit.Ledger
		aiMsg.SpiritScore = reply.Audit.SpiritScore
		aiMsg.SuggestedPrompts = reply.Audit.SuggestedPrompts
		aiMsg.ProfileName = reply.Audit.ProfileName
		aiMsg.ProfileValues = reply.Audit.ProfileValues
	} else {
		aiMsg.AuditStatus = AuditPending
	}
	if _, err := c.mirror.AppendMessage(ctx, convoID, aiMsg); err != nil {
		return convoID, err
	}
	c.renderer.UpdateMessage(convoID, aiMsg)

	if aiMsg.AuditStatus == AuditPending {
		go func() {
			if err := c.watchAudit(s, convoID, aiMsg.MessageID); err != nil {
				// Secondary to the chat content; degrade silently.
				log.Debug().Err(err).Str("conversation", convoID).Str("message", aiMsg.MessageID).
					Msg("audit poll ended without a result")
			}
		}()
	}
	return convoID, nil
}

// StopGeneration aborts the in-flight send, best-effort. If the server
// already processed the message the result is discarded client-side.
func (c *Client) StopGeneration() {
	c.mu.Lock()
	cancel := c.inflightCancel
	c.inflightCancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Client) trackInflight(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	c.mu.Lock()
	if c.inflightCancel != nil {
		c.inflightCancel()
	}
	c.inflightCancel = cancel
	c.mu.Unlock()
	return ctx
}

func (c *Client) clearInflight() {
	c.mu.Lock()
	cancel := c.inflightCancel
	c.inflightCancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// createConversation performs the first-send server round trip. A QUEUED
// outcome aborts the send with a notice: without a server id there is
// nothing to attach the message to.
func (c *Client) createConversation(ctx context.Context, content string) (string, error) {
	title := titleFrom(content)
	body, err := json.Marshal(types.CreateConversationRequest{Title: title})
	if err != nil {
		return "", err
	}
	out, err := c.queue.PostWithQueue(ctx, c.listURL(), http.MethodPost, nil, string(body))
	if err != nil {
		return "", err
	}
	if out.Queued() {
		c.renderer.Notify("Can't start a new conversation while offline.")
		return "", ErrCreateUnconfirmed
	}
	id, err := types.DecodeCreateConversation(out.Data)
	if err != nil {
		return "", err
	}
	now := types.Now()
	if _, err := c.mirror.UpsertSummary(ctx, id, mirror.SummaryPatch{Title: &title, LastUpdated: &now}); err != nil {
		log.Warn().Err(err).Str("conversation", id).Msg("could not mirror new conversation")
	}
	return id, nil
}

// titleFrom derives a provisional conversation title from the first
// message.
func titleFrom(content string) string {
	title := strings.TrimSpace(content)
	if utf8.RuneCountInString(title) <= 40 {
		return title
	}
	runes := []rune(title)
	return strings.TrimSpace(string(runes[:40])) + "..."
}

// watchAudit polls the audit endpoint for messageID at a constant
// interval, bounded by the configured attempt budget. 404 and 401 mean
// "not ready yet" and are retried; any other error stops polling
// permanently. The loop always settles: with the merged payload, with
// ErrAuditGaveUp, or with the permanent error. A conversation switch
// cancels it immediately.
func (c *Client) watchAudit(s *session, convoID, messageID string) error {
	op := func() error {
		if !c.sessionActive(s) {
			return backoff.Permanent(errSessionSwitched)
		}
		audit, err := c.fetchAudit(s.ctx, convoID, messageID)
		if err != nil {
			var rf *RequestFailedError
			if errors.As(err, &rf) && rf.StatusCode == http.StatusNotFound {
				return errAuditNotReady
			}
			if IsUnauthorized(err) {
				return errAuditNotReady
			}
			return backoff.Permanent(err)
		}
		if audit.Empty() {
			return errAuditNotReady
		}
		updated, err := c.mirror.MergeAudit(s.ctx, convoID, messageID, *audit)
		if err != nil {
			return backoff.Permanent(err)
		}
		if updated != nil {
			auditCompletedTotal.Inc()
			c.renderer.UpdateMessage(convoID, *updated)
		}
		return nil
	}

	// WithMaxRetries counts retries after the first attempt, so the
	// configured attempt budget maps to auditAttempts-1 retries.
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.auditInterval), uint64(c.auditAttempts-1)),
		s.ctx,
	)
	err := backoff.Retry(op, policy)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errSessionSwitched), errors.Is(err, context.Canceled):
		return nil
	case errors.Is(err, errAuditNotReady):
		auditGaveUpTotal.Inc()
		return synerr.ErrAuditGaveUp
	default:
		return err
	}
}

// fetchAudit performs one audit poll. It bypasses the read cache on
// purpose: poll responses are transient and must not overwrite cached
// conversation data.
func (c *Client) fetchAudit(ctx context.Context, convoID, messageID string) (*types.AuditResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.auditURL(convoID, messageID), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, &UnauthorizedError{Message: strings.TrimSpace(string(body))}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RequestFailedError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if !json.Valid(body) {
		return nil, &BadResponseFormatError{ContentType: resp.Header.Get("Content-Type"), Reason: "audit response is not valid JSON"}
	}
	return types.DecodeAuditResult(body)
}
