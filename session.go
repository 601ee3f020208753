package safi

import "context"

// session tracks the single active conversation for the current UI.
// Created on switch, disposed on switch-away; audit watchers hold the
// session they started under and self-cancel once it is no longer
// current. This replaces ambient mutable globals with an explicit
// lifecycle.
type session struct {
	id     string // empty for an unsaved conversation
	ctx    context.Context
	cancel context.CancelFunc
}

// beginSession makes id the active conversation, cancelling the previous
// session's background work. The session context is detached from the
// caller: audit polling outlives the call that started it.
func (c *Client) beginSession(id string) *session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{id: id, ctx: ctx, cancel: cancel}

	c.mu.Lock()
	prev := c.cur
	c.cur = s
	c.mu.Unlock()

	if prev != nil {
		prev.cancel()
	}
	return s
}

func (c *Client) currentSession() *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}

// sessionActive reports whether s is still the current session.
func (c *Client) sessionActive(s *session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur == s
}

// ActiveConversationID returns the id of the open conversation, or empty
// when none is selected or the conversation is not yet saved.
func (c *Client) ActiveConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		return ""
	}
	return c.cur.id
}
