package safi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/jnamaya/SAFi-sub001/internal/mirror"
	"github.com/jnamaya/SAFi-sub001/internal/types"
)

// Rename, delete, and pin all follow the same three-phase pattern:
// optimistic mirror mutation, list re-render, then the server call. A
// confirmed server failure rolls the mirror back and re-renders; a QUEUED
// outcome keeps the optimistic state as current truth, since the queued
// write is expected to succeed on a later flush.

// RenameConversation sets a new title.
func (c *Client) RenameConversation(ctx context.Context, id, title string) error {
	if err := types.ValidateIDPresent(id, "conversation id"); err != nil {
		return err
	}
	prev, err := c.mirror.UpsertSummary(ctx, id, mirror.SummaryPatch{Title: &title})
	if err != nil {
		return err
	}
	c.renderListLocal(ctx)

	body, err := json.Marshal(types.RenameConversationRequest{Title: title})
	if err != nil {
		return err
	}
	out, err := c.queue.PostWithQueue(ctx, c.conversationURL(id), http.MethodPatch, nil, string(body))
	if err != nil {
		c.rollbackSummary(ctx, id, prev)
		c.renderer.Notify("Could not rename the conversation.")
		return err
	}
	if out.Queued() {
		c.renderer.Notify("Rename saved locally; it will sync when you're back online.")
	}
	return nil
}

// TogglePin flips the pinned flag.
func (c *Client) TogglePin(ctx context.Context, id string) error {
	if err := types.ValidateIDPresent(id, "conversation id"); err != nil {
		return err
	}
	list, _ := c.mirror.LoadSummaries(ctx)
	var cur *ConversationSummary
	for i := range list {
		if list[i].ID == id {
			cur = &list[i]
			break
		}
	}
	if cur == nil {
		return fmt.Errorf("unknown conversation %q", id)
	}

	pinned := !cur.IsPinned
	prev, err := c.mirror.UpsertSummary(ctx, id, mirror.SummaryPatch{IsPinned: &pinned})
	if err != nil {
		return err
	}
	c.renderListLocal(ctx)

	body, err := json.Marshal(types.PinConversationRequest{IsPinned: pinned})
	if err != nil {
		return err
	}
	out, err := c.queue.PostWithQueue(ctx, c.conversationURL(id)+"/pin", http.MethodPatch, nil, string(body))
	if err != nil {
		c.rollbackSummary(ctx, id, prev)
		c.renderer.Notify("Could not update the pin.")
		return err
	}
	if out.Queued() {
		c.renderer.Notify("Pin saved locally; it will sync when you're back online.")
	}
	return nil
}

// DeleteConversation removes the conversation locally and on the server.
// The summary and history are captured first so a confirmed failure can
// restore both.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	if err := types.ValidateIDPresent(id, "conversation id"); err != nil {
		return err
	}
	list, _ := c.mirror.LoadSummaries(ctx)
	var prev *ConversationSummary
	for i := range list {
		if list[i].ID == id {
			s := list[i]
			prev = &s
			break
		}
	}
	history, _ := c.mirror.LoadHistory(ctx, id)

	if err := c.mirror.Delete(ctx, id); err != nil {
		return err
	}
	c.renderListLocal(ctx)
	if c.ActiveConversationID() == id {
		c.NewConversation()
	}

	out, err := c.queue.PostWithQueue(ctx, c.conversationURL(id), http.MethodDelete, nil, "")
	if err != nil {
		if prev != nil {
			c.restoreConversation(ctx, *prev, history)
		}
		c.renderer.Notify("Could not delete the conversation.")
		return err
	}
	if out.Queued() {
		c.renderer.Notify("Delete saved locally; it will sync when you're back online.")
	}
	return nil
}

// rollbackSummary restores the pre-mutation record (or removes a record
// the mutation created) and re-renders the list.
func (c *Client) rollbackSummary(ctx context.Context, id string, prev *ConversationSummary) {
	rollbacksTotal.Inc()
	if prev == nil {
		if err := c.mirror.Delete(ctx, id); err != nil {
			log.Warn().Err(err).Str("conversation", id).Msg("rollback delete failed")
		}
	} else {
		patch := mirror.SummaryPatch{Title: &prev.Title, LastUpdated: &prev.LastUpdated, IsPinned: &prev.IsPinned}
		if _, err := c.mirror.UpsertSummary(ctx, id, patch); err != nil {
			log.Warn().Err(err).Str("conversation", id).Msg("rollback failed")
		}
	}
	c.renderListLocal(ctx)
}

func (c *Client) restoreConversation(ctx context.Context, prev ConversationSummary, history []Message) {
	rollbacksTotal.Inc()
	patch := mirror.SummaryPatch{Title: &prev.Title, LastUpdated: &prev.LastUpdated, IsPinned: &prev.IsPinned}
	if _, err := c.mirror.UpsertSummary(ctx, prev.ID, patch); err != nil {
		log.Warn().Err(err).Str("conversation", prev.ID).Msg("restore failed")
	}
	if len(history) > 0 {
		if err := c.mirror.SaveHistory(ctx, prev.ID, history); err != nil {
			log.Warn().Err(err).Str("conversation", prev.ID).Msg("history restore failed")
		}
	}
	c.renderListLocal(ctx)
}

// renderListLocal re-renders the list from the mirror, reflecting
// optimistic state without a server round trip.
func (c *Client) renderListLocal(ctx context.Context) {
	list, _ := c.mirror.LoadSummaries(ctx)
	c.renderer.RenderList(list)
}
