package safi

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	synerr "github.com/jnamaya/SAFi-sub001/internal/errors"
	"github.com/jnamaya/SAFi-sub001/internal/types"
)

// LoadConversations is the full list-load flow: paint the mirror's list
// immediately, refresh it from the server, persist, re-render, then
// select the most recently active conversation (or show the empty state
// for a fresh account). Read failures fall back silently to local data;
// the error surfaces only when there is truly nothing to show.
func (c *Client) LoadConversations(ctx context.Context) error {
	return c.loadConversations(ctx, true)
}

// RefreshList re-syncs the conversation list without disturbing the open
// conversation. Used after pin/rename/delete and by hosts on a pull-to-
// refresh gesture.
func (c *Client) RefreshList(ctx context.Context) error {
	return c.loadConversations(ctx, false)
}

func (c *Client) loadConversations(ctx context.Context, full bool) error {
	local, _ := c.mirror.LoadSummaries(ctx)
	if len(local) > 0 {
		c.renderer.RenderList(local)
	}

	fresh, err := c.fetchList(ctx)
	if err != nil {
		if IsUnauthorized(err) {
			c.renderer.Notify("Your session has expired. Please sign in again.")
			return err
		}
		if len(local) > 0 {
			// The stale paint stands; nothing user-visible to add.
			log.Debug().Err(err).Msg("list refresh failed, keeping local copy")
			if full {
				return c.selectFrom(ctx, local)
			}
			return nil
		}
		if errors.Is(err, synerr.ErrOfflineNoCache) {
			c.renderer.Notify("Could not load conversations. Check your connection.")
		}
		return err
	}

	if err := c.mirror.SaveSummaries(ctx, fresh); err != nil {
		log.Warn().Err(err).Msg("could not persist conversation list")
	}
	c.renderer.RenderList(fresh)
	if full {
		return c.selectFrom(ctx, fresh)
	}
	return nil
}

func (c *Client) fetchList(ctx context.Context) ([]ConversationSummary, error) {
	res, err := c.fetcher.FetchWithCache(ctx, c.listURL())
	if err != nil {
		return nil, err
	}
	return types.DecodeConversationList(res.Data)
}

// selectFrom opens the most recently updated conversation, or starts an
// unsaved one when the account has none.
func (c *Client) selectFrom(ctx context.Context, list []ConversationSummary) error {
	if len(list) == 0 {
		c.NewConversation()
		return nil
	}
	best := list[0]
	for _, s := range list[1:] {
		if s.LastUpdated.After(best.LastUpdated.Time) {
			best = s
		}
	}
	return c.SwitchConversation(ctx, best.ID)
}

// NewConversation resets the active session to an unsaved conversation.
// The conversation gets a server id on the first successful send.
func (c *Client) NewConversation() {
	c.beginSession("")
	c.renderer.ShowEmptyState("")
}

// SwitchConversation makes id the active conversation: local history is
// painted immediately, then refreshed from the server and persisted. An
// empty history shows the empty state rather than an error. Any audit
// watcher from the previous conversation is cancelled.
func (c *Client) SwitchConversation(ctx context.Context, id string) error {
	if err := types.ValidateIDPresent(id, "conversation id"); err != nil {
		return err
	}
	c.beginSession(id)

	local, _ := c.mirror.LoadHistory(ctx, id)
	if len(local) > 0 {
		c.renderer.RenderHistory(id, local)
	}

	res, err := c.fetcher.FetchWithCache(ctx, c.historyURL(id))
	if err != nil {
		if IsUnauthorized(err) {
			c.renderer.Notify("Your session has expired. Please sign in again.")
			return err
		}
		if len(local) > 0 {
			log.Debug().Err(err).Str("conversation", id).Msg("history refresh failed, keeping local copy")
			return nil
		}
		c.renderer.Notify("Could not load this conversation. Check your connection.")
		return err
	}

	history, err := types.DecodeHistory(res.Data)
	if err != nil {
		if len(local) > 0 {
			log.Warn().Err(err).Str("conversation", id).Msg("history response malformed, keeping local copy")
			return nil
		}
		return err
	}

	if err := c.mirror.SaveHistory(ctx, id, history); err != nil {
		log.Warn().Err(err).Str("conversation", id).Msg("could not persist history")
	}
	if len(history) == 0 {
		c.renderer.ShowEmptyState(id)
		return nil
	}
	c.renderer.RenderHistory(id, history)
	return nil
}
