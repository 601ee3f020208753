package safi

// Renderer is the UI consumer of orchestration results. It implements no
// logic this layer depends on for correctness; every method is a
// fire-and-forget notification and must not block.
type Renderer interface {
	// RenderList replaces the displayed conversation list.
	RenderList(list []ConversationSummary)

	// RenderHistory replaces the displayed history for a conversation.
	RenderHistory(conversationID string, history []Message)

	// ShowEmptyState displays the no-messages view for a conversation
	// (empty id means no conversation is selected yet).
	ShowEmptyState(conversationID string)

	// UpdateMessage upserts a single message in the displayed history,
	// e.g. when a deferred audit result arrives.
	UpdateMessage(conversationID string, msg Message)

	// Notify shows a brief non-blocking notification.
	Notify(text string)
}

// NopRenderer discards every callback. It is the default when no
// Renderer is configured.
type NopRenderer struct{}

func (NopRenderer) RenderList([]ConversationSummary) {}
func (NopRenderer) RenderHistory(string, []Message)  {}
func (NopRenderer) ShowEmptyState(string)            {}
func (NopRenderer) UpdateMessage(string, Message)    {}
func (NopRenderer) Notify(string)                    {}
