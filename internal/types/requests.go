package types

// Request bodies sent to the backend. All JSON over HTTPS; the
// Authorization header is added by the client transport.

type CreateConversationRequest struct {
	Title string `json:"title,omitempty"`
}

type ProcessMessageRequest struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Content        string `json:"content"`
}

type RenameConversationRequest struct {
	Title string `json:"title"`
}

type PinConversationRequest struct {
	IsPinned bool `json:"is_pinned"`
}
