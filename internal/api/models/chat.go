package models

// MaxMessageLength caps the text of one chat message, in bytes.
const MaxMessageLength = 2000

// ChatRequest is the body of POST /v1/chat. UserID is required unless the
// request carries a bearer token, whose user id wins.
type ChatRequest struct {
	UserID   string `json:"user_id" validate:"omitempty,max=64,excludesall=/\\:"`
	Username string `json:"username" validate:"omitempty,max=64"`
	Text     string `json:"text" validate:"required,max=2000"`
}

// ChatResponse is the reply to one message.
type ChatResponse struct {
	Reply string `json:"reply"`

	// Asset is a file a tool produced, delivered next to the reply.
	Asset *Asset `json:"asset,omitempty"`

	// Fallback is true when Reply is the apology for a failed turn.
	Fallback bool `json:"fallback,omitempty"`
}

// Asset points at a file produced by a tool.
type Asset struct {
	Path    string `json:"path"`
	Caption string `json:"caption,omitempty"`
}

// ClearResponse reports whether today's history existed before the clear.
type ClearResponse struct {
	Cleared bool   `json:"cleared"`
	Message string `json:"message"`
}

// HelpResponse carries the static welcome and help texts.
type HelpResponse struct {
	Welcome string   `json:"welcome"`
	Help    string   `json:"help"`
	Tools   []string `json:"tools"`
}
