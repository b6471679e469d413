package llm

import "context"

// Role represents the role of the message sender (system, user, assistant).
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// AttachmentImageURL marks an attachment whose URL points at an image.
const AttachmentImageURL = "image_url"

// Attachment represents a media attachment sent alongside a user message.
type Attachment struct {
	Type string `json:"type"`
	URL  string `json:"url,omitempty"`
}

// Message represents a single message in the conversation.
type Message struct {
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Options tunes a single completion call. Zero values leave the provider default in place.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
	// JSON asks the provider to return a single JSON object.
	JSON bool
}

// Usage reports token accounting for a completion.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Response is the result of a completion call.
type Response struct {
	Message Message
	Usage   Usage
	Model   string
}

// Provider defines the interface for a chat completion provider.
type Provider interface {
	// Chat sends a list of messages to the LLM and returns the completed message.
	Chat(ctx context.Context, messages []Message, opts Options) (*Response, error)
}

// Conversation keeps only user and assistant turns, dropping system messages
// and empty entries supplied by clients.
func Conversation(history []Message) []Message {
	out := make([]Message, 0, len(history))
	for _, msg := range history {
		if msg.Role != RoleUser && msg.Role != RoleAssistant {
			continue
		}
		if msg.Content == "" && len(msg.Attachments) == 0 {
			continue
		}
		out = append(out, msg)
	}
	return out
}
