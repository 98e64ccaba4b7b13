package domain

import "context"

// Role identifies the author of a Turn in a conversation.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn is a single prompt or reply exchanged with the model.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// TurnCap rounds a history cap down to whole user/model exchanges so a trimmed
// history always starts with a user turn. n <= 0 means unlimited; the smallest cap is one exchange.
func TurnCap(n int) int {
	if n <= 0 {
		return n
	}
	n -= n % 2
	if n == 0 {
		n = 2
	}
	return n
}

// Generator defines the contract for the remote text-generation service.
// Implementations own the sampling parameters; callers only supply the conversation.
type Generator interface {
	// Generate sends prompt on top of history and blocks until the full reply is available.
	Generate(ctx context.Context, history []Turn, prompt string) (string, error)

	// Stream behaves like Generate but hands each text fragment to onChunk as it arrives.
	// The returned string is the concatenation of every fragment.
	Stream(ctx context.Context, history []Turn, prompt string, onChunk func(string) error) (string, error)
}
