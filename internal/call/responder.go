package call

import (
	"context"
	"time"
)

// Role identifies which side of the conversation produced a turn.
type Role string

const (
	// RoleUser marks a caller utterance.
	RoleUser Role = "user"

	// RoleAssistant marks a responder reply.
	RoleAssistant Role = "assistant"
)

// Turn is one committed line of the conversation.
type Turn struct {
	Role Role
	Text string
	At   time.Time
}

// Responder is the conversational engine behind a session: it holds the
// running dialogue, produces spoken replies, and accepts mid-call changes to
// its instructions and voice. The media layer provides the production
// implementation; tests substitute a scripted one.
type Responder interface {
	// Reply generates and speaks a reply to one caller utterance, returning
	// the text that was spoken.
	Reply(ctx context.Context, utterance string) (string, error)

	// Say speaks the given text verbatim, outside the reply loop. Used for
	// the greeting and for spoken tool results.
	Say(ctx context.Context, text string) error

	// SetInstructions replaces the responder's system instructions for all
	// subsequent replies.
	SetInstructions(instructions string)

	// SetVoice switches the speech voice. Takes effect on the next reply.
	SetVoice(speaker string) error
}

// TranscriptSink receives committed turns as they happen, so the transcript
// is durable even if the process dies mid-call. Implementations must tolerate
// being called from the session's event goroutine.
type TranscriptSink interface {
	AppendTurn(ctx context.Context, callID string, turn Turn) error
}
