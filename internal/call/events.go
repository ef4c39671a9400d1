// Package call implements the per-call session state machine: it consumes
// abstracted events from the media gateway, filters caller utterances, locks
// the session to the first detected language, and fires the one-shot
// termination latch that hands the call to settlement.
package call

import "time"

// EventKind identifies one of the five event kinds delivered by the media
// gateway for a live call.
type EventKind string

const (
	// EventAgentSpeechStarted fires when the responder begins rendering audio.
	EventAgentSpeechStarted EventKind = "agent_speech_started"

	// EventAgentSpeechFinished fires when the responder's audio has drained.
	EventAgentSpeechFinished EventKind = "agent_speech_finished"

	// EventUserUtterance carries one finalized caller utterance with an
	// optional detected language code.
	EventUserUtterance EventKind = "user_utterance_committed"

	// EventInterrupted fires when the caller cuts off responder speech.
	EventInterrupted EventKind = "interrupted"

	// EventDisconnected fires when the caller leaves the call. It triggers
	// the termination latch.
	EventDisconnected EventKind = "participant_disconnected"
)

// IsValid reports whether k is a recognised event kind.
func (k EventKind) IsValid() bool {
	switch k {
	case EventAgentSpeechStarted, EventAgentSpeechFinished,
		EventUserUtterance, EventInterrupted, EventDisconnected:
		return true
	}
	return false
}

// Event is one abstracted call event from the media gateway. Text and
// Language are only populated for [EventUserUtterance].
type Event struct {
	Kind      EventKind
	Text      string
	Language  string
	Timestamp time.Time
}
