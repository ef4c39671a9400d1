package media

import (
	"context"
	"sync"

	"github.com/frontdesk-ai/frontdesk/internal/call"
)

// Responder drives the gateway's voice pipeline for one call. It implements
// [call.Responder] over the gateway REST API; the gateway owns the actual
// speech synthesis and language model round trip.
type Responder struct {
	client *Client
	callID string

	mu           sync.Mutex
	instructions string
	voice        string
}

var _ call.Responder = (*Responder)(nil)

// NewResponder binds a responder to one live call.
func NewResponder(client *Client, callID, instructions string) *Responder {
	return &Responder{
		client:       client,
		callID:       callID,
		instructions: instructions,
	}
}

// Reply implements [call.Responder]. The gateway generates, speaks and
// returns the reply text.
func (r *Responder) Reply(ctx context.Context, utterance string) (string, error) {
	r.mu.Lock()
	instructions, voice := r.instructions, r.voice
	r.mu.Unlock()

	var out struct {
		Text string `json:"text"`
	}
	err := r.client.post(ctx, "/v1/calls/"+r.callID+"/reply", map[string]string{
		"utterance":    utterance,
		"instructions": instructions,
		"voice":        voice,
	}, &out)
	if err != nil {
		return "", err
	}
	return out.Text, nil
}

// Say implements [call.Responder]: the text is spoken verbatim.
func (r *Responder) Say(ctx context.Context, text string) error {
	r.mu.Lock()
	voice := r.voice
	r.mu.Unlock()

	return r.client.post(ctx, "/v1/calls/"+r.callID+"/say", map[string]string{
		"text":  text,
		"voice": voice,
	}, nil)
}

// SetInstructions implements [call.Responder]. The new instructions apply
// from the next reply.
func (r *Responder) SetInstructions(instructions string) {
	r.mu.Lock()
	r.instructions = instructions
	r.mu.Unlock()
}

// SetVoice implements [call.Responder]. The voice switch is carried with the
// next gateway command rather than sent as its own round trip.
func (r *Responder) SetVoice(speaker string) error {
	r.mu.Lock()
	r.voice = speaker
	r.mu.Unlock()
	return nil
}
