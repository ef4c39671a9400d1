package call

import (
	"fmt"

	"github.com/frontdesk-ai/frontdesk/internal/config"
)

// languageUnknown is the sentinel code emitted by the transcription layer
// when it could not attribute a language to an utterance.
const languageUnknown = "unknown"

// LanguageLock binds a session to the first detected spoken language.
// The transition is one-way: once locked, every further detection signal is
// ignored and the session never re-detects or switches language.
//
// LanguageLock is not safe for concurrent use on its own; it is owned by a
// [Session], whose event loop serialises access.
type LanguageLock struct {
	supported map[string]config.LanguageProfile
	locked    bool
	code      string
}

// NewLanguageLock creates an unlocked LanguageLock over the supported
// language set.
func NewLanguageLock(supported map[string]config.LanguageProfile) *LanguageLock {
	return &LanguageLock{supported: supported}
}

// Observe feeds one detection signal into the lock. It returns the locked
// profile and true exactly once, on the first code that is non-empty, not
// the "unknown" sentinel, and present in the supported set. All other calls
// return false.
func (l *LanguageLock) Observe(code string) (config.LanguageProfile, bool) {
	if l.locked {
		return config.LanguageProfile{}, false
	}
	if code == "" || code == languageUnknown {
		return config.LanguageProfile{}, false
	}
	prof, ok := l.supported[code]
	if !ok {
		return config.LanguageProfile{}, false
	}

	l.locked = true
	l.code = code
	return prof, true
}

// Locked reports whether the session has been bound to a language.
func (l *LanguageLock) Locked() bool { return l.locked }

// Language returns the locked language code, or "" while unlocked.
func (l *LanguageLock) Language() string { return l.code }

// LanguageInstructions rebuilds the responder's instruction text so that
// output is hard-constrained to the locked language. The base instructions
// are preserved; the language rule is appended so it is the most recent
// directive the responder sees.
func LanguageInstructions(base string, prof config.LanguageProfile) string {
	rule := fmt.Sprintf(
		"\n\nCRITICAL LANGUAGE RULE: You MUST speak ONLY in %[1]s. "+
			"Never switch to any other language, even if the caller mixes languages. "+
			"If a term has no %[1]s equivalent, say that single word in English. "+
			"Language: %[1]s ONLY.",
		prof.Name,
	)
	return base + rule
}
