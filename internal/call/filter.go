package call

import "strings"

// Classification is the outcome of filtering one finalized caller utterance.
type Classification int

const (
	// ClassEcho marks an utterance captured while the responder was still
	// speaking, presumed audio leakage. Never forwarded.
	ClassEcho Classification = iota

	// ClassEmpty marks an utterance whose trimmed text is too short to carry
	// content.
	ClassEmpty

	// ClassFiller marks a bare acknowledgement word ("okay", "hmm", "haan").
	ClassFiller

	// ClassValid marks an utterance forwarded to the responder as a turn.
	ClassValid
)

// String returns the filter reason label used in logs and metrics.
func (c Classification) String() string {
	switch c {
	case ClassEcho:
		return "echo"
	case ClassEmpty:
		return "empty"
	case ClassFiller:
		return "filler"
	case ClassValid:
		return "valid"
	default:
		return "unknown"
	}
}

// minUtteranceLen is the minimum trimmed length for an utterance to carry
// content.
const minUtteranceLen = 3

// fillerWords is the closed set of acknowledgement words dropped by the
// filter, including common Hindi fillers heard on the line.
var fillerWords = map[string]struct{}{
	"okay": {}, "ok": {}, "uh": {}, "hmm": {}, "hm": {},
	"yeah": {}, "yes": {}, "no": {}, "um": {}, "ah": {}, "oh": {},
	"right": {}, "sure": {}, "fine": {}, "good": {},
	"haan": {}, "han": {}, "theek": {}, "theek hai": {}, "accha": {},
	"ji": {}, "ha": {},
}

// fillerVariants maps recurring transcription misspellings to the filler
// they stand for. Membership is exact: fuzzy matching over the whole filler
// set would swallow real words ("night" is one edit from "right").
var fillerVariants = map[string]string{
	"okey": "okay", "okayy": "okay", "okk": "ok",
	"yeahh": "yeah", "yaa": "yeah",
	"hmmm": "hmm", "umm": "um", "uhh": "uh", "ahh": "ah", "ohh": "oh",
	"acha": "accha", "achha": "accha",
	"haa": "haan", "haanji": "haan",
	"thik hai": "theek hai",
}

// Filter classifies finalized caller utterances before they reach the
// responder. It is stateless and safe for concurrent use; the speaking flag
// belongs to the session and is passed per call.
type Filter struct {
	fillers  map[string]struct{}
	variants map[string]string
}

// NewFilter creates a Filter with the built-in acknowledgement word set.
func NewFilter() *Filter {
	return &Filter{fillers: fillerWords, variants: fillerVariants}
}

// Classify applies the filter rules in order (echo, empty, filler) and
// returns [ClassValid] for anything that survives. First match wins.
func (f *Filter) Classify(raw string, speaking bool) Classification {
	if speaking {
		return ClassEcho
	}

	trimmed := strings.TrimSpace(raw)
	if len(trimmed) < minUtteranceLen {
		return ClassEmpty
	}

	normalized := strings.TrimSuffix(strings.ToLower(trimmed), ".")
	if f.isFiller(normalized) {
		return ClassFiller
	}

	return ClassValid
}

// isFiller reports whether text is a member of the filler set or of its
// curated variant table.
func (f *Filter) isFiller(text string) bool {
	if _, ok := f.fillers[text]; ok {
		return true
	}
	_, ok := f.variants[text]
	return ok
}
