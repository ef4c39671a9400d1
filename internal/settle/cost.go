package settle

import (
	"math"
	"time"

	"github.com/frontdesk-ai/frontdesk/internal/config"
)

// EstimateCost computes the estimated provider spend for one call from its
// duration and transcript length. Pure function: speech components bill per
// minute, language-model output per 1000 transcript characters and input per
// 4000. The result is rounded to 5 decimal places so persisted records
// compare exactly.
func EstimateCost(d time.Duration, transcriptChars int, c config.CostConfig) float64 {
	minutes := d.Seconds() / 60
	chars := float64(transcriptChars)

	cost := minutes*c.STTPerMinute +
		minutes*c.TTSPerMinute +
		(chars/1000)*c.LLMOutPerKiloChar +
		(chars/4000)*c.LLMInPerFourKiloChar

	return math.Round(cost*1e5) / 1e5
}
