package tokenizer

import (
	tiktoken "github.com/pkoukk/tiktoken-go"

	"crosstalk/internal/domain"
)

// DefaultEncoding is the tiktoken encoding used for budgeting. The exact
// encoding matters less than determinism: the same estimator must always
// produce the same cost for the same message.
const DefaultEncoding = "cl100k_base"

// ImageTokenCost is the flat per-image surcharge. It is a policy constant for
// budgeting, not a measured value; real multimodal tokenizers vary with image
// size.
const ImageTokenCost = 1000

// heuristicDivisor approximates tokens as len(text)/4 when no exact encoding
// is available.
const heuristicDivisor = 4

// Estimator counts tokens with tiktoken when the encoding is available and
// degrades to a deterministic character heuristic when it is not.
type Estimator struct {
	encoding *tiktoken.Tiktoken // nil means heuristic mode
}

// NewEstimator returns an Estimator backed by the named tiktoken encoding.
// When the encoding cannot be initialized (e.g. the embedded vocabulary is
// unavailable), the estimator silently falls back to the len/4 heuristic.
func NewEstimator(encodingName string) *Estimator {
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return &Estimator{}
	}
	return &Estimator{encoding: enc}
}

// NewHeuristicEstimator returns an Estimator that only uses the character
// heuristic. Used in tests and when exact counts are not worth the encoder
// startup cost.
func NewHeuristicEstimator() *Estimator {
	return &Estimator{}
}

// Exact reports whether the estimator uses a real subword encoding.
func (e *Estimator) Exact() bool {
	return e.encoding != nil
}

// CountTokens implements domain.TokenCounter.
func (e *Estimator) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if e.encoding != nil {
		return len(e.encoding.Encode(text, nil, nil))
	}
	return len(text) / heuristicDivisor
}

// MessageCost implements domain.TokenCounter: text cost plus the flat
// surcharge for each attached image.
func (e *Estimator) MessageCost(msg domain.Message) int {
	return e.CountTokens(msg.Content) + len(msg.Images)*ImageTokenCost
}

var _ domain.TokenCounter = (*Estimator)(nil)
