// Package window trims conversations to fit a model's context window while
// preserving turn-level coherence. The optimizer is pure: no I/O beyond
// logging, deterministic for identical inputs, and it never fails — degenerate
// inputs produce degenerate (but valid) output.
package window

import (
	"log/slog"

	"crosstalk/internal/domain"
)

// DefaultRatio is the fraction of the context window available to the prompt.
// The remainder is headroom for the completion.
const DefaultRatio = 0.7

// Optimizer fits a conversation into a token budget, always preserving system
// messages and keeping user/assistant turns intact.
type Optimizer struct {
	counter domain.TokenCounter
	ratio   float64
	logger  *slog.Logger

	// KeepOrphanAssistant disables dropping assistant messages whose user
	// message fell outside the accumulated window. Diagnostic use only.
	KeepOrphanAssistant bool
}

// NewOptimizer creates an Optimizer. Panics if counter is nil. A ratio outside
// (0, 1] falls back to DefaultRatio. A nil logger means slog.Default().
func NewOptimizer(counter domain.TokenCounter, ratio float64, logger *slog.Logger) *Optimizer {
	if counter == nil {
		panic("window: counter must not be nil")
	}
	if ratio <= 0 || ratio > 1 {
		ratio = DefaultRatio
	}
	return &Optimizer{counter: counter, ratio: ratio, logger: logger}
}

func (o *Optimizer) log() *slog.Logger {
	if o.logger != nil {
		return o.logger
	}
	return slog.Default()
}

// Fit returns a trimmed copy of messages whose accumulated token cost stays
// within floor(contextWindow*ratio). System messages are never evicted except
// under the minimal-context fallback, which degrades to the single most
// recent system message when system messages alone exceed the budget.
func (o *Optimizer) Fit(messages []domain.Message, contextWindow int) []domain.Message {
	if len(messages) == 0 {
		return messages
	}

	maxTokens := int(float64(contextWindow) * o.ratio)

	// Partition preserving relative order within each half.
	var system, rest []domain.Message
	for _, msg := range messages {
		if msg.Role == domain.RoleSystem {
			system = append(system, msg)
		} else {
			rest = append(rest, msg)
		}
	}

	systemTokens := 0
	for _, msg := range system {
		systemTokens += o.counter.MessageCost(msg)
	}

	available := maxTokens - systemTokens
	if available <= 0 {
		// Minimal-context fallback: the standing instructions alone blow the
		// budget. Keep only the most recent system message.
		o.log().Warn("system messages exceed token budget, using minimal context",
			"systemTokens", systemTokens, "maxTokens", maxTokens)
		if len(system) == 0 {
			return []domain.Message{}
		}
		return []domain.Message{system[len(system)-1]}
	}

	// Walk non-system messages newest to oldest, accumulating until the next
	// message would overflow. The overflowing message is excluded entirely —
	// no partial truncation.
	kept := make([]domain.Message, 0, len(rest))
	current := 0
	for i := len(rest) - 1; i >= 0; i-- {
		cost := o.counter.MessageCost(rest[i])
		if current+cost > available {
			break
		}
		kept = append([]domain.Message{rest[i]}, kept...)
		current += cost
	}

	final := make([]domain.Message, 0, len(system)+len(kept))
	final = append(final, system...)
	final = append(final, o.repair(kept)...)
	return final
}

// repair re-pairs the accumulated window into coherent turns: a user message
// is kept together with its immediately following assistant reply; a trailing
// unanswered user message is kept alone; an assistant message whose user
// message fell outside the window is dropped (unless KeepOrphanAssistant).
func (o *Optimizer) repair(kept []domain.Message) []domain.Message {
	out := make([]domain.Message, 0, len(kept))
	i := 0
	for i < len(kept) {
		switch {
		case kept[i].Role == domain.RoleUser:
			out = append(out, kept[i])
			if i+1 < len(kept) && kept[i+1].Role == domain.RoleAssistant {
				out = append(out, kept[i+1])
				i += 2
			} else {
				i++
			}
		case o.KeepOrphanAssistant:
			out = append(out, kept[i])
			i++
		default:
			i++
		}
	}
	return out
}
