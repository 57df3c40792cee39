package agent

import "github.com/quailyquaily/turnstile/guard"

// WithGuard attaches the policy guard: it decides which actions need
// approval, evaluates them before execution, and owns the approval
// records interruptions are raised against.
func WithGuard(g *guard.Guard) Option {
	return func(e *Engine) {
		e.guard = g
	}
}
