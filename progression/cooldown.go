package progression

import (
	"time"

	"github.com/purushoth411/postmanback/domain"
)

const (
	// DefaultCooldownThreshold is the ledger size above which closes are throttled.
	DefaultCooldownThreshold = 10
	// DefaultCooldownWindow is the minimum gap between throttled closes.
	DefaultCooldownWindow = 5 * time.Minute
)

// Policy holds the process-wide cooldown limits.
type Policy struct {
	Threshold int
	Window    time.Duration
}

func DefaultPolicy() Policy {
	return Policy{Threshold: DefaultCooldownThreshold, Window: DefaultCooldownWindow}
}

// Check returns a *domain.CooldownError when a close at now is too soon
// after the task's previous completion.
func (p Policy) Check(t *domain.Task, now time.Time) error {
	if t.LastCompletionAt == nil || len(t.Ledger) <= p.Threshold {
		return nil
	}
	next := t.LastCompletionAt.Add(p.Window)
	if !now.Before(next) {
		return nil
	}
	return &domain.CooldownError{Remaining: next.Sub(now)}
}
