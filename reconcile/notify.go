package reconcile

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ArielCalisaya/HideThis/rule"
)

// Notifier receives counts-changed events for the UI to refresh badges.
// The engine emits; it never waits on a sink's answer.
type Notifier interface {
	CountsChanged(ctx context.Context, origin string, counts rule.Counts) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, origin string, counts rule.Counts) error

// CountsChanged implements Notifier.
func (f NotifierFunc) CountsChanged(ctx context.Context, origin string, counts rule.Counts) error {
	return f(ctx, origin, counts)
}

// NotifierSet fans an event out to all registered sinks. One sink erroring
// does not block the others; errors are logged and dropped.
type NotifierSet struct {
	mu     sync.Mutex
	sinks  []Notifier
	logger *slog.Logger
}

// Add registers a sink.
func (s *NotifierSet) Add(n Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = append(s.sinks, n)
}

// CountsChanged delivers to every sink.
func (s *NotifierSet) CountsChanged(ctx context.Context, origin string, counts rule.Counts) {
	s.mu.Lock()
	sinks := make([]Notifier, len(s.sinks))
	copy(sinks, s.sinks)
	s.mu.Unlock()

	for _, n := range sinks {
		if err := n.CountsChanged(ctx, origin, counts); err != nil {
			s.logger.Warn("reconcile: notifier failed", "error", err)
		}
	}
}
