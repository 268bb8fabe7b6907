// Package fallback tracks per-anchor failure streaks and picks the next
// usable anchor from a configured priority order. An anchor whose
// consecutive-failure count reaches the caller's threshold is "down" until a
// recorded success clears it.
package fallback

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/corridorpay/anchor-router/store"
	"github.com/corridorpay/anchor-router/types"
)

// defaultStateTTL bounds how long a failure streak survives without new
// recordings. A streak that old says nothing about the anchor anymore.
const defaultStateTTL = time.Hour

// FailureState is the per-anchor record. Absent state means the anchor has
// never failed, or its last failure streak was cleared by a success.
type FailureState struct {
	Failures    int       `json:"failures"`
	LastFailure time.Time `json:"last_failure"`
}

// Down reports whether the streak has crossed threshold. The threshold is
// supplied per call, never stored, so the same history can be reinterpreted
// under a different policy. A non-positive threshold disables the breaker.
func (f FailureState) Down(threshold int) bool {
	return threshold > 0 && f.Failures >= threshold
}

// Selector maintains failure state and scans priority orders. Recording for
// the same anchor is serialized by the backing store; different anchors are
// independent.
type Selector struct {
	store    store.Store[FailureState]
	logger   *logrus.Logger
	now      func() time.Time
	stateTTL time.Duration
}

// Option customizes a Selector.
type Option func(*Selector)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Selector) { s.now = now }
}

// WithStateTTL overrides how long idle failure streaks survive.
func WithStateTTL(ttl time.Duration) Option {
	return func(s *Selector) { s.stateTTL = ttl }
}

// New creates a Selector on top of the given state store.
func New(st store.Store[FailureState], logger *logrus.Logger, opts ...Option) *Selector {
	s := &Selector{store: st, logger: logger, now: time.Now, stateTTL: defaultStateTTL}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecordFailure bumps the anchor's consecutive-failure count and returns the
// new count.
func (s *Selector) RecordFailure(ctx context.Context, anchor string) (int, error) {
	var count int
	err := s.store.Update(ctx, anchor, s.stateTTL, func(f *FailureState) error {
		f.Failures++
		f.LastFailure = s.now()
		count = f.Failures
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.WithFields(logrus.Fields{
		"anchor":   anchor,
		"failures": count,
	}).Debug("Anchor failure recorded")
	return count, nil
}

// RecordSuccess clears the anchor's failure state entirely. One success
// restores availability no matter how long the streak was.
func (s *Selector) RecordSuccess(ctx context.Context, anchor string) error {
	if err := s.store.Delete(ctx, anchor); err != nil {
		return err
	}
	s.logger.WithField("anchor", anchor).Debug("Anchor failure state cleared")
	return nil
}

// Failures returns the anchor's current consecutive-failure count.
func (s *Selector) Failures(ctx context.Context, anchor string) (int, error) {
	f, _, err := s.store.Get(ctx, anchor)
	if err != nil {
		return 0, err
	}
	return f.Failures, nil
}

// IsAvailable reports whether the anchor's streak is below threshold. An
// anchor with no recorded state is available.
func (s *Selector) IsAvailable(ctx context.Context, anchor string, threshold int) (bool, error) {
	f, ok, err := s.store.Get(ctx, anchor)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	return !f.Down(threshold), nil
}

// SelectNext scans ordered for the first available anchor. When after names
// an anchor, the scan starts just past its first occurrence and never
// returns it. Returns a CodeNoCandidate error when every remaining anchor is
// down.
func (s *Selector) SelectNext(ctx context.Context, ordered []string, after string, threshold int) (string, error) {
	start := 0
	if after != "" {
		for i, anchor := range ordered {
			if anchor == after {
				start = i + 1
				break
			}
		}
	}

	for _, anchor := range ordered[start:] {
		if anchor == after {
			continue
		}
		available, err := s.IsAvailable(ctx, anchor, threshold)
		if err != nil {
			return "", err
		}
		if available {
			return anchor, nil
		}
		s.logger.WithField("anchor", anchor).Debug("Skipping anchor marked down")
	}

	return "", types.E(types.CodeNoCandidate, "no anchor in the priority order is available")
}
