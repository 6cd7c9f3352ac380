// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package instability simulates an unreliable network in front of the trace
// service.
//
// A Simulator adds a random delay to every call and fails a configurable
// fraction of them with ErrHiccup. Clients of the demo service use it to
// exercise their retry and error paths. Settings can be replaced at runtime
// (for example on config reload) without restarting the service.
//
// # Thread Safety
//
// All types in this package are safe for concurrent use.
package instability

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"
)

// ErrHiccup is the simulated transport failure.
var ErrHiccup = errors.New("Temporary backend hiccup. Please retry.") //nolint:staticcheck // user-facing text

// Settings controls the simulated delay and failure rate.
type Settings struct {
	// Enabled turns the simulation on. A disabled simulator never sleeps or fails.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// MinDelay and MaxDelay bound the uniform delay, [MinDelay, MaxDelay).
	MinDelay time.Duration `yaml:"min_delay" json:"min_delay"`
	MaxDelay time.Duration `yaml:"max_delay" json:"max_delay"`

	// FailureRate is the independent probability (0.0 to 1.0) that a call fails.
	FailureRate float64 `yaml:"failure_rate" json:"failure_rate"`
}

// DefaultSettings returns the demo defaults: 200-900ms delay, 2% failures.
func DefaultSettings() Settings {
	return Settings{
		Enabled:     true,
		MinDelay:    200 * time.Millisecond,
		MaxDelay:    900 * time.Millisecond,
		FailureRate: 0.02,
	}
}

// Validate checks that the settings are usable.
func (s Settings) Validate() error {
	if s.MinDelay < 0 || s.MaxDelay < 0 {
		return fmt.Errorf("delays must be non-negative (min=%s max=%s)", s.MinDelay, s.MaxDelay)
	}
	if s.MaxDelay < s.MinDelay {
		return fmt.Errorf("max delay %s is below min delay %s", s.MaxDelay, s.MinDelay)
	}
	if s.FailureRate < 0 || s.FailureRate > 1 {
		return fmt.Errorf("failure rate %v must be between 0 and 1", s.FailureRate)
	}
	return nil
}

// Simulator injects delay and failures according to its current Settings.
//
// Description:
//
//	Each Disrupt call samples its delay and its failure independently.
//	The random source is guarded by a mutex; settings are swapped atomically.
//
// Thread Safety: Safe for concurrent use.
type Simulator struct {
	settings atomic.Pointer[Settings]

	mu  sync.Mutex
	rng *rand.Rand

	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithSeed makes the random sequence reproducible.
func WithSeed(seed uint64) Option {
	return func(s *Simulator) {
		s.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// New creates a simulator. Invalid settings are rejected.
//
// Inputs:
//   - settings: Initial settings.
//   - opts: Optional seed.
//
// Outputs:
//   - *Simulator: The simulator. Never nil on success.
//   - error: Non-nil if settings fail Validate.
func New(settings Settings, opts ...Option) (*Simulator, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	now := uint64(time.Now().UnixNano())
	s := &Simulator{
		rng:   rand.New(rand.NewPCG(now, now>>1)),
		sleep: sleepCtx,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.settings.Store(&settings)
	return s, nil
}

// Disabled returns a simulator that never delays or fails.
func Disabled() *Simulator {
	s, _ := New(Settings{})
	return s
}

// Settings returns the current settings.
func (s *Simulator) Settings() Settings {
	return *s.settings.Load()
}

// Update replaces the settings. Calls already sleeping keep their old delay.
func (s *Simulator) Update(settings Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	s.settings.Store(&settings)
	return nil
}

// Disrupt applies one simulated network round trip.
//
// Description:
//
//	Sleeps for a random delay, then fails with ErrHiccup at the configured
//	rate. Returns the context error if ctx ends during the delay.
//
// Inputs:
//   - ctx: Cancels the delay.
//
// Outputs:
//   - error: nil, ErrHiccup, or ctx.Err().
func (s *Simulator) Disrupt(ctx context.Context) error {
	cur := s.settings.Load()
	if !cur.Enabled {
		return nil
	}

	delay, fail := s.sample(*cur)
	if delay > 0 {
		if err := s.sleep(ctx, delay); err != nil {
			return err
		}
	}
	if fail {
		return ErrHiccup
	}
	return nil
}

func (s *Simulator) sample(cur Settings) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delay := cur.MinDelay
	if span := cur.MaxDelay - cur.MinDelay; span > 0 {
		delay += time.Duration(s.rng.Int64N(int64(span)))
	}
	return delay, s.rng.Float64() < cur.FailureRate
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
