// Package scheduler drives periodic sync rounds.
//
// The engine itself never retries; this package is the caller policy layered
// on top: run a round on a timer while online, skip attempts while offline,
// let the next tick pick up whatever the last round left pending.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/kaiwenho/healthsync/internal/logging"
	syncpkg "github.com/kaiwenho/healthsync/internal/sync"
)

// Syncer is the engine surface the scheduler drives.
type Syncer interface {
	Sync(ctx context.Context) (*syncpkg.Result, error)
}

// Config holds scheduler configuration.
type Config struct {
	Interval     time.Duration // time between sync attempts (default: 15 minutes)
	RoundTimeout time.Duration // ceiling for one round (default: 5 minutes)
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		Interval:     15 * time.Minute,
		RoundTimeout: 5 * time.Minute,
	}
}

// Scheduler runs sync rounds in the background.
type Scheduler struct {
	engine       Syncer
	interval     time.Duration
	roundTimeout time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup

	mu           sync.RWMutex
	isRunning    bool
	isOnline     bool
	lastAttempt  time.Time
	lastSyncTime time.Time
}

// New creates a Scheduler.
func New(engine Syncer, config *Config) *Scheduler {
	if config == nil {
		config = DefaultConfig()
	}
	return &Scheduler{
		engine:       engine,
		interval:     config.Interval,
		roundTimeout: config.RoundTimeout,
		stopCh:       make(chan struct{}),
		isOnline:     true,
	}
}

// Start begins the background loop. Calling Start on a running scheduler is
// a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx)

	logging.Info("Sync scheduler started", map[string]interface{}{
		"interval": s.interval.String(),
	})
}

// Stop shuts the loop down and waits for an in-flight round to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	logging.Info("Sync scheduler stopped")
}

// SetOnline flips the online flag. While offline no rounds are attempted;
// pending changes simply accumulate in the ledger.
func (s *Scheduler) SetOnline(online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isOnline != online {
		logging.Info("Online status changed", map[string]interface{}{
			"is_online": online,
		})
	}
	s.isOnline = online
}

// IsOnline reports the current online flag.
func (s *Scheduler) IsOnline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isOnline
}

// LastSyncTime returns when the scheduler last completed a successful round,
// zero if none has completed yet.
func (s *Scheduler) LastSyncTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSyncTime
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

// runOnce attempts a single round. Failures are logged and deferred to the
// next tick; the engine reports overlap itself.
func (s *Scheduler) runOnce(ctx context.Context) {
	if !s.IsOnline() {
		logging.Debug("Skipping sync attempt while offline")
		return
	}

	s.mu.Lock()
	s.lastAttempt = time.Now()
	s.mu.Unlock()

	roundCtx, cancel := context.WithTimeout(ctx, s.roundTimeout)
	defer cancel()

	result, err := s.engine.Sync(roundCtx)
	if err != nil {
		logging.Error("Scheduled sync round failed", err)
		return
	}

	s.mu.Lock()
	s.lastSyncTime = time.Now()
	s.mu.Unlock()

	logging.Info("Scheduled sync round completed", map[string]interface{}{
		"pushed":    result.Pushed.Total(),
		"conflicts": result.Conflicts,
		"resolved":  result.Resolved,
		"duration":  result.Duration.String(),
	})
}
