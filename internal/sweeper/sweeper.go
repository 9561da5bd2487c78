package sweeper

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"notifyhub/internal/registry"
)

var (
	ErrSweeperAlreadyRunning = errors.New("sweeper is already running")
	ErrSweeperNotRunning     = errors.New("sweeper is not running")
)

// Sweeper is a cancellable repeating task that evicts idle sessions and
// closes their transports
// ARCHITECTURAL DISCOVERY: Owned and started by the composition root rather
// than self-starting on import, so tests construct and trigger it directly
type Sweeper struct {
	registry *registry.Registry
	interval time.Duration // how often to sweep (order of minutes)
	maxIdle  time.Duration // idle threshold (order of tens of minutes)

	mu       sync.Mutex
	running  bool
	shutdown chan struct{}
}

// NewSweeper creates a sweeper over the given registry
func NewSweeper(reg *registry.Registry, interval, maxIdle time.Duration) *Sweeper {
	return &Sweeper{
		registry: reg,
		interval: interval,
		maxIdle:  maxIdle,
	}
}

// Start begins periodic sweeping. A stopped sweeper can be started again.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrSweeperAlreadyRunning
	}
	s.running = true
	// Stop closes the previous channel; each run gets a fresh one
	s.shutdown = make(chan struct{})
	shutdown := s.shutdown
	s.mu.Unlock()

	log.Printf("Starting cleanup sweeper: interval=%s maxIdle=%s", s.interval, s.maxIdle)

	go s.run(ctx, shutdown)
	return nil
}

// Stop halts periodic sweeping
func (s *Sweeper) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return ErrSweeperNotRunning
	}
	s.running = false
	close(s.shutdown)
	return nil
}

func (s *Sweeper) run(ctx context.Context, shutdown <-chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-shutdown:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Sweep evicts every session idle beyond the threshold and explicitly closes
// its transport handle, so no connection is ever abandoned with its socket
// still open. Returns the number evicted. Safe to race with explicit closes:
// registry removal is idempotent and the later operation is a no-op.
func (s *Sweeper) Sweep() int {
	evicted := s.registry.EvictOlderThan(s.maxIdle)

	for _, session := range evicted {
		if err := session.Conn.Close(); err != nil {
			log.Printf("Failed to close evicted session %s: %v", session.ID, err)
		}
	}

	if len(evicted) > 0 {
		log.Printf("Evicted %d idle sessions", len(evicted))
	}
	return len(evicted)
}
