/*
scheduler.go - Automated reconciliation scheduler

PURPOSE:
  Periodically checks for (property, period) pairs that have extracted
  line items but no completed reconciliation session and runs one.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Detects periods with line items and no completed session
  - Concurrency guard in the orchestrator makes a colliding manual run
    a no-op rather than a double run

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewScheduler(store, orchestrator)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunSession endpoint (manual runs)
  - session/orchestrator.go: Session execution
*/
package api

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/warp/recon-engine/engine"
	"github.com/warp/recon-engine/session"
	"github.com/warp/recon-engine/store/sqlite"
)

// Scheduler runs reconciliation sessions for unreconciled periods.
type Scheduler struct {
	Store         *sqlite.Store
	Orchestrator  *session.Orchestrator
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewScheduler creates a new scheduler.
func NewScheduler(store *sqlite.Store, orch *session.Orchestrator) *Scheduler {
	return &Scheduler{
		Store:         store,
		Orchestrator:  orch,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.wg.Add(1)

	go s.run()

	log.Printf("[Scheduler] Started with check interval: %v", s.CheckInterval)
}

// Stop stops the scheduler.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		log.Println("[Scheduler] Stopped")
	}
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.checkAndProcess()

	for {
		select {
		case <-s.ticker.C:
			s.checkAndProcess()
		case <-s.stop:
			return
		}
	}
}

func (s *Scheduler) checkAndProcess() {
	ctx := context.Background()

	pairs, err := s.Store.ListUnreconciledPeriods(ctx)
	if err != nil {
		log.Printf("[Scheduler] Error listing unreconciled periods: %v", err)
		return
	}
	if len(pairs) == 0 {
		return
	}

	log.Printf("[Scheduler] Found %d unreconciled periods", len(pairs))

	processed := 0
	skipped := 0
	for _, pair := range pairs {
		property := engine.PropertyID(pair[0])
		period := engine.PeriodID(pair[1])

		sess, err := s.Orchestrator.Run(ctx, property, period, session.DefaultOptions())
		if err != nil {
			if errors.Is(err, engine.ErrSessionInProgress) {
				skipped++
				continue
			}
			log.Printf("[Scheduler] Error running session for %s/%s: %v", property, period, err)
			continue
		}

		processed++
		if sess.Summary != nil {
			log.Printf("[Scheduler] Processed %s/%s: %d passed, %d warned, %d failed, %d skipped",
				property, period, sess.Summary.Passed, sess.Summary.Warned,
				sess.Summary.Failed, sess.Summary.Skipped)
		}
	}

	if processed > 0 || skipped > 0 {
		log.Printf("[Scheduler] Completed: %d processed, %d skipped (already running)", processed, skipped)
	}
}

// RunNow triggers an immediate check (for testing/admin).
func (s *Scheduler) RunNow() {
	s.checkAndProcess()
}
