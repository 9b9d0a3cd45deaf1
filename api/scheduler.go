/*
scheduler.go - Automated payment reminder scheduler

PURPOSE:
  Periodically runs the reminder sweep so buyers hear about installments
  falling due in 1, 7 or 30 days.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Sweeps at most once per calendar day: the sweep itself is stateless,
    so a second run on the same day would send every reminder twice
  - RunNow forces a sweep regardless of the last run

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewReminderScheduler(svc)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunReminders endpoint (manual sweep)
  - offer/reminder.go: ReminderSelector
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/offer-engine/offer"
)

// ReminderScheduler handles the daily reminder sweep.
type ReminderScheduler struct {
	Service       *offer.Service
	CheckInterval time.Duration
	Enabled       bool

	lastSwept offer.Date
	lastCheck time.Time

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
	runMu  sync.Mutex
}

// NewReminderScheduler creates a new scheduler.
func NewReminderScheduler(svc *offer.Service) *ReminderScheduler {
	return &ReminderScheduler{
		Service:       svc,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
	}
}

// Start begins the scheduler.
func (rs *ReminderScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.stop = make(chan bool)
	rs.wg.Add(1)

	go rs.run(rs.ticker, rs.stop)

	log.Printf("[Scheduler] Started with check interval: %v", rs.CheckInterval)
}

// Stop stops the scheduler.
func (rs *ReminderScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.ticker = nil
		log.Println("[Scheduler] Stopped")
	}
}

func (rs *ReminderScheduler) run(ticker *time.Ticker, stop <-chan bool) {
	defer rs.wg.Done()

	// Run immediately on start
	rs.checkAndProcess(false)

	for {
		select {
		case <-ticker.C:
			rs.checkAndProcess(false)
		case <-stop:
			return
		}
	}
}

// checkAndProcess sweeps unless today was already swept. It returns the
// number of reminders sent, or -1 when the sweep was skipped.
func (rs *ReminderScheduler) checkAndProcess(force bool) int {
	rs.runMu.Lock()
	defer rs.runMu.Unlock()

	rs.lastCheck = time.Now()
	now := rs.Service.Clock().UTC()
	today := offer.DateOf(now)
	if !force && rs.lastSwept.Equal(today) {
		return -1
	}

	reminders, err := rs.Service.RunReminderSweep(context.Background(), now)
	if err != nil {
		log.Printf("[Scheduler] Reminder sweep failed: %v", err)
		return 0
	}
	rs.lastSwept = today

	log.Printf("[Scheduler] Reminder sweep for %s: %d sent", today, len(reminders))
	return len(reminders)
}

// RunNow triggers an immediate sweep (for testing/admin).
func (rs *ReminderScheduler) RunNow() int {
	return rs.checkAndProcess(true)
}

// LastSwept returns the last calendar day a sweep completed, zero if none.
func (rs *ReminderScheduler) LastSwept() offer.Date {
	rs.runMu.Lock()
	defer rs.runMu.Unlock()
	return rs.lastSwept
}

// GetNextRunTime returns when the next scheduled check will occur, or the
// zero time when the scheduler isn't running.
func (rs *ReminderScheduler) GetNextRunTime() time.Time {
	rs.mu.Lock()
	running := rs.ticker != nil
	rs.mu.Unlock()
	if !running {
		return time.Time{}
	}

	rs.runMu.Lock()
	defer rs.runMu.Unlock()
	if rs.lastCheck.IsZero() {
		return time.Now().Add(rs.CheckInterval)
	}
	return rs.lastCheck.Add(rs.CheckInterval)
}
