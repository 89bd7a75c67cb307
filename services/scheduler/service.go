package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"watchtally/config"
	syncsvc "watchtally/services/sync"
)

// Service runs the periodic full sync. The interval comes from settings;
// an interval of zero hours disables scheduling entirely, leaving only the
// manual trigger.
type Service struct {
	syncService *syncsvc.Service
	interval    time.Duration

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	lastMu  sync.Mutex
	lastRun time.Time
}

func NewService(syncService *syncsvc.Service, cfg config.SyncSettings) *Service {
	return &Service{
		syncService: syncService,
		interval:    time.Duration(cfg.IntervalHours) * time.Hour,
	}
}

// Start begins the scheduler background loop.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if s.interval <= 0 {
		log.Println("[scheduler] periodic sync disabled")
		return nil
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	s.wg.Add(1)
	go s.loop()

	log.Printf("[scheduler] started, syncing every %s", s.interval)
	return nil
}

// Stop gracefully stops the scheduler, waiting for an in-flight sync up to
// the deadline of the supplied context.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("[scheduler] stopped gracefully")
	case <-ctx.Done():
		log.Println("[scheduler] stopped (timeout)")
	}

	s.running = false
	return nil
}

// LastRun reports when the scheduler last completed a sync.
func (s *Service) LastRun() time.Time {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	return s.lastRun
}

func (s *Service) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// First sync happens at startup, not one interval later.
	s.runOnce()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.runOnce()
		}
	}
}

func (s *Service) runOnce() {
	summary, err := s.syncService.RunFull(s.ctx)
	if err != nil {
		if errors.Is(err, syncsvc.ErrSyncInProgress) {
			log.Println("[scheduler] skipping scheduled sync, a run is already active")
			return
		}
		log.Printf("[scheduler] scheduled sync failed: %v", err)
		return
	}

	s.lastMu.Lock()
	s.lastRun = summary.FinishedAt
	s.lastMu.Unlock()
}
