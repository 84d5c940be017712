package services

import (
	"log"
	"sync"
	"time"

	"github.com/addonhub/backend/internal/database"
	"github.com/addonhub/backend/internal/licensing"
	"github.com/addonhub/backend/internal/models"
)

// ExpirySweepService periodically persists the expired status of licenses
// whose expires_at has passed. Reads already derive the effective status
// lazily; the sweep keeps the stored column from drifting forever.
type ExpirySweepService struct {
	machine  *licensing.StateMachine
	interval time.Duration
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewExpirySweepService creates an expiry sweep running at the given interval
func NewExpirySweepService(machine *licensing.StateMachine, interval time.Duration) *ExpirySweepService {
	return &ExpirySweepService{
		machine:  machine,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start begins the background sweep
func (s *ExpirySweepService) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log.Printf("ExpirySweepService started, checking every %v", s.interval)

		// Run immediately on start
		s.sweep()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.sweep()
			case <-s.stopChan:
				log.Println("ExpirySweepService stopped")
				return
			}
		}
	}()
}

// Stop halts the background sweep
func (s *ExpirySweepService) Stop() {
	close(s.stopChan)
	s.wg.Wait()
}

func (s *ExpirySweepService) sweep() {
	// Capture which keys are about to flip so their cache entries drop
	var keys []string
	database.DB.Model(&models.License{}).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ?", models.LicenseStatusActive, time.Now()).
		Pluck("key", &keys)

	count, err := s.machine.MarkExpired()
	if err != nil {
		log.Printf("ExpirySweepService: sweep failed: %v", err)
		return
	}
	if count > 0 {
		for _, key := range keys {
			database.InvalidateLicenseCache(key)
		}
		log.Printf("ExpirySweepService: marked %d license(s) expired", count)
	}
}
