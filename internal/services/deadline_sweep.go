package services

import (
	"log"
	"sync"
	"time"

	"github.com/addonhub/backend/internal/orders"
)

// PaymentDeadlineService cancels unpaid orders whose payment deadline has
// passed. The deadline is a soft timeout; nothing in-flight is interrupted.
type PaymentDeadlineService struct {
	pipeline *orders.Pipeline
	interval time.Duration
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewPaymentDeadlineService creates a deadline sweep running at the given interval
func NewPaymentDeadlineService(pipeline *orders.Pipeline, interval time.Duration) *PaymentDeadlineService {
	return &PaymentDeadlineService{
		pipeline: pipeline,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start begins the background sweep
func (s *PaymentDeadlineService) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log.Printf("PaymentDeadlineService started, checking every %v", s.interval)

		s.sweep()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.sweep()
			case <-s.stopChan:
				log.Println("PaymentDeadlineService stopped")
				return
			}
		}
	}()
}

// Stop halts the background sweep
func (s *PaymentDeadlineService) Stop() {
	close(s.stopChan)
	s.wg.Wait()
}

func (s *PaymentDeadlineService) sweep() {
	if _, err := s.pipeline.CancelOverdue(); err != nil {
		log.Printf("PaymentDeadlineService: sweep failed: %v", err)
	}
}
