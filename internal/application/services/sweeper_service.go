package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/peoplecore/backend/internal/domain"
	"github.com/peoplecore/backend/internal/domain/ports"
	"github.com/peoplecore/backend/pkg/constants"
)

// SweeperService finds pending step executions whose approval window has
// elapsed and auto-advances them through the engine. Every advancement goes
// through the same execution-row CAS as manual decisions, so running the
// sweeper on multiple replicas is safe: losers see the step already decided
// and move on.
type SweeperService struct {
	instances ports.InstanceStore
	workflow  *WorkflowService

	interval time.Duration
	schedule cron.Schedule // optional; overrides the fixed interval

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSweeperService creates a sweeper ticking at the given interval. A
// non-empty cron spec (standard 5-field syntax) replaces the fixed interval
// with scheduled sweep windows.
func NewSweeperService(instances ports.InstanceStore, workflow *WorkflowService, interval time.Duration, cronSpec string) (*SweeperService, error) {
	if interval <= 0 {
		interval = time.Duration(constants.SweepIntervalSecondsDefault) * time.Second
	}

	s := &SweeperService{
		instances: instances,
		workflow:  workflow,
		interval:  interval,
		stopCh:    make(chan struct{}),
	}

	if cronSpec != "" {
		schedule, err := cron.ParseStandard(cronSpec)
		if err != nil {
			return nil, fmt.Errorf("invalid sweep schedule %q: %w", cronSpec, err)
		}
		s.schedule = schedule
	}
	return s, nil
}

// Start launches the background sweep loop.
func (s *SweeperService) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		if s.schedule != nil {
			log.Printf("⏰ Timeout sweeper started on cron schedule")
			s.runScheduled()
			return
		}
		log.Printf("⏰ Timeout sweeper started with %v interval", s.interval)
		s.runTicker()
	}()
}

// Stop stops the sweep loop and waits for an in-flight sweep to finish.
func (s *SweeperService) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
	log.Printf("⏰ Timeout sweeper stopped")
}

func (s *SweeperService) runTicker() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweepAndLog()
		}
	}
}

func (s *SweeperService) runScheduled() {
	for {
		next := s.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-s.stopCh:
			timer.Stop()
			return
		case <-timer.C:
			s.sweepAndLog()
		}
	}
}

func (s *SweeperService) sweepAndLog() {
	advanced, err := s.Sweep(context.Background())
	if err != nil {
		log.Printf("⚠️ Sweep failed: %v", err)
		return
	}
	if advanced > 0 {
		log.Printf("⏰ Sweep auto-advanced %d step(s)", advanced)
	}
}

// Sweep runs one pass over due executions and returns how many advanced.
// Per-step failures are logged and skipped so one bad instance cannot block
// the rest of the batch.
func (s *SweeperService) Sweep(ctx context.Context) (int, error) {
	due, err := s.instances.ListDueStepExecutions(ctx, time.Now(), constants.SweepBatchSize)
	if err != nil {
		return 0, err
	}

	advanced := 0
	for _, d := range due {
		err := s.workflow.AutoAdvance(ctx, d)
		switch {
		case err == nil:
			advanced++
		case domain.IsUnresolvedApprover(err):
			// The timed-out step advanced; the next one is stalled waiting
			// for an administrator. Nothing left for the sweeper to do.
			advanced++
			log.Printf("⚠️ Sweep: %v", err)
		case domain.IsStepAlreadyDecided(err) || domain.IsStaleStep(err):
			// A manual decision or another replica got there first.
		default:
			log.Printf("⚠️ Sweep: failed to auto-advance step %d of instance %s: %v",
				d.Execution.StepOrder, d.Instance.ID, err)
		}
	}
	return advanced, nil
}
