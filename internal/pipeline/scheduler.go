package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const minInterval = time.Minute

// Scheduler runs RunOnce on a fixed interval in-process, for deployments without the job queue.
type Scheduler struct {
	run      func(ctx context.Context) (RunReport, error)
	interval time.Duration
	timeout  time.Duration
	initial  time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
	once     sync.Once
	started  bool
	mu       sync.Mutex
}

// NewScheduler builds a scheduler. Intervals below one minute are raised to one minute and
// each cycle is bounded by timeout.
func NewScheduler(p *Pipeline, interval, timeout time.Duration) *Scheduler {
	if interval < minInterval {
		interval = minInterval
	}
	if timeout <= 0 {
		timeout = interval
	}
	return &Scheduler{
		run:      p.RunOnce,
		interval: interval,
		timeout:  timeout,
		initial:  5 * time.Second,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	go s.loop()
}

// Stop ends the loop and waits for a running cycle to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return
	}
	s.once.Do(func() { close(s.stopCh) })
	<-s.doneCh
}

func (s *Scheduler) loop() {
	initial := time.NewTimer(s.initial)
	ticker := time.NewTicker(s.interval)
	defer func() {
		initial.Stop()
		ticker.Stop()
		close(s.doneCh)
	}()
	for {
		select {
		case <-s.stopCh:
			return
		case <-initial.C:
			s.runOnce()
		case <-ticker.C:
			s.runOnce()
		}
	}
}

func (s *Scheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.run(ctx); err != nil {
		log.Error().Err(err).Msg("scheduled pipeline cycle finished with errors")
	}
}
