package analytics

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/opsboard/opsboard-analytics/internal/alerting"
)

// AlertEvaluator evaluates stored thresholds against a metrics object.
type AlertEvaluator interface {
	Evaluate(ctx context.Context, metrics map[string]any) ([]alerting.Firing, error)
}

// Scheduler periodically refreshes the dashboard metrics and runs alert
// evaluation on the fresh values.
type Scheduler struct {
	svc      *Service
	alerts   AlertEvaluator
	req      Request
	interval time.Duration
	logger   *zap.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewScheduler creates a scheduler that evaluates req every interval.
func NewScheduler(svc *Service, alerts AlertEvaluator, req Request, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		svc:      svc,
		alerts:   alerts,
		req:      req,
		interval: interval,
		logger:   logger.With(zap.String("component", "alert_scheduler")),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins background evaluation. The first run happens immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		go func() {
			defer close(s.doneCh)
			ticker := time.NewTicker(s.interval)
			defer ticker.Stop()

			s.run(ctx)
			for {
				select {
				case <-ticker.C:
					s.run(ctx)
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	})
}

// Stop halts the scheduler and waits for an in-progress run.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	started := true
	s.startOnce.Do(func() { started = false })
	if started {
		<-s.doneCh
	}
}

func (s *Scheduler) run(ctx context.Context) {
	fired, err := s.RunOnce(ctx)
	if err != nil {
		s.logger.Warn("alert evaluation failed", zap.Error(err))
		return
	}
	if len(fired) > 0 {
		s.logger.Info("alert evaluation complete", zap.Int("fired", len(fired)))
	}
}

// RunOnce refreshes metrics and evaluates thresholds. Stale backup metrics
// are not evaluated.
func (s *Scheduler) RunOnce(ctx context.Context) ([]alerting.Firing, error) {
	m, err := s.svc.Refresh(ctx, s.req)
	if err != nil {
		return nil, err
	}
	if m.Stale {
		s.logger.Debug("metrics are stale, skipping alert evaluation")
		return nil, nil
	}
	return s.alerts.Evaluate(ctx, m.Values())
}
