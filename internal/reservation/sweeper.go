package reservation

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// AbandonedOrderExpirer cancels unpaid orders past their deadline.  The
// order manager implements it; the sweeper calls it after each hold sweep.
type AbandonedOrderExpirer interface {
	ExpireAbandoned(ctx context.Context) (int, error)
}

// SweeperStats is a snapshot of the sweeper's counters.
type SweeperStats struct {
	Running        bool      `json:"running"`
	Passes         int64     `json:"passes"`
	SeatsReleased  int64     `json:"seats_released"`
	OrdersExpired  int64     `json:"orders_expired"`
	LastPass       time.Time `json:"last_pass"`
	LastPassErrors int       `json:"last_pass_errors"`
}

// Sweeper runs Engine.Sweep on a fixed interval, independently of any
// order's lifecycle.  It is the only thing that reclaims seats from
// customers who leave checkout without releasing.
type Sweeper struct {
	engine   *Engine
	orders   AbandonedOrderExpirer
	interval time.Duration
	log      *zap.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	stats   SweeperStats
}

// NewSweeper returns a stopped sweeper.  orders may be nil.
func NewSweeper(engine *Engine, orders AbandonedOrderExpirer, interval time.Duration, log *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = 45 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{engine: engine, orders: orders, interval: interval, log: log.Named("sweeper")}
}

// Start launches the sweep loop.  It runs one pass immediately.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("sweeper already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.wg.Add(1)
	go s.loop(ctx, s.stopCh)
	s.log.Info("sweeper started", zap.Duration("interval", s.interval))
	return nil
}

// Stop ends the loop and waits for an in-flight pass to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()
	s.wg.Wait()
	s.log.Info("sweeper stopped")
}

// Stats returns a copy of the counters.
func (s *Sweeper) Stats() SweeperStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Running = s.running
	return st
}

// RunOnce performs a single pass synchronously.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepResult, int) {
	res, err := s.engine.Sweep(ctx)
	errs := res.Failed
	if err != nil {
		errs++
		s.log.Error("hold sweep failed", zap.Error(err))
	}
	expired := 0
	if s.orders != nil {
		n, err := s.orders.ExpireAbandoned(ctx)
		if err != nil {
			errs++
			s.log.Error("order expiry failed", zap.Error(err))
		}
		expired = n
	}

	s.mu.Lock()
	s.stats.Passes++
	s.stats.SeatsReleased += int64(res.Released)
	s.stats.OrdersExpired += int64(expired)
	s.stats.LastPass = time.Now()
	s.stats.LastPassErrors = errs
	s.mu.Unlock()
	return res, expired
}

func (s *Sweeper) loop(ctx context.Context, stop <-chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}
