package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/diligence-cli/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// Checker polls the collector on an interval and notifies the webhook when
// an alert condition starts. A condition that stays breached across checks
// is reported once; it is reported again only after it clears.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig

	mu     sync.Mutex
	firing map[AlertType]time.Time
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		firing:    make(map[AlertType]time.Time),
	}
}

// Run checks once immediately, then on every interval until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultCheckInterval
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("monitoring: checker started",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
		zap.Int("stuck_job_mins", c.cfg.StuckJobMins),
	)

	if ctx.Err() == nil {
		c.Check(ctx)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("monitoring: checker stopped")
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}

// Check collects metrics and evaluates thresholds. Alerts whose condition
// was not already firing are delivered and returned.
func (c *Checker) Check(ctx context.Context) []Alert {
	log := zap.L().With(zap.String("component", "monitoring.checker"))

	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		log.Error("monitoring: collect metrics", zap.Error(err))
		return nil
	}

	fresh := c.transition(c.alerter.Evaluate(snap), snap.CollectedAt, log)
	if len(fresh) == 0 {
		log.Debug("monitoring: no new alerts",
			zap.Int("jobs_total", snap.JobsTotal),
			zap.Int("jobs_active", snap.JobsActive),
			zap.Float64("fallback_rate", snap.FallbackRate),
		)
		return nil
	}

	sent := c.alerter.SendAlerts(ctx, fresh)
	log.Info("monitoring: alerts delivered",
		zap.Int("alerts_new", len(fresh)),
		zap.Int("alerts_sent", sent),
	)
	return fresh
}

// transition updates the firing set and returns alerts that just started.
func (c *Checker) transition(alerts []Alert, at time.Time, log *zap.Logger) []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[AlertType]bool, len(alerts))
	var fresh []Alert
	for _, a := range alerts {
		seen[a.Type] = true
		if _, ok := c.firing[a.Type]; ok {
			continue
		}
		c.firing[a.Type] = at
		fresh = append(fresh, a)
	}

	for typ, since := range c.firing {
		if seen[typ] {
			continue
		}
		delete(c.firing, typ)
		log.Info("monitoring: alert resolved",
			zap.String("type", string(typ)),
			zap.Duration("fired_for", at.Sub(since)),
		)
	}
	return fresh
}
