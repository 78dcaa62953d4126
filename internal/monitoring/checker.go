package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/harborview/clinical-copilot/internal/config"
)

// Checker evaluates run health on a fixed interval and delivers any alerts.
// It runs inside the serve command for as long as the server is up.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
	log       *zap.Logger
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		log:       zap.L().With(zap.String("component", "monitoring.checker")),
	}
}

// Run blocks until ctx is cancelled. The first check fires immediately so a
// stuck commit left over from a crash is flagged on restart, not one interval
// later.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	c.log.Info("run-health checker started",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
	)

	c.CheckOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.log.Info("run-health checker stopped")
			return
		case <-ticker.C:
			c.CheckOnce(ctx)
		}
	}
}

// CheckOnce collects a snapshot, evaluates it and delivers alerts.
func (c *Checker) CheckOnce(ctx context.Context) {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		c.log.Error("run-health collection failed", zap.Error(err))
		return
	}

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		c.log.Debug("run health nominal",
			zap.Int("runs_total", snap.RunsTotal),
			zap.Float64("fail_rate", snap.FailRate),
		)
		return
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	c.log.Info("run-health alerts evaluated",
		zap.Int("triggered", len(alerts)),
		zap.Int("delivered", sent),
	)
}
