package pipeline

import (
	"context"
	"errors"
	"os"
	"time"

	"promo-bot/delivery"
	"promo-bot/lock"
	"promo-bot/utils"
)

// Cycle prepares the day's batch once (collect then render), then delivers
// a few units every interval until ctx is cancelled.
type Cycle struct {
	p        *Pipeline
	interval time.Duration
	batch    int
	logger   *utils.Logger
}

// NewCycle creates a Cycle delivering batch units every interval
func NewCycle(p *Pipeline, interval time.Duration, batch int, logger *utils.Logger) *Cycle {
	return &Cycle{p: p, interval: interval, batch: batch, logger: logger.With("cycle")}
}

// Run blocks until ctx is cancelled or the target conversation cannot be found
func (c *Cycle) Run(ctx context.Context) error {
	if err := c.prepare(ctx); err != nil {
		return err
	}

	c.logger.Info("Entering continuous delivery: %d unit(s) every %v", c.batch, c.interval)
	for {
		report, err := c.p.Deliver(ctx, c.batch)
		switch {
		case err == nil:
			c.logger.Info("Delivered %d, rejected %d (%s)", report.Confirmed, report.Rejected, report.StoppedBy)
		case errors.Is(err, lock.ErrLocked), errors.Is(err, ErrBusy):
			c.logger.Warn("Delivery skipped: %v", err)
		case errors.Is(err, delivery.ErrConversationNotFound):
			return err
		case ctx.Err() != nil:
			return nil
		default:
			c.logger.Error("Delivery failed: %v", err)
		}

		c.logger.Info("Next delivery in %v", c.interval)
		if err := utils.Sleep(ctx, c.interval); err != nil {
			c.logger.Info("Cycle stopped")
			return nil
		}
	}
}

// prepare runs collect and render unless today's flag exists
func (c *Cycle) prepare(ctx context.Context) error {
	flag := c.p.flagPath(c.p.now())
	if _, err := os.Stat(flag); err == nil {
		c.logger.Info("Today's batch already prepared (%s)", flag)
		return nil
	}

	c.logger.Info("Preparing today's batch")
	collect, err := c.p.Collect(ctx, 0, 0)
	if err != nil {
		return err
	}
	c.logger.Info("Collected %d new offers", collect.Inserted)

	rendered, err := c.p.Render(ctx, RenderRequest{})
	if err != nil {
		return err
	}
	c.logger.Info("Rendered %d units", rendered.Succeeded)

	if err := os.MkdirAll(c.p.cfg.DataDir, 0755); err != nil {
		return err
	}
	return os.WriteFile(flag, []byte("ok"), 0644)
}
