package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vibast-solutions/ms-go-tap-payments/config"
)

var (
	workerMode bool
)

var settleCmd = &cobra.Command{
	Use:   "settle",
	Short: "Settle queued transactions on the ledger",
	Run: func(_ *cobra.Command, _ []string) {
		id := workerID("settle")
		runCommand(
			"settle",
			func(cfg *config.Config) time.Duration { return cfg.Jobs.SettleInterval },
			func(c *container, ctx context.Context) error {
				return c.settlement.RunSettleBatch(ctx, id)
			},
		)
	},
}

var webhooksCmd = &cobra.Command{
	Use:   "webhooks",
	Short: "Run merchant webhook related commands",
}

var webhooksDispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Deliver due merchant webhooks",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand(
			"webhooks_dispatch",
			func(cfg *config.Config) time.Duration { return cfg.Jobs.WebhookDispatchInterval },
			func(c *container, ctx context.Context) error {
				return c.webhooks.RunDispatchWebhooksBatch(ctx)
			},
		)
	},
}

var webhooksEnableCmd = &cobra.Command{
	Use:   "enable <subscription-id>",
	Short: "Re-enable a webhook subscription disabled by its circuit breaker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, cleanup := mustCreateContainer()
		defer cleanup()

		return runJob("webhooks_enable", func() error {
			return enableSubscription(cmd.Context(), c.webhooks, args[0])
		})
	},
}

type subscriptionEnabler interface {
	EnableSubscription(ctx context.Context, id uint64) error
}

func enableSubscription(ctx context.Context, enabler subscriptionEnabler, rawID string) error {
	id, err := strconv.ParseUint(strings.TrimSpace(rawID), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid subscription id %q: %w", rawID, err)
	}
	return enabler.EnableSubscription(ctx, id)
}

var expireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Run expiration-related commands",
}

var expirePendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Cancel pending transactions whose settlement never started",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand(
			"expire_pending",
			func(cfg *config.Config) time.Duration { return cfg.Jobs.ExpirePendingInterval },
			func(c *container, ctx context.Context) error {
				return c.payments.RunExpirePendingBatch(ctx)
			},
		)
	},
}

func init() {
	rootCmd.AddCommand(settleCmd)
	rootCmd.AddCommand(webhooksCmd)
	rootCmd.AddCommand(expireCmd)
	webhooksCmd.AddCommand(webhooksDispatchCmd)
	webhooksCmd.AddCommand(webhooksEnableCmd)
	expireCmd.AddCommand(expirePendingCmd)

	rootCmd.PersistentFlags().BoolVar(&workerMode, "worker", false, "Run continuously using configured interval")
}

func runCommand(
	name string,
	intervalResolver func(cfg *config.Config) time.Duration,
	fn func(c *container, ctx context.Context) error,
) {
	c, cleanup := mustCreateContainer()
	defer cleanup()

	if workerMode {
		runWorker(name, intervalResolver(c.cfg), c, fn)
		return
	}

	ctx := context.Background()
	_ = runJob(name, func() error { return fn(c, ctx) })
}

func runWorker(
	name string,
	interval time.Duration,
	c *container,
	fn func(c *container, ctx context.Context) error,
) {
	if interval <= 0 {
		logrus.WithField("job", name).Fatal("invalid worker interval")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = runJob(name, func() error { return fn(c, ctx) })

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	for {
		select {
		case <-quit:
			logrus.WithField("job", name).Info("Worker shutdown requested")
			return
		case <-ticker.C:
			_ = runJob(name, func() error { return fn(c, ctx) })
		}
	}
}

// runJob logs the outcome of one run and hands the error back for one-shot commands
// that must exit non-zero.
func runJob(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	latency := time.Since(start)
	if err != nil {
		logrus.WithError(err).WithField("job", name).WithField("latency", latency.String()).Error("job_failed")
		return err
	}
	logrus.WithField("job", name).WithField("latency", latency.String()).Info("job_completed")
	return nil
}
