// Command escalation-expirer is a scheduled Lambda that closes escalation
// offers nobody accepted within ESCALATION_OFFER_TTL.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/loicricci/albee-poc-sub001/cmd/mainconfig"
	"github.com/loicricci/albee-poc-sub001/internal/app/bootstrap"
	"github.com/loicricci/albee-poc-sub001/pkg/logging"
)

type expirer interface {
	Expire(ctx context.Context, olderThan time.Duration) (int, error)
}

type handler struct {
	escalations expirer
	ttl         time.Duration
	logger      *logging.Logger
}

type result struct {
	Expired int `json:"expired"`
}

func (h *handler) handle(ctx context.Context, evt events.CloudWatchEvent) (result, error) {
	n, err := h.escalations.Expire(ctx, h.ttl)
	if err != nil {
		h.logger.Error("escalation expiry failed", "event_id", evt.ID, "error", err)
		return result{}, fmt.Errorf("expire offers: %w", err)
	}
	h.logger.Info("escalation expiry run", "event_id", evt.ID, "expired", n, "ttl", h.ttl.String())
	return result{Expired: n}, nil
}

func main() {
	cfg, err := mainconfig.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel)

	ctx := context.Background()
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	pool, err := bootstrap.BuildPostgresPool(ctx, cfg, logger)
	if err != nil || pool == nil {
		logger.Error("postgres is required for escalation expiry", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	svc, err := bootstrap.BuildServices(ctx, cfg, bootstrap.Infra{
		Pool:     pool,
		Redis:    bootstrap.BuildRedisClient(ctx, cfg, logger, false),
		AWS:      awsCfg,
		Registry: prometheus.NewRegistry(),
	}, logger)
	if err != nil {
		logger.Error("failed to build services", "error", err)
		os.Exit(1)
	}

	h := &handler{escalations: svc.Escalations, ttl: cfg.EscalationOfferTTL, logger: logger}
	lambda.Start(h.handle)
}
