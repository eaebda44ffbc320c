package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-invoice/internal/erp"
	jobmetrics "github.com/odyssey-erp/odyssey-invoice/internal/jobs"
)

// DefaultPriceList is assigned to customers when no other list is configured.
const DefaultPriceList = "Standard Selling"

const priceListResetConcurrency = 4

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// PriceListResetJob sets every customer's default price list.
type PriceListResetJob struct {
	Customers erp.Customers
	PriceList string
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewPriceListResetJob wires dependencies for the reset handler.
func NewPriceListResetJob(customers erp.Customers, priceList string, logger *slog.Logger, metrics *jobmetrics.Metrics) *PriceListResetJob {
	return &PriceListResetJob{
		Customers: customers,
		PriceList: priceList,
		Logger:    logger,
		Metrics:   metrics,
	}
}

// PriceListResetResult summarises one run.
type PriceListResetResult struct {
	Updated int
	Failed  int
}

// Handle processes price-list reset tasks.
func (j *PriceListResetJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Customers == nil {
		return errors.New("price list reset: handler not configured")
	}
	var payload PriceListResetPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("price list reset: decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	_, err := j.Run(ctx, payload)
	return err
}

// Run updates all customers. A failure on one customer is logged and does not stop the
// others; the run fails only when customers cannot be listed or none could be updated.
func (j *PriceListResetJob) Run(ctx context.Context, payload PriceListResetPayload) (result PriceListResetResult, resultErr error) {
	tracker := j.metrics().Track(TaskPriceListReset)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	priceList := payload.PriceList
	if priceList == "" {
		priceList = j.PriceList
	}
	if priceList == "" {
		priceList = DefaultPriceList
	}
	logger := j.logger().With(slog.String("price_list", priceList))
	if payload.TriggeredBy != "" {
		logger = logger.With(slog.String("triggered_by", payload.TriggeredBy))
	}

	start := time.Now()
	customers, err := j.Customers.Customers(ctx)
	if err != nil {
		logger.Error("list customers", slog.Any("error", err))
		return result, fmt.Errorf("price list reset: list customers: %w", err)
	}
	if len(customers) == 0 {
		logger.Info("no customers found to update")
		return result, nil
	}

	var updated, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(priceListResetConcurrency)
	for _, customer := range customers {
		g.Go(func() error {
			if err := j.Customers.SetCustomerPriceList(gctx, customer, priceList); err != nil {
				failed.Add(1)
				logger.Error("update default price list", slog.String("customer", customer), slog.Any("error", err))
				return nil
			}
			updated.Add(1)
			logger.Debug("updated default price list", slog.String("customer", customer))
			return nil
		})
	}
	_ = g.Wait()

	result = PriceListResetResult{Updated: int(updated.Load()), Failed: int(failed.Load())}
	j.metrics().AddCustomers(TaskPriceListReset, "updated", result.Updated)
	j.metrics().AddCustomers(TaskPriceListReset, "failed", result.Failed)
	logger.Info("completed price list reset",
		slog.Int("updated", result.Updated),
		slog.Int("failed", result.Failed),
		slog.Duration("duration", time.Since(start)))

	if err := ctx.Err(); err != nil {
		return result, err
	}
	if result.Updated == 0 && result.Failed > 0 {
		return result, fmt.Errorf("price list reset: all %d customers failed", result.Failed)
	}
	return result, nil
}

func (j *PriceListResetJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *PriceListResetJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskPriceListReset))
	}
	return slog.Default().With(slog.String("job", TaskPriceListReset))
}
