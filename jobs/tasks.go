package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPriceListReset resets every customer's default price list.
	TaskPriceListReset = "customers:price_list_reset"
)

// PriceListResetPayload describes a price-list reset run. An empty PriceList uses the
// job's configured default.
type PriceListResetPayload struct {
	PriceList   string `json:"price_list,omitempty"`
	TriggeredBy string `json:"triggered_by,omitempty"`
}

// NewPriceListResetTask constructs the reset task.
func NewPriceListResetTask(payload PriceListResetPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPriceListReset, data,
		asynq.MaxRetry(3),
		asynq.Timeout(30*time.Minute),
		asynq.Queue(QueueDefault),
	), nil
}
