// Package tasks defines the queue task types shared by the API (producer)
// and the worker (consumer).
package tasks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
	"github.com/smallbiznis/einvois/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	TypeOCRProcess        = "ocr:process"
	TypeBulkImportProcess = "bulkimport:process"
)

// OCRProcessPayload keys one extraction run. The pair is unique per upload,
// which is what serializes state transitions per invoice.
type OCRProcessPayload struct {
	OcrDocumentID string `json:"ocr_document_id"`
	InvoiceID     string `json:"invoice_id"`
}

type BulkImportProcessPayload struct {
	BulkImportID string `json:"bulk_import_id"`
}

// Enqueuer hands tasks to the durable queue.
type Enqueuer interface {
	EnqueueOCRProcess(ctx context.Context, payload OCRProcessPayload) error
	EnqueueBulkImportProcess(ctx context.Context, payload BulkImportProcessPayload) error
}

var Module = fx.Module("pipeline.tasks",
	fx.Provide(NewRedisOpt),
	fx.Provide(NewClient),
	fx.Provide(NewEnqueuer),
)

func NewRedisOpt(cfg config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
}

func NewClient(lc fx.Lifecycle, opt asynq.RedisClientOpt) *asynq.Client {
	client := asynq.NewClient(opt)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			_ = ctx
			return client.Close()
		},
	})
	return client
}

type asynqEnqueuer struct {
	client *asynq.Client
	log    *zap.Logger
}

func NewEnqueuer(client *asynq.Client, log *zap.Logger) Enqueuer {
	return &asynqEnqueuer{client: client, log: log.Named("pipeline.enqueue")}
}

func (e *asynqEnqueuer) EnqueueOCRProcess(ctx context.Context, payload OCRProcessPayload) error {
	return e.enqueue(ctx, TypeOCRProcess, payload,
		asynq.MaxRetry(3),
		asynq.Timeout(5*time.Minute),
	)
}

func (e *asynqEnqueuer) EnqueueBulkImportProcess(ctx context.Context, payload BulkImportProcessPayload) error {
	return e.enqueue(ctx, TypeBulkImportProcess, payload,
		asynq.MaxRetry(2),
		asynq.Timeout(15*time.Minute),
	)
}

func (e *asynqEnqueuer) enqueue(ctx context.Context, typename string, payload any, opts ...asynq.Option) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	info, err := e.client.EnqueueContext(ctx, asynq.NewTask(typename, data), opts...)
	if err != nil {
		return err
	}
	e.log.Debug("task enqueued",
		zap.String("type", typename),
		zap.String("task_id", info.ID),
		zap.String("queue", info.Queue),
	)
	return nil
}
