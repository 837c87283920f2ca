// Package worker consumes pipeline tasks: OCR extraction runs and bulk CSV
// imports.
package worker

import (
	"context"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/einvois/internal/config"
	"github.com/smallbiznis/einvois/internal/pipeline/tasks"
)

var Module = fx.Module("pipeline.worker",
	fx.Provide(NewOCRHandler),
	fx.Provide(NewBulkImportHandler),
	fx.Provide(NewMux),
	fx.Invoke(Run),
)

func NewMux(ocr *OCRHandler, bulk *BulkImportHandler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeOCRProcess, ocr.Handle)
	mux.HandleFunc(tasks.TypeBulkImportProcess, bulk.Handle)
	return mux
}

func Run(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, opt asynq.RedisClientOpt, mux *asynq.ServeMux) {
	logger := log.Named("pipeline.worker")
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			_ = ctx
			logger.Error("task failed",
				zap.String("type", task.Type()),
				zap.Error(err),
			)
		}),
	})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			_ = ctx
			logger.Info("worker starting", zap.Int("concurrency", cfg.WorkerConcurrency))
			return srv.Start(mux)
		},
		OnStop: func(ctx context.Context) error {
			_ = ctx
			srv.Shutdown()
			return nil
		},
	})
}
