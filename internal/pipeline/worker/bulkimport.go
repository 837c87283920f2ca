package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	bulkdomain "github.com/smallbiznis/einvois/internal/bulkimport/domain"
	"github.com/smallbiznis/einvois/internal/pipeline/tasks"
)

// BulkImportHandler drains queued CSV sessions. All per-row recovery lives
// in the bulk import service; this only decides what is worth retrying.
type BulkImportHandler struct {
	log     *zap.Logger
	bulkSvc bulkdomain.Service
}

func NewBulkImportHandler(log *zap.Logger, bulkSvc bulkdomain.Service) *BulkImportHandler {
	return &BulkImportHandler{
		log:     log.Named("pipeline.bulkimport"),
		bulkSvc: bulkSvc,
	}
}

func (h *BulkImportHandler) Handle(ctx context.Context, task *asynq.Task) error {
	var payload tasks.BulkImportProcessPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}

	bulkImportID, err := snowflake.ParseString(payload.BulkImportID)
	if err != nil {
		return fmt.Errorf("bad bulk import id %q: %w", payload.BulkImportID, asynq.SkipRetry)
	}

	if err := h.bulkSvc.ProcessCSV(ctx, bulkImportID); err != nil {
		if errors.Is(err, bulkdomain.ErrSessionNotFound) {
			return fmt.Errorf("bulk import %s not found: %w", bulkImportID, asynq.SkipRetry)
		}
		h.log.Error("bulk import processing failed",
			zap.Stringer("bulk_import_id", bulkImportID),
			zap.Error(err),
		)
		return err
	}
	return nil
}
