package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	bulkdomain "github.com/smallbiznis/einvois/internal/bulkimport/domain"
	"github.com/smallbiznis/einvois/internal/pipeline/tasks"
)

type stubBulkSvc struct {
	bulkdomain.Service

	processed []snowflake.ID
	err       error
}

func (s *stubBulkSvc) ProcessCSV(ctx context.Context, bulkImportID snowflake.ID) error {
	if s.err != nil {
		return s.err
	}
	s.processed = append(s.processed, bulkImportID)
	return nil
}

func bulkTask(t *testing.T, id string) *asynq.Task {
	t.Helper()
	payload, err := json.Marshal(tasks.BulkImportProcessPayload{BulkImportID: id})
	require.NoError(t, err)
	return asynq.NewTask(tasks.TypeBulkImportProcess, payload)
}

func TestBulkImportHandlerProcesses(t *testing.T) {
	svc := &stubBulkSvc{}
	handler := NewBulkImportHandler(zap.NewNop(), svc)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	id := node.Generate()

	require.NoError(t, handler.Handle(context.Background(), bulkTask(t, id.String())))
	assert.Equal(t, []snowflake.ID{id}, svc.processed)
}

func TestBulkImportHandlerRetriesProcessingFailures(t *testing.T) {
	svc := &stubBulkSvc{err: errors.New("csv has 501 rows, maximum is 500")}
	handler := NewBulkImportHandler(zap.NewNop(), svc)

	err := handler.Handle(context.Background(), bulkTask(t, "123"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
}

func TestBulkImportHandlerSkipsUnknownSession(t *testing.T) {
	svc := &stubBulkSvc{err: bulkdomain.ErrSessionNotFound}
	handler := NewBulkImportHandler(zap.NewNop(), svc)

	err := handler.Handle(context.Background(), bulkTask(t, "123"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestBulkImportHandlerSkipsBadPayload(t *testing.T) {
	handler := NewBulkImportHandler(zap.NewNop(), &stubBulkSvc{})

	err := handler.Handle(context.Background(), asynq.NewTask(tasks.TypeBulkImportProcess, []byte("{")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}
