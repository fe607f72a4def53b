package retrieval

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djinnbot/core/pkg/apperror"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRecordRejectsMissingAgentID(t *testing.T) {
	svc := NewService(nil, newTestLogger())
	_, err := svc.Record(context.Background(), RecordBatch{})
	require.Error(t, err)
	appErr, ok := err.(*apperror.Error)
	require.True(t, ok)
	assert.Equal(t, apperror.ErrBadRequest.Code, appErr.Code)
}

func TestScoresRejectsMissingAgentID(t *testing.T) {
	svc := NewService(nil, newTestLogger())
	_, err := svc.Scores(context.Background(), "", nil, 10)
	require.Error(t, err)
	appErr, ok := err.(*apperror.Error)
	require.True(t, ok)
	assert.Equal(t, apperror.ErrBadRequest.Code, appErr.Code)
}
