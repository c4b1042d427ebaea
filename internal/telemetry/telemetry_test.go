package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewLoggerBuildsBothModes(t *testing.T) {
	dev, err := NewLogger(true)
	require.NoError(t, err)
	require.NotNil(t, dev)

	prod, err := NewLogger(false)
	require.NoError(t, err)
	require.NotNil(t, prod)
}

func TestRecordExecuteDoesNotPanicBeforeViewsAreRegistered(t *testing.T) {
	require.NotPanics(t, func() {
		RecordExecute(context.Background(), "write", time.Now())
	})
}

func TestRegisterViewsIsIdempotent(t *testing.T) {
	require.NoError(t, RegisterViews())
	require.NoError(t, RegisterViews())
}
