package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledServiceIsUsable(t *testing.T) {
	ts, err := NewTracingService(&Config{Enabled: false})
	require.NoError(t, err)

	ctx, finish := ts.StartOperationSpan(context.Background(), "devtools")
	assert.NotNil(t, ctx)
	assert.NotPanics(t, func() { finish(errors.New("boom")) })

	_, span := ts.StartPoolSpan(context.Background(), "acquire", "conn-1")
	assert.NotPanics(t, func() {
		ts.RecordError(span, errors.New("boom"))
		span.End()
	})

	assert.NoError(t, ts.Shutdown(context.Background()))
}

func TestOperationSpanFinishWithoutError(t *testing.T) {
	ts, err := NewTracingService(&Config{Enabled: false})
	require.NoError(t, err)

	_, finish := ts.StartOperationSpan(context.Background(), "devtools")
	assert.NotPanics(t, func() { finish(nil) })
}
