package tracer

import (
	"context"
	"testing"

	"academyops/pkg/core/consts"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimpleTracer(t *testing.T) {
	tr := New(nil, "academyops")
	require.IsType(t, &SimpleTracer{}, tr)

	ctx, id, finish := tr.StartTrace(context.Background(), "ping")
	defer finish()
	assert.NotEmpty(t, id)
	assert.Equal(t, id, ctx.Value(consts.TraceKey))

	ctx, id, _, err := tr.StartTraceWithParent(context.Background(), "ping", "upstream-id")
	require.NoError(t, err)
	assert.Equal(t, "upstream-id", id)
	assert.Equal(t, "upstream-id", ctx.Value(consts.TraceKey))

	_, id, _, err = tr.StartTraceWithParent(context.Background(), "ping", "")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}
