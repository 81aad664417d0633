package log

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLIsChainable(t *testing.T) {
	require.NotNil(t, L())
	L().Debug().Str("key", "value").Msg("chained call on the global logger")
}

func TestCtxFallsBackToGlobal(t *testing.T) {
	assert.Same(t, L(), Ctx(context.Background()))
}

func TestCtxReturnsStoredLogger(t *testing.T) {
	scoped := zerolog.Nop()
	ctx := WithLogger(context.Background(), &scoped)

	got := Ctx(ctx)
	require.Same(t, &scoped, got)
	got.Info().Msg("chained call on the scoped logger")
}
