package event

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appendHandler(s string) HandlerFunc[string] {
	return func(ctx context.Context, v string) (string, error) {
		return v + s, nil
	}
}

func TestHook(t *testing.T) {
	ctx := context.Background()

	t.Run("runs handlers by priority then registration order", func(t *testing.T) {
		var h Hook[string]
		h.Register("c", 20, appendHandler("c"))
		h.Register("a", 10, appendHandler("a"))
		h.Register("b", 10, appendHandler("b"))

		out, err := h.Run(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, "abc", out)
		assert.Equal(t, 3, h.Len())
	})

	t.Run("an empty hook returns its input", func(t *testing.T) {
		var h Hook[string]
		out, err := h.Run(ctx, "x")
		require.NoError(t, err)
		assert.Equal(t, "x", out)
	})

	t.Run("halting stops the chain", func(t *testing.T) {
		var h Hook[string]
		h.Register("a", 1, appendHandler("a"))
		h.Register("halt", 2, func(ctx context.Context, v string) (string, error) {
			return v + "!", ErrHalt
		})
		h.Register("b", 3, appendHandler("b"))

		out, err := h.Run(ctx, "")
		assert.ErrorIs(t, err, ErrHalt)
		assert.Equal(t, "a!", out)
	})

	t.Run("errors keep the last good value", func(t *testing.T) {
		var h Hook[string]
		h.Register("a", 1, appendHandler("a"))
		h.Register("fail", 2, func(ctx context.Context, v string) (string, error) {
			return "ignored", assert.AnError
		})

		out, err := h.Run(ctx, "")
		assert.ErrorIs(t, err, assert.AnError)
		assert.Equal(t, "a", out)
	})

	t.Run("notify swallows failures", func(t *testing.T) {
		var h Hook[string]
		called := false
		h.Register("fail", 1, func(ctx context.Context, v string) (string, error) {
			called = true
			return v, assert.AnError
		})

		h.Notify(ctx, "x")
		assert.True(t, called)
	})
}
