package action

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryLookupAndCall(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Register(Action{Name: "math.double", Fn: func(_ context.Context, inv Invocation) (any, error) {
		return inv.Args[0].(int64) * 2, nil
	}})
	r.Register(Action{Name: "chat.send", Loop: true, Fn: func(context.Context, Invocation) (any, error) { return nil, nil }})
	r.Freeze()

	a, ok := r.Lookup("chat.send")
	require.True(t, ok)
	assert.True(t, a.Loop)

	out, err := r.Call(context.Background(), "math.double", Invocation{Args: []any{int64(21)}})
	require.NoError(t, err)
	assert.Equal(t, int64(42), out)

	_, err = r.Call(context.Background(), "missing", Invocation{})
	assert.Error(t, err)

	assert.Equal(t, []Ref{"chat.send", "math.double"}, r.Names())
}

func TestRegistryRejectsMistakes(t *testing.T) {
	t.Parallel()

	noop := func(context.Context, Invocation) (any, error) { return nil, nil }

	r := NewRegistry()
	r.Register(Action{Name: "a", Fn: noop})
	assert.Panics(t, func() { r.Register(Action{Name: "a", Fn: noop}) })
	assert.Panics(t, func() { r.Register(Action{Name: " ", Fn: noop}) })
	assert.Panics(t, func() { r.Register(Action{Name: "b"}) })

	r.Freeze()
	assert.Panics(t, func() { r.Register(Action{Name: "c", Fn: noop}) })
}
