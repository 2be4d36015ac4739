package taskqueue

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal(t *testing.T) {
	q := newTestQueue(t)

	var inits int
	l := NewLocal(q, func() *int {
		inits++
		v := inits * 10
		return &v
	})

	assert.PanicsWithValue(t, ErrNotWorker, func() { l.Get() })
	assert.PanicsWithValue(t, ErrNotWorker, func() { l.Clear() })

	got, err := Call(q, func() ([]int, error) {
		_, loaded := l.Peek()
		a := *l.Get()
		b := *l.Get()
		out := []int{a, b}
		if loaded {
			out = append(out, -1)
		}
		return out, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{10, 10}, got)

	cleared, err := Call(q, func() (int, error) {
		v, ok := l.Clear()
		if !ok {
			return 0, errors.New("expected a constructed value")
		}
		return *v + *l.Get(), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 30, cleared)
	assert.Equal(t, 2, inits)
}

func TestNewLocal_nil(t *testing.T) {
	assert.Panics(t, func() { NewLocal[int](nil, func() int { return 0 }) })
	q := newTestQueue(t)
	assert.Panics(t, func() { NewLocal[int](q, nil) })
}
