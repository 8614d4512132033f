package worker

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitAndDrain(t *testing.T) {
	p := NewPool(Config{Workers: 1, QueueSize: 16})

	var n atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Submit(func() { n.Add(1) }))
	}
	p.Close()

	assert.Equal(t, int32(10), n.Load())

	s := p.GetStats()
	assert.Equal(t, uint64(10), s.Submitted)
	assert.Equal(t, uint64(10), s.Completed)
}

func TestOrderPreserved(t *testing.T) {
	// One worker drains the queue FIFO; the trace sink depends on it.
	p := NewPool(Config{Workers: 1, QueueSize: 64})

	var got []int
	for i := 0; i < 20; i++ {
		i := i
		require.NoError(t, p.Submit(func() { got = append(got, i) }))
	}
	p.Close()

	require.Len(t, got, 20)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestQueueFull(t *testing.T) {
	p := NewPool(Config{Workers: 1, QueueSize: 1})

	block := make(chan struct{})
	require.NoError(t, p.Submit(func() { <-block }))

	// Fill the queue, then overflow it.
	var err error
	for i := 0; i < 3; i++ {
		if err = p.Submit(func() {}); err != nil {
			break
		}
	}
	assert.ErrorIs(t, err, ErrQueueFull)

	close(block)
	p.Close()
}

func TestSubmitAfterClose(t *testing.T) {
	p := NewPool(Config{Workers: 1})
	p.Close()
	assert.ErrorIs(t, p.Submit(func() {}), ErrPoolClosed)
}

func TestPanicHandler(t *testing.T) {
	var caught atomic.Bool
	p := NewPool(Config{
		Workers:      1,
		PanicHandler: func(interface{}) { caught.Store(true) },
	})

	require.NoError(t, p.Submit(func() { panic("boom") }))
	require.NoError(t, p.Submit(func() {})) // worker survived the panic
	p.Close()

	assert.True(t, caught.Load())
}
