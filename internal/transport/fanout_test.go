package transport

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/easylayer/blockchain-provider/internal/universal"
)

func TestFanoutDeliversToAllSubscribers(t *testing.T) {
	f := NewFanout()
	var got1, got2 []string
	f.Add(func(b *universal.Block) { got1 = append(got1, b.Hash) }, nil)
	f.Add(func(b *universal.Block) { got2 = append(got2, b.Hash) }, nil)

	f.Publish(&universal.Block{Hash: "a"})
	f.Publish(&universal.Block{Hash: "b"})

	assert.Equal(t, []string{"a", "b"}, got1)
	assert.Equal(t, []string{"a", "b"}, got2)
}

func TestFanoutPanicIsolatedToOwnSubscriber(t *testing.T) {
	f := NewFanout()
	var panicErr error
	f.Add(func(b *universal.Block) { panic("boom") }, func(err error) { panicErr = err })
	var delivered bool
	f.Add(func(b *universal.Block) { delivered = true }, nil)

	f.Publish(&universal.Block{Hash: "a"})

	require.Error(t, panicErr)
	assert.Contains(t, panicErr.Error(), "panicked")
	assert.True(t, delivered, "healthy subscriber still receives the block")
}

func TestFanoutUnsubscribeAndOnEmpty(t *testing.T) {
	f := NewFanout()
	emptied := 0
	f.SetOnEmpty(func() { emptied++ })

	s1 := f.Add(func(*universal.Block) {}, nil)
	s2 := f.Add(func(*universal.Block) {}, nil)
	assert.Equal(t, 2, f.Len())

	s1.Unsubscribe()
	assert.Equal(t, 1, f.Len())
	assert.Zero(t, emptied)

	s2.Unsubscribe()
	assert.Equal(t, 0, f.Len())
	assert.Equal(t, 1, emptied)

	// Double unsubscribe is a no-op.
	s2.Unsubscribe()
	assert.Equal(t, 1, emptied)
}

func TestFanoutPublishError(t *testing.T) {
	f := NewFanout()
	var got error
	f.Add(func(*universal.Block) {}, func(err error) { got = err })
	f.Add(func(*universal.Block) {}, nil) // no error handler: must not panic

	streamErr := errors.New("push channel dropped")
	f.PublishError(streamErr)
	assert.Equal(t, streamErr, got)
}
