package live

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davoodhazareh-sketch/alaem-shenasi-server/pcm"
)

func TestHandleQueuesUntilResolved(t *testing.T) {
	h := newStreamHandle()
	for i := 0; i < 5; i++ {
		h.Send(pcm.Chunk{Data: fmt.Sprintf("chunk-%d", i)})
	}

	stream := &fakeStream{}
	h.resolve(stream)

	require.Len(t, stream.sent, 5)
	for i, chunk := range stream.sent {
		assert.Equal(t, fmt.Sprintf("chunk-%d", i), chunk.Data)
	}

	// Subsequent sends go straight through.
	h.Send(pcm.Chunk{Data: "chunk-5"})
	assert.Len(t, stream.sent, 6)
}

func TestHandleDropsWhenQueueFull(t *testing.T) {
	h := newStreamHandle()
	for i := 0; i < maxPendingChunks+10; i++ {
		h.Send(pcm.Chunk{Data: fmt.Sprintf("chunk-%d", i)})
	}

	stream := &fakeStream{}
	h.resolve(stream)

	assert.Len(t, stream.sent, maxPendingChunks)
	assert.Equal(t, "chunk-0", stream.sent[0].Data, "oldest frames are kept")
}

func TestHandleCloseBeforeResolve(t *testing.T) {
	h := newStreamHandle()
	h.Send(pcm.Chunk{Data: "queued"})
	h.close()

	stream := &fakeStream{}
	h.resolve(stream)

	assert.Equal(t, 1, stream.closed, "a stream resolved after close is shut down")
	assert.Empty(t, stream.sent, "queued frames are discarded on close")

	h.Send(pcm.Chunk{Data: "late"})
	assert.Empty(t, stream.sent)
}

func TestHandleCloseIsIdempotent(t *testing.T) {
	h := newStreamHandle()
	stream := &fakeStream{}
	h.resolve(stream)

	h.close()
	h.close()

	assert.Equal(t, 1, stream.closed)
}
