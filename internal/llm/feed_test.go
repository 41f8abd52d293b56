package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStreamer yields a scripted sequence of token events.
type fakeStreamer struct {
	events  []TokenEvent
	openErr error
	block   bool // never emit, wait for cancellation
}

func (s *fakeStreamer) StreamChat(ctx context.Context, prompt string) (<-chan TokenEvent, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	ch := make(chan TokenEvent)
	go func() {
		defer close(ch)
		if s.block {
			<-ctx.Done()
			return
		}
		for _, ev := range s.events {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

type recorder struct {
	mu     sync.Mutex
	deltas []string
	dones  int
}

func (r *recorder) onDelta(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deltas = append(r.deltas, text)
}

func (r *recorder) onDone() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dones++
}

func (r *recorder) snapshot() ([]string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.deltas))
	copy(out, r.deltas)
	return out, r.dones
}

func TestFeed_DeltasInOrderThenDone(t *testing.T) {
	streamer := &fakeStreamer{events: []TokenEvent{
		{Delta: "こん"},
		{Delta: "にちは"},
		{Delta: "。"},
		{Done: true},
	}}
	feed := NewFeed(streamer, zerolog.Nop())
	rec := &recorder{}

	feed.Start(context.Background(), "prompt", rec.onDelta, rec.onDone)

	require.Eventually(t, func() bool {
		_, dones := rec.snapshot()
		return dones == 1
	}, time.Second, 10*time.Millisecond)

	deltas, dones := rec.snapshot()
	assert.Equal(t, []string{"こん", "にちは", "。"}, deltas)
	assert.Equal(t, 1, dones)
	assert.Equal(t, 0, feed.Active(), "finished task must release itself")
}

func TestFeed_StreamErrorReportedAsDone(t *testing.T) {
	streamer := &fakeStreamer{events: []TokenEvent{
		{Delta: "途中"},
		{Err: errors.New("connection reset")},
	}}
	feed := NewFeed(streamer, zerolog.Nop())
	rec := &recorder{}

	feed.Start(context.Background(), "prompt", rec.onDelta, rec.onDone)

	require.Eventually(t, func() bool {
		_, dones := rec.snapshot()
		return dones == 1
	}, time.Second, 10*time.Millisecond)

	deltas, dones := rec.snapshot()
	assert.Equal(t, []string{"途中"}, deltas)
	assert.Equal(t, 1, dones, "mid-stream failure ends the feed like a natural done")
}

func TestFeed_OpenErrorStillSignalsDone(t *testing.T) {
	feed := NewFeed(&fakeStreamer{openErr: errors.New("unreachable")}, zerolog.Nop())
	rec := &recorder{}

	feed.Start(context.Background(), "prompt", rec.onDelta, rec.onDone)

	require.Eventually(t, func() bool {
		_, dones := rec.snapshot()
		return dones == 1
	}, time.Second, 10*time.Millisecond)
}

func TestFeed_CancelStopsTask(t *testing.T) {
	feed := NewFeed(&fakeStreamer{block: true}, zerolog.Nop())
	rec := &recorder{}

	id := feed.Start(context.Background(), "prompt", rec.onDelta, rec.onDone)
	assert.Equal(t, 1, feed.Active())

	feed.Cancel(id)

	require.Eventually(t, func() bool {
		_, dones := rec.snapshot()
		return dones == 1 && feed.Active() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestFeed_CancelIsIdempotent(t *testing.T) {
	feed := NewFeed(&fakeStreamer{block: true}, zerolog.Nop())
	rec := &recorder{}

	id := feed.Start(context.Background(), "prompt", rec.onDelta, rec.onDone)
	feed.Cancel(id)
	feed.Cancel(id)
	feed.Cancel(uuid.New()) // unknown handle is a no-op

	require.Eventually(t, func() bool {
		_, dones := rec.snapshot()
		return dones == 1
	}, time.Second, 10*time.Millisecond)
}

func TestFeed_CancelDoesNotAffectNewerTask(t *testing.T) {
	streamer := &fakeStreamer{block: true}
	feed := NewFeed(streamer, zerolog.Nop())
	oldRec := &recorder{}
	newRec := &recorder{}

	oldID := feed.Start(context.Background(), "old", oldRec.onDelta, oldRec.onDone)
	newID := feed.Start(context.Background(), "new", newRec.onDelta, newRec.onDone)
	require.NotEqual(t, oldID, newID)

	feed.Cancel(oldID)

	require.Eventually(t, func() bool {
		_, dones := oldRec.snapshot()
		return dones == 1
	}, time.Second, 10*time.Millisecond)

	_, newDones := newRec.snapshot()
	assert.Equal(t, 0, newDones, "newer task must keep running")
	assert.Equal(t, 1, feed.Active())

	feed.Cancel(newID)
}
