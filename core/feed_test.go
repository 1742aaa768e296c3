package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"optionsvault/core/types"
)

type wrappedEvent struct{ evt *types.Event }

func (w wrappedEvent) EventType() string    { return w.evt.Type }
func (w wrappedEvent) Event() *types.Event { return w.evt }

func TestFeedSequencesAndReplaysBacklog(t *testing.T) {
	feed := NewFeed()
	feed.SetNowFunc(func() time.Time { return time.Unix(1_700_000_000, 0) })

	feed.Emit(&types.Event{Type: "vault.deposit", Attributes: map[string]string{"amount": "10"}})
	feed.Emit(wrappedEvent{evt: &types.Event{Type: "vault.withdraw", Attributes: map[string]string{"shares": "3"}}})
	require.Equal(t, uint64(2), feed.Sequence())

	updates, cancel, backlog := feed.Subscribe(context.Background(), "1")
	defer cancel()
	require.Len(t, backlog, 1)
	require.Equal(t, "vault.withdraw", backlog[0].Type)
	require.Equal(t, "3", backlog[0].Attr("shares"))
	require.Equal(t, "2", backlog[0].Cursor)
	require.Equal(t, int64(1_700_000_000), backlog[0].Timestamp)

	feed.Emit(&types.Event{Type: "vault.rollover"})
	select {
	case entry := <-updates:
		require.Equal(t, uint64(3), entry.Sequence)
		require.Equal(t, "vault.rollover", entry.Type)
	case <-time.After(time.Second):
		t.Fatal("no update delivered")
	}
}

func TestFeedCancelClosesSubscription(t *testing.T) {
	feed := NewFeed()
	ctx, stop := context.WithCancel(context.Background())
	updates, _, backlog := feed.Subscribe(ctx, "")
	require.Empty(t, backlog)
	stop()

	select {
	case _, ok := <-updates:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed")
	}
	// Publishing after cancellation must not panic on the closed channel.
	feed.Emit(&types.Event{Type: "vault.paused"})
}

func TestEventPayloadCopiesAttributes(t *testing.T) {
	inner := &types.Event{Type: "action.traded", Attributes: map[string]string{"premium": "5"}}
	payload := EventPayload(wrappedEvent{evt: inner})
	payload.Attributes["premium"] = "6"
	require.Equal(t, "5", inner.Attributes["premium"])
	require.Nil(t, EventPayload(nil))
}
