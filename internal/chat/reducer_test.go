package chat

import (
	"errors"
	"testing"
	"time"

	"github.com/courierchat/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testReducer() *Reducer {
	return NewReducer(
		model.Session{UserID: "u1", Role: model.RoleCustomer},
		model.UserPublic{ID: "u2", Name: "Driver", Role: model.RoleDriver},
	)
}

func msg(id, userID, body string) model.Message {
	return model.Message{ID: id, RoomID: "r1", UserID: userID, Body: body, CreatedAt: time.Now().UTC()}
}

func TestReducerSendLifecycleSuccess(t *testing.T) {
	r := testReducer()
	m := msg("m1", "u1", "hello")

	r.BeginSend(m)
	s := r.Snapshot()
	assert.Contains(t, s.SendingMessageIDs, "m1")
	assert.NotContains(t, s.FailedMessageIDs, "m1")
	require.Len(t, s.Messages, 1, "optimistic append")

	r.FinishSend("m1", nil)
	s = r.Snapshot()
	assert.NotContains(t, s.SendingMessageIDs, "m1")
	assert.NotContains(t, s.FailedMessageIDs, "m1")
}

func TestReducerSendLifecycleFailure(t *testing.T) {
	r := testReducer()
	r.BeginSend(msg("m1", "u1", "hello"))
	r.FinishSend("m1", errors.New("not connected"))

	s := r.Snapshot()
	assert.NotContains(t, s.SendingMessageIDs, "m1")
	assert.Contains(t, s.FailedMessageIDs, "m1")

	// Re-sending moves the id back to sending: the sets stay disjoint.
	r.BeginSend(msg("m1", "u1", "hello"))
	s = r.Snapshot()
	assert.Contains(t, s.SendingMessageIDs, "m1")
	assert.NotContains(t, s.FailedMessageIDs, "m1")
	assert.Len(t, s.Messages, 1, "retry of the same id must not duplicate the entry")
}

func TestReducerIncomingDeduplicatesByID(t *testing.T) {
	r := testReducer()
	r.ApplyIncoming(msg("m1", "u2", "hi"))
	r.ApplyIncoming(msg("m1", "u2", "hi"))
	r.ApplyIncoming(msg("m2", "u2", "again"))

	s := r.Snapshot()
	require.Len(t, s.Messages, 2)
	assert.Equal(t, "m1", s.Messages[0].ID)
	assert.Equal(t, "m2", s.Messages[1].ID)
}

func TestReducerRealtimeMarkerConsumedOnce(t *testing.T) {
	r := testReducer()
	assert.Equal(t, RealtimeInitial, r.ConsumeRealtime())

	r.ApplyIncoming(msg("m1", "u2", "hi"))
	assert.Equal(t, RealtimeNewMessage, r.ConsumeRealtime())
	assert.Equal(t, RealtimeInitial, r.ConsumeRealtime(), "marker resets after one read")
}

func TestReducerSeedHistoryThenRealtime(t *testing.T) {
	r := testReducer()
	r.SetDetail(DetailLoading, "")
	r.SeedHistory([]model.Message{msg("m1", "u2", "old"), msg("m2", "u1", "older reply")})
	r.SetDetail(DetailSuccess, "")

	// Realtime redelivery of a persisted message folds into the backlog.
	r.ApplyIncoming(msg("m1", "u2", "old"))
	r.ApplyIncoming(msg("m3", "u2", "new"))

	s := r.Snapshot()
	require.Len(t, s.Messages, 3)
	assert.Equal(t, DetailSuccess, s.Detail.Status)
}

func TestReducerTypingFlags(t *testing.T) {
	r := testReducer()
	r.ApplyTyping(true)
	assert.True(t, r.Snapshot().IsOtherUserTyping)
	r.ApplyTyping(false)
	assert.False(t, r.Snapshot().IsOtherUserTyping)

	r.SetCurrentUserTyping(true)
	s := r.Snapshot()
	assert.True(t, s.IsCurrentUserTyping)
	assert.False(t, s.IsOtherUserTyping)
}

func TestReducerSnapshotIsIsolated(t *testing.T) {
	r := testReducer()
	r.BeginSend(msg("m1", "u1", "x"))

	s := r.Snapshot()
	delete(s.SendingMessageIDs, "m1")
	s.Messages[0].Body = "mutated"

	s2 := r.Snapshot()
	assert.Contains(t, s2.SendingMessageIDs, "m1")
	assert.Equal(t, "x", s2.Messages[0].Body)
}

// End-to-end: two channels on the same fake broker, reducer bound to one
// side, messages published by the other.
func TestReducerBoundToChannel(t *testing.T) {
	b := newFakeBroker()

	mine := NewChannel(b, namer, 2)
	mine.Open("r1", "u1", "u2")
	theirs := NewChannel(b, namer, 2)
	theirs.Open("r1", "u2", "u1")

	r := testReducer()
	cancel := r.Bind(mine)
	defer cancel()

	m := msg("m1", "u2", "hi from the driver")
	require.NoError(t, theirs.NotifyMessage(m))
	// The fake broker records publishes without fan-out; replay to subscribers
	// the way the broker would, including the sender's own echo.
	records := b.publishedTo(namer.Message("r1"))
	require.Len(t, records, 1)
	b.deliver(namer.Message("r1"), records[0].payload)
	b.deliver(namer.Message("r1"), records[0].payload) // duplicate delivery

	s := r.Snapshot()
	require.Len(t, s.Messages, 1, "duplicate id folds to one entry")
	assert.Equal(t, "m1", s.Messages[0].ID)
	assert.Equal(t, RealtimeNewMessage, r.ConsumeRealtime())

	require.NoError(t, theirs.NotifyTyping("r1"))
	typing := b.publishedTo(namer.TypingPublish("u2"))
	require.Len(t, typing, 1)
	b.deliver(namer.TypingSubscribe("u2"), typing[0].payload)
	assert.True(t, r.Snapshot().IsOtherUserTyping)
}
