package chat

import (
	"sync"

	"github.com/courierchat/internal/model"
)

type DetailStatus string

const (
	DetailInitial DetailStatus = "initial"
	DetailLoading DetailStatus = "loading"
	DetailSuccess DetailStatus = "success"
	DetailFailure DetailStatus = "failure"
)

// Detail is the backlog-fetch status of the conversation screen.
type Detail struct {
	Status  DetailStatus
	Message string
}

type RealtimeEvent string

const (
	RealtimeInitial    RealtimeEvent = "initial"
	RealtimeNewMessage RealtimeEvent = "new_message"
)

// ConversationState is the UI-observable state of one open conversation.
// Invariants: messages are unique by id in arrival order; a message id is
// in at most one of SendingMessageIDs/FailedMessageIDs at a time.
type ConversationState struct {
	Session             model.Session
	IsCurrentUserTyping bool
	IsOtherUserTyping   bool
	SendingMessageIDs   map[string]struct{}
	FailedMessageIDs    map[string]struct{}
	OtherUser           model.UserPublic
	Messages            []model.Message
	Detail              Detail
	Realtime            RealtimeEvent
}

// Reducer folds channel events and local send attempts into
// ConversationState. All mutations are serialized by a single mutex: events
// arrive on the broker's delivery goroutine, sends on the UI's, and the
// resulting state sequence is strictly causal per conversation.
type Reducer struct {
	mu    sync.Mutex
	state ConversationState
}

func NewReducer(session model.Session, otherUser model.UserPublic) *Reducer {
	return &Reducer{state: ConversationState{
		Session:           session,
		SendingMessageIDs: make(map[string]struct{}),
		FailedMessageIDs:  make(map[string]struct{}),
		OtherUser:         otherUser,
		Detail:            Detail{Status: DetailInitial},
		Realtime:          RealtimeInitial,
	}}
}

// Bind registers the reducer on a channel's message and typing listeners and
// returns a cancel func detaching both.
func (r *Reducer) Bind(ch *Channel) (cancel func()) {
	cancelMsg := ch.ListenMessages(r.ApplyIncoming)
	cancelTyping := ch.ListenTyping(r.ApplyTyping)
	return func() {
		cancelMsg()
		cancelTyping()
	}
}

// SetDetail records the backlog-fetch status.
func (r *Reducer) SetDetail(status DetailStatus, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.Detail = Detail{Status: status, Message: msg}
}

// SeedHistory loads the persisted backlog before realtime events augment it.
func (r *Reducer) SeedHistory(messages []model.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range messages {
		r.appendLocked(m)
	}
}

// BeginSend marks a message as in flight and appends it optimistically.
// Re-sending a failed message moves its id back from failed to sending.
func (r *Reducer) BeginSend(m model.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.state.FailedMessageIDs, m.ID)
	r.state.SendingMessageIDs[m.ID] = struct{}{}
	r.appendLocked(m)
}

// FinishSend records the local publish result: the id leaves the sending set
// and, on failure, enters the failed set. This is the only user-visible
// trace of a lost send; there is no broker acknowledgement.
func (r *Reducer) FinishSend(id string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.state.SendingMessageIDs, id)
	if err != nil {
		r.state.FailedMessageIDs[id] = struct{}{}
	}
}

// ApplyIncoming appends a peer message and raises the one-shot new-message
// marker. Duplicate ids (at-least-once delivery, retries) fold into the
// existing entry.
func (r *Reducer) ApplyIncoming(m model.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appendLocked(m)
	r.state.Realtime = RealtimeNewMessage
}

// ApplyTyping sets the peer's typing flag.
func (r *Reducer) ApplyTyping(isTyping bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.IsOtherUserTyping = isTyping
}

// SetCurrentUserTyping sets the local typing flag; the caller is responsible
// for publishing it through Channel.NotifyTyping.
func (r *Reducer) SetCurrentUserTyping(isTyping bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.IsCurrentUserTyping = isTyping
}

// ConsumeRealtime returns the realtime marker and resets it, so the UI reacts
// to a new message exactly once.
func (r *Reducer) ConsumeRealtime() RealtimeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev := r.state.Realtime
	r.state.Realtime = RealtimeInitial
	return ev
}

// Snapshot returns a copy of the current state safe for concurrent reads.
func (r *Reducer) Snapshot() ConversationState {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.state
	s.SendingMessageIDs = copySet(r.state.SendingMessageIDs)
	s.FailedMessageIDs = copySet(r.state.FailedMessageIDs)
	s.Messages = make([]model.Message, len(r.state.Messages))
	copy(s.Messages, r.state.Messages)
	return s
}

// appendLocked appends in arrival order, deduplicating by id. No
// resequencing is attempted: ordering as observed by the UI is exactly wire
// arrival order, including across reconnects.
func (r *Reducer) appendLocked(m model.Message) {
	for _, existing := range r.state.Messages {
		if existing.ID == m.ID {
			return
		}
	}
	r.state.Messages = append(r.state.Messages, m)
}

func copySet(src map[string]struct{}) map[string]struct{} {
	dst := make(map[string]struct{}, len(src))
	for k := range src {
		dst[k] = struct{}{}
	}
	return dst
}
