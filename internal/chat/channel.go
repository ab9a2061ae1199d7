// Package chat implements the realtime conversation core: topic derivation,
// the per-conversation channel over the shared broker connection, and the
// state reducer the UI observes.
package chat

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/courierchat/internal/logger"
	"github.com/courierchat/internal/model"
)

// ErrClosed is returned when publishing through a channel that has not been
// opened (or has been closed).
var ErrClosed = errors.New("chat: channel closed")

// Broker is the slice of the connection provider the channel needs.
// Implemented by *mqtt.Provider; faked in tests.
type Broker interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
	Unsubscribe(topics ...string) error
	ObserveConnection(onConnect func(reconnect bool), onLost func(err error)) (cancel func())
}

type MessageListener func(model.Message)

type TypingListener func(isTyping bool)

type State int

const (
	StateClosed State = iota
	StateOpening
	StateActive
)

// Channel is a per-conversation session over the shared broker connection.
// It derives the topic trio, keeps the subscriptions alive across
// reconnects, filters self-echoes and dispatches decoded events to the
// registered listeners.
//
// Listener slots are last-write-wins with at most one listener of each kind;
// registration returns a cancel func. Listener bindings deliberately survive
// connection loss and Close so that reopening resumes delivery without the
// UI re-registering.
type Channel struct {
	broker Broker
	topics TopicNamer
	qos    byte

	mu            sync.Mutex
	state         State
	roomID        string
	currentUserID string
	otherUserID   string

	messageTopic         string
	typingPublishTopic   string
	typingSubscribeTopic string

	messageListener MessageListener
	messageGen      int
	typingListener  TypingListener
	typingGen       int

	stopObserving func()
}

func NewChannel(broker Broker, topics TopicNamer, qos byte) *Channel {
	return &Channel{broker: broker, topics: topics, qos: qos}
}

// Open derives the topic trio for the conversation, subscribes the message
// and inbound typing topics, and registers a connection observer so that
// every future reconnect re-issues the same subscriptions (broker sessions
// do not guarantee subscription survival across reconnect). Opening an
// already-open channel tears down the previous conversation first.
func (c *Channel) Open(roomID, currentUserID, otherUserID string) {
	c.mu.Lock()
	if c.state != StateClosed {
		stop := c.stopObserving
		c.stopObserving = nil
		prevMsg, prevTyping := c.messageTopic, c.typingSubscribeTopic
		c.mu.Unlock()
		if stop != nil {
			stop()
		}
		c.unsubscribe(prevMsg, prevTyping)
		c.mu.Lock()
	}

	c.roomID = roomID
	c.currentUserID = currentUserID
	c.otherUserID = otherUserID
	c.messageTopic = c.topics.Message(roomID)
	c.typingPublishTopic = c.topics.TypingPublish(currentUserID)
	c.typingSubscribeTopic = c.topics.TypingSubscribe(otherUserID)
	c.state = StateOpening
	c.mu.Unlock()

	c.subscribeToTopics()

	cancel := c.broker.ObserveConnection(
		func(reconnect bool) { c.subscribeToTopics() },
		func(err error) { c.connectionLost(err) },
	)
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		cancel()
		return
	}
	c.stopObserving = cancel
	c.mu.Unlock()
}

// Close unsubscribes the conversation topics (when connected) and detaches
// from connection events. Listener bindings are kept.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	stop := c.stopObserving
	c.stopObserving = nil
	msgTopic, typingTopic := c.messageTopic, c.typingSubscribeTopic
	c.mu.Unlock()

	if stop != nil {
		stop()
	}
	c.unsubscribe(msgTopic, typingTopic)
}

// State reports the channel lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ListenMessages registers the message listener (replacing any previous one)
// and returns a cancel func. Cancel only clears the slot if this
// registration is still the active one.
func (c *Channel) ListenMessages(l MessageListener) (cancel func()) {
	c.mu.Lock()
	c.messageListener = l
	c.messageGen++
	gen := c.messageGen
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		if c.messageGen == gen {
			c.messageListener = nil
		}
		c.mu.Unlock()
	}
}

// ListenTyping registers the typing-status listener (replacing any previous
// one) and returns a cancel func.
func (c *Channel) ListenTyping(l TypingListener) (cancel func()) {
	c.mu.Lock()
	c.typingListener = l
	c.typingGen++
	gen := c.typingGen
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		if c.typingGen == gen {
			c.typingListener = nil
		}
		c.mu.Unlock()
	}
}

// NotifyMessage encodes and publishes a message to the room's message topic,
// not retained. The error reflects only the local publish call; delivery is
// never acknowledged end to end, so from the application's perspective a
// send is at-most-once regardless of the broker-level QoS.
func (c *Channel) NotifyMessage(m model.Message) error {
	c.mu.Lock()
	topic := c.messageTopic
	open := c.state != StateClosed
	c.mu.Unlock()
	if !open {
		return ErrClosed
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("chat: encode message: %w", err)
	}
	return c.broker.Publish(topic, c.qos, false, payload)
}

// NotifyTyping publishes the room id to the outbound typing topic, retained,
// so a late subscriber immediately sees the last-known state.
// TODO: clear the retained payload via an MQTT will message so a peer that
// kills the app or loses signal does not appear to type forever.
func (c *Channel) NotifyTyping(roomID string) error {
	c.mu.Lock()
	topic := c.typingPublishTopic
	open := c.state != StateClosed
	c.mu.Unlock()
	if !open {
		return ErrClosed
	}
	return c.broker.Publish(topic, c.qos, true, []byte(roomID))
}

// subscribeToTopics issues the two subscriptions if currently connected.
// Called from Open and from every ConnectComplete.
func (c *Channel) subscribeToTopics() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	msgTopic, typingTopic := c.messageTopic, c.typingSubscribeTopic
	roomID, currentUserID := c.roomID, c.currentUserID
	c.mu.Unlock()

	if !c.broker.IsConnected() {
		return
	}
	if err := c.broker.Subscribe(msgTopic, c.qos, func(_ string, payload []byte) {
		c.handleMessage(currentUserID, payload)
	}); err != nil {
		logger.Errorf("chat: subscribe %s: %v", msgTopic, err)
		return
	}
	if err := c.broker.Subscribe(typingTopic, c.qos, func(_ string, payload []byte) {
		c.handleTyping(roomID, payload)
	}); err != nil {
		logger.Errorf("chat: subscribe %s: %v", typingTopic, err)
		return
	}

	c.mu.Lock()
	if c.state == StateClosed {
		// Close ran while the subscriptions were being issued; its
		// unsubscribe may have preceded ours, so tear them down again.
		c.mu.Unlock()
		c.unsubscribe(msgTopic, typingTopic)
		return
	}
	if c.state == StateOpening {
		c.state = StateActive
	}
	c.mu.Unlock()
}

// connectionLost drops back to Opening and waits for the provider's
// reconnect; the observer registered in Open re-subscribes on
// ConnectComplete without the UI calling Open again.
func (c *Channel) connectionLost(err error) {
	c.mu.Lock()
	if c.state == StateActive {
		c.state = StateOpening
	}
	c.mu.Unlock()
	logger.Errorf("chat: connection lost, awaiting resubscribe: %v", err)
}

func (c *Channel) unsubscribe(topics ...string) {
	if !c.broker.IsConnected() {
		return
	}
	if err := c.broker.Unsubscribe(topics...); err != nil {
		logger.Errorf("chat: unsubscribe: %v", err)
	}
}

// handleMessage decodes an arrival on the message topic and dispatches it.
// The message topic is shared for publish and subscribe, so the sender
// receives its own echo and must filter it here; the broker offers no
// per-publisher exclusion.
func (c *Channel) handleMessage(currentUserID string, payload []byte) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return
	}
	var m model.Message
	if err := json.Unmarshal(payload, &m); err != nil {
		logger.Errorf("chat: dropping malformed message payload: %v", err)
		return
	}
	if m.UserID == currentUserID {
		return
	}
	c.mu.Lock()
	l := c.messageListener
	c.mu.Unlock()
	if l != nil {
		l(m)
	}
}

func (c *Channel) handleTyping(roomID string, payload []byte) {
	isTyping := typingFromPayload(roomID, payload)
	c.mu.Lock()
	l := c.typingListener
	c.mu.Unlock()
	if l != nil {
		l(isTyping)
	}
}

// typingFromPayload decodes the typing wire format: the retained payload is
// the room id itself while the peer is typing; any other payload, including
// an empty one, means not typing. The overloaded encoding is kept for
// compatibility across the fleet.
func typingFromPayload(roomID string, payload []byte) bool {
	return string(payload) == roomID
}
