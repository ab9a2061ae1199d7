package chat

import (
	"errors"
	"sync"
)

type publishRecord struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeObserver struct {
	onConnect func(reconnect bool)
	onLost    func(err error)
}

// fakeBroker simulates the connection provider. Several subscribers may
// share a topic; Unsubscribe clears the whole topic; dropping the connection
// wipes subscriptions, like a broker session that does not survive
// reconnect.
type fakeBroker struct {
	mu        sync.Mutex
	connected bool
	subs      map[string][]func(topic string, payload []byte)
	published []publishRecord
	observers map[int]fakeObserver
	nextID    int

	// onSubscribed, when set, runs after a subscription lands, outside the
	// lock. Lets tests interleave other channel calls mid-subscribe.
	onSubscribed func(topic string)
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		connected: true,
		subs:      make(map[string][]func(string, []byte)),
		observers: make(map[int]fakeObserver),
	}
}

func (b *fakeBroker) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *fakeBroker) Publish(topic string, qos byte, retained bool, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return errors.New("not connected")
	}
	b.published = append(b.published, publishRecord{topic: topic, qos: qos, retained: retained, payload: payload})
	return nil
}

func (b *fakeBroker) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return nil
	}
	b.subs[topic] = append(b.subs[topic], handler)
	hook := b.onSubscribed
	b.mu.Unlock()
	if hook != nil {
		hook(topic)
	}
	return nil
}

func (b *fakeBroker) Unsubscribe(topics ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return nil
	}
	for _, t := range topics {
		delete(b.subs, t)
	}
	return nil
}

func (b *fakeBroker) ObserveConnection(onConnect func(bool), onLost func(error)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.observers[id] = fakeObserver{onConnect: onConnect, onLost: onLost}
	return func() {
		b.mu.Lock()
		delete(b.observers, id)
		b.mu.Unlock()
	}
}

// deliver simulates a broker delivery on a topic.
func (b *fakeBroker) deliver(topic string, payload []byte) {
	b.mu.Lock()
	handlers := make([]func(string, []byte), len(b.subs[topic]))
	copy(handlers, b.subs[topic])
	b.mu.Unlock()
	for _, h := range handlers {
		h(topic, payload)
	}
}

func (b *fakeBroker) subscribedTo(topic string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[topic]) > 0
}

func (b *fakeBroker) dropConnection(err error) {
	b.mu.Lock()
	b.connected = false
	b.subs = make(map[string][]func(string, []byte))
	obs := b.snapshotObserversLocked()
	b.mu.Unlock()
	for _, o := range obs {
		if o.onLost != nil {
			o.onLost(err)
		}
	}
}

func (b *fakeBroker) reconnect() {
	b.mu.Lock()
	b.connected = true
	obs := b.snapshotObserversLocked()
	b.mu.Unlock()
	for _, o := range obs {
		if o.onConnect != nil {
			o.onConnect(true)
		}
	}
}

func (b *fakeBroker) snapshotObserversLocked() []fakeObserver {
	obs := make([]fakeObserver, 0, len(b.observers))
	for _, o := range b.observers {
		obs = append(obs, o)
	}
	return obs
}

func (b *fakeBroker) publishedTo(topic string) []publishRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []publishRecord
	for _, p := range b.published {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}
