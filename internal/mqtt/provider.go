// Package mqtt owns the single broker connection shared by every open
// conversation for the lifetime of the process. The provider is constructed
// once at startup and passed by reference; reconnect and backoff are
// delegated to the paho client, the provider only fans out connection events
// to its observers.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/courierchat/internal/config"
	"github.com/courierchat/internal/logger"
	paho "github.com/eclipse/paho.mqtt.golang"
)

// ErrNotConnected is returned by Publish while the connection is down.
// Nothing is queued locally: the caller observes the failure and decides
// whether to re-send after reconnect.
var ErrNotConnected = errors.New("mqtt: not connected")

type observer struct {
	onConnect func(reconnect bool)
	onLost    func(err error)
}

type Provider struct {
	client   paho.Client
	clientID string
	timeout  time.Duration

	mu            sync.Mutex
	everConnected bool
	nextID        int
	observers     map[int]observer
}

// NewProvider builds the shared client. The client id is the configured
// prefix plus the launch timestamp in unix millis, so relaunches never
// collide with a stale session on the broker.
func NewProvider(cfg config.BrokerConfig) *Provider {
	p := &Provider{
		timeout:   cfg.ConnectTimeout,
		observers: make(map[int]observer),
	}
	if p.timeout <= 0 {
		p.timeout = 10 * time.Second
	}
	p.clientID = fmt.Sprintf("%s%d", cfg.ClientIDPrefix, time.Now().UnixMilli())

	opts := paho.NewClientOptions().
		AddBroker(cfg.URL).
		SetClientID(p.clientID).
		SetConnectTimeout(p.timeout).
		SetAutoReconnect(true).
		SetConnectRetry(true)
	opts.SetOnConnectHandler(func(paho.Client) { p.connectComplete() })
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) { p.connectionLost(err) })
	p.client = paho.NewClient(opts)
	return p
}

// ClientID returns the id this process presents to the broker.
func (p *Provider) ClientID() string { return p.clientID }

// Connect establishes the session. Observers get ConnectComplete on success
// and on every automatic reconnect afterwards.
func (p *Provider) Connect(ctx context.Context) error {
	token := p.client.Connect()
	done := make(chan struct{})
	go func() {
		token.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt: connect: %w", err)
		}
		return nil
	}
}

// Disconnect closes the session, waiting briefly for in-flight work.
func (p *Provider) Disconnect() {
	p.client.Disconnect(250)
}

// IsConnected reports whether the connection is currently open. Paho's own
// IsConnected also returns true while auto-reconnecting, a state in which it
// queues qos>0 publishes for later delivery; IsConnectionOpen is the check
// that matches the no-local-queueing policy.
func (p *Provider) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Publish sends a payload. Returns ErrNotConnected while the connection is
// not open, including the auto-reconnect window; the message is never handed
// to paho's store, so a failed send is never delivered later.
func (p *Provider) Publish(topic string, qos byte, retained bool, payload []byte) error {
	if !p.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("mqtt: publish %s: timed out after %v", topic, p.timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers a handler for a topic. No-op while offline: broker
// sessions do not survive reconnect, so subscribers must re-issue their
// subscriptions from a ConnectComplete observer anyway.
func (p *Provider) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	if !p.client.IsConnectionOpen() {
		return nil
	}
	token := p.client.Subscribe(topic, qos, func(_ paho.Client, m paho.Message) {
		handler(m.Topic(), m.Payload())
	})
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("mqtt: subscribe %s: timed out after %v", topic, p.timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: subscribe %s: %w", topic, err)
	}
	return nil
}

// Unsubscribe removes subscriptions. No-op while offline.
func (p *Provider) Unsubscribe(topics ...string) error {
	if !p.client.IsConnectionOpen() {
		return nil
	}
	token := p.client.Unsubscribe(topics...)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("mqtt: unsubscribe: timed out after %v", p.timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: unsubscribe: %w", err)
	}
	return nil
}

// ObserveConnection registers callbacks for connection events and returns a
// cancel func. Callbacks run on the paho callback goroutine and must hand
// off anything heavy.
func (p *Provider) ObserveConnection(onConnect func(reconnect bool), onLost func(err error)) (cancel func()) {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.observers[id] = observer{onConnect: onConnect, onLost: onLost}
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.observers, id)
		p.mu.Unlock()
	}
}

func (p *Provider) connectComplete() {
	p.mu.Lock()
	reconnect := p.everConnected
	p.everConnected = true
	obs := make([]observer, 0, len(p.observers))
	for _, o := range p.observers {
		obs = append(obs, o)
	}
	p.mu.Unlock()

	logger.Infof("mqtt: connected client_id=%s reconnect=%v", p.clientID, reconnect)
	for _, o := range obs {
		if o.onConnect != nil {
			o.onConnect(reconnect)
		}
	}
}

func (p *Provider) connectionLost(err error) {
	p.mu.Lock()
	obs := make([]observer, 0, len(p.observers))
	for _, o := range p.observers {
		obs = append(obs, o)
	}
	p.mu.Unlock()

	logger.Errorf("mqtt: connection lost client_id=%s: %v", p.clientID, err)
	for _, o := range obs {
		if o.onLost != nil {
			o.onLost(err)
		}
	}
}
