package mqtt

import (
	"testing"
	"time"

	"github.com/courierchat/internal/config"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubToken struct{ err error }

func (t stubToken) Wait() bool                     { return true }
func (t stubToken) WaitTimeout(time.Duration) bool { return true }
func (t stubToken) Error() error                   { return t.err }
func (t stubToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// stubClient models paho's connection states. While auto-reconnecting the
// real client reports IsConnected()==true but IsConnectionOpen()==false and
// would queue qos>0 publishes for delivery after the link comes back.
type stubClient struct {
	connected      bool
	connectionOpen bool

	published    []string
	subscribed   []string
	unsubscribed []string
}

func (c *stubClient) IsConnected() bool      { return c.connected }
func (c *stubClient) IsConnectionOpen() bool { return c.connectionOpen }
func (c *stubClient) Connect() paho.Token    { return stubToken{} }
func (c *stubClient) Disconnect(uint)        {}

func (c *stubClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	c.published = append(c.published, topic)
	return stubToken{}
}

func (c *stubClient) Subscribe(topic string, qos byte, cb paho.MessageHandler) paho.Token {
	c.subscribed = append(c.subscribed, topic)
	return stubToken{}
}

func (c *stubClient) SubscribeMultiple(filters map[string]byte, cb paho.MessageHandler) paho.Token {
	return stubToken{}
}

func (c *stubClient) Unsubscribe(topics ...string) paho.Token {
	c.unsubscribed = append(c.unsubscribed, topics...)
	return stubToken{}
}

func (c *stubClient) AddRoute(string, paho.MessageHandler)    {}
func (c *stubClient) OptionsReader() paho.ClientOptionsReader { return paho.ClientOptionsReader{} }

func stubProvider(c paho.Client) *Provider {
	p := NewProvider(config.BrokerConfig{URL: "tcp://localhost:1883", ClientIDPrefix: "test-"})
	p.client = c
	return p
}

func TestPublishRefusedWhileReconnecting(t *testing.T) {
	stub := &stubClient{connected: true, connectionOpen: false}
	p := stubProvider(stub)

	err := p.Publish("t/message/r1", 2, false, []byte("x"))
	require.ErrorIs(t, err, ErrNotConnected)
	// Nothing reached the underlying client, so nothing can be delivered
	// after reconnect; the caller's failure is the whole story of this send.
	assert.Empty(t, stub.published)
	assert.False(t, p.IsConnected())
}

func TestSubscribeUnsubscribeNoopWhileReconnecting(t *testing.T) {
	stub := &stubClient{connected: true, connectionOpen: false}
	p := stubProvider(stub)

	require.NoError(t, p.Subscribe("t/message/r1", 2, func(string, []byte) {}))
	require.NoError(t, p.Unsubscribe("t/message/r1"))
	assert.Empty(t, stub.subscribed)
	assert.Empty(t, stub.unsubscribed)
}

func TestPublishForwardedWhileConnectionOpen(t *testing.T) {
	stub := &stubClient{connected: true, connectionOpen: true}
	p := stubProvider(stub)

	require.NoError(t, p.Publish("t/message/r1", 2, false, []byte("x")))
	assert.Equal(t, []string{"t/message/r1"}, stub.published)
	assert.True(t, p.IsConnected())
}
