package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exnotify.dev/pkg/exnotify/logging"
	"exnotify.dev/pkg/exnotify/notifier"
	"exnotify.dev/pkg/exnotify/occurrence"
	"exnotify.dev/pkg/exnotify/testutil"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func completed(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)

	return t
}

func (t *fakeToken) Wait() bool {
	<-t.done

	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }

func (t *fakeToken) Error() error { return t.err }

type publish struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeClient struct {
	token        mqtt.Token
	published    []publish
	disconnected bool
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload any) mqtt.Token {
	c.published = append(c.published, publish{topic: topic, qos: qos, retained: retained, payload: payload.([]byte)})

	return c.token
}

func (c *fakeClient) Disconnect(uint) {
	c.disconnected = true
}

func TestConstructor_Validation(t *testing.T) {
	tests := []struct {
		desc string
		opts notifier.Options
		err  error
	}{
		{"no hostname", notifier.Options{"topic": "errors"}, errHostnameNotProvided},
		{"no topic", notifier.Options{"hostname": "localhost"}, errTopicNotProvided},
		{"bad qos", notifier.Options{"hostname": "localhost", "topic": "errors", "qos": "3"}, errInvalidQoS},
	}

	for i, tc := range tests {
		_, err := Constructor(logging.NewMockLogger(logging.INFO))(tc.opts)

		require.ErrorIs(t, err, tc.err, "TEST[%d], Failed.\n%s", i, tc.desc)
	}
}

func TestNew_Unreachable(t *testing.T) {
	_, err := New(Config{Protocol: "tcp", Hostname: "127.0.0.1", Port: 1, Topic: "errors",
		ConnectTimeout: time.Second}, logging.NewMockLogger(logging.INFO))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "127.0.0.1:1")
}

func TestGetClientID(t *testing.T) {
	assert.True(t, strings.HasPrefix(getClientID(""), "exnotify-"))
	assert.True(t, strings.HasSuffix(getClientID("api"), "-api"))
	assert.NotEqual(t, getClientID("api"), getClientID("api"))
}

func TestNotify(t *testing.T) {
	client := &fakeClient{token: completed(nil)}
	m := NewWithClient(Config{Hostname: "broker", Topic: "app/errors", QoS: 1, Retained: true}, client,
		logging.NewMockLogger(logging.DEBUG))

	o := occurrence.New(errors.New("sensor offline"), occurrence.WithBackground())

	out := testutil.StdoutOutputForFunc(func() {
		require.NoError(t, m.Notify(context.Background(), o, nil))
	})

	assert.Contains(t, out, "MQTT")
	require.Len(t, client.published, 1)

	pub := client.published[0]
	assert.Equal(t, "app/errors", pub.topic)
	assert.Equal(t, byte(1), pub.qos)
	assert.True(t, pub.retained)

	var p notifier.Payload
	require.NoError(t, json.Unmarshal(pub.payload, &p))
	assert.Equal(t, o.ID(), p.ID)

	require.NoError(t, m.Close())
	assert.True(t, client.disconnected)
}

func TestNotify_Errors(t *testing.T) {
	errNotConnected := errors.New("not connected")

	m := NewWithClient(Config{Topic: "t"}, &fakeClient{token: completed(errNotConnected)}, logging.NewMockLogger(logging.INFO))
	require.ErrorIs(t, m.Notify(context.Background(), occurrence.New(errors.New("x")), nil), errNotConnected)

	pending := &fakeToken{done: make(chan struct{})}
	m = NewWithClient(Config{Topic: "t"}, &fakeClient{token: pending}, logging.NewMockLogger(logging.INFO))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	require.ErrorIs(t, m.Notify(ctx, occurrence.New(errors.New("x")), nil), context.DeadlineExceeded)
}
