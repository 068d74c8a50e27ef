package main

import (
	"testing"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/require"
)

// fakeClient přepisuje jen metody, které writer volá. Ostatní by spadly na nil.
type fakeClient struct {
	mqtt.Client
	open      bool
	topics    []string
	published [][]byte
}

func (c *fakeClient) IsConnectionOpen() bool { return c.open }

func (c *fakeClient) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	c.topics = append(c.topics, topic)
	c.published = append(c.published, payload.([]byte))
	return nil
}

func TestMqttLogWriterCopiesPayload(t *testing.T) {
	client := &fakeClient{open: true}
	w := NewMqttLogWriter(client, serviceName)

	buf := []byte(`{"msg":"a"}`)
	n, err := w.Write(buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)

	buf[2] = 'X'
	require.Equal(t, []string{"logs/telemetry-hub"}, client.topics)
	require.Equal(t, `{"msg":"a"}`, string(client.published[0]))
}

func TestMqttLogWriterSkipsWhenDisconnected(t *testing.T) {
	client := &fakeClient{}
	w := NewMqttLogWriter(client, serviceName)

	n, err := w.Write([]byte("x"))
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Empty(t, client.published)
}
