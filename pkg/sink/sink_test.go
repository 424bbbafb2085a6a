package sink

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"t7stream/pkg/stream"
)

func testBatch() *stream.Batch {
	return &stream.Batch{
		SessionID: "s1",
		Sequence:  4,
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Addresses: []uint32{0, 2},
		Scans:     [][]float64{{0.5, -1}, {0.25, 2}},
		Status:    stream.StatusAutoRecoverEnd,
		ScanTotal: 10,
	}
}

type countingSink struct {
	published int
	closed    int
	err       error
	order     *[]string
	name      string
}

func (c *countingSink) Publish(context.Context, *stream.Batch) error {
	c.published++
	return c.err
}

func (c *countingSink) Close() error {
	c.closed++
	*c.order = append(*c.order, c.name)
	return nil
}

func TestMulti(t *testing.T) {
	var order []string
	a := &countingSink{name: "a", order: &order}
	b := &countingSink{name: "b", order: &order, err: errors.New("b down")}
	c := &countingSink{name: "c", order: &order}
	m := Multi{a, b, c}

	err := m.Publish(context.Background(), testBatch())
	assert.EqualError(t, err, "b down")
	assert.Equal(t, 1, a.published)
	assert.Equal(t, 1, c.published)

	require.NoError(t, m.Close())
	assert.Equal(t, []string{"c", "b", "a"}, order)
	assert.NoError(t, Multi{}.Publish(context.Background(), testBatch()))
}

func TestLogSinkInterval(t *testing.T) {
	l := NewLogSink(time.Second)
	now := time.Unix(100, 0)
	l.now = func() time.Time { return now }

	require.NoError(t, l.Publish(context.Background(), testBatch()))
	assert.Equal(t, now, l.last)

	now = now.Add(500 * time.Millisecond)
	require.NoError(t, l.Publish(context.Background(), testBatch()))
	assert.Equal(t, time.Unix(100, 0), l.last)

	now = now.Add(600 * time.Millisecond)
	require.NoError(t, l.Publish(context.Background(), testBatch()))
	assert.Equal(t, now, l.last)
}

type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type fakeMQTT struct {
	mqtt.Client
	topic        string
	qos          byte
	payload      []byte
	err          error
	disconnected bool
}

func (f *fakeMQTT) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.topic, f.qos, f.payload = topic, qos, payload.([]byte)
	return newFakeToken(f.err)
}

func (f *fakeMQTT) Disconnect(quiesce uint) {
	f.disconnected = true
}

func TestMQTTSinkPublish(t *testing.T) {
	client := &fakeMQTT{}
	s := newMQTTSink(client, MQTTOptions{Topic: "data/t7/v1/s1", QoS: 1, Timeout: time.Second}, 10*time.Millisecond)

	require.NoError(t, s.Publish(context.Background(), testBatch()))
	assert.Equal(t, "data/t7/v1/s1", client.topic)
	assert.Equal(t, byte(1), client.qos)

	var got PublishData
	require.NoError(t, json.Unmarshal(client.payload, &got))
	require.Len(t, got.Payload.Data, 2)
	assert.Equal(t, "2024-05-01T11:59:59.990Z", got.Payload.Data[0].Timestamp)
	assert.Equal(t, "2024-05-01T12:00:00.000Z", got.Payload.Data[1].Timestamp)
	assert.Equal(t, []PointData{{DataPointId: "AIN0", Value: 0.25}, {DataPointId: "AIN1", Value: 2}}, got.Payload.Data[1].Values)

	client.err = errors.New("not connected")
	assert.ErrorContains(t, s.Publish(context.Background(), testBatch()), "not connected")

	require.NoError(t, s.Close())
	assert.True(t, client.disconnected)
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "data/t7stream/v1/abc", Topic("", "abc"))
	assert.Equal(t, "lab/abc/scans", Topic("lab/%s/scans", "abc"))
	assert.Equal(t, "fixed", Topic("fixed", "abc"))
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, hub.Publish(context.Background(), testBatch()))

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	var msg struct {
		Type string       `json:"type"`
		Data stream.Batch `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MessageTypeScans, msg.Type)
	assert.Equal(t, uint64(4), msg.Data.Sequence)
	assert.Equal(t, [][]float64{{0.5, -1}, {0.25, 2}}, msg.Data.Scans)

	require.NoError(t, hub.Close())
	assert.Equal(t, 0, hub.Clients())
}
