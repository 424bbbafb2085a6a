package sink

import (
	"context"
	"encoding/json"
	"fmt"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
	"strings"
	"t7stream/pkg/stream"
	"time"
)

const timestampLayout = "2006-01-02T15:04:05.000Z"

type PublishData struct {
	Payload Payload `json:"payload"`
}

type Payload struct {
	Data []TimeSeriesData `json:"data"`
}

type TimeSeriesData struct {
	Timestamp string      `json:"timestamp"`
	Values    []PointData `json:"values"`
}

type PointData struct {
	DataPointId string  `json:"dataPointId"`
	Value       float64 `json:"value"`
}

type MQTTOptions struct {
	Broker   string        `json:"broker"`
	ClientID string        `json:"clientId"`
	Username string        `json:"username"`
	Password string        `json:"-"`
	Topic    string        `json:"topic"`
	QoS      byte          `json:"qos"`
	Timeout  time.Duration `json:"timeout"`
}

// MQTTSink publishes each batch as one JSON message.
type MQTTSink struct {
	client  mqtt.Client
	topic   string
	qos     byte
	timeout time.Duration
	// period spaces the timestamps of the scans within a batch
	period time.Duration
}

// NewMQTTSink connects to the broker. Scans in a batch are stamped period apart.
func NewMQTTSink(o MQTTOptions, period time.Duration) (*MQTTSink, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetUsername(o.Username).
		SetPassword(o.Password).
		SetAutoReconnect(true).
		SetConnectTimeout(o.Timeout)
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(o.Timeout) {
		return nil, errors.Errorf("connect mqtt broker %s: timeout", o.Broker)
	}
	if err := token.Error(); err != nil {
		klog.V(1).InfoS("Failed to connect MQTT broker", "broker", o.Broker, "err", err)
		return nil, errors.Wrapf(err, "connect mqtt broker %s", o.Broker)
	}
	klog.V(2).InfoS("Connected MQTT broker", "broker", o.Broker)
	return newMQTTSink(client, o, period), nil
}

func newMQTTSink(client mqtt.Client, o MQTTOptions, period time.Duration) *MQTTSink {
	return &MQTTSink{
		client:  client,
		topic:   o.Topic,
		qos:     o.QoS,
		timeout: o.Timeout,
		period:  period,
	}
}

// Topic returns the topic for a session, expanding a single %s to its id.
func Topic(pattern, sessionID string) string {
	if pattern == "" {
		pattern = "data/t7stream/v1/%s"
	}
	if strings.Count(pattern, "%s") == 1 {
		return fmt.Sprintf(pattern, sessionID)
	}
	return pattern
}

func (m *MQTTSink) encode(batch *stream.Batch) PublishData {
	data := make([]TimeSeriesData, 0, len(batch.Scans))
	last := len(batch.Scans) - 1
	for i, scan := range batch.Scans {
		ts := batch.Timestamp.Add(-time.Duration(last-i) * m.period)
		values := make([]PointData, 0, len(scan))
		for c, v := range scan {
			values = append(values, PointData{DataPointId: pointID(batch.Addresses, c), Value: v})
		}
		data = append(data, TimeSeriesData{Timestamp: ts.UTC().Format(timestampLayout), Values: values})
	}
	return PublishData{Payload: Payload{Data: data}}
}

func pointID(addresses []uint32, i int) string {
	if i < len(addresses) {
		return fmt.Sprintf("AIN%d", addresses[i]/2)
	}
	return fmt.Sprintf("ch%d", i)
}

func (m *MQTTSink) Publish(_ context.Context, batch *stream.Batch) error {
	publishData := m.encode(batch)
	marshal, err := json.Marshal(publishData)
	if err != nil {
		return errors.Wrap(err, "marshal scans")
	}
	token := m.client.Publish(m.topic, m.qos, false, marshal)
	if token.WaitTimeout(m.timeout) && token.Error() == nil {
		klog.V(5).InfoS("Succeed to publish MQTT", "topic", m.topic, "scans", len(batch.Scans))
		return nil
	}
	klog.V(1).InfoS("Failed to publish MQTT", "topic", m.topic, "err", token.Error())
	if token.Error() != nil {
		return errors.Wrapf(token.Error(), "publish %s", m.topic)
	}
	return errors.Errorf("publish %s: timeout", m.topic)
}

func (m *MQTTSink) Close() error {
	m.client.Disconnect(2000)
	return nil
}
