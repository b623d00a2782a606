package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"elt-service/service/pipeline"

	daprc "github.com/dapr/go-sdk/client"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/segmentio/kafka-go"
)

// KafkaSink 以 import_name 为消息键写入 Kafka
type KafkaSink struct {
	writer *kafka.Writer
}

// NewKafkaSink 创建 Kafka 渠道
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}}
}

// Name 实现 Sink
func (k *KafkaSink) Name() string { return "kafka" }

// Send 实现 Sink
func (k *KafkaSink) Send(ctx context.Context, o pipeline.RunOutcome) error {
	payload, err := json.Marshal(o)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(o.ImportName),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "run_id", Value: []byte(o.RunID)},
			{Key: "status", Value: []byte(o.Status)},
		},
	})
}

// Close 实现 Sink
func (k *KafkaSink) Close() error { return k.writer.Close() }

// MQTTSink 发布到 MQTT 主题 <topic>/<import_name>
type MQTTSink struct {
	client mqtt.Client
	topic  string
}

// NewMQTTSink 连接 broker 并创建渠道
func NewMQTTSink(broker, clientID, topic string) (*MQTTSink, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("MQTT连接超时: %s", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("MQTT连接失败: %w", err)
	}
	return &MQTTSink{client: client, topic: topic}, nil
}

// Name 实现 Sink
func (m *MQTTSink) Name() string { return "mqtt" }

// Send 实现 Sink
func (m *MQTTSink) Send(ctx context.Context, o pipeline.RunOutcome) error {
	payload, err := json.Marshal(o)
	if err != nil {
		return err
	}
	token := m.client.Publish(m.topic+"/"+o.ImportName, 1, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close 实现 Sink
func (m *MQTTSink) Close() error {
	m.client.Disconnect(250)
	return nil
}

// DaprSink 通过 Dapr sidecar 发布
type DaprSink struct {
	client daprc.Client
	pubsub string
	topic  string
}

// NewDaprSink 连接本地 sidecar
func NewDaprSink(pubsub, topic string) (*DaprSink, error) {
	client, err := daprc.NewClient()
	if err != nil {
		return nil, fmt.Errorf("连接 Dapr sidecar 失败: %w", err)
	}
	return &DaprSink{client: client, pubsub: pubsub, topic: topic}, nil
}

// Name 实现 Sink
func (d *DaprSink) Name() string { return "dapr" }

// Send 实现 Sink
func (d *DaprSink) Send(ctx context.Context, o pipeline.RunOutcome) error {
	return d.client.PublishEvent(ctx, d.pubsub, d.topic, o)
}

// Close 实现 Sink
func (d *DaprSink) Close() error {
	d.client.Close()
	return nil
}
