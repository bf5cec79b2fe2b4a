// Package ingest publishes dispatch activity to Kafka for downstream
// consumers (presence mirror, analytics).
package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/campus-dispatch/internal/dispatch"
	"github.com/example/campus-dispatch/internal/models"
)

type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &Producer{writer: w}
}

func (p *Producer) publish(key string, v any) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: b})
}

// PublishDriver emits a driver status update keyed by driver id.
func (p *Producer) PublishDriver(d models.Driver) error {
	return p.publish(d.ID, d)
}

func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// EventPublisher adapts a Producer into a dispatch.Notifier so trip
// lifecycle events flow onto the event topic, best-effort.
type EventPublisher struct {
	Producer *Producer
}

func (e *EventPublisher) Notify(ev dispatch.Event) {
	key := ev.TripID
	if key == "" {
		key = ev.RequestID
	}
	_ = e.Producer.publish(key, ev)
}
