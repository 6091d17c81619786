// Package notify hands notification messages to the mailer pipeline. The
// service never sends email itself; it publishes a template envelope and the
// mailer consumer does the rendering and delivery.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/kmulambia/qgen-engine/internal/client"
	"github.com/kmulambia/qgen-engine/internal/util"
)

// Template names understood by the mailer consumer.
const (
	TemplateOTP     = "otp"
	TemplateWelcome = "welcome"
)

type Template struct {
	Name string         `json:"name"`
	Data map[string]any `json:"data"`
}

type Message struct {
	Template Template `json:"template"`
}

type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

type KafkaMailer struct {
	producer *client.KafkaProducer
	topic    string
}

func NewKafkaMailer(producer *client.KafkaProducer, topic string) *KafkaMailer {
	return &KafkaMailer{producer: producer, topic: topic}
}

func (m *KafkaMailer) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal mailer message: %w", err)
	}
	if err := m.producer.ProduceMessage(ctx, m.topic, []byte(msg.Template.Name), payload); err != nil {
		return fmt.Errorf("failed to enqueue mailer message: %w", err)
	}
	return nil
}

// NopMailer logs instead of publishing. Used when Kafka is disabled and in
// tests.
type NopMailer struct{}

func (NopMailer) Send(_ context.Context, msg Message) error {
	util.Debug("mailer disabled, dropping message",
		zap.String("template", msg.Template.Name))
	return nil
}
