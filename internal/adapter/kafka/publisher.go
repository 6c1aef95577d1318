package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/covid-at-etl/internal/config"
	"github.com/couchcryptid/covid-at-etl/internal/domain"
	"github.com/couchcryptid/covid-at-etl/internal/pipeline"
	kafkago "github.com/segmentio/kafka-go"
)

// messageWriter is the subset of *kafkago.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// DailyFigures is the JSON payload published for each stored metric.
type DailyFigures struct {
	Metric      string                   `json:"metric"`
	Date        string                   `json:"date"`
	Values      domain.Values            `json:"values"`
	Consistency domain.ConsistencyResult `json:"consistency"`
}

// Publisher announces the figures of every stored metric on a Kafka topic.
// It implements pipeline.Notifier.
type Publisher struct {
	writer messageWriter
	logger *slog.Logger
}

// NewPublisher creates a Kafka producer for the configured topic.
func NewPublisher(cfg *config.Config, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: false,
	}
	return &Publisher{writer: w, logger: logger}
}

func (p *Publisher) Name() string { return "kafka" }

// Notify publishes one message per stored metric in a single WriteMessages
// call. Failed metrics are not published.
func (p *Publisher) Notify(ctx context.Context, rep *pipeline.Report) error {
	stored := rep.Stored()
	if len(stored) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, 0, len(stored))
	for _, m := range stored {
		msg, err := serializeToMessage(rep, m)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish daily figures: %w", err)
	}
	p.logger.Debug("daily figures published", "run_id", rep.RunID, "messages", len(msgs))
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// serializeToMessage keys the message by metric and date so that a re-run
// for the same day lands on the same partition as the original.
func serializeToMessage(rep *pipeline.Report, m pipeline.MetricResult) (kafkago.Message, error) {
	date := domain.FormatDate(rep.ReportDate)
	data, err := json.Marshal(DailyFigures{
		Metric:      m.Kind.String(),
		Date:        date,
		Values:      m.Values,
		Consistency: m.Consistency,
	})
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize %s figures: %w", m.Kind, err)
	}
	return kafkago.Message{
		Key:   []byte(m.Kind.String() + "/" + date),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "metric", Value: []byte(m.Kind.String())},
			{Key: "report_date", Value: []byte(date)},
			{Key: "run_id", Value: []byte(rep.RunID)},
		},
	}, nil
}
