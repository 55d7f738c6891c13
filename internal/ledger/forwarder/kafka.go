package forwarder

import (
	"context"
	"encoding/json"
	"fmt"

	"attendguard/internal/ledger"
	"attendguard/internal/platform/kafka"
)

// Producer is the subset of kafka.Producer used by KafkaSink.
type Producer interface {
	Produce(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaSink publishes entries as JSON records keyed by subject so one subject's
// entries stay ordered within a partition.
type KafkaSink struct {
	producer Producer
}

func NewKafkaSink(producer Producer) *KafkaSink {
	return &KafkaSink{producer: producer}
}

func (s *KafkaSink) Send(ctx context.Context, entries []ledger.Entry) error {
	msgs := make([]kafka.Message, 0, len(entries))
	for _, e := range entries {
		value, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal ledger entry %s: %w", e.EventID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(e.SubjectID),
			Value: value,
			Headers: map[string]string{
				"event_id": e.EventID,
				"category": string(e.Category),
				"severity": string(e.Severity),
			},
		})
	}
	return s.producer.Produce(ctx, msgs...)
}
