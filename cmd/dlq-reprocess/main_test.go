package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"testing"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/kafka"
)

func TestDecodeDLQMessage_ConsumerWrapper(t *testing.T) {
	t.Parallel()

	value, _ := json.Marshal(map[string]string{
		"original_topic": kafka.TopicDeliveryRequests,
		"original_key":   "warehouse-1",
		"original_value": `{"warehouse_id":1,"carrier_id":2}`,
	})

	candidate, err := decodeDLQMessage(value, kafka.TopicOrderEvents)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if candidate.Topic != kafka.TopicDeliveryRequests {
		t.Fatalf("unexpected topic: %s", candidate.Topic)
	}
	if candidate.Key != "warehouse-1" {
		t.Fatalf("unexpected key: %s", candidate.Key)
	}
	if string(candidate.value) != `{"warehouse_id":1,"carrier_id":2}` {
		t.Fatalf("unexpected value: %s", candidate.value)
	}
}

func TestDecodeDLQMessage_ConsumerWrapperFallbackTopic(t *testing.T) {
	t.Parallel()

	value, _ := json.Marshal(map[string]string{
		"original_key":   "k",
		"original_value": "v",
	})

	candidate, err := decodeDLQMessage(value, kafka.TopicOrderEvents)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if candidate.Topic != kafka.TopicOrderEvents {
		t.Fatalf("expected fallback topic, got %s", candidate.Topic)
	}
}

func TestDecodeDLQMessage_OutboxEnvelope(t *testing.T) {
	t.Parallel()

	value, _ := json.Marshal(map[string]any{
		"id":             "11111111-1111-1111-1111-111111111111",
		"aggregate_type": "delivery",
		"aggregate_id":   "1-3-7",
		"event_type":     "order.delivered",
		"payload":        map[string]int{"warehouse_id": 1},
	})

	candidate, err := decodeDLQMessage(value, kafka.TopicOrderEvents)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if candidate.Topic != kafka.TopicDeliveryEvents {
		t.Fatalf("delivery aggregate must route to delivery topic, got %s", candidate.Topic)
	}
	if candidate.Key != "1-3-7" {
		t.Fatalf("unexpected key: %s", candidate.Key)
	}

	var replay struct {
		EventType   string          `json:"event_type"`
		Payload     json.RawMessage `json:"payload"`
		PublishedAt time.Time       `json:"published_at"`
	}
	if err := json.Unmarshal(candidate.value, &replay); err != nil {
		t.Fatalf("replay envelope is not json: %v", err)
	}
	if replay.EventType != "order.delivered" {
		t.Fatalf("unexpected event type: %s", replay.EventType)
	}
	if len(replay.Payload) == 0 || replay.PublishedAt.IsZero() {
		t.Fatalf("replay envelope incomplete: %+v", replay)
	}
}

func TestDecodeDLQMessage_Garbage(t *testing.T) {
	t.Parallel()

	if _, err := decodeDLQMessage([]byte("not json"), kafka.TopicOrderEvents); err == nil {
		t.Fatal("expected error for non-json message")
	}
	if _, err := decodeDLQMessage([]byte(`{"unrelated":true}`), kafka.TopicOrderEvents); err == nil {
		t.Fatal("expected error for message without replayable event")
	}
}

type stubOffsets struct {
	partitions []int32
	oldest     int64
	newest     int64
}

func (s stubOffsets) Partitions(string) ([]int32, error) {
	return s.partitions, nil
}

func (s stubOffsets) GetOffset(_ string, _ int32, at int64) (int64, error) {
	if at == sarama.OffsetOldest {
		return s.oldest, nil
	}
	return s.newest, nil
}

type stubStream struct {
	messages chan *sarama.ConsumerMessage
	errors   chan *sarama.ConsumerError
}

func (s *stubStream) Messages() <-chan *sarama.ConsumerMessage { return s.messages }
func (s *stubStream) Errors() <-chan *sarama.ConsumerError     { return s.errors }
func (s *stubStream) Close() error                             { return nil }

type stubOpener struct {
	byPartition map[int32][]*sarama.ConsumerMessage
}

func (o stubOpener) ConsumePartition(_ string, partition int32, _ int64) (partitionStream, error) {
	stream := &stubStream{
		messages: make(chan *sarama.ConsumerMessage, len(o.byPartition[partition])),
		errors:   make(chan *sarama.ConsumerError),
	}
	for _, msg := range o.byPartition[partition] {
		stream.messages <- msg
	}
	return stream, nil
}

type stubSender struct {
	sent []*sarama.ProducerMessage
	err  error
}

func (s *stubSender) SendMessage(msg *sarama.ProducerMessage) (int32, int64, error) {
	if s.err != nil {
		return 0, 0, s.err
	}
	s.sent = append(s.sent, msg)
	return msg.Partition, int64(len(s.sent)), nil
}

func dlqMessage(t *testing.T, partition int32, offset int64, payload map[string]any) *sarama.ConsumerMessage {
	t.Helper()

	value, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal dlq payload: %v", err)
	}
	return &sarama.ConsumerMessage{Partition: partition, Offset: offset, Value: value}
}

func newTestScanner(cfg replayConfig, offsets offsetReader, opener streamOpener, sender messageSender) *dlqScanner {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	return &dlqScanner{
		cfg:      cfg,
		offsets:  offsets,
		streams:  opener,
		producer: sender,
		logger:   logger.WithField("component", "dlq-reprocess-test"),
	}
}

func TestScannerDryRunCountsCandidates(t *testing.T) {
	t.Parallel()

	opener := stubOpener{byPartition: map[int32][]*sarama.ConsumerMessage{
		0: {
			dlqMessage(t, 0, 0, map[string]any{
				"original_topic": kafka.TopicDeliveryRequests,
				"original_key":   "warehouse-1",
				"original_value": "{}",
			}),
			dlqMessage(t, 0, 1, map[string]any{"unrelated": true}),
		},
	}}

	scanner := newTestScanner(replayConfig{
		dlqTopic:    kafka.TopicDeadLetterQueue,
		fallback:    kafka.TopicOrderEvents,
		limit:       10,
		idleTimeout: 50 * time.Millisecond,
	}, stubOffsets{partitions: []int32{0}, newest: 2}, opener, nil)

	summary, err := scanner.Run(context.Background())
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if summary.Mode != "dry-run" {
		t.Fatalf("unexpected mode: %s", summary.Mode)
	}
	if summary.Scanned != 2 || summary.Replayed != 1 || summary.Skipped != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestScannerExecuteRepublishes(t *testing.T) {
	t.Parallel()

	opener := stubOpener{byPartition: map[int32][]*sarama.ConsumerMessage{
		0: {
			dlqMessage(t, 0, 0, map[string]any{
				"id":             "id-1",
				"aggregate_type": "order",
				"aggregate_id":   "1-1-1",
				"event_type":     "order.created",
				"payload":        map[string]int{"order_id": 1},
			}),
		},
	}}
	sender := &stubSender{}

	scanner := newTestScanner(replayConfig{
		dlqTopic:    kafka.TopicDeadLetterQueue,
		fallback:    kafka.TopicOrderEvents,
		limit:       10,
		execute:     true,
		idleTimeout: 50 * time.Millisecond,
	}, stubOffsets{partitions: []int32{0}, newest: 1}, opener, sender)

	summary, err := scanner.Run(context.Background())
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if summary.Replayed != 1 || summary.Skipped != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 republished message, got %d", len(sender.sent))
	}
	if sender.sent[0].Topic != kafka.TopicOrderEvents {
		t.Fatalf("unexpected target topic: %s", sender.sent[0].Topic)
	}
}

func TestScannerExecuteRequiresProducer(t *testing.T) {
	t.Parallel()

	scanner := newTestScanner(replayConfig{
		dlqTopic: kafka.TopicDeadLetterQueue,
		execute:  true,
		limit:    1,
	}, stubOffsets{}, stubOpener{}, nil)

	if _, err := scanner.Run(context.Background()); err == nil {
		t.Fatal("expected error when producer is missing in execute mode")
	}
}

func TestScannerRespectsLimit(t *testing.T) {
	t.Parallel()

	messages := make([]*sarama.ConsumerMessage, 0, 5)
	for i := int64(0); i < 5; i++ {
		messages = append(messages, dlqMessage(t, 0, i, map[string]any{
			"original_key":   "k",
			"original_value": "v",
		}))
	}
	opener := stubOpener{byPartition: map[int32][]*sarama.ConsumerMessage{0: messages}}

	scanner := newTestScanner(replayConfig{
		dlqTopic:    kafka.TopicDeadLetterQueue,
		fallback:    kafka.TopicOrderEvents,
		limit:       3,
		idleTimeout: 50 * time.Millisecond,
	}, stubOffsets{partitions: []int32{0}, newest: 5}, opener, nil)

	summary, err := scanner.Run(context.Background())
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if summary.Scanned != 3 {
		t.Fatalf("limit not respected: %+v", summary)
	}
}

func withReplayCLIArgs(t *testing.T, args []string, fn func()) {
	t.Helper()

	oldArgs := os.Args
	oldCommandLine := flag.CommandLine

	os.Args = append([]string{"dlq-reprocess"}, args...)
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	defer func() {
		os.Args = oldArgs
		flag.CommandLine = oldCommandLine
	}()

	fn()
}

func TestParseReplayFlagsDefaults(t *testing.T) {
	t.Setenv("FULFILLMENT_KAFKA_BROKERS", "broker-1:9092, broker-2:9092")

	withReplayCLIArgs(t, nil, func() {
		cfg, err := parseReplayFlags()
		if err != nil {
			t.Fatalf("parse flags: %v", err)
		}
		if cfg.dlqTopic != kafka.TopicDeadLetterQueue {
			t.Errorf("dlq topic = %q, want %q", cfg.dlqTopic, kafka.TopicDeadLetterQueue)
		}
		if cfg.fallback != kafka.TopicOrderEvents {
			t.Errorf("fallback topic = %q, want %q", cfg.fallback, kafka.TopicOrderEvents)
		}
		if len(cfg.brokers) != 2 || cfg.brokers[0] != "broker-1:9092" {
			t.Errorf("brokers = %v, want two trimmed entries", cfg.brokers)
		}
		if cfg.limit != defaultScanLimit {
			t.Errorf("limit = %d, want %d", cfg.limit, defaultScanLimit)
		}
	})
}

func TestParseReplayFlagsRequiresBrokers(t *testing.T) {
	t.Setenv("FULFILLMENT_KAFKA_BROKERS", "")

	withReplayCLIArgs(t, nil, func() {
		if _, err := parseReplayFlags(); err == nil {
			t.Fatal("expected error without brokers")
		}
	})
}
