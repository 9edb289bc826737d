// Команда dlq-reprocess перекладывает сообщения из DLQ-топика обратно в
// рабочие топики. По умолчанию работает в режиме dry-run: только считает
// и печатает кандидатов; повторная публикация включается флагом -execute.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/kafka"
)

const (
	defaultScanLimit   = 100
	defaultIdleTimeout = 2 * time.Second
)

type replayConfig struct {
	brokers     []string
	dlqTopic    string
	fallback    string
	limit       int
	execute     bool
	tail        bool
	idleTimeout time.Duration
}

// replayCandidate — восстановленное из DLQ сообщение и топик назначения.
type replayCandidate struct {
	Topic string `json:"topic"`
	Key   string `json:"key"`
	value []byte
}

type replaySummary struct {
	Mode     string `json:"mode"`
	Scanned  int    `json:"scanned"`
	Replayed int    `json:"replayed"`
	Skipped  int    `json:"skipped"`
}

// Узкие интерфейсы вместо sarama-типов, чтобы сканер тестировался без брокера.
type offsetReader interface {
	Partitions(topic string) ([]int32, error)
	GetOffset(topic string, partition int32, at int64) (int64, error)
}

type partitionStream interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type streamOpener interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionStream, error)
}

type messageSender interface {
	SendMessage(msg *sarama.ProducerMessage) (int32, int64, error)
}

// dlqScanner обходит разделы DLQ-топика и решает судьбу каждого сообщения.
type dlqScanner struct {
	cfg      replayConfig
	offsets  offsetReader
	streams  streamOpener
	producer messageSender
	logger   *log.Entry
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	cfg, err := parseReplayFlags()
	if err != nil {
		fail("%v", err)
	}

	summary, err := runReplay(context.Background(), cfg)
	if err != nil {
		fail("dlq replay failed: %v", err)
	}

	encoded, _ := json.MarshalIndent(summary, "", "  ")
	fmt.Println(string(encoded))
}

func parseReplayFlags() (replayConfig, error) {
	var (
		brokersFlag string
		cfg         replayConfig
	)

	flag.StringVar(&brokersFlag, "brokers", "", "kafka brokers, comma separated (default $FULFILLMENT_KAFKA_BROKERS)")
	flag.StringVar(&cfg.dlqTopic, "dlq-topic", kafka.TopicDeadLetterQueue, "source DLQ topic")
	flag.StringVar(&cfg.fallback, "fallback-topic", kafka.TopicOrderEvents, "target topic when the origin cannot be derived")
	flag.IntVar(&cfg.limit, "limit", defaultScanLimit, "max messages to scan")
	flag.BoolVar(&cfg.execute, "execute", false, "republish candidates instead of dry-run")
	flag.BoolVar(&cfg.tail, "tail", false, "scan from the newest offsets backwards-bounded by limit")
	flag.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "stop a partition after this silence")
	flag.Parse()

	if brokersFlag == "" {
		brokersFlag = os.Getenv("FULFILLMENT_KAFKA_BROKERS")
	}
	for _, broker := range strings.Split(brokersFlag, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			cfg.brokers = append(cfg.brokers, broker)
		}
	}
	if len(cfg.brokers) == 0 {
		return replayConfig{}, fmt.Errorf("kafka brokers are required (-brokers or FULFILLMENT_KAFKA_BROKERS)")
	}
	if cfg.limit <= 0 {
		cfg.limit = defaultScanLimit
	}
	if cfg.idleTimeout <= 0 {
		cfg.idleTimeout = defaultIdleTimeout
	}
	return cfg, nil
}

func runReplay(ctx context.Context, cfg replayConfig) (replaySummary, error) {
	clientConfig := sarama.NewConfig()
	clientConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, clientConfig)
	if err != nil {
		return replaySummary{}, fmt.Errorf("create kafka client: %w", err)
	}
	defer func() { _ = client.Close() }()

	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		return replaySummary{}, fmt.Errorf("create kafka consumer: %w", err)
	}
	defer func() { _ = consumer.Close() }()

	scanner := &dlqScanner{
		cfg:     cfg,
		offsets: client,
		streams: saramaStreamOpener{consumer},
		logger:  log.WithField("component", "dlq-reprocess"),
	}

	if cfg.execute {
		producerConfig := sarama.NewConfig()
		producerConfig.Producer.RequiredAcks = sarama.WaitForAll
		producerConfig.Producer.Retry.Max = 5
		producerConfig.Producer.Return.Successes = true
		producerConfig.Producer.Compression = sarama.CompressionSnappy
		producerConfig.Producer.Idempotent = true
		producerConfig.Net.MaxOpenRequests = 1

		producer, err := sarama.NewSyncProducer(cfg.brokers, producerConfig)
		if err != nil {
			return replaySummary{}, fmt.Errorf("create kafka producer: %w", err)
		}
		defer func() { _ = producer.Close() }()
		scanner.producer = producer
	}

	return scanner.Run(ctx)
}

type saramaStreamOpener struct {
	consumer sarama.Consumer
}

func (o saramaStreamOpener) ConsumePartition(topic string, partition int32, offset int64) (partitionStream, error) {
	stream, err := o.consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// Run обходит все разделы DLQ-топика, пока не исчерпан лимит сообщений.
func (s *dlqScanner) Run(ctx context.Context) (replaySummary, error) {
	summary := replaySummary{Mode: "dry-run"}
	if s.cfg.execute {
		summary.Mode = "execute"
		if s.producer == nil {
			return summary, fmt.Errorf("producer is required in execute mode")
		}
	}

	partitions, err := s.offsets.Partitions(s.cfg.dlqTopic)
	if err != nil {
		return summary, fmt.Errorf("partitions of %s: %w", s.cfg.dlqTopic, err)
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	for _, partition := range partitions {
		if summary.Scanned >= s.cfg.limit {
			break
		}
		if err := s.scanPartition(ctx, partition, &summary); err != nil {
			return summary, err
		}
	}

	s.logger.WithFields(log.Fields{
		"mode":     summary.Mode,
		"scanned":  summary.Scanned,
		"replayed": summary.Replayed,
		"skipped":  summary.Skipped,
	}).Info("dlq scan finished")

	return summary, nil
}

func (s *dlqScanner) scanPartition(ctx context.Context, partition int32, summary *replaySummary) error {
	oldest, err := s.offsets.GetOffset(s.cfg.dlqTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return fmt.Errorf("oldest offset of partition %d: %w", partition, err)
	}
	newest, err := s.offsets.GetOffset(s.cfg.dlqTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return fmt.Errorf("newest offset of partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return nil
	}

	remaining := s.cfg.limit - summary.Scanned
	start := oldest
	if s.cfg.tail {
		if start = newest - int64(remaining); start < oldest {
			start = oldest
		}
	}

	stream, err := s.streams.ConsumePartition(s.cfg.dlqTopic, partition, start)
	if err != nil {
		return fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = stream.Close() }()

	idle := time.NewTimer(s.cfg.idleTimeout)
	defer idle.Stop()

	for summary.Scanned < s.cfg.limit {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-stream.Errors():
			if err != nil {
				return fmt.Errorf("partition %d: %w", partition, err)
			}
		case msg, ok := <-stream.Messages():
			if !ok || msg == nil || msg.Offset >= newest {
				return nil
			}

			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(s.cfg.idleTimeout)

			s.handleMessage(msg, summary)

			if msg.Offset+1 >= newest {
				return nil
			}
		case <-idle.C:
			return nil
		}
	}
	return nil
}

func (s *dlqScanner) handleMessage(msg *sarama.ConsumerMessage, summary *replaySummary) {
	summary.Scanned++

	candidate, err := decodeDLQMessage(msg.Value, s.cfg.fallback)
	if err != nil {
		summary.Skipped++
		s.logger.WithError(err).WithFields(log.Fields{
			"partition": msg.Partition,
			"offset":    msg.Offset,
		}).Warn("skip undecodable dlq message")
		return
	}

	if !s.cfg.execute {
		s.logger.WithFields(log.Fields{
			"partition": msg.Partition,
			"offset":    msg.Offset,
			"topic":     candidate.Topic,
			"key":       candidate.Key,
		}).Info("replay candidate")
		summary.Replayed++
		return
	}

	if _, _, err := s.producer.SendMessage(&sarama.ProducerMessage{
		Topic:     candidate.Topic,
		Key:       sarama.StringEncoder(candidate.Key),
		Value:     sarama.ByteEncoder(candidate.value),
		Timestamp: time.Now().UTC(),
	}); err != nil {
		summary.Skipped++
		s.logger.WithError(err).WithFields(log.Fields{
			"partition": msg.Partition,
			"offset":    msg.Offset,
		}).Warn("replay publish failed")
		return
	}
	summary.Replayed++
}

// В DLQ попадают сообщения двух видов: обёртки consumer-а с исходным
// сообщением внутри и конверты outbox-воркера. decodeDLQMessage
// восстанавливает из обоих сообщение и топик для повторной публикации.
func decodeDLQMessage(value []byte, fallbackTopic string) (replayCandidate, error) {
	var wrapped struct {
		OriginalTopic string `json:"original_topic"`
		OriginalKey   string `json:"original_key"`
		OriginalValue string `json:"original_value"`
	}
	if err := json.Unmarshal(value, &wrapped); err == nil && wrapped.OriginalValue != "" {
		topic := strings.TrimSpace(wrapped.OriginalTopic)
		if topic == "" {
			topic = fallbackTopic
		}
		return replayCandidate{
			Topic: topic,
			Key:   wrapped.OriginalKey,
			value: []byte(wrapped.OriginalValue),
		}, nil
	}

	var envelope struct {
		ID            string          `json:"id"`
		AggregateType string          `json:"aggregate_type"`
		AggregateID   string          `json:"aggregate_id"`
		EventType     string          `json:"event_type"`
		Payload       json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(value, &envelope); err != nil {
		return replayCandidate{}, fmt.Errorf("decode dlq message: %w", err)
	}
	if len(envelope.Payload) == 0 || envelope.EventType == "" {
		return replayCandidate{}, fmt.Errorf("dlq message carries no replayable event")
	}

	replay, err := json.Marshal(map[string]any{
		"id":             envelope.ID,
		"aggregate_type": envelope.AggregateType,
		"aggregate_id":   envelope.AggregateID,
		"event_type":     envelope.EventType,
		"payload":        envelope.Payload,
		"published_at":   time.Now().UTC(),
	})
	if err != nil {
		return replayCandidate{}, fmt.Errorf("encode replay envelope: %w", err)
	}

	key := envelope.AggregateID
	if key == "" {
		key = envelope.ID
	}

	topic := fallbackTopic
	if envelope.AggregateType != "" {
		topic = kafka.TopicForAggregate(envelope.AggregateType)
	}

	return replayCandidate{Topic: topic, Key: key, value: replay}, nil
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
