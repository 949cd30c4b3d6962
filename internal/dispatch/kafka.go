package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/CanSsever/qoder-deneme-sub000/internal/infra"
)

// JobMessage is the Kafka payload announcing a job ready for processing.
type JobMessage struct {
	JobID   string `json:"job_id"`
	TraceID string `json:"trace_id,omitempty"`
}

// ParseJobMessage accepts the JSON form or a bare job id.
func ParseJobMessage(value []byte) (JobMessage, error) {
	raw := strings.TrimSpace(string(value))
	if raw == "" {
		return JobMessage{}, errors.New("empty message")
	}
	if strings.HasPrefix(raw, "{") {
		var msg JobMessage
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			return JobMessage{}, fmt.Errorf("decode job message: %w", err)
		}
		msg.JobID = strings.TrimSpace(msg.JobID)
		if msg.JobID == "" {
			return JobMessage{}, errors.New("job message without job_id")
		}
		return msg, nil
	}
	return JobMessage{JobID: raw}, nil
}

// Consumer reads job ids from a Kafka consumer group.
type Consumer struct {
	group     sarama.ConsumerGroup
	topic     string
	processor Processor
	pool      *Pool
	logger    *infra.Logger
}

// ConsumerOptions configures NewConsumer.
type ConsumerOptions struct {
	Brokers   []string
	Topic     string
	GroupID   string
	Processor Processor
	Pool      *Pool
	Logger    *infra.Logger
}

func NewConsumer(opts ConsumerOptions) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetOldest

	group, err := sarama.NewConsumerGroup(opts.Brokers, opts.GroupID, config)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer group: %w", err)
	}
	return &Consumer{
		group:     group,
		topic:     opts.Topic,
		processor: opts.Processor,
		pool:      opts.Pool,
		logger:    infra.LoggerOrNop(opts.Logger),
	}, nil
}

// Run consumes until ctx is done. Consume returns on every rebalance, so it
// is called in a loop.
func (c *Consumer) Run(ctx context.Context) error {
	handler := &groupHandler{processor: c.processor, pool: c.pool, logger: c.logger}
	c.logger.Info().Str("topic", c.topic).Msg("worker: kafka consumer started")
	for {
		if err := c.group.Consume(ctx, []string{c.topic}, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			c.logger.Error().Err(err).Msg("worker: kafka consume failed")
			if serr := sleepContext(ctx, time.Second); serr != nil {
				return serr
			}
		}
		if ctx.Err() != nil {
			c.pool.Wait()
			return ctx.Err()
		}
	}
}

func (c *Consumer) Close() error {
	return c.group.Close()
}

// groupHandler processes each claimed message on its partition goroutine
// and marks it once the orchestrator returned, giving at-least-once runs.
// Re-running a finished job is a no-op because terminal jobs are skipped.
type groupHandler struct {
	processor Processor
	pool      *Pool
	logger    *infra.Logger
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			job, err := ParseJobMessage(msg.Value)
			if err != nil {
				h.logger.Warn().Err(err).Int64("offset", msg.Offset).Msg("worker: dropping malformed message")
				session.MarkMessage(msg, "")
				continue
			}
			ran := h.pool.Do(ctx, func(ctx context.Context) {
				h.logger.Info().Str("job_id", job.JobID).Str("trace_id", job.TraceID).Msg("worker: picked job")
				logResult(h.logger, h.processor.Process(ctx, job.JobID))
			})
			if !ran || ctx.Err() != nil {
				// Leave the offset so the job is redelivered after rebalance.
				return nil
			}
			session.MarkMessage(msg, "")
		}
	}
}

// Producer publishes job ids for the consumer group.
type Producer struct {
	producer sarama.SyncProducer
	topic    string
}

func NewProducer(brokers []string, topic string) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true

	p, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return NewProducerFrom(p, topic), nil
}

// NewProducerFrom wraps an existing sync producer.
func NewProducerFrom(p sarama.SyncProducer, topic string) *Producer {
	return &Producer{producer: p, topic: topic}
}

// Enqueue publishes one job id keyed by itself so retries of the same job
// land on the same partition.
func (p *Producer) Enqueue(ctx context.Context, msg JobMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, _, err = p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(msg.JobID),
		Value: sarama.ByteEncoder(data),
	})
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", msg.JobID, err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.producer.Close()
}
