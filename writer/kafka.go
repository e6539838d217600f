package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafka "github.com/segmentio/kafka-go"
	"golang.org/x/time/rate"

	appconfig "depthflow/config"
	"depthflow/logger"
	"depthflow/market"
	"depthflow/metrics"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher sends each record as a JSON object of its selected
// variables, keyed by instrument so one partition keeps an instrument's
// order. Sends are throttled to kafka.max_messages_per_second.
type KafkaPublisher struct {
	config  *appconfig.Config
	writer  messageWriter
	limiter *rate.Limiter
	log     *logger.Log
}

func NewKafkaPublisher(cfg *appconfig.Config) (*KafkaPublisher, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Kafka.Brokers...),
		Topic:        cfg.Kafka.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.Kafka.BatchSize,
		BatchTimeout: 50 * time.Millisecond,
	}
	kp := newKafkaPublisher(cfg, w)
	kp.log.WithComponent("kafka_publisher").WithFields(logger.Fields{
		"brokers": cfg.Kafka.Brokers,
		"topic":   cfg.Kafka.Topic,
	}).Debug("kafka publisher initialized")
	return kp, nil
}

func newKafkaPublisher(cfg *appconfig.Config, w messageWriter) *KafkaPublisher {
	rps := cfg.Kafka.MaxMessagesPerSecond
	limit := rate.Inf
	burst := 1
	if rps > 0 {
		limit = rate.Limit(rps)
		burst = rps
	}
	return &KafkaPublisher{
		config:  cfg,
		writer:  w,
		limiter: rate.NewLimiter(limit, burst),
		log:     logger.GetLogger(),
	}
}

// Publish sends one record.
func (kp *KafkaPublisher) Publish(ctx context.Context, e metrics.Entry) error {
	if err := kp.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait: %w", err)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(market.Key{Symbol: e.Symbol, Market: e.Market}.String()),
		Value: data,
		Time:  time.UnixMicro(e.TimestampOfReceive),
	}
	if err := kp.writer.WriteMessages(ctx, msg); err != nil {
		kp.log.WithComponent("kafka_publisher").WithError(err).Warn("failed to write message")
		return err
	}
	logger.IncrementKafkaMessage(len(data))
	return nil
}

// Callback adapts Publish to the backtest callback signature.
func (kp *KafkaPublisher) Callback(ctx context.Context) func(metrics.Entry) error {
	return func(e metrics.Entry) error { return kp.Publish(ctx, e) }
}

func (kp *KafkaPublisher) Close() error {
	kp.log.WithComponent("kafka_publisher").Debug("closing kafka publisher")
	return kp.writer.Close()
}
