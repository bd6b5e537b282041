package sink

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/rs/zerolog"

	"parking-service/internal/config"
	"parking-service/internal/domain/parking"
)

// KafkaPublisher streams crossing events to a Kafka topic for downstream
// consumers (analytics, remote dashboards). Delivery reports are drained
// in a background goroutine; Produce is retried a bounded number of
// times with exponential backoff.
type KafkaPublisher struct {
	producer     *kafka.Producer
	topic        string
	deliveryChan chan kafka.Event
	done         chan struct{}
	log          zerolog.Logger

	maxRetries  int
	baseBackoff time.Duration
}

func NewKafkaPublisher(cfg config.KafkaConfig, log zerolog.Logger) (*KafkaPublisher, error) {
	conf := &kafka.ConfigMap{
		"bootstrap.servers":  cfg.BootstrapServers,
		"enable.idempotence": true,
		"acks":               "all",
	}
	if cfg.SecurityProtocol != "" {
		_ = conf.SetKey("security.protocol", cfg.SecurityProtocol)
		_ = conf.SetKey("sasl.mechanism", cfg.SASLMechanism)
		_ = conf.SetKey("sasl.username", cfg.SASLUsername)
		_ = conf.SetKey("sasl.password", cfg.SASLPassword)
	}

	p, err := kafka.NewProducer(conf)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	kp := &KafkaPublisher{
		producer:     p,
		topic:        cfg.Topic,
		deliveryChan: make(chan kafka.Event, 1024),
		done:         make(chan struct{}),
		log:          log,
		maxRetries:   3,
		baseBackoff:  100 * time.Millisecond,
	}
	go kp.handleDeliveryReports()
	return kp, nil
}

func (kp *KafkaPublisher) handleDeliveryReports() {
	for {
		select {
		case <-kp.done:
			return
		case e := <-kp.deliveryChan:
			m, ok := e.(*kafka.Message)
			if !ok {
				continue
			}
			if m.TopicPartition.Error != nil {
				kp.log.Error().
					Err(m.TopicPartition.Error).
					Str("topic", kp.topic).
					Msg("crossing event delivery failed")
			}
		}
	}
}

// PublishCrossing sends one crossing event keyed by identity so all
// events for a vehicle land on the same partition in order.
func (kp *KafkaPublisher) PublishCrossing(event parking.CrossingEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal crossing event: %w", err)
	}

	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &kp.topic, Partition: kafka.PartitionAny},
		Key:            []byte(event.Identity),
		Value:          payload,
		Headers: []kafka.Header{
			{Key: "camera_id", Value: []byte(event.CameraID)},
			{Key: "direction", Value: []byte(event.Direction)},
		},
	}

	var lastErr error
	for attempt := 0; attempt <= kp.maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(kp.baseBackoff * time.Duration(1<<uint(attempt-1)))
		}
		if err := kp.producer.Produce(msg, kp.deliveryChan); err == nil {
			return nil
		} else {
			lastErr = err
			if kafkaErr, ok := err.(kafka.Error); ok && !kafkaErr.IsRetriable() {
				return fmt.Errorf("non-retriable produce error: %w", err)
			}
		}
	}
	return fmt.Errorf("produce failed after %d retries: %w", kp.maxRetries, lastErr)
}

// Close flushes pending messages and shuts down the producer.
func (kp *KafkaPublisher) Close() {
	remaining := kp.producer.Flush(int((10 * time.Second).Milliseconds()))
	if remaining > 0 {
		kp.log.Warn().Int("remaining", remaining).Msg("messages still queued after kafka flush timeout")
	}
	close(kp.done)
	kp.producer.Close()
}
