package handler

import (
	"encoding/json"
	"log"

	"vital-watch/internal/models"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// KafkaPublisher produces every snapshot to a topic, keyed by channel.
type KafkaPublisher struct {
	producer *kafka.Producer
	topic    string
	done     chan struct{}
}

func NewKafkaPublisher(brokers, topic string) (*KafkaPublisher, error) {
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
		"acks":              "1",
	})
	if err != nil {
		return nil, err
	}
	p := &KafkaPublisher{producer: producer, topic: topic, done: make(chan struct{})}
	go p.drainEvents()
	return p, nil
}

func (p *KafkaPublisher) drainEvents() {
	defer close(p.done)
	for ev := range p.producer.Events() {
		switch e := ev.(type) {
		case *kafka.Message:
			if e.TopicPartition.Error != nil {
				log.Printf("[%s] Kafka delivery failed: %v", string(e.Key), e.TopicPartition.Error)
			}
		case kafka.Error:
			log.Printf("Kafka producer error: %v", e)
		}
	}
}

func (p *KafkaPublisher) PublishSnapshot(snapshot models.Snapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return p.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &p.topic, Partition: kafka.PartitionAny},
		Key:            []byte(snapshot.ChannelID),
		Value:          payload,
	}, nil)
}

// Close flushes pending messages for up to five seconds.
func (p *KafkaPublisher) Close() {
	if remaining := p.producer.Flush(5000); remaining > 0 {
		log.Printf("Kafka producer closed with %d undelivered snapshot(s)", remaining)
	}
	p.producer.Close()
	<-p.done
}
