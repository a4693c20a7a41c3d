package handler

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"vital-watch/internal/config"
	"vital-watch/internal/models"

	"github.com/eclipse/paho.mqtt.golang"
)

const (
	TopicAlertOverride = "vitals/alert_override"
	TopicLoggerAction  = "vitals/logger_action"
	snapshotTopicFmt   = "vitals/snapshot/%s"
)

func NewMessageHandler(monitor *Monitor) mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		log.Printf("Received message: %s from topic: %s\n", msg.Payload(), msg.Topic())

		switch msg.Topic() {
		case TopicAlertOverride, TopicLoggerAction:
			monitor.RouteCommandMessage(msg.Payload())
		default:
			log.Printf("Unknown topic: %s", msg.Topic())
		}
	}
}

var connectHandler mqtt.OnConnectHandler = func(client mqtt.Client) {
	log.Println("Connected to MQTT broker")
	subscribeToTopics(client)
}

var connectLostHandler mqtt.ConnectionLostHandler = func(client mqtt.Client, err error) {
	log.Printf("Connection lost: %v", err)
}

func InitializeMQTT(cfg *config.Config, monitor *Monitor) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTTBroker)
	opts.SetClientID(cfg.MQTTClientID)
	opts.SetUsername(cfg.MQTTUsername)
	opts.SetPassword(cfg.MQTTPassword)
	opts.SetAutoReconnect(true)
	opts.SetDefaultPublishHandler(NewMessageHandler(monitor))
	opts.OnConnect = connectHandler
	opts.OnConnectionLost = connectLostHandler

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}

	return client, nil
}

func subscribeToTopics(client mqtt.Client) {
	topics := []string{TopicAlertOverride, TopicLoggerAction}
	for _, topic := range topics {
		token := client.Subscribe(topic, 1, nil)
		token.Wait()
		log.Printf("Subscribed to topic: %s", topic)
	}
}

// MQTTPublisher publishes each snapshot to vitals/snapshot/{channel}.
type MQTTPublisher struct {
	client  mqtt.Client
	timeout time.Duration
}

func NewMQTTPublisher(client mqtt.Client) *MQTTPublisher {
	return &MQTTPublisher{client: client, timeout: 5 * time.Second}
}

func SnapshotTopic(channelID string) string {
	return fmt.Sprintf(snapshotTopicFmt, channelID)
}

func (p *MQTTPublisher) PublishSnapshot(snapshot models.Snapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	token := p.client.Publish(SnapshotTopic(snapshot.ChannelID), 0, true, payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("publish to %s timed out", SnapshotTopic(snapshot.ChannelID))
	}
	return token.Error()
}
