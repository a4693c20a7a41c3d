package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	FeedBaseURL string
	FeedAPIKey  string
	FeedTimeout time.Duration
	RegistryURL string
	Channels    []string

	StoreBackend  string
	DBPath        string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	HTTPAddr               string
	PollInterval           time.Duration
	LocationHistoryResults int
	HistoryDays            int
	HistoryRenderCap       int
	ExportResults          int
	ExportDir              string

	LoggerInterval       time.Duration
	LoggerBufferLimit    int
	LoggerInitialResults int

	KafkaEnabled  bool
	KafkaBrokers  string
	SnapshotTopic string
	CommandTopic  string
	ConsumerGroup string

	MQTTEnabled  bool
	MQTTBroker   string
	MQTTClientID string
	MQTTUsername string
	MQTTPassword string

	LogToConsole bool
	LogFile      string
}

func LoadConfig() *Config {
	err := godotenv.Load() // Looks for ".env" in the current directory
	if err != nil {
		log.Println("No .env file found, using environment variables or default values")
	}

	return &Config{
		FeedBaseURL: getEnv("FEED_BASE_URL", "https://api.thingspeak.com/channels"),
		FeedAPIKey:  getEnv("FEED_API_KEY", ""),
		FeedTimeout: getDuration("FEED_TIMEOUT", 15*time.Second),
		RegistryURL: getEnv("REGISTRY_URL", ""),
		Channels:    splitList(getEnv("CHANNELS", "")),

		StoreBackend:  strings.ToLower(getEnv("STORE_BACKEND", "sqlite")),
		DBPath:        getEnv("DB_PATH", "vitals.db"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getInt("REDIS_DB", 0),

		HTTPAddr:               getEnv("HTTP_ADDR", ":8080"),
		PollInterval:           getDuration("POLL_INTERVAL", 30*time.Second),
		LocationHistoryResults: getInt("LOCATION_HISTORY_RESULTS", 20),
		HistoryDays:            getInt("HISTORY_DAYS", 1),
		HistoryRenderCap:       getInt("HISTORY_RENDER_CAP", 15),
		ExportResults:          getInt("EXPORT_RESULTS", 8000),
		ExportDir:              getEnv("EXPORT_DIR", "./exports"),

		LoggerInterval:       getDuration("LOGGER_INTERVAL", 5*time.Minute),
		LoggerBufferLimit:    getInt("LOGGER_BUFFER_LIMIT", 1000),
		LoggerInitialResults: getInt("LOGGER_INITIAL_RESULTS", 100),

		KafkaEnabled:  getBool("KAFKA_ENABLED", false),
		KafkaBrokers:  getEnv("KAFKA_BROKERS", "localhost:9092"),
		SnapshotTopic: getEnv("SNAPSHOT_TOPIC", "patient-vitals-snapshot-topic"),
		CommandTopic:  getEnv("COMMAND_TOPIC", "patient-vitals-command-topic"),
		ConsumerGroup: getEnv("CONSUMER_GROUP", "vital_watch"),

		MQTTEnabled:  getBool("MQTT_ENABLED", false),
		MQTTBroker:   getEnv("MQTT_BROKER_URL", "tcp://localhost:1883"),
		MQTTClientID: getEnv("MQTT_CLIENT_ID", "VitalWatch_local"),
		MQTTUsername: getEnv("MQTT_USERNAME", ""),
		MQTTPassword: getEnv("MQTT_PASSWORD", ""),

		LogToConsole: getBool("LOG_TO_CONSOLE", false),
		LogFile:      getEnv("LOG_FILE", "./logs/vital-watch.log"),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	return strings.EqualFold(value, "true")
}

func getInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		log.Printf("Invalid integer for %s (%q), using %d", key, value, fallback)
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil || d <= 0 {
		log.Printf("Invalid duration for %s (%q), using %s", key, value, fallback)
		return fallback
	}
	return d
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
