package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"vital-watch/internal/api"
	"vital-watch/internal/config"
	"vital-watch/internal/database"
	"vital-watch/internal/export"
	"vital-watch/internal/feed"
	"vital-watch/internal/handler"
	"vital-watch/internal/history"
	"vital-watch/internal/location"
	"vital-watch/internal/recorder"
	"vital-watch/internal/registry"
	"vital-watch/internal/vitals"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/go-redis/redis/v8"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	log.Println("Starting Vital Watch Service...")
	cfg := config.LoadConfig()
	setupLogging(cfg.LogFile, cfg.LogToConsole)
	logConfiguration(cfg)

	repo, err := database.NewRepository(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer repo.Close()

	var store database.KVStore = repo
	if cfg.StoreBackend == "redis" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			log.Fatalf("Failed to connect to redis at %s: %v", cfg.RedisAddr, err)
		}
		store = database.NewRedisStore(rdb, "vitalwatch:")
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("Shutdown signal received, stopping pollers...")
		cancel()
	}()

	feeds := feed.NewClient(cfg.FeedBaseURL, cfg.FeedAPIKey, cfg.FeedTimeout)
	estimator := vitals.NewEstimator(nil)
	exporter := export.NewExporter(estimator)

	loggers := recorder.NewManager(ctx, feeds, store, repo, exporter, recorder.Options{
		Interval:       cfg.LoggerInterval,
		BufferLimit:    cfg.LoggerBufferLimit,
		InitialResults: cfg.LoggerInitialResults,
		ExportDir:      cfg.ExportDir,
		OnOverflow: func(channelID string, flushed int, path string) {
			log.Printf("[%s] ALERT: continuous log overflowed, %d records moved to %s", channelID, flushed, path)
		},
	})
	if err := loggers.Restore(); err != nil {
		log.Printf("Failed to restore logging sessions: %v", err)
	}

	var publishers []handler.Publisher
	if cfg.KafkaEnabled {
		producer, err := handler.NewKafkaPublisher(cfg.KafkaBrokers, cfg.SnapshotTopic)
		if err != nil {
			log.Fatalf("Failed to create Kafka producer: %v", err)
		}
		defer producer.Close()
		publishers = append(publishers, producer)
	}

	var channelSource handler.ChannelSource
	var patients api.PatientSource
	if cfg.RegistryURL != "" {
		reg := registry.NewClient(cfg.RegistryURL, cfg.FeedTimeout)
		channelSource = reg
		patients = reg
	}

	monitor := handler.NewMonitor(
		feeds,
		channelSource,
		vitals.NewParser(estimator),
		location.NewResolver(store),
		loggers,
		handler.MonitorOptions{StaticChannels: cfg.Channels, HistoryResults: cfg.LocationHistoryResults},
		publishers...,
	)

	if cfg.MQTTEnabled {
		mqttClient, err := handler.InitializeMQTT(cfg, monitor)
		if err != nil {
			log.Fatalf("Failed to initialize MQTT client: %v", err)
		}
		defer mqttClient.Disconnect(250)
		monitor.AddPublisher(handler.NewMQTTPublisher(mqttClient))
	}

	server := api.NewServer(api.Deps{
		Vitals:        monitor,
		History:       history.NewAssembler(feeds, estimator, cfg.HistoryRenderCap),
		Feeds:         feeds,
		Patients:      patients,
		Loggers:       loggers,
		Exporter:      exporter,
		ExportResults: cfg.ExportResults,
		HistoryDays:   cfg.HistoryDays,
	})
	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: server.Router()}

	var wg sync.WaitGroup
	wg.Add(2) // HTTP, Poll cycle

	go func() {
		defer wg.Done()
		go func() {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				log.Printf("HTTP shutdown error: %v", err)
			}
		}()
		log.Printf("HTTP API listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("HTTP server failed: %v", err)
			cancel()
		}
	}()

	go func() {
		defer wg.Done()
		monitor.RunPollCycle(ctx, cfg.PollInterval)
	}()

	if cfg.KafkaEnabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runConsumer(ctx, cfg, cfg.CommandTopic, monitor.RouteCommandMessage)
		}()
	}

	log.Println("🚀 Service started successfully. Monitoring vitals...")
	wg.Wait()
	log.Println("All services closed. Exiting.")
}

func runConsumer(ctx context.Context, cfg *config.Config, topic string, handlerFunc func([]byte)) {
	kafkaConfig := &kafka.ConfigMap{
		"bootstrap.servers": cfg.KafkaBrokers,
		"group.id":          cfg.ConsumerGroup,
		"auto.offset.reset": "latest",
	}

	consumer, err := kafka.NewConsumer(kafkaConfig)
	if err != nil {
		log.Printf("Failed to create consumer for topic %s: %v", topic, err)
		return
	}
	defer consumer.Close()

	if err := consumer.Subscribe(topic, nil); err != nil {
		log.Printf("Failed to subscribe to topic %s: %v", topic, err)
		return
	}

	log.Printf("Consumer started for topic '%s' with group ID '%s'", topic, cfg.ConsumerGroup)

	for {
		select {
		case <-ctx.Done():
			log.Printf("Stopping consumer for topic: %s", topic)
			return
		default:
			ev := consumer.Poll(100)
			if ev == nil {
				continue
			}
			switch e := ev.(type) {
			case *kafka.Message:
				handlerFunc(e.Value)
			case kafka.Error:
				fmt.Fprintf(os.Stderr, "%% Kafka Error: %v\n", e)
			}
		}
	}
}

func setupLogging(filename string, logToConsole bool) {
	logFile := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    5,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}
	if logToConsole {
		mw := io.MultiWriter(os.Stdout, logFile)
		log.SetOutput(mw)
	} else {
		log.SetOutput(logFile)
	}
}

func logConfiguration(cfg *config.Config) {
	log.Println("--- Service Configuration ---")
	log.Printf("Feed Base URL: %s", cfg.FeedBaseURL)
	log.Printf("Registry URL: %s", cfg.RegistryURL)
	log.Printf("Static Channels: %v", cfg.Channels)
	log.Printf("Store Backend: %s", cfg.StoreBackend)
	log.Printf("DB Path: %s", cfg.DBPath)
	log.Printf("HTTP Address: %s", cfg.HTTPAddr)
	log.Printf("Poll Interval: %s, Logger Interval: %s", cfg.PollInterval, cfg.LoggerInterval)
	log.Printf("History: %d day(s), render cap %d", cfg.HistoryDays, cfg.HistoryRenderCap)

	if cfg.KafkaEnabled {
		log.Printf("Kafka Brokers: %s (snapshots -> %s, commands <- %s)", cfg.KafkaBrokers, cfg.SnapshotTopic, cfg.CommandTopic)
	} else {
		log.Println("Kafka: [DISABLED]")
	}
	if cfg.MQTTEnabled {
		log.Printf("MQTT Broker URL: %s", cfg.MQTTBroker)
	} else {
		log.Println("MQTT: [DISABLED]")
	}

	if cfg.FeedAPIKey != "" {
		log.Println("Feed API Key: [SET]")
	} else {
		log.Println("Feed API Key: [NOT SET]")
	}

	if cfg.MQTTPassword != "" {
		log.Println("MQTT Password: [SET]")
	} else {
		log.Println("MQTT Password: [NOT SET]")
	}
	if cfg.RedisPassword != "" {
		log.Println("Redis Password: [SET]")
	} else {
		log.Println("Redis Password: [NOT SET]")
	}
	log.Println("---------------------------")
}
