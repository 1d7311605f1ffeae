package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"

	"seertix/pkg/config"
	"seertix/pkg/mockapi"
)

func main() {
	var (
		addr      string
		secret    string
		brokers   string
		logsTopic string
		logLevel  string
	)

	flag.StringVar(&addr, "http", ":5050", "HTTP listen address")
	flag.StringVar(&secret, "secret", "", "JWT signing secret, MOCKAPI_SECRET if empty")
	flag.StringVar(&brokers, "kafka", "", "Comma separated Kafka brokers for request logs, disabled if empty")
	flag.StringVar(&logsTopic, "logs-topic", "logs", "Kafka topic of request logs")
	flag.StringVar(&logLevel, "log", "info", "Log level: debug, info, warn, error.")
	flag.Parse()

	level, err := config.ParseLevel(logLevel)
	if err != nil {
		log.Fatalf("[server] %v", err)
	}
	log.SetLevel(level)

	if secret == "" {
		secret = os.Getenv("MOCKAPI_SECRET")
	}
	if secret == "" {
		log.Fatal("[server] missing JWT secret, set -secret or MOCKAPI_SECRET")
	}

	var kWriter *kafka.Writer
	if brokers != "" {
		kWriter = &kafka.Writer{
			Addr:                   kafka.TCP(strings.Split(brokers, ",")...),
			Topic:                  logsTopic,
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
		}
		defer kWriter.Close()
	}

	api := mockapi.New("mockapi", mockapi.NewStore(), secret, kWriter)

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Infof("[server] starting on %v", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("[server] failed to start: %v", err)
			return
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	shutdownCtx, shutdownRelease := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownRelease()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("[server] HTTP server shutdown error: %v", err)
	} else {
		log.Info("[server] HTTP server shut down gracefully")
	}
}
