package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"

	"seertix/pkg/config"
	"seertix/pkg/logkeeper"
)

func main() {
	var (
		configPath string
		logLevel   string
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("[logkeeper] shutting down gracefully...")
		cancel()
	}()

	flag.StringVar(&configPath, "config", "logkeeper.toml", "Path to TOML config file")
	flag.StringVar(&logLevel, "log", "", "Log level: debug, info, warn, error.")
	flag.Parse()

	cfg, err := logkeeper.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("[logkeeper] %v", err)
	}

	// Override config with flags if set
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[logkeeper] invalid configuration: %v", err)
	}
	level, _ := config.ParseLevel(cfg.LogLevel)
	log.SetLevel(level)

	var out io.Writer = os.Stdout
	if cfg.Output != "" {
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			log.Fatalf("[logkeeper] failed to open %s: %v", cfg.Output, err)
		}
		defer f.Close()
		out = f
	}
	sinks := []logkeeper.Sink{logkeeper.NewLogrusSink(out)}

	if cfg.RedisURL != "" {
		rs, err := logkeeper.NewRedisSink(cfg.RedisURL, cfg.RedisTTL.Duration)
		if err != nil {
			log.Fatalf("[logkeeper] %v", err)
		}
		defer rs.Close()
		sinks = append(sinks, rs)
	}

	if len(cfg.ElasticSearchNodes) > 0 {
		es, err := logkeeper.NewElasticSink(cfg.ElasticSearchNodes, cfg.ElasticSearchIndex)
		if err != nil {
			log.Fatalf("[logkeeper] %v", err)
		}
		sinks = append(sinks, es)
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		Topic:    cfg.KafkaTopic,
		GroupID:  cfg.KafkaGroupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	defer r.Close()

	logkeeper.New(r, logkeeper.Tee(sinks...), cfg.NumWorkers).Run(ctx)
}
