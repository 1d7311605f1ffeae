package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"seertix/pkg/apperr"
	"seertix/pkg/config"
)

func main() {
	var (
		configPath string
		apiURL     string
		logLevel   string
	)

	flag.StringVar(&configPath, "config", "config.toml", "Path to TOML config file")
	flag.StringVar(&apiURL, "api", "", "API base URL, overrides apiURL of the config file")
	flag.StringVar(&logLevel, "log", "", "Log level: debug, info, warn, error.")
	flag.Usage = func() {
		fmt.Fprintln(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	// The default config file is optional, an explicit one is not.
	explicit := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			explicit = true
		}
	})
	cfg, err := config.Load(configPath, !explicit)
	if err != nil {
		log.Fatalf("[seertix] %v", err)
	}

	// Override config with flags if set
	if apiURL != "" {
		cfg.APIURL = apiURL
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[seertix] invalid configuration: %v", err)
	}
	level, _ := config.ParseLevel(cfg.LogLevel)
	log.SetLevel(level)
	log.Debugf("[seertix] configuration: %s", cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Debug("[seertix] interrupted")
		cancel()
	}()

	a, err := newApp(ctx, cfg, os.Stdout, os.Stderr)
	if err != nil {
		log.Fatalf("[seertix] %v", err)
	}
	err = a.run(ctx, flag.Args())
	a.close()

	if errors.Is(err, errUsage) {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", apperr.UserMessage(err))
		os.Exit(1)
	}
}
