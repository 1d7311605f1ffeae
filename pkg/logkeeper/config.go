package logkeeper

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"seertix/pkg/config"
)

type Config struct {
	LogLevel     string   `toml:"logLevel"`
	KafkaBrokers []string `toml:"kafkaBrokers"`
	KafkaTopic   string   `toml:"kafkaTopic"`
	KafkaGroupID string   `toml:"kafkaGroupID"`

	// Output is the file receiving JSON lines; empty means stdout.
	Output   string          `toml:"output"`
	RedisURL string          `toml:"redisURL"`
	RedisTTL config.Duration `toml:"redisTTL"`

	ElasticSearchIndex string   `toml:"elasticSearchIndex"`
	ElasticSearchNodes []string `toml:"elasticSearchNodes"`

	NumWorkers int `toml:"numWorkers"`
}

func LoadConfig(path string) (Config, error) {
	cfg := Config{LogLevel: "info", KafkaTopic: "logs", KafkaGroupID: "logkeeper", NumWorkers: 4}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("%w: kafkaBrokers", config.ErrConfParamMissing)
	}
	if c.KafkaTopic == "" {
		return fmt.Errorf("%w: kafkaTopic", config.ErrConfParamMissing)
	}
	if len(c.ElasticSearchNodes) > 0 && c.ElasticSearchIndex == "" {
		return fmt.Errorf("%w: elasticSearchIndex", config.ErrConfParamMissing)
	}
	if c.NumWorkers < 1 {
		return fmt.Errorf("%w: numWorkers %d", config.ErrConfParamInvalid, c.NumWorkers)
	}
	if _, err := config.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}
