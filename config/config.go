package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// SinkBigQuery writes batches with the BigQuery Storage Write API
	SinkBigQuery = "bigquery"
	// SinkKafka writes batches to a Kafka topic
	SinkKafka = "kafka"
)

var config *Config

// Config hold entire app configuration seetings. All value are read from environment variables
type Config struct {
	Port               string
	LogLevel           string
	TraceSample        string
	PubsubHost         string
	PubsubProject      string
	PubSubSubscription string
	EventAttribute     string
	EventNames         []string
	BatchInterval      time.Duration
	BatchSize          int
	Sink               string
	BigQueryProject    string
	BigQueryDataset    string
	BigQueryTable      string
	KafkaBrokers       []string
	KafkaTopic         string
}

// Setup read all the environment variables and validate the configuration.
// A .env file in the working directory is loaded first when present.
func Setup() error {
	_ = godotenv.Load()

	c, err := load()
	if err != nil {
		return err
	}
	config = c
	return nil
}

func load() (*Config, error) {
	c := &Config{}

	c.LogLevel = os.Getenv("LOG_LEVEL")
	c.Port = os.Getenv("PORT")
	c.TraceSample = os.Getenv("TRACE_SAMPLE")
	c.PubsubHost = os.Getenv("PUBSUB_HOST")
	c.PubsubProject = os.Getenv("PUBSUB_PROJECT")
	if c.PubsubProject == "" {
		return nil, errors.New("PUBSUB_PROJECT environment variable is required")
	}
	c.PubSubSubscription = os.Getenv("PUBSUB_SUBSCRIPTION")
	if c.PubSubSubscription == "" {
		return nil, errors.New("PUBSUB_SUBSCRIPTION environment variable is required")
	}
	c.EventAttribute = os.Getenv("EVENT_ATTRIBUTE")
	if c.EventAttribute == "" {
		c.EventAttribute = "event"
	}
	c.EventNames = splitList(os.Getenv("EVENT_NAMES"))
	if len(c.EventNames) == 0 {
		return nil, errors.New("EVENT_NAMES environment variable is required")
	}

	c.BatchInterval = time.Second
	if v := os.Getenv("BATCH_INTERVAL_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return nil, fmt.Errorf("BATCH_INTERVAL_MS must be a positive integer, got %q", v)
		}
		c.BatchInterval = time.Duration(ms) * time.Millisecond
	}
	c.BatchSize = 500
	if v := os.Getenv("BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("BATCH_SIZE must be a positive integer, got %q", v)
		}
		c.BatchSize = n
	}

	c.Sink = strings.ToLower(os.Getenv("SINK"))
	if c.Sink == "" {
		c.Sink = SinkBigQuery
	}
	switch c.Sink {
	case SinkBigQuery:
		c.BigQueryProject = os.Getenv("BIGQUERY_PROJECT")
		if c.BigQueryProject == "" {
			return nil, errors.New("BIGQUERY_PROJECT environment variable is required")
		}
		c.BigQueryDataset = os.Getenv("BIGQUERY_DATASET")
		if c.BigQueryDataset == "" {
			return nil, errors.New("BIGQUERY_DATASET environment variable is required")
		}
		c.BigQueryTable = os.Getenv("BIGQUERY_TABLE")
		if c.BigQueryTable == "" {
			return nil, errors.New("BIGQUERY_TABLE environment variable is required")
		}
	case SinkKafka:
		c.KafkaBrokers = splitList(os.Getenv("KAFKA_BROKERS"))
		if len(c.KafkaBrokers) == 0 {
			return nil, errors.New("KAFKA_BROKERS environment variable is required")
		}
		c.KafkaTopic = os.Getenv("KAFKA_TOPIC")
		if c.KafkaTopic == "" {
			return nil, errors.New("KAFKA_TOPIC environment variable is required")
		}
	default:
		return nil, fmt.Errorf("SINK must be %q or %q, got %q", SinkBigQuery, SinkKafka, c.Sink)
	}
	return c, nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// GetConfig returns the current app configuration
func GetConfig() *Config {
	return config
}
