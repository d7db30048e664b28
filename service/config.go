// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package service

import (
	_ "embed"
	"time"

	"github.com/z5labs/pdfrelay/internal/logging"
	"github.com/z5labs/pdfrelay/internal/otelconfig"
)

// DefaultConfig is a text/template over the environment which yields
// the default YAML config.
//
//go:embed default_config.yaml
var DefaultConfig []byte

// CircuitConfig configures the circuit breaker of an outbound client.
type CircuitConfig struct {
	TripAfter        uint32        `config:"tripAfter"`
	OpenTimeout      time.Duration `config:"openTimeout"`
	ResetInterval    time.Duration `config:"resetInterval"`
	HalfOpenRequests uint32        `config:"halfOpenRequests"`
}

// Config holds every section of the service configuration.
type Config struct {
	Service struct {
		Name string `config:"name"`
	} `config:"service"`

	HTTP struct {
		Port              uint          `config:"port"`
		ReadHeaderTimeout time.Duration `config:"readHeaderTimeout"`
		DrainTimeout      time.Duration `config:"drainTimeout"`
		MaxBodyBytes      int64         `config:"maxBodyBytes"`
	} `config:"http"`

	Logging logging.Config `config:"logging"`

	OTel otelconfig.Config `config:"otel"`

	Bus struct {
		Driver         string        `config:"driver"`
		ConnectTimeout time.Duration `config:"connectTimeout"`
		SendTimeout    time.Duration `config:"sendTimeout"`
		MaxInFlight    int           `config:"maxInFlight"`

		Topics struct {
			Errors   string `config:"errors"`
			Events   string `config:"events"`
			Requests string `config:"requests"`
		} `config:"topics"`

		Kafka struct {
			Brokers      []string      `config:"brokers"`
			ClientID     string        `config:"clientId"`
			WriteTimeout time.Duration `config:"writeTimeout"`
		} `config:"kafka"`

		PubSub struct {
			ProjectID string `config:"projectId"`
		} `config:"pubsub"`

		SQS struct {
			Region          string `config:"region"`
			Endpoint        string `config:"endpoint"`
			QueueURLPrefix  string `config:"queueUrlPrefix"`
			AccessKeyID     string `config:"accessKeyId"`
			SecretAccessKey string `config:"secretAccessKey"`
		} `config:"sqs"`
	} `config:"bus"`

	Storage struct {
		BaseURL string        `config:"baseUrl"`
		Timeout time.Duration `config:"timeout"`
		Circuit CircuitConfig `config:"circuit"`
	} `config:"storage"`

	Notify struct {
		WebhookURL string        `config:"webhookUrl"`
		Timeout    time.Duration `config:"timeout"`
		Circuit    CircuitConfig `config:"circuit"`
	} `config:"notify"`

	Shutdown struct {
		Timeout time.Duration `config:"timeout"`
	} `config:"shutdown"`
}

func orDefault[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

// withDefaults fills every unset setting.
func (cfg Config) withDefaults() Config {
	cfg.Service.Name = orDefault(cfg.Service.Name, "message-server")

	cfg.HTTP.Port = orDefault(cfg.HTTP.Port, 8080)
	cfg.HTTP.ReadHeaderTimeout = orDefault(cfg.HTTP.ReadHeaderTimeout, 10*time.Second)
	cfg.HTTP.MaxBodyBytes = orDefault(cfg.HTTP.MaxBodyBytes, 1<<20)

	if len(cfg.Logging.MaskedFields) == 0 {
		cfg.Logging.MaskedFields = []string{"email_address"}
	}

	cfg.Bus.Driver = orDefault(cfg.Bus.Driver, "kafka")
	cfg.Bus.ConnectTimeout = orDefault(cfg.Bus.ConnectTimeout, 3*time.Second)
	cfg.Bus.SendTimeout = orDefault(cfg.Bus.SendTimeout, 5*time.Second)
	cfg.Bus.MaxInFlight = orDefault(cfg.Bus.MaxInFlight, 256)
	cfg.Bus.Topics.Errors = orDefault(cfg.Bus.Topics.Errors, "message-server-errors")
	cfg.Bus.Topics.Events = orDefault(cfg.Bus.Topics.Events, "message-server-events")
	cfg.Bus.Topics.Requests = orDefault(cfg.Bus.Topics.Requests, "message-server-requests")
	if len(cfg.Bus.Kafka.Brokers) == 0 {
		cfg.Bus.Kafka.Brokers = []string{"localhost:9092"}
	}
	cfg.Bus.Kafka.ClientID = orDefault(cfg.Bus.Kafka.ClientID, cfg.Service.Name)
	cfg.Bus.Kafka.WriteTimeout = orDefault(cfg.Bus.Kafka.WriteTimeout, 10*time.Second)

	cfg.Storage.BaseURL = orDefault(cfg.Storage.BaseURL, "http://localhost:5000")
	cfg.Storage.Timeout = orDefault(cfg.Storage.Timeout, 10*time.Second)
	cfg.Notify.Timeout = orDefault(cfg.Notify.Timeout, 15*time.Second)

	// The drain shares the shutdown ceiling with the post run hooks.
	cfg.Shutdown.Timeout = orDefault(cfg.Shutdown.Timeout, 10*time.Second)
	cfg.HTTP.DrainTimeout = orDefault(cfg.HTTP.DrainTimeout, cfg.Shutdown.Timeout*7/10)
	return cfg
}
