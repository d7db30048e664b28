// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/z5labs/pdfrelay/bus"
	"github.com/z5labs/pdfrelay/config"
	"github.com/z5labs/pdfrelay/correlation"
	"github.com/z5labs/pdfrelay/internal/otelconfig"
	"github.com/z5labs/pdfrelay/relay"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func readDefaultConfig(t *testing.T) Config {
	t.Helper()

	m, err := config.Read(config.FromYaml(config.RenderTextTemplate(bytes.NewReader(DefaultConfig))))
	require.Nil(t, err)

	var cfg Config
	err = m.Unmarshal(&cfg)
	require.Nil(t, err)
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	t.Run("will render the defaults", func(t *testing.T) {
		t.Run("if no environment variables are set", func(t *testing.T) {
			for _, key := range []string{"PORT", "LOG_LEVEL", "BUS_DRIVER", "KAFKA_BOOTSTRAP_SERVERS", "PDF_STORAGE_URL", "PYTHON_SERVER_URL", "DISCORD_WEBHOOK_URL", "SHUTDOWN_TIMEOUT"} {
				t.Setenv(key, "")
			}

			cfg := readDefaultConfig(t)
			if !assert.Equal(t, uint(8080), cfg.HTTP.Port) {
				return
			}
			if !assert.Equal(t, zapcore.InfoLevel, cfg.Logging.Level) {
				return
			}
			if !assert.Equal(t, "kafka", cfg.Bus.Driver) {
				return
			}
			if !assert.Equal(t, []string{"localhost:9092"}, cfg.Bus.Kafka.Brokers) {
				return
			}
			if !assert.Equal(t, "message-server-errors", cfg.Bus.Topics.Errors) {
				return
			}
			if !assert.Equal(t, "http://localhost:5000", cfg.Storage.BaseURL) {
				return
			}
			if !assert.Empty(t, cfg.Notify.WebhookURL) {
				return
			}
			if !assert.Equal(t, 15*time.Second, cfg.Notify.Timeout) {
				return
			}
			if !assert.Equal(t, 10*time.Second, cfg.Shutdown.Timeout) {
				return
			}
			if !assert.Equal(t, 7*time.Second, cfg.withDefaults().HTTP.DrainTimeout) {
				return
			}
		})
	})

	t.Run("will use the environment", func(t *testing.T) {
		t.Run("if the environment variables are set", func(t *testing.T) {
			t.Setenv("PORT", "9000")
			t.Setenv("LOG_LEVEL", "debug")
			t.Setenv("KAFKA_BOOTSTRAP_SERVERS", "kafka-1:9092,kafka-2:9092")
			t.Setenv("PDF_STORAGE_URL", "")
			t.Setenv("PYTHON_SERVER_URL", "http://legacy:5000")
			t.Setenv("DISCORD_WEBHOOK_URL", "https://discord.com/api/webhooks/1/abc")
			t.Setenv("SHUTDOWN_TIMEOUT", "30s")

			cfg := readDefaultConfig(t)
			if !assert.Equal(t, uint(9000), cfg.HTTP.Port) {
				return
			}
			if !assert.Equal(t, zapcore.DebugLevel, cfg.Logging.Level) {
				return
			}
			if !assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Bus.Kafka.Brokers) {
				return
			}
			if !assert.Equal(t, "http://legacy:5000", cfg.Storage.BaseURL) {
				return
			}
			if !assert.Equal(t, "https://discord.com/api/webhooks/1/abc", cfg.Notify.WebhookURL) {
				return
			}
			if !assert.Equal(t, 30*time.Second, cfg.Shutdown.Timeout) {
				return
			}
			if !assert.Equal(t, 21*time.Second, cfg.withDefaults().HTTP.DrainTimeout) {
				return
			}
		})
	})
}

func TestConfig_withDefaults(t *testing.T) {
	t.Run("will leave room for the post run hooks", func(t *testing.T) {
		t.Run("if the drain timeout is unset", func(t *testing.T) {
			var cfg Config
			cfg.Shutdown.Timeout = 5 * time.Second

			cfg = cfg.withDefaults()
			if !assert.Less(t, cfg.HTTP.DrainTimeout, cfg.Shutdown.Timeout) {
				return
			}
			if !assert.Equal(t, 3500*time.Millisecond, cfg.HTTP.DrainTimeout) {
				return
			}
		})
	})

	t.Run("will keep the drain timeout", func(t *testing.T) {
		t.Run("if it is set", func(t *testing.T) {
			var cfg Config
			cfg.HTTP.DrainTimeout = 2 * time.Second

			cfg = cfg.withDefaults()
			if !assert.Equal(t, 2*time.Second, cfg.HTTP.DrainTimeout) {
				return
			}
		})
	})
}

func testConfig(storageURL, webhookURL string) Config {
	var cfg Config
	cfg.Bus.Driver = "none"
	cfg.Storage.BaseURL = storageURL
	cfg.Notify.WebhookURL = webhookURL
	return cfg.withDefaults()
}

func TestInit(t *testing.T) {
	t.Run("will return an error", func(t *testing.T) {
		t.Run("if the bus driver is unknown", func(t *testing.T) {
			cfg := testConfig("", "")
			cfg.Bus.Driver = "rabbitmq"

			_, err := Init(context.Background(), cfg)

			var berr UnknownBusDriverError
			if !assert.ErrorAs(t, err, &berr) {
				return
			}
			if !assert.Equal(t, "rabbitmq", berr.Driver) {
				return
			}
		})

		t.Run("if the otel exporter is unknown", func(t *testing.T) {
			cfg := testConfig("", "")
			cfg.OTel.Exporter = "zipkin"

			_, err := Init(context.Background(), cfg)

			var oerr otelconfig.UnknownExporterError
			if !assert.ErrorAs(t, err, &oerr) {
				return
			}
		})

		t.Run("if the log format is unknown", func(t *testing.T) {
			cfg := testConfig("", "")
			cfg.Logging.Format = "xml"

			_, err := Init(context.Background(), cfg)
			if !assert.Error(t, err) {
				return
			}
		})
	})

	t.Run("will return an app", func(t *testing.T) {
		t.Run("for every supported bus driver", func(t *testing.T) {
			for _, driver := range []string{"none", "kafka", "pubsub", "sqs"} {
				cfg := testConfig("", "")
				cfg.Bus.Driver = driver

				a, err := Init(context.Background(), cfg)
				if !assert.Nil(t, err, driver) {
					return
				}
				if !assert.NotNil(t, a, driver) {
					return
				}
			}
		})
	})
}

func TestService_endpoint(t *testing.T) {
	t.Run("will relay the pdf", func(t *testing.T) {
		t.Run("if storage and the webhook respond with success", func(t *testing.T) {
			pdf := []byte("%PDF-1.4 test")
			storageSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/pdf-storage/job-1" {
					w.WriteHeader(http.StatusNotFound)
					return
				}
				w.Write(pdf)
			}))
			defer storageSrv.Close()

			var fileName string
			webhookSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				err := r.ParseMultipartForm(1 << 20)
				if err != nil {
					w.WriteHeader(http.StatusBadRequest)
					return
				}
				_, fh, err := r.FormFile("file")
				if err != nil {
					w.WriteHeader(http.StatusBadRequest)
					return
				}
				fileName = fh.Filename
				w.WriteHeader(http.StatusOK)
			}))
			defer webhookSrv.Close()

			s, err := build(context.Background(), testConfig(storageSrv.URL, webhookSrv.URL))
			if !assert.Nil(t, err) {
				return
			}

			body := `{"CorrelationId":"job-1","PdfFileName":"report.pdf","PlatformType":"Email","MessageBody":"hi"}`
			r := httptest.NewRequest(http.MethodPost, relay.Path, strings.NewReader(body))
			r.Header.Set(correlation.Header, "req-1")
			w := httptest.NewRecorder()
			s.endpoint.ServeHTTP(w, r)

			if !assert.Equal(t, http.StatusOK, w.Code) {
				return
			}
			if !assert.Equal(t, "req-1", w.Header().Get(correlation.Header)) {
				return
			}

			var resp map[string]any
			err = json.NewDecoder(w.Body).Decode(&resp)
			if !assert.Nil(t, err) {
				return
			}
			if !assert.Equal(t, "Job job-1 successfully fetched PDF buffer.", resp["message"]) {
				return
			}
			if !assert.Equal(t, "report-job-1.pdf", fileName) {
				return
			}

			err = s.emitter.Flush(context.Background())
			if !assert.Nil(t, err) {
				return
			}

			mw := httptest.NewRecorder()
			s.metrics.Handler().ServeHTTP(mw, httptest.NewRequest(http.MethodGet, "/metrics", nil))
			b, _ := io.ReadAll(mw.Body)
			if !assert.Contains(t, string(b), `pdfrelay_jobs_total{outcome="success"} 1`) {
				return
			}
		})
	})

	t.Run("will respond with 405", func(t *testing.T) {
		t.Run("if the method is not POST", func(t *testing.T) {
			s, err := build(context.Background(), testConfig("", ""))
			if !assert.Nil(t, err) {
				return
			}

			w := httptest.NewRecorder()
			s.endpoint.ServeHTTP(w, httptest.NewRequest(http.MethodGet, relay.Path, nil))

			if !assert.Equal(t, http.StatusMethodNotAllowed, w.Code) {
				return
			}
			if !assert.NotEmpty(t, w.Header().Get(correlation.Header)) {
				return
			}
		})
	})

	t.Run("will respond with 500", func(t *testing.T) {
		t.Run("if no webhook is configured", func(t *testing.T) {
			storageSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("%PDF"))
			}))
			defer storageSrv.Close()

			s, err := build(context.Background(), testConfig(storageSrv.URL, ""))
			if !assert.Nil(t, err) {
				return
			}

			body := `{"CorrelationId":"job-2","PdfFileName":"report.pdf"}`
			w := httptest.NewRecorder()
			s.endpoint.ServeHTTP(w, httptest.NewRequest(http.MethodPost, relay.Path, strings.NewReader(body)))

			if !assert.Equal(t, http.StatusInternalServerError, w.Code) {
				return
			}
		})
	})
}

type fakePublisher struct {
	connectErr error

	mu       sync.Mutex
	messages []bus.Message
}

func (p *fakePublisher) Connect(ctx context.Context) error {
	return p.connectErr
}

func (p *fakePublisher) Publish(ctx context.Context, msg bus.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
	return nil
}

func (p *fakePublisher) Close() error {
	return nil
}

func (p *fakePublisher) published() []bus.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bus.Message(nil), p.messages...)
}

func TestService_busDegradation(t *testing.T) {
	t.Run("will respond the same", func(t *testing.T) {
		t.Run("whether or not the bus connects", func(t *testing.T) {
			storageSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/pdf-storage/job-1" {
					w.WriteHeader(http.StatusNotFound)
					return
				}
				w.Write([]byte("%PDF-1.4 test"))
			}))
			defer storageSrv.Close()

			webhookSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			}))
			defer webhookSrv.Close()

			type response struct {
				status int
				body   map[string]any
			}
			serve := func(t *testing.T, pub *fakePublisher, webhookURL, body string) response {
				cfg := testConfig(storageSrv.URL, webhookURL)
				s, err := buildWith(context.Background(), cfg, func(Config, *zap.Logger) (bus.Publisher, error) {
					return pub, nil
				})
				require.Nil(t, err)
				s.bus.Initialize(context.Background())

				w := httptest.NewRecorder()
				s.endpoint.ServeHTTP(w, httptest.NewRequest(http.MethodPost, relay.Path, strings.NewReader(body)))

				err = s.emitter.Flush(context.Background())
				require.Nil(t, err)

				var resp map[string]any
				err = json.NewDecoder(w.Body).Decode(&resp)
				require.Nil(t, err)
				delete(resp, "executionTimeMs")
				return response{status: w.Code, body: resp}
			}

			testCases := []struct {
				Name       string
				WebhookURL string
				Body       string
			}{
				{Name: "relayed job", WebhookURL: webhookSrv.URL, Body: `{"CorrelationId":"job-1","PdfFileName":"report.pdf"}`},
				{Name: "invalid job", WebhookURL: webhookSrv.URL, Body: `{"PdfFileName":"report.pdf"}`},
				{Name: "missing artifact", WebhookURL: webhookSrv.URL, Body: `{"CorrelationId":"job-2","PdfFileName":"report.pdf"}`},
				{Name: "unconfigured webhook", Body: `{"CorrelationId":"job-1","PdfFileName":"report.pdf"}`},
			}

			for _, testCase := range testCases {
				t.Run(testCase.Name, func(t *testing.T) {
					connected := &fakePublisher{}
					unreachable := &fakePublisher{connectErr: errors.New("no brokers available")}

					withBus := serve(t, connected, testCase.WebhookURL, testCase.Body)
					withoutBus := serve(t, unreachable, testCase.WebhookURL, testCase.Body)

					if !assert.Equal(t, withBus, withoutBus) {
						return
					}
					if !assert.NotEmpty(t, connected.published()) {
						return
					}
					if !assert.Empty(t, unreachable.published()) {
						return
					}
				})
			}
		})
	})
}

func TestService_correlation(t *testing.T) {
	t.Run("will echo the correlation id", func(t *testing.T) {
		t.Run("on every route", func(t *testing.T) {
			s, err := build(context.Background(), testConfig("", ""))
			if !assert.Nil(t, err) {
				return
			}

			testCases := []struct {
				Method string
				Path   string
				Status int
			}{
				{Method: http.MethodPost, Path: relay.Path, Status: http.StatusBadRequest},
				{Method: http.MethodGet, Path: "/health/liveness", Status: http.StatusServiceUnavailable},
				{Method: http.MethodGet, Path: "/health/readiness", Status: http.StatusServiceUnavailable},
				{Method: http.MethodGet, Path: "/metrics", Status: http.StatusOK},
				{Method: http.MethodPost, Path: "/api/pdf/unknown", Status: http.StatusNotFound},
			}
			for _, testCase := range testCases {
				r := httptest.NewRequest(testCase.Method, testCase.Path, strings.NewReader(`{}`))
				r.Header.Set(correlation.Header, "req-7")
				w := httptest.NewRecorder()
				s.endpoint.ServeHTTP(w, r)

				if !assert.Equal(t, testCase.Status, w.Code, testCase.Path) {
					return
				}
				if !assert.Equal(t, "req-7", w.Header().Get(correlation.Header), testCase.Path) {
					return
				}
			}
		})
	})

	t.Run("will generate a correlation id", func(t *testing.T) {
		t.Run("if an unmatched path is requested without one", func(t *testing.T) {
			s, err := build(context.Background(), testConfig("", ""))
			if !assert.Nil(t, err) {
				return
			}

			w := httptest.NewRecorder()
			s.endpoint.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nowhere", nil))

			if !assert.Equal(t, http.StatusNotFound, w.Code) {
				return
			}
			if !assert.NotEmpty(t, w.Header().Get(correlation.Header)) {
				return
			}

			mw := httptest.NewRecorder()
			s.metrics.Handler().ServeHTTP(mw, httptest.NewRequest(http.MethodGet, "/metrics", nil))
			b, _ := io.ReadAll(mw.Body)
			if !assert.Contains(t, string(b), `pdfrelay_http_requests_total{method="GET",path="unmatched",status_class="4xx"} 1`) {
				return
			}
			if !assert.NotContains(t, string(b), `path="/nowhere"`) {
				return
			}
		})
	})
}
