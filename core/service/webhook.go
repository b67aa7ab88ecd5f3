package service

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"nfcunha/vigil/core/eventbus"
	"nfcunha/vigil/core/repository"
	"nfcunha/vigil/metrics"
	"nfcunha/vigil/utils/config"
)

// WebhookSource labels builder callbacks in metrics and the event log.
const WebhookSource = "builder"

// WebhookService verifies builder callbacks, republishes them and triggers
// the downstream parse and reindex calls without blocking the caller.
type WebhookService struct {
	secret       []byte
	publisher    *Publisher
	eventLogRepo *repository.EventLogRepository
	metrics      *metrics.Metrics

	client         *http.Client
	parserURL      string
	retrievalURL   string
	timeout        time.Duration
	parseBreaker   *gobreaker.CircuitBreaker
	reindexBreaker *gobreaker.CircuitBreaker

	wg sync.WaitGroup
}

// NewWebhookService creates the ingress. eventLogRepo may be nil.
func NewWebhookService(secret string, downstream config.DownstreamConfig, publisher *Publisher,
	eventLogRepo *repository.EventLogRepository, m *metrics.Metrics) *WebhookService {
	return &WebhookService{
		secret:         []byte(secret),
		publisher:      publisher,
		eventLogRepo:   eventLogRepo,
		metrics:        m,
		client:         &http.Client{},
		parserURL:      strings.TrimRight(downstream.ParserURL, "/"),
		retrievalURL:   strings.TrimRight(downstream.RetrievalURL, "/"),
		timeout:        downstream.Timeout,
		parseBreaker:   newBreaker("parse"),
		reindexBreaker: newBreaker("reindex"),
	}
}

func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logrus.Infof("Downstream breaker %s: %s -> %s", name, from.String(), to.String())
		},
	})
}

// Authenticate compares the presented secret in constant time.
func (s *WebhookService) Authenticate(presented string) bool {
	got := []byte(presented)
	if len(s.secret) == 0 || len(got) != len(s.secret) {
		s.metrics.WebhooksTotal.WithLabelValues("unauthorized", WebhookSource).Inc()
		return false
	}
	if subtle.ConstantTimeCompare(got, s.secret) != 1 {
		s.metrics.WebhooksTotal.WithLabelValues("unauthorized", WebhookSource).Inc()
		return false
	}
	return true
}

// Handle publishes builder.update for an authenticated callback and then
// starts the downstream triggers in the background.
func (s *WebhookService) Handle(ctx context.Context, body []byte) error {
	raw := json.RawMessage(body)
	if len(bytes.TrimSpace(body)) == 0 {
		raw = json.RawMessage("null")
	} else if !json.Valid(body) {
		quoted, _ := json.Marshal(string(body))
		raw = quoted
	}

	receivedAt := time.Now().UTC()
	if err := s.publisher.Publish(ctx, eventbus.ChannelBuilderUpdate, eventbus.BuilderUpdatePayload{
		Body:       raw,
		ReceivedAt: receivedAt,
	}); err != nil {
		s.metrics.WebhooksTotal.WithLabelValues("error", WebhookSource).Inc()
		return fmt.Errorf("failed to publish builder update: %w", err)
	}

	s.metrics.WebhooksTotal.WithLabelValues("accepted", WebhookSource).Inc()
	recordEvent(s.eventLogRepo, "webhook", "info", "builder update received", map[string]any{
		"source":     WebhookSource,
		"bytes":      len(body),
		"receivedAt": receivedAt,
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.triggerDownstream()
	}()
	return nil
}

// Wait blocks until in-flight downstream triggers finish.
func (s *WebhookService) Wait() {
	s.wg.Wait()
}

func (s *WebhookService) triggerDownstream() {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.call("parse", s.parseBreaker, s.parserURL+"/parse", map[string]any{"source": WebhookSource, "ping": true})
	}()
	go func() {
		defer wg.Done()
		s.call("reindex", s.reindexBreaker, s.retrievalURL+"/reindex", map[string]any{"source": WebhookSource})
	}()
	wg.Wait()
}

// call performs one best-effort POST. Errors are logged and counted, never returned.
func (s *WebhookService) call(target string, breaker *gobreaker.CircuitBreaker, url string, body any) {
	_, err := breaker.Execute(func() (interface{}, error) {
		return nil, s.post(url, body)
	})

	result := metrics.Result(err)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		result = "open"
	}
	s.metrics.DownstreamCalls.WithLabelValues(target, result).Inc()

	if err != nil {
		logrus.WithField("target", target).Warnf("Downstream trigger failed: %v", err)
	}
}

func (s *WebhookService) post(url string, body any) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s returned status %d", url, resp.StatusCode)
	}
	return nil
}
