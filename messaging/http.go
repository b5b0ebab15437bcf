package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var _ Broker = &HTTPBroker{}

type HTTPBrokerConfig struct {
	Endpoint string `koanf:"endpoint"`
	// TopicFilter is a list of topics that should be sent over HTTP. If empty, all topics are sent.
	TopicFilter []string `koanf:"topicfilter"`
}

// NewHTTPBroker creates a broker that POSTs every message to <endpoint>/<topic>.
// Messages are also sent to the underlying broker, if any.
func NewHTTPBroker(config HTTPBrokerConfig, underlyingBroker Broker) *HTTPBroker {
	return &HTTPBroker{
		underlyingBroker: underlyingBroker,
		endpoint:         config.Endpoint,
		topicFilter:      config.TopicFilter,
		httpClient:       &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
}

type HTTPBroker struct {
	underlyingBroker Broker
	endpoint         string
	topicFilter      []string
	httpClient       *http.Client
}

func (h HTTPBroker) Close(ctx context.Context) error {
	if h.underlyingBroker == nil {
		return nil
	}
	return h.underlyingBroker.Close(ctx)
}

func (h HTTPBroker) SendMessage(ctx context.Context, topic string, message *Message) error {
	var errs []error
	if len(h.topicFilter) == 0 || slices.Contains(h.topicFilter, topic) {
		if err := h.doSend(ctx, topic, message); err != nil {
			errs = append(errs, fmt.Errorf("failed to send message over HTTP: %w", err))
		}
	}
	if h.underlyingBroker != nil {
		if err := h.underlyingBroker.SendMessage(ctx, topic, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h HTTPBroker) doSend(ctx context.Context, topic string, message *Message) error {
	// compact the body to remove extra whitespace
	var compacted bytes.Buffer
	if err := json.Compact(&compacted, message.Body); err != nil {
		return err
	}
	endpoint, err := url.Parse(h.endpoint)
	if err != nil {
		return err
	}
	httpRequestCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(httpRequestCtx, http.MethodPost, endpoint.JoinPath(topic).String(), &compacted)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", message.ContentType)
	if message.CorrelationID != nil {
		req.Header.Set("X-Correlation-Id", *message.CorrelationID)
	}
	httpClient := h.httpClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("received non-OK response: %d", resp.StatusCode)
	}
	return nil
}
