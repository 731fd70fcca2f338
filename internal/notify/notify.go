package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// DecisionEvent is the audit event emitted for every exchange and
// authorization decision.
type DecisionEvent struct {
	EventVersion string            `json:"eventVersion"`
	EventSource  string            `json:"eventSource"`
	EventTime    string            `json:"eventTime"`
	EventName    string            `json:"eventName"`
	IdentityID   string            `json:"identityId,omitempty"`
	Audience     string            `json:"audience,omitempty"`
	Action       string            `json:"action,omitempty"`
	Resource     string            `json:"resource,omitempty"`
	ErrorClass   string            `json:"errorClass,omitempty"`
	SessionTags  map[string]string `json:"sessionTags,omitempty"`
	SourceIP     string            `json:"sourceIp,omitempty"`
}

// Event names emitted by the broker and authorization paths.
const (
	EventExchangeIssued = "ExchangeIssued"
	EventExchangeDenied = "ExchangeDenied"
	EventAuthzAllow     = "AuthzAllow"
	EventAuthzDeny      = "AuthzDeny"
	EventMappingApplied = "MappingApplied"
)

// Backend is the interface for event delivery backends.
type Backend interface {
	Name() string
	Publish(ctx context.Context, payload []byte) error
	Close() error
}

type deliveryJob struct {
	endpoint   string
	payload    []byte
	retryCount int
	maxRetries int
}

// Dispatcher fans decision events out to registered backends and delivers
// them to webhook endpoints asynchronously with retry.
type Dispatcher struct {
	client     *http.Client
	workerCh   chan deliveryJob
	wg         sync.WaitGroup
	maxWorkers int
	maxRetries int
	backoff    []time.Duration
	endpoints  []string
	backends   []Backend
	mu         sync.Mutex
}

func NewDispatcher(endpoints []string, maxWorkers, queueSize, timeoutSecs, maxRetries int) *Dispatcher {
	return &Dispatcher{
		client:     &http.Client{Timeout: time.Duration(timeoutSecs) * time.Second},
		workerCh:   make(chan deliveryJob, queueSize),
		maxWorkers: maxWorkers,
		maxRetries: maxRetries,
		backoff:    []time.Duration{1 * time.Second, 5 * time.Second, 30 * time.Second},
		endpoints:  endpoints,
	}
}

func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.maxWorkers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-d.workerCh:
					if !ok {
						return
					}
					d.deliverWebhook(job)
				}
			}
		}()
	}
}

// AddBackend registers an event backend.
func (d *Dispatcher) AddBackend(b Backend) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.backends = append(d.backends, b)
	slog.Info("decision event backend registered", "backend", b.Name())
}

func (d *Dispatcher) Stop() {
	close(d.workerCh)
	d.wg.Wait()
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, b := range d.backends {
		b.Close()
	}
}

// Dispatch publishes a decision event to all backends and queues webhook
// deliveries. Queue overflow drops the event rather than blocking the
// request path.
func (d *Dispatcher) Dispatch(event DecisionEvent) {
	if event.EventVersion == "" {
		event.EventVersion = "1.0"
	}
	if event.EventSource == "" {
		event.EventSource = "tenantgate"
	}
	if event.EventTime == "" {
		event.EventTime = time.Now().UTC().Format(time.RFC3339)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("decision event marshal failed", "error", err)
		return
	}

	d.mu.Lock()
	backends := make([]Backend, len(d.backends))
	copy(backends, d.backends)
	d.mu.Unlock()
	for _, b := range backends {
		if err := b.Publish(context.Background(), payload); err != nil {
			slog.Error("decision event publish failed", "backend", b.Name(), "error", err)
		}
	}

	for _, endpoint := range d.endpoints {
		job := deliveryJob{
			endpoint:   endpoint,
			payload:    payload,
			maxRetries: d.maxRetries,
		}
		select {
		case d.workerCh <- job:
		default:
			slog.Warn("decision event queue full, dropping", "event", event.EventName, "endpoint", endpoint)
		}
	}
}

func (d *Dispatcher) deliverWebhook(job deliveryJob) {
	resp, err := d.client.Post(job.endpoint, "application/json", bytes.NewReader(job.payload))
	if err == nil {
		resp.Body.Close()
		if resp.StatusCode < 300 {
			return
		}
		err = &httpError{statusCode: resp.StatusCode}
	}

	if job.retryCount < job.maxRetries-1 {
		backoffIdx := job.retryCount
		if backoffIdx >= len(d.backoff) {
			backoffIdx = len(d.backoff) - 1
		}
		time.Sleep(d.backoff[backoffIdx])

		job.retryCount++
		select {
		case d.workerCh <- job:
		default:
			slog.Warn("decision event queue full on retry, dropping", "endpoint", job.endpoint)
		}
	} else {
		slog.Error("decision event webhook failed after retries", "retries", job.maxRetries, "endpoint", job.endpoint, "error", err)
	}
}

type httpError struct {
	statusCode int
}

func (e *httpError) Error() string {
	return fmt.Sprintf("webhook returned %d", e.statusCode)
}
