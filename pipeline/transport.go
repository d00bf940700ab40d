package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Storage is the durable key/value store backing the persistent visitor ID.
// In a browser host this is localStorage; tests use MemoryStorage.
type Storage interface {
	Get(key string) (string, bool)
	Set(key, value string) error
}

// Transport is the confirmable delivery mechanism: Send returns nil only if
// the server acknowledged the batch.
type Transport interface {
	Send(ctx context.Context, payload []byte) error
}

// BeaconTransport is the fire-and-forget mechanism used during unload. Post
// reports only whether the send was constructed; delivery itself is
// unobservable, which is the accepted data-loss boundary.
type BeaconTransport interface {
	Post(payload []byte) bool
}

// MemoryStorage is an in-process Storage, useful for tests and hosts without
// durable storage (the visitor ID then lives for the process only).
type MemoryStorage struct {
	values map[string]string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[string]string)}
}

func (s *MemoryStorage) Get(key string) (string, bool) {
	v, ok := s.values[key]
	return v, ok
}

func (s *MemoryStorage) Set(key, value string) error {
	s.values[key] = value
	return nil
}

// HTTPTransport is the standard confirmable transport: a JSON POST where any
// non-2xx status counts as a delivery failure.
type HTTPTransport struct {
	Endpoint string
	Client   *http.Client
}

func NewHTTPTransport(endpoint string, timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPTransport{
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: timeout},
	}
}

func (t *HTTPTransport) Send(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.Client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver batch: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d delivering batch", resp.StatusCode)
	}
	return nil
}
