package kernel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sage3/foresight/errors"
	"github.com/sage3/foresight/pkg/models"
)

// Backend submits code to a Jupyter-compatible kernel service.
type Backend interface {
	Submit(ctx context.Context, req models.ExecRequest) (models.ExecAck, error)
}

// KernelInfo is one entry of the gateway's kernel listing.
type KernelInfo struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	ExecutionState string `json:"execution_state,omitempty"`
	LastActivity   string `json:"last_activity,omitempty"`
}

// HTTPBackend talks to the kernel gateway over HTTP.
type HTTPBackend struct {
	baseURL string
	client  *http.Client
}

// NewHTTPBackend creates a backend for the gateway at baseURL. A nil client
// gets a 10 second timeout.
func NewHTTPBackend(baseURL string, client *http.Client) *HTTPBackend {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// URL returns the gateway base URL.
func (b *HTTPBackend) URL() string {
	return b.baseURL
}

// Submit posts {code, uuid} to /execute. Any transport failure or non-2xx
// answer is BACKEND_UNAVAILABLE.
func (b *HTTPBackend) Submit(ctx context.Context, req models.ExecRequest) (models.ExecAck, error) {
	var ack models.ExecAck

	body, err := json.Marshal(req)
	if err != nil {
		return ack, errors.Wrap(err, errors.ErrCodeInvalidInput, "failed to encode execution request")
	}

	endpoint := b.baseURL + "/execute"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return ack, errors.BackendUnavailable(b.baseURL, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return ack, errors.BackendUnavailable(b.baseURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return ack, errors.BackendUnavailable(b.baseURL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ack, errors.BackendUnavailable(b.baseURL,
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data))))
	}

	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &ack); err != nil {
			return ack, errors.Malformed(endpoint, err)
		}
	}
	return ack, nil
}

// Kernels lists the running kernels via GET /api/kernels.
func (b *HTTPBackend) Kernels(ctx context.Context) ([]KernelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/api/kernels", nil)
	if err != nil {
		return nil, errors.BackendUnavailable(b.baseURL, err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, errors.BackendUnavailable(b.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.BackendUnavailable(b.baseURL, fmt.Errorf("status %d", resp.StatusCode))
	}

	var kernels []KernelInfo
	if err := json.NewDecoder(resp.Body).Decode(&kernels); err != nil {
		return nil, errors.Malformed(b.baseURL+"/api/kernels", err)
	}
	return kernels, nil
}
