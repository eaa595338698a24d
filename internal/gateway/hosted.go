package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Hosted talks to the hosted-checkout HTTP API. The client timeout bounds
// every call so a slow provider cannot block a finalize request forever.
type Hosted struct {
	BaseURL   string
	SecretKey string
	Client    *http.Client
}

func NewHosted(baseURL, secretKey string) *Hosted {
	return &Hosted{
		BaseURL:   baseURL,
		SecretKey: secretKey,
		Client:    &http.Client{Timeout: 10 * time.Second},
	}
}

type createReq struct {
	Items      []Item            `json:"items"`
	SuccessURL string            `json:"success_url"`
	CancelURL  string            `json:"cancel_url"`
	Metadata   map[string]string `json:"metadata"`
}

func (h *Hosted) Create(ctx context.Context, items []Item, successURL, cancelURL string, metadata map[string]string) (Session, error) {
	body, err := json.Marshal(createReq{Items: items, SuccessURL: successURL, CancelURL: cancelURL, Metadata: metadata})
	if err != nil {
		return Session{}, err
	}
	var s Session
	if err := h.do(ctx, http.MethodPost, "/v1/checkout/sessions", body, &s); err != nil {
		return Session{}, err
	}
	return s, nil
}

// Retrieve is retried a couple of times on transient failures because it sits
// on the finalize path, where a flaky provider read would otherwise bubble up
// as a failed order.
func (h *Hosted) Retrieve(ctx context.Context, sessionID string) (Status, error) {
	var st Status
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Status{}, ctx.Err()
			case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
			}
		}
		err = h.do(ctx, http.MethodGet, "/v1/checkout/sessions/"+sessionID, nil, &st)
		if err == nil || !transient(err) {
			return st, err
		}
	}
	return Status{}, err
}

type httpError struct {
	Code int
	Body string
}

func (e *httpError) Error() string { return fmt.Sprintf("gateway: status %d: %s", e.Code, e.Body) }

func transient(err error) bool {
	if he, ok := err.(*httpError); ok {
		return he.Code >= 500
	}
	// network-level errors (timeouts, resets) are worth one more try
	return true
}

func (h *Hosted) do(ctx context.Context, method, path string, body []byte, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, h.BaseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+h.SecretKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		return &httpError{Code: resp.StatusCode, Body: string(b)}
	}
	return json.Unmarshal(b, out)
}
