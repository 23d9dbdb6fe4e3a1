package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/construtech/rdosync/internal/config"
	"github.com/construtech/rdosync/internal/errors"
)

// HTTPStore talks JSON over HTTP to a generic record backend exposing
// insert/update/delete/select-by-id semantics per collection.
type HTTPStore struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPStore creates an HTTPStore from the remote configuration.
func NewHTTPStore(cfg config.RemoteConfig) *HTTPStore {
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPStore{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}
}

// Insert implements Store.
func (h *HTTPStore) Insert(ctx context.Context, collection string, record json.RawMessage, idempotencyKey string) (json.RawMessage, error) {
	req, err := h.newRequest(ctx, http.MethodPost, h.collectionURL(collection), record)
	if err != nil {
		return nil, err
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	body, err := h.do(req, http.StatusOK, http.StatusCreated)
	if err != nil {
		return nil, err
	}
	return body, nil
}

// Update implements Store.
func (h *HTTPStore) Update(ctx context.Context, collection, id string, partial json.RawMessage) error {
	req, err := h.newRequest(ctx, http.MethodPatch, h.recordURL(collection, id), partial)
	if err != nil {
		return err
	}
	_, err = h.do(req, http.StatusOK, http.StatusNoContent)
	return err
}

// Delete implements Store.
func (h *HTTPStore) Delete(ctx context.Context, collection, id string) error {
	req, err := h.newRequest(ctx, http.MethodDelete, h.recordURL(collection, id), nil)
	if err != nil {
		return err
	}
	_, err = h.do(req, http.StatusOK, http.StatusNoContent)
	return err
}

// SelectByID implements Store.
func (h *HTTPStore) SelectByID(ctx context.Context, collection, id string) (json.RawMessage, bool, error) {
	req, err := h.newRequest(ctx, http.MethodGet, h.recordURL(collection, id), nil)
	if err != nil {
		return nil, false, err
	}
	body, err := h.do(req, http.StatusOK)
	if err != nil {
		if errors.Is(err, errors.CodeNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return body, true, nil
}

// SelectAll implements Store.
func (h *HTTPStore) SelectAll(ctx context.Context, collection string, filter map[string]string) ([]json.RawMessage, error) {
	u := h.collectionURL(collection)
	if len(filter) > 0 {
		q := url.Values{}
		for k, v := range filter {
			q.Set(k, v)
		}
		u += "?" + q.Encode()
	}

	req, err := h.newRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	body, err := h.do(req, http.StatusOK)
	if err != nil {
		return nil, err
	}

	var records []json.RawMessage
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, errors.Wrap(errors.CodeInternal, "malformed collection response", err)
	}
	return records, nil
}

func (h *HTTPStore) collectionURL(collection string) string {
	return fmt.Sprintf("%s/%s", h.baseURL, url.PathEscape(collection))
}

func (h *HTTPStore) recordURL(collection, id string) string {
	return fmt.Sprintf("%s/%s/%s", h.baseURL, url.PathEscape(collection), url.PathEscape(id))
}

func (h *HTTPStore) newRequest(ctx context.Context, method, u string, body json.RawMessage) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}
	return req, nil
}

// do executes the request and maps the response onto the error taxonomy:
// transport failures and 5xx are transient, 404 is not-found, 409 is a
// conflict and remaining 4xx are validation errors (immediately terminal).
func (h *HTTPStore) do(req *http.Request, okStatuses ...int) ([]byte, error) {
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(errors.CodeTransient, "remote call failed", err)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)

	for _, status := range okStatuses {
		if resp.StatusCode == status {
			if readErr != nil {
				return nil, errors.Wrap(errors.CodeTransient, "failed to read response", readErr)
			}
			return body, nil
		}
	}

	msg := fmt.Sprintf("%s %s returned %d: %s", req.Method, req.URL.Path, resp.StatusCode, truncate(body, 200))
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, errors.New(errors.CodeNotFound, msg)
	case resp.StatusCode == http.StatusConflict:
		return nil, errors.New(errors.CodeConflict, msg)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, errors.New(errors.CodeTransient, msg)
	default:
		return nil, errors.New(errors.CodeValidation, msg)
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
