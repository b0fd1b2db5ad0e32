package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fokuslabs/focusgate/internal/models"
)

// HTTPStore talks to the sync gateway's row API:
//
//	POST   {base}/v1/rows/{kind}/select   {"field": f, "value": v} -> [row...]
//	PUT    {base}/v1/rows/{kind}/{id}     row (upsert by id)
//	PATCH  {base}/v1/rows/{kind}/{id}     row (update, 404 if absent)
//	DELETE {base}/v1/rows/{kind}/{id}
type HTTPStore struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPStore(baseURL, token string) *HTTPStore {
	return &HTTPStore{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// SetToken replaces the bearer token after a refresh.
func (s *HTTPStore) SetToken(token string) {
	s.token = token
}

func (s *HTTPStore) SelectEq(ctx context.Context, kind models.Kind, field, value string) ([]json.RawMessage, error) {
	body, err := json.Marshal(map[string]string{"field": field, "value": value})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/v1/rows/%s/select", s.baseURL, kind)
	data, err := s.do(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}

	var rows []json.RawMessage
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode select response: %w", err)
	}
	return rows, nil
}

func (s *HTTPStore) Upsert(ctx context.Context, kind models.Kind, id string, row json.RawMessage) error {
	url := fmt.Sprintf("%s/v1/rows/%s/%s", s.baseURL, kind, id)
	_, err := s.do(ctx, http.MethodPut, url, row)
	return err
}

func (s *HTTPStore) Update(ctx context.Context, kind models.Kind, id string, row json.RawMessage) error {
	url := fmt.Sprintf("%s/v1/rows/%s/%s", s.baseURL, kind, id)
	_, err := s.do(ctx, http.MethodPatch, url, row)
	return err
}

func (s *HTTPStore) Delete(ctx context.Context, kind models.Kind, id string) error {
	url := fmt.Sprintf("%s/v1/rows/%s/%s", s.baseURL, kind, id)
	_, err := s.do(ctx, http.MethodDelete, url, nil)
	return err
}

func (s *HTTPStore) do(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return data, nil
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, resp.Status)
	default:
		return nil, fmt.Errorf("remote error: %s; body: %s", resp.Status, string(data))
	}
}
