package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/OmChillure/medchat/internal/models"
)

// ErrFetchFailed is the only failure kind the answering client reports. Use errors.Is to test for it;
// the concrete *TransportError keeps the status code or the underlying cause for logging.
var ErrFetchFailed = errors.New("fetch failed")

// TransportError is returned by AnsweringClient when a call to the answering service does not produce
// a usable payload: the endpoint is unreachable, it answers with a non-success status, or the body is
// not the expected JSON.
type TransportError struct {
	// StatusCode is the HTTP status of the response, or 0 when no response was received.
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d", ErrFetchFailed, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", ErrFetchFailed, e.Err)
	}
	return ErrFetchFailed.Error()
}

func (e *TransportError) Is(target error) bool {
	return target == ErrFetchFailed
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// AnsweringClient talks to the answering service over HTTP. It holds no state besides its endpoint and
// HTTP client, so a single value can be shared by any number of sessions.
type AnsweringClient struct {
	baseURL string

	client *http.Client
}

// NewAnsweringClient creates a client for the answering service rooted at baseURL, for example
// "http://localhost:8000". The HTTP client has no timeout: a call lasts until the service answers or
// the context passed to Ask is cancelled.
func NewAnsweringClient(baseURL string) AnsweringClient {
	return AnsweringClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
	}
}

// Ask sends query and the result-count hint k to the answering service and returns the decoded
// response. Every failure is reported as a *TransportError. A single attempt is made.
func (a AnsweringClient) Ask(ctx context.Context, query string, k int) (models.QueryResponse, error) {
	jsonBody, err := json.Marshal(models.QueryRequest{Query: query, K: k})
	if err != nil {
		return models.QueryResponse{}, &TransportError{Err: fmt.Errorf("error marshaling request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/query", bytes.NewBuffer(jsonBody))
	if err != nil {
		return models.QueryResponse{}, &TransportError{Err: fmt.Errorf("error creating request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return models.QueryResponse{}, &TransportError{Err: fmt.Errorf("error sending request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		return models.QueryResponse{}, &TransportError{StatusCode: resp.StatusCode}
	}

	var res models.QueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return models.QueryResponse{}, &TransportError{Err: fmt.Errorf("error decoding response: %w", err)}
	}

	return res, nil
}

// Health calls the greeting endpoint of the answering service and returns its "hello" text.
func (a AnsweringClient) Health(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/", nil)
	if err != nil {
		return "", &TransportError{Err: fmt.Errorf("error creating request: %w", err)}
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return "", &TransportError{Err: fmt.Errorf("error sending request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", &TransportError{StatusCode: resp.StatusCode}
	}

	var res struct {
		Hello string `json:"hello"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", &TransportError{Err: fmt.Errorf("error decoding response: %w", err)}
	}

	return res.Hello, nil
}
