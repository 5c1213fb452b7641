package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WorkerTokenHeader carries the shared secret on start-URL requests.
const WorkerTokenHeader = "x-stt-worker-token"

// StartClient asks the web backend to start a long-running cloud job for an
// already staged object.
type StartClient struct {
	url    string
	token  string
	client *http.Client
}

// StartError is a non-2xx answer from the start URL.
type StartError struct {
	Status int
	Body   string
}

func (e *StartError) Error() string {
	return fmt.Sprintf("start request failed: status %d: %s", e.Status, e.Body)
}

func NewStartClient(url, token string, client *http.Client) *StartClient {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &StartClient{url: url, token: token, client: client}
}

// Start posts {gcsUri} and returns the operation name of the started job.
func (s *StartClient) Start(ctx context.Context, uri string) (string, error) {
	payload, err := json.Marshal(map[string]string{"gcsUri": uri})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(WorkerTokenHeader, s.token)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("start request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read start response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return "", &StartError{Status: resp.StatusCode, Body: string(body)}
	}

	var out struct {
		OperationName string `json:"operationName"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode start response: %w", err)
	}
	if out.OperationName == "" {
		return "", fmt.Errorf("start response has no operationName")
	}
	return out.OperationName, nil
}
