package qstash

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const maxResponseSizeBytes = 1 << 20

type PublishRequest struct {
	// Destination is the absolute URL QStash calls back.
	Destination string
	Body        []byte
	Delay       time.Duration
	// DeduplicationID makes repeated publishes of the same event collapse upstream.
	DeduplicationID string
}

type PublishResponse struct {
	MessageID string `json:"messageId"`
}

// Publish enqueues a JSON message for delayed delivery.
func (c *Client) Publish(ctx context.Context, req PublishRequest) (PublishResponse, error) {
	if req.Destination == "" {
		return PublishResponse{}, fmt.Errorf("qstash: destination is required")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/publish/"+req.Destination, bytes.NewReader(req.Body))
	if err != nil {
		return PublishResponse{}, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	httpReq.Header.Set("Content-Type", "application/json")
	if req.Delay > 0 {
		httpReq.Header.Set("Upstash-Delay", strconv.FormatInt(int64(req.Delay.Round(time.Second)/time.Second), 10)+"s")
	}
	if req.DeduplicationID != "" {
		httpReq.Header.Set("Upstash-Deduplication-Id", req.DeduplicationID)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return PublishResponse{}, fmt.Errorf("qstash: publish: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return PublishResponse{}, fmt.Errorf("qstash: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return PublishResponse{}, fmt.Errorf("qstash: publish status %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}

	var out PublishResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return PublishResponse{}, fmt.Errorf("qstash: decode response: %w", err)
		}
	}
	return out, nil
}
