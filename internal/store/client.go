package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/immanencer/ratimint/internal/relay"
)

const clientTimeout = 10 * time.Second

// Client talks to a running store service. Every call carries the bounded
// client timeout so a stalled store can never stall a polling loop.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: clientTimeout},
	}
}

func (c *Client) AppendMessage(ctx context.Context, msg relay.Message) error {
	return c.post(ctx, "/message", msg)
}

func (c *Client) RecentMessages(ctx context.Context, channel string, limit int) ([]relay.Message, error) {
	q := url.Values{}
	q.Set("channel", channel)
	q.Set("limit", strconv.Itoa(limit))

	msgs := []relay.Message{}
	if err := c.getJSON(ctx, "/messages?"+q.Encode(), &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (c *Client) LatestPerChannel(ctx context.Context) ([]relay.Message, error) {
	msgs := []relay.Message{}
	if err := c.getJSON(ctx, "/messages", &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (c *Client) EnqueueTask(ctx context.Context, task relay.Task) error {
	return c.post(ctx, "/task", task)
}

// ClaimNextTask returns the claimed task, or (nil, nil) when the queue has
// nothing pending for the type.
func (c *Client) ClaimNextTask(ctx context.Context, taskType string) (*relay.Task, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/task?type="+url.QueryEscape(taskType), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		return nil, nil
	case http.StatusOK:
		task := relay.Task{}
		if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
			return nil, fmt.Errorf("decode task: %w", err)
		}
		return &task, nil
	default:
		return nil, fmt.Errorf("claim task: unexpected status %d", resp.StatusCode)
	}
}

func (c *Client) SetTaskStatus(ctx context.Context, taskID string, status relay.TaskStatus) error {
	body, err := json.Marshal(relay.StatusUpdate{TaskID: taskID, Status: status})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/task", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("update task: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("post %s: unexpected status %d", path, resp.StatusCode)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("get %s: unexpected status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
