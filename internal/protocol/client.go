package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/k8ika0s/shop-assistant/internal/executor"
	"github.com/k8ika0s/shop-assistant/internal/queue"
	"github.com/k8ika0s/shop-assistant/internal/session"
)

const (
	MessagesPath  = "/api/messages"
	HeartbeatPath = "/api/agents/heartbeat"
	TokenHeader   = "X-Agent-Token"
)

// DefaultTimeout bounds every round trip unless WithTimeout says otherwise.
const DefaultTimeout = 5 * time.Second

// StatusError is a non-2xx answer from the background.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("background answered %d", e.Code)
	}
	return fmt.Sprintf("background answered %d: %s", e.Code, e.Message)
}

// IsTransport reports whether err means the background is unusable: it
// could not be reached, failed internally, or refused the agent's token.
// Other 4xx answers reject a single request.
func IsTransport(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || IsAuth(se)
	}
	return true
}

// IsAuth reports whether the background refused the agent's credentials.
func IsAuth(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == http.StatusUnauthorized || se.Code == http.StatusForbidden
}

// Client talks to the background over HTTP.
type Client struct {
	BaseURL    *url.URL
	httpClient *http.Client
	token      string
	timeout    time.Duration
	logger     *logrus.Entry
}

// Option configures a Client.
type Option func(*Client)

// New returns a client for base, which may omit the scheme.
func New(base string, options ...Option) (*Client, error) {
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	baseURL, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return nil, err
	}
	c := &Client{
		BaseURL:    baseURL,
		httpClient: http.DefaultClient,
		timeout:    DefaultTimeout,
	}
	for _, option := range options {
		option(c)
	}
	return c, nil
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithTimeout sets the per-message deadline; zero or less keeps the default.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithLogger(logger *logrus.Entry) Option {
	return func(c *Client) { c.logger = logger }
}

// Send posts req to the message endpoint and decodes the answer into out.
func (c *Client) Send(ctx context.Context, req Request, out any) error {
	return c.call(ctx, MessagesPath, req, out)
}

func (c *Client) call(ctx context.Context, path string, body, out any) (err error) {
	if c.logger != nil {
		c.logger.Debugf("posting to %s", path)
		defer func() {
			if err != nil {
				c.logger.WithError(err).WithField("path", path).Debug("message failed")
			}
		}()
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL.String()+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set(TokenHeader, c.token)
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer func() { _ = res.Body.Close() }()
	payload, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if res.StatusCode >= 400 {
		var er ErrorResponse
		_ = json.Unmarshal(payload, &er)
		msg := er.Error
		if msg == "" {
			msg = er.Message
		}
		return &StatusError{Code: res.StatusCode, Message: msg}
	}
	if out != nil && len(payload) > 0 {
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return nil
}

// Append enqueues a batch.
func (c *Client) Append(ctx context.Context, actions ...queue.Action) (AppendResponse, error) {
	var out AppendResponse
	req, err := NewAppendRequest(actions...)
	if err != nil {
		return out, err
	}
	err = c.Send(ctx, req, &out)
	return out, err
}

// Pop takes the next available action; out.Action is nil when none.
func (c *Client) Pop(ctx context.Context) (PopResponse, error) {
	var out PopResponse
	err := c.Send(ctx, Request{Type: PopAction}, &out)
	return out, err
}

func (c *Client) Clear(ctx context.Context) (ClearResponse, error) {
	var out ClearResponse
	err := c.Send(ctx, Request{Type: ClearQueue}, &out)
	return out, err
}

func (c *Client) Length(ctx context.Context) (LengthResponse, error) {
	var out LengthResponse
	err := c.Send(ctx, Request{Type: GetQueueLength}, &out)
	return out, err
}

func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var out StatusResponse
	err := c.Send(ctx, Request{Type: GetQueueStatus}, &out)
	return out, err
}

func (c *Client) MarkCompleted(ctx context.Context, agentID, taskID string, result *executor.Result) (CompletedResponse, error) {
	var out CompletedResponse
	err := c.Send(ctx, Request{Type: MarkTaskCompleted, TaskID: taskID, Result: result, AgentID: agentID}, &out)
	return out, err
}

func (c *Client) MarkFailed(ctx context.Context, agentID string, task queue.Action, msg string, result *executor.Result) (FailedResponse, error) {
	var out FailedResponse
	err := c.Send(ctx, Request{Type: MarkTaskFailed, Task: &task, ErrorMessage: msg, Result: result, AgentID: agentID}, &out)
	return out, err
}

func (c *Client) SetEnabled(ctx context.Context, enabled bool) (EnabledResponse, error) {
	var out EnabledResponse
	err := c.Send(ctx, Request{Type: SetEnabled, Enabled: &enabled}, &out)
	return out, err
}

func (c *Client) Session(ctx context.Context) (SessionResponse, error) {
	var out SessionResponse
	err := c.Send(ctx, Request{Type: GetSession}, &out)
	return out, err
}

func (c *Client) SetSession(ctx context.Context, st session.State) (SessionResponse, error) {
	var out SessionResponse
	err := c.Send(ctx, Request{Type: SetSession, Session: &st}, &out)
	return out, err
}

// Heartbeat reports agent presence.
func (c *Client) Heartbeat(ctx context.Context, hb Heartbeat) error {
	return c.call(ctx, HeartbeatPath, hb, nil)
}
