package syncclient

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
	"sync"
	"time"

	"github.com/ent0n29/codestudio/internal/session"
)

// APIError is a non-2xx response from the session API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("session api: %d %s: %s", e.Status, e.Code, e.Message)
}

// IsNotFound reports whether err is a 404 from the API, which covers unknown
// sessions, inactive sessions and missing participants.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Client is a typed client for the session REST API.
type Client struct {
	baseURL string
	http    *http.Client

	mu    sync.RWMutex
	token string
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

type CreateResult struct {
	SessionID     string           `json:"sessionId"`
	ShareableLink string           `json:"shareableLink"`
	Session       *session.Session `json:"session"`
}

// IssueToken asks a development server for a token and keeps it for later calls.
func (c *Client) IssueToken(ctx context.Context, userID, username string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	err := c.do(ctx, http.MethodPost, "/api/auth/token", map[string]string{"userId": userID, "username": username}, &out)
	if err != nil {
		return "", err
	}
	c.SetToken(out.Token)
	return out.Token, nil
}

func (c *Client) CreateSession(ctx context.Context, creatorID, username string, settings session.Settings) (CreateResult, error) {
	var out CreateResult
	err := c.do(ctx, http.MethodPost, "/api/sessions/create", map[string]any{
		"creatorId": creatorID,
		"username":  username,
		"settings":  settings,
	}, &out)
	return out, err
}

func (c *Client) GetSession(ctx context.Context, id string) (*session.Session, error) {
	var out session.Session
	if err := c.do(ctx, http.MethodGet, sessionPath(id, ""), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Join(ctx context.Context, id, userID, username string) (*session.Session, error) {
	var out session.Session
	err := c.do(ctx, http.MethodPost, sessionPath(id, "/join"), map[string]string{"userId": userID, "username": username}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Leave(ctx context.Context, id, userID string) error {
	return c.do(ctx, http.MethodPost, sessionPath(id, "/leave"), map[string]string{"userId": userID}, nil)
}

func (c *Client) UpdateCode(ctx context.Context, id, userID, code string, baseVersion *int64) (session.CodeUpdate, error) {
	var out session.CodeUpdate
	body := map[string]any{"userId": userID, "code": code}
	if baseVersion != nil {
		body["baseVersion"] = *baseVersion
	}
	err := c.do(ctx, http.MethodPut, sessionPath(id, "/update"), body, &out)
	return out, err
}

func (c *Client) GetCode(ctx context.Context, id string) (string, int64, error) {
	var out struct {
		Code        string `json:"code"`
		CodeVersion int64  `json:"codeVersion"`
	}
	if err := c.do(ctx, http.MethodGet, sessionPath(id, "/code/get"), nil, &out); err != nil {
		return "", 0, err
	}
	return out.Code, out.CodeVersion, nil
}

func (c *Client) Chat(ctx context.Context, id string) ([]session.ChatEntry, error) {
	var out []session.ChatEntry
	if err := c.do(ctx, http.MethodGet, sessionPath(id, "/chat/messages"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SendChat(ctx context.Context, id, userID, message string) (session.ChatEntry, error) {
	var out session.ChatEntry
	err := c.do(ctx, http.MethodPost, sessionPath(id, "/chat/message"), map[string]string{"userId": userID, "message": message}, &out)
	return out, err
}

func (c *Client) UpdateCursor(ctx context.Context, id, userID string, cursor session.Cursor) (map[string]session.Cursor, error) {
	var out map[string]session.Cursor
	err := c.do(ctx, http.MethodPost, sessionPath(id, "/cursor/update"), map[string]any{"userId": userID, "cursor": cursor}, &out)
	return out, err
}

func (c *Client) End(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, sessionPath(id, "/end"), nil, nil)
}

func sessionPath(id, suffix string) string {
	return "/api/sessions/" + url.PathEscape(id) + suffix
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		apiErr := &APIError{Status: res.StatusCode}
		var payload struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if err := json.NewDecoder(io.LimitReader(res.Body, 64<<10)).Decode(&payload); err == nil {
			apiErr.Code = payload.Code
			apiErr.Message = payload.Error
		} else {
			apiErr.Message = http.StatusText(res.StatusCode)
		}
		return apiErr
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
