package remote

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

	"feedsync/client/internal/model"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ErrNoCredential 调用需要鉴权的接口时没有 token，请求不会发出。
var ErrNoCredential = errors.New("remote: missing bearer credential")

// Client 封装社交 feed 服务的 REST 接口。
// 除 /auth/* 外的所有请求都会带上 Authorization: Bearer <token>。
// token 随会话切换，可并发读写。
type Client struct {
	HTTPClient *http.Client
	BaseURL    string // 例如 http://localhost:8000

	mu    sync.RWMutex
	token string
}

// New 创建带 otel 埋点 transport 的客户端。
func New(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		HTTPClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		BaseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}
}

// SetToken 切换之后请求使用的凭证；空字符串表示已登出。
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token 返回当前凭证。
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

type createPostRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Timeline GET /posts/timeline
func (c *Client) Timeline(ctx context.Context) ([]model.Post, error) {
	var out []model.Post
	if err := c.do(ctx, "fetch timeline", http.MethodGet, "/posts/timeline", nil, &out, true); err != nil {
		return nil, err
	}
	if out == nil {
		out = []model.Post{}
	}
	return out, nil
}

// Users GET /users
func (c *Client) Users(ctx context.Context) ([]model.UserSummary, error) {
	return c.users(ctx, "fetch users", "/users")
}

// Following GET /users/{id}/following
func (c *Client) Following(ctx context.Context, userID string) ([]model.UserSummary, error) {
	return c.users(ctx, "fetch following", "/users/"+url.PathEscape(userID)+"/following")
}

// NotFollowing GET /users/{id}/not-following
func (c *Client) NotFollowing(ctx context.Context, userID string) ([]model.UserSummary, error) {
	return c.users(ctx, "fetch not following", "/users/"+url.PathEscape(userID)+"/not-following")
}

func (c *Client) users(ctx context.Context, op, path string) ([]model.UserSummary, error) {
	var out []model.UserSummary
	if err := c.do(ctx, op, http.MethodGet, path, nil, &out, true); err != nil {
		return nil, err
	}
	if out == nil {
		out = []model.UserSummary{}
	}
	return out, nil
}

// CreatePost POST /posts。服务端异步落库，返回 2xx 只代表“已入队”。
func (c *Client) CreatePost(ctx context.Context, title, description string) error {
	return c.do(ctx, "create post", http.MethodPost, "/posts", createPostRequest{Title: title, Description: description}, nil, true)
}

// Follow POST /users/{id}/follow
func (c *Client) Follow(ctx context.Context, userID string) error {
	return c.do(ctx, "follow", http.MethodPost, "/users/"+url.PathEscape(userID)+"/follow", nil, nil, true)
}

// Unfollow DELETE /users/{id}/follow
func (c *Client) Unfollow(ctx context.Context, userID string) error {
	return c.do(ctx, "unfollow", http.MethodDelete, "/users/"+url.PathEscape(userID)+"/follow", nil, nil, true)
}

// Login POST /auth/login，不需要 bearer。
func (c *Client) Login(ctx context.Context, email, password string) (model.AuthResult, error) {
	var out model.AuthResult
	err := c.do(ctx, "login", http.MethodPost, "/auth/login", loginRequest{Email: email, Password: password}, &out, false)
	return out, err
}

// Signup POST /auth/signup，不需要 bearer。
func (c *Client) Signup(ctx context.Context, username, email, password string) (model.AuthResult, error) {
	var out model.AuthResult
	err := c.do(ctx, "signup", http.MethodPost, "/auth/signup", signupRequest{Username: username, Email: email, Password: password}, &out, false)
	return out, err
}

type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any, authed bool) error {
	token := c.Token()
	if authed && token == "" {
		return &model.FetchError{Op: op, Err: ErrNoCredential}
	}
	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return &model.FetchError{Op: op, Err: fmt.Errorf("new request: %w", err)}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if authed {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return &model.FetchError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// 只读少量错误信息，避免把整段 body 透传给上层。
		limited, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		fe := &model.FetchError{Op: op, Status: resp.StatusCode}
		var eb errorBody
		if json.Unmarshal(limited, &eb) == nil {
			fe.Message = eb.Message
			if fe.Message == "" {
				fe.Message = eb.Error
			}
		}
		return fe
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &model.FetchError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
