// Package client talks to the attempt API and keeps the per-session start
// payload cache the take page reads on reload.
package client

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

	"golang.org/x/oauth2"
)

// APIError is any non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("beelearnt api: %d %s", e.Status, e.Message)
}

// IsConflict reports a 409: the attempt is already submitted.
func IsConflict(err error) bool { return hasStatus(err, http.StatusConflict) }

func IsNotFound(err error) bool { return hasStatus(err, http.StatusNotFound) }

func hasStatus(err error, code int) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status == code
}

type Config struct {
	BaseURL string
	Token   string // bearer access token from /auth/login
	Timeout time.Duration
	// HTTPClient is the transport underneath the token source. Defaults to
	// http.DefaultClient.
	HTTPClient *http.Client
	Cache      *SessionCache
}

type Client struct {
	base  *url.URL
	http  *http.Client
	cache *SessionCache
}

func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("client: bad base url %q", cfg.BaseURL)
	}
	ctx := context.Background()
	if cfg.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, cfg.HTTPClient)
	}
	h := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: cfg.Token,
		TokenType:   "Bearer",
	}))
	if cfg.Timeout > 0 {
		h.Timeout = cfg.Timeout
	}
	if cfg.Cache == nil {
		cfg.Cache = NewSessionCache()
	}
	return &Client{base: base, http: h, cache: cfg.Cache}, nil
}

func (c *Client) Cache() *SessionCache { return c.cache }

// Start begins or resumes the attempt and caches the payload under its id.
func (c *Client) Start(ctx context.Context, assessmentID string) (StartPayload, error) {
	var p StartPayload
	if err := c.do(ctx, http.MethodPost, "/assessments/"+url.PathEscape(assessmentID)+"/start", nil, &p); err != nil {
		return StartPayload{}, err
	}
	c.cache.Put(p)
	return p, nil
}

// Resume serves the cached question layout when there is one and refreshes
// its answers from the server. Without a cache entry it falls back to Start,
// which resumes server-side.
func (c *Client) Resume(ctx context.Context, assessmentID, attemptID string) (StartPayload, error) {
	if attemptID != "" {
		if p, ok := c.cache.Get(attemptID); ok {
			v, err := c.Attempt(ctx, attemptID)
			switch {
			case IsNotFound(err):
				c.cache.Delete(attemptID)
			case err != nil:
				return StartPayload{}, err
			case v.Status != "in_progress":
				c.cache.Delete(attemptID)
				return StartPayload{}, &APIError{Status: http.StatusConflict, Message: "attempt already submitted"}
			default:
				p.Answers = v.Answers
				if p.Answers == nil {
					p.Answers = map[string]Answer{}
				}
				p.Resumed = true
				return p, nil
			}
		}
	}
	return c.Start(ctx, assessmentID)
}

// Attempt reads the attempt's current status and saved answers.
func (c *Client) Attempt(ctx context.Context, attemptID string) (AttemptView, error) {
	var v AttemptView
	err := c.do(ctx, http.MethodGet, "/attempts/"+url.PathEscape(attemptID), nil, &v)
	return v, err
}

// Answer autosaves one question. The cache is not touched.
func (c *Client) Answer(ctx context.Context, attemptID, questionID, value string) (SavedAnswer, error) {
	body := map[string]string{"assessmentQuestionId": questionID, "answer": value}
	var out SavedAnswer
	err := c.do(ctx, http.MethodPut, "/attempts/"+url.PathEscape(attemptID)+"/answer", body, &out)
	return out, err
}

// Submit finalizes the attempt. The cached payload is dropped on success and
// on a 409, since either way the attempt is closed.
func (c *Client) Submit(ctx context.Context, attemptID string) (Result, error) {
	var res Result
	err := c.do(ctx, http.MethodPost, "/attempts/"+url.PathEscape(attemptID)+"/submit", nil, &res)
	if err == nil || IsConflict(err) {
		c.cache.Delete(attemptID)
	}
	return res, err
}

// Login exchanges credentials for an access token.
func Login(ctx context.Context, baseURL, username, password string) (string, error) {
	b, _ := json.Marshal(map[string]string{"username": username, "password": password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/auth/login", bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	if err := checkStatus(res); err != nil {
		return "", err
	}
	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.AccessToken, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if err := checkStatus(res); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}

func checkStatus(res *http.Response) error {
	if res.StatusCode/100 == 2 {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
	return &APIError{Status: res.StatusCode, Message: strings.TrimSpace(string(msg))}
}
