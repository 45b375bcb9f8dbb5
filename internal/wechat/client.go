package wechat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chinuno-usami/server-tan/internal/errs"
	pebblestore "github.com/chinuno-usami/server-tan/internal/storage/pebble"
)

const defaultBaseURL = "https://api.weixin.qq.com"

// accessTokenKey is where the cached token lives in the platform keyspace.
const accessTokenKey = "access_token"

// AccessToken is the platform API credential with its absolute expiry.
type AccessToken struct {
	AccessToken string `json:"access_token"`
	Expires     int64  `json:"expires"` // unix seconds
}

// Client talks to the push platform: token management, profile lookup, and
// template delivery. It implements usersvc.NameResolver and relaysvc.Pusher.
type Client struct {
	appID      string
	appSecret  string
	baseURL    string
	httpClient *http.Client
	tokens     *pebblestore.Keyspace
	logger     *zap.Logger

	mu sync.Mutex // serializes token refresh
}

// Options configures the Client.
type Options struct {
	AppID     string
	AppSecret string
	// BaseURL overrides the platform endpoint, used by tests. Empty means
	// the production API.
	BaseURL string
	// HTTPClient overrides the default client. Empty uses a 10s timeout.
	HTTPClient *http.Client
	// Tokens is the keyspace caching the access token across restarts.
	Tokens *pebblestore.Keyspace
	Logger *zap.Logger
}

// New creates a platform client.
func New(opts Options) *Client {
	c := &Client{
		appID:      opts.AppID,
		appSecret:  opts.AppSecret,
		baseURL:    opts.BaseURL,
		httpClient: opts.HTTPClient,
		tokens:     opts.Tokens,
		logger:     opts.Logger,
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	ErrCode     int    `json:"errcode"`
	ErrMsg      string `json:"errmsg"`
}

// Token returns a valid access token, refreshing through the platform when
// the cached one is missing or expired.
func (c *Client) Token(ctx context.Context) (AccessToken, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if b, err := c.tokens.Get(accessTokenKey); err == nil {
		var tok AccessToken
		if err := json.Unmarshal(b, &tok); err == nil && tok.Expires > time.Now().Unix() {
			return tok, nil
		}
	}
	return c.refreshToken(ctx)
}

func (c *Client) refreshToken(ctx context.Context) (AccessToken, error) {
	q := url.Values{}
	q.Set("grant_type", "client_credential")
	q.Set("appid", c.appID)
	q.Set("secret", c.appSecret)

	var res tokenResponse
	if err := c.getJSON(ctx, "/cgi-bin/token", q, &res); err != nil {
		return AccessToken{}, err
	}
	if res.AccessToken == "" {
		return AccessToken{}, fmt.Errorf("token refresh: errcode=%d errmsg=%q: %w", res.ErrCode, res.ErrMsg, errs.ErrUpstream)
	}
	tok := AccessToken{
		AccessToken: res.AccessToken,
		Expires:     time.Now().Add(time.Duration(res.ExpiresIn) * time.Second).Unix(),
	}
	if b, err := json.Marshal(tok); err == nil {
		if err := c.tokens.Put(accessTokenKey, b); err != nil {
			// a failed cache write costs one extra refresh, nothing more
			c.logger.Warn("access token cache write failed", zap.Error(err))
		}
	}
	c.logger.Debug("access token refreshed", zap.Int64("expires", tok.Expires))
	return tok, nil
}

type userInfoResponse struct {
	Nickname string `json:"nickname"`
	ErrCode  int    `json:"errcode"`
	ErrMsg   string `json:"errmsg"`
}

// ResolveDisplayName looks up the platform profile for userID and returns
// its display name.
func (c *Client) ResolveDisplayName(ctx context.Context, userID string) (string, error) {
	tok, err := c.Token(ctx)
	if err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("access_token", tok.AccessToken)
	q.Set("openid", userID)
	q.Set("lang", "zh_CN")

	var res userInfoResponse
	if err := c.getJSON(ctx, "/cgi-bin/user/info", q, &res); err != nil {
		return "", err
	}
	if res.Nickname == "" {
		return "", fmt.Errorf("user info for %s: errcode=%d errmsg=%q: %w", userID, res.ErrCode, res.ErrMsg, errs.ErrUpstream)
	}
	return res.Nickname, nil
}

// TemplateData is the field set of the notification push template.
type TemplateData struct {
	Title       string
	ChannelName string
	Time        string
	Body        string
}

type templateResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// SendTemplate delivers one templated notification to userID. The linkURL
// becomes the permalink the recipient opens.
func (c *Client) SendTemplate(ctx context.Context, userID, templateID string, data TemplateData, linkURL string) error {
	tok, err := c.Token(ctx)
	if err != nil {
		return err
	}

	field := func(v string) map[string]string {
		return map[string]string{"value": v, "color": "#173177"}
	}
	payload := map[string]any{
		"touser":      userID,
		"template_id": templateID,
		"url":         linkURL,
		"data": map[string]any{
			"title": field(data.Title),
			"name":  field(data.ChannelName),
			"time":  field(data.Time),
			"body":  field(data.Body),
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode template payload: %w", err)
	}

	u := c.baseURL + "/cgi-bin/message/template/send?access_token=" + url.QueryEscape(tok.AccessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("template request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("template send to %s: %v: %w", userID, err, errs.ErrUpstream)
	}
	defer resp.Body.Close()

	var res templateResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return fmt.Errorf("template response for %s: %v: %w", userID, err, errs.ErrUpstream)
	}
	if res.ErrCode != 0 {
		return fmt.Errorf("template send to %s: errcode=%d errmsg=%q: %w", userID, res.ErrCode, res.ErrMsg, errs.ErrUpstream)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	u := c.baseURL + path + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %v: %w", path, err, errs.ErrUpstream)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read body: %v: %w", path, err, errs.ErrUpstream)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("%s: decode %q: %v: %w", path, b, err, errs.ErrUpstream)
	}
	return nil
}
