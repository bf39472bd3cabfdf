package lacrosse

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"github.com/anicoll/lacrosse-integration/internal/pkg/config"
)

const (
	accountScriptPath = "resources/js/dd/account-enhanced.js?ver=11"
	maxBodySize       = 4 << 20
)

var (
	ErrTransport     = errors.New("transport error")
	ErrParse         = errors.New("parse error")
	ErrAuth          = errors.New("authentication error")
	ErrNoDevices     = errors.New("no devices reported")
	ErrLoginAttempts = errors.New("login attempts exhausted")
)

// session is either fully authenticated or not at all.
type session struct {
	authenticated bool
	cookieName    string
	cookieValue   string
	maxAge        int
	domain        string
}

type Client struct {
	cfg         *config.LacrosseConfig
	baseURL     *url.URL
	jar         http.CookieJar
	httpClient  *http.Client
	loginClient *http.Client
	logger      *zap.Logger

	mu      sync.Mutex // serialises handshake and fetch
	session session
}

func New(cfg *config.LacrosseConfig) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	httpClient := &http.Client{
		Transport: transport,
		Jar:       jar,
		Timeout:   cfg.HTTPTimeout,
	}
	// the login endpoint answers with a redirect whose body carries the session key.
	loginClient := &http.Client{
		Transport: transport,
		Jar:       jar,
		Timeout:   cfg.HTTPTimeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return &Client{
		cfg:         cfg,
		baseURL:     base,
		jar:         jar,
		httpClient:  httpClient,
		loginClient: loginClient,
		logger:      zap.L(), // returns the global logger.
	}, nil
}

// Authenticated reports whether a session cookie is currently believed valid.
func (c *Client) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.authenticated
}

func (c *Client) invalidate() {
	c.session.authenticated = false
}

func (c *Client) get(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTransport, err)
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: GET %s: %w", ErrTransport, req.URL.Path, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return "", fmt.Errorf("%w: GET %s: status %d", ErrTransport, req.URL.Path, res.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(res.Body, maxBodySize))
	if err != nil {
		return "", fmt.Errorf("%w: GET %s: %w", ErrTransport, req.URL.Path, err)
	}
	return string(data), nil
}
