package lacrosse

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/anicoll/lacrosse-integration/internal/pkg/metrics"
)

// EnsureLoggedIn returns true immediately when a session is already held,
// otherwise it runs the two-step handshake once.
func (c *Client) EnsureLoggedIn(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureLoggedIn(ctx) == nil
}

func (c *Client) ensureLoggedIn(ctx context.Context) error {
	if c.session.authenticated {
		return nil
	}
	if err := c.login(ctx); err != nil {
		c.invalidate()
		metrics.LoginsTotal.WithLabelValues("failure").Inc()
		c.logger.Warn("login failed", zap.Error(err))
		return err
	}
	metrics.LoginsTotal.WithLabelValues("success").Inc()
	return nil
}

func (c *Client) login(ctx context.Context) error {
	c.logger.Debug("logging in", zap.String("base_url", c.baseURL.String()))
	body, err := c.get(ctx, c.baseURL.String()+accountScriptPath)
	if err != nil {
		return err
	}
	bs, err := extractBootstrap(body)
	if err != nil {
		return err
	}

	sessionKey, err := c.authenticate(ctx, bs)
	if err != nil {
		return err
	}

	// the session key never changes; once set the cookie is only replaced by
	// running the handshake again.
	s, err := c.setSessionCookie(bs, sessionKey)
	if err != nil {
		return err
	}
	c.session = s
	c.logger.Info("logged in", zap.String("cookie", s.cookieName), zap.String("domain", s.domain))
	return nil
}

func (c *Client) authenticate(ctx context.Context, bs bootstrap) (string, error) {
	loginURL := "https:" + bs.serviceURL + "user-api.php?pkey=" + bs.productKey + "&action=userlogin"
	form := url.Values{
		"iLogEmail": {c.cfg.Username},
		"iLogPass":  {c.cfg.Password},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, loginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := c.loginClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: POST login: %w", ErrTransport, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusFound {
		return "", fmt.Errorf("%w: POST login: status %d", ErrAuth, res.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(res.Body, maxBodySize))
	if err != nil {
		return "", fmt.Errorf("%w: POST login: %w", ErrTransport, err)
	}
	loginRes := loginResponse{}
	if err := json.Unmarshal(data, &loginRes); err != nil {
		return "", fmt.Errorf("%w: login response: %w", ErrAuth, err)
	}
	if loginRes.SessionKey == "" {
		return "", fmt.Errorf("%w: no session key in login response", ErrAuth)
	}
	return loginRes.SessionKey, nil
}

func (c *Client) setSessionCookie(bs bootstrap, sessionKey string) (session, error) {
	maxAge := bs.cookieYears * 365 * 24 * 60 * 60
	domain := c.baseURL.Hostname()
	raw := fmt.Sprintf("%s=%s; Max-Age=%d; Domain=%s; Path=/", bs.cookieName, sessionKey, maxAge, domain)

	cookie, err := http.ParseSetCookie(raw)
	if err != nil {
		return session{}, fmt.Errorf("%w: session cookie: %w", ErrAuth, err)
	}
	c.jar.SetCookies(c.baseURL, []*http.Cookie{cookie})

	return session{
		authenticated: true,
		cookieName:    bs.cookieName,
		cookieValue:   sessionKey,
		maxAge:        maxAge,
		domain:        domain,
	}, nil
}
