package checker

import (
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/NordCoder/Sitewatch/internal/obs"
)

type HTTPConfig struct {
	UserAgent    string        `mapstructure:"user_agent"`
	VerifyTLS    bool          `mapstructure:"verify_tls"`
	MaxRedirects int           `mapstructure:"max_redirects"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
}

const DefaultUserAgent = "Sitewatch/1.0 (+https://github.com/NordCoder/Sitewatch)"

var errTooManyRedirects = errors.New("stopped after too many redirects")

// NewHTTPClient builds the client every checker shares. It sets no overall timeout:
// each check bounds its requests with the context deadline.
func NewHTTPClient(cfg HTTPConfig) *http.Client {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = 10
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig: &tls.Config{
			// certificate problems are the certificate checker's business
			InsecureSkipVerify: !cfg.VerifyTLS,
			MinVersion:         tls.VersionTLS12,
		},
	}

	limit := cfg.MaxRedirects
	return &http.Client{
		Transport: &userAgent{rt: obs.HTTPTransport(transport), ua: cfg.UserAgent},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= limit {
				return errTooManyRedirects
			}
			return nil
		},
	}
}

// noRedirects returns a copy of c that hands 3xx responses back to the caller.
func noRedirects(c *http.Client) *http.Client {
	cp := *c
	cp.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	return &cp
}

type userAgent struct {
	rt http.RoundTripper
	ua string
}

func (u *userAgent) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		ua := u.ua
		if ua == "" {
			ua = DefaultUserAgent
		}
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", ua)
	}
	return u.rt.RoundTrip(req)
}
