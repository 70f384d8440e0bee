package checker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/NordCoder/Sitewatch/internal/domain/result"
	"github.com/NordCoder/Sitewatch/internal/domain/target"
)

// headers worth keeping in the payload; the rest is noise for operators
var keptHeaders = []string{"Server", "Content-Type", "Cache-Control", "X-Powered-By", "Location", "Strict-Transport-Security"}

type Availability struct {
	client *http.Client
}

func NewAvailability(client *http.Client) *Availability { return &Availability{client: client} }

func (a *Availability) Kind() target.Kind { return target.KindAvailability }

func (a *Availability) Check(ctx context.Context, t *target.Target, cfg target.KindConfig) (*result.CheckResult, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	started := time.Now()
	res := newResult(t, a.Kind(), started)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	chain := []string{}
	client := *a.client
	next := a.client.CheckRedirect
	client.CheckRedirect = func(r *http.Request, via []*http.Request) error {
		chain = append(chain, via[len(via)-1].URL.String())
		if next != nil {
			return next(r, via)
		}
		return nil
	}

	resp, err := client.Do(req)
	res.LatencyMS = since(started)
	res.Payload["response_time_ms"] = res.LatencyMS
	res.Payload["redirect_chain"] = chain
	if err != nil {
		return errored(res, transportReason(ctx, err, cfg.Timeout)), nil
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))

	res.Payload["status_code"] = resp.StatusCode
	if len(chain) > 0 {
		res.Payload["redirect_url"] = resp.Request.URL.String()
	}
	headers := make(map[string]string, len(keptHeaders))
	for _, h := range keptHeaders {
		if v := resp.Header.Get(h); v != "" {
			headers[h] = v
		}
	}
	res.Payload["headers"] = headers

	if !cfg.Accepts(resp.StatusCode) {
		return fail(res, fmt.Sprintf("HTTP %d", resp.StatusCode)), nil
	}
	return res, nil
}
