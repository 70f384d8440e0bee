package checker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/NordCoder/Sitewatch/internal/domain/result"
	"github.com/NordCoder/Sitewatch/internal/domain/target"
	"golang.org/x/sync/errgroup"
)

const linkTimeout = 10 * time.Second

type linkStatus struct {
	URL        string
	StatusCode int
	Error      string
	IsInternal bool
	broken     bool
}

// Links crawls the anchors of the entry page and probes each one.
type Links struct {
	client *http.Client
}

func NewLinks(client *http.Client) *Links { return &Links{client: client} }

func (l *Links) Kind() target.Kind { return target.KindLinkIntegrity }

func (l *Links) Check(ctx context.Context, t *target.Target, cfg target.KindConfig) (*result.CheckResult, error) {
	started := time.Now()
	res := newResult(t, l.Kind(), started)

	// cfg.Timeout bounds the whole check: entry page and every link probe.
	budget, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(budget, http.MethodGet, t.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		res.LatencyMS = since(started)
		return errored(res, transportReason(budget, err, cfg.Timeout)), nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	resp.Body.Close()
	if err != nil {
		res.LatencyMS = since(started)
		return errored(res, transportReason(budget, err, cfg.Timeout)), nil
	}
	if resp.StatusCode != http.StatusOK {
		res.LatencyMS = since(started)
		return fail(res, fmt.Sprintf("Entry page returned HTTP %d", resp.StatusCode)), nil
	}

	doc, err := parseDocument(bytes.NewReader(body), resp.Request.URL)
	if err != nil {
		return nil, fmt.Errorf("parse entry page: %w", err)
	}
	links := ExtractLinks(doc, cfg.CrawlLimit)
	host := resp.Request.URL.Host

	statuses := make([]linkStatus, len(links))
	var g errgroup.Group
	g.SetLimit(cfg.LinkConcurrency)
	for i, link := range links {
		i, link := i, link
		g.Go(func() error {
			statuses[i] = l.probe(budget, link, host, cfg.Timeout)
			return nil
		})
	}
	_ = g.Wait()

	var (
		broken   []linkStatus
		internal int
	)
	for _, s := range statuses {
		if s.IsInternal {
			internal++
		}
		if s.broken {
			broken = append(broken, s)
		}
	}

	res.LatencyMS = since(started)
	res.Payload["total_links"] = len(links)
	res.Payload["broken_links"] = len(broken)
	res.Payload["internal_links"] = internal
	res.Payload["external_links"] = len(links) - internal
	res.Payload["broken_link_details"] = brokenDetails(broken)

	if len(broken) > 0 {
		return fail(res, fmt.Sprintf("%d broken links found", len(broken))), nil
	}
	return res, nil
}

// probe tries HEAD first and falls back to GET when HEAD fails or is not allowed.
// Each link gets at most linkTimeout of what is left of budget; a link not
// probed before budget runs out is reported broken with a timeout.
func (l *Links) probe(budget context.Context, link, host string, total time.Duration) linkStatus {
	s := linkStatus{URL: link, IsInternal: sameHost(link, host)}
	if budget.Err() != nil {
		s.Error = fmt.Sprintf("Timeout after %d seconds", int(total.Seconds()))
		s.broken = true
		return s
	}
	ctx, cancel := context.WithTimeout(budget, linkTimeout)
	defer cancel()

	code, err := l.status(ctx, http.MethodHead, link)
	if err != nil || code == http.StatusMethodNotAllowed {
		code, err = l.status(ctx, http.MethodGet, link)
	}
	if err != nil {
		limit := linkTimeout
		if budget.Err() != nil {
			limit = total
		}
		s.Error = transportReason(ctx, err, limit)
		s.broken = true
		return s
	}
	s.StatusCode = code
	s.broken = code >= 400
	return s
}

func (l *Links) status(ctx context.Context, method, link string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, link, nil)
	if err != nil {
		return 0, err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
	return resp.StatusCode, nil
}

// ExtractLinks returns the distinct absolute http(s) anchors of doc in document order,
// without fragments or trailing slashes, capped at limit.
func ExtractLinks(doc *document, limit int) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, a := range doc.elements("a") {
		if limit > 0 && len(out) >= limit {
			break
		}
		href, ok := attr(a, "href")
		href = strings.TrimSpace(href)
		if !ok || skipHref(href) {
			continue
		}
		u, ok := doc.resolve(href)
		if !ok {
			continue
		}
		s := u.String()
		s = strings.TrimSuffix(s, "/")
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func skipHref(href string) bool {
	if href == "" || strings.HasPrefix(href, "#") {
		return true
	}
	lower := strings.ToLower(href)
	for _, p := range []string{"javascript:", "mailto:", "tel:"} {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

func sameHost(link, host string) bool {
	rest, ok := strings.CutPrefix(link, "https://")
	if !ok {
		rest, _ = strings.CutPrefix(link, "http://")
	}
	h, _, _ := strings.Cut(rest, "/")
	h, _, _ = strings.Cut(h, "?")
	return strings.EqualFold(h, host)
}

func brokenDetails(broken []linkStatus) []map[string]any {
	out := make([]map[string]any, 0, len(broken))
	for _, b := range broken {
		out = append(out, map[string]any{
			"url":         b.URL,
			"status_code": b.StatusCode,
			"error":       b.Error,
			"is_internal": b.IsInternal,
		})
	}
	return out
}
