package checker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"strings"
	"sync/atomic"
	"time"

	"github.com/NordCoder/Sitewatch/internal/domain/result"
	"github.com/NordCoder/Sitewatch/internal/domain/target"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"
)

const (
	maxResources        = 50
	resourceConcurrency = 6
)

type resourceKind int

const (
	resCSS resourceKind = iota
	resJS
	resImage
)

type resource struct {
	url  string
	kind resourceKind
}

// Performance times the page and the resources it references, like a browser without rendering.
type Performance struct {
	client *http.Client
}

func NewPerformance(client *http.Client) *Performance { return &Performance{client: client} }

func (p *Performance) Kind() target.Kind { return target.KindPerformance }

func (p *Performance) Check(ctx context.Context, t *target.Target, cfg target.KindConfig) (*result.CheckResult, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	started := time.Now()
	res := newResult(t, p.Kind(), started)

	var firstByte time.Time
	trace := &httptrace.ClientTrace{
		GotFirstResponseByte: func() { firstByte = time.Now() },
	}
	req, err := http.NewRequestWithContext(httptrace.WithClientTrace(ctx, trace), http.MethodGet, t.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		res.LatencyMS = since(started)
		return errored(res, transportReason(ctx, err, cfg.Timeout)), nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		res.LatencyMS = since(started)
		return errored(res, transportReason(ctx, err, cfg.Timeout)), nil
	}
	if resp.StatusCode >= 400 {
		res.LatencyMS = since(started)
		res.Payload["status_code"] = resp.StatusCode
		return fail(res, fmt.Sprintf("Page returned HTTP %d", resp.StatusCode)), nil
	}

	var resources []resource
	if doc, err := parseDocument(bytes.NewReader(body), resp.Request.URL); err == nil {
		resources = collectResources(doc)
	}

	var size atomic.Int64
	size.Add(int64(len(body)))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(resourceConcurrency)
	for _, r := range resources {
		r := r
		g.Go(func() error {
			size.Add(p.fetchSize(gctx, r.url))
			return nil
		})
	}
	_ = g.Wait()

	load := since(started)
	ttfb := int64(0)
	if !firstByte.IsZero() {
		ttfb = firstByte.Sub(started).Milliseconds()
	}
	counts := [3]int{}
	for _, r := range resources {
		counts[r.kind]++
	}
	requests := 1 + len(resources)

	res.LatencyMS = load
	res.Payload["load_time_ms"] = load
	res.Payload["ttfb_ms"] = ttfb
	res.Payload["page_size"] = size.Load()
	res.Payload["num_requests"] = requests
	res.Payload["num_css"] = counts[resCSS]
	res.Payload["num_js"] = counts[resJS]
	res.Payload["num_images"] = counts[resImage]
	res.Payload["performance_score"] = PerformanceScore(load, ttfb, size.Load(), requests)
	res.Payload["budget_ms"] = cfg.BudgetMS

	if load > int64(cfg.BudgetMS) {
		return fail(res, fmt.Sprintf("Load time %dms exceeds budget %dms", load, cfg.BudgetMS)), nil
	}
	return res, nil
}

// fetchSize downloads a resource and returns its byte count; failures count as zero.
func (p *Performance) fetchSize(ctx context.Context, u string) int64 {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0
	}
	defer resp.Body.Close()
	n, _ := io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
	return n
}

func collectResources(doc *document) []resource {
	seen := map[string]struct{}{}
	var out []resource
	add := func(ref string, k resourceKind) {
		if len(out) >= maxResources || ref == "" {
			return
		}
		u, ok := doc.resolve(ref)
		if !ok {
			return
		}
		s := u.String()
		if _, dup := seen[s]; dup {
			return
		}
		seen[s] = struct{}{}
		out = append(out, resource{url: s, kind: k})
	}
	doc.each(func(n *html.Node) {
		switch n.Data {
		case "link":
			rel, _ := attr(n, "rel")
			if href, ok := attr(n, "href"); ok && strings.Contains(strings.ToLower(rel), "stylesheet") {
				add(href, resCSS)
			}
		case "script":
			if src, ok := attr(n, "src"); ok {
				add(src, resJS)
			}
		case "img":
			if src, ok := attr(n, "src"); ok && !strings.HasPrefix(src, "data:") {
				add(src, resImage)
			}
		}
	})
	return out
}

// PerformanceScore is 100 minus penalties for slow load, slow first byte, heavy pages
// and many requests, clamped to [0, 100].
func PerformanceScore(loadMS, ttfbMS, sizeBytes int64, requests int) int {
	score := int64(100)
	if loadMS > 1000 {
		score -= min(30, (loadMS-1000)/100)
	}
	if ttfbMS > 200 {
		score -= min(20, (ttfbMS-200)/50)
	}
	const twoMB = 2 * 1024 * 1024
	if sizeBytes > twoMB {
		score -= min(20, (sizeBytes-twoMB)/(500*1024))
	}
	if requests > 50 {
		score -= int64(min(15, (requests-50)/10))
	}
	return int(max(0, min(100, score)))
}
