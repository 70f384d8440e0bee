package checker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/NordCoder/Sitewatch/internal/domain/result"
	"github.com/NordCoder/Sitewatch/internal/domain/target"
	"golang.org/x/sync/errgroup"
)

var (
	generatorVersion = regexp.MustCompile(`(?i)WordPress\s+([\d.]+)`)
	queryVersion     = regexp.MustCompile(`ver=([\d.]+)`)
)

type Finding struct {
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

func (f Finding) medium() bool { return f.Severity == "medium" || f.Severity == "high" }

// Platform probes a WordPress site for an outdated core and common exposures.
type Platform struct {
	client *http.Client
}

func NewPlatform(client *http.Client) *Platform { return &Platform{client: client} }

func (p *Platform) Kind() target.Kind { return target.KindPlatform }

func (p *Platform) Check(ctx context.Context, t *target.Target, cfg target.KindConfig) (*result.CheckResult, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	started := time.Now()
	res := newResult(t, p.Kind(), started)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		res.LatencyMS = since(started)
		return errored(res, transportReason(ctx, err, cfg.Timeout)), nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	resp.Body.Close()
	if err != nil {
		res.LatencyMS = since(started)
		return errored(res, transportReason(ctx, err, cfg.Timeout)), nil
	}

	doc, err := parseDocument(bytes.NewReader(body), resp.Request.URL)
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	version, disclosed := detectVersion(doc)
	findings := p.probeExposures(ctx, strings.TrimRight(t.URL, "/"))
	if disclosed {
		findings = append(findings, Finding{
			Type: "version_disclosure", Severity: "low",
			Message: "WordPress version disclosed in meta generator tag",
		})
	}

	update := cfg.LatestVersion != "" && version != "" && compareVersions(version, cfg.LatestVersion) < 0
	relevant := update
	for _, f := range findings {
		if f.medium() {
			relevant = true
		}
	}

	res.LatencyMS = since(started)
	res.Payload["wp_version"] = version
	res.Payload["wp_latest_version"] = cfg.LatestVersion
	res.Payload["wp_update_available"] = update
	res.Payload["security_issues"] = findings
	res.Payload["security_score"] = max(0, 100-10*len(findings))
	res.Payload["security_relevant"] = relevant

	switch {
	case update:
		return fail(res, fmt.Sprintf("WordPress %s is outdated (latest %s)", version, cfg.LatestVersion)), nil
	case len(findings) > 0:
		return fail(res, fmt.Sprintf("%d security issues found", len(findings))), nil
	}
	return res, nil
}

// probeExposures runs the independent exposure probes concurrently; a probe that cannot
// reach the site simply reports nothing.
func (p *Platform) probeExposures(ctx context.Context, base string) []Finding {
	var (
		mu  sync.Mutex
		out []Finding
	)
	add := func(f Finding) {
		mu.Lock()
		out = append(out, f)
		mu.Unlock()
	}
	direct := noRedirects(p.client)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, dir := range []string{"/wp-content/uploads/", "/wp-content/plugins/", "/wp-content/themes/"} {
		dir := dir
		g.Go(func() error {
			code, body := p.fetch(gctx, p.client, http.MethodGet, base+dir)
			if code == http.StatusOK && strings.Contains(body, "Index of") {
				add(Finding{Type: "directory_listing", Severity: "medium", Message: "Directory listing enabled: " + dir})
			}
			return nil
		})
	}
	g.Go(func() error {
		if code, _ := p.fetch(gctx, p.client, http.MethodGet, base+"/readme.html"); code == http.StatusOK {
			add(Finding{Type: "info_disclosure", Severity: "low", Message: "readme.html is publicly accessible"})
		}
		return nil
	})
	g.Go(func() error {
		if code, _ := p.fetch(gctx, p.client, http.MethodPost, base+"/xmlrpc.php"); code == http.StatusOK || code == http.StatusMethodNotAllowed {
			add(Finding{Type: "xmlrpc_enabled", Severity: "medium", Message: "XML-RPC is enabled (potential DDoS vector)"})
		}
		return nil
	})
	g.Go(func() error {
		switch code, _ := p.fetch(gctx, direct, http.MethodGet, base+"/?author=1"); code {
		case http.StatusOK, http.StatusMovedPermanently, http.StatusFound:
			add(Finding{Type: "user_enumeration", Severity: "low", Message: "User enumeration is possible via author parameter"})
		}
		return nil
	})
	_ = g.Wait()

	// stable order regardless of which probe finished first
	order := map[string]int{"directory_listing": 0, "info_disclosure": 1, "xmlrpc_enabled": 2, "user_enumeration": 3}
	sort.SliceStable(out, func(i, j int) bool {
		if order[out[i].Type] != order[out[j].Type] {
			return order[out[i].Type] < order[out[j].Type]
		}
		return out[i].Message < out[j].Message
	})
	return out
}

func (p *Platform) fetch(ctx context.Context, c *http.Client, method, u string) (int, string) {
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return 0, ""
	}
	resp, err := c.Do(req)
	if err != nil {
		return 0, ""
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 256<<10))
	return resp.StatusCode, string(b)
}

// detectVersion looks at the generator meta tag, then at ver= parameters of feeds, scripts and styles.
func detectVersion(doc *document) (version string, disclosed bool) {
	if gen, ok := doc.meta("name", "generator"); ok {
		disclosed = true
		if m := generatorVersion.FindStringSubmatch(gen); m != nil {
			return m[1], true
		}
	}
	for _, tag := range []string{"link", "script"} {
		for _, n := range doc.elements(tag) {
			ref, ok := attr(n, "href")
			if !ok {
				ref, _ = attr(n, "src")
			}
			if m := queryVersion.FindStringSubmatch(ref); m != nil {
				return m[1], disclosed
			}
		}
	}
	return "", disclosed
}

// compareVersions compares dotted numeric versions; missing parts count as zero.
func compareVersions(a, b string) int {
	pa, pb := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < max(len(pa), len(pb)); i++ {
		var x, y int
		if i < len(pa) {
			x, _ = strconv.Atoi(pa[i])
		}
		if i < len(pb) {
			y, _ = strconv.Atoi(pb[i])
		}
		if x != y {
			if x < y {
				return -1
			}
			return 1
		}
	}
	return 0
}
