package checker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/NordCoder/Sitewatch/internal/domain/result"
	"github.com/NordCoder/Sitewatch/internal/domain/target"
	"golang.org/x/net/html"
)

var wordRe = regexp.MustCompile(`\w+`)

const (
	issueError   = "error"
	issueWarning = "warning"
	issueInfo    = "info"
)

type Issue struct {
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// ContentReport is the on-page part of the content probe.
type ContentReport struct {
	Title            string
	TitleLength      int
	MetaDescription  string
	MetaDescLength   int
	H1               []string
	H2Count          int
	WordCount        int
	ImagesTotal      int
	ImagesWithoutAlt int
	InternalLinks    int
	ExternalLinks    int
	HasOG            bool
	HasTwitter       bool
	HasSchema        bool
	MobileFriendly   bool
	HasRobots        bool
	HasSitemap       bool
	Issues           []Issue
}

func (r *ContentReport) issue(typ, sev, format string, args ...any) {
	r.Issues = append(r.Issues, Issue{Type: typ, Severity: sev, Message: fmt.Sprintf(format, args...)})
}

// Score is 100 minus per-issue penalties plus bonuses for good practice, clamped to [0, 100].
func (r *ContentReport) Score() int {
	score := 100
	for _, i := range r.Issues {
		switch i.Severity {
		case issueError:
			score -= 10
		case issueWarning:
			score -= 5
		case issueInfo:
			score -= 2
		}
	}
	bonus := func(ok bool, n int) {
		if ok {
			score += n
		}
	}
	bonus(r.HasOG, 5)
	bonus(r.HasTwitter, 5)
	bonus(r.HasSchema, 5)
	bonus(r.MobileFriendly, 10)
	bonus(r.HasRobots, 2)
	bonus(r.HasSitemap, 5)
	return max(0, min(100, score))
}

func (r *ContentReport) hasErrors() bool {
	for _, i := range r.Issues {
		if i.Severity == issueError {
			return true
		}
	}
	return false
}

// Content audits on-page SEO signals and the presence of robots.txt and a sitemap.
type Content struct {
	client *http.Client
}

func NewContent(client *http.Client) *Content { return &Content{client: client} }

func (c *Content) Kind() target.Kind { return target.KindContent }

func (c *Content) Check(ctx context.Context, t *target.Target, cfg target.KindConfig) (*result.CheckResult, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	started := time.Now()
	res := newResult(t, c.Kind(), started)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.client.Do(req)
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
	if resp.StatusCode >= 400 {
		res.LatencyMS = since(started)
		res.Payload["status_code"] = resp.StatusCode
		return fail(res, fmt.Sprintf("Page returned HTTP %d", resp.StatusCode)), nil
	}

	doc, err := parseDocument(bytes.NewReader(body), resp.Request.URL)
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	rep := AnalyzeContent(doc)

	origin := resp.Request.URL.Scheme + "://" + resp.Request.URL.Host
	rep.HasRobots = c.exists(ctx, origin+"/robots.txt")
	if !rep.HasRobots {
		rep.issue("robots", issueInfo, "No robots.txt file found")
	}
	rep.HasSitemap = c.exists(ctx, origin+"/sitemap.xml") || c.exists(ctx, origin+"/sitemap_index.xml")
	if !rep.HasSitemap {
		rep.issue("sitemap", issueWarning, "No XML sitemap found")
	}

	score := rep.Score()
	res.LatencyMS = since(started)
	res.Payload["title"] = rep.Title
	res.Payload["title_length"] = rep.TitleLength
	res.Payload["meta_description"] = rep.MetaDescription
	res.Payload["meta_description_length"] = rep.MetaDescLength
	res.Payload["h1_tags"] = rep.H1
	res.Payload["h1_count"] = len(rep.H1)
	res.Payload["h2_count"] = rep.H2Count
	res.Payload["word_count"] = rep.WordCount
	res.Payload["images_total"] = rep.ImagesTotal
	res.Payload["images_without_alt"] = rep.ImagesWithoutAlt
	res.Payload["internal_links"] = rep.InternalLinks
	res.Payload["external_links"] = rep.ExternalLinks
	res.Payload["has_robots_txt"] = rep.HasRobots
	res.Payload["has_sitemap"] = rep.HasSitemap
	res.Payload["is_mobile_friendly"] = rep.MobileFriendly
	res.Payload["has_schema_markup"] = rep.HasSchema
	res.Payload["has_og_tags"] = rep.HasOG
	res.Payload["has_twitter_tags"] = rep.HasTwitter
	res.Payload["issues"] = rep.Issues
	res.Payload["seo_score"] = score

	switch {
	case rep.hasErrors():
		return fail(res, firstError(rep.Issues)), nil
	case score < cfg.MinContentScore:
		return fail(res, fmt.Sprintf("SEO score %d is below %d", score, cfg.MinContentScore)), nil
	}
	return res, nil
}

func (c *Content) exists(ctx context.Context, u string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// AnalyzeContent collects the on-page measures and their issues.
func AnalyzeContent(doc *document) *ContentReport {
	rep := &ContentReport{}

	if titles := doc.elements("title"); len(titles) > 0 {
		rep.Title = strings.TrimSpace(text(titles[0]))
		rep.TitleLength = utf8.RuneCountInString(rep.Title)
		switch {
		case rep.TitleLength == 0:
			rep.issue("title", issueError, "Page title is empty")
		case rep.TitleLength < 30:
			rep.issue("title", issueWarning, "Page title is too short (%d chars, recommend 50-60)", rep.TitleLength)
		case rep.TitleLength > 60:
			rep.issue("title", issueWarning, "Page title is too long (%d chars, recommend 50-60)", rep.TitleLength)
		}
	} else {
		rep.issue("title", issueError, "Page title is missing")
	}

	if desc, ok := doc.meta("name", "description"); ok {
		rep.MetaDescription = strings.TrimSpace(desc)
		rep.MetaDescLength = utf8.RuneCountInString(rep.MetaDescription)
		switch {
		case rep.MetaDescLength == 0:
			rep.issue("meta_description", issueError, "Meta description is empty")
		case rep.MetaDescLength < 120:
			rep.issue("meta_description", issueWarning, "Meta description is too short (%d chars, recommend 150-160)", rep.MetaDescLength)
		case rep.MetaDescLength > 160:
			rep.issue("meta_description", issueWarning, "Meta description is too long (%d chars, recommend 150-160)", rep.MetaDescLength)
		}
	} else {
		rep.issue("meta_description", issueError, "Meta description is missing")
	}

	for _, h := range doc.elements("h1") {
		rep.H1 = append(rep.H1, strings.TrimSpace(text(h)))
	}
	rep.H2Count = len(doc.elements("h2"))
	switch n := len(rep.H1); {
	case n == 0:
		rep.issue("headers", issueError, "No H1 tag found")
	case n > 1:
		rep.issue("headers", issueWarning, "Multiple H1 tags found (%d), recommend only one", n)
	}

	if bodies := doc.elements("body"); len(bodies) > 0 {
		rep.WordCount = len(wordRe.FindAllString(text(bodies[0]), -1))
	}
	if rep.WordCount < 300 {
		rep.issue("content", issueWarning, "Low word count (%d words, recommend 300+)", rep.WordCount)
	}

	for _, img := range doc.elements("img") {
		rep.ImagesTotal++
		if alt, _ := attr(img, "alt"); strings.TrimSpace(alt) == "" {
			rep.ImagesWithoutAlt++
		}
	}
	if rep.ImagesWithoutAlt > 0 {
		rep.issue("images", issueWarning, "%d of %d images missing alt text", rep.ImagesWithoutAlt, rep.ImagesTotal)
	}

	var host string
	if doc.base != nil {
		host = doc.base.Host
	}
	for _, a := range doc.elements("a") {
		href, ok := attr(a, "href")
		if !ok {
			continue
		}
		u, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			continue
		}
		if u.Host == "" || strings.EqualFold(u.Host, host) {
			rep.InternalLinks++
		} else {
			rep.ExternalLinks++
		}
	}

	rep.HasOG = doc.hasMetaPrefix("property", "og:")
	rep.HasTwitter = doc.hasMetaPrefix("name", "twitter:")
	if !rep.HasOG {
		rep.issue("social", issueInfo, "No Open Graph tags found")
	}
	if !rep.HasTwitter {
		rep.issue("social", issueInfo, "No Twitter Card tags found")
	}

	doc.each(func(n *html.Node) {
		if hasAttr(n, "itemscope") {
			rep.HasSchema = true
		}
		if n.Data == "script" {
			if typ, _ := attr(n, "type"); strings.EqualFold(typ, "application/ld+json") {
				rep.HasSchema = true
			}
		}
	})
	if !rep.HasSchema {
		rep.issue("schema", issueInfo, "No schema.org markup found")
	}

	_, rep.MobileFriendly = doc.meta("name", "viewport")
	if !rep.MobileFriendly {
		rep.issue("mobile", issueWarning, "No viewport meta tag found (not mobile-friendly)")
	}
	return rep
}

func firstError(issues []Issue) string {
	for _, i := range issues {
		if i.Severity == issueError {
			return i.Message
		}
	}
	return ""
}
