package target

import (
	"fmt"
	"strconv"
	"time"
)

type Kind string

const (
	KindAvailability  Kind = "availability"
	KindCertificate   Kind = "certificate"
	KindPerformance   Kind = "performance"
	KindLinkIntegrity Kind = "link_integrity"
	KindPlatform      Kind = "platform_update"
	KindContent       Kind = "content_health"
)

// Kinds lists every check kind in display order.
var Kinds = []Kind{
	KindAvailability,
	KindCertificate,
	KindPerformance,
	KindLinkIntegrity,
	KindPlatform,
	KindContent,
}

func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown check kind %q", s)
}

// Title is the human name used in notifications.
func (k Kind) Title() string {
	switch k {
	case KindAvailability:
		return "Uptime"
	case KindCertificate:
		return "SSL"
	case KindPerformance:
		return "Performance"
	case KindLinkIntegrity:
		return "Broken Links"
	case KindPlatform:
		return "WordPress"
	case KindContent:
		return "SEO"
	default:
		return string(k)
	}
}

const (
	DefaultInterval  = 5 * time.Minute
	MinInterval      = 60 * time.Second
	MaxInterval      = 24 * time.Hour
	DefaultThreshold = 1

	DefaultBudgetMS        = 3000
	DefaultWarningDays     = 30
	DefaultCrawlLimit      = 100
	DefaultLinkConcurrency = 10
	DefaultMinContentScore = 50
)

type KindConfig struct {
	Enabled   bool          `json:"enabled"`
	Interval  time.Duration `json:"interval"`
	Threshold int           `json:"threshold"`
	Timeout   time.Duration `json:"timeout"`

	BudgetMS        int    `json:"budget_ms,omitempty"`
	WarningDays     int    `json:"warning_days,omitempty"`
	CrawlLimit      int    `json:"crawl_limit,omitempty"`
	LinkConcurrency int    `json:"link_concurrency,omitempty"`
	AcceptStatus    []int  `json:"accept_status,omitempty"`
	LatestVersion   string `json:"latest_version,omitempty"`
	MinContentScore int    `json:"min_content_score,omitempty"`
}

// Normalize fills defaults and clamps the interval into [MinInterval, MaxInterval].
func (c KindConfig) Normalize(k Kind) KindConfig {
	switch {
	case c.Interval <= 0:
		c.Interval = DefaultInterval
	case c.Interval < MinInterval:
		c.Interval = MinInterval
	case c.Interval > MaxInterval:
		c.Interval = MaxInterval
	}
	if c.Threshold < 1 {
		c.Threshold = DefaultThreshold
	}
	if c.Timeout <= 0 {
		if k == KindAvailability {
			c.Timeout = 30 * time.Second
		} else {
			c.Timeout = 10 * time.Second
		}
	}
	if c.BudgetMS <= 0 {
		c.BudgetMS = DefaultBudgetMS
	}
	if c.WarningDays <= 0 {
		c.WarningDays = DefaultWarningDays
	}
	if c.CrawlLimit <= 0 {
		c.CrawlLimit = DefaultCrawlLimit
	}
	if c.LinkConcurrency <= 0 {
		c.LinkConcurrency = DefaultLinkConcurrency
	}
	if c.MinContentScore <= 0 {
		c.MinContentScore = DefaultMinContentScore
	}
	return c
}

// Accepts reports whether an HTTP status is acceptable for availability checks.
func (c KindConfig) Accepts(code int) bool {
	if len(c.AcceptStatus) == 0 {
		return code >= 200 && code < 400
	}
	for _, s := range c.AcceptStatus {
		if s == code {
			return true
		}
	}
	return false
}

type Target struct {
	ID        int64               `json:"id"`
	Name      string              `json:"name"`
	URL       string              `json:"url"`
	Paused    bool                `json:"paused"`
	Kinds     map[Kind]KindConfig `json:"kinds"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// Enabled returns the enabled kinds in Kinds order.
func (t *Target) Enabled() []Kind {
	out := make([]Kind, 0, len(t.Kinds))
	for _, k := range Kinds {
		if c, ok := t.Kinds[k]; ok && c.Enabled {
			out = append(out, k)
		}
	}
	return out
}

// Config returns the normalized config for k and whether k is enabled.
func (t *Target) Config(k Kind) (KindConfig, bool) {
	c, ok := t.Kinds[k]
	if !ok || !c.Enabled {
		return KindConfig{}, false
	}
	return c.Normalize(k), true
}

func (t *Target) DisplayName() string {
	if t.Name != "" {
		return t.Name
	}
	return t.URL
}

type Pair struct {
	TargetID int64
	Kind     Kind
}

func (p Pair) Key() string {
	return strconv.FormatInt(p.TargetID, 10) + ":" + string(p.Kind)
}
