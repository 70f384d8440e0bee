package notifier

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/NordCoder/Sitewatch/internal/domain/alert"
	"github.com/NordCoder/Sitewatch/internal/domain/notification"
	"github.com/NordCoder/Sitewatch/internal/domain/target"
)

var severityTags = map[alert.Severity][]string{
	alert.SeverityInfo:     {"information_source"},
	alert.SeverityWarning:  {"warning"},
	alert.SeverityError:    {"x"},
	alert.SeverityCritical: {"rotating_light", "x"},
}

var kindTags = map[target.Kind]string{
	target.KindAvailability:  "globe_with_meridians",
	target.KindCertificate:   "lock",
	target.KindPerformance:   "chart_with_downwards_trend",
	target.KindLinkIntegrity: "broken_heart",
	target.KindPlatform:      "gear",
	target.KindContent:       "mag",
}

func priority(ev alert.Event) notification.Priority {
	switch ev.EventType {
	case alert.EventResolved:
		return notification.PriorityDefault
	case alert.EventAcknowledged:
		return notification.PriorityLow
	}
	switch ev.Severity {
	case alert.SeverityCritical:
		return notification.PriorityUrgent
	case alert.SeverityError:
		return notification.PriorityHigh
	case alert.SeverityInfo:
		return notification.PriorityLow
	default:
		return notification.PriorityDefault
	}
}

func title(ev alert.Event) string {
	name := ev.TargetName
	if name == "" {
		name = fmt.Sprintf("Site %d", ev.TargetID)
	}
	suffix := "Alert"
	switch ev.EventType {
	case alert.EventResolved:
		suffix = "Resolved"
	case alert.EventAcknowledged:
		suffix = "Acknowledged"
	}
	return fmt.Sprintf("%s - %s %s", name, ev.Kind.Title(), suffix)
}

func tags(ev alert.Event) []string {
	var out []string
	if ev.EventType == alert.EventResolved {
		out = append(out, "white_check_mark")
	} else {
		out = append(out, severityTags[ev.Severity]...)
	}
	if t, ok := kindTags[ev.Kind]; ok {
		out = append(out, t)
	}
	return out
}

// scalar formats v when it is a plain value; nested values are left out of the body.
func scalar(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, x != ""
	case bool:
		return strconv.FormatBool(x), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	default:
		return "", false
	}
}

func body(ev alert.Event) string {
	var b strings.Builder
	b.WriteString(ev.Message)

	keys := make([]string, 0, len(ev.Details))
	for k := range ev.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	first := true
	for _, k := range keys {
		s, ok := scalar(ev.Details[k])
		if !ok {
			continue
		}
		if first {
			b.WriteString("\n\nDetails:\n")
			first = false
		}
		fmt.Fprintf(&b, "• %s: %s\n", k, s)
	}
	return b.String()
}

// Render builds the channel-neutral message for ev.
func Render(ev alert.Event, dashboard string) notification.Message {
	dash := strings.TrimRight(dashboard, "/") + "/sites/" + strconv.FormatInt(ev.TargetID, 10)
	var actions []notification.Action
	if ev.TargetURL != "" {
		actions = append(actions, notification.Action{Label: "View Site", URL: ev.TargetURL})
	}
	actions = append(actions, notification.Action{Label: "Open Dashboard", URL: dash})

	click := ev.TargetURL
	if click == "" {
		click = dash
	}
	return notification.Message{
		Event:    ev,
		Title:    title(ev),
		Body:     body(ev),
		Priority: priority(ev),
		Tags:     tags(ev),
		Actions:  actions,
		Click:    click,
	}
}
