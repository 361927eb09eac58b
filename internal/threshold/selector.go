package threshold

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wesleyorama2/stampede/internal/metrics"
)

// Selector names a metric and an optional tag sub-selection, as written in
// "http_req_duration{status:200,name:login}".
type Selector struct {
	Metric string
	Tags   metrics.TagSet
}

// String returns the canonical selector text.
func (s Selector) String() string {
	return s.Metric + s.Tags.String()
}

// ParseSelector parses a metric selector.
func ParseSelector(raw string) (Selector, error) {
	raw = strings.TrimSpace(raw)
	open := strings.IndexByte(raw, '{')
	if open < 0 {
		if !metrics.ValidName(raw) {
			return Selector{}, fmt.Errorf("invalid metric name %q", raw)
		}
		return Selector{Metric: raw}, nil
	}

	name := strings.TrimSpace(raw[:open])
	if !metrics.ValidName(name) {
		return Selector{}, fmt.Errorf("invalid metric name %q in selector %q", name, raw)
	}
	if !strings.HasSuffix(raw, "}") {
		return Selector{}, fmt.Errorf("selector %q: missing closing brace", raw)
	}

	body := raw[open+1 : len(raw)-1]
	tags, err := parseTags(body)
	if err != nil {
		return Selector{}, fmt.Errorf("selector %q: %w", raw, err)
	}
	return Selector{Metric: name, Tags: metrics.NewTagSet(tags)}, nil
}

func parseTags(body string) (map[string]string, error) {
	tags := make(map[string]string)
	if strings.TrimSpace(body) == "" {
		return tags, nil
	}

	parts, err := splitOutsideQuotes(body, ',')
	if err != nil {
		return nil, err
	}
	for _, part := range parts {
		kv, err := splitOutsideQuotes(part, ':')
		if err != nil {
			return nil, err
		}
		if len(kv) < 2 {
			return nil, fmt.Errorf("tag %q: expected key:value", strings.TrimSpace(part))
		}
		// Values may contain unquoted colons, e.g. url:http://host.
		key := strings.TrimSpace(kv[0])
		value := strings.TrimSpace(strings.Join(kv[1:], ":"))
		if key == "" {
			return nil, fmt.Errorf("tag %q: empty key", strings.TrimSpace(part))
		}
		if strings.HasPrefix(value, `"`) {
			unq, err := strconv.Unquote(value)
			if err != nil {
				return nil, fmt.Errorf("tag %q: bad quoted value", key)
			}
			value = unq
		}
		if _, dup := tags[key]; dup {
			return nil, fmt.Errorf("tag %q given twice", key)
		}
		tags[key] = value
	}
	return tags, nil
}

// splitOutsideQuotes splits s on sep, ignoring separators inside double quotes.
func splitOutsideQuotes(s string, sep byte) ([]string, error) {
	var (
		out     []string
		start   int
		inQuote bool
	)
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '\\' && inQuote:
			i++
		case s[i] == '"':
			inQuote = !inQuote
		case s[i] == sep && !inQuote:
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	if inQuote {
		return nil, fmt.Errorf("unterminated quote in %q", s)
	}
	return append(out, s[start:]), nil
}
