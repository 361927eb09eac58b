package scenario

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/wesleyorama2/stampede/internal/vu"
)

var placeholder = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// resolve replaces {{name}} placeholders. Lookup order is VU variables,
// then data.<path> from the iteration's fixture row, then the built-ins
// vu and iteration, then scenario variables. Unresolved placeholders are
// left as-is.
func (s *Scenario) resolve(it *vu.Context, input string) string {
	if !strings.Contains(input, "{{") {
		return input
	}
	return placeholder.ReplaceAllStringFunc(input, func(m string) string {
		key := placeholder.FindStringSubmatch(m)[1]
		if v, ok := s.lookup(it, key); ok {
			return v
		}
		return m
	})
}

func (s *Scenario) lookup(it *vu.Context, key string) (string, bool) {
	if v, ok := it.VU().GetData(key); ok {
		return v, true
	}
	if path, ok := strings.CutPrefix(key, "data."); ok {
		r := dataRow(it).Get(GJSONPath(path))
		if r.Exists() {
			return r.String(), true
		}
		return "", false
	}
	switch key {
	case "vu":
		return strconv.Itoa(it.VUID()), true
	case "iteration":
		return strconv.FormatInt(it.IterationInTest(), 10), true
	}
	v, ok := s.vars[key]
	return v, ok
}

// dataRow is the fixture row for this iteration when the fixture is an
// array, otherwise the fixture root.
func dataRow(it *vu.Context) gjson.Result {
	shared := it.Shared()
	if shared.Len() > 0 {
		return shared.Row(it.IterationInTest())
	}
	return shared.Get("")
}

// GJSONPath converts a JSONPath expression such as $.users[0]['name'] into
// gjson syntax (users.0.name). Paths without a leading $ are returned
// unchanged.
func GJSONPath(path string) string {
	if !strings.HasPrefix(path, "$") {
		return path
	}
	path = strings.TrimPrefix(path, "$")
	if path == "" {
		return "@this"
	}

	var b strings.Builder
	for i := 0; i < len(path); i++ {
		switch c := path[i]; c {
		case '[':
			end := strings.IndexByte(path[i:], ']')
			if end < 0 {
				b.WriteString(path[i:])
				return strings.TrimPrefix(b.String(), ".")
			}
			seg := strings.Trim(path[i+1:i+end], `'"`)
			b.WriteByte('.')
			b.WriteString(seg)
			i += end
		default:
			b.WriteByte(c)
		}
	}
	return strings.TrimPrefix(b.String(), ".")
}
