package metrics

import (
	"sort"
	"strconv"
	"strings"
)

// Tag is a single key/value label.
type Tag struct {
	Key   string
	Value string
}

// TagSet is an immutable, sorted set of tags. The zero value is the empty set.
type TagSet struct {
	tags []Tag
	key  string
}

// NewTagSet builds a TagSet from a map.
func NewTagSet(m map[string]string) TagSet {
	if len(m) == 0 {
		return TagSet{}
	}
	tags := make([]Tag, 0, len(m))
	for k, v := range m {
		tags = append(tags, Tag{Key: k, Value: v})
	}
	return build(tags)
}

// Tags builds a TagSet from alternating key/value arguments.
// A trailing key without a value is ignored.
func Tags(kv ...string) TagSet {
	if len(kv) < 2 {
		return TagSet{}
	}
	m := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i]] = kv[i+1]
	}
	return NewTagSet(m)
}

func build(tags []Tag) TagSet {
	sort.Slice(tags, func(i, j int) bool { return tags[i].Key < tags[j].Key })

	var b strings.Builder
	for _, t := range tags {
		b.WriteString(t.Key)
		b.WriteByte(0x1f)
		b.WriteString(t.Value)
		b.WriteByte(0x1e)
	}
	return TagSet{tags: tags, key: b.String()}
}

// With returns a copy of t with key set to value.
func (t TagSet) With(key, value string) TagSet {
	m := t.Map()
	m[key] = value
	return NewTagSet(m)
}

// Merge returns the union of t and other; other wins on conflicting keys.
func (t TagSet) Merge(other TagSet) TagSet {
	if other.Len() == 0 {
		return t
	}
	if t.Len() == 0 {
		return other
	}
	m := t.Map()
	for _, tag := range other.tags {
		m[tag.Key] = tag.Value
	}
	return NewTagSet(m)
}

// Get returns the value of key.
func (t TagSet) Get(key string) (string, bool) {
	i := sort.Search(len(t.tags), func(i int) bool { return t.tags[i].Key >= key })
	if i < len(t.tags) && t.tags[i].Key == key {
		return t.tags[i].Value, true
	}
	return "", false
}

// Len returns the number of tags.
func (t TagSet) Len() int {
	return len(t.tags)
}

// Key returns the canonical identity of the set. Equal sets have equal keys.
func (t TagSet) Key() string {
	return t.key
}

// Map returns a fresh map of the tags.
func (t TagSet) Map() map[string]string {
	m := make(map[string]string, len(t.tags))
	for _, tag := range t.tags {
		m[tag.Key] = tag.Value
	}
	return m
}

// Contains reports whether every tag of sub is present in t with the same value.
func (t TagSet) Contains(sub TagSet) bool {
	for _, tag := range sub.tags {
		v, ok := t.Get(tag.Key)
		if !ok || v != tag.Value {
			return false
		}
	}
	return true
}

// String renders the set as {k:v,k2:v2}. Values containing separators are quoted.
func (t TagSet) String() string {
	if len(t.tags) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteByte('{')
	for i, tag := range t.tags {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(tag.Key)
		b.WriteByte(':')
		if strings.ContainsAny(tag.Value, ",:{}\" ") {
			b.WriteString(strconv.Quote(tag.Value))
		} else {
			b.WriteString(tag.Value)
		}
	}
	b.WriteByte('}')
	return b.String()
}
