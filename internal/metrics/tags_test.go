package metrics_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wesleyorama2/stampede/internal/metrics"
)

func TestTagSetCanonicalKey(t *testing.T) {
	a := metrics.NewTagSet(map[string]string{"status": "200", "method": "GET"})
	b := metrics.Tags("method", "GET", "status", "200")

	assert.Equal(t, a.Key(), b.Key())
	assert.Equal(t, "{method:GET,status:200}", a.String())
}

func TestTagSetContains(t *testing.T) {
	set := metrics.Tags("method", "GET", "status", "200", "name", "login")

	assert.True(t, set.Contains(metrics.TagSet{}))
	assert.True(t, set.Contains(metrics.Tags("status", "200")))
	assert.True(t, set.Contains(metrics.Tags("status", "200", "name", "login")))
	assert.False(t, set.Contains(metrics.Tags("status", "500")))
	assert.False(t, set.Contains(metrics.Tags("scenario", "x")))
}

func TestTagSetWithAndMerge(t *testing.T) {
	base := metrics.Tags("a", "1")
	with := base.With("b", "2")

	assert.Equal(t, 1, base.Len())
	assert.Equal(t, 2, with.Len())

	merged := with.Merge(metrics.Tags("a", "override"))
	v, ok := merged.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "override", v)

	_, ok = merged.Get("missing")
	assert.False(t, ok)
}

func TestTagSetStringQuotes(t *testing.T) {
	set := metrics.Tags("check", "status is 200")
	assert.Equal(t, `{check:"status is 200"}`, set.String())
}
