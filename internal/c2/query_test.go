package c2

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secchiware/secchiware/pkg/testpkg"
)

func TestParseFilter_FullQuery(t *testing.T) {
	req := httptest.NewRequest("GET", "/sessions?id=1,2&ip=10.0.0.1,10.0.0.2&port=4900,4901&system=linux&from=2026-01-01T00:00:00Z&to=2026-02-01T00:00:00Z&order_by=session_start&arrange=desc&limit=10&offset=5", nil)

	f, err := parseFilter(req)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, f.IDs)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, f.IPs)
	assert.Equal(t, []int{4900, 4901}, f.Ports)
	assert.Equal(t, []string{"linux"}, f.Systems)
	require.NotNil(t, f.From)
	assert.True(t, f.From.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
	require.NotNil(t, f.To)
	assert.Equal(t, "session_start", f.OrderBy)
	assert.Equal(t, "desc", f.Arrange)
	assert.Equal(t, 10, f.Limit)
	assert.Equal(t, 5, f.Offset)
}

func TestParseFilter_InvalidArrangeRejected(t *testing.T) {
	req := httptest.NewRequest("GET", "/sessions?arrange=sideways", nil)
	_, err := parseFilter(req)
	assert.Error(t, err)
}

func TestParseFilter_InvalidIDRejected(t *testing.T) {
	req := httptest.NewRequest("GET", "/sessions?id=not-a-number", nil)
	_, err := parseFilter(req)
	assert.Error(t, err)
}

func TestParseFilter_Empty(t *testing.T) {
	req := httptest.NewRequest("GET", "/sessions", nil)
	f, err := parseFilter(req)
	require.NoError(t, err)
	assert.Empty(t, f.IDs)
	assert.Empty(t, f.IPs)
	assert.Nil(t, f.From)
}

func TestParseSelector_AndRoundTripQuery(t *testing.T) {
	req := httptest.NewRequest("GET", "/environments/10.0.0.1/4900/reports?packages=demo&modules=mod_a,mod_b&tests=t1", nil)
	sel := parseSelector(req)
	assert.Equal(t, []string{"demo"}, sel.Packages)
	assert.Equal(t, []string{"mod_a", "mod_b"}, sel.Modules)
	assert.Equal(t, []string{"t1"}, sel.Tests)
	assert.Empty(t, sel.TestSets)

	q := selectorQuery(sel)
	reparsed := httptest.NewRequest("GET", "/x?"+q, nil)
	sel2 := parseSelector(reparsed)
	assert.Equal(t, sel, sel2)
}

func TestSelectorQuery_EmptySelector(t *testing.T) {
	assert.Equal(t, "", selectorQuery(testpkg.Selector{}))
}
