package node

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSelector_Valid(t *testing.T) {
	req := httptest.NewRequest("GET", "/reports?packages=demo&modules=mod_a&test_sets=set1&tests=t1,t2", nil)
	sel, err := parseSelector(req)
	require.NoError(t, err)
	assert.Equal(t, []string{"demo"}, sel.Packages)
	assert.Equal(t, []string{"mod_a"}, sel.Modules)
	assert.Equal(t, []string{"set1"}, sel.TestSets)
	assert.Equal(t, []string{"t1", "t2"}, sel.Tests)
}

func TestParseSelector_UnknownKeyRejected(t *testing.T) {
	req := httptest.NewRequest("GET", "/reports?bogus=1", nil)
	_, err := parseSelector(req)
	assert.Error(t, err)
}

func TestParseSelector_Empty(t *testing.T) {
	req := httptest.NewRequest("GET", "/reports", nil)
	sel, err := parseSelector(req)
	require.NoError(t, err)
	assert.Empty(t, sel.Packages)
	assert.Empty(t, sel.Modules)
	assert.Empty(t, sel.TestSets)
	assert.Empty(t, sel.Tests)
}
