package c2

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/secchiware/secchiware/internal/store"
	"github.com/secchiware/secchiware/pkg/testpkg"
)

// parseFilter builds a store.Filter from the shared search query-parameter
// shape used by /environments, /executions and /sessions, matching the
// reference routes.py search contract (comma-separated ids/ips/ports,
// ISO-8601 from/to, order_by/arrange, limit/offset).
func parseFilter(r *http.Request) (store.Filter, error) {
	q := r.URL.Query()
	var f store.Filter

	for _, raw := range testpkg.ParseCSV(q.Get("id")) {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return f, fmt.Errorf("invalid id %q", raw)
		}
		f.IDs = append(f.IDs, id)
	}
	f.IPs = testpkg.ParseCSV(q.Get("ip"))
	for _, raw := range testpkg.ParseCSV(q.Get("port")) {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return f, fmt.Errorf("invalid port %q", raw)
		}
		f.Ports = append(f.Ports, port)
	}
	f.Systems = testpkg.ParseCSV(q.Get("system"))

	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, fmt.Errorf("invalid from %q", raw)
		}
		f.From = &t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, fmt.Errorf("invalid to %q", raw)
		}
		f.To = &t
	}

	f.OrderBy = q.Get("order_by")
	f.Arrange = strings.ToLower(q.Get("arrange"))
	if f.Arrange != "" && f.Arrange != "asc" && f.Arrange != "desc" {
		return f, fmt.Errorf("invalid arrange %q", f.Arrange)
	}

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return f, fmt.Errorf("invalid limit %q", raw)
		}
		f.Limit = n
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return f, fmt.Errorf("invalid offset %q", raw)
		}
		f.Offset = n
	}

	return f, nil
}

// parseSelector builds a testpkg.Selector from the shared
// packages/modules/test_sets/tests query parameters.
func parseSelector(r *http.Request) testpkg.Selector {
	q := r.URL.Query()
	return testpkg.Selector{
		Packages: testpkg.ParseCSV(q.Get("packages")),
		Modules:  testpkg.ParseCSV(q.Get("modules")),
		TestSets: testpkg.ParseCSV(q.Get("test_sets")),
		Tests:    testpkg.ParseCSV(q.Get("tests")),
	}
}

func selectorQuery(sel testpkg.Selector) string {
	q := make([]string, 0, 4)
	if len(sel.Packages) > 0 {
		q = append(q, "packages="+strings.Join(sel.Packages, ","))
	}
	if len(sel.Modules) > 0 {
		q = append(q, "modules="+strings.Join(sel.Modules, ","))
	}
	if len(sel.TestSets) > 0 {
		q = append(q, "test_sets="+strings.Join(sel.TestSets, ","))
	}
	if len(sel.Tests) > 0 {
		q = append(q, "tests="+strings.Join(sel.Tests, ","))
	}
	return strings.Join(q, "&")
}
