package node

import (
	"fmt"
	"net/http"

	"github.com/secchiware/secchiware/pkg/testpkg"
)

var validSelectorKeys = map[string]bool{
	"packages": true, "modules": true, "test_sets": true, "tests": true,
}

// parseSelector builds a Selector from the request's query string, erroring
// on any key outside the known selector vocabulary, per the reference
// node.py's "Invalid query parameters" rejection.
func parseSelector(r *http.Request) (testpkg.Selector, error) {
	q := r.URL.Query()
	for key := range q {
		if !validSelectorKeys[key] {
			return testpkg.Selector{}, fmt.Errorf("node: invalid query parameter %q", key)
		}
	}
	return testpkg.Selector{
		Packages: testpkg.ParseCSV(q.Get("packages")),
		Modules:  testpkg.ParseCSV(q.Get("modules")),
		TestSets: testpkg.ParseCSV(q.Get("test_sets")),
		Tests:    testpkg.ParseCSV(q.Get("tests")),
	}, nil
}
