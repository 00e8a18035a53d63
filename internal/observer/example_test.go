package observer_test

import (
	"fmt"

	"github.com/steveyegge/taskbridge/internal/observer"
	"github.com/steveyegge/taskbridge/internal/provider"
)

// This example shows how change URIs map to sync requests.
func ExampleMatcher_Classify() {
	m := observer.NewMatcher("org.dmfs.tasks")

	for _, s := range []string{
		"content://org.dmfs.tasks/tasks/42",
		"content://org.dmfs.tasks/tasklists/3",
		"content://org.dmfs.tasks/properties/7",
		"content://org.dmfs.tasks/tasks/abc",
		"content://com.example.other/tasks/1",
	} {
		c := m.Classify(provider.MustParseURI(s))
		if req, ok := c.Request(); ok {
			fmt.Printf("%s -> %s\n", c.Kind, req)
		} else {
			fmt.Printf("%s -> no request\n", c.Kind)
		}
	}
	// Output:
	// task -> task 42
	// list -> list 3
	// full-resync -> full resync
	// invalid -> no request
	// ignored -> no request
}
