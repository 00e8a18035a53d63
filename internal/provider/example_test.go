package provider_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/steveyegge/taskbridge/internal/provider"
)

// This example installs an authority, writes a task list as the sync adapter
// would, and reads back the change notification it produced.
func ExampleStore_Client() {
	dir, err := os.MkdirTemp("", "provider-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	store, err := provider.Open(filepath.Join(dir, "provider.db"))
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()
	if err := store.InitSchema(); err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := store.Install(ctx, "org.dmfs.tasks", "v1.2.0"); err != nil {
		log.Fatal(err)
	}

	lists := provider.ContentURI("org.dmfs.tasks", provider.TableTaskLists)
	id, err := store.Client("davx5").Insert(ctx, lists, provider.Values{
		provider.ListAccountName: "me@example.com",
		provider.ListAccountType: "bitfire.at.davdroid",
		provider.ListName:        "Work",
		provider.ListSyncID:      "/dav/work/",
		provider.ListSyncEnabled: int64(1),
	})
	if err != nil {
		log.Fatal(err)
	}

	changes, err := store.ChangesSince(ctx, 0, 10)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(id)
	fmt.Println(changes[0].URI, changes[0].Origin)
	// Output:
	// 1
	// content://org.dmfs.tasks/tasklists/1 davx5
}
