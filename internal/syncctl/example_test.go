package syncctl_test

import (
	"context"
	"log"
	"sync"

	"habitd/internal/remote"
	"habitd/internal/syncctl"
)

// Example_domainWiring shows how a sync domain wires itself to a
// controller: snapshot out, merge in, interactions marked on every
// user-driven mutation.
func Example_domainWiring() {
	var (
		mu    sync.Mutex
		title = "My goals"
	)

	store := remote.NewMemory()
	ctl, err := syncctl.New(syncctl.Config{
		Key:    "personal_goals",
		Store:  store,
		Device: "laptop",
		Snapshot: func() remote.Document {
			mu.Lock()
			defer mu.Unlock()
			return remote.Document{"title": title}
		},
		Apply: func(doc remote.Document) bool {
			mu.Lock()
			defer mu.Unlock()
			if v, ok := doc["title"].(string); ok && v != title {
				title = v
				return true
			}
			return false
		},
	})
	if err != nil {
		log.Fatal(err)
	}
	if err := ctl.Start(context.Background()); err != nil {
		log.Fatal(err)
	}
	defer ctl.Stop()

	// A user edit: mutate local state, mark it, schedule the push.
	mu.Lock()
	title = "Renamed"
	mu.Unlock()
	ctl.MarkInteraction()
	ctl.NotifyChange()
}
