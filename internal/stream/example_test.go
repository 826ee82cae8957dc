package stream_test

import (
	"context"
	"log"
	"os"
	"path/filepath"

	"github.com/Sashemishi/userdir/internal/record"
	"github.com/Sashemishi/userdir/internal/store"
	"github.com/Sashemishi/userdir/internal/stream"
)

// Example_basicUsage demonstrates wiring a stream over a store and
// observing filtered results.
func Example_basicUsage() {
	dbPath := filepath.Join(os.TempDir(), "example-userdir.db")
	defer os.Remove(dbPath)

	st, err := store.Open(dbPath)
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	ctx := context.Background()
	if err := st.InitSchema(ctx); err != nil {
		log.Fatal(err)
	}

	err = st.UpsertAll(ctx, []record.Record{
		{ID: 1, Name: "Alice", Email: "a@x.com", Phone: "1"},
		{ID: 2, Name: "Bob", Email: "b@x.com", Phone: "2"},
	})
	if err != nil {
		log.Fatal(err)
	}

	s := stream.New(st, stream.DefaultConfig())
	if err := s.Start(); err != nil {
		log.Fatal(err)
	}
	defer s.Stop()

	// The first snapshot arrives without waiting for any remote
	// refresh; the stream serves whatever is committed locally.
	results, cancel := s.Subscribe()
	defer cancel()

	res := <-results
	for _, r := range res.Records {
		log.Printf("%d %s <%s>", r.ID, r.Name, r.Email)
	}

	// Typing "bo" then "bob" within the debounce interval runs a
	// single query for "bob".
	s.SetFilter("bo")
	s.SetFilter("bob")
}
