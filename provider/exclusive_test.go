package provider

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestExclusiveLeaderCreatesFollowersShare(t *testing.T) {
	var (
		x     Exclusive
		mu    sync.Mutex
		store = map[string][]byte{}
	)
	get := func(context.Context) ([]byte, bool, error) {
		mu.Lock()
		defer mu.Unlock()
		b, ok := store["k"]
		return b, ok, nil
	}
	set := func(_ context.Context, b []byte) error {
		mu.Lock()
		defer mu.Unlock()
		store["k"] = b
		return nil
	}
	release := make(chan struct{})
	create := func(context.Context) ([]byte, error) {
		<-release
		return []byte("v"), nil
	}

	var wg sync.WaitGroup
	results := make(chan bool, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, created, err := x.Do(context.Background(), "k", get, set, create)
			if err != nil || string(b) != "v" {
				t.Errorf("Do = %q, %v", b, err)
			}
			results <- created
		}()
	}
	close(release)
	wg.Wait()
	close(results)

	n := 0
	for c := range results {
		if c {
			n++
		}
	}
	if n != 1 {
		t.Fatalf("%d callers reported created, want 1", n)
	}
}

func TestExclusiveHitSkipsCreate(t *testing.T) {
	var x Exclusive
	b, created, err := x.Do(context.Background(), "k",
		func(context.Context) ([]byte, bool, error) { return []byte("stored"), true, nil },
		func(context.Context, []byte) error { t.Fatal("set on hit"); return nil },
		func(context.Context) ([]byte, error) { t.Fatal("create on hit"); return nil, nil },
	)
	if err != nil || created || string(b) != "stored" {
		t.Fatalf("Do = %q, %v, %v", b, created, err)
	}
}

func TestExclusivePropagatesErrors(t *testing.T) {
	var x Exclusive
	boom := errors.New("boom")
	_, _, err := x.Do(context.Background(), "k",
		func(context.Context) ([]byte, bool, error) { return nil, false, boom },
		func(context.Context, []byte) error { return nil },
		func(context.Context) ([]byte, error) { return []byte("v"), nil },
	)
	if !errors.Is(err, boom) {
		t.Fatalf("want boom, got %v", err)
	}
}
