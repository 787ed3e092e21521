// Package providertest holds behavior checks shared by the in-process providers.
package providertest

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	pr "github.com/unkn0wn-root/bindcache/provider"
)

// Run checks the provider.Provider contract against p. p must start empty.
func Run(t *testing.T, p pr.Provider) {
	t.Helper()
	ctx := context.Background()

	t.Run("miss", func(t *testing.T) {
		if b, ok, err := p.Get(ctx, "absent"); err != nil || ok || b != nil {
			t.Fatalf("Get(absent) = %q, %v, %v", b, ok, err)
		}
		if err := p.Del(ctx, "absent"); err != nil {
			t.Fatalf("Del(absent): %v", err)
		}
	})

	t.Run("set get del", func(t *testing.T) {
		want := []byte{0x00, 0x01, 0xff, 'x'}
		if ok, err := p.Set(ctx, "k1", want, pr.WriteOptions{}); err != nil || !ok {
			t.Fatalf("Set = %v, %v", ok, err)
		}
		got, ok, err := p.Get(ctx, "k1")
		if err != nil || !ok || !bytes.Equal(got, want) {
			t.Fatalf("Get = %q, %v, %v; want %q", got, ok, err, want)
		}
		if err := p.Del(ctx, "k1"); err != nil {
			t.Fatal(err)
		}
		if _, ok, _ := p.Get(ctx, "k1"); ok {
			t.Fatal("value survived Del")
		}
	})

	t.Run("fetch or create", func(t *testing.T) {
		calls := 0
		create := func(context.Context) ([]byte, error) { calls++; return []byte("v1"), nil }

		b, created, err := p.FetchOrCreate(ctx, "k2", pr.WriteOptions{}, create)
		if err != nil || !created || string(b) != "v1" {
			t.Fatalf("first FetchOrCreate = %q, %v, %v", b, created, err)
		}
		b, created, err = p.FetchOrCreate(ctx, "k2", pr.WriteOptions{}, create)
		if err != nil || created || string(b) != "v1" {
			t.Fatalf("second FetchOrCreate = %q, %v, %v", b, created, err)
		}
		if calls != 1 {
			t.Fatalf("create ran %d times, want 1", calls)
		}
	})

	t.Run("create error stores nothing", func(t *testing.T) {
		boom := errors.New("boom")
		_, _, err := p.FetchOrCreate(ctx, "k3", pr.WriteOptions{}, func(context.Context) ([]byte, error) { return nil, boom })
		if !errors.Is(err, boom) {
			t.Fatalf("want boom, got %v", err)
		}
		if _, ok, _ := p.Get(ctx, "k3"); ok {
			t.Fatal("failed create stored a value")
		}
	})

	t.Run("racing misses converge", func(t *testing.T) {
		var calls atomic.Int32
		create := func(context.Context) ([]byte, error) {
			n := calls.Add(1)
			time.Sleep(5 * time.Millisecond)
			return []byte{byte('a' + n)}, nil
		}
		var wg sync.WaitGroup
		out := make([][]byte, 16)
		creators := atomic.Int32{}
		for i := range out {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				b, created, err := p.FetchOrCreate(ctx, "k4", pr.WriteOptions{}, create)
				if err != nil {
					t.Error(err)
					return
				}
				if created {
					creators.Add(1)
				}
				out[i] = b
			}(i)
		}
		wg.Wait()
		for i := 1; i < len(out); i++ {
			if !bytes.Equal(out[i], out[0]) {
				t.Fatalf("callers disagree: %q vs %q", out[0], out[i])
			}
		}
		if creators.Load() != 1 {
			t.Fatalf("%d callers reported created, want 1", creators.Load())
		}
	})
}
