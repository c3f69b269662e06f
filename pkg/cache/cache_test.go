package cache

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestKey(t *testing.T) {
	a := Key("readAsyncFile", "f1", map[string]any{"fields": []string{"id"}, "limit": 1})
	b := Key("readAsyncFile", "f1", map[string]any{"limit": 1, "fields": []string{"id"}})
	if a != b {
		t.Fatalf("Key() differs for equal args: %q vs %q", a, b)
	}
	if !strings.HasPrefix(a, KeyPrefix) {
		t.Fatalf("Key() = %q, want %s prefix", a, KeyPrefix)
	}
	if a == Key("readAsyncFile", "f2", map[string]any{"limit": 1, "fields": []string{"id"}}) {
		t.Fatal("Key() equal for different args")
	}
	if Key("readAsyncFiles") == Key("readAsyncUsers") {
		t.Fatal("Key() equal for different names")
	}
}

type item struct {
	ID   string `json:"id"`
	Size int    `json:"size"`
}

func TestReadCachesValue(t *testing.T) {
	r := NewReader(NewMemory(), time.Minute)
	var calls atomic.Int32
	fetch := func(context.Context) (*item, error) {
		calls.Add(1)
		return &item{ID: "f1", Size: 3}, nil
	}

	for i := 0; i < 3; i++ {
		v, err := Read(context.Background(), r, "k", fetch)
		if err != nil || v.ID != "f1" || v.Size != 3 {
			t.Fatalf("Read() = %+v, %v", v, err)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("fetch calls = %d, want 1", calls.Load())
	}

	r.Invalidate(context.Background(), "k")
	Read(context.Background(), r, "k", fetch)
	if calls.Load() != 2 {
		t.Fatalf("fetch calls after invalidate = %d, want 2", calls.Load())
	}
}

func TestReadDoesNotCacheErrors(t *testing.T) {
	r := NewReader(NewMemory(), time.Minute)
	boom := errors.New("boom")
	if _, err := Read(context.Background(), r, "k", func(context.Context) (int, error) { return 0, boom }); !errors.Is(err, boom) {
		t.Fatalf("Read() error = %v, want boom", err)
	}
	v, err := Read(context.Background(), r, "k", func(context.Context) (int, error) { return 7, nil })
	if err != nil || v != 7 {
		t.Fatalf("Read() = %d, %v", v, err)
	}
}

func TestReadCoalescesMisses(t *testing.T) {
	r := NewReader(NewMemory(), time.Minute)
	var calls atomic.Int32
	gate := make(chan struct{})
	fetch := func(context.Context) (string, error) {
		calls.Add(1)
		<-gate
		return "v", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			Read(context.Background(), r, "k", fetch)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()
	if calls.Load() != 1 {
		t.Fatalf("fetch calls = %d, want 1", calls.Load())
	}
}

func TestNilReaderFetches(t *testing.T) {
	v, err := Read(context.Background(), nil, "k", func(context.Context) (int, error) { return 1, nil })
	if err != nil || v != 1 {
		t.Fatalf("Read() = %d, %v", v, err)
	}
}

func TestMemoryExpiry(t *testing.T) {
	m := NewMemory()
	now := time.Now()
	m.now = func() time.Time { return now }
	ctx := context.Background()

	m.Set(ctx, "k", []byte("v"), time.Second)
	if _, ok, _ := m.Get(ctx, "k"); !ok {
		t.Fatal("Get() missed a fresh entry")
	}
	now = now.Add(2 * time.Second)
	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Fatal("Get() returned an expired entry")
	}
	if m.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", m.Len())
	}

	m.Close()
	if err := m.Set(ctx, "k", nil, 0); !errors.Is(err, ErrClosed) {
		t.Fatalf("Set() after Close error = %v", err)
	}
}

func TestRedisCache(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	c := NewRedis(client, "sessionbridge:test:cache:")
	ctx := context.Background()
	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	data, ok, err := c.Get(ctx, "k")
	if err != nil || !ok || string(data) != "v" {
		t.Fatalf("Get() = %q, %v, %v", data, ok, err)
	}
	c.Delete(ctx, "k")
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatal("Get() after Delete hit")
	}
}
