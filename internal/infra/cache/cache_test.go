package cache_test

import (
	"testing"
	"time"

	"github.com/boddenberg/pj-clientes-go/internal/domain"
	"github.com/boddenberg/pj-clientes-go/internal/infra/cache"
	"github.com/boddenberg/pj-clientes-go/internal/port"
)

var _ port.Cache[*domain.Profile] = (*cache.InMemory[*domain.Profile])(nil)

func TestCache_SetAndGet(t *testing.T) {
	c := cache.New[*domain.Profile](5 * time.Minute)
	defer c.Close()

	c.Set("tenant-1", &domain.Profile{ID: "tenant-1", CompanyName: "Acme"})
	val, ok := c.Get("tenant-1")
	if !ok {
		t.Fatal("expected key to exist")
	}
	if val.CompanyName != "Acme" {
		t.Errorf("expected 'Acme', got '%s'", val.CompanyName)
	}
}

func TestCache_GetMiss(t *testing.T) {
	c := cache.New[string](5 * time.Minute)
	defer c.Close()

	_, ok := c.Get("nonexistent")
	if ok {
		t.Fatal("expected cache miss for nonexistent key")
	}
}

func TestCache_Expiration(t *testing.T) {
	c := cache.New[string](50 * time.Millisecond)
	defer c.Close()

	c.Set("key1", "value1")
	time.Sleep(100 * time.Millisecond)

	_, ok := c.Get("key1")
	if ok {
		t.Fatal("expected cache entry to be expired")
	}
}

func TestCache_SweeperRemovesExpired(t *testing.T) {
	c := cache.New[string](20 * time.Millisecond)
	defer c.Close()

	c.Set("key1", "value1")
	deadline := time.Now().Add(time.Second)
	for c.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if c.Len() != 0 {
		t.Fatalf("expected sweeper to drop expired entry, len=%d", c.Len())
	}
}

func TestCache_Delete(t *testing.T) {
	c := cache.New[string](5 * time.Minute)
	defer c.Close()

	c.Set("key1", "value1")
	c.Delete("key1")

	_, ok := c.Get("key1")
	if ok {
		t.Fatal("expected key to be deleted")
	}
}

func TestCache_CloseIsIdempotent(t *testing.T) {
	c := cache.New[string](time.Minute)
	c.Close()
	c.Close()

	c.Set("k", "v")
	if _, ok := c.Get("k"); !ok {
		t.Fatal("cache must stay usable after Close")
	}
}
