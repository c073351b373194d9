package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestKey_JoinsNamespaceAndParts(t *testing.T) {
	tests := []struct {
		namespace string
		parts     []string
		want      string
	}{
		{"solace", []string{"partner", "42"}, "solace:partner:42"},
		{"solace", nil, "solace"},
		{"", []string{"limits", "42"}, "limits:42"},
	}
	for _, tc := range tests {
		if got := Key(tc.namespace, tc.parts...); got != tc.want {
			t.Errorf("Key(%q, %v) = %q, want %q", tc.namespace, tc.parts, got, tc.want)
		}
	}
}

func TestMemoryCache_SetGetDelete(t *testing.T) {
	c := NewMemoryCache("test")
	defer c.Close()
	ctx := context.Background()

	if _, err := c.Get(ctx, "missing"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("get missing: err = %v", err)
	}

	if err := c.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := c.Get(ctx, "k")
	if err != nil || string(got) != "v" {
		t.Fatalf("get = %q, %v", got, err)
	}

	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := c.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("get after delete: err = %v", err)
	}
}

func TestMemoryCache_TTLExpiry(t *testing.T) {
	c := NewMemoryCache("test")
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), 10*time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := c.Get(ctx, "k"); err != nil {
		t.Fatalf("get before expiry: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	if _, err := c.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("get after expiry: err = %v", err)
	}
}

func TestMemoryCache_IncrCountsAndExpires(t *testing.T) {
	c := NewMemoryCache("test")
	defer c.Close()
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := c.Incr(ctx, "quota", time.Minute)
		if err != nil || got != want {
			t.Fatalf("incr = %d, %v; want %d", got, err, want)
		}
	}

	// A fresh window restarts the count.
	if _, err := c.Incr(ctx, "short", 5*time.Millisecond); err != nil {
		t.Fatalf("incr: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	got, err := c.Incr(ctx, "short", 5*time.Millisecond)
	if err != nil || got != 1 {
		t.Fatalf("incr after expiry = %d, %v; want 1", got, err)
	}
}

func TestMemoryCache_ValueIsolation(t *testing.T) {
	c := NewMemoryCache("test")
	defer c.Close()
	ctx := context.Background()

	original := []byte("immutable")
	if err := c.Set(ctx, "k", original, 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	original[0] = 'X'

	got, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "immutable" {
		t.Fatalf("stored value mutated: %q", got)
	}
	got[0] = 'Y'

	again, _ := c.Get(ctx, "k")
	if string(again) != "immutable" {
		t.Fatalf("returned value aliased: %q", again)
	}
}

func TestJSONHelpers_RoundTrip(t *testing.T) {
	c := NewMemoryCache("test")
	defer c.Close()
	ctx := context.Background()

	type persona struct {
		Version int     `json:"version"`
		Play    float64 `json:"playfulness"`
	}

	in := persona{Version: 3, Play: 0.7}
	if err := SetJSON(ctx, c, "partner:42", in, time.Minute); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}

	var out persona
	if err := GetJSON(ctx, c, "partner:42", &out); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if out != in {
		t.Fatalf("round trip = %+v, want %+v", out, in)
	}

	if err := GetJSON(ctx, c, "absent", &out); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("GetJSON absent: err = %v", err)
	}
}
