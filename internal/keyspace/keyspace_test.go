package keyspace

import (
	"testing"
	"time"
)

func TestSetGet(t *testing.T) {
	k := New()
	k.Set("foo", "bar")
	v, ok := k.Get("foo")
	if !ok || v != "bar" {
		t.Fatalf("Get() = (%q, %v), want (\"bar\", true)", v, ok)
	}
	if _, ok := k.Get("missing"); ok {
		t.Fatalf("Get(missing) reported present")
	}
}

func TestSetPXExpires(t *testing.T) {
	k := New()
	k.SetPX("foo", "bar", 10*time.Millisecond)
	if _, ok := k.Get("foo"); !ok {
		t.Fatalf("key should still be present immediately after SetPX")
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok := k.Get("foo"); ok {
		t.Fatalf("key should have expired")
	}
}

func TestDel(t *testing.T) {
	k := New()
	k.Set("foo", "bar")
	if !k.Del("foo") {
		t.Fatalf("Del() should report true for an existing key")
	}
	if k.Del("foo") {
		t.Fatalf("Del() should report false the second time")
	}
}

func TestIncr(t *testing.T) {
	k := New()
	v, err := k.Incr("counter")
	if err != nil || v != 1 {
		t.Fatalf("Incr() = (%d, %v), want (1, nil)", v, err)
	}
	v, err = k.Incr("counter")
	if err != nil || v != 2 {
		t.Fatalf("Incr() = (%d, %v), want (2, nil)", v, err)
	}
}

func TestIncrNonInteger(t *testing.T) {
	k := New()
	k.Set("notanumber", "abc")
	if _, err := k.Incr("notanumber"); !IsNotAnInteger(err) {
		t.Fatalf("Incr() err = %v, want errNotAnInteger", err)
	}
}

func TestIncrPreservesTTL(t *testing.T) {
	k := New()
	k.SetPX("counter", "1", time.Hour)
	if _, err := k.Incr("counter"); err != nil {
		t.Fatalf("Incr: %v", err)
	}
	if _, ok := k.Get("counter"); !ok {
		t.Fatalf("key should still carry its TTL and be present")
	}
	if k.data["counter"].Deadline.IsZero() {
		t.Fatalf("Incr dropped the key's TTL")
	}
}

func TestKeys(t *testing.T) {
	k := New()
	k.Set("a", "1")
	k.Set("b", "2")
	k.SetPX("c", "3", time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	keys := k.Keys()
	if len(keys) != 2 {
		t.Fatalf("Keys() = %v, want 2 unexpired keys", keys)
	}
}

func TestKeysSweepsExpiredEntries(t *testing.T) {
	k := New()
	k.SetPX("expired", "v", time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	k.Keys()
	if n := len(k.data); n != 0 {
		t.Fatalf("Keys() should have swept the expired entry, %d left in map", n)
	}
}
