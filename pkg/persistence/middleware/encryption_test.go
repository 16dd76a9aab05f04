package middleware_test

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aretw0/sessiond/pkg/adapters/memory"
	"github.com/aretw0/sessiond/pkg/domain"
	"github.com/aretw0/sessiond/pkg/persistence/middleware"
	"github.com/aretw0/sessiond/pkg/ports"
)

func generateKey(t *testing.T) []byte {
	k := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, k); err != nil {
		t.Fatal(err)
	}
	return k
}

func newEncrypted(t *testing.T, next ports.SessionMap, active []byte, fallback ...[]byte) ports.SessionMap {
	t.Helper()
	mw, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
		ActiveKey:    active,
		FallbackKeys: fallback,
	})
	if err != nil {
		t.Fatalf("NewEncryptionMiddleware failed: %v", err)
	}
	return mw(next)
}

func TestEncryptionMiddleware_Roundtrip(t *testing.T) {
	underlying := memory.NewStore()
	secure := newEncrypted(t, underlying, generateKey(t))

	ctx := context.Background()
	original := &domain.Session{ID: "test-session", Login: "jdoe", Password: "my-secret-sauce"}

	if err := secure.Set(ctx, original, 0, 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if original.Password != "my-secret-sauce" {
		t.Fatal("Middleware modified the caller's session")
	}

	stored, err := underlying.Get(ctx, "test-session")
	if err != nil {
		t.Fatalf("Underlying get failed: %v", err)
	}
	if stored.Password == "my-secret-sauce" || !strings.HasPrefix(stored.Password, "enc:v1:") {
		t.Fatalf("Expected sealed password, found: %v", stored.Password)
	}
	if stored.Login != "jdoe" {
		t.Errorf("Login should be stored in clear, got %v", stored.Login)
	}

	loaded, err := secure.Get(ctx, "test-session")
	if err != nil {
		t.Fatalf("Get via middleware failed: %v", err)
	}
	if loaded.Password != "my-secret-sauce" {
		t.Errorf("Expected 'my-secret-sauce', got %v", loaded.Password)
	}

	async, err := secure.GetAsync(ctx, "test-session").Wait(ctx)
	if err != nil || async.Password != "my-secret-sauce" {
		t.Errorf("GetAsync returned %v, %v", async, err)
	}

	values, err := secure.Values(ctx, domain.All())
	if err != nil || len(values) != 1 || values[0].Password != "my-secret-sauce" {
		t.Errorf("Values returned %v, %v", values, err)
	}

	removed, err := secure.RemoveAsync(ctx, "test-session").Wait(ctx)
	if err != nil || removed.Password != "my-secret-sauce" {
		t.Errorf("RemoveAsync returned %v, %v", removed, err)
	}
}

func TestEncryptionMiddleware_PutIfAbsentReturnsOpenedExisting(t *testing.T) {
	secure := newEncrypted(t, memory.NewStore(), generateKey(t))
	ctx := context.Background()

	existing, err := secure.PutIfAbsent(ctx, &domain.Session{ID: "s1", Password: "first"}, 0, 0)
	if err != nil || existing != nil {
		t.Fatalf("first PutIfAbsent returned %v, %v", existing, err)
	}
	existing, err = secure.PutIfAbsent(ctx, &domain.Session{ID: "s1", Password: "second"}, 0, 0)
	if err != nil {
		t.Fatalf("second PutIfAbsent failed: %v", err)
	}
	if existing == nil || existing.Password != "first" {
		t.Errorf("Expected existing session with password 'first', got %v", existing)
	}
}

func TestEncryptionMiddleware_KeyRotation(t *testing.T) {
	underlying := memory.NewStore()
	oldKey := generateKey(t)
	newKey := generateKey(t)
	secureOld := newEncrypted(t, underlying, oldKey)

	ctx := context.Background()
	if err := secureOld.Set(ctx, &domain.Session{ID: "rotation-session", Password: "old"}, 0, 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	secureNew := newEncrypted(t, underlying, newKey, oldKey)
	loaded, err := secureNew.Get(ctx, "rotation-session")
	if err != nil {
		t.Fatalf("Get with rotated key failed: %v", err)
	}
	if loaded.Password != "old" {
		t.Errorf("Decryption with fallback key failed")
	}

	loaded.Password = "new"
	if err := secureNew.Set(ctx, loaded, 0, 0); err != nil {
		t.Fatalf("Set with new key failed: %v", err)
	}

	if _, err := secureOld.Get(ctx, "rotation-session"); err == nil {
		t.Error("Expected failure when reading new-key encryption with old-key middleware")
	}
}

func TestEncryptionMiddleware_RejectsPlainPassword(t *testing.T) {
	underlying := memory.NewStore()
	ctx := context.Background()
	if err := underlying.Set(ctx, &domain.Session{ID: "plain", Password: "clear"}, 0, 0); err != nil {
		t.Fatal(err)
	}
	if err := underlying.Set(ctx, &domain.Session{ID: "empty"}, 0, 0); err != nil {
		t.Fatal(err)
	}

	secure := newEncrypted(t, underlying, generateKey(t))
	if _, err := secure.Get(ctx, "plain"); !errors.Is(err, middleware.ErrNotEncrypted) {
		t.Errorf("Expected ErrNotEncrypted, got %v", err)
	}
	if s, err := secure.Get(ctx, "empty"); err != nil || s.Password != "" {
		t.Errorf("Empty password should pass through, got %v, %v", s, err)
	}
}

func TestEncryptionMiddleware_InvalidKey(t *testing.T) {
	if _, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: []byte("short-key")}); err == nil {
		t.Error("Expected error for invalid key size")
	}
	_, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
		ActiveKey:    generateKey(t),
		FallbackKeys: [][]byte{[]byte("short")},
	})
	if err == nil {
		t.Error("Expected error for invalid fallback key size")
	}
}

func TestChain_Order(t *testing.T) {
	var order []string
	tag := func(name string) middleware.Middleware {
		return func(next ports.SessionMap) ports.SessionMap {
			order = append(order, name)
			return next
		}
	}
	middleware.Chain(memory.NewStore(), tag("outer"), tag("inner"))
	if len(order) != 2 || order[0] != "inner" || order[1] != "outer" {
		t.Errorf("Expected inner to wrap first, got %v", order)
	}
}
