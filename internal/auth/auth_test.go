package auth

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestGenerateAndValidateKey(t *testing.T) {
	m := NewManager(NewMemoryStore(), "")

	rawKey, key, err := m.GenerateKey(context.Background(), "usr_buyer1", RoleUser, "test key")
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	if !strings.HasPrefix(rawKey, "sk_") {
		t.Errorf("Expected raw key with sk_ prefix, got %s", rawKey)
	}
	if key.Hash == rawKey {
		t.Error("Stored hash must not equal the raw key")
	}
	if key.Role != RoleUser {
		t.Errorf("Expected role user, got %s", key.Role)
	}

	validated, err := m.ValidateKey(context.Background(), "Bearer "+rawKey)
	if err != nil {
		t.Fatalf("ValidateKey failed: %v", err)
	}
	if validated.UserID != "usr_buyer1" {
		t.Errorf("Expected usr_buyer1, got %s", validated.UserID)
	}

	actor := validated.Actor()
	if actor.ID != "usr_buyer1" || actor.IsAdmin() {
		t.Errorf("Unexpected actor: %+v", actor)
	}
}

func TestValidateKey_Invalid(t *testing.T) {
	m := NewManager(NewMemoryStore(), "")

	if _, err := m.ValidateKey(context.Background(), ""); err != ErrNoAPIKey {
		t.Errorf("Expected ErrNoAPIKey, got %v", err)
	}
	if _, err := m.ValidateKey(context.Background(), "not_a_key"); err != ErrInvalidAPIKey {
		t.Errorf("Expected ErrInvalidAPIKey, got %v", err)
	}
	if _, err := m.ValidateKey(context.Background(), "sk_deadbeef"); err != ErrInvalidAPIKey {
		t.Errorf("Expected ErrInvalidAPIKey for unknown key, got %v", err)
	}
}

func TestValidateKey_Revoked(t *testing.T) {
	m := NewManager(NewMemoryStore(), "")

	rawKey, key, err := m.GenerateKey(context.Background(), "usr_seller1", RoleUser, "k")
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	if err := m.RevokeKey(context.Background(), key.ID, "usr_seller1"); err != nil {
		t.Fatalf("RevokeKey failed: %v", err)
	}

	if _, err := m.ValidateKey(context.Background(), rawKey); err != ErrInvalidAPIKey {
		t.Errorf("Expected ErrInvalidAPIKey for revoked key, got %v", err)
	}
}

func TestValidateKey_Expired(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store, "")

	rawKey, key, err := m.GenerateKey(context.Background(), "usr_x", RoleUser, "k")
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	past := time.Now().Add(-time.Hour)
	key.ExpiresAt = &past
	store.Update(context.Background(), key)

	if _, err := m.ValidateKey(context.Background(), rawKey); err != ErrInvalidAPIKey {
		t.Errorf("Expected ErrInvalidAPIKey for expired key, got %v", err)
	}
}

func TestCheckAdminSecret(t *testing.T) {
	open := NewManager(NewMemoryStore(), "")
	if !open.CheckAdminSecret("anything") {
		t.Error("Empty admin secret should allow issuance (development)")
	}

	gated := NewManager(NewMemoryStore(), "s3cret")
	if gated.CheckAdminSecret("wrong") {
		t.Error("Wrong secret should be rejected")
	}
	if !gated.CheckAdminSecret("s3cret") {
		t.Error("Correct secret should be accepted")
	}
}

func TestAdminRole(t *testing.T) {
	m := NewManager(NewMemoryStore(), "")

	_, key, err := m.GenerateKey(context.Background(), "usr_admin", RoleAdmin, "admin key")
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	if !key.Actor().IsAdmin() {
		t.Error("Expected admin actor")
	}
}

func TestGenerateKey_UnknownRoleDefaultsToUser(t *testing.T) {
	m := NewManager(NewMemoryStore(), "")

	_, key, err := m.GenerateKey(context.Background(), "usr_y", Role("superuser"), "k")
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	if key.Role != RoleUser {
		t.Errorf("Expected role to default to user, got %s", key.Role)
	}
}
