package tenantdb

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"vendapos/backend/internal/store"
	"vendapos/backend/internal/store/memory"
)

func TestValidTenant(t *testing.T) {
	valid := []string{"default", "acme", "loja-01", "t1", "a_b"}
	for _, key := range valid {
		if !ValidTenant(key) {
			t.Fatalf("expected %q to be valid", key)
		}
	}
	invalid := []string{"", "UPPER", "has space", "-leading", "semi;colon", "a/b", "café"}
	for _, key := range invalid {
		if ValidTenant(key) {
			t.Fatalf("expected %q to be invalid", key)
		}
	}
}

func TestNewManagerRequiresPlaceholder(t *testing.T) {
	if _, err := NewManager("postgres://x/no-placeholder", zap.NewNop()); err == nil {
		t.Fatalf("expected template without placeholder to be rejected")
	}
	if _, err := NewManager("postgres://x/pos_{tenant}", zap.NewNop()); err != nil {
		t.Fatalf("expected valid template to be accepted, got %v", err)
	}
}

func TestManagerRejectsInvalidTenantKey(t *testing.T) {
	m, err := NewManager("postgres://x/pos_{tenant}", zap.NewNop())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	_, err = m.Resolve(context.Background(), "bad key; drop table")
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestStaticServesSameStoreForAllTenants(t *testing.T) {
	mem := memory.New()
	static := NewStatic(mem)

	a, err := static.Resolve(context.Background(), "acme")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	b, err := static.Resolve(context.Background(), "")
	if err != nil {
		t.Fatalf("resolve empty: %v", err)
	}
	if a != store.Repository(mem) || b != store.Repository(mem) {
		t.Fatalf("static resolver must return the fixed store")
	}
}
