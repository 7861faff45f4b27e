package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadFallsBackOnBadNumbers(t *testing.T) {
	t.Setenv("MENU_CACHE_TTL_SECONDS", "not-a-number")
	t.Setenv("DEFAULT_COMPANY_ID", "-3")

	cfg := Load()
	if cfg.MenuCacheTTLSeconds != 300 {
		t.Fatalf("expected menu TTL fallback 300, got %d", cfg.MenuCacheTTLSeconds)
	}
	if cfg.DefaultCompanyID != 1 {
		t.Fatalf("expected default company fallback 1, got %d", cfg.DefaultCompanyID)
	}
}
