// Package tenantdb resolves a tenant key to that tenant's store. Pools are
// opened lazily, held for the life of the process, and closed together at
// shutdown. Nothing here is ambient: callers pass the tenant key explicitly
// on every call.
package tenantdb

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"vendapos/backend/internal/store"
	"vendapos/backend/internal/store/postgres"
)

// Resolver yields the store for one tenant.
type Resolver interface {
	Resolve(ctx context.Context, tenant string) (store.Repository, error)
	Close() error
}

var tenantKeyPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,62}$`)

// ValidTenant reports whether the key is safe to splice into a DSN.
func ValidTenant(tenant string) bool {
	return tenantKeyPattern.MatchString(tenant)
}

// Manager opens one postgres pool per tenant from a DSN template containing
// a {tenant} placeholder, e.g.
// postgres://pos:secret@db:5432/pos_{tenant}?sslmode=disable
type Manager struct {
	mu       sync.Mutex
	template string
	logger   *zap.Logger
	pools    map[string]store.Repository
}

func NewManager(dsnTemplate string, logger *zap.Logger) (*Manager, error) {
	if !strings.Contains(dsnTemplate, "{tenant}") {
		return nil, fmt.Errorf("dsn template must contain a {tenant} placeholder")
	}
	return &Manager{
		template: dsnTemplate,
		logger:   logger,
		pools:    make(map[string]store.Repository),
	}, nil
}

func (m *Manager) Resolve(ctx context.Context, tenant string) (store.Repository, error) {
	if !ValidTenant(tenant) {
		return nil, fmt.Errorf("%w: invalid tenant key %q", store.ErrValidation, tenant)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if pool, ok := m.pools[tenant]; ok {
		return pool, nil
	}

	dsn := strings.ReplaceAll(m.template, "{tenant}", tenant)
	pool, err := postgres.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open tenant %s: %w", tenant, err)
	}
	m.logger.Info("tenant pool opened", zap.String("tenant", tenant))
	m.pools[tenant] = pool
	return pool, nil
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for tenant, pool := range m.pools {
		if err := pool.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(m.pools, tenant)
	}
	return firstErr
}

// Static serves a fixed store for every tenant key. Used by the in-memory
// development mode and by tests.
type Static struct {
	repo store.Repository
}

func NewStatic(repo store.Repository) *Static {
	return &Static{repo: repo}
}

func (s *Static) Resolve(ctx context.Context, tenant string) (store.Repository, error) {
	if tenant != "" && !ValidTenant(tenant) {
		return nil, fmt.Errorf("%w: invalid tenant key %q", store.ErrValidation, tenant)
	}
	return s.repo, nil
}

func (s *Static) Close() error {
	return s.repo.Close()
}
