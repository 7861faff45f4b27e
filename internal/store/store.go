package store

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"vendapos/backend/internal/domain"
)

// NewID returns an uppercase GUID, the format the legacy catalog ids use.
func NewID() string {
	return strings.ToUpper(uuid.NewString())
}

var (
	// ErrNotFound means the referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict means the entity exists but is in a state that forbids
	// the operation, e.g. an already-confirmed order.
	ErrConflict = errors.New("conflict")
	// ErrValidation means the request itself is invalid.
	ErrValidation = errors.New("validation failed")
	// ErrContention means the transaction lost a serialization or
	// uniqueness race and may be retried as a whole.
	ErrContention = errors.New("transaction contention")
)

// Repository is the per-tenant persistence surface. Implementations must be
// safe for concurrent use.
type Repository interface {
	GetPendingOrder(ctx context.Context, id string) (*domain.PendingOrder, error)
	ListPendingOrders(ctx context.Context, status string, companyID int, limit int) ([]domain.PendingOrder, error)
	ListOrderLines(ctx context.Context, orderID string) ([]domain.OrderLine, error)
	ListComboSelections(ctx context.Context, orderLineID string) ([]domain.ComboSelection, error)

	// FindProducts returns the catalog rows for the given ids, keyed by id.
	// A companyID of 0 means no company scoping. Missing ids are simply
	// absent from the result.
	FindProducts(ctx context.Context, ids []string, companyID int) (map[string]domain.Product, error)
	// FindRawMaterials returns catalog rows within one company matched by
	// id or by numeric code.
	FindRawMaterials(ctx context.Context, companyID int, ids []string, codes []int) ([]domain.Product, error)
	FindFormulaLines(ctx context.Context, parentIDs []string, companyID int) ([]domain.FormulaLine, error)
	HeadOfficeCompany(ctx context.Context) (int, error)
	ListSellableProducts(ctx context.Context, companyID int) ([]domain.Product, error)

	CreatePendingOrder(ctx context.Context, order domain.PendingOrder, lines []domain.OrderLine, selections []domain.ComboSelection) (*domain.PendingOrder, error)

	// PostSale atomically allocates the per-company sale number, writes the
	// sale header, sale lines and stock movements, writes the recomputed
	// prices back onto the order lines, and flips the order from OPEN to
	// CONFIRMED. If the order is no longer OPEN the whole transaction is
	// rolled back with ErrConflict.
	PostSale(ctx context.Context, plan domain.PostingPlan) (*domain.PostingReceipt, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error

	Close() error
}
