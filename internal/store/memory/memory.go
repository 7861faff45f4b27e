// Package memory implements the store against in-process maps. It backs the
// test suite and the no-database development mode.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"vendapos/backend/internal/domain"
	"vendapos/backend/internal/money"
	"vendapos/backend/internal/store"
)

type Store struct {
	mu sync.Mutex

	products   map[string]domain.Product
	formulas   []domain.FormulaLine
	orders     map[string]domain.PendingOrder
	lines      map[string][]domain.OrderLine      // orderID -> lines
	selections map[string][]domain.ComboSelection // orderLineID -> selections
	sales      map[string]domain.Sale
	saleLines  map[string][]domain.SaleLine // saleID -> lines
	movements  []domain.StockMovement
	counters   map[int]int64 // companyID -> last sale number
	users      map[string]domain.UserAccount
	headOffice int
}

func New() *Store {
	return &Store{
		products:   make(map[string]domain.Product),
		orders:     make(map[string]domain.PendingOrder),
		lines:      make(map[string][]domain.OrderLine),
		selections: make(map[string][]domain.ComboSelection),
		sales:      make(map[string]domain.Sale),
		saleLines:  make(map[string][]domain.SaleLine),
		counters:   make(map[int]int64),
		users:      make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store preloaded with a small single-company catalog,
// enough for the server to come up without a database.
func NewSeeded() *Store {
	s := New()
	s.SetHeadOffice(1)
	s.AddProduct(domain.Product{
		ID: newID(), CompanyID: 1, Code: 101, Description: "House Burger",
		Unit: "UN", GroupCode: 10, Price: decimal.NewFromFloat(12.50),
		Cost: decimal.NewFromFloat(4.80),
		Active: true, ProductActive: true, AvailableForSale: true,
	})
	s.AddProduct(domain.Product{
		ID: newID(), CompanyID: 1, Code: 102, Description: "Fries",
		Unit: "UN", GroupCode: 10, Price: decimal.NewFromFloat(5.00),
		Cost: decimal.NewFromFloat(1.20),
		Active: true, ProductActive: true, AvailableForSale: true,
	})
	s.AddProduct(domain.Product{
		ID: newID(), CompanyID: 1, Code: 103, Description: "Soda Can",
		Unit: "UN", GroupCode: 20, Price: decimal.NewFromFloat(3.50),
		Cost: decimal.NewFromFloat(1.10),
		Active: true, ProductActive: true, AvailableForSale: true,
	})
	return s
}

func newID() string {
	return store.NewID()
}

// Seed helpers. Not part of the Repository interface; tests build their
// fixtures through these.

func (s *Store) SetHeadOffice(companyID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.headOffice = companyID
}

func (s *Store) AddProduct(p domain.Product) domain.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = newID()
	}
	s.products[p.ID] = p
	return p
}

func (s *Store) AddFormulaLines(lines ...domain.FormulaLine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, fl := range lines {
		if fl.ID == "" {
			fl.ID = newID()
		}
		s.formulas = append(s.formulas, fl)
	}
}

func (s *Store) AddOrder(order domain.PendingOrder, lines []domain.OrderLine, selections []domain.ComboSelection) domain.PendingOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertOrderLocked(order, lines, selections)
}

func (s *Store) insertOrderLocked(order domain.PendingOrder, lines []domain.OrderLine, selections []domain.ComboSelection) domain.PendingOrder {
	if order.ID == "" {
		order.ID = newID()
	}
	if order.Status == "" {
		order.Status = domain.OrderStatusOpen
	}
	if order.Channel == "" {
		order.Channel = domain.OrderChannelOnline
	}
	if order.PlacedAt.IsZero() {
		order.PlacedAt = time.Now().UTC()
	}
	order.ItemsCount = len(lines)
	s.orders[order.ID] = order

	stored := make([]domain.OrderLine, 0, len(lines))
	for _, ln := range lines {
		if ln.ID == "" {
			ln.ID = newID()
		}
		ln.OrderID = order.ID
		stored = append(stored, ln)
	}
	s.lines[order.ID] = stored

	for _, sel := range selections {
		if sel.ID == "" {
			sel.ID = newID()
		}
		s.selections[sel.OrderLineID] = append(s.selections[sel.OrderLineID], sel)
	}
	return order
}

// Repository implementation.

func (s *Store) GetPendingOrder(ctx context.Context, id string) (*domain.PendingOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", store.ErrNotFound, id)
	}
	clone := order
	return &clone, nil
}

func (s *Store) ListPendingOrders(ctx context.Context, status string, companyID int, limit int) ([]domain.PendingOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]domain.PendingOrder, 0, len(s.orders))
	for _, order := range s.orders {
		if status != "" && order.Status != status {
			continue
		}
		if companyID > 0 && (order.CompanyID == nil || *order.CompanyID != companyID) {
			continue
		}
		result = append(result, order)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].PlacedAt.After(result[j].PlacedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) ListOrderLines(ctx context.Context, orderID string) ([]domain.OrderLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lines := s.lines[orderID]
	out := make([]domain.OrderLine, len(lines))
	copy(out, lines)
	return out, nil
}

func (s *Store) ListComboSelections(ctx context.Context, orderLineID string) ([]domain.ComboSelection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sels := s.selections[orderLineID]
	out := make([]domain.ComboSelection, len(sels))
	copy(out, sels)
	return out, nil
}

func (s *Store) FindProducts(ctx context.Context, ids []string, companyID int) (map[string]domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		p, ok := s.products[id]
		if !ok {
			continue
		}
		if companyID > 0 && p.CompanyID != companyID {
			continue
		}
		result[id] = p
	}
	return result, nil
}

func (s *Store) FindRawMaterials(ctx context.Context, companyID int, ids []string, codes []int) ([]domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wantID := make(map[string]bool, len(ids))
	for _, id := range ids {
		wantID[id] = true
	}
	wantCode := make(map[int]bool, len(codes))
	for _, code := range codes {
		wantCode[code] = true
	}
	var result []domain.Product
	for _, p := range s.products {
		if p.CompanyID != companyID {
			continue
		}
		if wantID[p.ID] || wantCode[p.Code] {
			result = append(result, p)
		}
	}
	return result, nil
}

func (s *Store) FindFormulaLines(ctx context.Context, parentIDs []string, companyID int) ([]domain.FormulaLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[string]bool, len(parentIDs))
	for _, id := range parentIDs {
		want[id] = true
	}
	var result []domain.FormulaLine
	for _, fl := range s.formulas {
		if !want[fl.ParentProductID] {
			continue
		}
		if companyID > 0 && fl.CompanyID != companyID {
			continue
		}
		result = append(result, fl)
	}
	return result, nil
}

func (s *Store) HeadOfficeCompany(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.headOffice == 0 {
		return 0, fmt.Errorf("%w: head office company", store.ErrNotFound)
	}
	return s.headOffice, nil
}

func (s *Store) ListSellableProducts(ctx context.Context, companyID int) ([]domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []domain.Product
	for _, p := range s.products {
		if companyID > 0 && p.CompanyID != companyID {
			continue
		}
		if !p.Sellable() {
			continue
		}
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Code < result[j].Code
	})
	return result, nil
}

func (s *Store) CreatePendingOrder(ctx context.Context, order domain.PendingOrder, lines []domain.OrderLine, selections []domain.ComboSelection) (*domain.PendingOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := s.insertOrderLocked(order, lines, selections)
	return &stored, nil
}

func (s *Store) PostSale(ctx context.Context, plan domain.PostingPlan) (*domain.PostingReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[plan.Order.ID]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", store.ErrNotFound, plan.Order.ID)
	}
	if order.Status != domain.OrderStatusOpen {
		return nil, fmt.Errorf("%w: order %s is %s", store.ErrConflict, order.ID, order.Status)
	}

	s.counters[plan.CompanyID]++
	number := s.counters[plan.CompanyID]
	now := time.Now().UTC()

	sale := domain.Sale{
		ID:              newID(),
		CompanyID:       plan.CompanyID,
		Number:          number,
		ActorCode:       plan.ActorCode,
		IssuedAt:        now,
		Subtotal:        plan.Totals.Subtotal,
		Total:           plan.Totals.Total,
		DiscountValue:   plan.Totals.Discount,
		DiscountPercent: money.Percent(plan.Totals.Discount, plan.Totals.Subtotal),
		Note:            order.Note,
		CustomerID:      order.CustomerID,
	}
	s.sales[sale.ID] = sale

	appendLine := func(pl domain.PlanLine, component bool) {
		minPrice := pl.Product.MinPrice
		if component {
			minPrice = decimal.Zero
		}
		s.saleLines[sale.ID] = append(s.saleLines[sale.ID], domain.SaleLine{
			SaleID:      sale.ID,
			CompanyID:   plan.CompanyID,
			SaleNumber:  number,
			ProductID:   pl.Product.ID,
			ProductCode: pl.Product.Code,
			Description: pl.Product.Description,
			Unit:        pl.Product.Unit,
			GroupCode:   pl.Product.GroupCode,
			MinPrice:    minPrice,
			UnitPrice:   pl.UnitPrice,
			Quantity:    pl.Quantity,
			Cost:        money.RoundCost(pl.Product.Cost),
			IssuedAt:    now,
			IsComponent: component,
		})
		note := "online order " + order.ID
		if component {
			note += " (component)"
		}
		s.movements = append(s.movements, domain.StockMovement{
			CompanyID:      plan.CompanyID,
			DocumentNumber: number,
			Kind:           domain.MovementKindSale,
			ProductCode:    pl.Product.Code,
			Quantity:       pl.Quantity,
			UnitPrice:      pl.UnitPrice,
			Value:          pl.LineTotal,
			Cost:           money.Round(pl.Product.Cost),
			ActorCode:      plan.ActorCode,
			Note:           note,
			OccurredAt:     now,
		})
	}
	for _, pl := range plan.ParentLines {
		appendLine(pl, false)
	}
	for _, pl := range plan.ComponentLines {
		appendLine(pl, true)
	}

	lines := s.lines[order.ID]
	for i := range lines {
		for _, lp := range plan.LinePricing {
			if lines[i].ID == lp.OrderLineID {
				lines[i].UnitPriceCalc = lp.UnitPrice
				lines[i].TotalCalc = lp.LineTotal
			}
		}
	}
	s.lines[order.ID] = lines

	order.Status = domain.OrderStatusConfirmed
	order.SaleID = sale.ID
	order.ConfirmedAt = &now
	order.ConfirmedBy = plan.ConfirmedBy
	order.Subtotal = plan.Totals.Subtotal
	order.Discount = plan.Totals.Discount
	order.DeliveryFee = plan.Totals.DeliveryFee
	order.Total = plan.Totals.Total
	if order.CompanyID == nil {
		companyID := plan.CompanyID
		order.CompanyID = &companyID
	}
	s.orders[order.ID] = order

	return &domain.PostingReceipt{
		Sale:           sale,
		ParentLines:    len(plan.ParentLines),
		ComponentLines: len(plan.ComponentLines),
	}, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(strings.TrimSpace(user.Username))
	if key == "" {
		return fmt.Errorf("%w: empty username", store.ErrValidation)
	}
	if _, exists := s.users[key]; exists {
		return fmt.Errorf("%w: user %s", store.ErrConflict, key)
	}
	s.users[key] = user
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]domain.UserAccount, 0, len(s.users))
	for _, u := range s.users {
		result = append(result, u)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Username < result[j].Username
	})
	return result, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(strings.TrimSpace(username))
	u, ok := s.users[key]
	if !ok {
		return fmt.Errorf("%w: user %s", store.ErrNotFound, key)
	}
	u.Password = password
	s.users[key] = u
	return nil
}

func (s *Store) Close() error { return nil }

// Inspection helpers for tests.

func (s *Store) SaleByID(id string) (domain.Sale, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sale, ok := s.sales[id]
	return sale, ok
}

func (s *Store) SaleLinesFor(saleID string) []domain.SaleLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	lines := s.saleLines[saleID]
	out := make([]domain.SaleLine, len(lines))
	copy(out, lines)
	return out
}

func (s *Store) Movements() []domain.StockMovement {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.StockMovement, len(s.movements))
	copy(out, s.movements)
	return out
}
