package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"vendapos/backend/internal/cache"
	"vendapos/backend/internal/domain"
	"vendapos/backend/internal/money"
	"vendapos/backend/internal/store"
	"vendapos/backend/internal/tenantdb"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	tenants          tenantdb.Resolver
	menuCache        cache.MenuCache
	logger           *zap.Logger
	defaultCompanyID int
	menuTTL          time.Duration
}

func New(tenants tenantdb.Resolver, menuCache cache.MenuCache, logger *zap.Logger, defaultCompanyID int, menuTTL time.Duration) *Service {
	if defaultCompanyID <= 0 {
		defaultCompanyID = 1
	}
	if menuTTL <= 0 {
		menuTTL = 5 * time.Minute
	}
	if menuCache == nil {
		menuCache = cache.NoopMenuCache{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		tenants:          tenants,
		menuCache:        menuCache,
		logger:           logger,
		defaultCompanyID: defaultCompanyID,
		menuTTL:          menuTTL,
	}
}

func (s *Service) repo(ctx context.Context, tenant string) (store.Repository, error) {
	return s.tenants.Resolve(ctx, tenant)
}

// PlaceOrder validates an intake request and records an OPEN order. The
// totals written here are provisional; confirmation recomputes everything
// from the catalog before posting.
func (s *Service) PlaceOrder(ctx context.Context, tenant string, req domain.PlaceOrderRequest) (domain.PendingOrder, error) {
	repo, err := s.repo(ctx, tenant)
	if err != nil {
		return domain.PendingOrder{}, err
	}

	if len(req.Items) == 0 {
		return domain.PendingOrder{}, fmt.Errorf("%w: order has no items", store.ErrValidation)
	}
	if req.Discount.IsNegative() || req.DeliveryFee.IsNegative() {
		return domain.PendingOrder{}, fmt.Errorf("%w: discount and delivery fee must not be negative", store.ErrValidation)
	}
	if req.CompanyID != nil && *req.CompanyID <= 0 {
		return domain.PendingOrder{}, fmt.Errorf("%w: invalid company id", store.ErrValidation)
	}

	productIDs := make([]string, 0, len(req.Items))
	for _, item := range req.Items {
		if item.ProductID == "" {
			return domain.PendingOrder{}, fmt.Errorf("%w: item without product id", store.ErrValidation)
		}
		if !item.Quantity.IsPositive() {
			return domain.PendingOrder{}, fmt.Errorf("%w: item quantity must be positive", store.ErrValidation)
		}
		productIDs = append(productIDs, item.ProductID)
		for _, choice := range item.Choices {
			if choice.ProductID == "" {
				return domain.PendingOrder{}, fmt.Errorf("%w: combo choice without product id", store.ErrValidation)
			}
			if !choice.Quantity.IsPositive() {
				return domain.PendingOrder{}, fmt.Errorf("%w: combo choice quantity must be positive", store.ErrValidation)
			}
			productIDs = append(productIDs, choice.ProductID)
		}
	}

	scope := 0
	if req.CompanyID != nil {
		scope = *req.CompanyID
	}
	products, err := repo.FindProducts(ctx, uniqueStrings(productIDs), scope)
	if err != nil {
		return domain.PendingOrder{}, err
	}

	subtotal := decimal.Zero
	lines := make([]domain.OrderLine, 0, len(req.Items))
	selections := make([]domain.ComboSelection, 0, 4)
	for _, item := range req.Items {
		product, ok := products[item.ProductID]
		if !ok || !product.Sellable() {
			return domain.PendingOrder{}, fmt.Errorf("%w: product %s is not available", store.ErrValidation, item.ProductID)
		}
		if product.IsCombo && len(item.Choices) == 0 {
			return domain.PendingOrder{}, fmt.Errorf("%w: combo product %d requires at least one choice", store.ErrValidation, product.Code)
		}
		if !product.IsCombo && len(item.Choices) > 0 {
			return domain.PendingOrder{}, fmt.Errorf("%w: product %d is not a combo but has choices", store.ErrValidation, product.Code)
		}

		qty := money.RoundIntakeQty(item.Quantity)
		line := domain.OrderLine{
			ID:        store.NewID(),
			ProductID: product.ID,
			Quantity:  qty,
			Note:      strings.TrimSpace(item.Note),
			IsCombo:   product.IsCombo,
		}
		subtotal = subtotal.Add(money.Round(product.Price).Mul(qty))

		for _, choice := range item.Choices {
			chosen, ok := products[choice.ProductID]
			if !ok || !chosen.Sellable() {
				return domain.PendingOrder{}, fmt.Errorf("%w: combo choice %s is not available", store.ErrValidation, choice.ProductID)
			}
			selections = append(selections, domain.ComboSelection{
				OrderLineID:     line.ID,
				GroupCode:       choice.GroupCode,
				ChosenProductID: chosen.ID,
				Quantity:        money.RoundIntakeQty(choice.Quantity),
			})
		}
		lines = append(lines, line)
	}

	subtotal = money.Round(subtotal)
	discount := money.Round(req.Discount)
	fee := money.Round(req.DeliveryFee)
	total := money.Round(subtotal.Sub(discount).Add(fee))
	if total.IsNegative() {
		return domain.PendingOrder{}, fmt.Errorf("%w: order total would be negative", store.ErrValidation)
	}

	order := domain.PendingOrder{
		CompanyID:   req.CompanyID,
		CustomerID:  strings.TrimSpace(req.CustomerID),
		Channel:     normalizeChannel(req.Channel),
		Status:      domain.OrderStatusOpen,
		PlacedAt:    time.Now().UTC(),
		Subtotal:    subtotal,
		Discount:    discount,
		DeliveryFee: fee,
		Total:       total,
		Note:        strings.TrimSpace(req.Note),
	}

	created, err := repo.CreatePendingOrder(ctx, order, lines, selections)
	if err != nil {
		return domain.PendingOrder{}, err
	}
	s.logger.Info("order placed",
		zap.String("tenant", tenant),
		zap.String("order_id", created.ID),
		zap.Int("items", len(lines)),
		zap.String("total", total.StringFixed(2)))
	return *created, nil
}

func (s *Service) ListOrders(ctx context.Context, tenant string, status string, companyID int, limit int) ([]domain.PendingOrder, error) {
	repo, err := s.repo(ctx, tenant)
	if err != nil {
		return nil, err
	}
	status = normalizeStatus(status)
	return repo.ListPendingOrders(ctx, status, companyID, limit)
}

func (s *Service) GetOrder(ctx context.Context, tenant string, orderID string) (domain.OrderDetails, error) {
	repo, err := s.repo(ctx, tenant)
	if err != nil {
		return domain.OrderDetails{}, err
	}

	order, err := repo.GetPendingOrder(ctx, orderID)
	if err != nil {
		return domain.OrderDetails{}, err
	}
	lines, err := repo.ListOrderLines(ctx, orderID)
	if err != nil {
		return domain.OrderDetails{}, err
	}

	productIDs := make([]string, 0, len(lines))
	selectionsByLine := make(map[string][]domain.ComboSelection, len(lines))
	for _, line := range lines {
		productIDs = append(productIDs, line.ProductID)
		if !line.IsCombo {
			continue
		}
		sels, err := repo.ListComboSelections(ctx, line.ID)
		if err != nil {
			return domain.OrderDetails{}, err
		}
		selectionsByLine[line.ID] = sels
		for _, sel := range sels {
			productIDs = append(productIDs, sel.ChosenProductID)
		}
	}

	products, err := repo.FindProducts(ctx, uniqueStrings(productIDs), 0)
	if err != nil {
		return domain.OrderDetails{}, err
	}

	details := domain.OrderDetails{Order: *order, Lines: make([]domain.OrderLineDetails, 0, len(lines))}
	for _, line := range lines {
		ld := domain.OrderLineDetails{Line: line}
		if p, ok := products[line.ProductID]; ok {
			ld.ProductCode = p.Code
			ld.Description = p.Description
		}
		for _, sel := range selectionsByLine[line.ID] {
			cd := domain.ComboChoiceDetails{Selection: sel}
			if p, ok := products[sel.ChosenProductID]; ok {
				cd.ProductCode = p.Code
				cd.Description = p.Description
			}
			ld.Choices = append(ld.Choices, cd)
		}
		details.Lines = append(details.Lines, ld)
	}
	return details, nil
}

func (s *Service) Menu(ctx context.Context, tenant string, companyID int) ([]domain.MenuItem, error) {
	repo, err := s.repo(ctx, tenant)
	if err != nil {
		return nil, err
	}
	if companyID <= 0 {
		companyID = s.defaultCompanyID
	}

	cacheKey := fmt.Sprintf("menu:%s:%d", tenant, companyID)
	if items, ok, err := s.menuCache.Get(ctx, cacheKey); err == nil && ok {
		return items, nil
	} else if err != nil {
		s.logger.Warn("menu cache read failed", zap.String("tenant", tenant), zap.Error(err))
	}

	products, err := repo.ListSellableProducts(ctx, companyID)
	if err != nil {
		return nil, err
	}
	items := make([]domain.MenuItem, 0, len(products))
	for _, p := range products {
		items = append(items, domain.MenuItem{
			ProductID:   p.ID,
			Code:        p.Code,
			Description: p.Description,
			Unit:        p.Unit,
			GroupCode:   p.GroupCode,
			Price:       money.Round(p.Price),
			IsCombo:     p.IsCombo,
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Code < items[j].Code })

	if err := s.menuCache.Set(ctx, cacheKey, items, s.menuTTL); err != nil {
		s.logger.Warn("menu cache write failed", zap.String("tenant", tenant), zap.Error(err))
	}
	return items, nil
}

func normalizeStatus(status string) string {
	status = strings.ToUpper(strings.TrimSpace(status))
	if status == "ALL" {
		return ""
	}
	return status
}

func normalizeChannel(channel string) string {
	channel = strings.ToUpper(strings.TrimSpace(channel))
	if channel == "" {
		return domain.OrderChannelOnline
	}
	return channel
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
