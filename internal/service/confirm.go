package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"vendapos/backend/internal/domain"
	"vendapos/backend/internal/money"
	"vendapos/backend/internal/store"
)

// postingAttempts bounds the retries for sale-number and serialization
// contention. Validation and conflict failures are never retried.
const postingAttempts = 3

// Confirm turns an OPEN order into a posted sale: it revalidates the order
// against the catalog, explodes combos and formulas into component lines,
// recomputes every monetary value, and posts the whole result in one
// transaction that also flips the order to CONFIRMED.
func (s *Service) Confirm(ctx context.Context, tenant string, orderID string) (domain.ConfirmationResult, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Username == "" {
		return domain.ConfirmationResult{}, fmt.Errorf("%w: missing actor", store.ErrValidation)
	}
	repo, err := s.repo(ctx, tenant)
	if err != nil {
		return domain.ConfirmationResult{}, err
	}

	var lastErr error
	for attempt := 1; attempt <= postingAttempts; attempt++ {
		result, err := s.confirmOnce(ctx, repo, orderID, actor)
		if err == nil {
			s.logger.Info("order confirmed",
				zap.String("tenant", tenant),
				zap.String("order_id", orderID),
				zap.String("sale_id", result.SaleID),
				zap.Int64("sale_number", result.SaleNumber),
				zap.Int("parent_lines", result.InsertedLines.ParentLines),
				zap.Int("component_lines", result.InsertedLines.ComponentLines))
			return result, nil
		}
		if !errors.Is(err, store.ErrContention) {
			return domain.ConfirmationResult{}, err
		}
		lastErr = err
		s.logger.Warn("sale posting contention, retrying",
			zap.String("tenant", tenant),
			zap.String("order_id", orderID),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}
	return domain.ConfirmationResult{}, lastErr
}

func (s *Service) confirmOnce(ctx context.Context, repo store.Repository, orderID string, actor domain.Actor) (domain.ConfirmationResult, error) {
	order, err := repo.GetPendingOrder(ctx, orderID)
	if err != nil {
		return domain.ConfirmationResult{}, err
	}
	if order.Status != domain.OrderStatusOpen {
		return domain.ConfirmationResult{}, fmt.Errorf("%w: order %s is %s", store.ErrConflict, order.ID, order.Status)
	}

	lines, err := repo.ListOrderLines(ctx, orderID)
	if err != nil {
		return domain.ConfirmationResult{}, err
	}
	if len(lines) == 0 {
		return domain.ConfirmationResult{}, fmt.Errorf("%w: order %s has no lines", store.ErrValidation, order.ID)
	}

	selectionsByLine := make(map[string][]domain.ComboSelection, len(lines))
	productIDs := make([]string, 0, len(lines))
	for _, line := range lines {
		if !line.Quantity.IsPositive() {
			return domain.ConfirmationResult{}, fmt.Errorf("%w: line %s has non-positive quantity", store.ErrValidation, line.ID)
		}
		productIDs = append(productIDs, line.ProductID)
		if !line.IsCombo {
			continue
		}
		sels, err := repo.ListComboSelections(ctx, line.ID)
		if err != nil {
			return domain.ConfirmationResult{}, err
		}
		if len(sels) == 0 {
			return domain.ConfirmationResult{}, fmt.Errorf("%w: combo line %s has no selections", store.ErrValidation, line.ID)
		}
		selectionsByLine[line.ID] = sels
		for _, sel := range sels {
			productIDs = append(productIDs, sel.ChosenProductID)
		}
	}

	scope := 0
	if order.CompanyID != nil {
		scope = *order.CompanyID
	}
	products, err := repo.FindProducts(ctx, uniqueStrings(productIDs), scope)
	if err != nil {
		return domain.ConfirmationResult{}, err
	}

	companyID, err := s.resolveCompany(ctx, repo, order, products)
	if err != nil {
		return domain.ConfirmationResult{}, err
	}

	plan := domain.PostingPlan{
		Order:       *order,
		CompanyID:   companyID,
		ActorCode:   actorCode(actor.Username),
		ConfirmedBy: actor.Username,
	}

	subtotal := decimal.Zero
	var formulaLines []struct {
		line    domain.OrderLine
		product domain.Product
	}
	for _, line := range lines {
		product, ok := products[line.ProductID]
		if !ok {
			return domain.ConfirmationResult{}, fmt.Errorf("%w: product %s not found for line %s", store.ErrValidation, line.ProductID, line.ID)
		}
		if !product.Sellable() {
			return domain.ConfirmationResult{}, fmt.Errorf("%w: product %d is not available for sale", store.ErrValidation, product.Code)
		}
		cls, err := product.Classification()
		if err != nil {
			return domain.ConfirmationResult{}, fmt.Errorf("%w: %v", store.ErrValidation, err)
		}
		if line.IsCombo && cls != domain.ClassCombo {
			return domain.ConfirmationResult{}, fmt.Errorf("%w: line %s is marked combo but product %d is not", store.ErrValidation, line.ID, product.Code)
		}
		if !line.IsCombo && cls == domain.ClassCombo {
			return domain.ConfirmationResult{}, fmt.Errorf("%w: product %d is a combo but line %s carries no combo flag", store.ErrValidation, product.Code, line.ID)
		}

		unitPrice := money.Round(product.Price)
		lineTotal := money.Round(unitPrice.Mul(line.Quantity))
		subtotal = subtotal.Add(lineTotal)

		plan.LinePricing = append(plan.LinePricing, domain.LinePricing{
			OrderLineID: line.ID,
			UnitPrice:   unitPrice,
			LineTotal:   lineTotal,
		})
		plan.ParentLines = append(plan.ParentLines, domain.PlanLine{
			Product:   product,
			Quantity:  line.Quantity,
			UnitPrice: unitPrice,
			LineTotal: lineTotal,
		})

		switch cls {
		case domain.ClassCombo:
			components, err := explodeCombo(line, selectionsByLine[line.ID], products)
			if err != nil {
				return domain.ConfirmationResult{}, err
			}
			plan.ComponentLines = append(plan.ComponentLines, components...)
		case domain.ClassFormula:
			formulaLines = append(formulaLines, struct {
				line    domain.OrderLine
				product domain.Product
			}{line, product})
		}
	}

	if len(formulaLines) > 0 {
		parentIDs := make([]string, 0, len(formulaLines))
		for _, fl := range formulaLines {
			parentIDs = append(parentIDs, fl.product.ID)
		}
		recipes, err := repo.FindFormulaLines(ctx, uniqueStrings(parentIDs), companyID)
		if err != nil {
			return domain.ConfirmationResult{}, err
		}
		components, err := s.explodeFormulas(ctx, repo, companyID, formulaLines, recipes)
		if err != nil {
			return domain.ConfirmationResult{}, err
		}
		plan.ComponentLines = append(plan.ComponentLines, components...)
	}

	plan.Totals, err = computeTotals(subtotal, order.Discount, order.DeliveryFee)
	if err != nil {
		return domain.ConfirmationResult{}, err
	}

	receipt, err := repo.PostSale(ctx, plan)
	if err != nil {
		return domain.ConfirmationResult{}, err
	}
	return domain.ConfirmationResult{
		OrderID:    order.ID,
		Status:     domain.OrderStatusConfirmed,
		SaleID:     receipt.Sale.ID,
		SaleNumber: receipt.Sale.Number,
		Totals:     plan.Totals,
		InsertedLines: domain.InsertedLines{
			ParentLines:    receipt.ParentLines,
			ComponentLines: receipt.ComponentLines,
		},
	}, nil
}

// resolveCompany picks the company the sale posts under. Priority: the
// company pinned on the order, then the single company shared by every
// resolved product (combo choices included), then the head office, then
// the configured default.
func (s *Service) resolveCompany(ctx context.Context, repo store.Repository, order *domain.PendingOrder, products map[string]domain.Product) (int, error) {
	if order.CompanyID != nil {
		return *order.CompanyID, nil
	}

	companies := make(map[int]bool)
	for _, p := range products {
		if p.CompanyID > 0 {
			companies[p.CompanyID] = true
		}
	}
	if len(companies) == 1 {
		for id := range companies {
			return id, nil
		}
	}
	if len(companies) > 1 {
		return 0, fmt.Errorf("%w: order %s references products from %d different companies", store.ErrValidation, order.ID, len(companies))
	}

	headOffice, err := repo.HeadOfficeCompany(ctx)
	if err == nil {
		return headOffice, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return 0, err
	}
	return s.defaultCompanyID, nil
}

// explodeCombo turns one combo line's selections into zero-priced component
// lines. Selections of the same chosen product are summed before the line
// quantity multiplier is applied.
func explodeCombo(line domain.OrderLine, selections []domain.ComboSelection, products map[string]domain.Product) ([]domain.PlanLine, error) {
	aggregated := make(map[string]decimal.Decimal, len(selections))
	order := make([]string, 0, len(selections))
	for _, sel := range selections {
		if !sel.Quantity.IsPositive() {
			return nil, fmt.Errorf("%w: combo selection %s has non-positive quantity", store.ErrValidation, sel.ID)
		}
		if _, seen := aggregated[sel.ChosenProductID]; !seen {
			order = append(order, sel.ChosenProductID)
		}
		aggregated[sel.ChosenProductID] = aggregated[sel.ChosenProductID].Add(sel.Quantity)
	}

	components := make([]domain.PlanLine, 0, len(aggregated))
	for _, chosenID := range order {
		chosen, ok := products[chosenID]
		if !ok {
			return nil, fmt.Errorf("%w: combo choice %s not found", store.ErrValidation, chosenID)
		}
		if !chosen.Sellable() {
			return nil, fmt.Errorf("%w: combo choice %d is not available for sale", store.ErrValidation, chosen.Code)
		}
		qty := money.RoundQty(aggregated[chosenID].Mul(line.Quantity))
		components = append(components, domain.PlanLine{
			Product:   chosen,
			Quantity:  qty,
			UnitPrice: decimal.Zero,
			LineTotal: decimal.Zero,
		})
	}
	return components, nil
}

// materialKey identifies a raw material within one company. The id wins
// when present; older recipes reference materials by numeric code only.
type materialKey struct {
	id   string
	code int
}

func (s *Service) explodeFormulas(ctx context.Context, repo store.Repository, companyID int, formulaLines []struct {
	line    domain.OrderLine
	product domain.Product
}, recipes []domain.FormulaLine) ([]domain.PlanLine, error) {
	byParent := make(map[string][]domain.FormulaLine, len(formulaLines))
	for _, r := range recipes {
		byParent[r.ParentProductID] = append(byParent[r.ParentProductID], r)
	}

	aggregated := make(map[materialKey]decimal.Decimal)
	order := make([]materialKey, 0, len(recipes))
	for _, fl := range formulaLines {
		recipe := byParent[fl.product.ID]
		if len(recipe) == 0 {
			return nil, fmt.Errorf("%w: formula product %d has no recipe", store.ErrValidation, fl.product.Code)
		}
		for _, r := range recipe {
			if !r.QtyPerUnit.IsPositive() {
				return nil, fmt.Errorf("%w: recipe of product %d has a non-positive quantity", store.ErrValidation, fl.product.Code)
			}
			key := materialKey{id: r.RawMaterialID}
			if key.id == "" {
				key.code = r.RawMaterialCode
			}
			if key.id == "" && key.code == 0 {
				return nil, fmt.Errorf("%w: recipe of product %d references no raw material", store.ErrValidation, fl.product.Code)
			}
			qty := money.RoundQty(r.QtyPerUnit.Mul(fl.line.Quantity))
			if _, seen := aggregated[key]; !seen {
				order = append(order, key)
			}
			aggregated[key] = aggregated[key].Add(qty)
		}
	}

	ids := make([]string, 0, len(order))
	codes := make([]int, 0, len(order))
	for _, key := range order {
		if key.id != "" {
			ids = append(ids, key.id)
		} else {
			codes = append(codes, key.code)
		}
	}
	materials, err := repo.FindRawMaterials(ctx, companyID, ids, codes)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.Product, len(materials))
	byCode := make(map[int]domain.Product, len(materials))
	for _, m := range materials {
		byID[m.ID] = m
		if _, dup := byCode[m.Code]; !dup {
			byCode[m.Code] = m
		}
	}

	components := make([]domain.PlanLine, 0, len(order))
	for _, key := range order {
		var material domain.Product
		var found bool
		if key.id != "" {
			material, found = byID[key.id]
		} else {
			material, found = byCode[key.code]
		}
		if !found {
			label := key.id
			if label == "" {
				label = fmt.Sprintf("code %d", key.code)
			}
			return nil, fmt.Errorf("%w: raw material %s not found in company %d", store.ErrValidation, label, companyID)
		}
		components = append(components, domain.PlanLine{
			Product:   material,
			Quantity:  money.RoundQty(aggregated[key]),
			UnitPrice: decimal.Zero,
			LineTotal: decimal.Zero,
		})
	}
	return components, nil
}

func computeTotals(subtotal, discount, deliveryFee decimal.Decimal) (domain.Totals, error) {
	if discount.IsNegative() || deliveryFee.IsNegative() {
		return domain.Totals{}, fmt.Errorf("%w: discount and delivery fee must not be negative", store.ErrValidation)
	}
	totals := domain.Totals{
		Subtotal:    money.Round(subtotal),
		Discount:    money.Round(discount),
		DeliveryFee: money.Round(deliveryFee),
	}
	totals.Total = money.Round(totals.Subtotal.Sub(totals.Discount).Add(totals.DeliveryFee))
	if totals.Total.IsNegative() {
		return domain.Totals{}, fmt.Errorf("%w: order total would be negative", store.ErrValidation)
	}
	return totals, nil
}

func actorCode(username string) string {
	if len(username) > 10 {
		return username[:10]
	}
	return username
}
