package service

import (
	"context"
	"errors"
	"testing"

	"vendapos/backend/internal/domain"
	"vendapos/backend/internal/store"
	"vendapos/backend/internal/store/memory"
)

func TestPlaceOrderComputesStagedTotals(t *testing.T) {
	svc, mem := newTestService(t)
	burger := mem.AddProduct(sellable(1, 101, "12.50"))
	fries := mem.AddProduct(sellable(1, 102, "5.00"))

	order, err := svc.PlaceOrder(context.Background(), "", domain.PlaceOrderRequest{
		Discount:    dec("2.50"),
		DeliveryFee: dec("4.00"),
		Items: []domain.PlaceOrderItem{
			{ProductID: burger.ID, Quantity: dec("2")},
			{ProductID: fries.ID, Quantity: dec("1")},
		},
	})
	if err != nil {
		t.Fatalf("place order failed: %v", err)
	}

	if !order.Subtotal.Equal(dec("30.00")) {
		t.Fatalf("subtotal = %s, want 30.00", order.Subtotal)
	}
	if !order.Total.Equal(dec("31.50")) {
		t.Fatalf("total = %s, want 31.50", order.Total)
	}
	if order.Status != domain.OrderStatusOpen {
		t.Fatalf("status = %s, want OPEN", order.Status)
	}
	if order.ItemsCount != 2 {
		t.Fatalf("items count = %d, want 2", order.ItemsCount)
	}
}

func TestPlaceOrderRejectsEmptyAndNegative(t *testing.T) {
	svc, mem := newTestService(t)
	p := mem.AddProduct(sellable(1, 101, "5.00"))

	if _, err := svc.PlaceOrder(context.Background(), "", domain.PlaceOrderRequest{}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("empty order: expected validation error, got %v", err)
	}

	_, err := svc.PlaceOrder(context.Background(), "", domain.PlaceOrderRequest{
		Discount: dec("-1"),
		Items:    []domain.PlaceOrderItem{{ProductID: p.ID, Quantity: dec("1")}},
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("negative discount: expected validation error, got %v", err)
	}

	_, err = svc.PlaceOrder(context.Background(), "", domain.PlaceOrderRequest{
		Items: []domain.PlaceOrderItem{{ProductID: p.ID, Quantity: dec("0")}},
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("zero quantity: expected validation error, got %v", err)
	}
}

func TestPlaceOrderEnforcesComboChoiceAgreement(t *testing.T) {
	svc, mem := newTestService(t)
	combo := sellable(1, 200, "30.00")
	combo.IsCombo = true
	comboProduct := mem.AddProduct(combo)
	plain := mem.AddProduct(sellable(1, 101, "5.00"))

	_, err := svc.PlaceOrder(context.Background(), "", domain.PlaceOrderRequest{
		Items: []domain.PlaceOrderItem{{ProductID: comboProduct.ID, Quantity: dec("1")}},
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("combo without choices: expected validation error, got %v", err)
	}

	_, err = svc.PlaceOrder(context.Background(), "", domain.PlaceOrderRequest{
		Items: []domain.PlaceOrderItem{{
			ProductID: plain.ID,
			Quantity:  dec("1"),
			Choices:   []domain.PlaceOrderChoice{{ProductID: plain.ID, GroupCode: 1, Quantity: dec("1")}},
		}},
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("choices on non-combo: expected validation error, got %v", err)
	}
}

func TestPlacedComboOrderConfirmsEndToEnd(t *testing.T) {
	svc, mem := newTestService(t)
	combo := sellable(1, 200, "30.00")
	combo.IsCombo = true
	comboProduct := mem.AddProduct(combo)
	side := mem.AddProduct(sellable(1, 201, "6.00"))

	placed, err := svc.PlaceOrder(context.Background(), "", domain.PlaceOrderRequest{
		Items: []domain.PlaceOrderItem{{
			ProductID: comboProduct.ID,
			Quantity:  dec("1"),
			Choices:   []domain.PlaceOrderChoice{{ProductID: side.ID, GroupCode: 1, Quantity: dec("2")}},
		}},
	})
	if err != nil {
		t.Fatalf("place order failed: %v", err)
	}

	result, err := svc.Confirm(adminCtx(), "", placed.ID)
	if err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if result.InsertedLines.ParentLines != 1 || result.InsertedLines.ComponentLines != 1 {
		t.Fatalf("inserted lines = %+v", result.InsertedLines)
	}
}

func TestListOrdersFiltersByStatus(t *testing.T) {
	svc, mem := newTestService(t)
	p := mem.AddProduct(sellable(1, 101, "5.00"))

	open := mem.AddOrder(domain.PendingOrder{}, []domain.OrderLine{{ProductID: p.ID, Quantity: dec("1")}}, nil)
	toConfirm := mem.AddOrder(domain.PendingOrder{}, []domain.OrderLine{{ProductID: p.ID, Quantity: dec("1")}}, nil)
	if _, err := svc.Confirm(adminCtx(), "", toConfirm.ID); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}

	openOrders, err := svc.ListOrders(context.Background(), "", "open", 0, 0)
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	if len(openOrders) != 1 || openOrders[0].ID != open.ID {
		t.Fatalf("open orders = %+v", openOrders)
	}

	all, err := svc.ListOrders(context.Background(), "", "ALL", 0, 0)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("all orders = %d, want 2", len(all))
	}
}

func TestGetOrderReturnsLinesAndChoices(t *testing.T) {
	svc, mem := newTestService(t)
	combo := sellable(1, 200, "30.00")
	combo.IsCombo = true
	comboProduct := mem.AddProduct(combo)
	side := mem.AddProduct(sellable(1, 201, "6.00"))

	lineID := store.NewID()
	order := mem.AddOrder(domain.PendingOrder{}, []domain.OrderLine{
		{ID: lineID, ProductID: comboProduct.ID, Quantity: dec("1"), IsCombo: true},
	}, []domain.ComboSelection{
		{OrderLineID: lineID, GroupCode: 1, ChosenProductID: side.ID, Quantity: dec("1")},
	})

	details, err := svc.GetOrder(context.Background(), "", order.ID)
	if err != nil {
		t.Fatalf("get order failed: %v", err)
	}
	if len(details.Lines) != 1 {
		t.Fatalf("lines = %d, want 1", len(details.Lines))
	}
	line := details.Lines[0]
	if line.ProductCode != 200 {
		t.Fatalf("line product code = %d", line.ProductCode)
	}
	if len(line.Choices) != 1 || line.Choices[0].ProductCode != 201 {
		t.Fatalf("choices = %+v", line.Choices)
	}

	if _, err := svc.GetOrder(context.Background(), "", "NO-SUCH"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMenuListsOnlySellableProducts(t *testing.T) {
	svc, mem := newTestService(t)
	mem.AddProduct(sellable(1, 101, "5.00"))
	hidden := sellable(1, 102, "5.00")
	hidden.Deleted = true
	mem.AddProduct(hidden)
	otherCompany := mem.AddProduct(sellable(2, 103, "5.00"))
	_ = otherCompany

	items, err := svc.Menu(context.Background(), "", 1)
	if err != nil {
		t.Fatalf("menu failed: %v", err)
	}
	if len(items) != 1 || items[0].Code != 101 {
		t.Fatalf("menu items = %+v", items)
	}
}

func TestSeededCatalogIsSellable(t *testing.T) {
	mem := memory.NewSeeded()

	products, err := mem.ListSellableProducts(context.Background(), 1)
	if err != nil {
		t.Fatalf("seeded catalog: %v", err)
	}
	if len(products) == 0 {
		t.Fatalf("seeded store has no sellable products")
	}
}
