package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderStatusOpen      = "OPEN"
	OrderStatusConfirmed = "CONFIRMED"
)

const (
	OrderChannelOnline = "ONLINE"
	OrderChannelPOS    = "EPDV"
)

// MovementKindSale marks a stock movement originating from a posted sale.
const MovementKindSale = "V"

// Classification is a product's sale behavior. Every product is exactly one
// of these; the combo and formula catalog flags are mutually exclusive.
type Classification int

const (
	ClassSimple Classification = iota
	ClassCombo
	ClassFormula
)

func (c Classification) String() string {
	switch c {
	case ClassCombo:
		return "combo"
	case ClassFormula:
		return "formula"
	default:
		return "simple"
	}
}

type Product struct {
	ID               string          `json:"id"`
	CompanyID        int             `json:"company_id"`
	Code             int             `json:"code"`
	Description      string          `json:"description"`
	Unit             string          `json:"unit"`
	GroupCode        int             `json:"group_code"`
	Price            decimal.Decimal `json:"price"`
	MinPrice         decimal.Decimal `json:"min_price"`
	Cost             decimal.Decimal `json:"cost"`
	Active           bool            `json:"active"`
	ProductActive    bool            `json:"product_active"`
	AvailableForSale bool            `json:"available_for_sale"`
	Deleted          bool            `json:"deleted"`
	IsCombo          bool            `json:"is_combo"`
	IsFormula        bool            `json:"is_formula"`
}

// Classification resolves the product's sale behavior from its catalog flags.
func (p Product) Classification() (Classification, error) {
	if p.IsCombo && p.IsFormula {
		return ClassSimple, fmt.Errorf("product %d is flagged as both combo and formula", p.Code)
	}
	if p.IsCombo {
		return ClassCombo, nil
	}
	if p.IsFormula {
		return ClassFormula, nil
	}
	return ClassSimple, nil
}

// Sellable reports whether the product may appear on a posted sale.
func (p Product) Sellable() bool {
	return p.Active && p.ProductActive && p.AvailableForSale && !p.Deleted && p.Description != ""
}

type PendingOrder struct {
	ID          string          `json:"id"`
	CompanyID   *int            `json:"company_id,omitempty"`
	CustomerID  string          `json:"customer_id,omitempty"`
	Channel     string          `json:"channel"`
	Status      string          `json:"status"`
	PlacedAt    time.Time       `json:"placed_at"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Discount    decimal.Decimal `json:"discount"`
	DeliveryFee decimal.Decimal `json:"delivery_fee"`
	Total       decimal.Decimal `json:"total"`
	Note        string          `json:"note,omitempty"`
	SaleID      string          `json:"sale_id,omitempty"`
	ConfirmedAt *time.Time      `json:"confirmed_at,omitempty"`
	ConfirmedBy string          `json:"confirmed_by,omitempty"`
	ItemsCount  int             `json:"items_count,omitempty"`
}

type OrderLine struct {
	ID            string          `json:"id"`
	OrderID       string          `json:"order_id"`
	ProductID     string          `json:"product_id"`
	Quantity      decimal.Decimal `json:"quantity"`
	UnitPriceCalc decimal.Decimal `json:"unit_price_calc"`
	TotalCalc     decimal.Decimal `json:"total_calc"`
	Note          string          `json:"note,omitempty"`
	IsCombo       bool            `json:"is_combo"`
}

type ComboSelection struct {
	ID              string          `json:"id"`
	OrderLineID     string          `json:"order_line_id"`
	GroupCode       int             `json:"group_code"`
	ChosenProductID string          `json:"chosen_product_id"`
	Quantity        decimal.Decimal `json:"quantity"`
}

// FormulaLine is one raw-material requirement of a formula product's recipe.
// RawMaterialID is the preferred reference; RawMaterialCode is the numeric
// fallback kept for recipes written before product ids existed.
type FormulaLine struct {
	ID              string
	CompanyID       int
	ParentProductID string
	RawMaterialID   string
	RawMaterialCode int
	QtyPerUnit      decimal.Decimal
}

type Sale struct {
	ID              string          `json:"id"`
	CompanyID       int             `json:"company_id"`
	Number          int64           `json:"number"`
	ActorCode       string          `json:"actor_code"`
	IssuedAt        time.Time       `json:"issued_at"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Total           decimal.Decimal `json:"total"`
	DiscountValue   decimal.Decimal `json:"discount_value"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	Note            string          `json:"note,omitempty"`
	CustomerID      string          `json:"customer_id,omitempty"`
}

type SaleLine struct {
	SaleID      string          `json:"sale_id"`
	CompanyID   int             `json:"company_id"`
	SaleNumber  int64           `json:"sale_number"`
	ProductID   string          `json:"product_id"`
	ProductCode int             `json:"product_code"`
	Description string          `json:"description"`
	Unit        string          `json:"unit,omitempty"`
	GroupCode   int             `json:"group_code,omitempty"`
	MinPrice    decimal.Decimal `json:"min_price"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    decimal.Decimal `json:"quantity"`
	Cost        decimal.Decimal `json:"cost"`
	IssuedAt    time.Time       `json:"issued_at"`
	IsComponent bool            `json:"is_component"`
}

type StockMovement struct {
	CompanyID      int             `json:"company_id"`
	DocumentNumber int64           `json:"document_number"`
	Kind           string          `json:"kind"`
	ProductCode    int             `json:"product_code"`
	Quantity       decimal.Decimal `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	Value          decimal.Decimal `json:"value"`
	Cost           decimal.Decimal `json:"cost"`
	ActorCode      string          `json:"actor_code"`
	Note           string          `json:"note,omitempty"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

type Totals struct {
	Subtotal    decimal.Decimal `json:"subtotal"`
	Discount    decimal.Decimal `json:"discount"`
	DeliveryFee decimal.Decimal `json:"delivery_fee"`
	Total       decimal.Decimal `json:"total"`
}

// PostingPlan is a fully validated, in-memory description of everything the
// posting transaction writes. Building one performs no store mutation.
type PostingPlan struct {
	Order          PendingOrder
	CompanyID      int
	ActorCode      string
	ConfirmedBy    string
	Totals         Totals
	LinePricing    []LinePricing
	ParentLines    []PlanLine
	ComponentLines []PlanLine
}

// LinePricing carries the recomputed values written back onto a pending
// order line while posting.
type LinePricing struct {
	OrderLineID string
	UnitPrice   decimal.Decimal
	LineTotal   decimal.Decimal
}

type PlanLine struct {
	Product   Product
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
}

type PostingReceipt struct {
	Sale           Sale
	ParentLines    int
	ComponentLines int
}

type InsertedLines struct {
	ParentLines    int `json:"parent_lines"`
	ComponentLines int `json:"component_lines"`
}

type ConfirmationResult struct {
	OrderID       string        `json:"order_id"`
	Status        string        `json:"status"`
	SaleID        string        `json:"sale_id"`
	SaleNumber    int64         `json:"sale_number"`
	Totals        Totals        `json:"totals"`
	InsertedLines InsertedLines `json:"inserted_lines"`
}

type PlaceOrderRequest struct {
	CompanyID   *int             `json:"company_id,omitempty"`
	CustomerID  string           `json:"customer_id,omitempty"`
	Channel     string           `json:"channel,omitempty"`
	Note        string           `json:"note,omitempty"`
	Discount    decimal.Decimal  `json:"discount"`
	DeliveryFee decimal.Decimal  `json:"delivery_fee"`
	Items       []PlaceOrderItem `json:"items"`
}

type PlaceOrderItem struct {
	ProductID string             `json:"product_id"`
	Quantity  decimal.Decimal    `json:"quantity"`
	Note      string             `json:"note,omitempty"`
	Choices   []PlaceOrderChoice `json:"choices,omitempty"`
}

type PlaceOrderChoice struct {
	ProductID string          `json:"product_id"`
	GroupCode int             `json:"group_code"`
	Quantity  decimal.Decimal `json:"quantity"`
}

type OrderDetails struct {
	Order PendingOrder       `json:"order"`
	Lines []OrderLineDetails `json:"lines"`
}

type OrderLineDetails struct {
	Line        OrderLine            `json:"line"`
	ProductCode int                  `json:"product_code,omitempty"`
	Description string               `json:"description,omitempty"`
	Choices     []ComboChoiceDetails `json:"choices,omitempty"`
}

type ComboChoiceDetails struct {
	Selection   ComboSelection `json:"selection"`
	ProductCode int            `json:"product_code,omitempty"`
	Description string         `json:"description,omitempty"`
}

type MenuItem struct {
	ProductID   string          `json:"product_id"`
	Code        int             `json:"code"`
	Description string          `json:"description"`
	Unit        string          `json:"unit,omitempty"`
	GroupCode   int             `json:"group_code,omitempty"`
	Price       decimal.Decimal `json:"price"`
	IsCombo     bool            `json:"is_combo"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type CreateAccountRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type Actor struct {
	Username string
	Role     string
}

type UserAccount struct {
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
