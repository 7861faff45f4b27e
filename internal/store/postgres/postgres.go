// Package postgres implements the store against PostgreSQL through the
// database/sql interface of pgx.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"vendapos/backend/internal/domain"
	"vendapos/backend/internal/money"
	"vendapos/backend/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) GetPendingOrder(ctx context.Context, id string) (*domain.PendingOrder, error) {
	var order domain.PendingOrder
	var companyID sql.NullInt64
	var customerID, note, saleID, confirmedBy sql.NullString
	var confirmedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT o.id, o.company_id, o.customer_id, o.channel, o.status, o.placed_at,
		       o.subtotal, o.discount, o.delivery_fee, o.total,
		       o.note, o.sale_id, o.confirmed_at, o.confirmed_by,
		       (SELECT count(*) FROM pending_order_lines l WHERE l.order_id = o.id)
		FROM pending_orders o
		WHERE o.id = $1
	`, id).Scan(&order.ID, &companyID, &customerID, &order.Channel, &order.Status, &order.PlacedAt,
		&order.Subtotal, &order.Discount, &order.DeliveryFee, &order.Total,
		&note, &saleID, &confirmedAt, &confirmedBy, &order.ItemsCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: order %s", store.ErrNotFound, id)
		}
		return nil, err
	}
	if companyID.Valid {
		v := int(companyID.Int64)
		order.CompanyID = &v
	}
	order.CustomerID = customerID.String
	order.Note = note.String
	order.SaleID = saleID.String
	order.ConfirmedBy = confirmedBy.String
	if confirmedAt.Valid {
		t := confirmedAt.Time
		order.ConfirmedAt = &t
	}
	return &order, nil
}

func (s *Store) ListPendingOrders(ctx context.Context, status string, companyID int, limit int) ([]domain.PendingOrder, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `
		SELECT o.id, o.company_id, o.customer_id, o.channel, o.status, o.placed_at,
		       o.subtotal, o.discount, o.delivery_fee, o.total, o.note, o.sale_id,
		       (SELECT count(*) FROM pending_order_lines l WHERE l.order_id = o.id)
		FROM pending_orders o
		WHERE ($1 = '' OR o.status = $1)
		  AND ($2 = 0 OR o.company_id = $2)
		ORDER BY o.placed_at DESC
		LIMIT $3
	`
	rows, err := s.db.QueryContext(ctx, query, status, companyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.PendingOrder, 0, limit)
	for rows.Next() {
		var order domain.PendingOrder
		var cid sql.NullInt64
		var customerID, note, saleID sql.NullString
		if err := rows.Scan(&order.ID, &cid, &customerID, &order.Channel, &order.Status, &order.PlacedAt,
			&order.Subtotal, &order.Discount, &order.DeliveryFee, &order.Total, &note, &saleID,
			&order.ItemsCount); err != nil {
			return nil, err
		}
		if cid.Valid {
			v := int(cid.Int64)
			order.CompanyID = &v
		}
		order.CustomerID = customerID.String
		order.Note = note.String
		order.SaleID = saleID.String
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *Store) ListOrderLines(ctx context.Context, orderID string) ([]domain.OrderLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, product_id, quantity, unit_price_calc, total_calc, note, is_combo
		FROM pending_order_lines
		WHERE order_id = $1
		ORDER BY created_at
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.OrderLine, 0, 8)
	for rows.Next() {
		var line domain.OrderLine
		var note sql.NullString
		var unitPrice, total decimal.NullDecimal
		if err := rows.Scan(&line.ID, &line.OrderID, &line.ProductID, &line.Quantity,
			&unitPrice, &total, &note, &line.IsCombo); err != nil {
			return nil, err
		}
		line.UnitPriceCalc = unitPrice.Decimal
		line.TotalCalc = total.Decimal
		line.Note = note.String
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func (s *Store) ListComboSelections(ctx context.Context, orderLineID string) ([]domain.ComboSelection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_line_id, group_code, chosen_product_id, quantity
		FROM pending_order_combo_selections
		WHERE order_line_id = $1
		ORDER BY created_at
	`, orderLineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	selections := make([]domain.ComboSelection, 0, 4)
	for rows.Next() {
		var sel domain.ComboSelection
		if err := rows.Scan(&sel.ID, &sel.OrderLineID, &sel.GroupCode, &sel.ChosenProductID, &sel.Quantity); err != nil {
			return nil, err
		}
		selections = append(selections, sel)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return selections, nil
}

const productColumns = `
	id, company_id, code, description, unit, group_code, price, min_price, cost,
	active, product_active, available_for_sale, deleted, is_combo, is_formula
`

func scanProduct(rows *sql.Rows) (domain.Product, error) {
	var p domain.Product
	var unit sql.NullString
	var groupCode sql.NullInt64
	err := rows.Scan(&p.ID, &p.CompanyID, &p.Code, &p.Description, &unit, &groupCode,
		&p.Price, &p.MinPrice, &p.Cost,
		&p.Active, &p.ProductActive, &p.AvailableForSale, &p.Deleted, &p.IsCombo, &p.IsFormula)
	p.Unit = unit.String
	p.GroupCode = int(groupCode.Int64)
	return p, err
}

func (s *Store) FindProducts(ctx context.Context, ids []string, companyID int) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = ANY($1) AND ($2 = 0 OR company_id = $2)
	`, ids, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) FindRawMaterials(ctx context.Context, companyID int, ids []string, codes []int) ([]domain.Product, error) {
	if len(ids) == 0 && len(codes) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE company_id = $1 AND (id = ANY($2) OR code = ANY($3))
	`, companyID, ids, codes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	materials := make([]domain.Product, 0, len(ids)+len(codes))
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		materials = append(materials, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return materials, nil
}

func (s *Store) FindFormulaLines(ctx context.Context, parentIDs []string, companyID int) ([]domain.FormulaLine, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, company_id, parent_product_id, raw_material_id, raw_material_code, qty_per_unit
		FROM formula_lines
		WHERE parent_product_id = ANY($1) AND ($2 = 0 OR company_id = $2)
	`, parentIDs, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.FormulaLine, 0, len(parentIDs)*2)
	for rows.Next() {
		var fl domain.FormulaLine
		var rawID sql.NullString
		var rawCode sql.NullInt64
		if err := rows.Scan(&fl.ID, &fl.CompanyID, &fl.ParentProductID, &rawID, &rawCode, &fl.QtyPerUnit); err != nil {
			return nil, err
		}
		fl.RawMaterialID = rawID.String
		fl.RawMaterialCode = int(rawCode.Int64)
		lines = append(lines, fl)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func (s *Store) HeadOfficeCompany(ctx context.Context) (int, error) {
	var id int
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM companies WHERE head_office = true ORDER BY id LIMIT 1
	`).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("%w: head office company", store.ErrNotFound)
		}
		return 0, err
	}
	return id, nil
}

func (s *Store) ListSellableProducts(ctx context.Context, companyID int) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE ($1 = 0 OR company_id = $1)
		  AND active = true AND product_active = true AND available_for_sale = true
		  AND deleted = false AND description <> ''
		ORDER BY code
	`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) CreatePendingOrder(ctx context.Context, order domain.PendingOrder, lines []domain.OrderLine, selections []domain.ComboSelection) (*domain.PendingOrder, error) {
	if order.ID == "" {
		order.ID = store.NewID()
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

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO pending_orders
			(id, company_id, customer_id, channel, status, placed_at,
			 subtotal, discount, delivery_fee, total, note)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, order.ID, nullCompany(order.CompanyID), nullIfEmpty(order.CustomerID), order.Channel,
		order.Status, order.PlacedAt, order.Subtotal, order.Discount, order.DeliveryFee,
		order.Total, nullIfEmpty(order.Note))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: order %s", store.ErrConflict, order.ID)
		}
		return nil, err
	}

	for i := range lines {
		if lines[i].ID == "" {
			lines[i].ID = store.NewID()
		}
		lines[i].OrderID = order.ID
		_, err = tx.ExecContext(ctx, `
			INSERT INTO pending_order_lines
				(id, order_id, product_id, quantity, note, is_combo, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,now())
		`, lines[i].ID, order.ID, lines[i].ProductID, lines[i].Quantity,
			nullIfEmpty(lines[i].Note), lines[i].IsCombo)
		if err != nil {
			return nil, err
		}
	}

	for _, sel := range selections {
		if sel.ID == "" {
			sel.ID = store.NewID()
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO pending_order_combo_selections
				(id, order_line_id, group_code, chosen_product_id, quantity, created_at)
			VALUES ($1,$2,$3,$4,$5,now())
		`, sel.ID, sel.OrderLineID, sel.GroupCode, sel.ChosenProductID, sel.Quantity)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	order.ItemsCount = len(lines)
	created := order
	return &created, nil
}

func (s *Store) PostSale(ctx context.Context, plan domain.PostingPlan) (*domain.PostingReceipt, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	// The counter row is the serialization point for sale numbers within a
	// company: the upsert takes a row lock, so concurrent postings queue.
	var number int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO sale_counters (company_id, last_number)
		VALUES ($1, 1)
		ON CONFLICT (company_id)
		DO UPDATE SET last_number = sale_counters.last_number + 1
		RETURNING last_number
	`, plan.CompanyID).Scan(&number)
	if err != nil {
		return nil, txError(err)
	}

	now := time.Now().UTC()
	sale := domain.Sale{
		ID:              store.NewID(),
		CompanyID:       plan.CompanyID,
		Number:          number,
		ActorCode:       plan.ActorCode,
		IssuedAt:        now,
		Subtotal:        plan.Totals.Subtotal,
		Total:           plan.Totals.Total,
		DiscountValue:   plan.Totals.Discount,
		DiscountPercent: money.Percent(plan.Totals.Discount, plan.Totals.Subtotal),
		Note:            plan.Order.Note,
		CustomerID:      plan.Order.CustomerID,
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales
			(id, company_id, number, actor_code, issued_at,
			 subtotal, total, discount_value, discount_percent, note, customer_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, sale.ID, sale.CompanyID, sale.Number, sale.ActorCode, sale.IssuedAt,
		sale.Subtotal, sale.Total, sale.DiscountValue, sale.DiscountPercent,
		nullIfEmpty(sale.Note), nullIfEmpty(sale.CustomerID))
	if err != nil {
		return nil, txError(err)
	}

	insertLine := func(pl domain.PlanLine, component bool) error {
		minPrice := pl.Product.MinPrice
		if component {
			minPrice = decimal.Zero
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sale_lines
				(sale_id, company_id, sale_number, product_id, product_code,
				 description, unit, group_code, min_price, unit_price,
				 quantity, cost, issued_at, is_component)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		`, sale.ID, sale.CompanyID, sale.Number, pl.Product.ID, pl.Product.Code,
			pl.Product.Description, nullIfEmpty(pl.Product.Unit), pl.Product.GroupCode,
			minPrice, pl.UnitPrice, pl.Quantity, money.RoundCost(pl.Product.Cost), now, component)
		if err != nil {
			return err
		}
		note := "online order " + plan.Order.ID
		if component {
			note += " (component)"
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO stock_movements
				(company_id, document_number, kind, product_code, quantity,
				 unit_price, value, cost, actor_code, note, occurred_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`, sale.CompanyID, sale.Number, domain.MovementKindSale, pl.Product.Code,
			pl.Quantity, pl.UnitPrice, pl.LineTotal, money.Round(pl.Product.Cost),
			plan.ActorCode, note, now)
		return err
	}
	for _, pl := range plan.ParentLines {
		if err := insertLine(pl, false); err != nil {
			return nil, txError(err)
		}
	}
	for _, pl := range plan.ComponentLines {
		if err := insertLine(pl, true); err != nil {
			return nil, txError(err)
		}
	}

	for _, lp := range plan.LinePricing {
		_, err = tx.ExecContext(ctx, `
			UPDATE pending_order_lines
			SET unit_price_calc = $2, total_calc = $3
			WHERE id = $1
		`, lp.OrderLineID, lp.UnitPrice, lp.LineTotal)
		if err != nil {
			return nil, txError(err)
		}
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE pending_orders
		SET status = $2, sale_id = $3, confirmed_at = $4, confirmed_by = $5,
		    company_id = $6, subtotal = $7, discount = $8, delivery_fee = $9, total = $10
		WHERE id = $1 AND status = $11
	`, plan.Order.ID, domain.OrderStatusConfirmed, sale.ID, now, plan.ConfirmedBy,
		plan.CompanyID, plan.Totals.Subtotal, plan.Totals.Discount,
		plan.Totals.DeliveryFee, plan.Totals.Total, domain.OrderStatusOpen)
	if err != nil {
		return nil, txError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		// Either the order vanished or another posting won the race. The
		// rollback on return undoes everything written above.
		var exists bool
		if err := tx.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM pending_orders WHERE id = $1)
		`, plan.Order.ID).Scan(&exists); err == nil && !exists {
			return nil, fmt.Errorf("%w: order %s", store.ErrNotFound, plan.Order.ID)
		}
		return nil, fmt.Errorf("%w: order %s is no longer open", store.ErrConflict, plan.Order.ID)
	}

	if err := tx.Commit(); err != nil {
		return nil, txError(err)
	}
	return &domain.PostingReceipt{
		Sale:           sale,
		ParentLines:    len(plan.ParentLines),
		ComponentLines: len(plan.ComponentLines),
	}, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" {
		return fmt.Errorf("%w: empty username", store.ErrValidation)
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: user %s", store.ErrConflict, username)
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.Password, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, strings.ToLower(strings.TrimSpace(username)), password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: user %s", store.ErrNotFound, username)
	}
	return nil
}

// txError maps retryable database failures onto ErrContention so the
// service can re-run the whole confirmation.
func txError(err error) error {
	if isSerializationFailure(err) || isUniqueViolation(err) {
		return fmt.Errorf("%w: %v", store.ErrContention, err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01")
}

func nullIfEmpty(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func nullCompany(id *int) any {
	if id == nil {
		return nil
	}
	return *id
}
