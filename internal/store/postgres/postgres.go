// Package postgres is the production Repository backed by PostgreSQL
// through database/sql and the pgx stdlib driver.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"lumapos/backend/internal/domain"
	"lumapos/backend/internal/store"
	"lumapos/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, url string) (*Store, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the schema when it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS products (
			id TEXT PRIMARY KEY,
			sku TEXT NOT NULL UNIQUE,
			barcode TEXT,
			name TEXT NOT NULL,
			category_name TEXT,
			cost_cents BIGINT NOT NULL DEFAULT 0,
			price_cents BIGINT NOT NULL DEFAULT 0,
			stock_quantity INT NOT NULL DEFAULT 0,
			low_stock_alert INT NOT NULL DEFAULT 0,
			track_inventory BOOLEAN NOT NULL DEFAULT TRUE,
			is_taxable BOOLEAN NOT NULL DEFAULT TRUE,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS customers (
			id TEXT PRIMARY KEY,
			phone TEXT UNIQUE,
			email TEXT,
			name TEXT NOT NULL,
			loyalty_points BIGINT NOT NULL DEFAULT 0,
			total_spent_cents BIGINT NOT NULL DEFAULT 0,
			visit_count INT NOT NULL DEFAULT 0,
			last_visit_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS shifts (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			status TEXT NOT NULL,
			opening_float_cents BIGINT NOT NULL DEFAULT 0,
			total_sales_cents BIGINT NOT NULL DEFAULT 0,
			total_transactions INT NOT NULL DEFAULT 0,
			opened_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			closed_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS sales (
			id TEXT PRIMARY KEY,
			sale_number TEXT NOT NULL UNIQUE,
			local_id TEXT UNIQUE,
			customer_id TEXT,
			user_id TEXT,
			location_id TEXT,
			shift_id TEXT,
			status TEXT NOT NULL,
			subtotal_cents BIGINT NOT NULL,
			discount_cents BIGINT NOT NULL,
			tax_cents BIGINT NOT NULL,
			total_cents BIGINT NOT NULL,
			payment_method TEXT NOT NULL,
			amount_paid_cents BIGINT NOT NULL,
			change_due_cents BIGINT NOT NULL,
			notes TEXT,
			offline_created_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS sale_items (
			sale_id TEXT NOT NULL REFERENCES sales(id),
			position INT NOT NULL,
			product_id TEXT NOT NULL,
			sku TEXT NOT NULL,
			name TEXT NOT NULL,
			quantity INT NOT NULL,
			unit_price_cents BIGINT NOT NULL,
			discount_cents BIGINT NOT NULL,
			tax_cents BIGINT NOT NULL,
			line_total_cents BIGINT NOT NULL,
			PRIMARY KEY (sale_id, position)
		)`,
		`CREATE TABLE IF NOT EXISTS inventory_logs (
			id TEXT PRIMARY KEY,
			product_id TEXT NOT NULL,
			sale_id TEXT,
			change INT NOT NULL,
			previous_qty INT NOT NULL,
			new_qty INT NOT NULL,
			reason TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS refunds (
			id TEXT PRIMARY KEY,
			sale_id TEXT NOT NULL REFERENCES sales(id),
			amount_cents BIGINT NOT NULL,
			reason TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS holds (
			id TEXT PRIMARY KEY,
			payload JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			username TEXT PRIMARY KEY,
			password TEXT NOT NULL,
			role TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS sale_counters (
			day TEXT PRIMARY KEY,
			counter INT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_inventory_logs_product ON inventory_logs(product_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_sales_created ON sales(created_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// --- Products ---

const productColumns = `id, sku, COALESCE(barcode, ''), name, COALESCE(category_name, ''),
	cost_cents, price_cents, stock_quantity, low_stock_alert,
	track_inventory, is_taxable, is_active, updated_at`

func scanProduct(row interface{ Scan(...any) error }) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.SKU, &p.Barcode, &p.Name, &p.CategoryName,
		&p.CostCents, &p.PriceCents, &p.StockQuantity, &p.LowStockAlert,
		&p.TrackInventory, &p.IsTaxable, &p.IsActive, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, store.ErrNotFound
	}
	return p, err
}

func (s *Store) ListProducts(ctx context.Context, activeOnly bool) ([]domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY sku`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (s *Store) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	return scanProduct(row)
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (domain.Product, error) {
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	product.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, sku, barcode, name, category_name, cost_cents, price_cents,
			stock_quantity, low_stock_alert, track_inventory, is_taxable, is_active, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		product.ID, product.SKU, nullIfEmpty(product.Barcode), product.Name,
		nullIfEmpty(product.CategoryName), product.CostCents, product.PriceCents,
		product.StockQuantity, product.LowStockAlert, product.TrackInventory,
		product.IsTaxable, product.IsActive, product.UpdatedAt)
	if isUniqueViolation(err) {
		return domain.Product{}, fmt.Errorf("sku %s: %w", product.SKU, store.ErrDuplicate)
	}
	if err != nil {
		return domain.Product{}, err
	}
	return product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (domain.Product, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE products SET sku=$2, barcode=$3, name=$4, category_name=$5, cost_cents=$6,
			price_cents=$7, low_stock_alert=$8, track_inventory=$9, is_taxable=$10,
			is_active=$11, updated_at=now()
		WHERE id = $1
		RETURNING `+productColumns,
		product.ID, product.SKU, nullIfEmpty(product.Barcode), product.Name,
		nullIfEmpty(product.CategoryName), product.CostCents, product.PriceCents,
		product.LowStockAlert, product.TrackInventory, product.IsTaxable, product.IsActive)
	return scanProduct(row)
}

func (s *Store) AdjustStock(ctx context.Context, productID string, change int, reason string) (domain.Product, error) {
	if reason == "" {
		reason = domain.InventoryReasonAdjustment
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return domain.Product{}, err
	}
	defer tx.Rollback()

	var qty int
	err = tx.QueryRowContext(ctx, `SELECT stock_quantity FROM products WHERE id = $1 FOR UPDATE`, productID).Scan(&qty)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Product{}, err
	}
	newQty := qty + change
	if newQty < 0 {
		return domain.Product{}, fmt.Errorf("product %s: %w", productID, store.ErrInsufficientStock)
	}
	row := tx.QueryRowContext(ctx, `
		UPDATE products SET stock_quantity = $2, updated_at = now()
		WHERE id = $1 RETURNING `+productColumns, productID, newQty)
	product, err := scanProduct(row)
	if err != nil {
		return domain.Product{}, err
	}
	if err := insertInventoryLog(ctx, tx, productID, "", change, qty, newQty, reason); err != nil {
		return domain.Product{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Product{}, err
	}
	return product, nil
}

func (s *Store) ListLowStock(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+` FROM products
		WHERE track_inventory AND is_active AND stock_quantity <= low_stock_alert
		ORDER BY sku`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// --- Customers ---

const customerColumns = `id, COALESCE(phone, ''), COALESCE(email, ''), name,
	loyalty_points, total_spent_cents, visit_count, last_visit_at, created_at`

func scanCustomer(row interface{ Scan(...any) error }) (domain.Customer, error) {
	var c domain.Customer
	var lastVisit sql.NullTime
	err := row.Scan(&c.ID, &c.Phone, &c.Email, &c.Name,
		&c.LoyaltyPoints, &c.TotalSpentCents, &c.VisitCount, &lastVisit, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Customer{}, store.ErrNotFound
	}
	if lastVisit.Valid {
		t := lastVisit.Time
		c.LastVisitAt = &t
	}
	return c, err
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+customerColumns+` FROM customers ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (s *Store) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id)
	return scanCustomer(row)
}

func (s *Store) GetCustomerByPhone(ctx context.Context, phone string) (domain.Customer, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE phone = $1`, phone)
	return scanCustomer(row)
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (domain.Customer, error) {
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	customer.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, phone, email, name, created_at)
		VALUES ($1,$2,$3,$4,$5)`,
		customer.ID, nullIfEmpty(customer.Phone), nullIfEmpty(customer.Email),
		customer.Name, customer.CreatedAt)
	if isUniqueViolation(err) {
		return domain.Customer{}, fmt.Errorf("phone %s: %w", customer.Phone, store.ErrDuplicate)
	}
	if err != nil {
		return domain.Customer{}, err
	}
	return customer, nil
}

func (s *Store) UpdateCustomer(ctx context.Context, customer domain.Customer) (domain.Customer, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE customers SET phone=$2, email=$3, name=$4
		WHERE id = $1
		RETURNING `+customerColumns,
		customer.ID, nullIfEmpty(customer.Phone), nullIfEmpty(customer.Email), customer.Name)
	updated, err := scanCustomer(row)
	if isUniqueViolation(err) {
		return domain.Customer{}, fmt.Errorf("phone %s: %w", customer.Phone, store.ErrDuplicate)
	}
	return updated, err
}

// --- Shifts ---

const shiftColumns = `id, user_id, status, opening_float_cents, total_sales_cents,
	total_transactions, opened_at, closed_at`

func scanShift(row interface{ Scan(...any) error }) (domain.Shift, error) {
	var sh domain.Shift
	var closedAt sql.NullTime
	err := row.Scan(&sh.ID, &sh.UserID, &sh.Status, &sh.OpeningFloatCents,
		&sh.TotalSalesCents, &sh.TotalTransactions, &sh.OpenedAt, &closedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Shift{}, store.ErrNotFound
	}
	if closedAt.Valid {
		t := closedAt.Time
		sh.ClosedAt = &t
	}
	return sh, err
}

func (s *Store) OpenShift(ctx context.Context, shift domain.Shift) (domain.Shift, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return domain.Shift{}, err
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM shifts WHERE user_id = $1 AND status = $2 FOR UPDATE`,
		shift.UserID, domain.ShiftStatusOpen).Scan(&existing)
	if err == nil {
		return domain.Shift{}, store.ErrShiftAlreadyOpen
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Shift{}, err
	}

	shift.ID = xid.New("shift")
	shift.Status = domain.ShiftStatusOpen
	shift.OpenedAt = time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO shifts (id, user_id, status, opening_float_cents, opened_at)
		VALUES ($1,$2,$3,$4,$5)`,
		shift.ID, shift.UserID, shift.Status, shift.OpeningFloatCents, shift.OpenedAt)
	if err != nil {
		return domain.Shift{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Shift{}, err
	}
	return shift, nil
}

func (s *Store) CloseShift(ctx context.Context, userID string) (domain.Shift, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE shifts SET status = $3, closed_at = now()
		WHERE user_id = $1 AND status = $2
		RETURNING `+shiftColumns,
		userID, domain.ShiftStatusOpen, domain.ShiftStatusClosed)
	shift, err := scanShift(row)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Shift{}, store.ErrNoOpenShift
	}
	return shift, err
}

func (s *Store) CurrentShift(ctx context.Context, userID string) (domain.Shift, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+shiftColumns+` FROM shifts
		WHERE user_id = $1 AND status = $2`, userID, domain.ShiftStatusOpen)
	shift, err := scanShift(row)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Shift{}, store.ErrNoOpenShift
	}
	return shift, err
}

// --- Sales ---

const saleColumns = `id, sale_number, COALESCE(local_id, ''), COALESCE(customer_id, ''),
	COALESCE(user_id, ''), COALESCE(location_id, ''), COALESCE(shift_id, ''), status,
	subtotal_cents, discount_cents, tax_cents, total_cents, payment_method,
	amount_paid_cents, change_due_cents, COALESCE(notes, ''), offline_created_at, created_at`

func scanSale(row interface{ Scan(...any) error }) (domain.Sale, error) {
	var sale domain.Sale
	var offline sql.NullTime
	err := row.Scan(&sale.ID, &sale.SaleNumber, &sale.LocalID, &sale.CustomerID,
		&sale.UserID, &sale.LocationID, &sale.ShiftID, &sale.Status,
		&sale.SubtotalCents, &sale.DiscountCents, &sale.TaxCents, &sale.TotalCents,
		&sale.PaymentMethod, &sale.AmountPaidCents, &sale.ChangeDueCents,
		&sale.Notes, &offline, &sale.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Sale{}, store.ErrNotFound
	}
	if offline.Valid {
		t := offline.Time
		sale.OfflineCreatedAt = &t
	}
	return sale, err
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func loadSaleItems(ctx context.Context, q querier, saleID string) ([]domain.SaleItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT product_id, sku, name, quantity, unit_price_cents, discount_cents,
			tax_cents, line_total_cents
		FROM sale_items WHERE sale_id = $1 ORDER BY position`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.SaleItem
	for rows.Next() {
		var item domain.SaleItem
		if err := rows.Scan(&item.ProductID, &item.SKU, &item.Name, &item.Quantity,
			&item.UnitPriceCents, &item.DiscountCents, &item.TaxCents, &item.LineTotalCents); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// CreateSale runs the whole checkout as one serializable transaction:
// stock rows are locked before validation so concurrent sales of the
// same product cannot both pass the check, the date-scoped counter row
// hands out the sale number, and a localId unique violation from a
// concurrent replay falls back to returning the existing sale.
func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (domain.Sale, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return domain.Sale{}, err
	}
	defer tx.Rollback()

	if sale.LocalID != "" {
		existing, err := s.saleByLocalIDTx(ctx, tx, sale.LocalID)
		if err == nil {
			existing.Duplicate = true
			return existing, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return domain.Sale{}, err
		}
	}

	type stockRow struct {
		sku     string
		qty     int
		tracked bool
	}
	stocks := make(map[string]stockRow, len(sale.Items))
	for _, item := range sale.Items {
		if _, seen := stocks[item.ProductID]; seen {
			continue
		}
		var sr stockRow
		err := tx.QueryRowContext(ctx, `
			SELECT sku, stock_quantity, track_inventory FROM products
			WHERE id = $1 FOR UPDATE`, item.ProductID).Scan(&sr.sku, &sr.qty, &sr.tracked)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Sale{}, fmt.Errorf("product %s: %w", item.ProductID, store.ErrNotFound)
		}
		if err != nil {
			return domain.Sale{}, err
		}
		stocks[item.ProductID] = sr
	}
	for _, item := range sale.Items {
		sr := stocks[item.ProductID]
		if sr.tracked && sr.qty < item.Quantity {
			return domain.Sale{}, fmt.Errorf("product %s has %d in stock, need %d: %w",
				sr.sku, sr.qty, item.Quantity, store.ErrInsufficientStock)
		}
		sr.qty -= item.Quantity
		stocks[item.ProductID] = sr
	}

	now := time.Now().UTC()
	sale.ID = xid.New("sale")
	sale.CreatedAt = now
	if sale.Status == "" {
		sale.Status = domain.SaleStatusCompleted
	}

	var counter int
	day := now.Format("20060102")
	err = tx.QueryRowContext(ctx, `
		INSERT INTO sale_counters (day, counter) VALUES ($1, 1)
		ON CONFLICT (day) DO UPDATE SET counter = sale_counters.counter + 1
		RETURNING counter`, day).Scan(&counter)
	if err != nil {
		return domain.Sale{}, err
	}
	sale.SaleNumber = fmt.Sprintf("SALE-%s-%04d", day, counter)

	if sale.ShiftID == "" && sale.UserID != "" {
		var shiftID string
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM shifts WHERE user_id = $1 AND status = $2 FOR UPDATE`,
			sale.UserID, domain.ShiftStatusOpen).Scan(&shiftID)
		if err == nil {
			sale.ShiftID = shiftID
		} else if !errors.Is(err, sql.ErrNoRows) {
			return domain.Sale{}, err
		}
	}

	var offlineAt sql.NullTime
	if sale.OfflineCreatedAt != nil {
		offlineAt = sql.NullTime{Time: *sale.OfflineCreatedAt, Valid: true}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (id, sale_number, local_id, customer_id, user_id, location_id,
			shift_id, status, subtotal_cents, discount_cents, tax_cents, total_cents,
			payment_method, amount_paid_cents, change_due_cents, notes, offline_created_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		sale.ID, sale.SaleNumber, nullIfEmpty(sale.LocalID), nullIfEmpty(sale.CustomerID),
		nullIfEmpty(sale.UserID), nullIfEmpty(sale.LocationID), nullIfEmpty(sale.ShiftID),
		sale.Status, sale.SubtotalCents, sale.DiscountCents, sale.TaxCents, sale.TotalCents,
		sale.PaymentMethod, sale.AmountPaidCents, sale.ChangeDueCents,
		nullIfEmpty(sale.Notes), offlineAt, sale.CreatedAt)
	if isUniqueViolation(err) && sale.LocalID != "" {
		// A concurrent submission of the same localId won the race.
		tx.Rollback()
		existing, lookupErr := s.GetSaleByLocalID(ctx, sale.LocalID)
		if lookupErr != nil {
			return domain.Sale{}, lookupErr
		}
		existing.Duplicate = true
		return existing, nil
	}
	if err != nil {
		return domain.Sale{}, err
	}

	for i, item := range sale.Items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, position, product_id, sku, name, quantity,
				unit_price_cents, discount_cents, tax_cents, line_total_cents)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			sale.ID, i, item.ProductID, item.SKU, item.Name, item.Quantity,
			item.UnitPriceCents, item.DiscountCents, item.TaxCents, item.LineTotalCents)
		if err != nil {
			return domain.Sale{}, err
		}
	}

	for _, item := range sale.Items {
		sr := stocks[item.ProductID]
		if !sr.tracked {
			continue
		}
		var prevQty int
		err := tx.QueryRowContext(ctx,
			`UPDATE products SET stock_quantity = stock_quantity - $2, updated_at = now()
			 WHERE id = $1 RETURNING stock_quantity + $2`,
			item.ProductID, item.Quantity).Scan(&prevQty)
		if err != nil {
			return domain.Sale{}, err
		}
		if err := insertInventoryLog(ctx, tx, item.ProductID, sale.ID,
			-item.Quantity, prevQty, prevQty-item.Quantity, domain.InventoryReasonSale); err != nil {
			return domain.Sale{}, err
		}
	}

	if sale.CustomerID != "" {
		_, err := tx.ExecContext(ctx, `
			UPDATE customers SET
				total_spent_cents = total_spent_cents + $2,
				visit_count = visit_count + 1,
				loyalty_points = loyalty_points + $3,
				last_visit_at = $4
			WHERE id = $1`,
			sale.CustomerID, sale.TotalCents, sale.TotalCents/100, now)
		if err != nil {
			return domain.Sale{}, err
		}
	}

	if sale.ShiftID != "" {
		_, err := tx.ExecContext(ctx, `
			UPDATE shifts SET
				total_sales_cents = total_sales_cents + $2,
				total_transactions = total_transactions + 1
			WHERE id = $1`, sale.ShiftID, sale.TotalCents)
		if err != nil {
			return domain.Sale{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.Sale{}, err
	}
	return sale, nil
}

func (s *Store) saleByLocalIDTx(ctx context.Context, tx *sql.Tx, localID string) (domain.Sale, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE local_id = $1`, localID)
	sale, err := scanSale(row)
	if err != nil {
		return domain.Sale{}, err
	}
	sale.Items, err = loadSaleItems(ctx, tx, sale.ID)
	return sale, err
}

func (s *Store) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id)
	sale, err := scanSale(row)
	if err != nil {
		return domain.Sale{}, err
	}
	sale.Items, err = loadSaleItems(ctx, s.db, sale.ID)
	return sale, err
}

func (s *Store) GetSaleByLocalID(ctx context.Context, localID string) (domain.Sale, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE local_id = $1`, localID)
	sale, err := scanSale(row)
	if err != nil {
		return domain.Sale{}, err
	}
	sale.Items, err = loadSaleItems(ctx, s.db, sale.ID)
	return sale, err
}

func (s *Store) ListSales(ctx context.Context, limit int) ([]domain.Sale, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+saleColumns+` FROM sales ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Sale
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range result {
		result[i].Items, err = loadSaleItems(ctx, s.db, result[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (s *Store) RefundSale(ctx context.Context, saleID string, refund domain.Refund, restock []domain.RefundItemRequest) (domain.Sale, domain.Refund, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return domain.Sale{}, domain.Refund{}, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1 FOR UPDATE`, saleID)
	sale, err := scanSale(row)
	if err != nil {
		return domain.Sale{}, domain.Refund{}, err
	}
	if sale.Status != domain.SaleStatusCompleted {
		return domain.Sale{}, domain.Refund{}, fmt.Errorf("sale is %s: %w", sale.Status, store.ErrInvalidSale)
	}
	if refund.AmountCents <= 0 || refund.AmountCents > sale.TotalCents {
		return domain.Sale{}, domain.Refund{}, fmt.Errorf("refund amount out of range: %w", store.ErrInvalidSale)
	}
	sale.Items, err = loadSaleItems(ctx, tx, sale.ID)
	if err != nil {
		return domain.Sale{}, domain.Refund{}, err
	}
	sold := make(map[string]int, len(sale.Items))
	for _, item := range sale.Items {
		sold[item.ProductID] += item.Quantity
	}
	for _, line := range restock {
		if line.Quantity <= 0 || line.Quantity > sold[line.ProductID] {
			return domain.Sale{}, domain.Refund{}, fmt.Errorf("restock quantity for %s exceeds sold quantity: %w",
				line.ProductID, store.ErrInvalidSale)
		}
	}

	for _, line := range restock {
		if err := restoreStock(ctx, tx, line.ProductID, sale.ID, line.Quantity, domain.InventoryReasonRefund); err != nil {
			return domain.Sale{}, domain.Refund{}, err
		}
	}

	if sale.CustomerID != "" {
		_, err := tx.ExecContext(ctx, `
			UPDATE customers SET
				total_spent_cents = GREATEST(total_spent_cents - $2, 0),
				loyalty_points = GREATEST(loyalty_points - $3, 0)
			WHERE id = $1`,
			sale.CustomerID, refund.AmountCents, refund.AmountCents/100)
		if err != nil {
			return domain.Sale{}, domain.Refund{}, err
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sales SET status = $2 WHERE id = $1`, sale.ID, domain.SaleStatusRefunded); err != nil {
		return domain.Sale{}, domain.Refund{}, err
	}
	sale.Status = domain.SaleStatusRefunded

	refund.ID = xid.New("refund")
	refund.SaleID = sale.ID
	refund.CreatedAt = time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO refunds (id, sale_id, amount_cents, reason, created_at)
		VALUES ($1,$2,$3,$4,$5)`,
		refund.ID, refund.SaleID, refund.AmountCents, nullIfEmpty(refund.Reason), refund.CreatedAt); err != nil {
		return domain.Sale{}, domain.Refund{}, err
	}

	if err := tx.Commit(); err != nil {
		return domain.Sale{}, domain.Refund{}, err
	}
	return sale, refund, nil
}

func (s *Store) VoidSale(ctx context.Context, saleID string, reason string) (domain.Sale, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return domain.Sale{}, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1 FOR UPDATE`, saleID)
	sale, err := scanSale(row)
	if err != nil {
		return domain.Sale{}, err
	}
	if sale.Status != domain.SaleStatusCompleted {
		return domain.Sale{}, fmt.Errorf("sale is %s: %w", sale.Status, store.ErrInvalidSale)
	}
	sale.Items, err = loadSaleItems(ctx, tx, sale.ID)
	if err != nil {
		return domain.Sale{}, err
	}

	for _, item := range sale.Items {
		if err := restoreStock(ctx, tx, item.ProductID, sale.ID, item.Quantity, domain.InventoryReasonVoid); err != nil {
			return domain.Sale{}, err
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sales SET status = $2, notes = COALESCE(NULLIF($3, ''), notes) WHERE id = $1`,
		sale.ID, domain.SaleStatusVoided, reason); err != nil {
		return domain.Sale{}, err
	}
	sale.Status = domain.SaleStatusVoided
	if reason != "" {
		sale.Notes = reason
	}

	if err := tx.Commit(); err != nil {
		return domain.Sale{}, err
	}
	return sale, nil
}

// restoreStock increments stock for tracked products and writes the
// returning inventory-log row. Untracked products are skipped.
func restoreStock(ctx context.Context, tx *sql.Tx, productID, saleID string, quantity int, reason string) error {
	var prevQty int
	var tracked bool
	err := tx.QueryRowContext(ctx,
		`SELECT stock_quantity, track_inventory FROM products WHERE id = $1 FOR UPDATE`,
		productID).Scan(&prevQty, &tracked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	if !tracked {
		return nil
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE products SET stock_quantity = stock_quantity + $2, updated_at = now() WHERE id = $1`,
		productID, quantity); err != nil {
		return err
	}
	return insertInventoryLog(ctx, tx, productID, saleID, quantity, prevQty, prevQty+quantity, reason)
}

// --- Holds ---

func (s *Store) CreateHold(ctx context.Context, sale domain.Sale) (domain.Sale, error) {
	sale.ID = xid.New("hold")
	sale.Status = domain.SaleStatusHold
	sale.CreatedAt = time.Now().UTC()
	payload, err := json.Marshal(sale)
	if err != nil {
		return domain.Sale{}, err
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO holds (id, payload, created_at) VALUES ($1,$2,$3)`,
		sale.ID, payload, sale.CreatedAt); err != nil {
		return domain.Sale{}, err
	}
	return sale, nil
}

func (s *Store) ListHolds(ctx context.Context) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM holds ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Sale
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var sale domain.Sale
		if err := json.Unmarshal(payload, &sale); err != nil {
			return nil, err
		}
		result = append(result, sale)
	}
	return result, rows.Err()
}

func (s *Store) ResumeHold(ctx context.Context, id string) (domain.Sale, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`DELETE FROM holds WHERE id = $1 RETURNING payload`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Sale{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Sale{}, err
	}
	var sale domain.Sale
	if err := json.Unmarshal(payload, &sale); err != nil {
		return domain.Sale{}, err
	}
	return sale, nil
}

// --- Inventory logs ---

func insertInventoryLog(ctx context.Context, tx *sql.Tx, productID, saleID string, change, prevQty, newQty int, reason string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO inventory_logs (id, product_id, sale_id, change, previous_qty, new_qty, reason, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		xid.New("invlog"), productID, nullIfEmpty(saleID), change, prevQty, newQty, reason, time.Now().UTC())
	return err
}

func (s *Store) ListInventoryLogs(ctx context.Context, productID string, limit int) ([]domain.InventoryLog, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, product_id, COALESCE(sale_id, ''), change, previous_qty, new_qty, reason, created_at
		FROM inventory_logs`
	args := []any{limit}
	if productID != "" {
		query += ` WHERE product_id = $2`
		args = append(args, productID)
	}
	query += ` ORDER BY created_at DESC LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.InventoryLog
	for rows.Next() {
		var entry domain.InventoryLog
		if err := rows.Scan(&entry.ID, &entry.ProductID, &entry.SaleID, &entry.Change,
			&entry.PreviousQty, &entry.NewQty, &entry.Reason, &entry.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}

// --- Users ---

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)`,
		user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("username %s: %w", user.Username, store.ErrDuplicate)
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT username, password, role, active, created_at FROM users ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.UserAccount
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.Password, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	return result, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET password = $2 WHERE username = $1`, username, password)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// --- helpers ---

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nullIfEmpty(val string) sql.NullString {
	if val == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: val, Valid: true}
}
