package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"pointsale/backend/internal/domain"
	"pointsale/backend/internal/store"
	"pointsale/backend/internal/xid"
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

func (s *Store) ListProducts(ctx context.Context, category string) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, price_cents, stock, active, created_at, updated_at
		FROM products
		WHERE active = true AND ($1 = '' OR category = $1)
		ORDER BY category, name
	`, category)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.PriceCents, &p.Stock, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) ListCategories(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT category
		FROM products
		WHERE active = true AND category <> ''
		ORDER BY category
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := make([]string, 0, 16)
	for rows.Next() {
		var category string
		if err := rows.Scan(&category); err != nil {
			return nil, err
		}
		categories = append(categories, category)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return categories, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.PriceCents < 1 || product.Stock < 0 {
		return nil, store.ErrInvalidCheckout
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	now := time.Now().UTC()
	product.Active = true
	product.CreatedAt = now
	product.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, category, price_cents, stock, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, product.ID, product.Name, product.Category, product.PriceCents, product.Stock, product.Active, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidCheckout
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	var product domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, category, price_cents, stock, active, created_at, updated_at
		FROM products
		WHERE id = $1
	`, id).Scan(&product.ID, &product.Name, &product.Category, &product.PriceCents, &product.Stock, &product.Active, &product.CreatedAt, &product.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, price_cents, stock, active, created_at, updated_at
		FROM products
		WHERE active = true AND id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.PriceCents, &p.Stock, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" || product.PriceCents < 1 {
		return nil, store.ErrInvalidCheckout
	}

	var updated domain.Product
	err := s.db.QueryRowContext(ctx, `
		UPDATE products
		SET name = $2, category = $3, price_cents = $4, active = $5, updated_at = now()
		WHERE id = $1
		RETURNING id, name, category, price_cents, stock, active, created_at, updated_at
	`, product.ID, product.Name, product.Category, product.PriceCents, product.Active).Scan(
		&updated.ID, &updated.Name, &updated.Category, &updated.PriceCents, &updated.Stock, &updated.Active, &updated.CreatedAt, &updated.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	return &updated, nil
}

// DecrementStock relies on a single conditional UPDATE so the stock
// guard holds under concurrency without an explicit transaction.
func (s *Store) DecrementStock(ctx context.Context, productID string, qty int) (int, error) {
	if qty < 1 {
		return 0, store.ErrInvalidCheckout
	}

	var remaining int
	err := s.db.QueryRowContext(ctx, `
		UPDATE products
		SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND active = true AND stock >= $2
		RETURNING stock
	`, productID, qty).Scan(&remaining)
	if err == nil {
		return remaining, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	// Zero rows means either an unknown product or too little stock.
	var current int
	err = s.db.QueryRowContext(ctx, `
		SELECT stock FROM products WHERE id = $1 AND active = true
	`, productID).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, err
	}
	return current, store.ErrInsufficientStock
}

func (s *Store) IncreaseStock(ctx context.Context, productID string, qty int) (int, error) {
	if qty < 1 {
		return 0, store.ErrInvalidCheckout
	}

	var remaining int
	err := s.db.QueryRowContext(ctx, `
		UPDATE products
		SET stock = stock + $2, updated_at = now()
		WHERE id = $1
		RETURNING stock
	`, productID, qty).Scan(&remaining)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, err
	}
	return remaining, nil
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.ReceiptNumber == "" || len(sale.Lines) == 0 {
		return nil, store.ErrInvalidCheckout
	}
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO sales (
			id, receipt_number, total_cents, payment_method, payment_reference,
			amount_tendered_cents, change_cents, customer_name, cashier_username, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, sale.ID, sale.ReceiptNumber, sale.TotalCents, sale.PaymentMethod, nullIfEmpty(sale.PaymentReference),
		sale.AmountTenderedCents, sale.ChangeCents, nullIfEmpty(sale.CustomerName), nullIfEmpty(sale.CashierUsername), sale.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateReceipt
		}
		return nil, err
	}

	for i, line := range sale.Lines {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO sale_lines (sale_id, line_no, product_id, product_name, qty, unit_price_cents, line_total_cents)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, sale.ID, i+1, line.ProductID, line.ProductName, line.Qty, line.UnitPriceCents, line.LineTotalCents)
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	return &sale, nil
}

func (s *Store) GetSaleByReceipt(ctx context.Context, receiptNumber string) (*domain.Sale, error) {
	var sale domain.Sale
	var paymentReference, customerName, cashierUsername sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, receipt_number, total_cents, payment_method, payment_reference,
			amount_tendered_cents, change_cents, customer_name, cashier_username, created_at
		FROM sales
		WHERE receipt_number = $1
	`, receiptNumber).Scan(&sale.ID, &sale.ReceiptNumber, &sale.TotalCents, &sale.PaymentMethod, &paymentReference,
		&sale.AmountTenderedCents, &sale.ChangeCents, &customerName, &cashierUsername, &sale.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale.PaymentReference = paymentReference.String
	sale.CustomerName = customerName.String
	sale.CashierUsername = cashierUsername.String
	sale.CreatedAt = sale.CreatedAt.UTC()

	lines, err := s.loadSaleLines(ctx, sale.ID)
	if err != nil {
		return nil, err
	}
	sale.Lines = lines

	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Sale, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, receipt_number, total_cents, payment_method, payment_reference,
			amount_tendered_cents, change_cents, customer_name, cashier_username, created_at
		FROM sales
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC, receipt_number DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, limit)
	for rows.Next() {
		var sale domain.Sale
		var paymentReference, customerName, cashierUsername sql.NullString
		if err := rows.Scan(&sale.ID, &sale.ReceiptNumber, &sale.TotalCents, &sale.PaymentMethod, &paymentReference,
			&sale.AmountTenderedCents, &sale.ChangeCents, &customerName, &cashierUsername, &sale.CreatedAt); err != nil {
			return nil, err
		}
		sale.PaymentReference = paymentReference.String
		sale.CustomerName = customerName.String
		sale.CashierUsername = cashierUsername.String
		sale.CreatedAt = sale.CreatedAt.UTC()
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range sales {
		lines, err := s.loadSaleLines(ctx, sales[i].ID)
		if err != nil {
			return nil, err
		}
		sales[i].Lines = lines
	}

	return sales, nil
}

func (s *Store) loadSaleLines(ctx context.Context, saleID string) ([]domain.SaleLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, product_name, qty, unit_price_cents, line_total_cents
		FROM sale_lines
		WHERE sale_id = $1
		ORDER BY line_no
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.SaleLine, 0, 8)
	for rows.Next() {
		var line domain.SaleLine
		if err := rows.Scan(&line.ProductID, &line.ProductName, &line.Qty, &line.UnitPriceCents, &line.LineTotalCents); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func (s *Store) GetDailyReport(ctx context.Context, from time.Time, to time.Time) (domain.DailyReport, error) {
	report := domain.DailyReport{Date: from.UTC().Format("2006-01-02")}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(s.total_cents), 0), COALESCE(SUM(l.items), 0)
		FROM sales s
		LEFT JOIN (
			SELECT sale_id, SUM(qty) AS items
			FROM sale_lines
			GROUP BY sale_id
		) l ON l.sale_id = s.id
		WHERE s.created_at >= $1 AND s.created_at < $2
	`, from, to).Scan(&report.SaleCount, &report.TotalCents, &report.ItemsSold)
	if err != nil {
		return domain.DailyReport{}, err
	}
	return report, nil
}

func (s *Store) FindCustomerByName(ctx context.Context, name string) (*domain.Customer, error) {
	var customer domain.Customer
	var phone sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, phone, total_purchase_cents, visit_count, last_purchase_date, created_at, updated_at
		FROM customers
		WHERE name = $1
	`, name).Scan(&customer.ID, &customer.Name, &phone, &customer.TotalPurchaseCents, &customer.VisitCount,
		&customer.LastPurchaseDate, &customer.CreatedAt, &customer.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	customer.Phone = phone.String
	return &customer, nil
}

// UpsertCustomerPurchase accumulates onto the row matched by exact name.
// The insert-or-update happens in one statement so two concurrent
// checkouts for the same customer both land.
func (s *Store) UpsertCustomerPurchase(ctx context.Context, name string, phone string, purchaseCents int64, visitDelta int, purchaseDate time.Time) (*domain.Customer, error) {
	if name == "" {
		return nil, store.ErrInvalidCheckout
	}

	var customer domain.Customer
	var phoneCol sql.NullString
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO customers (id, name, phone, total_purchase_cents, visit_count, last_purchase_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		ON CONFLICT (name) DO UPDATE SET
			total_purchase_cents = customers.total_purchase_cents + EXCLUDED.total_purchase_cents,
			visit_count = customers.visit_count + EXCLUDED.visit_count,
			last_purchase_date = EXCLUDED.last_purchase_date,
			phone = CASE WHEN EXCLUDED.phone IS NOT NULL AND EXCLUDED.phone <> '' THEN EXCLUDED.phone ELSE customers.phone END,
			updated_at = now()
		RETURNING id, name, phone, total_purchase_cents, visit_count, last_purchase_date, created_at, updated_at
	`, xid.New("cust"), name, nullIfEmpty(phone), purchaseCents, visitDelta, purchaseDate.UTC()).Scan(
		&customer.ID, &customer.Name, &phoneCol, &customer.TotalPurchaseCents, &customer.VisitCount,
		&customer.LastPurchaseDate, &customer.CreatedAt, &customer.UpdatedAt)
	if err != nil {
		return nil, err
	}
	customer.Phone = phoneCol.String
	return &customer, nil
}

func (s *Store) ListCustomers(ctx context.Context, limit int) ([]domain.Customer, error) {
	if limit < 1 {
		limit = 200
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, phone, total_purchase_cents, visit_count, last_purchase_date, created_at, updated_at
		FROM customers
		ORDER BY name
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, limit)
	for rows.Next() {
		var customer domain.Customer
		var phone sql.NullString
		if err := rows.Scan(&customer.ID, &customer.Name, &phone, &customer.TotalPurchaseCents, &customer.VisitCount,
			&customer.LastPurchaseDate, &customer.CreatedAt, &customer.UpdatedAt); err != nil {
			return nil, err
		}
		customer.Phone = phone.String
		customers = append(customers, customer)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return customers, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, nullIfEmpty(entry.EntityID), entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, COALESCE(entity_id, ''), detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidCheckout
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,true,$4)
	`, user.Username, user.Password, user.Role, user.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return store.ErrInvalidCheckout
	}
	return err
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
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	if username == "" || password == "" {
		return store.ErrInvalidCheckout
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
