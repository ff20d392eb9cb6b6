package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"pointsale/backend/internal/domain"
	"pointsale/backend/internal/store"
	"pointsale/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	salesByReceipt  map[string]*domain.Sale
	customersByName map[string]domain.Customer
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	now := time.Now().UTC()
	products := []domain.Product{
		{ID: "P-CAFE-01", Name: "Café Molido 500g", Category: "abarrotes", PriceCents: 8900, Stock: 40, Active: true},
		{ID: "P-AZUCAR-01", Name: "Azúcar 1kg", Category: "abarrotes", PriceCents: 2400, Stock: 80, Active: true},
		{ID: "P-LECHE-01", Name: "Leche Entera 1L", Category: "lácteos", PriceCents: 1900, Stock: 60, Active: true},
		{ID: "P-PAN-01", Name: "Pan de Molde", Category: "panadería", PriceCents: 2800, Stock: 25, Active: true},
		{ID: "P-AGUA-01", Name: "Agua Mineral 600ml", Category: "bebidas", PriceCents: 900, Stock: 120, Active: true},
		{ID: "P-GALLETA-01", Name: "Galletas Surtidas", Category: "snacks", PriceCents: 1500, Stock: 90, Active: true},
		{ID: "P-ARROZ-01", Name: "Arroz 1kg", Category: "abarrotes", PriceCents: 2100, Stock: 70, Active: true},
		{ID: "P-JABON-01", Name: "Jabón de Tocador", Category: "hogar", PriceCents: 1200, Stock: 50, Active: true},
	}

	productMap := make(map[string]domain.Product, len(products))
	for _, p := range products {
		p.CreatedAt = now
		p.UpdatedAt = now
		productMap[p.ID] = p
	}

	return &Store{
		products:        productMap,
		salesByReceipt:  make(map[string]*domain.Sale),
		customersByName: make(map[string]domain.Customer),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: seedUsers(),
	}
}

// New returns an empty store. Tests seed their own fixtures through
// CreateProduct.
func New() *Store {
	return &Store{
		products:        make(map[string]domain.Product),
		salesByReceipt:  make(map[string]*domain.Sale),
		customersByName: make(map[string]domain.Customer),
		auditLogs:       make([]domain.AuditLog, 0, 16),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

func (s *Store) ListProducts(_ context.Context, category string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		if category != "" && p.Category != category {
			continue
		}
		products = append(products, p)
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return cmpString(a.Name, b.Name)
		}
		return cmpString(a.Category, b.Category)
	})

	return products, nil
}

func (s *Store) ListCategories(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := map[string]struct{}{}
	categories := make([]string, 0, 8)
	for _, p := range s.products {
		if !p.Active || p.Category == "" {
			continue
		}
		if _, ok := seen[p.Category]; ok {
			continue
		}
		seen[p.Category] = struct{}{}
		categories = append(categories, p.Category)
	}
	slices.Sort(categories)
	return categories, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.Name == "" || product.PriceCents < 1 || product.Stock < 0 {
		return nil, store.ErrInvalidCheckout
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrInvalidCheckout
	}
	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = now
	product.Active = true
	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) GetProductByID(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok && p.Active {
			result[id] = p
		}
	}
	return result, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" || product.Name == "" || product.PriceCents < 1 {
		return nil, store.ErrInvalidCheckout
	}
	current, exists := s.products[product.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	// Stock is owned by DecrementStock/IncreaseStock, never by updates.
	product.Stock = current.Stock
	product.CreatedAt = current.CreatedAt
	product.UpdatedAt = time.Now().UTC()

	s.products[product.ID] = product
	updated := product
	return &updated, nil
}

func (s *Store) DecrementStock(_ context.Context, productID string, qty int) (int, error) {
	if qty < 1 {
		return 0, store.ErrInvalidCheckout
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[productID]
	if !exists || !product.Active {
		return 0, store.ErrNotFound
	}
	if product.Stock < qty {
		return product.Stock, store.ErrInsufficientStock
	}
	product.Stock -= qty
	product.UpdatedAt = time.Now().UTC()
	s.products[productID] = product
	return product.Stock, nil
}

func (s *Store) IncreaseStock(_ context.Context, productID string, qty int) (int, error) {
	if qty < 1 {
		return 0, store.ErrInvalidCheckout
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[productID]
	if !exists {
		return 0, store.ErrNotFound
	}
	product.Stock += qty
	product.UpdatedAt = time.Now().UTC()
	s.products[productID] = product
	return product.Stock, nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.ReceiptNumber == "" || len(sale.Lines) == 0 {
		return nil, store.ErrInvalidCheckout
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.salesByReceipt[sale.ReceiptNumber]; exists {
		return nil, store.ErrDuplicateReceipt
	}
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	saved := cloneSale(&sale)
	s.salesByReceipt[sale.ReceiptNumber] = saved
	return cloneSale(saved), nil
}

func (s *Store) GetSaleByReceipt(_ context.Context, receiptNumber string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByReceipt[receiptNumber]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) ListSales(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Sale, 0, 64)
	for _, sale := range s.salesByReceipt {
		if sale.CreatedAt.Before(from) || !sale.CreatedAt.Before(to) {
			continue
		}
		result = append(result, *cloneSale(sale))
	}

	slices.SortFunc(result, func(a, b domain.Sale) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ReceiptNumber, a.ReceiptNumber)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) GetDailyReport(_ context.Context, from time.Time, to time.Time) (domain.DailyReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report := domain.DailyReport{Date: from.UTC().Format("2006-01-02")}
	for _, sale := range s.salesByReceipt {
		if sale.CreatedAt.Before(from) || !sale.CreatedAt.Before(to) {
			continue
		}
		report.SaleCount++
		report.TotalCents += sale.TotalCents
		for _, line := range sale.Lines {
			report.ItemsSold += int64(line.Qty)
		}
	}
	return report, nil
}

func (s *Store) FindCustomerByName(_ context.Context, name string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, exists := s.customersByName[name]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyCustomer := customer
	return &copyCustomer, nil
}

func (s *Store) UpsertCustomerPurchase(_ context.Context, name string, phone string, purchaseCents int64, visitDelta int, purchaseDate time.Time) (*domain.Customer, error) {
	if name == "" {
		return nil, store.ErrInvalidCheckout
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	customer, exists := s.customersByName[name]
	if !exists {
		customer = domain.Customer{
			ID:        xid.New("cust"),
			Name:      name,
			CreatedAt: now,
		}
	}
	customer.TotalPurchaseCents += purchaseCents
	customer.VisitCount += visitDelta
	customer.LastPurchaseDate = purchaseDate.UTC()
	if phone != "" {
		customer.Phone = phone
	}
	customer.UpdatedAt = now

	s.customersByName[name] = customer
	copyCustomer := customer
	return &copyCustomer, nil
}

func (s *Store) ListCustomers(_ context.Context, limit int) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.Customer, 0, len(s.customersByName))
	for _, customer := range s.customersByName {
		customers = append(customers, customer)
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		return cmpString(a.Name, b.Name)
	})
	if limit > 0 && len(customers) > limit {
		customers = customers[:limit]
	}
	return customers, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidCheckout
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidCheckout
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidCheckout
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneSale(src *domain.Sale) *domain.Sale {
	if src == nil {
		return nil
	}
	dup := *src
	lines := make([]domain.SaleLine, len(src.Lines))
	copy(lines, src.Lines)
	dup.Lines = lines
	return &dup
}
