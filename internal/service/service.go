package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"pointsale/backend/internal/cache"
	"pointsale/backend/internal/domain"
	"pointsale/backend/internal/events"
	"pointsale/backend/internal/receipt"
	"pointsale/backend/internal/store"
	"pointsale/backend/internal/xid"
)

const (
	catalogCacheTTL    = 30 * time.Second
	catalogCachePrefix = "catalog:v1:"
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
	repo      store.Repository
	catalog   cache.CatalogCache
	publisher events.Publisher
}

func New(repo store.Repository, catalog cache.CatalogCache, publisher events.Publisher) *Service {
	if catalog == nil {
		catalog = cache.NoopCatalogCache{}
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}

	return &Service{
		repo:      repo,
		catalog:   catalog,
		publisher: publisher,
	}
}

func (s *Service) ListProducts(ctx context.Context, category string) ([]domain.Product, error) {
	category = strings.TrimSpace(category)
	key := catalogCacheKey(category)

	if cached, ok, err := s.catalog.Get(ctx, key); err != nil {
		log.Printf("[service] WARN: catalog cache read failed key=%s: %v", key, err)
	} else if ok {
		return cached, nil
	}

	products, err := s.repo.ListProducts(ctx, category)
	if err != nil {
		return nil, err
	}

	if err := s.catalog.Set(ctx, key, products, catalogCacheTTL); err != nil {
		log.Printf("[service] WARN: catalog cache write failed key=%s: %v", key, err)
	}

	return products, nil
}

func (s *Service) ListCategories(ctx context.Context) ([]string, error) {
	return s.repo.ListCategories(ctx)
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Product{}, store.ErrInvalidCheckout
	}
	product, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)

	if req.Name == "" {
		return domain.Product{}, store.ErrInvalidCheckout
	}
	if req.PriceCents < 1 || req.InitialStock < 0 {
		return domain.Product{}, store.ErrInvalidCheckout
	}

	product := domain.Product{
		ID:         xid.New("prod"),
		Name:       req.Name,
		Category:   req.Category,
		PriceCents: req.PriceCents,
		Stock:      req.InitialStock,
		Active:     true,
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_create", "product", created.ID, fmt.Sprintf("name=%s,price=%d,stock=%d", created.Name, created.PriceCents, created.Stock))
	s.invalidateCatalog(ctx, created.Category)

	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Product{}, store.ErrInvalidCheckout
	}

	existing, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, store.ErrInvalidCheckout
		}
		updated.Name = name
	}
	if req.Category != nil {
		updated.Category = strings.TrimSpace(*req.Category)
	}
	if req.PriceCents != nil {
		if *req.PriceCents < 1 {
			return domain.Product{}, store.ErrInvalidCheckout
		}
		updated.PriceCents = *req.PriceCents
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_update", "product", saved.ID, fmt.Sprintf("active=%t,price=%d", saved.Active, saved.PriceCents))
	s.invalidateCatalog(ctx, existing.Category, saved.Category)

	return *saved, nil
}

func (s *Service) Restock(ctx context.Context, id string, qty int) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	id = strings.TrimSpace(id)
	if id == "" || qty < 1 {
		return domain.Product{}, store.ErrInvalidCheckout
	}

	if _, err := s.repo.IncreaseStock(ctx, id, qty); err != nil {
		return domain.Product{}, err
	}

	product, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_restock", "product", id, fmt.Sprintf("qty=%d,stock=%d", qty, product.Stock))
	s.invalidateCatalog(ctx, product.Category)

	return *product, nil
}

// CompleteCheckout runs the sale-completion transaction. Creating the
// sale record is the commit point: everything before it can abort with
// no trace, everything after it is best-effort and never rolls the
// sale back.
func (s *Service) CompleteCheckout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResponse, error) {
	req.Payment.Method = strings.ToLower(strings.TrimSpace(req.Payment.Method))
	if req.Payment.Method == "" {
		req.Payment.Method = domain.PaymentMethodCash
	}
	if !isSupportedPaymentMethod(req.Payment.Method) {
		return domain.CheckoutResponse{}, fmt.Errorf("%w: unsupported payment method %q", store.ErrInvalidCheckout, req.Payment.Method)
	}
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	req.CustomerPhone = strings.TrimSpace(req.CustomerPhone)

	lines, err := normalizeLines(req.Lines)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return domain.CheckoutResponse{}, fmt.Errorf("load products: %w", err)
	}

	// Advisory stock check against the freshly loaded catalog. The
	// authoritative guard is DecrementStock; this pass keeps obviously
	// doomed checkouts from ever reaching the commit point.
	totalCents := int64(0)
	itemCount := 0
	saleLines := make([]domain.SaleLine, 0, len(lines))
	for _, line := range lines {
		product, exists := products[line.ProductID]
		if !exists {
			return domain.CheckoutResponse{}, fmt.Errorf("%w: unknown product %s", store.ErrInvalidCheckout, line.ProductID)
		}
		if line.Qty > product.Stock {
			return domain.CheckoutResponse{}, &InsufficientStockError{
				ProductID: product.ID,
				Requested: line.Qty,
				Available: product.Stock,
			}
		}
		lineTotal := int64(line.Qty) * product.PriceCents
		saleLines = append(saleLines, domain.SaleLine{
			ProductID:      product.ID,
			ProductName:    product.Name,
			Qty:            line.Qty,
			UnitPriceCents: product.PriceCents,
			LineTotalCents: lineTotal,
		})
		totalCents += lineTotal
		itemCount += line.Qty
	}

	changeCents := int64(0)
	if req.Payment.Method == domain.PaymentMethodCash {
		if req.Payment.AmountTenderedCents < totalCents {
			return domain.CheckoutResponse{}, fmt.Errorf("%w: tendered %d below total %d", store.ErrInvalidCheckout, req.Payment.AmountTenderedCents, totalCents)
		}
		changeCents = req.Payment.AmountTenderedCents - totalCents
	} else {
		if strings.TrimSpace(req.Payment.Reference) == "" {
			return domain.CheckoutResponse{}, fmt.Errorf("%w: %s payment requires a reference", store.ErrInvalidCheckout, req.Payment.Method)
		}
		req.Payment.AmountTenderedCents = totalCents
	}

	cashier := ""
	if actor, ok := ActorFromContext(ctx); ok {
		cashier = actor.Username
	}

	sale := domain.Sale{
		ID:                  xid.New("sale"),
		ReceiptNumber:       receipt.New(),
		Lines:               saleLines,
		TotalCents:          totalCents,
		PaymentMethod:       req.Payment.Method,
		PaymentReference:    req.Payment.Reference,
		AmountTenderedCents: req.Payment.AmountTenderedCents,
		ChangeCents:         changeCents,
		CustomerName:        req.CustomerName,
		CashierUsername:     cashier,
		CreatedAt:           time.Now().UTC(),
	}

	created, err := s.repo.CreateSale(ctx, sale)
	if errors.Is(err, store.ErrDuplicateReceipt) {
		// One regeneration, then give up: a second collision points at
		// something worse than bad luck with the suffix.
		sale.ReceiptNumber = receipt.New()
		created, err = s.repo.CreateSale(ctx, sale)
	}
	if err != nil {
		return domain.CheckoutResponse{}, fmt.Errorf("create sale: %w", err)
	}

	// The sale is committed. Follow-up failures are collected, never
	// fatal, and never undo the sale.
	var followUps []error
	failedStage := ""
	for _, line := range created.Lines {
		if _, err := s.repo.DecrementStock(ctx, line.ProductID, line.Qty); err != nil {
			log.Printf("[service] WARN: stock decrement failed receipt=%s product=%s qty=%d: %v", created.ReceiptNumber, line.ProductID, line.Qty, err)
			followUps = append(followUps, fmt.Errorf("decrement %s: %w", line.ProductID, err))
			if failedStage == "" {
				failedStage = StageInventory
			}
		}
	}
	if req.CustomerName != "" {
		if _, err := s.repo.UpsertCustomerPurchase(ctx, req.CustomerName, req.CustomerPhone, created.TotalCents, 1, created.CreatedAt); err != nil {
			log.Printf("[service] WARN: customer upsert failed receipt=%s name=%s: %v", created.ReceiptNumber, req.CustomerName, err)
			followUps = append(followUps, fmt.Errorf("upsert customer %q: %w", req.CustomerName, err))
			if failedStage == "" {
				failedStage = StageCustomer
			}
		}
	}

	categories := make([]string, 0, len(created.Lines))
	for _, line := range created.Lines {
		if p, ok := products[line.ProductID]; ok {
			categories = append(categories, p.Category)
		}
	}
	s.invalidateCatalog(ctx, categories...)

	eventType := events.TypeSaleCompleted
	action := "checkout_completed"
	if len(followUps) > 0 {
		eventType = events.TypeSalePartial
		action = "checkout_partial"
	}
	s.logAudit(ctx, action, "sale", created.ReceiptNumber, fmt.Sprintf("total=%d,items=%d,payment=%s,failed_stage=%s", created.TotalCents, itemCount, created.PaymentMethod, failedStage))
	if err := s.publisher.Publish(ctx, eventType, events.SaleEvent{
		ReceiptNumber: created.ReceiptNumber,
		TotalCents:    created.TotalCents,
		ItemCount:     itemCount,
		PaymentMethod: created.PaymentMethod,
		CustomerName:  created.CustomerName,
		FailedStage:   failedStage,
	}); err != nil {
		log.Printf("[service] WARN: failed to publish %s receipt=%s: %v", eventType, created.ReceiptNumber, err)
	}

	if len(followUps) > 0 {
		return domain.CheckoutResponse{}, &PartialCompletionError{
			ReceiptNumber: created.ReceiptNumber,
			FailedStage:   failedStage,
			Err:           errors.Join(followUps...),
		}
	}

	return domain.CheckoutResponse{
		ReceiptNumber: created.ReceiptNumber,
		TotalCents:    created.TotalCents,
		ChangeCents:   created.ChangeCents,
		ItemCount:     itemCount,
		CreatedAt:     created.CreatedAt.Format(time.RFC3339),
	}, nil
}

func (s *Service) GetSaleByReceipt(ctx context.Context, receiptNumber string) (domain.Sale, error) {
	receiptNumber = strings.TrimSpace(receiptNumber)
	if !receipt.Valid(receiptNumber) {
		return domain.Sale{}, store.ErrNotFound
	}
	sale, err := s.repo.GetSaleByReceipt(ctx, receiptNumber)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, date string, limit int) ([]domain.Sale, error) {
	from, to, err := dayBounds(date)
	if err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}
	return s.repo.ListSales(ctx, from, to, limit)
}

func (s *Service) DailyReport(ctx context.Context, date string) (domain.DailyReport, error) {
	from, to, err := dayBounds(date)
	if err != nil {
		return domain.DailyReport{}, err
	}
	return s.repo.GetDailyReport(ctx, from, to)
}

func (s *Service) ListCustomers(ctx context.Context, limit int) ([]domain.Customer, error) {
	if limit < 1 {
		limit = 200
	}
	return s.repo.ListCustomers(ctx, limit)
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	from, to, err := dayBounds(date)
	if err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}
	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func (s *Service) CreateCashier(ctx context.Context, req domain.CashierCreateRequest) (domain.CashierUser, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.CashierUser{}, fmt.Errorf("admin role required")
	}

	username := strings.ToLower(strings.TrimSpace(req.Username))
	if username == "" || len(req.Password) < 8 {
		return domain.CashierUser{}, store.ErrInvalidCheckout
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return domain.CashierUser{}, err
	}

	user := domain.UserAccount{
		Username:  username,
		Password:  string(hash),
		Role:      domain.RoleCashier,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return domain.CashierUser{}, err
	}

	s.logAudit(ctx, "cashier_create", "user", username, "")

	return domain.CashierUser{
		Username:  user.Username,
		Role:      user.Role,
		Active:    user.Active,
		CreatedAt: user.CreatedAt,
	}, nil
}

func (s *Service) ListCashiers(ctx context.Context) ([]domain.CashierUser, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("admin role required")
	}

	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, err
	}

	cashiers := make([]domain.CashierUser, 0, len(users))
	for _, user := range users {
		if user.Role != domain.RoleCashier {
			continue
		}
		cashiers = append(cashiers, domain.CashierUser{
			Username:  user.Username,
			Role:      user.Role,
			Active:    user.Active,
			CreatedAt: user.CreatedAt,
		})
	}
	return cashiers, nil
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

func (s *Service) invalidateCatalog(ctx context.Context, categories ...string) {
	keys := []string{catalogCacheKey("")}
	seen := map[string]struct{}{}
	for _, category := range categories {
		category = strings.TrimSpace(category)
		if category == "" {
			continue
		}
		if _, ok := seen[category]; ok {
			continue
		}
		seen[category] = struct{}{}
		keys = append(keys, catalogCacheKey(category))
	}
	if err := s.catalog.Invalidate(ctx, keys...); err != nil {
		log.Printf("[service] WARN: catalog cache invalidation failed: %v", err)
	}
}

func catalogCacheKey(category string) string {
	if category == "" {
		return catalogCachePrefix + "all"
	}
	return catalogCachePrefix + category
}

// normalizeLines merges duplicate product IDs by summing quantities
// while keeping the first-seen order, so sale lines come out the way
// items were rung up.
func normalizeLines(lines []domain.CartLine) ([]domain.CartLine, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: empty cart", store.ErrInvalidCheckout)
	}

	index := make(map[string]int, len(lines))
	normalized := make([]domain.CartLine, 0, len(lines))
	for _, line := range lines {
		line.ProductID = strings.TrimSpace(line.ProductID)
		if line.ProductID == "" {
			return nil, fmt.Errorf("%w: line missing product id", store.ErrInvalidCheckout)
		}
		if line.Qty < 1 {
			return nil, fmt.Errorf("%w: invalid qty %d for product %s", store.ErrInvalidCheckout, line.Qty, line.ProductID)
		}
		if at, ok := index[line.ProductID]; ok {
			normalized[at].Qty += line.Qty
			continue
		}
		index[line.ProductID] = len(normalized)
		normalized = append(normalized, line)
	}
	return normalized, nil
}

func dayBounds(date string) (time.Time, time.Time, error) {
	day := time.Now().UTC()
	if strings.TrimSpace(date) != "" {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: bad date %q", store.ErrInvalidCheckout, date)
		}
		day = parsed
	}
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	return from, from.Add(24 * time.Hour), nil
}

func isSupportedPaymentMethod(method string) bool {
	switch method {
	case domain.PaymentMethodCash, domain.PaymentMethodCard, domain.PaymentMethodMobile:
		return true
	default:
		return false
	}
}
