package domain

import "time"

type Product struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Category   string    `json:"category"`
	PriceCents int64     `json:"price_cents"`
	Stock      int       `json:"stock"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type ProductCreateRequest struct {
	Name         string `json:"name"`
	Category     string `json:"category"`
	PriceCents   int64  `json:"price_cents"`
	InitialStock int    `json:"initial_stock"`
}

type ProductUpdateRequest struct {
	Name       *string `json:"name,omitempty"`
	Category   *string `json:"category,omitempty"`
	PriceCents *int64  `json:"price_cents,omitempty"`
	Active     *bool   `json:"active,omitempty"`
}

type RestockRequest struct {
	Qty int `json:"qty"`
}

type CartLine struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type PaymentInfo struct {
	Method              string `json:"method"`
	AmountTenderedCents int64  `json:"amount_tendered_cents"`
	Reference           string `json:"reference,omitempty"`
}

type CheckoutRequest struct {
	Lines         []CartLine  `json:"lines"`
	Payment       PaymentInfo `json:"payment"`
	CustomerName  string      `json:"customer_name,omitempty"`
	CustomerPhone string      `json:"customer_phone,omitempty"`
}

type CheckoutResponse struct {
	ReceiptNumber string `json:"receipt_number"`
	TotalCents    int64  `json:"total_cents"`
	ChangeCents   int64  `json:"change_cents"`
	ItemCount     int    `json:"item_count"`
	CreatedAt     string `json:"created_at"`
}

type SaleLine struct {
	ProductID      string `json:"product_id"`
	ProductName    string `json:"product_name"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	LineTotalCents int64  `json:"line_total_cents"`
}

// Sale is the immutable record of a completed checkout. There are no
// update or delete paths for sales anywhere in the system.
type Sale struct {
	ID                  string     `json:"id"`
	ReceiptNumber       string     `json:"receipt_number"`
	Lines               []SaleLine `json:"lines"`
	TotalCents          int64      `json:"total_cents"`
	PaymentMethod       string     `json:"payment_method"`
	PaymentReference    string     `json:"payment_reference,omitempty"`
	AmountTenderedCents int64      `json:"amount_tendered_cents"`
	ChangeCents         int64      `json:"change_cents"`
	CustomerName        string     `json:"customer_name,omitempty"`
	CashierUsername     string     `json:"cashier_username,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
}

type Customer struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Phone              string    `json:"phone,omitempty"`
	TotalPurchaseCents int64     `json:"total_purchase_cents"`
	VisitCount         int       `json:"visit_count"`
	LastPurchaseDate   time.Time `json:"last_purchase_date"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
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

type Actor struct {
	Username string
	Role     string
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type DailyReport struct {
	Date       string `json:"date"`
	SaleCount  int64  `json:"sale_count"`
	TotalCents int64  `json:"total_cents"`
	ItemsSold  int64  `json:"items_sold"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	PaymentMethodCash   = "cash"
	PaymentMethodCard   = "card"
	PaymentMethodMobile = "mobile"
)

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)
