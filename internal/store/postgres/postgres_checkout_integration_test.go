package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"pointsale/backend/internal/domain"
	"pointsale/backend/internal/store"
)

func TestCheckoutStorageFlow(t *testing.T) {
	databaseURL := os.Getenv("POINTSALE_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set POINTSALE_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	productID := fmt.Sprintf("prod-it-%d", stamp)
	receiptNumber := fmt.Sprintf("REC-%d-aaaaaa", stamp)
	customerName := fmt.Sprintf("Cliente IT %d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_lines WHERE product_id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE receipt_number = $1`, receiptNumber)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM customers WHERE name = $1`, customerName)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
	})

	now := time.Now().UTC()
	if _, err := s.CreateProduct(ctx, domain.Product{
		ID:         productID,
		Name:       "Producto IT",
		Category:   "abarrotes",
		PriceCents: 1000,
		Stock:      5,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}); err != nil {
		t.Fatalf("create product: %v", err)
	}

	// The stock guard must reject a decrement beyond availability without
	// touching the row.
	if _, err := s.DecrementStock(ctx, productID, 6); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	remaining, err := s.DecrementStock(ctx, productID, 3)
	if err != nil {
		t.Fatalf("decrement stock: %v", err)
	}
	if remaining != 2 {
		t.Fatalf("expected remaining stock 2, got %d", remaining)
	}

	sale := domain.Sale{
		ID:            fmt.Sprintf("sale-it-%d", stamp),
		ReceiptNumber: receiptNumber,
		Lines: []domain.SaleLine{
			{ProductID: productID, ProductName: "Producto IT", Qty: 3, UnitPriceCents: 1000, LineTotalCents: 3000},
		},
		TotalCents:          3000,
		PaymentMethod:       "cash",
		AmountTenderedCents: 5000,
		ChangeCents:         2000,
		CustomerName:        customerName,
		CreatedAt:           now,
	}
	if _, err := s.CreateSale(ctx, sale); err != nil {
		t.Fatalf("create sale: %v", err)
	}

	dup := sale
	dup.ID = fmt.Sprintf("sale-it-dup-%d", stamp)
	if _, err := s.CreateSale(ctx, dup); !errors.Is(err, store.ErrDuplicateReceipt) {
		t.Fatalf("expected ErrDuplicateReceipt, got %v", err)
	}

	fetched, err := s.GetSaleByReceipt(ctx, receiptNumber)
	if err != nil {
		t.Fatalf("get sale by receipt: %v", err)
	}
	if len(fetched.Lines) != 1 || fetched.Lines[0].Qty != 3 {
		t.Fatalf("unexpected sale lines: %+v", fetched.Lines)
	}

	first, err := s.UpsertCustomerPurchase(ctx, customerName, "555-0101", 3000, 1, now)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if first.VisitCount != 1 || first.TotalPurchaseCents != 3000 {
		t.Fatalf("unexpected first upsert: %+v", first)
	}

	second, err := s.UpsertCustomerPurchase(ctx, customerName, "", 1500, 1, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if second.VisitCount != 2 || second.TotalPurchaseCents != 4500 {
		t.Fatalf("unexpected accumulation: %+v", second)
	}
	if second.Phone != "555-0101" {
		t.Fatalf("expected phone preserved on empty input, got %q", second.Phone)
	}
}
