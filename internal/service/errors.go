package service

import (
	"fmt"

	"pointsale/backend/internal/store"
)

const (
	StageInventory = "inventory"
	StageCustomer  = "customer"
)

// InsufficientStockError reports which product blocked a checkout before
// any mutation happened.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error {
	return store.ErrInsufficientStock
}

// PartialCompletionError means the sale was committed but one of the
// follow-up stages failed. The sale is never rolled back; the receipt
// number identifies the record needing reconciliation.
type PartialCompletionError struct {
	ReceiptNumber string
	FailedStage   string
	Err           error
}

func (e *PartialCompletionError) Error() string {
	return fmt.Sprintf("sale %s committed but %s stage failed: %v", e.ReceiptNumber, e.FailedStage, e.Err)
}

func (e *PartialCompletionError) Unwrap() error {
	return e.Err
}
