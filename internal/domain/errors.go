package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is returned for malformed pricing or cart arguments.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInsufficientStock is returned when a quantity exceeds available stock.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrEmptyCart is returned when committing a cart without lines.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrInsufficientPayment is returned when the tendered amount does not cover the total.
	ErrInsufficientPayment = errors.New("insufficient payment")
	// ErrSequenceGeneration is returned when no sale number could be obtained.
	ErrSequenceGeneration = errors.New("sale number generation failed")
	// ErrPersistence is returned when the grouped sale write failed and was rolled back.
	ErrPersistence = errors.New("sale persistence failed")
	// ErrProductNotFound is returned by catalogs for unknown product ids.
	ErrProductNotFound = errors.New("product not found")
)

// StockError carries the detail of a stock shortage.
type StockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

// Unwrap lets errors.Is match ErrInsufficientStock.
func (e *StockError) Unwrap() error {
	return ErrInsufficientStock
}

// NewStockError builds a StockError.
func NewStockError(productID string, requested, available int) error {
	return &StockError{ProductID: productID, Requested: requested, Available: available}
}
