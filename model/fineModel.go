// model/fine.go
package model

import "time"

type FineCategory string

const (
	FineLateReturn  FineCategory = "late_return"
	FineDamagedBook FineCategory = "damaged_book"
	FineLostBook    FineCategory = "lost_book"
)

type FineStatus string

const (
	FineUnpaid FineStatus = "unpaid"
	FinePaid   FineStatus = "paid"
	FineWaived FineStatus = "waived"
)

// Fine records are created once when a loan completes with a nonzero fee
// and are only ever mutated by settlement, never deleted.
type Fine struct {
	ID          int64        `json:"id"`
	UserID      int64        `json:"user_id"`
	LoanID      *int64       `json:"loan_id,omitempty"`
	Category    FineCategory `json:"category"`
	Description string       `json:"description"`
	Amount      float64      `json:"amount"`
	Status      FineStatus   `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	SettledAt   *time.Time   `json:"settled_at,omitempty"`
	InvoiceID   *string      `json:"invoice_id,omitempty"`
	PaymentLink *string      `json:"payment_link,omitempty"`
}
