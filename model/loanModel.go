// model/loan.go
package model

import "time"

type LoanStatus string

const (
	LoanPendingPickup LoanStatus = "pending_pickup"
	LoanBorrowed      LoanStatus = "borrowed"
	LoanReturned      LoanStatus = "returned"
	LoanCancelled     LoanStatus = "cancelled"
)

// Condition codes reported on return.
const (
	ConditionGood  = "good"
	ConditionMinor = "minor"
	ConditionMajor = "major"
	ConditionLost  = "lost"
)

type Loan struct {
	ID          int64      `json:"id"`
	UserID      int64      `json:"user_id"`
	BookID      int64      `json:"book_id"`
	Status      LoanStatus `json:"status"`
	RequestedAt time.Time  `json:"requested_at"`
	// DueAt is provisional while the loan is pending pickup; it becomes
	// authoritative when the pickup is confirmed.
	DueAt       time.Time  `json:"due_at"`
	ReturnedAt  *time.Time `json:"returned_at,omitempty"`
	PickupUntil *time.Time `json:"pickup_until,omitempty"`
	RenewCount  int        `json:"renew_count"`
	Condition   *string    `json:"condition,omitempty"`
	LateFee     float64    `json:"late_fee"`
	DamageFee   float64    `json:"damage_fee"`
}
