// model/reservation.go
package model

import "time"

type ReservationStatus string

const (
	ReservationWaiting   ReservationStatus = "waiting"
	ReservationReady     ReservationStatus = "ready"
	ReservationCompleted ReservationStatus = "completed"
	ReservationExpired   ReservationStatus = "expired"
	ReservationCancelled ReservationStatus = "cancelled"
)

type Reservation struct {
	ID         int64             `json:"id"`
	UserID     int64             `json:"user_id"`
	BookID     int64             `json:"book_id"`
	Status     ReservationStatus `json:"status"`
	CreatedAt  time.Time         `json:"created_at"`
	NotifiedAt *time.Time        `json:"notified_at,omitempty"`
	HoldUntil  *time.Time        `json:"hold_until,omitempty"`
	// QueuePos is dense: waiting reservations for one book always hold
	// positions 1..N with no gaps.
	QueuePos int `json:"queue_position"`
}
