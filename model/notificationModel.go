// model/notification.go
package model

import "time"

type Notification struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

type SystemLog struct {
	ID        int64     `json:"id"`
	Event     string    `json:"event"`
	Detail    string    `json:"detail"`
	Severity  string    `json:"severity"`
	ActorID   *int64    `json:"actor_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
