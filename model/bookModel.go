// model/book.go
package model

// Book is the catalog root entity. AvailableCopies counts only the public
// pool; copies held for notified reservations stay outside it.
type Book struct {
	ID              int64   `json:"id"`
	Title           string  `json:"title"`
	Author          string  `json:"author"`
	Category        string  `json:"category"`
	Value           float64 `json:"value"`
	TotalCopies     int     `json:"total_copies"`
	AvailableCopies int     `json:"available_copies"`
	BorrowCount     int64   `json:"borrow_count"`
	// Rating is the running average of member ratings; RatingCount is the
	// number of ratings folded into it.
	Rating      float64 `json:"rating"`
	RatingCount int64   `json:"rating_count"`
}
