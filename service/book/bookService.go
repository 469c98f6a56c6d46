package booksvc

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"bookloan/model"
	bookrepo "bookloan/repository/book"
)

type ErrCode string

const (
	ErrNotFound    ErrCode = "BOOK_NOT_FOUND"
	ErrValidation  ErrCode = "VALIDATION"
	ErrNotBorrowed ErrCode = "NOT_BORROWED"
)

type codedError struct {
	code ErrCode
	msg  string
}

func (e codedError) Error() string {
	if e.msg != "" {
		return e.msg
	}
	return string(e.code)
}
func (e codedError) Code() ErrCode { return e.code }

// Code extracts error code
func Code(err error) ErrCode {
	var ce interface{ Code() ErrCode }
	if errors.As(err, &ce) {
		return ce.Code()
	}
	return ""
}

type TxRunner interface {
	WithinTx(ctx context.Context, fn func(tx *sql.Tx) error) error
}

type Repo interface {
	Create(ctx context.Context, title, author, category string, value float64, copies int) (int64, error)
	Detail(ctx context.Context, id int64) (*model.Book, error)
	Search(ctx context.Context, q bookrepo.SearchQuery) ([]model.Book, error)
	LockForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*model.Book, error)
	AddTotalCopies(ctx context.Context, tx *sql.Tx, id int64, n int) error
	UpdateRating(ctx context.Context, id int64, rating int) error
}

// Borrows answers whether a member ever returned a copy of a title.
type Borrows interface {
	HasReturned(ctx context.Context, userID, bookID int64) (bool, error)
}

// Releaser absorbs newly added copies: each one either cascades to a
// waiting reservation or joins the public pool.
type Releaser interface {
	ReleaseCopy(ctx context.Context, tx *sql.Tx, bookID int64) (bool, error)
}

type Audit interface {
	Record(ctx context.Context, event, detail, severity string, actorID *int64) error
}

type Service interface {
	Create(ctx context.Context, title, author, category string, value float64, copies int) (int64, error)
	Detail(ctx context.Context, id int64) (*model.Book, error)
	Search(ctx context.Context, q bookrepo.SearchQuery) ([]model.Book, error)

	// AddCopies grows a title's total stock by n. Copies are offered to the
	// reservation queue first; only the remainder becomes public.
	AddCopies(ctx context.Context, staffID, bookID int64, n int) (*model.Book, error)

	// Rate folds a member's 1..5 rating into the title's running average.
	// Only members who have returned a copy may rate it.
	Rate(ctx context.Context, userID, bookID int64, rating int) error
}

type service struct {
	db       TxRunner
	r        Repo
	borrows  Borrows
	releaser Releaser
	audit    Audit
	log      *slog.Logger
}

func New(db TxRunner, r Repo, borrows Borrows, releaser Releaser, audit Audit, log *slog.Logger) Service {
	return &service{db: db, r: r, borrows: borrows, releaser: releaser, audit: audit, log: log}
}

func (s *service) Create(ctx context.Context, title, author, category string, value float64, copies int) (int64, error) {
	title = strings.TrimSpace(title)
	author = strings.TrimSpace(author)
	category = strings.TrimSpace(category)
	if title == "" {
		return 0, codedError{ErrValidation, "title is required"}
	}
	if author == "" {
		return 0, codedError{ErrValidation, "author is required"}
	}
	if value < 0 {
		return 0, codedError{ErrValidation, "value must be >= 0"}
	}
	if copies < 0 {
		return 0, codedError{ErrValidation, "copies must be >= 0"}
	}
	return s.r.Create(ctx, title, author, category, value, copies)
}

func (s *service) Detail(ctx context.Context, id int64) (*model.Book, error) {
	b, err := s.r.Detail(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, codedError{code: ErrNotFound}
		}
		return nil, err
	}
	return b, nil
}

func (s *service) Search(ctx context.Context, q bookrepo.SearchQuery) ([]model.Book, error) {
	return s.r.Search(ctx, q)
}

func (s *service) AddCopies(ctx context.Context, staffID, bookID int64, n int) (*model.Book, error) {
	if n <= 0 {
		return nil, codedError{ErrValidation, "n must be > 0"}
	}

	var out *model.Book
	err := s.db.WithinTx(ctx, func(tx *sql.Tx) error {
		book, err := s.r.LockForUpdate(ctx, tx, bookID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return codedError{code: ErrNotFound}
			}
			return err
		}
		if err := s.r.AddTotalCopies(ctx, tx, bookID, n); err != nil {
			return err
		}
		// One release per copy so each can cascade independently.
		for i := 0; i < n; i++ {
			cascaded, err := s.releaser.ReleaseCopy(ctx, tx, bookID)
			if err != nil {
				return err
			}
			if !cascaded {
				book.AvailableCopies++
			}
		}
		book.TotalCopies += n
		out = book
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.audit.Record(ctx, "book_copies_added",
		fmt.Sprintf("%d copies added to book %d", n, bookID), "info", &staffID); err != nil {
		s.log.Warn("audit record failed", "event", "book_copies_added", "err", err)
	}
	return out, nil
}

func (s *service) Rate(ctx context.Context, userID, bookID int64, rating int) error {
	if rating < 1 || rating > 5 {
		return codedError{ErrValidation, "rating must be between 1 and 5"}
	}

	returned, err := s.borrows.HasReturned(ctx, userID, bookID)
	if err != nil {
		return err
	}
	if !returned {
		return codedError{ErrNotBorrowed, "only members who returned this book may rate it"}
	}

	if err := s.r.UpdateRating(ctx, bookID, rating); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return codedError{code: ErrNotFound}
		}
		return err
	}

	if err := s.audit.Record(ctx, "book_rated",
		fmt.Sprintf("book %d rated %d", bookID, rating), "info", &userID); err != nil {
		s.log.Warn("audit record failed", "event", "book_rated", "err", err)
	}
	return nil
}
