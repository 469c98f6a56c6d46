package booksvc_test

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"

	"bookloan/model"
	bookrepo "bookloan/repository/book"
	booksvc "bookloan/service/book"
)

type txStub struct{}

func (txStub) WithinTx(ctx context.Context, fn func(tx *sql.Tx) error) error { return fn(nil) }

type repoMock struct {
	createFn       func(ctx context.Context, title, author, category string, value float64, copies int) (int64, error)
	detailFn       func(ctx context.Context, id int64) (*model.Book, error)
	searchFn       func(ctx context.Context, q bookrepo.SearchQuery) ([]model.Book, error)
	lockFn         func(ctx context.Context, tx *sql.Tx, id int64) (*model.Book, error)
	addTotalFn     func(ctx context.Context, tx *sql.Tx, id int64, n int) error
	updateRatingFn func(ctx context.Context, id int64, rating int) error
}

func (m *repoMock) Create(ctx context.Context, title, author, category string, value float64, copies int) (int64, error) {
	return m.createFn(ctx, title, author, category, value, copies)
}
func (m *repoMock) Detail(ctx context.Context, id int64) (*model.Book, error) {
	return m.detailFn(ctx, id)
}
func (m *repoMock) Search(ctx context.Context, q bookrepo.SearchQuery) ([]model.Book, error) {
	return m.searchFn(ctx, q)
}
func (m *repoMock) LockForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*model.Book, error) {
	return m.lockFn(ctx, tx, id)
}
func (m *repoMock) AddTotalCopies(ctx context.Context, tx *sql.Tx, id int64, n int) error {
	return m.addTotalFn(ctx, tx, id, n)
}
func (m *repoMock) UpdateRating(ctx context.Context, id int64, rating int) error {
	return m.updateRatingFn(ctx, id, rating)
}

type borrowsMock struct {
	hasReturnedFn func(ctx context.Context, userID, bookID int64) (bool, error)
}

func (m *borrowsMock) HasReturned(ctx context.Context, userID, bookID int64) (bool, error) {
	return m.hasReturnedFn(ctx, userID, bookID)
}

type releaserMock struct {
	releases int
	cascade  int
}

func (m *releaserMock) ReleaseCopy(ctx context.Context, tx *sql.Tx, bookID int64) (bool, error) {
	m.releases++
	if m.cascade > 0 {
		m.cascade--
		return true, nil
	}
	return false, nil
}

type auditMock struct{}

func (auditMock) Record(ctx context.Context, event, detail, severity string, actorID *int64) error {
	return nil
}

func newSvc(r *repoMock, rel *releaserMock) booksvc.Service {
	return newSvcWithBorrows(r, &borrowsMock{}, rel)
}

func newSvcWithBorrows(r *repoMock, b *borrowsMock, rel *releaserMock) booksvc.Service {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return booksvc.New(txStub{}, r, b, rel, auditMock{}, log)
}

func TestCreate_Validation(t *testing.T) {
	s := newSvc(&repoMock{}, &releaserMock{})
	ctx := context.Background()

	if _, err := s.Create(ctx, "", "Author", "cat", 10, 1); booksvc.Code(err) != booksvc.ErrValidation {
		t.Fatalf("empty title: got %v", err)
	}
	if _, err := s.Create(ctx, "Title", "  ", "cat", 10, 1); booksvc.Code(err) != booksvc.ErrValidation {
		t.Fatalf("blank author: got %v", err)
	}
	if _, err := s.Create(ctx, "Title", "Author", "cat", -1, 1); booksvc.Code(err) != booksvc.ErrValidation {
		t.Fatalf("negative value: got %v", err)
	}
	if _, err := s.Create(ctx, "Title", "Author", "cat", 10, -1); booksvc.Code(err) != booksvc.ErrValidation {
		t.Fatalf("negative copies: got %v", err)
	}
}

func TestCreate_Success(t *testing.T) {
	r := &repoMock{createFn: func(ctx context.Context, title, author, category string, value float64, copies int) (int64, error) {
		if title != "The Go Programming Language" || copies != 3 {
			t.Fatalf("bad args %q %d", title, copies)
		}
		return 42, nil
	}}
	s := newSvc(r, &releaserMock{})

	id, err := s.Create(context.Background(), "The Go Programming Language", "Donovan", "prog", 150000, 3)
	if err != nil || id != 42 {
		t.Fatalf("got id=%d err=%v; want 42 nil", id, err)
	}
}

// New copies are offered to the reservation queue one at a time; waiting
// reservers absorb them before anything reaches the public pool.
func TestAddCopies_OffersEachCopyToQueue(t *testing.T) {
	r := &repoMock{
		lockFn: func(ctx context.Context, tx *sql.Tx, id int64) (*model.Book, error) {
			return &model.Book{ID: id, TotalCopies: 2, AvailableCopies: 0}, nil
		},
		addTotalFn: func(ctx context.Context, tx *sql.Tx, id int64, n int) error {
			if n != 3 {
				t.Fatalf("added %d; want 3", n)
			}
			return nil
		},
	}
	rel := &releaserMock{cascade: 2}
	s := newSvc(r, rel)

	book, err := s.AddCopies(context.Background(), 99, 10, 3)
	if err != nil {
		t.Fatalf("AddCopies: %v", err)
	}
	if rel.releases != 3 {
		t.Fatalf("released %d copies; want 3", rel.releases)
	}
	if book.TotalCopies != 5 {
		t.Fatalf("total %d; want 5", book.TotalCopies)
	}
	// Two copies went to waiting reservers, one joined the public pool.
	if book.AvailableCopies != 1 {
		t.Fatalf("available %d; want 1", book.AvailableCopies)
	}
}

func TestAddCopies_RejectsNonPositive(t *testing.T) {
	s := newSvc(&repoMock{}, &releaserMock{})
	if _, err := s.AddCopies(context.Background(), 99, 10, 0); booksvc.Code(err) != booksvc.ErrValidation {
		t.Fatalf("got %v; want VALIDATION", err)
	}
}

func TestRate_RejectsOutOfRange(t *testing.T) {
	s := newSvc(&repoMock{}, &releaserMock{})
	ctx := context.Background()

	if err := s.Rate(ctx, 7, 10, 0); booksvc.Code(err) != booksvc.ErrValidation {
		t.Fatalf("rating 0: got %v; want VALIDATION", err)
	}
	if err := s.Rate(ctx, 7, 10, 6); booksvc.Code(err) != booksvc.ErrValidation {
		t.Fatalf("rating 6: got %v; want VALIDATION", err)
	}
}

func TestRate_RequiresReturnedLoan(t *testing.T) {
	b := &borrowsMock{hasReturnedFn: func(ctx context.Context, userID, bookID int64) (bool, error) {
		return false, nil
	}}
	s := newSvcWithBorrows(&repoMock{}, b, &releaserMock{})

	if err := s.Rate(context.Background(), 7, 10, 4); booksvc.Code(err) != booksvc.ErrNotBorrowed {
		t.Fatalf("got %v; want NOT_BORROWED", err)
	}
}

func TestRate_UpdatesAverage(t *testing.T) {
	var gotID int64
	var gotRating int
	r := &repoMock{updateRatingFn: func(ctx context.Context, id int64, rating int) error {
		gotID, gotRating = id, rating
		return nil
	}}
	b := &borrowsMock{hasReturnedFn: func(ctx context.Context, userID, bookID int64) (bool, error) {
		if userID != 7 || bookID != 10 {
			t.Fatalf("checked user %d book %d; want 7 10", userID, bookID)
		}
		return true, nil
	}}
	s := newSvcWithBorrows(r, b, &releaserMock{})

	if err := s.Rate(context.Background(), 7, 10, 4); err != nil {
		t.Fatalf("Rate: %v", err)
	}
	if gotID != 10 || gotRating != 4 {
		t.Fatalf("updated book %d rating %d; want 10 4", gotID, gotRating)
	}
}

func TestRate_UnknownBook(t *testing.T) {
	r := &repoMock{updateRatingFn: func(ctx context.Context, id int64, rating int) error {
		return sql.ErrNoRows
	}}
	b := &borrowsMock{hasReturnedFn: func(ctx context.Context, userID, bookID int64) (bool, error) {
		return true, nil
	}}
	s := newSvcWithBorrows(r, b, &releaserMock{})

	if err := s.Rate(context.Background(), 7, 99, 4); booksvc.Code(err) != booksvc.ErrNotFound {
		t.Fatalf("got %v; want BOOK_NOT_FOUND", err)
	}
}
