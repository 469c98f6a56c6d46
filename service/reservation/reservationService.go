package reservationsvc

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"bookloan/model"
	"bookloan/util/metrics"
)

// errors used by controllers

type ErrCode string

const (
	ErrBookNotFound   ErrCode = "BOOK_NOT_FOUND"
	ErrStockAvailable ErrCode = "STOCK_AVAILABLE"
	ErrAlreadyQueued  ErrCode = "ALREADY_QUEUED"
	ErrNotFound       ErrCode = "NOT_FOUND"
	ErrNotOwner       ErrCode = "NOT_OWNER"
	ErrNotCancellable ErrCode = "NOT_CANCELLABLE"
	ErrNotReady       ErrCode = "NOT_READY"
)

type codedError struct{ code ErrCode }

func (e codedError) Error() string { return string(e.code) }
func (e codedError) Code() ErrCode { return e.code }
func makeErr(c ErrCode) error      { return codedError{code: c} }

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
	Insert(ctx context.Context, tx *sql.Tx, res *model.Reservation) (int64, error)
	Get(ctx context.Context, id int64) (*model.Reservation, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*model.Reservation, error)
	NextWaiting(ctx context.Context, tx *sql.Tx, bookID int64) (*model.Reservation, error)
	MaxWaitingPos(ctx context.Context, tx *sql.Tx, bookID int64) (int, error)
	CountWaiting(ctx context.Context, tx *sql.Tx, bookID int64) (int, error)
	HasOpenForUser(ctx context.Context, tx *sql.Tx, userID, bookID int64) (bool, error)
	ReadyFor(ctx context.Context, tx *sql.Tx, userID, bookID int64) (*model.Reservation, error)
	MarkReady(ctx context.Context, tx *sql.Tx, id int64, notifiedAt, holdUntil time.Time) error
	SetStatus(ctx context.Context, tx *sql.Tx, id int64, status model.ReservationStatus) error
	RepackQueue(ctx context.Context, tx *sql.Tx, bookID int64, cancelledPos int) error
	ListByUser(ctx context.Context, userID int64) ([]model.Reservation, error)
	LapsedHoldIDs(ctx context.Context, now time.Time) ([]int64, error)
}

type Books interface {
	LockForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*model.Book, error)
}

type Ledger interface {
	AdjustAvailable(ctx context.Context, tx *sql.Tx, bookID int64, delta int) (int, error)
}

type Notifier interface {
	Notify(ctx context.Context, userID int64, title, body string) error
}

type Audit interface {
	Record(ctx context.Context, event, detail, severity string, actorID *int64) error
}

type Settings interface {
	ReservationHoldHours(ctx context.Context) int
}

type Service interface {
	Reserve(ctx context.Context, userID, bookID int64) (*model.Reservation, error)
	Cancel(ctx context.Context, userID, resID int64) error
	MyReservations(ctx context.Context, userID int64) ([]model.Reservation, error)

	// ExpireLapsedHolds expires every ready reservation whose hold deadline
	// has passed. Called by the reconciler; each expiry runs in its own
	// book-scoped transaction.
	ExpireLapsedHolds(ctx context.Context) (int, error)

	// In-transaction primitives for sibling services. The caller holds the
	// book row lock.

	// ReleaseCopy is the shared release-or-cascade step: promote the next
	// waiting reservation into the hidden pool, or hand the copy back to
	// the public pool. Exactly one of the two happens.
	ReleaseCopy(ctx context.Context, tx *sql.Tx, bookID int64) (bool, error)
	ReadyFor(ctx context.Context, tx *sql.Tx, userID, bookID int64) (*model.Reservation, error)
	CompleteReady(ctx context.Context, tx *sql.Tx, resID int64) error
	HasWaiting(ctx context.Context, tx *sql.Tx, bookID int64) (bool, error)
}

type service struct {
	db       TxRunner
	r        Repo
	books    Books
	ledger   Ledger
	notifier Notifier
	audit    Audit
	settings Settings
	log      *slog.Logger
}

func New(db TxRunner, r Repo, books Books, ledger Ledger, notifier Notifier, audit Audit, settings Settings, log *slog.Logger) Service {
	return &service{db: db, r: r, books: books, ledger: ledger, notifier: notifier, audit: audit, settings: settings, log: log}
}

// record is fire-and-forget: audit failures never block a transition.
func (s *service) record(ctx context.Context, event, detail, severity string, actorID *int64) {
	if err := s.audit.Record(ctx, event, detail, severity, actorID); err != nil {
		s.log.Warn("audit record failed", "event", event, "err", err)
	}
}

func (s *service) Reserve(ctx context.Context, userID, bookID int64) (*model.Reservation, error) {
	var created *model.Reservation

	err := s.db.WithinTx(ctx, func(tx *sql.Tx) error {
		book, err := s.books.LockForUpdate(ctx, tx, bookID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return makeErr(ErrBookNotFound)
			}
			return err
		}
		// Reserving only makes sense when nothing is publicly available.
		if book.AvailableCopies > 0 {
			return makeErr(ErrStockAvailable)
		}

		queued, err := s.r.HasOpenForUser(ctx, tx, userID, bookID)
		if err != nil {
			return err
		}
		if queued {
			return makeErr(ErrAlreadyQueued)
		}

		maxPos, err := s.r.MaxWaitingPos(ctx, tx, bookID)
		if err != nil {
			return err
		}

		res := &model.Reservation{
			UserID:    userID,
			BookID:    bookID,
			Status:    model.ReservationWaiting,
			CreatedAt: time.Now().UTC(),
			QueuePos:  maxPos + 1,
		}
		id, err := s.r.Insert(ctx, tx, res)
		if err != nil {
			return err
		}
		res.ID = id
		created = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.ReservationsQueued.Inc()
	s.record(ctx, "reservation_created",
		fmt.Sprintf("reservation %d for book %d at queue position %d", created.ID, bookID, created.QueuePos),
		"info", &userID)
	return created, nil
}

func (s *service) Cancel(ctx context.Context, userID, resID int64) error {
	// Read outside the transaction to learn the book id, then lock
	// book-first and re-read so the status check is race free.
	res, err := s.r.Get(ctx, resID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return makeErr(ErrNotFound)
		}
		return err
	}
	if res.UserID != userID {
		return makeErr(ErrNotOwner)
	}

	err = s.db.WithinTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.books.LockForUpdate(ctx, tx, res.BookID); err != nil {
			return err
		}
		res, err = s.r.GetForUpdate(ctx, tx, resID)
		if err != nil {
			return err
		}

		switch res.Status {
		case model.ReservationWaiting:
			if err := s.r.SetStatus(ctx, tx, resID, model.ReservationCancelled); err != nil {
				return err
			}
			return s.r.RepackQueue(ctx, tx, res.BookID, res.QueuePos)

		case model.ReservationReady:
			if err := s.r.SetStatus(ctx, tx, resID, model.ReservationCancelled); err != nil {
				return err
			}
			_, err := s.ReleaseCopy(ctx, tx, res.BookID)
			return err

		default:
			return makeErr(ErrNotCancellable)
		}
	})
	if err != nil {
		return err
	}

	s.record(ctx, "reservation_cancelled",
		fmt.Sprintf("reservation %d for book %d cancelled", resID, res.BookID),
		"info", &userID)
	return nil
}

// expire moves one lapsed ready reservation to expired and releases its
// hidden copy. Safe to call again after success: the status check fails.
func (s *service) expire(ctx context.Context, resID int64) error {
	res, err := s.r.Get(ctx, resID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return makeErr(ErrNotFound)
		}
		return err
	}

	err = s.db.WithinTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.books.LockForUpdate(ctx, tx, res.BookID); err != nil {
			return err
		}
		res, err = s.r.GetForUpdate(ctx, tx, resID)
		if err != nil {
			return err
		}
		if res.Status != model.ReservationReady {
			return makeErr(ErrNotReady)
		}
		if err := s.r.SetStatus(ctx, tx, resID, model.ReservationExpired); err != nil {
			return err
		}
		_, err = s.ReleaseCopy(ctx, tx, res.BookID)
		return err
	})
	if err != nil {
		return err
	}

	s.record(ctx, "reservation_expired",
		fmt.Sprintf("reservation %d for book %d expired unclaimed", resID, res.BookID),
		"warning", nil)
	return nil
}

func (s *service) ExpireLapsedHolds(ctx context.Context) (int, error) {
	ids, err := s.r.LapsedHoldIDs(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, id := range ids {
		if err := s.expire(ctx, id); err != nil {
			// A hold claimed or cancelled since the id scan is fine.
			if Code(err) == ErrNotReady || Code(err) == ErrNotFound {
				continue
			}
			return expired, err
		}
		expired++
		metrics.HoldsExpiredTotal.Inc()
	}
	return expired, nil
}

func (s *service) MyReservations(ctx context.Context, userID int64) ([]model.Reservation, error) {
	return s.r.ListByUser(ctx, userID)
}

func (s *service) ReleaseCopy(ctx context.Context, tx *sql.Tx, bookID int64) (bool, error) {
	next, err := s.r.NextWaiting(ctx, tx, bookID)
	if err != nil {
		return false, err
	}

	if next == nil {
		// Queue empty: the copy goes back to the public pool.
		if _, err := s.ledger.AdjustAvailable(ctx, tx, bookID, +1); err != nil {
			return false, err
		}
		metrics.CopiesReleasedPublic.Inc()
		return false, nil
	}

	// Cascade: the copy stays hidden, earmarked for the promoted reserver.
	now := time.Now().UTC()
	holdHours := s.settings.ReservationHoldHours(ctx)
	holdUntil := now.Add(time.Duration(holdHours) * time.Hour)
	if err := s.r.MarkReady(ctx, tx, next.ID, now, holdUntil); err != nil {
		return false, err
	}
	// Keep the remaining waiting positions dense.
	if err := s.r.RepackQueue(ctx, tx, bookID, next.QueuePos); err != nil {
		return false, err
	}

	if err := s.notifier.Notify(ctx, next.UserID, "Reserved book available",
		fmt.Sprintf("Your reserved book is ready for pickup. Please collect it before %s; after that the hold expires.",
			holdUntil.Format(time.RFC1123))); err != nil {
		s.log.Warn("reservation ready notification failed", "reservation_id", next.ID, "err", err)
	}
	s.record(ctx, "reservation_ready",
		fmt.Sprintf("book %d cascaded to reservation %d, hold until %s", bookID, next.ID, holdUntil.Format(time.RFC3339)),
		"info", nil)

	metrics.CopiesCascaded.Inc()
	return true, nil
}

func (s *service) ReadyFor(ctx context.Context, tx *sql.Tx, userID, bookID int64) (*model.Reservation, error) {
	return s.r.ReadyFor(ctx, tx, userID, bookID)
}

func (s *service) CompleteReady(ctx context.Context, tx *sql.Tx, resID int64) error {
	res, err := s.r.GetForUpdate(ctx, tx, resID)
	if err != nil {
		return err
	}
	if res.Status != model.ReservationReady {
		return makeErr(ErrNotReady)
	}
	// The copy never rejoined the public pool, so no ledger movement here.
	return s.r.SetStatus(ctx, tx, resID, model.ReservationCompleted)
}

func (s *service) HasWaiting(ctx context.Context, tx *sql.Tx, bookID int64) (bool, error) {
	n, err := s.r.CountWaiting(ctx, tx, bookID)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
