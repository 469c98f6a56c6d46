package loansvc

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"bookloan/model"
	"bookloan/service/fee"
	"bookloan/util/metrics"
)

// errors used by controllers

type ErrCode string

const (
	ErrBookNotFound  ErrCode = "BOOK_NOT_FOUND"
	ErrLoanNotFound  ErrCode = "LOAN_NOT_FOUND"
	ErrUserNotFound  ErrCode = "USER_NOT_FOUND"
	ErrAccountLocked ErrCode = "ACCOUNT_LOCKED"
	ErrLimitReached  ErrCode = "LIMIT_REACHED"
	ErrDuplicateLoan ErrCode = "DUPLICATE_LOAN"
	ErrUnpaidFines   ErrCode = "UNPAID_FINES"
	ErrNoStock       ErrCode = "NO_STOCK"
	ErrNotPending    ErrCode = "NOT_PENDING"
	ErrNotBorrowed   ErrCode = "NOT_BORROWED"
	ErrPickupExpired ErrCode = "PICKUP_EXPIRED"
	ErrRenewLimit    ErrCode = "RENEW_LIMIT"
	ErrOverdue       ErrCode = "OVERDUE"
	ErrBookReserved  ErrCode = "BOOK_RESERVED"
	ErrNotOwner      ErrCode = "NOT_OWNER"
	ErrBadCondition  ErrCode = "BAD_CONDITION"
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

// dto

type Returned struct {
	LoanID    int64
	LateFee   float64
	DamageFee float64
	TotalFee  float64
	// Cascaded reports where the copy went: to the next reserver (true)
	// or back to the public pool (false).
	Cascaded bool
}

type TxRunner interface {
	WithinTx(ctx context.Context, fn func(tx *sql.Tx) error) error
}

type Repo interface {
	Insert(ctx context.Context, tx *sql.Tx, l *model.Loan) (int64, error)
	Get(ctx context.Context, id int64) (*model.Loan, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*model.Loan, error)
	CountActive(ctx context.Context, tx *sql.Tx, userID int64) (int, error)
	HasActiveForBook(ctx context.Context, tx *sql.Tx, userID, bookID int64) (bool, error)
	MarkBorrowed(ctx context.Context, tx *sql.Tx, id int64, due time.Time) error
	MarkRenewed(ctx context.Context, tx *sql.Tx, id int64, due time.Time, renewCount int) error
	MarkReturned(ctx context.Context, tx *sql.Tx, id int64, returnedAt time.Time, condition string, lateFee, damageFee float64) error
	MarkCancelled(ctx context.Context, tx *sql.Tx, id int64) error
	ListByUser(ctx context.Context, userID int64) ([]model.Loan, error)
	ListPendingPickup(ctx context.Context) ([]model.Loan, error)
	ListOverdue(ctx context.Context, userID int64) ([]model.Loan, error)
	ListDueSoon(ctx context.Context, userID int64, before time.Time) ([]model.Loan, error)
	ExpiredPickupIDs(ctx context.Context, now time.Time) ([]int64, error)
}

type Books interface {
	LockForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*model.Book, error)
}

type Ledger interface {
	AdjustAvailable(ctx context.Context, tx *sql.Tx, bookID int64, delta int) (int, error)
	IncrementLoanCount(ctx context.Context, tx *sql.Tx, bookID int64) error
}

type Reservations interface {
	ReleaseCopy(ctx context.Context, tx *sql.Tx, bookID int64) (bool, error)
	ReadyFor(ctx context.Context, tx *sql.Tx, userID, bookID int64) (*model.Reservation, error)
	CompleteReady(ctx context.Context, tx *sql.Tx, resID int64) error
	HasWaiting(ctx context.Context, tx *sql.Tx, bookID int64) (bool, error)
}

type Fines interface {
	Insert(ctx context.Context, tx *sql.Tx, f *model.Fine) (int64, error)
	UnpaidTotal(ctx context.Context, userID int64) (float64, error)
}

type Identity interface {
	Get(ctx context.Context, id int64) (*model.User, error)
	AddFine(ctx context.Context, tx *sql.Tx, userID int64, amount float64) error
	IncrementViolations(ctx context.Context, tx *sql.Tx, userID int64, lockThreshold int) (bool, error)
}

type Notifier interface {
	Notify(ctx context.Context, userID int64, title, body string) error
}

type Audit interface {
	Record(ctx context.Context, event, detail, severity string, actorID *int64) error
}

type Settings interface {
	MaxConcurrentLoans(ctx context.Context) int
	LoanDurationDays(ctx context.Context) int
	PickupHoldHours(ctx context.Context) int
	RenewalLimit(ctx context.Context) int
	RenewalExtensionDays(ctx context.Context) int
	ViolationLockThreshold(ctx context.Context) int
	FeeRates(ctx context.Context) fee.Rates
}

type Service interface {
	// Request creates a pending-pickup loan. A requester holding an
	// unexpired ready reservation claims the earmarked copy without
	// touching public availability; everyone else needs public stock.
	Request(ctx context.Context, userID, bookID int64) (*model.Loan, error)

	// ConfirmPickup moves a pending loan to borrowed and sets the
	// authoritative due date. A loan past its pickup deadline is cancelled
	// instead and the call reports ErrPickupExpired.
	ConfirmPickup(ctx context.Context, loanID int64) (*model.Loan, error)

	Renew(ctx context.Context, userID, loanID int64) (*model.Loan, error)
	Return(ctx context.Context, loanID int64, condition string) (*Returned, error)
	Cancel(ctx context.Context, userID, loanID int64) error

	MyLoans(ctx context.Context, userID int64) ([]model.Loan, error)
	MyOverdue(ctx context.Context, userID int64) ([]model.Loan, error)

	// MyDueSoon lists borrowed loans falling due within the next three days.
	MyDueSoon(ctx context.Context, userID int64) ([]model.Loan, error)

	PendingPickups(ctx context.Context) ([]model.Loan, error)

	// CancelExpiredPickups sweeps loans whose pickup deadline lapsed.
	// Called by the reconciler.
	CancelExpiredPickups(ctx context.Context) (int, error)
}

type service struct {
	db           TxRunner
	r            Repo
	books        Books
	ledger       Ledger
	reservations Reservations
	fines        Fines
	users        Identity
	notifier     Notifier
	audit        Audit
	settings     Settings
	log          *slog.Logger
}

func New(db TxRunner, r Repo, books Books, ledger Ledger, reservations Reservations,
	fines Fines, users Identity, notifier Notifier, audit Audit, settings Settings, log *slog.Logger) Service {
	return &service{
		db: db, r: r, books: books, ledger: ledger, reservations: reservations,
		fines: fines, users: users, notifier: notifier, audit: audit, settings: settings, log: log,
	}
}

func (s *service) record(ctx context.Context, event, detail, severity string, actorID *int64) {
	if err := s.audit.Record(ctx, event, detail, severity, actorID); err != nil {
		s.log.Warn("audit record failed", "event", event, "err", err)
	}
}

func (s *service) Request(ctx context.Context, userID, bookID int64) (*model.Loan, error) {
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, makeErr(ErrUserNotFound)
		}
		return nil, err
	}
	if user.IsLocked {
		return nil, makeErr(ErrAccountLocked)
	}

	// Any unpaid balance blocks new loans.
	unpaid, err := s.fines.UnpaidTotal(ctx, userID)
	if err != nil {
		return nil, err
	}
	if unpaid > 0 {
		return nil, makeErr(ErrUnpaidFines)
	}

	var (
		created  *model.Loan
		priority bool
	)

	err = s.db.WithinTx(ctx, func(tx *sql.Tx) error {
		book, err := s.books.LockForUpdate(ctx, tx, bookID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return makeErr(ErrBookNotFound)
			}
			return err
		}

		active, err := s.r.CountActive(ctx, tx, userID)
		if err != nil {
			return err
		}
		if active >= s.settings.MaxConcurrentLoans(ctx) {
			return makeErr(ErrLimitReached)
		}

		dup, err := s.r.HasActiveForBook(ctx, tx, userID, bookID)
		if err != nil {
			return err
		}
		if dup {
			return makeErr(ErrDuplicateLoan)
		}

		now := time.Now().UTC()

		// Priority claim: a ready reservation within its hold window came
		// out of the hidden pool, so the public count stays untouched.
		ready, err := s.reservations.ReadyFor(ctx, tx, userID, bookID)
		if err != nil {
			return err
		}
		if ready != nil && ready.HoldUntil != nil && now.Before(*ready.HoldUntil) {
			if err := s.reservations.CompleteReady(ctx, tx, ready.ID); err != nil {
				return err
			}
			priority = true
		} else {
			if book.AvailableCopies <= 0 {
				return makeErr(ErrNoStock)
			}
			if _, err := s.ledger.AdjustAvailable(ctx, tx, bookID, -1); err != nil {
				return err
			}
		}

		if err := s.ledger.IncrementLoanCount(ctx, tx, bookID); err != nil {
			return err
		}

		pickupUntil := now.Add(time.Duration(s.settings.PickupHoldHours(ctx)) * time.Hour)
		// Provisional due date; recalculated when the pickup is confirmed.
		due := now.Add(time.Duration(s.settings.LoanDurationDays(ctx)) * 24 * time.Hour)

		l := &model.Loan{
			UserID:      userID,
			BookID:      bookID,
			Status:      model.LoanPendingPickup,
			RequestedAt: now,
			DueAt:       due,
			PickupUntil: &pickupUntil,
		}
		id, err := s.r.Insert(ctx, tx, l)
		if err != nil {
			return err
		}
		l.ID = id
		created = l
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.LoansCreated.Inc()
	detail := fmt.Sprintf("loan %d for book %d, pickup until %s", created.ID, bookID, created.PickupUntil.Format(time.RFC3339))
	if priority {
		detail += " (priority claim)"
	}
	s.record(ctx, "loan_requested", detail, "info", &userID)
	return created, nil
}

func (s *service) ConfirmPickup(ctx context.Context, loanID int64) (*model.Loan, error) {
	loan, err := s.r.Get(ctx, loanID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, makeErr(ErrLoanNotFound)
		}
		return nil, err
	}

	var (
		expired bool
		out     *model.Loan
	)

	err = s.db.WithinTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.books.LockForUpdate(ctx, tx, loan.BookID); err != nil {
			return err
		}
		loan, err = s.r.GetForUpdate(ctx, tx, loanID)
		if err != nil {
			return err
		}
		if loan.Status != model.LoanPendingPickup {
			return makeErr(ErrNotPending)
		}

		now := time.Now().UTC()
		if loan.PickupUntil != nil && now.After(*loan.PickupUntil) {
			// Deadline missed: auto-cancel, then report the failure. The
			// cancellation still has to commit.
			if err := s.cancelLocked(ctx, tx, loan); err != nil {
				return err
			}
			expired = true
			return nil
		}

		due := now.Add(time.Duration(s.settings.LoanDurationDays(ctx)) * 24 * time.Hour)
		if err := s.r.MarkBorrowed(ctx, tx, loanID, due); err != nil {
			return err
		}
		loan.Status = model.LoanBorrowed
		loan.DueAt = due
		loan.PickupUntil = nil
		out = loan
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		s.record(ctx, "loan_pickup_expired",
			fmt.Sprintf("loan %d cancelled at pickup, deadline had passed", loanID), "warning", &loan.UserID)
		return nil, makeErr(ErrPickupExpired)
	}

	s.record(ctx, "loan_pickup_confirmed",
		fmt.Sprintf("loan %d picked up, due %s", loanID, out.DueAt.Format(time.RFC3339)), "info", &loan.UserID)
	return out, nil
}

func (s *service) Renew(ctx context.Context, userID, loanID int64) (*model.Loan, error) {
	loan, err := s.r.Get(ctx, loanID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, makeErr(ErrLoanNotFound)
		}
		return nil, err
	}
	if loan.UserID != userID {
		return nil, makeErr(ErrNotOwner)
	}

	var out *model.Loan

	err = s.db.WithinTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.books.LockForUpdate(ctx, tx, loan.BookID); err != nil {
			return err
		}
		loan, err = s.r.GetForUpdate(ctx, tx, loanID)
		if err != nil {
			return err
		}
		if loan.Status != model.LoanBorrowed {
			return makeErr(ErrNotBorrowed)
		}
		if loan.RenewCount >= s.settings.RenewalLimit(ctx) {
			return makeErr(ErrRenewLimit)
		}
		if time.Now().UTC().After(loan.DueAt) {
			return makeErr(ErrOverdue)
		}

		// Reservers take priority over renewal.
		waiting, err := s.reservations.HasWaiting(ctx, tx, loan.BookID)
		if err != nil {
			return err
		}
		if waiting {
			return makeErr(ErrBookReserved)
		}

		due := loan.DueAt.Add(time.Duration(s.settings.RenewalExtensionDays(ctx)) * 24 * time.Hour)
		if err := s.r.MarkRenewed(ctx, tx, loanID, due, loan.RenewCount+1); err != nil {
			return err
		}
		loan.DueAt = due
		loan.RenewCount++
		out = loan
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, "loan_renewed",
		fmt.Sprintf("loan %d renewed, new due %s", loanID, out.DueAt.Format(time.RFC3339)), "info", &userID)
	return out, nil
}

func validCondition(condition string) bool {
	switch condition {
	case model.ConditionGood, model.ConditionMinor, model.ConditionMajor, model.ConditionLost:
		return true
	}
	return false
}

func (s *service) Return(ctx context.Context, loanID int64, condition string) (*Returned, error) {
	if !validCondition(condition) {
		return nil, makeErr(ErrBadCondition)
	}

	loan, err := s.r.Get(ctx, loanID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, makeErr(ErrLoanNotFound)
		}
		return nil, err
	}

	var out *Returned

	err = s.db.WithinTx(ctx, func(tx *sql.Tx) error {
		book, err := s.books.LockForUpdate(ctx, tx, loan.BookID)
		if err != nil {
			return err
		}
		loan, err = s.r.GetForUpdate(ctx, tx, loanID)
		if err != nil {
			return err
		}
		if loan.Status != model.LoanBorrowed {
			return makeErr(ErrNotBorrowed)
		}

		now := time.Now().UTC()
		lateFee := fee.LateFee(loan.DueAt, now, s.settings.FeeRates(ctx))
		damageFee, err := fee.DamageFee(condition, book.Value)
		if err != nil {
			return makeErr(ErrBadCondition)
		}

		if err := s.r.MarkReturned(ctx, tx, loanID, now, condition, lateFee, damageFee); err != nil {
			return err
		}

		cascaded, err := s.reservations.ReleaseCopy(ctx, tx, loan.BookID)
		if err != nil {
			return err
		}

		total := lateFee + damageFee
		if total > 0 {
			loanRef := loanID
			f := &model.Fine{
				UserID:      loan.UserID,
				LoanID:      &loanRef,
				Category:    fee.FineCategory(condition),
				Description: fmt.Sprintf("late fee %.0f, damage fee %.0f for loan %d", lateFee, damageFee, loanID),
				Amount:      total,
				CreatedAt:   now,
			}
			if _, err := s.fines.Insert(ctx, tx, f); err != nil {
				return err
			}
			if err := s.users.AddFine(ctx, tx, loan.UserID, total); err != nil {
				return err
			}
			locked, err := s.users.IncrementViolations(ctx, tx, loan.UserID, s.settings.ViolationLockThreshold(ctx))
			if err != nil {
				return err
			}
			if locked {
				s.log.Info("account locked by violation threshold", "user_id", loan.UserID)
			}
		}

		out = &Returned{LoanID: loanID, LateFee: lateFee, DamageFee: damageFee, TotalFee: total, Cascaded: cascaded}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.LoansReturned.Inc()
	if out.TotalFee > 0 {
		if err := s.notifier.Notify(ctx, loan.UserID, "Fine recorded",
			fmt.Sprintf("A fine of %.0f was recorded for your returned book (condition: %s). Please settle it before borrowing again.", out.TotalFee, condition)); err != nil {
			s.log.Warn("fine notification failed", "loan_id", loanID, "err", err)
		}
	}
	s.record(ctx, "loan_returned",
		fmt.Sprintf("loan %d returned, condition %s, total fee %.0f", loanID, condition, out.TotalFee), "info", &loan.UserID)
	return out, nil
}

// cancelLocked performs the cancel transition inside the caller's
// transaction: the book row lock is already held.
func (s *service) cancelLocked(ctx context.Context, tx *sql.Tx, loan *model.Loan) error {
	if err := s.r.MarkCancelled(ctx, tx, loan.ID); err != nil {
		return err
	}
	_, err := s.reservations.ReleaseCopy(ctx, tx, loan.BookID)
	return err
}

func (s *service) Cancel(ctx context.Context, userID, loanID int64) error {
	loan, err := s.r.Get(ctx, loanID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return makeErr(ErrLoanNotFound)
		}
		return err
	}
	if loan.UserID != userID {
		return makeErr(ErrNotOwner)
	}

	err = s.db.WithinTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.books.LockForUpdate(ctx, tx, loan.BookID); err != nil {
			return err
		}
		loan, err = s.r.GetForUpdate(ctx, tx, loanID)
		if err != nil {
			return err
		}
		if loan.Status != model.LoanPendingPickup {
			return makeErr(ErrNotPending)
		}
		return s.cancelLocked(ctx, tx, loan)
	})
	if err != nil {
		return err
	}

	s.record(ctx, "loan_cancelled", fmt.Sprintf("loan %d cancelled before pickup", loanID), "info", &userID)
	return nil
}

func (s *service) MyLoans(ctx context.Context, userID int64) ([]model.Loan, error) {
	return s.r.ListByUser(ctx, userID)
}

func (s *service) MyOverdue(ctx context.Context, userID int64) ([]model.Loan, error) {
	return s.r.ListOverdue(ctx, userID)
}

// dueSoonWindow bounds how far ahead MyDueSoon looks.
const dueSoonWindow = 72 * time.Hour

func (s *service) MyDueSoon(ctx context.Context, userID int64) ([]model.Loan, error) {
	return s.r.ListDueSoon(ctx, userID, time.Now().UTC().Add(dueSoonWindow))
}

func (s *service) PendingPickups(ctx context.Context) ([]model.Loan, error) {
	return s.r.ListPendingPickup(ctx)
}

func (s *service) CancelExpiredPickups(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	ids, err := s.r.ExpiredPickupIDs(ctx, now)
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for _, id := range ids {
		err := s.db.WithinTx(ctx, func(tx *sql.Tx) error {
			loan, err := s.r.Get(ctx, id)
			if err != nil {
				return err
			}
			if _, err := s.books.LockForUpdate(ctx, tx, loan.BookID); err != nil {
				return err
			}
			loan, err = s.r.GetForUpdate(ctx, tx, id)
			if err != nil {
				return err
			}
			// Re-check under the lock: the loan may have been picked up or
			// cancelled since the id scan.
			if loan.Status != model.LoanPendingPickup {
				return makeErr(ErrNotPending)
			}
			if loan.PickupUntil == nil || !now.After(*loan.PickupUntil) {
				return makeErr(ErrNotPending)
			}
			return s.cancelLocked(ctx, tx, loan)
		})
		if err != nil {
			if Code(err) == ErrNotPending {
				continue
			}
			return cancelled, err
		}
		cancelled++
		metrics.PickupsSweptTotal.Inc()
		s.record(ctx, "loan_pickup_swept", fmt.Sprintf("loan %d auto-cancelled, pickup deadline lapsed", id), "warning", nil)
	}
	return cancelled, nil
}
