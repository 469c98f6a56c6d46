package loansvc_test

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"time"

	"bookloan/model"
	"bookloan/service/fee"
	loansvc "bookloan/service/loan"
)

type txStub struct{}

func (txStub) WithinTx(ctx context.Context, fn func(tx *sql.Tx) error) error { return fn(nil) }

type repoMock struct {
	insertFn         func(ctx context.Context, tx *sql.Tx, l *model.Loan) (int64, error)
	getFn            func(ctx context.Context, id int64) (*model.Loan, error)
	getForUpdateFn   func(ctx context.Context, tx *sql.Tx, id int64) (*model.Loan, error)
	countActiveFn    func(ctx context.Context, tx *sql.Tx, userID int64) (int, error)
	hasActiveFn      func(ctx context.Context, tx *sql.Tx, userID, bookID int64) (bool, error)
	markBorrowedFn   func(ctx context.Context, tx *sql.Tx, id int64, due time.Time) error
	markRenewedFn    func(ctx context.Context, tx *sql.Tx, id int64, due time.Time, renewCount int) error
	markReturnedFn   func(ctx context.Context, tx *sql.Tx, id int64, returnedAt time.Time, condition string, lateFee, damageFee float64) error
	markCancelledFn  func(ctx context.Context, tx *sql.Tx, id int64) error
	listByUserFn     func(ctx context.Context, userID int64) ([]model.Loan, error)
	listPendingFn    func(ctx context.Context) ([]model.Loan, error)
	listOverdueFn    func(ctx context.Context, userID int64) ([]model.Loan, error)
	listDueSoonFn    func(ctx context.Context, userID int64, before time.Time) ([]model.Loan, error)
	expiredPickupsFn func(ctx context.Context, now time.Time) ([]int64, error)
}

func (m *repoMock) Insert(ctx context.Context, tx *sql.Tx, l *model.Loan) (int64, error) {
	return m.insertFn(ctx, tx, l)
}
func (m *repoMock) Get(ctx context.Context, id int64) (*model.Loan, error) { return m.getFn(ctx, id) }
func (m *repoMock) GetForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*model.Loan, error) {
	return m.getForUpdateFn(ctx, tx, id)
}
func (m *repoMock) CountActive(ctx context.Context, tx *sql.Tx, userID int64) (int, error) {
	return m.countActiveFn(ctx, tx, userID)
}
func (m *repoMock) HasActiveForBook(ctx context.Context, tx *sql.Tx, userID, bookID int64) (bool, error) {
	return m.hasActiveFn(ctx, tx, userID, bookID)
}
func (m *repoMock) MarkBorrowed(ctx context.Context, tx *sql.Tx, id int64, due time.Time) error {
	return m.markBorrowedFn(ctx, tx, id, due)
}
func (m *repoMock) MarkRenewed(ctx context.Context, tx *sql.Tx, id int64, due time.Time, renewCount int) error {
	return m.markRenewedFn(ctx, tx, id, due, renewCount)
}
func (m *repoMock) MarkReturned(ctx context.Context, tx *sql.Tx, id int64, returnedAt time.Time, condition string, lateFee, damageFee float64) error {
	return m.markReturnedFn(ctx, tx, id, returnedAt, condition, lateFee, damageFee)
}
func (m *repoMock) MarkCancelled(ctx context.Context, tx *sql.Tx, id int64) error {
	return m.markCancelledFn(ctx, tx, id)
}
func (m *repoMock) ListByUser(ctx context.Context, userID int64) ([]model.Loan, error) {
	return m.listByUserFn(ctx, userID)
}
func (m *repoMock) ListPendingPickup(ctx context.Context) ([]model.Loan, error) {
	return m.listPendingFn(ctx)
}
func (m *repoMock) ListOverdue(ctx context.Context, userID int64) ([]model.Loan, error) {
	return m.listOverdueFn(ctx, userID)
}
func (m *repoMock) ListDueSoon(ctx context.Context, userID int64, before time.Time) ([]model.Loan, error) {
	return m.listDueSoonFn(ctx, userID, before)
}
func (m *repoMock) ExpiredPickupIDs(ctx context.Context, now time.Time) ([]int64, error) {
	return m.expiredPickupsFn(ctx, now)
}

type booksMock struct {
	lockFn func(ctx context.Context, tx *sql.Tx, id int64) (*model.Book, error)
}

func (m *booksMock) LockForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*model.Book, error) {
	return m.lockFn(ctx, tx, id)
}

type ledgerMock struct {
	adjustFn    func(ctx context.Context, tx *sql.Tx, bookID int64, delta int) (int, error)
	incrementFn func(ctx context.Context, tx *sql.Tx, bookID int64) error
}

func (m *ledgerMock) AdjustAvailable(ctx context.Context, tx *sql.Tx, bookID int64, delta int) (int, error) {
	return m.adjustFn(ctx, tx, bookID, delta)
}
func (m *ledgerMock) IncrementLoanCount(ctx context.Context, tx *sql.Tx, bookID int64) error {
	if m.incrementFn == nil {
		return nil
	}
	return m.incrementFn(ctx, tx, bookID)
}

type reservationsMock struct {
	releaseFn    func(ctx context.Context, tx *sql.Tx, bookID int64) (bool, error)
	readyForFn   func(ctx context.Context, tx *sql.Tx, userID, bookID int64) (*model.Reservation, error)
	completeFn   func(ctx context.Context, tx *sql.Tx, resID int64) error
	hasWaitingFn func(ctx context.Context, tx *sql.Tx, bookID int64) (bool, error)
}

func (m *reservationsMock) ReleaseCopy(ctx context.Context, tx *sql.Tx, bookID int64) (bool, error) {
	if m.releaseFn == nil {
		return false, nil
	}
	return m.releaseFn(ctx, tx, bookID)
}
func (m *reservationsMock) ReadyFor(ctx context.Context, tx *sql.Tx, userID, bookID int64) (*model.Reservation, error) {
	if m.readyForFn == nil {
		return nil, nil
	}
	return m.readyForFn(ctx, tx, userID, bookID)
}
func (m *reservationsMock) CompleteReady(ctx context.Context, tx *sql.Tx, resID int64) error {
	return m.completeFn(ctx, tx, resID)
}
func (m *reservationsMock) HasWaiting(ctx context.Context, tx *sql.Tx, bookID int64) (bool, error) {
	if m.hasWaitingFn == nil {
		return false, nil
	}
	return m.hasWaitingFn(ctx, tx, bookID)
}

type finesMock struct {
	insertFn      func(ctx context.Context, tx *sql.Tx, f *model.Fine) (int64, error)
	unpaidTotalFn func(ctx context.Context, userID int64) (float64, error)
}

func (m *finesMock) Insert(ctx context.Context, tx *sql.Tx, f *model.Fine) (int64, error) {
	return m.insertFn(ctx, tx, f)
}
func (m *finesMock) UnpaidTotal(ctx context.Context, userID int64) (float64, error) {
	if m.unpaidTotalFn == nil {
		return 0, nil
	}
	return m.unpaidTotalFn(ctx, userID)
}

type usersMock struct {
	getFn        func(ctx context.Context, id int64) (*model.User, error)
	addFineFn    func(ctx context.Context, tx *sql.Tx, userID int64, amount float64) error
	violationsFn func(ctx context.Context, tx *sql.Tx, userID int64, lockThreshold int) (bool, error)
}

func (m *usersMock) Get(ctx context.Context, id int64) (*model.User, error) {
	if m.getFn == nil {
		return &model.User{ID: id, Role: model.RoleMember}, nil
	}
	return m.getFn(ctx, id)
}
func (m *usersMock) AddFine(ctx context.Context, tx *sql.Tx, userID int64, amount float64) error {
	return m.addFineFn(ctx, tx, userID, amount)
}
func (m *usersMock) IncrementViolations(ctx context.Context, tx *sql.Tx, userID int64, lockThreshold int) (bool, error) {
	return m.violationsFn(ctx, tx, userID, lockThreshold)
}

type notifierMock struct{}

func (notifierMock) Notify(ctx context.Context, userID int64, title, body string) error { return nil }

type auditMock struct{}

func (auditMock) Record(ctx context.Context, event, detail, severity string, actorID *int64) error {
	return nil
}

type settingsMock struct{}

func (settingsMock) MaxConcurrentLoans(ctx context.Context) int     { return 5 }
func (settingsMock) LoanDurationDays(ctx context.Context) int       { return 14 }
func (settingsMock) PickupHoldHours(ctx context.Context) int        { return 48 }
func (settingsMock) RenewalLimit(ctx context.Context) int           { return 1 }
func (settingsMock) RenewalExtensionDays(ctx context.Context) int   { return 7 }
func (settingsMock) ViolationLockThreshold(ctx context.Context) int { return 3 }
func (settingsMock) FeeRates(ctx context.Context) fee.Rates {
	return fee.Rates{GraceMinutes: 60, Hourly: 2000, Daily: 10000}
}

func discardLog() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newSvc(r *repoMock, b *booksMock, l *ledgerMock, res *reservationsMock, f *finesMock, u *usersMock) loansvc.Service {
	return loansvc.New(txStub{}, r, b, l, res, f, u, notifierMock{}, auditMock{}, settingsMock{}, discardLog())
}

func okBooks(available int) *booksMock {
	return &booksMock{lockFn: func(ctx context.Context, tx *sql.Tx, id int64) (*model.Book, error) {
		return &model.Book{ID: id, Value: 100000, AvailableCopies: available, TotalCopies: 5}, nil
	}}
}

func TestRequest_RejectsLockedAccount(t *testing.T) {
	u := &usersMock{getFn: func(ctx context.Context, id int64) (*model.User, error) {
		return &model.User{ID: id, IsLocked: true}, nil
	}}
	s := newSvc(&repoMock{}, okBooks(1), &ledgerMock{}, &reservationsMock{}, &finesMock{}, u)

	_, err := s.Request(context.Background(), 1, 10)
	if loansvc.Code(err) != loansvc.ErrAccountLocked {
		t.Fatalf("got %v; want ACCOUNT_LOCKED", err)
	}
}

func TestRequest_RejectsUnpaidFines(t *testing.T) {
	f := &finesMock{unpaidTotalFn: func(ctx context.Context, userID int64) (float64, error) {
		return 12000, nil
	}}
	s := newSvc(&repoMock{}, okBooks(1), &ledgerMock{}, &reservationsMock{}, f, &usersMock{})

	_, err := s.Request(context.Background(), 1, 10)
	if loansvc.Code(err) != loansvc.ErrUnpaidFines {
		t.Fatalf("got %v; want UNPAID_FINES", err)
	}
}

func TestRequest_RejectsAtLoanLimit(t *testing.T) {
	r := &repoMock{
		countActiveFn: func(ctx context.Context, tx *sql.Tx, userID int64) (int, error) { return 5, nil },
	}
	s := newSvc(r, okBooks(1), &ledgerMock{}, &reservationsMock{}, &finesMock{}, &usersMock{})

	_, err := s.Request(context.Background(), 1, 10)
	if loansvc.Code(err) != loansvc.ErrLimitReached {
		t.Fatalf("got %v; want LIMIT_REACHED", err)
	}
}

func TestRequest_RejectsDuplicateActiveLoan(t *testing.T) {
	r := &repoMock{
		countActiveFn: func(ctx context.Context, tx *sql.Tx, userID int64) (int, error) { return 1, nil },
		hasActiveFn: func(ctx context.Context, tx *sql.Tx, userID, bookID int64) (bool, error) {
			return true, nil
		},
	}
	s := newSvc(r, okBooks(1), &ledgerMock{}, &reservationsMock{}, &finesMock{}, &usersMock{})

	_, err := s.Request(context.Background(), 1, 10)
	if loansvc.Code(err) != loansvc.ErrDuplicateLoan {
		t.Fatalf("got %v; want DUPLICATE_LOAN", err)
	}
}

func TestRequest_RejectsWithoutStock(t *testing.T) {
	r := &repoMock{
		countActiveFn: func(ctx context.Context, tx *sql.Tx, userID int64) (int, error) { return 0, nil },
		hasActiveFn: func(ctx context.Context, tx *sql.Tx, userID, bookID int64) (bool, error) {
			return false, nil
		},
	}
	s := newSvc(r, okBooks(0), &ledgerMock{}, &reservationsMock{}, &finesMock{}, &usersMock{})

	_, err := s.Request(context.Background(), 1, 10)
	if loansvc.Code(err) != loansvc.ErrNoStock {
		t.Fatalf("got %v; want NO_STOCK", err)
	}
}

func TestRequest_DecrementsStockOnSuccess(t *testing.T) {
	var delta int
	r := &repoMock{
		countActiveFn: func(ctx context.Context, tx *sql.Tx, userID int64) (int, error) { return 0, nil },
		hasActiveFn: func(ctx context.Context, tx *sql.Tx, userID, bookID int64) (bool, error) {
			return false, nil
		},
		insertFn: func(ctx context.Context, tx *sql.Tx, l *model.Loan) (int64, error) {
			if l.Status != model.LoanPendingPickup {
				t.Fatalf("status %s; want pending_pickup", l.Status)
			}
			if l.PickupUntil == nil {
				t.Fatal("pickup deadline not set")
			}
			return 42, nil
		},
	}
	l := &ledgerMock{adjustFn: func(ctx context.Context, tx *sql.Tx, bookID int64, d int) (int, error) {
		delta = d
		return 0, nil
	}}
	s := newSvc(r, okBooks(1), l, &reservationsMock{}, &finesMock{}, &usersMock{})

	loan, err := s.Request(context.Background(), 1, 10)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if loan.ID != 42 {
		t.Fatalf("loan id %d; want 42", loan.ID)
	}
	if delta != -1 {
		t.Fatalf("availability delta %d; want -1", delta)
	}
}

// A requester holding an unexpired ready reservation takes the earmarked
// copy: the reservation completes and public availability never moves,
// even at zero stock.
func TestRequest_PriorityClaimSkipsPublicStock(t *testing.T) {
	hold := time.Now().UTC().Add(24 * time.Hour)
	ready := &model.Reservation{ID: 6, UserID: 1, BookID: 10, Status: model.ReservationReady, HoldUntil: &hold}

	var completed, adjusted bool
	r := &repoMock{
		countActiveFn: func(ctx context.Context, tx *sql.Tx, userID int64) (int, error) { return 0, nil },
		hasActiveFn: func(ctx context.Context, tx *sql.Tx, userID, bookID int64) (bool, error) {
			return false, nil
		},
		insertFn: func(ctx context.Context, tx *sql.Tx, l *model.Loan) (int64, error) { return 42, nil },
	}
	res := &reservationsMock{
		readyForFn: func(ctx context.Context, tx *sql.Tx, userID, bookID int64) (*model.Reservation, error) {
			return ready, nil
		},
		completeFn: func(ctx context.Context, tx *sql.Tx, resID int64) error {
			if resID != 6 {
				t.Fatalf("completed reservation %d; want 6", resID)
			}
			completed = true
			return nil
		},
	}
	l := &ledgerMock{adjustFn: func(ctx context.Context, tx *sql.Tx, bookID int64, d int) (int, error) {
		adjusted = true
		return 0, nil
	}}
	s := newSvc(r, okBooks(0), l, res, &finesMock{}, &usersMock{})

	if _, err := s.Request(context.Background(), 1, 10); err != nil {
		t.Fatalf("Request: %v", err)
	}
	if !completed {
		t.Fatal("ready reservation was not completed")
	}
	if adjusted {
		t.Fatal("public availability moved during a priority claim")
	}
}

// A lapsed hold gives no priority: the request falls through to the
// public stock check.
func TestRequest_ExpiredHoldGivesNoPriority(t *testing.T) {
	hold := time.Now().UTC().Add(-time.Hour)
	stale := &model.Reservation{ID: 6, UserID: 1, BookID: 10, Status: model.ReservationReady, HoldUntil: &hold}

	r := &repoMock{
		countActiveFn: func(ctx context.Context, tx *sql.Tx, userID int64) (int, error) { return 0, nil },
		hasActiveFn: func(ctx context.Context, tx *sql.Tx, userID, bookID int64) (bool, error) {
			return false, nil
		},
	}
	res := &reservationsMock{
		readyForFn: func(ctx context.Context, tx *sql.Tx, userID, bookID int64) (*model.Reservation, error) {
			return stale, nil
		},
	}
	s := newSvc(r, okBooks(0), &ledgerMock{}, res, &finesMock{}, &usersMock{})

	_, err := s.Request(context.Background(), 1, 10)
	if loansvc.Code(err) != loansvc.ErrNoStock {
		t.Fatalf("got %v; want NO_STOCK", err)
	}
}

func TestConfirmPickup_SetsDueDate(t *testing.T) {
	until := time.Now().UTC().Add(time.Hour)
	pending := &model.Loan{ID: 42, UserID: 1, BookID: 10, Status: model.LoanPendingPickup, PickupUntil: &until}

	r := &repoMock{
		getFn: func(ctx context.Context, id int64) (*model.Loan, error) { return pending, nil },
		getForUpdateFn: func(ctx context.Context, tx *sql.Tx, id int64) (*model.Loan, error) {
			return pending, nil
		},
		markBorrowedFn: func(ctx context.Context, tx *sql.Tx, id int64, due time.Time) error {
			if time.Until(due) < 13*24*time.Hour {
				t.Fatalf("due %s too close; want about 14 days out", due)
			}
			return nil
		},
	}
	s := newSvc(r, okBooks(1), &ledgerMock{}, &reservationsMock{}, &finesMock{}, &usersMock{})

	loan, err := s.ConfirmPickup(context.Background(), 42)
	if err != nil {
		t.Fatalf("ConfirmPickup: %v", err)
	}
	if loan.Status != model.LoanBorrowed {
		t.Fatalf("status %s; want borrowed", loan.Status)
	}
}

// Confirming after the deadline cancels the loan, releases its copy and
// reports the expiry. The cancel must still happen.
func TestConfirmPickup_ExpiredAutoCancels(t *testing.T) {
	until := time.Now().UTC().Add(-time.Hour)
	pending := &model.Loan{ID: 42, UserID: 1, BookID: 10, Status: model.LoanPendingPickup, PickupUntil: &until}

	var cancelled, released bool
	r := &repoMock{
		getFn: func(ctx context.Context, id int64) (*model.Loan, error) { return pending, nil },
		getForUpdateFn: func(ctx context.Context, tx *sql.Tx, id int64) (*model.Loan, error) {
			return pending, nil
		},
		markCancelledFn: func(ctx context.Context, tx *sql.Tx, id int64) error {
			cancelled = true
			return nil
		},
	}
	res := &reservationsMock{releaseFn: func(ctx context.Context, tx *sql.Tx, bookID int64) (bool, error) {
		released = true
		return false, nil
	}}
	s := newSvc(r, okBooks(0), &ledgerMock{}, res, &finesMock{}, &usersMock{})

	_, err := s.ConfirmPickup(context.Background(), 42)
	if loansvc.Code(err) != loansvc.ErrPickupExpired {
		t.Fatalf("got %v; want PICKUP_EXPIRED", err)
	}
	if !cancelled || !released {
		t.Fatalf("cancelled=%v released=%v; want both", cancelled, released)
	}
}

func TestRenew_Guards(t *testing.T) {
	now := time.Now().UTC()
	future := now.Add(48 * time.Hour)
	past := now.Add(-48 * time.Hour)

	cases := []struct {
		name    string
		loan    model.Loan
		waiting bool
		want    loansvc.ErrCode
	}{
		{"not borrowed", model.Loan{Status: model.LoanReturned, DueAt: future}, false, loansvc.ErrNotBorrowed},
		{"renewal limit", model.Loan{Status: model.LoanBorrowed, DueAt: future, RenewCount: 1}, false, loansvc.ErrRenewLimit},
		{"already overdue", model.Loan{Status: model.LoanBorrowed, DueAt: past}, false, loansvc.ErrOverdue},
		{"reserved by others", model.Loan{Status: model.LoanBorrowed, DueAt: future}, true, loansvc.ErrBookReserved},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			loan := tc.loan
			loan.ID, loan.UserID, loan.BookID = 42, 1, 10
			r := &repoMock{
				getFn: func(ctx context.Context, id int64) (*model.Loan, error) { return &loan, nil },
				getForUpdateFn: func(ctx context.Context, tx *sql.Tx, id int64) (*model.Loan, error) {
					return &loan, nil
				},
			}
			res := &reservationsMock{hasWaitingFn: func(ctx context.Context, tx *sql.Tx, bookID int64) (bool, error) {
				return tc.waiting, nil
			}}
			s := newSvc(r, okBooks(0), &ledgerMock{}, res, &finesMock{}, &usersMock{})

			_, err := s.Renew(context.Background(), 1, 42)
			if loansvc.Code(err) != tc.want {
				t.Fatalf("got %v; want %s", err, tc.want)
			}
		})
	}
}

func TestRenew_ExtendsDueDate(t *testing.T) {
	due := time.Now().UTC().Add(48 * time.Hour)
	loan := &model.Loan{ID: 42, UserID: 1, BookID: 10, Status: model.LoanBorrowed, DueAt: due}

	r := &repoMock{
		getFn: func(ctx context.Context, id int64) (*model.Loan, error) { return loan, nil },
		getForUpdateFn: func(ctx context.Context, tx *sql.Tx, id int64) (*model.Loan, error) {
			return loan, nil
		},
		markRenewedFn: func(ctx context.Context, tx *sql.Tx, id int64, newDue time.Time, renewCount int) error {
			if !newDue.Equal(due.Add(7 * 24 * time.Hour)) {
				t.Fatalf("new due %s; want old due plus 7 days", newDue)
			}
			if renewCount != 1 {
				t.Fatalf("renew count %d; want 1", renewCount)
			}
			return nil
		},
	}
	s := newSvc(r, okBooks(0), &ledgerMock{}, &reservationsMock{}, &finesMock{}, &usersMock{})

	out, err := s.Renew(context.Background(), 1, 42)
	if err != nil {
		t.Fatalf("Renew: %v", err)
	}
	if out.RenewCount != 1 {
		t.Fatalf("renew count %d; want 1", out.RenewCount)
	}
}

func TestReturn_RejectsUnknownCondition(t *testing.T) {
	s := newSvc(&repoMock{}, okBooks(0), &ledgerMock{}, &reservationsMock{}, &finesMock{}, &usersMock{})

	_, err := s.Return(context.Background(), 42, "slightly scuffed")
	if loansvc.Code(err) != loansvc.ErrBadCondition {
		t.Fatalf("got %v; want BAD_CONDITION", err)
	}
}

func TestReturn_OnTimeGoodNoFine(t *testing.T) {
	due := time.Now().UTC().Add(24 * time.Hour)
	loan := &model.Loan{ID: 42, UserID: 1, BookID: 10, Status: model.LoanBorrowed, DueAt: due}

	var released bool
	r := &repoMock{
		getFn: func(ctx context.Context, id int64) (*model.Loan, error) { return loan, nil },
		getForUpdateFn: func(ctx context.Context, tx *sql.Tx, id int64) (*model.Loan, error) {
			return loan, nil
		},
		markReturnedFn: func(ctx context.Context, tx *sql.Tx, id int64, returnedAt time.Time, condition string, lateFee, damageFee float64) error {
			if lateFee != 0 || damageFee != 0 {
				t.Fatalf("fees %.0f/%.0f; want 0/0", lateFee, damageFee)
			}
			return nil
		},
	}
	res := &reservationsMock{releaseFn: func(ctx context.Context, tx *sql.Tx, bookID int64) (bool, error) {
		released = true
		return false, nil
	}}
	f := &finesMock{insertFn: func(ctx context.Context, tx *sql.Tx, fine *model.Fine) (int64, error) {
		t.Fatal("fine recorded for a clean on-time return")
		return 0, nil
	}}
	s := newSvc(r, okBooks(0), &ledgerMock{}, res, f, &usersMock{})

	out, err := s.Return(context.Background(), 42, model.ConditionGood)
	if err != nil {
		t.Fatalf("Return: %v", err)
	}
	if out.TotalFee != 0 {
		t.Fatalf("total fee %.0f; want 0", out.TotalFee)
	}
	if !released {
		t.Fatal("returned copy was never released")
	}
}

// Three days late with major damage: late fee 3x10000 plus book value
// 100000 plus 15000 surcharge, one fine row, balance bumped, violation
// counted.
func TestReturn_LateDamagedCreatesFine(t *testing.T) {
	due := time.Now().UTC().Add(-72 * time.Hour)
	loan := &model.Loan{ID: 42, UserID: 1, BookID: 10, Status: model.LoanBorrowed, DueAt: due}

	var fineAmount, balanceAdded float64
	var violations bool
	r := &repoMock{
		getFn: func(ctx context.Context, id int64) (*model.Loan, error) { return loan, nil },
		getForUpdateFn: func(ctx context.Context, tx *sql.Tx, id int64) (*model.Loan, error) {
			return loan, nil
		},
		markReturnedFn: func(ctx context.Context, tx *sql.Tx, id int64, returnedAt time.Time, condition string, lateFee, damageFee float64) error {
			return nil
		},
	}
	f := &finesMock{insertFn: func(ctx context.Context, tx *sql.Tx, fine *model.Fine) (int64, error) {
		fineAmount = fine.Amount
		if fine.Category != model.FineDamagedBook {
			t.Fatalf("category %s; want damaged_book", fine.Category)
		}
		if fine.LoanID == nil || *fine.LoanID != 42 {
			t.Fatal("fine not linked to the loan")
		}
		return 9, nil
	}}
	u := &usersMock{
		addFineFn: func(ctx context.Context, tx *sql.Tx, userID int64, amount float64) error {
			balanceAdded = amount
			return nil
		},
		violationsFn: func(ctx context.Context, tx *sql.Tx, userID int64, lockThreshold int) (bool, error) {
			violations = true
			return false, nil
		},
	}
	s := newSvc(r, okBooks(0), &ledgerMock{}, &reservationsMock{}, f, u)

	out, err := s.Return(context.Background(), 42, model.ConditionMajor)
	if err != nil {
		t.Fatalf("Return: %v", err)
	}
	want := 3*10000.0 + 100000 + 15000
	if out.TotalFee != want || fineAmount != want || balanceAdded != want {
		t.Fatalf("fees total=%.0f fine=%.0f balance=%.0f; want %.0f", out.TotalFee, fineAmount, balanceAdded, want)
	}
	if !violations {
		t.Fatal("violation was not counted")
	}
}

func TestCancel_SecondCancelRejected(t *testing.T) {
	loan := &model.Loan{ID: 42, UserID: 1, BookID: 10, Status: model.LoanPendingPickup}

	var releases int
	r := &repoMock{
		getFn: func(ctx context.Context, id int64) (*model.Loan, error) { return loan, nil },
		getForUpdateFn: func(ctx context.Context, tx *sql.Tx, id int64) (*model.Loan, error) {
			return loan, nil
		},
		markCancelledFn: func(ctx context.Context, tx *sql.Tx, id int64) error {
			loan.Status = model.LoanCancelled
			return nil
		},
	}
	res := &reservationsMock{releaseFn: func(ctx context.Context, tx *sql.Tx, bookID int64) (bool, error) {
		releases++
		return false, nil
	}}
	s := newSvc(r, okBooks(0), &ledgerMock{}, res, &finesMock{}, &usersMock{})

	if err := s.Cancel(context.Background(), 1, 42); err != nil {
		t.Fatalf("first Cancel: %v", err)
	}
	err := s.Cancel(context.Background(), 1, 42)
	if loansvc.Code(err) != loansvc.ErrNotPending {
		t.Fatalf("second cancel got %v; want NOT_PENDING", err)
	}
	if releases != 1 {
		t.Fatalf("copy released %d times; want exactly once", releases)
	}
}

func TestCancelExpiredPickups_SkipsConfirmedLoans(t *testing.T) {
	past := time.Now().UTC().Add(-time.Hour)
	state := map[int64]*model.Loan{
		1: {ID: 1, UserID: 1, BookID: 10, Status: model.LoanPendingPickup, PickupUntil: &past},
		2: {ID: 2, UserID: 2, BookID: 11, Status: model.LoanBorrowed},
	}

	var cancelled []int64
	r := &repoMock{
		expiredPickupsFn: func(ctx context.Context, now time.Time) ([]int64, error) {
			return []int64{1, 2}, nil
		},
		getFn: func(ctx context.Context, id int64) (*model.Loan, error) { return state[id], nil },
		getForUpdateFn: func(ctx context.Context, tx *sql.Tx, id int64) (*model.Loan, error) {
			return state[id], nil
		},
		markCancelledFn: func(ctx context.Context, tx *sql.Tx, id int64) error {
			cancelled = append(cancelled, id)
			return nil
		},
	}
	s := newSvc(r, okBooks(0), &ledgerMock{}, &reservationsMock{}, &finesMock{}, &usersMock{})

	n, err := s.CancelExpiredPickups(context.Background())
	if err != nil {
		t.Fatalf("CancelExpiredPickups: %v", err)
	}
	if n != 1 {
		t.Fatalf("swept %d loans; want 1", n)
	}
	if len(cancelled) != 1 || cancelled[0] != 1 {
		t.Fatalf("cancelled %v; want [1]", cancelled)
	}
}

func TestMyDueSoon_UsesThreeDayWindow(t *testing.T) {
	var gotUser int64
	var gotBefore time.Time
	r := &repoMock{listDueSoonFn: func(ctx context.Context, userID int64, before time.Time) ([]model.Loan, error) {
		gotUser, gotBefore = userID, before
		return []model.Loan{{ID: 5, UserID: userID, Status: model.LoanBorrowed}}, nil
	}}
	s := newSvc(r, okBooks(0), &ledgerMock{}, &reservationsMock{}, &finesMock{}, &usersMock{})

	loans, err := s.MyDueSoon(context.Background(), 7)
	if err != nil {
		t.Fatalf("MyDueSoon: %v", err)
	}
	if len(loans) != 1 || loans[0].ID != 5 {
		t.Fatalf("got %v; want loan 5", loans)
	}
	if gotUser != 7 {
		t.Fatalf("queried user %d; want 7", gotUser)
	}
	window := time.Until(gotBefore)
	if window < 71*time.Hour || window > 73*time.Hour {
		t.Fatalf("window %v; want about 72h", window)
	}
}
