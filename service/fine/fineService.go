package finesvc

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"bookloan/model"
	"bookloan/repository/payment"
)

type ErrCode string

const (
	ErrNotFound       ErrCode = "FINE_NOT_FOUND"
	ErrNotOwner       ErrCode = "NOT_OWNER"
	ErrNotUnpaid      ErrCode = "NOT_UNPAID"
	ErrUnknownInvoice ErrCode = "UNKNOWN_INVOICE"
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
	Get(ctx context.Context, id int64) (*model.Fine, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*model.Fine, error)
	ListByUser(ctx context.Context, userID int64) ([]model.Fine, error)
	UnpaidTotal(ctx context.Context, userID int64) (float64, error)
	MarkPaid(ctx context.Context, tx *sql.Tx, id int64, settledAt time.Time) error
	MarkWaived(ctx context.Context, tx *sql.Tx, id int64, reason string, settledAt time.Time) error
	AttachInvoice(ctx context.Context, id int64, invoiceID, link string) error
	FindByInvoiceID(ctx context.Context, invoiceID string) (*model.Fine, error)
}

type Identity interface {
	Get(ctx context.Context, id int64) (*model.User, error)
	PayFine(ctx context.Context, tx *sql.Tx, userID int64, amount float64) error
}

type Notifier interface {
	Notify(ctx context.Context, userID int64, title, body string) error
}

type Audit interface {
	Record(ctx context.Context, event, detail, severity string, actorID *int64) error
}

type Service interface {
	MyFines(ctx context.Context, userID int64) ([]model.Fine, error)
	UnpaidTotal(ctx context.Context, userID int64) (float64, error)

	// CreatePaymentLink issues an external invoice for an unpaid fine and
	// attaches its id and URL to the fine record.
	CreatePaymentLink(ctx context.Context, userID, fineID int64) (string, error)

	// SettleByInvoice marks the fine behind a paid invoice as settled.
	// Called from the payment provider's webhook after signature checks.
	SettleByInvoice(ctx context.Context, invoiceID string) error

	// Pay settles a fine in cash at the desk.
	Pay(ctx context.Context, staffID, fineID int64) error

	// Waive cancels a fine without payment. Admin only; the reason lands in
	// the fine description and the audit log.
	Waive(ctx context.Context, adminID, fineID int64, reason string) error
}

type service struct {
	db       TxRunner
	r        Repo
	users    Identity
	provider paymentrepo.Provider
	notifier Notifier
	audit    Audit
	log      *slog.Logger
}

func New(db TxRunner, r Repo, users Identity, provider paymentrepo.Provider, notifier Notifier, audit Audit, log *slog.Logger) Service {
	return &service{db: db, r: r, users: users, provider: provider, notifier: notifier, audit: audit, log: log}
}

func (s *service) record(ctx context.Context, event, detail, severity string, actorID *int64) {
	if err := s.audit.Record(ctx, event, detail, severity, actorID); err != nil {
		s.log.Warn("audit record failed", "event", event, "err", err)
	}
}

func (s *service) MyFines(ctx context.Context, userID int64) ([]model.Fine, error) {
	return s.r.ListByUser(ctx, userID)
}

func (s *service) UnpaidTotal(ctx context.Context, userID int64) (float64, error) {
	return s.r.UnpaidTotal(ctx, userID)
}

func (s *service) CreatePaymentLink(ctx context.Context, userID, fineID int64) (string, error) {
	f, err := s.r.Get(ctx, fineID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", makeErr(ErrNotFound)
		}
		return "", err
	}
	if f.UserID != userID {
		return "", makeErr(ErrNotOwner)
	}
	if f.Status != model.FineUnpaid {
		return "", makeErr(ErrNotUnpaid)
	}
	// Reuse an invoice that was already issued for this fine.
	if f.PaymentLink != nil && *f.PaymentLink != "" {
		return *f.PaymentLink, nil
	}

	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return "", err
	}

	inv, err := s.provider.CreateInvoice(paymentrepo.CreateInvoiceReq{
		ExternalID:  fmt.Sprintf("fine-%d", f.ID),
		Amount:      f.Amount,
		PayerEmail:  user.Email,
		Description: f.Description,
		ExpirySec:   24 * 3600,
	})
	if err != nil {
		return "", fmt.Errorf("create invoice: %w", err)
	}
	if err := s.r.AttachInvoice(ctx, f.ID, inv.InvoiceID, inv.InvoiceURL); err != nil {
		return "", err
	}

	s.record(ctx, "fine_invoice_created",
		fmt.Sprintf("invoice %s issued for fine %d (%.0f)", inv.InvoiceID, f.ID, f.Amount), "info", &userID)
	return inv.InvoiceURL, nil
}

func (s *service) SettleByInvoice(ctx context.Context, invoiceID string) error {
	f, err := s.r.FindByInvoiceID(ctx, invoiceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return makeErr(ErrUnknownInvoice)
		}
		return err
	}
	if err := s.settle(ctx, f.ID); err != nil {
		// A webhook retry for an already settled invoice is not a failure.
		if Code(err) == ErrNotUnpaid {
			s.log.Info("webhook for settled invoice ignored", "invoice_id", invoiceID)
			return nil
		}
		return err
	}

	s.record(ctx, "fine_paid_online",
		fmt.Sprintf("fine %d settled via invoice %s", f.ID, invoiceID), "info", nil)
	if err := s.notifier.Notify(ctx, f.UserID, "Fine paid",
		fmt.Sprintf("Your payment of %.0f was received. Fine #%d is settled.", f.Amount, f.ID)); err != nil {
		s.log.Warn("settlement notification failed", "fine_id", f.ID, "err", err)
	}
	return nil
}

func (s *service) Pay(ctx context.Context, staffID, fineID int64) error {
	if err := s.settle(ctx, fineID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return makeErr(ErrNotFound)
		}
		return err
	}
	s.record(ctx, "fine_paid_cash", fmt.Sprintf("fine %d settled at the desk", fineID), "info", &staffID)
	return nil
}

// settle flips one unpaid fine to paid and reduces the owner's balance,
// in a single transaction.
func (s *service) settle(ctx context.Context, fineID int64) error {
	return s.db.WithinTx(ctx, func(tx *sql.Tx) error {
		f, err := s.r.GetForUpdate(ctx, tx, fineID)
		if err != nil {
			return err
		}
		if f.Status != model.FineUnpaid {
			return makeErr(ErrNotUnpaid)
		}
		if err := s.r.MarkPaid(ctx, tx, fineID, time.Now().UTC()); err != nil {
			return err
		}
		return s.users.PayFine(ctx, tx, f.UserID, f.Amount)
	})
}

func (s *service) Waive(ctx context.Context, adminID, fineID int64, reason string) error {
	var waived *model.Fine
	err := s.db.WithinTx(ctx, func(tx *sql.Tx) error {
		f, err := s.r.GetForUpdate(ctx, tx, fineID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return makeErr(ErrNotFound)
			}
			return err
		}
		if f.Status != model.FineUnpaid {
			return makeErr(ErrNotUnpaid)
		}
		if err := s.r.MarkWaived(ctx, tx, fineID, reason, time.Now().UTC()); err != nil {
			return err
		}
		// Waiving also clears the amount from the outstanding balance.
		if err := s.users.PayFine(ctx, tx, f.UserID, f.Amount); err != nil {
			return err
		}
		waived = f
		return nil
	})
	if err != nil {
		return err
	}

	s.record(ctx, "fine_waived",
		fmt.Sprintf("fine %d (%.0f) waived: %s", fineID, waived.Amount, reason), "warning", &adminID)
	return nil
}
