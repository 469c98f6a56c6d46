// Package settingssvc reads business settings from the system_settings
// table with hardcoded fallbacks, so an empty table still yields a working
// engine. Store errors are logged and fall back to the default.
package settingssvc

import (
	"context"
	"log/slog"
	"strconv"

	"bookloan/service/fee"
)

// Setting keys and their fallback defaults.
const (
	KeyMaxConcurrentLoans     = "max_concurrent_loans"
	KeyLoanDurationDays       = "loan_duration_days"
	KeyPickupHoldHours        = "pickup_hold_hours"
	KeyReservationHoldHours   = "reservation_hold_hours"
	KeyGracePeriodMinutes     = "grace_period_minutes"
	KeyLateFeeHourly          = "late_fee_hourly"
	KeyLateFeeDaily           = "late_fee_daily"
	KeyRenewalLimit           = "renewal_limit"
	KeyRenewalExtensionDays   = "renewal_extension_days"
	KeyViolationLockThreshold = "violation_lock_threshold"
)

const (
	DefaultMaxConcurrentLoans     = 5
	DefaultLoanDurationDays       = 14
	DefaultPickupHoldHours        = 48
	DefaultReservationHoldHours   = 48
	DefaultGracePeriodMinutes     = 60
	DefaultLateFeeHourly          = 2000.0
	DefaultLateFeeDaily           = 10000.0
	DefaultRenewalLimit           = 1
	DefaultRenewalExtensionDays   = 7
	DefaultViolationLockThreshold = 3
)

type Repo interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	All(ctx context.Context) (map[string]string, error)
}

type Service interface {
	MaxConcurrentLoans(ctx context.Context) int
	LoanDurationDays(ctx context.Context) int
	PickupHoldHours(ctx context.Context) int
	ReservationHoldHours(ctx context.Context) int
	RenewalLimit(ctx context.Context) int
	RenewalExtensionDays(ctx context.Context) int
	ViolationLockThreshold(ctx context.Context) int
	FeeRates(ctx context.Context) fee.Rates

	All(ctx context.Context) (map[string]string, error)
	Update(ctx context.Context, values map[string]string) error
}

type service struct {
	r   Repo
	log *slog.Logger
}

func New(r Repo, log *slog.Logger) Service { return &service{r: r, log: log} }

func (s *service) getInt(ctx context.Context, key string, def int) int {
	raw, ok, err := s.r.Get(ctx, key)
	if err != nil {
		s.log.Warn("settings read failed, using default", "key", key, "err", err)
		return def
	}
	if !ok {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		s.log.Warn("bad setting value, using default", "key", key, "value", raw)
		return def
	}
	return v
}

func (s *service) getFloat(ctx context.Context, key string, def float64) float64 {
	raw, ok, err := s.r.Get(ctx, key)
	if err != nil {
		s.log.Warn("settings read failed, using default", "key", key, "err", err)
		return def
	}
	if !ok {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 {
		s.log.Warn("bad setting value, using default", "key", key, "value", raw)
		return def
	}
	return v
}

func (s *service) MaxConcurrentLoans(ctx context.Context) int {
	return s.getInt(ctx, KeyMaxConcurrentLoans, DefaultMaxConcurrentLoans)
}

func (s *service) LoanDurationDays(ctx context.Context) int {
	return s.getInt(ctx, KeyLoanDurationDays, DefaultLoanDurationDays)
}

func (s *service) PickupHoldHours(ctx context.Context) int {
	return s.getInt(ctx, KeyPickupHoldHours, DefaultPickupHoldHours)
}

func (s *service) ReservationHoldHours(ctx context.Context) int {
	return s.getInt(ctx, KeyReservationHoldHours, DefaultReservationHoldHours)
}

func (s *service) RenewalLimit(ctx context.Context) int {
	return s.getInt(ctx, KeyRenewalLimit, DefaultRenewalLimit)
}

func (s *service) RenewalExtensionDays(ctx context.Context) int {
	return s.getInt(ctx, KeyRenewalExtensionDays, DefaultRenewalExtensionDays)
}

func (s *service) ViolationLockThreshold(ctx context.Context) int {
	return s.getInt(ctx, KeyViolationLockThreshold, DefaultViolationLockThreshold)
}

func (s *service) FeeRates(ctx context.Context) fee.Rates {
	return fee.Rates{
		GraceMinutes: s.getInt(ctx, KeyGracePeriodMinutes, DefaultGracePeriodMinutes),
		Hourly:       s.getFloat(ctx, KeyLateFeeHourly, DefaultLateFeeHourly),
		Daily:        s.getFloat(ctx, KeyLateFeeDaily, DefaultLateFeeDaily),
	}
}

func (s *service) All(ctx context.Context) (map[string]string, error) {
	return s.r.All(ctx)
}

var knownKeys = map[string]bool{
	KeyMaxConcurrentLoans:     true,
	KeyLoanDurationDays:       true,
	KeyPickupHoldHours:        true,
	KeyReservationHoldHours:   true,
	KeyGracePeriodMinutes:     true,
	KeyLateFeeHourly:          true,
	KeyLateFeeDaily:           true,
	KeyRenewalLimit:           true,
	KeyRenewalExtensionDays:   true,
	KeyViolationLockThreshold: true,
}

func (s *service) Update(ctx context.Context, values map[string]string) error {
	for k, v := range values {
		if !knownKeys[k] {
			s.log.Warn("ignoring unknown setting key", "key", k)
			continue
		}
		if err := s.r.Set(ctx, k, v); err != nil {
			return err
		}
	}
	return nil
}
