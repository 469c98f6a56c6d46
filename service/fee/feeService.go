// Package fee holds the pure fee calculations. No state, no store access;
// rates come in from the settings service at each call site.
package fee

import (
	"errors"
	"math"
	"time"

	"bookloan/model"
)

type Rates struct {
	GraceMinutes int
	Hourly       float64
	Daily        float64
}

const (
	minorDamageShare = 0.20
	majorSurcharge   = 15000.0
	lostSurcharge    = 20000.0
)

var ErrUnknownCondition = errors.New("unknown condition code")

// LateFee charges nothing up to the grace period, then by the hour for
// effective delays under 24h and by the day from 24h on. Partial hours and
// days round up.
func LateFee(due, returned time.Time, r Rates) float64 {
	if !returned.After(due) {
		return 0
	}
	totalMinutes := returned.Sub(due).Minutes()
	if totalMinutes <= float64(r.GraceMinutes) {
		return 0
	}
	effectiveHours := (totalMinutes - float64(r.GraceMinutes)) / 60
	if effectiveHours < 24 {
		return math.Ceil(effectiveHours) * r.Hourly
	}
	return math.Ceil(effectiveHours/24) * r.Daily
}

// DamageFee prices the reported condition against the book's value. An
// unrecognized condition is a validation error, not a silent zero.
func DamageFee(condition string, bookValue float64) (float64, error) {
	switch condition {
	case model.ConditionGood:
		return 0, nil
	case model.ConditionMinor:
		return bookValue * minorDamageShare, nil
	case model.ConditionMajor:
		return bookValue + majorSurcharge, nil
	case model.ConditionLost:
		return bookValue + lostSurcharge, nil
	default:
		return 0, ErrUnknownCondition
	}
}

// FineCategory picks the category for the single penalty record created on
// a fee-bearing return. Loss wins over damage, damage over lateness.
func FineCategory(condition string) model.FineCategory {
	switch condition {
	case model.ConditionLost:
		return model.FineLostBook
	case model.ConditionMinor, model.ConditionMajor:
		return model.FineDamagedBook
	default:
		return model.FineLateReturn
	}
}
