package vesting

import "math/bits"

// VestedAmount returns how much of the allocation has vested at now.
// Before the cliff nothing is releasable; at or past the end everything
// is. In between the amount interpolates linearly between StartTime and
// EndTime: the cliff gates release only, it does not shift the curve's
// origin.
//
// The intermediate product allocation*elapsed is computed in 128 bits.
// If the quotient would not fit in 64 bits the computation fails closed.
func VestedAmount(rec EmployeeRecord, now int64) (uint64, error) {
	if now < rec.CliffTime {
		return 0, nil
	}
	if now >= rec.EndTime {
		return rec.TotalAllocated, nil
	}
	// now >= cliff >= start here, so elapsed is non-negative, and
	// ValidateSchedule guarantees duration > 0.
	elapsed := uint64(now - rec.StartTime)
	duration := uint64(rec.EndTime - rec.StartTime)
	hi, lo := bits.Mul64(rec.TotalAllocated, elapsed)
	if hi >= duration {
		return 0, ErrArithmeticOverflow
	}
	vested, _ := bits.Div64(hi, lo, duration)
	return vested, nil
}

// ClaimableAmount is the vested amount minus what was already claimed,
// clamped at zero. The clamp guards against drift that the invariants
// rule out but an on-disk record could still carry.
func ClaimableAmount(rec EmployeeRecord, now int64) (uint64, error) {
	vested, err := VestedAmount(rec, now)
	if err != nil {
		return 0, err
	}
	if vested <= rec.TotalClaimed {
		return 0, nil
	}
	return vested - rec.TotalClaimed, nil
}

// ProgressPercent is the display-only projection used by clients: elapsed
// share of the start..end window in whole percent, clamped to [0,100].
// It intentionally ignores the cliff, matching the vesting curve's shape.
func ProgressPercent(rec EmployeeRecord, now int64) int {
	if now <= rec.StartTime {
		return 0
	}
	if now >= rec.EndTime {
		return 100
	}
	// elapsed*100 is computed in 128 bits so schedules spanning most of
	// the int64 range cannot wrap to a negative percentage.
	elapsed := uint64(now - rec.StartTime)
	duration := uint64(rec.EndTime - rec.StartTime)
	hi, lo := bits.Mul64(elapsed, 100)
	pct, _ := bits.Div64(hi, lo, duration)
	return int(pct)
}
