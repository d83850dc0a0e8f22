package vesting

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func schedule(total uint64) EmployeeRecord {
	return EmployeeRecord{
		TotalAllocated: total,
		StartTime:      1000,
		CliffTime:      2000,
		EndTime:        3000,
	}
}

func TestVestedAmountBeforeCliff(t *testing.T) {
	rec := schedule(1_000_000_000)
	for _, now := range []int64{0, 999, 1000, 1500, 1999} {
		vested, err := VestedAmount(rec, now)
		require.NoError(t, err)
		require.Zero(t, vested, "now=%d", now)
	}
}

func TestVestedAmountAfterEnd(t *testing.T) {
	rec := schedule(1_000_000_000)
	for _, now := range []int64{3000, 4000, math.MaxInt64} {
		vested, err := VestedAmount(rec, now)
		require.NoError(t, err)
		require.Equal(t, rec.TotalAllocated, vested, "now=%d", now)
	}
}

func TestVestedAmountLinearInterpolation(t *testing.T) {
	rec := schedule(1_000_000_000)

	// Elapsed time counts from start, not from the cliff.
	vested, err := VestedAmount(rec, 2500)
	require.NoError(t, err)
	require.Equal(t, uint64(750_000_000), vested)

	// At the cliff the curve is already half-way through.
	vested, err = VestedAmount(rec, 2000)
	require.NoError(t, err)
	require.Equal(t, uint64(500_000_000), vested)
}

func TestVestedAmountFloors(t *testing.T) {
	rec := EmployeeRecord{TotalAllocated: 10, StartTime: 0, CliffTime: 0, EndTime: 3}
	vested, err := VestedAmount(rec, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(3), vested) // floor(10/3)
}

func TestVestedAmountMonotoneAndBounded(t *testing.T) {
	rec := schedule(987_654_321)
	var prev uint64
	for now := int64(900); now <= 3100; now += 7 {
		vested, err := VestedAmount(rec, now)
		require.NoError(t, err)
		require.LessOrEqual(t, vested, rec.TotalAllocated, "now=%d", now)
		require.GreaterOrEqual(t, vested, prev, "vested amount decreased at now=%d", now)
		prev = vested
	}
	require.Equal(t, rec.TotalAllocated, prev)
}

func TestVestedAmountOverflowFailsClosed(t *testing.T) {
	rec := EmployeeRecord{
		TotalAllocated: math.MaxUint64,
		StartTime:      0,
		CliffTime:      0,
		EndTime:        10,
	}
	_, err := VestedAmount(rec, 9)
	require.ErrorIs(t, err, ErrArithmeticOverflow)

	// The boundary cases bypass the multiplication entirely.
	vested, err := VestedAmount(rec, 10)
	require.NoError(t, err)
	require.Equal(t, uint64(math.MaxUint64), vested)
}

func TestClaimableAmount(t *testing.T) {
	rec := schedule(1_000_000_000)
	rec.TotalClaimed = 600_000_000

	claimable, err := ClaimableAmount(rec, 2500)
	require.NoError(t, err)
	require.Equal(t, uint64(150_000_000), claimable)

	// A record that somehow over-claimed clamps to zero instead of
	// underflowing.
	rec.TotalClaimed = 900_000_000
	claimable, err = ClaimableAmount(rec, 2500)
	require.NoError(t, err)
	require.Zero(t, claimable)
}

func TestProgressPercentIgnoresCliff(t *testing.T) {
	rec := schedule(1)
	require.Equal(t, 0, ProgressPercent(rec, 500))
	require.Equal(t, 0, ProgressPercent(rec, 1000))
	require.Equal(t, 25, ProgressPercent(rec, 1500)) // before the cliff, still 25%
	require.Equal(t, 75, ProgressPercent(rec, 2500))
	require.Equal(t, 100, ProgressPercent(rec, 3000))
	require.Equal(t, 100, ProgressPercent(rec, 9000))
}

func TestProgressPercentExtremeSchedule(t *testing.T) {
	rec := EmployeeRecord{
		TotalAllocated: 1,
		StartTime:      0,
		CliffTime:      0,
		EndTime:        math.MaxInt64,
	}
	require.Equal(t, 99, ProgressPercent(rec, math.MaxInt64-1))
	require.Equal(t, 49, ProgressPercent(rec, math.MaxInt64/2))
	for _, now := range []int64{1, math.MaxInt64 / 4, math.MaxInt64 - 1} {
		pct := ProgressPercent(rec, now)
		require.GreaterOrEqual(t, pct, 0, "now=%d", now)
		require.LessOrEqual(t, pct, 100, "now=%d", now)
	}
}

func TestValidateSchedule(t *testing.T) {
	require.NoError(t, ValidateSchedule(1000, 2000, 3000))
	require.NoError(t, ValidateSchedule(1000, 1000, 3000))
	require.NoError(t, ValidateSchedule(1000, 3000, 3000))

	for _, tc := range [][3]int64{
		{2000, 1000, 3000}, // cliff before start
		{1000, 3000, 2000}, // cliff after end
		{1000, 1000, 1000}, // zero duration
		{3000, 3000, 1000}, // end before start
	} {
		require.ErrorIs(t, ValidateSchedule(tc[0], tc[1], tc[2]), ErrInvalidSchedule, "%v", tc)
	}
}

func TestValidateCompanyName(t *testing.T) {
	require.NoError(t, ValidateCompanyName("Umbrella Corp"))
	require.ErrorIs(t, ValidateCompanyName(""), ErrInvalidName)
	long := make([]byte, MaxCompanyNameLen+1)
	for i := range long {
		long[i] = 'a'
	}
	require.ErrorIs(t, ValidateCompanyName(string(long)), ErrInvalidName)
}
