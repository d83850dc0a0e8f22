package vesting

import (
	"errors"
	"time"

	"vestry.org/internal/addr"
)

// MaxCompanyNameLen bounds the company name in bytes. The name doubles as
// the program's derivation seed, so the bound also caps the seed length.
const MaxCompanyNameLen = 50

// Program is one organization's vesting program. Owner and Mint are
// immutable after creation; Treasury is the escrow holding owned
// exclusively by this record.
type Program struct {
	Address     addr.Address `json:"address"`
	Owner       addr.Address `json:"owner"`
	Mint        addr.Address `json:"mint"`
	Treasury    addr.Address `json:"treasury"`
	CompanyName string       `json:"company_name"`
	CreatedAt   time.Time    `json:"created_at"`
}

// EmployeeRecord is one beneficiary's schedule under a program. Only
// TotalClaimed ever changes after creation, and only upwards.
type EmployeeRecord struct {
	Address        addr.Address `json:"address"`
	Beneficiary    addr.Address `json:"beneficiary"`
	Program        addr.Address `json:"program"`
	TotalAllocated uint64       `json:"total_allocated"`
	TotalClaimed   uint64       `json:"total_claimed"`
	StartTime      int64        `json:"start_time"`
	CliffTime      int64        `json:"cliff_time"`
	EndTime        int64        `json:"end_time"`
	CreatedAt      time.Time    `json:"created_at"`
}

// Claim is the result of one successful claim operation.
type Claim struct {
	ID          string       `json:"id"`
	Program     addr.Address `json:"program"`
	Beneficiary addr.Address `json:"beneficiary"`
	Amount      uint64       `json:"amount"`
	Sequence    uint64       `json:"sequence"` // monotonic, for pagination
	ClaimedAt   time.Time    `json:"claimed_at"`
}

var (
	ErrUnauthorized       = errors.New("vesting: unauthorized")
	ErrNotFound           = errors.New("vesting: not found")
	ErrAlreadyExists      = errors.New("vesting: already exists")
	ErrInvalidName        = errors.New("vesting: invalid company name")
	ErrInvalidSchedule    = errors.New("vesting: invalid schedule (require start <= cliff <= end, end > start)")
	ErrInvalidAmount      = errors.New("vesting: invalid amount (must be > 0)")
	ErrInsufficientFunds  = errors.New("vesting: insufficient funds")
	ErrNothingToClaim     = errors.New("vesting: nothing to claim")
	ErrArithmeticOverflow = errors.New("vesting: arithmetic overflow")
	ErrEscrowTransfer     = errors.New("vesting: escrow transfer failed")
)

// ValidateCompanyName checks the program name bound used by creation and
// lookups alike.
func ValidateCompanyName(name string) error {
	if name == "" || len(name) > MaxCompanyNameLen {
		return ErrInvalidName
	}
	return nil
}

// ValidateSchedule enforces start <= cliff <= end with a strictly positive
// duration. A zero-length schedule would divide by zero in the vesting
// formula, so it is rejected here, at creation time.
func ValidateSchedule(startTime, cliffTime, endTime int64) error {
	if startTime > cliffTime || cliffTime > endTime || endTime <= startTime {
		return ErrInvalidSchedule
	}
	return nil
}
