package addr

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"lukechampine.com/blake3"
)

// Size is the byte length of every address in the system.
const Size = 32

// Address identifies an account, record or escrow holding. Record
// addresses are always derived from their stable inputs (see Derive),
// never assigned.
type Address [Size]byte

// Zero is the all-zero address. It never resolves to a record.
var Zero Address

var ErrInvalid = errors.New("addr: invalid address")

// Derivation namespaces, matching the record kinds they scope.
const (
	treasurySeed = "treasury"
	employeeSeed = "employee_vesting"
)

// Derive maps an ordered list of seeds to a stable 32-byte address.
// Each seed is length-prefixed before hashing so seed boundaries are
// unambiguous: ("ab","c") and ("a","bc") derive different addresses.
func Derive(seeds ...[]byte) Address {
	h := blake3.New(Size, nil)
	var prefix [4]byte
	for _, seed := range seeds {
		binary.LittleEndian.PutUint32(prefix[:], uint32(len(seed)))
		_, _ = h.Write(prefix[:])
		_, _ = h.Write(seed)
	}
	var a Address
	h.Sum(a[:0])
	return a
}

// ForProgram returns the vesting program record address for a company name.
// Two programs with the same name collide here, which is what makes the
// name unique by construction.
func ForProgram(companyName string) Address {
	return Derive([]byte(companyName))
}

// ForTreasury returns the escrow holding address bound to a program.
func ForTreasury(companyName string) Address {
	return Derive([]byte(treasurySeed), []byte(companyName))
}

// ForEmployee returns the employee record address for a beneficiary under
// a program. At most one schedule per (beneficiary, program) pair follows
// from the derivation.
func ForEmployee(beneficiary, program Address) Address {
	return Derive([]byte(employeeSeed), beneficiary[:], program[:])
}

func (a Address) String() string { return hex.EncodeToString(a[:]) }

func (a Address) IsZero() bool { return a == Zero }

// Parse decodes a 64-character hex string into an Address.
func Parse(s string) (Address, error) {
	var a Address
	if len(s) != Size*2 {
		return Zero, fmt.Errorf("%w: want %d hex chars, got %d", ErrInvalid, Size*2, len(s))
	}
	if _, err := hex.Decode(a[:], []byte(s)); err != nil {
		return Zero, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return a, nil
}

// MarshalText implements encoding.TextMarshaler so addresses render as hex
// in JSON payloads and map keys.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
