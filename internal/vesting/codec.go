package vesting

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"

	"vestry.org/internal/addr"
)

// Binary record layout, shared with any ledger state that predates this
// service: fields in declaration order, fixed-width integers little-endian,
// strings as a u32 little-endian length prefix followed by raw UTF-8,
// addresses as raw 32 bytes. Record addresses are not serialized; they are
// re-derived from the stable inputs on decode.

var ErrBadRecord = errors.New("vesting: malformed record")

// EncodeProgram serialises a Program record.
func EncodeProgram(p Program) []byte {
	buf := make([]byte, 0, 3*addr.Size+4+len(p.CompanyName))
	buf = append(buf, p.Owner[:]...)
	buf = append(buf, p.Mint[:]...)
	buf = append(buf, p.Treasury[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(p.CompanyName)))
	buf = append(buf, p.CompanyName...)
	return buf
}

// DecodeProgram parses a Program record and re-derives its address.
func DecodeProgram(b []byte) (Program, error) {
	r := reader{buf: b}
	var p Program
	if err := r.address(&p.Owner); err != nil {
		return Program{}, fmt.Errorf("%w: owner: %v", ErrBadRecord, err)
	}
	if err := r.address(&p.Mint); err != nil {
		return Program{}, fmt.Errorf("%w: mint: %v", ErrBadRecord, err)
	}
	if err := r.address(&p.Treasury); err != nil {
		return Program{}, fmt.Errorf("%w: treasury: %v", ErrBadRecord, err)
	}
	name, err := r.str()
	if err != nil {
		return Program{}, fmt.Errorf("%w: company name: %v", ErrBadRecord, err)
	}
	if err := r.done(); err != nil {
		return Program{}, fmt.Errorf("%w: %v", ErrBadRecord, err)
	}
	if err := ValidateCompanyName(name); err != nil {
		return Program{}, fmt.Errorf("%w: company name", ErrBadRecord)
	}
	p.CompanyName = name
	p.Address = addr.ForProgram(name)
	return p, nil
}

// EncodeEmployee serialises an EmployeeRecord.
func EncodeEmployee(rec EmployeeRecord) []byte {
	buf := make([]byte, 0, 2*addr.Size+5*8)
	buf = append(buf, rec.Beneficiary[:]...)
	buf = append(buf, rec.Program[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, rec.TotalAllocated)
	buf = binary.LittleEndian.AppendUint64(buf, rec.TotalClaimed)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(rec.StartTime))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(rec.CliffTime))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(rec.EndTime))
	return buf
}

// DecodeEmployee parses an EmployeeRecord and re-derives its address.
func DecodeEmployee(b []byte) (EmployeeRecord, error) {
	r := reader{buf: b}
	var rec EmployeeRecord
	if err := r.address(&rec.Beneficiary); err != nil {
		return EmployeeRecord{}, fmt.Errorf("%w: beneficiary: %v", ErrBadRecord, err)
	}
	if err := r.address(&rec.Program); err != nil {
		return EmployeeRecord{}, fmt.Errorf("%w: program: %v", ErrBadRecord, err)
	}
	fields := []*uint64{&rec.TotalAllocated, &rec.TotalClaimed}
	for _, f := range fields {
		v, err := r.u64()
		if err != nil {
			return EmployeeRecord{}, fmt.Errorf("%w: amount: %v", ErrBadRecord, err)
		}
		*f = v
	}
	times := []*int64{&rec.StartTime, &rec.CliffTime, &rec.EndTime}
	for _, f := range times {
		v, err := r.u64()
		if err != nil {
			return EmployeeRecord{}, fmt.Errorf("%w: timestamp: %v", ErrBadRecord, err)
		}
		*f = int64(v)
	}
	if err := r.done(); err != nil {
		return EmployeeRecord{}, fmt.Errorf("%w: %v", ErrBadRecord, err)
	}
	rec.Address = addr.ForEmployee(rec.Beneficiary, rec.Program)
	return rec, nil
}

type reader struct {
	buf []byte
	off int
}

func (r *reader) take(n int) ([]byte, error) {
	if r.off+n > len(r.buf) {
		return nil, fmt.Errorf("truncated at offset %d", r.off)
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) address(dst *addr.Address) error {
	b, err := r.take(addr.Size)
	if err != nil {
		return err
	}
	copy(dst[:], b)
	return nil
}

func (r *reader) u32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) u64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *reader) str() (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	b, err := r.take(int(n))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", errors.New("string is not valid UTF-8")
	}
	return string(b), nil
}

func (r *reader) done() error {
	if r.off != len(r.buf) {
		return fmt.Errorf("%d trailing bytes", len(r.buf)-r.off)
	}
	return nil
}
