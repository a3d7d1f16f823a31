// Package units converts token amounts between on-chain base units and
// human-readable decimal amounts, and validates address formats.
//
// Amounts never pass through binary floating point. Base-unit integers and
// display decimals are distinct types so every conversion is explicit.
package units

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
)

// Sentinel errors for conversion and validation
var (
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrInvalidAddress = errors.New("invalid address")
)

// ZeroAddress is used when an amount is not attributed to any operator.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// DivisionPrecision is the number of fractional digits kept by divisions.
const DivisionPrecision = 18

// Unit is a token denomination expressed as its number of decimals.
type Unit int32

const (
	Wei   Unit = 0
	Gwei  Unit = 9
	Ether Unit = 18
)

// Decimals returns the scaling exponent of the unit.
func (u Unit) Decimals() int32 {
	return int32(u)
}

const hexPrefix = "0x"

// IsValidAddress reports whether s is 0x followed by 40 hex digits.
func IsValidAddress(s string) bool {
	return strings.HasPrefix(s, hexPrefix) && common.IsHexAddress(s)
}

// IsValidTxHash reports whether s is 0x followed by 64 hex digits.
func IsValidTxHash(s string) bool {
	if !strings.HasPrefix(s, hexPrefix) {
		return false
	}
	b, err := hexutil.Decode(s)
	return err == nil && len(b) == common.HashLength
}

// NormalizeAddress validates s and returns its lowercase form.
func NormalizeAddress(s string) (string, error) {
	s = strings.TrimSpace(s)
	if !IsValidAddress(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return strings.ToLower(s), nil
}

// BaseAmount is an integer amount in the smallest on-chain denomination.
type BaseAmount struct {
	v *big.Int
}

// ParseBaseAmount parses a base-10 integer string.
func ParseBaseAmount(s string) (BaseAmount, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return BaseAmount{}, fmt.Errorf("%w: %q is not an integer", ErrInvalidAmount, s)
	}
	return BaseAmount{v: v}, nil
}

// NewBaseAmount wraps an int64 base-unit amount.
func NewBaseAmount(v int64) BaseAmount {
	return BaseAmount{v: big.NewInt(v)}
}

func (b BaseAmount) int() *big.Int {
	if b.v == nil {
		return new(big.Int)
	}
	return b.v
}

// String returns the integer in base 10.
func (b BaseAmount) String() string {
	return b.int().String()
}

// ToAmount scales the base amount down by the unit's decimals.
func (b BaseAmount) ToAmount(unit Unit) Amount {
	return Amount{d: decimal.NewFromBigInt(b.int(), -unit.Decimals())}
}

// Amount is a token amount in display units.
type Amount struct {
	d decimal.Decimal
}

// Zero is the zero amount.
var Zero = Amount{}

// ParseAmount parses a decimal string such as "1.25".
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %q: %v", ErrInvalidAmount, s, err)
	}
	return Amount{d: d}, nil
}

// MustParseAmount is like ParseAmount but panics on error.
func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

// NewAmount wraps a decimal.
func NewAmount(d decimal.Decimal) Amount {
	return Amount{d: d}
}

// ToBaseUnits converts a decimal string to an integer amount of base units.
func ToBaseUnits(decimalAmount string, unit Unit) (BaseAmount, error) {
	a, err := ParseAmount(decimalAmount)
	if err != nil {
		return BaseAmount{}, err
	}
	return a.ToBase(unit)
}

// FromBaseUnits converts an integer base-unit string to a decimal amount.
func FromBaseUnits(baseAmount string, unit Unit) (Amount, error) {
	b, err := ParseBaseAmount(baseAmount)
	if err != nil {
		return Amount{}, err
	}
	return b.ToAmount(unit), nil
}

// ToBase scales the amount up to base units. Amounts with more fractional
// digits than the unit carries are rejected rather than rounded.
func (a Amount) ToBase(unit Unit) (BaseAmount, error) {
	shifted := a.d.Shift(unit.Decimals())
	if !shifted.IsInteger() {
		return BaseAmount{}, fmt.Errorf("%w: %s has more than %d decimals", ErrInvalidAmount, a, unit.Decimals())
	}
	return BaseAmount{v: shifted.BigInt()}, nil
}

func (a Amount) Add(b Amount) Amount { return Amount{d: a.d.Add(b.d)} }
func (a Amount) Sub(b Amount) Amount { return Amount{d: a.d.Sub(b.d)} }

// Mul multiplies by an integer factor.
func (a Amount) Mul(n int64) Amount {
	return Amount{d: a.d.Mul(decimal.NewFromInt(n))}
}

// DivInt divides by n keeping DivisionPrecision digits. Division by zero
// yields Zero.
func (a Amount) DivInt(n int64) Amount {
	if n == 0 {
		return Zero
	}
	return Amount{d: a.d.DivRound(decimal.NewFromInt(n), DivisionPrecision)}
}

func (a Amount) Cmp(b Amount) int    { return a.d.Cmp(b.d) }
func (a Amount) Equal(b Amount) bool { return a.d.Equal(b.d) }
func (a Amount) IsZero() bool        { return a.d.IsZero() }
func (a Amount) IsPositive() bool    { return a.d.IsPositive() }
func (a Amount) IsNegative() bool    { return a.d.IsNegative() }

// Decimal exposes the underlying decimal.
func (a Amount) Decimal() decimal.Decimal {
	return a.d
}

// String returns the amount without trailing zeros.
func (a Amount) String() string {
	return a.d.String()
}

// MarshalJSON encodes the amount as a JSON string.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts a JSON string or number.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*a = Zero
		return nil
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Sum adds all amounts exactly.
func Sum(amounts ...Amount) Amount {
	total := Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
