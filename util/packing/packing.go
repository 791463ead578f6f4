// Copyright 2021-2024, Intech ID, Inc.
// For license information, see https://github.com/intech-id/collexi-rollup/blob/master/LICENSE

// Package packing implements the lossy fixed-point encoding used for amounts
// and fees in rollup operations. A value is stored as mantissa*base^exponent
// with the exponent in the high-order bits, big-endian. The layout must match
// the ledger contract and the operator bit-for-bit.
package packing

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/intech-id/collexi-rollup/params"
)

// ErrNotPackable is returned when a value cannot be represented in the
// requested layout, or (for amounts) cannot be represented exactly.
var ErrNotPackable = errors.New("value is not packable")

// Layout describes one mantissa/exponent split.
type Layout struct {
	ExponentBits uint
	MantissaBits uint
	ExponentBase uint64
}

var (
	AmountLayout = Layout{
		ExponentBits: params.AmountExponentBits,
		MantissaBits: params.AmountMantissaBits,
		ExponentBase: params.PackedExponentBase,
	}
	FeeLayout = Layout{
		ExponentBits: params.FeeExponentBits,
		MantissaBits: params.FeeMantissaBits,
		ExponentBase: params.PackedExponentBase,
	}
)

// DefaultFeeTolerance is the maximum relative error accepted when packing a
// fee. Fees are economic parameters, not ledger-exact balances, so a small
// loss is acceptable; the bound stays configurable (see PackFeeWithTolerance).
const DefaultFeeTolerance = 0.05

func (l Layout) totalBytes() int {
	return int(l.ExponentBits+l.MantissaBits) / 8
}

func (l Layout) maxMantissa() *big.Int {
	return new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), l.MantissaBits), big.NewInt(1))
}

func (l Layout) maxExponent() uint64 {
	return 1<<l.ExponentBits - 1
}

func (l Layout) pow(exp uint64) *big.Int {
	return new(big.Int).Exp(new(big.Int).SetUint64(l.ExponentBase), new(big.Int).SetUint64(exp), nil)
}

// MaxValue returns the largest value representable in the layout.
func (l Layout) MaxValue() *big.Int {
	return new(big.Int).Mul(l.maxMantissa(), l.pow(l.maxExponent()))
}

// split finds the smallest exponent at which value's mantissa fits the
// layout. The remainder of the division is returned so callers can decide
// whether the loss is acceptable.
func (l Layout) split(value *big.Int) (mantissa *big.Int, exponent uint64, rem *big.Int, err error) {
	if value.Sign() < 0 {
		return nil, 0, nil, fmt.Errorf("%w: negative value %v", ErrNotPackable, value)
	}
	maxMantissa := l.maxMantissa()
	for exp := uint64(0); exp <= l.maxExponent(); exp++ {
		q, r := new(big.Int).QuoRem(value, l.pow(exp), new(big.Int))
		if q.Cmp(maxMantissa) <= 0 {
			return q, exp, r, nil
		}
	}
	return nil, 0, nil, fmt.Errorf("%w: %v exceeds max representable %v", ErrNotPackable, value, l.MaxValue())
}

func (l Layout) encode(mantissa *big.Int, exponent uint64) []byte {
	combined := new(big.Int).Lsh(new(big.Int).SetUint64(exponent), l.MantissaBits)
	combined.Or(combined, mantissa)
	out := make([]byte, l.totalBytes())
	combined.FillBytes(out)
	return out
}

// Pack encodes value exactly. It fails if the minimal-exponent representation
// would lose precision, so Unpack(Pack(v)) == v always holds on success.
func Pack(value *big.Int, l Layout) ([]byte, error) {
	mantissa, exponent, rem, err := l.split(value)
	if err != nil {
		return nil, err
	}
	if rem.Sign() != 0 {
		return nil, fmt.Errorf("%w: %v is not exactly representable with a %d-bit mantissa",
			ErrNotPackable, value, l.MantissaBits)
	}
	return l.encode(mantissa, exponent), nil
}

// Unpack decodes data produced by Pack. The input length must equal the
// layout's byte width.
func Unpack(data []byte, l Layout) (*big.Int, error) {
	if len(data) != l.totalBytes() {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrNotPackable, l.totalBytes(), len(data))
	}
	combined := new(big.Int).SetBytes(data)
	mantissa := new(big.Int).And(combined, l.maxMantissa())
	exponent := new(big.Int).Rsh(combined, l.MantissaBits).Uint64()
	return mantissa.Mul(mantissa, l.pow(exponent)), nil
}

// Closest returns the nearest representable value not exceeding the layout's
// range, together with its encoding.
func (l Layout) Closest(value *big.Int) (*big.Int, []byte, error) {
	mantissa, exponent, rem, err := l.split(value)
	if err != nil {
		return nil, nil, err
	}
	// Round half up; a mantissa overflow moves to the next exponent.
	scale := l.pow(exponent)
	if new(big.Int).Lsh(rem, 1).Cmp(scale) >= 0 {
		mantissa.Add(mantissa, big.NewInt(1))
		if mantissa.Cmp(l.maxMantissa()) > 0 {
			if exponent == l.maxExponent() {
				return nil, nil, fmt.Errorf("%w: %v exceeds max representable %v", ErrNotPackable, value, l.MaxValue())
			}
			exponent++
			scale = l.pow(exponent)
			mantissa.Div(value, scale)
		}
	}
	restored := new(big.Int).Mul(mantissa, scale)
	return restored, l.encode(mantissa, exponent), nil
}

// PackAmount encodes a transfer amount. Amounts must round-trip exactly.
func PackAmount(amount *big.Int) ([]byte, error) {
	return Pack(amount, AmountLayout)
}

// UnpackAmount decodes a packed transfer amount.
func UnpackAmount(data []byte) (*big.Int, error) {
	return Unpack(data, AmountLayout)
}

// IsAmountPackable reports whether amount survives PackAmount unchanged.
func IsAmountPackable(amount *big.Int) bool {
	_, err := Pack(amount, AmountLayout)
	return err == nil
}

// PackFee encodes a fee with the default tolerance.
func PackFee(fee *big.Int) ([]byte, error) {
	return PackFeeWithTolerance(fee, DefaultFeeTolerance)
}

// PackFeeWithTolerance encodes a fee, accepting the closest representable
// value as long as its relative error stays within maxRelativeError.
func PackFeeWithTolerance(fee *big.Int, maxRelativeError float64) ([]byte, error) {
	restored, encoded, err := FeeLayout.Closest(fee)
	if err != nil {
		return nil, err
	}
	if fee.Sign() != 0 {
		diff := new(big.Float).SetInt(new(big.Int).Sub(restored, fee))
		diff.Abs(diff)
		relErr, _ := diff.Quo(diff, new(big.Float).SetInt(fee)).Float64()
		if relErr > maxRelativeError {
			return nil, fmt.Errorf("%w: fee %v loses %.4f relative precision, tolerance is %.4f",
				ErrNotPackable, fee, relErr, maxRelativeError)
		}
	}
	return encoded, nil
}

// UnpackFee decodes a packed fee.
func UnpackFee(data []byte) (*big.Int, error) {
	return Unpack(data, FeeLayout)
}

// ClosestPackableFee rounds fee to the nearest representable value, so the
// caller can display what will actually be charged.
func ClosestPackableFee(fee *big.Int) (*big.Int, error) {
	restored, _, err := FeeLayout.Closest(fee)
	return restored, err
}
