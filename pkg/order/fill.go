package order

import (
	"fmt"
	"math/big"
)

// roundingTolerance is the inverse of the accepted relative rounding loss (0.1%).
var roundingTolerance = big.NewInt(1000)

// FillResult holds the amounts moved by one match: LeftValue of the left
// order's make asset and RightValue of the right order's make asset.
type FillResult struct {
	LeftValue  *big.Int
	RightValue *big.Int
}

// IsRoundingErrorFloor reports whether numerator*target/denominator, floored,
// loses 0.1% or more of its exact value.
func IsRoundingErrorFloor(numerator, denominator, target *big.Int) (bool, error) {
	if denominator.Sign() == 0 {
		return false, ErrDivisionByZero
	}
	if target.Sign() == 0 || numerator.Sign() == 0 {
		return false, nil
	}
	rem := new(big.Int).Mul(target, numerator)
	rem.Mod(rem, denominator)
	rem.Mul(rem, roundingTolerance)
	exact := new(big.Int).Mul(numerator, target)
	return rem.Cmp(exact) >= 0, nil
}

// PartialAmountFloor computes numerator*target/denominator rounded down and
// rejects results whose rounding loss reaches the tolerance.
func PartialAmountFloor(numerator, denominator, target *big.Int) (*big.Int, error) {
	isErr, err := IsRoundingErrorFloor(numerator, denominator, target)
	if err != nil {
		return nil, err
	}
	if isErr {
		return nil, fmt.Errorf("%w: %s*%s/%s", ErrRoundingError, numerator, target, denominator)
	}
	out := new(big.Int).Mul(numerator, target)
	return out.Quo(out, denominator), nil
}

// Fill computes the amounts exchanged when left is matched against right,
// given the current fill of each order. Zero-salt orders are passed a zero
// fill.
func Fill(left, right *Order, leftFill, rightFill *big.Int) (FillResult, error) {
	leftMake, leftTake, err := left.Remaining(leftFill)
	if err != nil {
		return FillResult{}, fmt.Errorf("left: %w", err)
	}
	rightMake, rightTake, err := right.Remaining(rightFill)
	if err != nil {
		return FillResult{}, fmt.Errorf("right: %w", err)
	}

	var res FillResult
	if rightTake.Cmp(leftMake) > 0 {
		res, err = fillLeft(leftMake, leftTake, right.MakeAsset.Value, right.TakeAsset.Value)
	} else {
		res, err = fillRight(left.MakeAsset.Value, left.TakeAsset.Value, rightMake, rightTake)
	}
	if err != nil {
		return FillResult{}, err
	}
	if res.LeftValue.Sign() == 0 || res.RightValue.Sign() == 0 {
		return FillResult{}, ErrNothingToFill
	}
	return res, nil
}

// fillLeft fills the whole remaining left order; the right order must be able
// to pay leftTake at its own price.
func fillLeft(leftMake, leftTake, rightMake, rightTake *big.Int) (FillResult, error) {
	rightTakeNeeded, err := PartialAmountFloor(leftTake, rightMake, rightTake)
	if err != nil {
		return FillResult{}, err
	}
	if rightTakeNeeded.Cmp(leftMake) > 0 {
		return FillResult{}, fmt.Errorf("%w: left side", ErrUnableToFill)
	}
	return FillResult{LeftValue: new(big.Int).Set(leftMake), RightValue: new(big.Int).Set(leftTake)}, nil
}

// fillRight fills the whole remaining right order at the left order's
// declared price.
func fillRight(leftMake, leftTake, rightMake, rightTake *big.Int) (FillResult, error) {
	makerValue, err := PartialAmountFloor(rightTake, leftMake, leftTake)
	if err != nil {
		return FillResult{}, err
	}
	if makerValue.Cmp(rightMake) > 0 {
		return FillResult{}, fmt.Errorf("%w: right side", ErrUnableToFill)
	}
	return FillResult{LeftValue: new(big.Int).Set(rightTake), RightValue: makerValue}, nil
}
