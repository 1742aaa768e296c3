package vault

import (
	"math/big"

	"github.com/holiman/uint256"
)

func toUint256(v *big.Int) (*uint256.Int, bool) {
	if v == nil || v.Sign() < 0 {
		return nil, false
	}
	out, overflow := uint256.FromBig(v)
	return out, !overflow
}

// mulDiv returns floor(x*y/d) using a 512-bit intermediate product.
func mulDiv(x, y, d *big.Int) (*big.Int, error) {
	ux, ok := toUint256(x)
	if !ok {
		return nil, ErrArithmetic
	}
	uy, ok := toUint256(y)
	if !ok {
		return nil, ErrArithmetic
	}
	ud, ok := toUint256(d)
	if !ok || ud.IsZero() {
		return nil, ErrArithmetic
	}
	out, overflow := new(uint256.Int).MulDivOverflow(ux, uy, ud)
	if overflow {
		return nil, ErrArithmetic
	}
	return out.ToBig(), nil
}

// SharesForDeposit prices a deposit of amount against the pool before it.
// An empty pool mints 1:1. The result rounds down.
func SharesForDeposit(amount, totalAssetBefore, totalSupplyBefore *big.Int) (*big.Int, error) {
	if _, ok := toUint256(amount); !ok {
		return nil, ErrArithmetic
	}
	if totalSupplyBefore == nil || totalSupplyBefore.Sign() == 0 {
		return new(big.Int).Set(amount), nil
	}
	return mulDiv(amount, totalSupplyBefore, totalAssetBefore)
}

// AmountForShares returns the asset owed for shares, rounded down. Redeeming
// the whole supply returns the whole asset base.
func AmountForShares(shares, totalAsset, totalSupply *big.Int) (*big.Int, error) {
	return mulDiv(shares, totalAsset, totalSupply)
}

// bpsOf returns amount*bps/10000 rounded down.
func bpsOf(amount *big.Int, bps uint32) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 || bps == 0 {
		return big.NewInt(0), nil
	}
	return mulDiv(amount, big.NewInt(int64(bps)), big.NewInt(MaxBps))
}
