package vault

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"optionsvault/core/state"
	"optionsvault/storage"
)

func bi(v int64) *big.Int { return big.NewInt(v) }

func pow2(n uint) *big.Int { return new(big.Int).Lsh(big.NewInt(1), n) }

func TestSharesForDeposit(t *testing.T) {
	shares, err := SharesForDeposit(bi(10), bi(0), bi(0))
	require.NoError(t, err)
	require.Equal(t, "10", shares.String())

	// 10 * 80 / 98 = 8.16 rounds down
	shares, err = SharesForDeposit(bi(10), bi(98), bi(80))
	require.NoError(t, err)
	require.Equal(t, "8", shares.String())

	_, err = SharesForDeposit(bi(10), bi(0), bi(5))
	require.ErrorIs(t, err, ErrArithmetic)

	_, err = SharesForDeposit(pow2(256), bi(1), bi(1))
	require.ErrorIs(t, err, ErrArithmetic)

	_, err = SharesForDeposit(bi(-1), bi(1), bi(1))
	require.ErrorIs(t, err, ErrArithmetic)

	// The intermediate product exceeds 256 bits but the result does not.
	shares, err = SharesForDeposit(pow2(200), pow2(100), pow2(100))
	require.NoError(t, err)
	require.Equal(t, pow2(200).String(), shares.String())

	_, err = SharesForDeposit(pow2(255), bi(1), bi(4))
	require.ErrorIs(t, err, ErrArithmetic)
}

func TestAmountForShares(t *testing.T) {
	amount, err := AmountForShares(bi(7), bi(100), bi(7))
	require.NoError(t, err)
	require.Equal(t, "100", amount.String())

	amount, err = AmountForShares(bi(1), bi(100), bi(3))
	require.NoError(t, err)
	require.Equal(t, "33", amount.String())

	_, err = AmountForShares(bi(1), bi(100), bi(0))
	require.ErrorIs(t, err, ErrArithmetic)
}

func TestBpsRoundsDown(t *testing.T) {
	fee, err := bpsOf(bi(19), 1000)
	require.NoError(t, err)
	require.Equal(t, "1", fee.String())

	fee, err = bpsOf(bi(-5), 1000)
	require.NoError(t, err)
	require.Zero(t, fee.Sign())
}

func TestShareLedgerConservesSupply(t *testing.T) {
	mgr, err := state.NewManager(storage.NewMemDB())
	require.NoError(t, err)
	ledger := NewShareLedger(mgr)
	a, b := [20]byte{1}, [20]byte{2}

	require.NoError(t, ledger.Mint(a, bi(50)))
	require.NoError(t, ledger.Mint(b, bi(25)))
	require.NoError(t, ledger.Transfer(a, b, bi(20)))
	require.ErrorIs(t, ledger.Burn(a, bi(31)), ErrInsufficientShares)
	require.ErrorIs(t, ledger.Transfer(a, b, bi(31)), ErrInsufficientShares)
	require.NoError(t, ledger.Burn(b, bi(45)))

	balA, err := ledger.BalanceOf(a)
	require.NoError(t, err)
	balB, err := ledger.BalanceOf(b)
	require.NoError(t, err)
	supply, err := ledger.TotalSupply()
	require.NoError(t, err)
	require.Equal(t, "30", balA.String())
	require.Equal(t, "0", balB.String())
	require.Equal(t, new(big.Int).Add(balA, balB).String(), supply.String())
}

func TestNewAllocationBounds(t *testing.T) {
	actions := [][20]byte{{1}, {2}}

	_, err := NewAllocation(actions, []uint32{5000}, 0)
	require.ErrorIs(t, err, ErrInvalidAllocation)

	_, err = NewAllocation(actions, []uint32{5000, 4001}, 1000)
	require.ErrorIs(t, err, ErrInvalidAllocation)

	alloc, err := NewAllocation(actions, []uint32{5000, 4000}, 1000)
	require.NoError(t, err)
	require.Equal(t, uint32(9000), alloc.TotalBps())
	require.Equal(t, []uint32{5000, 4000}, alloc.BpsList())
	require.Equal(t, actions[1], alloc.Shares()[1].Action)
}

func TestResolveIsPureFunctionOfRecord(t *testing.T) {
	record := &RoundRecord{
		Round:          3,
		TotalAsset:     bi(98),
		TotalShares:    bi(80),
		PendingDeposit: bi(10),
		DepositShares:  bi(8),
	}
	shares, err := Resolve(PendingEntry{Kind: EntryDeposit, Round: 3, Amount: bi(5)}, record)
	require.NoError(t, err)
	require.Equal(t, "4", shares.String())

	amount, err := Resolve(PendingEntry{Kind: EntryWithdraw, Round: 3, Amount: bi(40)}, record)
	require.NoError(t, err)
	require.Equal(t, "49", amount.String())

	_, err = Resolve(PendingEntry{Kind: EntryDeposit, Round: 2, Amount: bi(5)}, record)
	require.ErrorIs(t, err, ErrRoundNotClosed)
}
