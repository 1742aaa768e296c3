package vault

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
)

// EntryKind tags a pending entry.
type EntryKind uint8

const (
	EntryDeposit EntryKind = iota + 1
	EntryWithdraw
)

func (k EntryKind) String() string {
	switch k {
	case EntryDeposit:
		return "deposit"
	case EntryWithdraw:
		return "withdraw"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// PendingEntry is a deposit (asset amount) or withdrawal (share amount)
// registered while the vault was locked. It is resolved against the closing
// totals of its round.
type PendingEntry struct {
	Kind    EntryKind
	Account [20]byte
	Round   uint64
	Amount  *big.Int
}

// RoundRecord holds the closing totals of a round.
type RoundRecord struct {
	Round uint64
	// TotalAsset and TotalShares are the net asset base and share supply the
	// round closed at, queued withdrawal shares included.
	TotalAsset           *big.Int
	TotalShares          *big.Int
	Profit               *big.Int
	Loss                 *big.Int
	PerformanceFee       *big.Int
	PendingDeposit       *big.Int
	DepositShares        *big.Int
	QueuedWithdrawShares *big.Int
	WithdrawReserve      *big.Int
	ClosedAt             uint64
}

// Clone returns a deep copy of the record.
func (r *RoundRecord) Clone() *RoundRecord {
	if r == nil {
		return nil
	}
	clone := *r
	clone.TotalAsset = cloneBig(r.TotalAsset)
	clone.TotalShares = cloneBig(r.TotalShares)
	clone.Profit = cloneBig(r.Profit)
	clone.Loss = cloneBig(r.Loss)
	clone.PerformanceFee = cloneBig(r.PerformanceFee)
	clone.PendingDeposit = cloneBig(r.PendingDeposit)
	clone.DepositShares = cloneBig(r.DepositShares)
	clone.QueuedWithdrawShares = cloneBig(r.QueuedWithdrawShares)
	clone.WithdrawReserve = cloneBig(r.WithdrawReserve)
	return &clone
}

// RefundsDeposits reports whether the round's queued deposits could not be
// priced into at least one share. Their assets are held in the reserve and
// returned in full by ClaimShares.
func (r *RoundRecord) RefundsDeposits() bool {
	return r.PendingDeposit != nil && r.PendingDeposit.Sign() > 0 &&
		(r.DepositShares == nil || r.DepositShares.Sign() == 0)
}

// Resolve prices entry at its round's close. Deposits resolve to shares,
// withdrawals to the gross asset amount before the withdrawal fee. Deposits
// of a refunding round resolve to zero shares.
func Resolve(entry PendingEntry, record *RoundRecord) (*big.Int, error) {
	if record == nil || record.Round != entry.Round {
		return nil, fmt.Errorf("%w: round %d", ErrRoundNotClosed, entry.Round)
	}
	if entry.Amount == nil || entry.Amount.Sign() <= 0 {
		return nil, ErrNoPendingEntry
	}
	switch entry.Kind {
	case EntryDeposit:
		return mulDiv(entry.Amount, record.DepositShares, record.PendingDeposit)
	case EntryWithdraw:
		return AmountForShares(entry.Amount, record.TotalAsset, record.TotalShares)
	default:
		return nil, fmt.Errorf("%w: unknown entry kind %d", ErrInvalidAmount, entry.Kind)
	}
}

func roundKey(round uint64) []byte {
	return []byte("vault/round/" + strconv.FormatUint(round, 10))
}

func claimsKey(round uint64) []byte {
	return []byte("vault/round/" + strconv.FormatUint(round, 10) + "/claims")
}

// roundClaims tallies what has been paid out of a closed round. Once every
// queued entry of a kind is taken, the rounding remainder of that kind is
// released.
type roundClaims struct {
	Deposit        *big.Int
	Shares         *big.Int
	WithdrawShares *big.Int
	Paid           *big.Int
}

func (c *roundClaims) normalize() {
	for _, field := range []**big.Int{&c.Deposit, &c.Shares, &c.WithdrawShares, &c.Paid} {
		if *field == nil {
			*field = big.NewInt(0)
		}
	}
}

func (e *Engine) loadClaims(round uint64) (*roundClaims, error) {
	claims := new(roundClaims)
	if _, err := e.state.KVGet(claimsKey(round), claims); err != nil {
		return nil, err
	}
	claims.normalize()
	return claims, nil
}

// recordDepositClaim adds a claimed deposit to the tally of its round and
// burns the escrowed shares no claimant can receive once the last deposit of
// the round is claimed.
func (e *Engine) recordDepositClaim(record *RoundRecord, amount, shares *big.Int) error {
	claims, err := e.loadClaims(record.Round)
	if err != nil {
		return err
	}
	claims.Deposit.Add(claims.Deposit, amount)
	claims.Shares.Add(claims.Shares, shares)
	if err := e.state.KVPut(claimsKey(record.Round), claims); err != nil {
		return err
	}
	if claims.Deposit.Cmp(record.PendingDeposit) < 0 {
		return nil
	}
	dust := new(big.Int).Sub(record.DepositShares, claims.Shares)
	if dust.Sign() < 0 {
		return fmt.Errorf("%w: round %d claimed %s of %s shares", ErrArithmetic, record.Round, claims.Shares, record.DepositShares)
	}
	return e.ledger.Burn(e.escrow, dust)
}

// recordWithdrawClaim adds a paid withdrawal to the tally of its round and
// returns the part of the reserve left over once the last queued withdrawal
// of the round is paid.
func (e *Engine) recordWithdrawClaim(record *RoundRecord, shares, gross *big.Int) (*big.Int, error) {
	claims, err := e.loadClaims(record.Round)
	if err != nil {
		return nil, err
	}
	claims.WithdrawShares.Add(claims.WithdrawShares, shares)
	claims.Paid.Add(claims.Paid, gross)
	if err := e.state.KVPut(claimsKey(record.Round), claims); err != nil {
		return nil, err
	}
	if claims.WithdrawShares.Cmp(record.QueuedWithdrawShares) < 0 {
		return big.NewInt(0), nil
	}
	dust := new(big.Int).Sub(record.WithdrawReserve, claims.Paid)
	if dust.Sign() < 0 {
		return nil, fmt.Errorf("%w: round %d paid %s of reserve %s", ErrArithmetic, record.Round, claims.Paid, record.WithdrawReserve)
	}
	return dust, nil
}

func queueKey(kind EntryKind, round uint64, account [20]byte) []byte {
	return []byte("vault/queue/" + kind.String() + "/" + strconv.FormatUint(round, 10) + "/" + hex.EncodeToString(account[:]))
}

func queueIndexKey(account [20]byte) []byte {
	return []byte("vault/queue/index/" + hex.EncodeToString(account[:]))
}

func encodeIndexEntry(kind EntryKind, round uint64) []byte {
	out := make([]byte, 9)
	out[0] = byte(kind)
	binary.BigEndian.PutUint64(out[1:], round)
	return out
}

func decodeIndexEntry(raw []byte) (EntryKind, uint64, bool) {
	if len(raw) != 9 {
		return 0, 0, false
	}
	return EntryKind(raw[0]), binary.BigEndian.Uint64(raw[1:]), true
}

func (e *Engine) loadEntry(kind EntryKind, round uint64, account [20]byte) (*PendingEntry, error) {
	amount := new(big.Int)
	ok, err := e.state.KVGet(queueKey(kind, round, account), amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		amount.SetInt64(0)
	}
	return &PendingEntry{Kind: kind, Account: account, Round: round, Amount: amount}, nil
}

func (e *Engine) addToEntry(kind EntryKind, round uint64, account [20]byte, amount *big.Int) (*PendingEntry, error) {
	entry, err := e.loadEntry(kind, round, account)
	if err != nil {
		return nil, err
	}
	entry.Amount.Add(entry.Amount, amount)
	if err := e.state.KVPut(queueKey(kind, round, account), entry.Amount); err != nil {
		return nil, err
	}
	if err := e.state.KVAppend(queueIndexKey(account), encodeIndexEntry(kind, round)); err != nil {
		return nil, err
	}
	return entry, nil
}

func (e *Engine) clearEntry(entry *PendingEntry) error {
	return e.state.KVDelete(queueKey(entry.Kind, entry.Round, entry.Account))
}

// takeResolved loads and removes the entry of account for round once that
// round has closed, returning it with its resolved value.
func (e *Engine) takeResolved(kind EntryKind, round uint64, account [20]byte, st *vaultState) (*PendingEntry, *RoundRecord, *big.Int, error) {
	if round >= st.Round {
		return nil, nil, nil, fmt.Errorf("%w: round %d still open", ErrRoundNotClosed, round)
	}
	entry, err := e.loadEntry(kind, round, account)
	if err != nil {
		return nil, nil, nil, err
	}
	if entry.Amount.Sign() == 0 {
		return nil, nil, nil, fmt.Errorf("%w: %s in round %d", ErrNoPendingEntry, kind, round)
	}
	record, err := e.roundRecord(round)
	if err != nil {
		return nil, nil, nil, err
	}
	value, err := Resolve(*entry, record)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := e.clearEntry(entry); err != nil {
		return nil, nil, nil, err
	}
	return entry, record, value, nil
}

func (e *Engine) roundRecord(round uint64) (*RoundRecord, error) {
	record := new(RoundRecord)
	ok, err := e.state.KVGet(roundKey(round), record)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: round %d", ErrRoundNotClosed, round)
	}
	return record, nil
}

// PendingEntries lists the unresolved and unclaimed entries of account.
func (e *Engine) PendingEntries(account [20]byte) ([]PendingEntry, error) {
	if e.state == nil {
		return nil, ErrNotConfigured
	}
	var index [][]byte
	if err := e.state.KVGetList(queueIndexKey(account), &index); err != nil {
		return nil, err
	}
	out := make([]PendingEntry, 0, len(index))
	for _, raw := range index {
		kind, round, ok := decodeIndexEntry(raw)
		if !ok {
			continue
		}
		entry, err := e.loadEntry(kind, round, account)
		if err != nil {
			return nil, err
		}
		if entry.Amount.Sign() > 0 {
			out = append(out, *entry)
		}
	}
	return out, nil
}
