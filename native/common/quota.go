package common

import "math"

var (
	ErrQuotaRequestsExceeded = NewError(ClassCapacity, "quota requests exceeded")
	ErrQuotaAmountExceeded   = NewError(ClassCapacity, "quota amount cap exceeded")
	ErrQuotaCounterOverflow  = NewError(ClassArithmetic, "quota counter overflow")
)

// QuotaNow is the usage of one address within a quota epoch.
type QuotaNow struct {
	ReqCount   uint32
	AmountUsed uint64
	EpochID    uint64
}

// Quota bounds the requests and total amount an address may draw per epoch,
// as used by the devnet faucet. Zero limits are not enforced.
type Quota struct {
	MaxRequestsPerEpoch uint32
	MaxAmountPerEpoch   uint64
	EpochSeconds        uint32
}

// Epoch returns the quota epoch containing the unix timestamp.
func (q Quota) Epoch(unix int64) uint64 {
	if unix <= 0 {
		return 0
	}
	span := int64(q.EpochSeconds)
	if span <= 0 {
		span = 60
	}
	return uint64(unix / span)
}

// CheckQuota returns the counters after adding addReq requests and addAmount
// units in nowEpoch. prev is returned unchanged with the error when a limit
// would be exceeded.
func CheckQuota(q Quota, nowEpoch uint64, prev QuotaNow, addReq uint32, addAmount uint64) (QuotaNow, error) {
	next := prev
	if prev.EpochID != nowEpoch {
		next = QuotaNow{EpochID: nowEpoch}
	}

	if addReq > 0 {
		if next.ReqCount > math.MaxUint32-addReq {
			return prev, ErrQuotaCounterOverflow
		}
		next.ReqCount += addReq
	}
	if q.MaxRequestsPerEpoch > 0 && next.ReqCount > q.MaxRequestsPerEpoch {
		return prev, ErrQuotaRequestsExceeded
	}

	if addAmount > 0 {
		if next.AmountUsed > math.MaxUint64-addAmount {
			return prev, ErrQuotaCounterOverflow
		}
		next.AmountUsed += addAmount
	}
	if q.MaxAmountPerEpoch > 0 && next.AmountUsed > q.MaxAmountPerEpoch {
		return prev, ErrQuotaAmountExceeded
	}

	return next, nil
}
