package common

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyWrappedSentinels(t *testing.T) {
	errCap := NewError(ClassCapacity, "vault: cap exceeded")
	wrapped := fmt.Errorf("deposit 10: %w", errCap)

	require.ErrorIs(t, wrapped, errCap)
	require.Equal(t, ClassCapacity, Classify(wrapped))
	require.True(t, Classify(wrapped).Retryable())

	require.Equal(t, ClassValidation, Classify(NewError(ClassValidation, "bad")))
	require.False(t, ClassValidation.Retryable())
	require.False(t, ClassArithmetic.Retryable())
	require.Equal(t, ClassExternal, Classify(errors.New("oracle: price not set")))
	require.Equal(t, ClassPhase, Classify(context.Canceled))
	require.Equal(t, Class(""), Classify(nil))
}

func TestAuthorityAllows(t *testing.T) {
	owner := [20]byte{1}
	operator := [20]byte{2}
	auth := NewAuthority(owner, [20]byte{}, owner, operator)

	require.Len(t, auth.Addresses, 2)
	require.True(t, auth.Allows(owner))
	require.True(t, auth.Allows(operator))
	require.False(t, auth.Allows([20]byte{3}))
	require.False(t, auth.Allows([20]byte{}))
	require.True(t, Authority{}.Empty())

	clone := auth.Clone()
	clone.Addresses[0] = [20]byte{9}
	require.True(t, auth.Allows(owner))
}

func TestReentrancyGuard(t *testing.T) {
	var guard ReentrancyGuard
	require.NoError(t, guard.Enter())
	require.True(t, guard.Held())
	require.ErrorIs(t, guard.Enter(), ErrReentrant)
	guard.Exit()
	require.False(t, guard.Held())
	require.NoError(t, guard.Enter())
}

func TestStaticPausesCoverSubmodules(t *testing.T) {
	pauses := NewStaticPauses([]string{" Venue ", ""})
	require.ErrorIs(t, Guard(pauses, "venue.auction"), ErrModulePaused)
	require.ErrorIs(t, Guard(pauses, "venue"), ErrModulePaused)
	require.NoError(t, Guard(pauses, "vault"))
	require.NoError(t, Guard(nil, "vault"))
	require.Equal(t, ClassPhase, Classify(ErrModulePaused))
}
