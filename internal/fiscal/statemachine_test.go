package fiscal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from, to State
		allowed  bool
	}{
		{StateDraft, StateAuthorized, true},
		{StateDraft, StateRejected, true},
		{StateDraft, StateVoided, false},
		{StateRejected, StateDraft, true},
		{StateRejected, StateAuthorized, false},
		{StateRejected, StateVoided, false},
		{StateAuthorized, StateVoided, true},
		{StateAuthorized, StateDraft, false},
		{StateAuthorized, StateRejected, false},
		{StateVoided, StateDraft, false},
		{StateVoided, StateAuthorized, false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.allowed, transitionAllowed(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestTransitionRecordsHistory(t *testing.T) {
	now := time.Now()
	inv := &Invoice{State: StateDraft}

	require.NoError(t, transition(inv, StateRejected, "ops", "authority rejected", now))
	require.Equal(t, StateRejected, inv.State)
	require.Len(t, inv.History, 1)
	require.Equal(t, StateDraft, inv.History[0].From)
	require.Equal(t, StateRejected, inv.History[0].To)
	require.Equal(t, "ops", inv.History[0].Actor)
	require.Equal(t, now, inv.History[0].At)
}

func TestMarkAuthorizedAttachesArtifacts(t *testing.T) {
	inv := &Invoice{State: StateDraft, RejectionReasons: []string{"stale"}}
	auth := Authorization{CAE: "71234567890123", Sequence: 9, CAEExpiry: time.Now().AddDate(0, 0, 10)}

	require.NoError(t, MarkAuthorized(inv, auth, "ops", time.Now()))
	require.Equal(t, StateAuthorized, inv.State)
	require.Equal(t, auth, inv.Authorization)
	require.Nil(t, inv.RejectionReasons)
}

func TestMarkRejectedClearsArtifacts(t *testing.T) {
	inv := &Invoice{State: StateDraft, Authorization: Authorization{CAE: "spurious"}}

	require.NoError(t, MarkRejected(inv, []string{"bad doc"}, "ops", time.Now()))
	require.Equal(t, StateRejected, inv.State)
	require.True(t, inv.Authorization.Empty(), "artifacts exist iff the state is authorized")
	require.Equal(t, []string{"bad doc"}, inv.RejectionReasons)
}

func TestMarkVoidedKeepsArtifacts(t *testing.T) {
	auth := Authorization{CAE: "71234567890123", Sequence: 5}
	inv := &Invoice{State: StateAuthorized, Authorization: auth}
	at := time.Now()

	require.NoError(t, MarkVoided(inv, "ops", "duplicate issue", at))
	require.Equal(t, StateVoided, inv.State)
	require.Equal(t, auth, inv.Authorization)
	require.Equal(t, "duplicate issue", inv.VoidReason)
	require.Equal(t, at, inv.VoidedAt)
}

func TestIllegalTransitionReported(t *testing.T) {
	inv := &Invoice{State: StateVoided}
	err := MarkAuthorized(inv, Authorization{CAE: "71234567890123"}, "ops", time.Now())

	var ill *IllegalTransitionError
	require.ErrorAs(t, err, &ill)
	require.Equal(t, StateVoided, ill.From)
	require.Equal(t, StateAuthorized, ill.To)
	require.Equal(t, StateVoided, inv.State, "a refused transition mutates nothing")
	require.Empty(t, inv.History)
	require.True(t, inv.Authorization.Empty())
}
