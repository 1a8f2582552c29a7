package wsfe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAccessTicketValidity(t *testing.T) {
	now := time.Now()

	require.False(t, accessTicket{}.valid(now), "empty ticket")
	require.True(t, accessTicket{Token: "tok", Expires: now.Add(time.Hour)}.valid(now))

	// Renewal kicks in five minutes before the actual expiry.
	require.False(t, accessTicket{Token: "tok", Expires: now.Add(4 * time.Minute)}.valid(now))
	require.False(t, accessTicket{Token: "tok", Expires: now.Add(-time.Minute)}.valid(now))
}
