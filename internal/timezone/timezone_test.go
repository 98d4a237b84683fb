package timezone

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOverrideWins(t *testing.T) {
	t.Parallel()

	s := New("America/New_York")
	require.Equal(t, "America/New_York", s.Get())
	require.Equal(t, "America/New_York", s.Set("   "))
	require.Equal(t, "Asia/Tokyo", s.Set("Asia/Tokyo"))
}

func TestDetectFallsBack(t *testing.T) {
	t.Parallel()

	s := &Service{detect: func() string { return Fallback }}
	require.Equal(t, Fallback, s.Get())
}

func TestZoneFromPath(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Europe/Berlin", zoneFromPath("/usr/share/zoneinfo/Europe/Berlin"))
	require.Equal(t, "", zoneFromPath("/etc/whatever"))
}

func TestValid(t *testing.T) {
	t.Parallel()

	require.False(t, valid(""))
	require.False(t, valid("Local"))
	require.False(t, valid("Not/AZone"))
	require.True(t, valid("UTC"))
}
