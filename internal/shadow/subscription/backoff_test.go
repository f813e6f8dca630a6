package subscription

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffDoublesAndClamps(t *testing.T) {
	b := NewBackoff()
	prev := time.Duration(0)
	for k := 0; k < 13; k++ {
		w := b.Failure(nil)
		want := time.Duration(1) << uint(k) * time.Second
		if want > 3600*time.Second {
			want = 3600 * time.Second
		}
		require.Equal(t, want, w, "k=%d", k)
		prev = w
	}
	require.Equal(t, 3600*time.Second, prev)
}

func TestBackoffServerDelayResetsAndIsUsedVerbatim(t *testing.T) {
	b := NewBackoff()
	b.Failure(nil)
	b.Failure(nil)

	d := 17 * time.Second
	w := b.Failure(&d)
	require.Equal(t, d, w)

	// Counter reset: the next failure with no server delay goes back to w_0.
	w = b.Failure(nil)
	require.Equal(t, time.Second, w)
}

func TestBackoffSuccessResets(t *testing.T) {
	b := NewBackoff()
	b.Failure(nil)
	b.Failure(nil)
	b.Success()
	w := b.Failure(nil)
	require.Equal(t, time.Second, w)
}
