package clientcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTypistCollapsesBursts(t *testing.T) {
	var sent []int64
	ty := NewTypist(2*time.Second, func(peer int64) { sent = append(sent, peer) })

	now := time.Unix(1000, 0)
	ty.now = func() time.Time { return now }

	// Three rapid edits transmit exactly once.
	ty.Touch(2)
	now = now.Add(200 * time.Millisecond)
	ty.Touch(2)
	now = now.Add(200 * time.Millisecond)
	ty.Touch(2)
	require.Equal(t, []int64{2}, sent)

	// After the window another edit transmits again.
	now = now.Add(2 * time.Second)
	ty.Touch(2)
	require.Equal(t, []int64{2, 2}, sent)
}

func TestTypistTracksPeersIndependently(t *testing.T) {
	var sent []int64
	ty := NewTypist(2*time.Second, func(peer int64) { sent = append(sent, peer) })

	now := time.Unix(1000, 0)
	ty.now = func() time.Time { return now }

	ty.Touch(2)
	ty.Touch(3)
	ty.Touch(2)
	require.Equal(t, []int64{2, 3}, sent)
}
