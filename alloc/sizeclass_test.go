package alloc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassOfExactBoundaries(t *testing.T) {
	for _, bytes := range smallSizeClasses {
		require.Equal(t, int(bytes), int(smallSizeClasses[classOf(int(bytes))]))
	}
}

func TestClassOfRoundsUp(t *testing.T) {
	require.Equal(t, 16, int(smallSizeClasses[classOf(1)]))
	require.Equal(t, 32, int(smallSizeClasses[classOf(17)]))
	require.Equal(t, 512, int(smallSizeClasses[classOf(511)]))
	require.Equal(t, 512, int(smallSizeClasses[classOf(512)]))
}

func TestClassOfMonotonic(t *testing.T) {
	prev := 0
	for n := 1; n <= smallMaxBytes; n++ {
		cls := classOf(n)
		require.GreaterOrEqual(t, cls, prev)
		prev = cls
	}
}
