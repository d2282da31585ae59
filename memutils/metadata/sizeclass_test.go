package metadata_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/rgc/memutils/metadata"
)

func TestDefaultLadder(t *testing.T) {
	ladder := metadata.DefaultSizeClassLadder()

	require.Equal(t, []int{521, 1042, 2084, 4168, 8336, 16672, 33344, 66688}, ladder.Classes())
	require.Equal(t, 521, ladder.SmallestClass())
	require.Equal(t, 66688, ladder.LargestClass())
	require.Equal(t, 66687, ladder.MaxRequest())
}

func TestClassifyStrictlyGreater(t *testing.T) {
	ladder := metadata.DefaultSizeClassLadder()
	classes := ladder.Classes()

	for i, class := range classes {
		size, err := ladder.Classify(class - 1)
		require.NoError(t, err)
		require.Equal(t, class, size, "one byte under the boundary should stay in the boundary class")

		if i+1 < len(classes) {
			size, err = ladder.Classify(class)
			require.NoError(t, err)
			require.Equal(t, classes[i+1], size, "a request equal to the boundary is promoted")
		}
	}
}

func TestClassifySmallestFit(t *testing.T) {
	ladder := metadata.DefaultSizeClassLadder()
	classes := ladder.Classes()

	for requested := 1; requested < ladder.LargestClass(); requested += 97 {
		size, err := ladder.Classify(requested)
		require.NoError(t, err)
		require.Greater(t, size, requested)

		for _, class := range classes {
			if class > requested {
				require.Equal(t, class, size)
				break
			}
		}
	}
}

func TestClassifyOversized(t *testing.T) {
	ladder := metadata.DefaultSizeClassLadder()

	_, err := ladder.Classify(66688)
	require.Error(t, err)
	require.True(t, errors.Is(err, metadata.ErrOversizedRequest))

	_, err = ladder.Classify(1 << 20)
	require.True(t, errors.Is(err, metadata.ErrOversizedRequest))
}

func TestClassifyInvalid(t *testing.T) {
	ladder := metadata.DefaultSizeClassLadder()

	_, err := ladder.Classify(0)
	require.True(t, errors.Is(err, metadata.ErrInvalidRequest))

	_, err = ladder.Classify(-5)
	require.True(t, errors.Is(err, metadata.ErrInvalidRequest))
}

func TestCustomLadder(t *testing.T) {
	ladder, err := metadata.NewSizeClassLadder(64, 3)
	require.NoError(t, err)
	require.Equal(t, []int{64, 128, 256}, ladder.Classes())

	size, err := ladder.Classify(64)
	require.NoError(t, err)
	require.Equal(t, 128, size)

	_, err = metadata.NewSizeClassLadder(0, 3)
	require.Error(t, err)

	_, err = metadata.NewSizeClassLadder(64, 0)
	require.Error(t, err)
}
