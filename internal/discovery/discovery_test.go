package discovery

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSortByNumericSuffix(t *testing.T) {
	in := []string{"COM1", "COM10", "COM2", "COM9"}
	require.Equal(t, []string{"COM1", "COM2", "COM9", "COM10"}, sortByNumericSuffix(in))
}

func TestSortByNumericSuffixMixedPrefixes(t *testing.T) {
	in := []string{"/dev/ttyACM10", "/dev/ttyACM2", "/dev/ttyUSB0"}
	require.Equal(t, []string{"/dev/ttyACM2", "/dev/ttyACM10", "/dev/ttyUSB0"}, sortByNumericSuffix(in))
}

func TestSplitSuffix(t *testing.T) {
	prefix, n := splitSuffix("COM10")
	require.Equal(t, "COM", prefix)
	require.Equal(t, 10, n)
}
