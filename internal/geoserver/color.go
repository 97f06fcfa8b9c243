package geoserver

import (
	"crypto/sha1" //nolint:gosec // used for a stable display color, not security
	"encoding/hex"
	"fmt"
	"math"
)

// colorSeedLength is how many hex digits of the digest seed the hue.
const colorSeedLength = 16

// LayerColor returns the display color for a layer name. The same name always
// yields the same color.
func LayerColor(name string) string {
	sum := sha1.Sum([]byte(name)) //nolint:gosec
	return colorFromSeed(hex.EncodeToString(sum[:]))
}

// colorFromSeed derives a hue from a 32-bit rolling hash of the first
// colorSeedLength characters of seed. The shift wraps at 32 bits;
// the running sum does not.
func colorFromSeed(seed string) string {
	if len(seed) > colorSeedLength {
		seed = seed[:colorSeedLength]
	}

	var hash int64
	for i := 0; i < len(seed); i++ {
		hash = int64(seed[i]) + int64(int32(hash)<<5) - hash
	}

	hue := ((hash % 360) + 360) % 360
	return hslToHex(float64(hue), 70, 50)
}

// hslToHex converts h in degrees, s and l in percent to "#rrggbb".
func hslToHex(h, s, l float64) string {
	l /= 100
	a := s * math.Min(l, 1-l) / 100

	channel := func(n float64) int {
		k := math.Mod(n+h/30, 12)
		c := l - a*math.Max(math.Min(math.Min(k-3, 9-k), 1), -1)
		return int(math.Round(255 * c))
	}

	return fmt.Sprintf("#%02x%02x%02x", channel(0), channel(8), channel(4))
}
