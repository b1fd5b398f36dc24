package outcome

import "unicode/utf16"

const (
	fnvOffset uint32 = 0x811c9dc5
	fnvPrime  uint32 = 0x01000193
)

// Hash returns the 32-bit FNV-1a hash of seed taken over its UTF-16 code units,
// so a browser preview hashing the same JavaScript string gets the same value.
// For ASCII seeds this equals byte-wise FNV-1a.
func Hash(seed string) uint32 {
	h := fnvOffset
	for _, u := range utf16.Encode([]rune(seed)) {
		h ^= uint32(u)
		h *= fnvPrime // wraps mod 2^32
	}
	return h
}

// HashFloat maps seed into [0, 1) with six decimal digits of resolution.
func HashFloat(seed string) float64 {
	return float64(Hash(seed)%1_000_000) / 1_000_000
}

// HashIntn maps seed into [0, n). n must be positive. Hash is 32 bits wide,
// so for n above 2^32 only the low [0, 2^32) part of the range is reached.
func HashIntn(seed string, n int) int {
	if n <= 0 {
		return 0
	}
	return int(uint64(Hash(seed)) % uint64(n))
}

// PickWeighted returns the index chosen by walking a cursor of
// Hash(seed) mod total weight through weights. Non-positive weights are never
// picked. It returns -1 when no weight is positive.
func PickWeighted(seed string, weights []int) int {
	total := 0
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}
	if total <= 0 {
		return -1
	}
	cursor := int(Hash(seed) % uint32(total))
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		if cursor < w {
			return i
		}
		cursor -= w
	}
	return len(weights) - 1
}
