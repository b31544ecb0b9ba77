package utils

// HashString returns a deterministic non-negative hash of s. Used by the
// deterministic test doubles so that the same text always maps to the same
// pseudo-embedding or pseudo-score.
func HashString(s string) int {
	h := 0
	for _, c := range s {
		h = 31*h + int(c)
	}
	if h < 0 {
		h = -h
	}
	return h
}
