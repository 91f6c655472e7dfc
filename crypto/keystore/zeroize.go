package keystore

// zeroize overwrites a byte slice with zeros.
func zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
