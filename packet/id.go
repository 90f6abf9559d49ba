package packet

// Hash computes the Pigweed 65599-style 32-bit hash of a fully-qualified
// service or method name: start with the length of the name, then for each
// byte update h = h + coef*b, coef *= 65599 (all mod 2^32).
//
// Both endpoints must compute identical hashes for a given name; see
// TestHashVectors in packet_test.go.
func Hash(name string) uint32 {
	const mult = 65599

	hash := uint32(len(name))
	coef := uint32(mult)

	for i := 0; i < len(name); i++ {
		hash += coef * uint32(name[i])
		coef *= mult
	}

	return hash
}

// SplitMethodPath splits a "service.Method" style fully-qualified path on
// its last '.' separator, mirroring the Maestro schema's naming convention.
// If path contains no separator, service is the empty string and method is
// the whole path.
func SplitMethodPath(path string) (service, method string) {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '.' {
			return path[:i], path[i+1:]
		}
	}
	return "", path
}
