package slices

// Deduplicate removes elements which map to an already seen key, keeping the first occurrence.
// The order of the remaining elements is preserved.
func Deduplicate[T any, K comparable](slice []T, key func(T) K) []T {
	seen := make(map[K]struct{}, len(slice))
	var result []T
	for _, value := range slice {
		k := key(value)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		result = append(result, value)
	}
	return result
}
