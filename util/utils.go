package util

// MapN applies fn to every element and stops at the first error.
func MapN[T, V any](ts []T, fn func(T) (V, error)) ([]V, error) {
	result := make([]V, 0, len(ts))
	for _, t := range ts {
		v, err := fn(t)
		if err != nil {
			return result, err
		}
		result = append(result, v)
	}

	return result, nil
}

func Filter[T any](ts []T, fn func(T) bool) []T {
	result := []T{}
	for _, v := range ts {
		if fn(v) {
			result = append(result, v)
		}
	}
	return result
}

// Choose is a ternary.
func Choose[T any](cond bool, a, b T) T {
	if cond {
		return a
	}
	return b
}

func Reverse[T any](ts []T) []T {
	for i, j := 0, len(ts)-1; i < j; i, j = i+1, j-1 {
		ts[i], ts[j] = ts[j], ts[i]
	}
	return ts
}
