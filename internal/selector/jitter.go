package selector

// Jitter computes the playback continuation offset. Once the participant has
// demonstrated correctness the offset is exactly zero; until then it is a
// uniform random draw from [min, max].
func Jitter(min, max float64, correct bool, src Source) float64 {
	if correct {
		return 0
	}
	if max < min {
		min, max = max, min
	}
	return min + src.Float64()*(max-min)
}
