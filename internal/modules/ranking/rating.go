package ranking

// RollingMean folds rating r into a mean that currently covers count ratings.
func RollingMean(old float64, count int, r int) float64 {
	if count <= 0 {
		return float64(r)
	}
	return (old*float64(count) + float64(r)) / float64(count+1)
}
