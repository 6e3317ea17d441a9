package extract

type Difficulty int

const (
	Easy Difficulty = iota
	Medium
	Hard
)

const (
	MediumCutoff = 1700
	HardCutoff   = 2000
)

// Classify buckets a problem rating, unrated problems (rating <= 0) have no
// difficulty.
func Classify(rating int) (Difficulty, bool) {
	switch {
	case rating <= 0:
		return 0, false
	case rating < MediumCutoff:
		return Easy, true
	case rating < HardCutoff:
		return Medium, true
	}
	return Hard, true
}

type Buckets struct {
	Easy   int
	Medium int
	Hard   int
}

func (b Buckets) Total() int {
	return b.Easy + b.Medium + b.Hard
}

// BucketRatings counts ratings per difficulty, unrated problems are skipped.
func BucketRatings(ratings []int) Buckets {
	var b Buckets
	for _, r := range ratings {
		d, ok := Classify(r)
		if !ok {
			continue
		}
		switch d {
		case Easy:
			b.Easy++
		case Medium:
			b.Medium++
		case Hard:
			b.Hard++
		}
	}
	return b
}
