package extract

import (
	"codefolio-backend/internal/profile"
	"hash/fnv"
	"math/rand/v2"
	"time"
)

const syntheticDays = 365

// Synthesize estimates a trailing year of activity for platforms that only
// expose a yearly total and a streak. The result is seeded by platform, handle
// and day so repeated extractions on the same day agree.
func Synthesize(platform profile.Platform, handle string, today time.Time, streak int) []profile.ActivityEntry {
	day := today.Format(time.DateOnly)
	h := fnv.New64a()
	h.Write([]byte(string(platform) + "|" + handle + "|" + day))
	seed := h.Sum64()
	rng := rand.New(rand.NewPCG(seed, seed>>1|1))

	counts := map[string]int{}
	for i := 0; i < syntheticDays; i++ {
		date := today.AddDate(0, 0, -i).Format(time.DateOnly)
		switch {
		case i < streak:
			counts[date] = 1 + rng.IntN(5)
		case rng.Float64() < 0.3:
			counts[date] = 1 + rng.IntN(3)
		}
	}
	return FromCounts(counts)
}
