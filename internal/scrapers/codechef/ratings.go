package codechef

import (
	"codefolio-backend/internal/profile"
	"codefolio-backend/internal/scrapers"
	"context"
	"encoding/binary"
	"strconv"
	"strings"
	"time"

	"github.com/coocood/freecache"
)

// ratingCache keeps problem difficulty ratings, they rarely change and are
// shared by every user who solved the problem.
type ratingCache struct {
	cache *freecache.Cache
	ttl   int
}

func newRatingCache(sizeMB int, ttl time.Duration) *ratingCache {
	return &ratingCache{
		cache: freecache.NewCache(sizeMB * 1024 * 1024),
		ttl:   int(ttl.Seconds()),
	}
}

func (c *ratingCache) Get(code string) (int, bool) {
	value, err := c.cache.Get([]byte(code))
	if err != nil || len(value) != 4 {
		return 0, false
	}
	return int(int32(binary.BigEndian.Uint32(value))), true
}

func (c *ratingCache) Set(code string, rating int) {
	value := make([]byte, 4)
	binary.BigEndian.PutUint32(value, uint32(int32(rating)))
	c.cache.Set([]byte(code), value, c.ttl)
}

// flexInt accepts both numbers and numeric strings.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "" || raw == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return err
	}
	*f = flexInt(n)
	return nil
}

type problemResponse struct {
	Status           string  `json:"status"`
	DifficultyRating flexInt `json:"difficulty_rating"`
}

// problemRatings looks up the difficulty rating of each solved problem.
// Problems that could not be rated are returned as 0.
func (e *Extractor) problemRatings(ctx context.Context, src scrapers.Source, codes []string) []int {
	ratings := make([]int, 0, len(codes))
	lookups := 0
	for _, code := range codes {
		if rating, ok := e.ratings.Get(code); ok {
			ratings = append(ratings, rating)
			continue
		}
		if lookups >= e.opts.MaxProblemLookups || ctx.Err() != nil {
			ratings = append(ratings, 0)
			continue
		}
		lookups++

		var res problemResponse
		_, err := src.Fetch.GetJSON(ctx, e.opts.SiteBase+"/api/contests/PRACTICE/problems/"+code, nil, false, &res)
		if err != nil {
			err = scrapers.ClassifyFetchError(profile.CodeChef, "", err)
			e.tel.ReportWarning(report_extractor_ratings, err, code)
			ratings = append(ratings, 0)
			// the api is throttling, every further lookup would fail too
			if profile.IsKind(err, profile.KindBlockedOrRateLimited) {
				lookups = e.opts.MaxProblemLookups
			}
			continue
		}
		rating := int(res.DifficultyRating)
		e.ratings.Set(code, rating)
		ratings = append(ratings, rating)
	}
	return ratings
}
