package domain

import "fmt"

type RatingCategory string

const (
	CategoryBullet    RatingCategory = "bullet"
	CategoryBlitz     RatingCategory = "blitz"
	CategoryRapid     RatingCategory = "rapid"
	CategoryClassical RatingCategory = "classical"
	CategoryDaily     RatingCategory = "daily"
	CategoryBest      RatingCategory = "best"
)

func ParseRatingCategory(raw string) (RatingCategory, error) {
	switch RatingCategory(raw) {
	case CategoryBullet, CategoryBlitz, CategoryRapid, CategoryClassical, CategoryDaily, CategoryBest:
		return RatingCategory(raw), nil
	}
	return "", fmt.Errorf("%w: unknown rating category '%s'", ErrInvalidConfig, raw)
}

type RatingSnapshot struct {
	Value    int
	Category RatingCategory
}

// PlayerRatings holds the current rating per category as reported by the platform
type PlayerRatings struct {
	Platform   Platform
	ByCategory map[RatingCategory]int
}

func (r PlayerRatings) best() (int, bool) {
	best := 0
	found := false
	for _, rating := range r.ByCategory {
		if !found || rating > best {
			best = rating
			found = true
		}
	}
	return best, found
}

func (r PlayerRatings) Snapshot(category RatingCategory) RatingSnapshot {
	if category == CategoryBest {
		if best, ok := r.best(); ok {
			return RatingSnapshot{Value: best, Category: category}
		}
		return RatingSnapshot{Value: r.Platform.DefaultRating(), Category: category}
	}

	if rating, ok := r.ByCategory[category]; ok {
		return RatingSnapshot{Value: rating, Category: category}
	}
	return RatingSnapshot{Value: r.Platform.DefaultRating(), Category: category}
}
