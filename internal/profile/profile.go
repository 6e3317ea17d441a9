package profile

import (
	"time"
)

// ActivityEntry is the number of submissions on one calendar day, Date is
// formatted as time.DateOnly.
type ActivityEntry struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// Snapshot is a single point-in-time extraction result for one user and
// platform. Snapshots are never patched, a newer one replaces the old one.
type Snapshot struct {
	Platform             Platform        `json:"platform"`
	Handle               string          `json:"handle"`
	DisplayName          string          `json:"displayName"`
	Rating               int             `json:"rating"`
	MaxRating            int             `json:"maxRating"`
	TotalSolved          int             `json:"totalSolved"`
	EasySolved           int             `json:"easySolved"`
	MediumSolved         int             `json:"mediumSolved"`
	HardSolved           int             `json:"hardSolved"`
	ContestsParticipated int             `json:"contestsParticipated"`
	Activity             []ActivityEntry `json:"activity"`
	// SyntheticActivity marks Activity as an estimate generated without ground
	// truth from the platform.
	SyntheticActivity bool           `json:"syntheticActivity"`
	Badges            []string       `json:"badges,omitempty"`
	RawFields         map[string]any `json:"rawFields,omitempty"`
	FetchedAt         time.Time      `json:"fetchedAt"`

	// RawText is the full text of the page or api payload the snapshot was
	// extracted from, it is only kept in memory for verification.
	RawText string `json:"-"`
}

// SetRaw stores a platform specific extra, zero values are skipped.
func (s *Snapshot) SetRaw(key string, value any) {
	switch v := value.(type) {
	case string:
		if v == "" {
			return
		}
	case int:
		if v == 0 {
			return
		}
	case nil:
		return
	}
	if s.RawFields == nil {
		s.RawFields = map[string]any{}
	}
	s.RawFields[key] = value
}

const DefaultMaxAttempts = 5

type VerificationStatus string

const (
	StatusNone     VerificationStatus = "none"
	StatusPending  VerificationStatus = "pending"
	StatusVerified VerificationStatus = "verified"
	StatusFailed   VerificationStatus = "failed"
)

type VerificationRecord struct {
	UserID     string     `json:"userId"`
	Platform   Platform   `json:"platform"`
	ProfileURL string     `json:"profileUrl"`
	Handle     string     `json:"handle"`
	Code       string     `json:"code"`
	Verified   bool       `json:"verified"`
	Attempts   int        `json:"attempts"`
	CreatedAt  time.Time  `json:"createdAt"`
	VerifiedAt *time.Time `json:"verifiedAt,omitempty"`
}

// Status derives the state machine position of a record, a nil record is StatusNone.
func (r *VerificationRecord) Status(maxAttempts int) VerificationStatus {
	switch {
	case r == nil:
		return StatusNone
	case r.Verified:
		return StatusVerified
	case r.Attempts >= maxAttempts:
		return StatusFailed
	}
	return StatusPending
}

type PlatformRating struct {
	Platform  Platform `json:"platform"`
	Rating    int      `json:"rating"`
	MaxRating int      `json:"maxRating"`
}

// TotalStats is derived from the verified snapshots of a user and is always
// recomputed in full.
type TotalStats struct {
	UserID            string           `json:"userId"`
	TotalQuestions    int              `json:"totalQuestions"`
	EasySolved        int              `json:"easySolved"`
	MediumSolved      int              `json:"mediumSolved"`
	HardSolved        int              `json:"hardSolved"`
	TotalContests     int              `json:"totalContests"`
	PerPlatformRating []PlatformRating `json:"perPlatformRating"`
	UnifiedActivity   []ActivityEntry  `json:"unifiedActivity"`
	// EstimatedActivity holds synthetic activity, it never contributes to
	// UnifiedActivity or any count derived from it.
	EstimatedActivity []ActivityEntry `json:"estimatedActivity"`
	TodayCount        int             `json:"todayCount"`
	ActiveDays        int             `json:"activeDays"`
	CurrentStreak     int             `json:"currentStreak"`
	LongestStreak     int             `json:"longestStreak"`
}
