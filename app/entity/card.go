package entity

import "time"

const (
	CardStatusActive  = "active"
	CardStatusBlocked = "blocked"
	CardStatusClosed  = "closed"
)

type Card struct {
	ID            string
	UserID        string
	Status        string
	WalletAddress string
	ExpiresAt     time.Time

	DailyLimitMinor   int64
	MonthlyLimitMinor int64
	DailySpentMinor   int64
	MonthlySpentMinor int64
	// SpendDay and SpendMonth hold the calendar day ("2006-01-02") and month ("2006-01")
	// the spent counters belong to.
	SpendDay   string
	SpendMonth string

	UpdatedAt time.Time
}

// Usable reports whether the card may be charged at the given moment.
func (c *Card) Usable(now time.Time) bool {
	if c == nil {
		return false
	}
	if c.Status != CardStatusActive {
		return false
	}
	return now.Before(c.ExpiresAt)
}

// SpentFor returns the spend-to-date for the calendar day and month containing now,
// treating counters recorded for an earlier period as zero.
func (c *Card) SpentFor(now time.Time) (daily int64, monthly int64) {
	if c.SpendDay == now.Format("2006-01-02") {
		daily = c.DailySpentMinor
	}
	if c.SpendMonth == now.Format("2006-01") {
		monthly = c.MonthlySpentMinor
	}
	return daily, monthly
}

type Merchant struct {
	ID                  string
	WalletAddress       string
	LifetimeVolumeMinor int64
	UpdatedAt           time.Time
}

type Terminal struct {
	ID         string
	MerchantID string
	Active     bool
}
