package domain

// TrialType selects how a level's trial cutoff is computed.
type TrialType string

const (
	TrialNone           TrialType = "none"
	TrialFixedDate      TrialType = "fixed_calendar_date"
	TrialDurationMonths TrialType = "duration_months"
)

// TrialConfig is the admin-configurable trial policy for one level.
// Months applies to duration_months; Month and Day to fixed_calendar_date.
type TrialConfig struct {
	Type   TrialType `json:"type" validate:"required,oneof=none fixed_calendar_date duration_months"`
	Months int       `json:"months,omitempty" validate:"omitempty,min=1,max=60"`
	Month  int       `json:"month,omitempty" validate:"omitempty,min=1,max=12"`
	Day    int       `json:"day,omitempty" validate:"omitempty,min=1,max=31"`
}

// TrialSchedule maps each level to its trial policy.
type TrialSchedule map[Level]TrialConfig

// FeeSchedule maps each level to its annual fee in the billing currency.
type FeeSchedule map[Level]float64

// DefaultFees is the fallback fee schedule used when a level has no stored fee.
func DefaultFees() FeeSchedule {
	return FeeSchedule{
		LevelFull:      120,
		LevelStudent:   40,
		LevelAssociate: 80,
		LevelCorporate: 500,
		LevelHonorary:  0,
	}
}

// LevelFee is one row of the public fee listing.
type LevelFee struct {
	Level    Level   `json:"membershipLevel"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}
