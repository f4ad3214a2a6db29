package service

import (
	"context"
	"testing"
	"time"

	"github.com/memberhub/backend/internal/domain"
	"github.com/memberhub/backend/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublicFeesUseDefaults(t *testing.T) {
	s := NewSettingsService(testutil.NewStore(), "EUR")

	fees, err := s.PublicFees(context.Background())
	require.NoError(t, err)
	require.Len(t, fees, len(domain.Levels()))
	assert.Equal(t, domain.LevelFee{Level: domain.LevelFull, Amount: 120, Currency: "eur"}, fees[0])
	assert.Equal(t, domain.LevelHonorary, fees[len(fees)-1].Level)
}

func TestSetFeesMerges(t *testing.T) {
	ctx := context.Background()
	s := NewSettingsService(testutil.NewStore(), "eur")

	fees, err := s.SetFees(ctx, map[string]float64{"Student": 35.5})
	require.NoError(t, err)
	assert.Equal(t, 35.5, fees[domain.LevelStudent])
	assert.Equal(t, 120.0, fees[domain.LevelFull])

	_, err = s.SetFees(ctx, map[string]float64{"full": 150})
	require.NoError(t, err)
	fee, err := s.FeeForLevel(ctx, domain.LevelStudent)
	require.NoError(t, err)
	assert.Equal(t, 35.5, fee)

	_, err = s.SetFees(ctx, map[string]float64{"gold": 10})
	assert.True(t, domain.IsKind(err, domain.KindValidation))
	_, err = s.SetFees(ctx, map[string]float64{"full": -1})
	assert.True(t, domain.IsKind(err, domain.KindValidation))
}

func TestSetTrialsValidation(t *testing.T) {
	ctx := context.Background()
	s := NewSettingsService(testutil.NewStore(), "eur")

	tests := []struct {
		name  string
		input domain.TrialConfig
		ok    bool
	}{
		{"none", domain.TrialConfig{Type: domain.TrialNone}, true},
		{"duration", domain.TrialConfig{Type: domain.TrialDurationMonths, Months: 6}, true},
		{"duration too long", domain.TrialConfig{Type: domain.TrialDurationMonths, Months: 61}, false},
		{"duration zero", domain.TrialConfig{Type: domain.TrialDurationMonths}, false},
		{"fixed date", domain.TrialConfig{Type: domain.TrialFixedDate, Month: 9, Day: 1}, true},
		{"leap day", domain.TrialConfig{Type: domain.TrialFixedDate, Month: 2, Day: 29}, true},
		{"impossible day", domain.TrialConfig{Type: domain.TrialFixedDate, Month: 4, Day: 31}, false},
		{"bad month", domain.TrialConfig{Type: domain.TrialFixedDate, Month: 13, Day: 1}, false},
		{"unknown type", domain.TrialConfig{Type: "weekly"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.SetTrials(ctx, map[string]domain.TrialConfig{"full": tt.input})
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, domain.IsKind(err, domain.KindValidation), "got %v", err)
			}
		})
	}
}

func TestSetTrialsDropsIrrelevantFields(t *testing.T) {
	ctx := context.Background()
	s := NewSettingsService(testutil.NewStore(), "eur")

	trials, err := s.SetTrials(ctx, map[string]domain.TrialConfig{
		"student": {Type: domain.TrialDurationMonths, Months: 3, Month: 5, Day: 5},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TrialConfig{Type: domain.TrialDurationMonths, Months: 3}, trials[domain.LevelStudent])
	assert.Equal(t, domain.TrialConfig{Type: domain.TrialNone}, trials[domain.LevelFull])

	created := time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC)
	cutoff, err := s.TrialCutoff(ctx, domain.LevelStudent, created)
	require.NoError(t, err)
	require.NotNil(t, cutoff)
	assert.True(t, cutoff.Equal(time.Date(2024, 4, 10, 8, 0, 0, 0, time.UTC)))

	cutoff, err = s.TrialCutoff(ctx, domain.LevelFull, created)
	require.NoError(t, err)
	assert.Nil(t, cutoff)
}
