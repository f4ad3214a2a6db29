package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/memberhub/backend/internal/domain"
	"github.com/memberhub/backend/internal/repository"
	"github.com/memberhub/backend/internal/trial"
)

// SettingsService reads and writes the fee schedule and trial policies.
// Every read goes to the store so admin edits apply immediately.
type SettingsService struct {
	store    SettingsStore
	currency string
}

// NewSettingsService creates a new SettingsService billing in currency.
func NewSettingsService(store SettingsStore, currency string) *SettingsService {
	return &SettingsService{store: store, currency: strings.ToLower(currency)}
}

// Currency returns the billing currency (ISO 4217, lower case).
func (s *SettingsService) Currency() string {
	return s.currency
}

// Fees returns the fee schedule with defaults filled in for unset levels.
func (s *SettingsService) Fees(ctx context.Context) (domain.FeeSchedule, error) {
	stored := domain.FeeSchedule{}
	if _, err := s.store.Get(ctx, repository.SettingFeeSchedule, &stored); err != nil {
		return nil, domain.ErrPersistence("failed to read fee schedule", err)
	}
	fees := make(domain.FeeSchedule, len(domain.Levels()))
	for _, level := range domain.Levels() {
		fees[level] = trial.Fee(stored, level)
	}
	return fees, nil
}

// SetFees merges update into the stored fee schedule.
func (s *SettingsService) SetFees(ctx context.Context, update map[string]float64) (domain.FeeSchedule, error) {
	stored := domain.FeeSchedule{}
	if _, err := s.store.Get(ctx, repository.SettingFeeSchedule, &stored); err != nil {
		return nil, domain.ErrPersistence("failed to read fee schedule", err)
	}
	for key, amount := range update {
		level, ok := domain.ParseLevel(key)
		if !ok {
			return nil, domain.ErrValidation(fmt.Sprintf("unknown membership level %q", key))
		}
		if amount < 0 {
			return nil, domain.ErrValidation(fmt.Sprintf("fee for %s must not be negative", level))
		}
		stored[level] = amount
	}
	if err := s.store.Set(ctx, repository.SettingFeeSchedule, stored); err != nil {
		return nil, domain.ErrPersistence("failed to write fee schedule", err)
	}
	return s.Fees(ctx)
}

// PublicFees lists the annual fee of every level in display order.
func (s *SettingsService) PublicFees(ctx context.Context) ([]domain.LevelFee, error) {
	fees, err := s.Fees(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.LevelFee, 0, len(fees))
	for _, level := range domain.Levels() {
		out = append(out, domain.LevelFee{Level: level, Amount: fees[level], Currency: s.currency})
	}
	return out, nil
}

// FeeForLevel returns the annual fee for level.
func (s *SettingsService) FeeForLevel(ctx context.Context, level domain.Level) (float64, error) {
	stored := domain.FeeSchedule{}
	if _, err := s.store.Get(ctx, repository.SettingFeeSchedule, &stored); err != nil {
		return 0, domain.ErrPersistence("failed to read fee schedule", err)
	}
	return trial.Fee(stored, level), nil
}

// Trials returns the trial policy of every level; unset levels have none.
func (s *SettingsService) Trials(ctx context.Context) (domain.TrialSchedule, error) {
	stored := domain.TrialSchedule{}
	if _, err := s.store.Get(ctx, repository.SettingTrialSchedule, &stored); err != nil {
		return nil, domain.ErrPersistence("failed to read trial settings", err)
	}
	out := make(domain.TrialSchedule, len(domain.Levels()))
	for _, level := range domain.Levels() {
		cfg, ok := stored[level]
		if !ok || cfg.Type == "" {
			cfg = domain.TrialConfig{Type: domain.TrialNone}
		}
		out[level] = cfg
	}
	return out, nil
}

// SetTrials merges update into the stored trial policies after validating each entry.
func (s *SettingsService) SetTrials(ctx context.Context, update map[string]domain.TrialConfig) (domain.TrialSchedule, error) {
	stored := domain.TrialSchedule{}
	if _, err := s.store.Get(ctx, repository.SettingTrialSchedule, &stored); err != nil {
		return nil, domain.ErrPersistence("failed to read trial settings", err)
	}

	keys := make([]string, 0, len(update))
	for key := range update {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		level, ok := domain.ParseLevel(key)
		if !ok {
			return nil, domain.ErrValidation(fmt.Sprintf("unknown membership level %q", key))
		}
		cfg, err := normalizeTrial(update[key])
		if err != nil {
			return nil, domain.ErrValidation(fmt.Sprintf("%s: %v", level, err))
		}
		stored[level] = cfg
	}
	if err := s.store.Set(ctx, repository.SettingTrialSchedule, stored); err != nil {
		return nil, domain.ErrPersistence("failed to write trial settings", err)
	}
	return s.Trials(ctx)
}

func normalizeTrial(cfg domain.TrialConfig) (domain.TrialConfig, error) {
	switch cfg.Type {
	case domain.TrialNone, "":
		return domain.TrialConfig{Type: domain.TrialNone}, nil
	case domain.TrialDurationMonths:
		if cfg.Months < 1 || cfg.Months > 60 {
			return cfg, fmt.Errorf("months must be between 1 and 60")
		}
		return domain.TrialConfig{Type: cfg.Type, Months: cfg.Months}, nil
	case domain.TrialFixedDate:
		if cfg.Month < 1 || cfg.Month > 12 {
			return cfg, fmt.Errorf("month must be between 1 and 12")
		}
		// Leap day is accepted and clamped in non-leap years.
		maxDay := time.Date(2024, time.Month(cfg.Month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
		if cfg.Day < 1 || cfg.Day > maxDay {
			return cfg, fmt.Errorf("day must be between 1 and %d", maxDay)
		}
		return domain.TrialConfig{Type: cfg.Type, Month: cfg.Month, Day: cfg.Day}, nil
	default:
		return cfg, fmt.Errorf("unknown trial type %q", cfg.Type)
	}
}

func (s *SettingsService) trialFor(ctx context.Context, level domain.Level) (domain.TrialConfig, error) {
	trials, err := s.Trials(ctx)
	if err != nil {
		return domain.TrialConfig{}, err
	}
	return trials[level], nil
}

// TrialCutoff returns the trial cutoff for a member of level created at createdAt.
func (s *SettingsService) TrialCutoff(ctx context.Context, level domain.Level, createdAt time.Time) (*time.Time, error) {
	cfg, err := s.trialFor(ctx, level)
	if err != nil {
		return nil, err
	}
	return trial.Cutoff(cfg, createdAt), nil
}

// EffectiveExpiry returns the trial-adjusted expiry for a billing period.
func (s *SettingsService) EffectiveExpiry(ctx context.Context, level domain.Level, createdAt, periodStart, periodEnd time.Time) (time.Time, error) {
	cfg, err := s.trialFor(ctx, level)
	if err != nil {
		return time.Time{}, err
	}
	return trial.EffectiveExpiry(cfg, createdAt, periodStart, periodEnd), nil
}
