package hipaa

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const day = 24 * time.Hour

// MinimumPHIRetention is the HIPAA floor for records about PHI access.
const MinimumPHIRetention = 2190 * day // 6 years

// RetentionPolicy defines how long audit records of one level are kept.
type RetentionPolicy struct {
	Level         AuditLevel `json:"audit_level"`
	RetentionDays int        `json:"retention_days"` // floor; 0 means the entity default alone applies
	Description   string     `json:"description"`
}

// DefaultRetentionPolicies returns the audit retention policies.
//
// Comprehensive records cover PHI access and are kept at least six years.
// Standard records follow the entity default.
func DefaultRetentionPolicies() []RetentionPolicy {
	return []RetentionPolicy{
		{
			Level:         AuditComprehensive,
			RetentionDays: 2190, // 6 years
			Description:   "PHI access: 6 years minimum (HIPAA), longer when the entity requires it",
		},
		{
			Level:         AuditStandard,
			RetentionDays: 0,
			Description:   "Non-PHI access: the entity's default audit retention",
		},
	}
}

// RetentionService computes retain-until dates for audit records.
type RetentionService struct {
	mu       sync.RWMutex
	policies map[AuditLevel]RetentionPolicy
	logger   zerolog.Logger
}

// NewRetentionService creates a new RetentionService with the given policies.
func NewRetentionService(policies []RetentionPolicy, logger zerolog.Logger) *RetentionService {
	policyMap := make(map[AuditLevel]RetentionPolicy, len(policies))
	for _, p := range policies {
		policyMap[p.Level] = p
	}
	return &RetentionService{
		policies: policyMap,
		logger:   logger.With().Str("component", "retention-service").Logger(),
	}
}

// GetPolicy returns the policy for a level, or nil if none is configured.
func (s *RetentionService) GetPolicy(level AuditLevel) *RetentionPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[level]
	if !ok {
		return nil
	}
	return &p
}

// Policies returns every configured policy ordered by level.
func (s *RetentionService) Policies() []RetentionPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RetentionPolicy, 0, len(s.policies))
	for _, p := range s.policies {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Level < out[j].Level })
	return out
}

// RetainUntil returns the earliest time a record written at recordedAt may be
// purged: the larger of the entity default and the level's floor.
func (s *RetentionService) RetainUntil(level AuditLevel, entityDefault time.Duration, recordedAt time.Time) time.Time {
	keep := entityDefault
	if p := s.GetPolicy(level); p != nil {
		if floor := time.Duration(p.RetentionDays) * day; floor > keep {
			keep = floor
		}
	} else {
		s.logger.Warn().Str("audit_level", string(level)).Msg("no retention policy for audit level")
		if keep < MinimumPHIRetention {
			keep = MinimumPHIRetention
		}
	}
	return recordedAt.Add(keep).UTC()
}
