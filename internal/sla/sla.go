package sla

import (
	"sort"
	"time"
)

// Defaults for the review-deadline windows, in hours. Overridable per
// clock through Config.
const (
	DefaultFirstTouchHours = 4
	DefaultNeedsInfoHours  = 48
	DefaultDecisionHours   = 72
	DefaultDueSoonHours    = 6
)

// EscalationLevel maps an overdue-hours threshold to a level. The
// highest level whose threshold has been reached applies.
type EscalationLevel struct {
	Level      int     `yaml:"level" json:"level"`
	AfterHours float64 `yaml:"after_hours" json:"after_hours"`
}

type Config struct {
	FirstTouchHours  int               `yaml:"first_touch_hours" json:"first_touch_hours"`
	NeedsInfoHours   int               `yaml:"needs_info_hours" json:"needs_info_hours"`
	DecisionHours    int               `yaml:"decision_hours" json:"decision_hours"`
	DueSoonHours     int               `yaml:"due_soon_hours" json:"due_soon_hours"`
	EscalationLevels []EscalationLevel `yaml:"escalation_levels" json:"escalation_levels"`
}

func DefaultConfig() Config {
	return Config{
		FirstTouchHours: DefaultFirstTouchHours,
		NeedsInfoHours:  DefaultNeedsInfoHours,
		DecisionHours:   DefaultDecisionHours,
		DueSoonHours:    DefaultDueSoonHours,
		EscalationLevels: []EscalationLevel{
			{Level: 1, AfterHours: 0},
			{Level: 2, AfterHours: 24},
			{Level: 3, AfterHours: 72},
		},
	}
}

// Clock answers deadline questions over UTC-aware timestamps. It holds
// no state other than configuration; every method is pure.
type Clock struct {
	cfg Config
}

// NewClock fills any zero-valued field of cfg with its default.
func NewClock(cfg Config) *Clock {
	defaults := DefaultConfig()
	if cfg.FirstTouchHours <= 0 {
		cfg.FirstTouchHours = defaults.FirstTouchHours
	}
	if cfg.NeedsInfoHours <= 0 {
		cfg.NeedsInfoHours = defaults.NeedsInfoHours
	}
	if cfg.DecisionHours <= 0 {
		cfg.DecisionHours = defaults.DecisionHours
	}
	if cfg.DueSoonHours <= 0 {
		cfg.DueSoonHours = defaults.DueSoonHours
	}
	if len(cfg.EscalationLevels) == 0 {
		cfg.EscalationLevels = defaults.EscalationLevels
	}
	sort.Slice(cfg.EscalationLevels, func(i, j int) bool {
		return cfg.EscalationLevels[i].AfterHours < cfg.EscalationLevels[j].AfterHours
	})
	return &Clock{cfg: cfg}
}

func (c *Clock) FirstTouchDue(start time.Time) time.Time {
	return start.Add(time.Duration(c.cfg.FirstTouchHours) * time.Hour)
}

func (c *Clock) NeedsInfoDue(start time.Time) time.Time {
	return start.Add(time.Duration(c.cfg.NeedsInfoHours) * time.Hour)
}

func (c *Clock) DecisionDue(start time.Time) time.Time {
	return start.Add(time.Duration(c.cfg.DecisionHours) * time.Hour)
}

// IsDueSoon reports whether dueAt is still ahead but within the
// due-soon window. The upper edge is inclusive; anything at or past
// due is not "soon", it is overdue territory.
func (c *Clock) IsDueSoon(dueAt, now time.Time) bool {
	until := dueAt.Sub(now)
	return until > 0 && until <= time.Duration(c.cfg.DueSoonHours)*time.Hour
}

func (c *Clock) IsOverdue(dueAt, now time.Time) bool {
	return now.After(dueAt)
}

// OverdueHours is how long past due dueAt is; negative while still
// ahead of the deadline.
func (c *Clock) OverdueHours(dueAt, now time.Time) float64 {
	return now.Sub(dueAt).Hours()
}

// EscalationLevel returns the highest configured level whose threshold
// is at or below the given overdue hours, or 0 when not yet overdue.
func (c *Clock) EscalationLevel(overdueHours float64) int {
	level := 0
	if overdueHours < 0 {
		return level
	}
	for _, step := range c.cfg.EscalationLevels {
		if overdueHours >= step.AfterHours {
			level = step.Level
		}
	}
	return level
}

// Deadlines carries one entity's optional due stamps. A nil stamp
// means that deadline does not apply to the entity.
type Deadlines struct {
	FirstTouchDueAt *time.Time
	NeedsInfoDueAt  *time.Time
	DecisionDueAt   *time.Time
}

type Bucket struct {
	DueSoon int `json:"due_soon"`
	Overdue int `json:"overdue"`
}

// Stats aggregates deadline pressure across a collection. The verifier
// bucket is the per-entity union of the first-touch and decision
// deadlines, so one entity never counts twice in it.
type Stats struct {
	FirstTouch Bucket `json:"first_touch"`
	NeedsInfo  Bucket `json:"needs_info"`
	Decision   Bucket `json:"decision"`
	Verifier   Bucket `json:"verifier"`
	Total      int    `json:"total"`
}

func (c *Clock) ComputeStats(items []Deadlines, now time.Time) Stats {
	stats := Stats{Total: len(items)}
	for _, item := range items {
		firstSoon, firstOver := c.classify(item.FirstTouchDueAt, now)
		infoSoon, infoOver := c.classify(item.NeedsInfoDueAt, now)
		decisionSoon, decisionOver := c.classify(item.DecisionDueAt, now)

		addBucket(&stats.FirstTouch, firstSoon, firstOver)
		addBucket(&stats.NeedsInfo, infoSoon, infoOver)
		addBucket(&stats.Decision, decisionSoon, decisionOver)
		addBucket(&stats.Verifier, firstSoon || decisionSoon, firstOver || decisionOver)
	}
	return stats
}

func (c *Clock) classify(dueAt *time.Time, now time.Time) (dueSoon, overdue bool) {
	if dueAt == nil {
		return false, false
	}
	return c.IsDueSoon(*dueAt, now), c.IsOverdue(*dueAt, now)
}

func addBucket(bucket *Bucket, dueSoon, overdue bool) {
	if dueSoon {
		bucket.DueSoon++
	}
	if overdue {
		bucket.Overdue++
	}
}
