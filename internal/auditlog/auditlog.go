package auditlog

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/provisohq/proviso/internal/ledger"
	"github.com/provisohq/proviso/pkg/types"
)

// Entry is one immutable decision audit record. A trace accumulates
// entries in insertion order, which is causal order.
type Entry struct {
	EntryID                   string                `json:"entry_id"`
	TraceID                   string                `json:"trace_id"`
	EngineFamily              string                `json:"engine_family"`
	DecisionType              string                `json:"decision_type"`
	Status                    string                `json:"status"`
	Reason                    string                `json:"reason,omitempty"`
	RiskLevel                 string                `json:"risk_level,omitempty"`
	CreatedAt                 string                `json:"created_at"`
	PolicyContractVersionUsed string                `json:"policy_contract_version_used,omitempty"`
	Decision                  types.DecisionOutcome `json:"decision"`
	Override                  *types.Override       `json:"override,omitempty"`
}

// AnnotatedEntry is an Entry joined at read time against the currently
// active contract. PolicyDrift is nil when either side is unknown.
type AnnotatedEntry struct {
	Entry
	PolicyDrift *bool `json:"policy_drift"`
}

// TraceSummary describes one recently touched trace. EngineFamilies
// lists the distinct families seen for the trace, ordered by first
// appearance.
type TraceSummary struct {
	TraceID        string   `json:"trace_id"`
	LastUpdated    string   `json:"last_updated"`
	LastStatus     string   `json:"last_status"`
	EngineFamilies []string `json:"engine_families"`
}

// Log is the append-only decision audit log. Writes are serialized so
// created_at stamps stay strictly increasing; reads go straight to the
// store and never block writers.
type Log struct {
	store ledger.Store
	clock func() time.Time
	ids   func() string

	mu        sync.Mutex
	lastStamp string
}

func NewLog(store ledger.Store) *Log {
	return &Log{
		store: store,
		clock: time.Now,
		ids:   uuid.NewString,
	}
}

// WithClock overrides the clock for tests.
func (l *Log) WithClock(clock func() time.Time) *Log {
	l.clock = clock
	return l
}

// WithIDSource overrides entry id generation for tests.
func (l *Log) WithIDSource(ids func() string) *Log {
	l.ids = ids
	return l
}

// Record appends an entry for the trace, stamping the current UTC time
// and the contract version the decision was made under. Two appends
// never share a stamp, so query order by created_at is append order.
func (l *Log) Record(traceID, engineFamily, decisionType string, decision types.DecisionOutcome, override *types.Override) (Entry, error) {
	if traceID == "" {
		return Entry{}, fmt.Errorf("trace id is required")
	}

	decisionJSON, err := json.Marshal(decision)
	if err != nil {
		return Entry{}, fmt.Errorf("encode decision: %w", err)
	}
	var overrideJSON []byte
	if override != nil {
		overrideJSON, err = json.Marshal(override)
		if err != nil {
			return Entry{}, fmt.Errorf("encode override: %w", err)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rec := ledger.AuditEntryRecord{
		EntryID:                   l.ids(),
		TraceID:                   traceID,
		EngineFamily:              engineFamily,
		DecisionType:              decisionType,
		Status:                    decision.Status,
		Reason:                    decision.Reason,
		RiskLevel:                 decision.RiskLevel,
		CreatedAt:                 l.nextStampLocked(),
		PolicyContractVersionUsed: decision.PolicyContractVersionUsed,
		DecisionJSON:              decisionJSON,
		OverrideJSON:              overrideJSON,
	}
	if err := l.store.AppendAuditEntry(rec); err != nil {
		return Entry{}, fmt.Errorf("append audit entry: %w", err)
	}
	return entryFromRecord(rec)
}

// nextStampLocked returns a UTC stamp strictly after every stamp this
// log has handed out, bumping by a millisecond when the clock has not
// advanced past the last one.
func (l *Log) nextStampLocked() string {
	stamp := types.FormatTimestamp(l.clock())
	if stamp <= l.lastStamp {
		prev, err := types.ParseTimestamp(l.lastStamp)
		if err == nil {
			stamp = types.FormatTimestamp(prev.Add(time.Millisecond))
		}
	}
	l.lastStamp = stamp
	return stamp
}

// ByTrace returns a trace's entries oldest first. Unknown traces yield
// an empty slice, not an error.
func (l *Log) ByTrace(traceID string) ([]Entry, error) {
	recs, err := l.store.AuditByTrace(traceID)
	if err != nil {
		return nil, err
	}
	return entriesFromRecords(recs)
}

// TraceJourney returns a trace's entries annotated with policy drift
// against the currently active contract. The join happens at read time
// so the annotation always reflects the contract active right now.
func (l *Log) TraceJourney(traceID string) ([]AnnotatedEntry, error) {
	entries, err := l.ByTrace(traceID)
	if err != nil {
		return nil, err
	}
	activeVersion := ""
	if active, ok := l.store.ActiveContract(); ok {
		activeVersion = active.Version
	}
	annotated := make([]AnnotatedEntry, 0, len(entries))
	for _, entry := range entries {
		annotated = append(annotated, AnnotatedEntry{
			Entry:       entry,
			PolicyDrift: driftAgainst(entry.PolicyContractVersionUsed, activeVersion),
		})
	}
	return annotated, nil
}

// driftAgainst compares the version an entry was decided under with the
// active one. Either side missing means drift is unknowable.
func driftAgainst(usedVersion, activeVersion string) *bool {
	if usedVersion == "" || activeVersion == "" {
		return nil
	}
	drift := usedVersion != activeVersion
	return &drift
}

// RecentTraces summarizes the most recently touched traces, newest
// first. A limit of zero or less applies the store default.
func (l *Log) RecentTraces(limit int) ([]TraceSummary, error) {
	heads, err := l.store.AuditTraceHeads(limit)
	if err != nil {
		return nil, err
	}
	summaries := make([]TraceSummary, 0, len(heads))
	for _, head := range heads {
		recs, err := l.store.AuditByTrace(head.TraceID)
		if err != nil {
			return nil, fmt.Errorf("trace %s: %w", head.TraceID, err)
		}
		if len(recs) == 0 {
			continue
		}
		summaries = append(summaries, TraceSummary{
			TraceID:        head.TraceID,
			LastUpdated:    head.LastUpdated,
			LastStatus:     recs[len(recs)-1].Status,
			EngineFamilies: distinctFamilies(recs),
		})
	}
	return summaries, nil
}

// Clear drops every entry. Reset hook for tests, not part of the
// production surface.
func (l *Log) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastStamp = ""
	return l.store.ClearAudit()
}

func distinctFamilies(recs []ledger.AuditEntryRecord) []string {
	seen := map[string]bool{}
	families := []string{}
	for _, rec := range recs {
		if rec.EngineFamily == "" || seen[rec.EngineFamily] {
			continue
		}
		seen[rec.EngineFamily] = true
		families = append(families, rec.EngineFamily)
	}
	return families
}

func entriesFromRecords(recs []ledger.AuditEntryRecord) ([]Entry, error) {
	entries := make([]Entry, 0, len(recs))
	for _, rec := range recs {
		entry, err := entryFromRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("entry %s: %w", rec.EntryID, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func entryFromRecord(rec ledger.AuditEntryRecord) (Entry, error) {
	entry := Entry{
		EntryID:                   rec.EntryID,
		TraceID:                   rec.TraceID,
		EngineFamily:              rec.EngineFamily,
		DecisionType:              rec.DecisionType,
		Status:                    rec.Status,
		Reason:                    rec.Reason,
		RiskLevel:                 rec.RiskLevel,
		CreatedAt:                 rec.CreatedAt,
		PolicyContractVersionUsed: rec.PolicyContractVersionUsed,
	}
	if len(rec.DecisionJSON) > 0 {
		if err := json.Unmarshal(rec.DecisionJSON, &entry.Decision); err != nil {
			return Entry{}, fmt.Errorf("decode decision: %w", err)
		}
	}
	if len(rec.OverrideJSON) > 0 {
		var override types.Override
		if err := json.Unmarshal(rec.OverrideJSON, &override); err != nil {
			return Entry{}, fmt.Errorf("decode override: %w", err)
		}
		entry.Override = &override
	}
	return entry, nil
}
