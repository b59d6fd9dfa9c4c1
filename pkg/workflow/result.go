package workflow

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// PhaseStatus classifies the outcome of one phase.
type PhaseStatus string

const (
	// PhaseSuccess means the action was dispatched and locally confirmed.
	PhaseSuccess PhaseStatus = "success"

	// PhaseTimeout means the action was dispatched but confirmation did
	// not arrive within budget. The remote side effect may still have
	// happened; this is "unknown", not "failed".
	PhaseTimeout PhaseStatus = "timeout"

	// PhaseError means the action could not even be attempted, or the
	// page rejected it.
	PhaseError PhaseStatus = "error"
)

// Status classifies a whole workflow run.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
)

// PhaseResult is the structured, non-throwing outcome of one phase.
// Errors never cross the phase boundary as raised values; they are
// folded into Status and Diagnostic here.
type PhaseResult struct {
	Name       string
	Status     PhaseStatus
	Payload    map[string]string
	Elapsed    time.Duration
	Diagnostic string
}

// Result aggregates one workflow run. A failed run contains exactly the
// prefix of phases actually attempted; later phases are never
// speculatively executed.
type Result struct {
	Workflow  string
	Status    Status
	Phases    []PhaseResult
	StartedAt time.Time
	EndedAt   time.Time
}

// Field-name contract for the flat result document. These names are
// stable across versions; callers parse against them.
const (
	fieldWorkflow  = "workflow"
	fieldStatus    = "status"
	fieldStartedAt = "started_at"
	fieldEndedAt   = "ended_at"
	fieldPhases    = "phases"

	phasePrefix = "phase."
)

// Fields flattens the result into the key-value document exposed to
// external callers. Phase entries are keyed phase.N.name, phase.N.status,
// phase.N.elapsed_ms, phase.N.detail, and phase.N.payload.<key>.
func (r Result) Fields() map[string]string {
	doc := map[string]string{
		fieldWorkflow:  r.Workflow,
		fieldStatus:    string(r.Status),
		fieldStartedAt: r.StartedAt.UTC().Format(time.RFC3339Nano),
		fieldEndedAt:   r.EndedAt.UTC().Format(time.RFC3339Nano),
		fieldPhases:    strconv.Itoa(len(r.Phases)),
	}
	for i, p := range r.Phases {
		prefix := fmt.Sprintf("%s%d.", phasePrefix, i)
		doc[prefix+"name"] = p.Name
		doc[prefix+"status"] = string(p.Status)
		doc[prefix+"elapsed_ms"] = strconv.FormatInt(p.Elapsed.Milliseconds(), 10)
		if p.Diagnostic != "" {
			doc[prefix+"detail"] = p.Diagnostic
		}
		for k, v := range p.Payload {
			doc[prefix+"payload."+k] = v
		}
	}
	return doc
}

// ParseFields reconstructs a Result from its flat document. Fields()
// followed by ParseFields yields an equal result (timestamps keep
// nanosecond precision, elapsed durations millisecond precision).
func ParseFields(doc map[string]string) (Result, error) {
	var r Result
	r.Workflow = doc[fieldWorkflow]
	r.Status = Status(doc[fieldStatus])

	var err error
	if raw, ok := doc[fieldStartedAt]; ok {
		if r.StartedAt, err = time.Parse(time.RFC3339Nano, raw); err != nil {
			return Result{}, fmt.Errorf("parse %s: %w", fieldStartedAt, err)
		}
	}
	if raw, ok := doc[fieldEndedAt]; ok {
		if r.EndedAt, err = time.Parse(time.RFC3339Nano, raw); err != nil {
			return Result{}, fmt.Errorf("parse %s: %w", fieldEndedAt, err)
		}
	}

	count, err := strconv.Atoi(doc[fieldPhases])
	if err != nil {
		return Result{}, fmt.Errorf("parse %s: %w", fieldPhases, err)
	}

	for i := 0; i < count; i++ {
		prefix := fmt.Sprintf("%s%d.", phasePrefix, i)
		p := PhaseResult{
			Name:       doc[prefix+"name"],
			Status:     PhaseStatus(doc[prefix+"status"]),
			Diagnostic: doc[prefix+"detail"],
		}
		ms, err := strconv.ParseInt(doc[prefix+"elapsed_ms"], 10, 64)
		if err != nil {
			return Result{}, fmt.Errorf("parse %selapsed_ms: %w", prefix, err)
		}
		p.Elapsed = time.Duration(ms) * time.Millisecond

		payloadPrefix := prefix + "payload."
		for k, v := range doc {
			if strings.HasPrefix(k, payloadPrefix) {
				if p.Payload == nil {
					p.Payload = make(map[string]string)
				}
				p.Payload[strings.TrimPrefix(k, payloadPrefix)] = v
			}
		}
		r.Phases = append(r.Phases, p)
	}
	return r, nil
}

// SortedKeys returns the document keys in deterministic order, for
// logging and text rendering.
func SortedKeys(doc map[string]string) []string {
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
