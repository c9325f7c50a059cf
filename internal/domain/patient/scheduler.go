package patient

import (
	"fmt"
	"time"

	"github.com/protolab/protolab/internal/domain/catalog"
)

// Advance applies a recorded action to p and returns the updated copy. It is
// pure: p is never modified, and on error the original is returned.
//
// Callers must reject actions for non-active patients and validate the action
// date before calling; Advance does not check status.
func Advance(p Patient, action ActionRecord, protocols catalog.ProtocolLookup) (Patient, Outcome, error) {
	date := DayStart(action.Date)

	if p.ActiveProtocolID == "" {
		next := p.Clone()
		applyLegacySchedule(&next, action, date)
		next.LastEntryDate = &date
		return next, OutcomeLegacy, nil
	}

	proto, ok := protocols.Protocol(p.ActiveProtocolID)
	if !ok {
		return p, "", fmt.Errorf("%w: active protocol %q not in catalog", ErrInvalidState, p.ActiveProtocolID)
	}
	pos := p.protocolPosition(p.ActiveProtocolID)
	if pos < 0 {
		return p, "", fmt.Errorf("%w: active protocol %q not assigned", ErrInvalidState, p.ActiveProtocolID)
	}
	if p.CurrentStepIndex < 0 || p.CurrentStepIndex > len(proto.Steps) {
		return p, "", fmt.Errorf("%w: index %d, protocol %q has %d steps",
			ErrOutOfRangeStep, p.CurrentStepIndex, proto.ID, len(proto.Steps))
	}

	next := p.Clone()
	next.LastEntryDate = &date

	if p.CurrentStepIndex == len(proto.Steps) {
		return next, OutcomeExhausted, nil
	}
	if !containsCode(action.Codes, proto.Steps[p.CurrentStepIndex].RequiredCode) {
		return next, OutcomeNoMatch, nil
	}

	next.CurrentStepIndex++
	if next.CurrentStepIndex < len(proto.Steps) {
		step := proto.Steps[next.CurrentStepIndex]
		next.NextScheduledDate = addDays(date, step.DaysAfterPrevious)
		next.NextScheduledNote = strPtr(fmt.Sprintf("Step %d: %s", next.CurrentStepIndex+1, step.Label()))
		return next, OutcomeAdvanced, nil
	}

	if pos+1 < len(p.AssignedProtocolIDs) {
		nextID := p.AssignedProtocolIDs[pos+1]
		name := nextID
		if np, ok := protocols.Protocol(nextID); ok {
			name = np.Name
		}
		next.ActiveProtocolID = nextID
		next.CurrentStepIndex = 0
		// Only the gap governs the transition; the first step's own offset is
		// not added on top.
		next.NextScheduledDate = addDays(date, p.InterProtocolGapDays)
		next.NextScheduledNote = strPtr(fmt.Sprintf("Transition: %s (waiting period)", name))
		return next, OutcomeTransitioned, nil
	}

	next.NextScheduledDate = nil
	next.NextScheduledNote = nil
	next.Status = StatusCompleted
	return next, OutcomeCompleted, nil
}

// applyLegacySchedule handles patients without a protocol: the longest
// positive follow-up among the action's codes sets the next date.
func applyLegacySchedule(p *Patient, action ActionRecord, date time.Time) {
	days := 0
	for _, c := range action.Codes {
		if c.LegacyNextActionDays != nil && *c.LegacyNextActionDays > days {
			days = *c.LegacyNextActionDays
		}
	}
	if days <= 0 {
		p.NextScheduledDate = nil
		p.NextScheduledNote = nil
		return
	}
	p.NextScheduledDate = addDays(date, days)
	p.NextScheduledNote = strPtr(fmt.Sprintf("Follow-up period: %d days", days))
}

func containsCode(codes []catalog.BillingCode, required string) bool {
	for _, c := range codes {
		if c.Code == required {
			return true
		}
	}
	return false
}
