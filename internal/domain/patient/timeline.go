package patient

import (
	"fmt"

	"github.com/protolab/protolab/internal/domain/catalog"
)

// Project lays out the patient's assigned protocols as past, current and
// future phases. Ids the lookup does not know are skipped. The patient is
// read only.
func Project(p Patient, protocols catalog.ProtocolLookup) []Phase {
	activePos := p.protocolPosition(p.ActiveProtocolID)
	if p.ActiveProtocolID == "" {
		activePos = -1
	}

	phases := make([]Phase, 0, len(p.AssignedProtocolIDs))
	for i, id := range p.AssignedProtocolIDs {
		proto, ok := protocols.Protocol(id)
		if !ok {
			continue
		}
		phase := Phase{ProtocolID: proto.ID, ProtocolName: proto.Name}
		switch {
		case activePos < 0 || i > activePos:
			phase.Kind = PhaseFuture
			phase.Summary = fmt.Sprintf("Starts %d days after the previous protocol completes", p.InterProtocolGapDays)
		case i < activePos:
			phase.Kind = PhasePast
			phase.Summary = "All steps completed"
		default:
			phase.Kind = PhaseCurrent
			phase.Steps = projectSteps(p, proto)
		}
		phases = append(phases, phase)
	}
	return phases
}

func projectSteps(p Patient, proto catalog.Protocol) []StepProjection {
	steps := make([]StepProjection, 0, len(proto.Steps))
	running := cloneTime(p.NextScheduledDate)
	for i, s := range proto.Steps {
		sp := StepProjection{
			StepNumber:   i + 1,
			RequiredCode: s.RequiredCode,
			Label:        s.Label(),
		}
		switch {
		case i < p.CurrentStepIndex:
			sp.State = StepDone
		case i == p.CurrentStepIndex:
			sp.State = StepPending
			sp.Date = cloneTime(p.NextScheduledDate)
		default:
			sp.State = StepProjected
			if running != nil {
				running = addDays(*running, s.DaysAfterPrevious)
				sp.Date = cloneTime(running)
			}
		}
		steps = append(steps, sp)
	}
	return steps
}
