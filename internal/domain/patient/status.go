package patient

import (
	"fmt"
	"strings"
	"time"
)

const (
	pausedPrefix     = "[PAUSED] "
	exNote           = "Patient is ex; process cancelled"
	reactivatedNote  = "Process reactivated; re-check required"
	statusChangeKind = "status_change"
)

// transitionFunc adjusts the schedule of next, a copy of the patient taken
// before the status field is overwritten.
type transitionFunc func(next *Patient, from Status, effective time.Time)

// transitionTable holds one entry per status. Every (from, to) pair is legal;
// the entry only decides what happens to the schedule.
var transitionTable = map[Status]transitionFunc{
	StatusActive:       toActive,
	StatusHospitalized: toSuspended,
	StatusPaused:       toSuspended,
	StatusEx:           toEx,
	StatusCompleted:    noScheduleChange,
	StatusArchived:     noScheduleChange,
}

// ApplyStatus moves p to status to and returns the updated copy with the audit
// event the caller must persist. p itself is not modified.
func ApplyStatus(p Patient, to Status, reason string, effective time.Time) (Patient, AuditEvent, error) {
	apply, ok := transitionTable[to]
	if !ok {
		return p, AuditEvent{}, fmt.Errorf("%w: %q", ErrInvalidStatus, to)
	}

	from := p.Status
	next := p.Clone()
	apply(&next, from, effective)

	day := DayStart(effective)
	next.Status = to
	next.StatusReason = strPtr(reason)
	next.StatusDate = &day

	msg := fmt.Sprintf("%s -> %s", from, to)
	if reason != "" {
		msg += " | reason: " + reason
	}
	return next, AuditEvent{Kind: statusChangeKind, Message: msg}, nil
}

func toEx(next *Patient, _ Status, _ time.Time) {
	next.NextScheduledDate = nil
	next.NextScheduledNote = strPtr(exNote)

	pos := next.protocolPosition(next.ActiveProtocolID)
	if next.ActiveProtocolID == "" || pos < 0 || pos == len(next.AssignedProtocolIDs)-1 {
		return
	}
	dropped := next.AssignedProtocolIDs[pos+1:]
	line := fmt.Sprintf("[system] Protocols cancelled on ex status: %s", strings.Join(dropped, ", "))
	if next.Notes == "" {
		next.Notes = line
	} else {
		next.Notes += "\n" + line
	}
	next.AssignedProtocolIDs = append([]string(nil), next.AssignedProtocolIDs[:pos+1]...)
}

func toSuspended(next *Patient, _ Status, _ time.Time) {
	if next.NextScheduledNote == nil || *next.NextScheduledNote == "" {
		return
	}
	if strings.HasPrefix(*next.NextScheduledNote, pausedPrefix) {
		return
	}
	next.NextScheduledNote = strPtr(pausedPrefix + *next.NextScheduledNote)
}

func toActive(next *Patient, from Status, effective time.Time) {
	if from == StatusActive {
		return
	}
	if next.NextScheduledNote != nil {
		next.NextScheduledNote = strPtr(strings.TrimPrefix(*next.NextScheduledNote, pausedPrefix))
	}
	if next.NextScheduledDate == nil && next.LastEntryDate != nil {
		day := DayStart(effective)
		next.NextScheduledDate = &day
		next.NextScheduledNote = strPtr(reactivatedNote)
	}
}

func noScheduleChange(*Patient, Status, time.Time) {}
