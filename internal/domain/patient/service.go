package patient

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/protolab/protolab/internal/domain/billing"
	"github.com/protolab/protolab/internal/domain/catalog"
	"github.com/protolab/protolab/internal/platform/db"
)

// Catalog resolves the protocols and billing codes a patient references.
type Catalog interface {
	ResolveProtocols(ctx context.Context, ids []string) (catalog.ProtocolSet, error)
	ResolveCodes(ctx context.Context, codes []string) ([]catalog.BillingCode, error)
}

// Ledger stores the billing entries that accompany actions and status changes.
type Ledger interface {
	RecordEntry(ctx context.Context, e *billing.Entry) error
	DeletePatientEntries(ctx context.Context, patientID uuid.UUID) error
}

// AuditSink receives domain events. Failures are the sink's concern.
type AuditSink interface {
	RecordEvent(ctx context.Context, kind, message string)
}

type Recorder interface {
	PatientCreated()
	ActionRecorded(outcome string)
	StatusChanged(status string)
}

// Defaults apply to patients created without explicit settings.
type Defaults struct {
	InterProtocolGapDays int
	EntryFrequencyDays   int
}

const (
	startNote       = "Step 1 (start) pending"
	defaultTestName = "Manual Test"
)

type Service struct {
	repo     Repository
	catalog  Catalog
	ledger   Ledger
	tx       db.Transactor
	audit    AuditSink
	metrics  Recorder
	defaults Defaults
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(repo Repository, cat Catalog, ledger Ledger, tx db.Transactor, audit AuditSink,
	metrics Recorder, defaults Defaults, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		catalog:  cat,
		ledger:   ledger,
		tx:       tx,
		audit:    audit,
		metrics:  metrics,
		defaults: defaults,
		logger:   logger.With().Str("service", "patient").Logger(),
		now:      time.Now,
	}
}

// -- Registry --

func (s *Service) CreatePatient(ctx context.Context, req CreateRequest) (*Patient, error) {
	protocolNo := strings.TrimSpace(req.ProtocolNo)
	if protocolNo == "" {
		return nil, fmt.Errorf("%w: protocol_no is required", ErrInvalidPatient)
	}
	if req.AdmissionDate.IsZero() {
		return nil, fmt.Errorf("%w: admission_date is required", ErrInvalidPatient)
	}
	gap := s.defaults.InterProtocolGapDays
	if req.InterProtocolGapDays != nil {
		gap = *req.InterProtocolGapDays
	}
	freq := s.defaults.EntryFrequencyDays
	if req.EntryFrequencyDays != nil {
		freq = *req.EntryFrequencyDays
	}
	if err := validateSettings(gap, freq); err != nil {
		return nil, err
	}
	if err := s.ensureUniqueProtocolNo(ctx, protocolNo, uuid.Nil); err != nil {
		return nil, err
	}
	ids, protocols, err := s.resolveAssignment(ctx, req.ProtocolIDs)
	if err != nil {
		return nil, err
	}

	admission := DayStart(req.AdmissionDate.Time)
	p := &Patient{
		ProtocolNo:           protocolNo,
		TissueType:           strings.TrimSpace(req.TissueType),
		TestName:             testName(ids, protocols, req.TestName),
		RequestingDoctor:     strings.TrimSpace(req.RequestingDoctor),
		AdmissionDate:        admission,
		Notes:                req.Notes,
		AssignedProtocolIDs:  ids,
		InterProtocolGapDays: gap,
		EntryFrequencyDays:   freq,
		Status:               StatusActive,
		StatusDate:           &admission,
	}
	if len(ids) > 0 {
		p.ActiveProtocolID = ids[0]
		p.NextScheduledDate = &admission
		p.NextScheduledNote = strPtr(startNote)
	}

	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	s.metrics.PatientCreated()
	s.audit.RecordEvent(ctx, "patient_created",
		fmt.Sprintf("Patient %s registered (%s)", p.ProtocolNo, p.TestName))
	s.logger.Info().Str("patient_id", p.ID.String()).Strs("protocols", ids).Msg("patient created")
	return p, nil
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListPatients(ctx context.Context, params SearchParams, limit, offset int) ([]*Patient, int, error) {
	if params.Status != "" && !params.Status.Valid() {
		return nil, 0, fmt.Errorf("%w: %q", ErrInvalidStatus, params.Status)
	}
	if params == (SearchParams{}) {
		return s.repo.List(ctx, limit, offset)
	}
	return s.repo.Search(ctx, params, limit, offset)
}

// UpdatePatient edits demographics and settings. The assigned protocol list
// may be rewritten but must keep the active protocol.
func (s *Service) UpdatePatient(ctx context.Context, id uuid.UUID, req UpdateRequest) (*Patient, error) {
	var out *Patient
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if req.ProtocolNo != nil {
			no := strings.TrimSpace(*req.ProtocolNo)
			if no == "" {
				return fmt.Errorf("%w: protocol_no is required", ErrInvalidPatient)
			}
			if !strings.EqualFold(no, p.ProtocolNo) {
				if err := s.ensureUniqueProtocolNo(ctx, no, p.ID); err != nil {
					return err
				}
			}
			p.ProtocolNo = no
		}
		if req.TissueType != nil {
			p.TissueType = strings.TrimSpace(*req.TissueType)
		}
		if req.RequestingDoctor != nil {
			p.RequestingDoctor = strings.TrimSpace(*req.RequestingDoctor)
		}
		if req.AdmissionDate != nil && !req.AdmissionDate.IsZero() {
			p.AdmissionDate = DayStart(req.AdmissionDate.Time)
		}
		if req.Notes != nil {
			p.Notes = *req.Notes
		}
		if req.InterProtocolGapDays != nil {
			p.InterProtocolGapDays = *req.InterProtocolGapDays
		}
		if req.EntryFrequencyDays != nil {
			p.EntryFrequencyDays = *req.EntryFrequencyDays
		}
		if err := validateSettings(p.InterProtocolGapDays, p.EntryFrequencyDays); err != nil {
			return err
		}

		name := p.TestName
		if req.TestName != nil {
			name = *req.TestName
		}
		if req.ProtocolIDs != nil {
			ids, protocols, err := s.resolveAssignment(ctx, req.ProtocolIDs)
			if err != nil {
				return err
			}
			if err := s.reassign(p, ids); err != nil {
				return err
			}
			p.TestName = testName(ids, protocols, name)
		} else {
			p.TestName = name
		}

		if err := s.repo.Update(ctx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.audit.RecordEvent(ctx, "patient_updated", fmt.Sprintf("Patient %s updated", out.ProtocolNo))
	return out, nil
}

// reassign swaps the assignment list. Protocols up to and including the
// active one are history and stay in place; only the tail may change. ex,
// completed and archived patients keep their list. A patient without an active
// protocol that receives one starts its first protocol today.
func (s *Service) reassign(p *Patient, ids []string) error {
	if sameIDs(p.AssignedProtocolIDs, ids) {
		return nil
	}
	switch p.Status {
	case StatusEx, StatusCompleted, StatusArchived:
		return fmt.Errorf("%w: protocols of a patient with status %s cannot change", ErrInvalidPatient, p.Status)
	}

	if p.ActiveProtocolID != "" {
		pos := p.protocolPosition(p.ActiveProtocolID)
		if pos < 0 {
			return fmt.Errorf("%w: active protocol %q is not assigned", ErrInvalidState, p.ActiveProtocolID)
		}
		if len(ids) <= pos || !sameIDs(ids[:pos+1], p.AssignedProtocolIDs[:pos+1]) {
			return fmt.Errorf("%w: protocols up to active %q must stay in place", ErrInvalidPatient, p.ActiveProtocolID)
		}
		p.AssignedProtocolIDs = ids
		return nil
	}

	p.AssignedProtocolIDs = ids
	if len(ids) > 0 && p.Status == StatusActive {
		today := DayStart(s.now())
		p.ActiveProtocolID = ids[0]
		p.CurrentStepIndex = 0
		p.NextScheduledDate = &today
		p.NextScheduledNote = strPtr(startNote)
	}
	return nil
}

func sameIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// DeletePatient removes the patient together with its ledger entries.
func (s *Service) DeletePatient(ctx context.Context, id uuid.UUID) error {
	var protocolNo string
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		protocolNo = p.ProtocolNo
		if err := s.ledger.DeletePatientEntries(ctx, id); err != nil {
			return err
		}
		return s.repo.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	s.audit.RecordEvent(ctx, "patient_deleted", fmt.Sprintf("Patient %s and its entries deleted", protocolNo))
	return nil
}

// SaveProcess inserts or replaces the bookkeeping record of one protocol.
func (s *Service) SaveProcess(ctx context.Context, id uuid.UUID, req ProcessRequest) (*Patient, error) {
	var out *Patient
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if req.ProtocolID != "" && p.protocolPosition(req.ProtocolID) < 0 {
			return fmt.Errorf("%w: protocol %q is not assigned to this patient", ErrInvalidPatient, req.ProtocolID)
		}
		if req.ProtocolID == "" && len(p.AssignedProtocolIDs) > 0 {
			return fmt.Errorf("%w: protocol_id is required", ErrInvalidPatient)
		}
		start := req.WorkStartDate.Ptr()
		if start != nil && start.Before(p.AdmissionDate) {
			return fmt.Errorf("%w: work start date precedes admission date", ErrInvalidPatient)
		}

		name := req.ProtocolID
		if req.ProtocolID != "" {
			set, err := s.catalog.ResolveProtocols(ctx, []string{req.ProtocolID})
			if err != nil {
				return err
			}
			if proto, ok := set.Protocol(req.ProtocolID); ok {
				name = proto.Name
			}
		}
		proc := ProtocolProcess{
			ProtocolID:           req.ProtocolID,
			ProtocolName:         name,
			WorkStartDate:        start,
			DataShareDate:        req.DataShareDate.Ptr(),
			PreAnalysisDate:      req.PreAnalysisDate.Ptr(),
			ReportDate:           req.ReportDate.Ptr(),
			IsRepeated:           req.IsRepeated,
			RepeatWorkDate:       req.RepeatWorkDate.Ptr(),
			IsRepeatedSecond:     req.IsRepeatedSecond,
			RepeatWorkDateSecond: req.RepeatWorkDateSecond.Ptr(),
		}
		replaced := false
		for i := range p.Processes {
			if p.Processes[i].ProtocolID == proc.ProtocolID {
				p.Processes[i] = proc
				replaced = true
				break
			}
		}
		if !replaced {
			p.Processes = append(p.Processes, proc)
		}
		if err := s.repo.Update(ctx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.audit.RecordEvent(ctx, "patient_updated",
		fmt.Sprintf("Process details for %s saved on patient %s", req.ProtocolID, out.ProtocolNo))
	return out, nil
}

// -- Scheduling --

// RecordAction validates an action, writes its ledger entry and advances the
// patient's protocol, all in one transaction.
func (s *Service) RecordAction(ctx context.Context, id uuid.UUID, req ActionRequest) (*ActionResult, error) {
	wanted := dedupe(req.Codes)
	if len(wanted) == 0 {
		return nil, ErrEmptyAction
	}
	if req.Date.IsZero() {
		return nil, fmt.Errorf("%w: date is required", ErrInvalidPatient)
	}
	date := DayStart(req.Date.Time)

	var result *ActionResult
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if p.Status != StatusActive {
			return fmt.Errorf("%w: status is %s", ErrSuspendedPatient, p.Status)
		}
		if date.Before(DayStart(p.AdmissionDate)) {
			return ErrActionBeforeAdmission
		}
		if p.NextScheduledDate != nil && date.Before(DayStart(*p.NextScheduledDate)) {
			return fmt.Errorf("%w: next action is due %s", ErrPrematureAction, p.NextScheduledDate.Format("2006-01-02"))
		}
		codes, err := s.catalog.ResolveCodes(ctx, wanted)
		if err != nil {
			return err
		}
		protocols, err := s.catalog.ResolveProtocols(ctx, p.AssignedProtocolIDs)
		if err != nil {
			return err
		}

		action := ActionRecord{PatientID: p.ID, Date: date, Codes: codes, Notes: req.Notes}
		next, outcome, err := Advance(*p, action, protocols)
		if err != nil {
			return err
		}

		entry := &billing.Entry{
			PatientID: p.ID,
			Date:      date,
			Codes:     codes,
			Notes:     req.Notes,
			Type:      billing.EntryTypeSUT,
		}
		if err := s.ledger.RecordEntry(ctx, entry); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, &next); err != nil {
			return err
		}
		result = &ActionResult{Patient: &next, Entry: entry, Outcome: outcome}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ActionRecorded(string(result.Outcome))
	if result.Outcome == OutcomeTransitioned || result.Outcome == OutcomeCompleted {
		s.audit.RecordEvent(ctx, "protocol_progress",
			fmt.Sprintf("Patient %s %s (%s)", result.Patient.ProtocolNo, result.Outcome, result.Patient.ActiveProtocolID))
	}
	s.logger.Info().
		Str("patient_id", id.String()).
		Str("outcome", string(result.Outcome)).
		Int("step_index", result.Patient.CurrentStepIndex).
		Msg("action recorded")
	return result, nil
}

// ChangeStatus applies a status transition and records it in the ledger and
// the audit log.
func (s *Service) ChangeStatus(ctx context.Context, id uuid.UUID, req StatusRequest) (*Patient, error) {
	to, err := ParseStatus(req.Status)
	if err != nil {
		return nil, err
	}
	effective := req.EffectiveDate.Time
	if effective.IsZero() {
		effective = s.now()
	}
	reason := strings.TrimSpace(req.Reason)

	var (
		out   *Patient
		event AuditEvent
	)
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		from := p.Status
		next, ev, err := ApplyStatus(*p, to, reason, effective)
		if err != nil {
			return err
		}
		entry := &billing.Entry{
			PatientID: p.ID,
			Date:      DayStart(effective),
			Notes:     fmt.Sprintf("STATUS UPDATE: %s -> %s | Reason: %s", from, to, reason),
			Type:      billing.EntryTypeStatusChange,
		}
		if err := s.ledger.RecordEntry(ctx, entry); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, &next); err != nil {
			return err
		}
		out, event = &next, ev
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.StatusChanged(string(to))
	s.audit.RecordEvent(ctx, event.Kind, fmt.Sprintf("Patient %s: %s", out.ProtocolNo, event.Message))
	return out, nil
}

// Timeline projects the patient's protocol sequence.
func (s *Service) Timeline(ctx context.Context, id uuid.UUID) ([]Phase, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	protocols, err := s.catalog.ResolveProtocols(ctx, p.AssignedProtocolIDs)
	if err != nil {
		return nil, err
	}
	return Project(*p, protocols), nil
}

// DueList returns the active patients that need attention on today, earliest
// scheduled first.
func (s *Service) DueList(ctx context.Context, today time.Time) ([]*Patient, error) {
	active, err := s.repo.ListByStatus(ctx, StatusActive)
	if err != nil {
		return nil, err
	}
	due := make([]*Patient, 0, len(active))
	for _, p := range active {
		if IsDue(*p, today) {
			due = append(due, p)
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		a, b := due[i].NextScheduledDate, due[j].NextScheduledDate
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.Before(*b)
		}
	})
	return due, nil
}

func (s *Service) Summary(ctx context.Context, today time.Time) (Summary, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return Summary{}, err
	}
	active, err := s.repo.ListByStatus(ctx, StatusActive)
	if err != nil {
		return Summary{}, err
	}
	return summarize(counts, active, today), nil
}

// -- helpers --

func (s *Service) ensureUniqueProtocolNo(ctx context.Context, protocolNo string, self uuid.UUID) error {
	existing, err := s.repo.GetByProtocolNo(ctx, protocolNo)
	switch {
	case errors.Is(err, ErrPatientNotFound):
		return nil
	case err != nil:
		return err
	case existing.ID == self:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrDuplicateProtocolNo, protocolNo)
	}
}

// resolveAssignment checks that every id exists and appears once.
func (s *Service) resolveAssignment(ctx context.Context, ids []string) ([]string, catalog.ProtocolSet, error) {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if seen[id] {
			return nil, nil, fmt.Errorf("%w: protocol %q assigned twice", ErrInvalidPatient, id)
		}
		seen[id] = true
		out = append(out, id)
	}
	if len(out) == 0 {
		return out, catalog.ProtocolSet{}, nil
	}
	set, err := s.catalog.ResolveProtocols(ctx, out)
	if err != nil {
		return nil, nil, err
	}
	for _, id := range out {
		if _, ok := set.Protocol(id); !ok {
			return nil, nil, fmt.Errorf("%w: %s", ErrUnknownProtocol, id)
		}
	}
	return out, set, nil
}

func validateSettings(gap, freq int) error {
	if gap < 0 {
		return fmt.Errorf("%w: inter_protocol_gap_days must not be negative", ErrInvalidPatient)
	}
	if freq <= 0 {
		return fmt.Errorf("%w: entry_frequency_days must be positive", ErrInvalidPatient)
	}
	return nil
}

// testName joins the assigned protocol names, falling back to the given name.
func testName(ids []string, protocols catalog.ProtocolLookup, given string) string {
	if len(ids) > 0 {
		names := make([]string, 0, len(ids))
		for _, id := range ids {
			if p, ok := protocols.Protocol(id); ok {
				names = append(names, p.Name)
			}
		}
		return strings.Join(names, " + ")
	}
	if given = strings.TrimSpace(given); given != "" {
		return given
	}
	return defaultTestName
}

func dedupe(codes []string) []string {
	out := make([]string, 0, len(codes))
	seen := make(map[string]bool, len(codes))
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}
