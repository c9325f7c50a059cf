package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/protolab/protolab/internal/domain/billing"
	"github.com/protolab/protolab/internal/domain/catalog"
	"github.com/protolab/protolab/internal/platform/db"
)

// -- Mocks --

type mockRepo struct {
	items   map[uuid.UUID]*Patient
	updates int
}

func newMockRepo() *mockRepo {
	return &mockRepo{items: make(map[uuid.UUID]*Patient)}
}

func (m *mockRepo) Create(_ context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = time.Now()
	cp := p.Clone()
	m.items[p.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	p, ok := m.items[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	cp := p.Clone()
	return &cp, nil
}

func (m *mockRepo) GetByProtocolNo(_ context.Context, no string) (*Patient, error) {
	for _, p := range m.items {
		if strings.EqualFold(p.ProtocolNo, strings.TrimSpace(no)) {
			cp := p.Clone()
			return &cp, nil
		}
	}
	return nil, ErrPatientNotFound
}

func (m *mockRepo) Update(_ context.Context, p *Patient) error {
	if _, ok := m.items[p.ID]; !ok {
		return ErrPatientNotFound
	}
	m.updates++
	cp := p.Clone()
	m.items[p.ID] = &cp
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.items[id]; !ok {
		return ErrPatientNotFound
	}
	delete(m.items, id)
	return nil
}

func (m *mockRepo) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return m.Search(ctx, SearchParams{}, limit, offset)
}

func (m *mockRepo) Search(_ context.Context, params SearchParams, limit, offset int) ([]*Patient, int, error) {
	var out []*Patient
	for _, p := range m.items {
		if params.Status != "" && p.Status != params.Status {
			continue
		}
		if params.ProtocolID != "" && p.protocolPosition(params.ProtocolID) < 0 {
			continue
		}
		out = append(out, p)
	}
	total := len(out)
	if offset >= len(out) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(out) {
		end = len(out)
	}
	return out[offset:end], total, nil
}

func (m *mockRepo) ListByStatus(_ context.Context, status Status) ([]*Patient, error) {
	var out []*Patient
	for _, p := range m.items {
		if p.Status == status {
			cp := p.Clone()
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockRepo) CountByStatus(context.Context) (map[Status]int, error) {
	counts := make(map[Status]int)
	for _, p := range m.items {
		counts[p.Status]++
	}
	return counts, nil
}

type fakeCatalog struct {
	codes     map[string]catalog.BillingCode
	protocols catalog.ProtocolSet
}

func (f *fakeCatalog) ResolveProtocols(_ context.Context, ids []string) (catalog.ProtocolSet, error) {
	out := catalog.ProtocolSet{}
	for _, id := range ids {
		if p, ok := f.protocols[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (f *fakeCatalog) ResolveCodes(_ context.Context, codes []string) ([]catalog.BillingCode, error) {
	out := make([]catalog.BillingCode, 0, len(codes))
	for _, c := range codes {
		bc, ok := f.codes[c]
		if !ok {
			return nil, fmt.Errorf("%w: %s", catalog.ErrUnknownBillingCode, c)
		}
		out = append(out, bc)
	}
	return out, nil
}

type fakeLedger struct {
	entries []*billing.Entry
	deleted []uuid.UUID
	fail    error
}

func (l *fakeLedger) RecordEntry(_ context.Context, e *billing.Entry) error {
	if l.fail != nil {
		return l.fail
	}
	e.ID = uuid.New()
	e.Recalculate()
	l.entries = append(l.entries, e)
	return nil
}

func (l *fakeLedger) DeletePatientEntries(_ context.Context, id uuid.UUID) error {
	l.deleted = append(l.deleted, id)
	return nil
}

type recordingSink struct {
	kinds    []string
	messages []string
}

func (s *recordingSink) RecordEvent(_ context.Context, kind, message string) {
	s.kinds = append(s.kinds, kind)
	s.messages = append(s.messages, message)
}

type countingRecorder struct {
	created  int
	outcomes []string
	statuses []string
}

func (r *countingRecorder) PatientCreated()               { r.created++ }
func (r *countingRecorder) ActionRecorded(outcome string) { r.outcomes = append(r.outcomes, outcome) }
func (r *countingRecorder) StatusChanged(status string)   { r.statuses = append(r.statuses, status) }

type testEnv struct {
	svc     *Service
	repo    *mockRepo
	ledger  *fakeLedger
	sink    *recordingSink
	metrics *countingRecorder
}

func newTestEnv() *testEnv {
	env := &testEnv{
		repo:    newMockRepo(),
		ledger:  &fakeLedger{},
		sink:    &recordingSink{},
		metrics: &countingRecorder{},
	}
	cat := &fakeCatalog{
		codes: map[string]catalog.BillingCode{
			"530.1": {Code: "530.1", Description: "Karyotype", Points: 120, Price: 300},
			"530.2": {Code: "530.2", Description: "FISH", Points: 80, Price: 200},
			"620.1": {Code: "620.1", Description: "Sequencing", Points: 400, Price: 900},
			"901.1": {Code: "901.1", Description: "Consult", Points: 10, Price: 25, LegacyNextActionDays: intPtr(30)},
		},
		protocols: catalog.NewProtocolSet(panelA(), panelB()),
	}
	env.svc = NewService(env.repo, cat, env.ledger, db.NoopTransactor{}, env.sink, env.metrics,
		Defaults{InterProtocolGapDays: 11, EntryFrequencyDays: 30}, zerolog.Nop())
	env.svc.now = func() time.Time { return date("2025-03-01").Add(9 * time.Hour) }
	return env
}

func (env *testEnv) create(t *testing.T, no string, protocols ...string) *Patient {
	t.Helper()
	p, err := env.svc.CreatePatient(context.Background(), CreateRequest{
		ProtocolNo:    no,
		AdmissionDate: Date{date("2025-01-01")},
		ProtocolIDs:   protocols,
	})
	if err != nil {
		t.Fatalf("CreatePatient() error: %v", err)
	}
	return p
}

// -- Registry --

func TestService_CreatePatient_SeedsSchedule(t *testing.T) {
	env := newTestEnv()
	p := env.create(t, " LAB-001 ", "Panel-A", "Panel-B")

	if p.ProtocolNo != "LAB-001" {
		t.Errorf("expected trimmed protocol number, got %q", p.ProtocolNo)
	}
	if p.TestName != "Panel A + Panel B" {
		t.Errorf("unexpected test name %q", p.TestName)
	}
	if p.ActiveProtocolID != "Panel-A" || p.CurrentStepIndex != 0 {
		t.Errorf("unexpected schedule state %s/%d", p.ActiveProtocolID, p.CurrentStepIndex)
	}
	if p.NextScheduledDate == nil || !p.NextScheduledDate.Equal(date("2025-01-01")) {
		t.Errorf("expected next date = admission, got %v", p.NextScheduledDate)
	}
	if *p.NextScheduledNote != "Step 1 (start) pending" {
		t.Errorf("unexpected note %q", *p.NextScheduledNote)
	}
	if p.InterProtocolGapDays != 11 || p.EntryFrequencyDays != 30 {
		t.Errorf("defaults not applied: %d/%d", p.InterProtocolGapDays, p.EntryFrequencyDays)
	}
	if p.Status != StatusActive {
		t.Errorf("expected active, got %s", p.Status)
	}
	if env.metrics.created != 1 || env.sink.kinds[0] != "patient_created" {
		t.Errorf("expected metrics and audit, got %d %v", env.metrics.created, env.sink.kinds)
	}
}

func TestService_CreatePatient_LegacyTestName(t *testing.T) {
	env := newTestEnv()
	p := env.create(t, "LAB-002")
	if p.TestName != "Manual Test" {
		t.Errorf("expected fallback test name, got %q", p.TestName)
	}
	if p.ActiveProtocolID != "" || p.NextScheduledDate != nil {
		t.Errorf("legacy patient should have no schedule, got %+v", p)
	}

	p, err := env.svc.CreatePatient(context.Background(), CreateRequest{
		ProtocolNo: "LAB-003", AdmissionDate: Date{date("2025-01-01")}, TestName: "Biopsy",
	})
	if err != nil {
		t.Fatal(err)
	}
	if p.TestName != "Biopsy" {
		t.Errorf("expected given test name, got %q", p.TestName)
	}
}

func TestService_CreatePatient_Errors(t *testing.T) {
	env := newTestEnv()
	env.create(t, "LAB-001")
	neg := -1

	tests := []struct {
		name   string
		req    CreateRequest
		target error
	}{
		{"missing protocol number", CreateRequest{AdmissionDate: Date{date("2025-01-01")}}, ErrInvalidPatient},
		{"missing admission", CreateRequest{ProtocolNo: "X"}, ErrInvalidPatient},
		{"duplicate protocol number", CreateRequest{ProtocolNo: "lab-001 ", AdmissionDate: Date{date("2025-01-01")}}, ErrDuplicateProtocolNo},
		{"unknown protocol", CreateRequest{ProtocolNo: "X", AdmissionDate: Date{date("2025-01-01")}, ProtocolIDs: []string{"Nope"}}, ErrUnknownProtocol},
		{"protocol twice", CreateRequest{ProtocolNo: "X", AdmissionDate: Date{date("2025-01-01")}, ProtocolIDs: []string{"Panel-A", "Panel-A"}}, ErrInvalidPatient},
		{"negative gap", CreateRequest{ProtocolNo: "X", AdmissionDate: Date{date("2025-01-01")}, InterProtocolGapDays: &neg}, ErrInvalidPatient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := env.svc.CreatePatient(context.Background(), tt.req); !errors.Is(err, tt.target) {
				t.Errorf("expected %v, got %v", tt.target, err)
			}
		})
	}
}

func TestService_UpdatePatient_MustKeepActiveProtocol(t *testing.T) {
	env := newTestEnv()
	p := env.create(t, "LAB-001", "Panel-A", "Panel-B")
	ctx := context.Background()

	if _, err := env.svc.UpdatePatient(ctx, p.ID, UpdateRequest{ProtocolIDs: []string{"Panel-B"}}); !errors.Is(err, ErrInvalidPatient) {
		t.Errorf("expected ErrInvalidPatient, got %v", err)
	}

	updated, err := env.svc.UpdatePatient(ctx, p.ID, UpdateRequest{ProtocolIDs: []string{"Panel-A"}})
	if err != nil {
		t.Fatalf("UpdatePatient() error: %v", err)
	}
	if len(updated.AssignedProtocolIDs) != 1 || updated.TestName != "Panel A" {
		t.Errorf("unexpected update %+v", updated)
	}
}

func TestService_UpdatePatient_AssignsLegacyPatient(t *testing.T) {
	env := newTestEnv()
	p := env.create(t, "LAB-001")

	updated, err := env.svc.UpdatePatient(context.Background(), p.ID, UpdateRequest{ProtocolIDs: []string{"Panel-B"}})
	if err != nil {
		t.Fatalf("UpdatePatient() error: %v", err)
	}
	if updated.ActiveProtocolID != "Panel-B" || !updated.NextScheduledDate.Equal(date("2025-03-01")) {
		t.Errorf("expected Panel-B to start today, got %s %v", updated.ActiveProtocolID, updated.NextScheduledDate)
	}
}

func TestService_UpdatePatient_CompletedKeepsProtocols(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	p := env.create(t, "LAB-001", "Panel-A")
	for _, a := range []ActionRequest{
		{Date: Date{date("2025-01-01")}, Codes: []string{"530.1"}},
		{Date: Date{date("2025-01-15")}, Codes: []string{"530.2"}},
	} {
		if _, err := env.svc.RecordAction(ctx, p.ID, a); err != nil {
			t.Fatal(err)
		}
	}

	_, err := env.svc.UpdatePatient(ctx, p.ID, UpdateRequest{ProtocolIDs: []string{"Panel-A", "Panel-B"}})
	if !errors.Is(err, ErrInvalidPatient) {
		t.Fatalf("expected ErrInvalidPatient, got %v", err)
	}
	stored, _ := env.repo.GetByID(ctx, p.ID)
	if stored.Status != StatusCompleted || len(stored.AssignedProtocolIDs) != 1 {
		t.Errorf("completed patient changed: %s %v", stored.Status, stored.AssignedProtocolIDs)
	}

	notes := "report sent"
	if _, err := env.svc.UpdatePatient(ctx, p.ID, UpdateRequest{Notes: &notes, ProtocolIDs: []string{"Panel-A"}}); err != nil {
		t.Errorf("unchanged assignment should be accepted: %v", err)
	}
}

func TestService_UpdatePatient_ExCannotRestoreProtocols(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	p := env.create(t, "LAB-001", "Panel-A", "Panel-B")
	if _, err := env.svc.ChangeStatus(ctx, p.ID, StatusRequest{Status: "ex"}); err != nil {
		t.Fatal(err)
	}

	_, err := env.svc.UpdatePatient(ctx, p.ID, UpdateRequest{ProtocolIDs: []string{"Panel-A", "Panel-B"}})
	if !errors.Is(err, ErrInvalidPatient) {
		t.Fatalf("expected ErrInvalidPatient, got %v", err)
	}
	stored, _ := env.repo.GetByID(ctx, p.ID)
	if len(stored.AssignedProtocolIDs) != 1 || stored.AssignedProtocolIDs[0] != "Panel-A" {
		t.Errorf("truncated protocols were restored: %v", stored.AssignedProtocolIDs)
	}
}

func TestService_UpdatePatient_OnlyTailMayChange(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	p := env.create(t, "LAB-001", "Panel-A", "Panel-B")

	if _, err := env.svc.UpdatePatient(ctx, p.ID, UpdateRequest{ProtocolIDs: []string{"Panel-B", "Panel-A"}}); !errors.Is(err, ErrInvalidPatient) {
		t.Fatalf("expected ErrInvalidPatient for reorder before active, got %v", err)
	}
	phases, err := env.svc.Timeline(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if phases[0].ProtocolID != "Panel-A" || phases[0].Kind != PhaseCurrent {
		t.Errorf("unexpected first phase %+v", phases[0])
	}

	updated, err := env.svc.UpdatePatient(ctx, p.ID, UpdateRequest{ProtocolIDs: []string{"Panel-A"}})
	if err != nil {
		t.Fatalf("dropping a later protocol should succeed: %v", err)
	}
	if len(updated.AssignedProtocolIDs) != 1 {
		t.Errorf("unexpected assignment %v", updated.AssignedProtocolIDs)
	}
	updated, err = env.svc.UpdatePatient(ctx, p.ID, UpdateRequest{ProtocolIDs: []string{"Panel-A", "Panel-B"}})
	if err != nil {
		t.Fatalf("appending after the active protocol should succeed: %v", err)
	}
	if updated.ActiveProtocolID != "Panel-A" || updated.CurrentStepIndex != 0 {
		t.Errorf("active protocol disturbed: %s/%d", updated.ActiveProtocolID, updated.CurrentStepIndex)
	}
}

func TestService_UpdatePatient_ProtocolNoConflict(t *testing.T) {
	env := newTestEnv()
	env.create(t, "LAB-001")
	p := env.create(t, "LAB-002")

	taken := "LAB-001"
	if _, err := env.svc.UpdatePatient(context.Background(), p.ID, UpdateRequest{ProtocolNo: &taken}); !errors.Is(err, ErrDuplicateProtocolNo) {
		t.Errorf("expected ErrDuplicateProtocolNo, got %v", err)
	}
	same := "lab-002"
	if _, err := env.svc.UpdatePatient(context.Background(), p.ID, UpdateRequest{ProtocolNo: &same}); err != nil {
		t.Errorf("renaming to own number should succeed: %v", err)
	}
}

func TestService_DeletePatient_RemovesEntries(t *testing.T) {
	env := newTestEnv()
	p := env.create(t, "LAB-001")

	if err := env.svc.DeletePatient(context.Background(), p.ID); err != nil {
		t.Fatalf("DeletePatient() error: %v", err)
	}
	if len(env.ledger.deleted) != 1 || env.ledger.deleted[0] != p.ID {
		t.Errorf("expected entries of %s removed, got %v", p.ID, env.ledger.deleted)
	}
	if _, err := env.svc.GetPatient(context.Background(), p.ID); !errors.Is(err, ErrPatientNotFound) {
		t.Errorf("expected ErrPatientNotFound, got %v", err)
	}
}

func TestService_SaveProcess(t *testing.T) {
	env := newTestEnv()
	p := env.create(t, "LAB-001", "Panel-A")
	ctx := context.Background()

	start := Date{date("2025-01-05")}
	saved, err := env.svc.SaveProcess(ctx, p.ID, ProcessRequest{ProtocolID: "Panel-A", WorkStartDate: &start})
	if err != nil {
		t.Fatalf("SaveProcess() error: %v", err)
	}
	if len(saved.Processes) != 1 || saved.Processes[0].ProtocolName != "Panel A" {
		t.Fatalf("unexpected processes %+v", saved.Processes)
	}

	saved, err = env.svc.SaveProcess(ctx, p.ID, ProcessRequest{ProtocolID: "Panel-A", IsRepeated: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(saved.Processes) != 1 || !saved.Processes[0].IsRepeated {
		t.Errorf("expected replacement, got %+v", saved.Processes)
	}
	if saved.CurrentStepIndex != 0 || saved.NextScheduledDate == nil {
		t.Error("process bookkeeping must not touch the schedule")
	}

	early := Date{date("2024-12-01")}
	if _, err := env.svc.SaveProcess(ctx, p.ID, ProcessRequest{ProtocolID: "Panel-A", WorkStartDate: &early}); !errors.Is(err, ErrInvalidPatient) {
		t.Errorf("expected ErrInvalidPatient for early start, got %v", err)
	}
	if _, err := env.svc.SaveProcess(ctx, p.ID, ProcessRequest{ProtocolID: "Panel-B"}); !errors.Is(err, ErrInvalidPatient) {
		t.Errorf("expected ErrInvalidPatient for unassigned protocol, got %v", err)
	}
}

// -- Scheduling --

func TestService_RecordAction_PanelA(t *testing.T) {
	env := newTestEnv()
	p := env.create(t, "LAB-001", "Panel-A")
	ctx := context.Background()

	res, err := env.svc.RecordAction(ctx, p.ID, ActionRequest{Date: Date{date("2025-01-01")}, Codes: []string{"530.1"}})
	if err != nil {
		t.Fatalf("RecordAction() error: %v", err)
	}
	if res.Outcome != OutcomeAdvanced || res.Patient.CurrentStepIndex != 1 {
		t.Errorf("unexpected result %s/%d", res.Outcome, res.Patient.CurrentStepIndex)
	}
	if !res.Patient.NextScheduledDate.Equal(date("2025-01-15")) {
		t.Errorf("expected 2025-01-15, got %v", res.Patient.NextScheduledDate)
	}
	if res.Entry.TotalPrice != 300 || res.Entry.Type != billing.EntryTypeSUT {
		t.Errorf("unexpected entry %+v", res.Entry)
	}

	res, err = env.svc.RecordAction(ctx, p.ID, ActionRequest{Date: Date{date("2025-01-15")}, Codes: []string{"530.2"}})
	if err != nil {
		t.Fatalf("RecordAction() error: %v", err)
	}
	if res.Outcome != OutcomeCompleted || res.Patient.Status != StatusCompleted || res.Patient.NextScheduledDate != nil {
		t.Errorf("expected completion, got %s %+v", res.Outcome, res.Patient)
	}

	stored, _ := env.repo.GetByID(ctx, p.ID)
	if stored.Status != StatusCompleted {
		t.Errorf("completion not persisted: %s", stored.Status)
	}
	if len(env.ledger.entries) != 2 {
		t.Errorf("expected 2 ledger entries, got %d", len(env.ledger.entries))
	}
	if got := strings.Join(env.metrics.outcomes, ","); got != "advanced,completed" {
		t.Errorf("unexpected outcome metrics %s", got)
	}
}

func TestService_RecordAction_Rejections(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	p := env.create(t, "LAB-001", "Panel-A")
	paused := env.create(t, "LAB-002", "Panel-A")
	if _, err := env.svc.ChangeStatus(ctx, paused.ID, StatusRequest{Status: "paused"}); err != nil {
		t.Fatal(err)
	}
	entriesBefore := len(env.ledger.entries)

	tests := []struct {
		name   string
		id     uuid.UUID
		req    ActionRequest
		target error
	}{
		{"no codes", p.ID, ActionRequest{Date: Date{date("2025-01-01")}, Codes: []string{" "}}, ErrEmptyAction},
		{"unknown code", p.ID, ActionRequest{Date: Date{date("2025-01-01")}, Codes: []string{"000"}}, ErrUnknownBillingCode},
		{"before admission", p.ID, ActionRequest{Date: Date{date("2024-12-31")}, Codes: []string{"530.1"}}, ErrActionBeforeAdmission},
		{"suspended", paused.ID, ActionRequest{Date: Date{date("2025-01-02")}, Codes: []string{"530.1"}}, ErrSuspendedPatient},
		{"missing patient", uuid.New(), ActionRequest{Date: Date{date("2025-01-02")}, Codes: []string{"530.1"}}, ErrPatientNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := env.svc.RecordAction(ctx, tt.id, tt.req); !errors.Is(err, tt.target) {
				t.Errorf("expected %v, got %v", tt.target, err)
			}
		})
	}
	if len(env.ledger.entries) != entriesBefore {
		t.Errorf("rejected actions must not write entries")
	}
}

func TestService_RecordAction_Premature(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	p := env.create(t, "LAB-001", "Panel-A")
	if _, err := env.svc.RecordAction(ctx, p.ID, ActionRequest{Date: Date{date("2025-01-01")}, Codes: []string{"530.1"}}); err != nil {
		t.Fatal(err)
	}

	_, err := env.svc.RecordAction(ctx, p.ID, ActionRequest{Date: Date{date("2025-01-10")}, Codes: []string{"530.2"}})
	if !errors.Is(err, ErrPrematureAction) {
		t.Errorf("expected ErrPrematureAction, got %v", err)
	}
}

func TestService_RecordAction_LedgerFailureLeavesPatient(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	p := env.create(t, "LAB-001", "Panel-A")
	env.ledger.fail = errors.New("disk full")
	updates := env.repo.updates

	if _, err := env.svc.RecordAction(ctx, p.ID, ActionRequest{Date: Date{date("2025-01-01")}, Codes: []string{"530.1"}}); err == nil {
		t.Fatal("expected error")
	}
	if env.repo.updates != updates {
		t.Error("patient must not be saved when the ledger write fails")
	}
}

func TestService_RecordAction_Legacy(t *testing.T) {
	env := newTestEnv()
	p := env.create(t, "LAB-001")

	res, err := env.svc.RecordAction(context.Background(), p.ID, ActionRequest{Date: Date{date("2025-01-10")}, Codes: []string{"901.1", "901.1"}})
	if err != nil {
		t.Fatalf("RecordAction() error: %v", err)
	}
	if res.Outcome != OutcomeLegacy || !res.Patient.NextScheduledDate.Equal(date("2025-02-09")) {
		t.Errorf("unexpected legacy result %s %v", res.Outcome, res.Patient.NextScheduledDate)
	}
	if len(res.Entry.Codes) != 1 {
		t.Errorf("duplicate codes should be collapsed, got %d", len(res.Entry.Codes))
	}
}

func TestService_RecordAction_LegacyPremature(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	p := env.create(t, "LAB-001")
	if _, err := env.svc.RecordAction(ctx, p.ID, ActionRequest{Date: Date{date("2025-01-10")}, Codes: []string{"901.1"}}); err != nil {
		t.Fatal(err)
	}

	_, err := env.svc.RecordAction(ctx, p.ID, ActionRequest{Date: Date{date("2025-02-01")}, Codes: []string{"901.1"}})
	if !errors.Is(err, ErrPrematureAction) {
		t.Errorf("expected ErrPrematureAction before the follow-up date, got %v", err)
	}
	if _, err := env.svc.RecordAction(ctx, p.ID, ActionRequest{Date: Date{date("2025-02-09")}, Codes: []string{"901.1"}}); err != nil {
		t.Errorf("action on the follow-up date should succeed: %v", err)
	}
}

func TestService_ChangeStatus(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	p := env.create(t, "LAB-001", "Panel-A", "Panel-B")

	out, err := env.svc.ChangeStatus(ctx, p.ID, StatusRequest{Status: "EX", Reason: "deceased", EffectiveDate: Date{date("2025-02-01")}})
	if err != nil {
		t.Fatalf("ChangeStatus() error: %v", err)
	}
	if out.Status != StatusEx || len(out.AssignedProtocolIDs) != 1 || out.NextScheduledDate != nil {
		t.Errorf("unexpected ex patient %+v", out)
	}

	last := env.ledger.entries[len(env.ledger.entries)-1]
	if last.Type != billing.EntryTypeStatusChange || last.Notes != "STATUS UPDATE: active -> ex | Reason: deceased" {
		t.Errorf("unexpected status entry %+v", last)
	}
	kind := env.sink.kinds[len(env.sink.kinds)-1]
	msg := env.sink.messages[len(env.sink.messages)-1]
	if kind != "status_change" || !strings.Contains(msg, "active -> ex | reason: deceased") {
		t.Errorf("unexpected audit %s %q", kind, msg)
	}
	if env.metrics.statuses[0] != "ex" {
		t.Errorf("unexpected status metrics %v", env.metrics.statuses)
	}

	if _, err := env.svc.ChangeStatus(ctx, p.ID, StatusRequest{Status: "gone"}); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestService_ChangeStatus_DefaultsToToday(t *testing.T) {
	env := newTestEnv()
	p := env.create(t, "LAB-001", "Panel-A")

	out, err := env.svc.ChangeStatus(context.Background(), p.ID, StatusRequest{Status: "hospitalized"})
	if err != nil {
		t.Fatal(err)
	}
	if !out.StatusDate.Equal(date("2025-03-01")) {
		t.Errorf("expected status date today, got %v", out.StatusDate)
	}
	if *out.NextScheduledNote != "[PAUSED] Step 1 (start) pending" {
		t.Errorf("unexpected note %q", *out.NextScheduledNote)
	}
}

func TestService_TimelineAndDue(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	due := env.create(t, "LAB-001", "Panel-A", "Panel-B")
	later := env.create(t, "LAB-002", "Panel-A")
	if _, err := env.svc.RecordAction(ctx, later.ID, ActionRequest{Date: Date{date("2025-03-01")}, Codes: []string{"530.1"}}); err != nil {
		t.Fatal(err)
	}
	paused := env.create(t, "LAB-003", "Panel-A")
	if _, err := env.svc.ChangeStatus(ctx, paused.ID, StatusRequest{Status: "paused"}); err != nil {
		t.Fatal(err)
	}

	phases, err := env.svc.Timeline(ctx, due.ID)
	if err != nil {
		t.Fatalf("Timeline() error: %v", err)
	}
	if len(phases) != 2 || phases[0].Kind != PhaseCurrent || phases[1].Kind != PhaseFuture {
		t.Errorf("unexpected timeline %+v", phases)
	}

	list, err := env.svc.DueList(ctx, date("2025-03-01"))
	if err != nil {
		t.Fatalf("DueList() error: %v", err)
	}
	if len(list) != 1 || list[0].ID != due.ID {
		t.Errorf("expected only %s due, got %d patients", due.ProtocolNo, len(list))
	}

	sum, err := env.svc.Summary(ctx, date("2025-03-01"))
	if err != nil {
		t.Fatal(err)
	}
	if sum.Total != 3 || sum.Due != 1 || sum.ByStatus[StatusActive] != 2 || sum.ByStatus[StatusPaused] != 1 {
		t.Errorf("unexpected summary %+v", sum)
	}
}

func TestService_ListPatients_InvalidStatus(t *testing.T) {
	env := newTestEnv()
	if _, _, err := env.svc.ListPatients(context.Background(), SearchParams{Status: "x"}, 10, 0); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus, got %v", err)
	}
}
