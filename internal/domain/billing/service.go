package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/protolab/protolab/internal/domain/catalog"
	"github.com/protolab/protolab/internal/platform/analysis"
	"github.com/protolab/protolab/internal/platform/db"
)

// AuditSink receives domain events. Failures are the sink's concern.
type AuditSink interface {
	RecordEvent(ctx context.Context, kind, message string)
}

type Recorder interface {
	EntryCreated()
}

// NoteAnalyzer suggests billing codes for a free-text note.
type NoteAnalyzer interface {
	Analyze(ctx context.Context, note string, codes []analysis.CodeHint) analysis.Result
}

// CodeCatalog lists the billing codes offered to the analyzer.
type CodeCatalog interface {
	ListBillingCodes(ctx context.Context) ([]*catalog.BillingCode, error)
}

type Service struct {
	entries  EntryRepository
	tenders  TenderRepository
	invoices InvoiceRepository
	tx       db.Transactor
	codes    CodeCatalog
	analyzer NoteAnalyzer
	audit    AuditSink
	metrics  Recorder
	logger   zerolog.Logger
}

func NewService(entries EntryRepository, tenders TenderRepository, invoices InvoiceRepository, tx db.Transactor,
	codes CodeCatalog, analyzer NoteAnalyzer, audit AuditSink, metrics Recorder, logger zerolog.Logger) *Service {
	return &Service{
		entries:  entries,
		tenders:  tenders,
		invoices: invoices,
		tx:       tx,
		codes:    codes,
		analyzer: analyzer,
		audit:    audit,
		metrics:  metrics,
		logger:   logger.With().Str("service", "billing").Logger(),
	}
}

// -- Entries --

// RecordEntry validates e, computes its totals and stores it.
func (s *Service) RecordEntry(ctx context.Context, e *Entry) error {
	if e.PatientID == uuid.Nil {
		return fmt.Errorf("%w: patient_id is required", ErrInvalidEntry)
	}
	if e.Date.IsZero() {
		return fmt.Errorf("%w: date is required", ErrInvalidEntry)
	}
	if e.Type == "" {
		e.Type = EntryTypeSUT
	}
	switch e.Type {
	case EntryTypeSUT:
		if len(e.Codes) == 0 {
			return fmt.Errorf("%w: at least one billing code is required", ErrInvalidEntry)
		}
	case EntryTypeStatusChange:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEntry, e.Type)
	}
	e.Recalculate()
	if err := s.entries.Create(ctx, e); err != nil {
		return err
	}
	s.metrics.EntryCreated()
	if e.Type == EntryTypeSUT {
		s.audit.RecordEvent(ctx, "entry_created",
			fmt.Sprintf("Entry %s for patient %s: %s", e.ID, e.PatientID, strings.Join(e.CodeList(), ", ")))
	}
	return nil
}

func (s *Service) GetEntry(ctx context.Context, id uuid.UUID) (*Entry, error) {
	return s.entries.GetByID(ctx, id)
}

// DeleteEntry removes a ledger entry. Protocol progress made by the entry is
// kept.
func (s *Service) DeleteEntry(ctx context.Context, id uuid.UUID) error {
	e, err := s.entries.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.entries.Delete(ctx, id); err != nil {
		return err
	}
	s.audit.RecordEvent(ctx, "entry_deleted",
		fmt.Sprintf("Entry %s for patient %s dated %s deleted", e.ID, e.PatientID, e.Date.Format("2006-01-02")))
	return nil
}

func (s *Service) DeletePatientEntries(ctx context.Context, patientID uuid.UUID) error {
	n, err := s.entries.DeleteByPatient(ctx, patientID)
	if err != nil {
		return err
	}
	s.logger.Debug().Str("patient_id", patientID.String()).Int("entries", n).Msg("patient entries removed")
	return nil
}

func (s *Service) ListPatientEntries(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Entry, int, error) {
	return s.entries.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) ListRecentEntries(ctx context.Context, limit, offset int) ([]*Entry, int, error) {
	return s.entries.ListRecent(ctx, limit, offset)
}

// AnalyzeNote asks the analyzer which catalog codes a note describes.
func (s *Service) AnalyzeNote(ctx context.Context, note string) (analysis.Result, error) {
	if strings.TrimSpace(note) == "" {
		return analysis.Result{}, fmt.Errorf("%w: note is required", ErrInvalidEntry)
	}
	codes, err := s.codes.ListBillingCodes(ctx)
	if err != nil {
		return analysis.Result{}, err
	}
	hints := make([]analysis.CodeHint, 0, len(codes))
	for _, c := range codes {
		hints = append(hints, analysis.CodeHint{Code: c.Code, Description: c.Description})
	}
	return s.analyzer.Analyze(ctx, note, hints), nil
}

// -- Tenders --

func validateTender(t *Tender) error {
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidTender)
	}
	if t.TotalBudget < 0 {
		return fmt.Errorf("%w: total_budget must not be negative", ErrInvalidTender)
	}
	if t.TotalPatientQuota < 0 {
		return fmt.Errorf("%w: total_patient_quota must not be negative", ErrInvalidTender)
	}
	if !t.StartDate.IsZero() && !t.EndDate.IsZero() && t.EndDate.Before(t.StartDate) {
		return fmt.Errorf("%w: end_date precedes start_date", ErrInvalidTender)
	}
	seen := make(map[string]bool, len(t.ProtocolQuotas))
	for _, q := range t.ProtocolQuotas {
		if q.ProtocolID == "" {
			return fmt.Errorf("%w: quota protocol_id is required", ErrInvalidTender)
		}
		if q.Quota < 0 {
			return fmt.Errorf("%w: quota for %s must not be negative", ErrInvalidTender, q.ProtocolID)
		}
		if seen[q.ProtocolID] {
			return fmt.Errorf("%w: duplicate quota for %s", ErrInvalidTender, q.ProtocolID)
		}
		seen[q.ProtocolID] = true
	}
	return nil
}

func (s *Service) CreateTender(ctx context.Context, t *Tender) error {
	if err := validateTender(t); err != nil {
		return err
	}
	t.CurrentSpent = 0
	if err := s.tenders.Create(ctx, t); err != nil {
		return err
	}
	s.audit.RecordEvent(ctx, "tender_saved", fmt.Sprintf("Tender %q created with budget %.2f", t.Name, t.TotalBudget))
	return nil
}

func (s *Service) GetTender(ctx context.Context, id uuid.UUID) (*Tender, error) {
	return s.tenders.GetByID(ctx, id)
}

func (s *Service) UpdateTender(ctx context.Context, t *Tender) error {
	if err := validateTender(t); err != nil {
		return err
	}
	if err := s.tenders.Update(ctx, t); err != nil {
		return err
	}
	s.audit.RecordEvent(ctx, "tender_saved", fmt.Sprintf("Tender %q updated", t.Name))
	return nil
}

func (s *Service) DeleteTender(ctx context.Context, id uuid.UUID) error {
	if err := s.tenders.Delete(ctx, id); err != nil {
		return err
	}
	s.audit.RecordEvent(ctx, "tender_deleted", fmt.Sprintf("Tender %s deleted", id))
	return nil
}

func (s *Service) ListTenders(ctx context.Context) ([]*Tender, error) {
	return s.tenders.List(ctx)
}

// -- Invoices --

// AddInvoice stores inv against its tender and recomputes the tender's spent
// amount in the same transaction.
func (s *Service) AddInvoice(ctx context.Context, inv *Invoice) (*Tender, error) {
	if inv.TenderID == uuid.Nil {
		return nil, fmt.Errorf("%w: tender_id is required", ErrInvalidInvoice)
	}
	if inv.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidInvoice)
	}
	if inv.Date.IsZero() {
		inv.Date = time.Now().UTC()
	}
	for _, item := range inv.BilledProtocols {
		if item.ProtocolID == "" || item.Count < 0 {
			return nil, fmt.Errorf("%w: billed protocols need an id and a non-negative count", ErrInvalidInvoice)
		}
	}

	var tender *Tender
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.tenders.GetByID(ctx, inv.TenderID); err != nil {
			return err
		}
		if err := s.invoices.Create(ctx, inv); err != nil {
			return err
		}
		var err error
		tender, err = s.recalculateSpent(ctx, inv.TenderID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.audit.RecordEvent(ctx, "invoice_created",
		fmt.Sprintf("Invoice %.2f added to tender %q: %s", inv.Amount, tender.Name, inv.Description))
	return tender, nil
}

func (s *Service) GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return s.invoices.GetByID(ctx, id)
}

// DeleteInvoice removes the invoice and returns its tender with the spent
// amount recomputed.
func (s *Service) DeleteInvoice(ctx context.Context, id uuid.UUID) (*Tender, error) {
	var (
		inv    *Invoice
		tender *Tender
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if inv, err = s.invoices.GetByID(ctx, id); err != nil {
			return err
		}
		if err = s.invoices.Delete(ctx, id); err != nil {
			return err
		}
		tender, err = s.recalculateSpent(ctx, inv.TenderID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.audit.RecordEvent(ctx, "invoice_deleted",
		fmt.Sprintf("Invoice %.2f removed from tender %q", inv.Amount, tender.Name))
	return tender, nil
}

func (s *Service) ListInvoices(ctx context.Context, tenderID uuid.UUID) ([]*Invoice, error) {
	if _, err := s.tenders.GetByID(ctx, tenderID); err != nil {
		return nil, err
	}
	return s.invoices.ListByTender(ctx, tenderID)
}

// recalculateSpent derives CurrentSpent from the invoices rather than
// adjusting it incrementally.
func (s *Service) recalculateSpent(ctx context.Context, tenderID uuid.UUID) (*Tender, error) {
	invoices, err := s.invoices.ListByTender(ctx, tenderID)
	if err != nil {
		return nil, err
	}
	var spent float64
	for _, inv := range invoices {
		spent += inv.Amount
	}
	if err := s.tenders.SetSpent(ctx, tenderID, spent); err != nil {
		return nil, err
	}
	t, err := s.tenders.GetByID(ctx, tenderID)
	if err != nil {
		return nil, err
	}
	s.logger.Debug().Str("tender_id", tenderID.String()).Float64("spent", spent).Msg("tender spent recalculated")
	return t, nil
}

// QuotaReport compares the tender's per-protocol quotas with realized
// patients and billed counts.
func (s *Service) QuotaReport(ctx context.Context, tenderID uuid.UUID) (*QuotaReport, error) {
	t, err := s.tenders.GetByID(ctx, tenderID)
	if err != nil {
		return nil, err
	}
	stats, err := s.entries.ProtocolStats(ctx)
	if err != nil {
		return nil, err
	}
	invoices, err := s.invoices.ListByTender(ctx, tenderID)
	if err != nil {
		return nil, err
	}
	r := BuildQuotaReport(t, stats, invoices)
	return &r, nil
}
