package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AuditSink receives domain events. Failures are the sink's concern.
type AuditSink interface {
	RecordEvent(ctx context.Context, kind, message string)
}

type Service struct {
	codes     BillingCodeRepository
	protocols ProtocolRepository
	doctors   DoctorRepository
	audit     AuditSink
	logger    zerolog.Logger
}

func NewService(codes BillingCodeRepository, protocols ProtocolRepository, doctors DoctorRepository, audit AuditSink, logger zerolog.Logger) *Service {
	return &Service{
		codes:     codes,
		protocols: protocols,
		doctors:   doctors,
		audit:     audit,
		logger:    logger.With().Str("service", "catalog").Logger(),
	}
}

// -- Billing Codes --

func (s *Service) SaveBillingCode(ctx context.Context, c *BillingCode) error {
	c.Code = strings.TrimSpace(c.Code)
	if c.Code == "" {
		return fmt.Errorf("%w: code is required", ErrInvalidBillingCode)
	}
	if strings.TrimSpace(c.Description) == "" {
		return fmt.Errorf("%w: description is required", ErrInvalidBillingCode)
	}
	if c.Points < 0 || c.Price < 0 {
		return fmt.Errorf("%w: points and price must not be negative", ErrInvalidBillingCode)
	}
	if c.LegacyNextActionDays != nil && *c.LegacyNextActionDays < 0 {
		return fmt.Errorf("%w: legacy_next_action_days must not be negative", ErrInvalidBillingCode)
	}
	created, err := s.codes.Upsert(ctx, c)
	if err != nil {
		return err
	}
	verb := "updated"
	if created {
		verb = "added"
	}
	s.audit.RecordEvent(ctx, "billing_code_saved", fmt.Sprintf("Code %s %s", c.Code, verb))
	return nil
}

func (s *Service) GetBillingCode(ctx context.Context, code string) (*BillingCode, error) {
	return s.codes.Get(ctx, code)
}

func (s *Service) ListBillingCodes(ctx context.Context) ([]*BillingCode, error) {
	return s.codes.List(ctx)
}

func (s *Service) DeleteBillingCode(ctx context.Context, code string) error {
	if err := s.codes.Delete(ctx, code); err != nil {
		return err
	}
	s.audit.RecordEvent(ctx, "billing_code_deleted", fmt.Sprintf("Code %s deleted", code))
	return nil
}

// ResolveCodes snapshots the catalog entries for codes, in the given order.
// Any code missing from the catalog fails with ErrUnknownBillingCode.
func (s *Service) ResolveCodes(ctx context.Context, codes []string) ([]BillingCode, error) {
	found, err := s.codes.GetMany(ctx, codes)
	if err != nil {
		return nil, fmt.Errorf("load billing codes: %w", err)
	}
	byCode := make(map[string]*BillingCode, len(found))
	for _, c := range found {
		byCode[c.Code] = c
	}
	out := make([]BillingCode, 0, len(codes))
	for _, code := range codes {
		c, ok := byCode[code]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownBillingCode, code)
		}
		out = append(out, *c)
	}
	return out, nil
}

// -- Protocols --

func (s *Service) validateProtocol(ctx context.Context, p *Protocol) error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidProtocol)
	}
	codes := make([]string, 0, len(p.Steps))
	for i, st := range p.Steps {
		if strings.TrimSpace(st.RequiredCode) == "" {
			return fmt.Errorf("%w: step %d has no required code", ErrInvalidProtocol, i+1)
		}
		if st.DaysAfterPrevious < 0 {
			return fmt.Errorf("%w: step %d has a negative day offset", ErrInvalidProtocol, i+1)
		}
		codes = append(codes, st.RequiredCode)
	}
	if len(codes) > 0 {
		if _, err := s.ResolveCodes(ctx, codes); err != nil {
			return err
		}
	}
	p.Steps = Renumbered(p.Steps)
	return nil
}

func (s *Service) CreateProtocol(ctx context.Context, p *Protocol) error {
	p.ID = strings.TrimSpace(p.ID)
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if err := s.validateProtocol(ctx, p); err != nil {
		return err
	}
	if err := s.protocols.Create(ctx, p); err != nil {
		return err
	}
	s.audit.RecordEvent(ctx, "protocol_saved", fmt.Sprintf("Protocol %s (%s) created with %d steps", p.Name, p.ID, len(p.Steps)))
	return nil
}

// UpdateProtocol replaces a protocol's name and steps. Patients already
// progressing through it keep their step index as is.
func (s *Service) UpdateProtocol(ctx context.Context, p *Protocol) error {
	if err := s.validateProtocol(ctx, p); err != nil {
		return err
	}
	if err := s.protocols.Update(ctx, p); err != nil {
		return err
	}
	s.audit.RecordEvent(ctx, "protocol_saved", fmt.Sprintf("Protocol %s (%s) updated", p.Name, p.ID))
	return nil
}

func (s *Service) AddProtocolStep(ctx context.Context, id string, step ProtocolStep) (*Protocol, error) {
	p, err := s.protocols.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	next := *p
	next.Steps = p.WithStep(step)
	if err := s.UpdateProtocol(ctx, &next); err != nil {
		return nil, err
	}
	return &next, nil
}

// RemoveProtocolStep drops the step with the given 1-based number.
func (s *Service) RemoveProtocolStep(ctx context.Context, id string, stepNumber int) (*Protocol, error) {
	p, err := s.protocols.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if stepNumber < 1 || stepNumber > len(p.Steps) {
		return nil, fmt.Errorf("%w: no step %d", ErrInvalidProtocol, stepNumber)
	}
	next := *p
	next.Steps = p.WithoutStep(stepNumber - 1)
	if err := s.UpdateProtocol(ctx, &next); err != nil {
		return nil, err
	}
	return &next, nil
}

func (s *Service) GetProtocol(ctx context.Context, id string) (*Protocol, error) {
	return s.protocols.GetByID(ctx, id)
}

func (s *Service) ListProtocols(ctx context.Context) ([]*Protocol, error) {
	return s.protocols.List(ctx)
}

func (s *Service) DeleteProtocol(ctx context.Context, id string) error {
	if err := s.protocols.Delete(ctx, id); err != nil {
		return err
	}
	s.audit.RecordEvent(ctx, "protocol_deleted", fmt.Sprintf("Protocol %s deleted", id))
	return nil
}

// ResolveProtocols loads the given protocol ids into a ProtocolSet. Ids that
// no longer exist are left out; callers decide whether that is an error.
func (s *Service) ResolveProtocols(ctx context.Context, ids []string) (ProtocolSet, error) {
	set := make(ProtocolSet, len(ids))
	for _, id := range ids {
		if _, done := set[id]; done || id == "" {
			continue
		}
		p, err := s.protocols.GetByID(ctx, id)
		if errors.Is(err, ErrProtocolNotFound) {
			s.logger.Debug().Str("protocol_id", id).Msg("referenced protocol missing from catalog")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load protocol %s: %w", id, err)
		}
		set[p.ID] = *p
	}
	return set, nil
}

// -- Doctors --

func (s *Service) ListDoctors(ctx context.Context) ([]*Doctor, error) {
	return s.doctors.List(ctx)
}

func (s *Service) AddDoctor(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDoctor)
	}
	if err := s.doctors.Add(ctx, name); err != nil {
		return err
	}
	s.audit.RecordEvent(ctx, "doctor_added", fmt.Sprintf("%s added to the doctor list", name))
	return nil
}

func (s *Service) DeleteDoctor(ctx context.Context, name string) error {
	if err := s.doctors.Delete(ctx, name); err != nil {
		return err
	}
	s.audit.RecordEvent(ctx, "doctor_deleted", fmt.Sprintf("%s removed from the doctor list", name))
	return nil
}
