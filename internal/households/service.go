package households

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/nyaruka/phonenumbers"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/giftdrive/casework/internal/mail"
	"github.com/giftdrive/casework/internal/platform/validation"
	"github.com/giftdrive/casework/internal/shared"
	"github.com/giftdrive/casework/internal/users"
)

// defaultRegion is assumed for phone numbers written without a country code.
const defaultRegion = "US"

const dispatchTimeout = 5 * time.Second

// RepositoryPort is the persistence used by Service.
type RepositoryPort interface {
	Create(ctx context.Context, h *Household) (*Household, error)
	Update(ctx context.Context, h *Household) error
	SaveStatus(ctx context.Context, h *Household) error
	SoftDelete(ctx context.Context, id int64) error
	FindByID(ctx context.Context, id int64) (*Household, error)
	List(ctx context.Context, scope Scope, page shared.Page) ([]Household, int, error)
}

// Nominators resolves the user who nominated a household.
type Nominators interface {
	FindByID(ctx context.Context, id int64) (*users.User, error)
}

// Mailer renders and delivers a named template.
type Mailer interface {
	Send(ctx context.Context, template string, msg mail.Message) error
}

// Dispatcher queues the nomination acknowledgement.
type Dispatcher interface {
	DispatchNominationReceived(ctx context.Context, householdID int64, rootURL string) error
}

type nominationReceivedData struct {
	HouseholdName string
	NominatorName string
	URL           string
}

// Service implements household intake and review.
type Service struct {
	repo       RepositoryPort
	nominators Nominators
	mailer     Mailer
	dispatcher Dispatcher
	audit      shared.AuditRecorder
	options    Options
	validate   *validator.Validate
	logger     *slog.Logger
}

// NewService wires the household collaborators.
func NewService(repo RepositoryPort, nominators Nominators, mailer Mailer, dispatcher Dispatcher, audit shared.AuditRecorder, options Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if audit == nil {
		audit = shared.NopAuditRecorder{}
	}
	return &Service{
		repo:       repo,
		nominators: nominators,
		mailer:     mailer,
		dispatcher: dispatcher,
		audit:      audit,
		options:    options,
		validate:   validation.New(),
		logger:     logger.With(slog.String("component", "households")),
	}
}

// Options returns the accepted enumerated values.
func (s *Service) Options() Options {
	return s.options
}

// List returns one page of households visible to actor.
func (s *Service) List(ctx context.Context, actor shared.Actor, page shared.Page) ([]Household, int, error) {
	return s.repo.List(ctx, scopeFor(actor), page)
}

// Get returns a household visible to actor. Households of other nominators
// are reported as shared.ErrNotFound.
func (s *Service) Get(ctx context.Context, actor shared.Actor, id int64) (*Household, error) {
	h, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && h.NominatorID != actor.ID {
		return nil, shared.ErrNotFound
	}
	return h, nil
}

// Create stores a new draft nominated by actor.
func (s *Service) Create(ctx context.Context, actor shared.Actor, in Input) (*Household, error) {
	h := &Household{NominatorID: actor.ID, Draft: true}
	if err := s.apply(h, in); err != nil {
		return nil, err
	}
	created, err := s.repo.Create(ctx, h)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "household created", slog.Int64("household_id", created.ID), slog.Int64("nominator_id", actor.ID))
	return created, nil
}

// Update replaces the contents of a draft.
func (s *Service) Update(ctx context.Context, actor shared.Actor, id int64, in Input) (*Household, error) {
	h, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !h.Draft && !actor.IsAdmin() {
		return nil, ErrNotDraft
	}
	if err := s.apply(h, in); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, h); err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, id)
}

// Delete soft deletes a household.
func (s *Service) Delete(ctx context.Context, actor shared.Actor, id int64) error {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return err
	}
	if err := s.repo.SoftDelete(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actor, shared.AuditHouseholdDeleted, id, nil)
	return nil
}

// Submit finalises a draft and queues the acknowledgement to its nominator.
func (s *Service) Submit(ctx context.Context, actor shared.Actor, rootURL string, id int64) (*Household, error) {
	h, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !h.Draft {
		return nil, ErrNotDraft
	}
	h.Draft = false
	if err := s.repo.SaveStatus(ctx, h); err != nil {
		return nil, err
	}
	s.record(ctx, actor, shared.AuditHouseholdSubmit, id, nil)

	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dispatchTimeout)
	defer cancel()
	if err := s.dispatcher.DispatchNominationReceived(dctx, id, rootURL); err != nil {
		s.logger.ErrorContext(ctx, "enqueue nomination received", slog.Any("error", err), slog.Int64("household_id", id))
	}
	return h, nil
}

// Review records the administrator decision on a submitted household.
func (s *Service) Review(ctx context.Context, actor shared.Actor, id int64, in ReviewInput) (*Household, error) {
	if !actor.IsAdmin() {
		return nil, shared.ErrForbidden
	}
	if err := s.validate.Struct(in); err != nil {
		return nil, toFieldError(err)
	}
	h, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if h.Draft {
		return nil, ErrDraft
	}
	h.Reviewed = true
	h.Approved = in.Approved
	h.Reason = strings.TrimSpace(in.Reason)
	if err := s.repo.SaveStatus(ctx, h); err != nil {
		return nil, err
	}
	s.record(ctx, actor, shared.AuditHouseholdReview, id, map[string]any{"approved": h.Approved, "reason": h.Reason})
	return h, nil
}

// SendNominationReceived mails the nominator of householdID and marks the
// acknowledgement as sent. Already acknowledged households are skipped.
func (s *Service) SendNominationReceived(ctx context.Context, rootURL string, householdID int64) error {
	h, err := s.repo.FindByID(ctx, householdID)
	if err != nil {
		return err
	}
	if h.NominationEmailSent {
		return nil
	}
	nominator, err := s.nominators.FindByID(ctx, h.NominatorID)
	if err != nil {
		return fmt.Errorf("households: nominator %d: %w", h.NominatorID, err)
	}
	err = s.mailer.Send(ctx, mail.TemplateNominationReceived, mail.Message{
		To: nominator.Email,
		Data: nominationReceivedData{
			HouseholdName: h.NameFull(),
			NominatorName: nominator.NameFull(),
			URL:           fmt.Sprintf("%s/households/%d", rootURL, h.ID),
		},
	})
	if err != nil {
		return err
	}
	h.NominationEmailSent = true
	return s.repo.SaveStatus(ctx, h)
}

// apply validates in and copies its normalised values into h.
func (s *Service) apply(h *Household, in Input) error {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := s.validate.Struct(in); err != nil {
		return toFieldError(err)
	}
	if err := s.options.check(in); err != nil {
		return err
	}
	phones := make([]Phone, 0, len(in.Phones))
	for i, p := range in.Phones {
		number, err := NormalizePhone(p.Number)
		if err != nil {
			return &FieldError{Field: fmt.Sprintf("phones[%d].number", i), Message: "must be a valid phone number"}
		}
		phones = append(phones, Phone{Type: p.Type, Number: number})
	}
	children := make([]Child, len(in.Children))
	for i, c := range in.Children {
		c.NameFirst = s.name(c.NameFirst)
		c.NameLast = s.name(c.NameLast)
		if !c.BikeWant {
			c.BikeSize, c.BikeStyle = nil, nil
		}
		if !c.ClothesWant {
			c.ClothesSizeShirt, c.ClothesSizePants, c.ShoeSize = nil, nil, nil
		}
		children[i] = c
	}

	h.NameFirst = s.name(in.NameFirst)
	h.NameMiddle = in.NameMiddle
	h.NameLast = s.name(in.NameLast)
	h.DOB = in.DOB
	h.Race = in.Race
	if h.Race != nil && *h.Race == "" {
		h.Race = nil
	}
	h.Gender = in.Gender
	h.Email = in.Email
	h.Last4SSN = in.Last4SSN
	h.PreferredContactMethod = in.PreferredContactMethod
	h.CaseNumber = in.CaseNumber
	h.Address = in.Address
	h.Phones = phones
	h.Children = children
	return nil
}

// name title-cases names typed entirely in one case and trims whitespace.
// Mixed-case input such as "McDonald" is kept.
func (s *Service) name(raw string) string {
	n := strings.TrimSpace(raw)
	if n == strings.ToLower(n) || n == strings.ToUpper(n) {
		// Casers are stateful and not shared across goroutines.
		return cases.Title(language.English).String(n)
	}
	return n
}

func (s *Service) record(ctx context.Context, actor shared.Actor, action string, id int64, meta map[string]any) {
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.ID,
		Action:   action,
		Entity:   "household",
		EntityID: shared.EntityID(id),
		Meta:     meta,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "audit record failed", slog.Any("error", err), slog.String("action", action))
	}
}

// NormalizePhone parses raw with a US default region and formats it as E.164.
func NormalizePhone(raw string) (string, error) {
	num, err := phonenumbers.Parse(raw, defaultRegion)
	if err != nil {
		return "", err
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", errors.New("households: invalid phone number")
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

func scopeFor(actor shared.Actor) Scope {
	if actor.IsAdmin() {
		return Scope{All: true}
	}
	return Scope{NominatorID: actor.ID}
}

func toFieldError(err error) error {
	if field, msg, ok := validation.First(err); ok {
		return &FieldError{Field: field, Message: msg}
	}
	return err
}
