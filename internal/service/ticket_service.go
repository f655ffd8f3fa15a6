package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/field-service/internal/domain"
	"github.com/spec-kit/field-service/internal/events"
	"github.com/spec-kit/field-service/internal/repository"
	apperrors "github.com/spec-kit/field-service/pkg/util"
)

// TicketService owns the ticket lifecycle: creation behind the approval
// gate, the status state machine, and the envelopes each transition emits.
type TicketService struct {
	tickets     repository.TicketRepository
	assignments repository.AssignmentRepository
	technicians repository.TechnicianRepository
	history     repository.TicketHistoryRepository
	runner      repository.TxRunner
	envelopes   *EnvelopeService
	dispatcher  events.Dispatcher
}

// TicketDependencies bundles repositories for ticket service.
type TicketDependencies struct {
	TicketRepo     repository.TicketRepository
	AssignmentRepo repository.AssignmentRepository
	TechnicianRepo repository.TechnicianRepository
	HistoryRepo    repository.TicketHistoryRepository
	Runner         repository.TxRunner
	Envelopes      *EnvelopeService
	Dispatcher     events.Dispatcher
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	Category        domain.TicketCategory
	CustomerName    string
	CustomerAddress string
	CustomerPhone   string
	Details         string
	ScheduledAt     *time.Time
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	return &TicketService{
		tickets:     deps.TicketRepo,
		assignments: deps.AssignmentRepo,
		technicians: deps.TechnicianRepo,
		history:     deps.HistoryRepo,
		runner:      deps.Runner,
		envelopes:   deps.Envelopes,
		dispatcher:  deps.Dispatcher,
	}
}

// Create registers a new ticket. Tickets start behind the approval gate
// unless the caller holds the trusted SYSTEM role, in which case they are
// approved on the spot and technicians are notified immediately.
func (s *TicketService) Create(ctx context.Context, staff *domain.StaffMember, input TicketCreateInput) (*domain.Ticket, error) {
	if staff == nil {
		return nil, apperrors.NewUnauthorized("staff required")
	}
	if input.Category != domain.TicketCategoryInstall && input.Category != domain.TicketCategoryRepair {
		return nil, apperrors.NewValidationError("category must be INSTALL or REPAIR", nil)
	}
	if strings.TrimSpace(input.CustomerName) == "" {
		return nil, apperrors.NewValidationError("customer name required", nil)
	}
	if strings.TrimSpace(input.CustomerAddress) == "" {
		return nil, apperrors.NewValidationError("customer address required", nil)
	}
	if strings.TrimSpace(input.CustomerPhone) == "" {
		return nil, apperrors.NewValidationError("customer phone required", nil)
	}

	ticket := &domain.Ticket{
		ExternalKey:     generateTicketKey(),
		Category:        input.Category,
		Status:          domain.TicketStatusOpen,
		Approval:        domain.ApprovalPending,
		CustomerName:    strings.TrimSpace(input.CustomerName),
		CustomerAddress: strings.TrimSpace(input.CustomerAddress),
		CustomerPhone:   strings.TrimSpace(input.CustomerPhone),
		Details:         strings.TrimSpace(input.Details),
		CreatedBy:       staff.ID,
		ScheduledAt:     input.ScheduledAt,
	}

	autoApproved := staff.Role == domain.StaffRoleSystem
	if autoApproved {
		ticket.Approval = domain.ApprovalApproved
	}

	var enqueued []*domain.Envelope
	err := s.runner.InTx(ctx, func(tx pgx.Tx) error {
		if err := s.tickets.WithTx(tx).Create(ctx, ticket); err != nil {
			return err
		}
		if !autoApproved {
			return nil
		}
		envelopes, err := s.technicianAnnouncements(ctx, tx, ticket)
		if err != nil {
			return err
		}
		enqueued = envelopes
		return nil
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	s.envelopes.TryInlineSend(ctx, enqueued...)
	if autoApproved {
		s.publishEvent(ctx, events.Event{
			Type:     events.EventTicketCreated,
			TicketID: ticket.ID,
			Actor:    staffActor(staff.ID),
			Payload: events.TicketCreatedPayload{
				Category:     ticket.Category,
				Approval:     ticket.Approval,
				CustomerName: ticket.CustomerName,
			},
		})
	}
	return ticket, nil
}

// Approve opens a pending ticket to technicians.
func (s *TicketService) Approve(ctx context.Context, staff *domain.StaffMember, ticketID string) (*domain.Ticket, error) {
	if staff == nil {
		return nil, apperrors.NewUnauthorized("staff required")
	}

	var ticket *domain.Ticket
	var enqueued []*domain.Envelope
	err := s.runner.InTx(ctx, func(tx pgx.Tx) error {
		tickets := s.tickets.WithTx(tx)
		current, err := tickets.GetByIDForUpdate(ctx, ticketID)
		if err != nil {
			return err
		}
		if current.Approval != domain.ApprovalPending {
			return apperrors.NewStateConflict("ticket is not awaiting approval", map[string]any{
				"ticket_id": ticketID,
				"approval":  current.Approval,
			})
		}
		current.Approval = domain.ApprovalApproved
		current.Status = domain.TicketStatusOpen
		if err := tickets.Update(ctx, current); err != nil {
			return err
		}
		if err := s.recordApprovalChange(ctx, tx, staff.ID, current.ID, domain.ApprovalPending, domain.ApprovalApproved, ""); err != nil {
			return err
		}
		envelopes, err := s.technicianAnnouncements(ctx, tx, current)
		if err != nil {
			return err
		}
		ticket = current
		enqueued = envelopes
		return nil
	})
	if err != nil {
		return nil, mapTicketErr(err, ticketID)
	}

	s.envelopes.TryInlineSend(ctx, enqueued...)
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketCreated,
		TicketID: ticket.ID,
		Actor:    staffActor(staff.ID),
		Payload: events.TicketCreatedPayload{
			Category:     ticket.Category,
			Approval:     ticket.Approval,
			CustomerName: ticket.CustomerName,
		},
	})
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketApproved,
		TicketID: ticket.ID,
		Actor:    staffActor(staff.ID),
		Payload:  events.TicketApprovedPayload{NotifiedTechnicians: len(enqueued)},
	})
	return ticket, nil
}

// Reject refuses a pending ticket; the ticket terminates as CANCELLED.
func (s *TicketService) Reject(ctx context.Context, staff *domain.StaffMember, ticketID, reason string) (*domain.Ticket, error) {
	if staff == nil {
		return nil, apperrors.NewUnauthorized("staff required")
	}

	var ticket *domain.Ticket
	err := s.runner.InTx(ctx, func(tx pgx.Tx) error {
		tickets := s.tickets.WithTx(tx)
		current, err := tickets.GetByIDForUpdate(ctx, ticketID)
		if err != nil {
			return err
		}
		if current.Approval != domain.ApprovalPending {
			return apperrors.NewStateConflict("ticket is not awaiting approval", map[string]any{
				"ticket_id": ticketID,
				"approval":  current.Approval,
			})
		}
		current.Approval = domain.ApprovalRejected
		current.Status = domain.TicketStatusCancelled
		current.RejectReason = &reason
		if err := tickets.Update(ctx, current); err != nil {
			return err
		}
		if err := s.recordApprovalChange(ctx, tx, staff.ID, current.ID, domain.ApprovalPending, domain.ApprovalRejected, reason); err != nil {
			return err
		}
		ticket = current
		return nil
	})
	if err != nil {
		return nil, mapTicketErr(err, ticketID)
	}

	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketRejected,
		TicketID: ticket.ID,
		Actor:    staffActor(staff.ID),
		Payload:  events.TicketRejectedPayload{Reason: reason},
	})
	return ticket, nil
}

// StatusUpdateInput carries optional fields for a status transition.
type StatusUpdateInput struct {
	NewStatus   domain.TicketStatus
	Notes       string
	EvidenceURL string
}

// UpdateStatus walks one edge of the lifecycle state machine and notifies
// the customer about it.
func (s *TicketService) UpdateStatus(ctx context.Context, actor events.Actor, actorID, ticketID string, input StatusUpdateInput) (*domain.Ticket, error) {
	var ticket *domain.Ticket
	var oldStatus domain.TicketStatus
	var enqueued []*domain.Envelope
	err := s.runner.InTx(ctx, func(tx pgx.Tx) error {
		tickets := s.tickets.WithTx(tx)
		current, err := tickets.GetByIDForUpdate(ctx, ticketID)
		if err != nil {
			return err
		}
		if current.Approval != domain.ApprovalApproved {
			return apperrors.NewStateConflict("ticket is not approved", map[string]any{
				"ticket_id": ticketID,
				"approval":  current.Approval,
			})
		}
		if !isValidTransition(current.Status, input.NewStatus) {
			return apperrors.NewInvalidTransition(string(current.Status), string(input.NewStatus))
		}
		oldStatus = current.Status
		switch input.NewStatus {
		case domain.TicketStatusCompleted:
			if strings.TrimSpace(input.EvidenceURL) == "" {
				return apperrors.NewValidationError("completion evidence required", nil)
			}
			now := time.Now()
			current.CompletedAt = &now
			evidence := input.EvidenceURL
			current.EvidenceURL = &evidence
		case domain.TicketStatusCancelled:
			// nothing extra to stamp
		}
		if notes := strings.TrimSpace(input.Notes); notes != "" {
			current.Notes = &notes
		}
		current.Status = input.NewStatus
		if err := tickets.Update(ctx, current); err != nil {
			return err
		}
		// Assignments only exist while the ticket is in flight.
		if current.Terminal() {
			if err := s.assignments.WithTx(tx).DeleteByTicket(ctx, current.ID); err != nil {
				return err
			}
		}
		if err := s.recordStatusChange(ctx, tx, actor, actorID, current.ID, oldStatus, current.Status, input.Notes); err != nil {
			return err
		}
		envelope := customerStatusEnvelope(current, oldStatus)
		if err := s.envelopes.EnqueueTx(ctx, tx, envelope); err != nil {
			return err
		}
		ticket = current
		enqueued = []*domain.Envelope{envelope}
		return nil
	})
	if err != nil {
		return nil, mapTicketErr(err, ticketID)
	}

	s.envelopes.TryInlineSend(ctx, enqueued...)
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketStatusChanged,
		TicketID: ticket.ID,
		Actor:    actor,
		Payload: events.TicketStatusChangedPayload{
			OldStatus: oldStatus,
			NewStatus: ticket.Status,
			Notes:     input.Notes,
		},
	})
	return ticket, nil
}

// Delete removes a ticket and its assignments. No envelope is emitted.
func (s *TicketService) Delete(ctx context.Context, staff *domain.StaffMember, ticketID string) error {
	if staff == nil {
		return apperrors.NewUnauthorized("staff required")
	}
	err := s.runner.InTx(ctx, func(tx pgx.Tx) error {
		if err := s.assignments.WithTx(tx).DeleteByTicket(ctx, ticketID); err != nil {
			return err
		}
		return s.tickets.WithTx(tx).Delete(ctx, ticketID)
	})
	if err != nil {
		return mapTicketErr(err, ticketID)
	}
	return nil
}

// Get fetches one ticket with its assignments.
func (s *TicketService) Get(ctx context.Context, ticketID string) (*domain.Ticket, []domain.Assignment, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, nil, mapTicketErr(err, ticketID)
	}
	assignments, err := s.assignments.ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, nil, apperrors.MapError(err)
	}
	return ticket, assignments, nil
}

// List returns tickets matching the filter.
func (s *TicketService) List(ctx context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	return s.tickets.List(ctx, filter)
}

// ListClaimable returns approved INSTALL tickets a technician could claim.
func (s *TicketService) ListClaimable(ctx context.Context, limit, offset int) ([]domain.Ticket, error) {
	category := domain.TicketCategoryInstall
	approval := domain.ApprovalApproved
	return s.tickets.List(ctx, repository.TicketFilter{
		Statuses: []domain.TicketStatus{domain.TicketStatusOpen},
		Category: &category,
		Approval: &approval,
		Limit:    limit,
		Offset:   offset,
	})
}

// History lists the audit trail for one ticket.
func (s *TicketService) History(ctx context.Context, ticketID string) ([]domain.TicketHistory, error) {
	if _, err := s.tickets.GetByID(ctx, ticketID); err != nil {
		return nil, mapTicketErr(err, ticketID)
	}
	return s.history.ListByTicket(ctx, ticketID)
}

// technicianAnnouncements enqueues one envelope per active technician
// describing the newly opened ticket.
func (s *TicketService) technicianAnnouncements(ctx context.Context, tx pgx.Tx, ticket *domain.Ticket) ([]*domain.Envelope, error) {
	active := true
	technicians, err := s.technicians.List(ctx, repository.TechnicianFilter{Active: &active, Limit: 1000})
	if err != nil {
		return nil, err
	}
	envelopes := make([]*domain.Envelope, 0, len(technicians))
	for i := range technicians {
		ticketRef := ticket.ID
		envelopes = append(envelopes, &domain.Envelope{
			RecipientAddress: technicians[i].Phone,
			Body:             newTicketAnnouncement(ticket),
			TicketRef:        &ticketRef,
		})
	}
	if err := s.envelopes.EnqueueTx(ctx, tx, envelopes...); err != nil {
		return nil, err
	}
	return envelopes, nil
}

func newTicketAnnouncement(ticket *domain.Ticket) string {
	return fmt.Sprintf("New %s ticket %s at %s. Details: %s",
		strings.ToLower(string(ticket.Category)), ticket.ExternalKey, ticket.CustomerAddress, ticket.Details)
}

func customerStatusEnvelope(ticket *domain.Ticket, oldStatus domain.TicketStatus) *domain.Envelope {
	ticketRef := ticket.ID
	var body string
	switch ticket.Status {
	case domain.TicketStatusCompleted:
		body = fmt.Sprintf("Ticket %s has been completed. Thank you.", ticket.ExternalKey)
	case domain.TicketStatusCancelled:
		body = fmt.Sprintf("Ticket %s has been cancelled.", ticket.ExternalKey)
	default:
		body = fmt.Sprintf("Ticket %s status changed from %s to %s.", ticket.ExternalKey, oldStatus, ticket.Status)
	}
	return &domain.Envelope{
		RecipientAddress: ticket.CustomerPhone,
		Body:             body,
		TicketRef:        &ticketRef,
	}
}

// Allowed lifecycle edges. OPEN->ASSIGNED is reachable only through the
// assignment coordinator, never via a direct status update.
var allowedTransitions = map[domain.TicketStatus][]domain.TicketStatus{
	domain.TicketStatusOpen:       {domain.TicketStatusCancelled},
	domain.TicketStatusAssigned:   {domain.TicketStatusInProgress, domain.TicketStatusCancelled},
	domain.TicketStatusInProgress: {domain.TicketStatusCompleted, domain.TicketStatusCancelled},
	domain.TicketStatusCompleted:  {},
	domain.TicketStatusCancelled:  {},
}

func isValidTransition(current, next domain.TicketStatus) bool {
	for _, candidate := range allowedTransitions[current] {
		if candidate == next {
			return true
		}
	}
	return false
}

func (s *TicketService) recordStatusChange(ctx context.Context, tx pgx.Tx, actor events.Actor, actorID, ticketID string, oldStatus, newStatus domain.TicketStatus, notes string) error {
	entry := &domain.TicketHistory{
		TicketID:      ticketID,
		ChangedByType: actor.Type,
		ChangedByID:   &actorID,
		ChangeType:    domain.ChangeTypeStatus,
		OldValue:      map[string]any{"status": oldStatus},
		NewValue:      map[string]any{"status": newStatus, "notes": notes},
	}
	return s.history.WithTx(tx).Create(ctx, entry)
}

func (s *TicketService) recordApprovalChange(ctx context.Context, tx pgx.Tx, staffID, ticketID string, oldState, newState domain.ApprovalState, reason string) error {
	entry := &domain.TicketHistory{
		TicketID:      ticketID,
		ChangedByType: domain.SubjectTypeStaff,
		ChangedByID:   &staffID,
		ChangeType:    domain.ChangeTypeApproval,
		OldValue:      map[string]any{"approval": oldState},
		NewValue:      map[string]any{"approval": newState, "reason": reason},
	}
	return s.history.WithTx(tx).Create(ctx, entry)
}

func (s *TicketService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	_ = s.dispatcher.Publish(ctx, event)
}

func generateTicketKey() string {
	return "FLD-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

func staffActor(staffID string) events.Actor {
	return events.Actor{
		Type:    domain.SubjectTypeStaff,
		StaffID: &staffID,
	}
}

func technicianActor(technicianID string) events.Actor {
	return events.Actor{
		Type:         domain.SubjectTypeTechnician,
		TechnicianID: &technicianID,
	}
}

func mapTicketErr(err error, ticketID string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
	}
	return apperrors.MapError(err)
}
