package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/field-service/internal/domain"
	"github.com/spec-kit/field-service/internal/events"
	"github.com/spec-kit/field-service/internal/repository"
	apperrors "github.com/spec-kit/field-service/pkg/util"
)

// AssignmentService arbitrates who may claim or be assigned a ticket. All
// guard checks commit in the same transaction as the write they protect, so
// concurrent claims cannot double-book a ticket.
type AssignmentService struct {
	tickets     repository.TicketRepository
	assignments repository.AssignmentRepository
	technicians repository.TechnicianRepository
	history     repository.TicketHistoryRepository
	runner      repository.TxRunner
	envelopes   *EnvelopeService
	dispatcher  events.Dispatcher
	opsAddress  string
}

// AssignmentDependencies bundles repositories.
type AssignmentDependencies struct {
	TicketRepo     repository.TicketRepository
	AssignmentRepo repository.AssignmentRepository
	TechnicianRepo repository.TechnicianRepository
	HistoryRepo    repository.TicketHistoryRepository
	Runner         repository.TxRunner
	Envelopes      *EnvelopeService
	Dispatcher     events.Dispatcher
	OpsAddress     string
}

// NewAssignmentService creates the service.
func NewAssignmentService(deps AssignmentDependencies) *AssignmentService {
	return &AssignmentService{
		tickets:     deps.TicketRepo,
		assignments: deps.AssignmentRepo,
		technicians: deps.TechnicianRepo,
		history:     deps.HistoryRepo,
		runner:      deps.Runner,
		envelopes:   deps.Envelopes,
		dispatcher:  deps.Dispatcher,
		opsAddress:  deps.OpsAddress,
	}
}

// AdminAssign replaces any existing assignments with the supplied technician
// as PRIMARY. The OPEN check is evaluated at commit time under the ticket's
// row lock.
func (s *AssignmentService) AdminAssign(ctx context.Context, staff *domain.StaffMember, ticketID, technicianID string) (*domain.Ticket, error) {
	if staff == nil {
		return nil, apperrors.NewUnauthorized("staff required")
	}

	technician, err := s.technicians.GetByID(ctx, technicianID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("technician", map[string]any{"technician_id": technicianID})
		}
		return nil, apperrors.MapError(err)
	}
	if !technician.Active {
		return nil, apperrors.NewConflict("technician inactive", map[string]any{"technician_id": technicianID})
	}

	var ticket *domain.Ticket
	var enqueued []*domain.Envelope
	err = s.runner.InTx(ctx, func(tx pgx.Tx) error {
		tickets := s.tickets.WithTx(tx)
		current, err := tickets.GetByIDForUpdate(ctx, ticketID)
		if err != nil {
			return err
		}
		if current.Approval != domain.ApprovalApproved || current.Status != domain.TicketStatusOpen {
			return apperrors.NewNotOpen(ticketID)
		}

		assignments := s.assignments.WithTx(tx)
		if err := assignments.DeleteByTicket(ctx, current.ID); err != nil {
			return err
		}
		staffID := staff.ID
		assignment := &domain.Assignment{
			TicketID:     current.ID,
			TechnicianID: technician.ID,
			Role:         domain.AssignmentRolePrimary,
			AssignedBy:   &staffID,
		}
		if err := assignments.Create(ctx, assignment); err != nil {
			return err
		}

		current.Status = domain.TicketStatusAssigned
		if err := tickets.Update(ctx, current); err != nil {
			return err
		}
		if err := s.recordAssignmentChange(ctx, tx, staffActor(staff.ID), staff.ID, current.ID, nil, &technician.ID); err != nil {
			return err
		}

		ticketRef := current.ID
		envelopes := []*domain.Envelope{
			{
				RecipientAddress: technician.Phone,
				Body:             assignmentDetail(current),
				TicketRef:        &ticketRef,
			},
			{
				RecipientAddress: current.CustomerPhone,
				Body:             fmt.Sprintf("Technician %s has been assigned to ticket %s.", technician.Name, current.ExternalKey),
				TicketRef:        &ticketRef,
			},
		}
		if err := s.envelopes.EnqueueTx(ctx, tx, envelopes...); err != nil {
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
		Type:     events.EventTicketAssigned,
		TicketID: ticket.ID,
		Actor:    staffActor(staff.ID),
		Payload:  events.TicketAssignedPayload{TechnicianID: technician.ID, SelfAssigned: false},
	})
	return ticket, nil
}

// SelfAssign lets a technician claim an unassigned INSTALL ticket. The guard
// and the write are one conditional update: when two technicians race for
// the same ticket, the first committer wins and the second gets
// AlreadyAssigned.
func (s *AssignmentService) SelfAssign(ctx context.Context, technician *domain.Technician, ticketID string) (*domain.Ticket, error) {
	if technician == nil {
		return nil, apperrors.NewUnauthorized("technician required")
	}
	if !technician.Active {
		return nil, apperrors.NewForbidden("technician inactive")
	}

	current, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, mapTicketErr(err, ticketID)
	}
	if current.Category != domain.TicketCategoryInstall {
		return nil, apperrors.NewForbidden("self-assignment is limited to installation tickets")
	}
	if current.Approval != domain.ApprovalApproved {
		return nil, apperrors.NewStateConflict("ticket is not approved", map[string]any{
			"ticket_id": ticketID,
			"approval":  current.Approval,
		})
	}

	var ticket *domain.Ticket
	var enqueued []*domain.Envelope
	err = s.runner.InTx(ctx, func(tx pgx.Tx) error {
		if err := s.assignments.WithTx(tx).ClaimInstall(ctx, ticketID, technician.ID); err != nil {
			return err
		}
		claimed, err := s.tickets.WithTx(tx).GetByID(ctx, ticketID)
		if err != nil {
			return err
		}
		if err := s.recordAssignmentChange(ctx, tx, technicianActor(technician.ID), technician.ID, claimed.ID, nil, &technician.ID); err != nil {
			return err
		}
		ticketRef := claimed.ID
		envelope := &domain.Envelope{
			RecipientAddress: claimed.CustomerPhone,
			Body:             fmt.Sprintf("Technician %s has been assigned to ticket %s.", technician.Name, claimed.ExternalKey),
			TicketRef:        &ticketRef,
		}
		if err := s.envelopes.EnqueueTx(ctx, tx, envelope); err != nil {
			return err
		}
		ticket = claimed
		enqueued = []*domain.Envelope{envelope}
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotClaimed) {
			return nil, apperrors.NewAlreadyAssigned(ticketID)
		}
		return nil, mapTicketErr(err, ticketID)
	}

	s.envelopes.TryInlineSend(ctx, enqueued...)
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketAssigned,
		TicketID: ticket.ID,
		Actor:    technicianActor(technician.ID),
		Payload:  events.TicketAssignedPayload{TechnicianID: technician.ID, SelfAssigned: true},
	})
	return ticket, nil
}

// Confirm records a technician's response to an assignment. Staff may
// confirm on a technician's behalf.
func (s *AssignmentService) Confirm(ctx context.Context, caller events.Actor, callerID, ticketID, technicianID string, action domain.ConfirmAction) (*domain.Ticket, error) {
	if caller.Type == domain.SubjectTypeTechnician && callerID != technicianID {
		return nil, apperrors.NewForbidden("technicians may only confirm their own assignment")
	}

	var ticket *domain.Ticket
	var remaining int
	var enqueued []*domain.Envelope
	err := s.runner.InTx(ctx, func(tx pgx.Tx) error {
		tickets := s.tickets.WithTx(tx)
		current, err := tickets.GetByIDForUpdate(ctx, ticketID)
		if err != nil {
			return err
		}
		assignments := s.assignments.WithTx(tx)
		if _, err := assignments.Get(ctx, ticketID, technicianID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperrors.NewNotFound("assignment", map[string]any{
					"ticket_id":     ticketID,
					"technician_id": technicianID,
				})
			}
			return err
		}

		switch action {
		case domain.ConfirmAccept:
			if err := assignments.SetAccepted(ctx, ticketID, technicianID); err != nil && !errors.Is(err, pgx.ErrNoRows) {
				return err
			}
			remaining, err = assignments.CountByTicket(ctx, ticketID)
			if err != nil {
				return err
			}
		case domain.ConfirmDecline:
			if err := assignments.Delete(ctx, ticketID, technicianID); err != nil {
				return err
			}
			remaining, err = assignments.CountByTicket(ctx, ticketID)
			if err != nil {
				return err
			}
			// the reopen edge exists only from ASSIGNED; once work has
			// started the ticket keeps its status
			if remaining == 0 && current.Status == domain.TicketStatusAssigned {
				current.Status = domain.TicketStatusOpen
				if err := tickets.Update(ctx, current); err != nil {
					return err
				}
			}
			if err := s.recordAssignmentChange(ctx, tx, caller, callerID, current.ID, &technicianID, nil); err != nil {
				return err
			}
			if s.opsAddress != "" {
				ticketRef := current.ID
				envelope := &domain.Envelope{
					RecipientAddress: s.opsAddress,
					Body:             fmt.Sprintf("Technician declined ticket %s; %d assignment(s) remain.", current.ExternalKey, remaining),
					TicketRef:        &ticketRef,
				}
				if err := s.envelopes.EnqueueTx(ctx, tx, envelope); err != nil {
					return err
				}
				enqueued = append(enqueued, envelope)
			}
		default:
			return apperrors.NewValidationError("action must be ACCEPT or DECLINE", nil)
		}
		ticket = current
		return nil
	})
	if err != nil {
		return nil, mapTicketErr(err, ticketID)
	}

	s.envelopes.TryInlineSend(ctx, enqueued...)
	s.publishEvent(ctx, events.Event{
		Type:     events.EventAssignmentConfirmed,
		TicketID: ticket.ID,
		Actor:    caller,
		Payload: events.AssignmentConfirmedPayload{
			TechnicianID: technicianID,
			Action:       action,
			Remaining:    remaining,
		},
	})
	return ticket, nil
}

// ListForTechnician returns a technician's assignments, newest first.
func (s *AssignmentService) ListForTechnician(ctx context.Context, technicianID string, limit, offset int) ([]domain.Assignment, error) {
	assignments, err := s.assignments.ListByTechnician(ctx, technicianID, limit, offset)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return assignments, nil
}

func assignmentDetail(ticket *domain.Ticket) string {
	scheduled := "unscheduled"
	if ticket.ScheduledAt != nil {
		scheduled = ticket.ScheduledAt.Format(time.RFC1123)
	}
	return fmt.Sprintf("You are assigned to ticket %s (%s) for %s at %s, %s. Details: %s",
		ticket.ExternalKey, ticket.Category, ticket.CustomerName, ticket.CustomerAddress, scheduled, ticket.Details)
}

func (s *AssignmentService) recordAssignmentChange(ctx context.Context, tx pgx.Tx, actor events.Actor, actorID, ticketID string, oldTechnician, newTechnician *string) error {
	entry := &domain.TicketHistory{
		TicketID:      ticketID,
		ChangedByType: actor.Type,
		ChangedByID:   &actorID,
		ChangeType:    domain.ChangeTypeAssignment,
		OldValue:      map[string]any{"technician_id": oldTechnician},
		NewValue:      map[string]any{"technician_id": newTechnician},
	}
	return s.history.WithTx(tx).Create(ctx, entry)
}

func (s *AssignmentService) publishEvent(ctx context.Context, event events.Event) {
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
