package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/field-service/internal/domain"
	"github.com/spec-kit/field-service/internal/events"
	apperrors "github.com/spec-kit/field-service/pkg/util"
)

func TestAdminAssignBindsPrimaryTechnician(t *testing.T) {
	f := newFixture()
	staff := f.seedStaff(domain.StaffRoleOfficer)
	technician := f.seedTechnician("+15550000001")
	ticket := f.seedTicket(domain.TicketCategoryRepair, domain.TicketStatusOpen, domain.ApprovalApproved)

	assigned, err := f.assignments.AdminAssign(context.Background(), staff, ticket.ID, technician.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusAssigned, assigned.Status)

	assignment, err := (&fakeAssignmentRepo{store: f.store}).Get(context.Background(), ticket.ID, technician.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AssignmentRolePrimary, assignment.Role)
	require.NotNil(t, assignment.AssignedBy)
	assert.Equal(t, staff.ID, *assignment.AssignedBy)

	pending := f.envelopesByStatus(domain.EnvelopeStatusPending)
	require.Len(t, pending, 2, "technician detail plus customer notice")
	recipients := []string{pending[0].RecipientAddress, pending[1].RecipientAddress}
	assert.Contains(t, recipients, technician.Phone)
	assert.Contains(t, recipients, ticket.CustomerPhone)
}

func TestAdminAssignReplacesExistingAssignment(t *testing.T) {
	f := newFixture()
	staff := f.seedStaff(domain.StaffRoleOfficer)
	first := f.seedTechnician("+15550000001")
	second := f.seedTechnician("+15550000002")
	ticket := f.seedTicket(domain.TicketCategoryRepair, domain.TicketStatusOpen, domain.ApprovalApproved)

	_, err := f.assignments.AdminAssign(context.Background(), staff, ticket.ID, first.ID)
	require.NoError(t, err)

	// back to OPEN so reassignment passes the commit-time guard
	f.store.mu.Lock()
	stored := f.store.tickets[ticket.ID]
	stored.Status = domain.TicketStatusOpen
	f.store.tickets[ticket.ID] = stored
	f.store.mu.Unlock()

	_, err = f.assignments.AdminAssign(context.Background(), staff, ticket.ID, second.ID)
	require.NoError(t, err)

	assignments, err := (&fakeAssignmentRepo{store: f.store}).ListByTicket(context.Background(), ticket.ID)
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	assert.Equal(t, second.ID, assignments[0].TechnicianID)
}

func TestAdminAssignRequiresOpenApprovedTicket(t *testing.T) {
	f := newFixture()
	staff := f.seedStaff(domain.StaffRoleOfficer)
	technician := f.seedTechnician("+15550000001")

	pending := f.seedTicket(domain.TicketCategoryRepair, domain.TicketStatusOpen, domain.ApprovalPending)
	_, err := f.assignments.AdminAssign(context.Background(), staff, pending.ID, technician.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotOpen))

	inProgress := f.seedTicket(domain.TicketCategoryRepair, domain.TicketStatusInProgress, domain.ApprovalApproved)
	_, err = f.assignments.AdminAssign(context.Background(), staff, inProgress.ID, technician.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotOpen))
}

func TestAdminAssignRejectsInactiveTechnician(t *testing.T) {
	f := newFixture()
	staff := f.seedStaff(domain.StaffRoleOfficer)
	technician := f.seedTechnician("+15550000001")
	technician.Active = false
	require.NoError(t, (&fakeTechnicianRepo{store: f.store}).Update(context.Background(), technician))
	ticket := f.seedTicket(domain.TicketCategoryRepair, domain.TicketStatusOpen, domain.ApprovalApproved)

	_, err := f.assignments.AdminAssign(context.Background(), staff, ticket.ID, technician.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict))
}

func TestSelfAssignLimitedToInstalls(t *testing.T) {
	f := newFixture()
	technician := f.seedTechnician("+15550000001")
	repair := f.seedTicket(domain.TicketCategoryRepair, domain.TicketStatusOpen, domain.ApprovalApproved)

	_, err := f.assignments.SelfAssign(context.Background(), technician, repair.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))
}

func TestSelfAssignRequiresApproval(t *testing.T) {
	f := newFixture()
	technician := f.seedTechnician("+15550000001")
	ticket := f.seedTicket(domain.TicketCategoryInstall, domain.TicketStatusOpen, domain.ApprovalPending)

	_, err := f.assignments.SelfAssign(context.Background(), technician, ticket.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeStateConflict))
}

func TestSelfAssignSecondClaimLoses(t *testing.T) {
	f := newFixture()
	first := f.seedTechnician("+15550000001")
	second := f.seedTechnician("+15550000002")
	ticket := f.seedTicket(domain.TicketCategoryInstall, domain.TicketStatusOpen, domain.ApprovalApproved)

	_, err := f.assignments.SelfAssign(context.Background(), first, ticket.ID)
	require.NoError(t, err)

	_, err = f.assignments.SelfAssign(context.Background(), second, ticket.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeAlreadyAssigned))
}

func TestSelfAssignConcurrentClaimsSingleWinner(t *testing.T) {
	f := newFixture()
	ticket := f.seedTicket(domain.TicketCategoryInstall, domain.TicketStatusOpen, domain.ApprovalApproved)

	const claimers = 8
	technicians := make([]*domain.Technician, claimers)
	for i := range technicians {
		technicians[i] = f.seedTechnician(fmt.Sprintf("+1555000%04d", i))
	}

	var wg sync.WaitGroup
	errs := make([]error, claimers)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, errs[idx] = f.assignments.SelfAssign(context.Background(), technicians[idx], ticket.ID)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.True(t, apperrors.HasCode(err, apperrors.CodeAlreadyAssigned))
		}
	}
	assert.Equal(t, 1, winners, "exactly one claim may commit")

	assignments, err := (&fakeAssignmentRepo{store: f.store}).ListByTicket(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Len(t, assignments, 1)

	updated, _, err := f.tickets.Get(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusAssigned, updated.Status)
}

func TestConfirmAcceptStampsAcceptedAt(t *testing.T) {
	f := newFixture()
	technician := f.seedTechnician("+15550000001")
	ticket := f.seedTicket(domain.TicketCategoryInstall, domain.TicketStatusOpen, domain.ApprovalApproved)

	_, err := f.assignments.SelfAssign(context.Background(), technician, ticket.ID)
	require.NoError(t, err)

	_, err = f.assignments.Confirm(context.Background(), technicianActor(technician.ID), technician.ID, ticket.ID, technician.ID, domain.ConfirmAccept)
	require.NoError(t, err)

	assignment, err := (&fakeAssignmentRepo{store: f.store}).Get(context.Background(), ticket.ID, technician.ID)
	require.NoError(t, err)
	assert.NotNil(t, assignment.AcceptedAt)
}

func TestConfirmDeclineLastAssignmentReopensTicket(t *testing.T) {
	f := newFixture()
	technician := f.seedTechnician("+15550000001")
	ticket := f.seedTicket(domain.TicketCategoryInstall, domain.TicketStatusOpen, domain.ApprovalApproved)

	_, err := f.assignments.SelfAssign(context.Background(), technician, ticket.ID)
	require.NoError(t, err)

	declined, err := f.assignments.Confirm(context.Background(), technicianActor(technician.ID), technician.ID, ticket.ID, technician.ID, domain.ConfirmDecline)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusOpen, declined.Status)

	count, err := (&fakeAssignmentRepo{store: f.store}).CountByTicket(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	// ops desk gets the decline notice
	pending := f.envelopesByStatus(domain.EnvelopeStatusPending)
	found := false
	for _, envelope := range pending {
		if envelope.RecipientAddress == "+15550000000" {
			found = true
		}
	}
	assert.True(t, found, "decline should notify the ops address")
}

func TestConfirmDeclineAfterWorkStartedKeepsStatus(t *testing.T) {
	f := newFixture()
	technician := f.seedTechnician("+15550000001")
	ticket := f.seedTicket(domain.TicketCategoryInstall, domain.TicketStatusOpen, domain.ApprovalApproved)

	_, err := f.assignments.SelfAssign(context.Background(), technician, ticket.ID)
	require.NoError(t, err)

	_, err = f.tickets.UpdateStatus(context.Background(), technicianActor(technician.ID), technician.ID, ticket.ID, StatusUpdateInput{
		NewStatus: domain.TicketStatusInProgress,
	})
	require.NoError(t, err)

	declined, err := f.assignments.Confirm(context.Background(), technicianActor(technician.ID), technician.ID, ticket.ID, technician.ID, domain.ConfirmDecline)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusInProgress, declined.Status, "decline must not reopen a ticket once work has started")

	count, err := (&fakeAssignmentRepo{store: f.store}).CountByTicket(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestConfirmForeignAssignmentForbidden(t *testing.T) {
	f := newFixture()
	owner := f.seedTechnician("+15550000001")
	other := f.seedTechnician("+15550000002")
	ticket := f.seedTicket(domain.TicketCategoryInstall, domain.TicketStatusOpen, domain.ApprovalApproved)

	_, err := f.assignments.SelfAssign(context.Background(), owner, ticket.ID)
	require.NoError(t, err)

	_, err = f.assignments.Confirm(context.Background(), technicianActor(other.ID), other.ID, ticket.ID, owner.ID, domain.ConfirmAccept)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))
}

func TestListForTechnician(t *testing.T) {
	f := newFixture()
	staff := f.seedStaff(domain.StaffRoleOfficer)
	technician := f.seedTechnician("+15550000001")
	idle := f.seedTechnician("+15550000002")

	first := f.seedTicket(domain.TicketCategoryInstall, domain.TicketStatusOpen, domain.ApprovalApproved)
	second := f.seedTicket(domain.TicketCategoryRepair, domain.TicketStatusOpen, domain.ApprovalApproved)
	_, err := f.assignments.AdminAssign(context.Background(), staff, first.ID, technician.ID)
	require.NoError(t, err)
	_, err = f.assignments.AdminAssign(context.Background(), staff, second.ID, technician.ID)
	require.NoError(t, err)

	mine, err := f.assignments.ListForTechnician(context.Background(), technician.ID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	none, err := f.assignments.ListForTechnician(context.Background(), idle.ID, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestConfirmMissingAssignmentNotFound(t *testing.T) {
	f := newFixture()
	staff := f.seedStaff(domain.StaffRoleOfficer)
	technician := f.seedTechnician("+15550000001")
	ticket := f.seedTicket(domain.TicketCategoryInstall, domain.TicketStatusOpen, domain.ApprovalApproved)

	caller := events.Actor{Type: domain.SubjectTypeStaff, StaffID: &staff.ID}
	_, err := f.assignments.Confirm(context.Background(), caller, staff.ID, ticket.ID, technician.ID, domain.ConfirmAccept)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
}
