package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/field-service/internal/config"
	"github.com/spec-kit/field-service/internal/domain"
	"github.com/spec-kit/field-service/internal/events"
	"github.com/spec-kit/field-service/internal/repository"
)

// memStore backs the repository fakes. One mutex guards every table so the
// claim behaves like the real lock-then-check flow under concurrent
// callers: guards are re-read inside the critical section.
type memStore struct {
	mu          sync.Mutex
	tickets     map[string]domain.Ticket
	assignments map[string][]domain.Assignment
	technicians map[string]domain.Technician
	staff       map[string]domain.StaffMember
	envelopes   map[string]domain.Envelope
	envelopeIDs []string
	codes       []domain.OneTimeCode
	history     []domain.TicketHistory
}

func newMemStore() *memStore {
	return &memStore{
		tickets:     make(map[string]domain.Ticket),
		assignments: make(map[string][]domain.Assignment),
		technicians: make(map[string]domain.Technician),
		staff:       make(map[string]domain.StaffMember),
		envelopes:   make(map[string]domain.Envelope),
	}
}

type fakeRunner struct{}

func (fakeRunner) InTx(_ context.Context, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}

// --- tickets ---

type fakeTicketRepo struct{ store *memStore }

func (r *fakeTicketRepo) WithTx(pgx.Tx) repository.TicketRepository { return r }

func (r *fakeTicketRepo) Create(_ context.Context, ticket *domain.Ticket) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	ticket.ID = uuid.NewString()
	ticket.CreatedAt = time.Now()
	ticket.UpdatedAt = ticket.CreatedAt
	r.store.tickets[ticket.ID] = *ticket
	return nil
}

func (r *fakeTicketRepo) Update(_ context.Context, ticket *domain.Ticket) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.tickets[ticket.ID]; !ok {
		return pgx.ErrNoRows
	}
	ticket.UpdatedAt = time.Now()
	r.store.tickets[ticket.ID] = *ticket
	return nil
}

func (r *fakeTicketRepo) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	ticket, ok := r.store.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := ticket
	return &copied, nil
}

func (r *fakeTicketRepo) GetByIDForUpdate(ctx context.Context, id string) (*domain.Ticket, error) {
	return r.GetByID(ctx, id)
}

func (r *fakeTicketRepo) List(_ context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var result []domain.Ticket
	for _, ticket := range r.store.tickets {
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, ticket.Status) {
			continue
		}
		if filter.Approval != nil && ticket.Approval != *filter.Approval {
			continue
		}
		if filter.Category != nil && ticket.Category != *filter.Category {
			continue
		}
		if filter.CreatedBy != nil && ticket.CreatedBy != *filter.CreatedBy {
			continue
		}
		result = append(result, ticket)
	}
	return result, nil
}

func (r *fakeTicketRepo) Delete(_ context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.tickets[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(r.store.tickets, id)
	return nil
}

func containsStatus(statuses []domain.TicketStatus, status domain.TicketStatus) bool {
	for _, candidate := range statuses {
		if candidate == status {
			return true
		}
	}
	return false
}

// --- assignments ---

type fakeAssignmentRepo struct{ store *memStore }

func (r *fakeAssignmentRepo) WithTx(pgx.Tx) repository.AssignmentRepository { return r }

func (r *fakeAssignmentRepo) Create(_ context.Context, assignment *domain.Assignment) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	assignment.AssignedAt = time.Now()
	r.store.assignments[assignment.TicketID] = append(r.store.assignments[assignment.TicketID], *assignment)
	return nil
}

func (r *fakeAssignmentRepo) Get(_ context.Context, ticketID, technicianID string) (*domain.Assignment, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, assignment := range r.store.assignments[ticketID] {
		if assignment.TechnicianID == technicianID {
			copied := assignment
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *fakeAssignmentRepo) ListByTicket(_ context.Context, ticketID string) ([]domain.Assignment, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return append([]domain.Assignment(nil), r.store.assignments[ticketID]...), nil
}

func (r *fakeAssignmentRepo) ListByTechnician(_ context.Context, technicianID string, _, _ int) ([]domain.Assignment, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var result []domain.Assignment
	for _, assignments := range r.store.assignments {
		for _, assignment := range assignments {
			if assignment.TechnicianID == technicianID {
				result = append(result, assignment)
			}
		}
	}
	return result, nil
}

func (r *fakeAssignmentRepo) CountByTicket(_ context.Context, ticketID string) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return len(r.store.assignments[ticketID]), nil
}

func (r *fakeAssignmentRepo) SetAccepted(_ context.Context, ticketID, technicianID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	assignments := r.store.assignments[ticketID]
	for i := range assignments {
		if assignments[i].TechnicianID == technicianID && assignments[i].AcceptedAt == nil {
			now := time.Now()
			assignments[i].AcceptedAt = &now
			return nil
		}
	}
	return pgx.ErrNoRows
}

func (r *fakeAssignmentRepo) Delete(_ context.Context, ticketID, technicianID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	assignments := r.store.assignments[ticketID]
	for i := range assignments {
		if assignments[i].TechnicianID == technicianID {
			r.store.assignments[ticketID] = append(assignments[:i], assignments[i+1:]...)
			return nil
		}
	}
	return pgx.ErrNoRows
}

func (r *fakeAssignmentRepo) DeleteByTicket(_ context.Context, ticketID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.assignments, ticketID)
	return nil
}

func (r *fakeAssignmentRepo) ClaimInstall(_ context.Context, ticketID, technicianID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	ticket, ok := r.store.tickets[ticketID]
	if !ok {
		return repository.ErrNotClaimed
	}
	claimable := ticket.Category == domain.TicketCategoryInstall &&
		ticket.Approval == domain.ApprovalApproved &&
		(ticket.Status == domain.TicketStatusOpen || ticket.Status == domain.TicketStatusAssigned) &&
		len(r.store.assignments[ticketID]) == 0
	if !claimable {
		return repository.ErrNotClaimed
	}
	ticket.Status = domain.TicketStatusAssigned
	ticket.UpdatedAt = time.Now()
	r.store.tickets[ticketID] = ticket
	r.store.assignments[ticketID] = append(r.store.assignments[ticketID], domain.Assignment{
		TicketID:     ticketID,
		TechnicianID: technicianID,
		Role:         domain.AssignmentRolePrimary,
		AssignedAt:   time.Now(),
	})
	return nil
}

// --- technicians ---

type fakeTechnicianRepo struct{ store *memStore }

func (r *fakeTechnicianRepo) Create(_ context.Context, technician *domain.Technician) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	technician.ID = uuid.NewString()
	technician.CreatedAt = time.Now()
	technician.UpdatedAt = technician.CreatedAt
	r.store.technicians[technician.ID] = *technician
	return nil
}

func (r *fakeTechnicianRepo) Update(_ context.Context, technician *domain.Technician) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.technicians[technician.ID]; !ok {
		return pgx.ErrNoRows
	}
	technician.UpdatedAt = time.Now()
	r.store.technicians[technician.ID] = *technician
	return nil
}

func (r *fakeTechnicianRepo) GetByID(_ context.Context, id string) (*domain.Technician, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	technician, ok := r.store.technicians[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := technician
	return &copied, nil
}

func (r *fakeTechnicianRepo) GetByPhone(_ context.Context, phone string) (*domain.Technician, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, technician := range r.store.technicians {
		if technician.Phone == phone {
			copied := technician
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *fakeTechnicianRepo) List(_ context.Context, filter repository.TechnicianFilter) ([]domain.Technician, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var result []domain.Technician
	for _, technician := range r.store.technicians {
		if filter.Active != nil && technician.Active != *filter.Active {
			continue
		}
		if filter.Available != nil && technician.Available != *filter.Available {
			continue
		}
		result = append(result, technician)
	}
	return result, nil
}

// --- staff ---

type fakeStaffRepo struct{ store *memStore }

func (r *fakeStaffRepo) Create(_ context.Context, staff *domain.StaffMember) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	staff.ID = uuid.NewString()
	staff.CreatedAt = time.Now()
	staff.UpdatedAt = staff.CreatedAt
	r.store.staff[staff.ID] = *staff
	return nil
}

func (r *fakeStaffRepo) Update(_ context.Context, staff *domain.StaffMember) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.staff[staff.ID]; !ok {
		return pgx.ErrNoRows
	}
	staff.UpdatedAt = time.Now()
	r.store.staff[staff.ID] = *staff
	return nil
}

func (r *fakeStaffRepo) GetByID(_ context.Context, id string) (*domain.StaffMember, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	staff, ok := r.store.staff[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := staff
	return &copied, nil
}

func (r *fakeStaffRepo) GetByEmail(_ context.Context, email string) (*domain.StaffMember, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, staff := range r.store.staff {
		if staff.Email == email {
			copied := staff
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

// --- envelopes ---

type fakeEnvelopeRepo struct{ store *memStore }

func (r *fakeEnvelopeRepo) WithTx(pgx.Tx) repository.EnvelopeRepository { return r }

func (r *fakeEnvelopeRepo) Create(_ context.Context, envelope *domain.Envelope) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	envelope.ID = uuid.NewString()
	envelope.CreatedAt = time.Now()
	r.store.envelopes[envelope.ID] = *envelope
	r.store.envelopeIDs = append(r.store.envelopeIDs, envelope.ID)
	return nil
}

func (r *fakeEnvelopeRepo) GetByID(_ context.Context, id string) (*domain.Envelope, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	envelope, ok := r.store.envelopes[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := envelope
	return &copied, nil
}

func (r *fakeEnvelopeRepo) ListDeliverable(_ context.Context, attemptedBefore time.Time, limit int) ([]domain.Envelope, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var result []domain.Envelope
	for _, id := range r.store.envelopeIDs {
		envelope := r.store.envelopes[id]
		if envelope.Status != domain.EnvelopeStatusPending {
			continue
		}
		if envelope.LastAttemptAt != nil && envelope.LastAttemptAt.After(attemptedBefore) {
			continue
		}
		result = append(result, envelope)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (r *fakeEnvelopeRepo) ListByStatus(_ context.Context, status domain.EnvelopeStatus, _, _ int) ([]domain.Envelope, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var result []domain.Envelope
	for _, id := range r.store.envelopeIDs {
		if envelope := r.store.envelopes[id]; envelope.Status == status {
			result = append(result, envelope)
		}
	}
	return result, nil
}

func (r *fakeEnvelopeRepo) MarkSent(_ context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	envelope, ok := r.store.envelopes[id]
	if !ok || envelope.Status != domain.EnvelopeStatusPending {
		return nil
	}
	now := time.Now()
	envelope.Status = domain.EnvelopeStatusSent
	envelope.Attempts++
	envelope.LastAttemptAt = &now
	r.store.envelopes[id] = envelope
	return nil
}

func (r *fakeEnvelopeRepo) RecordFailure(_ context.Context, id string, maxAttempts int) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	envelope, ok := r.store.envelopes[id]
	if !ok || envelope.Status != domain.EnvelopeStatusPending {
		return nil
	}
	now := time.Now()
	envelope.Attempts++
	envelope.LastAttemptAt = &now
	if envelope.Attempts >= maxAttempts {
		envelope.Status = domain.EnvelopeStatusFailed
	}
	r.store.envelopes[id] = envelope
	return nil
}

func (r *fakeEnvelopeRepo) ResetForRetry(_ context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	envelope, ok := r.store.envelopes[id]
	if !ok || envelope.Status != domain.EnvelopeStatusFailed {
		return pgx.ErrNoRows
	}
	envelope.Status = domain.EnvelopeStatusPending
	envelope.Attempts = 0
	envelope.LastAttemptAt = nil
	r.store.envelopes[id] = envelope
	return nil
}

// --- one-time codes ---

type fakeCodeRepo struct{ store *memStore }

func (r *fakeCodeRepo) WithTx(pgx.Tx) repository.CodeRepository { return r }

func (r *fakeCodeRepo) Create(_ context.Context, code *domain.OneTimeCode) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	code.ID = uuid.NewString()
	code.CreatedAt = time.Now()
	r.store.codes = append(r.store.codes, *code)
	return nil
}

func (r *fakeCodeRepo) GetLatest(_ context.Context, subjectAddress string, purpose domain.CodePurpose) (*domain.OneTimeCode, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for i := len(r.store.codes) - 1; i >= 0; i-- {
		if r.store.codes[i].SubjectAddress == subjectAddress && r.store.codes[i].Purpose == purpose {
			copied := r.store.codes[i]
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *fakeCodeRepo) Supersede(_ context.Context, subjectAddress string, purpose domain.CodePurpose) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	kept := r.store.codes[:0]
	for _, code := range r.store.codes {
		if code.SubjectAddress == subjectAddress && code.Purpose == purpose && code.ConsumedAt == nil {
			continue
		}
		kept = append(kept, code)
	}
	r.store.codes = kept
	return nil
}

func (r *fakeCodeRepo) IncrementAttempts(_ context.Context, id string) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for i := range r.store.codes {
		if r.store.codes[i].ID == id {
			r.store.codes[i].Attempts++
			return r.store.codes[i].Attempts, nil
		}
	}
	return 0, pgx.ErrNoRows
}

func (r *fakeCodeRepo) MarkConsumed(_ context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for i := range r.store.codes {
		if r.store.codes[i].ID == id {
			if r.store.codes[i].ConsumedAt != nil {
				return pgx.ErrNoRows
			}
			now := time.Now()
			r.store.codes[i].ConsumedAt = &now
			return nil
		}
	}
	return pgx.ErrNoRows
}

// --- history ---

type fakeHistoryRepo struct{ store *memStore }

func (r *fakeHistoryRepo) WithTx(pgx.Tx) repository.TicketHistoryRepository { return r }

func (r *fakeHistoryRepo) Create(_ context.Context, history *domain.TicketHistory) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	history.ID = uuid.NewString()
	history.CreatedAt = time.Now()
	r.store.history = append(r.store.history, *history)
	return nil
}

func (r *fakeHistoryRepo) ListByTicket(_ context.Context, ticketID string) ([]domain.TicketHistory, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var result []domain.TicketHistory
	for _, entry := range r.store.history {
		if entry.TicketID == ticketID {
			result = append(result, entry)
		}
	}
	return result, nil
}

// --- transport ---

type sentMessage struct {
	Address string
	Body    string
}

type fakeTransport struct {
	mu        sync.Mutex
	connected bool
	sendErr   error
	sent      []sentMessage
}

func (t *fakeTransport) Send(_ context.Context, address, body string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sendErr != nil {
		return t.sendErr
	}
	t.sent = append(t.sent, sentMessage{Address: address, Body: body})
	return nil
}

func (t *fakeTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *fakeTransport) sentCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

// --- fixture ---

type fixture struct {
	store       *memStore
	transport   *fakeTransport
	dispatcher  events.Dispatcher
	envelopes   *EnvelopeService
	tickets     *TicketService
	assignments *AssignmentService
	codes       *CodeService
}

func newFixture() *fixture {
	store := newMemStore()
	transport := &fakeTransport{}
	dispatcher := events.NewInMemoryDispatcher()
	envelopeService := NewEnvelopeService(&fakeEnvelopeRepo{store: store}, transport, 3, zap.NewNop())

	ticketRepo := &fakeTicketRepo{store: store}
	assignmentRepo := &fakeAssignmentRepo{store: store}
	technicianRepo := &fakeTechnicianRepo{store: store}
	historyRepo := &fakeHistoryRepo{store: store}

	return &fixture{
		store:      store,
		transport:  transport,
		dispatcher: dispatcher,
		envelopes:  envelopeService,
		tickets: NewTicketService(TicketDependencies{
			TicketRepo:     ticketRepo,
			AssignmentRepo: assignmentRepo,
			TechnicianRepo: technicianRepo,
			HistoryRepo:    historyRepo,
			Runner:         fakeRunner{},
			Envelopes:      envelopeService,
			Dispatcher:     dispatcher,
		}),
		assignments: NewAssignmentService(AssignmentDependencies{
			TicketRepo:     ticketRepo,
			AssignmentRepo: assignmentRepo,
			TechnicianRepo: technicianRepo,
			HistoryRepo:    historyRepo,
			Runner:         fakeRunner{},
			Envelopes:      envelopeService,
			Dispatcher:     dispatcher,
			OpsAddress:     "+15550000000",
		}),
		codes: NewCodeService(&fakeCodeRepo{store: store}, fakeRunner{}, envelopeService, config.CodeConfig{
			TTLMinutes:  5,
			MaxAttempts: 3,
			Length:      6,
		}),
	}
}

func (f *fixture) seedStaff(role domain.StaffRole) *domain.StaffMember {
	return &domain.StaffMember{
		ID:     uuid.NewString(),
		Name:   "Office Staff",
		Email:  uuid.NewString() + "@example.com",
		Role:   role,
		Active: true,
	}
}

func (f *fixture) seedTechnician(phone string) *domain.Technician {
	technician := &domain.Technician{
		Name:      "Tech " + phone,
		Phone:     phone,
		Active:    true,
		Available: true,
	}
	_ = (&fakeTechnicianRepo{store: f.store}).Create(context.Background(), technician)
	return technician
}

func (f *fixture) seedTicket(category domain.TicketCategory, status domain.TicketStatus, approval domain.ApprovalState) *domain.Ticket {
	ticket := &domain.Ticket{
		ExternalKey:     "FLD-" + uuid.NewString()[:8],
		Category:        category,
		Status:          status,
		Approval:        approval,
		CustomerName:    "Jordan Customer",
		CustomerAddress: "12 Main St",
		CustomerPhone:   "+15551234567",
		Details:         "fiber drop to the unit",
		CreatedBy:       uuid.NewString(),
	}
	_ = (&fakeTicketRepo{store: f.store}).Create(context.Background(), ticket)
	return ticket
}

func (f *fixture) envelopesByStatus(status domain.EnvelopeStatus) []domain.Envelope {
	result, _ := (&fakeEnvelopeRepo{store: f.store}).ListByStatus(context.Background(), status, 0, 0)
	return result
}
