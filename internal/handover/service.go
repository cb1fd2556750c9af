package handover

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meridianhq/meridian/internal/roles"
	"github.com/meridianhq/meridian/internal/shared"
	"github.com/meridianhq/meridian/internal/users"
)

// RepositoryPort defines data access methods for handovers.
type RepositoryPort interface {
	Get(ctx context.Context, id uuid.UUID) (Handover, error)
	Create(ctx context.Context, h Handover) (Handover, error)
	Transition(ctx context.Context, id uuid.UUID, from, to Status, acceptedBy *int64, acceptedAt, endedAt *time.Time) (Handover, bool, error)
	ListForManager(ctx context.Context, managerID int64) ([]Handover, error)
	ListForBackup(ctx context.Context, backupID int64) ([]Handover, error)
	HasActiveBetween(ctx context.Context, managerID, backupID int64) (bool, error)
	VisibleManagerIDs(ctx context.Context, userID int64) ([]int64, error)
}

// UserDirectory resolves users with their roles.
type UserDirectory interface {
	GetWithRole(ctx context.Context, id int64) (users.WithRole, error)
}

// Timeline appends immutable audit entries.
type Timeline interface {
	Append(ctx context.Context, entry shared.TimelineEntry) error
}

// Service drives the handover state machine. Every transition writes a
// timeline entry.
type Service struct {
	logger   *slog.Logger
	repo     RepositoryPort
	users    UserDirectory
	timeline Timeline
	now      func() time.Time
}

// NewService builds a Service instance.
func NewService(logger *slog.Logger, repo RepositoryPort, dir UserDirectory, timeline Timeline) *Service {
	return &Service{logger: logger, repo: repo, users: dir, timeline: timeline, now: time.Now}
}

// Request creates a pending handover from manager to backup.
func (s *Service) Request(ctx context.Context, managerID, backupID int64, reason string, requestedBy int64) (Handover, error) {
	if err := s.validatePair(ctx, managerID, backupID); err != nil {
		return Handover{}, err
	}
	exists, err := s.repo.HasActiveBetween(ctx, managerID, backupID)
	if err != nil {
		return Handover{}, err
	}
	if exists {
		return Handover{}, shared.ConflictError("a handover between these managers is already pending or active")
	}

	h, err := s.repo.Create(ctx, Handover{
		ID:          uuid.New(),
		ManagerID:   managerID,
		BackupID:    backupID,
		Status:      StatusPending,
		Reason:      reason,
		RequestedBy: requestedBy,
	})
	if err != nil {
		return Handover{}, err
	}
	s.record(ctx, requestedBy, "handover.requested", h, nil)
	return h, nil
}

// Accept moves a pending handover to active. Only the named backup manager
// may accept.
func (s *Service) Accept(ctx context.Context, id uuid.UUID, actorID int64) (Handover, error) {
	h, err := s.repo.Get(ctx, id)
	if err != nil {
		return Handover{}, err
	}
	if h.BackupID != actorID {
		return Handover{}, shared.AuthorizationError("only the backup manager may accept a handover")
	}
	now := s.now()
	return s.transition(ctx, h, StatusActive, actorID, &actorID, &now, nil, "handover.accepted")
}

// Reject moves a pending handover to rejected. Only the named backup
// manager may reject.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, actorID int64) (Handover, error) {
	h, err := s.repo.Get(ctx, id)
	if err != nil {
		return Handover{}, err
	}
	if h.BackupID != actorID {
		return Handover{}, shared.AuthorizationError("only the backup manager may reject a handover")
	}
	return s.transition(ctx, h, StatusRejected, actorID, nil, nil, nil, "handover.rejected")
}

// Complete ends an active handover normally.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, actorID int64) (Handover, error) {
	h, err := s.repo.Get(ctx, id)
	if err != nil {
		return Handover{}, err
	}
	now := s.now()
	return s.transition(ctx, h, StatusCompleted, actorID, nil, nil, &now, "handover.completed")
}

// Cancel aborts an active handover.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actorID int64) (Handover, error) {
	h, err := s.repo.Get(ctx, id)
	if err != nil {
		return Handover{}, err
	}
	now := s.now()
	return s.transition(ctx, h, StatusCancelled, actorID, nil, nil, &now, "handover.cancelled")
}

// AdminAssign creates a handover directly in the active state, bypassing
// the request/accept exchange. Restricted to administrative roles.
func (s *Service) AdminAssign(ctx context.Context, managerID, backupID int64, reason string, actorID int64) (Handover, error) {
	actor, err := s.users.GetWithRole(ctx, actorID)
	if err != nil {
		return Handover{}, err
	}
	if actor.Role == nil || actor.Role.Priority > roles.MinCustomPlatformPriority {
		return Handover{}, shared.AuthorizationError("only administrative roles may assign handovers directly")
	}
	if err := s.validatePair(ctx, managerID, backupID); err != nil {
		return Handover{}, err
	}
	exists, err := s.repo.HasActiveBetween(ctx, managerID, backupID)
	if err != nil {
		return Handover{}, err
	}
	if exists {
		return Handover{}, shared.ConflictError("a handover between these managers is already pending or active")
	}

	now := s.now()
	h, err := s.repo.Create(ctx, Handover{
		ID:          uuid.New(),
		ManagerID:   managerID,
		BackupID:    backupID,
		Status:      StatusActive,
		Reason:      reason,
		RequestedBy: actorID,
		AcceptedAt:  &now,
		AcceptedBy:  &actorID,
	})
	if err != nil {
		return Handover{}, err
	}
	s.record(ctx, actorID, "handover.admin_assigned", h, nil)
	return h, nil
}

// Get returns the handover by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Handover, error) {
	return s.repo.Get(ctx, id)
}

// ListForManager returns handovers where the user is the original manager.
func (s *Service) ListForManager(ctx context.Context, managerID int64) ([]Handover, error) {
	return s.repo.ListForManager(ctx, managerID)
}

// ListForBackup returns handovers where the user is the backup manager.
func (s *Service) ListForBackup(ctx context.Context, backupID int64) ([]Handover, error) {
	return s.repo.ListForBackup(ctx, backupID)
}

// VisibleManagerIDs returns the manager ids whose tickets the user may read.
func (s *Service) VisibleManagerIDs(ctx context.Context, userID int64) ([]int64, error) {
	return s.repo.VisibleManagerIDs(ctx, userID)
}

func (s *Service) transition(ctx context.Context, h Handover, to Status, actorID int64, acceptedBy *int64, acceptedAt, endedAt *time.Time, action string) (Handover, error) {
	if !h.Status.CanTransitionTo(to) {
		return Handover{}, shared.ConflictError("handover is %s and cannot become %s", h.Status, to)
	}
	updated, ok, err := s.repo.Transition(ctx, h.ID, h.Status, to, acceptedBy, acceptedAt, endedAt)
	if err != nil {
		return Handover{}, err
	}
	if !ok {
		// The row changed between read and update; the expected status no
		// longer holds.
		return Handover{}, shared.ConflictError("handover is no longer %s", h.Status)
	}
	s.record(ctx, actorID, action, updated, map[string]any{"from": string(h.Status), "to": string(to)})
	return updated, nil
}

func (s *Service) validatePair(ctx context.Context, managerID, backupID int64) error {
	if managerID == backupID {
		return shared.ValidationError("manager and backup must differ")
	}
	manager, err := s.users.GetWithRole(ctx, managerID)
	if err != nil {
		return err
	}
	backup, err := s.users.GetWithRole(ctx, backupID)
	if err != nil {
		return err
	}
	if !manager.IsActive || !backup.IsActive {
		return shared.ValidationError("both managers must be active accounts")
	}
	if manager.CompanyID == nil || backup.CompanyID == nil || *manager.CompanyID != *backup.CompanyID {
		return shared.ValidationError("handovers require two managers of the same company")
	}
	return nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, h Handover, meta map[string]any) {
	err := s.timeline.Append(ctx, shared.TimelineEntry{
		ActorID: actorID,
		Action:  action,
		Entity:  "handover",
		RefID:   h.ID,
		Meta:    meta,
	})
	if err != nil {
		s.logger.Error("timeline append", slog.String("action", action), slog.Any("error", err))
	}
}
