package handover

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/meridian/internal/roles"
	"github.com/meridianhq/meridian/internal/shared"
	"github.com/meridianhq/meridian/internal/users"
)

// fakeHandoverRepo keeps handovers in memory with the same compare-and-set
// transition semantics as the SQL implementation.
type fakeHandoverRepo struct {
	rows map[uuid.UUID]Handover
}

func newFakeHandoverRepo() *fakeHandoverRepo {
	return &fakeHandoverRepo{rows: make(map[uuid.UUID]Handover)}
}

func (f *fakeHandoverRepo) Get(_ context.Context, id uuid.UUID) (Handover, error) {
	h, ok := f.rows[id]
	if !ok {
		return Handover{}, shared.NotFoundError("handover %s not found", id)
	}
	return h, nil
}

func (f *fakeHandoverRepo) Create(_ context.Context, h Handover) (Handover, error) {
	h.CreatedAt = time.Now()
	f.rows[h.ID] = h
	return h, nil
}

func (f *fakeHandoverRepo) Transition(_ context.Context, id uuid.UUID, from, to Status, acceptedBy *int64, acceptedAt, endedAt *time.Time) (Handover, bool, error) {
	h, ok := f.rows[id]
	if !ok || h.Status != from {
		return Handover{}, false, nil
	}
	h.Status = to
	if acceptedBy != nil {
		h.AcceptedBy = acceptedBy
	}
	if acceptedAt != nil {
		h.AcceptedAt = acceptedAt
	}
	if endedAt != nil {
		h.EndedAt = endedAt
	}
	h.UpdatedAt = time.Now()
	f.rows[id] = h
	return h, true, nil
}

func (f *fakeHandoverRepo) ListForManager(_ context.Context, managerID int64) ([]Handover, error) {
	var out []Handover
	for _, h := range f.rows {
		if h.ManagerID == managerID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (f *fakeHandoverRepo) ListForBackup(_ context.Context, backupID int64) ([]Handover, error) {
	var out []Handover
	for _, h := range f.rows {
		if h.BackupID == backupID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (f *fakeHandoverRepo) HasActiveBetween(_ context.Context, managerID, backupID int64) (bool, error) {
	for _, h := range f.rows {
		if h.ManagerID == managerID && h.BackupID == backupID &&
			(h.Status == StatusPending || h.Status == StatusActive) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeHandoverRepo) VisibleManagerIDs(_ context.Context, userID int64) ([]int64, error) {
	out := []int64{userID}
	for _, h := range f.rows {
		if h.BackupID == userID && h.Status == StatusActive {
			out = append(out, h.ManagerID)
		}
	}
	return out, nil
}

type fakeDirectory struct {
	users map[int64]users.WithRole
}

func (f *fakeDirectory) GetWithRole(_ context.Context, id int64) (users.WithRole, error) {
	u, ok := f.users[id]
	if !ok {
		return users.WithRole{}, shared.NotFoundError("user %d not found", id)
	}
	return u, nil
}

type fakeTimeline struct {
	entries []shared.TimelineEntry
}

func (f *fakeTimeline) Append(_ context.Context, entry shared.TimelineEntry) error {
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeTimeline) actions() []string {
	out := make([]string, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e.Action)
	}
	return out
}

const (
	userManager     = int64(1)
	userBackup      = int64(2)
	userOtherCo     = int64(3)
	userInactiveMgr = int64(4)
	userPlatform    = int64(100)
	userEmployee    = int64(5)
)

func testHandoverService() (*Service, *fakeHandoverRepo, *fakeTimeline) {
	repo := newFakeHandoverRepo()
	companyID, otherCompanyID := int64(7), int64(8)
	managerRole := &roles.Role{ID: 4, Name: "Manager", Priority: 25}
	platformRole := &roles.Role{ID: 1, Name: "Platform Admin", Priority: roles.MinCustomPlatformPriority}
	employeeRole := &roles.Role{ID: 5, Name: "Employee", Priority: 30}
	dir := &fakeDirectory{users: map[int64]users.WithRole{
		userManager:     {User: users.User{ID: userManager, CompanyID: &companyID, IsActive: true}, Role: managerRole},
		userBackup:      {User: users.User{ID: userBackup, CompanyID: &companyID, IsActive: true}, Role: managerRole},
		userOtherCo:     {User: users.User{ID: userOtherCo, CompanyID: &otherCompanyID, IsActive: true}, Role: managerRole},
		userInactiveMgr: {User: users.User{ID: userInactiveMgr, CompanyID: &companyID}, Role: managerRole},
		userPlatform:    {User: users.User{ID: userPlatform, IsActive: true}, Role: platformRole},
		userEmployee:    {User: users.User{ID: userEmployee, CompanyID: &companyID, IsActive: true}, Role: employeeRole},
	}}
	timeline := &fakeTimeline{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(logger, repo, dir, timeline), repo, timeline
}

func TestRequestHandover(t *testing.T) {
	svc, _, timeline := testHandoverService()

	h, err := svc.Request(context.Background(), userManager, userBackup, "Parental leave", userManager)
	require.NoError(t, err)
	require.Equal(t, StatusPending, h.Status)
	require.Equal(t, userManager, h.RequestedBy)
	require.Equal(t, []string{"handover.requested"}, timeline.actions())

	// A second request for the same pair conflicts while one is live.
	_, err = svc.Request(context.Background(), userManager, userBackup, "Again", userManager)
	require.True(t, shared.IsKind(err, shared.KindConflict))
}

func TestRequestHandoverValidation(t *testing.T) {
	svc, _, _ := testHandoverService()

	_, err := svc.Request(context.Background(), userManager, userManager, "", userManager)
	require.True(t, shared.IsKind(err, shared.KindValidation))

	_, err = svc.Request(context.Background(), userManager, userOtherCo, "", userManager)
	require.True(t, shared.IsKind(err, shared.KindValidation), "cross-company pair")

	_, err = svc.Request(context.Background(), userManager, userInactiveMgr, "", userManager)
	require.True(t, shared.IsKind(err, shared.KindValidation), "inactive backup")

	_, err = svc.Request(context.Background(), userManager, int64(999), "", userManager)
	require.True(t, shared.IsKind(err, shared.KindNotFound))
}

func TestAcceptHandover(t *testing.T) {
	svc, _, timeline := testHandoverService()

	h, err := svc.Request(context.Background(), userManager, userBackup, "", userManager)
	require.NoError(t, err)

	// Only the named backup may accept.
	_, err = svc.Accept(context.Background(), h.ID, userManager)
	require.True(t, shared.IsKind(err, shared.KindAuthorization))

	accepted, err := svc.Accept(context.Background(), h.ID, userBackup)
	require.NoError(t, err)
	require.Equal(t, StatusActive, accepted.Status)
	require.NotNil(t, accepted.AcceptedAt)
	require.NotNil(t, accepted.AcceptedBy)
	require.Equal(t, userBackup, *accepted.AcceptedBy)
	require.Equal(t, []string{"handover.requested", "handover.accepted"}, timeline.actions())

	// Accepting twice conflicts: active is not pending.
	_, err = svc.Accept(context.Background(), h.ID, userBackup)
	require.True(t, shared.IsKind(err, shared.KindConflict))
}

func TestRejectHandover(t *testing.T) {
	svc, _, timeline := testHandoverService()

	h, err := svc.Request(context.Background(), userManager, userBackup, "", userManager)
	require.NoError(t, err)

	rejected, err := svc.Reject(context.Background(), h.ID, userBackup)
	require.NoError(t, err)
	require.Equal(t, StatusRejected, rejected.Status)
	require.True(t, rejected.Status.Terminal())
	require.Contains(t, timeline.actions(), "handover.rejected")

	// Rejected is terminal; a fresh request for the pair is allowed again.
	_, err = svc.Request(context.Background(), userManager, userBackup, "", userManager)
	require.NoError(t, err)
}

func TestCompleteAndCancelHandover(t *testing.T) {
	svc, _, _ := testHandoverService()

	h, err := svc.Request(context.Background(), userManager, userBackup, "", userManager)
	require.NoError(t, err)

	// Pending cannot complete; it must be accepted first.
	_, err = svc.Complete(context.Background(), h.ID, userManager)
	require.True(t, shared.IsKind(err, shared.KindConflict))

	_, err = svc.Accept(context.Background(), h.ID, userBackup)
	require.NoError(t, err)

	completed, err := svc.Complete(context.Background(), h.ID, userManager)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, completed.Status)
	require.NotNil(t, completed.EndedAt)

	_, err = svc.Cancel(context.Background(), h.ID, userManager)
	require.True(t, shared.IsKind(err, shared.KindConflict), "completed is terminal")
}

func TestTransitionRace(t *testing.T) {
	svc, repo, _ := testHandoverService()

	h, err := svc.Request(context.Background(), userManager, userBackup, "", userManager)
	require.NoError(t, err)

	// Another actor moved the row between our read and update.
	row := repo.rows[h.ID]
	row.Status = StatusRejected
	repo.rows[h.ID] = row

	_, err = svc.Accept(context.Background(), h.ID, userBackup)
	require.True(t, shared.IsKind(err, shared.KindConflict))

	// The compare-and-set refuses a stale expected status outright.
	_, ok, err := repo.Transition(context.Background(), h.ID, StatusPending, StatusActive, nil, nil, nil)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAdminAssign(t *testing.T) {
	svc, _, timeline := testHandoverService()

	// Only roles at or above the platform tier may assign directly.
	_, err := svc.AdminAssign(context.Background(), userManager, userBackup, "Coverage", userEmployee)
	require.True(t, shared.IsKind(err, shared.KindAuthorization))

	h, err := svc.AdminAssign(context.Background(), userManager, userBackup, "Coverage", userPlatform)
	require.NoError(t, err)
	require.Equal(t, StatusActive, h.Status)
	require.NotNil(t, h.AcceptedAt)
	require.NotNil(t, h.AcceptedBy)
	require.Equal(t, userPlatform, *h.AcceptedBy)
	require.Contains(t, timeline.actions(), "handover.admin_assigned")
}

func TestVisibleManagerIDs(t *testing.T) {
	svc, _, _ := testHandoverService()

	// With no handovers, a user sees only their own tickets.
	ids, err := svc.VisibleManagerIDs(context.Background(), userBackup)
	require.NoError(t, err)
	require.Equal(t, []int64{userBackup}, ids)

	h, err := svc.Request(context.Background(), userManager, userBackup, "", userManager)
	require.NoError(t, err)

	// Pending grants nothing yet.
	ids, err = svc.VisibleManagerIDs(context.Background(), userBackup)
	require.NoError(t, err)
	require.Equal(t, []int64{userBackup}, ids)

	_, err = svc.Accept(context.Background(), h.ID, userBackup)
	require.NoError(t, err)

	ids, err = svc.VisibleManagerIDs(context.Background(), userBackup)
	require.NoError(t, err)
	require.ElementsMatch(t, []int64{userBackup, userManager}, ids)

	// Completion withdraws the visibility.
	_, err = svc.Complete(context.Background(), h.ID, userManager)
	require.NoError(t, err)
	ids, err = svc.VisibleManagerIDs(context.Background(), userBackup)
	require.NoError(t, err)
	require.Equal(t, []int64{userBackup}, ids)
}
