package approval

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/genbaflow/genbaflow/internal/directory"
	"github.com/genbaflow/genbaflow/internal/notify"
	"github.com/genbaflow/genbaflow/internal/periods"
	"github.com/genbaflow/genbaflow/internal/sites"
)

// memRepo is an in-memory Repository whose WithTx serializes transitions and
// restores a snapshot on error, mirroring the row-lock and rollback
// behaviour of the real store.
type memRepo struct {
	mu       sync.Mutex
	invoices map[int64]Invoice
	routes   map[int64]Route
	steps    map[int64]Step
	history  []History
	seq      int64
}

func newMemRepo() *memRepo {
	return &memRepo{
		invoices: map[int64]Invoice{},
		routes:   map[int64]Route{},
		steps:    map[int64]Step{},
	}
}

func (m *memRepo) nextID() int64 {
	m.seq++
	return m.seq
}

func (m *memRepo) addInvoice(inv Invoice) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inv.ID == 0 {
		inv.ID = m.nextID()
	}
	m.invoices[inv.ID] = inv
	return inv.ID
}

type snapshot struct {
	invoices map[int64]Invoice
	routes   map[int64]Route
	steps    map[int64]Step
	history  []History
	seq      int64
}

func (m *memRepo) snapshot() snapshot {
	s := snapshot{
		invoices: make(map[int64]Invoice, len(m.invoices)),
		routes:   make(map[int64]Route, len(m.routes)),
		steps:    make(map[int64]Step, len(m.steps)),
		history:  append([]History(nil), m.history...),
		seq:      m.seq,
	}
	for k, v := range m.invoices {
		s.invoices[k] = v
	}
	for k, v := range m.routes {
		s.routes[k] = v
	}
	for k, v := range m.steps {
		s.steps[k] = v
	}
	return s
}

func (m *memRepo) restore(s snapshot) {
	m.invoices = s.invoices
	m.routes = s.routes
	m.steps = s.steps
	m.history = s.history
	m.seq = s.seq
}

func (m *memRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	before := m.snapshot()
	if err := fn(ctx, &memTx{repo: m}); err != nil {
		m.restore(before)
		return err
	}
	return nil
}

func (m *memRepo) GetInvoice(_ context.Context, id int64) (Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok {
		return Invoice{}, errNotFound("invoice not found")
	}
	return inv, nil
}

func (m *memRepo) ListSteps(_ context.Context, routeID int64) ([]Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var steps []Step
	for _, s := range m.steps {
		if s.RouteID == routeID {
			steps = append(steps, s)
		}
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].StepOrder < steps[j].StepOrder })
	return steps, nil
}

func (m *memRepo) ListHistory(_ context.Context, invoiceID int64) ([]History, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var entries []History
	for _, h := range m.history {
		if h.InvoiceID == invoiceID {
			entries = append(entries, h)
		}
	}
	return entries, nil
}

type memTx struct {
	repo *memRepo
}

func (t *memTx) GetInvoiceForUpdate(_ context.Context, id int64) (Invoice, error) {
	inv, ok := t.repo.invoices[id]
	if !ok {
		return Invoice{}, errNotFound("invoice not found")
	}
	return inv, nil
}

func (t *memTx) CreateRoute(_ context.Context, route Route) (int64, error) {
	route.ID = t.repo.nextID()
	route.CreatedAt = time.Now()
	t.repo.routes[route.ID] = route
	return route.ID, nil
}

func (t *memTx) InsertStep(_ context.Context, step Step) (int64, error) {
	step.ID = t.repo.nextID()
	t.repo.steps[step.ID] = step
	return step.ID, nil
}

func (t *memTx) GetStep(_ context.Context, stepID int64) (Step, error) {
	s, ok := t.repo.steps[stepID]
	if !ok {
		return Step{}, errNotFound("approval step %d not found", stepID)
	}
	return s, nil
}

func (t *memTx) GetStepByOrder(_ context.Context, routeID int64, order int) (*Step, error) {
	for _, s := range t.repo.steps {
		if s.RouteID == routeID && s.StepOrder == order {
			found := s
			return &found, nil
		}
	}
	return nil, nil
}

func (t *memTx) FindStepByPosition(_ context.Context, routeID int64, position directory.Position) (*Step, error) {
	var best *Step
	for _, s := range t.repo.steps {
		if s.RouteID == routeID && s.Position == position {
			if best == nil || s.StepOrder < best.StepOrder {
				found := s
				best = &found
			}
		}
	}
	return best, nil
}

func (t *memTx) HasApprovedBefore(_ context.Context, invoiceID, actorID int64) (bool, error) {
	for _, h := range t.repo.history {
		if h.InvoiceID == invoiceID && h.ActorID == actorID && h.Action == HistoryApproved {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) UpdateInvoiceState(_ context.Context, upd StateUpdate) error {
	inv, ok := t.repo.invoices[upd.InvoiceID]
	if !ok {
		return errNotFound("invoice not found")
	}
	if inv.Status != upd.FromStatus {
		return ErrStaleInvoice
	}
	inv.Status = upd.Status
	inv.RouteID = upd.RouteID
	inv.CurrentStepID = upd.StepID
	inv.CurrentApproverID = upd.ApproverID
	if upd.CorrectionDeadline != nil {
		inv.CorrectionDeadline = *upd.CorrectionDeadline
	}
	inv.ViaBypass = upd.ViaBypass
	inv.UpdatedAt = time.Now()
	t.repo.invoices[upd.InvoiceID] = inv
	return nil
}

func (t *memTx) AppendHistory(_ context.Context, h History) error {
	h.ID = t.repo.nextID()
	h.At = time.Now()
	t.repo.history = append(t.repo.history, h)
	return nil
}

type stubDirectory struct {
	users   map[int64]directory.User
	holders map[directory.Position]int64
}

func (d *stubDirectory) GetUser(_ context.Context, id int64) (directory.User, error) {
	u, ok := d.users[id]
	if !ok {
		return directory.User{}, directory.ErrUserNotFound
	}
	return u, nil
}

func (d *stubDirectory) FindApprover(_ context.Context, position directory.Position, _ int64) (*directory.User, error) {
	id, ok := d.holders[position]
	if !ok {
		return nil, nil
	}
	u := d.users[id]
	return &u, nil
}

type stubSites struct {
	site      sites.ConstructionSite
	password  string
	verifyErr error
	budget    sites.BudgetStatus
}

func (s *stubSites) GetSite(_ context.Context, id int64) (sites.ConstructionSite, error) {
	if id != s.site.ID {
		return sites.ConstructionSite{}, sites.ErrSiteNotFound
	}
	return s.site, nil
}

func (s *stubSites) VerifyBypassPassword(_ sites.ConstructionSite, password string) error {
	if s.verifyErr != nil {
		return s.verifyErr
	}
	if s.password == "" || password != s.password {
		return sites.ErrBypassPasswordMismatch
	}
	return nil
}

func (s *stubSites) BudgetStatus(_ context.Context, _ int64) (sites.BudgetStatus, error) {
	return s.budget, nil
}

type stubPeriods struct {
	err error
}

func (p *stubPeriods) CheckSubmission(_ context.Context, _ int64, _ time.Time) error {
	return p.err
}

type stubNotifier struct {
	mu   sync.Mutex
	reqs []notify.Request
}

func (n *stubNotifier) Notify(_ context.Context, req notify.Request) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reqs = append(n.reqs, req)
}

func (n *stubNotifier) recipients() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.reqs))
	for i, r := range n.reqs {
		out[i] = r.Recipient
	}
	return out
}

// Actor ids used throughout the fixtures.
const (
	supervisorID = int64(10)
	deptMgrID    = int64(11)
	smdID        = int64(12)
	presidentID  = int64(13)
	mdID         = int64(14)
	accountantID = int64(15)
	submitterID  = int64(20)
	adminID      = int64(99)
)

type fixture struct {
	repo     *memRepo
	dir      *stubDirectory
	sites    *stubSites
	periods  *stubPeriods
	notifier *stubNotifier
	svc      *Service
}

func internalUser(id int64, name string, pos directory.Position) directory.User {
	return directory.User{ID: id, Name: name, Email: name + "@genba.example", UserType: directory.UserTypeInternal, Position: pos, CompanyID: 1, IsActive: true}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	supID := supervisorID
	dir := &stubDirectory{
		users: map[int64]directory.User{
			supervisorID: internalUser(supervisorID, "sup", directory.PositionSiteSupervisor),
			deptMgrID:    internalUser(deptMgrID, "dept", directory.PositionDepartmentManager),
			smdID:        internalUser(smdID, "smd", directory.PositionSeniorManagingDirector),
			presidentID:  internalUser(presidentID, "pres", directory.PositionPresident),
			mdID:         internalUser(mdID, "md", directory.PositionManagingDirector),
			accountantID: internalUser(accountantID, "acct", directory.PositionAccountant),
			adminID:      internalUser(adminID, "admin", directory.PositionSuperAdmin),
			submitterID: {
				ID: submitterID, Name: "partner", Email: "partner@sub.example",
				UserType: directory.UserTypePartner, Position: directory.PositionStaff,
				CompanyID: 2, IsActive: true,
			},
		},
		holders: map[directory.Position]int64{
			directory.PositionSiteSupervisor:         supervisorID,
			directory.PositionDepartmentManager:      deptMgrID,
			directory.PositionSeniorManagingDirector: smdID,
			directory.PositionPresident:              presidentID,
			directory.PositionManagingDirector:       mdID,
			directory.PositionAccountant:             accountantID,
		},
	}
	f := &fixture{
		repo: newMemRepo(),
		dir:  dir,
		sites: &stubSites{site: sites.ConstructionSite{
			ID: 1, Name: "Minato tower", CompanyID: 1, SupervisorID: &supID, Budget: 10_000_000,
		}},
		periods:  &stubPeriods{},
		notifier: &stubNotifier{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = NewService(f.repo, f.dir, f.sites, f.periods, f.notifier, logger)
	return f
}

func (f *fixture) draftInvoice() int64 {
	return f.repo.addInvoice(Invoice{
		Number:      "INV-0001",
		TotalAmount: 100_000,
		Status:      StatusDraft,
		SubmitterID: submitterID,
		CompanyID:   1,
		SiteID:      1,
		ReceivedAt:  time.Now(),
	})
}

// submitAndOpen drives an invoice to pending_approval at the first step.
func (f *fixture) submitAndOpen(t *testing.T, id int64) Invoice {
	t.Helper()
	ctx := context.Background()
	_, err := f.svc.Submit(ctx, id, submitterID, "")
	require.NoError(t, err)
	inv, err := f.svc.OpenForApproval(ctx, id, deptMgrID)
	require.NoError(t, err)
	return inv
}

func TestSubmitBuildsRouteAndHolds(t *testing.T) {
	f := newFixture(t)
	id := f.draftInvoice()

	inv, err := f.svc.Submit(context.Background(), id, submitterID, "")
	require.NoError(t, err)
	require.Equal(t, StatusSubmitted, inv.Status)
	require.NotNil(t, inv.RouteID)
	require.Nil(t, inv.CurrentStepID)
	require.Nil(t, inv.CurrentApproverID)
	require.False(t, inv.ViaBypass)

	steps, err := f.repo.ListSteps(context.Background(), *inv.RouteID)
	require.NoError(t, err)
	require.Len(t, steps, ChainLength)
	wantPositions := []directory.Position{
		directory.PositionSiteSupervisor,
		directory.PositionDepartmentManager,
		directory.PositionSeniorManagingDirector,
		directory.PositionPresident,
		directory.PositionManagingDirector,
		directory.PositionAccountant,
	}
	for i, step := range steps {
		require.Equal(t, i+1, step.StepOrder)
		require.Equal(t, wantPositions[i], step.Position)
	}
	require.True(t, steps[0].Pinned(), "supervisor step must be pinned")
	require.Equal(t, supervisorID, *steps[0].ApproverUserID)
	require.False(t, steps[5].Pinned(), "accounting step stays unpinned")

	history, err := f.repo.ListHistory(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, HistorySubmitted, history[0].Action)
}

func TestSubmitSetsCorrectionDeadline(t *testing.T) {
	f := newFixture(t)
	id := f.draftInvoice()
	ctx := context.Background()
	before, err := f.repo.GetInvoice(ctx, id)
	require.NoError(t, err)
	require.True(t, before.CorrectionDeadline.IsZero())

	inv, err := f.svc.Submit(ctx, id, submitterID, "")
	require.NoError(t, err)
	require.True(t, inv.CorrectionDeadline.Equal(before.ReceivedAt.Add(48*time.Hour)))
}

func TestSubmitForeignPartnerDenied(t *testing.T) {
	f := newFixture(t)
	const outsiderID = int64(21)
	f.dir.users[outsiderID] = directory.User{
		ID: outsiderID, Name: "outsider", Email: "outsider@other.example",
		UserType: directory.UserTypePartner, Position: directory.PositionStaff,
		CompanyID: 3, IsActive: true,
	}
	id := f.draftInvoice()
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, id, outsiderID, "")
	require.True(t, IsKind(err, KindPermissionDenied))

	inv, err := f.repo.GetInvoice(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, inv.Status, "denied submission leaves the draft untouched")
}

func TestSubmitRouteShapeIsDeterministic(t *testing.T) {
	f := newFixture(t)
	first := f.draftInvoice()
	second := f.draftInvoice()
	ctx := context.Background()

	a, err := f.svc.Submit(ctx, first, submitterID, "")
	require.NoError(t, err)
	b, err := f.svc.Submit(ctx, second, submitterID, "")
	require.NoError(t, err)

	stepsA, _ := f.repo.ListSteps(ctx, *a.RouteID)
	stepsB, _ := f.repo.ListSteps(ctx, *b.RouteID)
	require.Len(t, stepsB, len(stepsA))
	for i := range stepsA {
		require.Equal(t, stepsA[i].Position, stepsB[i].Position)
		require.Equal(t, stepsA[i].StepOrder, stepsB[i].StepOrder)
	}
	require.NotEqual(t, *a.RouteID, *b.RouteID, "routes are never shared")
}

func TestSubmitOutsideWindowNeedsBypass(t *testing.T) {
	f := newFixture(t)
	f.periods.err = periods.ErrOutsideWindow
	f.sites.password = "genba-pass"
	id := f.draftInvoice()
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, id, submitterID, "")
	e, ok := AsError(err)
	require.True(t, ok)
	require.Equal(t, KindValidation, e.Kind)
	require.Equal(t, CodeOutsideSubmissionPeriod, e.Code)

	inv, err := f.svc.Submit(ctx, id, submitterID, "genba-pass")
	require.NoError(t, err)
	require.Equal(t, StatusPendingApproval, inv.Status)
	require.True(t, inv.ViaBypass)
	require.NotNil(t, inv.CurrentStepID)
	require.NotNil(t, inv.CurrentApproverID)
	require.Equal(t, supervisorID, *inv.CurrentApproverID)
}

func TestSubmitWrongBypassPassword(t *testing.T) {
	f := newFixture(t)
	f.sites.password = "genba-pass"
	id := f.draftInvoice()

	_, err := f.svc.Submit(context.Background(), id, submitterID, "wrong")
	e, ok := AsError(err)
	require.True(t, ok)
	require.Equal(t, CodeInvalidBypassPassword, e.Code)
}

func TestSubmitExpiredBypass(t *testing.T) {
	f := newFixture(t)
	f.sites.verifyErr = sites.ErrBypassExpired
	id := f.draftInvoice()

	_, err := f.svc.Submit(context.Background(), id, submitterID, "genba-pass")
	e, ok := AsError(err)
	require.True(t, ok)
	require.Equal(t, CodeBypassExpired, e.Code)
}

func TestSuperAdminBypassesUnconditionally(t *testing.T) {
	f := newFixture(t)
	f.periods.err = periods.ErrPeriodClosed
	id := f.draftInvoice()

	inv, err := f.svc.Submit(context.Background(), id, adminID, "")
	require.NoError(t, err)
	require.Equal(t, StatusPendingApproval, inv.Status)
	require.True(t, inv.ViaBypass)
}

func TestSubmitBlockedBySiteFlags(t *testing.T) {
	f := newFixture(t)
	f.sites.site.IsCutoff = true
	id := f.draftInvoice()

	_, err := f.svc.Submit(context.Background(), id, submitterID, "")
	e, ok := AsError(err)
	require.True(t, ok)
	require.Equal(t, CodeSiteCutoff, e.Code)

	f.sites.site.IsCutoff = false
	f.sites.site.IsCompleted = true
	_, err = f.svc.Submit(context.Background(), id, submitterID, "")
	e, ok = AsError(err)
	require.True(t, ok)
	require.Equal(t, CodeSiteCompleted, e.Code)
}

func TestSubmitBlockedWithoutSupervisor(t *testing.T) {
	f := newFixture(t)
	f.sites.site.SupervisorID = nil
	id := f.draftInvoice()

	_, err := f.svc.Submit(context.Background(), id, submitterID, "")
	e, ok := AsError(err)
	require.True(t, ok)
	require.Equal(t, CodeSupervisorMissing, e.Code)
}

func TestSubmitRejectsWrongStatus(t *testing.T) {
	f := newFixture(t)
	id := f.draftInvoice()
	ctx := context.Background()
	_, err := f.svc.Submit(ctx, id, submitterID, "")
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, id, submitterID, "")
	require.True(t, IsKind(err, KindInvalidState))
}

func TestResubmitAfterRejection(t *testing.T) {
	f := newFixture(t)
	id := f.draftInvoice()
	ctx := context.Background()
	f.submitAndOpen(t, id)
	_, err := f.svc.Reject(ctx, id, supervisorID, "amount mismatch")
	require.NoError(t, err)

	inv, err := f.svc.Submit(ctx, id, submitterID, "")
	require.NoError(t, err)
	require.Equal(t, StatusSubmitted, inv.Status)
}

func TestOpenForApproval(t *testing.T) {
	f := newFixture(t)
	id := f.draftInvoice()
	ctx := context.Background()
	_, err := f.svc.Submit(ctx, id, submitterID, "")
	require.NoError(t, err)

	_, err = f.svc.OpenForApproval(ctx, id, submitterID)
	require.True(t, IsKind(err, KindPermissionDenied), "partners cannot batch-open")

	inv, err := f.svc.OpenForApproval(ctx, id, deptMgrID)
	require.NoError(t, err)
	require.Equal(t, StatusPendingApproval, inv.Status)
	require.NotNil(t, inv.CurrentStepID)
	require.Equal(t, supervisorID, *inv.CurrentApproverID)
}

func TestFullChainApproval(t *testing.T) {
	f := newFixture(t)
	id := f.draftInvoice()
	ctx := context.Background()
	f.submitAndOpen(t, id)

	chain := []int64{supervisorID, deptMgrID, smdID, presidentID, mdID, accountantID}
	for i, actor := range chain {
		inv, err := f.svc.Approve(ctx, id, actor, "")
		require.NoError(t, err, "approval %d by actor %d", i+1, actor)
		if i < len(chain)-1 {
			require.Equal(t, StatusPendingApproval, inv.Status)
			require.NotNil(t, inv.CurrentStepID, "step and approver move together")
			require.NotNil(t, inv.CurrentApproverID)
			require.Equal(t, chain[i+1], *inv.CurrentApproverID)
		} else {
			require.Equal(t, StatusApproved, inv.Status)
			require.Nil(t, inv.CurrentStepID)
			require.Nil(t, inv.CurrentApproverID)
		}
	}

	history, err := f.repo.ListHistory(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 1+ChainLength)
	require.Contains(t, f.notifier.recipients(), "partner@sub.example")
}

func TestApproveRejectsWrongStatus(t *testing.T) {
	f := newFixture(t)
	id := f.draftInvoice()

	_, err := f.svc.Approve(context.Background(), id, supervisorID, "")
	require.True(t, IsKind(err, KindInvalidState))
}

func TestDuplicateApprovalRejected(t *testing.T) {
	f := newFixture(t)
	id := f.draftInvoice()
	ctx := context.Background()
	f.submitAndOpen(t, id)

	_, err := f.svc.Approve(ctx, id, supervisorID, "")
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, id, supervisorID, "")
	require.True(t, IsKind(err, KindDuplicateApproval))
}

func TestAccountantCannotApproveEarly(t *testing.T) {
	f := newFixture(t)
	id := f.draftInvoice()
	ctx := context.Background()
	f.submitAndOpen(t, id)

	_, err := f.svc.Approve(ctx, id, accountantID, "")
	require.True(t, IsKind(err, KindPermissionDenied))

	inv, err := f.repo.GetInvoice(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StatusPendingApproval, inv.Status)
	require.Equal(t, supervisorID, *inv.CurrentApproverID)
}

func TestIneligibleActorCannotApprove(t *testing.T) {
	f := newFixture(t)
	id := f.draftInvoice()
	ctx := context.Background()
	f.submitAndOpen(t, id)

	_, err := f.svc.Approve(ctx, id, presidentID, "")
	require.True(t, IsKind(err, KindPermissionDenied))
}

func TestNoApproverAbortsWholeTransition(t *testing.T) {
	f := newFixture(t)
	// Nobody holds managing_director at submit time, so step 5 is created
	// unpinned and resolution defers to advance-time, where it fails.
	delete(f.dir.holders, directory.PositionManagingDirector)
	id := f.draftInvoice()
	ctx := context.Background()
	f.submitAndOpen(t, id)

	for _, actor := range []int64{supervisorID, deptMgrID, smdID} {
		_, err := f.svc.Approve(ctx, id, actor, "")
		require.NoError(t, err)
	}
	before, _ := f.repo.ListHistory(ctx, id)

	_, err := f.svc.Approve(ctx, id, presidentID, "")
	require.True(t, IsKind(err, KindNoApprover))

	// State unchanged, including the would-be history row.
	inv, err := f.repo.GetInvoice(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StatusPendingApproval, inv.Status)
	require.Equal(t, presidentID, *inv.CurrentApproverID)
	after, _ := f.repo.ListHistory(ctx, id)
	require.Len(t, after, len(before))

	// Fixing the roster lets the same transition succeed.
	f.dir.holders[directory.PositionManagingDirector] = mdID
	inv, err = f.svc.Approve(ctx, id, presidentID, "")
	require.NoError(t, err)
	require.Equal(t, mdID, *inv.CurrentApproverID)
}

func TestApproveRecoversStepFromApprover(t *testing.T) {
	f := newFixture(t)
	id := f.draftInvoice()
	ctx := context.Background()
	f.submitAndOpen(t, id)

	// Simulate historical drift: approver set, step reference lost.
	f.repo.mu.Lock()
	drifted := f.repo.invoices[id]
	drifted.CurrentStepID = nil
	f.repo.invoices[id] = drifted
	f.repo.mu.Unlock()

	got, err := f.svc.Approve(ctx, id, supervisorID, "")
	require.NoError(t, err)
	require.Equal(t, StatusPendingApproval, got.Status)
	require.Equal(t, deptMgrID, *got.CurrentApproverID)
}

func TestRejectOnlyByCurrentApprover(t *testing.T) {
	f := newFixture(t)
	id := f.draftInvoice()
	ctx := context.Background()
	f.submitAndOpen(t, id)

	_, err := f.svc.Reject(ctx, id, deptMgrID, "not mine yet")
	require.True(t, IsKind(err, KindPermissionDenied))
	inv, _ := f.repo.GetInvoice(ctx, id)
	require.Equal(t, StatusPendingApproval, inv.Status)

	inv, err = f.svc.Reject(ctx, id, supervisorID, "amount mismatch")
	require.NoError(t, err)
	require.Equal(t, StatusRejected, inv.Status)
	require.Nil(t, inv.CurrentStepID)
	require.Nil(t, inv.CurrentApproverID)
}

func TestReturnRequiresComment(t *testing.T) {
	f := newFixture(t)
	id := f.draftInvoice()
	ctx := context.Background()
	f.submitAndOpen(t, id)

	_, err := f.svc.Return(ctx, id, supervisorID, "")
	e, ok := AsError(err)
	require.True(t, ok)
	require.Equal(t, CodeCommentRequired, e.Code)

	inv, err := f.svc.Return(ctx, id, supervisorID, "fix the tax line")
	require.NoError(t, err)
	require.Equal(t, StatusReturned, inv.Status)
	require.Contains(t, f.notifier.recipients(), "partner@sub.example")
}

func TestAcknowledgeReentersAtAccounting(t *testing.T) {
	f := newFixture(t)
	id := f.draftInvoice()
	ctx := context.Background()
	f.submitAndOpen(t, id)
	_, err := f.svc.Return(ctx, id, supervisorID, "fix the tax line")
	require.NoError(t, err)

	_, err = f.svc.Acknowledge(ctx, id, deptMgrID)
	require.True(t, IsKind(err, KindPermissionDenied), "internal staff cannot acknowledge")

	inv, err := f.svc.Acknowledge(ctx, id, submitterID)
	require.NoError(t, err)
	require.Equal(t, StatusPendingApproval, inv.Status)
	require.Equal(t, accountantID, *inv.CurrentApproverID)

	step, err := (&memTx{repo: f.repo}).GetStep(ctx, *inv.CurrentStepID)
	require.NoError(t, err)
	require.Equal(t, directory.PositionAccountant, step.Position)
}

func TestAcknowledgeWrongStatus(t *testing.T) {
	f := newFixture(t)
	id := f.draftInvoice()

	_, err := f.svc.Acknowledge(context.Background(), id, submitterID)
	require.True(t, IsKind(err, KindInvalidState))
}

func TestBulkApprovePartialFailure(t *testing.T) {
	f := newFixture(t)
	ready := f.draftInvoice()
	stuck := f.draftInvoice()
	ctx := context.Background()
	f.submitAndOpen(t, ready)

	results := f.svc.BulkApprove(ctx, []int64{ready, stuck}, supervisorID, "")
	require.Len(t, results, 2)
	require.True(t, results[0].OK)
	require.False(t, results[1].OK)
	require.Equal(t, KindInvalidState, results[1].Kind)

	// The failed item did not unwind the committed one.
	inv, _ := f.repo.GetInvoice(ctx, ready)
	require.Equal(t, deptMgrID, *inv.CurrentApproverID)
}

func TestBatchRejectReportsPerItem(t *testing.T) {
	f := newFixture(t)
	mine := f.draftInvoice()
	other := f.draftInvoice()
	ctx := context.Background()
	f.submitAndOpen(t, mine)
	f.submitAndOpen(t, other)
	_, err := f.svc.Approve(ctx, other, supervisorID, "")
	require.NoError(t, err)

	// supervisor is current approver of mine, dept manager holds other
	results := f.svc.BatchReject(ctx, []int64{mine, other}, supervisorID, "duplicate billing")
	require.Len(t, results, 2)
	require.True(t, results[0].OK)
	require.False(t, results[1].OK)
	require.Equal(t, KindPermissionDenied, results[1].Kind)
}

func TestConcurrentApproveSingleWinner(t *testing.T) {
	f := newFixture(t)
	id := f.draftInvoice()
	ctx := context.Background()
	f.submitAndOpen(t, id)

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Approve(ctx, id, supervisorID, "")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var okCount, failCount int
	for err := range errs {
		if err == nil {
			okCount++
			continue
		}
		failCount++
		require.True(t, IsKind(err, KindDuplicateApproval) || IsKind(err, KindInvalidState),
			"unexpected failure kind: %v", err)
	}
	require.Equal(t, 1, okCount)
	require.Equal(t, 1, failCount)

	inv, _ := f.repo.GetInvoice(ctx, id)
	require.Equal(t, deptMgrID, *inv.CurrentApproverID, "step advanced exactly once")
}

func TestBudgetAlertOnCompletion(t *testing.T) {
	f := newFixture(t)
	f.sites.budget = sites.BudgetStatus{SiteID: 1, Budget: 10_000_000, ApprovedTotal: 9_000_000, Level: sites.BudgetAlertWarning}
	id := f.draftInvoice()
	ctx := context.Background()
	f.submitAndOpen(t, id)

	for _, actor := range []int64{supervisorID, deptMgrID, smdID, presidentID, mdID, accountantID} {
		_, err := f.svc.Approve(ctx, id, actor, "")
		require.NoError(t, err)
	}
	require.Contains(t, f.notifier.recipients(), "sup@genba.example")
}

func TestGetInvoiceDetail(t *testing.T) {
	f := newFixture(t)
	id := f.draftInvoice()
	ctx := context.Background()
	f.submitAndOpen(t, id)

	detail, err := f.svc.GetInvoiceDetail(ctx, id)
	require.NoError(t, err)
	require.Equal(t, id, detail.Invoice.ID)
	require.Len(t, detail.Steps, ChainLength)
	require.Len(t, detail.History, 1)

	_, err = f.svc.GetInvoiceDetail(ctx, 9999)
	require.True(t, IsKind(err, KindNotFound))
}
