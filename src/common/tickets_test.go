package common

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"arts/src/config"
	"arts/src/lib"
	"arts/src/models"
	"arts/src/types"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu      sync.Mutex
	tickets map[string]models.Ticket
	lists   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{tickets: map[string]models.Ticket{}}
}

func (s *fakeStore) Insert(ctx context.Context, ticket *models.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tickets[ticket.ID]; ok {
		return ErrStorage
	}
	s.tickets[ticket.ID] = *ticket
	return nil
}

func (s *fakeStore) Get(ctx context.Context, id string) (*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := t
	return &out, nil
}

func (s *fakeStore) UpdateStatusIf(ctx context.Context, id string, expected, next types.TicketStatus, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok || t.Status != expected {
		return false, nil
	}
	t.Status = next
	t.LastTransitionAt = at
	s.tickets[id] = t
	return true, nil
}

func (s *fakeStore) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tickets[id]; !ok {
		return false, nil
	}
	delete(s.tickets, id)
	return true, nil
}

func (s *fakeStore) ListByStatusOlderThan(ctx context.Context, status types.TicketStatus, cutoff time.Time, limit int) ([]models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists++
	var out []models.Ticket
	for _, t := range s.tickets {
		if t.Status == status && t.LastTransitionAt.Before(cutoff) {
			out = append(out, t)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *fakeStore) Transaction(ctx context.Context, fn func(TicketStore) error) error {
	s.mu.Lock()
	snapshot := make(map[string]models.Ticket, len(s.tickets))
	for k, v := range s.tickets {
		snapshot[k] = v
	}
	s.mu.Unlock()
	if err := fn(s); err != nil {
		s.mu.Lock()
		s.tickets = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *fakeStore) status(id string) types.TicketStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tickets[id].Status
}

type fakeStaged struct {
	intake *fakeIntake
	data   types.JSONB
}

func (p *fakeStaged) Data() types.JSONB { return p.data }
func (p *fakeStaged) Commit(ctx context.Context) error {
	if p.intake.commitErr != nil {
		return p.intake.commitErr
	}
	p.intake.committed++
	p.intake.pop()
	return nil
}
func (p *fakeStaged) Quarantine(ctx context.Context) error {
	p.intake.quarantined++
	p.intake.pop()
	return nil
}
func (p *fakeStaged) Discard() { p.intake.discarded++ }

type fakeIntake struct {
	items       []types.JSONB
	commitErr   error
	committed   int
	quarantined int
	discarded   int
}

// The item stays pending until Commit or Quarantine removes it, like a
// bucket listing would re-serve it.
func (f *fakeIntake) FetchNext(ctx context.Context) (StagedPayload, error) {
	if len(f.items) == 0 {
		return nil, nil
	}
	return &fakeStaged{intake: f, data: f.items[0]}, nil
}

func (f *fakeIntake) pop() {
	f.items = f.items[1:]
}

type notifyCall struct {
	name string
	tctx types.JSONB
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
	err   error
}

func (n *fakeNotifier) Notify(ctx context.Context, name string, tctx types.JSONB) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notifyCall{name: name, tctx: tctx})
	return n.err
}

func (n *fakeNotifier) named(name string) []notifyCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notifyCall
	for _, c := range n.calls {
		if c.name == name {
			out = append(out, c)
		}
	}
	return out
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		ArchiveTempDir:    t.TempDir(),
		ArchiveStorageDir: t.TempDir(),
		ExpiryAfter:       72 * time.Hour,
		RetentionAfter:    24 * time.Hour,
		SweepInterval:     time.Hour,
		SweepBatchSize:    100,
		IntakeTimeout:     time.Second,
		NotifyTimeout:     time.Second,
	}
}

func newTestManager(t *testing.T, intake IntakeSource) (*TicketManager, *fakeStore, *fakeNotifier) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	if intake == nil {
		intake = &fakeIntake{}
	}
	m := NewTicketManager(testConfig(t), store, intake, notifier)
	return m, store, notifier
}

func TestIngestCreatesSubmittedTicket(t *testing.T) {
	intake := &fakeIntake{items: []types.JSONB{
		{"email": "someone@example.com", "title": "a page"},
	}}
	m, store, notifier := newTestManager(t, intake)

	id, err := m.Ingest(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	ticket, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, types.TICKET_SUBMITTED, ticket.Status)
	assert.Equal(t, "someone@example.com", ticket.Email)
	assert.NotNil(t, ticket.Credentials)
	assert.NotEmpty(t, ticket.Credentials.Username)

	assert.Equal(t, 1, intake.committed)
	assert.Equal(t, 1, intake.discarded)
	require.Len(t, notifier.named("submitted"), 1)
	assert.Equal(t, id, notifier.named("submitted")[0].tctx["id"])
}

func TestIngestNothingPending(t *testing.T) {
	m, _, notifier := newTestManager(t, &fakeIntake{})
	id, err := m.Ingest(context.Background())
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.Empty(t, notifier.calls)
}

func TestIngestRollsBackWhenRemoteDeleteFails(t *testing.T) {
	intake := &fakeIntake{
		items:     []types.JSONB{{"email": "someone@example.com"}},
		commitErr: errors.New("remote delete failed"),
	}
	m, store, notifier := newTestManager(t, intake)

	id, err := m.Ingest(context.Background())
	assert.Empty(t, id)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIntakeConflict)

	store.mu.Lock()
	assert.Empty(t, store.tickets)
	store.mu.Unlock()
	assert.Equal(t, 1, intake.discarded)
	assert.Empty(t, notifier.calls)
}

func TestIngestQuarantinesPayloadWithoutEmail(t *testing.T) {
	intake := &fakeIntake{items: []types.JSONB{{"title": "no address"}}}
	m, store, _ := newTestManager(t, intake)

	_, err := m.Ingest(context.Background())
	assert.ErrorIs(t, err, ErrInvalidPayload)
	store.mu.Lock()
	assert.Empty(t, store.tickets)
	store.mu.Unlock()
	assert.Equal(t, 1, intake.quarantined)
	assert.Equal(t, 1, intake.discarded)

	// the rejected item no longer blocks the intake
	id, err := m.Ingest(context.Background())
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestIngestAllDrainsPastRejectedPayloads(t *testing.T) {
	intake := &fakeIntake{items: []types.JSONB{
		{"title": "no address"},
		{"email": "someone@example.com"},
	}}
	m, store, notifier := newTestManager(t, intake)

	count, err := m.IngestAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 1, intake.quarantined)
	assert.Equal(t, 1, intake.committed)
	store.mu.Lock()
	assert.Len(t, store.tickets, 1)
	store.mu.Unlock()
	require.Len(t, notifier.named("submitted"), 1)
}

func TestIngestQuarantinesDeadSnapshotURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	intake := &fakeIntake{items: []types.JSONB{
		{"email": "someone@example.com", "url": srv.URL},
	}}
	m, store, _ := newTestManager(t, intake)

	_, err := m.Ingest(context.Background())
	assert.ErrorIs(t, err, ErrInvalidPayload)
	assert.Equal(t, 1, intake.quarantined)
	store.mu.Lock()
	assert.Empty(t, store.tickets)
	store.mu.Unlock()
}

func TestConfirmThenAccept(t *testing.T) {
	intake := &fakeIntake{items: []types.JSONB{{"email": "someone@example.com"}}}
	m, store, notifier := newTestManager(t, intake)

	id, err := m.Ingest(context.Background())
	require.NoError(t, err)

	require.NoError(t, m.Confirm(context.Background(), id))
	assert.Equal(t, types.TICKET_CONFIRMED, store.status(id))

	require.NoError(t, m.Accept(context.Background(), id))
	assert.Equal(t, types.TICKET_ACCEPTED, store.status(id))

	accepted := notifier.named("accepted")
	require.Len(t, accepted, 1)
	assert.Equal(t, id, accepted[0].tctx["id"])
	assert.Equal(t, "accepted", accepted[0].tctx["decision"])
}

func TestDeny(t *testing.T) {
	intake := &fakeIntake{items: []types.JSONB{{"email": "someone@example.com"}}}
	m, store, notifier := newTestManager(t, intake)

	id, err := m.Ingest(context.Background())
	require.NoError(t, err)
	require.NoError(t, m.Confirm(context.Background(), id))
	require.NoError(t, m.Deny(context.Background(), id))

	assert.Equal(t, types.TICKET_DENIED, store.status(id))
	denied := notifier.named("denied")
	require.Len(t, denied, 1)
	assert.Equal(t, "denied", denied[0].tctx["decision"])
}

func TestConfirmOnNonSubmittedTicket(t *testing.T) {
	intake := &fakeIntake{items: []types.JSONB{{"email": "someone@example.com"}}}
	m, store, _ := newTestManager(t, intake)

	id, err := m.Ingest(context.Background())
	require.NoError(t, err)
	require.NoError(t, m.Confirm(context.Background(), id))

	err = m.Confirm(context.Background(), id)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, types.TICKET_CONFIRMED, store.status(id))
}

func TestAcceptBeforeConfirm(t *testing.T) {
	intake := &fakeIntake{items: []types.JSONB{{"email": "someone@example.com"}}}
	m, store, _ := newTestManager(t, intake)

	id, err := m.Ingest(context.Background())
	require.NoError(t, err)

	err = m.Accept(context.Background(), id)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, types.TICKET_SUBMITTED, store.status(id))
}

func TestConfirmUnknownID(t *testing.T) {
	m, _, notifier := newTestManager(t, nil)
	err := m.Confirm(context.Background(), "e5a0b6a7-1c3f-4a67-9df9-000000000000")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, notifier.calls)
}

func TestExpireAndPurge(t *testing.T) {
	intake := &fakeIntake{items: []types.JSONB{{"email": "someone@example.com"}}}
	m, store, notifier := newTestManager(t, intake)

	base := time.Now()
	m.now = func() time.Time { return base.Add(-100 * time.Hour) }
	id, err := m.Ingest(context.Background())
	require.NoError(t, err)

	// first sweep: the stale submitted ticket expires but is not yet purged
	m.now = func() time.Time { return base }
	purged, err := m.ExpireAndPurge(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, purged)
	assert.Equal(t, types.TICKET_DELETED, store.status(id))
	require.Len(t, notifier.named("expired"), 1)

	// after the retention window the row is physically removed
	m.now = func() time.Time { return base.Add(25 * time.Hour) }
	purged, err = m.ExpireAndPurge(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, purged)
	_, err = store.Get(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)

	// idempotent: nothing left to purge
	purged, err = m.ExpireAndPurge(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, purged)
}

func TestSweepLeavesFreshTicketsAlone(t *testing.T) {
	intake := &fakeIntake{items: []types.JSONB{{"email": "someone@example.com"}}}
	m, store, _ := newTestManager(t, intake)

	id, err := m.Ingest(context.Background())
	require.NoError(t, err)

	purged, err := m.ExpireAndPurge(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, purged)
	assert.Equal(t, types.TICKET_SUBMITTED, store.status(id))
}

func TestConfirmedStalenessIsConfigurable(t *testing.T) {
	intake := &fakeIntake{items: []types.JSONB{{"email": "someone@example.com"}}}
	m, store, _ := newTestManager(t, intake)
	m.cfg.ConfirmedExpiryAfter = 48 * time.Hour

	base := time.Now()
	m.now = func() time.Time { return base.Add(-72 * time.Hour) }
	id, err := m.Ingest(context.Background())
	require.NoError(t, err)
	require.NoError(t, m.Confirm(context.Background(), id))

	m.now = func() time.Time { return base }
	_, err = m.ExpireAndPurge(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.TICKET_DELETED, store.status(id))
}

func TestConcurrentConfirmAndExpire(t *testing.T) {
	intake := &fakeIntake{items: []types.JSONB{{"email": "someone@example.com"}}}
	m, store, _ := newTestManager(t, intake)

	base := time.Now()
	m.now = func() time.Time { return base.Add(-100 * time.Hour) }
	id, err := m.Ingest(context.Background())
	require.NoError(t, err)
	m.now = func() time.Time { return base }

	var wg sync.WaitGroup
	var confirmErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		confirmErr = m.Confirm(context.Background(), id)
	}()
	go func() {
		defer wg.Done()
		_, _ = m.ExpireAndPurge(context.Background())
	}()
	wg.Wait()

	final := store.status(id)
	if confirmErr == nil {
		assert.Equal(t, types.TICKET_CONFIRMED, final)
	} else {
		assert.ErrorIs(t, confirmErr, ErrInvalidTransition)
		assert.Equal(t, types.TICKET_DELETED, final)
	}
}

func TestSweepSkipsWhenLeaseHeld(t *testing.T) {
	rdb, rmock := redismock.NewClientMock()
	lib.NewRedisClient(rdb)
	defer lib.NewRedisClient(nil)

	m, store, _ := newTestManager(t, nil)
	rmock.Regexp().ExpectSetNX(sweepLeaseKey, `.+`, m.cfg.SweepInterval).SetVal(false)

	purged, err := m.ExpireAndPurge(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, purged)
	assert.Equal(t, 0, store.lists)
	assert.NoError(t, rmock.ExpectationsWereMet())
}
