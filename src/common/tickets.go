package common

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"arts/src/config"
	"arts/src/lib"
	"arts/src/types"
	"arts/src/utils"

	"arts/src/models"

	"github.com/google/uuid"
)

const sweepLeaseKey = "arts:sweep:lease"

// TicketManager owns ticket identity, state transitions and expiry policy.
// Conflicting mutations serialize through the store's conditional update, so
// any number of manager instances can safely share one database.
type TicketManager struct {
	cfg      *config.Config
	store    TicketStore
	intake   IntakeSource
	notifier Notifier
	archive  *ArchiveStore

	now func() time.Time
}

func NewTicketManager(cfg *config.Config, store TicketStore, intake IntakeSource, notifier Notifier) *TicketManager {
	return &TicketManager{
		cfg:      cfg,
		store:    store,
		intake:   intake,
		notifier: notifier,
		archive:  NewArchiveStore(cfg),
		now:      time.Now,
	}
}

// Ingest pulls one pending payload from the intake source and materializes it
// as a submitted ticket. The insert and the remote delete form one unit:
// when the remote delete cannot be confirmed the insert is rolled back and
// ErrIntakeConflict is returned, so retrying the ingest is always safe.
// Returns ("", nil) when nothing is pending.
func (m *TicketManager) Ingest(ctx context.Context) (string, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, m.cfg.IntakeTimeout)
	defer cancel()
	staged, err := m.intake.FetchNext(fetchCtx)
	if err != nil {
		return "", err
	}
	if staged == nil {
		return "", nil
	}
	defer staged.Discard()

	data := staged.Data()
	email, _ := data["email"].(string)
	if email == "" {
		return "", m.rejectPayload(ctx, staged, fmt.Errorf("%w: payload has no email address", ErrInvalidPayload))
	}
	url, _ := data["url"].(string)
	title, _ := data["title"].(string)

	id := uuid.NewString()
	archiveFile := ""
	if url != "" {
		archiveFile, err = m.archive.Snapshot(id, url, title)
		if err != nil {
			err = fmt.Errorf("failed to snapshot %s: %w", url, err)
			if errors.Is(err, ErrInvalidPayload) {
				return "", m.rejectPayload(ctx, staged, err)
			}
			return "", err
		}
	}

	now := m.now()
	payload := data
	ticket := &models.Ticket{
		ID:          id,
		Status:      types.TICKET_SUBMITTED,
		Email:       email,
		Payload:     &payload,
		ArchiveFile: archiveFile,
		Credentials: &models.Credentials{
			Username: utils.GenerateUsername(8),
			Password: utils.GeneratePassword(16),
		},
		CreatedAt:        now,
		LastTransitionAt: now,
	}

	err = m.store.Transaction(ctx, func(tx TicketStore) error {
		if err := tx.Insert(ctx, ticket); err != nil {
			return err
		}
		if err := staged.Commit(ctx); err != nil {
			return fmt.Errorf("%w: %s", ErrIntakeConflict, err.Error())
		}
		return nil
	})
	if err != nil {
		m.archive.Remove(archiveFile)
		return "", err
	}

	m.notify("submitted", types.JSONB{
		"id":       ticket.ID,
		"email":    ticket.Email,
		"username": ticket.Credentials.Username,
		"password": ticket.Credentials.Password,
		"url":      url,
		"title":    title,
	})
	log.Printf("Ingested ticket %s\n", ticket.ID)
	return ticket.ID, nil
}

// rejectPayload moves an item that can never materialize out of the intake
// path so it stops blocking the drain.
func (m *TicketManager) rejectPayload(ctx context.Context, staged StagedPayload, cause error) error {
	if err := staged.Quarantine(ctx); err != nil {
		log.Printf("Error quarantining rejected payload: %s\n", err.Error())
	}
	return cause
}

// IngestAll drains the intake source, returning the number of tickets
// created. Rejected payloads are quarantined by Ingest and skipped here; any
// other failure stops the drain with the remote copy untouched, so the next
// run retries it.
func (m *TicketManager) IngestAll(ctx context.Context) (int, error) {
	count := 0
	for {
		id, err := m.Ingest(ctx)
		if err != nil {
			if errors.Is(err, ErrInvalidPayload) {
				log.Printf("Skipping rejected intake payload: %s\n", err.Error())
				continue
			}
			return count, err
		}
		if id == "" {
			return count, nil
		}
		count++
	}
}

func (m *TicketManager) Get(ctx context.Context, id string) (*models.Ticket, error) {
	return m.store.Get(ctx, id)
}

// Confirm moves a submitted ticket to confirmed.
func (m *TicketManager) Confirm(ctx context.Context, id string) error {
	ticket, err := m.transition(ctx, id, types.TICKET_SUBMITTED, types.TICKET_CONFIRMED)
	if err != nil {
		return err
	}
	m.notify("confirmed", types.JSONB{
		"id":       ticket.ID,
		"email":    ticket.Email,
		"username": ticket.Credentials.Username,
		"url":      payloadString(ticket, "url"),
		"title":    payloadString(ticket, "title"),
	})
	return nil
}

// Accept moves a confirmed ticket to accepted and promotes its snapshot into
// permanent storage.
func (m *TicketManager) Accept(ctx context.Context, id string) error {
	ticket, err := m.transition(ctx, id, types.TICKET_CONFIRMED, types.TICKET_ACCEPTED)
	if err != nil {
		return err
	}
	if _, err := m.archive.Promote(ticket.ArchiveFile); err != nil {
		log.Printf("Error promoting snapshot for ticket %s: %s\n", id, err.Error())
	}
	m.notify("accepted", types.JSONB{
		"id":       ticket.ID,
		"email":    ticket.Email,
		"decision": "accepted",
		"reply_to": m.cfg.MailReplyTo,
		"url":      payloadString(ticket, "url"),
		"title":    payloadString(ticket, "title"),
	})
	m.announce(ctx, ticket.ID, "accept")
	return nil
}

// Deny moves a confirmed ticket to denied and drops its snapshot.
func (m *TicketManager) Deny(ctx context.Context, id string) error {
	ticket, err := m.transition(ctx, id, types.TICKET_CONFIRMED, types.TICKET_DENIED)
	if err != nil {
		return err
	}
	m.archive.Remove(ticket.ArchiveFile)
	m.notify("denied", types.JSONB{
		"id":       ticket.ID,
		"email":    ticket.Email,
		"decision": "denied",
		"reply_to": m.cfg.MailReplyTo,
		"url":      payloadString(ticket, "url"),
		"title":    payloadString(ticket, "title"),
	})
	m.announce(ctx, ticket.ID, "deny")
	return nil
}

// ExpireAndPurge is the scheduled sweep. Submitted tickets older than the
// expiry duration move to deleted; terminal tickets past the retention
// duration are physically removed. Returns the number purged. The sweep is
// idempotent and safe to run concurrently with itself and with single-ticket
// transitions: every mutation goes through the conditional update or a
// row-counted delete, so a racing winner simply shrinks this run's batch.
func (m *TicketManager) ExpireAndPurge(ctx context.Context) (int, error) {
	release, acquired := m.acquireSweepLease(ctx)
	if !acquired {
		return 0, nil
	}
	defer release()

	if err := m.expireStale(ctx, types.TICKET_SUBMITTED, m.cfg.ExpiryAfter); err != nil {
		return 0, err
	}
	if m.cfg.ConfirmedExpiryAfter > 0 {
		if err := m.expireStale(ctx, types.TICKET_CONFIRMED, m.cfg.ConfirmedExpiryAfter); err != nil {
			return 0, err
		}
	}

	purged := 0
	cutoff := m.now().Add(-m.cfg.RetentionAfter)
	for _, status := range []types.TicketStatus{types.TICKET_ACCEPTED, types.TICKET_DENIED, types.TICKET_DELETED} {
		n, err := m.purgeTerminal(ctx, status, cutoff)
		purged += n
		if err != nil {
			return purged, err
		}
	}
	log.Printf("Sweep purged %d tickets\n", purged)
	return purged, nil
}

// expireStale flips every ticket in the given status older than maxAge to
// deleted, batch by batch. Each batch commits individually, so an aborted
// sweep leaves consistent state.
func (m *TicketManager) expireStale(ctx context.Context, status types.TicketStatus, maxAge time.Duration) error {
	cutoff := m.now().Add(-maxAge)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := m.store.ListByStatusOlderThan(ctx, status, cutoff, m.cfg.SweepBatchSize)
		if err != nil {
			return err
		}
		for _, ticket := range batch {
			ok, err := m.store.UpdateStatusIf(ctx, ticket.ID, status, types.TICKET_DELETED, m.now())
			if err != nil {
				return err
			}
			if !ok {
				// lost the race to a concurrent transition
				continue
			}
			log.Printf("Expired ticket %s (last transition %s)\n", ticket.ID, ticket.LastTransitionAt)
			m.archive.Remove(ticket.ArchiveFile)
			m.notify("expired", types.JSONB{
				"id":    ticket.ID,
				"email": ticket.Email,
			})
		}
		if len(batch) < m.cfg.SweepBatchSize {
			return nil
		}
	}
}

func (m *TicketManager) purgeTerminal(ctx context.Context, status types.TicketStatus, cutoff time.Time) (int, error) {
	purged := 0
	for {
		if err := ctx.Err(); err != nil {
			return purged, err
		}
		batch, err := m.store.ListByStatusOlderThan(ctx, status, cutoff, m.cfg.SweepBatchSize)
		if err != nil {
			return purged, err
		}
		for _, ticket := range batch {
			ok, err := m.store.Delete(ctx, ticket.ID)
			if err != nil {
				return purged, err
			}
			if !ok {
				// a concurrent sweep purged it first
				continue
			}
			if status != types.TICKET_ACCEPTED {
				// accepted snapshots were promoted to permanent storage
				m.archive.Remove(ticket.ArchiveFile)
			}
			purged++
		}
		if len(batch) < m.cfg.SweepBatchSize {
			return purged, nil
		}
	}
}

func payloadString(t *models.Ticket, key string) string {
	if t.Payload == nil {
		return ""
	}
	v, _ := (*t.Payload)[key].(string)
	return v
}

// transition performs one conditional state flip. A miss is classified by
// re-reading the row: gone means ErrNotFound, anything else means the caller
// raced a concurrent transition and gets ErrInvalidTransition.
func (m *TicketManager) transition(ctx context.Context, id string, from, to types.TicketStatus) (*models.Ticket, error) {
	if !models.CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	ok, err := m.store.UpdateStatusIf(ctx, id, from, to, m.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		if _, err := m.store.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: ticket %s is not %s", ErrInvalidTransition, id, from)
	}
	ticket, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	log.Printf("Ticket %s: %s -> %s\n", id, from, to)
	return ticket, nil
}

// notify dispatches a notification without ever failing the transition that
// triggered it.
func (m *TicketManager) notify(name string, tctx types.JSONB) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.NotifyTimeout)
	defer cancel()
	if err := m.notifier.Notify(ctx, name, tctx); err != nil {
		log.Printf("Error sending %s notification for ticket %v: %s\n", name, tctx["id"], err.Error())
	}
}

// announce publishes the decision on the configured topic, best-effort.
func (m *TicketManager) announce(ctx context.Context, id, action string) {
	if m.cfg.DecisionTopic == "" {
		return
	}
	body, err := json.Marshal(types.DecisionEvent{TicketID: id, Action: action})
	if err != nil {
		return
	}
	if err := lib.SNSPublishMessage(ctx, m.cfg.DecisionTopic, string(body)); err != nil {
		log.Printf("Error announcing decision for ticket %s: %s\n", id, err.Error())
	}
}

// acquireSweepLease takes a best-effort cross-instance lease so overlapping
// scheduled sweeps normally skip instead of contending. Correctness never
// depends on it; without a redis client the sweep just runs.
func (m *TicketManager) acquireSweepLease(ctx context.Context) (func(), bool) {
	rdb := lib.GetRedisClient()
	if rdb == nil {
		return func() {}, true
	}
	lease := uuid.NewString()
	ok, err := rdb.SetNX(ctx, sweepLeaseKey, lease, m.cfg.SweepInterval).Result()
	if err != nil {
		log.Printf("Error acquiring sweep lease: %s\n", err.Error())
		return func() {}, true
	}
	if !ok {
		log.Println("Sweep lease held elsewhere, skipping run")
		return func() {}, false
	}
	release := func() {
		val, err := rdb.Get(context.Background(), sweepLeaseKey).Result()
		if err == nil && val == lease {
			rdb.Del(context.Background(), sweepLeaseKey)
		}
	}
	return release, true
}
