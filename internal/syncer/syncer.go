// Package syncer orchestrates incremental synchronization of the usage
// store from the remote API.
//
// One refresh runs at a time per process (single-flight guard) and one
// process syncs at a time per host (cross-process lock). A refresh picks
// initial sync (bounded historical backfill) when the store has never
// synced or when a forced-initial flag is set, and delta sync (tail fetch
// since the stored high-water mark) otherwise. Initial sync shows the
// first page immediately and backfills the rest in a detached background
// continuation that keeps the lock held until it finishes.
package syncer

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/usagevault/usagevault/internal/api"
	"github.com/usagevault/usagevault/internal/lockfile"
	"github.com/usagevault/usagevault/internal/store"
)

// Notifier receives user-facing sync status messages. The CLI prints them;
// the dashboard broadcasts them.
type Notifier interface {
	Info(msg string)
	Warn(msg string)
	Error(msg string)
}

// LogNotifier routes notifications to a logger. Useful as a default.
type LogNotifier struct {
	Logger *log.Logger
}

func (n *LogNotifier) Info(msg string)  { n.Logger.Printf("info: %s", msg) }
func (n *LogNotifier) Warn(msg string)  { n.Logger.Printf("warn: %s", msg) }
func (n *LogNotifier) Error(msg string) { n.Logger.Printf("error: %s", msg) }

// tokenPollInterval is how often a pending token-change trigger re-checks
// the single-flight guard.
const tokenPollInterval = 250 * time.Millisecond

// Syncer is the sync orchestrator.
type Syncer struct {
	store    *store.Store
	client   *api.Client
	lock     *lockfile.Lock
	notifier Notifier
	logger   *log.Logger

	// flight state: owned here, never ambient globals.
	mu             sync.Mutex
	inFlight       bool
	forceInitial   bool
	refreshPending bool

	pollInterval time.Duration
	bg           sync.WaitGroup
}

// New creates a Syncer. If notifier is nil, messages go to the logger; if
// logger is nil, a default stderr logger is used.
func New(st *store.Store, client *api.Client, lock *lockfile.Lock, notifier Notifier, logger *log.Logger) *Syncer {
	if logger == nil {
		logger = log.New(os.Stderr, "[syncer] ", log.LstdFlags)
	}
	if notifier == nil {
		notifier = &LogNotifier{Logger: logger}
	}
	return &Syncer{
		store:        st,
		client:       client,
		lock:         lock,
		notifier:     notifier,
		logger:       logger,
		pollInterval: tokenPollInterval,
	}
}

// ForceInitial marks the next refresh as an initial sync regardless of the
// stored high-water mark.
func (s *Syncer) ForceInitial() {
	s.mu.Lock()
	s.forceInitial = true
	s.mu.Unlock()
}

// InFlight reports whether a refresh is currently running, including a
// detached background continuation.
func (s *Syncer) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// Wait blocks until any detached background continuation has finished.
func (s *Syncer) Wait() {
	s.bg.Wait()
}

// OnTokenChanged reacts to a credential change. The delta high-water mark
// of the old account must never be reused, so the next refresh is forced
// initial. If a refresh is in flight, the trigger waits for it rather than
// letting the single-flight guard silently drop the forced-initial
// semantics. Rapid repeated changes coalesce into one pending trigger.
func (s *Syncer) OnTokenChanged(token string) {
	s.mu.Lock()
	s.forceInitial = true
	if s.refreshPending {
		s.mu.Unlock()
		return
	}
	s.refreshPending = true
	s.mu.Unlock()

	go func() {
		for s.InFlight() {
			time.Sleep(s.pollInterval)
		}

		s.mu.Lock()
		s.refreshPending = false
		s.mu.Unlock()

		if err := s.RefreshData(context.Background()); err != nil {
			s.logger.Printf("token-change refresh failed: %v", err)
		}
	}()
}

// RefreshData runs one sync attempt. A concurrent invocation while one is
// in flight is a silent no-op. Failure to take the cross-process lock is a
// benign abort, not an error. The returned error is the events-fetch
// failure when the sync's primary purpose failed; individual summary,
// identity, or team failures only produce warnings.
func (s *Syncer) RefreshData(ctx context.Context) error {
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return nil
	}
	s.inFlight = true
	s.mu.Unlock()

	if !s.client.HasToken() {
		s.notifier.Warn("no credential stored; sign in to sync usage data")
		s.clearInFlight()
		return nil
	}

	acquired, err := s.lock.Acquire()
	if err != nil {
		s.clearInFlight()
		return fmt.Errorf("failed to acquire sync lock: %w", err)
	}
	if !acquired {
		s.logger.Printf("another process is syncing, skipping")
		s.clearInFlight()
		return nil
	}

	finished := false
	defer func() {
		// The background continuation owns release when it was
		// launched; otherwise release here.
		if !finished {
			s.releaseAndClear()
		}
	}()

	// Consume the forced-initial flag only now that the lock is held. The
	// abort paths above must leave it set, or a token change followed by a
	// lock-busy skip would let the next refresh run a delta from the old
	// account's high-water mark.
	s.mu.Lock()
	force := s.forceInitial
	s.forceInitial = false
	s.mu.Unlock()

	// Adopt sibling writes before deciding anything from stored state.
	if err := s.store.Reload(); err != nil {
		return fmt.Errorf("failed to reload store: %w", err)
	}

	hwm, hasEvents, err := s.store.LatestEventTimestamp()
	if err != nil {
		return fmt.Errorf("failed to read high-water mark: %w", err)
	}

	initial := force || !hasEvents
	if initial {
		s.logger.Printf("starting initial sync (forced=%v)", force)
	} else {
		s.logger.Printf("starting delta sync from %s", hwm)
	}

	res := s.fetchAll(ctx, initial, hwm)

	if res.teamsErr == nil && len(res.teams) > 0 {
		res.members, res.membersErr = s.fetchAllMembers(ctx, res.teams)
	}

	if err := s.merge(res); err != nil {
		return err
	}

	if err := s.store.Persist(); err != nil {
		return fmt.Errorf("failed to persist store: %w", err)
	}

	if err := s.report(res); err != nil {
		return err
	}

	if initial && res.eventsHasMore {
		s.launchContinuation(res.window)
		finished = true // continuation owns lock release and guard clearing
	}

	return nil
}

// fetchResults carries the four parallel fetch outcomes plus the
// conditional team-detail result.
type fetchResults struct {
	events        []store.UsageEvent
	eventsHasMore bool
	window        api.Window
	eventsErr     error

	summary    *store.UsageSummary
	summaryErr error

	identity    *store.Identity
	identityErr error

	teams    []store.Team
	teamsErr error

	members    []store.TeamMember
	membersErr error
}

// fetchAll runs the four fetches concurrently. Each is fault-isolated: one
// failing does not cancel the others.
func (s *Syncer) fetchAll(ctx context.Context, initial bool, hwm string) *fetchResults {
	res := &fetchResults{}

	var wg sync.WaitGroup
	wg.Add(4)

	go func() {
		defer wg.Done()
		if initial {
			res.events, res.eventsHasMore, res.window, res.eventsErr = s.client.FetchFirstPage(ctx)
		} else {
			res.events, res.eventsErr = s.client.FetchEventsSince(ctx, hwm)
		}
	}()

	go func() {
		defer wg.Done()
		res.summary, res.summaryErr = s.client.FetchSummary(ctx)
	}()

	go func() {
		defer wg.Done()
		res.identity, res.identityErr = s.client.FetchIdentity(ctx)
	}()

	go func() {
		defer wg.Done()
		res.teams, res.teamsErr = s.client.FetchTeams(ctx)
	}()

	wg.Wait()
	return res
}

// fetchAllMembers fetches member rosters for every team. A single team's
// failure fails the whole detail fetch; membership is replaced wholesale
// and a partial replacement would drop teams silently.
func (s *Syncer) fetchAllMembers(ctx context.Context, teams []store.Team) ([]store.TeamMember, error) {
	var members []store.TeamMember
	for _, team := range teams {
		tm, err := s.client.FetchTeamMembers(ctx, team.ID)
		if err != nil {
			return nil, fmt.Errorf("team %s: %w", team.ID, err)
		}
		members = append(members, tm...)
	}
	return members, nil
}

// merge writes every successful fetch into the store. The store was
// reloaded at the start of the refresh.
func (s *Syncer) merge(res *fetchResults) error {
	if res.identityErr == nil && res.identity != nil {
		if err := s.store.ReplaceIdentity(res.identity); err != nil {
			return fmt.Errorf("failed to store identity: %w", err)
		}
	}

	if res.teamsErr == nil {
		if err := s.store.ReplaceTeamRoster(res.teams); err != nil {
			return fmt.Errorf("failed to store team roster: %w", err)
		}
		if len(res.teams) == 0 {
			// The user belongs to no team: purge any membership rows
			// immediately so stale rows cannot drive access-control
			// decisions.
			if err := s.store.ReplaceTeamMembers(nil); err != nil {
				return fmt.Errorf("failed to purge team members: %w", err)
			}
		} else if res.membersErr == nil && res.members != nil {
			if err := s.store.ReplaceTeamMembers(res.members); err != nil {
				return fmt.Errorf("failed to store team members: %w", err)
			}
		}
	}

	if res.summaryErr == nil && res.summary != nil {
		if err := s.store.AppendSummary(res.summary); err != nil {
			return fmt.Errorf("failed to store summary: %w", err)
		}
	}

	if res.eventsErr == nil {
		if err := s.store.UpsertEvents(res.events); err != nil {
			return fmt.Errorf("failed to store events: %w", err)
		}
	}

	return nil
}

// report surfaces each outcome combination distinctly and returns the
// events error, if any, to abort the attempt: without events data the sync
// failed overall.
func (s *Syncer) report(res *fetchResults) error {
	if res.identityErr != nil {
		s.notifier.Warn(fmt.Sprintf("identity fetch failed: %v", res.identityErr))
	}
	if res.teamsErr != nil {
		s.notifier.Warn(fmt.Sprintf("team list fetch failed: %v", res.teamsErr))
	}
	if res.membersErr != nil {
		s.notifier.Warn(fmt.Sprintf("team detail fetch failed: %v", res.membersErr))
	}

	switch {
	case res.eventsErr == nil && res.summaryErr == nil:
		s.notifier.Info(fmt.Sprintf("sync complete: %d events", len(res.events)))
	case res.eventsErr == nil && res.summaryErr != nil:
		s.notifier.Warn(fmt.Sprintf("events updated (%d), but summary fetch failed: %v",
			len(res.events), res.summaryErr))
	case res.eventsErr != nil && res.summaryErr == nil:
		s.notifier.Error(fmt.Sprintf("usage events fetch failed: %v", res.eventsErr))
	default:
		s.notifier.Error(fmt.Sprintf("sync failed: events: %v; summary: %v",
			res.eventsErr, res.summaryErr))
	}

	if res.eventsErr != nil {
		return res.eventsErr
	}
	return nil
}

// launchContinuation backfills the remaining pages of the initial window
// in a detached task. Lock release and guard clearing happen only when the
// continuation itself finishes, success or failure, so the lock covers the
// whole multi-page backfill. The store-change notification for the backfill
// fires via Persist below; the synchronous step already persisted and
// announced the first page, so a failed backfill, which writes nothing,
// signals nothing.
func (s *Syncer) launchContinuation(w api.Window) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		defer s.releaseAndClear()

		events, err := s.client.FetchRemainingPages(context.Background(), w, 2)
		if err != nil {
			s.notifier.Warn(fmt.Sprintf("background backfill failed: %v", err))
			return
		}
		if len(events) == 0 {
			return
		}

		if err := s.store.Reload(); err != nil {
			s.logger.Printf("backfill reload failed: %v", err)
			return
		}
		if err := s.store.UpsertEvents(events); err != nil {
			s.logger.Printf("backfill upsert failed: %v", err)
			return
		}
		if err := s.store.Persist(); err != nil {
			s.logger.Printf("backfill persist failed: %v", err)
			return
		}

		s.notifier.Info(fmt.Sprintf("backfill complete: %d more events", len(events)))
	}()
}

func (s *Syncer) clearInFlight() {
	s.mu.Lock()
	s.inFlight = false
	s.mu.Unlock()
}

func (s *Syncer) releaseAndClear() {
	if err := s.lock.Release(); err != nil {
		s.logger.Printf("failed to release sync lock: %v", err)
	}
	s.clearInFlight()
}
