// Package store keeps the authoritative in-memory record set synchronized
// between a local durable copy and the remote store. All mutations funnel
// through a serial dispatcher, so there is exactly one writer at any time;
// reads never block and always see the latest committed state through an
// atomically swapped pointer.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"cyltrack/internal/dispatch"
	"cyltrack/internal/infra/archive"
	"cyltrack/internal/sanitize"
	"cyltrack/pkg/domain"
)

// RemoteStore is the authoritative upstream. Loads return raw records that
// flow through the sanitizer; upserts must be idempotent on record id.
type RemoteStore interface {
	FetchCylinders(ctx context.Context) ([]sanitize.Record, error)
	FetchCustomers(ctx context.Context) ([]sanitize.Record, error)
	FetchTransactions(ctx context.Context) ([]sanitize.Record, error)
	UpsertCylinders(ctx context.Context, cyls []domain.Cylinder) error
	UpsertCustomers(ctx context.Context, custs []domain.Customer) error
	UpsertTransactions(ctx context.Context, txs []domain.Transaction) error
}

// LocalStore is the durable on-host copy written in interactive mode.
type LocalStore interface {
	LoadSnapshot(ctx context.Context) (*domain.Snapshot, error)
	SaveSnapshot(ctx context.Context, snap domain.Snapshot) error
}

// Options configures a Store. Remote is required; everything else has a
// working default.
type Options struct {
	Remote  RemoteStore
	Local   LocalStore    // optional; written only in interactive mode
	Archive archive.Store // optional; enables ArchiveSnapshot

	Logger  *zap.Logger
	Metrics *Metrics

	// Interactive marks a locally operated deployment: the sqlite copy is
	// written on every save. Service deployments skip the local write.
	Interactive bool

	Now        func() time.Time
	RetryDelay time.Duration // base delay between background push retries
	QueueSize  int
}

// remoteRetries is the number of background attempts after a failed push.
const remoteRetries = 2

const defaultRetryDelay = 2 * time.Second

type state struct {
	snap   domain.Snapshot
	loaded map[domain.EntityKind]bool
}

func (st *state) clone() *state {
	loaded := make(map[domain.EntityKind]bool, len(st.loaded))
	for k, v := range st.loaded {
		loaded[k] = v
	}
	return &state{snap: st.snap.Clone(), loaded: loaded}
}

// Store is the synchronized record set.
type Store struct {
	remote  RemoteStore
	local   LocalStore
	archive archive.Store
	log     *zap.Logger
	metrics *Metrics

	interactive bool
	now         func() time.Time
	retryDelay  time.Duration

	dispatcher *dispatch.Dispatcher
	committed  atomic.Pointer[state]

	// baseline and lastSaved are touched only inside dispatcher units.
	baseline  domain.Snapshot
	lastSaved []byte

	bg sync.WaitGroup
}

// New constructs a Store. In interactive mode the local snapshot, when
// present, seeds the in-memory state; sections are still refreshed from the
// remote on first access.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Remote == nil {
		return nil, fmt.Errorf("store: remote is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}

	s := &Store{
		remote:      opts.Remote,
		local:       opts.Local,
		archive:     opts.Archive,
		log:         opts.Logger,
		metrics:     opts.Metrics,
		interactive: opts.Interactive,
		now:         opts.Now,
		retryDelay:  opts.RetryDelay,
		dispatcher:  dispatch.New(opts.QueueSize),
	}

	initial := &state{loaded: map[domain.EntityKind]bool{}}
	if opts.Interactive && opts.Local != nil {
		snap, err := opts.Local.LoadSnapshot(ctx)
		if err != nil {
			s.log.Warn("local snapshot unreadable, starting empty", zap.Error(err))
		} else if snap != nil {
			initial.snap = snap.Clone()
			s.log.Info("hydrated from local snapshot",
				zap.Int("cylinders", len(snap.Cylinders)),
				zap.Int("customers", len(snap.Customers)),
				zap.Int("transactions", len(snap.Transactions)),
				zap.Time("saved_at", snap.SavedAt))
		}
	}
	s.baseline = initial.snap.Clone()
	s.lastSaved = mustCompareBytes(initial.snap)
	s.committed.Store(initial)
	return s, nil
}

// Close drains queued work and waits for background pushes to settle.
func (s *Store) Close() {
	s.dispatcher.Stop()
	s.bg.Wait()
}

// Cylinders returns a copy of the committed cylinder collection.
func (s *Store) Cylinders() []domain.Cylinder {
	snap := s.committed.Load().snap
	out := make([]domain.Cylinder, len(snap.Cylinders))
	for i, c := range snap.Cylinders {
		out[i] = c.Clone()
	}
	return out
}

// Customers returns a copy of the committed counterparty collection.
func (s *Store) Customers() []domain.Customer {
	snap := s.committed.Load().snap
	out := make([]domain.Customer, len(snap.Customers))
	for i, c := range snap.Customers {
		out[i] = c.Clone()
	}
	return out
}

// Transactions returns a copy of the committed transaction log.
func (s *Store) Transactions() []domain.Transaction {
	snap := s.committed.Load().snap
	return append([]domain.Transaction(nil), snap.Transactions...)
}

// FindCylinder looks a cylinder up by record id or etched serial number.
func (s *Store) FindCylinder(key string) (domain.Cylinder, bool) {
	for _, c := range s.committed.Load().snap.Cylinders {
		if c.ID == key || c.SerialNumber == key {
			return c.Clone(), true
		}
	}
	return domain.Cylinder{}, false
}

// FindCustomer looks a counterparty up by id.
func (s *Store) FindCustomer(id string) (domain.Customer, bool) {
	for _, c := range s.committed.Load().snap.Customers {
		if c.ID == id {
			return c.Clone(), true
		}
	}
	return domain.Customer{}, false
}

// Snapshot returns a deep copy of the whole committed state.
func (s *Store) Snapshot() domain.Snapshot {
	return s.committed.Load().snap.Clone()
}

// LoadCylinders pulls the cylinder section from the remote unless it is
// already loaded. force refreshes regardless. The returned report lists the
// repairs performed on the inbound records.
func (s *Store) LoadCylinders(ctx context.Context, force bool) (*sanitize.Report, error) {
	return s.loadSection(ctx, domain.KindCylinder, force)
}

// LoadCustomers pulls the counterparty section from the remote.
func (s *Store) LoadCustomers(ctx context.Context, force bool) (*sanitize.Report, error) {
	return s.loadSection(ctx, domain.KindCustomer, force)
}

// LoadTransactions pulls the newest transactions from the remote.
func (s *Store) LoadTransactions(ctx context.Context, force bool) (*sanitize.Report, error) {
	return s.loadSection(ctx, domain.KindTransaction, force)
}

// Reports carries the per-kind healing reports of a full reload.
type Reports struct {
	Cylinders    *sanitize.Report
	Customers    *sanitize.Report
	Transactions *sanitize.Report
}

// Reload refreshes every section.
func (s *Store) Reload(ctx context.Context, force bool) (Reports, error) {
	var reports Reports
	var err error
	if reports.Customers, err = s.LoadCustomers(ctx, force); err != nil {
		return reports, err
	}
	if reports.Cylinders, err = s.LoadCylinders(ctx, force); err != nil {
		return reports, err
	}
	reports.Transactions, err = s.LoadTransactions(ctx, force)
	return reports, err
}

func (s *Store) loadSection(ctx context.Context, kind domain.EntityKind, force bool) (*sanitize.Report, error) {
	if !force && s.committed.Load().loaded[kind] {
		return &sanitize.Report{}, nil
	}
	var report *sanitize.Report
	err := s.dispatcher.Do(ctx, func() error {
		cur := s.committed.Load()
		if !force && cur.loaded[kind] {
			report = &sanitize.Report{}
			return nil
		}

		next := cur.clone()
		var err error
		switch kind {
		case domain.KindCylinder:
			var recs []sanitize.Record
			if recs, err = s.remote.FetchCylinders(ctx); err == nil {
				next.snap.Cylinders, report = sanitize.Cylinders(recs, s.now())
				s.baseline.Cylinders = cloneCylinders(next.snap.Cylinders)
			}
		case domain.KindCustomer:
			var recs []sanitize.Record
			if recs, err = s.remote.FetchCustomers(ctx); err == nil {
				next.snap.Customers, report = sanitize.Customers(recs, s.now())
				s.baseline.Customers = append([]domain.Customer(nil), next.snap.Customers...)
			}
		case domain.KindTransaction:
			var recs []sanitize.Record
			if recs, err = s.remote.FetchTransactions(ctx); err == nil {
				next.snap.Transactions, report = sanitize.Transactions(recs, s.now())
				s.baseline.Transactions = append([]domain.Transaction(nil), next.snap.Transactions...)
			}
		}
		if err != nil {
			return fmt.Errorf("load %s: %w", kind, err)
		}

		s.metrics.HealedRecords.WithLabelValues(string(kind)).Add(float64(len(report.Entries())))
		for _, entry := range report.Entries() {
			s.log.Info("healed inbound record", zap.String("kind", string(kind)), zap.String("repair", entry))
		}

		// The loaded data is the new push baseline for this section, so a
		// following save diffs only what mutated after the load.
		s.lastSaved = mustCompareBytes(next.snap)
		next.loaded[kind] = true
		s.committed.Store(next)
		return nil
	})
	return report, err
}

// Working is the mutable copy of the state handed to an updater. Mutations
// are applied wholly or not at all: returning an error discards the copy.
type Working struct {
	Cylinders    []domain.Cylinder
	Customers    []domain.Customer
	Transactions []domain.Transaction
}

// Apply runs fn against a defensive copy of the committed state inside the
// dispatcher, commits the result, and saves. Persistence failures are
// handled internally and never abort the committed mutation.
func (s *Store) Apply(ctx context.Context, fn func(w *Working) error) error {
	return s.dispatcher.Do(ctx, func() error {
		cur := s.committed.Load()
		next := cur.clone()
		w := &Working{
			Cylinders:    next.snap.Cylinders,
			Customers:    next.snap.Customers,
			Transactions: next.snap.Transactions,
		}
		if err := fn(w); err != nil {
			return err
		}
		next.snap.Cylinders = w.Cylinders
		next.snap.Customers = w.Customers
		next.snap.Transactions = w.Transactions
		s.committed.Store(next)
		s.save(ctx)
		return nil
	})
}

// UpdateCylinders applies a pure updater to the cylinder collection.
func (s *Store) UpdateCylinders(ctx context.Context, fn func([]domain.Cylinder) ([]domain.Cylinder, error)) error {
	return s.Apply(ctx, func(w *Working) error {
		next, err := fn(w.Cylinders)
		if err != nil {
			return err
		}
		w.Cylinders = next
		return nil
	})
}

// UpdateCustomers applies a pure updater to the counterparty collection.
func (s *Store) UpdateCustomers(ctx context.Context, fn func([]domain.Customer) ([]domain.Customer, error)) error {
	return s.Apply(ctx, func(w *Working) error {
		next, err := fn(w.Customers)
		if err != nil {
			return err
		}
		w.Customers = next
		return nil
	})
}

// AppendTransactions appends immutable log entries.
func (s *Store) AppendTransactions(ctx context.Context, txs ...domain.Transaction) error {
	return s.Apply(ctx, func(w *Working) error {
		w.Transactions = append(w.Transactions, txs...)
		return nil
	})
}

// Save persists the committed state explicitly. Apply already saves; this
// exists for callers that mutated nothing but want durability confirmed.
func (s *Store) Save(ctx context.Context) error {
	return s.dispatcher.Do(ctx, func() error {
		s.save(ctx)
		return nil
	})
}

// save runs inside a dispatcher unit. It never returns an error: by the
// time persistence starts the in-memory mutation is already committed, and
// persistence problems must not fail the caller's request.
func (s *Store) save(ctx context.Context) {
	cur := s.committed.Load().snap

	curBytes := mustCompareBytes(cur)
	if bytes.Equal(curBytes, s.lastSaved) {
		s.metrics.Saves.WithLabelValues(SaveNoop).Inc()
		return
	}

	delta := computeDelta(s.baseline, cur)

	cur.SavedAt = s.now()
	if s.interactive && s.local != nil {
		if err := s.local.SaveSnapshot(ctx, cur); err != nil {
			// Logged and swallowed: the remote copy is authoritative.
			s.log.Warn("local snapshot write failed", zap.Error(err))
		}
	}

	s.metrics.Saves.WithLabelValues(SaveApplied).Inc()
	s.metrics.DeltaRecords.WithLabelValues(string(domain.KindCylinder)).Add(float64(len(delta.Cylinders)))
	s.metrics.DeltaRecords.WithLabelValues(string(domain.KindCustomer)).Add(float64(len(delta.Customers)))
	s.metrics.DeltaRecords.WithLabelValues(string(domain.KindTransaction)).Add(float64(len(delta.Transactions)))

	if !delta.Empty() {
		if err := s.pushDelta(ctx, delta); err != nil {
			s.log.Warn("remote push failed, scheduling retries",
				zap.Int("records", delta.Size()), zap.Error(err))
			s.retryPush(delta)
		}
	}

	// The delta is captured; the baseline advances regardless of push
	// outcome so retries and later saves never double-count changes.
	s.baseline = cur.Clone()
	s.lastSaved = curBytes
}

func (s *Store) pushDelta(ctx context.Context, delta Delta) error {
	if err := s.remote.UpsertCustomers(ctx, delta.Customers); err != nil {
		return fmt.Errorf("push customers: %w", err)
	}
	if err := s.remote.UpsertCylinders(ctx, delta.Cylinders); err != nil {
		return fmt.Errorf("push cylinders: %w", err)
	}
	if err := s.remote.UpsertTransactions(ctx, delta.Transactions); err != nil {
		return fmt.Errorf("push transactions: %w", err)
	}
	return nil
}

// retryPush retries a captured delta in the background so the caller's
// request is never held hostage by a flaky remote. The delta is immutable
// and keyed on ids, so replays are harmless.
func (s *Store) retryPush(delta Delta) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		attempt := 0
		op := func() (struct{}, error) {
			attempt++
			s.metrics.RemoteRetries.Inc()
			err := s.pushDelta(context.Background(), delta)
			if err != nil {
				s.log.Warn("remote push retry failed", zap.Int("attempt", attempt), zap.Error(err))
			}
			return struct{}{}, err
		}
		_, err := backoff.Retry(context.Background(), op,
			backoff.WithBackOff(&linearBackOff{step: s.retryDelay}),
			backoff.WithMaxTries(remoteRetries))
		if err != nil {
			s.metrics.RemoteErrors.Inc()
			s.log.Error("remote push abandoned after retries",
				zap.Int("records", delta.Size()), zap.Error(err))
			return
		}
		s.log.Info("remote push recovered", zap.Int("attempt", attempt))
	}()
}

// linearBackOff waits step, then 2*step, and so on.
type linearBackOff struct {
	step time.Duration
	next time.Duration
}

func (b *linearBackOff) NextBackOff() time.Duration {
	if b.next == 0 {
		b.next = b.step
	}
	d := b.next
	b.next += b.step
	return d
}

func (b *linearBackOff) Reset() { b.next = b.step }

// ArchiveSnapshot writes the committed state to the archive under key. An
// empty key derives one from the current time.
func (s *Store) ArchiveSnapshot(ctx context.Context, key string) (archive.Info, error) {
	if s.archive == nil {
		return archive.Info{}, fmt.Errorf("store: no archive configured")
	}
	snap := s.Snapshot()
	snap.SavedAt = s.now()
	if key == "" {
		key = fmt.Sprintf("snapshots/%s.json", snap.SavedAt.UTC().Format("2006-01-02T15-04-05Z"))
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return archive.Info{}, fmt.Errorf("encode snapshot: %w", err)
	}
	info, err := s.archive.Put(ctx, key, bytes.NewReader(data), "application/json")
	if err != nil {
		return archive.Info{}, fmt.Errorf("archive snapshot: %w", err)
	}
	s.log.Info("archived snapshot", zap.String("key", info.Key), zap.Int64("bytes", info.Size))
	return info, nil
}

func cloneCylinders(in []domain.Cylinder) []domain.Cylinder {
	out := make([]domain.Cylinder, len(in))
	for i, c := range in {
		out[i] = c.Clone()
	}
	return out
}

// mustCompareBytes renders a snapshot for change detection, ignoring the
// save stamp so saving by itself never makes the state look dirty.
func mustCompareBytes(snap domain.Snapshot) []byte {
	snap.SavedAt = time.Time{}
	b, err := json.Marshal(snap)
	if err != nil {
		// Domain types marshal cleanly by construction.
		panic(fmt.Sprintf("snapshot marshal: %v", err))
	}
	return b
}
