package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rl1809/carbon-exchange/internal/core/domain"
	"github.com/rl1809/carbon-exchange/internal/port"
)

const (
	maxFeeBasisPoints = 10000
	defaultOutboxSize = 1024
	restorePageSize   = 500
)

// Config holds the deployment-time parameters of a Book.
type Config struct {
	Owner          string
	Treasury       string
	FeeBasisPoints int64
}

// Option customizes a Book.
type Option func(*Book)

func WithLogger(log logrus.FieldLogger) Option {
	return func(b *Book) { b.log = log }
}

func WithMetrics(m port.MetricsRecorder) Option {
	return func(b *Book) { b.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(b *Book) { b.now = now }
}

func WithOutboxSize(n int) Option {
	return func(b *Book) { b.outboxSize = n }
}

// Book is the single sequencer behind the ledger and the marketplace. All
// mutating operations run one at a time under mu and either commit entirely
// (state, payments and events) or leave no trace.
type Book struct {
	mu sync.RWMutex

	owner    string
	treasury string
	feeBps   int64

	accounts       map[string]*domain.Account
	batches        []domain.CreditBatch
	projectCredits map[string]int64
	listings       []domain.Listing
	minted         int64
	retired        int64
	seq            int64

	events   port.EventStore
	payments port.PaymentGateway
	metrics  port.MetricsRecorder
	log      logrus.FieldLogger
	now      func() time.Time

	outboxSize int
	outbox     chan domain.Event
	closed     bool
}

// NewBook creates an empty book. payments may be nil when the book is only
// used for ledger operations or replay; purchases then fail.
func NewBook(cfg Config, events port.EventStore, payments port.PaymentGateway, opts ...Option) (*Book, error) {
	if cfg.Owner == "" {
		return nil, errors.New("owner identity is required")
	}
	if domain.IsReservedAccount(cfg.Owner) || domain.IsReservedAccount(cfg.Treasury) {
		return nil, fmt.Errorf("%w: owner and treasury cannot be marketplace accounts", domain.ErrInvalidAccount)
	}
	if cfg.Treasury == "" {
		cfg.Treasury = cfg.Owner
	}
	if cfg.FeeBasisPoints < 0 || cfg.FeeBasisPoints > maxFeeBasisPoints {
		return nil, fmt.Errorf("fee basis points %d out of range [0, %d]", cfg.FeeBasisPoints, maxFeeBasisPoints)
	}
	if events == nil {
		return nil, errors.New("event store is required")
	}

	b := &Book{
		owner:          cfg.Owner,
		treasury:       cfg.Treasury,
		feeBps:         cfg.FeeBasisPoints,
		accounts:       make(map[string]*domain.Account),
		projectCredits: make(map[string]int64),
		events:         events,
		payments:       payments,
		metrics:        nopMetrics{},
		log:            discardLogger(),
		now:            time.Now,
		outboxSize:     defaultOutboxSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.outbox = make(chan domain.Event, b.outboxSize)
	b.accounts[domain.EscrowAccount] = &domain.Account{ID: domain.EscrowAccount}
	return b, nil
}

// Outbox delivers committed events in commit order.
func (b *Book) Outbox() <-chan domain.Event {
	return b.outbox
}

// Close stops delivery to the outbox. Operations committed afterwards are
// still durable in the event store.
func (b *Book) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.outbox)
	}
}

// IsOwner reports whether caller holds the platform-owner capability.
func (b *Book) IsOwner(caller string) bool {
	return caller == b.owner
}

func (b *Book) Treasury() string { return b.treasury }

// Seq returns the sequence number of the last committed event.
func (b *Book) Seq() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.seq
}

// Supply returns the current credit totals.
func (b *Book) Supply() domain.Supply {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.supplyLocked()
}

func (b *Book) supplyLocked() domain.Supply {
	escrowed := b.accounts[domain.EscrowAccount].Balance
	return domain.Supply{
		Minted:      b.minted,
		Retired:     b.retired,
		Escrowed:    escrowed,
		Circulating: b.minted - b.retired - escrowed,
	}
}

// apply runs fn as one serialized, all-or-nothing operation.
func (b *Book) apply(ctx context.Context, op, caller string, fn func(tx *txn) error) (err error) {
	start := time.Now()
	defer func() { b.metrics.ObserveOperation(op, err, time.Since(start)) }()

	b.mu.Lock()
	defer b.mu.Unlock()

	tx := &txn{book: b, op: op, actor: caller, at: b.now().UTC()}
	err = fn(tx)
	if err == nil {
		err = b.verifyLocked()
	}
	if err == nil {
		err = b.commitLocked(ctx, tx)
	}
	if err != nil {
		if rbErr := tx.rollback(ctx); rbErr != nil {
			err = errors.Join(err, rbErr)
		}
		b.log.WithFields(logrus.Fields{
			"op":     op,
			"caller": caller,
			"kind":   domain.KindOf(err),
		}).WithError(err).Debug("operation rejected")
		return err
	}

	b.metrics.ObserveSupply(b.supplyLocked())
	return nil
}

func (b *Book) commitLocked(ctx context.Context, tx *txn) error {
	if len(tx.events) == 0 {
		return nil
	}
	for i := range tx.events {
		tx.events[i].Seq = b.seq + int64(i) + 1
	}
	if err := b.events.Append(ctx, tx.events...); err != nil {
		return fmt.Errorf("append events: %w", err)
	}
	b.seq += int64(len(tx.events))

	for _, e := range tx.events {
		b.log.WithFields(logrus.Fields{
			"op":     tx.op,
			"caller": tx.actor,
			"seq":    e.Seq,
			"event":  e.Type,
		}).Info("event committed")
		b.offer(e)
	}
	return nil
}

// offer hands e to the outbox without blocking the sequencer.
func (b *Book) offer(e domain.Event) {
	if b.closed {
		return
	}
	select {
	case b.outbox <- e:
	default:
		b.metrics.OutboxDropped()
		b.log.WithField("seq", e.Seq).Warn("outbox full, event notification dropped")
	}
}

// verifyLocked re-checks the conservation law and escrow invariant.
func (b *Book) verifyLocked() error {
	var balances int64
	for id, a := range b.accounts {
		if a.Balance < 0 {
			return fmt.Errorf("%w: negative balance %d for %s", domain.ErrInvariantViolation, a.Balance, id)
		}
		balances += a.Balance
	}
	if balances+b.retired != b.minted {
		return fmt.Errorf("%w: balances %d + retired %d != minted %d",
			domain.ErrInvariantViolation, balances, b.retired, b.minted)
	}

	var escrowed int64
	for _, l := range b.listings {
		if l.Active {
			escrowed += l.RemainingAmount
		}
	}
	if held := b.accounts[domain.EscrowAccount].Balance; held != escrowed {
		return fmt.Errorf("%w: escrow holds %d, active listings %d", domain.ErrInvariantViolation, held, escrowed)
	}

	perProject := make(map[string]int64, len(b.projectCredits))
	var retired int64
	for _, bt := range b.batches {
		perProject[bt.ProjectID] += bt.Amount
		if bt.Retired {
			retired += bt.Amount
		}
	}
	if retired != b.retired {
		return fmt.Errorf("%w: retired batches %d != retired total %d", domain.ErrInvariantViolation, retired, b.retired)
	}
	if len(perProject) != len(b.projectCredits) {
		return fmt.Errorf("%w: %d projects minted, %d tracked", domain.ErrInvariantViolation, len(perProject), len(b.projectCredits))
	}
	for p, total := range b.projectCredits {
		if perProject[p] != total {
			return fmt.Errorf("%w: project %s credits %d != batches %d",
				domain.ErrInvariantViolation, p, total, perProject[p])
		}
	}
	return nil
}

// checkIdentity rejects identities that cannot take part in an operation.
func checkIdentity(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty identity", domain.ErrInvalidAccount)
	}
	if domain.IsReservedAccount(id) {
		return fmt.Errorf("%w: %s is reserved", domain.ErrInvalidAccount, id)
	}
	return nil
}

func (b *Book) accountCopy(id string) domain.Account {
	a, ok := b.accounts[id]
	if !ok {
		return domain.Account{ID: id}
	}
	return a.Clone()
}

func (b *Book) batchLocked(id int64) (*domain.CreditBatch, error) {
	if id < 1 || id > int64(len(b.batches)) {
		return nil, fmt.Errorf("batch %d: %w", id, domain.ErrNotFound)
	}
	return &b.batches[id-1], nil
}

func (b *Book) listingLocked(id int64) (*domain.Listing, error) {
	if id < 1 || id > int64(len(b.listings)) {
		return nil, fmt.Errorf("listing %d: %w", id, domain.ErrNotFound)
	}
	return &b.listings[id-1], nil
}

func (b *Book) activeListingIDs() []int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var ids []int64
	for _, l := range b.listings {
		if l.Active {
			ids = append(ids, l.ID)
		}
	}
	return ids
}

// txn stages the effects of one operation so they can be undone.
type txn struct {
	book   *Book
	op     string
	actor  string
	at     time.Time
	undo   []func(ctx context.Context) error
	events []domain.Event
}

func (tx *txn) onRollback(fn func(ctx context.Context) error) {
	tx.undo = append(tx.undo, fn)
}

// rollback reverts staged effects in reverse order. Compensation failures are
// logged and returned; the in-memory state is always fully restored.
func (tx *txn) rollback(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	var errs []error
	for _, fn := range slices.Backward(tx.undo) {
		if err := fn(ctx); err != nil {
			tx.book.log.WithFields(logrus.Fields{
				"op":     tx.op,
				"caller": tx.actor,
			}).WithError(err).Error("CRITICAL compensation failed")
			errs = append(errs, err)
		}
	}
	tx.undo = nil
	tx.events = nil
	return errors.Join(errs...)
}

func (tx *txn) emit(typ domain.EventType, payload any) error {
	e, err := domain.NewEvent(typ, tx.actor, tx.at, payload)
	if err != nil {
		return err
	}
	tx.events = append(tx.events, e)
	return nil
}

// account returns the account for id, creating it if needed. A creation is
// undone on rollback.
func (tx *txn) account(id string) *domain.Account {
	b := tx.book
	if a, ok := b.accounts[id]; ok {
		return a
	}
	a := &domain.Account{ID: id}
	b.accounts[id] = a
	tx.onRollback(func(context.Context) error {
		delete(b.accounts, id)
		return nil
	})
	return a
}

func (tx *txn) credit(id string, amount int64) error {
	a := tx.account(id)
	next, ok := addInt64(a.Balance, amount)
	if !ok {
		return fmt.Errorf("credit %d to %s: %w", amount, id, domain.ErrOverflow)
	}
	prev := a.Balance
	a.Balance = next
	tx.onRollback(func(context.Context) error {
		a.Balance = prev
		return nil
	})
	return nil
}

func (tx *txn) debit(id string, amount int64) error {
	a := tx.account(id)
	if a.Balance < amount {
		return fmt.Errorf("debit %d from %s (balance %d): %w", amount, id, a.Balance, domain.ErrInsufficientBalance)
	}
	prev := a.Balance
	a.Balance -= amount
	tx.onRollback(func(context.Context) error {
		a.Balance = prev
		return nil
	})
	return nil
}

// move transfers credits between two accounts inside tx.
func (tx *txn) move(from, to string, amount int64) error {
	if err := tx.debit(from, amount); err != nil {
		return err
	}
	return tx.credit(to, amount)
}

type nopMetrics struct{}

func (nopMetrics) ObserveOperation(string, error, time.Duration) {}
func (nopMetrics) ObserveSupply(domain.Supply)                   {}
func (nopMetrics) OutboxDropped()                                {}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
