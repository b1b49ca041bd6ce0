package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/roach88/streampay/internal/identity"
	"github.com/roach88/streampay/internal/ir"
	"github.com/roach88/streampay/internal/registry"
	"github.com/roach88/streampay/internal/store"
)

const (
	// DefaultFeeBPS is the protocol fee applied at Initialize (0.25%).
	DefaultFeeBPS uint32 = 25

	// DefaultMaxMessageLen bounds stream messages, in runes.
	DefaultMaxMessageLen = 280
)

// Publisher receives events after the transaction that wrote them commits.
// Implemented by *dispatch.Dispatcher.
type Publisher interface {
	Publish(ev ir.Event) bool
}

// Engine is the stream ledger. It holds no mutable ledger state of its own:
// everything lives in the store and is read and written inside one
// transaction per operation.
//
// Thread-safety: all methods are safe for concurrent use. The store
// serialises writers.
type Engine struct {
	store         *store.Store
	clock         Clock
	nonces        identity.NonceSource
	publisher     Publisher
	logger        *slog.Logger
	validate      *validator.Validate
	feeBPS        uint32
	maxMessageLen int
	operators     map[ir.Address]struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source. Default: SystemClock.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithFeeBPS sets the fee recorded by Initialize. Has no effect on an
// already-initialised pool; the fee is fixed at initialisation.
func WithFeeBPS(bps uint32) Option {
	return func(e *Engine) { e.feeBPS = bps }
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithPublisher sets where committed events go. Default: nowhere.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithOperators enables operator authority for the given addresses.
func WithOperators(addrs ...ir.Address) Option {
	return func(e *Engine) {
		for _, a := range addrs {
			e.operators[a] = struct{}{}
		}
	}
}

// WithNonceSource sets the nonce source for placeholder addresses.
// Default: identity.UUIDNonces.
func WithNonceSource(n identity.NonceSource) Option {
	return func(e *Engine) { e.nonces = n }
}

// WithMaxMessageLen bounds stream messages in runes.
func WithMaxMessageLen(n int) Option {
	return func(e *Engine) { e.maxMessageLen = n }
}

// New creates an engine over s.
func New(s *store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:         s,
		clock:         SystemClock{},
		nonces:        identity.UUIDNonces{},
		logger:        slog.Default(),
		validate:      validator.New(),
		feeBPS:        DefaultFeeBPS,
		maxMessageLen: DefaultMaxMessageLen,
		operators:     make(map[ir.Address]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Now returns the engine's current time.
func (e *Engine) Now() int64 {
	return e.clock.Now()
}

// IsOperator reports whether addr holds operator authority.
func (e *Engine) IsOperator(addr ir.Address) bool {
	_, ok := e.operators[addr]
	return ok
}

// unit is the state of one in-flight operation.
type unit struct {
	tx     *store.Tx
	reg    *registry.Registry
	now    int64
	events []ir.Event
}

// emit appends an audit event inside the unit's transaction.
func (u *unit) emit(ctx context.Context, kind ir.EventKind, streamID int64, attrs map[string]string) (ir.Event, error) {
	ev := ir.Event{Kind: kind, StreamID: streamID, At: u.now, Attrs: attrs}
	if err := u.tx.AppendEvent(ctx, &ev); err != nil {
		return ir.Event{}, err
	}
	u.events = append(u.events, ev)
	return ev, nil
}

// pool loads the pool, mapping absence to NOT_INITIALIZED.
func (u *unit) pool(ctx context.Context) (ir.Pool, error) {
	p, err := u.tx.GetPool(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return ir.Pool{}, newError(CodeNotInitialized, 0, "engine not initialized")
	}
	return p, err
}

// stream loads a stream, mapping absence to NOT_FOUND.
func (u *unit) stream(ctx context.Context, id int64) (ir.Stream, error) {
	s, err := u.tx.GetStream(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return ir.Stream{}, newError(CodeNotFound, id, "stream not found")
	}
	return s, err
}

// credit adds amount to addr's balance.
func (u *unit) credit(ctx context.Context, addr ir.Address, amount ir.Amount) error {
	if amount.IsZero() {
		return nil
	}
	bal, err := u.tx.GetBalance(ctx, addr)
	if err != nil {
		return err
	}
	bal, err = bal.Add(amount)
	if err != nil {
		return fmt.Errorf("credit %s: %w", addr, err)
	}
	return u.tx.SetBalance(ctx, addr, bal)
}

// update runs fn as one transaction and publishes the events it emitted
// once the transaction commits.
func (e *Engine) update(ctx context.Context, op string, fn func(u *unit) error) error {
	u := &unit{now: e.clock.Now()}
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		u.tx = tx
		u.reg = registry.New(tx)
		u.events = u.events[:0]
		return fn(u)
	})
	if err != nil {
		e.logFailure(op, err)
		return err
	}

	for _, ev := range u.events {
		e.logger.Info("event committed",
			"op", op,
			"seq", ev.Seq,
			"kind", ev.Kind,
			"stream_id", ev.StreamID,
		)
		if e.publisher != nil && !e.publisher.Publish(ev) {
			e.logger.Warn("event not published: dispatcher closed", "seq", ev.Seq, "kind", ev.Kind)
		}
	}
	return nil
}

func (e *Engine) logFailure(op string, err error) {
	var ee *Error
	switch {
	case errors.As(err, &ee) && ee.Code == CodeInsufficientPoolFunds:
		e.logger.Error("ledger consistency violation",
			"op", op,
			"stream_id", ee.StreamID,
			"error", err,
			"event", "insufficient_pool_funds",
		)
	case errors.As(err, &ee):
		e.logger.Debug("operation rejected", "op", op, "code", ee.Code, "stream_id", ee.StreamID, "error", ee.Message)
	default:
		e.logger.Error("operation failed", "op", op, "error", err)
	}
}

// checkAddress rejects addresses that did not come through ir.ParseAddress.
func checkAddress(field string, a ir.Address) error {
	parsed, err := ir.ParseAddress(string(a))
	if err != nil || parsed != a {
		return newError(CodeInvalidArgument, 0, "%s: invalid address %q", field, a)
	}
	return nil
}

// authorize checks that caller may act as owner.
func (e *Engine) authorize(caller ir.Caller, owner ir.Address, streamID int64, role string) error {
	switch caller.Authority {
	case ir.AuthorityOwner:
		if caller.Address != owner {
			return newError(CodeNotAuthorized, streamID, "caller %s is not the stream %s", caller.Address, role)
		}
		return nil
	case ir.AuthorityOperator:
		if !e.IsOperator(caller.Address) {
			return newError(CodeNotAuthorized, streamID, "caller %s is not an operator", caller.Address)
		}
		return nil
	default:
		return newError(CodeInvalidArgument, streamID, "unknown authority %d", caller.Authority)
	}
}

func callerAttrs(attrs map[string]string, c ir.Caller) map[string]string {
	attrs["caller"] = c.Address.String()
	attrs["authority"] = c.Authority.String()
	return attrs
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
