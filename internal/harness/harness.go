package harness

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/roach88/streampay/internal/engine"
	"github.com/roach88/streampay/internal/ir"
	"github.com/roach88/streampay/internal/store"
	"github.com/roach88/streampay/internal/testutil"
)

// DefaultStart is the clock's starting time when a scenario sets none.
const DefaultStart int64 = 1_700_000_000

// Harness runs one scenario against a private in-memory ledger.
type Harness struct {
	store  *store.Store
	engine *engine.Engine
	clock  *testutil.ManualClock
	start  int64

	actors  map[string]ir.Address
	names   map[ir.Address]string
	streams map[string]int64
	ids     map[int64]string
}

// ActorAddress is the address a scenario actor name stands for.
func ActorAddress(name string) ir.Address {
	sum := sha256.Sum256([]byte("streampay/actor/" + name))
	a, err := ir.AddressFromBytes(sum[:])
	if err != nil {
		panic(err)
	}
	return a
}

// Run executes a scenario. A returned error means the scenario could not be
// run at all; failed expectations are reported in Result.Errors.
func Run(ctx context.Context, sc *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	start := sc.Start
	if start == 0 {
		start = DefaultStart
	}
	h := &Harness{
		store:   st,
		clock:   testutil.NewManualClock(start),
		start:   start,
		actors:  map[string]ir.Address{},
		names:   map[ir.Address]string{},
		streams: map[string]int64{},
		ids:     map[int64]string{},
	}

	opts := []engine.Option{
		engine.WithClock(h.clock),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		engine.WithNonceSource(testutil.NewSequenceNonces(sc.Name)),
	}
	if sc.FeeBPS != nil {
		opts = append(opts, engine.WithFeeBPS(*sc.FeeBPS))
	}
	if len(sc.Operators) > 0 {
		var ops []ir.Address
		for _, name := range sc.Operators {
			a, err := h.actor(name)
			if err != nil {
				return nil, err
			}
			ops = append(ops, a)
		}
		opts = append(opts, engine.WithOperators(ops...))
	}
	h.engine = engine.New(st, opts...)

	result := NewResult()
	for i, step := range sc.Steps {
		if err := h.runStep(ctx, i, step, result); err != nil {
			return nil, err
		}
	}

	events, err := h.engine.Events(ctx, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	for _, ev := range events {
		result.Trace = append(result.Trace, h.traceEvent(ev))
	}

	for i, a := range sc.Assertions {
		if err := h.check(ctx, a, events); err != nil {
			result.AddError(fmt.Sprintf("assertions[%d] (%s): %v", i, a.Type, err))
		}
	}
	return result, nil
}

func (h *Harness) runStep(ctx context.Context, i int, step Step, result *Result) error {
	if step.Op == OpAdvance {
		h.clock.Advance(step.Seconds)
		result.Steps = append(result.Steps, StepOutcome{Index: i, Op: step.Op})
		return nil
	}

	out, opErr := h.invoke(ctx, step)
	outcome := StepOutcome{Index: i, Op: step.Op}
	if opErr != nil {
		code := engine.CodeOf(opErr)
		if code == "" {
			return fmt.Errorf("steps[%d] %s: %w", i, step.Op, opErr)
		}
		outcome.Error = string(code)
	} else if out != nil {
		m, err := toMap(out)
		if err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
		outcome.Result = m
	}
	result.Steps = append(result.Steps, outcome)

	want := ""
	if step.Expect != nil {
		want = step.Expect.Error
	}
	if outcome.Error != want {
		if want == "" {
			result.AddError(fmt.Sprintf("steps[%d] %s: unexpected error %v", i, step.Op, opErr))
		} else {
			result.AddError(fmt.Sprintf("steps[%d] %s: want error %s, got %q", i, step.Op, want, outcome.Error))
		}
		return nil
	}
	if step.Expect != nil && outcome.Error == "" {
		for _, msg := range h.matchFields(outcome.Result, step.Expect.Result) {
			result.AddError(fmt.Sprintf("steps[%d] %s: %s", i, step.Op, msg))
		}
	}
	return nil
}

// invoke performs one ledger operation and returns its result value.
func (h *Harness) invoke(ctx context.Context, step Step) (any, error) {
	caller, err := h.actor(step.As)
	if err != nil {
		return nil, err
	}
	amount, err := optionalAmount(step.Amount)
	if err != nil {
		return nil, err
	}
	who := ir.Owner(caller)
	if step.Operator {
		who = ir.Operator(caller)
	}
	id := h.streams[step.Stream]

	switch step.Op {
	case OpInit:
		return h.engine.Initialize(ctx, caller)

	case OpFund:
		balance, err := h.engine.Fund(ctx, caller, amount)
		if err != nil {
			return nil, err
		}
		return map[string]string{"balance": balance.String()}, nil

	case OpCreate:
		to := step.To
		if !strings.Contains(to, ":") {
			a, err := h.actor(to)
			if err != nil {
				return nil, err
			}
			to = a.String()
		}
		res, err := h.engine.Create(ctx, engine.CreateRequest{
			Sender:    caller,
			Recipient: to,
			Amount:    amount,
			Duration:  step.Duration,
			StartTime: step.StartAt,
			Message:   step.Message,
		})
		if err != nil {
			return nil, err
		}
		name := step.Save
		if name == "" {
			name = "#" + strconv.FormatInt(res.StreamID, 10)
		}
		h.streams[name] = res.StreamID
		h.ids[res.StreamID] = name
		if res.Placeholder {
			h.nameAddress(res.Recipient, "placeholder("+step.To+")")
		}
		return res, nil

	case OpClaim:
		return h.engine.Claim(ctx, engine.ClaimRequest{Caller: who, StreamID: id, Amount: amount, IntentKey: step.Intent})

	case OpCancel:
		return h.engine.Cancel(ctx, engine.CancelRequest{Caller: who, StreamID: id})

	case OpRebind, OpClaimIdentity:
		newAddr, err := h.actor(step.NewAddress)
		if err != nil {
			return nil, err
		}
		s, err := h.engine.GetStream(ctx, id)
		if err != nil {
			return nil, err
		}
		if step.Op == OpRebind {
			return h.engine.Rebind(ctx, engine.RebindRequest{
				Caller: who, StreamID: id, IdentityHash: s.RecipientIdentityHash, NewAddress: newAddr,
			})
		}
		return h.engine.ClaimWithIdentity(ctx, engine.IdentityClaimRequest{
			Caller: who, StreamID: id, IdentityHash: s.RecipientIdentityHash,
			NewAddress: newAddr, Amount: amount, IntentKey: step.Intent,
		})
	}
	return nil, fmt.Errorf("unknown op %q", step.Op)
}

// actor resolves a name or literal address, remembering names for traces.
func (h *Harness) actor(name string) (ir.Address, error) {
	if name == "" {
		return "", fmt.Errorf("missing actor")
	}
	if a, ok := h.actors[name]; ok {
		return a, nil
	}
	if strings.HasPrefix(name, "0x") {
		a, err := ir.ParseAddress(name)
		if err != nil {
			return "", err
		}
		return a, nil
	}
	a := ActorAddress(name)
	h.actors[name] = a
	h.nameAddress(a, name)
	return a, nil
}

func (h *Harness) nameAddress(a ir.Address, name string) {
	if _, ok := h.names[a]; !ok {
		h.names[a] = name
	}
}

// traceEvent renders ev with names in place of addresses and stream ids.
// The content-addressed ID is dropped since it hashes raw addresses.
func (h *Harness) traceEvent(ev ir.Event) TraceEvent {
	te := TraceEvent{
		Seq:  ev.Seq,
		Kind: string(ev.Kind),
		At:   ev.At - h.start,
	}
	if ev.StreamID != 0 {
		te.Stream = h.streamName(ev.StreamID)
	}
	if len(ev.Attrs) > 0 {
		te.Attrs = make(map[string]string, len(ev.Attrs))
		for k, v := range ev.Attrs {
			te.Attrs[k] = h.rename(k, v)
		}
	}
	return te
}

func (h *Harness) rename(key, v string) string {
	if name, ok := h.names[ir.Address(v)]; ok {
		return name
	}
	if key == "streams" && v != "" {
		parts := strings.Split(v, ",")
		for i, p := range parts {
			if id, err := strconv.ParseInt(p, 10, 64); err == nil {
				parts[i] = h.streamName(id)
			}
		}
		return strings.Join(parts, ",")
	}
	return v
}

func (h *Harness) streamName(id int64) string {
	if name, ok := h.ids[id]; ok {
		return name
	}
	return "#" + strconv.FormatInt(id, 10)
}

// matchFields compares want against got's flattened JSON form. Expected
// values may name actors; they are compared by address.
func (h *Harness) matchFields(got map[string]any, want map[string]string) []string {
	flat := map[string]string{}
	flatten("", got, flat)

	keys := make([]string, 0, len(want))
	for k := range want {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var msgs []string
	for _, k := range keys {
		expected := want[k]
		if a, ok := h.actors[expected]; ok {
			expected = a.String()
		}
		actual, ok := flat[k]
		if !ok {
			msgs = append(msgs, fmt.Sprintf("field %q missing", k))
			continue
		}
		if actual != expected {
			msgs = append(msgs, fmt.Sprintf("field %q = %q, want %q", k, actual, expected))
		}
	}
	return msgs
}

func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return m, nil
}

func flatten(prefix string, v any, out map[string]string) {
	switch x := v.(type) {
	case map[string]any:
		for k, child := range x {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			flatten(key, child, out)
		}
	case nil:
		out[prefix] = ""
	default:
		out[prefix] = fmt.Sprint(x)
	}
}

func optionalAmount(s string) (ir.Amount, error) {
	if s == "" {
		return ir.Amount{}, nil
	}
	return ir.ParseAmount(s)
}
