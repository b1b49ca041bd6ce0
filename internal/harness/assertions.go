package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/streampay/internal/ir"
)

// AssertionError describes a failed final-state check.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("expected %s, got %s", e.Expected, e.Actual)
}

func (h *Harness) check(ctx context.Context, a Assertion, events []ir.Event) error {
	switch a.Type {
	case AssertStream:
		s, err := h.engine.GetStream(ctx, h.streams[a.Stream])
		if err != nil {
			return err
		}
		return h.subset(a, s)

	case AssertClaimable:
		got, err := h.engine.Claimable(ctx, h.streams[a.Stream])
		if err != nil {
			return err
		}
		return equalAmount(a, got)

	case AssertBalance:
		addr, err := h.actor(a.Actor)
		if err != nil {
			return err
		}
		got, err := h.engine.Balance(ctx, addr)
		if err != nil {
			return err
		}
		return equalAmount(a, got)

	case AssertPool:
		p, err := h.engine.Pool(ctx)
		if err != nil {
			return err
		}
		return h.subset(a, p)

	case AssertEventCount:
		return assertEventCount(events, a)

	case AssertEventOrder:
		return assertEventOrder(events, a)

	case AssertBalanced:
		rep, err := h.engine.Audit(ctx)
		if err != nil {
			return err
		}
		if !rep.Balanced {
			return &AssertionError{
				Type:     a.Type,
				Expected: "escrow == outstanding",
				Actual:   fmt.Sprintf("escrow %s, outstanding %s", rep.EscrowBalance, rep.Outstanding),
			}
		}
		return nil
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

func (h *Harness) subset(a Assertion, v any) error {
	m, err := toMap(v)
	if err != nil {
		return err
	}
	if msgs := h.matchFields(m, a.Fields); len(msgs) > 0 {
		return &AssertionError{Type: a.Type, Expected: "fields to match", Actual: strings.Join(msgs, "; ")}
	}
	return nil
}

func equalAmount(a Assertion, got ir.Amount) error {
	want, err := ir.ParseAmount(a.Equals)
	if err != nil {
		return err
	}
	if want.Cmp(got) != 0 {
		return &AssertionError{Type: a.Type, Expected: want.String(), Actual: got.String()}
	}
	return nil
}

func assertEventCount(events []ir.Event, a Assertion) error {
	n := 0
	for _, ev := range events {
		if string(ev.Kind) == a.Kind {
			n++
		}
	}
	if n != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d %s events", a.Count, a.Kind),
			Actual:   fmt.Sprintf("%d", n),
		}
	}
	return nil
}

// assertEventOrder checks the first occurrence of each kind appears in the
// listed order. Other events may come between them.
func assertEventOrder(events []ir.Event, a Assertion) error {
	first := map[string]int{}
	for i, ev := range events {
		if _, seen := first[string(ev.Kind)]; !seen {
			first[string(ev.Kind)] = i
		}
	}
	for _, k := range a.Kinds {
		if _, ok := first[k]; !ok {
			return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("a %s event", k), Actual: "none"}
		}
	}
	for i := 1; i < len(a.Kinds); i++ {
		prev, curr := a.Kinds[i-1], a.Kinds[i]
		if first[prev] >= first[curr] {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%s before %s", prev, curr),
				Actual:   fmt.Sprintf("positions %d and %d", first[prev], first[curr]),
			}
		}
	}
	return nil
}
