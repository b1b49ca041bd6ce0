package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/streampay/internal/identity"
	"github.com/roach88/streampay/internal/ir"
)

const bobEmail = "email:Bob@Example.com"

func bobHash(t *testing.T) ir.IdentityHash {
	t.Helper()
	id, err := identity.Parse(bobEmail)
	require.NoError(t, err)
	return id.Hash()
}

func TestCreate_IdentityGetsPlaceholder(t *testing.T) {
	f := newFixture(t, WithFeeBPS(0))
	ctx := context.Background()

	res := f.create(t, bobEmail, 1000, 1000)
	assert.True(t, res.Placeholder)
	assert.Equal(t, bobHash(t), res.IdentityHash)

	b, err := f.eng.ResolveIdentity(ctx, res.IdentityHash)
	require.NoError(t, err)
	assert.Equal(t, res.Recipient, b.Address)
	assert.False(t, b.Claimed)

	// A second stream to another spelling of the same mailbox reuses the binding.
	again := f.create(t, "bob@example.com", 500, 500)
	assert.Equal(t, res.Recipient, again.Recipient)

	v, err := f.eng.View(ctx, res.StreamID)
	require.NoError(t, err)
	assert.Equal(t, ir.RecipientUnclaimedIdentity, v.RecipientState)

	events, err := f.eng.Events(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "email", events[len(events)-1].Attr("channel"))
}

func TestClaim_PlaceholderCannotBePaid(t *testing.T) {
	f := newFixture(t, WithFeeBPS(0))
	res := f.create(t, bobEmail, 1000, 1000)
	f.clock.Advance(100)

	_, err := f.eng.Claim(context.Background(), ClaimRequest{Caller: ir.Owner(res.Recipient), StreamID: res.StreamID})
	assert.True(t, IsInvalidState(err))
}

func TestRebind_PreservesClaimAuthorization(t *testing.T) {
	f := newFixture(t, WithFeeBPS(0))
	ctx := context.Background()
	res := f.create(t, bobEmail, 1000, 1000)
	placeholder := res.Recipient
	f.clock.Advance(100)

	rr, err := f.eng.Rebind(ctx, RebindRequest{
		Caller:       ir.Owner(bob),
		StreamID:     res.StreamID,
		IdentityHash: bobHash(t),
		NewAddress:   bob,
	})
	require.NoError(t, err)
	assert.Equal(t, placeholder, rr.OldAddress)
	assert.Equal(t, bob, rr.NewAddress)
	assert.Equal(t, []int64{res.StreamID}, rr.StreamsUpdated)
	assert.False(t, rr.Noop)

	assert.Equal(t, bob, f.stream(t, res.StreamID).Recipient)

	_, err = f.eng.Claim(ctx, ClaimRequest{Caller: ir.Owner(placeholder), StreamID: res.StreamID})
	assert.True(t, IsNotAuthorized(err))

	cr, err := f.eng.Claim(ctx, ClaimRequest{Caller: ir.Owner(bob), StreamID: res.StreamID})
	require.NoError(t, err)
	assert.Equal(t, "100", cr.Amount.String())

	b, err := f.eng.ResolveIdentity(ctx, bobHash(t))
	require.NoError(t, err)
	assert.Equal(t, bob, b.Address)
	assert.True(t, b.Claimed)

	v, err := f.eng.View(ctx, res.StreamID)
	require.NoError(t, err)
	assert.Equal(t, ir.RecipientClaimedIdentity, v.RecipientState)
	f.requireBalanced(t)
}

func TestRebind_UpdatesEveryStreamOfTheIdentity(t *testing.T) {
	f := newFixture(t, WithFeeBPS(0))
	ctx := context.Background()
	a := f.create(t, bobEmail, 1000, 1000)
	b := f.create(t, bobEmail, 2000, 1000)
	other := f.create(t, "github:carol", 1000, 1000)

	rr, err := f.eng.Rebind(ctx, RebindRequest{Caller: ir.Owner(bob), StreamID: b.StreamID, IdentityHash: bobHash(t), NewAddress: bob})
	require.NoError(t, err)
	assert.Equal(t, []int64{a.StreamID, b.StreamID}, rr.StreamsUpdated)

	assert.Equal(t, bob, f.stream(t, a.StreamID).Recipient)
	assert.Equal(t, bob, f.stream(t, b.StreamID).Recipient)
	assert.Equal(t, other.Recipient, f.stream(t, other.StreamID).Recipient)

	in, err := f.eng.IncomingStreams(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, []int64{a.StreamID, b.StreamID}, in)

	// New streams to a claimed identity go straight to the owner.
	c := f.create(t, bobEmail, 100, 100)
	assert.Equal(t, bob, c.Recipient)
	assert.False(t, c.Placeholder)
}

func TestRebind_Rejections(t *testing.T) {
	f := newFixture(t, WithFeeBPS(0))
	ctx := context.Background()
	res := f.create(t, bobEmail, 1000, 1000)
	wallet := f.create(t, carol.String(), 1000, 1000)
	wrongHash := ir.HashIdentity("email", "mallory@example.com")

	tests := []struct {
		name string
		req  RebindRequest
		code ErrorCode
	}{
		{"hash mismatch", RebindRequest{Caller: ir.Owner(carol), StreamID: res.StreamID, IdentityHash: wrongHash, NewAddress: carol}, CodeNotAuthorized},
		{"owner binds someone else", RebindRequest{Caller: ir.Owner(carol), StreamID: res.StreamID, IdentityHash: bobHash(t), NewAddress: bob}, CodeNotAuthorized},
		{"operator not configured", RebindRequest{Caller: ir.Operator(operator), StreamID: res.StreamID, IdentityHash: bobHash(t), NewAddress: bob}, CodeNotAuthorized},
		{"wallet stream", RebindRequest{Caller: ir.Owner(carol), StreamID: wallet.StreamID, IdentityHash: bobHash(t), NewAddress: carol}, CodeInvalidState},
		{"missing stream", RebindRequest{Caller: ir.Owner(bob), StreamID: 99, IdentityHash: bobHash(t), NewAddress: bob}, CodeNotFound},
		{"bad address", RebindRequest{Caller: ir.Owner("0xbad"), StreamID: res.StreamID, IdentityHash: bobHash(t), NewAddress: "0xbad"}, CodeInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.eng.Rebind(ctx, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.code, CodeOf(err), err.Error())
		})
	}

	assert.Equal(t, res.Recipient, f.stream(t, res.StreamID).Recipient, "failed rebinds change nothing")
}

func TestRebind_OneWay(t *testing.T) {
	f := newFixture(t, WithFeeBPS(0))
	ctx := context.Background()
	res := f.create(t, bobEmail, 1000, 1000)
	req := RebindRequest{Caller: ir.Owner(bob), StreamID: res.StreamID, IdentityHash: bobHash(t), NewAddress: bob}

	_, err := f.eng.Rebind(ctx, req)
	require.NoError(t, err)

	rr, err := f.eng.Rebind(ctx, req)
	require.NoError(t, err)
	assert.True(t, rr.Noop)

	_, err = f.eng.Rebind(ctx, RebindRequest{Caller: ir.Owner(carol), StreamID: res.StreamID, IdentityHash: bobHash(t), NewAddress: carol})
	assert.True(t, IsInvalidState(err), "a claimed identity cannot be hijacked")
	assert.Equal(t, bob, f.stream(t, res.StreamID).Recipient)
}

func TestRebind_PlaceholderTargetRejected(t *testing.T) {
	f := newFixture(t, WithFeeBPS(0), WithOperators(operator))
	ctx := context.Background()
	res := f.create(t, bobEmail, 1000, 1000)
	carolStream := f.create(t, "github:carol", 1000, 1000)
	f.clock.Advance(100)

	self := RebindRequest{Caller: ir.Owner(res.Recipient), StreamID: res.StreamID, IdentityHash: bobHash(t), NewAddress: res.Recipient}
	_, err := f.eng.Rebind(ctx, self)
	assert.True(t, IsInvalidArgument(err), "got %v", err)

	self.Caller = ir.Operator(operator)
	_, err = f.eng.Rebind(ctx, self)
	assert.True(t, IsInvalidArgument(err), "got %v", err)

	_, err = f.eng.Rebind(ctx, RebindRequest{
		Caller:       ir.Owner(carolStream.Recipient),
		StreamID:     res.StreamID,
		IdentityHash: bobHash(t),
		NewAddress:   carolStream.Recipient,
	})
	assert.True(t, IsInvalidArgument(err), "got %v", err)

	b, err := f.eng.ResolveIdentity(ctx, bobHash(t))
	require.NoError(t, err)
	assert.Equal(t, res.Recipient, b.Address)
	assert.False(t, b.Claimed)

	_, err = f.eng.Claim(ctx, ClaimRequest{Caller: ir.Owner(res.Recipient), StreamID: res.StreamID})
	assert.True(t, IsInvalidState(err), "placeholder still cannot be paid")

	out, err := f.eng.ClaimWithIdentity(ctx, IdentityClaimRequest{
		Caller: ir.Owner(bob), StreamID: res.StreamID, IdentityHash: bobHash(t), NewAddress: bob,
	})
	require.NoError(t, err, "the real owner can still bind")
	assert.Equal(t, "100", out.Claim.Amount.String())
	f.requireBalanced(t)
}

func TestCreate_WalletRecipientMustNotBePlaceholder(t *testing.T) {
	f := newFixture(t, WithFeeBPS(0))
	ctx := context.Background()
	res := f.create(t, bobEmail, 1000, 1000)

	_, err := f.eng.Create(ctx, CreateRequest{
		Sender:    alice,
		Recipient: res.Recipient.String(),
		Amount:    ir.NewAmount(500),
		Duration:  100,
	})
	assert.True(t, IsInvalidArgument(err), "got %v", err)

	n, err := f.eng.StreamCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = f.eng.Rebind(ctx, RebindRequest{Caller: ir.Owner(bob), StreamID: res.StreamID, IdentityHash: bobHash(t), NewAddress: bob})
	require.NoError(t, err)

	// After the rebind the old placeholder is no longer bound to anything.
	f.create(t, res.Recipient.String(), 500, 100)
}

func TestRebind_AddressOwnedByAnotherIdentity(t *testing.T) {
	f := newFixture(t, WithFeeBPS(0))
	ctx := context.Background()
	carolStream := f.create(t, "github:carol", 1000, 1000)
	bobStream := f.create(t, bobEmail, 1000, 1000)

	carolID, err := identity.Parse("github:carol")
	require.NoError(t, err)
	_, err = f.eng.Rebind(ctx, RebindRequest{Caller: ir.Owner(carol), StreamID: carolStream.StreamID, IdentityHash: carolID.Hash(), NewAddress: carol})
	require.NoError(t, err)

	_, err = f.eng.Rebind(ctx, RebindRequest{Caller: ir.Owner(carol), StreamID: bobStream.StreamID, IdentityHash: bobHash(t), NewAddress: carol})
	assert.True(t, IsInvalidState(err))
}

func TestRebind_MovesPlaceholderBalance(t *testing.T) {
	f := newFixture(t, WithFeeBPS(0))
	ctx := context.Background()
	res := f.create(t, bobEmail, 1000, 1000)
	f.clock.Advance(300)

	_, err := f.eng.Cancel(ctx, CancelRequest{Caller: ir.Owner(alice), StreamID: res.StreamID})
	require.NoError(t, err)
	assert.Equal(t, "300", f.balance(t, res.Recipient))

	rr, err := f.eng.Rebind(ctx, RebindRequest{Caller: ir.Owner(bob), StreamID: res.StreamID, IdentityHash: bobHash(t), NewAddress: bob})
	require.NoError(t, err)
	assert.Equal(t, "300", rr.MovedBalance.String())
	assert.Equal(t, "300", f.balance(t, bob))
	assert.Equal(t, "0", f.balance(t, res.Recipient))
}

func TestRebind_Operator(t *testing.T) {
	f := newFixture(t, WithFeeBPS(0), WithOperators(operator))
	ctx := context.Background()
	res := f.create(t, bobEmail, 1000, 1000)

	_, err := f.eng.Rebind(ctx, RebindRequest{Caller: ir.Operator(operator), StreamID: res.StreamID, IdentityHash: bobHash(t), NewAddress: bob})
	require.NoError(t, err)
	assert.Equal(t, bob, f.stream(t, res.StreamID).Recipient)

	events, err := f.eng.Events(ctx, 0, 0)
	require.NoError(t, err)
	last := events[len(events)-1]
	assert.Equal(t, ir.EventIdentityRebound, last.Kind)
	assert.Equal(t, "operator", last.Attr("authority"))
	assert.Equal(t, bob.String(), last.Attr("new_address"))
}

func TestClaimWithIdentity(t *testing.T) {
	f := newFixture(t, WithFeeBPS(0))
	ctx := context.Background()
	res := f.create(t, bobEmail, 1000, 1000)
	f.clock.Advance(100)

	out, err := f.eng.ClaimWithIdentity(ctx, IdentityClaimRequest{
		Caller:       ir.Owner(bob),
		StreamID:     res.StreamID,
		IdentityHash: bobHash(t),
		NewAddress:   bob,
	})
	require.NoError(t, err)
	assert.Equal(t, bob, out.Rebind.NewAddress)
	assert.Equal(t, "100", out.Claim.Amount.String())
	assert.Equal(t, "100", f.balance(t, bob))
	f.requireBalanced(t)
}

func TestClaimWithIdentity_RollsBackRebindWhenClaimFails(t *testing.T) {
	f := newFixture(t, WithFeeBPS(0))
	ctx := context.Background()
	res := f.create(t, bobEmail, 1000, 1000)

	_, err := f.eng.ClaimWithIdentity(ctx, IdentityClaimRequest{
		Caller:       ir.Owner(bob),
		StreamID:     res.StreamID,
		IdentityHash: bobHash(t),
		NewAddress:   bob,
	})
	assert.True(t, IsNothingToClaim(err))

	assert.Equal(t, res.Recipient, f.stream(t, res.StreamID).Recipient)
	b, err := f.eng.ResolveIdentity(ctx, bobHash(t))
	require.NoError(t, err)
	assert.False(t, b.Claimed)
}
