package state

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"liquidity/internal/domain"
	"liquidity/internal/platform/config"
	"liquidity/internal/zone/protocol"
)

func newZone(created int64) *domain.Zone {
	return &domain.Zone{
		ID:              "z1",
		EquityAccountID: "0",
		Members: map[domain.MemberID]domain.Member{
			"0": {ID: "0", OwnerPublicKeys: []domain.PublicKey{[]byte("equity-key")}},
		},
		Accounts: map[domain.AccountID]domain.Account{
			"0": {ID: "0", OwnerMemberIDs: []domain.MemberID{"0"}},
		},
		Transactions: map[domain.TransactionID]domain.Transaction{},
		Created:      created,
		Expires:      created + config.ZoneLifetime.Milliseconds(),
	}
}

func TestApplyZoneCreatedZeroesBalances(t *testing.T) {
	s := New()
	s.Apply(protocol.ZoneEventEnvelope{Event: protocol.ZoneCreatedEvent{Zone: newZone(1000)}})

	require.NotNil(t, s.Zone)
	require.True(t, s.Balances["0"].IsZero())
	require.NoError(t, s.Check())
}

func TestApplyTransactionMovesValue(t *testing.T) {
	s := New()
	s.Apply(protocol.ZoneEventEnvelope{Event: protocol.ZoneCreatedEvent{Zone: newZone(1000)}})
	s.Apply(protocol.ZoneEventEnvelope{Event: protocol.MemberCreatedEvent{
		Member: domain.Member{ID: "1", OwnerPublicKeys: []domain.PublicKey{[]byte("k1")}},
	}})
	s.Apply(protocol.ZoneEventEnvelope{Event: protocol.AccountCreatedEvent{
		Account: domain.Account{ID: "1", OwnerMemberIDs: []domain.MemberID{"1"}},
	}})
	s.Apply(protocol.ZoneEventEnvelope{Event: protocol.TransactionAddedEvent{
		Transaction: domain.Transaction{ID: "0", From: "0", To: "1", Value: decimal.New(5, 21), Creator: "0"},
	}})

	require.Equal(t, "-5000000000000000000000", s.Balances["0"].String())
	require.Equal(t, "5000000000000000000000", s.Balances["1"].String())
	require.NoError(t, s.Check())
}

func TestApplyClientJoinQuitTracksOrder(t *testing.T) {
	s := New()
	s.Apply(protocol.ZoneEventEnvelope{Event: protocol.ZoneCreatedEvent{Zone: newZone(0)}})
	s.Apply(protocol.ZoneEventEnvelope{PublicKey: []byte("ka"), Event: protocol.ClientJoinedEvent{ClientHandle: "a"}})
	s.Apply(protocol.ZoneEventEnvelope{PublicKey: []byte("kb"), Event: protocol.ClientJoinedEvent{ClientHandle: "b"}})
	s.Apply(protocol.ZoneEventEnvelope{PublicKey: []byte("kc"), Event: protocol.ClientJoinedEvent{ClientHandle: "c"}})
	require.Equal(t, []string{"a", "b", "c"}, s.ClientOrder)

	s.Apply(protocol.ZoneEventEnvelope{Event: protocol.ClientQuitEvent{ClientHandle: "b"}})
	require.Equal(t, []string{"a", "c"}, s.ClientOrder)
	require.NotContains(t, s.ConnectedClients, "b")
	require.Equal(t, domain.PublicKey([]byte("ka")), s.ConnectedClients["a"])
}

func TestApplyDuplicateJoinKeepsOrder(t *testing.T) {
	s := New()
	s.Apply(protocol.ZoneEventEnvelope{Event: protocol.ZoneCreatedEvent{Zone: newZone(0)}})
	s.Apply(protocol.ZoneEventEnvelope{PublicKey: []byte("k1"), Event: protocol.ClientJoinedEvent{ClientHandle: "a"}})
	s.Apply(protocol.ZoneEventEnvelope{PublicKey: []byte("k2"), Event: protocol.ClientJoinedEvent{ClientHandle: "a"}})

	require.Equal(t, []string{"a"}, s.ClientOrder)
	require.Equal(t, domain.PublicKey([]byte("k2")), s.ConnectedClients["a"])
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := New()
	s.Apply(protocol.ZoneEventEnvelope{Event: protocol.ZoneCreatedEvent{Zone: newZone(42)}})
	s.Apply(protocol.ZoneEventEnvelope{PublicKey: []byte("k"), Event: protocol.ClientJoinedEvent{ClientHandle: "a"}})

	restored := FromSnapshot(s.Snapshot())
	require.Equal(t, s.Zone.ID, restored.Zone.ID)
	require.Equal(t, s.Balances, restored.Balances)
	// Connection tracking is not durable.
	require.Empty(t, restored.ConnectedClients)
	require.Empty(t, restored.ClientOrder)
}

func TestCloneIsIndependent(t *testing.T) {
	s := New()
	s.Apply(protocol.ZoneEventEnvelope{Event: protocol.ZoneCreatedEvent{Zone: newZone(0)}})
	clone := s.Clone()

	s.Apply(protocol.ZoneEventEnvelope{Event: protocol.MemberCreatedEvent{
		Member: domain.Member{ID: "1", OwnerPublicKeys: []domain.PublicKey{[]byte("k")}},
	}})
	require.Len(t, s.Zone.Members, 2)
	require.Len(t, clone.Zone.Members, 1)
}

func TestCheckRejectsNegativeNonEquityBalance(t *testing.T) {
	s := New()
	s.Apply(protocol.ZoneEventEnvelope{Event: protocol.ZoneCreatedEvent{Zone: newZone(0)}})
	s.Apply(protocol.ZoneEventEnvelope{Event: protocol.MemberCreatedEvent{
		Member: domain.Member{ID: "1", OwnerPublicKeys: []domain.PublicKey{[]byte("k")}},
	}})
	s.Apply(protocol.ZoneEventEnvelope{Event: protocol.AccountCreatedEvent{
		Account: domain.Account{ID: "1", OwnerMemberIDs: []domain.MemberID{"1"}},
	}})
	// Force a state the validator must never produce.
	s.Balances["1"] = decimal.NewFromInt(-1)
	s.Balances["0"] = decimal.NewFromInt(1)
	require.Error(t, s.Check())
}

func TestCheckRejectsUnbalancedSum(t *testing.T) {
	s := New()
	s.Apply(protocol.ZoneEventEnvelope{Event: protocol.ZoneCreatedEvent{Zone: newZone(0)}})
	s.Balances["0"] = decimal.NewFromInt(3)
	require.Error(t, s.Check())
}

func TestCheckRejectsDanglingAccountOwner(t *testing.T) {
	s := New()
	s.Apply(protocol.ZoneEventEnvelope{Event: protocol.ZoneCreatedEvent{Zone: newZone(0)}})
	s.Zone.Accounts["1"] = domain.Account{ID: "1", OwnerMemberIDs: []domain.MemberID{"missing"}}
	s.Balances["1"] = decimal.Zero
	require.Error(t, s.Check())
}
