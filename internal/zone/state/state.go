// Package state holds the in-memory representation of a zone and the event
// applier that folds persisted envelopes into it. The same fold runs during
// live operation and during replay, which is what makes replay equivalence
// hold by construction.
package state

import (
	"fmt"

	"github.com/shopspring/decimal"

	"liquidity/internal/domain"
	"liquidity/internal/platform/config"
	"liquidity/internal/zone/protocol"
)

// State is the in-memory zone state. It is owned exclusively by a single
// validator goroutine; cross-goroutine reads go through Clone.
type State struct {
	Zone             *domain.Zone
	Balances         map[domain.AccountID]decimal.Decimal
	ConnectedClients map[string]domain.PublicKey
	// ClientOrder preserves join order; notification fan-out iterates it.
	ClientOrder []string
}

func New() *State {
	return &State{
		Balances:         make(map[domain.AccountID]decimal.Decimal),
		ConnectedClients: make(map[string]domain.PublicKey),
	}
}

// Apply folds one persisted envelope into the state. It is deterministic and
// total over the event set; unknown variants are a programming error and
// panic, crashing the validator so the journal stays authoritative.
func (s *State) Apply(env protocol.ZoneEventEnvelope) {
	switch event := env.Event.(type) {
	case protocol.ZoneCreatedEvent:
		s.Zone = event.Zone.Clone()
		s.Balances = make(map[domain.AccountID]decimal.Decimal, len(s.Zone.Accounts))
		for id := range s.Zone.Accounts {
			s.Balances[id] = decimal.Zero
		}
	case protocol.ClientJoinedEvent:
		if _, ok := s.ConnectedClients[event.ClientHandle]; !ok {
			s.ClientOrder = append(s.ClientOrder, event.ClientHandle)
		}
		s.ConnectedClients[event.ClientHandle] = env.PublicKey
	case protocol.ClientQuitEvent:
		if _, ok := s.ConnectedClients[event.ClientHandle]; ok {
			delete(s.ConnectedClients, event.ClientHandle)
			for i, handle := range s.ClientOrder {
				if handle == event.ClientHandle {
					s.ClientOrder = append(s.ClientOrder[:i], s.ClientOrder[i+1:]...)
					break
				}
			}
		}
	case protocol.ZoneNameChangedEvent:
		s.Zone.Name = event.Name
	case protocol.MemberCreatedEvent:
		s.Zone.Members[event.Member.ID] = event.Member
	case protocol.MemberUpdatedEvent:
		s.Zone.Members[event.Member.ID] = event.Member
	case protocol.AccountCreatedEvent:
		s.Zone.Accounts[event.Account.ID] = event.Account
		s.Balances[event.Account.ID] = decimal.Zero
	case protocol.AccountUpdatedEvent:
		s.Zone.Accounts[event.Account.ID] = event.Account
	case protocol.TransactionAddedEvent:
		t := event.Transaction
		s.Zone.Transactions[t.ID] = t
		s.Balances[t.From] = s.Balances[t.From].Sub(t.Value)
		s.Balances[t.To] = s.Balances[t.To].Add(t.Value)
	default:
		panic(fmt.Sprintf("unhandled zone event %T", env.Event))
	}
}

// ClearConnectedClients drops all connection tracking. Called after replay:
// the handles in the journal refer to connections of a previous incarnation.
func (s *State) ClearConnectedClients() {
	s.ConnectedClients = make(map[string]domain.PublicKey)
	s.ClientOrder = nil
}

// Snapshot captures zone and balances for the snapshot store. Connection
// tracking is deliberately excluded; it is not durable membership.
func (s *State) Snapshot() protocol.ZoneSnapshot {
	balances := make(map[domain.AccountID]decimal.Decimal, len(s.Balances))
	for id, balance := range s.Balances {
		balances[id] = balance
	}
	return protocol.ZoneSnapshot{Zone: s.Zone.Clone(), Balances: balances}
}

// FromSnapshot rebuilds a State from a stored snapshot.
func FromSnapshot(snap protocol.ZoneSnapshot) *State {
	s := New()
	s.Zone = snap.Zone.Clone()
	for id, balance := range snap.Balances {
		s.Balances[id] = balance
	}
	return s
}

// Clone deep-copies the state so it can be handed to another goroutine.
func (s *State) Clone() *State {
	clone := New()
	clone.Zone = s.Zone.Clone()
	for id, balance := range s.Balances {
		clone.Balances[id] = balance
	}
	for handle, key := range s.ConnectedClients {
		clone.ConnectedClients[handle] = key
	}
	clone.ClientOrder = append([]string(nil), s.ClientOrder...)
	return clone
}

// Check verifies the structural invariants that must hold after every applied
// event. The validator panics on a non-nil result.
func (s *State) Check() error {
	if s.Zone == nil {
		if len(s.Balances) != 0 || len(s.ConnectedClients) != 0 {
			return fmt.Errorf("zone absent but balances or clients tracked")
		}
		return nil
	}
	if s.Zone.Expires != s.Zone.Created+config.ZoneLifetime.Milliseconds() {
		return fmt.Errorf("expires %d != created %d + lifetime", s.Zone.Expires, s.Zone.Created)
	}
	for id, account := range s.Zone.Accounts {
		if _, ok := s.Balances[id]; !ok {
			return fmt.Errorf("account %s has no balance entry", id)
		}
		if len(account.OwnerMemberIDs) == 0 {
			return fmt.Errorf("account %s has no owners", id)
		}
		for _, owner := range account.OwnerMemberIDs {
			if _, ok := s.Zone.Members[owner]; !ok {
				return fmt.Errorf("account %s owner %s does not exist", id, owner)
			}
		}
	}
	for id := range s.Balances {
		if _, ok := s.Zone.Accounts[id]; !ok {
			return fmt.Errorf("balance entry %s has no account", id)
		}
	}
	sum := decimal.Zero
	for id, balance := range s.Balances {
		sum = sum.Add(balance)
		if id != s.Zone.EquityAccountID && balance.IsNegative() {
			return fmt.Errorf("non-equity account %s has negative balance %s", id, balance)
		}
	}
	if !sum.IsZero() {
		return fmt.Errorf("balance sum %s != 0", sum)
	}
	for id, t := range s.Zone.Transactions {
		if _, ok := s.Zone.Accounts[t.From]; !ok {
			return fmt.Errorf("transaction %s source account %s does not exist", id, t.From)
		}
		if _, ok := s.Zone.Accounts[t.To]; !ok {
			return fmt.Errorf("transaction %s destination account %s does not exist", id, t.To)
		}
		if _, ok := s.Zone.Members[t.Creator]; !ok {
			return fmt.Errorf("transaction %s creator %s does not exist", id, t.Creator)
		}
	}
	return nil
}
