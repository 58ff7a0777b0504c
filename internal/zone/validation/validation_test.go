package validation

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"liquidity/internal/domain"
	"liquidity/internal/zone/protocol"
	"liquidity/internal/zone/state"
)

func generateKey(t *testing.T, bits int) domain.PublicKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, bits)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	return der
}

// fundedZoneState builds a zone with an equity member/account ("0"), a second
// member ("1") owned by memberKey with account "1" holding the given balance.
func fundedZoneState(t *testing.T, equityKey, memberKey domain.PublicKey, balance decimal.Decimal) *state.State {
	t.Helper()
	s := state.New()
	s.Apply(protocol.ZoneEventEnvelope{
		PublicKey: equityKey,
		Event: protocol.ZoneCreatedEvent{Zone: &domain.Zone{
			ID:              "z1",
			EquityAccountID: "0",
			Members: map[domain.MemberID]domain.Member{
				"0": {ID: "0", OwnerPublicKeys: []domain.PublicKey{equityKey}},
			},
			Accounts: map[domain.AccountID]domain.Account{
				"0": {ID: "0", OwnerMemberIDs: []domain.MemberID{"0"}},
			},
			Transactions: map[domain.TransactionID]domain.Transaction{},
			Expires:      604800000,
		}},
	})
	s.Apply(protocol.ZoneEventEnvelope{Event: protocol.MemberCreatedEvent{
		Member: domain.Member{ID: "1", OwnerPublicKeys: []domain.PublicKey{memberKey}},
	}})
	s.Apply(protocol.ZoneEventEnvelope{Event: protocol.AccountCreatedEvent{
		Account: domain.Account{ID: "1", OwnerMemberIDs: []domain.MemberID{"1"}},
	}})
	if !balance.IsZero() {
		s.Apply(protocol.ZoneEventEnvelope{Event: protocol.TransactionAddedEvent{
			Transaction: domain.Transaction{ID: "0", From: "0", To: "1", Value: balance, Creator: "0"},
		}})
	}
	return s
}

func codes(errs []protocol.Error) []protocol.ErrorCode {
	out := make([]protocol.ErrorCode, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Code)
	}
	return out
}

func TestZoneMustExistForNonCreateCommands(t *testing.T) {
	errs := ForCommand(state.New(), protocol.ZoneCommandEnvelope{Command: protocol.JoinZoneCommand{}})
	require.Equal(t, []protocol.ErrorCode{protocol.ErrZoneDoesNotExist}, codes(errs))

	errs = ForCommand(state.New(), protocol.ZoneCommandEnvelope{Command: protocol.AddTransactionCommand{}})
	require.Equal(t, []protocol.ErrorCode{protocol.ErrZoneDoesNotExist}, codes(errs))
}

func TestTagBoundary(t *testing.T) {
	key := generateKey(t, 2048)

	atLimit := strings.Repeat("a", 160)
	overLimit := strings.Repeat("a", 161)

	errs := ForCommand(state.New(), protocol.ZoneCommandEnvelope{
		Command: protocol.CreateZoneCommand{EquityOwnerPublicKey: key, Name: &atLimit},
	})
	require.Empty(t, errs)

	errs = ForCommand(state.New(), protocol.ZoneCommandEnvelope{
		Command: protocol.CreateZoneCommand{EquityOwnerPublicKey: key, Name: &overLimit},
	})
	require.Equal(t, []protocol.ErrorCode{protocol.ErrTagLengthExceeded}, codes(errs))
}

func TestTagLimitCountsRunesNotBytes(t *testing.T) {
	key := generateKey(t, 2048)
	// 160 three-byte runes: over the limit in bytes, at the limit in runes.
	name := strings.Repeat("€", 160)
	errs := ForCommand(state.New(), protocol.ZoneCommandEnvelope{
		Command: protocol.CreateZoneCommand{EquityOwnerPublicKey: key, Name: &name},
	})
	require.Empty(t, errs)
}

func TestMetadataBoundary(t *testing.T) {
	key := generateKey(t, 2048)

	errs := ForCommand(state.New(), protocol.ZoneCommandEnvelope{
		Command: protocol.CreateZoneCommand{EquityOwnerPublicKey: key, Metadata: make([]byte, 1024)},
	})
	require.Empty(t, errs)

	errs = ForCommand(state.New(), protocol.ZoneCommandEnvelope{
		Command: protocol.CreateZoneCommand{EquityOwnerPublicKey: key, Metadata: make([]byte, 1025)},
	})
	require.Equal(t, []protocol.ErrorCode{protocol.ErrMetadataLengthExceeded}, codes(errs))
}

func TestPublicKeyChecksAreDependent(t *testing.T) {
	t.Run("garbage key fails parse only", func(t *testing.T) {
		errs := ForCommand(state.New(), protocol.ZoneCommandEnvelope{
			Command: protocol.CreateZoneCommand{EquityOwnerPublicKey: []byte("not-a-key")},
		})
		require.Equal(t, []protocol.ErrorCode{protocol.ErrInvalidPublicKey}, codes(errs))
	})

	t.Run("one bit short", func(t *testing.T) {
		errs := ForCommand(state.New(), protocol.ZoneCommandEnvelope{
			Command: protocol.CreateZoneCommand{EquityOwnerPublicKey: generateKey(t, 2047)},
		})
		require.Equal(t, []protocol.ErrorCode{protocol.ErrInvalidPublicKeyLength}, codes(errs))
	})

	t.Run("exact length passes", func(t *testing.T) {
		errs := ForCommand(state.New(), protocol.ZoneCommandEnvelope{
			Command: protocol.CreateZoneCommand{EquityOwnerPublicKey: generateKey(t, 2048)},
		})
		require.Empty(t, errs)
	})
}

func TestCreateMemberRequiresKeys(t *testing.T) {
	equityKey := generateKey(t, 2048)
	s := fundedZoneState(t, equityKey, generateKey(t, 2048), decimal.Zero)

	errs := ForCommand(s, protocol.ZoneCommandEnvelope{
		PublicKey: equityKey,
		Command:   protocol.CreateMemberCommand{},
	})
	require.Equal(t, []protocol.ErrorCode{protocol.ErrNoPublicKeys}, codes(errs))
}

func TestIndependentErrorsAccumulate(t *testing.T) {
	long := strings.Repeat("x", 161)
	errs := ForCommand(state.New(), protocol.ZoneCommandEnvelope{
		Command: protocol.CreateZoneCommand{
			EquityOwnerPublicKey: []byte("bad"),
			Name:                 &long,
			Metadata:             make([]byte, 2000),
		},
	})
	require.ElementsMatch(t, []protocol.ErrorCode{
		protocol.ErrInvalidPublicKey,
		protocol.ErrTagLengthExceeded,
		protocol.ErrMetadataLengthExceeded,
	}, codes(errs))
}

func TestAddTransactionValidation(t *testing.T) {
	equityKey := generateKey(t, 2048)
	memberKey := generateKey(t, 2048)
	s := fundedZoneState(t, equityKey, memberKey, decimal.NewFromInt(100))

	t.Run("valid transfer", func(t *testing.T) {
		errs := ForCommand(s, protocol.ZoneCommandEnvelope{
			PublicKey: memberKey,
			Command: protocol.AddTransactionCommand{
				ActingAs: "1", From: "1", To: "0", Value: decimal.NewFromInt(50),
			},
		})
		require.Empty(t, errs)
	})

	t.Run("overdraw", func(t *testing.T) {
		errs := ForCommand(s, protocol.ZoneCommandEnvelope{
			PublicKey: memberKey,
			Command: protocol.AddTransactionCommand{
				ActingAs: "1", From: "1", To: "0", Value: decimal.NewFromInt(101),
			},
		})
		require.Equal(t, []protocol.ErrorCode{protocol.ErrInsufficientBalance}, codes(errs))
	})

	t.Run("exact balance is allowed", func(t *testing.T) {
		errs := ForCommand(s, protocol.ZoneCommandEnvelope{
			PublicKey: memberKey,
			Command: protocol.AddTransactionCommand{
				ActingAs: "1", From: "1", To: "0", Value: decimal.NewFromInt(100),
			},
		})
		require.Empty(t, errs)
	})

	t.Run("equity may overdraw", func(t *testing.T) {
		errs := ForCommand(s, protocol.ZoneCommandEnvelope{
			PublicKey: equityKey,
			Command: protocol.AddTransactionCommand{
				ActingAs: "0", From: "0", To: "1", Value: decimal.New(5, 21),
			},
		})
		require.Empty(t, errs)
	})

	t.Run("reflexive", func(t *testing.T) {
		errs := ForCommand(s, protocol.ZoneCommandEnvelope{
			PublicKey: memberKey,
			Command: protocol.AddTransactionCommand{
				ActingAs: "1", From: "1", To: "1", Value: decimal.NewFromInt(1),
			},
		})
		require.Equal(t, []protocol.ErrorCode{protocol.ErrReflexiveTransaction}, codes(errs))
	})

	t.Run("negative value", func(t *testing.T) {
		errs := ForCommand(s, protocol.ZoneCommandEnvelope{
			PublicKey: memberKey,
			Command: protocol.AddTransactionCommand{
				ActingAs: "1", From: "1", To: "0", Value: decimal.NewFromInt(-1),
			},
		})
		require.Equal(t, []protocol.ErrorCode{protocol.ErrNegativeTransactionValue}, codes(errs))
	})

	t.Run("zero value is allowed", func(t *testing.T) {
		errs := ForCommand(s, protocol.ZoneCommandEnvelope{
			PublicKey: memberKey,
			Command: protocol.AddTransactionCommand{
				ActingAs: "1", From: "1", To: "0", Value: decimal.Zero,
			},
		})
		require.Empty(t, errs)
	})

	t.Run("wrong key is a key mismatch", func(t *testing.T) {
		errs := ForCommand(s, protocol.ZoneCommandEnvelope{
			PublicKey: generateKey(t, 2048),
			Command: protocol.AddTransactionCommand{
				ActingAs: "1", From: "1", To: "0", Value: decimal.NewFromInt(1),
			},
		})
		require.Equal(t, []protocol.ErrorCode{protocol.ErrMemberKeyMismatch}, codes(errs))
	})

	t.Run("non-owner acting-as is an owner mismatch", func(t *testing.T) {
		errs := ForCommand(s, protocol.ZoneCommandEnvelope{
			PublicKey: equityKey,
			Command: protocol.AddTransactionCommand{
				ActingAs: "0", From: "1", To: "0", Value: decimal.NewFromInt(1),
			},
		})
		require.Equal(t, []protocol.ErrorCode{protocol.ErrAccountOwnerMismatch}, codes(errs))
	})

	t.Run("missing accounts accumulate", func(t *testing.T) {
		errs := ForCommand(s, protocol.ZoneCommandEnvelope{
			PublicKey: memberKey,
			Command: protocol.AddTransactionCommand{
				ActingAs: "1", From: "9", To: "8", Value: decimal.NewFromInt(1),
			},
		})
		require.ElementsMatch(t, []protocol.ErrorCode{
			protocol.ErrSourceAccountDoesNotExist,
			protocol.ErrDestAccountDoesNotExist,
		}, codes(errs))
	})
}

func TestUpdateMemberAuthorisation(t *testing.T) {
	equityKey := generateKey(t, 2048)
	memberKey := generateKey(t, 2048)
	s := fundedZoneState(t, equityKey, memberKey, decimal.Zero)

	t.Run("owner may update", func(t *testing.T) {
		errs := ForCommand(s, protocol.ZoneCommandEnvelope{
			PublicKey: memberKey,
			Command: protocol.UpdateMemberCommand{Member: domain.Member{
				ID: "1", OwnerPublicKeys: []domain.PublicKey{memberKey},
			}},
		})
		require.Empty(t, errs)
	})

	t.Run("non-owner gets a key mismatch", func(t *testing.T) {
		errs := ForCommand(s, protocol.ZoneCommandEnvelope{
			PublicKey: equityKey,
			Command: protocol.UpdateMemberCommand{Member: domain.Member{
				ID: "1", OwnerPublicKeys: []domain.PublicKey{memberKey},
			}},
		})
		require.Equal(t, []protocol.ErrorCode{protocol.ErrMemberKeyMismatch}, codes(errs))
	})

	t.Run("unknown member carries the id", func(t *testing.T) {
		errs := ForCommand(s, protocol.ZoneCommandEnvelope{
			PublicKey: memberKey,
			Command: protocol.UpdateMemberCommand{Member: domain.Member{
				ID: "42", OwnerPublicKeys: []domain.PublicKey{memberKey},
			}},
		})
		require.Len(t, errs, 1)
		require.Equal(t, protocol.ErrMemberDoesNotExist, errs[0].Code)
		require.Equal(t, "42", errs[0].Param)
	})
}

func TestCreateAccountOwners(t *testing.T) {
	equityKey := generateKey(t, 2048)
	s := fundedZoneState(t, equityKey, generateKey(t, 2048), decimal.Zero)

	t.Run("empty owner set", func(t *testing.T) {
		errs := ForCommand(s, protocol.ZoneCommandEnvelope{
			PublicKey: equityKey,
			Command:   protocol.CreateAccountCommand{},
		})
		require.Equal(t, []protocol.ErrorCode{protocol.ErrNoMemberIDs}, codes(errs))
	})

	t.Run("unknown owners reported once each", func(t *testing.T) {
		errs := ForCommand(s, protocol.ZoneCommandEnvelope{
			PublicKey: equityKey,
			Command: protocol.CreateAccountCommand{
				OwnerMemberIDs: []domain.MemberID{"7", "7", "1"},
			},
		})
		require.Len(t, errs, 1)
		require.Equal(t, protocol.ErrMemberDoesNotExist, errs[0].Code)
		require.Equal(t, "7", errs[0].Param)
	})
}
