// Package validation implements the pure command validators. Each validator
// returns a possibly-empty list of structured errors; independent checks
// accumulate, dependent checks short-circuit. A command is accepted iff the
// list is empty.
package validation

import (
	"crypto/rsa"
	"crypto/x509"
	"unicode/utf8"

	"liquidity/internal/domain"
	"liquidity/internal/platform/config"
	"liquidity/internal/zone/protocol"
	"liquidity/internal/zone/state"
)

// ForCommand validates a command envelope against the current state.
func ForCommand(s *state.State, env protocol.ZoneCommandEnvelope) []protocol.Error {
	// Every command but CreateZone requires the zone to exist; nothing else
	// can be checked without it.
	if _, ok := env.Command.(protocol.CreateZoneCommand); !ok {
		if s.Zone == nil {
			return []protocol.Error{{Code: protocol.ErrZoneDoesNotExist}}
		}
	}

	switch cmd := env.Command.(type) {
	case protocol.CreateZoneCommand:
		return validateCreateZone(cmd)
	case protocol.JoinZoneCommand, protocol.QuitZoneCommand:
		return nil
	case protocol.ChangeZoneNameCommand:
		return validateTag(cmd.Name)
	case protocol.CreateMemberCommand:
		return validateCreateMember(cmd)
	case protocol.UpdateMemberCommand:
		return validateUpdateMember(s, env.PublicKey, cmd)
	case protocol.CreateAccountCommand:
		return validateCreateAccount(s, cmd)
	case protocol.UpdateAccountCommand:
		return validateUpdateAccount(s, env.PublicKey, cmd)
	case protocol.AddTransactionCommand:
		return validateAddTransaction(s, env.PublicKey, cmd)
	default:
		// Unknown command kinds never reach the validator; the codec rejects
		// them first.
		return nil
	}
}

func validateCreateZone(cmd protocol.CreateZoneCommand) []protocol.Error {
	var errs []protocol.Error
	errs = append(errs, validatePublicKey(cmd.EquityOwnerPublicKey)...)
	errs = append(errs, validateTag(cmd.EquityOwnerName)...)
	errs = append(errs, validateMetadata(cmd.EquityOwnerMetadata)...)
	errs = append(errs, validateTag(cmd.EquityAccountName)...)
	errs = append(errs, validateMetadata(cmd.EquityAccountMetadata)...)
	errs = append(errs, validateTag(cmd.Name)...)
	errs = append(errs, validateMetadata(cmd.Metadata)...)
	return errs
}

func validateCreateMember(cmd protocol.CreateMemberCommand) []protocol.Error {
	var errs []protocol.Error
	errs = append(errs, validatePublicKeys(cmd.OwnerPublicKeys)...)
	errs = append(errs, validateTag(cmd.Name)...)
	errs = append(errs, validateMetadata(cmd.Metadata)...)
	return errs
}

func validateUpdateMember(s *state.State, caller domain.PublicKey, cmd protocol.UpdateMemberCommand) []protocol.Error {
	var errs []protocol.Error
	// Existence and authorisation form a dependent chain: ownership is
	// checked against the *current* record.
	current, exists := s.Zone.Members[cmd.Member.ID]
	if !exists {
		errs = append(errs, protocol.Error{Code: protocol.ErrMemberDoesNotExist, Param: string(cmd.Member.ID)})
	} else if !memberOwnedBy(current, caller) {
		errs = append(errs, protocol.Error{Code: protocol.ErrMemberKeyMismatch})
	}
	errs = append(errs, validatePublicKeys(cmd.Member.OwnerPublicKeys)...)
	errs = append(errs, validateTag(cmd.Member.Name)...)
	errs = append(errs, validateMetadata(cmd.Member.Metadata)...)
	return errs
}

func validateCreateAccount(s *state.State, cmd protocol.CreateAccountCommand) []protocol.Error {
	var errs []protocol.Error
	errs = append(errs, validateOwnerMemberIDs(s, cmd.OwnerMemberIDs)...)
	errs = append(errs, validateTag(cmd.Name)...)
	errs = append(errs, validateMetadata(cmd.Metadata)...)
	return errs
}

func validateUpdateAccount(s *state.State, caller domain.PublicKey, cmd protocol.UpdateAccountCommand) []protocol.Error {
	var errs []protocol.Error
	current, accountExists := s.Zone.Accounts[cmd.Account.ID]
	if !accountExists {
		errs = append(errs, protocol.Error{Code: protocol.ErrAccountDoesNotExist, Param: string(cmd.Account.ID)})
	}
	errs = append(errs, validateActingAs(s, caller, cmd.ActingAs, func() []protocol.Error {
		if accountExists && !containsMemberID(current.OwnerMemberIDs, cmd.ActingAs) {
			return []protocol.Error{{Code: protocol.ErrAccountOwnerMismatch}}
		}
		return nil
	})...)
	errs = append(errs, validateOwnerMemberIDs(s, cmd.Account.OwnerMemberIDs)...)
	errs = append(errs, validateTag(cmd.Account.Name)...)
	errs = append(errs, validateMetadata(cmd.Account.Metadata)...)
	return errs
}

func validateAddTransaction(s *state.State, caller domain.PublicKey, cmd protocol.AddTransactionCommand) []protocol.Error {
	var errs []protocol.Error
	from, fromExists := s.Zone.Accounts[cmd.From]
	if !fromExists {
		errs = append(errs, protocol.Error{Code: protocol.ErrSourceAccountDoesNotExist})
	}
	if _, ok := s.Zone.Accounts[cmd.To]; !ok {
		errs = append(errs, protocol.Error{Code: protocol.ErrDestAccountDoesNotExist})
	}
	if cmd.From == cmd.To {
		errs = append(errs, protocol.Error{Code: protocol.ErrReflexiveTransaction})
	}
	errs = append(errs, validateActingAs(s, caller, cmd.ActingAs, func() []protocol.Error {
		if fromExists && !containsMemberID(from.OwnerMemberIDs, cmd.ActingAs) {
			return []protocol.Error{{Code: protocol.ErrAccountOwnerMismatch}}
		}
		return nil
	})...)
	valueValid := !cmd.Value.IsNegative()
	if !valueValid {
		errs = append(errs, protocol.Error{Code: protocol.ErrNegativeTransactionValue})
	}
	// The balance check depends on a valid value and an existing source; the
	// equity account is allowed to overdraw.
	if fromExists && valueValid && cmd.From != s.Zone.EquityAccountID {
		if s.Balances[cmd.From].Sub(cmd.Value).IsNegative() {
			errs = append(errs, protocol.Error{Code: protocol.ErrInsufficientBalance})
		}
	}
	errs = append(errs, validateTag(cmd.Description)...)
	errs = append(errs, validateMetadata(cmd.Metadata)...)
	return errs
}

// validateActingAs checks the member exists and the caller owns it, then runs
// the dependent check. MemberKeyMismatch covers acting-as impersonation.
func validateActingAs(s *state.State, caller domain.PublicKey, actingAs domain.MemberID, dependent func() []protocol.Error) []protocol.Error {
	member, ok := s.Zone.Members[actingAs]
	if !ok {
		return []protocol.Error{{Code: protocol.ErrMemberDoesNotExist, Param: string(actingAs)}}
	}
	if !memberOwnedBy(member, caller) {
		return []protocol.Error{{Code: protocol.ErrMemberKeyMismatch}}
	}
	return dependent()
}

func validateOwnerMemberIDs(s *state.State, ids []domain.MemberID) []protocol.Error {
	if len(ids) == 0 {
		return []protocol.Error{{Code: protocol.ErrNoMemberIDs}}
	}
	var errs []protocol.Error
	for _, id := range domain.NormalizeMemberIDs(ids) {
		if _, ok := s.Zone.Members[id]; !ok {
			errs = append(errs, protocol.Error{Code: protocol.ErrMemberDoesNotExist, Param: string(id)})
		}
	}
	return errs
}

func validatePublicKeys(keys []domain.PublicKey) []protocol.Error {
	if len(keys) == 0 {
		return []protocol.Error{{Code: protocol.ErrNoPublicKeys}}
	}
	var errs []protocol.Error
	for _, key := range keys {
		errs = append(errs, validatePublicKey(key)...)
	}
	return errs
}

// validatePublicKey is a dependent chain: a key that does not parse cannot be
// type- or length-checked.
func validatePublicKey(key domain.PublicKey) []protocol.Error {
	parsed, err := x509.ParsePKIXPublicKey(key)
	if err != nil {
		return []protocol.Error{{Code: protocol.ErrInvalidPublicKey}}
	}
	rsaKey, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return []protocol.Error{{Code: protocol.ErrInvalidPublicKeyType}}
	}
	if rsaKey.N.BitLen() != config.RequiredKeySize {
		return []protocol.Error{{Code: protocol.ErrInvalidPublicKeyLength}}
	}
	return nil
}

func validateTag(tag *string) []protocol.Error {
	if tag != nil && utf8.RuneCountInString(*tag) > config.MaximumTagLength {
		return []protocol.Error{{Code: protocol.ErrTagLengthExceeded}}
	}
	return nil
}

func validateMetadata(metadata []byte) []protocol.Error {
	if len(metadata) > config.MaximumMetadataSize {
		return []protocol.Error{{Code: protocol.ErrMetadataLengthExceeded}}
	}
	return nil
}

func memberOwnedBy(member domain.Member, caller domain.PublicKey) bool {
	for _, key := range member.OwnerPublicKeys {
		if key.Equal(caller) {
			return true
		}
	}
	return false
}

func containsMemberID(ids []domain.MemberID, id domain.MemberID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
