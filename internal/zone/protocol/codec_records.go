package protocol

import (
	"fmt"

	"github.com/shopspring/decimal"

	"liquidity/internal/domain"
)

type wireError struct {
	Code  string `msgpack:"code"`
	Param string `msgpack:"param,omitempty"`
}

type wireCreateZoneCommand struct {
	EquityOwnerPublicKey  []byte  `msgpack:"equity_owner_public_key"`
	EquityOwnerName       *string `msgpack:"equity_owner_name,omitempty"`
	EquityOwnerMetadata   []byte  `msgpack:"equity_owner_metadata,omitempty"`
	EquityAccountName     *string `msgpack:"equity_account_name,omitempty"`
	EquityAccountMetadata []byte  `msgpack:"equity_account_metadata,omitempty"`
	Name                  *string `msgpack:"name,omitempty"`
	Metadata              []byte  `msgpack:"metadata,omitempty"`
}

type wireChangeZoneNameCommand struct {
	Name *string `msgpack:"name,omitempty"`
}

type wireCreateMemberCommand struct {
	OwnerPublicKeys [][]byte `msgpack:"owner_public_keys"`
	Name            *string  `msgpack:"name,omitempty"`
	Metadata        []byte   `msgpack:"metadata,omitempty"`
}

type wireUpdateMemberCommand struct {
	Member wireMember `msgpack:"member"`
}

type wireCreateAccountCommand struct {
	OwnerMemberIDs []string `msgpack:"owner_member_ids"`
	Name           *string  `msgpack:"name,omitempty"`
	Metadata       []byte   `msgpack:"metadata,omitempty"`
}

type wireUpdateAccountCommand struct {
	ActingAs string      `msgpack:"acting_as"`
	Account  wireAccount `msgpack:"account"`
}

type wireAddTransactionCommand struct {
	ActingAs    string  `msgpack:"acting_as"`
	From        string  `msgpack:"from"`
	To          string  `msgpack:"to"`
	Value       string  `msgpack:"value"`
	Description *string `msgpack:"description,omitempty"`
	Metadata    []byte  `msgpack:"metadata,omitempty"`
}

// MarshalCommand encodes a command as a tagged record.
func MarshalCommand(c ZoneCommand) ([]byte, error) {
	switch cmd := c.(type) {
	case CreateZoneCommand:
		return encode(tagCreateZoneCommand, wireCreateZoneCommand{
			EquityOwnerPublicKey:  cmd.EquityOwnerPublicKey,
			EquityOwnerName:       cmd.EquityOwnerName,
			EquityOwnerMetadata:   cmd.EquityOwnerMetadata,
			EquityAccountName:     cmd.EquityAccountName,
			EquityAccountMetadata: cmd.EquityAccountMetadata,
			Name:                  cmd.Name,
			Metadata:              cmd.Metadata,
		})
	case JoinZoneCommand:
		return encode(tagJoinZoneCommand, struct{}{})
	case QuitZoneCommand:
		return encode(tagQuitZoneCommand, struct{}{})
	case ChangeZoneNameCommand:
		return encode(tagChangeZoneNameCommand, wireChangeZoneNameCommand{Name: cmd.Name})
	case CreateMemberCommand:
		return encode(tagCreateMemberCommand, wireCreateMemberCommand{
			OwnerPublicKeys: keysToWire(cmd.OwnerPublicKeys),
			Name:            cmd.Name,
			Metadata:        cmd.Metadata,
		})
	case UpdateMemberCommand:
		return encode(tagUpdateMemberCommand, wireUpdateMemberCommand{Member: memberToWire(cmd.Member)})
	case CreateAccountCommand:
		return encode(tagCreateAccountCommand, wireCreateAccountCommand{
			OwnerMemberIDs: memberIDsToWire(cmd.OwnerMemberIDs),
			Name:           cmd.Name,
			Metadata:       cmd.Metadata,
		})
	case UpdateAccountCommand:
		return encode(tagUpdateAccountCommand, wireUpdateAccountCommand{
			ActingAs: string(cmd.ActingAs),
			Account:  accountToWire(cmd.Account),
		})
	case AddTransactionCommand:
		return encode(tagAddTransactionCommand, wireAddTransactionCommand{
			ActingAs:    string(cmd.ActingAs),
			From:        string(cmd.From),
			To:          string(cmd.To),
			Value:       cmd.Value.String(),
			Description: cmd.Description,
			Metadata:    cmd.Metadata,
		})
	default:
		return nil, fmt.Errorf("unknown command type %T", c)
	}
}

// UnmarshalCommand decodes a tagged command record.
func UnmarshalCommand(data []byte) (ZoneCommand, error) {
	tag, body, err := splitRecord(data)
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagCreateZoneCommand:
		var w wireCreateZoneCommand
		if err := decodeBody(body, &w); err != nil {
			return nil, err
		}
		return CreateZoneCommand{
			EquityOwnerPublicKey:  w.EquityOwnerPublicKey,
			EquityOwnerName:       w.EquityOwnerName,
			EquityOwnerMetadata:   w.EquityOwnerMetadata,
			EquityAccountName:     w.EquityAccountName,
			EquityAccountMetadata: w.EquityAccountMetadata,
			Name:                  w.Name,
			Metadata:              w.Metadata,
		}, nil
	case tagJoinZoneCommand:
		return JoinZoneCommand{}, nil
	case tagQuitZoneCommand:
		return QuitZoneCommand{}, nil
	case tagChangeZoneNameCommand:
		var w wireChangeZoneNameCommand
		if err := decodeBody(body, &w); err != nil {
			return nil, err
		}
		return ChangeZoneNameCommand{Name: w.Name}, nil
	case tagCreateMemberCommand:
		var w wireCreateMemberCommand
		if err := decodeBody(body, &w); err != nil {
			return nil, err
		}
		return CreateMemberCommand{
			OwnerPublicKeys: keysFromWire(w.OwnerPublicKeys),
			Name:            w.Name,
			Metadata:        w.Metadata,
		}, nil
	case tagUpdateMemberCommand:
		var w wireUpdateMemberCommand
		if err := decodeBody(body, &w); err != nil {
			return nil, err
		}
		return UpdateMemberCommand{Member: memberFromWire(w.Member)}, nil
	case tagCreateAccountCommand:
		var w wireCreateAccountCommand
		if err := decodeBody(body, &w); err != nil {
			return nil, err
		}
		return CreateAccountCommand{
			OwnerMemberIDs: memberIDsFromWire(w.OwnerMemberIDs),
			Name:           w.Name,
			Metadata:       w.Metadata,
		}, nil
	case tagUpdateAccountCommand:
		var w wireUpdateAccountCommand
		if err := decodeBody(body, &w); err != nil {
			return nil, err
		}
		return UpdateAccountCommand{
			ActingAs: domain.MemberID(w.ActingAs),
			Account:  accountFromWire(w.Account),
		}, nil
	case tagAddTransactionCommand:
		var w wireAddTransactionCommand
		if err := decodeBody(body, &w); err != nil {
			return nil, err
		}
		value, err := decimal.NewFromString(w.Value)
		if err != nil {
			return nil, fmt.Errorf("decode transaction value %q: %w", w.Value, err)
		}
		return AddTransactionCommand{
			ActingAs:    domain.MemberID(w.ActingAs),
			From:        domain.AccountID(w.From),
			To:          domain.AccountID(w.To),
			Value:       value,
			Description: w.Description,
			Metadata:    w.Metadata,
		}, nil
	default:
		return nil, fmt.Errorf("unknown command tag 0x%02x", tag)
	}
}

type wireCommandFailureResponse struct {
	Errors []wireError `msgpack:"errors"`
}

type wireCreateZoneResponse struct {
	Zone *wireZone `msgpack:"zone"`
}

type wireJoinZoneResponse struct {
	Zone             *wireZone         `msgpack:"zone"`
	ConnectedClients map[string][]byte `msgpack:"connected_clients"`
}

type wireMemberResponse struct {
	Member wireMember `msgpack:"member"`
}

type wireAccountResponse struct {
	Account wireAccount `msgpack:"account"`
}

type wireTransactionResponse struct {
	Transaction wireTransaction `msgpack:"transaction"`
}

// MarshalResponse encodes a response as a tagged record.
func MarshalResponse(r ZoneResponse) ([]byte, error) {
	switch resp := r.(type) {
	case CommandFailureResponse:
		errs := make([]wireError, len(resp.Errors))
		for i, e := range resp.Errors {
			errs[i] = wireError{Code: string(e.Code), Param: e.Param}
		}
		return encode(tagCommandFailureResponse, wireCommandFailureResponse{Errors: errs})
	case CreateZoneResponse:
		return encode(tagCreateZoneResponse, wireCreateZoneResponse{Zone: zoneToWire(resp.Zone)})
	case JoinZoneResponse:
		clients := make(map[string][]byte, len(resp.ConnectedClients))
		for handle, key := range resp.ConnectedClients {
			clients[handle] = key
		}
		return encode(tagJoinZoneResponse, wireJoinZoneResponse{
			Zone:             zoneToWire(resp.Zone),
			ConnectedClients: clients,
		})
	case QuitZoneResponse:
		return encode(tagQuitZoneResponse, struct{}{})
	case ChangeZoneNameResponse:
		return encode(tagChangeZoneNameResponse, struct{}{})
	case CreateMemberResponse:
		return encode(tagCreateMemberResponse, wireMemberResponse{Member: memberToWire(resp.Member)})
	case UpdateMemberResponse:
		return encode(tagUpdateMemberResponse, struct{}{})
	case CreateAccountResponse:
		return encode(tagCreateAccountResponse, wireAccountResponse{Account: accountToWire(resp.Account)})
	case UpdateAccountResponse:
		return encode(tagUpdateAccountResponse, struct{}{})
	case AddTransactionResponse:
		return encode(tagAddTransactionResponse, wireTransactionResponse{Transaction: transactionToWire(resp.Transaction)})
	default:
		return nil, fmt.Errorf("unknown response type %T", r)
	}
}

// UnmarshalResponse decodes a tagged response record.
func UnmarshalResponse(data []byte) (ZoneResponse, error) {
	tag, body, err := splitRecord(data)
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagCommandFailureResponse:
		var w wireCommandFailureResponse
		if err := decodeBody(body, &w); err != nil {
			return nil, err
		}
		errs := make([]Error, len(w.Errors))
		for i, e := range w.Errors {
			errs[i] = Error{Code: ErrorCode(e.Code), Param: e.Param}
		}
		return CommandFailureResponse{Errors: errs}, nil
	case tagCreateZoneResponse:
		var w wireCreateZoneResponse
		if err := decodeBody(body, &w); err != nil {
			return nil, err
		}
		zone, err := zoneFromWire(w.Zone)
		if err != nil {
			return nil, err
		}
		return CreateZoneResponse{Zone: zone}, nil
	case tagJoinZoneResponse:
		var w wireJoinZoneResponse
		if err := decodeBody(body, &w); err != nil {
			return nil, err
		}
		zone, err := zoneFromWire(w.Zone)
		if err != nil {
			return nil, err
		}
		clients := make(map[string]domain.PublicKey, len(w.ConnectedClients))
		for handle, key := range w.ConnectedClients {
			clients[handle] = domain.PublicKey(key)
		}
		return JoinZoneResponse{Zone: zone, ConnectedClients: clients}, nil
	case tagQuitZoneResponse:
		return QuitZoneResponse{}, nil
	case tagChangeZoneNameResponse:
		return ChangeZoneNameResponse{}, nil
	case tagCreateMemberResponse:
		var w wireMemberResponse
		if err := decodeBody(body, &w); err != nil {
			return nil, err
		}
		return CreateMemberResponse{Member: memberFromWire(w.Member)}, nil
	case tagUpdateMemberResponse:
		return UpdateMemberResponse{}, nil
	case tagCreateAccountResponse:
		var w wireAccountResponse
		if err := decodeBody(body, &w); err != nil {
			return nil, err
		}
		return CreateAccountResponse{Account: accountFromWire(w.Account)}, nil
	case tagUpdateAccountResponse:
		return UpdateAccountResponse{}, nil
	case tagAddTransactionResponse:
		var w wireTransactionResponse
		if err := decodeBody(body, &w); err != nil {
			return nil, err
		}
		t, err := transactionFromWire(w.Transaction)
		if err != nil {
			return nil, err
		}
		return AddTransactionResponse{Transaction: t}, nil
	default:
		return nil, fmt.Errorf("unknown response tag 0x%02x", tag)
	}
}

type wireZoneCreatedEvent struct {
	Zone *wireZone `msgpack:"zone"`
}

type wireClientEvent struct {
	ClientHandle string `msgpack:"client_handle"`
}

type wireZoneNameChangedEvent struct {
	Name *string `msgpack:"name,omitempty"`
}

type wireMemberEvent struct {
	Member wireMember `msgpack:"member"`
}

type wireAccountCreatedEvent struct {
	Account wireAccount `msgpack:"account"`
}

type wireAccountUpdatedEvent struct {
	ActingAs *string     `msgpack:"acting_as,omitempty"`
	Account  wireAccount `msgpack:"account"`
}

type wireTransactionAddedEvent struct {
	Transaction wireTransaction `msgpack:"transaction"`
}

// MarshalEvent encodes an event as a tagged record.
func MarshalEvent(e ZoneEvent) ([]byte, error) {
	switch evt := e.(type) {
	case ZoneCreatedEvent:
		return encode(tagZoneCreatedEvent, wireZoneCreatedEvent{Zone: zoneToWire(evt.Zone)})
	case ClientJoinedEvent:
		return encode(tagClientJoinedEvent, wireClientEvent{ClientHandle: evt.ClientHandle})
	case ClientQuitEvent:
		return encode(tagClientQuitEvent, wireClientEvent{ClientHandle: evt.ClientHandle})
	case ZoneNameChangedEvent:
		return encode(tagZoneNameChangedEvent, wireZoneNameChangedEvent{Name: evt.Name})
	case MemberCreatedEvent:
		return encode(tagMemberCreatedEvent, wireMemberEvent{Member: memberToWire(evt.Member)})
	case MemberUpdatedEvent:
		return encode(tagMemberUpdatedEvent, wireMemberEvent{Member: memberToWire(evt.Member)})
	case AccountCreatedEvent:
		return encode(tagAccountCreatedEvent, wireAccountCreatedEvent{Account: accountToWire(evt.Account)})
	case AccountUpdatedEvent:
		var actingAs *string
		if evt.ActingAs != nil {
			s := string(*evt.ActingAs)
			actingAs = &s
		}
		return encode(tagAccountUpdatedEvent, wireAccountUpdatedEvent{
			ActingAs: actingAs,
			Account:  accountToWire(evt.Account),
		})
	case TransactionAddedEvent:
		return encode(tagTransactionAddedEvent, wireTransactionAddedEvent{Transaction: transactionToWire(evt.Transaction)})
	default:
		return nil, fmt.Errorf("unknown event type %T", e)
	}
}

// UnmarshalEvent decodes a tagged event record.
func UnmarshalEvent(data []byte) (ZoneEvent, error) {
	tag, body, err := splitRecord(data)
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagZoneCreatedEvent:
		var w wireZoneCreatedEvent
		if err := decodeBody(body, &w); err != nil {
			return nil, err
		}
		zone, err := zoneFromWire(w.Zone)
		if err != nil {
			return nil, err
		}
		return ZoneCreatedEvent{Zone: zone}, nil
	case tagClientJoinedEvent:
		var w wireClientEvent
		if err := decodeBody(body, &w); err != nil {
			return nil, err
		}
		return ClientJoinedEvent{ClientHandle: w.ClientHandle}, nil
	case tagClientQuitEvent:
		var w wireClientEvent
		if err := decodeBody(body, &w); err != nil {
			return nil, err
		}
		return ClientQuitEvent{ClientHandle: w.ClientHandle}, nil
	case tagZoneNameChangedEvent:
		var w wireZoneNameChangedEvent
		if err := decodeBody(body, &w); err != nil {
			return nil, err
		}
		return ZoneNameChangedEvent{Name: w.Name}, nil
	case tagMemberCreatedEvent:
		var w wireMemberEvent
		if err := decodeBody(body, &w); err != nil {
			return nil, err
		}
		return MemberCreatedEvent{Member: memberFromWire(w.Member)}, nil
	case tagMemberUpdatedEvent:
		var w wireMemberEvent
		if err := decodeBody(body, &w); err != nil {
			return nil, err
		}
		return MemberUpdatedEvent{Member: memberFromWire(w.Member)}, nil
	case tagAccountCreatedEvent:
		var w wireAccountCreatedEvent
		if err := decodeBody(body, &w); err != nil {
			return nil, err
		}
		return AccountCreatedEvent{Account: accountFromWire(w.Account)}, nil
	case tagAccountUpdatedEvent:
		var w wireAccountUpdatedEvent
		if err := decodeBody(body, &w); err != nil {
			return nil, err
		}
		var actingAs *domain.MemberID
		if w.ActingAs != nil {
			id := domain.MemberID(*w.ActingAs)
			actingAs = &id
		}
		return AccountUpdatedEvent{ActingAs: actingAs, Account: accountFromWire(w.Account)}, nil
	case tagTransactionAddedEvent:
		var w wireTransactionAddedEvent
		if err := decodeBody(body, &w); err != nil {
			return nil, err
		}
		t, err := transactionFromWire(w.Transaction)
		if err != nil {
			return nil, err
		}
		return TransactionAddedEvent{Transaction: t}, nil
	default:
		return nil, fmt.Errorf("unknown event tag 0x%02x", tag)
	}
}

type wireClientNotification struct {
	ClientHandle string `msgpack:"client_handle"`
	PublicKey    []byte `msgpack:"public_key"`
}

type wireAccountUpdatedNotification struct {
	ActingAs string      `msgpack:"acting_as"`
	Account  wireAccount `msgpack:"account"`
}

// MarshalNotification encodes a notification as a tagged record.
func MarshalNotification(n ZoneNotification) ([]byte, error) {
	switch note := n.(type) {
	case ClientJoinedNotification:
		return encode(tagClientJoinedNotification, wireClientNotification{
			ClientHandle: note.ClientHandle,
			PublicKey:    note.PublicKey,
		})
	case ClientQuitNotification:
		return encode(tagClientQuitNotification, wireClientNotification{
			ClientHandle: note.ClientHandle,
			PublicKey:    note.PublicKey,
		})
	case ZoneNameChangedNotification:
		return encode(tagZoneNameChangedNotification, wireZoneNameChangedEvent{Name: note.Name})
	case MemberCreatedNotification:
		return encode(tagMemberCreatedNotification, wireMemberEvent{Member: memberToWire(note.Member)})
	case MemberUpdatedNotification:
		return encode(tagMemberUpdatedNotification, wireMemberEvent{Member: memberToWire(note.Member)})
	case AccountCreatedNotification:
		return encode(tagAccountCreatedNotification, wireAccountCreatedEvent{Account: accountToWire(note.Account)})
	case AccountUpdatedNotification:
		return encode(tagAccountUpdatedNotification, wireAccountUpdatedNotification{
			ActingAs: string(note.ActingAs),
			Account:  accountToWire(note.Account),
		})
	case TransactionAddedNotification:
		return encode(tagTransactionAddedNotification, wireTransactionAddedEvent{Transaction: transactionToWire(note.Transaction)})
	default:
		return nil, fmt.Errorf("unknown notification type %T", n)
	}
}

// UnmarshalNotification decodes a tagged notification record.
func UnmarshalNotification(data []byte) (ZoneNotification, error) {
	tag, body, err := splitRecord(data)
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagClientJoinedNotification:
		var w wireClientNotification
		if err := decodeBody(body, &w); err != nil {
			return nil, err
		}
		return ClientJoinedNotification{ClientHandle: w.ClientHandle, PublicKey: w.PublicKey}, nil
	case tagClientQuitNotification:
		var w wireClientNotification
		if err := decodeBody(body, &w); err != nil {
			return nil, err
		}
		return ClientQuitNotification{ClientHandle: w.ClientHandle, PublicKey: w.PublicKey}, nil
	case tagZoneNameChangedNotification:
		var w wireZoneNameChangedEvent
		if err := decodeBody(body, &w); err != nil {
			return nil, err
		}
		return ZoneNameChangedNotification{Name: w.Name}, nil
	case tagMemberCreatedNotification:
		var w wireMemberEvent
		if err := decodeBody(body, &w); err != nil {
			return nil, err
		}
		return MemberCreatedNotification{Member: memberFromWire(w.Member)}, nil
	case tagMemberUpdatedNotification:
		var w wireMemberEvent
		if err := decodeBody(body, &w); err != nil {
			return nil, err
		}
		return MemberUpdatedNotification{Member: memberFromWire(w.Member)}, nil
	case tagAccountCreatedNotification:
		var w wireAccountCreatedEvent
		if err := decodeBody(body, &w); err != nil {
			return nil, err
		}
		return AccountCreatedNotification{Account: accountFromWire(w.Account)}, nil
	case tagAccountUpdatedNotification:
		var w wireAccountUpdatedNotification
		if err := decodeBody(body, &w); err != nil {
			return nil, err
		}
		return AccountUpdatedNotification{
			ActingAs: domain.MemberID(w.ActingAs),
			Account:  accountFromWire(w.Account),
		}, nil
	case tagTransactionAddedNotification:
		var w wireTransactionAddedEvent
		if err := decodeBody(body, &w); err != nil {
			return nil, err
		}
		t, err := transactionFromWire(w.Transaction)
		if err != nil {
			return nil, err
		}
		return TransactionAddedNotification{Transaction: t}, nil
	default:
		return nil, fmt.Errorf("unknown notification tag 0x%02x", tag)
	}
}
