package httptransport

import (
	"github.com/shopspring/decimal"

	"liquidity/internal/domain"
	"liquidity/internal/zone/protocol"
	pkgerrors "liquidity/pkg/errors"
)

// commandBody is the JSON shape of a zone command. Type selects the command;
// the remaining fields are read per type and ignored otherwise. Byte fields
// (keys, metadata) are base64 per encoding/json convention; monetary values
// are decimal strings.
type commandBody struct {
	Type string `json:"type"`

	Name     *string `json:"name,omitempty"`
	Metadata []byte  `json:"metadata,omitempty"`

	EquityOwnerPublicKey  []byte  `json:"equity_owner_public_key,omitempty"`
	EquityOwnerName       *string `json:"equity_owner_name,omitempty"`
	EquityOwnerMetadata   []byte  `json:"equity_owner_metadata,omitempty"`
	EquityAccountName     *string `json:"equity_account_name,omitempty"`
	EquityAccountMetadata []byte  `json:"equity_account_metadata,omitempty"`

	OwnerPublicKeys [][]byte `json:"owner_public_keys,omitempty"`
	OwnerMemberIDs  []string `json:"owner_member_ids,omitempty"`

	Member  *memberBody  `json:"member,omitempty"`
	Account *accountBody `json:"account,omitempty"`

	ActingAs    string  `json:"acting_as,omitempty"`
	From        string  `json:"from,omitempty"`
	To          string  `json:"to,omitempty"`
	Value       string  `json:"value,omitempty"`
	Description *string `json:"description,omitempty"`
}

type memberBody struct {
	ID              string   `json:"id"`
	OwnerPublicKeys [][]byte `json:"owner_public_keys"`
	Name            *string  `json:"name,omitempty"`
	Metadata        []byte   `json:"metadata,omitempty"`
}

type accountBody struct {
	ID             string   `json:"id"`
	OwnerMemberIDs []string `json:"owner_member_ids"`
	Name           *string  `json:"name,omitempty"`
	Metadata       []byte   `json:"metadata,omitempty"`
}

func (b commandBody) toCommand() (protocol.ZoneCommand, error) {
	switch b.Type {
	case "CreateZone":
		return protocol.CreateZoneCommand{
			EquityOwnerPublicKey:  b.EquityOwnerPublicKey,
			EquityOwnerName:       b.EquityOwnerName,
			EquityOwnerMetadata:   b.EquityOwnerMetadata,
			EquityAccountName:     b.EquityAccountName,
			EquityAccountMetadata: b.EquityAccountMetadata,
			Name:                  b.Name,
			Metadata:              b.Metadata,
		}, nil
	case "JoinZone":
		return protocol.JoinZoneCommand{}, nil
	case "QuitZone":
		return protocol.QuitZoneCommand{}, nil
	case "ChangeZoneName":
		return protocol.ChangeZoneNameCommand{Name: b.Name}, nil
	case "CreateMember":
		return protocol.CreateMemberCommand{
			OwnerPublicKeys: toPublicKeys(b.OwnerPublicKeys),
			Name:            b.Name,
			Metadata:        b.Metadata,
		}, nil
	case "UpdateMember":
		if b.Member == nil {
			return nil, pkgerrors.New(pkgerrors.CodeInvalid, "member is required")
		}
		return protocol.UpdateMemberCommand{Member: domain.Member{
			ID:              domain.MemberID(b.Member.ID),
			OwnerPublicKeys: toPublicKeys(b.Member.OwnerPublicKeys),
			Name:            b.Member.Name,
			Metadata:        b.Member.Metadata,
		}}, nil
	case "CreateAccount":
		return protocol.CreateAccountCommand{
			OwnerMemberIDs: toMemberIDs(b.OwnerMemberIDs),
			Name:           b.Name,
			Metadata:       b.Metadata,
		}, nil
	case "UpdateAccount":
		if b.Account == nil {
			return nil, pkgerrors.New(pkgerrors.CodeInvalid, "account is required")
		}
		return protocol.UpdateAccountCommand{
			ActingAs: domain.MemberID(b.ActingAs),
			Account: domain.Account{
				ID:             domain.AccountID(b.Account.ID),
				OwnerMemberIDs: toMemberIDs(b.Account.OwnerMemberIDs),
				Name:           b.Account.Name,
				Metadata:       b.Account.Metadata,
			},
		}, nil
	case "AddTransaction":
		value, err := decimal.NewFromString(b.Value)
		if err != nil {
			return nil, pkgerrors.Newf(pkgerrors.CodeInvalid, "invalid transaction value %q", b.Value)
		}
		return protocol.AddTransactionCommand{
			ActingAs:    domain.MemberID(b.ActingAs),
			From:        domain.AccountID(b.From),
			To:          domain.AccountID(b.To),
			Value:       value,
			Description: b.Description,
			Metadata:    b.Metadata,
		}, nil
	default:
		return nil, pkgerrors.Newf(pkgerrors.CodeInvalid, "unknown command type %q", b.Type)
	}
}

func toPublicKeys(raw [][]byte) []domain.PublicKey {
	keys := make([]domain.PublicKey, 0, len(raw))
	for _, k := range raw {
		keys = append(keys, domain.PublicKey(k))
	}
	return keys
}

func toMemberIDs(raw []string) []domain.MemberID {
	ids := make([]domain.MemberID, 0, len(raw))
	for _, id := range raw {
		ids = append(ids, domain.MemberID(id))
	}
	return ids
}
