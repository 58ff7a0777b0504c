package protocol

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"

	"liquidity/internal/domain"
)

// Records are encoded as a single kind tag byte followed by the msgpack body.
// Envelopes carry their payload as raw tagged-record bytes, so the envelope
// schema never changes when a new record kind is added.
const (
	tagCreateZoneCommand     byte = 0x10
	tagJoinZoneCommand       byte = 0x11
	tagQuitZoneCommand       byte = 0x12
	tagChangeZoneNameCommand byte = 0x13
	tagCreateMemberCommand   byte = 0x14
	tagUpdateMemberCommand   byte = 0x15
	tagCreateAccountCommand  byte = 0x16
	tagUpdateAccountCommand  byte = 0x17
	tagAddTransactionCommand byte = 0x18

	tagCommandFailureResponse byte = 0x20
	tagCreateZoneResponse     byte = 0x21
	tagJoinZoneResponse       byte = 0x22
	tagQuitZoneResponse       byte = 0x23
	tagChangeZoneNameResponse byte = 0x24
	tagCreateMemberResponse   byte = 0x25
	tagUpdateMemberResponse   byte = 0x26
	tagCreateAccountResponse  byte = 0x27
	tagUpdateAccountResponse  byte = 0x28
	tagAddTransactionResponse byte = 0x29

	tagZoneCreatedEvent      byte = 0x30
	tagClientJoinedEvent     byte = 0x31
	tagClientQuitEvent       byte = 0x32
	tagZoneNameChangedEvent  byte = 0x33
	tagMemberCreatedEvent    byte = 0x34
	tagMemberUpdatedEvent    byte = 0x35
	tagAccountCreatedEvent   byte = 0x36
	tagAccountUpdatedEvent   byte = 0x37
	tagTransactionAddedEvent byte = 0x38

	tagClientJoinedNotification     byte = 0x40
	tagClientQuitNotification       byte = 0x41
	tagZoneNameChangedNotification  byte = 0x42
	tagMemberCreatedNotification    byte = 0x43
	tagMemberUpdatedNotification    byte = 0x44
	tagAccountCreatedNotification   byte = 0x45
	tagAccountUpdatedNotification   byte = 0x46
	tagTransactionAddedNotification byte = 0x47
)

// Wire mirrors. Values follow the schema rules: strings UTF-8, decimals as
// ASCII base-10 strings, timestamps as epoch-millis int64, public keys as raw
// DER bytes. Maps are flattened to id-sorted slices so encoding is
// deterministic.

type wireMember struct {
	ID              string   `msgpack:"id"`
	OwnerPublicKeys [][]byte `msgpack:"owner_public_keys"`
	Name            *string  `msgpack:"name,omitempty"`
	Metadata        []byte   `msgpack:"metadata,omitempty"`
}

type wireAccount struct {
	ID             string   `msgpack:"id"`
	OwnerMemberIDs []string `msgpack:"owner_member_ids"`
	Name           *string  `msgpack:"name,omitempty"`
	Metadata       []byte   `msgpack:"metadata,omitempty"`
}

type wireTransaction struct {
	ID          string  `msgpack:"id"`
	From        string  `msgpack:"from"`
	To          string  `msgpack:"to"`
	Value       string  `msgpack:"value"`
	Creator     string  `msgpack:"creator"`
	Created     int64   `msgpack:"created"`
	Description *string `msgpack:"description,omitempty"`
	Metadata    []byte  `msgpack:"metadata,omitempty"`
}

type wireZone struct {
	ID              string            `msgpack:"id"`
	EquityAccountID string            `msgpack:"equity_account_id"`
	Members         []wireMember      `msgpack:"members"`
	Accounts        []wireAccount     `msgpack:"accounts"`
	Transactions    []wireTransaction `msgpack:"transactions"`
	Created         int64             `msgpack:"created"`
	Expires         int64             `msgpack:"expires"`
	Name            *string           `msgpack:"name,omitempty"`
	Metadata        []byte            `msgpack:"metadata,omitempty"`
}

func memberToWire(m domain.Member) wireMember {
	keys := make([][]byte, len(m.OwnerPublicKeys))
	for i, k := range m.OwnerPublicKeys {
		keys[i] = []byte(k)
	}
	return wireMember{
		ID:              string(m.ID),
		OwnerPublicKeys: keys,
		Name:            m.Name,
		Metadata:        m.Metadata,
	}
}

func memberFromWire(w wireMember) domain.Member {
	keys := make([]domain.PublicKey, len(w.OwnerPublicKeys))
	for i, k := range w.OwnerPublicKeys {
		keys[i] = domain.PublicKey(k)
	}
	return domain.Member{
		ID:              domain.MemberID(w.ID),
		OwnerPublicKeys: keys,
		Name:            w.Name,
		Metadata:        w.Metadata,
	}
}

func accountToWire(a domain.Account) wireAccount {
	ids := make([]string, len(a.OwnerMemberIDs))
	for i, id := range a.OwnerMemberIDs {
		ids[i] = string(id)
	}
	return wireAccount{
		ID:             string(a.ID),
		OwnerMemberIDs: ids,
		Name:           a.Name,
		Metadata:       a.Metadata,
	}
}

func accountFromWire(w wireAccount) domain.Account {
	ids := make([]domain.MemberID, len(w.OwnerMemberIDs))
	for i, id := range w.OwnerMemberIDs {
		ids[i] = domain.MemberID(id)
	}
	return domain.Account{
		ID:             domain.AccountID(w.ID),
		OwnerMemberIDs: ids,
		Name:           w.Name,
		Metadata:       w.Metadata,
	}
}

func transactionToWire(t domain.Transaction) wireTransaction {
	return wireTransaction{
		ID:          string(t.ID),
		From:        string(t.From),
		To:          string(t.To),
		Value:       t.Value.String(),
		Creator:     string(t.Creator),
		Created:     t.Created,
		Description: t.Description,
		Metadata:    t.Metadata,
	}
}

func transactionFromWire(w wireTransaction) (domain.Transaction, error) {
	value, err := decimal.NewFromString(w.Value)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("decode transaction value %q: %w", w.Value, err)
	}
	return domain.Transaction{
		ID:          domain.TransactionID(w.ID),
		From:        domain.AccountID(w.From),
		To:          domain.AccountID(w.To),
		Value:       value,
		Creator:     domain.MemberID(w.Creator),
		Created:     w.Created,
		Description: w.Description,
		Metadata:    w.Metadata,
	}, nil
}

func zoneToWire(z *domain.Zone) *wireZone {
	if z == nil {
		return nil
	}
	members := make([]wireMember, 0, len(z.Members))
	for _, m := range z.Members {
		members = append(members, memberToWire(m))
	}
	sort.Slice(members, func(i, j int) bool { return lessDecimalID(members[i].ID, members[j].ID) })

	accounts := make([]wireAccount, 0, len(z.Accounts))
	for _, a := range z.Accounts {
		accounts = append(accounts, accountToWire(a))
	}
	sort.Slice(accounts, func(i, j int) bool { return lessDecimalID(accounts[i].ID, accounts[j].ID) })

	transactions := make([]wireTransaction, 0, len(z.Transactions))
	for _, t := range z.Transactions {
		transactions = append(transactions, transactionToWire(t))
	}
	sort.Slice(transactions, func(i, j int) bool { return lessDecimalID(transactions[i].ID, transactions[j].ID) })

	return &wireZone{
		ID:              string(z.ID),
		EquityAccountID: string(z.EquityAccountID),
		Members:         members,
		Accounts:        accounts,
		Transactions:    transactions,
		Created:         z.Created,
		Expires:         z.Expires,
		Name:            z.Name,
		Metadata:        z.Metadata,
	}
}

func zoneFromWire(w *wireZone) (*domain.Zone, error) {
	if w == nil {
		return nil, nil
	}
	zone := &domain.Zone{
		ID:              domain.ZoneID(w.ID),
		EquityAccountID: domain.AccountID(w.EquityAccountID),
		Members:         make(map[domain.MemberID]domain.Member, len(w.Members)),
		Accounts:        make(map[domain.AccountID]domain.Account, len(w.Accounts)),
		Transactions:    make(map[domain.TransactionID]domain.Transaction, len(w.Transactions)),
		Created:         w.Created,
		Expires:         w.Expires,
		Name:            w.Name,
		Metadata:        w.Metadata,
	}
	for _, wm := range w.Members {
		m := memberFromWire(wm)
		zone.Members[m.ID] = m
	}
	for _, wa := range w.Accounts {
		a := accountFromWire(wa)
		zone.Accounts[a.ID] = a
	}
	for _, wt := range w.Transactions {
		t, err := transactionFromWire(wt)
		if err != nil {
			return nil, err
		}
		zone.Transactions[t.ID] = t
	}
	return zone, nil
}

func lessDecimalID(a, b string) bool {
	ai, aErr := strconv.ParseInt(a, 10, 64)
	bi, bErr := strconv.ParseInt(b, 10, 64)
	if aErr == nil && bErr == nil {
		return ai < bi
	}
	return a < b
}

func keysToWire(keys []domain.PublicKey) [][]byte {
	out := make([][]byte, len(keys))
	for i, k := range keys {
		out[i] = []byte(k)
	}
	return out
}

func keysFromWire(raw [][]byte) []domain.PublicKey {
	out := make([]domain.PublicKey, len(raw))
	for i, k := range raw {
		out[i] = domain.PublicKey(k)
	}
	return out
}

func memberIDsToWire(ids []domain.MemberID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func memberIDsFromWire(raw []string) []domain.MemberID {
	out := make([]domain.MemberID, len(raw))
	for i, id := range raw {
		out[i] = domain.MemberID(id)
	}
	return out
}

func encode(tag byte, body any) ([]byte, error) {
	raw, err := msgpack.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode record 0x%02x: %w", tag, err)
	}
	out := make([]byte, 0, len(raw)+1)
	out = append(out, tag)
	return append(out, raw...), nil
}

func decodeBody(data []byte, out any) error {
	return msgpack.Unmarshal(data, out)
}

func splitRecord(data []byte) (byte, []byte, error) {
	if len(data) == 0 {
		return 0, nil, fmt.Errorf("empty record")
	}
	return data[0], data[1:], nil
}
