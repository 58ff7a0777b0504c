package httptransport

import (
	"sort"

	"liquidity/internal/domain"
	"liquidity/internal/zone/protocol"
	"liquidity/internal/zone/state"
)

// JSON views of the domain types. Map-backed zone collections are flattened
// to id-sorted slices so responses are stable.

type memberView struct {
	ID              string   `json:"id"`
	OwnerPublicKeys [][]byte `json:"owner_public_keys"`
	Name            *string  `json:"name,omitempty"`
	Metadata        []byte   `json:"metadata,omitempty"`
}

type accountView struct {
	ID             string   `json:"id"`
	OwnerMemberIDs []string `json:"owner_member_ids"`
	Name           *string  `json:"name,omitempty"`
	Metadata       []byte   `json:"metadata,omitempty"`
}

type transactionView struct {
	ID          string  `json:"id"`
	From        string  `json:"from"`
	To          string  `json:"to"`
	Value       string  `json:"value"`
	Creator     string  `json:"creator"`
	Created     int64   `json:"created"`
	Description *string `json:"description,omitempty"`
	Metadata    []byte  `json:"metadata,omitempty"`
}

type zoneView struct {
	ID              string            `json:"id"`
	EquityAccountID string            `json:"equity_account_id"`
	Members         []memberView      `json:"members"`
	Accounts        []accountView     `json:"accounts"`
	Transactions    []transactionView `json:"transactions"`
	Created         int64             `json:"created"`
	Expires         int64             `json:"expires"`
	Name            *string           `json:"name,omitempty"`
	Metadata        []byte            `json:"metadata,omitempty"`
}

type errorView struct {
	Code  string `json:"code"`
	Param string `json:"param,omitempty"`
}

type commandResponseBody struct {
	Type             string            `json:"type"`
	Errors           []errorView       `json:"errors,omitempty"`
	Zone             *zoneView         `json:"zone,omitempty"`
	ConnectedClients map[string][]byte `json:"connected_clients,omitempty"`
	Member           *memberView       `json:"member,omitempty"`
	Account          *accountView      `json:"account,omitempty"`
	Transaction      *transactionView  `json:"transaction,omitempty"`
}

func toMemberView(m domain.Member) memberView {
	keys := make([][]byte, 0, len(m.OwnerPublicKeys))
	for _, k := range m.OwnerPublicKeys {
		keys = append(keys, k)
	}
	return memberView{ID: string(m.ID), OwnerPublicKeys: keys, Name: m.Name, Metadata: m.Metadata}
}

func toAccountView(a domain.Account) accountView {
	owners := make([]string, 0, len(a.OwnerMemberIDs))
	for _, id := range a.OwnerMemberIDs {
		owners = append(owners, string(id))
	}
	return accountView{ID: string(a.ID), OwnerMemberIDs: owners, Name: a.Name, Metadata: a.Metadata}
}

func toTransactionView(t domain.Transaction) transactionView {
	return transactionView{
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

func toZoneView(z *domain.Zone) *zoneView {
	if z == nil {
		return nil
	}
	view := &zoneView{
		ID:              string(z.ID),
		EquityAccountID: string(z.EquityAccountID),
		Members:         make([]memberView, 0, len(z.Members)),
		Accounts:        make([]accountView, 0, len(z.Accounts)),
		Transactions:    make([]transactionView, 0, len(z.Transactions)),
		Created:         z.Created,
		Expires:         z.Expires,
		Name:            z.Name,
		Metadata:        z.Metadata,
	}
	for _, m := range z.Members {
		view.Members = append(view.Members, toMemberView(m))
	}
	for _, a := range z.Accounts {
		view.Accounts = append(view.Accounts, toAccountView(a))
	}
	for _, t := range z.Transactions {
		view.Transactions = append(view.Transactions, toTransactionView(t))
	}
	sort.Slice(view.Members, func(i, j int) bool { return lessDecimalString(view.Members[i].ID, view.Members[j].ID) })
	sort.Slice(view.Accounts, func(i, j int) bool { return lessDecimalString(view.Accounts[i].ID, view.Accounts[j].ID) })
	sort.Slice(view.Transactions, func(i, j int) bool { return lessDecimalString(view.Transactions[i].ID, view.Transactions[j].ID) })
	return view
}

func lessDecimalString(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

func toResponseBody(response protocol.ZoneResponse) commandResponseBody {
	switch r := response.(type) {
	case protocol.CommandFailureResponse:
		errs := make([]errorView, 0, len(r.Errors))
		for _, e := range r.Errors {
			errs = append(errs, errorView{Code: string(e.Code), Param: e.Param})
		}
		return commandResponseBody{Type: "CommandFailure", Errors: errs}
	case protocol.CreateZoneResponse:
		return commandResponseBody{Type: "ZoneCreated", Zone: toZoneView(r.Zone)}
	case protocol.JoinZoneResponse:
		clients := make(map[string][]byte, len(r.ConnectedClients))
		for handle, key := range r.ConnectedClients {
			clients[handle] = key
		}
		return commandResponseBody{Type: "ZoneJoined", Zone: toZoneView(r.Zone), ConnectedClients: clients}
	case protocol.QuitZoneResponse:
		return commandResponseBody{Type: "ZoneQuit"}
	case protocol.ChangeZoneNameResponse:
		return commandResponseBody{Type: "ZoneNameChanged"}
	case protocol.CreateMemberResponse:
		member := toMemberView(r.Member)
		return commandResponseBody{Type: "MemberCreated", Member: &member}
	case protocol.UpdateMemberResponse:
		return commandResponseBody{Type: "MemberUpdated"}
	case protocol.CreateAccountResponse:
		account := toAccountView(r.Account)
		return commandResponseBody{Type: "AccountCreated", Account: &account}
	case protocol.UpdateAccountResponse:
		return commandResponseBody{Type: "AccountUpdated"}
	case protocol.AddTransactionResponse:
		transaction := toTransactionView(r.Transaction)
		return commandResponseBody{Type: "TransactionAdded", Transaction: &transaction}
	default:
		return commandResponseBody{Type: "Unknown"}
	}
}

// stateView is the diagnostics rendering of a live validator's state.
type stateView struct {
	Zone             *zoneView         `json:"zone"`
	Balances         map[string]string `json:"balances"`
	ConnectedClients map[string][]byte `json:"connected_clients"`
}

func toStateView(st *state.State) stateView {
	view := stateView{
		Zone:             toZoneView(st.Zone),
		Balances:         make(map[string]string, len(st.Balances)),
		ConnectedClients: make(map[string][]byte, len(st.ConnectedClients)),
	}
	for id, balance := range st.Balances {
		view.Balances[string(id)] = balance.String()
	}
	for handle, key := range st.ConnectedClients {
		view.ConnectedClients[handle] = key
	}
	return view
}
