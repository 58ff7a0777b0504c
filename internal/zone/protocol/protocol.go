// Package protocol defines the wire contract of the zone validator: commands,
// responses, events, notifications, the envelopes that carry them, and the
// binary codec. Anything that crosses a process boundary is defined here.
package protocol

import (
	"github.com/shopspring/decimal"

	"liquidity/internal/domain"
)

// ErrorCode is the closed enumeration of command validation failures.
type ErrorCode string

const (
	ErrTagLengthExceeded           ErrorCode = "TagLengthExceeded"
	ErrMetadataLengthExceeded      ErrorCode = "MetadataLengthExceeded"
	ErrNoPublicKeys                ErrorCode = "NoPublicKeys"
	ErrInvalidPublicKey            ErrorCode = "InvalidPublicKey"
	ErrInvalidPublicKeyType        ErrorCode = "InvalidPublicKeyType"
	ErrInvalidPublicKeyLength      ErrorCode = "InvalidPublicKeyLength"
	ErrNoMemberIDs                 ErrorCode = "NoMemberIds"
	ErrMemberDoesNotExist          ErrorCode = "MemberDoesNotExist"
	ErrAccountDoesNotExist         ErrorCode = "AccountDoesNotExist"
	ErrMemberKeyMismatch           ErrorCode = "MemberKeyMismatch"
	ErrAccountOwnerMismatch        ErrorCode = "AccountOwnerMismatch"
	ErrSourceAccountDoesNotExist   ErrorCode = "SourceAccountDoesNotExist"
	ErrDestAccountDoesNotExist     ErrorCode = "DestinationAccountDoesNotExist"
	ErrReflexiveTransaction        ErrorCode = "ReflexiveTransaction"
	ErrNegativeTransactionValue    ErrorCode = "NegativeTransactionValue"
	ErrInsufficientBalance         ErrorCode = "InsufficientBalance"
	ErrZoneDoesNotExist            ErrorCode = "ZoneDoesNotExist"
)

// Error is one validation failure. Param carries the offending id for the
// parameterised codes (MemberDoesNotExist, AccountDoesNotExist).
type Error struct {
	Code  ErrorCode
	Param string
}

// ZoneCommand is one of the nine client-issued commands.
type ZoneCommand interface {
	// CommandName is the stable kind label, used for dispatch and metrics.
	CommandName() string
}

type CreateZoneCommand struct {
	EquityOwnerPublicKey  domain.PublicKey
	EquityOwnerName       *string
	EquityOwnerMetadata   []byte
	EquityAccountName     *string
	EquityAccountMetadata []byte
	Name                  *string
	Metadata              []byte
}

type JoinZoneCommand struct{}

type QuitZoneCommand struct{}

type ChangeZoneNameCommand struct {
	Name *string
}

type CreateMemberCommand struct {
	OwnerPublicKeys []domain.PublicKey
	Name            *string
	Metadata        []byte
}

type UpdateMemberCommand struct {
	Member domain.Member
}

type CreateAccountCommand struct {
	OwnerMemberIDs []domain.MemberID
	Name           *string
	Metadata       []byte
}

type UpdateAccountCommand struct {
	ActingAs domain.MemberID
	Account  domain.Account
}

type AddTransactionCommand struct {
	ActingAs    domain.MemberID
	From        domain.AccountID
	To          domain.AccountID
	Value       decimal.Decimal
	Description *string
	Metadata    []byte
}

func (CreateZoneCommand) CommandName() string     { return "CreateZone" }
func (JoinZoneCommand) CommandName() string       { return "JoinZone" }
func (QuitZoneCommand) CommandName() string       { return "QuitZone" }
func (ChangeZoneNameCommand) CommandName() string { return "ChangeZoneName" }
func (CreateMemberCommand) CommandName() string   { return "CreateMember" }
func (UpdateMemberCommand) CommandName() string   { return "UpdateMember" }
func (CreateAccountCommand) CommandName() string  { return "CreateAccount" }
func (UpdateAccountCommand) CommandName() string  { return "UpdateAccount" }
func (AddTransactionCommand) CommandName() string { return "AddTransaction" }

// ZoneResponse is the reply to a single command.
type ZoneResponse interface {
	isZoneResponse()
}

// CommandFailureResponse carries the accumulated validation errors. The list
// is never empty.
type CommandFailureResponse struct {
	Errors []Error
}

type CreateZoneResponse struct {
	Zone *domain.Zone
}

type JoinZoneResponse struct {
	Zone *domain.Zone
	// ConnectedClients maps client handle to the public key it joined with.
	ConnectedClients map[string]domain.PublicKey
}

type QuitZoneResponse struct{}

type ChangeZoneNameResponse struct{}

type CreateMemberResponse struct {
	Member domain.Member
}

type UpdateMemberResponse struct{}

type CreateAccountResponse struct {
	Account domain.Account
}

type UpdateAccountResponse struct{}

type AddTransactionResponse struct {
	Transaction domain.Transaction
}

func (CommandFailureResponse) isZoneResponse() {}
func (CreateZoneResponse) isZoneResponse()     {}
func (JoinZoneResponse) isZoneResponse()       {}
func (QuitZoneResponse) isZoneResponse()       {}
func (ChangeZoneNameResponse) isZoneResponse() {}
func (CreateMemberResponse) isZoneResponse()   {}
func (UpdateMemberResponse) isZoneResponse()   {}
func (CreateAccountResponse) isZoneResponse()  {}
func (UpdateAccountResponse) isZoneResponse()  {}
func (AddTransactionResponse) isZoneResponse() {}

// ZoneEvent is one of the persisted event variants.
type ZoneEvent interface {
	isZoneEvent()
}

type ZoneCreatedEvent struct {
	Zone *domain.Zone
}

type ClientJoinedEvent struct {
	ClientHandle string
}

type ClientQuitEvent struct {
	ClientHandle string
}

type ZoneNameChangedEvent struct {
	Name *string
}

type MemberCreatedEvent struct {
	Member domain.Member
}

type MemberUpdatedEvent struct {
	Member domain.Member
}

type AccountCreatedEvent struct {
	Account domain.Account
}

// AccountUpdatedEvent records the member the update was performed as. ActingAs
// is nil in journals written before the field existed.
type AccountUpdatedEvent struct {
	ActingAs *domain.MemberID
	Account  domain.Account
}

type TransactionAddedEvent struct {
	Transaction domain.Transaction
}

func (ZoneCreatedEvent) isZoneEvent()      {}
func (ClientJoinedEvent) isZoneEvent()     {}
func (ClientQuitEvent) isZoneEvent()       {}
func (ZoneNameChangedEvent) isZoneEvent()  {}
func (MemberCreatedEvent) isZoneEvent()    {}
func (MemberUpdatedEvent) isZoneEvent()    {}
func (AccountCreatedEvent) isZoneEvent()   {}
func (AccountUpdatedEvent) isZoneEvent()   {}
func (TransactionAddedEvent) isZoneEvent() {}

// ZoneNotification is fanned out to connected clients after an event commits.
type ZoneNotification interface {
	isZoneNotification()
}

type ClientJoinedNotification struct {
	ClientHandle string
	PublicKey    domain.PublicKey
}

type ClientQuitNotification struct {
	ClientHandle string
	PublicKey    domain.PublicKey
}

type ZoneNameChangedNotification struct {
	Name *string
}

type MemberCreatedNotification struct {
	Member domain.Member
}

type MemberUpdatedNotification struct {
	Member domain.Member
}

type AccountCreatedNotification struct {
	Account domain.Account
}

type AccountUpdatedNotification struct {
	ActingAs domain.MemberID
	Account  domain.Account
}

type TransactionAddedNotification struct {
	Transaction domain.Transaction
}

func (ClientJoinedNotification) isZoneNotification()     {}
func (ClientQuitNotification) isZoneNotification()       {}
func (ZoneNameChangedNotification) isZoneNotification()  {}
func (MemberCreatedNotification) isZoneNotification()    {}
func (MemberUpdatedNotification) isZoneNotification()    {}
func (AccountCreatedNotification) isZoneNotification()   {}
func (AccountUpdatedNotification) isZoneNotification()   {}
func (TransactionAddedNotification) isZoneNotification() {}

// ZoneCommandEnvelope wraps a command with its routing metadata. ReplyTo is a
// runtime concern (a channel at the validator boundary), not a wire field.
type ZoneCommandEnvelope struct {
	RemoteAddress string
	PublicKey     domain.PublicKey
	CorrelationID string
	ZoneID        domain.ZoneID
	Command       ZoneCommand
}

type ZoneResponseEnvelope struct {
	CorrelationID string
	ZoneID        domain.ZoneID
	Response      ZoneResponse
}

// ZoneEventEnvelope is the persisted record. RemoteAddress and PublicKey are
// empty for events the validator generates itself (observed disconnects).
type ZoneEventEnvelope struct {
	RemoteAddress string
	PublicKey     domain.PublicKey
	Timestamp     int64 // epoch millis, wall clock, not authoritative for ordering
	Event         ZoneEvent
}

type ZoneNotificationEnvelope struct {
	Origin         string
	ZoneID         domain.ZoneID
	SequenceNumber int64
	Notification   ZoneNotification
}

// ZoneSnapshot captures replayed state at a journal sequence number. Snapshots
// are an optimisation; correctness never depends on them.
type ZoneSnapshot struct {
	Zone     *domain.Zone
	Balances map[domain.AccountID]decimal.Decimal
}

// PersistenceID forms the durable journal key for a zone.
func PersistenceID(zoneID domain.ZoneID) string {
	return "zone-" + string(zoneID)
}
