// Package domain holds the ledger model: zones, members, accounts and
// transactions. Types here are storage- and transport-agnostic; wire encoding
// lives in the protocol package.
package domain

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type (
	// ZoneID is the stable opaque identifier of a zone (canonical UUID string).
	ZoneID string
	// MemberID is assigned as the decimal index of insertion within a zone.
	MemberID string
	// AccountID is assigned as the decimal index of insertion within a zone.
	AccountID string
	// TransactionID is assigned as the decimal index of insertion within a zone.
	TransactionID string
)

func NewZoneID() ZoneID {
	return ZoneID(uuid.NewString())
}

// PublicKey is a DER-encoded RSA SubjectPublicKeyInfo. It is the sole caller
// identity in the system; the gateway resolves it from the JWT subject.
type PublicKey []byte

// Fingerprint returns the hex SHA-256 of the DER bytes. Used as a map key and
// as the client-visible identity in summaries.
func (k PublicKey) Fingerprint() string {
	sum := sha256.Sum256(k)
	return hex.EncodeToString(sum[:])
}

func (k PublicKey) Equal(other PublicKey) bool {
	return bytes.Equal(k, other)
}

// Zone is a self-contained ledger of members, accounts and transactions.
type Zone struct {
	ID              ZoneID
	EquityAccountID AccountID
	Members         map[MemberID]Member
	Accounts        map[AccountID]Account
	Transactions    map[TransactionID]Transaction
	Created         int64 // epoch millis
	Expires         int64 // Created + ZoneLifetime
	Name            *string
	Metadata        []byte
}

// Member identifies a participant by a non-empty set of RSA public keys.
type Member struct {
	ID              MemberID
	OwnerPublicKeys []PublicKey
	Name            *string
	Metadata        []byte
}

// Equal is structural equality with set semantics for the owner keys.
func (m Member) Equal(other Member) bool {
	return m.ID == other.ID &&
		publicKeySetEqual(m.OwnerPublicKeys, other.OwnerPublicKeys) &&
		stringPtrEqual(m.Name, other.Name) &&
		bytes.Equal(m.Metadata, other.Metadata)
}

// Account is owned by a non-empty set of existing members.
type Account struct {
	ID             AccountID
	OwnerMemberIDs []MemberID
	Name           *string
	Metadata       []byte
}

// Equal is structural equality with set semantics for the owner member ids.
func (a Account) Equal(other Account) bool {
	return a.ID == other.ID &&
		memberIDSetEqual(a.OwnerMemberIDs, other.OwnerMemberIDs) &&
		stringPtrEqual(a.Name, other.Name) &&
		bytes.Equal(a.Metadata, other.Metadata)
}

// Transaction moves value between two distinct accounts of the same zone.
type Transaction struct {
	ID          TransactionID
	From        AccountID
	To          AccountID
	Value       decimal.Decimal
	Creator     MemberID
	Created     int64 // epoch millis
	Description *string
	Metadata    []byte
}

// Clone returns a deep copy, safe to hand across goroutine boundaries.
func (z *Zone) Clone() *Zone {
	if z == nil {
		return nil
	}
	clone := *z
	clone.Members = make(map[MemberID]Member, len(z.Members))
	for id, m := range z.Members {
		clone.Members[id] = m
	}
	clone.Accounts = make(map[AccountID]Account, len(z.Accounts))
	for id, a := range z.Accounts {
		clone.Accounts[id] = a
	}
	clone.Transactions = make(map[TransactionID]Transaction, len(z.Transactions))
	for id, t := range z.Transactions {
		clone.Transactions[id] = t
	}
	return &clone
}

// MinMemberID returns the numerically smallest member id, falling back to
// lexicographic order for non-numeric ids. Used where a deterministic single
// owner must be picked from a set.
func MinMemberID(ids []MemberID) MemberID {
	if len(ids) == 0 {
		return ""
	}
	min := ids[0]
	for _, id := range ids[1:] {
		if lessMemberID(id, min) {
			min = id
		}
	}
	return min
}

func lessMemberID(a, b MemberID) bool {
	ai, aErr := strconv.ParseInt(string(a), 10, 64)
	bi, bErr := strconv.ParseInt(string(b), 10, 64)
	if aErr == nil && bErr == nil {
		return ai < bi
	}
	return a < b
}

func stringPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func publicKeySetEqual(a, b []PublicKey) bool {
	return fingerprintSet(a) == fingerprintSet(b)
}

func fingerprintSet(keys []PublicKey) string {
	prints := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		fp := k.Fingerprint()
		if _, ok := seen[fp]; ok {
			continue
		}
		seen[fp] = struct{}{}
		prints = append(prints, fp)
	}
	sort.Strings(prints)
	var joined bytes.Buffer
	for _, p := range prints {
		joined.WriteString(p)
		joined.WriteByte(',')
	}
	return joined.String()
}

func memberIDSetEqual(a, b []MemberID) bool {
	as := NormalizeMemberIDs(a)
	bs := NormalizeMemberIDs(b)
	if len(as) != len(bs) {
		return false
	}
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

// NormalizeMemberIDs dedupes and sorts a member id set into canonical order.
func NormalizeMemberIDs(ids []MemberID) []MemberID {
	seen := make(map[MemberID]struct{}, len(ids))
	out := make([]MemberID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return lessMemberID(out[i], out[j]) })
	return out
}
