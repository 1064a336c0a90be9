package ledger

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeClaimable AccountSubType = iota

	// System sub-types (one set per raffle instance)
	SubTypePrize
	SubTypeRevenue

	// External sub-types: the boundary with the token and bank.
	SubTypeExternalDeposits
	SubTypeExternalWithdrawals
)

// AssetID maps asset strings to numeric IDs for performance
type AssetID uint16

const (
	AssetCustody AssetID = 1 // fungible custody token: entries, prize, payouts
	AssetNative  AssetID = 2 // native asset: oracle fees and their refunds
)

var (
	assetToID = map[string]AssetID{
		"CUSTODY": AssetCustody,
		"NATIVE":  AssetNative,
	}
	idToAsset = map[AssetID]string{
		AssetCustody: "CUSTODY",
		AssetNative:  "NATIVE",
	}
)

func GetAssetID(asset string) (AssetID, bool) {
	id, ok := assetToID[asset]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	name, ok := idToAsset[id]
	return name, ok
}

// AccountKey is the in-memory key for balance tracking
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte // participant UUID for user accounts
	SubType  AccountSubType
	AssetID  AssetID
}

// NewUserAccountKey creates a key for a participant's claimable balance
func NewUserAccountKey(userID uuid.UUID, subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeUser,
		EntityID: userID,
		SubType:  subType,
		AssetID:  assetID,
	}
}

// NewClaimableKey is shorthand for a participant's claimable account.
func NewClaimableKey(userID uuid.UUID, assetID AssetID) AccountKey {
	return NewUserAccountKey(userID, SubTypeClaimable, assetID)
}

// NewSystemAccountKey creates a key for the raffle's own liability accounts
func NewSystemAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeSystem,
		SubType: subType,
		AssetID: assetID,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		AssetID: assetID,
	}
}

// IsLiability reports whether the account counts toward reserved funds.
// Everything the raffle owes is held outside the external scope.
func (k AccountKey) IsLiability() bool {
	return k.Scope != AccountScopeExternal
}

// UserID returns the participant for user-scoped keys.
func (k AccountKey) UserID() uuid.UUID {
	return uuid.UUID(k.EntityID)
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	assetName, _ := GetAssetName(k.AssetID)

	switch k.Scope {
	case AccountScopeUser:
		uid := uuid.UUID(k.EntityID)
		return fmt.Sprintf("user:%s:%s:%s", uid.String(), k.subTypeName(), assetName)
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%s", k.subTypeName(), assetName)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), assetName)
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeClaimable:
		return "claimable"
	case SubTypePrize:
		return "prize"
	case SubTypeRevenue:
		return "revenue"
	case SubTypeExternalDeposits:
		return "deposits"
	case SubTypeExternalWithdrawals:
		return "withdrawals"
	default:
		return "unknown"
	}
}

var subTypeByName = map[string]AccountSubType{
	"claimable":   SubTypeClaimable,
	"prize":       SubTypePrize,
	"revenue":     SubTypeRevenue,
	"deposits":    SubTypeExternalDeposits,
	"withdrawals": SubTypeExternalWithdrawals,
}

// ParseAccountPath is the inverse of AccountPath. Snapshots store balances
// keyed by path.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")

	var scope AccountScope
	var entity uuid.UUID
	switch {
	case len(parts) == 4 && parts[0] == "user":
		id, err := uuid.Parse(parts[1])
		if err != nil {
			return AccountKey{}, fmt.Errorf("account path %q: %w", path, err)
		}
		scope, entity, parts = AccountScopeUser, id, parts[2:]
	case len(parts) == 3 && parts[0] == "system":
		scope, parts = AccountScopeSystem, parts[1:]
	case len(parts) == 3 && parts[0] == "external":
		scope, parts = AccountScopeExternal, parts[1:]
	default:
		return AccountKey{}, fmt.Errorf("malformed account path %q", path)
	}

	subType, ok := subTypeByName[parts[0]]
	if !ok {
		return AccountKey{}, fmt.Errorf("account path %q: unknown sub-type %q", path, parts[0])
	}
	assetID, ok := GetAssetID(parts[1])
	if !ok {
		return AccountKey{}, fmt.Errorf("account path %q: unknown asset %q", path, parts[1])
	}

	return AccountKey{Scope: scope, EntityID: entity, SubType: subType, AssetID: assetID}, nil
}
