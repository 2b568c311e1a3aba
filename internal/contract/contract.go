package contract

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/exp/slices"
)

type Status string

const (
	StatusDraft             Status = "Draft"
	StatusPendingSignatures Status = "PendingSignatures"
	StatusPendingSettlement Status = "PendingSettlement"
	StatusCompleted         Status = "Completed"
	StatusExpired           Status = "Expired"
	StatusDisputed          Status = "Disputed"
)

func (s Status) String() string {
	return string(s)
}

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusExpired || s == StatusDisputed
}

func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusPendingSignatures, StatusPendingSettlement, StatusCompleted, StatusExpired, StatusDisputed:
		return true
	}
	return false
}

type Role string

const (
	RoleInitiator    Role = "initiator"
	RoleCounterparty Role = "counterparty"
	RoleWitness      Role = "witness"
	RoleArbiter      Role = "arbiter"
)

type Party struct {
	PublicKey string     `json:"publicKey"`
	Email     string     `json:"email"`
	Role      Role       `json:"role"`
	Signature []byte     `json:"signature,omitempty"`
	SignedAt  *time.Time `json:"signedAt,omitempty"`
}

func (p Party) Signed() bool {
	return len(p.Signature) > 0
}

// Policy is fixed at creation
type Policy struct {
	MinSigners               int  `json:"minSigners"`
	RequireSequentialSigning bool `json:"requireSequentialSigning"`
}

// Terms describe the fee released on settlement. SharesBps is aligned with
// Contract.Parties; empty means an equal split
type Terms struct {
	Fee       *big.Int `json:"fee,omitempty"`
	SharesBps []uint32 `json:"sharesBps,omitempty"`
}

type Contract struct {
	ID           string      `json:"id"`
	Document     []byte      `json:"document"`
	ContentType  string      `json:"contentType"`
	DocumentHash common.Hash `json:"documentHash"`
	Parties      []Party     `json:"parties"`
	Status       Status      `json:"status"`
	Policy       Policy      `json:"policy"`
	Terms        Terms       `json:"terms"`
	ExpiryDate   time.Time   `json:"expiryDate"`

	SettlementKey      common.Hash `json:"settlementKey"`
	SettlementTx       string      `json:"settlementTx,omitempty"` // ledger reference of the pending submission
	SettlementRef      string      `json:"settlementRef,omitempty"`
	SettlementAttempts int         `json:"settlementAttempts"`
	DisputeReason      string      `json:"disputeReason,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a deep copy, the result shares no memory with c
func (c *Contract) Clone() Contract {
	cp := *c
	cp.Document = slices.Clone(c.Document)
	cp.Parties = make([]Party, len(c.Parties))
	for i, p := range c.Parties {
		cp.Parties[i] = p
		cp.Parties[i].Signature = slices.Clone(p.Signature)
		if p.SignedAt != nil {
			signedAt := *p.SignedAt
			cp.Parties[i].SignedAt = &signedAt
		}
	}
	if c.Terms.Fee != nil {
		cp.Terms.Fee = new(big.Int).Set(c.Terms.Fee)
	}
	cp.Terms.SharesBps = slices.Clone(c.Terms.SharesBps)
	return cp
}

// PartyIndex returns the registration index of the party, -1 if not registered
func (c *Contract) PartyIndex(publicKey string) int {
	return slices.IndexFunc(c.Parties, func(p Party) bool {
		return p.PublicKey == publicKey
	})
}

func (c *Contract) IsParty(publicKey string) bool {
	return c.PartyIndex(publicKey) >= 0
}

func (c *Contract) SignedCount() int {
	n := 0
	for _, p := range c.Parties {
		if p.Signed() {
			n++
		}
	}
	return n
}

// QuorumReached reports whether every registered party signed. Partial quorum is not supported
func (c *Contract) QuorumReached() bool {
	if len(c.Parties) == 0 || len(c.Parties) < c.Policy.MinSigners {
		return false
	}
	return c.SignedCount() == len(c.Parties)
}

func (c *Contract) Emails(roles ...Role) []string {
	emails := make([]string, 0, len(c.Parties))
	for _, p := range c.Parties {
		if len(roles) > 0 && !slices.Contains(roles, p.Role) {
			continue
		}
		emails = append(emails, p.Email)
	}
	return emails
}
