package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/Lumerin-protocol/contract-settlement/internal/contract"
	"github.com/Lumerin-protocol/contract-settlement/internal/lib"
	"github.com/go-playground/validator/v10"
)

// PartyInput is the schema accepted at the registry boundary
type PartyInput struct {
	PublicKey string `json:"publicKey" validate:"required,hexadecimal"`
	Email     string `json:"email"     validate:"required,email"`
	Role      string `json:"role"      validate:"required,oneof=initiator counterparty witness arbiter"`
}

type ContractFinder interface {
	FindContract(ctx context.Context, contractID string) (*contract.Contract, error)
}

// Registry validates party sets and resolves roles. It keeps no state of its own,
// contracts are read through the persistence collaborator
type Registry struct {
	finder   ContractFinder
	validate *validator.Validate
}

func NewRegistry(finder ContractFinder) *Registry {
	return &Registry{
		finder:   finder,
		validate: validator.New(),
	}
}

// Register validates and normalizes an ordered party set for contractID.
// Registration order is preserved, it is the signing order for sequential contracts
func (r *Registry) Register(contractID string, parties []PartyInput, policy contract.Policy) ([]contract.Party, error) {
	if len(parties) == 0 {
		return nil, lib.WrapError(contract.ErrQuorumUnsatisfiable, fmt.Errorf("contract %s has no parties", contractID))
	}
	if policy.MinSigners < 1 {
		return nil, lib.WrapError(contract.ErrValidation, fmt.Errorf("minSigners must be at least 1, got %d", policy.MinSigners))
	}

	seen := lib.NewSet[string]()
	result := make([]contract.Party, 0, len(parties))

	for i, in := range parties {
		if err := r.validate.Struct(in); err != nil {
			return nil, lib.WrapError(contract.ErrValidation, fmt.Errorf("party %d: %w", i, err))
		}
		pubKey, err := lib.NormalizePubKey(in.PublicKey)
		if err != nil {
			return nil, lib.WrapError(contract.ErrValidation, fmt.Errorf("party %d: invalid public key: %w", i, err))
		}
		if !seen.AddIfAbsent(pubKey) {
			return nil, lib.WrapError(contract.ErrDuplicateParty, fmt.Errorf("public key %s registered twice", pubKey))
		}

		result = append(result, contract.Party{
			PublicKey: pubKey,
			Email:     strings.ToLower(strings.TrimSpace(in.Email)),
			Role:      contract.Role(in.Role),
		})
	}

	if len(result) < policy.MinSigners {
		return nil, lib.WrapError(contract.ErrQuorumUnsatisfiable, fmt.Errorf("%d distinct signers registered, %d required", len(result), policy.MinSigners))
	}

	return result, nil
}

func (r *Registry) RoleOf(ctx context.Context, contractID string, publicKey string) (contract.Role, error) {
	c, err := r.finder.FindContract(ctx, contractID)
	if err != nil {
		return "", err
	}
	if c == nil {
		return "", lib.WrapError(contract.ErrNotFound, fmt.Errorf("contract %s", contractID))
	}

	pubKey, err := lib.NormalizePubKey(publicKey)
	if err != nil {
		return "", lib.WrapError(contract.ErrUnknownParty, err)
	}
	idx := c.PartyIndex(pubKey)
	if idx < 0 {
		return "", lib.WrapError(contract.ErrUnknownParty, fmt.Errorf("%s is not a party of contract %s", pubKey, contractID))
	}
	return c.Parties[idx].Role, nil
}
