package settlement

import (
	"fmt"
	"math/big"

	"github.com/Lumerin-protocol/contract-settlement/internal/contract"
	"github.com/Lumerin-protocol/contract-settlement/internal/lib"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const totalBps = 10_000

// IdempotencyKey is keccak256(contractID || documentHash). A retried submission
// carries the same key, so the ledger can reject duplicates
func IdempotencyKey(contractID string, documentHash common.Hash) common.Hash {
	return crypto.Keccak256Hash([]byte(contractID), documentHash.Bytes())
}

// ValidateTerms checks that terms can be distributed over partyCount parties
func ValidateTerms(terms contract.Terms, partyCount int) error {
	if terms.Fee != nil && terms.Fee.Sign() < 0 {
		return lib.WrapError(contract.ErrValidation, fmt.Errorf("negative fee %s", terms.Fee))
	}
	if len(terms.SharesBps) == 0 {
		return nil
	}
	if len(terms.SharesBps) != partyCount {
		return lib.WrapError(contract.ErrValidation, fmt.Errorf("%d shares for %d parties", len(terms.SharesBps), partyCount))
	}
	sum := 0
	for _, s := range terms.SharesBps {
		sum += int(s)
	}
	if sum != totalBps {
		return lib.WrapError(contract.ErrValidation, fmt.Errorf("shares sum to %d bps, expected %d", sum, totalBps))
	}
	return nil
}

// BuildRequest derives the settlement request from the contract terms. Rounding
// remainder goes to the first party so payouts always sum to the fee
func BuildRequest(c contract.Contract) (Request, error) {
	if err := ValidateTerms(c.Terms, len(c.Parties)); err != nil {
		return Request{}, err
	}

	total := new(big.Int)
	if c.Terms.Fee != nil {
		total.Set(c.Terms.Fee)
	}

	req := Request{
		ContractID:     c.ID,
		IdempotencyKey: IdempotencyKey(c.ID, c.DocumentHash),
		DocumentHash:   c.DocumentHash,
		Total:          total,
	}
	if total.Sign() == 0 {
		return req, nil
	}

	distributed := new(big.Int)
	for i, p := range c.Parties {
		addr, err := lib.PubKeyStringToAddr(p.PublicKey)
		if err != nil {
			return Request{}, lib.WrapError(contract.ErrValidation, fmt.Errorf("party %d: %w", i, err))
		}

		amount := new(big.Int)
		if len(c.Terms.SharesBps) == 0 {
			amount.Div(total, big.NewInt(int64(len(c.Parties))))
		} else {
			amount.Mul(total, big.NewInt(int64(c.Terms.SharesBps[i])))
			amount.Div(amount, big.NewInt(totalBps))
		}
		distributed.Add(distributed, amount)

		req.Payouts = append(req.Payouts, Payout{
			PublicKey: p.PublicKey,
			Address:   addr,
			Amount:    amount,
		})
	}

	if len(req.Payouts) > 0 {
		remainder := new(big.Int).Sub(total, distributed)
		req.Payouts[0].Amount.Add(req.Payouts[0].Amount, remainder)
	}

	return req, nil
}
