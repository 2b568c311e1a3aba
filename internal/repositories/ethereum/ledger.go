package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/Lumerin-protocol/contract-settlement/internal/interfaces"
	"github.com/Lumerin-protocol/contract-settlement/internal/lib"
	"github.com/Lumerin-protocol/contract-settlement/internal/settlement"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// SettlementABI is the interface of the on-chain settlement contract. settle
// distributes msg.value over payees and reverts when key was used before
const SettlementABI = `[
	{
		"type": "function",
		"name": "settle",
		"stateMutability": "payable",
		"inputs": [
			{"name": "key", "type": "bytes32"},
			{"name": "documentHash", "type": "bytes32"},
			{"name": "payees", "type": "address[]"},
			{"name": "amounts", "type": "uint256[]"}
		],
		"outputs": []
	}
]`

var settlementABI = mustParseABI(SettlementABI)

type LedgerConfig struct {
	SettlementAddr common.Address
	LegacyTx       bool   // use legacy transaction fee, for local node testing
	GasLimit       uint64 // 0 means estimate
	Confirmations  uint64
}

// Ledger submits settlements as signed transactions and never waits for them to be mined.
// A resubmission with the same idempotency key rebroadcasts the transaction signed the
// first time, so it can be mined at most once
type Ledger struct {
	// config
	cfg LedgerConfig

	// state
	nonce   uint64
	mutex   sync.Mutex
	pending map[common.Hash]*types.Transaction
	pendMu  sync.Mutex

	// deps
	client EthereumClient
	wallet *Wallet
	log    interfaces.ILogger
}

func NewLedger(cfg LedgerConfig, client EthereumClient, wallet *Wallet, log interfaces.ILogger) *Ledger {
	if cfg.Confirmations == 0 {
		cfg.Confirmations = 1
	}
	return &Ledger{
		cfg:     cfg,
		pending: make(map[common.Hash]*types.Transaction),
		client:  client,
		wallet:  wallet,
		log:     log,
	}
}

func (l *Ledger) Submit(ctx context.Context, req settlement.Request) (settlement.Handle, error) {
	if tx, ok := l.getPending(req.IdempotencyKey); ok {
		if err := l.client.SendTransaction(ctx, tx); err != nil && !isKnownTxError(err) {
			return settlement.Handle{}, err
		}
		l.log.Debugf("rebroadcast settlement tx %s of contract %s", tx.Hash().Hex(), req.ContractID)
		return l.handle(req, tx), nil
	}

	data, err := PackSettle(req)
	if err != nil {
		return settlement.Handle{}, lib.WrapError(settlement.ErrRejected, err)
	}

	tx, err := l.signTx(ctx, data, req.Total)
	if err != nil {
		return settlement.Handle{}, err
	}

	if err := l.client.SendTransaction(ctx, tx); err != nil {
		l.resetNonce()
		if isRevertError(err) {
			return settlement.Handle{}, lib.WrapError(settlement.ErrRejected, err)
		}
		return settlement.Handle{}, err
	}

	l.pendMu.Lock()
	l.pending[req.IdempotencyKey] = tx
	l.pendMu.Unlock()

	l.log.Infof("settlement tx %s of contract %s sent, nonce %d", tx.Hash().Hex(), req.ContractID, tx.Nonce())
	return l.handle(req, tx), nil
}

func (l *Ledger) PollStatus(ctx context.Context, h settlement.Handle) (settlement.Outcome, error) {
	txHash := common.HexToHash(h.Ref)

	receipt, err := l.client.TransactionReceipt(ctx, txHash)
	if errors.Is(err, ethereum.NotFound) {
		return settlement.Inconclusive(), nil
	}
	if err != nil {
		return settlement.Outcome{}, err
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		l.forget(h.IdempotencyKey)
		return settlement.RejectedPermanently(fmt.Sprintf("transaction %s reverted in block %s", txHash.Hex(), receipt.BlockNumber)), nil
	}

	if l.cfg.Confirmations > 1 {
		head, err := l.client.HeaderByNumber(ctx, nil)
		if err != nil {
			return settlement.Outcome{}, err
		}
		depth := new(big.Int).Sub(head.Number, receipt.BlockNumber)
		if depth.Cmp(new(big.Int).SetUint64(l.cfg.Confirmations-1)) < 0 {
			return settlement.Inconclusive(), nil
		}
	}

	l.forget(h.IdempotencyKey)
	return settlement.Confirmed(txHash.Hex()), nil
}

// PackSettle encodes the settle call for req
func PackSettle(req settlement.Request) ([]byte, error) {
	payees := make([]common.Address, len(req.Payouts))
	amounts := make([]*big.Int, len(req.Payouts))
	for i, p := range req.Payouts {
		payees[i] = p.Address
		amounts[i] = p.Amount
	}
	return settlementABI.Pack("settle", [32]byte(req.IdempotencyKey), [32]byte(req.DocumentHash), payees, amounts)
}

func (l *Ledger) signTx(ctx context.Context, data []byte, value *big.Int) (*types.Transaction, error) {
	if value == nil {
		value = new(big.Int)
	}

	chainID, err := l.client.ChainID(ctx)
	if err != nil {
		return nil, err
	}

	gas := l.cfg.GasLimit
	if gas == 0 {
		gas, err = l.client.EstimateGas(ctx, ethereum.CallMsg{
			From:  l.wallet.Address(),
			To:    &l.cfg.SettlementAddr,
			Value: value,
			Data:  data,
		})
		if err != nil {
			if isRevertError(err) {
				return nil, lib.WrapError(settlement.ErrRejected, err)
			}
			return nil, err
		}
	}

	nonce, err := l.getNonce(ctx, l.wallet.Address())
	if err != nil {
		return nil, err
	}

	var txData types.TxData
	if l.cfg.LegacyTx {
		gasPrice, err := l.client.SuggestGasPrice(ctx)
		if err != nil {
			return nil, err
		}
		txData = &types.LegacyTx{
			Nonce:    nonce,
			GasPrice: gasPrice,
			Gas:      gas,
			To:       &l.cfg.SettlementAddr,
			Value:    value,
			Data:     data,
		}
	} else {
		tip, err := l.client.SuggestGasTipCap(ctx)
		if err != nil {
			return nil, err
		}
		head, err := l.client.HeaderByNumber(ctx, nil)
		if err != nil {
			return nil, err
		}
		if head.BaseFee == nil {
			return nil, fmt.Errorf("chain %s does not support dynamic fee transactions, enable legacy transactions", chainID)
		}
		feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
		txData = &types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			GasTipCap: tip,
			GasFeeCap: feeCap,
			Gas:       gas,
			To:        &l.cfg.SettlementAddr,
			Value:     value,
			Data:      data,
		}
	}

	return types.SignTx(types.NewTx(txData), types.LatestSignerForChainID(chainID), l.wallet.PrivateKey())
}

func (l *Ledger) getNonce(ctx context.Context, from common.Address) (uint64, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	blockchainNonce, err := l.client.PendingNonceAt(ctx, from)
	if err != nil {
		return 0, err
	}

	nonce := blockchainNonce
	if l.nonce > blockchainNonce {
		nonce = l.nonce
	}
	l.nonce = nonce + 1

	return nonce, nil
}

func (l *Ledger) resetNonce() {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.nonce = 0
}

func (l *Ledger) getPending(key common.Hash) (*types.Transaction, bool) {
	l.pendMu.Lock()
	defer l.pendMu.Unlock()
	tx, ok := l.pending[key]
	return tx, ok
}

func (l *Ledger) forget(key common.Hash) {
	l.pendMu.Lock()
	defer l.pendMu.Unlock()
	delete(l.pending, key)
}

func (l *Ledger) handle(req settlement.Request, tx *types.Transaction) settlement.Handle {
	return settlement.Handle{
		ContractID:     req.ContractID,
		IdempotencyKey: req.IdempotencyKey,
		Ref:            tx.Hash().Hex(),
		SubmittedAt:    time.Now().UTC(),
	}
}

func isRevertError(err error) bool {
	return strings.Contains(err.Error(), "execution reverted")
}

func isKnownTxError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "already known") || strings.Contains(msg, "nonce too low")
}

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("invalid settlement ABI: " + err.Error())
	}
	return parsed
}
