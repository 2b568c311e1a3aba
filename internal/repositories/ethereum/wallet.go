package ethereum

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/Lumerin-protocol/contract-settlement/internal/lib"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	hdwallet "github.com/miguelmota/go-ethereum-hdwallet"
)

// Wallet is the account that signs settlement transactions
type Wallet struct {
	address    common.Address
	privateKey *ecdsa.PrivateKey
}

func NewWalletFromMnemonic(mnemonic string, accountIndex int) (*Wallet, error) {
	wallet, err := hdwallet.NewFromMnemonic(mnemonic)
	if err != nil {
		return nil, err
	}

	path, err := hdwallet.ParseDerivationPath(fmt.Sprintf("m/44'/60'/0'/0/%d", accountIndex))
	if err != nil {
		return nil, err
	}

	account, err := wallet.Derive(path, false)
	if err != nil {
		return nil, err
	}

	privateKey, err := wallet.PrivateKey(account)
	if err != nil {
		return nil, err
	}

	return &Wallet{
		address:    account.Address,
		privateKey: privateKey,
	}, nil
}

func NewWalletFromPrivateKey(privateKey string) (*Wallet, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKey, "0x"))
	if err != nil {
		return nil, err
	}
	address, err := lib.PrivKeyToAddr(key)
	if err != nil {
		return nil, err
	}
	return &Wallet{
		address:    address,
		privateKey: key,
	}, nil
}

func (w *Wallet) Address() common.Address {
	return w.address
}

func (w *Wallet) PrivateKey() *ecdsa.PrivateKey {
	return w.privateKey
}
