package devchain

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
)

// Account is a funded development account.
type Account struct {
	Address common.Address
	Key     *ecdsa.PrivateKey
}

// DefaultBalance is what every development account starts with.
var DefaultBalance = new(big.Int).Mul(big.NewInt(100), big.NewInt(params.Ether))

// DevAccounts derives n deterministic accounts, so addresses are stable
// between runs the way a fixed ganache mnemonic is.
func DevAccounts(n int) ([]Account, error) {
	accounts := make([]Account, 0, n)
	for i := 0; i < n; i++ {
		seed := crypto.Keccak256([]byte(fmt.Sprintf("oracleescrow devchain account %d", i)))
		key, err := crypto.ToECDSA(seed)
		if err != nil {
			return nil, fmt.Errorf("derive account %d: %w", i, err)
		}
		accounts = append(accounts, Account{
			Address: crypto.PubkeyToAddress(key.PublicKey),
			Key:     key,
		})
	}
	return accounts, nil
}
