package escrow

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Role is a party to the escrow.
type Role string

const (
	RoleOwner       Role = "owner"
	RoleDepositor   Role = "depositor"
	RoleBeneficiary Role = "beneficiary"
)

// Roles lists the parties allowed to execute the escrow.
var Roles = []Role{RoleOwner, RoleDepositor, RoleBeneficiary}

func ParseRole(s string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(s)))
	for _, r := range Roles {
		if r == role {
			return role, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
}

// Wallet holds one signing key per role.
type Wallet struct {
	chainID *big.Int
	keys    map[Role]*ecdsa.PrivateKey
}

func NewWallet(chainID *big.Int) *Wallet {
	return &Wallet{
		chainID: new(big.Int).Set(chainID),
		keys:    make(map[Role]*ecdsa.PrivateKey),
	}
}

func (w *Wallet) Add(role Role, key *ecdsa.PrivateKey) {
	w.keys[role] = key
}

// AddHex adds a hex-encoded private key, with or without 0x prefix.
func (w *Wallet) AddHex(role Role, hexKey string) error {
	key, err := parsePrivateKey(hexKey)
	if err != nil {
		return fmt.Errorf("%s key: %w", role, err)
	}
	w.Add(role, key)
	return nil
}

func (w *Wallet) Has(role Role) bool {
	_, ok := w.keys[role]
	return ok
}

func (w *Wallet) Address(role Role) (common.Address, error) {
	key, ok := w.keys[role]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s", ErrMissingKey, role)
	}
	return crypto.PubkeyToAddress(key.PublicKey), nil
}

// Transactor returns fresh transaction options signing as role. Gas price,
// limit and nonce are left to the node.
func (w *Wallet) Transactor(ctx context.Context, role Role) (*bind.TransactOpts, error) {
	key, ok := w.keys[role]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingKey, role)
	}
	opts, err := bind.NewKeyedTransactorWithChainID(key, w.chainID)
	if err != nil {
		return nil, fmt.Errorf("transactor: %w", err)
	}
	opts.Context = ctx
	return opts, nil
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}
