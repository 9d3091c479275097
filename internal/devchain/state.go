package devchain

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var ErrInsufficientFunds = errors.New("insufficient funds for transfer")

type account struct {
	balance *big.Int
	nonce   uint64
	code    []byte
	storage map[common.Hash]common.Hash
}

func (a *account) clone() *account {
	out := &account{
		balance: new(big.Int).Set(a.balance),
		nonce:   a.nonce,
		code:    a.code,
		storage: make(map[common.Hash]common.Hash, len(a.storage)),
	}
	for k, v := range a.storage {
		out.storage[k] = v
	}
	return out
}

// state is the full world state. Execution always works on a copy, so a
// revert is simply dropping the copy.
type state struct {
	accounts map[common.Address]*account
}

func newState() *state {
	return &state{accounts: make(map[common.Address]*account)}
}

func (s *state) copy() *state {
	out := &state{accounts: make(map[common.Address]*account, len(s.accounts))}
	for addr, acct := range s.accounts {
		out.accounts[addr] = acct.clone()
	}
	return out
}

func (s *state) account(addr common.Address) *account {
	acct, ok := s.accounts[addr]
	if !ok {
		acct = &account{
			balance: new(big.Int),
			storage: make(map[common.Hash]common.Hash),
		}
		s.accounts[addr] = acct
	}
	return acct
}

func (s *state) balance(addr common.Address) *big.Int {
	acct, ok := s.accounts[addr]
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(acct.balance)
}

func (s *state) nonce(addr common.Address) uint64 {
	if acct, ok := s.accounts[addr]; ok {
		return acct.nonce
	}
	return 0
}

func (s *state) code(addr common.Address) []byte {
	if acct, ok := s.accounts[addr]; ok {
		return acct.code
	}
	return nil
}

func (s *state) addBalance(addr common.Address, amount *big.Int) {
	acct := s.account(addr)
	acct.balance.Add(acct.balance, amount)
}

func (s *state) subBalance(addr common.Address, amount *big.Int) error {
	acct := s.account(addr)
	if acct.balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: address %s have %s want %s", ErrInsufficientFunds, addr.Hex(), acct.balance, amount)
	}
	acct.balance.Sub(acct.balance, amount)
	return nil
}

func (s *state) transfer(from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if err := s.subBalance(from, amount); err != nil {
		return err
	}
	s.addBalance(to, amount)
	return nil
}

func (s *state) load(addr common.Address, slot common.Hash) common.Hash {
	if acct, ok := s.accounts[addr]; ok {
		return acct.storage[slot]
	}
	return common.Hash{}
}

func (s *state) store(addr common.Address, slot, value common.Hash) {
	acct := s.account(addr)
	if value == (common.Hash{}) {
		delete(acct.storage, slot)
		return
	}
	acct.storage[slot] = value
}
