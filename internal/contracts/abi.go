// Package contracts holds the ABI definitions and build artifacts of the
// Oracle and OracleEscrow contracts.
package contracts

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const (
	OracleName       = "Oracle"
	OracleEscrowName = "OracleEscrow"
)

const (
	// ExpectedValue is the oracle value that releases the deposit to the beneficiary.
	ExpectedValue = "yes"
	// EscrowDuration is added to the deployment block time to form the expiration.
	EscrowDuration = 30 * 24 * time.Hour
)

// OracleABI is the interface of the single-value oracle.
const OracleABI = `[
	{
		"inputs": [{"name": "value", "type": "bytes32"}],
		"stateMutability": "nonpayable",
		"type": "constructor"
	},
	{
		"inputs": [],
		"name": "owner",
		"outputs": [{"name": "", "type": "address"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "value",
		"outputs": [{"name": "", "type": "bytes32"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [{"name": "newValue", "type": "bytes32"}],
		"name": "update",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

// OracleEscrowABI is the interface of the escrow that settles on an oracle value.
const OracleEscrowABI = `[
	{
		"inputs": [
			{"name": "oracle", "type": "address"},
			{"name": "depositor", "type": "address"},
			{"name": "beneficiary", "type": "address"}
		],
		"stateMutability": "nonpayable",
		"type": "constructor"
	},
	{
		"stateMutability": "payable",
		"type": "receive"
	},
	{
		"inputs": [],
		"name": "EXPECTED",
		"outputs": [{"name": "", "type": "bytes32"}],
		"stateMutability": "pure",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "owner",
		"outputs": [{"name": "", "type": "address"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "depositor",
		"outputs": [{"name": "", "type": "address"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "beneficiary",
		"outputs": [{"name": "", "type": "address"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "oracle",
		"outputs": [{"name": "", "type": "address"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "expiration",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "contractExecuted",
		"outputs": [{"name": "", "type": "bool"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "requestOracleValue",
		"outputs": [{"name": "", "type": "bytes32"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "executeContract",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

// ParseABI parses a JSON ABI definition.
func ParseABI(definition string) (abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse abi: %w", err)
	}
	return parsed, nil
}

// ABIFor returns the parsed ABI of a known contract.
func ABIFor(name string) (abi.ABI, error) {
	switch name {
	case OracleName:
		return ParseABI(OracleABI)
	case OracleEscrowName:
		return ParseABI(OracleEscrowABI)
	default:
		return abi.ABI{}, fmt.Errorf("unknown contract %q", name)
	}
}

// MustABI is ABIFor for package-level initialisation of the known contracts.
func MustABI(name string) abi.ABI {
	parsed, err := ABIFor(name)
	if err != nil {
		panic(err)
	}
	return parsed
}
