package contracts

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

var (
	ErrArtifactNotFound = errors.New("artifact not found")
	ErrEmptyBytecode    = errors.New("artifact has no bytecode")
)

// Artifact is the subset of a Truffle/Hardhat build file needed to deploy a contract.
type Artifact struct {
	ContractName string          `json:"contractName"`
	ABI          json.RawMessage `json:"abi"`
	Bytecode     hexutil.Bytes   `json:"bytecode"`
}

// ParsedABI decodes the artifact's ABI section.
func (a Artifact) ParsedABI() (abi.ABI, error) {
	if len(a.ABI) == 0 {
		return ABIFor(a.ContractName)
	}
	return ParseABI(string(a.ABI))
}

// ArtifactSource resolves build artifacts by contract name.
type ArtifactSource interface {
	Artifact(name string) (Artifact, error)
}

// DirSource reads <Dir>/<name>.json, the layout of truffle's build/contracts.
type DirSource struct {
	Dir string
}

func (d DirSource) Artifact(name string) (Artifact, error) {
	path := filepath.Join(d.Dir, name+".json")
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Artifact{}, fmt.Errorf("%w: %s", ErrArtifactNotFound, path)
	}
	if err != nil {
		return Artifact{}, err
	}
	var art Artifact
	if err := json.Unmarshal(raw, &art); err != nil {
		return Artifact{}, fmt.Errorf("decode artifact %s: %w", path, err)
	}
	if art.ContractName == "" {
		art.ContractName = name
	}
	if len(art.Bytecode) == 0 {
		return Artifact{}, fmt.Errorf("%w: %s", ErrEmptyBytecode, name)
	}
	return art, nil
}

// MapSource serves artifacts held in memory.
type MapSource map[string]Artifact

func (m MapSource) Artifact(name string) (Artifact, error) {
	art, ok := m[name]
	if !ok {
		return Artifact{}, fmt.Errorf("%w: %s", ErrArtifactNotFound, name)
	}
	if len(art.Bytecode) == 0 {
		return Artifact{}, fmt.Errorf("%w: %s", ErrEmptyBytecode, name)
	}
	return art, nil
}
