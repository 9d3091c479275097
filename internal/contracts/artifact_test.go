package contracts

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDirSourceLoadsTruffleArtifact(t *testing.T) {
	dir := t.TempDir()
	body := `{"contractName":"Oracle","abi":` + OracleABI + `,"bytecode":"0x6080604052"}`
	if err := os.WriteFile(filepath.Join(dir, "Oracle.json"), []byte(body), 0o600); err != nil {
		t.Fatalf("write artifact: %v", err)
	}

	art, err := DirSource{Dir: dir}.Artifact(OracleName)
	if err != nil {
		t.Fatalf("load artifact: %v", err)
	}
	if len(art.Bytecode) != 5 || art.Bytecode[0] != 0x60 {
		t.Fatalf("unexpected bytecode %x", art.Bytecode)
	}
	parsed, err := art.ParsedABI()
	if err != nil {
		t.Fatalf("parse abi: %v", err)
	}
	if _, ok := parsed.Methods["update"]; !ok {
		t.Fatalf("expected update method in abi")
	}
}

func TestDirSourceMissingArtifact(t *testing.T) {
	_, err := DirSource{Dir: t.TempDir()}.Artifact(OracleEscrowName)
	if !errors.Is(err, ErrArtifactNotFound) {
		t.Fatalf("expected ErrArtifactNotFound, got %v", err)
	}
}

func TestDirSourceRejectsEmptyBytecode(t *testing.T) {
	dir := t.TempDir()
	body := `{"contractName":"OracleEscrow","abi":[],"bytecode":"0x"}`
	if err := os.WriteFile(filepath.Join(dir, "OracleEscrow.json"), []byte(body), 0o600); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	_, err := DirSource{Dir: dir}.Artifact(OracleEscrowName)
	if !errors.Is(err, ErrEmptyBytecode) {
		t.Fatalf("expected ErrEmptyBytecode, got %v", err)
	}
}

func TestBytes32RoundTrip(t *testing.T) {
	word := ToBytes32("no")
	if word[0] != 'n' || word[1] != 'o' || word[2] != 0 {
		t.Fatalf("unexpected padding: %x", word)
	}
	if got := FromBytes32(word); got != "no" {
		t.Fatalf("expected %q, got %q", "no", got)
	}
	if got := FromBytes32(Expected()); got != ExpectedValue {
		t.Fatalf("expected %q, got %q", ExpectedValue, got)
	}
}

func TestKnownABIsParse(t *testing.T) {
	escrowABI := MustABI(OracleEscrowName)
	if !escrowABI.HasReceive() {
		t.Fatalf("escrow abi must accept plain payments")
	}
	if escrowABI.Methods["executeContract"].IsPayable() {
		t.Fatalf("executeContract must be non-payable")
	}
	if _, err := ABIFor("Migrations"); err == nil {
		t.Fatalf("expected error for unknown contract")
	}
}
