package signer

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// LocalSigner holds a decrypted key in memory for the lifetime of one
// operation. Callers drop it once the transaction is signed.
type LocalSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

func (s *LocalSigner) Address() common.Address {
	return s.address
}

func (s *LocalSigner) SignTx(chainID *big.Int, tx *types.Transaction) (*types.Transaction, error) {
	if s == nil || s.privateKey == nil {
		return nil, errors.New("local signer is not initialized")
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.privateKey)
}

func NewLocalSigner(pk *ecdsa.PrivateKey) (*LocalSigner, error) {
	if pk == nil {
		return nil, errors.New("missing private key")
	}
	pub, ok := pk.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("invalid ECDSA public key")
	}
	return &LocalSigner{privateKey: pk, address: crypto.PubkeyToAddress(*pub)}, nil
}

// Generate creates a fresh secp256k1 key.
func Generate() (*ecdsa.PrivateKey, error) {
	pk, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return pk, nil
}

// ParseHexKey accepts a 32-byte hex key with or without 0x prefix.
func ParseHexKey(raw string) (*ecdsa.PrivateKey, error) {
	clean := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if clean == "" {
		return nil, fmt.Errorf("empty private key")
	}
	if len(clean) != 64 {
		return nil, fmt.Errorf("private key must be 32 bytes of hex")
	}
	pk, err := crypto.HexToECDSA(clean)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return pk, nil
}

// DecryptKeystore opens a Web3 Secret Storage (v3) JSON document.
func DecryptKeystore(keyJSON []byte, password string) (*ecdsa.PrivateKey, error) {
	if strings.TrimSpace(password) == "" {
		return nil, fmt.Errorf("keystore password is required")
	}
	key, err := keystore.DecryptKey(keyJSON, password)
	if err != nil {
		return nil, fmt.Errorf("decrypt keystore: %w", err)
	}
	return key.PrivateKey, nil
}

// EncodeHexKey renders a key as 0x-prefixed hex.
func EncodeHexKey(pk *ecdsa.PrivateKey) string {
	return hexutil.Encode(crypto.FromECDSA(pk))
}
