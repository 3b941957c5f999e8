package common

import (
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"spotchain/crypto"
)

// RelationshipKey derives the identifier of the (partyA, asset, partyB)
// relationship. Argument order matters: swapping the parties yields a
// different key.
func RelationshipKey(partyA, asset, partyB crypto.Address) [32]byte {
	buf := make([]byte, 0, 3*crypto.AddressLength)
	buf = append(buf, partyA[:]...)
	buf = append(buf, asset[:]...)
	buf = append(buf, partyB[:]...)
	return ethcrypto.Keccak256Hash(buf)
}

// ModuleAddress derives the custody address of a named module. Users
// approve it as spender for module pulls.
func ModuleAddress(name string) crypto.Address {
	hash := ethcrypto.Keccak256([]byte("spot/module/" + name))
	return crypto.BytesToAddress(hash[len(hash)-crypto.AddressLength:])
}
