package random

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// Package random provides cryptographically secure randomization for DNS
// to prevent cache poisoning attacks.
//
// A spoofed response must guess the 16-bit transaction id of the matching
// outstanding query; predictable ids make that trivial, so ids always come
// from crypto/rand.

// TransactionID generates a cryptographically random 16-bit transaction ID.
// NEVER use math/rand for DNS transaction IDs - it's predictable!
func TransactionID() uint16 {
	var buf [2]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// This should never happen, but if it does, panic is appropriate
		// because proceeding with predictable IDs is a critical security flaw
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return binary.BigEndian.Uint16(buf[:])
}

// SipHashKey generates a random 128-bit key for keyed hashing.
// Each process gets its own key so attackers cannot precompute collisions.
func SipHashKey() (k0, k1 uint64) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return binary.BigEndian.Uint64(buf[0:8]), binary.BigEndian.Uint64(buf[8:16])
}
