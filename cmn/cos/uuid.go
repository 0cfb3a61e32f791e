// Package cos provides low-level types and utilities shared by every CoMo
// process.
/*
 * Copyright (c) 2024, CoMo authors. All rights reserved.
 */
package cos

import (
	"crypto/rand"
	"fmt"

	"github.com/OneOfOne/xxhash"
	"github.com/teris-io/shortid"
)

const (
	// uuidABC mirrors shortid's default alphabet but reshuffled so that
	// IDs generated by distinct CoMo processes on the same host still
	// collide only at the birthday bound.
	uuidABC = "-5nZJDft6LuzsjGNpPwY7rQa39vehq4i1cV2FROo8yHSlC0BUEdWbIxMmTgKXAk_"

	LenShortID = 9

	// MLCG32 is the seed HashU32 passes to xxhash.
	MLCG32 = 0x9e3779b9
)

var sid *shortid.Shortid

func InitShortID(seed uint64) {
	sid = shortid.MustNew(4, uuidABC, uint32(seed))
}

// GenUUID returns a short, URL-safe, globally-unique-enough ID. Storage
// client IDs do not come from here; they are sequential integers.
func GenUUID() string {
	if sid == nil {
		InitShortID(uint64(CryptoRandU64()))
	}
	return sid.MustGenerate()
}

func CryptoRandU64() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	var v uint64
	for i := range b {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func CryptoRandS(n int) string {
	const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, n)
	var buf [8]byte
	for i := range b {
		if i%8 == 0 {
			_, _ = rand.Read(buf[:])
		}
		b[i] = letters[buf[i%8]%byte(len(letters))]
	}
	return string(b)
}

// HashU32 is xxhash over b (seeded with MLCG32), truncated to 32 bits.
// The capture ctable does not fall back to it: a module that declares no
// hash() of its own has every packet hashed to 0.
func HashU32(b []byte) uint32 {
	return uint32(xxhash.Checksum64S(b, MLCG32))
}

func ValidateStreamName(name string) error {
	if name == "" {
		return fmt.Errorf("bytestream name must not be empty")
	}
	for _, r := range name {
		ok := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.'
		if !ok {
			return fmt.Errorf("bytestream name %q: may only contain letters, numbers, dashes, underscores, and dots", name)
		}
	}
	return nil
}
