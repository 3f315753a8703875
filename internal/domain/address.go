package domain

import (
	"crypto/sha256"
	"encoding/hex"
)

// Storage addresses are a pure function of a namespace tag and the
// owning identity, so every record is discoverable from public
// identity alone and no directory or index is ever persisted.

const (
	nsReserve = "reserve"
	nsUser    = "user"
	nsLoan    = "loan"
)

type Address [32]byte

func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

func (a Address) Bytes() []byte {
	return a[:]
}

func deriveAddress(namespace string, owner Identity) Address {
	h := sha256.New()
	h.Write([]byte(namespace))
	h.Write([]byte{0})
	h.Write([]byte(owner))
	var a Address
	copy(a[:], h.Sum(nil))
	return a
}

// ReserveAddress is the statically-known key of the singleton reserve.
func ReserveAddress() Address {
	return deriveAddress(nsReserve, "")
}

func UserAddress(owner Identity) Address {
	return deriveAddress(nsUser, owner)
}

func LoanAddress(owner Identity) Address {
	return deriveAddress(nsLoan, owner)
}
