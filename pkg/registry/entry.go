package registry

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ConfigEntry is one decoded pool-configuration word from the settlement
// contract. On chain each entry is packed into a single 256-bit value:
//
//	partialKey (216 bits) | tickSpacing (16 bits) | feeInE6 (24 bits)
//
// with fee and tick spacing in the low-order bits. An all-zero word means
// "no entry" and never decodes to a valid pool.
type ConfigEntry struct {
	PartialKey  [27]byte
	TickSpacing uint16
	FeeInE6     uint32 // parts-per-million
}

// DecodeConfigEntry unpacks a 256-bit word. ok is false for the all-zero
// word.
func DecodeConfigEntry(word [32]byte) (ConfigEntry, bool) {
	if word == ([32]byte{}) {
		return ConfigEntry{}, false
	}
	var e ConfigEntry
	copy(e.PartialKey[:], word[:27])
	e.TickSpacing = uint16(word[27])<<8 | uint16(word[28])
	e.FeeInE6 = uint32(word[29])<<16 | uint32(word[30])<<8 | uint32(word[31])
	return e, true
}

// Encode packs the entry back into its 256-bit wire form.
func (e ConfigEntry) Encode() [32]byte {
	var word [32]byte
	copy(word[:27], e.PartialKey[:])
	word[27] = byte(e.TickSpacing >> 8)
	word[28] = byte(e.TickSpacing)
	word[29] = byte(e.FeeInE6 >> 16)
	word[30] = byte(e.FeeInE6 >> 8)
	word[31] = byte(e.FeeInE6)
	return word
}

// PartialKeyFor derives the 216-bit routing key for an asset pair: the first
// 27 bytes of keccak256(asset0 || asset1) with the pair in ascending address
// order.
func PartialKeyFor(asset0, asset1 common.Address) [27]byte {
	if asset1.Cmp(asset0) < 0 {
		asset0, asset1 = asset1, asset0
	}
	sum := crypto.Keccak256(asset0.Bytes(), asset1.Bytes())
	var key [27]byte
	copy(key[:], sum[:27])
	return key
}
