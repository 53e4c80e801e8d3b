package registry

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	weth = common.HexToAddress("0x1111111111111111111111111111111111111111")
	usdc = common.HexToAddress("0x2222222222222222222222222222222222222222")
	dai  = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

func TestDecodeConfigEntryZeroWord(t *testing.T) {
	if _, ok := DecodeConfigEntry([32]byte{}); ok {
		t.Fatal("all-zero word must decode as absent")
	}
}

func TestDecodeConfigEntryLayout(t *testing.T) {
	var word [32]byte
	for i := 0; i < 27; i++ {
		word[i] = byte(i + 1)
	}
	word[27], word[28] = 0x00, 0x3C       // tick spacing 60
	word[29], word[30], word[31] = 0x00, 0x0B, 0xB8 // fee 3000 ppm

	e, ok := DecodeConfigEntry(word)
	if !ok {
		t.Fatal("expected valid entry")
	}
	if e.TickSpacing != 60 {
		t.Errorf("tick spacing: got %d, want 60", e.TickSpacing)
	}
	if e.FeeInE6 != 3000 {
		t.Errorf("fee: got %d, want 3000", e.FeeInE6)
	}
	for i := 0; i < 27; i++ {
		if e.PartialKey[i] != byte(i+1) {
			t.Fatalf("partial key byte %d: got %#x", i, e.PartialKey[i])
		}
	}
	if e.Encode() != word {
		t.Fatal("encode did not round-trip")
	}
}

func TestPartialKeyOrderIndependent(t *testing.T) {
	if PartialKeyFor(weth, usdc) != PartialKeyFor(usdc, weth) {
		t.Fatal("partial key must not depend on argument order")
	}
	if PartialKeyFor(weth, usdc) == PartialKeyFor(weth, dai) {
		t.Fatal("distinct pairs must get distinct keys")
	}
}

func configWord(a, b common.Address, spacing uint16, fee uint32) [32]byte {
	return ConfigEntry{
		PartialKey:  PartialKeyFor(a, b),
		TickSpacing: spacing,
		FeeInE6:     fee,
	}.Encode()
}

func TestRegistryUpdateAndRoute(t *testing.T) {
	r := New()
	pairs := [][2]common.Address{{weth, usdc}, {weth, dai}}
	words := [][32]byte{
		configWord(weth, usdc, 10, 3000),
		configWord(weth, dai, 1, 500),
	}
	if err := r.Update(42, pairs, words); err != nil {
		t.Fatalf("update: %v", err)
	}
	if r.Block() != 42 || r.Len() != 2 {
		t.Fatalf("block=%d len=%d", r.Block(), r.Len())
	}

	// weth < usdc by address, so weth is asset0 and paying usdc is a bid
	id, isBid, ok := r.OrderInfo(usdc, weth)
	if !ok || !isBid {
		t.Fatalf("usdc->weth: id=%d isBid=%v ok=%v, want bid", id, isBid, ok)
	}
	id2, isBid2, ok := r.OrderInfo(weth, usdc)
	if !ok || isBid2 || id2 != id {
		t.Fatalf("weth->usdc: id=%d isBid=%v ok=%v, want ask in pool %d", id2, isBid2, ok, id)
	}

	if _, _, ok := r.OrderInfo(usdc, dai); ok {
		t.Fatal("unconfigured pair must not route")
	}

	p, ok := r.Pool(id)
	if !ok || p.TickSpacing != 10 || p.FeeInE6 != 3000 {
		t.Fatalf("pool lookup: %+v ok=%v", p, ok)
	}
}

func TestRegistryUpdateSkipsEmptySlots(t *testing.T) {
	r := New()
	pairs := [][2]common.Address{{weth, usdc}, {weth, dai}}
	words := [][32]byte{{}, configWord(weth, dai, 1, 500)}
	if err := r.Update(1, pairs, words); err != nil {
		t.Fatalf("update: %v", err)
	}
	if r.Len() != 1 {
		t.Fatalf("len: got %d, want 1", r.Len())
	}
}

func TestRegistryUpdateRejectsKeyMismatch(t *testing.T) {
	r := New()
	pairs := [][2]common.Address{{weth, usdc}}
	words := [][32]byte{configWord(weth, dai, 1, 500)}
	if err := r.Update(1, pairs, words); err == nil {
		t.Fatal("mismatched partial key must be rejected")
	}
}

func TestPoolsAscendingByID(t *testing.T) {
	r := New()
	pairs := [][2]common.Address{{weth, usdc}, {weth, dai}, {usdc, dai}}
	ws := [][32]byte{
		configWord(weth, usdc, 10, 3000),
		configWord(weth, dai, 1, 500),
		configWord(usdc, dai, 1, 100),
	}
	if err := r.Update(1, pairs, ws); err != nil {
		t.Fatalf("update: %v", err)
	}
	pools := r.Pools()
	for i := 1; i < len(pools); i++ {
		if pools[i-1].ID >= pools[i].ID {
			t.Fatal("pools not in ascending ID order")
		}
	}
}
