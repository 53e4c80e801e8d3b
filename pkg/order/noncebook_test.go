package order

import (
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestNonceBookTryReserveSingleWinner(t *testing.T) {
	book := NewNonceBook()
	owner := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

	const racers = 32
	var wg sync.WaitGroup
	wins := make(chan struct{}, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if book.TryReserve(owner, 7) {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	if got := len(wins); got != 1 {
		t.Fatalf("reservations won: got %d, want exactly 1", got)
	}
	if !book.Used(owner, 7) {
		t.Fatal("winning reservation must mark the nonce used")
	}
}

func TestNonceBookReleaseRestoresNonce(t *testing.T) {
	book := NewNonceBook()
	owner := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")

	if !book.TryReserve(owner, 1) {
		t.Fatal("fresh nonce must reserve")
	}
	if book.TryReserve(owner, 1) {
		t.Fatal("reserved nonce must not reserve twice")
	}

	// a pool refusal unwinds the reservation
	book.Release(owner, 1)
	if book.Used(owner, 1) {
		t.Fatal("released nonce still marked used")
	}
	if !book.TryReserve(owner, 1) {
		t.Fatal("released nonce must be spendable again")
	}
}

func TestNonceBookScopedPerOwner(t *testing.T) {
	book := NewNonceBook()
	a := common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc")
	b := common.HexToAddress("0xdddddddddddddddddddddddddddddddddddddddd")

	book.Consume(a, 5)
	if book.Used(b, 5) {
		t.Fatal("nonce consumption leaked across owners")
	}
	if !book.TryReserve(b, 5) {
		t.Fatal("other owner's nonce must be independent")
	}
}
