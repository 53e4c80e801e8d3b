package oracle

import (
	"context"
	"encoding/binary"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/0xnonso/angstrom/pkg/amm"
	"github.com/0xnonso/angstrom/pkg/registry"
)

// Settlement-contract storage layout. Config entries live in a fixed-size
// array region; per-pool reserves in a mapping keyed by pool ID. Both are
// read with raw StorageAt so the oracle needs no contract ABI.
const (
	configBaseSlot   = 1
	reservesBaseSlot = 2
)

var (
	selBalanceOf = gethcrypto.Keccak256([]byte("balanceOf(address)"))[:4]
	selAllowance = gethcrypto.Keccak256([]byte("allowance(address,address)"))[:4]
)

// EthOracle reads chain state over an RPC connection. The configured asset
// pairs are static for the process lifetime; their packed entries and
// reserves are re-read from the contract on every call.
type EthOracle struct {
	client   *ethclient.Client
	contract common.Address
	pairs    [][2]common.Address
	reg      *registry.Registry
	log      *zap.SugaredLogger

	height atomic.Uint64

	callTimeout time.Duration
}

func NewEthOracle(client *ethclient.Client, contract common.Address, pairs [][2]common.Address, reg *registry.Registry, log *zap.SugaredLogger) *EthOracle {
	return &EthOracle{
		client:      client,
		contract:    contract,
		pairs:       pairs,
		reg:         reg,
		log:         log,
		callTimeout: 5 * time.Second,
	}
}

func (o *EthOracle) BlockNumber() uint64 { return o.height.Load() }

func (o *EthOracle) BalanceOf(owner, asset common.Address) *big.Int {
	data := make([]byte, 0, 36)
	data = append(data, selBalanceOf...)
	data = append(data, common.LeftPadBytes(owner.Bytes(), 32)...)
	return o.callUint(asset, data)
}

// Allowance is the owner's approval toward the settlement contract.
func (o *EthOracle) Allowance(owner, asset common.Address) *big.Int {
	data := make([]byte, 0, 68)
	data = append(data, selAllowance...)
	data = append(data, common.LeftPadBytes(owner.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(o.contract.Bytes(), 32)...)
	return o.callUint(asset, data)
}

func (o *EthOracle) callUint(to common.Address, data []byte) *big.Int {
	ctx, cancel := context.WithTimeout(context.Background(), o.callTimeout)
	defer cancel()
	out, err := o.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil || len(out) < 32 {
		if err != nil {
			o.log.Warnw("eth_call_failed", "to", to.Hex(), "err", err)
		}
		return new(big.Int)
	}
	return new(big.Int).SetBytes(out[:32])
}

func (o *EthOracle) ConfigTable(ctx context.Context) ([][2]common.Address, [][32]byte, error) {
	words := make([][32]byte, len(o.pairs))
	for i := range o.pairs {
		raw, err := o.client.StorageAt(ctx, o.contract, configEntrySlot(i), nil)
		if err != nil {
			return nil, nil, err
		}
		copy(words[i][:], common.LeftPadBytes(raw, 32))
	}
	return o.pairs, words, nil
}

func (o *EthOracle) PoolStates(ctx context.Context, height uint64) ([]amm.PoolState, error) {
	pools := o.reg.Pools()
	states := make([]amm.PoolState, 0, len(pools))
	block := new(big.Int).SetUint64(height)
	for _, p := range pools {
		slot0 := reserveSlot(p.ID)
		raw0, err := o.client.StorageAt(ctx, o.contract, slot0, block)
		if err != nil {
			return nil, err
		}
		raw1, err := o.client.StorageAt(ctx, o.contract, nextSlot(slot0), block)
		if err != nil {
			return nil, err
		}
		states = append(states, amm.PoolState{
			PoolID:   p.ID,
			Block:    height,
			Reserve0: new(big.Int).SetBytes(raw0),
			Reserve1: new(big.Int).SetBytes(raw1),
			FeeInE6:  p.FeeInE6,
		})
	}
	return states, nil
}

func (o *EthOracle) SubscribeNewBlocks(ctx context.Context) (<-chan BlockEvent, error) {
	headers := make(chan *types.Header, 16)
	sub, err := o.client.SubscribeNewHead(ctx, headers)
	if err != nil {
		return nil, err
	}
	out := make(chan BlockEvent, 16)
	go func() {
		defer close(out)
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-sub.Err():
				o.log.Errorw("head_subscription_lost", "err", err)
				return
			case h := <-headers:
				height := h.Number.Uint64()
				o.height.Store(height)
				select {
				case out <- BlockEvent{Height: height, Hash: h.Hash()}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// configEntrySlot is element i of the packed-entry array rooted at
// configBaseSlot, following the Solidity dynamic-array layout.
func configEntrySlot(i int) common.Hash {
	var base [32]byte
	binary.BigEndian.PutUint64(base[24:], configBaseSlot)
	root := gethcrypto.Keccak256(base[:])
	slot := new(big.Int).SetBytes(root)
	slot.Add(slot, big.NewInt(int64(i)))
	return common.BigToHash(slot)
}

// reserveSlot is keccak(poolID . reservesBaseSlot), the Solidity mapping
// layout; reserve1 sits in the following slot.
func reserveSlot(poolID uint64) common.Hash {
	var key [64]byte
	binary.BigEndian.PutUint64(key[24:32], poolID)
	binary.BigEndian.PutUint64(key[56:], reservesBaseSlot)
	return common.BytesToHash(gethcrypto.Keccak256(key[:]))
}

func nextSlot(slot common.Hash) common.Hash {
	n := new(big.Int).SetBytes(slot[:])
	n.Add(n, big.NewInt(1))
	return common.BigToHash(n)
}
