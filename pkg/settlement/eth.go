package settlement

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rlp"
	"go.uber.org/zap"

	"github.com/0xnonso/angstrom/pkg/consensus"
)

var selSubmitBundle = gethcrypto.Keccak256([]byte("submitBundle(bytes)"))[:4]

// bundlePayload is the RLP body handed to the contract. The full clearing
// result stays off-chain; the contract checks the aggregate signature over
// the commit digest and replays settlement from the digests.
type bundlePayload struct {
	Height           uint64
	Round            uint64
	CommitteeVersion uint64
	SnapshotDigest   common.Hash
	ResultDigest     common.Hash
	AggSignature     []byte
	Signers          []string
}

// EthSubmitter signs and sends bundle transactions from the node's
// operational key. Nonce and gas are fetched per submission; bundles are
// rare enough that caching either is not worth the staleness risk.
type EthSubmitter struct {
	client   *ethclient.Client
	contract common.Address
	key      *ecdsa.PrivateKey
	chainID  *big.Int
	log      *zap.SugaredLogger

	gasLimit    uint64
	sendTimeout time.Duration
}

func NewEthSubmitter(client *ethclient.Client, contract common.Address, key *ecdsa.PrivateKey, chainID *big.Int, log *zap.SugaredLogger) *EthSubmitter {
	return &EthSubmitter{
		client:      client,
		contract:    contract,
		key:         key,
		chainID:     chainID,
		log:         log,
		gasLimit:    1_500_000,
		sendTimeout: 15 * time.Second,
	}
}

func (s *EthSubmitter) Submit(ctx context.Context, b *consensus.Bundle) error {
	ctx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()

	signers := make([]string, len(b.Signers))
	for i, id := range b.Signers {
		signers[i] = string(id)
	}
	body, err := rlp.EncodeToBytes(bundlePayload{
		Height:           b.Height,
		Round:            b.Round,
		CommitteeVersion: b.CommitteeVersion,
		SnapshotDigest:   b.SnapshotDigest,
		ResultDigest:     b.ResultDigest,
		AggSignature:     b.AggSignature,
		Signers:          signers,
	})
	if err != nil {
		return err
	}
	data := append(append([]byte{}, selSubmitBundle...), abiEncodeBytes(body)...)

	from := gethcrypto.PubkeyToAddress(s.key.PublicKey)
	nonce, err := s.client.PendingNonceAt(ctx, from)
	if err != nil {
		return err
	}
	tip, err := s.client.SuggestGasTipCap(ctx)
	if err != nil {
		return err
	}
	head, err := s.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return err
	}
	feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       s.gasLimit,
		To:        &s.contract,
		Data:      data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.key)
	if err != nil {
		return err
	}
	if err := s.client.SendTransaction(ctx, signed); err != nil {
		return err
	}
	s.log.Infow("bundle_tx_sent", "height", b.Height, "tx", signed.Hash().Hex())
	return nil
}

// abiEncodeBytes lays out a single dynamic `bytes` argument: offset word,
// length word, then the padded payload.
func abiEncodeBytes(b []byte) []byte {
	out := make([]byte, 0, 64+len(b)+31)
	out = append(out, common.LeftPadBytes(big.NewInt(32).Bytes(), 32)...)
	out = append(out, common.LeftPadBytes(big.NewInt(int64(len(b))).Bytes(), 32)...)
	out = append(out, b...)
	if pad := len(b) % 32; pad != 0 {
		out = append(out, make([]byte, 32-pad)...)
	}
	return out
}

var _ consensus.Settlement = (*EthSubmitter)(nil)
