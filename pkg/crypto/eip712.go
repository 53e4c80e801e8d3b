package crypto

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP712Domain is the domain separator for typed-data signing. It pins orders
// to one chain and one settlement contract so they cannot be replayed
// elsewhere.
type EIP712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

func DefaultDomain() EIP712Domain {
	return EIP712Domain{
		Name:              "Angstrom",
		Version:           "1",
		ChainID:           big.NewInt(1),
		VerifyingContract: common.Address{},
	}
}

// Order712 is the typed-data view of a trade order. The wallet signs exactly
// these fields; the canonical order hash is the EIP-712 digest of them.
type Order712 struct {
	Owner    common.Address
	AssetIn  common.Address
	AssetOut common.Address
	Kind     uint8 // 1 = limit, 2 = top-of-block
	Price    *big.Int
	Quantity *big.Int
	Nonce    *big.Int
	Deadline *big.Int // block height, 0 = no expiry
}

var orderTypes = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Order": []apitypes.Type{
		{Name: "owner", Type: "address"},
		{Name: "assetIn", Type: "address"},
		{Name: "assetOut", Type: "address"},
		{Name: "kind", Type: "uint8"},
		{Name: "price", Type: "uint256"},
		{Name: "quantity", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
	},
}

type EIP712Signer struct {
	domain EIP712Domain
}

func NewEIP712Signer(domain EIP712Domain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

// HashOrder computes the EIP-712 digest of an order. Every committee member
// must derive the same digest from the same order, so the encoding here is
// the canonical one.
func (e *EIP712Signer) HashOrder(order *Order712) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types:       orderTypes,
		PrimaryType: "Order",
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"owner":    order.Owner.Hex(),
			"assetIn":  order.AssetIn.Hex(),
			"assetOut": order.AssetOut.Hex(),
			"kind":     fmt.Sprintf("%d", order.Kind),
			"price":    order.Price.String(),
			"quantity": order.Quantity.String(),
			"nonce":    order.Nonce.String(),
			"deadline": order.Deadline.String(),
		},
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("hash domain: %w", err)
	}
	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("hash order: %w", err)
	}

	raw := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(messageHash)))
	return crypto.Keccak256Hash(raw).Bytes(), nil
}

func (e *EIP712Signer) SignOrder(signer *Signer, order *Order712) ([]byte, error) {
	digest, err := e.HashOrder(order)
	if err != nil {
		return nil, err
	}
	return signer.Sign(digest)
}

// VerifyOrderSignature reports whether signature recovers to the order's
// claimed owner.
func (e *EIP712Signer) VerifyOrderSignature(order *Order712, signature []byte) (bool, error) {
	digest, err := e.HashOrder(order)
	if err != nil {
		return false, err
	}
	recovered, err := RecoverAddress(digest, signature)
	if err != nil {
		return false, fmt.Errorf("recover signer: %w", err)
	}
	return recovered == order.Owner, nil
}
