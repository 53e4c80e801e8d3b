// sign-order builds and signs a test order against a local node. With no
// key given it generates a throwaway keypair, prints it, and emits the JSON
// body for POST /api/v1/orders.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/0xnonso/angstrom/pkg/crypto"
	"github.com/0xnonso/angstrom/pkg/order"
)

func main() {
	var (
		keyHex   = flag.String("key", "", "signer private key hex (generated if empty)")
		assetIn  = flag.String("in", "", "asset paid (address)")
		assetOut = flag.String("out", "", "asset received (address)")
		kind     = flag.Uint("kind", 1, "1 = limit, 2 = top-of-block")
		price    = flag.Int64("price", 0, "limit price in ticks")
		qty      = flag.Int64("qty", 0, "quantity in lots")
		nonce    = flag.Uint64("nonce", 1, "one-time nonce")
		deadline = flag.Uint64("deadline", 0, "expiry block height, 0 = none")
		chainID  = flag.Int64("chain", 1, "chain id for the signing domain")
		contract = flag.String("contract", "", "settlement contract (verifying contract)")
	)
	flag.Parse()

	var signer *crypto.Signer
	var err error
	if *keyHex == "" {
		signer, err = crypto.GenerateKey()
		if err == nil {
			fmt.Printf("Generated key: %s (KEEP SECRET!)\n", signer.PrivateKeyHex())
		}
	} else {
		signer, err = crypto.FromPrivateKeyHex(*keyHex)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "key: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Address: %s\n\n", signer.Address().Hex())

	if !common.IsHexAddress(*assetIn) || !common.IsHexAddress(*assetOut) {
		fmt.Fprintln(os.Stderr, "-in and -out must be hex addresses")
		os.Exit(1)
	}
	if *price <= 0 || *qty <= 0 {
		fmt.Fprintln(os.Stderr, "-price and -qty must be positive")
		os.Exit(1)
	}

	o := order.Order{
		Owner:    signer.Address(),
		AssetIn:  common.HexToAddress(*assetIn),
		AssetOut: common.HexToAddress(*assetOut),
		Kind:     order.Kind(*kind),
		Price:    *price,
		Quantity: *qty,
		Nonce:    *nonce,
		Deadline: *deadline,
	}

	domain := crypto.EIP712Domain{
		Name:              "Angstrom",
		Version:           "1",
		ChainID:           big.NewInt(*chainID),
		VerifyingContract: common.HexToAddress(*contract),
	}
	eip712 := crypto.NewEIP712Signer(domain)
	sig, err := eip712.SignOrder(signer, o.To712())
	if err != nil {
		fmt.Fprintf(os.Stderr, "sign: %v\n", err)
		os.Exit(1)
	}
	digest, err := eip712.HashOrder(o.To712())
	if err != nil {
		fmt.Fprintf(os.Stderr, "hash: %v\n", err)
		os.Exit(1)
	}

	body, err := json.MarshalIndent(struct {
		Order     order.Order   `json:"order"`
		Signature hexutil.Bytes `json:"signature"`
	}{Order: o, Signature: sig}, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "marshal: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Order hash: %s\n\n", hexutil.Encode(digest))
	fmt.Println("POST http://localhost:8080/api/v1/orders")
	fmt.Println(string(body))
}
