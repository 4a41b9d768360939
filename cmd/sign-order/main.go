package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/marketplace/pkg/api"
	"github.com/uhyunpark/marketplace/pkg/asset"
	"github.com/uhyunpark/marketplace/pkg/crypto"
	"github.com/uhyunpark/marketplace/pkg/order"
)

func main() {
	keyHex := flag.String("key", "", "maker private key (hex); a new key is generated when empty")
	nft := flag.String("nft", "0x0000000000000000000000000000000000000721", "ERC721 collection")
	tokenID := flag.Int64("token-id", 1, "token id being sold")
	payToken := flag.String("pay", "0x0000000000000000000000000000000000000020", "ERC20 payment token")
	price := flag.String("price", "1000", "price in payment token units")
	flag.Parse()

	// Step 1: Generate or load key
	var signer *crypto.Signer
	var err error
	if *keyHex == "" {
		fmt.Println("Generating new keypair...")
		signer, err = crypto.GenerateKey()
	} else {
		signer, err = crypto.FromPrivateKeyHex(*keyHex)
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Address: %s\n", signer.Address().Hex())
	if *keyHex == "" {
		fmt.Printf("Private Key: %s (KEEP SECRET!)\n", signer.PrivateKeyHex())
	}
	fmt.Println()

	// Step 2: Create a sell order for one ERC721 item
	value, ok := new(big.Int).SetString(*price, 10)
	if !ok {
		fmt.Printf("Error: invalid price %q\n", *price)
		os.Exit(1)
	}
	salt, err := crypto.GenerateSalt()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	o := &order.Order{
		Maker:     signer.Address(),
		MakeAsset: asset.New(asset.ERC721(common.HexToAddress(*nft), big.NewInt(*tokenID)), big.NewInt(1)),
		TakeAsset: asset.New(asset.ERC20(common.HexToAddress(*payToken)), value),
		Salt:      salt,
	}
	fmt.Println("Order Details:")
	fmt.Printf("  Make: %s\n", o.MakeAsset)
	fmt.Printf("  Take: %s\n", o.TakeAsset)
	fmt.Printf("  Salt: %s\n", o.SaltValue())
	fmt.Printf("  Key:  %s\n\n", o.HashKey().Hex())

	// Step 3: Sign order with EIP-712
	typed := crypto.NewTypedSigner(crypto.DefaultDomain())
	signature, err := typed.SignOrder(signer, o)
	if err != nil {
		fmt.Printf("Error signing: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Signature: 0x%x\n\n", signature)

	// Step 4: Build the submission payload
	req := api.SubmitOrderRequest{
		Order:     api.NewOrderPayload(o),
		Signature: fmt.Sprintf("0x%x", signature),
	}
	body, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		fmt.Printf("Error marshaling JSON: %v\n", err)
		os.Exit(1)
	}

	// Step 5: Verify signature
	fmt.Println("Verifying signature...")
	recovered, err := typed.RecoverOrderSigner(o, signature)
	if err != nil {
		fmt.Printf("Error verifying: %v\n", err)
		os.Exit(1)
	}
	if recovered != o.Maker {
		fmt.Println("✗ Signature INVALID")
		os.Exit(1)
	}
	fmt.Println("✓ Signature VALID")
	fmt.Printf("  Signer: %s\n\n", recovered.Hex())

	// Step 6: Show how to submit to API
	fmt.Println("To pool this order:")
	fmt.Println("  POST http://localhost:8080/api/v1/orders")
	fmt.Println("  Content-Type: application/json")
	fmt.Println("  Body:")
	fmt.Println(string(body))
}
