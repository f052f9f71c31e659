// Package onchainperp implements the exchange.Adapter contract (§6) against
// a wallet-signed on-chain perpetuals venue: EIP-712 order signing via
// go-ethereum, standing in for a DEX-style venue structurally different
// from the HMAC-signed binancefutures adapter but driven by the same
// Adapter interface.
package onchainperp

import (
	"crypto/ecdsa"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"swing-core/pkg/types"
)

// collateralDecimals is the on-chain collateral token's fixed-point scale
// (USDC-style, 6 decimals).
const collateralDecimals = 6

// Wallet holds the EOA used to sign orders for the on-chain perp venue.
type Wallet struct {
	privateKey    *ecdsa.PrivateKey
	address       common.Address
	funderAddress common.Address
	chainID       *big.Int
	sigType       types.SignatureType
}

// WalletConfig configures the signing wallet.
type WalletConfig struct {
	PrivateKeyHex  string
	FunderAddress  string
	ChainID        int64
	SignatureType  int
}

// NewWallet parses the private key and derives the signer address.
func NewWallet(cfg WalletConfig) (*Wallet, error) {
	keyHex := cfg.PrivateKeyHex
	if len(keyHex) >= 2 && keyHex[:2] == "0x" {
		keyHex = keyHex[2:]
	}

	privateKey, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	address := crypto.PubkeyToAddress(privateKey.PublicKey)
	funder := address
	if cfg.FunderAddress != "" {
		funder = common.HexToAddress(cfg.FunderAddress)
	}

	return &Wallet{
		privateKey:    privateKey,
		address:       address,
		funderAddress: funder,
		chainID:       big.NewInt(cfg.ChainID),
		sigType:       types.SignatureType(cfg.SignatureType),
	}, nil
}

// Address returns the signer's Ethereum address.
func (w *Wallet) Address() common.Address { return w.address }

// SignTypedData signs EIP-712 typed data and normalizes the recovery byte
// to 27/28.
func (w *Wallet) SignTypedData(domain *apitypes.TypedDataDomain, typesDef apitypes.Types, message apitypes.TypedDataMessage, primaryType string) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types:       typesDef,
		PrimaryType: primaryType,
		Domain:      *domain,
		Message:     message,
	}

	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, fmt.Errorf("typed data hash: %w", err)
	}

	sig, err := crypto.Sign(hash, w.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign typed data: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

var orderEIP712Types = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
	},
	"Order": {
		{Name: "salt", Type: "string"},
		{Name: "maker", Type: "address"},
		{Name: "signer", Type: "address"},
		{Name: "symbol", Type: "string"},
		{Name: "makerAmount", Type: "uint256"},
		{Name: "takerAmount", Type: "uint256"},
		{Name: "side", Type: "string"},
		{Name: "expiration", Type: "string"},
		{Name: "nonce", Type: "string"},
	},
}

// SignOrder builds and signs an on-chain order from a high-level
// OrderRequest, converting human-readable price/quantity into fixed-point
// maker/taker amounts only at this point via PriceToAmounts.
func (w *Wallet) SignOrder(req types.OrderRequest, expiration time.Time) (types.SignedOrder, error) {
	makerAmt, takerAmt := PriceToAmounts(req.Price, req.Quantity, req.Side)
	salt := strconv.FormatInt(time.Now().UnixNano(), 10)
	expStr := strconv.FormatInt(expiration.Unix(), 10)

	order := types.SignedOrder{
		Salt:          salt,
		Maker:         w.funderAddress.Hex(),
		Signer:        w.address.Hex(),
		Symbol:        req.Symbol,
		MakerAmount:   makerAmt,
		TakerAmount:   takerAmt,
		Side:          req.Side,
		Expiration:    expStr,
		Nonce:         "0",
		SignatureType: w.sigType,
	}

	sig, err := w.SignTypedData(
		&apitypes.TypedDataDomain{
			Name:    "OnchainPerpDomain",
			Version: "1",
			ChainId: (*ethmath.HexOrDecimal256)(new(big.Int).Set(w.chainID)),
		},
		orderEIP712Types,
		apitypes.TypedDataMessage{
			"salt":        salt,
			"maker":       order.Maker,
			"signer":      order.Signer,
			"symbol":      order.Symbol,
			"makerAmount": makerAmt.String(),
			"takerAmount": takerAmt.String(),
			"side":        string(req.Side),
			"expiration":  expStr,
			"nonce":       order.Nonce,
		},
		"Order",
	)
	if err != nil {
		return types.SignedOrder{}, fmt.Errorf("sign order: %w", err)
	}
	order.Signature = "0x" + common.Bytes2Hex(sig)
	return order, nil
}

// PriceToAmounts converts a human-readable price/quantity to maker/taker
// fixed-point amounts at the venue's collateral decimals.
//
// For BUY: makerAmount is the collateral paid (price*qty), takerAmount is
// the position size received. For SELL it's the reverse.
func PriceToAmounts(price, qty float64, side types.Side) (makerAmt, takerAmt *big.Int) {
	scale := new(big.Float).SetFloat64(math.Pow(10, collateralDecimals))
	qtyRounded := roundDown(qty, 8)

	switch side {
	case types.BUY:
		cost := roundDown(qtyRounded*price, collateralDecimals)
		makerF := new(big.Float).Mul(new(big.Float).SetFloat64(cost), scale)
		makerAmt, _ = makerF.Int(nil)
		takerF := new(big.Float).Mul(new(big.Float).SetFloat64(qtyRounded), scale)
		takerAmt, _ = takerF.Int(nil)
	case types.SELL:
		makerF := new(big.Float).Mul(new(big.Float).SetFloat64(qtyRounded), scale)
		makerAmt, _ = makerF.Int(nil)
		revenue := roundDown(qtyRounded*price, collateralDecimals)
		takerF := new(big.Float).Mul(new(big.Float).SetFloat64(revenue), scale)
		takerAmt, _ = takerF.Int(nil)
	}
	return makerAmt, takerAmt
}

func roundDown(val float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))
	return float64(int64(val*pow)) / pow
}
