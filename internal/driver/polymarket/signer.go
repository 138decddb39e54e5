package polymarket

import (
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Signer implements the SDK's auth.Signer interface with the CLOB's two-level
// scheme: an EIP-712-signed message authenticates the wallet (L1), and an
// HMAC over request metadata authenticates individual API calls (L2) once an
// API key/secret/passphrase triple has been derived from an L1 signature.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int

	apiKey     string
	apiSecret  string
	passphrase string
}

// NewSigner derives the wallet address from privateKeyHex and attaches an
// already-provisioned API key triple; credentials are supplied, not derived
// at startup.
func NewSigner(privateKeyHex string, chainID int64, apiKey, apiSecret, passphrase string) (*Signer, error) {
	key, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &Signer{
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
		chainID:    big.NewInt(chainID),
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		passphrase: passphrase,
	}, nil
}

// Address satisfies auth.Signer.
func (s *Signer) Address() common.Address {
	return s.address
}

// ChainID satisfies auth.Signer.
func (s *Signer) ChainID() *big.Int {
	return s.chainID
}

// SignTypedData satisfies auth.Signer by delegating to SignOrder, which
// performs the same EIP-712 hash-and-sign over the reassembled typed data.
func (s *Signer) SignTypedData(domain *apitypes.TypedDataDomain, types apitypes.Types, message apitypes.TypedDataMessage, primaryType string) ([]byte, error) {
	hexSig, err := s.SignOrder(apitypes.TypedData{
		Types:       types,
		PrimaryType: primaryType,
		Domain:      *domain,
		Message:     message,
	})
	if err != nil {
		return nil, err
	}
	return common.FromHex(hexSig), nil
}

// SignOrder produces the EIP-712 signature over an order's typed-data hash
// (L1 auth), the step clob.NewOrderBuilder's BuildSignableWithContext /
// BuildMarketWithContext delegate to before submission.
func (s *Signer) SignOrder(typedData apitypes.TypedData) (string, error) {
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return "", fmt.Errorf("hash domain: %w", err)
	}
	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return "", fmt.Errorf("hash message: %w", err)
	}

	digest := crypto.Keccak256(
		[]byte("\x19\x01"),
		domainSeparator,
		messageHash,
	)

	sig, err := crypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("sign digest: %w", err)
	}
	sig[64] += 27 // recovery id in Ethereum's [27,28] convention
	return "0x" + common.Bytes2Hex(sig), nil
}

// HMACHeader produces the L2 request signature CLOB REST calls attach as the
// POLY_SIGNATURE header, over method+path+body+timestamp.
func (s *Signer) HMACHeader(timestamp, method, path, body string) (string, error) {
	secret, err := base64.URLEncoding.DecodeString(s.apiSecret)
	if err != nil {
		return "", fmt.Errorf("decode api secret: %w", err)
	}
	message := timestamp + method + path + body
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil)), nil
}

// APIKey, APISecret and Passphrase expose the L2 credential triple for
// request construction elsewhere in the driver.
func (s *Signer) APIKey() string     { return s.apiKey }
func (s *Signer) APISecret() string  { return s.apiSecret }
func (s *Signer) Passphrase() string { return s.passphrase }
