package payment

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Authorization is the client-signed, off-chain payment intent. Memo is
// metadata only (not part of the EIP-712 struct); it is carried in JSON so
// receipts can record what the payment was for.
type Authorization struct {
	Amount             string         `json:"amount"`
	ServiceID          string         `json:"serviceId"`
	PayerAddress       common.Address `json:"payerAddress"`
	FacilitatorAddress common.Address `json:"facilitatorAddress"`
	Deadline           int64          `json:"deadline"`
	Nonce              string         `json:"nonce"`
	Signature          hexutil.Bytes  `json:"signature"`
	Memo               string         `json:"memo,omitempty"`
}

// Envelope is the versioned x402 payment header payload, carried base64-encoded
// in the X-Payment request header.
type Envelope struct {
	X402Version int    `json:"x402Version"`
	Scheme      string `json:"scheme"`
	Network     string `json:"network"`
	Payload     struct {
		Signature     hexutil.Bytes `json:"signature"`
		Authorization Authorization `json:"authorization"`
	} `json:"payload"`
}

// Nonce length bounds for a payment authorization.
const (
	MinNonceLen = 8
	MaxNonceLen = 128
)

// Redis key templates
const (
	ReceiptKeyFmt = "payment:receipt:%s:%s" // %s = payer (lowercased), serviceId
	NonceKeyFmt   = "payment:nonce:%s"      // %s = nonce value
)
