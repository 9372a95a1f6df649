package payment

import (
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Typed rejection reasons. These are stable, machine-readable strings surfaced
// in 400-class responses.
const (
	ReasonDeadlineExpired   = "deadline_expired"
	ReasonDeadlineTooFar    = "deadline_too_far_in_future"
	ReasonInvalidAmount     = "invalid_amount"
	ReasonAmountAboveMax    = "amount_above_maximum"
	ReasonNonceLength       = "nonce_length_out_of_bounds"
	ReasonMalformedSig      = "malformed_signature"
	ReasonSignatureMismatch = "signature_mismatch"
)

// MaxDeadlineWindow caps how far in the future a deadline may lie. Anything
// beyond it widens the replay window for no legitimate reason.
const MaxDeadlineWindow = 24 * time.Hour

// stablecoin amounts are denominated with 6 decimals (USDC convention)
const amountDecimals = 6

var amountScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(amountDecimals), nil)

// ParseAmount converts a decimal amount string ("0.25") into atomic units.
// Rejects non-numeric input, non-positive values, and more than 6 decimal
// places of precision.
func ParseAmount(s string) (*big.Int, error) {
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, errors.New("not a decimal number")
	}
	if r.Sign() <= 0 {
		return nil, errors.New("amount must be positive")
	}
	scaled := new(big.Rat).Mul(r, new(big.Rat).SetInt(amountScale))
	if !scaled.IsInt() {
		return nil, errors.New("amount has more than 6 decimal places")
	}
	return scaled.Num(), nil
}

// Result is the verifier's verdict. Reason is set iff Valid is false.
type Result struct {
	Valid  bool
	Reason string
}

// Verifier performs the pure, local checks on a payment authorization.
// It does no I/O and is safe to call repeatedly for the same payload.
type Verifier struct {
	maxAmount         *big.Int // atomic units
	chainID           *big.Int
	verifyingContract common.Address
	now               func() time.Time
}

func NewVerifier(maxAmount string, chainID int64, verifyingContract common.Address) (*Verifier, error) {
	max, err := ParseAmount(maxAmount)
	if err != nil {
		return nil, err
	}
	return &Verifier{
		maxAmount:         max,
		chainID:           big.NewInt(chainID),
		verifyingContract: verifyingContract,
		now:               time.Now,
	}, nil
}

// Verify runs the local checks in order, short-circuiting on the first
// failure: deadline window, amount bounds, nonce length, signature recovery.
func (v *Verifier) Verify(a *Authorization) Result {
	now := v.now().Unix()

	if a.Deadline < now {
		return Result{Reason: ReasonDeadlineExpired}
	}
	if a.Deadline > now+int64(MaxDeadlineWindow.Seconds()) {
		return Result{Reason: ReasonDeadlineTooFar}
	}

	atomic, err := ParseAmount(a.Amount)
	if err != nil {
		return Result{Reason: ReasonInvalidAmount}
	}
	if atomic.Cmp(v.maxAmount) > 0 {
		return Result{Reason: ReasonAmountAboveMax}
	}

	if len(a.Nonce) < MinNonceLen || len(a.Nonce) > MaxNonceLen {
		return Result{Reason: ReasonNonceLength}
	}

	if len(a.Signature) != 65 {
		return Result{Reason: ReasonMalformedSig}
	}
	recovered, err := RecoverSigner(a, atomic, v.chainID, v.verifyingContract)
	if err != nil {
		return Result{Reason: ReasonMalformedSig}
	}
	if !strings.EqualFold(recovered.Hex(), a.PayerAddress.Hex()) {
		return Result{Reason: ReasonSignatureMismatch}
	}

	return Result{Valid: true}
}
