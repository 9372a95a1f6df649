package payment

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var authorizationTypeHash = crypto.Keccak256Hash([]byte(
	"PaymentAuthorization(address payer,address facilitator,string serviceId,uint256 amount,uint256 deadline,string nonce)",
))

// domainSeparator computes the EIP-712 domain separator.
func domainSeparator(chainID *big.Int, verifyingContract common.Address) [32]byte {
	domainTypeHash := crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)",
	))
	nameHash := crypto.Keccak256Hash([]byte("Mintgate Payments"))
	versionHash := crypto.Keccak256Hash([]byte("1"))

	// ABI-encode: (bytes32, bytes32, bytes32, uint256, address)
	encoded := make([]byte, 5*32)
	copy(encoded[0:32], domainTypeHash[:])
	copy(encoded[32:64], nameHash[:])
	copy(encoded[64:96], versionHash[:])
	chainID.FillBytes(encoded[96:128])
	copy(encoded[140:160], verifyingContract.Bytes()) // addr is right-aligned in 32-byte slot

	return crypto.Keccak256Hash(encoded)
}

// hashAuthorization computes the EIP-712 digest for an authorization. Dynamic
// types (serviceId, nonce) are encoded as the keccak256 of their contents, and
// amount is the atomic-unit integer the decimal amount string parses to.
func hashAuthorization(a *Authorization, atomicAmount *big.Int, chainID *big.Int, verifyingContract common.Address) [32]byte {
	serviceHash := crypto.Keccak256Hash([]byte(a.ServiceID))
	nonceHash := crypto.Keccak256Hash([]byte(a.Nonce))

	// structHash = keccak256(typeHash || abi.encode(fields))
	encoded := make([]byte, 7*32)
	copy(encoded[0:32], authorizationTypeHash[:])
	copy(encoded[44:64], a.PayerAddress.Bytes()) // padded address
	copy(encoded[76:96], a.FacilitatorAddress.Bytes())
	copy(encoded[96:128], serviceHash[:])
	atomicAmount.FillBytes(encoded[128:160])
	big.NewInt(a.Deadline).FillBytes(encoded[160:192])
	copy(encoded[192:224], nonceHash[:])

	structHash := crypto.Keccak256Hash(encoded)
	sep := domainSeparator(chainID, verifyingContract)

	// Final digest: keccak256(0x1901 || domainSeparator || structHash)
	msg := make([]byte, 2+32+32)
	msg[0] = 0x19
	msg[1] = 0x01
	copy(msg[2:34], sep[:])
	copy(msg[34:66], structHash[:])
	return crypto.Keccak256Hash(msg)
}

// RecoverSigner recovers the address that signed the authorization.
func RecoverSigner(a *Authorization, atomicAmount *big.Int, chainID *big.Int, verifyingContract common.Address) (common.Address, error) {
	digest := hashAuthorization(a, atomicAmount, chainID, verifyingContract)
	sig := make([]byte, 65)
	copy(sig, a.Signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := crypto.SigToPub(digest[:], sig)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Sign signs the authorization in-place with the payer key using EIP-712.
// Used by tests and client tooling; the server only ever recovers.
func Sign(a *Authorization, privKey *ecdsa.PrivateKey, chainID *big.Int, verifyingContract common.Address) error {
	atomic, err := ParseAmount(a.Amount)
	if err != nil {
		return err
	}
	digest := hashAuthorization(a, atomic, chainID, verifyingContract)
	sig, err := crypto.Sign(digest[:], privKey)
	if err != nil {
		return err
	}
	// Convert V from 0/1 to 27/28 for Solidity ecrecover
	sig[64] += 27
	a.Signature = sig
	return nil
}
