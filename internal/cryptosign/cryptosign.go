// Package cryptosign provides the optional Ed25519 LSA signing described in
// SPEC_FULL.md's domain stack: when a node identity keypair is configured,
// an LSA's (origin, seq, neighbors) tuple is signed and the signature
// carried in the packet's "sig" header field, upgrading the plain
// payload.origin == packet.from anti-spoof check spec.md §4.2 mandates.
// Absent a keypair, that plain check still applies unchanged.
//
// Grounded on core/crypto.KeyPair/GenerateKeyPair/KeyPairFromPrivateKey for
// key handling, and core/crypto.SignAdvert/VerifyAdvert's
// build-canonical-message-then-ed25519.Sign/Verify shape, adapted from
// ADVERT's fixed pubkey||timestamp||appdata layout to a canonical encoding
// of an LSA's (origin, seq, neighbors) tuple.
package cryptosign

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
)

var (
	ErrInvalidPubKeySize  = errors.New("cryptosign: invalid public key size: expected 32 bytes")
	ErrInvalidPrivKeySize = errors.New("cryptosign: invalid private key size: expected 64 bytes")
	ErrInvalidSignature   = errors.New("cryptosign: invalid signature encoding")
)

// KeyPair holds an Ed25519 key pair used for LSA signing.
type KeyPair struct {
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// GenerateKeyPair generates a new Ed25519 key pair for node identity.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("cryptosign: generate key pair: %w", err)
	}
	return &KeyPair{PublicKey: pub, PrivateKey: priv}, nil
}

// KeyPairFromPrivateKey reconstructs a KeyPair from a 64-byte Ed25519
// private key (hex-decoded by the caller from config).
func KeyPairFromPrivateKey(privKey []byte) (*KeyPair, error) {
	if len(privKey) != ed25519.PrivateKeySize {
		return nil, ErrInvalidPrivKeySize
	}
	priv := make(ed25519.PrivateKey, ed25519.PrivateKeySize)
	copy(priv, privKey)
	pub := priv.Public().(ed25519.PublicKey)
	return &KeyPair{PublicKey: pub, PrivateKey: priv}, nil
}

// PublicKeyHex returns the public key hex-encoded, the form carried in a
// names file or debug dump.
func (kp *KeyPair) PublicKeyHex() string {
	return hex.EncodeToString(kp.PublicKey)
}

// SignLSA signs the (origin, seq, neighbors) tuple of an LSA and returns
// the 64-byte signature hex-encoded, the form carried in a packet's
// headers["sig"] field.
func (kp *KeyPair) SignLSA(origin string, seq int, neighbors map[string]int) string {
	msg := canonicalLSAMessage(origin, seq, neighbors)
	sig := ed25519.Sign(kp.PrivateKey, msg)
	return hex.EncodeToString(sig)
}

// VerifyLSA verifies an LSA signature against the claimed origin's public
// key. pubKeyHex and sigHex are hex-encoded as carried in config / packet
// headers respectively.
func VerifyLSA(pubKeyHex, sigHex, origin string, seq int, neighbors map[string]int) (bool, error) {
	pub, err := hex.DecodeString(pubKeyHex)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false, ErrInvalidPubKeySize
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false, ErrInvalidSignature
	}
	msg := canonicalLSAMessage(origin, seq, neighbors)
	return ed25519.Verify(pub, msg, sig), nil
}

// canonicalLSAMessage builds a deterministic byte encoding of an LSA's
// (origin, seq, neighbors) tuple: origin || seq(8 LE) || sorted
// id || ':' || cost(8 LE) || ';' entries. Neighbor iteration is sorted by id so the same
// logical LSA always signs/verifies identically regardless of map
// iteration order.
func canonicalLSAMessage(origin string, seq int, neighbors map[string]int) []byte {
	ids := make([]string, 0, len(neighbors))
	for id := range neighbors {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	msg := make([]byte, 0, len(origin)+8+32*len(ids))
	msg = append(msg, origin...)
	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(int64(seq)))
	msg = append(msg, seqBuf[:]...)
	for _, id := range ids {
		msg = append(msg, id...)
		msg = append(msg, ':')
		var costBuf [8]byte
		binary.LittleEndian.PutUint64(costBuf[:], uint64(int64(neighbors[id])))
		msg = append(msg, costBuf[:]...)
		msg = append(msg, ';')
	}
	return msg
}
