// Package wallet provides key management and transaction signing helpers.
package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/tolelom/tolsettle/attest"
	"github.com/tolelom/tolsettle/crypto"
	"golang.org/x/crypto/pbkdf2"
)

// Key kinds stored in a keystore file.
const (
	KindAccount  = "ed25519"   // transaction signing key
	KindAttestor = "secp256k1" // result attestation key
)

// ErrWrongKind is returned when a keystore holds a different key kind than
// the one requested.
var ErrWrongKind = errors.New("keystore holds a different key kind")

type keystoreFile struct {
	Kind       string `json:"kind"`
	PubKey     string `json:"pub_key"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	CipherText string `json:"cipher_text"`
}

// SaveKey encrypts an account key with password and writes it to path.
func SaveKey(path, password string, priv crypto.PrivateKey) error {
	return save(path, password, KindAccount, priv.Public().Hex(), priv)
}

// LoadKey decrypts the account keystore at path using password.
func LoadKey(path, password string) (crypto.PrivateKey, error) {
	raw, err := load(path, password, KindAccount)
	if err != nil {
		return nil, err
	}
	return crypto.PrivKeyFromBytes(raw)
}

// SaveSigner encrypts an attestation key with password and writes it to path.
// The file's pub_key is the compressed key to register as trusted.
func SaveSigner(path, password string, s *attest.Signer) error {
	return save(path, password, KindAttestor, s.PublicKey().Hex(), s.Bytes())
}

// LoadSigner decrypts the attestation keystore at path using password.
func LoadSigner(path, password string) (*attest.Signer, error) {
	raw, err := load(path, password, KindAttestor)
	if err != nil {
		return nil, err
	}
	return attest.SignerFromBytes(raw)
}

func save(path, password, kind, pub string, secret []byte) error {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return err
	}
	gcm, err := newGCM(password, salt)
	if err != nil {
		return err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return err
	}
	// Kind and public key are authenticated so they cannot be swapped.
	cipherText := gcm.Seal(nil, nonce, secret, []byte(kind+":"+pub))

	ks := keystoreFile{
		Kind:       kind,
		PubKey:     pub,
		Salt:       hex.EncodeToString(salt),
		Nonce:      hex.EncodeToString(nonce),
		CipherText: hex.EncodeToString(cipherText),
	}
	data, err := json.MarshalIndent(ks, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func load(path, password, kind string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ks keystoreFile
	if err := json.Unmarshal(data, &ks); err != nil {
		return nil, err
	}
	if ks.Kind != kind {
		return nil, fmt.Errorf("%s: want %s, have %q: %w", path, kind, ks.Kind, ErrWrongKind)
	}
	salt, err := hex.DecodeString(ks.Salt)
	if err != nil {
		return nil, err
	}
	nonce, err := hex.DecodeString(ks.Nonce)
	if err != nil {
		return nil, err
	}
	cipherText, err := hex.DecodeString(ks.CipherText)
	if err != nil {
		return nil, err
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, errors.New("corrupted keystore nonce")
	}
	secret, err := gcm.Open(nil, nonce, cipherText, []byte(ks.Kind+":"+ks.PubKey))
	if err != nil {
		return nil, errors.New("wrong password or corrupted keystore")
	}
	return secret, nil
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(password, salt))
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, 210_000, 32, sha256.New)
}
