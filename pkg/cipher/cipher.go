// Package cipher provides authenticated encryption for embedding vectors and
// auxiliary strings.
//
// Every payload is base64(IV || Tag || Ciphertext) with a 12-byte IV and a
// 16-byte tag. Decryption either returns the full plaintext or an error; it
// never returns partial output.
package cipher

import (
	"crypto/aes"
	gocipher "crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"math"

	"secure-rag-go/internal/config"
	"secure-rag-go/pkg/errs"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	IVSize  = 12
	TagSize = 16

	AlgorithmAESGCM           = "aes-256-gcm"
	AlgorithmChaCha20Poly1305 = "chacha20-poly1305"
)

// Payload is the decoded form of an encrypted value.
type Payload struct {
	IV         []byte
	Tag        []byte
	Ciphertext []byte
}

// Bytes returns IV || Tag || Ciphertext.
func (p Payload) Bytes() []byte {
	out := make([]byte, 0, len(p.IV)+len(p.Tag)+len(p.Ciphertext))
	out = append(out, p.IV...)
	out = append(out, p.Tag...)
	return append(out, p.Ciphertext...)
}

// String returns the text-safe external representation.
func (p Payload) String() string {
	return base64.StdEncoding.EncodeToString(p.Bytes())
}

// ParsePayload splits an encoded payload by fixed offsets. It only checks the
// framing; authenticity is checked on decrypt.
func ParsePayload(encoded string) (Payload, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Payload{}, errs.Decode("cipher.ParsePayload", err)
	}
	if len(raw) < IVSize+TagSize {
		return Payload{}, errs.Newf(errs.ErrDecode, "cipher.ParsePayload", "payload too short: %d bytes", len(raw))
	}
	return Payload{
		IV:         raw[:IVSize],
		Tag:        raw[IVSize : IVSize+TagSize],
		Ciphertext: raw[IVSize+TagSize:],
	}, nil
}

// Cipher holds the immutable key material. It is safe for concurrent use.
type Cipher struct {
	aead      gocipher.AEAD
	algorithm string
	rand      io.Reader
}

// New builds a Cipher from configuration. It fails with a configuration error
// when the key is missing, is not 256 bits, or the algorithm is unknown.
func New(cfg config.EncryptionConfig) (*Cipher, error) {
	const op = "cipher.New"
	if err := cfg.ValidateKey(); err != nil {
		return nil, err
	}
	key, _ := hex.DecodeString(cfg.KeyHex)

	algorithm := cfg.Algorithm
	if algorithm == "" {
		algorithm = AlgorithmAESGCM
	}

	var aead gocipher.AEAD
	switch algorithm {
	case AlgorithmAESGCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, errs.Configuration(op, err)
		}
		aead, err = gocipher.NewGCM(block)
		if err != nil {
			return nil, errs.Configuration(op, err)
		}
	case AlgorithmChaCha20Poly1305:
		var err error
		aead, err = chacha20poly1305.New(key)
		if err != nil {
			return nil, errs.Configuration(op, err)
		}
	default:
		return nil, errs.Newf(errs.ErrConfiguration, op, "unsupported encryption algorithm %q", algorithm)
	}

	if aead.NonceSize() != IVSize || aead.Overhead() != TagSize {
		return nil, errs.Newf(errs.ErrConfiguration, op, "algorithm %q does not use a %d-byte IV and %d-byte tag", algorithm, IVSize, TagSize)
	}
	return &Cipher{aead: aead, algorithm: algorithm, rand: rand.Reader}, nil
}

// Algorithm returns the configured AEAD name.
func (c *Cipher) Algorithm() string { return c.algorithm }

// EncryptVector encrypts the little-endian float32 form of v.
func (c *Cipher) EncryptVector(v []float32) (string, error) {
	if len(v) == 0 {
		return "", errs.Newf(errs.ErrValidation, "cipher.EncryptVector", "empty vector")
	}
	p, err := c.seal(marshalVector(v))
	if err != nil {
		return "", err
	}
	return p.String(), nil
}

// DecryptVector reverses EncryptVector.
func (c *Cipher) DecryptVector(encoded string) ([]float32, error) {
	plain, err := c.open(encoded)
	if err != nil {
		return nil, err
	}
	return unmarshalVector(plain)
}

// EncryptText encrypts an auxiliary string such as chunk text.
func (c *Cipher) EncryptText(s string) (string, error) {
	p, err := c.seal([]byte(s))
	if err != nil {
		return "", err
	}
	return p.String(), nil
}

// DecryptText reverses EncryptText.
func (c *Cipher) DecryptText(encoded string) (string, error) {
	plain, err := c.open(encoded)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// Hash returns the hex SHA-256 digest of data. It is a fingerprint for
// integrity bookkeeping, not a confidentiality primitive.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (c *Cipher) seal(plain []byte) (Payload, error) {
	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(c.rand, iv); err != nil {
		return Payload{}, fmt.Errorf("cipher: read random iv: %w", err)
	}
	sealed := c.aead.Seal(nil, iv, plain, nil)
	n := len(sealed) - TagSize
	return Payload{
		IV:         iv,
		Tag:        sealed[n:],
		Ciphertext: sealed[:n],
	}, nil
}

func (c *Cipher) open(encoded string) ([]byte, error) {
	p, err := ParsePayload(encoded)
	if err != nil {
		return nil, err
	}
	// Go's AEAD expects Ciphertext || Tag.
	sealed := make([]byte, 0, len(p.Ciphertext)+TagSize)
	sealed = append(sealed, p.Ciphertext...)
	sealed = append(sealed, p.Tag...)
	plain, err := c.aead.Open(nil, p.IV, sealed, nil)
	if err != nil {
		return nil, errs.Integrity("cipher.Decrypt", err)
	}
	return plain, nil
}

func marshalVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func unmarshalVector(b []byte) ([]float32, error) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, errs.Newf(errs.ErrDecode, "cipher.DecryptVector", "plaintext is not a float32 vector (%d bytes)", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}
