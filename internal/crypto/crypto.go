// Package crypto provides optional at-rest encryption for backup
// artifacts using AES-256-GCM with PBKDF2 key derivation.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// SaltSize is the size of the salt for key derivation
	SaltSize = 32
	// KeySize is the size of the AES key (256 bits)
	KeySize = 32
	// NonceSize is the size of the GCM nonce
	NonceSize = 12
	// Iterations for PBKDF2
	Iterations = 100000

	// chunkSize is the plaintext chunk size for the streaming cipher
	chunkSize = 64 * 1024

	magic = "RBAK-ENC"
)

// EncryptionHeader contains encryption metadata
type EncryptionHeader struct {
	Salt  []byte
	Nonce []byte
}

// DeriveKey derives an encryption key from a password using PBKDF2
func DeriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, Iterations, KeySize, sha256.New)
}

// GenerateSalt generates a random salt
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// GenerateNonce generates a random nonce for GCM
func GenerateNonce() ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return nonce, nil
}

// EncryptReader wraps a reader with AES-256-GCM encryption
type EncryptReader struct {
	reader    io.Reader
	cipher    cipher.AEAD
	baseNonce []byte
	counter   uint64
	buffer    []byte
	encrypted []byte
	eof       bool
}

// NewEncryptReader creates a new encrypting reader
func NewEncryptReader(r io.Reader, password string) (*EncryptReader, *EncryptionHeader, error) {
	salt, err := GenerateSalt()
	if err != nil {
		return nil, nil, err
	}

	key := DeriveKey(password, salt)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce, err := GenerateNonce()
	if err != nil {
		return nil, nil, err
	}

	header := &EncryptionHeader{
		Salt:  salt,
		Nonce: nonce,
	}

	return &EncryptReader{
		reader:    r,
		cipher:    gcm,
		baseNonce: nonce,
		counter:   0,
		buffer:    make([]byte, chunkSize),
	}, header, nil
}

// Read implements io.Reader with encryption
func (er *EncryptReader) Read(p []byte) (int, error) {
	if er.eof && len(er.encrypted) == 0 {
		return 0, io.EOF
	}

	if len(er.encrypted) > 0 {
		n := copy(p, er.encrypted)
		er.encrypted = er.encrypted[n:]
		return n, nil
	}

	n, err := io.ReadFull(er.reader, er.buffer)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return 0, err
	}

	if n > 0 {
		er.encrypted = er.cipher.Seal(nil, chunkNonce(er.baseNonce, er.counter), er.buffer[:n], nil)
		er.counter++

		copied := copy(p, er.encrypted)
		er.encrypted = er.encrypted[copied:]
		if n < chunkSize {
			er.eof = true
		}
		return copied, nil
	}

	er.eof = true
	return 0, io.EOF
}

// DecryptReader wraps a reader with AES-256-GCM decryption
type DecryptReader struct {
	reader    io.Reader
	cipher    cipher.AEAD
	baseNonce []byte
	counter   uint64
	buffer    []byte
	decrypted []byte
	eof       bool
}

// NewDecryptReader creates a new decrypting reader
func NewDecryptReader(r io.Reader, password string, header *EncryptionHeader) (*DecryptReader, error) {
	key := DeriveKey(password, header.Salt)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	baseNonce := make([]byte, len(header.Nonce))
	copy(baseNonce, header.Nonce)

	return &DecryptReader{
		reader:    r,
		cipher:    gcm,
		baseNonce: baseNonce,
		buffer:    make([]byte, chunkSize+gcm.Overhead()),
	}, nil
}

// Read implements io.Reader with decryption
func (dr *DecryptReader) Read(p []byte) (int, error) {
	if dr.eof && len(dr.decrypted) == 0 {
		return 0, io.EOF
	}

	if len(dr.decrypted) > 0 {
		n := copy(p, dr.decrypted)
		dr.decrypted = dr.decrypted[n:]
		return n, nil
	}

	n, err := io.ReadFull(dr.reader, dr.buffer)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return 0, err
	}

	if n > 0 {
		decrypted, err := dr.cipher.Open(nil, chunkNonce(dr.baseNonce, dr.counter), dr.buffer[:n], nil)
		if err != nil {
			return 0, fmt.Errorf("decryption failed: %w", err)
		}
		dr.decrypted = decrypted
		dr.counter++
		if n < len(dr.buffer) {
			dr.eof = true
		}

		copied := copy(p, dr.decrypted)
		dr.decrypted = dr.decrypted[copied:]
		return copied, nil
	}

	dr.eof = true
	return 0, io.EOF
}

// chunkNonce combines the base nonce with the chunk counter so every
// chunk is sealed with a unique nonce.
func chunkNonce(base []byte, counter uint64) []byte {
	nonce := make([]byte, len(base))
	copy(nonce, base)
	for i := 0; i < 8 && i < len(nonce); i++ {
		nonce[len(nonce)-1-i] ^= byte(counter >> (8 * i))
	}
	return nonce
}

// WriteEncryptionHeader writes the encryption header to a writer
func WriteEncryptionHeader(w io.Writer, header *EncryptionHeader) error {
	if _, err := w.Write([]byte(magic)); err != nil {
		return fmt.Errorf("failed to write magic bytes: %w", err)
	}

	if _, err := w.Write([]byte{1}); err != nil {
		return fmt.Errorf("failed to write version: %w", err)
	}

	if _, err := w.Write(header.Salt); err != nil {
		return fmt.Errorf("failed to write salt: %w", err)
	}

	if _, err := w.Write(header.Nonce); err != nil {
		return fmt.Errorf("failed to write nonce: %w", err)
	}

	return nil
}

// ReadEncryptionHeader reads the encryption header from a reader
func ReadEncryptionHeader(r io.Reader) (*EncryptionHeader, error) {
	buf := make([]byte, len(magic))
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("failed to read magic bytes: %w", err)
	}

	if string(buf) != magic {
		return nil, fmt.Errorf("not an encrypted backup artifact")
	}

	version := make([]byte, 1)
	if _, err := io.ReadFull(r, version); err != nil {
		return nil, fmt.Errorf("failed to read version: %w", err)
	}

	if version[0] != 1 {
		return nil, fmt.Errorf("unsupported encryption version: %d", version[0])
	}

	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(r, salt); err != nil {
		return nil, fmt.Errorf("failed to read salt: %w", err)
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(r, nonce); err != nil {
		return nil, fmt.Errorf("failed to read nonce: %w", err)
	}

	return &EncryptionHeader{
		Salt:  salt,
		Nonce: nonce,
	}, nil
}

// IsEncrypted checks if data starts with an encryption header
func IsEncrypted(data []byte) bool {
	return len(data) >= len(magic) && string(data[:len(magic)]) == magic
}
