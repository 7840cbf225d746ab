package encryption

import (
	"bufio"
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Algorithm names a payload cipher
type Algorithm string

const (
	AlgorithmAES256   Algorithm = "AES-256"
	AlgorithmAES128   Algorithm = "AES-128"
	AlgorithmChaCha20 Algorithm = "ChaCha20"
)

// DefaultChunkSize is the plaintext size of one sealed stream chunk
const DefaultChunkSize = 64 * 1024

const (
	streamMagic   = "SHE1"
	nonceSize     = 12
	tagSize       = 16
	headerSize    = len(streamMagic) + 1 + 4 + nonceSize
	maxChunkSize  = 16 * 1024 * 1024
	hkdfInfo      = "storehub-provider-key"
	lengthPrefix  = 4
	finalChunk    = byte(1)
	nonFinalChunk = byte(0)
)

var (
	// ErrUnsupportedAlgorithm is returned for algorithms outside the supported set
	ErrUnsupportedAlgorithm = errors.New("unsupported encryption algorithm")

	// ErrInvalidKeySize is returned when key material does not match the algorithm
	ErrInvalidKeySize = errors.New("invalid key size for algorithm")

	// ErrMalformedStream is returned when an encrypted stream cannot be parsed
	ErrMalformedStream = errors.New("malformed encrypted stream")
)

// Algorithms returns all supported algorithms
func Algorithms() []Algorithm {
	return []Algorithm{AlgorithmAES256, AlgorithmAES128, AlgorithmChaCha20}
}

// Valid reports whether the algorithm is supported
func (a Algorithm) Valid() bool {
	_, err := KeySize(a)
	return err == nil
}

// KeySize returns the key length in bytes required by the algorithm
func KeySize(alg Algorithm) (int, error) {
	switch alg {
	case AlgorithmAES256:
		return 32, nil
	case AlgorithmAES128:
		return 16, nil
	case AlgorithmChaCha20:
		return chacha20poly1305.KeySize, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}
}

func algorithmID(alg Algorithm) byte {
	switch alg {
	case AlgorithmAES256:
		return 1
	case AlgorithmAES128:
		return 2
	case AlgorithmChaCha20:
		return 3
	}
	return 0
}

// Encryptor defines the interface for encryption operations
type Encryptor interface {
	// Algorithm returns the cipher used by this encryptor
	Algorithm() Algorithm
	// Encrypt encrypts data with the given key
	Encrypt(data []byte, key []byte) (*EncryptedData, error)
	// Decrypt decrypts encrypted data with the given key
	Decrypt(encryptedData *EncryptedData, key []byte) ([]byte, error)
	// EncryptStream encrypts data from reader to writer in sealed chunks
	EncryptStream(src io.Reader, dst io.Writer, key []byte) (*EncryptionMetadata, error)
	// DecryptStream decrypts a chunked stream produced by EncryptStream
	DecryptStream(src io.Reader, dst io.Writer, key []byte) error
	// GenerateKey generates a new random key of the algorithm's size
	GenerateKey() ([]byte, error)
	// DeriveKey derives a key of the algorithm's size from secret and salt
	DeriveKey(secret, salt []byte) ([]byte, error)
}

// EncryptedData represents encrypted data with metadata
type EncryptedData struct {
	Data      []byte            `json:"data"`
	IV        []byte            `json:"iv"`
	Algorithm Algorithm         `json:"algorithm"`
	KeyID     string            `json:"key_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// EncryptionMetadata contains metadata about encrypted streams
type EncryptionMetadata struct {
	Algorithm     Algorithm         `json:"algorithm"`
	IV            []byte            `json:"iv"`
	KeyID         string            `json:"key_id,omitempty"`
	Size          int64             `json:"size"`
	EncryptedSize int64             `json:"encrypted_size"`
	ChunkSize     int               `json:"chunk_size"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// aeadEncryptor implements Encryptor on top of any 12-byte-nonce AEAD
type aeadEncryptor struct {
	algorithm Algorithm
	keySize   int
	chunkSize int
	newAEAD   func(key []byte) (cipher.AEAD, error)
}

// NewEncryptor creates an encryptor for the given algorithm
func NewEncryptor(alg Algorithm) (Encryptor, error) {
	return NewEncryptorWithChunkSize(alg, DefaultChunkSize)
}

// NewEncryptorWithChunkSize creates an encryptor with a custom stream chunk size
func NewEncryptorWithChunkSize(alg Algorithm, chunkSize int) (Encryptor, error) {
	size, err := KeySize(alg)
	if err != nil {
		return nil, err
	}
	if chunkSize <= 0 || chunkSize > maxChunkSize {
		return nil, fmt.Errorf("chunk size must be between 1 and %d bytes", maxChunkSize)
	}

	e := &aeadEncryptor{algorithm: alg, keySize: size, chunkSize: chunkSize}
	switch alg {
	case AlgorithmChaCha20:
		e.newAEAD = chacha20poly1305.New
	default:
		e.newAEAD = newAESGCM
	}
	return e, nil
}

func newAESGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

func (e *aeadEncryptor) Algorithm() Algorithm {
	return e.algorithm
}

func (e *aeadEncryptor) aead(key []byte) (cipher.AEAD, error) {
	if len(key) != e.keySize {
		return nil, fmt.Errorf("%w: %s needs %d bytes, got %d", ErrInvalidKeySize, e.algorithm, e.keySize, len(key))
	}
	return e.newAEAD(key)
}

// Encrypt encrypts data in a single sealed block
func (e *aeadEncryptor) Encrypt(data []byte, key []byte) (*EncryptedData, error) {
	aead, err := e.aead(key)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, aead.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("failed to generate IV: %w", err)
	}

	return &EncryptedData{
		Data:      aead.Seal(nil, iv, data, []byte(e.algorithm)),
		IV:        iv,
		Algorithm: e.algorithm,
		Metadata:  make(map[string]string),
	}, nil
}

// Decrypt decrypts a single sealed block
func (e *aeadEncryptor) Decrypt(encryptedData *EncryptedData, key []byte) ([]byte, error) {
	if encryptedData.Algorithm != e.algorithm {
		return nil, fmt.Errorf("data was encrypted with %s, encryptor uses %s", encryptedData.Algorithm, e.algorithm)
	}
	aead, err := e.aead(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, encryptedData.IV, encryptedData.Data, []byte(e.algorithm))
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt data: %w", err)
	}
	return plaintext, nil
}

// EncryptStream writes a header followed by length-prefixed sealed chunks.
// Each chunk nonce is the base nonce with the chunk counter folded into its
// last eight bytes; the header and a final-chunk flag are authenticated so
// reordering and truncation are detected on decrypt.
func (e *aeadEncryptor) EncryptStream(src io.Reader, dst io.Writer, key []byte) (*EncryptionMetadata, error) {
	aead, err := e.aead(key)
	if err != nil {
		return nil, err
	}

	baseNonce := make([]byte, nonceSize)
	if _, err := rand.Read(baseNonce); err != nil {
		return nil, fmt.Errorf("failed to generate IV: %w", err)
	}

	header := e.header(baseNonce)
	if _, err := dst.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write stream header: %w", err)
	}

	reader := bufio.NewReaderSize(src, e.chunkSize)
	buf := make([]byte, e.chunkSize)
	sealed := make([]byte, 0, e.chunkSize+tagSize)
	var lenBuf [lengthPrefix]byte
	var plainSize int64
	encryptedSize := int64(len(header))

	for counter := uint64(0); ; counter++ {
		n, readErr := io.ReadFull(reader, buf)
		if readErr != nil && readErr != io.EOF && readErr != io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("failed to read plaintext: %w", readErr)
		}

		final := readErr == io.EOF || readErr == io.ErrUnexpectedEOF
		if !final {
			if _, peekErr := reader.Peek(1); peekErr == io.EOF {
				final = true
			} else if peekErr != nil {
				return nil, fmt.Errorf("failed to read plaintext: %w", peekErr)
			}
		}

		sealed = aead.Seal(sealed[:0], chunkNonce(baseNonce, counter), buf[:n], chunkAAD(header, final))
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(sealed)))
		if _, err := dst.Write(lenBuf[:]); err != nil {
			return nil, fmt.Errorf("failed to encrypt stream: %w", err)
		}
		if _, err := dst.Write(sealed); err != nil {
			return nil, fmt.Errorf("failed to encrypt stream: %w", err)
		}

		plainSize += int64(n)
		encryptedSize += int64(lengthPrefix + len(sealed))
		if final {
			break
		}
	}

	return &EncryptionMetadata{
		Algorithm:     e.algorithm,
		IV:            baseNonce,
		Size:          plainSize,
		EncryptedSize: encryptedSize,
		ChunkSize:     e.chunkSize,
		Metadata:      make(map[string]string),
	}, nil
}

// DecryptStream reverses EncryptStream
func (e *aeadEncryptor) DecryptStream(src io.Reader, dst io.Writer, key []byte) error {
	aead, err := e.aead(key)
	if err != nil {
		return err
	}

	reader := bufio.NewReader(src)
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(reader, header); err != nil {
		return fmt.Errorf("%w: failed to read header: %v", ErrMalformedStream, err)
	}
	if !bytes.Equal(header[:len(streamMagic)], []byte(streamMagic)) {
		return fmt.Errorf("%w: bad magic", ErrMalformedStream)
	}
	if header[len(streamMagic)] != algorithmID(e.algorithm) {
		return fmt.Errorf("%w: stream algorithm does not match %s", ErrMalformedStream, e.algorithm)
	}
	chunkSize := int(binary.BigEndian.Uint32(header[len(streamMagic)+1:]))
	if chunkSize <= 0 || chunkSize > maxChunkSize {
		return fmt.Errorf("%w: invalid chunk size %d", ErrMalformedStream, chunkSize)
	}
	baseNonce := header[headerSize-nonceSize:]

	var lenBuf [lengthPrefix]byte
	ciphertext := make([]byte, 0, chunkSize+tagSize)
	plaintext := make([]byte, 0, chunkSize)

	for counter := uint64(0); ; counter++ {
		if _, err := io.ReadFull(reader, lenBuf[:]); err != nil {
			return fmt.Errorf("%w: truncated stream", ErrMalformedStream)
		}
		size := int(binary.BigEndian.Uint32(lenBuf[:]))
		if size < tagSize || size > chunkSize+tagSize {
			return fmt.Errorf("%w: invalid chunk length %d", ErrMalformedStream, size)
		}
		ciphertext = ciphertext[:size]
		if _, err := io.ReadFull(reader, ciphertext); err != nil {
			return fmt.Errorf("%w: truncated chunk", ErrMalformedStream)
		}

		_, peekErr := reader.Peek(1)
		final := peekErr == io.EOF

		plaintext, err = aead.Open(plaintext[:0], chunkNonce(baseNonce, counter), ciphertext, chunkAAD(header, final))
		if err != nil {
			return fmt.Errorf("failed to decrypt stream chunk %d: %w", counter, err)
		}
		if _, err := dst.Write(plaintext); err != nil {
			return fmt.Errorf("failed to write plaintext: %w", err)
		}
		if final {
			return nil
		}
	}
}

// GenerateKey generates a new random key
func (e *aeadEncryptor) GenerateKey() ([]byte, error) {
	key := make([]byte, e.keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate encryption key: %w", err)
	}
	return key, nil
}

// DeriveKey derives a key from secret and salt using HKDF-SHA256
func (e *aeadEncryptor) DeriveKey(secret, salt []byte) ([]byte, error) {
	if len(secret) == 0 {
		return nil, errors.New("secret cannot be empty")
	}
	key := make([]byte, e.keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

func (e *aeadEncryptor) header(baseNonce []byte) []byte {
	header := make([]byte, 0, headerSize)
	header = append(header, streamMagic...)
	header = append(header, algorithmID(e.algorithm))
	header = binary.BigEndian.AppendUint32(header, uint32(e.chunkSize))
	return append(header, baseNonce...)
}

func chunkNonce(base []byte, counter uint64) []byte {
	nonce := make([]byte, nonceSize)
	copy(nonce, base)
	tail := binary.BigEndian.Uint64(nonce[nonceSize-8:])
	binary.BigEndian.PutUint64(nonce[nonceSize-8:], tail^counter)
	return nonce
}

func chunkAAD(header []byte, final bool) []byte {
	aad := make([]byte, len(header)+1)
	copy(aad, header)
	if final {
		aad[len(header)] = finalChunk
	} else {
		aad[len(header)] = nonFinalChunk
	}
	return aad
}

// EncryptedSize returns the stream size EncryptStream produces for a plaintext size
func EncryptedSize(plainSize int64, chunkSize int) int64 {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	chunks := plainSize / int64(chunkSize)
	if plainSize%int64(chunkSize) != 0 || plainSize == 0 {
		chunks++
	}
	return int64(headerSize) + plainSize + chunks*int64(lengthPrefix+tagSize)
}
