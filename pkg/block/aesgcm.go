package block

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"digby/pkg/dberrors"
)

const aesKeySize = 16 // AES-128

// aesGCMEnvelope implements Envelope using AES-128-GCM authenticated
// encryption, per spec §4.2. Ciphertext (including the 16-byte GCM tag)
// occupies the leading block_size-12 bytes; the 12-byte nonce used for
// that write occupies the trailing bytes.
type aesGCMEnvelope struct {
	blockSize int
	gcm       cipher.AEAD
}

func newAESGCMEnvelope(key []byte, blockSize int) (*aesGCMEnvelope, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("digby: AES-GCM mode requires a key")
	}
	padded := make([]byte, aesKeySize)
	copy(padded, key) // right-pad with zeros if key is shorter than 16 bytes
	block, err := aes.NewCipher(padded)
	if err != nil {
		return nil, fmt.Errorf("digby: AES-GCM: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("digby: AES-GCM: %w", err)
	}
	if gcm.NonceSize() != aesGCMNonceSize {
		return nil, fmt.Errorf("digby: AES-GCM: unexpected nonce size %d", gcm.NonceSize())
	}
	return &aesGCMEnvelope{blockSize: blockSize, gcm: gcm}, nil
}

func (e *aesGCMEnvelope) PageSize() int {
	return e.blockSize - aesGCMTrailerSize
}

func (e *aesGCMEnvelope) Seal(page []byte) ([]byte, error) {
	if len(page) != e.PageSize() {
		return nil, fmt.Errorf("digby: AES-GCM envelope: page size %d != %d", len(page), e.PageSize())
	}
	nonce := make([]byte, aesGCMNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("digby: AES-GCM: generating nonce: %w", err)
	}
	ciphertext := e.gcm.Seal(nil, nonce, page, nil)
	blockBytes := make([]byte, e.blockSize)
	copy(blockBytes, ciphertext)
	copy(blockBytes[e.blockSize-aesGCMNonceSize:], nonce)
	return blockBytes, nil
}

func (e *aesGCMEnvelope) Open(blockBytes []byte) ([]byte, error) {
	if len(blockBytes) != e.blockSize {
		return nil, fmt.Errorf("digby: AES-GCM envelope: block size %d != %d", len(blockBytes), e.blockSize)
	}
	ciphertextLen := e.blockSize - aesGCMNonceSize
	ciphertext := blockBytes[:ciphertextLen]
	nonce := blockBytes[ciphertextLen:]
	page, err := e.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: AES-GCM authentication failed: %v", dberrors.ErrCorruptPage, err)
	}
	return page, nil
}
