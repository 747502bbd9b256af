package auth

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/kiwiwatt/kiwiwatt/pkg/log"
	"github.com/kiwiwatt/kiwiwatt/pkg/types"
)

// TokenCipher encrypts OAuth tokens before they are persisted.
type TokenCipher struct {
	key []byte
}

// NewTokenCipher returns a cipher for a 32 byte key.
func NewTokenCipher(key string) (*TokenCipher, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid encryption key length %d (must be 32 bytes)", len(key))
	}
	return &TokenCipher{key: []byte(key)}, nil
}

func (c *TokenCipher) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcm: %w", err)
	}
	return gcm, nil
}

// Decrypt decrypts a token produced by Encrypt. An empty input yields an
// empty token.
func (c *TokenCipher) Decrypt(ctx context.Context, encrypted []byte) (types.Token, error) {
	if len(encrypted) == 0 {
		return types.Token{}, nil
	}

	gcm, err := c.gcm()
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to init token cipher", slog.Any("error", err))
		return types.Token{}, err
	}

	if len(encrypted) < gcm.NonceSize() {
		log.Ctx(ctx).ErrorContext(ctx, "malformed encrypted token", slog.Int("length", len(encrypted)))
		return types.Token{}, errors.New("malformed encrypted token")
	}

	nonce, ciphertext := encrypted[:gcm.NonceSize()], encrypted[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to decrypt token", slog.Any("error", err))
		return types.Token{}, fmt.Errorf("failed to decrypt token: %w", err)
	}

	var tok types.Token
	if err := json.Unmarshal(plaintext, &tok); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to unmarshal token", slog.Any("error", err))
		return types.Token{}, fmt.Errorf("failed to unmarshal token: %w", err)
	}
	return tok, nil
}

// Encrypt seals tok with a random nonce prepended to the ciphertext.
func (c *TokenCipher) Encrypt(ctx context.Context, tok types.Token) ([]byte, error) {
	jsonBytes, err := json.Marshal(tok)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to marshal token", slog.Any("error", err))
		return nil, fmt.Errorf("failed to marshal token: %w", err)
	}

	gcm, err := c.gcm()
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to init token cipher", slog.Any("error", err))
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to generate nonce", slog.Any("error", err))
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, jsonBytes, nil), nil
}
