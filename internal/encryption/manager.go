package encryption

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"admin-auth-service/internal/config"
	"admin-auth-service/internal/util"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"go.uber.org/zap"
)

var (
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
)

const (
	envelopeVersion = "v1"
	localKeyID      = "local"
)

// KMSAPI is the subset of the KMS client used for envelope encryption.
type KMSAPI interface {
	GenerateDataKey(ctx context.Context, in *kms.GenerateDataKeyInput, optFns ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error)
	Decrypt(ctx context.Context, in *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// EncryptedData is the envelope persisted in place of a plaintext secret.
type EncryptedData struct {
	EncryptedValue string    `json:"v"`
	EncryptedDEK   string    `json:"k"`
	KeyID          string    `json:"id"`
	Version        string    `json:"ver"`
	CreatedAt      time.Time `json:"at"`
}

// Manager protects MFA secrets at rest with AES-256-GCM under a data key.
// With KMS enabled the data key is wrapped by KMS; otherwise a single
// process-local master key wraps it, which is only fit for development.
type Manager struct {
	kms       KMSAPI
	keyID     string
	masterKey []byte
	keyCache  sync.Map // encrypted DEK -> plaintext DEK
}

// NewKMSClient builds a KMS client from the default AWS credential chain.
func NewKMSClient(ctx context.Context, cfg config.KMSConfig) (*kms.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return kms.NewFromConfig(awsCfg), nil
}

// NewManager returns a KMS-backed manager when client is non-nil and a
// local one otherwise.
func NewManager(client KMSAPI, keyID string) (*Manager, error) {
	m := &Manager{kms: client, keyID: keyID}
	if client == nil {
		m.keyID = localKeyID
		m.masterKey = make([]byte, 32)
		if _, err := rand.Read(m.masterKey); err != nil {
			return nil, fmt.Errorf("failed to generate local master key: %w", err)
		}
		util.Warn("Encryption manager using process-local master key")
	}
	return m, nil
}

func (m *Manager) generateDataKey(ctx context.Context) (plaintext, wrapped []byte, err error) {
	if m.kms != nil {
		out, err := m.kms.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
			KeyId:   aws.String(m.keyID),
			KeySpec: types.DataKeySpecAes256,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to generate data key: %w", err)
		}
		return out.Plaintext, out.CiphertextBlob, nil
	}

	plaintext = make([]byte, 32)
	if _, err := rand.Read(plaintext); err != nil {
		return nil, nil, err
	}
	wrapped, err = seal(m.masterKey, plaintext)
	if err != nil {
		return nil, nil, err
	}
	return plaintext, wrapped, nil
}

func (m *Manager) unwrapDataKey(ctx context.Context, wrapped []byte) ([]byte, error) {
	if m.kms != nil {
		out, err := m.kms.Decrypt(ctx, &kms.DecryptInput{CiphertextBlob: wrapped})
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt DEK: %w", err)
		}
		return out.Plaintext, nil
	}
	return open(m.masterKey, wrapped)
}

// EncryptField encrypts plaintext into an envelope.
func (m *Manager) EncryptField(ctx context.Context, plaintext string) (*EncryptedData, error) {
	dek, wrapped, err := m.generateDataKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	ciphertext, err := seal(dek, []byte(plaintext))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	wrappedB64 := base64.StdEncoding.EncodeToString(wrapped)
	m.keyCache.Store(wrappedB64, dek)

	return &EncryptedData{
		EncryptedValue: base64.StdEncoding.EncodeToString(ciphertext),
		EncryptedDEK:   wrappedB64,
		KeyID:          m.keyID,
		Version:        envelopeVersion,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// DecryptField decrypts an envelope produced by EncryptField.
func (m *Manager) DecryptField(ctx context.Context, data *EncryptedData) (string, error) {
	if data.Version != envelopeVersion {
		return "", fmt.Errorf("%w: unknown envelope version %q", ErrDecryptionFailed, data.Version)
	}

	var dek []byte
	if cached, ok := m.keyCache.Load(data.EncryptedDEK); ok {
		dek = cached.([]byte)
	} else {
		wrapped, err := base64.StdEncoding.DecodeString(data.EncryptedDEK)
		if err != nil {
			return "", fmt.Errorf("%w: invalid DEK format", ErrDecryptionFailed)
		}
		dek, err = m.unwrapDataKey(ctx, wrapped)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
		}
		m.keyCache.Store(data.EncryptedDEK, dek)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(data.EncryptedValue)
	if err != nil {
		return "", fmt.Errorf("%w: invalid ciphertext format", ErrDecryptionFailed)
	}
	plaintext, err := open(dek, ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return string(plaintext), nil
}

// Seal encrypts a secret into a single opaque string suitable for a text
// column.
func (m *Manager) Seal(ctx context.Context, secret string) (string, error) {
	data, err := m.EncryptField(ctx, secret)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Open reverses Seal.
func (m *Manager) Open(ctx context.Context, sealed string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("%w: invalid envelope encoding", ErrDecryptionFailed)
	}
	var data EncryptedData
	if err := json.Unmarshal(raw, &data); err != nil {
		return "", fmt.Errorf("%w: invalid envelope", ErrDecryptionFailed)
	}
	return m.DecryptField(ctx, &data)
}

// ClearCache drops cached plaintext data keys.
func (m *Manager) ClearCache() {
	m.keyCache.Range(func(key, _ interface{}) bool {
		m.keyCache.Delete(key)
		return true
	})
	util.Debug("Encryption key cache cleared", zap.String("key_id", m.keyID))
}

func seal(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func open(key, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, errors.New("ciphertext too short")
	}
	nonce, body := ciphertext[:nonceSize], ciphertext[nonceSize:]
	return gcm.Open(nil, nonce, body, nil)
}
