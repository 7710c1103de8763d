// Package storage provides durable storage for face embeddings and sample images.
// Embeddings live in a single CBOR file, optionally sealed with NaCl secretbox,
// and are replaced atomically on every save.
package storage

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/MrCodeEU/faceattend/pkg/logging"
	"github.com/MrCodeEU/faceattend/pkg/recognition"
	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// NonceSize is the size of the nonce used for encryption
	NonceSize = 24
	// KeySize is the size of the encryption key
	KeySize = 32

	formatVersion = 1
)

// ErrEncryption is returned when encryption/decryption fails.
var ErrEncryption = errors.New("encryption error")

// ErrCorrupt is returned when the embedding file cannot be decoded or its
// sequences disagree in length.
var ErrCorrupt = errors.New("embedding file corrupt")

// ErrLengthMismatch is returned when saving descriptors and labels of different lengths.
var ErrLengthMismatch = errors.New("descriptors and labels differ in length")

// embeddingSet is the on-disk layout: two parallel ordered sequences.
type embeddingSet struct {
	Version     int                      `cbor:"1,keyasint"`
	Descriptors []recognition.Descriptor `cbor:"2,keyasint"`
	Labels      []string                 `cbor:"3,keyasint"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("storage: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("storage: CBOR decoder initialization failed: " + err.Error())
	}
}

// EmbeddingFile stores all known embeddings in one file.
type EmbeddingFile struct {
	path              string
	encryptionEnabled bool
	encryptionKey     [KeySize]byte

	mu sync.Mutex
}

// NewEmbeddingFile creates an EmbeddingFile at path. With encryption enabled
// the key is derived from machine identity, tying the file to this host.
func NewEmbeddingFile(path string, encryptionEnabled bool) (*EmbeddingFile, error) {
	ef := &EmbeddingFile{
		path:              path,
		encryptionEnabled: encryptionEnabled,
	}

	if encryptionEnabled {
		key, err := deriveKey()
		if err != nil {
			return nil, fmt.Errorf("failed to derive encryption key: %w", err)
		}
		ef.encryptionKey = key
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create embeddings directory: %w", err)
	}

	return ef, nil
}

// NewEmbeddingFileWithKey creates an encrypted EmbeddingFile with an explicit key.
func NewEmbeddingFileWithKey(path string, key [KeySize]byte) (*EmbeddingFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create embeddings directory: %w", err)
	}
	return &EmbeddingFile{path: path, encryptionEnabled: true, encryptionKey: key}, nil
}

// Path returns the file location.
func (ef *EmbeddingFile) Path() string {
	return ef.path
}

// deriveKey derives an encryption key from machine-specific information.
func deriveKey() ([KeySize]byte, error) {
	var key [KeySize]byte
	var identity strings.Builder

	if machineID, err := os.ReadFile("/etc/machine-id"); err == nil {
		identity.Write(machineID)
	}
	if hostname, err := os.Hostname(); err == nil {
		identity.WriteString(hostname)
	}
	identity.WriteString(fmt.Sprintf("%d", os.Getuid()))
	identity.WriteString("faceattend-embeddings-v1")

	hash := sha256.Sum256([]byte(identity.String()))
	copy(key[:], hash[:])
	return key, nil
}

// Load returns all descriptors and their labels in storage order.
// A missing file is an empty store.
func (ef *EmbeddingFile) Load() ([]recognition.Descriptor, []string, error) {
	ef.mu.Lock()
	defer ef.mu.Unlock()

	data, err := os.ReadFile(ef.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("failed to read embeddings: %w", err)
	}

	if ef.encryptionEnabled {
		data, err = ef.decrypt(data)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to decrypt embeddings: %w", err)
		}
	}

	var set embeddingSet
	if err := decMode.Unmarshal(data, &set); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if len(set.Descriptors) != len(set.Labels) {
		return nil, nil, fmt.Errorf("%w: %d descriptors, %d labels", ErrCorrupt, len(set.Descriptors), len(set.Labels))
	}

	logging.Debugf("Loaded %d embeddings from %s", len(set.Labels), ef.path)
	return set.Descriptors, set.Labels, nil
}

// Save replaces the whole file with the given sequences.
func (ef *EmbeddingFile) Save(descriptors []recognition.Descriptor, labels []string) error {
	if len(descriptors) != len(labels) {
		return ErrLengthMismatch
	}

	ef.mu.Lock()
	defer ef.mu.Unlock()

	data, err := encMode.Marshal(embeddingSet{
		Version:     formatVersion,
		Descriptors: descriptors,
		Labels:      labels,
	})
	if err != nil {
		return fmt.Errorf("failed to encode embeddings: %w", err)
	}

	if ef.encryptionEnabled {
		data, err = ef.encrypt(data)
		if err != nil {
			return fmt.Errorf("failed to encrypt embeddings: %w", err)
		}
	}

	if err := writeAtomic(ef.path, data); err != nil {
		return err
	}

	logging.Debugf("Saved %d embeddings to %s", len(labels), ef.path)
	return nil
}

// Clear empties the store.
func (ef *EmbeddingFile) Clear() error {
	return ef.Save(nil, nil)
}

// writeAtomic writes data to a temporary file in the target directory,
// syncs it and renames it over path.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary embeddings file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temporary embeddings file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temporary embeddings file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temporary embeddings file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0600); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to set embeddings file mode: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename embeddings file into place: %w", err)
	}

	if dir, err := os.Open(filepath.Dir(path)); err == nil {
		dir.Sync()
		dir.Close()
	}
	return nil
}

// encrypt encrypts data using NaCl secretbox.
func (ef *EmbeddingFile) encrypt(plaintext []byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &ef.encryptionKey), nil
}

// decrypt decrypts data using NaCl secretbox.
func (ef *EmbeddingFile) decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < NonceSize {
		return nil, ErrEncryption
	}

	var nonce [NonceSize]byte
	copy(nonce[:], ciphertext[:NonceSize])

	plaintext, ok := secretbox.Open(nil, ciphertext[NonceSize:], &nonce, &ef.encryptionKey)
	if !ok {
		return nil, ErrEncryption
	}
	return plaintext, nil
}
