package crypto

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

// Scrypt parameters for keystore encryption. Tests lower these so round
// trips stay fast.
var scryptN, scryptP = keystore.StandardScryptN, keystore.StandardScryptP

// SaveToKeystore encrypts the node key under the passphrase and stores it as
// a v3 keystore document at path. The document is written to a temporary
// sibling and renamed into place, so an interrupted write never leaves a
// truncated keystore behind.
func SaveToKeystore(path string, key *PrivateKey, passphrase string) error {
	if key == nil {
		return errors.New("crypto: nil private key")
	}
	if path == "" {
		return errors.New("crypto: empty keystore path")
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return err
	}
	sealed := &keystore.Key{
		Id:         id,
		Address:    ethcrypto.PubkeyToAddress(key.PublicKey),
		PrivateKey: key.PrivateKey,
	}
	encrypted, err := keystore.EncryptKey(sealed, passphrase, scryptN, scryptP)
	if err != nil {
		return fmt.Errorf("crypto: encrypt node key: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".keystore-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(encrypted); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// LoadFromKeystore decrypts the v3 keystore document at path and verifies
// that the embedded address matches the decrypted key before handing it back.
func LoadFromKeystore(path, passphrase string) (*PrivateKey, error) {
	if path == "" {
		return nil, errors.New("crypto: empty keystore path")
	}
	encrypted, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	decrypted, err := keystore.DecryptKey(encrypted, passphrase)
	if err != nil {
		return nil, fmt.Errorf("crypto: decrypt keystore: %w", err)
	}
	if got := ethcrypto.PubkeyToAddress(decrypted.PrivateKey.PublicKey); got != decrypted.Address {
		return nil, fmt.Errorf("crypto: keystore address mismatch: %s", got.Hex())
	}
	return &PrivateKey{PrivateKey: decrypted.PrivateKey}, nil
}
