package client

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	storeDirPerm     = fs.FileMode(0o700)
	storeFilePerm    = fs.FileMode(0o600)
	storeOpenTimeout = 5 * time.Second
)

var (
	sessionBucket = []byte("session")
	tokensKey     = []byte("tokens")
)

// BoltTokenStore keeps the session in a bbolt file so it survives restarts.
type BoltTokenStore struct {
	db *bolt.DB
}

func OpenBoltTokenStore(path string) (*BoltTokenStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), storeDirPerm); err != nil {
		return nil, fmt.Errorf("creating token store directory: %w", err)
	}

	db, err := bolt.Open(path, storeFilePerm, &bolt.Options{Timeout: storeOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening token store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing token store: %w", err)
	}

	return &BoltTokenStore{db: db}, nil
}

func (s *BoltTokenStore) Load() (Tokens, error) {
	var t Tokens
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(sessionBucket).Get(tokensKey)
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &t)
	})
	if err != nil {
		return Tokens{}, fmt.Errorf("loading tokens: %w", err)
	}
	return t, nil
}

func (s *BoltTokenStore) Save(t Tokens) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encoding tokens: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionBucket).Put(tokensKey, data)
	})
}

func (s *BoltTokenStore) Clear() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionBucket).Delete(tokensKey)
	})
}

func (s *BoltTokenStore) Close() error {
	return s.db.Close()
}
