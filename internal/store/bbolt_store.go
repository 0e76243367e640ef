package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"licensed/internal/license"

	"go.etcd.io/bbolt"
)

const (
	bucketLicenses = "licenses"
	bucketOrder    = "order"
)

// BBoltStore persists records as JSON in a bbolt file. bbolt admits one
// writer at a time, so transforms run outside write transactions under a
// per-key lock and only the commit itself is serialized.
type BBoltStore struct {
	db    *bbolt.DB
	locks keyLocks
}

func OpenBBolt(path string) (*BBoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}
	st := &BBoltStore{db: db}
	if err := st.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketLicenses)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketOrder)); err != nil {
			return err
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *BBoltStore) Close() error { return s.db.Close() }

func (s *BBoltStore) Get(key string) (license.License, error) {
	var lic license.License
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		lic, err = getLicense(tx, license.NormalizeKey(key))
		return err
	})
	if err != nil {
		return license.License{}, err
	}
	return lic, nil
}

func (s *BBoltStore) List() ([]license.License, error) {
	out := make([]license.License, 0)
	if err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketOrder)).ForEach(func(_, k []byte) error {
			lic, err := getLicense(tx, string(k))
			if err != nil {
				return err
			}
			out = append(out, lic)
			return nil
		})
	}); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BBoltStore) WithLicense(key string, fn func(*license.License) error) (license.License, error) {
	key = license.NormalizeKey(key)
	unlock := s.locks.lock(key)
	defer unlock()

	current, err := s.Get(key)
	if err != nil {
		return license.License{}, err
	}
	if err := fn(&current); err != nil {
		return license.License{}, err
	}
	current.Key = key
	if err := s.db.Update(func(tx *bbolt.Tx) error {
		return putLicense(tx, current)
	}); err != nil {
		return license.License{}, fmt.Errorf("persist license %s: %w", key, err)
	}
	return current.Clone(), nil
}

func (s *BBoltStore) Insert(lic license.License) error {
	lic.Key = license.NormalizeKey(lic.Key)
	lic.EverActivated = lic.EverActivated || len(lic.Activations) > 0
	if err := lic.Validate(); err != nil {
		return err
	}
	unlock := s.locks.lock(lic.Key)
	defer unlock()

	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(bucketLicenses)).Get([]byte(lic.Key)) != nil {
			return ErrExists
		}
		order := tx.Bucket([]byte(bucketOrder))
		seq, err := order.NextSequence()
		if err != nil {
			return err
		}
		var k [8]byte
		binary.BigEndian.PutUint64(k[:], seq)
		if err := order.Put(k[:], []byte(lic.Key)); err != nil {
			return err
		}
		return putLicense(tx, lic)
	})
}

func getLicense(tx *bbolt.Tx, key string) (license.License, error) {
	v := tx.Bucket([]byte(bucketLicenses)).Get([]byte(key))
	if v == nil {
		return license.License{}, ErrNotFound
	}
	var lic license.License
	if err := json.Unmarshal(v, &lic); err != nil {
		return license.License{}, fmt.Errorf("decode license %s: %w", key, err)
	}
	if lic.Activations == nil {
		lic.Activations = []license.Activation{}
	}
	return lic, nil
}

func putLicense(tx *bbolt.Tx, lic license.License) error {
	buf, err := json.Marshal(lic)
	if err != nil {
		return err
	}
	return tx.Bucket([]byte(bucketLicenses)).Put([]byte(lic.Key), buf)
}
