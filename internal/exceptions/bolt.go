package exceptions

import (
	"encoding/json"
	"time"

	"go.etcd.io/bbolt"

	"mp4bot"
)

var Buckets = struct {
	Metadata   []byte
	Exceptions []byte
}{
	Metadata:   []byte("__metadata__"),
	Exceptions: []byte("exceptions"),
}

var MetadataKeys = struct {
	Version []byte
}{
	Version: []byte("version"),
}

const currentVersion = 1

type boltStore struct {
	db  *bbolt.DB
	now func() time.Time
}

// Open opens (creating if necessary) a bolt-backed exception store.
func Open(path string) (Store, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) (err error) {
		var metadata *bbolt.Bucket
		if metadata, err = tx.CreateBucketIfNotExists(Buckets.Metadata); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(Buckets.Exceptions); err != nil {
			return err
		}
		versionBytes, err := json.Marshal(currentVersion)
		if err != nil {
			return err
		}
		return metadata.Put(MetadataKeys.Version, versionBytes)
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &boltStore{db: db, now: time.Now}, nil
}

func (s *boltStore) IsException(kind mp4bot.LocationType, location string) (found bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(Buckets.Exceptions).Get(entryKey(kind, location))
		if data == nil {
			return nil
		}
		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			return err
		}
		found = !entry.expired(s.now())
		return nil
	})
	return found, err
}

func (s *boltStore) Add(entry Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	data, err := json.Marshal(&entry)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(Buckets.Exceptions).Put(entryKey(entry.Type, entry.Location), data)
	})
}

func (s *boltStore) Remove(kind mp4bot.LocationType, location string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(Buckets.Exceptions).Delete(entryKey(kind, location))
	})
}

func (s *boltStore) List() (entries []Entry, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(Buckets.Exceptions).ForEach(func(k, v []byte) error {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			if !entry.expired(s.now()) {
				entries = append(entries, entry)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *boltStore) Close() error {
	return s.db.Close()
}
