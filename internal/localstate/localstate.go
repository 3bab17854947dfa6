// Package localstate is the client-local durable key-value store backing the
// only "identity" in the system: a host flag per room, and a cached
// granted-access flag per room. Neither is server-visible or verified; they
// gate the access control handshake's initial state and nothing more.
package localstate

import (
	"fmt"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketHost    = []byte("host")
	bucketGranted = []byte("granted")
)

type Flags struct {
	db *bolt.DB
}

func Open(path string) (*Flags, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open local state: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketHost, bucketGranted} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init local state: %w", err)
	}
	return &Flags{db: db}, nil
}

func (f *Flags) Close() error {
	return f.db.Close()
}

// SetHost marks this client as the creator of the room.
func (f *Flags) SetHost(roomID string) error {
	return f.set(bucketHost, roomID)
}

func (f *Flags) IsHost(roomID string) bool {
	return f.get(bucketHost, roomID)
}

// SetGranted caches an access grant so future visits skip the handshake.
func (f *Flags) SetGranted(roomID string) error {
	return f.set(bucketGranted, roomID)
}

func (f *Flags) IsGranted(roomID string) bool {
	return f.get(bucketGranted, roomID)
}

func (f *Flags) set(bucket []byte, roomID string) error {
	return f.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(roomID), []byte{1})
	})
}

func (f *Flags) get(bucket []byte, roomID string) bool {
	var ok bool
	f.db.View(func(tx *bolt.Tx) error {
		ok = tx.Bucket(bucket).Get([]byte(roomID)) != nil
		return nil
	})
	return ok
}
