// Package book persists the addresses of known peers so a restarted node
// can reconnect to the network.
package book

import (
	"fmt"
	"sort"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/mathcoin/node/foundation/blockchain/peer"
	bolt "go.etcd.io/bbolt"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MaxAddresses is the most addresses kept in the book.
const MaxAddresses = 20

var bucketName = []byte("peers")

// Book is an address book stored in a bbolt database.
type Book struct {
	db *bolt.DB
}

// Open opens or creates the address book at the specified path.
func Open(path string) (*Book, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening address book: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	return &Book{db: db}, nil
}

// Close closes the underlying database.
func (b *Book) Close() error {
	return b.db.Close()
}

// Load returns the stored addresses, best score first. A new book returns
// no addresses and no error.
func (b *Book) Load() ([]peer.SharedAddress, error) {
	var addrs []peer.SharedAddress

	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).ForEach(func(k, v []byte) error {
			var addr peer.SharedAddress
			if err := json.Unmarshal(v, &addr); err != nil {
				return fmt.Errorf("decoding %s: %w", k, err)
			}
			addrs = append(addrs, addr)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sortByScore(addrs)

	return addrs, nil
}

// Save replaces the stored addresses. Only the best MaxAddresses by score
// are kept.
func (b *Book) Save(addrs []peer.SharedAddress) error {
	addrs = append([]peer.SharedAddress(nil), addrs...)
	sortByScore(addrs)
	if len(addrs) > MaxAddresses {
		addrs = addrs[:MaxAddresses]
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketName); err != nil {
			return err
		}

		bucket, err := tx.CreateBucket(bucketName)
		if err != nil {
			return err
		}

		for _, addr := range addrs {
			data, err := json.Marshal(addr)
			if err != nil {
				return err
			}
			if err := bucket.Put([]byte(addr.ID()), data); err != nil {
				return err
			}
		}

		return nil
	})
}

func sortByScore(addrs []peer.SharedAddress) {
	sort.SliceStable(addrs, func(i, j int) bool {
		if addrs[i].Score != addrs[j].Score {
			return addrs[i].Score > addrs[j].Score
		}
		return addrs[i].ID() < addrs[j].ID()
	})
}
