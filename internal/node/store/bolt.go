// Package store persists storage-node state in a single bbolt file. Each
// logical table lives in its own bucket and can be loaded on its own.
package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/proto"
)

var (
	bucketPages     = []byte("pages")
	bucketAdjacency = []byte("adjacency")
	bucketInverted  = []byte("inverted")
	bucketSenders   = []byte("senders")
	bucketFrontier  = []byte("frontier")
	bucketMeta      = []byte("meta")
	keyFilter       = []byte("filter")
	keySavedAt      = []byte("saved_at")
)

var allBuckets = [][]byte{bucketPages, bucketAdjacency, bucketInverted, bucketSenders, bucketFrontier, bucketMeta}

// BoltStore is the node's local snapshot file.
type BoltStore struct {
	db     *bbolt.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the store at path.
func Open(path string) (*BoltStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt store %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("creating bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{
		db:     db,
		logger: slog.Default().With("component", "node-store", "path", path),
	}, nil
}

// Save replaces every table with the contents of snap in one transaction.
// Nil parts are written as empty tables.
func (s *BoltStore) Save(snap proto.Snapshot) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range allBuckets {
			if err := tx.DeleteBucket(name); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
				return fmt.Errorf("clearing bucket %s: %w", name, err)
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return fmt.Errorf("recreating bucket %s: %w", name, err)
			}
		}
		for url, page := range snap.Pages {
			if err := putJSON(tx.Bucket(bucketPages), url, page); err != nil {
				return err
			}
		}
		for target, sources := range snap.Adjacency {
			if err := putJSON(tx.Bucket(bucketAdjacency), target, sources); err != nil {
				return err
			}
		}
		for term, urls := range snap.Inverted {
			if err := putJSON(tx.Bucket(bucketInverted), term, urls); err != nil {
				return err
			}
		}
		for id, st := range snap.Senders {
			if err := putJSON(tx.Bucket(bucketSenders), id, st); err != nil {
				return err
			}
		}
		frontier := tx.Bucket(bucketFrontier)
		for i, url := range snap.Frontier {
			var key [8]byte
			binary.BigEndian.PutUint64(key[:], uint64(i))
			if err := frontier.Put(key[:], []byte(url)); err != nil {
				return fmt.Errorf("writing frontier: %w", err)
			}
		}
		meta := tx.Bucket(bucketMeta)
		if len(snap.Filter) > 0 {
			if err := meta.Put(keyFilter, snap.Filter); err != nil {
				return fmt.Errorf("writing filter: %w", err)
			}
		}
		return meta.Put(keySavedAt, []byte(time.Now().UTC().Format(time.RFC3339Nano)))
	})
}

// Load reads every table in one transaction.
func (s *BoltStore) Load() (proto.Snapshot, error) {
	var snap proto.Snapshot
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		if snap.Pages, err = readPages(tx); err != nil {
			return err
		}
		if snap.Adjacency, err = readLists(tx, bucketAdjacency); err != nil {
			return err
		}
		if snap.Inverted, err = readLists(tx, bucketInverted); err != nil {
			return err
		}
		if snap.Senders, err = readSenders(tx); err != nil {
			return err
		}
		snap.Frontier = readFrontier(tx)
		snap.Filter = readFilter(tx)
		return nil
	})
	if err != nil {
		return proto.Snapshot{}, fmt.Errorf("loading snapshot: %w", err)
	}
	s.logger.Info("local snapshot loaded", "pages", len(snap.Pages), "terms", len(snap.Inverted), "senders", len(snap.Senders))
	return snap, nil
}

// Pages loads only the page table.
func (s *BoltStore) Pages() (map[string]proto.PageRecord, error) {
	var out map[string]proto.PageRecord
	err := s.db.View(func(tx *bbolt.Tx) (err error) {
		out, err = readPages(tx)
		return err
	})
	return out, err
}

// Adjacency loads only the inlink table.
func (s *BoltStore) Adjacency() (map[string][]string, error) {
	return s.lists(bucketAdjacency)
}

// Inverted loads only the inverted index.
func (s *BoltStore) Inverted() (map[string][]string, error) {
	return s.lists(bucketInverted)
}

// Senders loads only the per-sender sequence tables.
func (s *BoltStore) Senders() (map[string]proto.SenderState, error) {
	var out map[string]proto.SenderState
	err := s.db.View(func(tx *bbolt.Tx) (err error) {
		out, err = readSenders(tx)
		return err
	})
	return out, err
}

// Filter loads only the serialized membership filter; nil if none was saved.
func (s *BoltStore) Filter() ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		out = readFilter(tx)
		return nil
	})
	return out, err
}

func (s *BoltStore) lists(bucket []byte) (map[string][]string, error) {
	var out map[string][]string
	err := s.db.View(func(tx *bbolt.Tx) (err error) {
		out, err = readLists(tx, bucket)
		return err
	})
	return out, err
}

// Close closes the underlying file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func putJSON(b *bbolt.Bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	return b.Put([]byte(key), data)
}

func readPages(tx *bbolt.Tx) (map[string]proto.PageRecord, error) {
	out := make(map[string]proto.PageRecord)
	err := tx.Bucket(bucketPages).ForEach(func(k, v []byte) error {
		var page proto.PageRecord
		if err := json.Unmarshal(v, &page); err != nil {
			return fmt.Errorf("decoding page %s: %w", k, err)
		}
		out[string(k)] = page
		return nil
	})
	return out, err
}

func readLists(tx *bbolt.Tx, bucket []byte) (map[string][]string, error) {
	out := make(map[string][]string)
	err := tx.Bucket(bucket).ForEach(func(k, v []byte) error {
		var list []string
		if err := json.Unmarshal(v, &list); err != nil {
			return fmt.Errorf("decoding %s entry %s: %w", bucket, k, err)
		}
		out[string(k)] = list
		return nil
	})
	return out, err
}

func readSenders(tx *bbolt.Tx) (map[string]proto.SenderState, error) {
	out := make(map[string]proto.SenderState)
	err := tx.Bucket(bucketSenders).ForEach(func(k, v []byte) error {
		var st proto.SenderState
		if err := json.Unmarshal(v, &st); err != nil {
			return fmt.Errorf("decoding sender %s: %w", k, err)
		}
		out[string(k)] = st
		return nil
	})
	return out, err
}

func readFrontier(tx *bbolt.Tx) []string {
	var out []string
	c := tx.Bucket(bucketFrontier).Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		out = append(out, string(v))
	}
	return out
}

func readFilter(tx *bbolt.Tx) []byte {
	blob := tx.Bucket(bucketMeta).Get(keyFilter)
	if blob == nil {
		return nil
	}
	// bbolt memory is only valid inside the transaction.
	return append([]byte(nil), blob...)
}
