package store

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/dupehound/dupehound/internal/fingerprint"
	"github.com/dupehound/dupehound/internal/types"
)

const (
	recordsBucket = "records"
	dirBucket     = "dirindex"
	pathBucket    = "pathindex"
	indexesBucket = "indexes"
)

// BoltStore persists hash records in a BoltDB file. The primary key is the
// record UUID ("{segment};{path}"); two secondary buckets index records by
// directory and by path for prefix scans.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens (or creates) the store at path. BoltDB's file lock rejects
// a second instance against the same cache file.
func OpenBolt(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open cache (locked by another instance?): %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{recordsBucket, dirBucket, pathBucket, indexesBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// EnsureUniqueIndex records the indexed field name. Uniqueness itself is a
// property of the bucket keying: records are keyed by UUID, so one row per
// (segment length, path) pair is structural.
func (s *BoltStore) EnsureUniqueIndex(field string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(indexesBucket)).Put([]byte(field), []byte("unique"))
	})
}

// indexKey builds a secondary-index key: prefix + NUL + uuid. NUL cannot
// occur in paths, so prefix scans never bleed into longer sibling names.
func indexKey(prefix, uuid string) []byte {
	k := make([]byte, 0, len(prefix)+1+len(uuid))
	k = append(k, prefix...)
	k = append(k, 0)
	k = append(k, uuid...)
	return k
}

func encodeRecord(rec *types.HashRecord) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return nil, fmt.Errorf("encode record %s: %w", rec.UUID(), err)
	}
	return buf.Bytes(), nil
}

func decodeRecord(data []byte) (*types.HashRecord, error) {
	rec := &types.HashRecord{}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

// Upsert writes the record and its secondary index entries.
func (s *BoltStore) Upsert(rec *types.HashRecord) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	uuid := rec.UUID()

	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket([]byte(recordsBucket)).Put([]byte(uuid), data); err != nil {
			return err
		}
		if err := tx.Bucket([]byte(dirBucket)).Put(indexKey(rec.DirectoryPath, uuid), []byte(uuid)); err != nil {
			return err
		}
		return tx.Bucket([]byte(pathBucket)).Put(indexKey(rec.Path, uuid), []byte(uuid))
	})
}

// Get returns the record with the given UUID, or nil when absent.
func (s *BoltStore) Get(uuid string) (*types.HashRecord, error) {
	var rec *types.HashRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(recordsBucket)).Get([]byte(uuid))
		if data == nil {
			return nil
		}
		var err error
		rec, err = decodeRecord(data)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", uuid, err)
	}
	return rec, nil
}

// segmentSatisfies applies the lookup constraint: a stored row answers a
// query either with an exact segment match or because its stored sampling
// already covered the whole content.
func segmentSatisfies(stored *types.HashRecord, segmentLength int64) bool {
	if stored.SegmentLength == segmentLength {
		return true
	}
	if segmentLength == 0 {
		return stored.DataLength <= 2*stored.SegmentLength
	}
	return stored.DataLength <= 2*segmentLength
}

// QueryOne scans the path index for rows at path, preferring an exact
// segment-length match over a whole-coverage match.
func (s *BoltStore) QueryOne(path string, segmentLength int64, since time.Time) (*types.HashRecord, error) {
	var exact, covering *types.HashRecord

	err := s.db.View(func(tx *bolt.Tx) error {
		records := tx.Bucket([]byte(recordsBucket))
		c := tx.Bucket([]byte(pathBucket)).Cursor()
		prefix := indexKey(path, "")

		for k, uuid := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, uuid = c.Next() {
			data := records.Get(uuid)
			if data == nil {
				continue
			}
			rec, err := decodeRecord(data)
			if err != nil {
				return err
			}
			if rec.LastWriteUTC.Before(since) || !segmentSatisfies(rec, segmentLength) {
				continue
			}
			if rec.SegmentLength == segmentLength {
				exact = rec
				return nil
			}
			if covering == nil {
				covering = rec
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", path, err)
	}
	if exact != nil {
		return exact, nil
	}
	return covering, nil
}

// QueryDirPrefix returns all records in dir and its descendants.
func (s *BoltStore) QueryDirPrefix(dir string) ([]*types.HashRecord, error) {
	var result []*types.HashRecord

	err := s.db.View(func(tx *bolt.Tx) error {
		records := tx.Bucket([]byte(recordsBucket))
		c := tx.Bucket([]byte(dirBucket)).Cursor()

		// Descendant directory paths share dir as a string prefix, so one
		// cursor range covers the whole subtree; exact containment is
		// re-checked per key to drop siblings like dir+"x".
		for k, uuid := c.Seek([]byte(dir)); k != nil && bytes.HasPrefix(k, []byte(dir)); k, uuid = c.Next() {
			dirPath, _, ok := bytes.Cut(k, []byte{0})
			if !ok || !UnderDir(string(dirPath), dir) {
				continue
			}
			data := records.Get(uuid)
			if data == nil {
				continue
			}
			rec, err := decodeRecord(data)
			if err != nil {
				return err
			}
			result = append(result, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query dir %s: %w", dir, err)
	}
	return result, nil
}

// GroupByFingerprint groups records at segmentLength by their fingerprint.
// Whole-hash rows are included when the content is small enough that hashing
// it at segmentLength would itself have produced a whole hash (the sampling
// short-circuit), so small files participate in candidate grouping.
func (s *BoltStore) GroupByFingerprint(segmentLength int64, prefix string) ([]Group, error) {
	byHash := make(map[fingerprint.Fingerprint][]*types.HashRecord)
	var order []fingerprint.Fingerprint

	collect := func(rec *types.HashRecord) {
		if prefix != "" && !UnderDir(rec.DirectoryPath, prefix) && rec.Path != prefix {
			return
		}
		if _, seen := byHash[rec.Hash]; !seen {
			order = append(order, rec.Hash)
		}
		byHash[rec.Hash] = append(byHash[rec.Hash], rec)
	}

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(recordsBucket)).Cursor()

		scan := func(keyPrefix string, accept func(*types.HashRecord) bool) error {
			p := []byte(keyPrefix)
			for k, data := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, data = c.Next() {
				rec, err := decodeRecord(data)
				if err != nil {
					return err
				}
				if accept(rec) {
					collect(rec)
				}
			}
			return nil
		}

		segPrefix := strconv.FormatInt(segmentLength, 10) + ";"
		if err := scan(segPrefix, func(*types.HashRecord) bool { return true }); err != nil {
			return err
		}
		if segmentLength > 0 {
			return scan("0;", func(rec *types.HashRecord) bool {
				return rec.DataLength <= 3*segmentLength
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("group by fingerprint: %w", err)
	}

	groups := make([]Group, 0, len(order))
	for _, h := range order {
		groups = append(groups, Group{Hash: h, Records: byHash[h]})
	}
	return groups, nil
}
