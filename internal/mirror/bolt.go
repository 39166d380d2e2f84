// Package mirror is the realtime projection of backend entities: a hierarchical,
// path-scoped key/value tree with append-only logs and live watches.
//
// Every path element is a nested bbolt bucket. A node's document lives under
// docKey inside its own bucket, so a node can hold a document and children.
// Log entries pushed under a node are keyed by the bucket sequence in
// big-endian order, so cursor order equals append order.
//
// Sealed paths are recorded in a reserved top-level bucket. Writes at or
// below a sealed path fail with ErrSealed.
package mirror

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"GOSAFE_BACK-END/internal/logging"
)

var (
	docKey    = []byte{0}
	sealedKey = []byte("\x00sealed")
)

// Entry is one element of an append-only log.
type Entry struct {
	Seq   uint64
	Value []byte
}

// Decode unmarshals the entry value into v.
func (e Entry) Decode(v any) error {
	return Unmarshal(e.Value, v)
}

// Bolt is the mirror backed by a bbolt file.
type Bolt struct {
	db  *bolt.DB
	hub *hub
	log zerolog.Logger

	// Serializes commit+publish so watchers observe commit order.
	pubMu sync.Mutex
}

// Options configures OpenBolt.
type Options struct {
	// WatchBuffer is the per-watch event buffer. Defaults to 64.
	WatchBuffer int
	// Timeout bounds waiting for the file lock. Defaults to 1s.
	Timeout time.Duration
}

// OpenBolt opens or creates the mirror file at path.
func OpenBolt(path string, opts Options) (*Bolt, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: opts.Timeout})
	if err != nil {
		return nil, fmt.Errorf("mirror: open %s: %w", path, err)
	}
	return &Bolt{
		db:  db,
		hub: newHub(opts.WatchBuffer),
		log: logging.For("mirror"),
	}, nil
}

// Close closes every watch and the underlying file.
func (b *Bolt) Close() error {
	b.hub.close()
	return b.db.Close()
}

func lookupBucket(tx *bolt.Tx, path Path) *bolt.Bucket {
	return lookupChildBucket(tx, nil, path)
}

func lookupChildBucket(tx *bolt.Tx, parent *bolt.Bucket, path Path) *bolt.Bucket {
	if len(path) == 0 {
		return parent
	}
	if parent != nil {
		parent = parent.Bucket([]byte(path[0]))
	} else {
		parent = tx.Bucket([]byte(path[0]))
	}
	if parent == nil {
		return nil
	}
	return lookupChildBucket(tx, parent, path[1:])
}

func createBucket(tx *bolt.Tx, path Path) (*bolt.Bucket, error) {
	b, err := tx.CreateBucketIfNotExists([]byte(path[0]))
	if err != nil {
		return nil, err
	}
	for _, elem := range path[1:] {
		if b, err = b.CreateBucketIfNotExists([]byte(elem)); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// checkSealed fails if p or one of its ancestors has been sealed.
func checkSealed(tx *bolt.Tx, p Path) error {
	sealed := tx.Bucket(sealedKey)
	if sealed == nil {
		return nil
	}
	for i := 1; i <= len(p); i++ {
		if sealed.Get([]byte(p[:i].String())) != nil {
			return fmt.Errorf("%w: %s", ErrSealed, p[:i])
		}
	}
	return nil
}

// deleteNode removes the bucket at p and reports whether it existed.
func deleteNode(tx *bolt.Tx, p Path) (bool, error) {
	name := []byte(p[len(p)-1])
	if len(p) == 1 {
		if tx.Bucket(name) == nil {
			return false, nil
		}
		return true, tx.DeleteBucket(name)
	}
	parent := lookupBucket(tx, p[:len(p)-1])
	if parent == nil || parent.Bucket(name) == nil {
		return false, nil
	}
	return true, parent.DeleteBucket(name)
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

func (b *Bolt) update(ctx context.Context, fn func(tx *bolt.Tx) error, events func() []Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	if err := b.db.Update(fn); err != nil {
		return err
	}
	for _, e := range events() {
		b.hub.publish(e)
	}
	return nil
}

// Put replaces the document stored at p, creating intermediate nodes.
func (b *Bolt) Put(ctx context.Context, p Path, v any) error {
	if err := p.validate(); err != nil {
		return err
	}
	data, err := Marshal(v)
	if err != nil {
		return fmt.Errorf("mirror: encode %s: %w", p, err)
	}
	return b.update(ctx, func(tx *bolt.Tx) error {
		if err := checkSealed(tx, p); err != nil {
			return err
		}
		bkt, err := createBucket(tx, p)
		if err != nil {
			return err
		}
		return bkt.Put(docKey, data)
	}, func() []Event {
		return []Event{{Op: OpPut, Path: p, Value: data}}
	})
}

// Get decodes the document at p into v.
func (b *Bolt) Get(ctx context.Context, p Path, v any) error {
	if err := p.validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	var data []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := lookupBucket(tx, p)
		if bkt == nil {
			return ErrNotFound
		}
		raw := bkt.Get(docKey)
		if raw == nil {
			return ErrNotFound
		}
		data = append([]byte(nil), raw...)
		return nil
	})
	if err != nil {
		return err
	}
	return Unmarshal(data, v)
}

// Exists reports whether a node exists at p.
func (b *Bolt) Exists(ctx context.Context, p Path) (bool, error) {
	if err := p.validate(); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var ok bool
	err := b.db.View(func(tx *bolt.Tx) error {
		ok = lookupBucket(tx, p) != nil
		return nil
	})
	return ok, err
}

// Push appends v to the log at p and returns its sequence number.
func (b *Bolt) Push(ctx context.Context, p Path, v any) (uint64, error) {
	if err := p.validate(); err != nil {
		return 0, err
	}
	data, err := Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("mirror: encode %s: %w", p, err)
	}
	var seq uint64
	err = b.update(ctx, func(tx *bolt.Tx) error {
		if err := checkSealed(tx, p); err != nil {
			return err
		}
		bkt, err := createBucket(tx, p)
		if err != nil {
			return err
		}
		if seq, err = bkt.NextSequence(); err != nil {
			return err
		}
		return bkt.Put(seqKey(seq), data)
	}, func() []Event {
		return []Event{{Op: OpPush, Path: p, Seq: seq, Value: data}}
	})
	return seq, err
}

// Last returns up to n of the most recent log entries at p, oldest first.
// A missing log yields an empty slice.
func (b *Bolt) Last(ctx context.Context, p Path, n int) ([]Entry, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries := make([]Entry, 0)
	if n <= 0 {
		return entries, nil
	}
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := lookupBucket(tx, p)
		if bkt == nil {
			return nil
		}
		c := bkt.Cursor()
		for k, v := c.Last(); k != nil && len(entries) < n; k, v = c.Prev() {
			// skip the node document and child buckets
			if v == nil || len(k) != 8 {
				continue
			}
			entries = append(entries, Entry{
				Seq:   binary.BigEndian.Uint64(k),
				Value: append([]byte(nil), v...),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// Delete removes the node at p and its whole subtree. Deleting a missing node is not an error.
func (b *Bolt) Delete(ctx context.Context, p Path) error {
	if err := p.validate(); err != nil {
		return err
	}
	var existed bool
	return b.update(ctx, func(tx *bolt.Tx) (err error) {
		existed, err = deleteNode(tx, p)
		return err
	}, func() []Event {
		if !existed {
			return nil
		}
		return []Event{{Op: OpDelete, Path: p}}
	})
}

// Seal deletes the subtree at p and refuses every later write at or below p.
// Watchers always see a delete, even if nothing was stored at p. Sealing twice
// is not an error.
func (b *Bolt) Seal(ctx context.Context, p Path) error {
	if err := p.validate(); err != nil {
		return err
	}
	return b.update(ctx, func(tx *bolt.Tx) error {
		if _, err := deleteNode(tx, p); err != nil {
			return err
		}
		sealed, err := tx.CreateBucketIfNotExists(sealedKey)
		if err != nil {
			return err
		}
		return sealed.Put([]byte(p.String()), []byte{1})
	}, func() []Event {
		return []Event{{Op: OpDelete, Path: p}}
	})
}

// Sealed reports whether p or one of its ancestors has been sealed.
func (b *Bolt) Sealed(ctx context.Context, p Path) (bool, error) {
	if err := p.validate(); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var sealed bool
	err := b.db.View(func(tx *bolt.Tx) error {
		sealed = checkSealed(tx, p) != nil
		return nil
	})
	return sealed, err
}

// Watch subscribes to mutations at or below prefix.
func (b *Bolt) Watch(prefix Path) (*Watch, error) {
	if err := prefix.validate(); err != nil {
		return nil, err
	}
	return b.hub.add(prefix)
}
