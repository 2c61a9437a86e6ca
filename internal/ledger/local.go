package ledger

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/tidwall/wal"
	"golang.org/x/crypto/sha3"

	"github.com/adamscao/certguard/pkg/digest"
)

// genesisHash is the previous-entry hash of the first journal entry.
var genesisHash = strings.Repeat("0", 64)

// Entry is one anchored content hash in the local journal. Entries are chained:
// EntryHash covers the index, the content hash, the timestamp and PrevHash.
type Entry struct {
	Index     uint64 `json:"index"`
	Hash      string `json:"hash"`
	PrevHash  string `json:"prev_hash"`
	EntryHash string `json:"entry_hash"`
	Timestamp int64  `json:"timestamp"` // unix nanoseconds
}

// TxRef is the transaction reference handed out for the entry
func (e *Entry) TxRef() string {
	return "0x" + e.EntryHash
}

func computeEntryHash(index uint64, hash, prevHash string, timestamp int64) string {
	h := sha3.New256()
	h.Write([]byte(strconv.FormatUint(index, 10)))
	h.Write([]byte{'\n'})
	h.Write([]byte(hash))
	h.Write([]byte{'\n'})
	h.Write([]byte(prevHash))
	h.Write([]byte{'\n'})
	h.Write([]byte(strconv.FormatInt(timestamp, 10)))
	return hex.EncodeToString(h.Sum(nil))
}

// ChainError reports the first journal entry whose link is broken
type ChainError struct {
	Index  uint64
	Reason string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("ledger chain broken at entry %d: %s", e.Index, e.Reason)
}

// Local is a single-node ledger backed by a write-ahead journal on disk.
// The content hash index is rebuilt from the journal when it is opened, so
// only one process may hold the journal open: OpenLocal takes an exclusive
// lock on <path>.lock and fails with ErrLocked while another handle holds it.
type Local struct {
	mu      sync.Mutex
	log     *wal.Log
	lock    *flock.Flock
	path    string
	address string
	last    *Entry
	byHash  map[string]*Entry
	closed  bool
}

// OpenLocal opens (or creates) the journal at path
func OpenLocal(path, address string) (*Local, error) {
	if path == "" {
		return nil, fmt.Errorf("ledger path is required")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock ledger journal: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}

	log, err := wal.Open(path, nil)
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("failed to open ledger journal: %w", err)
	}

	if address == "" {
		address = "local:" + path
	}

	l := &Local{
		log:     log,
		lock:    lock,
		path:    path,
		address: address,
		byHash:  make(map[string]*Entry),
	}

	if err := l.load(); err != nil {
		log.Close()
		lock.Unlock()
		return nil, err
	}

	return l, nil
}

func (l *Local) load() error {
	return l.forEach(func(e *Entry) error {
		if _, ok := l.byHash[e.Hash]; !ok {
			l.byHash[e.Hash] = e
		}
		l.last = e
		return nil
	})
}

func (l *Local) forEach(fn func(e *Entry) error) error {
	first, err := l.log.FirstIndex()
	if err != nil {
		return fmt.Errorf("failed to read first journal index: %w", err)
	}
	if first == 0 {
		return nil
	}

	last, err := l.log.LastIndex()
	if err != nil {
		return fmt.Errorf("failed to read last journal index: %w", err)
	}

	for i := first; i <= last; i++ {
		data, err := l.log.Read(i)
		if err != nil {
			return fmt.Errorf("failed to read journal entry %d: %w", i, err)
		}

		e := &Entry{}
		if err := json.Unmarshal(data, e); err != nil {
			return fmt.Errorf("failed to decode journal entry %d: %w", i, err)
		}

		if err := fn(e); err != nil {
			return err
		}
	}

	return nil
}

// Store appends hashHex to the journal. Storing a hash that is already on the
// ledger returns the existing reference.
func (l *Local) Store(ctx context.Context, hashHex string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !digest.Valid(hashHex) {
		return "", ErrInvalidHash
	}
	hash := digest.Normalize(hashHex)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return "", ErrClosed
	}

	if e, ok := l.byHash[hash]; ok {
		return e.TxRef(), nil
	}

	prev := genesisHash
	index := uint64(1)
	if l.last != nil {
		prev = l.last.EntryHash
		index = l.last.Index + 1
	}

	e := &Entry{
		Index:     index,
		Hash:      hash,
		PrevHash:  prev,
		Timestamp: time.Now().UTC().UnixNano(),
	}
	e.EntryHash = computeEntryHash(e.Index, e.Hash, e.PrevHash, e.Timestamp)

	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("failed to encode journal entry: %w", err)
	}

	if err := l.log.Write(index, data); err != nil {
		return "", fmt.Errorf("failed to append journal entry: %w", err)
	}

	l.last = e
	l.byHash[hash] = e

	return e.TxRef(), nil
}

// Verify reports whether hashHex was stored
func (l *Local) Verify(ctx context.Context, hashHex string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !digest.Valid(hashHex) {
		return false, ErrInvalidHash
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return false, ErrClosed
	}

	_, ok := l.byHash[digest.Normalize(hashHex)]
	return ok, nil
}

// Lookup returns the journal entry for hashHex
func (l *Local) Lookup(hashHex string) (*Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.byHash[digest.Normalize(hashHex)]
	return e, ok
}

// Len returns the number of journal entries
func (l *Local) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.last == nil {
		return 0
	}
	return int(l.last.Index)
}

// CheckChain re-reads the journal and recomputes every entry hash and link.
// It returns the number of entries checked, or a *ChainError.
func (l *Local) CheckChain() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return 0, ErrClosed
	}

	checked := 0
	prev := genesisHash
	var expected uint64 = 1

	err := l.forEach(func(e *Entry) error {
		switch {
		case e.Index != expected:
			return &ChainError{Index: e.Index, Reason: fmt.Sprintf("expected index %d", expected)}
		case e.PrevHash != prev:
			return &ChainError{Index: e.Index, Reason: "previous hash mismatch"}
		case computeEntryHash(e.Index, e.Hash, e.PrevHash, e.Timestamp) != e.EntryHash:
			return &ChainError{Index: e.Index, Reason: "entry hash mismatch"}
		}
		prev = e.EntryHash
		expected++
		checked++
		return nil
	})

	return checked, err
}

// Address implements Client
func (l *Local) Address() string {
	return l.address
}

// Close closes the journal
func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	err := l.log.Close()
	if uerr := l.lock.Unlock(); err == nil {
		err = uerr
	}
	return err
}
