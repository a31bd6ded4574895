package streams

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/go-playground/validator/v10"

	"github.com/nfrund/consoled/internal/domain"
)

const (
	defPrefix  = "stream/def/"
	metaPrefix = "stream/meta/"
	msgPrefix  = "stream/msg/"

	// Upper bound on messages returned by one read.
	maxReadBatch = 1000

	// DefaultMaxReadWait caps readTimeoutMillis when Open is given no limit.
	DefaultMaxReadWait = 10 * time.Second
)

func defKey(name string) []byte  { return []byte(defPrefix + name) }
func metaKey(name string) []byte { return []byte(metaPrefix + name) }
func msgStreamPrefix(name string) []byte {
	return []byte(msgPrefix + name + "/")
}

func msgKey(name string, seq int64) []byte {
	key := msgStreamPrefix(name)
	return binary.BigEndian.AppendUint64(key, uint64(seq))
}

// meta is the bookkeeping kept next to each definition. Stored sequence
// numbers are contiguous from Oldest to Next-1.
type meta struct {
	Next       int64 `json:"next"`
	Oldest     int64 `json:"oldest"`
	Count      int64 `json:"count"`
	TotalBytes int64 `json:"totalBytes"`
}

// Store implements Manager on badger.
type Store struct {
	db       *badger.DB
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time

	// maxReadWait bounds how long a read may wait for messages. Reads run
	// on the caller's request loop.
	maxReadWait time.Duration

	// mu serializes writers so read-modify-write transactions never conflict.
	mu sync.Mutex

	waitMu  sync.Mutex
	waiters map[string]chan struct{}
}

var _ Manager = (*Store)(nil)

// Open opens the store in dir, or in memory when dir is empty. Reads never
// wait longer than maxReadWait, whatever timeout the caller asks for.
func Open(dir string, maxReadWait time.Duration) (*Store, error) {
	if maxReadWait <= 0 {
		maxReadWait = DefaultMaxReadWait
	}
	logger := slog.Default().With("component", "streams")
	db, err := openDB(dir, logger)
	if err != nil {
		return nil, err
	}
	return &Store{
		db:       db,
		validate: validator.New(),
		logger:   logger,
		now:      time.Now,
		waiters:  make(map[string]chan struct{}),

		maxReadWait: maxReadWait,
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func streamNotFound(name string) error {
	return fmt.Errorf("%w: %s", domain.ErrStreamNotFound, name)
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

func load(txn *badger.Txn, name string) (Definition, meta, error) {
	var def Definition
	var m meta
	if err := getJSON(txn, defKey(name), &def); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return def, m, streamNotFound(name)
		}
		return def, m, fmt.Errorf("load stream %s: %w", name, err)
	}
	if err := getJSON(txn, metaKey(name), &m); err != nil {
		return def, m, fmt.Errorf("load stream %s: %w", name, err)
	}
	return def, m, nil
}

func (s *Store) checkDefinition(def *Definition) error {
	if err := s.validate.Struct(def); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidStreamConfig, err)
	}
	if def.MaxSize == 0 {
		def.MaxSize = DefaultMaxSize
	}
	return nil
}

func (s *Store) ListStreams(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	names := []string{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(defPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			names = append(names, string(it.Item().Key()[len(defPrefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list streams: %w", err)
	}
	return names, nil
}

func (s *Store) DescribeStream(ctx context.Context, name string) (*Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var info *Info
	err := s.db.View(func(txn *badger.Txn) error {
		def, m, err := load(txn, name)
		if err != nil {
			return err
		}
		info = &Info{
			Definition: def,
			StorageStatus: StorageStatus{
				OldestSequenceNumber: m.Oldest,
				NewestSequenceNumber: m.Next - 1,
				TotalBytes:           m.TotalBytes,
			},
			ExportStatuses: []json.RawMessage{},
		}
		return nil
	})
	return info, err
}

func (s *Store) CreateStream(ctx context.Context, def Definition) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.checkDefinition(&def); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(defKey(def.Name)); err == nil {
			return fmt.Errorf("%w: %s", domain.ErrStreamExists, def.Name)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := setJSON(txn, defKey(def.Name), def); err != nil {
			return err
		}
		return setJSON(txn, metaKey(def.Name), meta{})
	})
	if err == nil {
		s.logger.Info("Message stream created", "name", def.Name, "maxSize", def.MaxSize, "strategyOnFull", def.StrategyOnFull.String())
	}
	return err
}

// UpdateStream replaces a stream's definition. Shrinking maxSize on an
// OverwriteOldestData stream drops old messages right away; a
// RejectNewData stream keeps its data and rejects appends until it fits.
func (s *Store) UpdateStream(ctx context.Context, def Definition) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.checkDefinition(&def); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Update(func(txn *badger.Txn) error {
		_, m, err := load(txn, def.Name)
		if err != nil {
			return err
		}
		if def.StrategyOnFull == OverwriteOldestData {
			for m.Count > 0 && m.TotalBytes > def.MaxSize {
				if err := dropOldest(txn, def.Name, &m); err != nil {
					return err
				}
			}
		}
		if err := setJSON(txn, defKey(def.Name), def); err != nil {
			return err
		}
		return setJSON(txn, metaKey(def.Name), m)
	})
}

func (s *Store) DeleteStream(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, _, err := load(txn, name); err != nil {
			return err
		}
		if err := txn.Delete(defKey(name)); err != nil {
			return err
		}
		return txn.Delete(metaKey(name))
	})
	if err != nil {
		return err
	}
	if err := s.db.DropPrefix(msgStreamPrefix(name)); err != nil {
		return fmt.Errorf("delete messages of %s: %w", name, err)
	}
	s.wake(name)
	s.logger.Info("Message stream deleted", "name", name)
	return nil
}

// AppendMessage stores data and returns its sequence number.
func (s *Store) AppendMessage(ctx context.Context, name string, data []byte) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	var seq int64
	err := s.db.Update(func(txn *badger.Txn) error {
		def, m, err := load(txn, name)
		if err != nil {
			return err
		}
		now := s.now()
		if err := purgeExpired(txn, name, def, &m, now); err != nil {
			return err
		}

		size := int64(len(data))
		if size > def.MaxSize {
			return fmt.Errorf("%w: message of %d bytes exceeds maxSize %d", domain.ErrStreamFull, size, def.MaxSize)
		}
		for m.TotalBytes+size > def.MaxSize {
			if def.StrategyOnFull == RejectNewData {
				return fmt.Errorf("%w: %s holds %d of %d bytes", domain.ErrStreamFull, name, m.TotalBytes, def.MaxSize)
			}
			if err := dropOldest(txn, name, &m); err != nil {
				return err
			}
		}

		seq = m.Next
		value := binary.BigEndian.AppendUint64(make([]byte, 0, 8+len(data)), uint64(now.UnixMilli()))
		value = append(value, data...)
		if err := txn.Set(msgKey(name, seq), value); err != nil {
			return err
		}
		if m.Count == 0 {
			m.Oldest = seq
		}
		m.Next++
		m.Count++
		m.TotalBytes += size
		return setJSON(txn, metaKey(name), m)
	})
	s.mu.Unlock()

	if err != nil {
		return 0, err
	}
	s.wake(name)
	return seq, nil
}

func dropOldest(txn *badger.Txn, name string, m *meta) error {
	if m.Count == 0 {
		return nil
	}
	key := msgKey(name, m.Oldest)
	item, err := txn.Get(key)
	if err != nil {
		return fmt.Errorf("drop oldest of %s: %w", name, err)
	}
	size := item.ValueSize() - 8
	if err := txn.Delete(key); err != nil {
		return err
	}
	m.Oldest++
	m.Count--
	m.TotalBytes -= size
	if m.Count == 0 {
		m.TotalBytes = 0
		m.Oldest = m.Next
	}
	return nil
}

func purgeExpired(txn *badger.Txn, name string, def Definition, m *meta, now time.Time) error {
	if def.TimeToLiveMillis == nil {
		return nil
	}
	cutoff := now.UnixMilli() - *def.TimeToLiveMillis
	for m.Count > 0 {
		item, err := txn.Get(msgKey(name, m.Oldest))
		if err != nil {
			return fmt.Errorf("expire %s: %w", name, err)
		}
		var ingest int64
		if err := item.Value(func(val []byte) error {
			ingest = int64(binary.BigEndian.Uint64(val[:8]))
			return nil
		}); err != nil {
			return err
		}
		if ingest >= cutoff {
			return nil
		}
		if err := dropOldest(txn, name, m); err != nil {
			return err
		}
	}
	return nil
}

// ReadMessages returns up to MaxMessageCount messages starting at the
// desired sequence number. When fewer than MinMessageCount are available it
// waits for appends until ReadTimeoutMillis elapses, capped at the store's
// maximum read wait.
func (s *Store) ReadMessages(ctx context.Context, name string, opts ReadOptions) ([]Message, error) {
	if opts.MinMessageCount <= 0 {
		opts.MinMessageCount = 1
	}
	if opts.MaxMessageCount <= 0 {
		opts.MaxMessageCount = maxReadBatch
	}
	if opts.MaxMessageCount < opts.MinMessageCount {
		return nil, fmt.Errorf("%w: maxMessageCount %d is less than minMessageCount %d",
			domain.ErrInvalidArguments, opts.MaxMessageCount, opts.MinMessageCount)
	}
	if opts.DesiredStartSequenceNumber < 0 {
		return nil, fmt.Errorf("%w: negative start sequence number", domain.ErrInvalidArguments)
	}

	wait := min(time.Duration(max(opts.ReadTimeoutMillis, 0))*time.Millisecond, s.maxReadWait)
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		msgs, err := s.read(name, opts)
		if err != nil || int64(len(msgs)) >= opts.MinMessageCount {
			return msgs, err
		}

		wake := s.waiter(name)
		// An append may have landed between the read and registering.
		msgs, err = s.read(name, opts)
		if err != nil || int64(len(msgs)) >= opts.MinMessageCount {
			return msgs, err
		}

		select {
		case <-wake:
		case <-timer.C:
			return nil, fmt.Errorf("%w: %d of %d requested messages available in %s",
				domain.ErrNotEnoughMessages, len(msgs), opts.MinMessageCount, name)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (s *Store) read(name string, opts ReadOptions) ([]Message, error) {
	msgs := []Message{}
	err := s.db.View(func(txn *badger.Txn) error {
		def, m, err := load(txn, name)
		if err != nil {
			return err
		}
		cutoff := int64(math.MinInt64)
		if def.TimeToLiveMillis != nil {
			cutoff = s.now().UnixMilli() - *def.TimeToLiveMillis
		}

		start := max(opts.DesiredStartSequenceNumber, m.Oldest)
		prefix := msgStreamPrefix(name)
		itOpts := badger.DefaultIteratorOptions
		itOpts.Prefix = prefix
		it := txn.NewIterator(itOpts)
		defer it.Close()

		for it.Seek(msgKey(name, start)); it.Valid() && int64(len(msgs)) < opts.MaxMessageCount; it.Next() {
			item := it.Item()
			seq := int64(binary.BigEndian.Uint64(item.Key()[len(prefix):]))
			err := item.Value(func(val []byte) error {
				ingest := int64(binary.BigEndian.Uint64(val[:8]))
				if ingest < cutoff {
					return nil
				}
				msgs = append(msgs, Message{
					StreamName:     name,
					SequenceNumber: seq,
					IngestTime:     ingest,
					Payload:        append([]byte(nil), val[8:]...),
				})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return msgs, err
}

func (s *Store) waiter(name string) <-chan struct{} {
	s.waitMu.Lock()
	defer s.waitMu.Unlock()
	ch, ok := s.waiters[name]
	if !ok {
		ch = make(chan struct{})
		s.waiters[name] = ch
	}
	return ch
}

func (s *Store) wake(name string) {
	s.waitMu.Lock()
	defer s.waitMu.Unlock()
	if ch, ok := s.waiters[name]; ok {
		close(ch)
		delete(s.waiters, name)
	}
}
