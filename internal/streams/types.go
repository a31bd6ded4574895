// Package streams is an embedded message stream service: named, bounded,
// append-only logs of binary messages read by sequence number.
package streams

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// StrategyOnFull decides what an append does when a stream is at its size
// limit.
type StrategyOnFull int

const (
	RejectNewData StrategyOnFull = iota
	OverwriteOldestData
)

var strategyNames = []string{"RejectNewData", "OverwriteOldestData"}

func (s StrategyOnFull) String() string {
	if int(s) >= 0 && int(s) < len(strategyNames) {
		return strategyNames[s]
	}
	return strconv.Itoa(int(s))
}

func (s StrategyOnFull) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts the name or the ordinal.
func (s *StrategyOnFull) UnmarshalJSON(data []byte) error {
	v, err := parseEnum(data, strategyNames)
	if err != nil {
		return fmt.Errorf("strategyOnFull: %w", err)
	}
	*s = StrategyOnFull(v)
	return nil
}

// Persistence is recorded on the definition. All streams live in the same
// store, so it is informational.
type Persistence int

const (
	PersistenceFile Persistence = iota
	PersistenceMemory
)

var persistenceNames = []string{"File", "Memory"}

func (p Persistence) String() string {
	if int(p) >= 0 && int(p) < len(persistenceNames) {
		return persistenceNames[p]
	}
	return strconv.Itoa(int(p))
}

func (p Persistence) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Persistence) UnmarshalJSON(data []byte) error {
	v, err := parseEnum(data, persistenceNames)
	if err != nil {
		return fmt.Errorf("persistence: %w", err)
	}
	*p = Persistence(v)
	return nil
}

func parseEnum(data []byte, names []string) (int, error) {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return 0, nil
	}
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		for i, n := range names {
			if n == name {
				return i, nil
			}
		}
		return 0, fmt.Errorf("unknown value %q", name)
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return 0, err
	}
	if n < 0 || n >= len(names) {
		return 0, fmt.Errorf("value %d out of range", n)
	}
	return n, nil
}

// DefaultMaxSize is used when a definition leaves maxSize unset.
const DefaultMaxSize int64 = 256 << 20

// Definition describes a stream.
type Definition struct {
	Name              string          `json:"name" validate:"required,max=255,excludesall=/"`
	MaxSize           int64           `json:"maxSize" validate:"gte=0"`
	StreamSegmentSize int64           `json:"streamSegmentSize" validate:"gte=0"`
	TimeToLiveMillis  *int64          `json:"timeToLiveMillis,omitempty" validate:"omitempty,gt=0"`
	StrategyOnFull    StrategyOnFull  `json:"strategyOnFull"`
	Persistence       Persistence     `json:"persistence"`
	FlushOnWrite      bool            `json:"flushOnWrite"`
	ExportDefinition  json.RawMessage `json:"exportDefinition,omitempty"`
}

// StorageStatus reports what a stream currently holds.
type StorageStatus struct {
	OldestSequenceNumber int64 `json:"oldestSequenceNumber"`
	NewestSequenceNumber int64 `json:"newestSequenceNumber"`
	TotalBytes           int64 `json:"totalBytes"`
}

// Info is the description of a stream.
type Info struct {
	Definition     Definition        `json:"definition"`
	StorageStatus  StorageStatus     `json:"storageStatus"`
	ExportStatuses []json.RawMessage `json:"exportStatuses"`
}

// Message is one stored entry. Payload is base64 in JSON.
type Message struct {
	StreamName     string `json:"streamName"`
	SequenceNumber int64  `json:"sequenceNumber"`
	IngestTime     int64  `json:"ingestTime"`
	Payload        []byte `json:"payload"`
}

// ReadOptions bound a read. MinMessageCount messages must be available
// within ReadTimeoutMillis or the read fails with domain.ErrNotEnoughMessages.
type ReadOptions struct {
	DesiredStartSequenceNumber int64
	MinMessageCount            int64
	MaxMessageCount            int64
	ReadTimeoutMillis          int64
}

// Manager is the stream capability consumed by the API.
type Manager interface {
	ListStreams(ctx context.Context) ([]string, error)
	DescribeStream(ctx context.Context, name string) (*Info, error)
	DeleteStream(ctx context.Context, name string) error
	ReadMessages(ctx context.Context, name string, opts ReadOptions) ([]Message, error)
	AppendMessage(ctx context.Context, name string, data []byte) (int64, error)
	CreateStream(ctx context.Context, def Definition) error
	UpdateStream(ctx context.Context, def Definition) error
}
