package internal

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/ValentinKolb/dHammer/lib/storage"
)

// CommandType defines the possible operations for the state machine.
type CommandType uint8

const (
	CommandTInsert          CommandType = iota // Insert a record with the given timestamp.
	CommandTDeleteOlderThan                    // Delete all records created before the given cutoff.
)

func (ct CommandType) String() string {
	switch ct {
	case CommandTInsert:
		return "Insert"
	case CommandTDeleteOlderThan:
		return "DeleteOlderThan"
	default:
		return fmt.Sprintf("Unknown(%d)", ct)
	}
}

// ToFeature converts a CommandType to the corresponding storage.Feature.
func (ct CommandType) ToFeature() (storage.Feature, error) {
	switch ct {
	case CommandTInsert:
		return storage.FeatureInsert, nil
	case CommandTDeleteOlderThan:
		return storage.FeatureDeleteOlderThan, nil
	default:
		return 0, fmt.Errorf("unknown command type %d", ct)
	}
}

// commandSize is the fixed size of a serialized command: type (1) + unix nanos (8)
const commandSize = 1 + 8

// Command represents a command to be executed by the state machine (a single entry in the raft log).
// Time is the record timestamp for inserts and the cutoff for deletes. It is part of the
// command so that every replica applies exactly the same change.
type Command struct {
	Type CommandType
	Time time.Time
}

// SizeBytes returns the exact number of bytes needed to serialize this command
func (command *Command) SizeBytes() int {
	return commandSize
}

// Serialize serializes a command into a byte array with the format:
// 1 byte for operation type,
// 8 bytes for the time as unix nanoseconds (big endian)
func (command *Command) Serialize() []byte {
	result := make([]byte, commandSize)
	result[0] = byte(command.Type)
	binary.BigEndian.PutUint64(result[1:9], uint64(command.Time.UnixNano()))
	return result
}

// Deserialize extracts all Command fields from a byte array.
func (command *Command) Deserialize(data []byte) error {
	if len(data) != commandSize {
		return fmt.Errorf("invalid command length %d (expected %d)", len(data), commandSize)
	}
	command.Type = CommandType(data[0])
	command.Time = time.Unix(0, int64(binary.BigEndian.Uint64(data[1:9])))
	return nil
}

// EncodeCount encodes the number of deleted records into the result data of an entry
func EncodeCount(n int) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(n))
	return buf
}

// DecodeCount is the inverse of EncodeCount
func DecodeCount(data []byte) (int, error) {
	if len(data) != 8 {
		return 0, fmt.Errorf("invalid count length %d", len(data))
	}
	return int(binary.BigEndian.Uint64(data)), nil
}

// --------------------------------------------------------------------------
// Queries
// --------------------------------------------------------------------------

// QueryType defines the possible queries for the state machine.
type QueryType uint8

const (
	QueryTCount QueryType = iota // Number of records held by the state machine.
	QueryTInfo                   // Metadata about the record engine underlying the machine.
)

func (q QueryType) String() string {
	switch q {
	case QueryTCount:
		return "Count"
	case QueryTInfo:
		return "Info"
	default:
		return "Unknown"
	}
}

// Query defines the structure for lookup requests (read-only) sent via SyncRead or StaleRead
type Query struct {
	Type QueryType
}
