package memstore

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// --------------------------------------------------------------------------
// Persistence Operations
// --------------------------------------------------------------------------

const (
	magicNum        = "RECSNAP\x00" // File format identifier
	snapshotVersion = 1             // Snapshot format version
)

type snapshotEntry struct {
	id uint64
	ts int64
}

// Save writes a fuzzy snapshot of the store to the writer.
// Concurrent inserts and deletes are allowed while Save runs.
//
// Format (little endian):
//
//	magic (8) | version (1) | seed (8) | next id (8) | count (8) | count * (id (8) | timestamp (8))
//
// Thread-safety: This function allows concurrent operations with all other functions
// except Load.
func (s *Store) Save(w io.Writer) error {
	bw := bufio.NewWriterSize(w, 1024*1024)

	// collect the snapshot first, the count must be known before the entries are written
	var entries []snapshotEntry
	for _, shard := range s.shards {
		shard.Data.Range(func(id uint64, ts int64) bool {
			entries = append(entries, snapshotEntry{id: id, ts: ts})
			return true
		})
	}

	if _, err := bw.WriteString(magicNum); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint8(snapshotVersion)); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, s.seed); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, s.nextID.Load()); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint64(len(entries))); err != nil {
		return err
	}

	var buf [16]byte
	for _, e := range entries {
		binary.LittleEndian.PutUint64(buf[0:8], e.id)
		binary.LittleEndian.PutUint64(buf[8:16], uint64(e.ts))
		if _, err := bw.Write(buf[:]); err != nil {
			return err
		}
	}

	return bw.Flush()
}

// Load replaces the content of the store with a snapshot written by Save.
//
// Thread-safety: This function is not thread-safe and must not run concurrently
// with any other method.
func (s *Store) Load(r io.Reader) error {
	br := bufio.NewReaderSize(r, 1024*1024)

	magicBytes := make([]byte, len(magicNum))
	if _, err := io.ReadFull(br, magicBytes); err != nil {
		return err
	}
	if string(magicBytes) != magicNum {
		return fmt.Errorf("invalid file format: magic number mismatch")
	}

	var version uint8
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return err
	}
	if int(version) != snapshotVersion {
		return fmt.Errorf("unsupported version: %d (expected %d)", version, snapshotVersion)
	}

	var seed, nextID, count uint64
	if err := binary.Read(br, binary.LittleEndian, &seed); err != nil {
		return err
	}
	if err := binary.Read(br, binary.LittleEndian, &nextID); err != nil {
		return err
	}
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return err
	}

	// recreate empty shards with the loaded seed so that ids land in the same shards
	s.seed = seed
	s.shards = newShards(s.numShards)

	var buf [16]byte
	for i := uint64(0); i < count; i++ {
		if _, err := io.ReadFull(br, buf[:]); err != nil {
			return err
		}
		id := binary.LittleEndian.Uint64(buf[0:8])
		ts := int64(binary.LittleEndian.Uint64(buf[8:16]))
		s.shardFor(id).Data.Store(id, ts)
		if id > nextID {
			nextID = id
		}
	}

	s.nextID.Store(nextID)
	return nil
}
