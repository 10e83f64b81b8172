// Package rdb implements the binary snapshot format: a small magic/version/
// flags header, an optional md5 checksum, optional gzip compression, and a
// length-prefixed payload schema, portable across architectures unlike an
// opaque object-pickling scheme.
package rdb

import (
	"bytes"
	"compress/gzip"
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/akashmaji/goredis/internal/store"
)

var magic = [5]byte{'R', 'E', 'D', 'I', 'S'}

const version = "0001"

// Flags bits in the header's single flags byte.
const (
	flagCompressed byte = 1 << 0
	flagChecksum   byte = 1 << 1
)

// Options controls which optional header bits a Handler writes and
// expects on load. The configuration determines what to expect, not what
// the file self-declares, so these are supplied by the caller rather than
// sniffed from the file.
type Options struct {
	Compress bool
	Checksum bool
}

// Handler serializes and deserializes full store snapshots.
type Handler struct {
	opts Options
}

func New(opts Options) *Handler { return &Handler{opts: opts} }

// Metadata accompanies a snapshot's keys.
type Metadata struct {
	CreateTime time.Time
	KeyCount   int
}

// Snapshot is the full decoded object: every key's record plus metadata.
type Snapshot struct {
	Entries  []store.SnapshotEntry
	Metadata Metadata
}

// Save snapshots entries to path via create-under-lock (the caller holds
// whatever lock protects the snapshot source; Save never locks the store
// itself) then temp-file-plus-atomic-rename.
func (h *Handler) Save(path, tempDir string, entries []store.SnapshotEntry) error {
	payload, err := h.encodePayload(entries)
	if err != nil {
		return fmt.Errorf("rdb: encoding payload: %w", err)
	}

	if h.opts.Compress {
		var buf bytes.Buffer
		gw := gzip.NewWriter(&buf)
		if _, err := gw.Write(payload); err != nil {
			return fmt.Errorf("rdb: compressing: %w", err)
		}
		if err := gw.Close(); err != nil {
			return fmt.Errorf("rdb: closing gzip writer: %w", err)
		}
		payload = buf.Bytes()
	}

	var flags byte
	if h.opts.Compress {
		flags |= flagCompressed
	}
	var checksum [16]byte
	if h.opts.Checksum {
		flags |= flagChecksum
		checksum = md5.Sum(payload) // computed over the post-compression bytes actually written
	}

	var out bytes.Buffer
	out.Write(magic[:])
	out.WriteString(version)
	out.WriteByte(flags)
	if h.opts.Checksum {
		out.Write(checksum[:])
	}
	out.Write(payload)

	tmp, err := os.CreateTemp(tempDir, "dump-*.rdb.tmp")
	if err != nil {
		return fmt.Errorf("rdb: creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	succeeded := false
	defer func() {
		if !succeeded {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(out.Bytes()); err != nil {
		return fmt.Errorf("rdb: writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("rdb: syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("rdb: closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rdb: renaming over %s: %w", path, err)
	}
	succeeded = true
	return nil
}

// Load reads, verifies, decompresses, and deserializes a snapshot file.
func (h *Handler) Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rdb: reading %s: %w", path, err)
	}
	return h.decode(data)
}

func (h *Handler) decode(data []byte) (*Snapshot, error) {
	if len(data) < 5+4+1 {
		return nil, fmt.Errorf("rdb: file too short")
	}
	if !bytes.Equal(data[:5], magic[:]) {
		return nil, fmt.Errorf("rdb: bad magic")
	}
	if string(data[5:9]) != version {
		return nil, fmt.Errorf("rdb: unsupported version %q", data[5:9])
	}
	flags := data[9]
	offset := 10

	hasChecksum := flags&flagChecksum != 0
	hasCompression := flags&flagCompressed != 0

	var wantChecksum [16]byte
	if hasChecksum {
		if len(data) < offset+16 {
			return nil, fmt.Errorf("rdb: truncated checksum")
		}
		copy(wantChecksum[:], data[offset:offset+16])
		offset += 16
	}

	payload := data[offset:]
	if hasChecksum {
		got := md5.Sum(payload)
		if got != wantChecksum {
			return nil, fmt.Errorf("rdb: checksum mismatch")
		}
	}

	if hasCompression {
		gr, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("rdb: opening gzip reader: %w", err)
		}
		defer gr.Close()
		decompressed, err := io.ReadAll(gr)
		if err != nil {
			return nil, fmt.Errorf("rdb: decompressing: %w", err)
		}
		payload = decompressed
	}

	return h.decodePayload(payload)
}

// encodePayload writes key_count(varint) followed by key_count records of
// (len|key|type(1B)|len|value|expiry(8B signed, 0 meaning none)).
func (h *Handler) encodePayload(entries []store.SnapshotEntry) ([]byte, error) {
	var buf bytes.Buffer

	countBuf := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(countBuf, uint64(len(entries)))
	buf.Write(countBuf[:n])

	for _, e := range entries {
		if err := writeLenPrefixed(&buf, []byte(e.Key)); err != nil {
			return nil, err
		}
		buf.WriteByte(typeByte(e.Type))
		if err := writeLenPrefixed(&buf, []byte(e.Value)); err != nil {
			return nil, err
		}
		var expiry int64
		if !e.Expiry.IsZero() {
			expiry = e.Expiry.Unix()
		}
		var expiryBuf [8]byte
		binary.BigEndian.PutUint64(expiryBuf[:], uint64(expiry))
		buf.Write(expiryBuf[:])
	}

	meta := Metadata{CreateTime: time.Now(), KeyCount: len(entries)}
	var metaBuf [16]byte
	binary.BigEndian.PutUint64(metaBuf[0:8], uint64(meta.CreateTime.Unix()))
	binary.BigEndian.PutUint64(metaBuf[8:16], uint64(meta.KeyCount))
	buf.Write(metaBuf[:])

	return buf.Bytes(), nil
}

func (h *Handler) decodePayload(payload []byte) (*Snapshot, error) {
	r := bytes.NewReader(payload)

	count, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("rdb: reading key count: %w", err)
	}

	entries := make([]store.SnapshotEntry, 0, count)
	for i := uint64(0); i < count; i++ {
		key, err := readLenPrefixed(r)
		if err != nil {
			return nil, fmt.Errorf("rdb: reading key %d: %w", i, err)
		}
		var typByte [1]byte
		if _, err := io.ReadFull(r, typByte[:]); err != nil {
			return nil, fmt.Errorf("rdb: reading type for key %d: %w", i, err)
		}
		value, err := readLenPrefixed(r)
		if err != nil {
			return nil, fmt.Errorf("rdb: reading value for key %d: %w", i, err)
		}
		var expiryBuf [8]byte
		if _, err := io.ReadFull(r, expiryBuf[:]); err != nil {
			return nil, fmt.Errorf("rdb: reading expiry for key %d: %w", i, err)
		}
		expiryUnix := int64(binary.BigEndian.Uint64(expiryBuf[:]))

		se := store.SnapshotEntry{
			Key:   string(key),
			Value: string(value),
			Type:  typeFromByte(typByte[0]),
		}
		if expiryUnix != 0 {
			se.Expiry = time.Unix(expiryUnix, 0)
		}
		entries = append(entries, se)
	}

	var metaBuf [16]byte
	if _, err := io.ReadFull(r, metaBuf[:]); err != nil {
		return nil, fmt.Errorf("rdb: reading metadata: %w", err)
	}
	meta := Metadata{
		CreateTime: time.Unix(int64(binary.BigEndian.Uint64(metaBuf[0:8])), 0),
		KeyCount:   int(binary.BigEndian.Uint64(metaBuf[8:16])),
	}

	// Drop keys whose expiry has already passed by load time.
	now := time.Now()
	live := entries[:0]
	for _, e := range entries {
		if !e.Expiry.IsZero() && !e.Expiry.After(now) {
			continue
		}
		live = append(live, e)
	}

	return &Snapshot{Entries: live, Metadata: meta}, nil
}

func writeLenPrefixed(buf *bytes.Buffer, data []byte) error {
	lenBuf := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(lenBuf, uint64(len(data)))
	buf.Write(lenBuf[:n])
	buf.Write(data)
	return nil
}

func readLenPrefixed(r *bytes.Reader) ([]byte, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

func typeByte(t store.Type) byte {
	switch t {
	case store.TypeString:
		return 0
	case store.TypeList:
		return 1
	case store.TypeSet:
		return 2
	case store.TypeHash:
		return 3
	default:
		return 0
	}
}

func typeFromByte(b byte) store.Type {
	switch b {
	case 1:
		return store.TypeList
	case 2:
		return store.TypeSet
	case 3:
		return store.TypeHash
	default:
		return store.TypeString
	}
}

// ValidateFile reports whether path starts with the 5-byte magic header,
// without parsing the rest of the file.
func ValidateFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	var buf [5]byte
	if _, err := io.ReadFull(f, buf[:]); err != nil {
		return false
	}
	return bytes.Equal(buf[:], magic[:])
}
