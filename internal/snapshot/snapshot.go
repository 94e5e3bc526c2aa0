// Encodes and decodes database snapshots.

package snapshot

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
)

// Version is the current format version.
const Version = 1

const (
	magic      = "SECDB"
	headerSize = len(magic) + 3
	crcSize    = 4
)

// ErrCorrupt is wrapped by every error returned by Decode for malformed input.
var ErrCorrupt = errors.New("corrupt snapshot")

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Table is one table of a database: its name, ordered column names and rows.
type Table struct {
	Name    string
	Columns []string
	Rows    [][]string
}

// State is the full content of a database with tables in creation order.
type State struct {
	Tables []Table
}

type schemaEntry struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
}

type rowsEntry struct {
	Table string     `json:"table"`
	Rows  [][]string `json:"rows"`
}

// Encode serializes s and compresses the payload with codec.
//
// Nil slices are normalized to empty ones so that Decode(Encode(s)) is
// deterministic.
func Encode(s *State, codec Codec) ([]byte, error) {
	if !codec.Valid() {
		return nil, fmt.Errorf("encode: unknown codec %d", byte(codec))
	}
	schema := make([]schemaEntry, 0, len(s.Tables))
	rows := make([]rowsEntry, 0, len(s.Tables))
	seen := make(map[string]struct{}, len(s.Tables))
	for _, t := range s.Tables {
		if _, ok := seen[t.Name]; ok {
			return nil, fmt.Errorf("encode: duplicate table %q", t.Name)
		}
		seen[t.Name] = struct{}{}
		cols := t.Columns
		if cols == nil {
			cols = []string{}
		}
		r := make([][]string, len(t.Rows))
		for i, row := range t.Rows {
			if row == nil {
				row = []string{}
			}
			r[i] = row
		}
		schema = append(schema, schemaEntry{Name: t.Name, Columns: cols})
		rows = append(rows, rowsEntry{Table: t.Name, Rows: r})
	}

	var payload bytes.Buffer
	if err := writeSection(&payload, schema); err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	if err := writeSection(&payload, rows); err != nil {
		return nil, fmt.Errorf("encode rows: %w", err)
	}
	body, err := codec.compress(payload.Bytes())
	if err != nil {
		return nil, fmt.Errorf("encode: %s: %w", codec, err)
	}

	out := make([]byte, 0, headerSize+len(body)+crcSize)
	out = append(out, magic...)
	out = append(out, Version, byte(codec), 0)
	out = append(out, body...)
	out = binary.LittleEndian.AppendUint32(out, crc32.Checksum(out, castagnoli))
	return out, nil
}

// Decode parses a blob produced by Encode.
func Decode(b []byte) (*State, error) {
	if len(b) < headerSize+crcSize {
		return nil, fmt.Errorf("%w: %d bytes is too short", ErrCorrupt, len(b))
	}
	if string(b[:len(magic)]) != magic {
		return nil, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	if v := b[len(magic)]; v != Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, v)
	}
	codec := Codec(b[len(magic)+1])
	if !codec.Valid() {
		return nil, fmt.Errorf("%w: unknown codec %d", ErrCorrupt, byte(codec))
	}
	if f := b[len(magic)+2]; f != 0 {
		return nil, fmt.Errorf("%w: unknown flags 0x%02x", ErrCorrupt, f)
	}
	end := len(b) - crcSize
	want := binary.LittleEndian.Uint32(b[end:])
	if got := crc32.Checksum(b[:end], castagnoli); got != want {
		return nil, fmt.Errorf("%w: checksum mismatch: got 0x%08x, want 0x%08x", ErrCorrupt, got, want)
	}
	payload, err := codec.decompress(b[headerSize:end])
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorrupt, codec, err)
	}

	var schema []schemaEntry
	rest, err := readSection(payload, &schema)
	if err != nil {
		return nil, fmt.Errorf("%w: schema: %w", ErrCorrupt, err)
	}
	var rows []rowsEntry
	rest, err = readSection(rest, &rows)
	if err != nil {
		return nil, fmt.Errorf("%w: rows: %w", ErrCorrupt, err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, len(rest))
	}

	s := &State{Tables: make([]Table, 0, len(schema))}
	index := make(map[string]int, len(schema))
	for _, e := range schema {
		if e.Name == "" {
			return nil, fmt.Errorf("%w: table with empty name", ErrCorrupt)
		}
		if _, ok := index[e.Name]; ok {
			return nil, fmt.Errorf("%w: duplicate table %q", ErrCorrupt, e.Name)
		}
		index[e.Name] = len(s.Tables)
		cols := e.Columns
		if cols == nil {
			cols = []string{}
		}
		s.Tables = append(s.Tables, Table{Name: e.Name, Columns: cols, Rows: [][]string{}})
	}
	filled := make(map[string]struct{}, len(rows))
	for _, e := range rows {
		i, ok := index[e.Table]
		if !ok {
			return nil, fmt.Errorf("%w: rows for unknown table %q", ErrCorrupt, e.Table)
		}
		if _, ok := filled[e.Table]; ok {
			return nil, fmt.Errorf("%w: duplicate rows for table %q", ErrCorrupt, e.Table)
		}
		filled[e.Table] = struct{}{}
		for j, row := range e.Rows {
			if row == nil {
				e.Rows[j] = []string{}
			}
		}
		if e.Rows != nil {
			s.Tables[i].Rows = e.Rows
		}
	}
	return s, nil
}

func writeSection(buf *bytes.Buffer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var l [4]byte
	binary.LittleEndian.PutUint32(l[:], uint32(len(b)))
	buf.Write(l[:])
	buf.Write(b)
	return nil
}

func readSection(b []byte, v any) ([]byte, error) {
	if len(b) < 4 {
		return nil, errors.New("missing section length")
	}
	n := binary.LittleEndian.Uint32(b)
	b = b[4:]
	if uint64(n) > uint64(len(b)) {
		return nil, fmt.Errorf("section length %d overruns %d remaining bytes", n, len(b))
	}
	if err := json.Unmarshal(b[:n], v); err != nil {
		return nil, err
	}
	return b[n:], nil
}
