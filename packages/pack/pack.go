// Package pack reads and writes portable project archives.
//
// Archive format, zstd-compressed as a whole:
//
//	[4 bytes: header length (big-endian)]
//	[header JSON: Header]
//	[entry data...]
//
// Entry offsets are relative to the start of the data. Every entry carries a BLAKE3
// checksum that Read verifies.
package pack

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/user/cartograph/packages/manifest"
	"github.com/user/cartograph/packages/store"
)

const (
	HeaderLengthSize = 4
	MaxHeaderSize    = 10 * 1024 * 1024

	// Format is the archive layout version written by Write.
	Format = 1

	manifestEntry = "manifest.json"
	filePrefix    = "files/"
)

// ErrCorrupt is returned for archives that are truncated, malformed or fail a checksum.
var ErrCorrupt = errors.New("corrupt project archive")

// Header describes an archive.
type Header struct {
	Format  int     `json:"format"`
	Project string  `json:"project"`
	Entries []Entry `json:"entries"`
}

// Entry locates one blob in the data section.
type Entry struct {
	Name     string `json:"name"`
	Offset   int64  `json:"offset"`
	Length   int64  `json:"length"`
	Checksum string `json:"checksum"`
}

// Write archives rec under project id to w.
func Write(w io.Writer, id string, rec *store.Record) error {
	if rec == nil {
		return errors.New("pack: nil record")
	}
	header := Header{Format: Format, Project: id}
	var data bytes.Buffer

	add := func(name string, content []byte) {
		header.Entries = append(header.Entries, Entry{
			Name:     name,
			Offset:   int64(data.Len()),
			Length:   int64(len(content)),
			Checksum: manifest.Checksum(content),
		})
		data.Write(content)
	}
	add(manifestEntry, rec.Manifest)
	for _, name := range rec.Files.Names() {
		add(filePrefix+name, rec.Files[name])
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("marshaling header: %w", err)
	}

	encoder, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("creating zstd encoder: %w", err)
	}
	headerLen := make([]byte, HeaderLengthSize)
	binary.BigEndian.PutUint32(headerLen, uint32(len(headerJSON)))
	for _, chunk := range [][]byte{headerLen, headerJSON, data.Bytes()} {
		if _, err := encoder.Write(chunk); err != nil {
			encoder.Close()
			return fmt.Errorf("compressing: %w", err)
		}
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("closing encoder: %w", err)
	}
	return nil
}

// Read extracts an archive written by Write and returns its project id and record.
func Read(r io.Reader) (string, *store.Record, error) {
	decoder, err := zstd.NewReader(r)
	if err != nil {
		return "", nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	defer decoder.Close()

	raw, err := io.ReadAll(decoder)
	if err != nil {
		return "", nil, fmt.Errorf("%w: decompressing: %v", ErrCorrupt, err)
	}
	if len(raw) < HeaderLengthSize {
		return "", nil, fmt.Errorf("%w: archive too small: %d bytes", ErrCorrupt, len(raw))
	}

	headerLen := binary.BigEndian.Uint32(raw[:HeaderLengthSize])
	if headerLen > MaxHeaderSize {
		return "", nil, fmt.Errorf("%w: header too large: %d bytes", ErrCorrupt, headerLen)
	}
	if int64(HeaderLengthSize)+int64(headerLen) > int64(len(raw)) {
		return "", nil, fmt.Errorf("%w: header length exceeds archive size", ErrCorrupt)
	}
	var header Header
	if err := json.Unmarshal(raw[HeaderLengthSize:HeaderLengthSize+headerLen], &header); err != nil {
		return "", nil, fmt.Errorf("%w: parsing header: %v", ErrCorrupt, err)
	}
	if header.Format != Format {
		return "", nil, fmt.Errorf("%w: unsupported format %d", ErrCorrupt, header.Format)
	}

	data := raw[HeaderLengthSize+headerLen:]
	rec := &store.Record{}
	seenManifest := false
	for _, e := range header.Entries {
		if e.Offset < 0 || e.Length < 0 || e.Offset > int64(len(data)) || e.Length > int64(len(data))-e.Offset {
			return "", nil, fmt.Errorf("%w: entry %s extends beyond data", ErrCorrupt, e.Name)
		}
		content := data[e.Offset : e.Offset+e.Length]
		if manifest.Checksum(content) != e.Checksum {
			return "", nil, fmt.Errorf("%w: checksum mismatch for %s", ErrCorrupt, e.Name)
		}
		content = bytes.Clone(content)

		switch {
		case e.Name == manifestEntry:
			rec.Manifest = content
			seenManifest = true
		case strings.HasPrefix(e.Name, filePrefix):
			name := strings.TrimPrefix(e.Name, filePrefix)
			if err := manifest.CheckName(name); err != nil {
				return "", nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
			}
			if rec.Files == nil {
				rec.Files = make(manifest.Files)
			}
			rec.Files[name] = content
		default:
			return "", nil, fmt.Errorf("%w: unexpected entry %s", ErrCorrupt, e.Name)
		}
	}
	if !seenManifest {
		return "", nil, fmt.Errorf("%w: no manifest", ErrCorrupt)
	}
	return header.Project, rec, nil
}
