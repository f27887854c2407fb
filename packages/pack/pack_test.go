package pack

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"math"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/cartograph/packages/manifest"
	"github.com/user/cartograph/packages/store"
)

func sampleRecord() *store.Record {
	return &store.Record{
		Manifest: []byte(`{"version":"1.5.0"}`),
		Files: manifest.Files{
			"layers/roads.geojson": []byte(`{"type":"FeatureCollection"}`),
			"empty":                {},
		},
	}
}

func rawArchive(t *testing.T, header Header, data []byte) []byte {
	t.Helper()
	hj, err := json.Marshal(header)
	require.NoError(t, err)
	var plain bytes.Buffer
	n := make([]byte, HeaderLengthSize)
	binary.BigEndian.PutUint32(n, uint32(len(hj)))
	plain.Write(n)
	plain.Write(hj)
	plain.Write(data)

	var out bytes.Buffer
	enc, err := zstd.NewWriter(&out)
	require.NoError(t, err)
	_, err = enc.Write(plain.Bytes())
	require.NoError(t, err)
	require.NoError(t, enc.Close())
	return out.Bytes()
}

func TestWriteRead_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, "p1", sampleRecord()))

	id, rec, err := Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, "p1", id)
	assert.Equal(t, sampleRecord().Manifest, rec.Manifest)
	assert.Equal(t, sampleRecord().Files, rec.Files)
}

func TestRead_TruncatedArchive(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, "p1", sampleRecord()))
	half := buf.Bytes()[:buf.Len()/2]

	_, _, err := Read(bytes.NewReader(half))
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestRead_ChecksumMismatch(t *testing.T) {
	data := []byte(`{"version":"1.5.0"}`)
	header := Header{Format: Format, Project: "p1", Entries: []Entry{{
		Name: manifestEntry, Offset: 0, Length: int64(len(data)), Checksum: manifest.Checksum([]byte("other")),
	}}}

	_, _, err := Read(bytes.NewReader(rawArchive(t, header, data)))
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestRead_Rejects(t *testing.T) {
	data := []byte(`{}`)
	ok := Entry{Name: manifestEntry, Length: 2, Checksum: manifest.Checksum(data)}

	tests := []struct {
		name   string
		header Header
	}{
		{"no manifest", Header{Format: Format}},
		{"future format", Header{Format: Format + 1, Entries: []Entry{ok}}},
		{"out of range", Header{Format: Format, Entries: []Entry{{Name: manifestEntry, Offset: 1, Length: 5}}}},
		{"offset overflow", Header{Format: Format, Entries: []Entry{{Name: manifestEntry, Offset: math.MaxInt64, Length: 2}}}},
		{"escaping file", Header{Format: Format, Entries: []Entry{ok, {Name: "files/../x", Length: 2, Checksum: ok.Checksum}}}},
		{"unknown entry", Header{Format: Format, Entries: []Entry{ok, {Name: "extra", Length: 2, Checksum: ok.Checksum}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Read(bytes.NewReader(rawArchive(t, tt.header, data)))
			assert.ErrorIs(t, err, ErrCorrupt)
		})
	}
}

func TestRead_NotZstd(t *testing.T) {
	_, _, err := Read(bytes.NewReader([]byte("plain text")))
	assert.Error(t, err)
}
