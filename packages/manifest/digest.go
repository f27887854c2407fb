package manifest

import (
	"encoding/hex"
	"encoding/json"

	"lukechampine.com/blake3"
)

// Canonical encodes r as compact JSON with sorted object keys.
func Canonical(r Raw) ([]byte, error) {
	// encoding/json sorts map keys, which is all the canonical form needs here.
	return json.Marshal(map[string]any(r))
}

// Checksum returns the hex BLAKE3-256 hash of data.
func Checksum(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Digest identifies a persisted project by content: the canonical manifest plus every
// auxiliary file name and content hash. Formatting differences in the manifest bytes do not
// change the digest.
func Digest(data []byte, files Files) (string, error) {
	r, err := Parse(data)
	if err != nil {
		return "", err
	}
	canon, err := Canonical(r)
	if err != nil {
		return "", err
	}
	h := blake3.New(32, nil)
	h.Write([]byte("manifest\n"))
	h.Write(canon)
	for _, name := range files.Names() {
		sum := blake3.Sum256(files[name])
		h.Write([]byte("\nfile " + name + "\n"))
		h.Write(sum[:])
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
