package boltstore

import (
	"encoding/binary"
	"strings"
)

// Bucket name constants for bbolt storage.
var (
	bucketMeta     = []byte("meta")
	bucketEntities = []byte("entities")
	bucketPlayers  = []byte("players")
)

// Meta key constants.
var (
	keyVersion = []byte("version")
	keySaved   = []byte("saved")
)

// schemaVersion is written to the meta bucket on first open.
const schemaVersion = 1

func idKey(id string) []byte { return []byte(id) }

// playerKey is the lower-cased player name used by the name index.
func playerKey(name string) []byte { return []byte(strings.ToLower(name)) }

// intToKey converts an int to an 8-byte big-endian key.
func intToKey(n int) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(n))
	return buf
}

// keyToInt converts an 8-byte big-endian key back to an int.
func keyToInt(b []byte) int {
	if len(b) != 8 {
		return 0
	}
	return int(binary.BigEndian.Uint64(b))
}
