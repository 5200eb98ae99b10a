package boltstore

import (
	"github.com/goccy/go-json"

	"github.com/crystal-mush/mushscript/pkg/gamedb"
)

// encodeEntity serializes an Entity. Scripts go out in their wire form.
func encodeEntity(e *gamedb.Entity) ([]byte, error) {
	return json.Marshal(e)
}

// decodeEntity deserializes bytes back into an Entity. Numeric props come
// back as float64, the only number type scripts see.
func decodeEntity(data []byte) (*gamedb.Entity, error) {
	var e gamedb.Entity
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
