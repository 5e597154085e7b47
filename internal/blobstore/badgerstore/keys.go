package badgerstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Key namespaces. Components are separated by NUL so a layer prefix never
// matches a longer layer name.
//
//	Tile      t\0<layer>\0<gridset>\0<format>\0<paramsId>\0<z>\0<x>\0<y>   created(8) + blob
//	Metadata  m\0<layer>\0<key>                                             value
const (
	prefixTile     = "t"
	prefixMetadata = "m"
	sep            = "\x00"
)

func checkComponent(kind, value string) error {
	if value == "" {
		return fmt.Errorf("%s required", kind)
	}
	if strings.Contains(value, sep) {
		return fmt.Errorf("%s %q contains NUL", kind, value)
	}
	return nil
}

func keyLayerTiles(layer string) []byte {
	return []byte(prefixTile + sep + layer + sep)
}

func keyGridset(layer, gridSetID string) []byte {
	return []byte(prefixTile + sep + layer + sep + gridSetID + sep)
}

func keyFormat(layer, gridSetID, format, paramsID string) []byte {
	return []byte(prefixTile + sep + layer + sep + gridSetID + sep + format + sep + paramsID + sep)
}

func keyTile(layer, gridSetID, format, paramsID string, x, y int64, z int) []byte {
	prefix := keyFormat(layer, gridSetID, format, paramsID)
	return append(prefix, []byte(strconv.Itoa(z)+sep+strconv.FormatInt(x, 10)+sep+strconv.FormatInt(y, 10))...)
}

func keyLayerMetadata(layer string) []byte {
	return []byte(prefixMetadata + sep + layer + sep)
}

func keyMetadata(layer, key string) []byte {
	return append(keyLayerMetadata(layer), key...)
}

// parseTileIndex decodes "<z>\0<x>\0<y>" from the key remainder after a
// format prefix.
func parseTileIndex(rest []byte) (x, y int64, z int, err error) {
	parts := strings.Split(string(rest), sep)
	if len(parts) != 3 {
		return 0, 0, 0, errors.New("malformed tile key")
	}
	if z, err = strconv.Atoi(parts[0]); err != nil {
		return 0, 0, 0, err
	}
	if x, err = strconv.ParseInt(parts[1], 10, 64); err != nil {
		return 0, 0, 0, err
	}
	if y, err = strconv.ParseInt(parts[2], 10, 64); err != nil {
		return 0, 0, 0, err
	}
	return x, y, z, nil
}

func encodeTile(created time.Time, blob []byte) []byte {
	out := make([]byte, 8+len(blob))
	binary.BigEndian.PutUint64(out, uint64(created.UnixNano()))
	copy(out[8:], blob)
	return out
}

func decodeTile(value []byte) (time.Time, []byte, error) {
	if len(value) < 8 {
		return time.Time{}, nil, errors.New("tile value too short")
	}
	created := time.Unix(0, int64(binary.BigEndian.Uint64(value[:8]))).UTC()
	return created, value[8:], nil
}

func blobSize(valueSize int64) int64 {
	if valueSize < 8 {
		return 0
	}
	return valueSize - 8
}
