package storage

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// TileObject addresses one encoded tile and carries its payload.
type TileObject struct {
	LayerName    string
	GridSetID    string
	XYZ          [3]int64
	Format       string
	Parameters   map[string]string
	ParametersID string
	Blob         []byte
	Created      time.Time
}

// NewTileObject builds a tile address and derives its ParametersID.
func NewTileObject(layerName, gridSetID, format string, xyz [3]int64, params map[string]string) *TileObject {
	return &TileObject{
		LayerName:    layerName,
		GridSetID:    gridSetID,
		XYZ:          xyz,
		Format:       format,
		Parameters:   params,
		ParametersID: ParametersID(params),
	}
}

// X returns the tile column.
func (t *TileObject) X() int64 { return t.XYZ[0] }

// Y returns the tile row.
func (t *TileObject) Y() int64 { return t.XYZ[1] }

// Z returns the zoom level.
func (t *TileObject) Z() int { return int(t.XYZ[2]) }

// BlobSize returns the payload length in bytes.
func (t *TileObject) BlobSize() int64 { return int64(len(t.Blob)) }

// ParamsID returns ParametersID, deriving it from Parameters when unset.
// The tile is never modified, so concurrent calls are safe.
func (t *TileObject) ParamsID() string {
	if t.ParametersID == "" && len(t.Parameters) > 0 {
		return ParametersID(t.Parameters)
	}
	return t.ParametersID
}

// Validate checks that the tile can be addressed by a backend.
func (t *TileObject) Validate() error {
	if t == nil {
		return errors.New("tile is nil")
	}
	if strings.TrimSpace(t.LayerName) == "" {
		return errors.New("tile layer name required")
	}
	if strings.TrimSpace(t.GridSetID) == "" {
		return errors.New("tile gridset id required")
	}
	if strings.TrimSpace(t.Format) == "" {
		return errors.New("tile format required")
	}
	if t.XYZ[0] < 0 || t.XYZ[1] < 0 || t.XYZ[2] < 0 {
		return fmt.Errorf("invalid tile index %v", t.XYZ)
	}
	return nil
}

// String renders the tile address for logs.
func (t *TileObject) String() string {
	return fmt.Sprintf("%s/%s/%s/%d/%d/%d", t.LayerName, t.GridSetID, t.Format, t.Z(), t.X(), t.Y())
}

// Event builds the listener payload describing this tile.
func (t *TileObject) Event() TileEvent {
	return TileEvent{
		LayerName:    t.LayerName,
		GridSetID:    t.GridSetID,
		Format:       t.Format,
		ParametersID: t.ParamsID(),
		X:            t.X(),
		Y:            t.Y(),
		Z:            t.Z(),
		BlobSize:     t.BlobSize(),
	}
}

// GridBounds is an inclusive tile index rectangle at one zoom level.
type GridBounds struct {
	MinX int64
	MinY int64
	MaxX int64
	MaxY int64
}

// Contains reports whether (x, y) lies inside the bounds.
func (b GridBounds) Contains(x, y int64) bool {
	return x >= b.MinX && x <= b.MaxX && y >= b.MinY && y <= b.MaxY
}

// TileRange selects tiles of one layer/gridset/format/parameters combination
// across a span of zoom levels. Zoom levels without an entry in Bounds are
// selected entirely.
type TileRange struct {
	LayerName    string
	GridSetID    string
	Format       string
	ParametersID string
	ZoomStart    int
	ZoomStop     int
	Bounds       map[int]GridBounds
}

// Validate checks the range before a backend walks it.
func (r *TileRange) Validate() error {
	if r == nil {
		return errors.New("tile range is nil")
	}
	if strings.TrimSpace(r.LayerName) == "" {
		return errors.New("tile range layer name required")
	}
	if strings.TrimSpace(r.GridSetID) == "" {
		return errors.New("tile range gridset id required")
	}
	if strings.TrimSpace(r.Format) == "" {
		return errors.New("tile range format required")
	}
	if r.ZoomStart < 0 || r.ZoomStop < r.ZoomStart {
		return fmt.Errorf("invalid zoom span %d..%d", r.ZoomStart, r.ZoomStop)
	}
	return nil
}

// Contains reports whether the tile index is selected by the range.
func (r *TileRange) Contains(x, y int64, z int) bool {
	if z < r.ZoomStart || z > r.ZoomStop {
		return false
	}
	bounds, ok := r.Bounds[z]
	if !ok {
		return true
	}
	return bounds.Contains(x, y)
}

// ParametersID derives a stable identifier from request parameters. It
// returns "" when there are none.
func ParametersID(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(strings.ToUpper(k))
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	sum := sha1.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

var formatExtensions = map[string]string{
	"image/png":                          "png",
	"image/png8":                         "png",
	"image/png; mode=8bit":               "png",
	"image/jpeg":                         "jpeg",
	"image/gif":                          "gif",
	"image/webp":                         "webp",
	"image/tiff":                         "tiff",
	"application/json":                   "json",
	"application/vnd.mapbox-vector-tile": "pbf",
	"application/x-protobuf":             "pbf",
}

// FormatExtension maps a MIME type to the file extension used in storage
// keys.
func FormatExtension(format string) string {
	normalized := strings.ToLower(strings.TrimSpace(format))
	if ext, ok := formatExtensions[normalized]; ok {
		return ext
	}
	if idx := strings.LastIndex(normalized, "/"); idx >= 0 {
		normalized = normalized[idx+1:]
	}
	var b strings.Builder
	for _, r := range normalized {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "bin"
	}
	return b.String()
}
