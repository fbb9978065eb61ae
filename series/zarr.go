// Package series persists resampled frames as Zarr v2 directory stores, one
// store per resolved output path, growing along an unlimited time axis.
package series

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zlib"

	"github.com/satdatalab/satseries/common"
	"github.com/satdatalab/satseries/processor"
)

const (
	// timeChunkLen is the chunk length of the time axis. Data chunks hold
	// exactly one frame, so only the time axis ever has partial chunks.
	timeChunkLen = 512

	dtypeInt64   = "<i8"
	dtypeFloat64 = "<f8"
	dtypeFloat32 = "<f4"
)

// zarray is the .zarray metadata document of one array.
type zarray struct {
	Chunks     []int           `json:"chunks"`
	Compressor *zlibCompressor `json:"compressor"`
	Dtype      string          `json:"dtype"`
	FillValue  interface{}     `json:"fill_value"`
	Filters    interface{}     `json:"filters"`
	Order      string          `json:"order"`
	Shape      []int           `json:"shape"`
	ZarrFormat int             `json:"zarr_format"`
}

type zlibCompressor struct {
	ID    string `json:"id"`
	Level int    `json:"level"`
}

func newZarray(shape, chunks []int, dtype string, fillValue interface{}, level int) zarray {
	return zarray{
		Chunks:     chunks,
		Compressor: &zlibCompressor{ID: "zlib", Level: level},
		Dtype:      dtype,
		FillValue:  fillValue,
		Filters:    nil,
		Order:      "C",
		Shape:      shape,
		ZarrFormat: 2,
	}
}

// Store is a single-variable Zarr v2 directory store with dimensions
// (time, lat, lon). Consolidation is left to readers; every metadata
// document is written unconsolidated the way xarray expects it.
type Store struct {
	Path string
}

// Exists reports whether a store has already been created at Path.
func (s *Store) Exists() bool {
	_, err := os.Stat(filepath.Join(s.Path, ".zgroup"))
	return err == nil
}

// Create writes a new store holding the given frame as its only time step,
// replacing whatever was at Path before. The store is assembled under a
// temporary name and moved into place afterwards, so a failed Create never
// leaves a half-written store behind.
func (s *Store) Create(frame *processor.Frame, level int, groupAttrs map[string]interface{}) error {
	g := frame.Grid
	if g == nil {
		return fmt.Errorf("Create: frame %s carries no grid", frame.Ref.Name)
	}
	if len(frame.Values) != g.Rows*g.Cols {
		return fmt.Errorf("Create: frame %s holds %d values for a %dx%d grid", frame.Ref.Name, len(frame.Values), g.Rows, g.Cols)
	}

	if err := os.MkdirAll(filepath.Dir(s.Path), 0755); err != nil {
		return fmt.Errorf("Create.%w", err)
	}
	tmp := fmt.Sprintf("%s.tmp.%s", s.Path, uuid.New().String())
	defer os.RemoveAll(tmp)

	if err := os.MkdirAll(tmp, 0755); err != nil {
		return fmt.Errorf("Create.%w", err)
	}
	if err := writeJSON(filepath.Join(tmp, ".zgroup"), map[string]int{"zarr_format": 2}); err != nil {
		return fmt.Errorf("Create.%w", err)
	}
	if err := writeJSON(filepath.Join(tmp, ".zattrs"), groupAttrs); err != nil {
		return fmt.Errorf("Create.%w", err)
	}

	if err := writeArray(tmp, "time", newZarray([]int{1}, []int{timeChunkLen}, dtypeInt64, 0, level), timeAttrs()); err != nil {
		return fmt.Errorf("Create.%w", err)
	}
	timeBuf := make([]int64, timeChunkLen)
	timeBuf[0] = frame.Ref.Time.Unix()
	if err := writeChunk(filepath.Join(tmp, "time", "0"), level, timeBuf); err != nil {
		return fmt.Errorf("Create.%w", err)
	}

	if err := writeArray(tmp, "lat", newZarray([]int{g.Rows}, []int{g.Rows}, dtypeFloat64, "NaN", level), latAttrs()); err != nil {
		return fmt.Errorf("Create.%w", err)
	}
	if err := writeChunk(filepath.Join(tmp, "lat", "0"), level, g.Lats); err != nil {
		return fmt.Errorf("Create.%w", err)
	}
	if err := writeArray(tmp, "lon", newZarray([]int{g.Cols}, []int{g.Cols}, dtypeFloat64, "NaN", level), lonAttrs()); err != nil {
		return fmt.Errorf("Create.%w", err)
	}
	if err := writeChunk(filepath.Join(tmp, "lon", "0"), level, g.Lons); err != nil {
		return fmt.Errorf("Create.%w", err)
	}

	meta := newZarray([]int{1, g.Rows, g.Cols}, []int{1, g.Rows, g.Cols}, dtypeFloat32, "NaN", level)
	if err := writeArray(tmp, frame.Variable, meta, dataAttrs(frame)); err != nil {
		return fmt.Errorf("Create.%w", err)
	}
	if err := writeChunk(filepath.Join(tmp, frame.Variable, "0.0.0"), level, frame.Values); err != nil {
		return fmt.Errorf("Create.%w", err)
	}

	if err := os.RemoveAll(s.Path); err != nil {
		return fmt.Errorf("Create.%w", err)
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		return fmt.Errorf("Create.%w", err)
	}
	return nil
}

// Append adds the frame as a new time step at the end of the store. It
// returns skipped=true without touching the store when the frame's timestamp
// is already present. Chunks are written before the .zarray shapes grow and
// the time axis shape grows last, so a reader never sees a step whose data
// chunk is missing.
func (s *Store) Append(frame *processor.Frame) (skipped bool, err error) {
	g := frame.Grid
	if g == nil {
		return false, fmt.Errorf("Append: frame %s carries no grid", frame.Ref.Name)
	}
	dataMeta, err := s.readZarray(frame.Variable)
	if err != nil {
		return false, fmt.Errorf("Append.%w", err)
	}
	timeMeta, err := s.readZarray("time")
	if err != nil {
		return false, fmt.Errorf("Append.%w", err)
	}
	if len(dataMeta.Shape) != 3 || dataMeta.Shape[1] != g.Rows || dataMeta.Shape[2] != g.Cols {
		return false, fmt.Errorf("Append: store shape %v does not fit a %dx%d grid", dataMeta.Shape, g.Rows, g.Cols)
	}
	if len(frame.Values) != g.Rows*g.Cols {
		return false, fmt.Errorf("Append: frame %s holds %d values for a %dx%d grid", frame.Ref.Name, len(frame.Values), g.Rows, g.Cols)
	}
	if len(timeMeta.Shape) != 1 || len(timeMeta.Chunks) != 1 {
		return false, fmt.Errorf("Append: unexpected time axis layout (shape %v, chunks %v)", timeMeta.Shape, timeMeta.Chunks)
	}
	n := timeMeta.Shape[0]
	if dataMeta.Shape[0] != n {
		return false, fmt.Errorf("Append: time axis length %d inconsistent with data shape %v", n, dataMeta.Shape)
	}

	stamp := frame.Ref.Time.Unix()
	times, err := s.Times()
	if err != nil {
		return false, fmt.Errorf("Append.%w", err)
	}
	for _, t := range times {
		if t == stamp {
			return true, nil
		}
	}

	// Appended chunks reuse the compression level the store was created with.
	level := dataMeta.Compressor.Level

	if err := writeChunk(filepath.Join(s.Path, frame.Variable, fmt.Sprintf("%d.0.0", n)), level, frame.Values); err != nil {
		return false, fmt.Errorf("Append.%w", err)
	}

	chunkLen := timeMeta.Chunks[0]
	chunkIx, within := n/chunkLen, n%chunkLen
	timeBuf := make([]int64, chunkLen)
	if within > 0 {
		if err := s.readChunk(filepath.Join("time", strconv.Itoa(chunkIx)), timeBuf); err != nil {
			return false, fmt.Errorf("Append.%w", err)
		}
	}
	timeBuf[within] = stamp
	if err := writeChunk(filepath.Join(s.Path, "time", strconv.Itoa(chunkIx)), level, timeBuf); err != nil {
		return false, fmt.Errorf("Append.%w", err)
	}

	dataMeta.Shape[0] = n + 1
	if err := writeJSON(filepath.Join(s.Path, frame.Variable, ".zarray"), dataMeta); err != nil {
		return false, fmt.Errorf("Append.%w", err)
	}
	timeMeta.Shape[0] = n + 1
	if err := writeJSON(filepath.Join(s.Path, "time", ".zarray"), timeMeta); err != nil {
		return false, fmt.Errorf("Append.%w", err)
	}
	return false, nil
}

// Times returns the stored time axis as epoch seconds.
func (s *Store) Times() ([]int64, error) {
	meta, err := s.readZarray("time")
	if err != nil {
		return nil, fmt.Errorf("Times.%w", err)
	}
	if len(meta.Shape) != 1 || len(meta.Chunks) != 1 || meta.Chunks[0] < 1 {
		return nil, fmt.Errorf("Times: unexpected time axis layout (shape %v, chunks %v)", meta.Shape, meta.Chunks)
	}
	n, chunkLen := meta.Shape[0], meta.Chunks[0]
	out := make([]int64, 0, n)
	buf := make([]int64, chunkLen)
	for c := 0; c*chunkLen < n; c++ {
		if err := s.readChunk(filepath.Join("time", strconv.Itoa(c)), buf); err != nil {
			return nil, fmt.Errorf("Times.%w", err)
		}
		keep := n - c*chunkLen
		if keep > chunkLen {
			keep = chunkLen
		}
		out = append(out, buf[:keep]...)
	}
	return out, nil
}

func (s *Store) readZarray(name string) (zarray, error) {
	var meta zarray
	raw, err := os.ReadFile(filepath.Join(s.Path, name, ".zarray"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return meta, fmt.Errorf("decode %s/.zarray: %w", name, err)
	}
	if meta.Compressor == nil || meta.Compressor.ID != "zlib" {
		return meta, fmt.Errorf("array %s: unsupported compressor (want zlib)", name)
	}
	return meta, nil
}

// readChunk reads and inflates one chunk into data, which must be a slice of
// the array's full chunk size.
func (s *Store) readChunk(rel string, data interface{}) error {
	raw, err := os.ReadFile(filepath.Join(s.Path, rel))
	if err != nil {
		return err
	}
	zr, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("inflate %s: %w", rel, err)
	}
	defer zr.Close()
	if err := binary.Read(zr, binary.LittleEndian, data); err != nil {
		return fmt.Errorf("decode %s: %w", rel, err)
	}
	return nil
}

func writeArray(root, name string, meta zarray, attrs map[string]interface{}) error {
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(dir, ".zarray"), meta); err != nil {
		return err
	}
	return writeJSON(filepath.Join(dir, ".zattrs"), attrs)
}

// writeChunk deflates data (C order, little endian) into the chunk file.
func writeChunk(path string, level int, data interface{}) error {
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return fmt.Errorf("deflate %s: %w", filepath.Base(path), err)
	}
	if err := binary.Write(zw, binary.LittleEndian, data); err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("deflate %s: %w", filepath.Base(path), err)
	}
	return writeFileAtomic(path, buf.Bytes())
}

func writeJSON(path string, v interface{}) error {
	raw, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, raw)
}

// writeFileAtomic writes data next to path under a temporary name and renames
// it into place.
func writeFileAtomic(path string, data []byte) error {
	tmp := fmt.Sprintf("%s.tmp.%s", path, uuid.New().String())
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func timeAttrs() map[string]interface{} {
	return map[string]interface{}{
		"_ARRAY_DIMENSIONS":     []string{"time"},
		common.AttrStandardName: "time",
		common.AttrUnits:        common.TimeUnitsEpoch,
		common.AttrCalendar:     common.CalendarGregorian,
		common.AttrAxis:         "T",
	}
}

func latAttrs() map[string]interface{} {
	return map[string]interface{}{
		"_ARRAY_DIMENSIONS":     []string{"lat"},
		common.AttrStandardName: "latitude",
		common.AttrUnits:        "degree_north",
		common.AttrAxis:         "Y",
	}
}

func lonAttrs() map[string]interface{} {
	return map[string]interface{}{
		"_ARRAY_DIMENSIONS":     []string{"lon"},
		common.AttrStandardName: "longitude",
		common.AttrUnits:        "degree_east",
		common.AttrAxis:         "X",
	}
}

func dataAttrs(frame *processor.Frame) map[string]interface{} {
	attrs := map[string]interface{}{
		"_ARRAY_DIMENSIONS":     []string{"time", "lat", "lon"},
		common.AttrMissingValue: "NaN",
	}
	if frame.LongName != "" {
		attrs[common.AttrLongName] = frame.LongName
	}
	if frame.Units != "" {
		attrs[common.AttrUnits] = frame.Units
	}
	return attrs
}
