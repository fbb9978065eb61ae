package series

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zlib"

	"github.com/satdatalab/satseries/common"
	"github.com/satdatalab/satseries/processor"
)

func mustGrid(t *testing.T) *processor.Grid {
	t.Helper()
	g, err := processor.Build(10, 12, -60, -58, 0.5, 0.5)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return g
}

func testFrame(g *processor.Grid, at time.Time, base float32) *processor.Frame {
	values := make([]float32, g.Rows*g.Cols)
	for i := range values {
		values[i] = base + float32(i)
	}
	values[5] = float32(math.NaN())
	name := fmt.Sprintf("OR_ABI-L2-CMIPF-M6C13_G16_s%s.nc", at.Format("20060102150405"))
	return &processor.Frame{
		Ref: common.ObjectRef{
			Address: "s3://noaa-goes16/" + name,
			Name:    name,
			Time:    at,
			Product: "goes16-l2-cmip",
			Channel: "13",
		},
		Grid:     g,
		Variable: "CMI",
		Units:    "K",
		LongName: "ABI L2+ Cloud and Moisture Imagery brightness temperature",
		Values:   values,
	}
}

func readJSON(t *testing.T, path string, v interface{}) {
	t.Helper()
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
}

func TestWriteCreatesStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	g := mustGrid(t)
	frame := testFrame(g, time.Date(2021, 7, 1, 10, 0, 0, 0, time.UTC), 270)

	w := &Writer{Template: filepath.Join(dir, "{PRODUCT}_C{CHANNEL}.zarr"), Mode: ModeAppend, Compression: 6}
	path, skipped, err := w.Write(ctx, frame)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if skipped {
		t.Fatal("first write reported skipped")
	}
	if want := filepath.Join(dir, "goes16-l2-cmip_C13.zarr"); path != want {
		t.Fatalf("resolved path %s, want %s", path, want)
	}

	var group map[string]interface{}
	readJSON(t, filepath.Join(path, ".zgroup"), &group)
	if got, ok := group["zarr_format"].(float64); !ok || got != 2 {
		t.Errorf("zarr_format = %v, want 2", group["zarr_format"])
	}

	var attrs map[string]interface{}
	readJSON(t, filepath.Join(path, ".zattrs"), &attrs)
	if attrs["Conventions"] != common.ConventionsCF {
		t.Errorf("Conventions = %v, want %s", attrs["Conventions"], common.ConventionsCF)
	}
	if src, _ := attrs["source"].(string); !strings.Contains(src, frame.Ref.Address) {
		t.Errorf("source %q does not name the originating object", src)
	}
	if proj, _ := attrs["projection"].(string); !strings.Contains(proj, "+proj=eqc") {
		t.Errorf("projection %q does not carry the grid reference frame", proj)
	}
	if cw, _ := attrs["created_with"].(string); !strings.Contains(cw, "satseries") {
		t.Errorf("created_with = %q", cw)
	}

	store := &Store{Path: path}
	meta, err := store.readZarray("CMI")
	if err != nil {
		t.Fatalf("readZarray(CMI): %v", err)
	}
	if !reflect.DeepEqual(meta.Shape, []int{1, g.Rows, g.Cols}) {
		t.Errorf("data shape %v, want [1 %d %d]", meta.Shape, g.Rows, g.Cols)
	}
	if !reflect.DeepEqual(meta.Chunks, []int{1, g.Rows, g.Cols}) {
		t.Errorf("data chunks %v, want one frame per chunk", meta.Chunks)
	}
	if meta.Dtype != dtypeFloat32 || meta.Order != "C" {
		t.Errorf("data dtype %s order %s, want %s C", meta.Dtype, meta.Order, dtypeFloat32)
	}
	if meta.FillValue != "NaN" {
		t.Errorf("data fill_value %v, want NaN", meta.FillValue)
	}
	if meta.Compressor.Level != 6 {
		t.Errorf("compressor level %d, want 6", meta.Compressor.Level)
	}

	// inflate the data chunk directly to make sure any zlib reader can
	raw, err := os.ReadFile(filepath.Join(path, "CMI", "0.0.0"))
	if err != nil {
		t.Fatalf("read data chunk: %v", err)
	}
	zr, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("inflate data chunk: %v", err)
	}
	defer zr.Close()
	got := make([]float32, g.Rows*g.Cols)
	if err := binary.Read(zr, binary.LittleEndian, got); err != nil {
		t.Fatalf("decode data chunk: %v", err)
	}
	for i, want := range frame.Values {
		switch {
		case math.IsNaN(float64(want)):
			if !math.IsNaN(float64(got[i])) {
				t.Fatalf("cell %d = %g, want NaN", i, got[i])
			}
		case got[i] != want:
			t.Fatalf("cell %d = %g, want %g", i, got[i], want)
		}
	}

	times, err := store.Times()
	if err != nil {
		t.Fatalf("Times: %v", err)
	}
	if len(times) != 1 || times[0] != frame.Ref.Time.Unix() {
		t.Errorf("times %v, want [%d]", times, frame.Ref.Time.Unix())
	}

	lats := make([]float64, g.Rows)
	if err := store.readChunk(filepath.Join("lat", "0"), lats); err != nil {
		t.Fatalf("read lat chunk: %v", err)
	}
	if !reflect.DeepEqual(lats, g.Lats) {
		t.Errorf("stored lat centers %v, want %v", lats, g.Lats)
	}

	var timeAt map[string]interface{}
	readJSON(t, filepath.Join(path, "time", ".zattrs"), &timeAt)
	if timeAt[common.AttrUnits] != common.TimeUnitsEpoch {
		t.Errorf("time units %v, want %s", timeAt[common.AttrUnits], common.TimeUnitsEpoch)
	}
	if dims, _ := timeAt["_ARRAY_DIMENSIONS"].([]interface{}); len(dims) != 1 || dims[0] != "time" {
		t.Errorf("time dimensions %v, want [time]", timeAt["_ARRAY_DIMENSIONS"])
	}

	var dataAt map[string]interface{}
	readJSON(t, filepath.Join(path, "CMI", ".zattrs"), &dataAt)
	if dataAt[common.AttrUnits] != "K" || dataAt[common.AttrLongName] != frame.LongName {
		t.Errorf("data attrs %v miss units/long_name", dataAt)
	}
}

func TestWriteAppendsInOrder(t *testing.T) {
	ctx := context.Background()
	out := filepath.Join(t.TempDir(), "series.zarr")
	g := mustGrid(t)
	t1 := time.Date(2021, 7, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(10 * time.Minute)

	w := &Writer{Template: out, Mode: ModeAppend}
	if _, _, err := w.Write(ctx, testFrame(g, t1, 270)); err != nil {
		t.Fatalf("Write t1: %v", err)
	}
	firstChunk, err := os.ReadFile(filepath.Join(out, "CMI", "0.0.0"))
	if err != nil {
		t.Fatalf("read first chunk: %v", err)
	}

	_, skipped, err := w.Write(ctx, testFrame(g, t2, 300))
	if err != nil {
		t.Fatalf("Write t2: %v", err)
	}
	if skipped {
		t.Fatal("append of a new timestamp reported skipped")
	}

	store := &Store{Path: out}
	times, err := store.Times()
	if err != nil {
		t.Fatalf("Times: %v", err)
	}
	if want := []int64{t1.Unix(), t2.Unix()}; !reflect.DeepEqual(times, want) {
		t.Fatalf("times %v, want %v", times, want)
	}

	meta, err := store.readZarray("CMI")
	if err != nil {
		t.Fatalf("readZarray: %v", err)
	}
	if !reflect.DeepEqual(meta.Shape, []int{2, g.Rows, g.Cols}) {
		t.Errorf("data shape %v after append, want [2 %d %d]", meta.Shape, g.Rows, g.Cols)
	}

	after, err := os.ReadFile(filepath.Join(out, "CMI", "0.0.0"))
	if err != nil {
		t.Fatalf("reread first chunk: %v", err)
	}
	if !bytes.Equal(firstChunk, after) {
		t.Error("appending rewrote the first frame's chunk")
	}

	second := make([]float32, g.Rows*g.Cols)
	if err := store.readChunk(filepath.Join("CMI", "1.0.0"), second); err != nil {
		t.Fatalf("read second chunk: %v", err)
	}
	if second[0] != 300 {
		t.Errorf("second frame cell 0 = %g, want 300", second[0])
	}
}

func TestWriteDuplicateTimestampSkipped(t *testing.T) {
	ctx := context.Background()
	out := filepath.Join(t.TempDir(), "series.zarr")
	g := mustGrid(t)
	at := time.Date(2021, 7, 1, 10, 0, 0, 0, time.UTC)

	w := &Writer{Template: out, Mode: ModeAppend}
	if _, _, err := w.Write(ctx, testFrame(g, at, 270)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	chunk, err := os.ReadFile(filepath.Join(out, "CMI", "0.0.0"))
	if err != nil {
		t.Fatalf("read chunk: %v", err)
	}

	// same timestamp again, even with different values
	_, skipped, err := w.Write(ctx, testFrame(g, at, 400))
	if err != nil {
		t.Fatalf("duplicate Write: %v", err)
	}
	if !skipped {
		t.Fatal("duplicate timestamp not skipped")
	}

	store := &Store{Path: out}
	times, err := store.Times()
	if err != nil {
		t.Fatalf("Times: %v", err)
	}
	if len(times) != 1 {
		t.Fatalf("times %v, want a single entry", times)
	}
	after, err := os.ReadFile(filepath.Join(out, "CMI", "0.0.0"))
	if err != nil {
		t.Fatalf("reread chunk: %v", err)
	}
	if !bytes.Equal(chunk, after) {
		t.Error("skipped write still touched the stored chunk")
	}
}

func TestWriteOverwriteReplacesOncePerRun(t *testing.T) {
	ctx := context.Background()
	out := filepath.Join(t.TempDir(), "series.zarr")
	g := mustGrid(t)
	t0 := time.Date(2021, 6, 30, 10, 0, 0, 0, time.UTC)
	t1 := time.Date(2021, 7, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(10 * time.Minute)

	seed := &Writer{Template: out, Mode: ModeAppend}
	if _, _, err := seed.Write(ctx, testFrame(g, t0, 250)); err != nil {
		t.Fatalf("seed Write: %v", err)
	}

	w := &Writer{Template: out, Mode: ModeOverwrite}
	if _, _, err := w.Write(ctx, testFrame(g, t1, 270)); err != nil {
		t.Fatalf("overwrite Write: %v", err)
	}
	if _, _, err := w.Write(ctx, testFrame(g, t2, 280)); err != nil {
		t.Fatalf("second Write: %v", err)
	}

	store := &Store{Path: out}
	times, err := store.Times()
	if err != nil {
		t.Fatalf("Times: %v", err)
	}
	if want := []int64{t1.Unix(), t2.Unix()}; !reflect.DeepEqual(times, want) {
		t.Fatalf("times %v, want %v (previous run replaced, same run appended)", times, want)
	}
}

func TestWriteBadFrameLeavesNoStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	out := filepath.Join(dir, "series.zarr")
	g := mustGrid(t)
	frame := testFrame(g, time.Date(2021, 7, 1, 10, 0, 0, 0, time.UTC), 270)
	frame.Values = frame.Values[:3]

	w := &Writer{Template: out, Mode: ModeAppend}
	_, _, err := w.Write(ctx, frame)
	var werr WriteError
	if !errors.As(err, &werr) {
		t.Fatalf("Write err = %v, want a WriteError", err)
	}
	if werr.Path != out {
		t.Errorf("WriteError path %s, want %s", werr.Path, out)
	}
	if (&Store{Path: out}).Exists() {
		t.Error("failed write left a store behind")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("failed write left %d entries in the output directory", len(entries))
	}
}

func TestResolvePath(t *testing.T) {
	g, err := processor.Build(10, 20, -60, -50, 0.5, 0.5)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	frame := testFrame(g, time.Date(2020, 2, 3, 12, 30, 0, 0, time.UTC), 270)

	w := &Writer{Template: "/out/{PRODUCT}_C{CHANNEL}_{N1}-{N2}N_{E1}-{E2}E_%Y%m%d.zarr"}
	path, err := w.ResolvePath(frame)
	if err != nil {
		t.Fatalf("ResolvePath: %v", err)
	}
	if want := "/out/goes16-l2-cmip_C13_10-20N_-60--50E_20200203.zarr"; path != want {
		t.Errorf("resolved %s, want %s", path, want)
	}

	w = &Writer{Template: "/out/{SECTOR}.zarr"}
	if _, err := w.ResolvePath(frame); err == nil {
		t.Error("unresolved template field did not error")
	}

	w = &Writer{Template: "/out/series.zarr"}
	frame.Grid = nil
	if _, err := w.ResolvePath(frame); err == nil {
		t.Error("frame without grid did not error")
	}
}

func TestParseMode(t *testing.T) {
	for _, s := range []string{"append", "overwrite"} {
		m, err := ParseMode(s)
		if err != nil || string(m) != s {
			t.Errorf("ParseMode(%q) = %v, %v", s, m, err)
		}
	}
	if _, err := ParseMode("replace"); err == nil {
		t.Error("ParseMode accepted an unknown mode")
	}
}
