package series

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/satdatalab/satseries/common"
	"github.com/satdatalab/satseries/processor"
	"github.com/satdatalab/satseries/service/geometry"
	"github.com/satdatalab/satseries/service/log"
)

// DefaultCompression is the zlib level used when the writer has none set.
const DefaultCompression = 8

// Mode selects how Write treats a store already present at the resolved path.
type Mode string

const (
	// ModeAppend grows an existing store and creates one when missing.
	ModeAppend Mode = "append"
	// ModeOverwrite replaces an existing store on the first write of the run
	// to its path, then behaves like ModeAppend for the rest of the run.
	ModeOverwrite Mode = "overwrite"
)

// ParseMode validates an output mode given on the command line.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeAppend, ModeOverwrite:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown output mode %q (want %s or %s)", s, ModeAppend, ModeOverwrite)
}

// WriteError reports a failure to persist a frame into its output store.
type WriteError struct {
	Path string
	Err  error
}

func (e WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Path, e.Err)
}

func (e WriteError) Unwrap() error {
	return e.Err
}

// Writer persists frames into Zarr stores at paths resolved from a template.
// The template understands the {KEY} fields of common.ObjectRef.Info, the
// {N1} {N2} {E1} {E2} grid corners and strftime codes expanded against the
// frame timestamp, so one run may fan out over several stores.
type Writer struct {
	Template    string
	Mode        Mode
	Compression int    // zlib level, DefaultCompression when zero
	Institution string // recorded in the store attributes
	Version     string // appended to created_with

	touched map[string]struct{} // paths written during this run
}

// Write persists one frame and returns the resolved store path. skipped=true
// means the store already held the frame's timestamp and was left untouched.
func (w *Writer) Write(ctx context.Context, frame *processor.Frame) (path string, skipped bool, err error) {
	path, err = w.ResolvePath(frame)
	if err != nil {
		return "", false, WriteError{Path: w.Template, Err: err}
	}
	level := w.Compression
	if level == 0 {
		level = DefaultCompression
	}
	store := &Store{Path: path}
	start := time.Now()
	replace := w.Mode == ModeOverwrite && !w.isTouched(path)
	if replace || !store.Exists() {
		if err := store.Create(frame, level, w.storeAttrs(frame)); err != nil {
			return path, false, WriteError{Path: path, Err: err}
		}
		log.Logger(ctx).Sugar().Infof("created %s with %s in %v", path, frame.Ref.Name, time.Since(start))
	} else {
		skipped, err = store.Append(frame)
		if err != nil {
			return path, false, WriteError{Path: path, Err: err}
		}
		if skipped {
			log.Logger(ctx).Sugar().Warnf("%s already holds %s, skipping %s", path, frame.Ref.Time.Format(time.RFC3339), frame.Ref.Name)
		} else {
			log.Logger(ctx).Sugar().Infof("appended %s to %s in %v", frame.Ref.Name, path, time.Since(start))
		}
	}
	w.markTouched(path)
	return path, skipped, nil
}

// ResolvePath expands the writer template for one frame.
func (w *Writer) ResolvePath(frame *processor.Frame) (string, error) {
	if w.Template == "" {
		return "", fmt.Errorf("ResolvePath: no output template")
	}
	if frame.Grid == nil {
		return "", fmt.Errorf("ResolvePath: frame %s carries no grid", frame.Ref.Name)
	}
	g := frame.Grid
	keys := frame.Ref.Info()
	for k, v := range geometry.NewRegion(g.Lat0, g.Lat1, g.Lon0, g.Lon1).Info() {
		keys[k] = v
	}
	path := common.Strftime(common.FormatBrackets(w.Template, keys), frame.Ref.Time)
	if strings.ContainsRune(path, '{') {
		return "", fmt.Errorf("ResolvePath: unresolved field in %q", path)
	}
	return path, nil
}

func (w *Writer) isTouched(path string) bool {
	_, ok := w.touched[path]
	return ok
}

func (w *Writer) markTouched(path string) {
	if w.touched == nil {
		w.touched = map[string]struct{}{}
	}
	w.touched[path] = struct{}{}
}

func (w *Writer) storeAttrs(frame *processor.Frame) map[string]interface{} {
	createdWith := "satseries"
	if w.Version != "" {
		createdWith += " " + w.Version
	}
	institution := w.Institution
	if institution == "" {
		institution = "satdatalab"
	}
	attrs := map[string]interface{}{
		"title":         fmt.Sprintf("%s time series on a regular grid", frame.Ref.Product),
		"description":   fmt.Sprintf("%s granules regridded onto a regular latitude/longitude grid", frame.Ref.Product),
		"institution":   institution,
		"source":        strings.TrimSpace(frame.Ref.Product + " " + frame.Ref.Address),
		"Conventions":   common.ConventionsCF,
		"creation_date": time.Now().UTC().Format(time.RFC3339),
		"created_with":  createdWith,
	}
	if frame.Grid.Proj.Proj != "" {
		attrs["projection"] = frame.Grid.Proj.String()
	}
	return attrs
}
