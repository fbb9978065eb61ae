package processor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/satdatalab/satseries/common"
	"github.com/satdatalab/satseries/service/log"
)

const (
	// DefaultSearchRadiusKm bounds the nearest-neighbor distance when the
	// caller does not set one.
	DefaultSearchRadiusKm = 5

	earthRadiusKm = 6371.0
	kmPerDegree   = earthRadiusKm * math.Pi / 180

	// minLonScale floors the cos(lat) longitude scaling so near-polar rows
	// keep a finite search window.
	minLonScale = 0.01
)

// ResampleError reports a granule that could not be regridded. It is scoped
// to a single input file so the pipeline can continue with the next one.
type ResampleError struct {
	File string
	Err  error
}

func (e ResampleError) Error() string {
	return fmt.Sprintf("resample %s: %v", e.File, e.Err)
}

func (e ResampleError) Unwrap() error {
	return e.Err
}

// Frame is one resampled time step on the output grid.
type Frame struct {
	Ref      common.ObjectRef
	Grid     *Grid
	Variable string
	Units    string
	LongName string
	Values   []float32 // Rows*Cols row-major, NaN where no source pixel qualified
}

// Resampler maps source swaths onto one output grid by nearest neighbor. The
// search radius bounds the distance between a cell center and its source
// pixel; cells with no pixel within the radius are filled with NaN.
//
// The pixel selection is value-blind: if the nearest pixel within the radius
// carries the fill value, the cell keeps NaN rather than borrowing a farther
// valid pixel. This keeps the cell bucketing reusable across frames sharing a
// geometry.
type Resampler struct {
	Grid           *Grid
	Variable       string // source variable decoded from the granules
	SearchRadiusKm float64

	index *swathIndex // bucketing of the last geometry seen
}

// RegridFile decodes one fetched granule and resamples it onto the grid. Any
// failure comes back as a ResampleError scoped to that file.
func (r *Resampler) RegridFile(ctx context.Context, localFile string, ref common.ObjectRef) (*Frame, error) {
	swath, err := DecodeSwath(localFile, r.Variable)
	if err != nil {
		return nil, ResampleError{File: ref.Name, Err: err}
	}
	return r.Resample(ctx, swath, ref)
}

// Resample maps one decoded swath onto the output grid. Each cell takes the
// value of the closest source pixel within the search radius, NaN when none
// qualifies. Distances are approximate kilometers with cos(lat) scaling of
// the longitude offset.
func (r *Resampler) Resample(ctx context.Context, swath *Swath, ref common.ObjectRef) (*Frame, error) {
	g := r.Grid
	if g == nil || g.Rows < 1 || g.Cols < 1 {
		return nil, ResampleError{File: ref.Name, Err: errors.New("no output grid")}
	}
	n := swath.Rows * swath.Cols
	if n <= 0 || len(swath.Values) != n || len(swath.Lat) != n || len(swath.Lon) != n {
		return nil, ResampleError{File: ref.Name, Err: fmt.Errorf("inconsistent swath: %dx%d field with %d values, %d coordinates", swath.Rows, swath.Cols, len(swath.Values), len(swath.Lat))}
	}

	start := time.Now()
	idx := r.index
	if idx == nil || !idx.matches(g, swath) {
		idx = bucketSwath(g, swath)
		r.index = idx
	}

	radius := r.SearchRadiusKm
	if radius <= 0 {
		radius = DefaultSearchRadiusKm
	}
	radius2 := radius * radius
	wr := windowCells(radius, math.Abs(g.stepLat)*kmPerDegree, g.Rows)
	nan32 := float32(math.NaN())

	values := make([]float32, g.Rows*g.Cols)
	matched := 0
	for i := 0; i < g.Rows; i++ {
		latC := g.Lats[i]
		cosC := math.Cos(latC * math.Pi / 180)
		scale := cosC
		if scale < minLonScale {
			scale = minLonScale
		}
		wc := windowCells(radius, math.Abs(g.stepLon)*kmPerDegree*scale, g.Cols)
		for j := 0; j < g.Cols; j++ {
			lonC := g.Lons[j]
			best := int32(-1)
			bestD := radius2
			for ii := max(i-wr, 0); ii <= min(i+wr, g.Rows-1); ii++ {
				row := ii * g.Cols
				for jj := max(j-wc, 0); jj <= min(j+wc, g.Cols-1); jj++ {
					c := row + jj
					for _, k := range idx.pixels[idx.start[c]:idx.start[c+1]] {
						dLat := (swath.Lat[k] - latC) * kmPerDegree
						dLon := (swath.Lon[k] - lonC) * kmPerDegree * cosC
						if d2 := dLat*dLat + dLon*dLon; d2 <= bestD {
							bestD = d2
							best = k
						}
					}
				}
			}
			if best >= 0 {
				values[i*g.Cols+j] = float32(swath.Values[best])
				matched++
			} else {
				values[i*g.Cols+j] = nan32
			}
		}
	}
	log.Logger(ctx).Sugar().Debugf("resampled %s onto %dx%d cells (%d matched within %gkm) in %v", ref.Name, g.Rows, g.Cols, matched, radius, time.Since(start))

	return &Frame{
		Ref:      ref,
		Grid:     g,
		Variable: swath.Variable,
		Units:    swath.Units,
		LongName: swath.LongName,
		Values:   values,
	}, nil
}

// windowCells sizes the neighborhood search window, in cells, for one cell
// dimension.
func windowCells(radiusKm, cellKm float64, limit int) int {
	if cellKm <= 0 {
		return limit
	}
	w := int(math.Ceil(radiusKm / cellKm))
	if w > limit {
		w = limit
	}
	return w
}

// swathIndex buckets source pixels into the cells of one grid so consecutive
// frames sharing a geometry skip the geolocation pass. Bucketing only looks
// at coordinates, never at values.
type swathIndex struct {
	grid   *Grid
	n      int
	sample [6]float64

	start  []int32 // cell -> offset into pixels, len Rows*Cols+1
	pixels []int32 // source pixel indices grouped by cell
}

func geometrySample(s *Swath) [6]float64 {
	n := len(s.Lat)
	return [6]float64{s.Lat[0], s.Lon[0], s.Lat[n/2], s.Lon[n/2], s.Lat[n-1], s.Lon[n-1]}
}

// matches reports whether the index was built for the same grid and, as far
// as a few sample coordinates tell, the same source geometry. NaN samples
// happen on ABI corners and compare as equal.
func (x *swathIndex) matches(g *Grid, s *Swath) bool {
	if x.grid != g || x.n != len(s.Lat) || x.n == 0 {
		return false
	}
	smp := geometrySample(s)
	for i, v := range x.sample {
		if v != smp[i] && !(math.IsNaN(v) && math.IsNaN(smp[i])) {
			return false
		}
	}
	return true
}

func bucketSwath(g *Grid, s *Swath) *swathIndex {
	n := len(s.Lat)
	cellOf := make([]int32, n)
	counts := make([]int32, g.Rows*g.Cols)
	kept := int32(0)
	for k := 0; k < n; k++ {
		c := g.cell(s.Lat[k], s.Lon[k])
		cellOf[k] = int32(c)
		if c >= 0 {
			counts[c]++
			kept++
		}
	}
	x := &swathIndex{
		grid:   g,
		n:      n,
		sample: geometrySample(s),
		start:  make([]int32, len(counts)+1),
		pixels: make([]int32, kept),
	}
	for c, cnt := range counts {
		x.start[c+1] = x.start[c] + cnt
	}
	next := append([]int32(nil), x.start[:len(counts)]...)
	for k := 0; k < n; k++ {
		if c := cellOf[k]; c >= 0 {
			x.pixels[next[c]] = int32(k)
			next[c]++
		}
	}
	return x
}
