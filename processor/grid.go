package processor

import (
	"fmt"
	"math"
)

// Projection records the equirectangular reference frame of the output grids.
// It only travels as metadata: the grid geometry itself is plain lat/lon
// degrees, but downstream tools need the parameters to rebuild the exact area
// definition.
type Projection struct {
	Proj  string
	A     float64 // semi-major axis [m]
	B     float64 // semi-minor axis [m]
	Lat0  float64 // latitude of origin [deg]
	LatTS float64 // latitude of true scale [deg]
	Lon0  float64 // central meridian [deg]
}

// EqcProjection is the reference frame recorded on every output grid.
var EqcProjection = Projection{Proj: "eqc", A: 6378144, B: 6356759, Lat0: 0, LatTS: 50, Lon0: -60}

// String renders the projection as a proj4 definition.
func (p Projection) String() string {
	return fmt.Sprintf("+proj=%s +a=%.1f +b=%.1f +lat_0=%.2f +lat_ts=%.2f +lon_0=%.2f", p.Proj, p.A, p.B, p.Lat0, p.LatTS, p.Lon0)
}

// BuildError reports grid parameters that cannot produce a valid output grid.
type BuildError struct {
	Reason string
}

func (e BuildError) Error() string {
	return fmt.Sprintf("output grid: %s", e.Reason)
}

// Grid is a regular lat/lon output grid. Lats/Lons hold the cell centers and
// are shared verbatim with the store, so the resampler and the writer always
// see identical coordinates. The axes follow the sign of the requested
// extent: lat1 < lat0 gives a descending latitude axis.
type Grid struct {
	Lat0, Lat1 float64 // latitude extent [deg]
	Lon0, Lon1 float64 // longitude extent [deg]
	Rows, Cols int
	Lats, Lons []float64 // cell centers
	Proj       Projection

	stepLat, stepLon float64 // signed cell size [deg]
}

// Build creates the output grid covering the [lat0,lat1]x[lon0,lon1] extent
// at the given resolutions [deg]. The cell counts are rounded from extent
// over resolution; a degenerate extent or a non-positive resolution is a
// BuildError.
func Build(lat0, lat1, lon0, lon1, resLat, resLon float64) (*Grid, error) {
	for _, v := range []float64{lat0, lat1, lon0, lon1, resLat, resLon} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, BuildError{Reason: fmt.Sprintf("non-finite parameter in extent [%g %g %g %g] resolution [%g %g]", lat0, lat1, lon0, lon1, resLat, resLon)}
		}
	}
	if resLat <= 0 || resLon <= 0 {
		return nil, BuildError{Reason: fmt.Sprintf("non-positive resolution [%g %g]", resLat, resLon)}
	}
	if math.Abs(lat0) > 90 || math.Abs(lat1) > 90 {
		return nil, BuildError{Reason: fmt.Sprintf("latitude extent [%g %g] out of [-90 90]", lat0, lat1)}
	}
	if math.Abs(lon0) > 360 || math.Abs(lon1) > 360 {
		return nil, BuildError{Reason: fmt.Sprintf("longitude extent [%g %g] out of [-360 360]", lon0, lon1)}
	}
	rows := int(math.Round(math.Abs(lat1-lat0) / resLat))
	cols := int(math.Round(math.Abs(lon1-lon0) / resLon))
	if rows < 1 || cols < 1 {
		return nil, BuildError{Reason: fmt.Sprintf("degenerate extent [%g %g %g %g] at resolution [%g %g]", lat0, lat1, lon0, lon1, resLat, resLon)}
	}
	return &Grid{
		Lat0: lat0, Lat1: lat1,
		Lon0: lon0, Lon1: lon1,
		Rows: rows, Cols: cols,
		Lats:    centers(lat0, lat1, rows),
		Lons:    centers(lon0, lon1, cols),
		Proj:    EqcProjection,
		stepLat: (lat1 - lat0) / float64(rows),
		stepLon: (lon1 - lon0) / float64(cols),
	}, nil
}

func centers(lo, hi float64, n int) []float64 {
	c := make([]float64, n)
	step := (hi - lo) / float64(n)
	for i := range c {
		c[i] = lo + (float64(i)+0.5)*step
	}
	return c
}

// cell returns the linear index of the cell containing the coordinate, -1
// outside the extent. NaN coordinates fall outside.
func (g *Grid) cell(lat, lon float64) int {
	u := (lat - g.Lat0) / g.stepLat
	v := (lon - g.Lon0) / g.stepLon
	if !(u >= 0 && u < float64(g.Rows)) || !(v >= 0 && v < float64(g.Cols)) {
		return -1
	}
	return int(u)*g.Cols + int(v)
}
