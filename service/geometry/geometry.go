package geometry

import (
	"fmt"

	"github.com/go-spatial/geom"
	geomwkt "github.com/go-spatial/geom/encoding/wkt"
)

// Region is the axis-aligned lat/lon rectangle of interest. The underlying
// extent is (MinX, MinY, MaxX, MaxY) = (lon0, lat0, lon1, lat1).
type Region struct {
	*geom.Extent
}

// NewRegion normalizes the four corners into a region, whatever the corner
// order given by the user.
func NewRegion(lat0, lat1, lon0, lon1 float64) Region {
	return Region{geom.NewExtent([2]float64{lon0, lat0}, [2]float64{lon1, lat1})}
}

// FromGeometry returns the bounding region of a geometry.
func FromGeometry(g geom.Geometry) (Region, error) {
	ext, err := geom.NewExtentFromGeometry(g)
	if err != nil {
		return Region{}, fmt.Errorf("FromGeometry: %w", err)
	}
	return Region{ext}, nil
}

func (r Region) Lat0() float64 { return r.MinY() }
func (r Region) Lat1() float64 { return r.MaxY() }
func (r Region) Lon0() float64 { return r.MinX() }
func (r Region) Lon1() float64 { return r.MaxX() }

// IsDegenerate reports whether the region collapses to a line or a point.
func (r Region) IsDegenerate() bool {
	return r.Extent == nil || r.Lat0() == r.Lat1() || r.Lon0() == r.Lon1()
}

// Contains reports whether the lat/lon point falls inside the region.
func (r Region) Contains(lat, lon float64) bool {
	return lon >= r.Lon0() && lon <= r.Lon1() && lat >= r.Lat0() && lat <= r.Lat1()
}

// Info returns the template keys of the region bounds (see common.FormatBrackets)
func (r Region) Info() map[string]string {
	return map[string]string{
		"N1": fmt.Sprintf("%g", r.Lat0()),
		"N2": fmt.Sprintf("%g", r.Lat1()),
		"E1": fmt.Sprintf("%g", r.Lon0()),
		"E2": fmt.Sprintf("%g", r.Lon1()),
	}
}

// WKT renders the region as a closed polygon, for logs and reports.
func (r Region) WKT() string {
	p := geom.Polygon{{
		{r.Lon0(), r.Lat0()},
		{r.Lon1(), r.Lat0()},
		{r.Lon1(), r.Lat1()},
		{r.Lon0(), r.Lat1()},
		{r.Lon0(), r.Lat0()},
	}}
	return geomwkt.MustEncode(p)
}
