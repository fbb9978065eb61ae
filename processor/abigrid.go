package processor

import (
	"fmt"
	"math"

	"github.com/fhs/go-netcdf/netcdf"
)

// imagerProjection is the geostationary view geometry read from the
// goes_imager_projection variable of ABI granules.
type imagerProjection struct {
	height    float64 // perspective point height above the ellipsoid [m]
	semiMajor float64 // [m]
	semiMinor float64 // [m]
	lonOrigin float64 // longitude of projection origin [deg]
	sweep     string
}

// abiGeolocation inverts the ABI fixed grid: the x/y scan angles [rad]
// combined with the imager projection give per-pixel lat/lon. Pixels whose
// view ray misses the Earth disk get NaN coordinates and never reach the
// output grid.
func abiGeolocation(ds netcdf.Dataset, s *Swath) (bool, error) {
	projVar, ok := findVar(ds, "goes_imager_projection")
	if !ok {
		return false, nil
	}
	xVar, okX := findVar(ds, "x")
	yVar, okY := findVar(ds, "y")
	if !okX || !okY {
		return false, nil
	}
	proj, err := readImagerProjection(projVar)
	if err != nil {
		return false, fmt.Errorf("abiGeolocation: %w", err)
	}
	x, xDims, err := readUnpacked(xVar)
	if err != nil {
		return false, fmt.Errorf("abiGeolocation: %w", err)
	}
	y, yDims, err := readUnpacked(yVar)
	if err != nil {
		return false, fmt.Errorf("abiGeolocation: %w", err)
	}
	if len(xDims) != 1 || len(yDims) != 1 || len(y) != s.Rows || len(x) != s.Cols {
		return false, fmt.Errorf("abiGeolocation: scan angles %dx%d do not fit a %dx%d field", len(y), len(x), s.Rows, s.Cols)
	}
	s.Lat = make([]float64, s.Rows*s.Cols)
	s.Lon = make([]float64, s.Rows*s.Cols)
	for i, ya := range y {
		for j, xa := range x {
			k := i*s.Cols + j
			s.Lat[k], s.Lon[k] = proj.latLon(xa, ya)
		}
	}
	return true, nil
}

func readImagerProjection(v netcdf.Var) (imagerProjection, error) {
	p := imagerProjection{sweep: attrString(v, "sweep_angle_axis")}
	var ok bool
	if p.height, ok = attrFloat(v, "perspective_point_height"); !ok {
		return p, fmt.Errorf("readImagerProjection: missing perspective_point_height")
	}
	if p.semiMajor, ok = attrFloat(v, "semi_major_axis"); !ok {
		return p, fmt.Errorf("readImagerProjection: missing semi_major_axis")
	}
	if p.semiMinor, ok = attrFloat(v, "semi_minor_axis"); !ok {
		return p, fmt.Errorf("readImagerProjection: missing semi_minor_axis")
	}
	if p.lonOrigin, ok = attrFloat(v, "longitude_of_projection_origin"); !ok {
		return p, fmt.Errorf("readImagerProjection: missing longitude_of_projection_origin")
	}
	if p.sweep != "" && p.sweep != "x" {
		return p, fmt.Errorf("readImagerProjection: unsupported sweep_angle_axis %q", p.sweep)
	}
	return p, nil
}

// latLon converts one pair of fixed-grid scan angles to geodetic degrees.
// The quadratic solves the view-ray / ellipsoid intersection; a negative
// discriminant means the ray misses the Earth.
func (p imagerProjection) latLon(x, y float64) (lat, lon float64) {
	sinX, cosX := math.Sincos(x)
	sinY, cosY := math.Sincos(y)
	h := p.height + p.semiMajor
	eqPol := (p.semiMajor * p.semiMajor) / (p.semiMinor * p.semiMinor)

	a := sinX*sinX + cosX*cosX*(cosY*cosY+eqPol*sinY*sinY)
	b := -2 * h * cosX * cosY
	c := h*h - p.semiMajor*p.semiMajor
	disc := b*b - 4*a*c
	if disc < 0 {
		return math.NaN(), math.NaN()
	}
	rs := (-b - math.Sqrt(disc)) / (2 * a)
	sx := rs * cosX * cosY
	sy := -rs * sinX
	sz := rs * cosX * sinY

	lat = math.Atan(eqPol*sz/math.Hypot(h-sx, sy)) * 180 / math.Pi
	lon = p.lonOrigin - math.Atan(sy/(h-sx))*180/math.Pi
	return lat, lon
}
