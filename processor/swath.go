package processor

import (
	"fmt"
	"math"

	"github.com/fhs/go-netcdf/netcdf"

	"github.com/satdatalab/satseries/common"
)

// Swath is a decoded granule in its native satellite geometry: the unpacked
// values of one variable plus per-pixel geolocation, row-major Rows*Cols.
type Swath struct {
	Variable string
	Units    string
	LongName string
	Rows     int
	Cols     int
	Lat      []float64 // NaN where the pixel has no ground coordinate
	Lon      []float64
	Values   []float64 // NaN where the granule stores its fill value
}

// DecodeSwath reads one NetCDF granule. The variable is unpacked through its
// scale_factor/add_offset attributes with the fill value mapped to NaN, and
// the geolocation is resolved from one of three layouts: 1-D lat/lon axes,
// 2-D lat/lon arrays, or the GOES ABI fixed grid (x/y scan angles plus the
// goes_imager_projection variable).
func DecodeSwath(path, variable string) (*Swath, error) {
	ds, err := netcdf.OpenFile(path, netcdf.NOWRITE)
	if err != nil {
		return nil, fmt.Errorf("DecodeSwath: %w", err)
	}
	defer ds.Close()

	v, err := ds.Var(variable)
	if err != nil {
		return nil, fmt.Errorf("DecodeSwath: variable %q not found in %s", variable, path)
	}
	values, dims, err := readUnpacked(v)
	if err != nil {
		return nil, fmt.Errorf("DecodeSwath[%s].%w", variable, err)
	}
	rows, cols, err := sceneShape(dims)
	if err != nil {
		return nil, fmt.Errorf("DecodeSwath[%s].%w", variable, err)
	}
	s := &Swath{
		Variable: variable,
		Units:    attrString(v, common.AttrUnits),
		LongName: attrString(v, common.AttrLongName),
		Rows:     rows,
		Cols:     cols,
		Values:   values,
	}
	if err := geolocate(ds, s); err != nil {
		return nil, fmt.Errorf("DecodeSwath[%s].%w", variable, err)
	}
	return s, nil
}

// sceneShape squeezes leading length-1 dimensions (GridSat granules carry a
// length-1 time axis) and requires a single 2-D scene.
func sceneShape(dims []uint64) (rows, cols int, err error) {
	i := 0
	for ; i < len(dims)-2; i++ {
		if dims[i] != 1 {
			return 0, 0, fmt.Errorf("sceneShape: unsupported shape %v, want one 2-D scene", dims)
		}
	}
	if len(dims)-i != 2 {
		return 0, 0, fmt.Errorf("sceneShape: unsupported shape %v, want one 2-D scene", dims)
	}
	return int(dims[i]), int(dims[i+1]), nil
}

// geolocate fills the per-pixel coordinates of the swath, trying lat/lon
// variables first and the ABI fixed grid second.
func geolocate(ds netcdf.Dataset, s *Swath) error {
	if ok, err := axesGeolocation(ds, s); err != nil || ok {
		return err
	}
	if ok, err := abiGeolocation(ds, s); err != nil || ok {
		return err
	}
	return fmt.Errorf("geolocate: no usable geolocation (lat/lon variables or ABI fixed grid) for a %dx%d field", s.Rows, s.Cols)
}

// axesGeolocation reads lat/lon variables: 1-D axes are broadcast over the
// field, per-pixel 2-D arrays are taken as-is.
func axesGeolocation(ds netcdf.Dataset, s *Swath) (bool, error) {
	latVar, ok := findVar(ds, "lat", "latitude", "Latitude")
	if !ok {
		return false, nil
	}
	lonVar, ok := findVar(ds, "lon", "longitude", "Longitude")
	if !ok {
		return false, nil
	}
	lat, latDims, err := readUnpacked(latVar)
	if err != nil {
		return false, fmt.Errorf("axesGeolocation: %w", err)
	}
	lon, lonDims, err := readUnpacked(lonVar)
	if err != nil {
		return false, fmt.Errorf("axesGeolocation: %w", err)
	}
	switch {
	case len(latDims) == 1 && len(lonDims) == 1 && len(lat) == s.Rows && len(lon) == s.Cols:
		s.Lat = make([]float64, s.Rows*s.Cols)
		s.Lon = make([]float64, s.Rows*s.Cols)
		for i := 0; i < s.Rows; i++ {
			for j := 0; j < s.Cols; j++ {
				k := i*s.Cols + j
				s.Lat[k] = lat[i]
				s.Lon[k] = lon[j]
			}
		}
		return true, nil
	case len(lat) == s.Rows*s.Cols && len(lon) == s.Rows*s.Cols:
		s.Lat = lat
		s.Lon = lon
		return true, nil
	}
	return false, fmt.Errorf("axesGeolocation: lat/lon shapes %v/%v do not fit a %dx%d field", latDims, lonDims, s.Rows, s.Cols)
}

func findVar(ds netcdf.Dataset, names ...string) (netcdf.Var, bool) {
	for _, name := range names {
		if v, err := ds.Var(name); err == nil {
			return v, true
		}
	}
	return netcdf.Var{}, false
}

// readUnpacked reads a variable of any numeric storage type into float64 and
// applies the CF packing attributes: raw values equal to the fill value
// become NaN, the others are scaled then offset.
func readUnpacked(v netcdf.Var) ([]float64, []uint64, error) {
	dims, err := v.Dims()
	if err != nil {
		return nil, nil, fmt.Errorf("readUnpacked: %w", err)
	}
	lens := make([]uint64, len(dims))
	total := 1
	for i, d := range dims {
		n, err := d.Len()
		if err != nil {
			return nil, nil, fmt.Errorf("readUnpacked: %w", err)
		}
		lens[i] = n
		total *= int(n)
	}
	raw, err := readFloat64s(v, total)
	if err != nil {
		return nil, nil, err
	}
	scale, hasScale := attrFloat(v, common.AttrScaleFactor)
	offset, hasOffset := attrFloat(v, common.AttrAddOffset)
	fill, hasFill := attrFloat(v, common.AttrFillValue, common.AttrMissingValue)
	for i, r := range raw {
		if hasFill && r == fill {
			raw[i] = math.NaN()
			continue
		}
		if hasScale {
			r *= scale
		}
		if hasOffset {
			r += offset
		}
		raw[i] = r
	}
	return raw, lens, nil
}

// readFloat64s reads the raw content of a variable into float64. The netcdf
// read calls only accept the exact storage type, so the conversion switches
// on it.
func readFloat64s(v netcdf.Var, total int) ([]float64, error) {
	t, err := v.Type()
	if err != nil {
		return nil, fmt.Errorf("readFloat64s: %w", err)
	}
	out := make([]float64, total)
	switch t {
	case netcdf.DOUBLE:
		if err := v.ReadFloat64s(out); err != nil {
			return nil, fmt.Errorf("readFloat64s: %w", err)
		}
	case netcdf.FLOAT:
		tmp := make([]float32, total)
		if err := v.ReadFloat32s(tmp); err != nil {
			return nil, fmt.Errorf("readFloat64s: %w", err)
		}
		for i, x := range tmp {
			out[i] = float64(x)
		}
	case netcdf.INT:
		tmp := make([]int32, total)
		if err := v.ReadInt32s(tmp); err != nil {
			return nil, fmt.Errorf("readFloat64s: %w", err)
		}
		for i, x := range tmp {
			out[i] = float64(x)
		}
	case netcdf.SHORT:
		tmp := make([]int16, total)
		if err := v.ReadInt16s(tmp); err != nil {
			return nil, fmt.Errorf("readFloat64s: %w", err)
		}
		for i, x := range tmp {
			out[i] = float64(x)
		}
	case netcdf.USHORT:
		tmp := make([]uint16, total)
		if err := v.ReadUint16s(tmp); err != nil {
			return nil, fmt.Errorf("readFloat64s: %w", err)
		}
		for i, x := range tmp {
			out[i] = float64(x)
		}
	case netcdf.UBYTE:
		tmp := make([]uint8, total)
		if err := v.ReadUint8s(tmp); err != nil {
			return nil, fmt.Errorf("readFloat64s: %w", err)
		}
		for i, x := range tmp {
			out[i] = float64(x)
		}
	default:
		return nil, fmt.Errorf("readFloat64s: unsupported storage type %v", t)
	}
	return out, nil
}

// attrFloat returns the first present attribute among names, converted to
// float64. Attribute reads are typed, so a few storage types are tried.
func attrFloat(v netcdf.Var, names ...string) (float64, bool) {
	for _, name := range names {
		a := v.Attr(name)
		n, err := a.Len()
		if err != nil || n == 0 {
			continue
		}
		f64 := make([]float64, n)
		if err := a.ReadFloat64s(f64); err == nil {
			return f64[0], true
		}
		f32 := make([]float32, n)
		if err := a.ReadFloat32s(f32); err == nil {
			return float64(f32[0]), true
		}
		i16 := make([]int16, n)
		if err := a.ReadInt16s(i16); err == nil {
			return float64(i16[0]), true
		}
		i32 := make([]int32, n)
		if err := a.ReadInt32s(i32); err == nil {
			return float64(i32[0]), true
		}
	}
	return 0, false
}

// attrString returns a text attribute, empty when absent.
func attrString(v netcdf.Var, name string) string {
	a := v.Attr(name)
	n, err := a.Len()
	if err != nil || n == 0 {
		return ""
	}
	buf := make([]byte, n)
	if err := a.ReadBytes(buf); err != nil {
		return ""
	}
	return string(buf)
}
