package processor

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func TestBuildShape(t *testing.T) {
	g, err := Build(10, 20, -60, -50, 1.0/110, 1.0/110)
	if err != nil {
		t.Fatal(err)
	}
	if g.Rows != 1100 || g.Cols != 1100 {
		t.Errorf("got %dx%d cells, want 1100x1100", g.Rows, g.Cols)
	}
	step := 10.0 / 1100
	if got, want := g.Lats[0], 10+step/2; math.Abs(got-want) > 1e-9 {
		t.Errorf("first lat center %g, want %g", got, want)
	}
	if got, want := g.Lats[1099], 20-step/2; math.Abs(got-want) > 1e-9 {
		t.Errorf("last lat center %g, want %g", got, want)
	}
	if got, want := g.Lons[0], -60+step/2; math.Abs(got-want) > 1e-9 {
		t.Errorf("first lon center %g, want %g", got, want)
	}
	if len(g.Lats) != g.Rows || len(g.Lons) != g.Cols {
		t.Errorf("center vectors %d/%d, want %d/%d", len(g.Lats), len(g.Lons), g.Rows, g.Cols)
	}
}

func TestBuildDescending(t *testing.T) {
	g, err := Build(20, 10, -50, -60, 0.5, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if g.Rows != 20 || g.Cols != 20 {
		t.Fatalf("got %dx%d cells, want 20x20", g.Rows, g.Cols)
	}
	if g.Lats[0] < g.Lats[19] {
		t.Errorf("latitude axis not descending: %g .. %g", g.Lats[0], g.Lats[19])
	}
	if got, want := g.Lats[0], 19.75; math.Abs(got-want) > 1e-9 {
		t.Errorf("first lat center %g, want %g", got, want)
	}
}

func TestBuildErrors(t *testing.T) {
	for _, tc := range []struct {
		name                               string
		lat0, lat1, lon0, lon1, rlat, rlon float64
	}{
		{"degenerate latitude", 10, 10, -60, -50, 0.1, 0.1},
		{"degenerate longitude", 10, 20, -50, -50, 0.1, 0.1},
		{"zero resolution", 10, 20, -60, -50, 0, 0.1},
		{"negative resolution", 10, 20, -60, -50, 0.1, -0.1},
		{"nan extent", math.NaN(), 20, -60, -50, 0.1, 0.1},
		{"latitude out of range", 10, 95, -60, -50, 0.1, 0.1},
	} {
		_, err := Build(tc.lat0, tc.lat1, tc.lon0, tc.lon1, tc.rlat, tc.rlon)
		if err == nil {
			t.Errorf("%s: no error", tc.name)
			continue
		}
		var be BuildError
		if !errors.As(err, &be) {
			t.Errorf("%s: %v is not a BuildError", tc.name, err)
		}
	}
}

func TestGridCell(t *testing.T) {
	g, err := Build(10, 20, -60, -50, 0.5, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	for _, tc := range []struct {
		lat, lon float64
		want     int
	}{
		{10.1, -59.9, 0},
		{19.9, -50.1, 399},
		{10.1, -50.1, 19},
		{9.9, -59.9, -1},
		{10.1, -60.1, -1},
		{math.NaN(), -59.9, -1},
		{10.1, math.NaN(), -1},
	} {
		if got := g.cell(tc.lat, tc.lon); got != tc.want {
			t.Errorf("cell(%g, %g) = %d, want %d", tc.lat, tc.lon, got, tc.want)
		}
	}
}

func TestProjectionString(t *testing.T) {
	s := EqcProjection.String()
	for _, want := range []string{"+proj=eqc", "+a=6378144.0", "+b=6356759.0", "+lat_ts=50.00", "+lon_0=-60.00"} {
		if !strings.Contains(s, want) {
			t.Errorf("projection %q misses %q", s, want)
		}
	}
}
