package catalog

import (
	"context"
	"time"

	"github.com/satdatalab/satseries/common"
)

// Lister enumerates the remote objects of a product acquired on a given day.
// Implementations return the references in remote listing order and never
// treat an empty day as an error.
type Lister interface {
	// Name identifies the backend in logs and reports.
	Name() string
	// List returns the references of the product objects whose acquisition
	// time falls on day (UTC).
	List(ctx context.Context, product *common.Product, day time.Time, mesoregion string) ([]common.ObjectRef, error)
}

// SameDay reports whether t falls on the given UTC day. Listing backends that
// enumerate coarser partitions (a whole year) use it to trim their result.
func SameDay(t, day time.Time) bool {
	y1, m1, d1 := t.UTC().Date()
	y2, m2, d2 := day.UTC().Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}
