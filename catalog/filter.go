package catalog

import (
	"sort"

	"github.com/satdatalab/satseries/common"
)

// TemporalFilter thins refs down to the requested cadence, preserving the
// input order. A ref is kept when its acquisition hour and minute fall on the
// given moduli (a zero modulus is a no-op on that axis). Both moduli at zero
// keep only the most recent ref.
func TemporalFilter(refs []common.ObjectRef, hourModulus, minuteModulus int) []common.ObjectRef {
	if len(refs) == 0 {
		return nil
	}

	// Latest only
	if hourModulus == 0 && minuteModulus == 0 {
		latest := refs[0]
		for _, ref := range refs[1:] {
			if ref.Time.After(latest.Time) || (ref.Time.Equal(latest.Time) && ref.Address > latest.Address) {
				latest = ref
			}
		}
		return []common.ObjectRef{latest}
	}

	if hourModulus <= 0 {
		hourModulus = 1
	}
	if minuteModulus <= 0 {
		minuteModulus = 1
	}

	var kept []common.ObjectRef
	for _, ref := range refs {
		t := ref.Time.UTC()
		if t.Hour()%hourModulus == 0 && t.Minute()%minuteModulus == 0 {
			kept = append(kept, ref)
		}
	}
	return kept
}

// SortRefs orders refs by acquisition time, ties broken by address.
func SortRefs(refs []common.ObjectRef) {
	sort.Slice(refs, func(i, j int) bool {
		if !refs[i].Time.Equal(refs[j].Time) {
			return refs[i].Time.Before(refs[j].Time)
		}
		return refs[i].Address < refs[j].Address
	})
}
