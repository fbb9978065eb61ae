package common

// CF attribute names shared by the granule decoder and the series writer
const (
	AttrStandardName = "standard_name"
	AttrLongName     = "long_name"
	AttrUnits        = "units"
	AttrAxis         = "axis"
	AttrCalendar     = "calendar"
	AttrMissingValue = "missing_value"
	AttrFillValue    = "_FillValue"
	AttrScaleFactor  = "scale_factor"
	AttrAddOffset    = "add_offset"

	TimeUnitsEpoch    = "seconds since 1970-1-1 0:00:00"
	CalendarGregorian = "gregorian"
	ConventionsCF     = "CF-1.7"
)
