package common

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ObjectRef identifies one remote object of a product. The acquisition time is
// always derived from the object name through the product pattern, never
// guessed from character positions.
type ObjectRef struct {
	Address    string    `json:"address"` // full URL, the scheme selects the fetch backend
	Name       string    `json:"name"`    // object base name
	Time       time.Time `json:"time"`    // acquisition start time (UTC)
	Product    string    `json:"product"`
	Channel    string    `json:"channel,omitempty"`    // "C01".."C16" for channelled products
	Mesoregion string    `json:"mesoregion,omitempty"` // "M1"/"M2", empty for full scenes
}

// Info returns the template keys of the reference (see FormatBrackets)
func (r ObjectRef) Info() map[string]string {
	return map[string]string{
		"NAME":       r.Name,
		"PRODUCT":    r.Product,
		"CHANNEL":    r.Channel,
		"MESOREGION": r.Mesoregion,
	}
}

// Product describes a supported collection: how its object names parse, where
// its objects are listed and how its granules decode.
type Product struct {
	Name        string
	Description string

	// pattern extracts the time fields (YEAR+DOY or YEAR+MONTH+DAY, then
	// HOUR/MINUTE/SECOND or GRANULE) and the CHANNEL/SECTOR tags from an
	// object name.
	pattern *regexp.Regexp

	// Remote layout
	GCSBucket      string
	S3Bucket       string
	S3Region       string
	prefixLayout   string // day partition, bracket+strftime template
	ThreddsCatalog string // catalog.xml address, strftime template
	IndexURL       string // directory-index address, strftime template
	CMRShortName   string // CMR granule-search collection name

	// Decoding
	Variable        string // default data variable of the granules
	Units           string // fallback when the granule has no units attribute
	LongName        string
	Channelled      bool // object names carry a Cnn channel tag
	Mesoregions     bool // M1/M2 sectors exist next to the full scene
	AcquisitionOnly bool // fetch only, granules are not decoded
}

var products = []*Product{
	{
		Name:         "goes16-l2-sst",
		Description:  "GOES-16 ABI L2 sea surface temperature, full disk",
		pattern:      regexp.MustCompile(`^OR_ABI-L2-SSTF-M\d_G16_s(?P<YEAR>\d{4})(?P<DOY>\d{3})(?P<HOUR>\d{2})(?P<MINUTE>\d{2})(?P<SECOND>\d{2})\d_e\d{14}_c\d{14}\.nc$`),
		GCSBucket:    "gcp-public-data-goes-16",
		S3Bucket:     "noaa-goes16",
		S3Region:     "us-east-1",
		prefixLayout: "ABI-L2-SSTF/%Y/%j/",
		Variable:     "SST",
		Units:        "K",
		LongName:     "sea surface temperature",
	},
	{
		Name:         "goes16-l2-cmip",
		Description:  "GOES-16 ABI L2 cloud and moisture imagery brightness",
		pattern:      regexp.MustCompile(`^OR_ABI-L2-CMIP(?P<SECTOR>F|C|M1|M2)-M\d(?P<CHANNEL>C\d{2})_G16_s(?P<YEAR>\d{4})(?P<DOY>\d{3})(?P<HOUR>\d{2})(?P<MINUTE>\d{2})(?P<SECOND>\d{2})\d_e\d{14}_c\d{14}\.nc$`),
		GCSBucket:    "gcp-public-data-goes-16",
		S3Bucket:     "noaa-goes16",
		S3Region:     "us-east-1",
		prefixLayout: "ABI-L2-CMIP{SECTOR}/%Y/%j/",
		Variable:     "CMI",
		Units:        "K",
		LongName:     "cloud and moisture imagery",
		Channelled:   true,
		Mesoregions:  true,
	},
	{
		Name:         "goes16-l1b",
		Description:  "GOES-16 ABI L1b radiances",
		pattern:      regexp.MustCompile(`^OR_ABI-L1b-Rad(?P<SECTOR>F|C|M1|M2)-M\d(?P<CHANNEL>C\d{2})_G16_s(?P<YEAR>\d{4})(?P<DOY>\d{3})(?P<HOUR>\d{2})(?P<MINUTE>\d{2})(?P<SECOND>\d{2})\d_e\d{14}_c\d{14}\.nc$`),
		GCSBucket:    "gcp-public-data-goes-16",
		S3Bucket:     "noaa-goes16",
		S3Region:     "us-east-1",
		prefixLayout: "ABI-L1b-Rad{SECTOR}/%Y/%j/",
		Variable:     "Rad",
		Units:        "W m-2 sr-1 um-1",
		LongName:     "radiance",
		Channelled:   true,
		Mesoregions:  true,
	},
	{
		Name:           "gridsat-b1",
		Description:    "GridSat-B1 geostationary IR brightness temperature CDR",
		pattern:        regexp.MustCompile(`^GRIDSAT-B1\.(?P<YEAR>\d{4})\.(?P<MONTH>\d{2})\.(?P<DAY>\d{2})\.(?P<HOUR>\d{2})\.v02r01\.nc$`),
		ThreddsCatalog: "https://www.ncei.noaa.gov/thredds/catalog/cdr/gridsat/%Y/catalog.xml",
		IndexURL:       "https://www.ncei.noaa.gov/data/geostationary-ir-channel-brightness-temperature-gridsat-b1/access/%Y/",
		Variable:       "irwin_cdr",
		Units:          "K",
		LongName:       "infrared brightness temperature",
	},
	{
		Name:            "airs-ir",
		Description:     "AIRS L1B infrared radiance granules (acquisition only)",
		pattern:         regexp.MustCompile(`^AIRS\.(?P<YEAR>\d{4})\.(?P<MONTH>\d{2})\.(?P<DAY>\d{2})\.(?P<GRANULE>\d{3})\.L1B\.AIRS_Rad\.v[0-9A-Za-z.]+\.hdf$`),
		IndexURL:        "https://airsl1.gesdisc.eosdis.nasa.gov/opendap/Aqua_AIRS_Level1/AIRIBRAD.005/%Y/%j/contents.html",
		CMRShortName:    "AIRIBRAD",
		AcquisitionOnly: true,
	},
}

// GetProduct returns the product registered under the given identifier.
func GetProduct(name string) (*Product, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for _, p := range products {
		if p.Name == n {
			return p, nil
		}
	}
	return nil, fmt.Errorf("GetProduct: unknown product %q (available: %s)", name, strings.Join(ProductNames(), ", "))
}

// ProductNames lists the registered product identifiers.
func ProductNames() []string {
	names := make([]string, len(products))
	for i, p := range products {
		names[i] = p.Name
	}
	return names
}

// Prefix returns the object-store partition under which the objects of the
// given day are listed.
func (p *Product) Prefix(day time.Time, mesoregion string) string {
	return Strftime(FormatBrackets(p.prefixLayout, map[string]string{"SECTOR": abiSector(mesoregion)}), day)
}

// CatalogURL resolves the THREDDS catalog address for the given day.
func (p *Product) CatalogURL(day time.Time) string {
	return Strftime(p.ThreddsCatalog, day)
}

// IndexURLFor resolves the directory-index address for the given day.
func (p *Product) IndexURLFor(day time.Time) string {
	return Strftime(p.IndexURL, day)
}

// ParseRef parses a remote address into an ObjectRef, deriving the acquisition
// time from the object name. The address is rejected if the name does not
// match the product pattern or if a time field is out of range.
func (p *Product) ParseRef(address string) (ObjectRef, error) {
	name := baseName(address)
	m := p.pattern.FindStringSubmatch(name)
	if m == nil {
		return ObjectRef{}, fmt.Errorf("ParseRef: %q does not match the %s pattern", name, p.Name)
	}
	groups := map[string]string{}
	for i, g := range p.pattern.SubexpNames() {
		if g != "" {
			groups[g] = m[i]
		}
	}
	t, err := timeFromGroups(groups)
	if err != nil {
		return ObjectRef{}, fmt.Errorf("ParseRef[%s].%w", name, err)
	}
	ref := ObjectRef{
		Address: address,
		Name:    name,
		Time:    t,
		Product: p.Name,
		Channel: groups["CHANNEL"],
	}
	if s := groups["SECTOR"]; s == "M1" || s == "M2" {
		ref.Mesoregion = s
	}
	return ref, nil
}

func baseName(address string) string {
	if u, err := url.Parse(address); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return path.Base(address)
}

// timeFromGroups builds the UTC acquisition time from the named groups of a
// product pattern: YEAR with either DOY or MONTH+DAY, then HOUR/MINUTE/SECOND,
// or a GRANULE index (6-minute granules counted from midnight).
func timeFromGroups(groups map[string]string) (time.Time, error) {
	year, err := atoiField(groups, "YEAR", 1970, 9999)
	if err != nil {
		return time.Time{}, err
	}
	if year == 0 {
		return time.Time{}, fmt.Errorf("missing year")
	}
	day := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	if groups["DOY"] != "" {
		doy, err := atoiField(groups, "DOY", 1, 366)
		if err != nil {
			return time.Time{}, err
		}
		day = day.AddDate(0, 0, doy-1)
	} else {
		month, err := atoiField(groups, "MONTH", 1, 12)
		if err != nil {
			return time.Time{}, err
		}
		dom, err := atoiField(groups, "DAY", 1, 31)
		if err != nil {
			return time.Time{}, err
		}
		if month == 0 || dom == 0 {
			return time.Time{}, fmt.Errorf("missing calendar date")
		}
		day = time.Date(year, time.Month(month), dom, 0, 0, 0, 0, time.UTC)
	}
	if groups["GRANULE"] != "" {
		granule, err := atoiField(groups, "GRANULE", 1, 240)
		if err != nil {
			return time.Time{}, err
		}
		return day.Add(time.Duration(granule-1) * 6 * time.Minute), nil
	}
	hour, err := atoiField(groups, "HOUR", 0, 23)
	if err != nil {
		return time.Time{}, err
	}
	minute, err := atoiField(groups, "MINUTE", 0, 59)
	if err != nil {
		return time.Time{}, err
	}
	second, err := atoiField(groups, "SECOND", 0, 59)
	if err != nil {
		return time.Time{}, err
	}
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute + time.Duration(second)*time.Second), nil
}

// atoiField converts an optional named group, 0 when absent, an error when
// present but outside [lo, hi].
func atoiField(groups map[string]string, key string, lo, hi int) (int, error) {
	s := groups[key]
	if s == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < lo || v > hi {
		return 0, fmt.Errorf("invalid %s %q", strings.ToLower(key), s)
	}
	return v, nil
}

// abiSector maps a mesoregion selector to the ABI scene sector of the object
// layout: full disk by default, C for CONUS, M for both mesoscale sectors.
func abiSector(mesoregion string) string {
	switch mesoregion {
	case "M1", "M2":
		return "M"
	case "C":
		return "C"
	}
	return "F"
}

// NormalizeMesoregion validates the mesoregion selector: empty for the full
// scene, C for CONUS, M1/M2 for the mesoscale sectors.
func NormalizeMesoregion(m string) (string, error) {
	switch v := strings.ToUpper(strings.TrimSpace(m)); v {
	case "", "C", "M1", "M2":
		return v, nil
	case "CONUS":
		return "C", nil
	default:
		return "", fmt.Errorf("NormalizeMesoregion: invalid mesoregion %q (expected C, M1 or M2)", m)
	}
}

// FormatChannel renders an ABI channel number as the Cnn tag of the object
// names.
func FormatChannel(channel int) (string, error) {
	if channel < 1 || channel > 16 {
		return "", fmt.Errorf("FormatChannel: channel %d out of range [1,16]", channel)
	}
	return fmt.Sprintf("C%02d", channel), nil
}
