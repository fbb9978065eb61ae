package thredds

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"path"
	"time"

	"github.com/satdatalab/satseries/common"
	"github.com/satdatalab/satseries/interface/catalog"
	"github.com/satdatalab/satseries/service"
	"github.com/satdatalab/satseries/service/log"
)

// Lister enumerates product objects from a THREDDS catalog.xml: datasets are
// exposed through the catalog's HTTPServer service.
type Lister struct {
	Endpoint string // overrides the product catalog address (strftime template)
}

type threddsCatalog struct {
	XMLName  xml.Name         `xml:"catalog"`
	Services []threddsService `xml:"service"`
	Datasets []threddsDataset `xml:"dataset"`
}

type threddsService struct {
	Name     string           `xml:"name,attr"`
	Type     string           `xml:"serviceType,attr"`
	Base     string           `xml:"base,attr"`
	Services []threddsService `xml:"service"`
}

type threddsDataset struct {
	Name     string           `xml:"name,attr"`
	URLPath  string           `xml:"urlPath,attr"`
	Datasets []threddsDataset `xml:"dataset"`
}

// Name implements catalog.Lister
func (l *Lister) Name() string {
	return "thredds"
}

// List implements catalog.Lister
func (l *Lister) List(ctx context.Context, product *common.Product, day time.Time, mesoregion string) ([]common.ObjectRef, error) {
	address := l.Endpoint
	if address == "" {
		address = product.ThreddsCatalog
	}
	if address == "" {
		return nil, fmt.Errorf("thredds: no catalog address configured for %s", product.Name)
	}
	address = common.Strftime(address, day)

	base, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("thredds.Parse[%s]: %w", address, err)
	}
	body, err := service.GetBodyRetry(address, 3)
	if err != nil {
		return nil, fmt.Errorf("thredds.Get[%s]: %w", address, err)
	}

	var cat threddsCatalog
	if err := xml.Unmarshal(body, &cat); err != nil {
		return nil, fmt.Errorf("thredds.Unmarshal[%s]: %w (response: %.200s)", address, err, body)
	}

	httpBase := findHTTPServer(cat.Services)
	if httpBase == "" {
		return nil, fmt.Errorf("thredds[%s]: no HTTPServer service", address)
	}

	var refs []common.ObjectRef
	var collect func(datasets []threddsDataset)
	collect = func(datasets []threddsDataset) {
		for _, ds := range datasets {
			if ds.URLPath != "" {
				target := base.ResolveReference(&url.URL{Path: path.Join(httpBase, ds.URLPath)})
				if ref, err := product.ParseRef(target.String()); err == nil && catalog.SameDay(ref.Time, day) {
					refs = append(refs, ref)
				}
			}
			collect(ds.Datasets)
		}
	}
	collect(cat.Datasets)
	log.Logger(ctx).Sugar().Debugf("[THREDDS] %s: %d objects", address, len(refs))
	return refs, nil
}

// findHTTPServer returns the base path of the first HTTPServer service,
// looking through compound services.
func findHTTPServer(services []threddsService) string {
	for _, s := range services {
		if s.Type == "HTTPServer" {
			return s.Base
		}
		if base := findHTTPServer(s.Services); base != "" {
			return base
		}
	}
	return ""
}
