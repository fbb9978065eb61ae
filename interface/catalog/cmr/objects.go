package cmr

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/satdatalab/satseries/common"
	"github.com/satdatalab/satseries/interface/catalog"
	"github.com/satdatalab/satseries/service"
	"github.com/satdatalab/satseries/service/log"
)

// DefaultEndpoint is the NASA CMR granule search API.
const DefaultEndpoint = "https://cmr.earthdata.nasa.gov/search/granules.json"

// Lister enumerates product objects through the CMR granule-search API,
// paging with page_num/page_size.
type Lister struct {
	Endpoint string
	Token    string
	// Limit bounds the number of granules to retrieve (<=0: unlimited).
	Limit int
}

type cmrEntry struct {
	Title string `json:"title"`
	Links []struct {
		Rel  string `json:"rel"`
		Href string `json:"href"`
	} `json:"links"`
}

// dataLink returns the first download link of the granule.
func (e cmrEntry) dataLink() string {
	for _, link := range e.Links {
		if strings.HasSuffix(link.Rel, "/data#") {
			return link.Href
		}
	}
	return ""
}

// Name implements catalog.Lister
func (l *Lister) Name() string {
	return "cmr"
}

// List implements catalog.Lister
func (l *Lister) List(ctx context.Context, product *common.Product, day time.Time, mesoregion string) ([]common.ObjectRef, error) {
	if product.CMRShortName == "" {
		return nil, fmt.Errorf("cmr: no collection configured for %s", product.Name)
	}
	endpoint := l.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	day = day.UTC().Truncate(24 * time.Hour)
	temporal := fmt.Sprintf("%s,%s",
		day.Format("2006-01-02T15:04:05Z"),
		day.Add(24*time.Hour-time.Second).Format("2006-01-02T15:04:05Z"))

	// Pagging
	var refs []common.ObjectRef
	pageLimit, rows := service.PageLimitRows(1, l.Limit, 2000)

	for page, nextPage := 1, true; nextPage && page < pageLimit; page++ {
		log.Logger(ctx).Sugar().Debugf("[CMR] Search page %d", page)

		url := fmt.Sprintf("%s?short_name=%s&temporal=%s&page_size=%d&page_num=%d",
			endpoint, product.CMRShortName, temporal, rows, page)
		jsonResults, err := l.getBody(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("cmr.List.GetBody: %w", err)
		}

		// JSON
		results := struct {
			Feed struct {
				Entry []cmrEntry `json:"entry"`
			} `json:"feed"`
		}{}

		if err := json.Unmarshal(jsonResults, &results); err != nil {
			return nil, fmt.Errorf("cmr.List.Unmarshal: %w (response: %.200s)", err, jsonResults)
		}

		for _, entry := range results.Feed.Entry {
			href := entry.dataLink()
			if href == "" {
				log.Logger(ctx).Sugar().Debugf("[CMR] no data link for %s", entry.Title)
				continue
			}
			ref, err := product.ParseRef(href)
			if err != nil {
				log.Logger(ctx).Sugar().Debugf("[CMR] skip %s: %v", href, err)
				continue
			}
			if catalog.SameDay(ref.Time, day) {
				refs = append(refs, ref)
			}
		}

		// Is there a next page ?
		nextPage = len(results.Feed.Entry) == rows
	}
	return refs, nil
}

func (l *Lister) getBody(ctx context.Context, url string) ([]byte, error) {
	if l.Token == "" {
		return service.GetBodyRetry(url, 3)
	}
	return service.HTTPGetWithAuth(ctx, url, "", "", l.Token)
}
