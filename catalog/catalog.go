package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/satdatalab/satseries/common"
	"github.com/satdatalab/satseries/interface/catalog"
	"github.com/satdatalab/satseries/interface/catalog/cmr"
	"github.com/satdatalab/satseries/interface/catalog/gcs"
	"github.com/satdatalab/satseries/interface/catalog/httpindex"
	"github.com/satdatalab/satseries/interface/catalog/s3"
	"github.com/satdatalab/satseries/interface/catalog/thredds"
	"github.com/satdatalab/satseries/service"
	"github.com/satdatalab/satseries/service/log"
)

// Catalog resolves the remote objects of a product, day by day, through the
// fallback chain of listing backends the product supports.
type Catalog struct {
	// Endpoint overrides the listing endpoint of the thredds/httpindex/cmr
	// backends (tests, mirrors).
	Endpoint string

	// Object store overrides (mirrored products)
	GCSBucket         string
	GCSEndpoint       string
	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string

	// Credentials for authenticated listing services
	Username string
	Password string
	Token    string

	// Limit bounds the number of objects per day (<=0: unlimited)
	Limit int
}

// DiscoveryError reports a date whose remote listing was unreachable or
// unparsable. The date is aborted, the batch continues.
type DiscoveryError struct {
	Product string
	Date    time.Time
	Err     error
}

func (e DiscoveryError) Error() string {
	return fmt.Sprintf("discovery of %s for %s: %v", e.Product, e.Date.Format("2006-01-02"), e.Err)
}

func (e DiscoveryError) Unwrap() error {
	return e.Err
}

// listers returns the fallback chain of listing backends of the product.
func (c *Catalog) listers(product *common.Product) ([]catalog.Lister, error) {
	endpoint := func(def string) string {
		if c.Endpoint != "" {
			return c.Endpoint
		}
		return def
	}

	var listers []catalog.Lister
	if product.GCSBucket != "" || c.GCSBucket != "" {
		listers = append(listers, &gcs.Lister{Bucket: c.GCSBucket, Anonymous: c.GCSBucket == "", Endpoint: c.GCSEndpoint})
	}
	if product.S3Bucket != "" || c.S3Bucket != "" {
		listers = append(listers, &s3.Lister{
			Bucket:          c.S3Bucket,
			Region:          c.S3Region,
			Endpoint:        c.S3Endpoint,
			AccessKeyID:     c.S3AccessKeyID,
			SecretAccessKey: c.S3SecretAccessKey,
		})
	}
	if product.ThreddsCatalog != "" {
		listers = append(listers, &thredds.Lister{Endpoint: endpoint(product.ThreddsCatalog)})
	}
	if product.IndexURL != "" {
		listers = append(listers, &httpindex.Lister{
			Endpoint: endpoint(product.IndexURL),
			Username: c.Username,
			Password: c.Password,
			Token:    c.Token,
		})
	}
	if product.CMRShortName != "" {
		listers = append(listers, &cmr.Lister{Endpoint: c.Endpoint, Token: c.Token, Limit: c.Limit})
	}
	if len(listers) == 0 {
		return nil, fmt.Errorf("no catalog is configured for %s", product.Name)
	}
	return listers, nil
}

// DiscoverDay lists the product objects of the given day with the first
// successful backend, then restricts them to the requested channel and
// mesoregion. An empty result is not an error.
func (c *Catalog) DiscoverDay(ctx context.Context, product *common.Product, day time.Time, channel, mesoregion string) ([]common.ObjectRef, error) {
	listers, err := c.listers(product)
	if err != nil {
		return nil, DiscoveryError{Product: product.Name, Date: day, Err: err}
	}

	var refs []common.ObjectRef
	var e error
	for _, lister := range listers {
		refs, e = lister.List(ctx, product, day, mesoregion)
		if err = service.MergeErrors(false, err, e); err == nil {
			log.Logger(ctx).Sugar().Debugf("%d objects listed by %s for %s", len(refs), lister.Name(), day.Format("2006-01-02"))
			break
		}
		log.Logger(ctx).Sugar().Warnf("%v", e)
	}
	if err != nil {
		return nil, DiscoveryError{Product: product.Name, Date: day, Err: err}
	}

	return keepMatching(refs, channel, mesoregion), nil
}

// keepMatching restricts refs to the requested channel and mesoscale sector.
// Full-disk and CONUS sectors are already selected by the listing prefix.
func keepMatching(refs []common.ObjectRef, channel, mesoregion string) []common.ObjectRef {
	kept := refs[:0]
	for _, ref := range refs {
		if channel != "" && ref.Channel != channel {
			continue
		}
		if (mesoregion == "M1" || mesoregion == "M2") && ref.Mesoregion != mesoregion {
			continue
		}
		kept = append(kept, ref)
	}
	return kept
}
