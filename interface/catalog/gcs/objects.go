package gcs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/satdatalab/satseries/common"
	"github.com/satdatalab/satseries/service/log"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// Lister enumerates product objects from a Google Cloud Storage bucket laid
// out by day partition (e.g. ABI-L2-SSTF/<year>/<doy>/<hour>/<name>).
type Lister struct {
	Bucket    string // overrides the product bucket
	Anonymous bool   // public buckets, no ambient credentials required
	Endpoint  string // custom endpoint (tests, emulators)
}

// Name implements catalog.Lister
func (l *Lister) Name() string {
	return "gcs"
}

// List implements catalog.Lister
func (l *Lister) List(ctx context.Context, product *common.Product, day time.Time, mesoregion string) ([]common.ObjectRef, error) {
	bucket := l.Bucket
	if bucket == "" {
		bucket = product.GCSBucket
	}
	if bucket == "" {
		return nil, fmt.Errorf("gcs: no bucket configured for %s", product.Name)
	}

	var opts []option.ClientOption
	if l.Anonymous {
		opts = append(opts, option.WithoutAuthentication())
	}
	if l.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(l.Endpoint))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs.NewClient: %w", err)
	}
	defer client.Close()

	prefix := product.Prefix(day, mesoregion)
	q := &storage.Query{Prefix: prefix, Versions: false}
	q.SetAttrSelection([]string{"Name"})

	var refs []common.ObjectRef
	it := client.Bucket(bucket).Objects(ctx, q)
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("gcs.List[%s/%s]: %w", bucket, prefix, err)
		}
		if attrs.Name == "" || strings.HasSuffix(attrs.Name, "/") {
			continue
		}
		ref, err := product.ParseRef("gs://" + bucket + "/" + attrs.Name)
		if err != nil {
			log.Logger(ctx).Sugar().Debugf("[GCS] skip %s: %v", attrs.Name, err)
			continue
		}
		refs = append(refs, ref)
	}
	return refs, nil
}
