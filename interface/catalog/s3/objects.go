package s3

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/satdatalab/satseries/common"
	"github.com/satdatalab/satseries/service/log"
)

// Lister enumerates product objects from an AWS S3 bucket mirroring the same
// day-partition layout as the GCS original (e.g. noaa-goes16).
type Lister struct {
	Bucket          string // overrides the product bucket
	Region          string // overrides the product region
	Endpoint        string // custom endpoint (tests, S3-compatible stores)
	AccessKeyID     string // anonymous access when empty
	SecretAccessKey string
}

// Name implements catalog.Lister
func (l *Lister) Name() string {
	return "s3"
}

// List implements catalog.Lister
func (l *Lister) List(ctx context.Context, product *common.Product, day time.Time, mesoregion string) ([]common.ObjectRef, error) {
	bucket := l.Bucket
	if bucket == "" {
		bucket = product.S3Bucket
	}
	if bucket == "" {
		return nil, fmt.Errorf("s3: no bucket configured for %s", product.Name)
	}

	client, err := NewClient(ctx, l.Region, l.Endpoint, l.AccessKeyID, l.SecretAccessKey, product)
	if err != nil {
		return nil, fmt.Errorf("s3.List.%w", err)
	}

	prefix := product.Prefix(day, mesoregion)
	paginator := s3.NewListObjectsV2Paginator(client,
		&s3.ListObjectsV2Input{
			Bucket: aws.String(bucket),
			Prefix: aws.String(prefix),
		},
		func(o *s3.ListObjectsV2PaginatorOptions) {
			o.Limit = 1000
		},
	)

	var refs []common.ObjectRef
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3.List[%s/%s]: %w", bucket, prefix, err)
		}
		for _, object := range page.Contents {
			key := aws.ToString(object.Key)
			if key == "" || key[len(key)-1] == '/' {
				continue
			}
			ref, err := product.ParseRef("s3://" + bucket + "/" + key)
			if err != nil {
				log.Logger(ctx).Sugar().Debugf("[S3] skip %s: %v", key, err)
				continue
			}
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

// NewClient builds an S3 client with static or anonymous credentials. The
// fetch backend shares it to download the listed objects.
func NewClient(ctx context.Context, region, endpoint, accessKeyID, secretAccessKey string, product *common.Product) (*s3.Client, error) {
	if region == "" && product != nil {
		region = product.S3Region
	}
	if region == "" {
		region = "us-east-1"
	}

	credsProvider := aws.CredentialsProvider(aws.AnonymousCredentials{})
	if accessKeyID != "" {
		credsProvider = credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, "")
	}
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credsProvider),
		config.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("NewClient.LoadDefaultConfig: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	}), nil
}
