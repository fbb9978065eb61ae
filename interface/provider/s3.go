package provider

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/satdatalab/satseries/common"
	s3catalog "github.com/satdatalab/satseries/interface/catalog/s3"
)

// S3Provider implements ObjectProvider for AWS open-data buckets
// (e.g. noaa-goes16). Anonymous unless static credentials are configured.
type S3Provider struct {
	region          string
	endpoint        string
	accessKeyID     string
	secretAccessKey string
}

// NewS3Provider creates a new ObjectProvider downloading from S3.
// region and endpoint default to the product registry values.
func NewS3Provider(region, endpoint, accessKeyID, secretAccessKey string) *S3Provider {
	return &S3Provider{region: region, endpoint: endpoint, accessKeyID: accessKeyID, secretAccessKey: secretAccessKey}
}

// Name implements ObjectProvider
func (ip *S3Provider) Name() string {
	return "S3"
}

// Schemes implements ObjectProvider
func (ip *S3Provider) Schemes() []string {
	return []string{"s3"}
}

// Fetch implements ObjectProvider
func (ip *S3Provider) Fetch(ctx context.Context, ref common.ObjectRef, localFile string) error {
	bucket, key, err := splitBucketObject(ref.Address)
	if err != nil {
		return fmt.Errorf("S3Provider.%w", err)
	}

	// The ref knows its product, the product its home region
	product, _ := common.GetProduct(ref.Product)
	client, err := s3catalog.NewClient(ctx, ip.region, ip.endpoint, ip.accessKeyID, ip.secretAccessKey, product)
	if err != nil {
		return fmt.Errorf("S3Provider.%w", err)
	}

	downloader := manager.NewDownloader(client, func(d *manager.Downloader) {
		d.PartSize = 10 * 1024 * 1024 // 10MB per part
	})

	dst, archived := fetchTarget(ref.Address, localFile)
	if archived {
		defer os.Remove(dst)
	}
	file, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("S3Provider: failed to create file %s: %w", dst, err)
	}
	defer file.Close()

	if _, err = downloader.Download(ctx, file, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}); err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return ErrObjectNotFound{ref.Name}
		}
		return fmt.Errorf("S3Provider: failed to download object %s:%s: %w", bucket, key, err)
	}

	if err := finishFetch(ref.Name, dst, localFile, archived); err != nil {
		return fmt.Errorf("S3Provider.%w", err)
	}
	return nil
}
