package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"github.com/satdatalab/satseries/common"
	"github.com/satdatalab/satseries/service"
	"google.golang.org/api/option"
)

// GSProvider implements ObjectProvider for Google Storage satellite buckets
// (e.g. gcp-public-data-goes-16).
type GSProvider struct {
	anonymous bool
	endpoint  string
}

// NewGSProvider creates a new ObjectProvider downloading from Google Storage.
// anonymous skips ambient credentials (public buckets).
func NewGSProvider(anonymous bool, endpoint string) *GSProvider {
	return &GSProvider{anonymous: anonymous, endpoint: endpoint}
}

// Name implements ObjectProvider
func (ip *GSProvider) Name() string {
	return "GoogleStorage"
}

// Schemes implements ObjectProvider
func (ip *GSProvider) Schemes() []string {
	return []string{"gs"}
}

// Fetch implements ObjectProvider
func (ip *GSProvider) Fetch(ctx context.Context, ref common.ObjectRef, localFile string) error {
	bucket, object, err := splitBucketObject(ref.Address)
	if err != nil {
		return fmt.Errorf("GSProvider.%w", err)
	}

	var opts []option.ClientOption
	if ip.anonymous {
		opts = append(opts, option.WithoutAuthentication())
	}
	if ip.endpoint != "" {
		opts = append(opts, option.WithEndpoint(ip.endpoint))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return fmt.Errorf("GSProvider.NewClient: %w", err)
	}
	defer client.Close()

	r, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return ErrObjectNotFound{ref.Name}
		}
		return service.MakeTemporary(fmt.Errorf("GSProvider.NewReader[%s]: %w", ref.Address, err))
	}
	defer r.Close()

	dst, archived := fetchTarget(ref.Address, localFile)
	if archived {
		defer os.Remove(dst)
	}
	file, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("GSProvider.Create: %w", err)
	}
	defer file.Close()

	progress := NewProgress(ctx, "GS:"+ref.Name, r.Attrs.Size, 5)
	if _, err := io.Copy(file, io.TeeReader(r, &WriteCounter{Progress: progress})); err != nil {
		return service.MakeTemporary(fmt.Errorf("GSProvider.Copy[%s]: %w", ref.Address, err))
	}

	if err := finishFetch(ref.Name, dst, localFile, archived); err != nil {
		return fmt.Errorf("GSProvider.%w", err)
	}
	return nil
}
