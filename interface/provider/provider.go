package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/satdatalab/satseries/common"
)

// ObjectProvider is the interface of a remote object download service
type ObjectProvider interface {
	// Fetch the object behind ref.Address into localFile
	// ref.Address is for example s3://noaa-goes16/ABI-L2-SSTF/2023/182/12/OR_ABI-L2-SSTF-M6_G16_s...nc
	// localFile is the file the object will be stored to (the caller stages and renames it)
	Fetch(ctx context.Context, ref common.ObjectRef, localFile string) error

	// Schemes handled by the provider (e.g. "http", "https")
	Schemes() []string

	// Name of the provider
	Name() string
}

// ErrObjectNotFound is an error returned when an object is not found or available
type ErrObjectNotFound struct {
	Object string
}

func (e ErrObjectNotFound) Error() string {
	return fmt.Sprintf("Object not found or unavailable: %s", e.Object)
}

// For returns the provider handling the scheme of the address.
func For(providers []ObjectProvider, address string) (ObjectProvider, error) {
	u, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("For.Parse: %w", err)
	}
	scheme := u.Scheme
	if scheme == "" {
		scheme = "file"
	}
	for _, p := range providers {
		for _, s := range p.Schemes() {
			if s == scheme {
				return p, nil
			}
		}
	}
	return nil, fmt.Errorf("For: no provider for scheme %q (address %.100s)", scheme, address)
}

// splitBucketObject splits a gs:// or s3:// address into bucket and object key.
func splitBucketObject(address string) (string, string, error) {
	u, err := url.Parse(address)
	if err != nil {
		return "", "", fmt.Errorf("splitBucketObject: %w", err)
	}
	bucket, object := u.Host, strings.TrimPrefix(u.Path, "/")
	if bucket == "" || object == "" {
		return "", "", fmt.Errorf("splitBucketObject: invalid address %q", address)
	}
	return bucket, object, nil
}
