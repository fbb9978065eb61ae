package provider

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/satdatalab/satseries/common"
)

// LocalProvider implements ObjectProvider for file:// addresses, reprocessing
// previously kept raw granules without a network round trip.
type LocalProvider struct {
}

// NewLocalProvider creates a new ObjectProvider reading from the filesystem
func NewLocalProvider() *LocalProvider {
	return &LocalProvider{}
}

// Name implements ObjectProvider
func (ip *LocalProvider) Name() string {
	return "FileSystem"
}

// Schemes implements ObjectProvider
func (ip *LocalProvider) Schemes() []string {
	return []string{"file"}
}

// Fetch implements ObjectProvider
func (ip *LocalProvider) Fetch(ctx context.Context, ref common.ObjectRef, localFile string) error {
	src := trimScheme(ref.Address)
	if _, err := os.Stat(src); err != nil {
		if os.IsNotExist(err) {
			return ErrObjectNotFound{src}
		}
		return fmt.Errorf("LocalProvider: %w", err)
	}

	dst, archived := fetchTarget(ref.Address, localFile)
	if archived {
		defer os.Remove(dst)
	}
	if err := fileCopy(src, dst); err != nil {
		return fmt.Errorf("LocalProvider.%w", err)
	}
	if err := finishFetch(ref.Name, dst, localFile, archived); err != nil {
		return fmt.Errorf("LocalProvider.%w", err)
	}
	return nil
}

// fileCopy copies a single file from src to dst
func fileCopy(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("fileCopy.Open: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("fileCopy.Create: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("fileCopy.Copy: %w", err)
	}
	return out.Close()
}
