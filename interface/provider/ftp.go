package provider

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"net/url"
	"os"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/satdatalab/satseries/common"
	"github.com/satdatalab/satseries/service"
)

// FTPProvider implements ObjectProvider for legacy FTP mirrors.
// Implicit TLS is enabled when the address targets port 990.
type FTPProvider struct {
	user           string
	pword          string
	connectTimeout time.Duration
}

// NewFTPProvider creates a new ObjectProvider downloading over FTP.
// Empty credentials fall back to anonymous login.
func NewFTPProvider(user, pword string, connectTimeout time.Duration) *FTPProvider {
	if user == "" {
		user, pword = "anonymous", "anonymous"
	}
	return &FTPProvider{user: user, pword: pword, connectTimeout: connectTimeout}
}

// Name implements ObjectProvider
func (ip *FTPProvider) Name() string {
	return "FTP"
}

// Schemes implements ObjectProvider
func (ip *FTPProvider) Schemes() []string {
	return []string{"ftp"}
}

// Fetch implements ObjectProvider
func (ip *FTPProvider) Fetch(ctx context.Context, ref common.ObjectRef, localFile string) error {
	u, err := url.Parse(ref.Address)
	if err != nil {
		return fmt.Errorf("FTPProvider.Parse: %w", err)
	}
	hote := u.Host
	if u.Port() == "" {
		hote += ":21"
	}

	// Connection to FTP
	timeout := ip.connectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ftpOption := []ftp.DialOption{ftp.DialWithContext(ctx), ftp.DialWithTimeout(timeout)}
	if u.Port() == "990" {
		ftpOption = append(ftpOption, ftp.DialWithTLS(&tls.Config{InsecureSkipVerify: true}))
	}
	c, err := ftp.Dial(hote, ftpOption...)
	if err != nil {
		return service.MakeTemporary(fmt.Errorf("FTPProvider.Dial: %w", err))
	}

	if err = c.Login(ip.user, ip.pword); err != nil {
		return fmt.Errorf("FTPProvider.Login: %w", err)
	}
	defer c.Quit()

	// Get file size
	s, _ := c.FileSize(u.Path)

	// Get file stream
	r, err := c.Retr(u.Path)
	if err != nil {
		var protoErr *textproto.Error
		if errors.As(err, &protoErr) && protoErr.Code == ftp.StatusFileUnavailable {
			return ErrObjectNotFound{ref.Name}
		}
		return service.MakeTemporary(fmt.Errorf("FTPProvider.Retr: %w", err))
	}
	defer r.Close()

	// Download to local file
	dst, archived := fetchTarget(ref.Address, localFile)
	if archived {
		defer os.Remove(dst)
	}
	destFile, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("FTPProvider.Create: %w", err)
	}
	defer destFile.Close()

	if _, err = io.Copy(destFile, io.TeeReader(r, &WriteCounter{Progress: NewProgress(ctx, "Ftp:"+ref.Name, s, 5)})); err != nil {
		return service.MakeTemporary(fmt.Errorf("FTPProvider.Copy: %w", err))
	}

	if err := finishFetch(ref.Name, dst, localFile, archived); err != nil {
		return fmt.Errorf("FTPProvider.%w", err)
	}
	return nil
}
