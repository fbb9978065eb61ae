package provider

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/cavaliercoder/grab"
	"github.com/satdatalab/satseries/common"
)

// HTTPProvider implements ObjectProvider for direct http(s) download links
// (THREDDS fileServer, NOAA web index, Earthdata). Credentials are forwarded
// across redirects so the Earthdata URS handshake keeps the Authorization
// header.
type HTTPProvider struct {
	user  string
	pword string
	token string

	connectTimeout time.Duration
	readTimeout    time.Duration
}

// NewHTTPProvider creates a new ObjectProvider for direct download links.
// user/pword enable basic auth, token a bearer token (e.g. an Earthdata token).
func NewHTTPProvider(user, pword, token string, connectTimeout, readTimeout time.Duration) *HTTPProvider {
	return &HTTPProvider{user: user, pword: pword, token: token, connectTimeout: connectTimeout, readTimeout: readTimeout}
}

// Name implements ObjectProvider
func (ip *HTTPProvider) Name() string {
	return "HTTP"
}

// Schemes implements ObjectProvider
func (ip *HTTPProvider) Schemes() []string {
	return []string{"http", "https"}
}

// Fetch implements ObjectProvider
func (ip *HTTPProvider) Fetch(ctx context.Context, ref common.ObjectRef, localFile string) error {
	dst, archived := fetchTarget(ref.Address, localFile)
	if archived {
		defer os.Remove(dst)
	}

	req, err := grab.NewRequest(dst, ref.Address)
	if err != nil {
		return fmt.Errorf("HTTPProvider.NewRequest: %w", err)
	}
	req = req.WithContext(ctx)

	// If Basic Auth
	if ip.user != "" {
		req.HTTPRequest.SetBasicAuth(ip.user, ip.pword)
	}

	// If token Auth
	if ip.token != "" {
		req.HTTPRequest.Header.Add("Authorization", "Bearer "+ip.token)
	}

	client := grab.NewClient()
	client.HTTPClient = &http.Client{Transport: ip.transport()}
	if ip.user != "" || ip.token != "" {
		client.HTTPClient.CheckRedirect = checkRedirectAndCopyAuth
	}

	if err := download(ctx, client, req, "HTTP:"+ref.Name); err != nil {
		return fmt.Errorf("HTTPProvider.%w", err)
	}
	if err := finishFetch(ref.Name, dst, localFile, archived); err != nil {
		return fmt.Errorf("HTTPProvider.%w", err)
	}
	return nil
}

func (ip *HTTPProvider) transport() *http.Transport {
	connect := ip.connectTimeout
	if connect <= 0 {
		connect = 30 * time.Second
	}
	t := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: connect}).DialContext,
		TLSHandshakeTimeout:   connect,
		ResponseHeaderTimeout: ip.readTimeout,
	}
	return t
}
