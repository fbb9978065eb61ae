package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cavaliercoder/grab"
	"github.com/mholt/archiver"
	"github.com/satdatalab/satseries/service"
	"github.com/satdatalab/satseries/service/log"
)

func fmtBytes(bytes int64) string {
	v := float64(bytes)
	switch {
	case v > 1<<30:
		return fmt.Sprintf("%.2fGo", v/(1<<30))
	case v > 1<<20:
		return fmt.Sprintf("%.2fMo", v/(1<<20))
	case v > 1<<10:
		return fmt.Sprintf("%.2fko", v/(1<<10))
	default:
		return fmt.Sprintf("%.2fo", v)
	}
}

// Progress tracks the bytes written during a transfer and logs every
// progressPeriod (fraction of the total size).
type Progress struct {
	ctx    context.Context
	prefix string
	size   int64
	period float64

	mu    sync.Mutex
	bytes int64
	next  float64
	start time.Time
}

// NewProgress creates a Progress of a transfer of size bytes (<=0: unknown),
// logging every progressPeriod percent.
func NewProgress(ctx context.Context, prefix string, size int64, progressPeriod float64) *Progress {
	return &Progress{ctx: ctx, prefix: prefix, size: size, period: progressPeriod / 100, next: progressPeriod / 100, start: time.Now()}
}

// UpdateDelta adds delta transferred bytes
func (p *Progress) UpdateDelta(delta int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bytes += delta
	if p.size <= 0 {
		return
	}
	progress := float64(p.bytes) / float64(p.size)
	if progress < p.next {
		return
	}
	rate := float64(p.bytes) / (float64(time.Since(p.start)) / float64(time.Second))
	log.Logger(p.ctx).Sugar().Debugf("%s: %.2f%% %s/%s (%s/s)", p.prefix, 100*progress, fmtBytes(p.bytes), fmtBytes(p.size), fmtBytes(int64(rate)))
	for p.next <= progress {
		p.next += p.period
	}
}

// WriteCounter counts the number of bytes written to it. It implements to the io.Writer interface
// and we can pass this into io.TeeReader() which will report progress on each write cycle.
type WriteCounter struct {
	Progress *Progress
}

func (wc *WriteCounter) Write(p []byte) (int, error) {
	n := len(p)
	wc.Progress.UpdateDelta(int64(n))
	return n, nil
}

func displayProgress(ctx context.Context, prefix string, resp *grab.Response, progressPeriod float64) {
	t := time.NewTicker(time.Second)
	defer t.Stop()

	progress, lastBytes, seconds := 0.0, int64(0), int64(0)
	for {
		select {
		case <-t.C:
			seconds++
			if resp.Progress() > progress {
				log.Logger(ctx).Sugar().Debugf("%s: %.2f%% %s/%s (%s/s)", prefix, 100*resp.Progress(), fmtBytes(resp.BytesComplete()), fmtBytes(resp.Size), fmtBytes((resp.BytesComplete()-lastBytes)/seconds))
				seconds = 0
				progress += progressPeriod
				lastBytes = resp.BytesComplete()
			}

		case <-resp.Done:
			return
		}
	}
}

func checkRedirectAndCopyAuth(req *http.Request, via []*http.Request) error {
	if len(via) >= 10 {
		return fmt.Errorf("stopped after 10 redirects")
	}
	if auth, ok := via[0].Header["Authorization"]; ok {
		req.Header.Add("Authorization", auth[0])
	}
	return nil
}

// download a file with display every 5%
func download(ctx context.Context, client *grab.Client, req *grab.Request, displayPrefix string) error {
	resp := client.Do(req)

	displayProgress(ctx, displayPrefix, resp, 0.05)

	if err := resp.Err(); err != nil {
		err = fmt.Errorf("download[%s]: %w", req.URL(), err)
		if resp.HTTPResponse == nil {
			return service.MakeTemporary(err)
		}
		switch resp.HTTPResponse.StatusCode {
		case 404, 410:
			return ErrObjectNotFound{req.URL().String()}
		case 408, 429, 500, 501, 502, 503, 504:
			return service.MakeTemporary(err)
		default:
			return err
		}
	}
	return nil
}

// fetchTarget resolves where an address must be downloaded. Archives are
// staged next to localFile under a name keeping the archive extension (format
// detection relies on it) and are extracted afterwards.
func fetchTarget(address, localFile string) (string, bool) {
	name := address
	if u, err := url.Parse(address); err == nil && u.Path != "" {
		name = u.Path
	}
	ext := service.GetExt(name)
	switch ext {
	case "zip", "tar", "tar.gz", "tgz":
	default:
		return localFile, false
	}
	return service.WithExt(localFile, ext), true
}

// unarchive extracts localArchive and moves the entry named name to
// localFile. All errors are temporary.
func unarchive(localArchive, name, localFile string) error {
	tmpdir, err := os.MkdirTemp(filepath.Dir(localArchive), filepath.Base(localArchive))
	if err != nil {
		return service.MakeTemporary(err)
	}
	defer os.RemoveAll(tmpdir)
	if err := archiver.Unarchive(localArchive, tmpdir); err != nil {
		return service.MakeTemporary(err)
	}
	found := ""
	err = filepath.Walk(tmpdir, func(p string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() && info.Name() == name {
			found = p
		}
		return err
	})
	if err != nil {
		return service.MakeTemporary(err)
	}
	if found == "" {
		return service.MakeTemporary(fmt.Errorf("unarchive[%s]: %s not found in archive", localArchive, name))
	}
	if err := os.Rename(found, localFile); err != nil {
		return service.MakeTemporary(err)
	}
	return nil
}

// finishFetch extracts the object from dst when the address was an archive.
// The caller removes the archive itself.
func finishFetch(ref string, dst, localFile string, archived bool) error {
	if !archived {
		return nil
	}
	if err := unarchive(dst, ref, localFile); err != nil {
		return fmt.Errorf("Unarchive: %w", err)
	}
	return nil
}

// trimScheme strips a scheme prefix such as file:// from the address.
func trimScheme(address string) string {
	if i := strings.Index(address, "://"); i != -1 {
		return address[i+3:]
	}
	return address
}
