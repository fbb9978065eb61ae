package downloader

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/satdatalab/satseries/common"
	"github.com/satdatalab/satseries/interface/provider"
	"github.com/satdatalab/satseries/service"
	"github.com/satdatalab/satseries/service/log"
	"golang.org/x/sync/errgroup"
)

// FetchError is the typed failure of one object retrieval. It scopes the
// failure to its address; siblings of the same batch are unaffected.
type FetchError struct {
	Address string
	Err     error
}

func (e FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Address, e.Err)
}

func (e FetchError) Unwrap() error {
	return e.Err
}

// Fetcher downloads catalog objects into a workspace with a bounded worker
// pool. Files already present under their final name are reused, and a
// download is staged then renamed so a partial file is never visible.
type Fetcher struct {
	Providers   []provider.ObjectProvider
	Concurrency int
	Tries       int           // fetch attempts per object
	RetryDelay  time.Duration // pause between attempts
}

type fetchJob struct {
	index int
	ref   common.ObjectRef
}

// Fetch downloads refs into ws and reports one outcome per ref, in the order
// of the input. A failed object does not abort its siblings.
func (f *Fetcher) Fetch(ctx context.Context, refs []common.ObjectRef, ws *service.Workspace) []common.FetchOutcome {
	outcomes := make([]common.FetchOutcome, len(refs))
	for i, ref := range refs {
		outcomes[i] = common.FetchOutcome{Name: ref.Name, Address: ref.Address, Time: ref.Time, Status: common.StatusPENDING}
	}

	concurrency := f.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	// Create group
	wg, wctx := errgroup.WithContext(ctx)
	jobChan := make(chan fetchJob, len(refs))

	// Start workers
	for i := 0; i < concurrency && i < len(refs); i++ {
		wg.Go(func() error { return f.fetchWorker(wctx, jobChan, ws, outcomes) })
	}

	// Push jobs
	for i, ref := range refs {
		jobChan <- fetchJob{index: i, ref: ref}
	}
	close(jobChan)

	// Wait (workers only fail on cancellation)
	errWait := wg.Wait()
	if err := service.MergeErrors(true, errWait, ctx.Err()); err != nil {
		for i := range outcomes {
			if outcomes[i].Status == common.StatusPENDING {
				outcomes[i].Status = common.StatusFAILED
				outcomes[i].Error = err.Error()
				outcomes[i].Err = FetchError{Address: outcomes[i].Address, Err: err}
			}
		}
	}
	return outcomes
}

func (f *Fetcher) fetchWorker(ctx context.Context, jobs <-chan fetchJob, ws *service.Workspace, outcomes []common.FetchOutcome) error {
	for job := range jobs {
		select {
		case <-ctx.Done():
		default:
			outcomes[job.index] = f.fetchOne(ctx, job.ref, ws)
		}
	}
	return nil
}

func (f *Fetcher) fetchOne(ctx context.Context, ref common.ObjectRef, ws *service.Workspace) common.FetchOutcome {
	outcome := common.FetchOutcome{Name: ref.Name, Address: ref.Address, Time: ref.Time}

	if ws.Exists(ref.Name) {
		log.Logger(ctx).Sugar().Debugf("%s already fetched", ref.Name)
		outcome.Status, outcome.LocalPath = common.StatusCACHED, ws.Path(ref.Name)
		return outcome
	}

	ip, err := provider.For(f.Providers, ref.Address)
	if err != nil {
		outcome.Status, outcome.Error = common.StatusFAILED, err.Error()
		outcome.Err = FetchError{Address: ref.Address, Err: err}
		return outcome
	}

	log.Logger(ctx).Sugar().Infof("downloading %s [%s]", ref.Name, ip.Name())
	tries := f.Tries
	if tries <= 0 {
		tries = 1
	}
	err = service.Retriable(ctx, func() error {
		tmpFile := ws.TmpPath(ref.Name)
		defer os.Remove(tmpFile)
		if e := ip.Fetch(ctx, ref, tmpFile); e != nil {
			if !service.Temporary(e) {
				return service.MakeFatal(e)
			}
			return e
		}
		return ws.Commit(tmpFile, ref.Name)
	}, f.RetryDelay, tries)
	if err != nil {
		log.Logger(ctx).Sugar().Warnf("download of %s failed: %v", ref.Name, err)
		outcome.Status, outcome.Error = common.StatusFAILED, err.Error()
		outcome.Err = FetchError{Address: ref.Address, Err: err}
		return outcome
	}

	outcome.Status, outcome.LocalPath = common.StatusFETCHED, ws.Path(ref.Name)
	return outcome
}
