// Package pipeline drives a whole acquisition run: per-date discovery,
// temporal filtering, concurrent fetch, then sequential resampling and
// persistence, with an end-of-run report.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/satdatalab/satseries/catalog"
	"github.com/satdatalab/satseries/common"
	"github.com/satdatalab/satseries/downloader"
	"github.com/satdatalab/satseries/processor"
	"github.com/satdatalab/satseries/series"
	"github.com/satdatalab/satseries/service"
	"github.com/satdatalab/satseries/service/log"
)

// Pipeline holds the assembled stages of a run. Resampler and Writer stay nil
// for acquisition-only products, whose granules are fetched and kept as is.
type Pipeline struct {
	Product    *common.Product
	Channel    string // "C01".."C16" tag, empty when not channelled
	Mesoregion string
	Hours      int // temporal modulus, 0/0 keeps the latest object only
	Minutes    int

	Catalog   *catalog.Catalog
	Fetcher   *downloader.Fetcher
	Resampler *processor.Resampler
	Writer    *series.Writer
}

// Run executes the pipeline over the inclusive [start, end] date range,
// fetching into ws. Failures of single dates or single granules are recorded
// in the report and do not abort the run; Run returns an error only when the
// whole run produced nothing: no written or already-stored frame, or, for
// acquisition-only products, no fetched or cached object.
func (p *Pipeline) Run(ctx context.Context, start, end time.Time, ws *service.Workspace) (*common.RunReport, error) {
	report := &common.RunReport{
		Product:    p.Product.Name,
		Channel:    p.Channel,
		Mesoregion: p.Mesoregion,
		StartedAt:  time.Now().UTC(),
	}
	defer func() { report.Duration = time.Since(report.StartedAt).Seconds() }()

	days := catalog.Days(start, end)
	if len(days) == 0 {
		return report, fmt.Errorf("Run: empty date range %s to %s", start.Format("2006-01-02"), end.Format("2006-01-02"))
	}
	log.Logger(ctx).Sugar().Infof("acquiring %s over %d day(s) starting %s", p.Product.Name, len(days), days[0].Format("2006-01-02"))

	inventories := p.Catalog.Inventory(ctx, p.Product, days, p.Channel, p.Mesoregion)
	for _, inv := range inventories {
		if ctx.Err() != nil {
			break
		}
		report.Dates = append(report.Dates, p.runDay(ctx, inv, ws))
	}

	p.logSummary(ctx, report)
	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("Run.%w", err)
	}
	if p.Product.AcquisitionOnly || p.Writer == nil || p.Resampler == nil {
		counts := report.FetchCounts()
		if counts[common.StatusFETCHED]+counts[common.StatusCACHED] == 0 {
			return report, fmt.Errorf("Run: no %s object was fetched (%d discovered, %d kept)", p.Product.Name, report.Discovered(), report.Kept())
		}
		return report, nil
	}
	if report.Written()+report.Skipped() == 0 {
		return report, fmt.Errorf("Run: no frame was written (%d discovered, %d kept, %d granule failures)", report.Discovered(), report.Kept(), report.FrameFailures())
	}
	return report, nil
}

// runDay carries one date through the remaining stages. A discovery failure
// aborts the date only; fetch, resample and write failures abort the single
// granule only.
func (p *Pipeline) runDay(ctx context.Context, inv catalog.DayInventory, ws *service.Workspace) common.DateReport {
	day := common.DateReport{Date: inv.Date.Format("2006-01-02")}
	if inv.Err != nil {
		log.Logger(ctx).Sugar().Errorf("%s aborted: %v", day.Date, inv.Err)
		day.Error = inv.Err.Error()
		return day
	}

	day.Discovered = len(inv.Refs)
	kept := catalog.TemporalFilter(inv.Refs, p.Hours, p.Minutes)
	catalog.SortRefs(kept)
	day.Kept = len(kept)
	log.Logger(ctx).Sugar().Infof("%s: %d object(s) discovered, %d kept", day.Date, day.Discovered, day.Kept)
	if len(kept) == 0 {
		return day
	}

	day.Fetches = p.Fetcher.Fetch(ctx, kept, ws)
	if p.Product.AcquisitionOnly || p.Writer == nil || p.Resampler == nil {
		return day
	}

	// One granule at a time: a single swath and a single frame in memory.
	for i, fetch := range day.Fetches {
		if ctx.Err() != nil {
			break
		}
		if fetch.Status != common.StatusFETCHED && fetch.Status != common.StatusCACHED {
			continue
		}
		day.Frames = append(day.Frames, p.runFrame(ctx, fetch, kept[i]))
	}
	return day
}

func (p *Pipeline) runFrame(ctx context.Context, fetch common.FetchOutcome, ref common.ObjectRef) common.FrameOutcome {
	outcome := common.FrameOutcome{Name: ref.Name, Time: ref.Time}

	frame, err := p.Resampler.RegridFile(ctx, fetch.LocalPath, ref)
	if err != nil {
		log.Logger(ctx).Sugar().Errorf("%v, continuing with the next granule", err)
		outcome.Error = err.Error()
		return outcome
	}

	path, skipped, err := p.Writer.Write(ctx, frame)
	outcome.Path = path
	switch {
	case err != nil:
		log.Logger(ctx).Sugar().Errorf("%v, continuing with the next granule", err)
		outcome.Error = err.Error()
	case skipped:
		outcome.Skipped = true
	default:
		outcome.Written = true
	}
	return outcome
}

func (p *Pipeline) logSummary(ctx context.Context, report *common.RunReport) {
	counts := report.FetchCounts()
	log.Logger(ctx).Sugar().Infof("%s: %d discovered, %d kept, %d fetched (%d cached, %d failed), %d frame(s) written (%d skipped, %d failed) in %.1fs",
		report.Product, report.Discovered(), report.Kept(),
		counts[common.StatusFETCHED], counts[common.StatusCACHED], counts[common.StatusFAILED],
		report.Written(), report.Skipped(), report.FrameFailures(),
		time.Since(report.StartedAt).Seconds())
}

// WriteReport dumps the run report as JSON into dir and returns the file path.
func WriteReport(report *common.RunReport, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("WriteReport.%w", err)
	}
	name := fmt.Sprintf("satseries_%s_%s.json", report.Product, report.StartedAt.Format("20060102T150405Z"))
	if err := service.ToJSON(report, dir, name); err != nil {
		return "", fmt.Errorf("WriteReport.%w", err)
	}
	return filepath.Join(dir, name), nil
}
