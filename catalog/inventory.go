package catalog

import (
	"context"
	"time"

	"github.com/satdatalab/satseries/common"
	"github.com/satdatalab/satseries/service"
	"github.com/satdatalab/satseries/service/log"
	"golang.org/x/sync/errgroup"
)

// Days expands the inclusive [start, end] range into midnight-UTC days.
func Days(start, end time.Time) []time.Time {
	start = start.UTC().Truncate(24 * time.Hour)
	end = end.UTC().Truncate(24 * time.Hour)
	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// DayInventory is the discovery result of one date: the refs listed for that
// day, or the DiscoveryError that aborted it.
type DayInventory struct {
	Date time.Time
	Refs []common.ObjectRef
	Err  error
}

type inventoryJob struct {
	index int
	day   time.Time
}

// Inventory discovers the product objects of every day, fanning the days out
// to a small worker pool. Results come back in day order, deduplicated by
// address across the whole run.
func (c *Catalog) Inventory(ctx context.Context, product *common.Product, days []time.Time, channel, mesoregion string) []DayInventory {
	inventories := make([]DayInventory, len(days))

	// Create group
	wg, wctx := errgroup.WithContext(ctx)
	jobChan := make(chan inventoryJob, len(days))

	// Start workers
	for i := 0; i < 4 && i < len(days); i++ {
		wg.Go(func() error { return c.inventoryWorker(wctx, jobChan, product, channel, mesoregion, inventories) })
	}

	// Push jobs
	for i, day := range days {
		jobChan <- inventoryJob{index: i, day: day}
	}
	close(jobChan)

	// Wait (workers only fail on cancellation)
	errWait := wg.Wait()
	if err := service.MergeErrors(true, errWait, ctx.Err()); err != nil {
		for i := range inventories {
			if inventories[i].Date.IsZero() {
				inventories[i] = DayInventory{Date: days[i], Err: DiscoveryError{Product: product.Name, Date: days[i], Err: err}}
			}
		}
	}

	// Session-scoped deduplication across days and backends
	seen := service.StringSet{}
	total := 0
	for i := range inventories {
		kept := inventories[i].Refs[:0]
		for _, ref := range inventories[i].Refs {
			if seen.Exists(ref.Address) {
				continue
			}
			seen.Push(ref.Address)
			kept = append(kept, ref)
		}
		inventories[i].Refs = kept
		total += len(kept)
	}
	log.Logger(ctx).Sugar().Debugf("%d objects discovered over %d days", total, len(days))

	return inventories
}

func (c *Catalog) inventoryWorker(ctx context.Context, jobs <-chan inventoryJob, product *common.Product, channel, mesoregion string, inventories []DayInventory) error {
	for job := range jobs {
		select {
		case <-ctx.Done():
		default:
			refs, err := c.DiscoverDay(ctx, product, job.day, channel, mesoregion)
			inventories[job.index] = DayInventory{Date: job.day, Refs: refs, Err: err}
		}
	}
	return nil
}
