package pipeline_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zlib"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/satdatalab/satseries/catalog"
	"github.com/satdatalab/satseries/common"
	"github.com/satdatalab/satseries/downloader"
	"github.com/satdatalab/satseries/interface/provider"
	"github.com/satdatalab/satseries/pipeline"
	"github.com/satdatalab/satseries/processor"
	"github.com/satdatalab/satseries/series"
	"github.com/satdatalab/satseries/service"
)

var _ = Describe("Pipeline", func() {
	var (
		ctx    context.Context
		outDir string
		ws     *service.Workspace
		day    time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		day = time.Date(2021, 7, 1, 0, 0, 0, 0, time.UTC)
		var err error
		outDir, err = os.MkdirTemp("", "satseries_out_")
		Expect(err).NotTo(HaveOccurred())
		ws, err = service.NewWorkspace("", "")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(ws.Close()).To(Succeed())
		os.RemoveAll(outDir)
	})

	testFetcher := func() *downloader.Fetcher {
		return &downloader.Fetcher{
			Providers:   []provider.ObjectProvider{provider.NewHTTPProvider("", "", "", 5*time.Second, 5*time.Second)},
			Concurrency: 4,
			Tries:       2,
			RetryDelay:  time.Millisecond,
		}
	}

	gridsatPipeline := func(endpoint string) *pipeline.Pipeline {
		product, err := common.GetProduct("gridsat-b1")
		Expect(err).NotTo(HaveOccurred())
		grid, err := processor.Build(10, 10.4, -60.5, -60, 0.1, 0.1)
		Expect(err).NotTo(HaveOccurred())
		return &pipeline.Pipeline{
			Product: product,
			Hours:   12,
			Minutes: 60,
			Catalog: &catalog.Catalog{Endpoint: endpoint},
			Fetcher: testFetcher(),
			Resampler: &processor.Resampler{
				Grid:           grid,
				Variable:       product.Variable,
				SearchRadiusKm: processor.DefaultSearchRadiusKm,
			},
			Writer: &series.Writer{
				Template:    filepath.Join(outDir, "{PRODUCT}_{N1}N.zarr"),
				Mode:        series.ModeAppend,
				Compression: 4,
			},
		}
	}

	It("fetches, regrids and persists a day of granules, idempotently", func() {
		p := gridsatPipeline(server.URL + "/access/%Y/%m/%d/")
		report, err := p.Run(ctx, day, day, ws)
		Expect(err).NotTo(HaveOccurred())

		Expect(report.Discovered()).To(Equal(3))
		Expect(report.Kept()).To(Equal(2), "12h/60min cadence keeps 00:00 and 12:00")
		Expect(report.Written()).To(Equal(2))
		Expect(report.FrameFailures()).To(BeZero())

		storePath := filepath.Join(outDir, "gridsat-b1_10N.zarr")
		store := &series.Store{Path: storePath}
		times, err := store.Times()
		Expect(err).NotTo(HaveOccurred())
		Expect(times).To(Equal([]int64{day.Unix(), day.Add(12 * time.Hour).Unix()}))

		// first frame, decoded with a plain zlib reader
		raw, err := os.ReadFile(filepath.Join(storePath, "irwin_cdr", "0.0.0"))
		Expect(err).NotTo(HaveOccurred())
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		Expect(err).NotTo(HaveOccurred())
		defer zr.Close()
		values := make([]float32, 4*5)
		Expect(binary.Read(zr, binary.LittleEndian, values)).To(Succeed())
		Expect(values[0]).To(BeNumerically("~", 200, 1e-4))
		Expect(values[19]).To(BeNumerically("~", 200.19, 1e-4))
		Expect(math.IsNaN(float64(values[7]))).To(BeTrue(), "fill pixel stays missing")

		// second run over the same day: cached fetches, skipped frames
		before := atomic.LoadInt32(&downloads)
		rerun, err := p.Run(ctx, day, day, ws)
		Expect(err).NotTo(HaveOccurred())
		Expect(rerun.Written()).To(BeZero())
		Expect(rerun.Skipped()).To(Equal(2))
		for _, fetch := range rerun.Dates[0].Fetches {
			Expect(fetch.Status).To(Equal(common.StatusCACHED))
		}
		Expect(atomic.LoadInt32(&downloads)).To(Equal(before), "cached granules are not downloaded again")

		times, err = store.Times()
		Expect(err).NotTo(HaveOccurred())
		Expect(times).To(HaveLen(2), "re-running leaves the store unchanged")
	})

	It("records a failed date and carries on with the remaining dates", func() {
		p := gridsatPipeline(server.URL + "/access/%Y/%m/%d/")
		report, err := p.Run(ctx, day, day.AddDate(0, 0, 1), ws)
		Expect(err).NotTo(HaveOccurred(), "the first date still produced frames")

		Expect(report.Dates).To(HaveLen(2))
		Expect(report.Dates[0].Error).To(BeEmpty())
		Expect(report.Dates[1].Error).To(ContainSubstring("discovery"))
		Expect(report.Written()).To(Equal(2))
	})

	It("fails the run when nothing ends up in a store", func() {
		p := gridsatPipeline(server.URL + "/access/empty/")
		report, err := p.Run(ctx, day, day, ws)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("no frame was written"))
		Expect(report.Discovered()).To(BeZero())
	})

	It("fetches acquisition-only products without decoding them", func() {
		product, err := common.GetProduct("airs-ir")
		Expect(err).NotTo(HaveOccurred())
		keepDir := filepath.Join(outDir, "rawdata")
		kws, err := service.NewWorkspace("", keepDir)
		Expect(err).NotTo(HaveOccurred())

		p := &pipeline.Pipeline{
			Product: product,
			Hours:   1,
			Minutes: 1,
			Catalog: &catalog.Catalog{Endpoint: server.URL + "/airs/%Y/%j/"},
			Fetcher: testFetcher(),
		}
		report, err := p.Run(ctx, day, day, kws)
		Expect(err).NotTo(HaveOccurred())

		Expect(report.Discovered()).To(Equal(2))
		Expect(report.FetchCounts()[common.StatusFETCHED]).To(Equal(2))
		Expect(report.Written()).To(BeZero())
		for _, name := range airsGranules {
			b, err := os.ReadFile(filepath.Join(keepDir, name))
			Expect(err).NotTo(HaveOccurred())
			Expect(string(b)).To(ContainSubstring(name))
		}
	})

	It("aborts on a cancelled context", func() {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		p := gridsatPipeline(server.URL + "/access/%Y/%m/%d/")
		_, err := p.Run(cancelled, day, day, ws)
		Expect(err).To(HaveOccurred())
		Expect(errors.Is(err, context.Canceled)).To(BeTrue())
	})

	It("dumps the run report as JSON", func() {
		p := gridsatPipeline(server.URL + "/access/%Y/%m/%d/")
		report, err := p.Run(ctx, day, day, ws)
		Expect(err).NotTo(HaveOccurred())

		path, err := pipeline.WriteReport(report, filepath.Join(outDir, "reports"))
		Expect(err).NotTo(HaveOccurred())
		Expect(filepath.Base(path)).To(HavePrefix("satseries_gridsat-b1_"))

		raw, err := os.ReadFile(path)
		Expect(err).NotTo(HaveOccurred())
		var back common.RunReport
		Expect(json.Unmarshal(raw, &back)).To(Succeed())
		Expect(back.Product).To(Equal("gridsat-b1"))
		Expect(back.Dates).To(HaveLen(1))
		Expect(back.Dates[0].Fetches).To(HaveLen(2))
	})
})
