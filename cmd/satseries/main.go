package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/satdatalab/satseries/catalog"
	"github.com/satdatalab/satseries/common"
	"github.com/satdatalab/satseries/downloader"
	"github.com/satdatalab/satseries/interface/provider"
	"github.com/satdatalab/satseries/pipeline"
	"github.com/satdatalab/satseries/processor"
	"github.com/satdatalab/satseries/series"
	"github.com/satdatalab/satseries/service"
	"github.com/satdatalab/satseries/service/geometry"
	"github.com/satdatalab/satseries/service/log"
	"go.uber.org/zap"
)

// version is overridden at release time through -ldflags.
var version = "dev"

const (
	fetchTries      = 3
	fetchRetryDelay = 10 * time.Second
)

type config struct {
	Product    string
	Channel    int
	Mesoregion string
	Date       string

	Lat0   float64
	Lat1   float64
	Lon0   float64
	Lon1   float64
	AOI    string
	ResLat float64
	ResLon float64

	Hours   int
	Minutes int

	Out          string
	Mode         string
	Compression  int
	Variable     string
	SearchRadius float64

	Concurrency    int
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WorkDir        string
	KeepRawdata    string

	Username string
	Password string
	Token    string

	GCSBucket   string
	S3Bucket    string
	S3Region    string
	Endpoint    string
	S3AccessKey string
	S3SecretKey string

	ReportDir string
	Verbose   bool
}

func newAppConfig() (*config, error) {
	config := config{}

	// Acquisition selection
	flag.StringVar(&config.Product, "product", "", "product identifier ("+strings.Join(common.ProductNames(), ", ")+")")
	flag.IntVar(&config.Channel, "channel", 0, "ABI channel (1-16) for channelled products")
	flag.StringVar(&config.Mesoregion, "mesoregion", "", "scene sector (C for CONUS, M1/M2 for mesoscale, empty for the full disk)")
	flag.StringVar(&config.Date, "date", "", "acquisition date YYYYMMDD or range YYYYMMDD-YYYYMMDD")
	flag.IntVar(&config.Hours, "hours", 0, "hour modulus of the kept acquisitions (0 0: latest of the day only)")
	flag.IntVar(&config.Minutes, "minutes", 0, "minute modulus of the kept acquisitions")

	// Output grid
	flag.Float64Var(&config.Lat0, "lat0", 0, "southern latitude of the output grid [deg]")
	flag.Float64Var(&config.Lat1, "lat1", 0, "northern latitude of the output grid [deg]")
	flag.Float64Var(&config.Lon0, "lon0", 0, "western longitude of the output grid [deg]")
	flag.Float64Var(&config.Lon1, "lon1", 0, "eastern longitude of the output grid [deg]")
	flag.StringVar(&config.AOI, "aoi", "", "GeoJSON file whose bounding box replaces lat0/lat1/lon0/lon1")
	flag.Float64Var(&config.ResLat, "reslat", 0, "latitude resolution of the output grid [deg]")
	flag.Float64Var(&config.ResLon, "reslon", 0, "longitude resolution of the output grid [deg]")

	// Output store
	flag.StringVar(&config.Out, "out", "", "output store path template ({PRODUCT}, {CHANNEL}, {MESOREGION}, {N1}, {N2}, {E1}, {E2} and strftime codes)")
	flag.StringVar(&config.Mode, "mode", string(series.ModeAppend), "append or overwrite an existing store")
	flag.IntVar(&config.Compression, "compression", series.DefaultCompression, "zlib compression level (1-9)")
	flag.StringVar(&config.Variable, "variable", "", "source variable decoded from the granules (default per product)")
	flag.Float64Var(&config.SearchRadius, "search-radius", processor.DefaultSearchRadiusKm, "nearest-neighbor acceptance radius [km]")

	// Fetching
	flag.IntVar(&config.Concurrency, "concurrency", 30, "parallel downloads")
	flag.DurationVar(&config.ConnectTimeout, "connect-timeout", 30*time.Second, "dial timeout of remote requests")
	flag.DurationVar(&config.ReadTimeout, "read-timeout", 10*time.Second, "response timeout of remote requests")
	flag.StringVar(&config.WorkDir, "workdir", "", "scratch root for downloads (default: os temp dir)")
	flag.StringVar(&config.KeepRawdata, "keep-rawdata", "", "keep the fetched granules in this directory after the run")

	// Remote services
	flag.StringVar(&config.Username, "username", os.Getenv("EARTHDATA_USER"), "basic-auth username (default $EARTHDATA_USER)")
	flag.StringVar(&config.Password, "password", os.Getenv("EARTHDATA_PASSWORD"), "basic-auth password (default $EARTHDATA_PASSWORD)")
	flag.StringVar(&config.Token, "token", os.Getenv("EARTHDATA_TOKEN"), "bearer token (default $EARTHDATA_TOKEN)")
	flag.StringVar(&config.GCSBucket, "gcs-bucket", "", "Google Cloud Storage bucket overriding the product mirror")
	flag.StringVar(&config.S3Bucket, "s3-bucket", "", "S3 bucket overriding the product mirror")
	flag.StringVar(&config.S3Region, "s3-region", "", "S3 region of the bucket (default per product)")
	flag.StringVar(&config.Endpoint, "endpoint", "", "listing endpoint override, strftime template")
	flag.StringVar(&config.S3AccessKey, "s3-access-key", "", "static S3 access key (anonymous when empty)")
	flag.StringVar(&config.S3SecretKey, "s3-secret-key", "", "static S3 secret key")

	// Reporting
	flag.StringVar(&config.ReportDir, "report-dir", "", "write the run report as JSON into this directory")
	flag.BoolVar(&config.Verbose, "v", false, "debug logging")

	flag.Parse()

	if config.Product == "" {
		return nil, fmt.Errorf("missing product config flag")
	}
	if config.Date == "" {
		return nil, fmt.Errorf("missing date config flag")
	}
	if config.Compression < 1 || config.Compression > 9 {
		return nil, fmt.Errorf("compression level %d out of range [1,9]", config.Compression)
	}
	if config.Concurrency < 1 {
		return nil, fmt.Errorf("concurrency must be at least 1")
	}
	return &config, nil
}

func main() {
	ctx := context.Background()
	err := run(ctx)
	if err != nil {
		log.Fatal("error", zap.Error(err))
	}
}

func run(ctx context.Context) error {
	config, err := newAppConfig()
	if err != nil {
		return err
	}
	log.Init(config.Verbose)
	defer log.Sync()

	product, err := common.GetProduct(config.Product)
	if err != nil {
		return err
	}
	channel := ""
	if config.Channel != 0 {
		if channel, err = common.FormatChannel(config.Channel); err != nil {
			return err
		}
	}
	if product.Channelled && channel == "" {
		return fmt.Errorf("%s requires a channel (1-16)", product.Name)
	}
	mesoregion, err := common.NormalizeMesoregion(config.Mesoregion)
	if err != nil {
		return err
	}
	if mesoregion != "" && !product.Mesoregions {
		return fmt.Errorf("%s has no mesoscale sectors", product.Name)
	}

	start, end, err := parseDateRange(config.Date)
	if err != nil {
		return err
	}

	region := geometry.NewRegion(config.Lat0, config.Lat1, config.Lon0, config.Lon1)
	if config.AOI != "" {
		if region, err = service.LoadAOI(config.AOI); err != nil {
			return err
		}
	}

	// Fetch backends. Every provider is registered; the address scheme of each
	// object selects the one that serves it.
	s3Region := config.S3Region
	if s3Region == "" {
		s3Region = product.S3Region
	}
	providers := []provider.ObjectProvider{
		provider.NewHTTPProvider(config.Username, config.Password, config.Token, config.ConnectTimeout, config.ReadTimeout),
		provider.NewGSProvider(config.GCSBucket == "", ""),
		provider.NewS3Provider(s3Region, "", config.S3AccessKey, config.S3SecretKey),
		provider.NewFTPProvider(config.Username, config.Password, config.ConnectTimeout),
		provider.NewLocalProvider(),
	}
	providerNames := make([]string, len(providers))
	for i, p := range providers {
		providerNames[i] = p.Name()
	}

	p := &pipeline.Pipeline{
		Product:    product,
		Channel:    channel,
		Mesoregion: mesoregion,
		Hours:      config.Hours,
		Minutes:    config.Minutes,
		Catalog: &catalog.Catalog{
			Endpoint:          config.Endpoint,
			GCSBucket:         config.GCSBucket,
			S3Bucket:          config.S3Bucket,
			S3Region:          config.S3Region,
			S3AccessKeyID:     config.S3AccessKey,
			S3SecretAccessKey: config.S3SecretKey,
			Username:          config.Username,
			Password:          config.Password,
			Token:             config.Token,
		},
		Fetcher: &downloader.Fetcher{
			Providers:   providers,
			Concurrency: config.Concurrency,
			Tries:       fetchTries,
			RetryDelay:  fetchRetryDelay,
		},
	}

	if !product.AcquisitionOnly {
		if config.Out == "" {
			return fmt.Errorf("missing out config flag")
		}
		mode, err := series.ParseMode(config.Mode)
		if err != nil {
			return err
		}
		grid, err := processor.Build(region.Lat0(), region.Lat1(), region.Lon0(), region.Lon1(), config.ResLat, config.ResLon)
		if err != nil {
			return err
		}
		log.Logger(ctx).Sugar().Debugf("output grid %dx%d over %s", grid.Rows, grid.Cols, region.WKT())
		variable := config.Variable
		if variable == "" {
			variable = product.Variable
		}
		p.Resampler = &processor.Resampler{Grid: grid, Variable: variable, SearchRadiusKm: config.SearchRadius}
		p.Writer = &series.Writer{Template: config.Out, Mode: mode, Compression: config.Compression, Version: version}
	} else if config.Out != "" {
		log.Logger(ctx).Sugar().Warnf("%s is acquisition-only, -out is ignored", product.Name)
	}

	ws, err := service.NewWorkspace(config.WorkDir, config.KeepRawdata)
	if err != nil {
		return err
	}
	defer ws.Close()

	log.Logger(ctx).Sugar().Debugf("fetching %s objects through %s into %s", product.Name, strings.Join(providerNames, ", "), ws.Root)
	report, err := p.Run(ctx, start, end, ws)
	if report != nil && config.ReportDir != "" {
		path, werr := pipeline.WriteReport(report, config.ReportDir)
		if werr != nil {
			log.Logger(ctx).Warn("run report not written", zap.Error(werr))
		} else {
			log.Logger(ctx).Sugar().Infof("run report written to %s", path)
		}
	}
	return err
}

// parseDateRange reads a single day or a dash-separated pair of days. Any
// format dateparse recognizes is accepted, "20210701" and "2021.07.01" alike.
func parseDateRange(s string) (time.Time, time.Time, error) {
	if parts := strings.Split(s, "-"); len(parts) == 2 {
		start, err0 := dateparse.ParseAny(parts[0])
		end, err1 := dateparse.ParseAny(parts[1])
		if err0 == nil && err1 == nil {
			if end.Before(start) {
				return time.Time{}, time.Time{}, fmt.Errorf("date range %q ends before it starts", s)
			}
			return start.UTC(), end.UTC(), nil
		}
	}
	day, err := dateparse.ParseAny(s)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("unreadable date %q: %w", s, err)
	}
	return day.UTC(), day.UTC(), nil
}
