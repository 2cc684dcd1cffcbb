// tileseed prefetches a bounding box across a zoom range into the
// disk tile store, so a later interactive session starts warm.
package main

import "flag"
import "fmt"
import "log"
import "os"
import "path/filepath"
import "runtime/pprof"
import "strings"
import "sync/atomic"
import "time"

import "go.uber.org/zap"

import "github.com/globegl/globeview/cache"
import "github.com/globegl/globeview/configuration"
import "github.com/globegl/globeview/fetch"
import "github.com/globegl/globeview/store"
import "github.com/globegl/globeview/tile"

type seedSink struct {
	published atomic.Uint64
	failed    atomic.Uint64
}

func (s *seedSink) Published(r *tile.Raster) { s.published.Add(1) }

func (s *seedSink) Failed(k tile.Key, err error) { s.failed.Add(1) }

func (s *seedSink) finished() uint64 { return s.published.Load() + s.failed.Load() }

func main() {
	fileBase := filepath.Base(os.Args[0])
	cpuprofile := flag.String("cpuprofile", "", "write CPU profile to this file")
	bounds := boundsValue{}
	flag.Var(&bounds, "bbox", "area to seed as minLat,minLon,maxLat,maxLon")
	zooms := zoomRangeValue{Min: 0, Max: 8}
	flag.Var(&zooms, "zoom", "zoom level or range to seed, e.g. 12 or 0-12")
	providerName := flag.String("provider", "", "tile provider, overrides the configured one")
	cacheDir := flag.String("cache_dir", "", "disk store directory, overrides the configured one")
	maxTiles := flag.Int("max_tiles", 1000000, "refuse to seed more than this many tiles")
	showProgress := flag.Bool("progress", true, "show progress bar")
	flag.BoolVar(showProgress, "P", true, "show progress bar")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(),
			"%s --bbox=<minLat>,<minLon>,<maxLat>,<maxLon> [--zoom=<min>-<max>] [--provider=<name>]\n", fileBase)
		flag.PrintDefaults()
		fmt.Fprintf(flag.CommandLine.Output(), "builtin providers: %s\n",
			strings.Join(fetch.BuiltinProviderNames(), ", "))
	}
	flag.Parse()
	if !bounds.set {
		flag.Usage()
		os.Exit(2)
	}
	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal("could not create CPU profile: ", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal("could not start CPU profile: ", err)
		}
		defer pprof.StopCPUProfile()
	}

	conf, err := configuration.Load()
	if err != nil {
		log.Fatal("could not load configuration: ", err)
	}
	if *providerName != "" {
		conf.Provider.Name = *providerName
		conf.Provider.URLTemplate = ""
	}
	if *cacheDir != "" {
		conf.Cache.Dir = *cacheDir
	}
	logger, err := conf.NewLogger()
	if err != nil {
		log.Fatal("could not build logger: ", err)
	}
	defer logger.Sync()

	provider, err := conf.TileProvider()
	if err != nil {
		log.Fatal(err)
	}
	diskStore, err := store.New(conf.Cache.Dir, provider.Format, conf.Cache.TTL, conf.Cache.DiskBytes, logger)
	if err != nil {
		log.Fatal("could not open disk store: ", err)
	}

	var keys []tile.Key
	seen := make(map[tile.Key]bool)
	for z := zooms.Min; z <= zooms.Max; z++ {
		if !provider.SupportsZoom(z) {
			continue
		}
		minX, minY, maxX, maxY := bounds.Bounds.TileRange(z)
		for y := minY; y <= maxY; y++ {
			for x := minX; x <= maxX; x++ {
				k := tile.Key{X: x, Y: y, Z: z}.WrapX()
				if !seen[k] {
					seen[k] = true
					keys = append(keys, k)
				}
			}
		}
	}
	if len(keys) == 0 {
		log.Fatal("nothing to seed: zoom range not supported by provider")
	}
	if len(keys) > *maxTiles {
		log.Fatalf("refusing to seed %d tiles (limit %d, raise with --max_tiles)", len(keys), *maxTiles)
	}

	sink := &seedSink{}
	pool := fetch.NewPool(fetch.Options{
		Provider:     provider,
		Store:        diskStore,
		Cache:        cache.New(conf.Cache.MemoryBytes),
		Sink:         sink,
		Workers:      conf.Fetch.Workers,
		MaxRetries:   conf.Fetch.MaxRetries,
		BackoffBase:  conf.Fetch.BackoffBase,
		HTTPTimeout:  conf.Fetch.HTTPTimeout,
		QueueBound:   len(keys),
		FailCooldown: conf.Fetch.FailCooldown,
		Logger:       logger,
	})
	pool.Start()
	defer pool.Stop()

	logger.Info("Seeding tiles",
		zap.Int("tiles", len(keys)),
		zap.String("provider", provider.Name),
		zap.String("store", conf.Cache.Dir))
	submitted := 0
	for _, k := range keys {
		// Coarse zooms first, they cover the most area per tile.
		if err := pool.Submit(k, int(k.Z)); err != nil {
			logger.Warn("Skipping tile", zap.String("tile", k.String()), zap.Error(err))
			continue
		}
		submitted++
	}

	for {
		finished := int(sink.finished())
		if *showProgress && submitted > 0 {
			printProgressBar(finished, submitted)
		}
		if finished >= submitted {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if *showProgress {
		fmt.Println()
	}
	logger.Info("Seeding finished",
		zap.Uint64("fetched", sink.published.Load()),
		zap.Uint64("failed", sink.failed.Load()))
	if sink.failed.Load() > 0 {
		os.Exit(1)
	}
}

func printProgressBar(done int, total int) {
	const maxWidth = 50
	doneWidth := done * maxWidth / total
	var b strings.Builder
	b.WriteString("\r[")
	for i := 1; i < doneWidth; i++ {
		b.WriteRune('=')
	}
	if done < total {
		b.WriteRune('>')
	} else {
		b.WriteRune('=')
	}
	for i := doneWidth; i < maxWidth; i++ {
		b.WriteRune(' ')
	}
	percent := 100. * float32(done) / float32(total)
	b.WriteString(fmt.Sprintf("] %3.1f%% (%d/%d)", percent, done, total))
	fmt.Print(b.String())
}
