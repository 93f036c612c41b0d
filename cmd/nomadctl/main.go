package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"nomadclient/internal/aggregate"
	"nomadclient/internal/attribution"
	"nomadclient/internal/cachestore"
	"nomadclient/internal/config"
	"nomadclient/internal/export"
	"nomadclient/internal/jobs"
	"nomadclient/internal/logging"
	"nomadclient/pkg/auth"
	"nomadclient/pkg/client"
)

func main() {
	maxRecords := flag.Int("max", 0, "maximum number of sample records to retrieve (0 = all)")
	outCSV := flag.String("out", "nomad_samples.csv", "CSV output path")
	outXLSX := flag.String("xlsx", "", "optional XLSX output path")
	section := flag.String("section", "", "ELN section type to query (default from config)")
	refresh := flag.Duration("refresh", 0, "keep running and refresh the cache on this interval (0 = run once)")
	noCache := flag.Bool("no-cache", false, "disable the persistent cache for this run")
	clearCache := flag.Bool("clear-cache", false, "clear all cached data before running")
	showStats := flag.Bool("stats", false, "print cache statistics and exit")
	flag.Parse()

	logging.Init()

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err == nil {
		log.Println("✅ .env file loaded")
	}

	cfg := config.Load()
	if *section != "" {
		cfg.SectionType = *section
	}
	baseURL := cfg.ResolveBaseURL()
	log.Printf("📋 Using oasis %s", baseURL)

	var store *cachestore.Store
	if cfg.CacheEnabled && !*noCache {
		store = cachestore.New(cfg.CacheDir)
		store.SetExpiry(cachestore.KindEntries, cfg.EntriesExpiry)
		store.SetExpiry(cachestore.KindUsers, cfg.UsersExpiry)
		store.SetExpiry(cachestore.KindUploads, cfg.UploadsExpiry)
	}

	if *showStats {
		if store == nil {
			log.Println("⚠️ Cache is disabled")
			return
		}
		for kind, stats := range store.Stats() {
			log.Printf("📦 %-8s count=%d size=%dB oldest=%s newest=%s",
				kind, stats.Count, stats.TotalSize,
				formatTime(stats.Oldest), formatTime(stats.Newest))
		}
		return
	}

	if *clearCache && store != nil {
		if err := store.Clear(); err != nil {
			log.Printf("⚠️ Failed to clear cache: %v", err)
		} else {
			log.Println("🧹 Cache cleared")
		}
	}

	ctx := context.Background()
	token, user := authenticate(ctx, cfg, baseURL)
	log.Printf("✅ Authenticated as %s", user.DisplayName())

	c := client.New(baseURL, token)
	c.SetTimeout(cfg.RequestTimeout)
	c.SetRateLimit(cfg.RequestsPerSecond)

	engine := aggregate.New(c, store)
	opts := aggregate.Options{
		MaxRecords:  *maxRecords,
		SectionType: cfg.SectionType,
	}

	result, err := engine.FetchSamples(ctx, opts)
	if err != nil {
		log.Fatalf("❌ Sample retrieval failed: %v", err)
	}
	if result.FromCache {
		log.Printf("📦 Served %d records from cache", len(result.Records))
	} else {
		log.Printf("✅ Retrieved %d records (%d skipped)", len(result.Records), len(result.Skipped))
	}

	writeExports(cfg, result, *outCSV, *outXLSX)

	if *refresh <= 0 {
		return
	}

	scheduler, err := jobs.NewRefreshScheduler(engine)
	if err != nil {
		log.Fatalf("❌ Failed to create scheduler: %v", err)
	}
	exp := newExporter(cfg, result, *outCSV, *outXLSX)
	if err := scheduler.Schedule(*refresh, opts, exp.update); err != nil {
		log.Fatalf("❌ Failed to schedule refresh: %v", err)
	}
	scheduler.Start()

	// Re-export when the attribution file is edited on disk.
	stopWatch, err := attribution.Watch(cfg.AttributionFile, func() {
		log.Println("📝 Attribution file changed, re-exporting")
		exp.rewrite()
	})
	if err != nil {
		log.Printf("⚠️ Attribution watch unavailable: %v", err)
	} else {
		defer stopWatch()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("🛑 Shutting down")
	if err := scheduler.Stop(); err != nil {
		log.Printf("⚠️ Scheduler shutdown failed: %v", err)
	}
}

// exporter serializes the export writes of refresh mode: refresh completions
// and attribution file edits arrive on different goroutines but share the
// latest result set and the same output paths.
type exporter struct {
	mu   sync.Mutex
	cfg  *config.Config
	csv  string
	xlsx string

	latest *aggregate.Result
}

func newExporter(cfg *config.Config, result *aggregate.Result, csvPath, xlsxPath string) *exporter {
	return &exporter{cfg: cfg, csv: csvPath, xlsx: xlsxPath, latest: result}
}

// update replaces the exported result set and rewrites the output files.
func (e *exporter) update(result *aggregate.Result) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.latest = result
	writeExports(e.cfg, e.latest, e.csv, e.xlsx)
}

// rewrite re-exports the current result set, picking up attribution edits.
func (e *exporter) rewrite() {
	e.mu.Lock()
	defer e.mu.Unlock()
	writeExports(e.cfg, e.latest, e.csv, e.xlsx)
}

// authenticate resolves a bearer token: a pre-issued token from the
// environment wins, otherwise the username/password pair is exchanged.
func authenticate(ctx context.Context, cfg *config.Config, baseURL string) (string, *client.User) {
	if cfg.Token != "" {
		if auth.IsTokenExpired(cfg.Token) {
			log.Println("⚠️ Configured token looks expired, verification may fail")
		}
		user, err := auth.VerifyToken(ctx, baseURL, cfg.Token)
		if err != nil {
			log.Fatalf("❌ Token verification failed: %v", err)
		}
		return cfg.Token, user
	}

	if cfg.Username == "" || cfg.Password == "" {
		log.Fatalf("❌ Set %s or NOMAD_USERNAME/NOMAD_PASSWORD", auth.TokenEnvVar)
	}
	token, user, err := auth.Authenticate(ctx, baseURL, auth.MethodPassword, cfg.Username, cfg.Password)
	if err != nil {
		log.Fatalf("❌ Authentication failed: %v", err)
	}
	return token, user
}

// writeExports applies attribution overrides and writes the configured
// output files.
func writeExports(cfg *config.Config, result *aggregate.Result, csvPath, xlsxPath string) {
	overrides := attribution.Load(cfg.AttributionFile)
	records := export.ApplyOverrides(result.Records, overrides)

	if csvPath != "" {
		if err := export.WriteCSV(csvPath, records); err != nil {
			log.Printf("⚠️ CSV export failed: %v", err)
		} else {
			log.Printf("💾 Wrote %d records to %s", len(records), csvPath)
		}
	}
	if xlsxPath != "" {
		if err := export.WriteXLSX(xlsxPath, records); err != nil {
			log.Printf("⚠️ XLSX export failed: %v", err)
		} else {
			log.Printf("💾 Wrote %d records to %s", len(records), xlsxPath)
		}
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}
