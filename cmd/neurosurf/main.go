package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ary1234554321/Neurosurf/internal/app"
	"github.com/ary1234554321/Neurosurf/internal/dsp"
	"github.com/ary1234554321/Neurosurf/internal/logging"
	"github.com/ary1234554321/Neurosurf/internal/record"
	"github.com/ary1234554321/Neurosurf/internal/stream"
	"github.com/ary1234554321/Neurosurf/internal/telemetry"
)

func main() {
	configPath := envString(os.LookupEnv, "NEUROSURF_CONFIG", "neurosurf.json")

	persistentCfg, err := loadOrCreateConfig(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	cfg, err := parseConfig(os.Args[1:], os.LookupEnv, persistentCfg)
	if err != nil {
		log.Fatalf("parse config: %v", err)
	}
	if err := saveConfig(configPath, persistentFromCLI(cfg)); err != nil {
		log.Fatalf("save config: %v", err)
	}

	level, err := logging.ParseLevel(cfg.logLevel)
	if err != nil {
		log.Fatalf("log level: %v", err)
	}
	format, err := logging.ParseFormat(cfg.logFormat)
	if err != nil {
		log.Fatalf("log format: %v", err)
	}
	logger := logging.New(level, format, os.Stderr)
	logging.SetDefault(logger)
	defer logging.Sync(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	targets, err := selectTargets(ctx, cfg, logger, discoverStreams)
	if err != nil {
		logger.Error("select source", logging.F("err", err))
		os.Exit(1)
	}

	var hub *telemetry.Hub
	var reporters []telemetry.Reporter
	if cfg.webAddr != "" {
		hub = telemetry.NewHub(cfg.historyLimit, logger)
		reporters = append(reporters, hub)
		go telemetry.NewWebServer(cfg.webAddr, hub, logger).Start(ctx)
		logger.Info("web interface", logging.F("url", "http://localhost"+cfg.webAddr))
	} else {
		reporters = append(reporters, telemetry.NewStdoutReporter(logger, cfg.logEvery))
	}

	var wg sync.WaitGroup
	errs := make([]error, len(targets))
	for i, t := range targets {
		i, t := i, t
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = runTarget(ctx, t, cfg.forTarget(t, len(targets)), hub, telemetry.MultiReporter(reporters), logger)
		}()
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		logger.Error("pipeline stopped", logging.F("err", err))
		logging.Sync(logger)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

type cliConfig struct {
	source          string
	address         string
	url             string
	channels        int
	nominalRate     float64
	batchSize       int
	tones           []stream.Tone
	jitter          float64
	noise           float64
	windowSize      int
	settle          time.Duration
	provisionalRate float64
	notches         []dsp.Notch
	reconstruct     bool
	taper           bool
	recording       bool
	sink            string
	sinkPath        string
	sinkDir         string
	mysqlAddr       string
	mysqlUser       string
	mysqlPassword   string
	mysqlDB         string
	pollTimeout     time.Duration
	cycleInterval   time.Duration
	retryMax        time.Duration
	discoverType    string
	discoverTimeout time.Duration
	discoverAll     bool
	historyLimit    int
	webAddr         string
	logLevel        string
	logFormat       string
	logEvery        int
}

// duration is stored as a Go duration string ("5s") in the config file.
type duration time.Duration

func (d duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = duration(v)
	return nil
}

type persistentConfig struct {
	Source          string   `json:"source"`
	Address         string   `json:"address"`
	URL             string   `json:"url"`
	Channels        int      `json:"channels"`
	NominalRate     float64  `json:"nominal_rate"`
	BatchSize       int      `json:"batch_size"`
	Tones           string   `json:"tones"`
	Jitter          float64  `json:"jitter"`
	Noise           float64  `json:"noise"`
	WindowSize      int      `json:"window_size"`
	Settle          duration `json:"settle"`
	ProvisionalRate float64  `json:"provisional_rate"`
	Notches         string   `json:"notches"`
	Reconstruct     bool     `json:"reconstruct"`
	Taper           bool     `json:"taper"`
	Recording       bool     `json:"recording"`
	Sink            string   `json:"sink"`
	SinkPath        string   `json:"sink_path"`
	SinkDir         string   `json:"sink_dir"`
	MySQLAddr       string   `json:"mysql_addr"`
	MySQLUser       string   `json:"mysql_user"`
	MySQLDB         string   `json:"mysql_db"`
	PollTimeout     duration `json:"poll_timeout"`
	CycleInterval   duration `json:"cycle_interval"`
	RetryMax        duration `json:"retry_max"`
	DiscoverType    string   `json:"discover_type"`
	DiscoverTimeout duration `json:"discover_timeout"`
	DiscoverAll     bool     `json:"discover_all"`
	HistoryLimit    int      `json:"history_limit"`
	WebAddr         string   `json:"web_addr"`
	LogLevel        string   `json:"log_level"`
	LogFormat       string   `json:"log_format"`
	LogEvery        int      `json:"log_every"`
}

func parseConfig(args []string, lookup func(string) (string, bool), defaults persistentConfig) (cliConfig, error) {
	cfg := cliConfig{}
	var tones, notches string
	fs := flag.NewFlagSet("neurosurf", flag.ContinueOnError)
	fs.StringVar(&cfg.source, "source", envString(lookup, "NEUROSURF_SOURCE", defaults.Source), "Sample source (synthetic|tcp|ws|discover)")
	fs.StringVar(&cfg.address, "address", envString(lookup, "NEUROSURF_ADDRESS", defaults.Address), "host:port of a line-oriented TCP outlet")
	fs.StringVar(&cfg.url, "url", envString(lookup, "NEUROSURF_URL", defaults.URL), "ws:// URL of a WebSocket outlet")
	fs.IntVar(&cfg.channels, "channels", envInt(lookup, "NEUROSURF_CHANNELS", defaults.Channels), "Channel count (0 takes it from the source)")
	fs.Float64Var(&cfg.nominalRate, "nominal-rate", envFloat(lookup, "NEUROSURF_NOMINAL_RATE", defaults.NominalRate), "Advertised sampling rate in Hz; synthetic generator rate")
	fs.IntVar(&cfg.batchSize, "batch-size", envInt(lookup, "NEUROSURF_BATCH_SIZE", defaults.BatchSize), "Synthetic samples per poll")
	fs.StringVar(&tones, "tones", envString(lookup, "NEUROSURF_TONES", defaults.Tones), "Synthetic tones as freq:amplitude,...")
	fs.Float64Var(&cfg.jitter, "jitter", envFloat(lookup, "NEUROSURF_JITTER", defaults.Jitter), "Synthetic timestamp jitter in seconds")
	fs.Float64Var(&cfg.noise, "noise", envFloat(lookup, "NEUROSURF_NOISE", defaults.Noise), "Synthetic gaussian noise stddev")
	fs.IntVar(&cfg.windowSize, "window-size", envInt(lookup, "NEUROSURF_WINDOW_SIZE", defaults.WindowSize), "Samples analysed per cycle")
	fs.DurationVar(&cfg.settle, "settle", envDuration(lookup, "NEUROSURF_SETTLE", time.Duration(defaults.Settle)), "Time before the sampling rate is estimated")
	fs.Float64Var(&cfg.provisionalRate, "provisional-rate", envFloat(lookup, "NEUROSURF_PROVISIONAL_RATE", defaults.ProvisionalRate), "Rate assumed until the estimate settles (0 uses the source's nominal rate)")
	fs.StringVar(&notches, "notch", envString(lookup, "NEUROSURF_NOTCH", defaults.Notches), "Suppressed frequencies as freq[:tolerance],...")
	fs.BoolVar(&cfg.reconstruct, "reconstruct", envBool(lookup, "NEUROSURF_RECONSTRUCT", defaults.Reconstruct), "Publish the notch-filtered time series")
	fs.BoolVar(&cfg.taper, "taper", envBool(lookup, "NEUROSURF_TAPER", defaults.Taper), "Apply a Hamming window to the displayed spectrum")
	fs.BoolVar(&cfg.recording, "record", envBool(lookup, "NEUROSURF_RECORD", defaults.Recording), "Forward accepted samples to the recording sink")
	fs.StringVar(&cfg.sink, "sink", envString(lookup, "NEUROSURF_SINK", defaults.Sink), "Recording sink ("+strings.Join(record.Kinds, "|")+")")
	fs.StringVar(&cfg.sinkPath, "sink-path", envString(lookup, "NEUROSURF_SINK_PATH", defaults.SinkPath), "Recording file (empty picks <stream>_File_<unix>)")
	fs.StringVar(&cfg.sinkDir, "sink-dir", envString(lookup, "NEUROSURF_SINK_DIR", defaults.SinkDir), "Directory for default recording files")
	fs.StringVar(&cfg.mysqlAddr, "mysql-addr", envString(lookup, "NEUROSURF_MYSQL_ADDR", defaults.MySQLAddr), "MySQL host:port")
	fs.StringVar(&cfg.mysqlUser, "mysql-user", envString(lookup, "NEUROSURF_MYSQL_USER", defaults.MySQLUser), "MySQL user")
	fs.StringVar(&cfg.mysqlDB, "mysql-db", envString(lookup, "NEUROSURF_MYSQL_DB", defaults.MySQLDB), "MySQL database")
	fs.DurationVar(&cfg.pollTimeout, "poll-timeout", envDuration(lookup, "NEUROSURF_POLL_TIMEOUT", time.Duration(defaults.PollTimeout)), "Upper bound for a single poll (0 disables)")
	fs.DurationVar(&cfg.cycleInterval, "cycle-interval", envDuration(lookup, "NEUROSURF_CYCLE_INTERVAL", time.Duration(defaults.CycleInterval)), "Minimum time between cycles")
	fs.DurationVar(&cfg.retryMax, "retry-max", envDuration(lookup, "NEUROSURF_RETRY_MAX", time.Duration(defaults.RetryMax)), "Give up reconnecting after this long (0 retries forever)")
	fs.StringVar(&cfg.discoverType, "discover-type", envString(lookup, "NEUROSURF_DISCOVER_TYPE", defaults.DiscoverType), "Stream type accepted by discovery")
	fs.DurationVar(&cfg.discoverTimeout, "discover-timeout", envDuration(lookup, "NEUROSURF_DISCOVER_TIMEOUT", time.Duration(defaults.DiscoverTimeout)), "mDNS browse duration")
	fs.BoolVar(&cfg.discoverAll, "discover-all", envBool(lookup, "NEUROSURF_DISCOVER_ALL", defaults.DiscoverAll), "Run a pipeline for every eligible discovered stream")
	fs.IntVar(&cfg.historyLimit, "history-limit", envInt(lookup, "NEUROSURF_HISTORY_LIMIT", defaults.HistoryLimit), "Maximum summaries kept in telemetry history")
	fs.StringVar(&cfg.webAddr, "web-addr", envString(lookup, "NEUROSURF_WEB_ADDR", defaults.WebAddr), "Optional web telemetry listen address (e.g. :8080)")
	fs.StringVar(&cfg.logLevel, "log-level", envString(lookup, "NEUROSURF_LOG_LEVEL", defaults.LogLevel), "Log level (debug|info|warn|error)")
	fs.StringVar(&cfg.logFormat, "log-format", envString(lookup, "NEUROSURF_LOG_FORMAT", defaults.LogFormat), "Log format (text|json)")
	fs.IntVar(&cfg.logEvery, "log-every", envInt(lookup, "NEUROSURF_LOG_EVERY", defaults.LogEvery), "Log every n-th snapshot when the web interface is off")

	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}

	var err error
	if cfg.tones, err = parseTones(tones); err != nil {
		return cliConfig{}, fmt.Errorf("tones: %w", err)
	}
	if cfg.notches, err = dsp.ParseNotches(notches); err != nil {
		return cliConfig{}, fmt.Errorf("notch: %w", err)
	}
	if cfg.mysqlPassword, err = mysqlPassword(lookup); err != nil {
		return cliConfig{}, err
	}
	return cfg, nil
}

// pipelineConfig maps CLI settings onto app.Config for one stream. A zero
// channel count defers to the source.
func (c cliConfig) pipelineConfig(name string, channels int) app.Config {
	if channels == 0 {
		channels = c.channels
	}
	return app.Config{
		Stream:          name,
		Channels:        channels,
		WindowSize:      c.windowSize,
		SettleDuration:  c.settle,
		ProvisionalRate: c.provisionalRate,
		Notches:         c.notches,
		Reconstruct:     c.reconstruct,
		Recording:       c.recording,
		Taper:           c.taper,
		PollTimeout:     c.pollTimeout,
		CycleInterval:   c.cycleInterval,
	}
}

func (c cliConfig) recordOptions(name string) record.Options {
	return record.Options{
		Kind:   c.sink,
		Path:   c.sinkPath,
		Dir:    c.sinkDir,
		Source: name,
		MySQL: record.MySQLConfig{
			Addr:     c.mysqlAddr,
			User:     c.mysqlUser,
			Password: c.mysqlPassword,
			DBName:   c.mysqlDB,
		},
	}
}

func persistentFromCLI(cfg cliConfig) persistentConfig {
	return persistentConfig{
		Source:          cfg.source,
		Address:         cfg.address,
		URL:             cfg.url,
		Channels:        cfg.channels,
		NominalRate:     cfg.nominalRate,
		BatchSize:       cfg.batchSize,
		Tones:           formatTones(cfg.tones),
		Jitter:          cfg.jitter,
		Noise:           cfg.noise,
		WindowSize:      cfg.windowSize,
		Settle:          duration(cfg.settle),
		ProvisionalRate: cfg.provisionalRate,
		Notches:         dsp.FormatNotches(cfg.notches),
		Reconstruct:     cfg.reconstruct,
		Taper:           cfg.taper,
		Recording:       cfg.recording,
		Sink:            cfg.sink,
		SinkPath:        cfg.sinkPath,
		SinkDir:         cfg.sinkDir,
		MySQLAddr:       cfg.mysqlAddr,
		MySQLUser:       cfg.mysqlUser,
		MySQLDB:         cfg.mysqlDB,
		PollTimeout:     duration(cfg.pollTimeout),
		CycleInterval:   duration(cfg.cycleInterval),
		RetryMax:        duration(cfg.retryMax),
		DiscoverType:    cfg.discoverType,
		DiscoverTimeout: duration(cfg.discoverTimeout),
		DiscoverAll:     cfg.discoverAll,
		HistoryLimit:    cfg.historyLimit,
		WebAddr:         cfg.webAddr,
		LogLevel:        cfg.logLevel,
		LogFormat:       cfg.logFormat,
		LogEvery:        cfg.logEvery,
	}
}

func loadOrCreateConfig(path string) (persistentConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := defaultPersistentConfig()
			if saveErr := saveConfig(path, cfg); saveErr != nil {
				return persistentConfig{}, saveErr
			}
			return cfg, nil
		}
		return persistentConfig{}, err
	}
	defer f.Close()

	cfg := defaultPersistentConfig()
	if err := json.NewDecoder(f).Decode(&cfg); err != nil {
		return persistentConfig{}, err
	}
	return cfg, nil
}

func saveConfig(path string, cfg persistentConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func defaultPersistentConfig() persistentConfig {
	return persistentConfig{
		Source:          "synthetic",
		Channels:        3,
		NominalRate:     7,
		BatchSize:       1,
		Tones:           "0.5:1,1:1",
		WindowSize:      200,
		Settle:          duration(5 * time.Second),
		ProvisionalRate: 0,
		Notches:         "0.5:0.1,1:0.1",
		Sink:            "csv",
		MySQLAddr:       "127.0.0.1:3306",
		MySQLUser:       "neurosurf",
		MySQLDB:         "neurosurf",
		PollTimeout:     duration(2 * time.Second),
		RetryMax:        duration(time.Minute),
		DiscoverType:    "EEG",
		DiscoverTimeout: duration(3 * time.Second),
		HistoryLimit:    500,
		WebAddr:         ":8080",
		LogLevel:        "info",
		LogFormat:       "text",
		LogEvery:        10,
	}
}

// parseTones reads "freq:amplitude,..." pairs. A bare frequency has unit
// amplitude.
func parseTones(s string) ([]stream.Tone, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var tones []stream.Tone
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		freqStr, ampStr, hasAmp := strings.Cut(part, ":")
		freq, err := strconv.ParseFloat(strings.TrimSpace(freqStr), 64)
		if err != nil {
			return nil, fmt.Errorf("tone %q: %w", part, err)
		}
		amp := 1.0
		if hasAmp {
			if amp, err = strconv.ParseFloat(strings.TrimSpace(ampStr), 64); err != nil {
				return nil, fmt.Errorf("tone %q: %w", part, err)
			}
		}
		tones = append(tones, stream.Tone{Frequency: freq, Amplitude: amp})
	}
	return tones, nil
}

func formatTones(tones []stream.Tone) string {
	parts := make([]string, len(tones))
	for i, t := range tones {
		parts[i] = strconv.FormatFloat(t.Frequency, 'g', -1, 64) + ":" + strconv.FormatFloat(t.Amplitude, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

// mysqlPassword prefers NEUROSURF_MYSQL_PASSWORD_FILE over the plain
// variable. The password is never persisted.
func mysqlPassword(lookup func(string) (string, bool)) (string, error) {
	if path, ok := lookup("NEUROSURF_MYSQL_PASSWORD_FILE"); ok && path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read mysql password: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	return envString(lookup, "NEUROSURF_MYSQL_PASSWORD", ""), nil
}

func envFloat(lookup func(string) (string, bool), key string, def float64) float64 {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return def
}

func envInt(lookup func(string) (string, bool), key string, def int) int {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func envBool(lookup func(string) (string, bool), key string, def bool) bool {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return def
}

func envDuration(lookup func(string) (string, bool), key string, def time.Duration) time.Duration {
	if val, ok := lookup(key); ok {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return def
}

func envString(lookup func(string) (string, bool), key, def string) string {
	if val, ok := lookup(key); ok {
		return val
	}
	return def
}
