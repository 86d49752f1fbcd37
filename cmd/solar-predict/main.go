// solar-predict - Estimate the power of a planned installation
//
// Sends one feature row to the regression model served at predict.url and
// prints the estimated gross and net rated power.
//
// Build: CGO_ENABLED=0 go build -ldflags="-s -w" -o build/solar-predict ./cmd/solar-predict

package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/go-faster/errors"

	"github.com/KI7MT/ki7mt-solar-germany/internal/common"
	"github.com/KI7MT/ki7mt-solar-germany/internal/logging"
	"github.com/KI7MT/ki7mt-solar-germany/internal/metrics"
	"github.com/KI7MT/ki7mt-solar-germany/internal/predict"
)

// Version can be overridden at build time via -ldflags
var Version = "1.0.0"

const name = "solar-predict"

var (
	configPath  = flag.String("config", "", "Config file (default $SOLAR_CONFIG or ./solar.yaml)")
	url         = flag.String("url", "", "Model endpoint (overrides predict.url)")
	state       = flag.String("state", "", "State")
	region      = flag.String("region", "", "Administrative region")
	city        = flag.String("city", "", "City")
	orientation = flag.String("orientation", "South", "Main orientation of the modules")
	feedIn      = flag.String("feed-in", predict.FullFeedIn, "Feed-in type: 'Full Feed-in' or 'Partial Feed-in'")
	inverter    = flag.Float64("inverter-kw", 10, "Assigned active power of the inverter in kW (0-30)")
	location    = flag.String("location", "Building", "Installation location")
	modules     = flag.Int("modules", 20, "Number of modules (1-110)")
	metricsFile = flag.String("metrics-file", "", "Write Prometheus metrics to this file on exit")
	logLevel    = flag.String("log-level", "", "Log level (overrides log.level)")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s v%s - Solar Power Estimate\n\n", name, Version)
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Example:\n")
		fmt.Fprintf(os.Stderr, "  %s -state Bayern -region Oberbayern -city München -modules 40 -inverter-kw 12\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := common.LoadConfig(*configPath)
	if err == nil && *url != "" {
		cfg.Predict.URL = *url
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	logging.Init(cfg.LoggingConfig(*logLevel))

	if err := run(cfg); err != nil {
		logging.Error().Err(err).Msg("prediction failed")
		if errors.Is(err, predict.ErrInvalidFeatures) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(cfg *common.Config) error {
	if cfg.Predict.URL == "" {
		return errors.New("no model endpoint: set predict.url or -url")
	}

	m := metrics.New(name)
	client, err := predict.NewHTTPClient(predict.HTTPConfig{
		URL:              cfg.Predict.URL,
		Timeout:          cfg.Predict.Timeout,
		FailureThreshold: cfg.Predict.FailureThreshold,
		Observe: func(outcome string) {
			m.PredictRequests.WithLabelValues(outcome).Inc()
		},
	})
	if err != nil {
		return err
	}

	ctx, cancel := common.SignalContext()
	defer cancel()

	f := predict.Features{
		State:                       *state,
		AdministrativeRegion:        *region,
		City:                        *city,
		MainOrientation:             *orientation,
		FeedInType:                  *feedIn,
		AssignedActivePowerInverter: *inverter,
		Location:                    *location,
		NumberOfModules:             *modules,
	}
	logging.Debug().Interface("features", f).Msg("request")

	start := time.Now()
	est, err := client.Predict(ctx, f)
	m.Finish(start, err == nil)
	if werr := m.WriteTextfile(*metricsFile); werr != nil {
		logging.Warn().Err(werr).Msg("metrics not written")
	}
	if err != nil {
		return err
	}

	fmt.Printf("Estimated gross power:     %.4f MW\n", est.GrossPower)
	fmt.Printf("Estimated net rated power: %.4f MW\n", est.NetRatedPower)
	return nil
}
