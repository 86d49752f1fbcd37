package predict

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/KI7MT/ki7mt-solar-germany/internal/logging"
)

// Outcomes passed to HTTPConfig.Observe.
const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeRejected = "rejected" // breaker open, request not sent
	OutcomeInvalid  = "invalid"  // features failed validation
)

const maxResponseBytes = 1 << 20

// HTTPConfig configures HTTPClient.
type HTTPConfig struct {
	URL     string
	Timeout time.Duration // per request; 0 means 10s

	// FailureThreshold consecutive failures open the breaker for
	// OpenTimeout, after which one probe request is let through.
	FailureThreshold uint32
	OpenTimeout      time.Duration

	Client  *http.Client
	Observe func(outcome string) // optional
}

type request struct {
	Rows []Features `json:"rows"`
}

type response struct {
	Predictions [][]float64 `json:"predictions"`
}

// HTTPClient calls a model served over HTTP:
//
//	POST <url>  {"rows": [{...features...}]}
//	200         {"predictions": [[gross, net]]}
type HTTPClient struct {
	url     string
	timeout time.Duration
	client  *http.Client
	cb      *gobreaker.CircuitBreaker[Estimate]
	observe func(string)
}

// NewHTTPClient returns a client for cfg.URL.
func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	if cfg.URL == "" {
		return nil, errors.New("predictor url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.Observe == nil {
		cfg.Observe = func(string) {}
	}

	threshold := cfg.FailureThreshold
	cb := gobreaker.NewCircuitBreaker[Estimate](gobreaker.Settings{
		Name:    "predictor",
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
		IsExcluded: func(err error) bool {
			return errors.Is(err, context.Canceled)
		},
	})

	return &HTTPClient{
		url:     cfg.URL,
		timeout: cfg.Timeout,
		client:  cfg.Client,
		cb:      cb,
		observe: cfg.Observe,
	}, nil
}

// Predict validates f and asks the model for an estimate.
func (c *HTTPClient) Predict(ctx context.Context, f Features) (Estimate, error) {
	if err := f.Validate(); err != nil {
		c.observe(OutcomeInvalid)
		return Estimate{}, err
	}

	est, err := c.cb.Execute(func() (Estimate, error) {
		return c.do(ctx, f)
	})
	switch {
	case err == nil:
		c.observe(OutcomeOK)
		return est, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		c.observe(OutcomeRejected)
		return Estimate{}, errors.Wrap(ErrPredictorUnavailable, err.Error())
	default:
		c.observe(OutcomeError)
		return Estimate{}, err
	}
}

// State reports the breaker state.
func (c *HTTPClient) State() string {
	return c.cb.State().String()
}

func (c *HTTPClient) do(ctx context.Context, f Features) (Estimate, error) {
	body, err := json.Marshal(request{Rows: []Features{f}})
	if err != nil {
		return Estimate{}, errors.Wrap(err, "encode features")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Estimate{}, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); errors.Is(ctxErr, context.Canceled) {
			return Estimate{}, errors.Wrap(ctxErr, "predict")
		}
		return Estimate{}, errors.Wrap(ErrPredictorUnavailable, err.Error())
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Estimate{}, errors.Wrap(err, "read response")
	}
	if resp.StatusCode != http.StatusOK {
		return Estimate{}, fmt.Errorf("predictor returned %s: %s", resp.Status, bytes.TrimSpace(data))
	}

	var out response
	if err := json.Unmarshal(data, &out); err != nil {
		return Estimate{}, errors.Wrap(err, "decode response")
	}
	if len(out.Predictions) != 1 || len(out.Predictions[0]) != 2 {
		return Estimate{}, fmt.Errorf("predictor returned %d rows, want one row of two values", len(out.Predictions))
	}
	p := out.Predictions[0]
	for _, v := range p {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Estimate{}, fmt.Errorf("predictor returned non-finite value %v", v)
		}
	}
	return Estimate{GrossPower: p[0], NetRatedPower: p[1]}, nil
}
