package httpclient

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker/v2"

	apperrors "github.com/desurestar/RSOD-project/pkg/errors"
)

// CircuitBreakerConfig holds configuration for the circuit breaker.
type CircuitBreakerConfig struct {
	// Name identifies this breaker (used in metrics and logs).
	Name string

	// MaxRequests is the maximum number of requests allowed in the half-open state.
	// 0 means 1 request is allowed.
	MaxRequests uint32

	// Interval is the cyclic period of the closed state for clearing internal counts.
	Interval time.Duration

	// Timeout is how long the breaker stays open before moving to half-open.
	Timeout time.Duration

	// FailureRatio is the ratio of failures to total requests that trips the breaker.
	FailureRatio float64

	// MinRequests is the minimum number of requests needed before the failure ratio is evaluated.
	MinRequests uint32
}

// DefaultCircuitBreakerConfig returns sensible defaults for a circuit breaker.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:         name,
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

var circuitBreakerState = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "blogsync_circuit_breaker_state",
		Help: "Current state of the circuit breaker (0=closed, 1=half-open, 2=open)",
	},
	[]string{"name"},
)

// ErrCircuitOpen is returned when the circuit breaker is open and rejects the request.
var ErrCircuitOpen = gobreaker.ErrOpenState

// errServerFailure marks a 5xx response so the breaker counts it. The response
// itself is still handed back to the caller.
var errServerFailure = errors.New("server failure")

// stateToFloat maps gobreaker states to prometheus gauge values.
func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// CircuitBreaker fails fast once the API keeps returning 5xx or transport errors.
type CircuitBreaker struct {
	breaker *gobreaker.CircuitBreaker[*http.Response]
	logger  *slog.Logger
	name    string
}

// NewCircuitBreaker creates a breaker from cfg.
func NewCircuitBreaker(cfg CircuitBreakerConfig, logger *slog.Logger) *CircuitBreaker {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			circuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	}

	circuitBreakerState.WithLabelValues(cfg.Name).Set(0)

	return &CircuitBreaker{
		breaker: gobreaker.NewCircuitBreaker[*http.Response](settings),
		logger:  logger,
		name:    cfg.Name,
	}
}

// Middleware returns the breaker as a chain step. An open breaker yields a
// service-unavailable AppError without touching the network.
func (cb *CircuitBreaker) Middleware() Middleware {
	return func(req *http.Request, next Handler) (*http.Response, error) {
		resp, err := cb.breaker.Execute(func() (*http.Response, error) {
			resp, err := next(req)
			if err != nil {
				return nil, err
			}
			if resp.StatusCode >= 500 {
				return resp, fmt.Errorf("%w: status %d", errServerFailure, resp.StatusCode)
			}
			return resp, nil
		})

		switch {
		case err == nil:
			return resp, nil
		case errors.Is(err, errServerFailure):
			return resp, nil
		case errors.Is(err, ErrCircuitOpen), errors.Is(err, gobreaker.ErrTooManyRequests):
			cb.logger.WarnContext(req.Context(), "circuit breaker rejected request",
				slog.String("breaker", cb.name),
				slog.String("path", req.URL.Path),
			)
			return nil, &apperrors.AppError{
				Code:    "CIRCUIT_OPEN",
				Message: fmt.Sprintf("%s is failing, try again later", cb.name),
				Status:  http.StatusServiceUnavailable,
				Err:     errors.Join(apperrors.ErrServiceUnavail, err),
			}
		default:
			return nil, err
		}
	}
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() gobreaker.State {
	return cb.breaker.State()
}
