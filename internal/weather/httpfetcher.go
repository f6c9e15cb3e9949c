package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/irrignode/controller/internal/model"
)

// HTTPFetcher is the live weather API client: a thin REST GET against the
// configured endpoint. Any failure surfaces as a WeatherFetchError, which
// the Provider catches and converts to the standard-conditions fallback;
// no error from this type ever reaches the controller.
type HTTPFetcher struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// NewHTTPFetcher builds a fetcher from the weather endpoint config.
func NewHTTPFetcher(cfg model.WeatherEndpoints) *HTTPFetcher {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPFetcher{
		client:  &http.Client{Timeout: timeout},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
	}
}

// recentResponse is the wire shape of the endpoint's recent-conditions
// payload.
type recentResponse struct {
	SolarTotal         float64 `json:"solar_total"`
	TemperatureCelsius float64 `json:"temperature_celsius"`
	RainfallMM         float64 `json:"rainfall_mm"`
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, windowDays int) (Conditions, error) {
	url := fmt.Sprintf("%s/recent?days=%d", f.baseURL, windowDays)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Conditions{}, &model.WeatherFetchError{Err: err}
	}
	req.Header.Set("X-API-Key", f.apiKey)

	resp, err := f.client.Do(req)
	if err != nil {
		return Conditions{}, &model.WeatherFetchError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Conditions{}, &model.WeatherFetchError{Err: fmt.Errorf("weather endpoint returned status %d", resp.StatusCode)}
	}

	var body recentResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Conditions{}, &model.WeatherFetchError{Err: fmt.Errorf("malformed payload: %w", err)}
	}

	return Conditions{
		SolarTotal:         body.SolarTotal,
		TemperatureCelsius: body.TemperatureCelsius,
		RainfallMM:         body.RainfallMM,
	}, nil
}
