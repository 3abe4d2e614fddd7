// Package registry integrates the national vehicle-registry lookup. It is a
// single request/transform/response call with no retry, caching or rate
// limiting; callers decide what to do with a miss.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultTimeout = 10 * time.Second
	apiKeyHeader   = "X-Api-Key"
)

var (
	// ErrMissingPlate indicates an empty plate after normalization.
	ErrMissingPlate = errors.New("registry: plate is required")
	// ErrNotConfigured indicates the upstream endpoint or credential is absent.
	ErrNotConfigured = errors.New("registry: lookup is not configured")
	// ErrPlateNotFound indicates the upstream knows no vehicle for the plate.
	// This is a user-correctable outcome, not a fault.
	ErrPlateNotFound = errors.New("registry: plate not found")
	// ErrLookupFailed indicates an upstream or transport failure.
	ErrLookupFailed = errors.New("registry: lookup failed")
)

// LookupResult is the flattened vehicle data derived from the upstream
// response. Fields the upstream omits stay empty.
type LookupResult struct {
	Make             string `json:"make"`
	Model            string `json:"model"`
	Year             int    `json:"year"`
	VIN              string `json:"vin"`
	Plate            string `json:"plate"`
	RegistrationDate string `json:"registration_date"`
	Color            string `json:"color"`
	WeightKG         string `json:"weight_kg"`
	EngineSize       string `json:"engine_size"`
	FuelType         string `json:"fuel_type"`
	OwnerStatus      string `json:"owner_status"`
}

// upstreamResponse mirrors the registry's nested payload shape.
type upstreamResponse struct {
	VehicleData struct {
		Identity struct {
			Make      string `json:"make"`
			Model     string `json:"model"`
			ModelYear string `json:"modelYear"`
		} `json:"identity"`
		Registration struct {
			VIN             string `json:"vin"`
			Plate           string `json:"plate"`
			FirstRegistered string `json:"firstRegistered"`
			OwnerStatus     string `json:"ownerStatus"`
		} `json:"registration"`
		Technical struct {
			Color     string `json:"color"`
			WeightKG  int    `json:"weightKg"`
			EngineCcm int    `json:"engineCcm"`
			FuelType  string `json:"fuelType"`
		} `json:"technical"`
	} `json:"vehicleData"`
}

// ClientConfig configures the lookup client.
type ClientConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client performs plate lookups against the registry.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient constructs a lookup client.
func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		logger:     logger,
	}
}

// NormalizePlate strips all whitespace and uppercases the plate.
func NormalizePlate(plate string) string {
	return strings.ToUpper(strings.Join(strings.Fields(plate), ""))
}

// Lookup resolves a plate. The three failure outcomes are distinguishable:
// ErrMissingPlate for unusable input, ErrPlateNotFound for an upstream miss,
// and ErrLookupFailed (wrapped with detail) for everything else.
func (c *Client) Lookup(ctx context.Context, plate string) (LookupResult, error) {
	normalized := NormalizePlate(plate)
	if normalized == "" {
		return LookupResult{}, ErrMissingPlate
	}
	if c.baseURL == "" || c.apiKey == "" {
		return LookupResult{}, ErrNotConfigured
	}

	endpoint := fmt.Sprintf("%s/vehicles?plate=%s", c.baseURL, url.QueryEscape(normalized))
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return LookupResult{}, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}
	request.Header.Set(apiKeyHeader, c.apiKey)
	request.Header.Set("Accept", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		c.logger.Warn("registry request failed", zap.String("plate", normalized), zap.Error(err))
		return LookupResult{}, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}
	defer response.Body.Close()

	switch {
	case response.StatusCode == http.StatusNotFound:
		return LookupResult{}, ErrPlateNotFound
	case response.StatusCode < 200 || response.StatusCode > 299:
		c.logger.Warn("registry returned non-success status",
			zap.String("plate", normalized),
			zap.Int("status", response.StatusCode))
		return LookupResult{}, fmt.Errorf("%w: upstream status %d", ErrLookupFailed, response.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if err != nil {
		return LookupResult{}, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}

	var upstream upstreamResponse
	if err := json.Unmarshal(body, &upstream); err != nil {
		return LookupResult{}, fmt.Errorf("%w: undecodable response", ErrLookupFailed)
	}

	return flatten(normalized, upstream), nil
}

func flatten(plate string, upstream upstreamResponse) LookupResult {
	data := upstream.VehicleData
	result := LookupResult{
		Make:             data.Identity.Make,
		Model:            data.Identity.Model,
		VIN:              data.Registration.VIN,
		Plate:            data.Registration.Plate,
		RegistrationDate: data.Registration.FirstRegistered,
		Color:            data.Technical.Color,
		FuelType:         data.Technical.FuelType,
		OwnerStatus:      data.Registration.OwnerStatus,
	}
	if result.Plate == "" {
		result.Plate = plate
	}
	if year, err := strconv.Atoi(data.Identity.ModelYear); err == nil {
		result.Year = year
	}
	if data.Technical.WeightKG > 0 {
		result.WeightKG = strconv.Itoa(data.Technical.WeightKG)
	}
	if data.Technical.EngineCcm > 0 {
		result.EngineSize = fmt.Sprintf("%d ccm", data.Technical.EngineCcm)
	}
	return result
}
