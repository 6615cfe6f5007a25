package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andyc1997/kyc-agent/backend/config"
	"github.com/andyc1997/kyc-agent/backend/model"
)

// ImageryService runs the location-imagery stage: geocode the free-text
// employer address, fetch a street-level photo of the coordinates, and
// store it as the stage artifact. A geocoding miss is reported as a
// failed outcome, never retried here.
type ImageryService struct {
	config     *config.ImageryConfig
	objects    ObjectAPI
	httpClient *http.Client
}

// geocodeResponse is the geocoding API reply (Google geocode JSON shape).
type geocodeResponse struct {
	Status  string `json:"status"`
	Results []struct {
		Geometry struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

func NewImageryService(cfg *config.ImageryConfig, objects ObjectAPI) *ImageryService {
	return &ImageryService{
		config:  cfg,
		objects: objects,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (s *ImageryService) Stage() model.Stage {
	return model.StageImagery
}

// Run geocodes the address and stores one street-level image.
func (s *ImageryService) Run(ctx context.Context, req StageRequest) (model.Locator, error) {
	address := strings.TrimSpace(req.Address)
	if address == "" {
		return model.Locator{}, fmt.Errorf("no address provided")
	}

	lat, lng, err := s.geocode(ctx, address)
	if err != nil {
		return model.Locator{}, err
	}

	image, err := s.fetchStreetView(ctx, lat, lng)
	if err != nil {
		return model.Locator{}, err
	}

	object := fmt.Sprintf("imagery/%s/streetview.jpg", req.ClientKey)
	if err := s.objects.PutObject(ctx, s.config.ImageBucket, object, image, "image/jpeg"); err != nil {
		return model.Locator{}, fmt.Errorf("failed to store image: %w", err)
	}

	return model.Locator{Bucket: s.config.ImageBucket, Object: object}, nil
}

// geocode resolves a free-text address to coordinates. An empty result
// set maps to ErrNoCoordinates.
func (s *ImageryService) geocode(ctx context.Context, address string) (float64, float64, error) {
	query := url.Values{}
	query.Set("address", address)
	query.Set("key", s.config.APIKey)

	reqURL := s.config.GeocodeURL + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read response: %w", err)
	}

	var result geocodeResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return 0, 0, fmt.Errorf("failed to parse response: %w, body: %s", err, string(body))
	}

	if result.Status == "ZERO_RESULTS" || len(result.Results) == 0 {
		return 0, 0, fmt.Errorf("%w: %q", ErrNoCoordinates, address)
	}
	if result.Status != "OK" {
		return 0, 0, fmt.Errorf("geocode API error: %s", result.Status)
	}

	loc := result.Results[0].Geometry.Location
	return loc.Lat, loc.Lng, nil
}

// fetchStreetView downloads the street-level image for the coordinates.
func (s *ImageryService) fetchStreetView(ctx context.Context, lat, lng float64) ([]byte, error) {
	query := url.Values{}
	query.Set("size", s.config.Size)
	query.Set("location", fmt.Sprintf("%f,%f", lat, lng))
	query.Set("heading", s.config.Heading)
	query.Set("pitch", s.config.Pitch)
	query.Set("key", s.config.APIKey)

	reqURL := s.config.StreetViewURL + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("street view API returned status %d", resp.StatusCode)
	}

	image, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if len(image) == 0 {
		return nil, fmt.Errorf("street view returned an empty image")
	}

	return image, nil
}
