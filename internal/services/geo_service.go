package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// GeoLocator resolves an IP to a country code. Results are best effort.
type GeoLocator interface {
	Country(ctx context.Context, ip string) (string, error)
}

// ipAPILocator talks to an ip-api.com compatible endpoint.
type ipAPILocator struct {
	baseURL string
	client  *http.Client
}

func NewGeoLocator(baseURL string, timeout time.Duration) GeoLocator {
	if baseURL == "" {
		return nil
	}
	return &ipAPILocator{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type ipAPIResponse struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	CountryCode string `json:"countryCode"`
}

func (g *ipAPILocator) Country(ctx context.Context, ip string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/json/"+ip+"?fields=status,message,countryCode", nil)
	if err != nil {
		return "", err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("geoip request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("geoip status %d", resp.StatusCode)
	}
	var body ipAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("geoip decode: %w", err)
	}
	if body.Status != "success" {
		return "", fmt.Errorf("geoip lookup failed: %s", body.Message)
	}
	return body.CountryCode, nil
}

// isPublicIP filters out addresses a geo service cannot place.
func isPublicIP(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	return !(parsed.IsLoopback() || parsed.IsPrivate() || parsed.IsUnspecified() ||
		parsed.IsLinkLocalUnicast() || parsed.IsLinkLocalMulticast())
}
