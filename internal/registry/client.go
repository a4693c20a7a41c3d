package registry

import (
	"context"
	"fmt"
	"time"

	"vital-watch/internal/models"

	"github.com/go-resty/resty/v2"
)

// Client reads the patient registry. Only the listing is needed to find channels.
type Client struct {
	httpClient *resty.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &Client{httpClient: client}
}

func (c *Client) ListPatients(ctx context.Context) ([]models.Patient, error) {
	var patients []models.Patient
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(&patients).
		Get("/")
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("list patients: registry returned status %d", resp.StatusCode())
	}
	return patients, nil
}

// ChannelIDs returns the distinct channel ids of the registered patients, in registry order.
func (c *Client) ChannelIDs(ctx context.Context) ([]string, error) {
	patients, err := c.ListPatients(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(patients))
	var ids []string
	for _, p := range patients {
		id := p.ChannelID()
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}
