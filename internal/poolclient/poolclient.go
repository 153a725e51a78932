// Package poolclient is the HTTP client the gateway and relay node use to
// talk to the node directory: fetching the live relay list and, for a
// relay, registering itself.
package poolclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/negyio/negy/internal/dirapi"
	"github.com/negyio/negy/internal/negyerr"
)

// maxResponseBytes caps how much of a directory response is read, mirroring
// the teacher's io.LimitReader guard on descriptor/consensus fetches.
const maxResponseBytes = 1 << 20

// Client talks to one node pool endpoint.
type Client struct {
	Endpoint string
	HTTP     *http.Client
}

// New builds a Client with sane timeouts, matching the teacher's directory
// fetch clients (disabled compression, bounded timeout).
func New(endpoint string) *Client {
	return &Client{
		Endpoint: endpoint,
		HTTP: &http.Client{
			Timeout:   10 * time.Second,
			Transport: &http.Transport{DisableCompression: true},
		},
	}
}

// List fetches the current relay set from GET /list.
func (c *Client) List(ctx context.Context) ([]dirapi.NodeEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Endpoint+"/list", nil)
	if err != nil {
		return nil, negyerr.Directory("poolclient.List", err)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, negyerr.Directory("poolclient.List", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, negyerr.Directory("poolclient.List", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, negyerr.Directory("poolclient.List", err)
	}

	var out dirapi.ListResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, negyerr.Directory("poolclient.List", fmt.Errorf("decode response: %w", err))
	}
	return out.Nodes, nil
}

// Ping checks GET /ping.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Endpoint+"/ping", nil)
	if err != nil {
		return negyerr.Directory("poolclient.Ping", err)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return negyerr.Directory("poolclient.Ping", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return negyerr.Directory("poolclient.Ping", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	return nil
}

// Add registers a relay's advertised port, PEM public key, and version via
// POST /add.
func (c *Client) Add(ctx context.Context, port uint16, pubKeyPEM []byte, version string) error {
	body, err := json.Marshal(dirapi.AddRequest{
		Port:      port,
		PublicKey: base64.StdEncoding.EncodeToString(pubKeyPEM),
		Version:   version,
	})
	if err != nil {
		return negyerr.Directory("poolclient.Add", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint+"/add", bytes.NewReader(body))
	if err != nil {
		return negyerr.Directory("poolclient.Add", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return negyerr.Directory("poolclient.Add", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return negyerr.Directory("poolclient.Add", fmt.Errorf("status %d: %s", resp.StatusCode, msg))
	}
	return nil
}
