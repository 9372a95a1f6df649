package pin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"time"
)

// NodeProvider pins through a self-hosted IPFS node's HTTP API. First in the
// chain: fast and unmetered.
type NodeProvider struct {
	baseURL string
	http    *http.Client
}

func NewNodeProvider(baseURL string) *NodeProvider {
	return &NodeProvider{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *NodeProvider) Name() string { return "ipfs-node" }

func (p *NodeProvider) Pin(ctx context.Context, content []byte, name string) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return "", fmt.Errorf("node add: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return "", fmt.Errorf("node add: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("node add: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/v0/add?pin=true", &buf)
	if err != nil {
		return "", fmt.Errorf("node add: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("node add: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("node add: status %d", resp.StatusCode)
	}

	var out struct {
		Hash string `json:"Hash"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("node add: decode: %w", err)
	}
	if out.Hash == "" {
		return "", fmt.Errorf("node add: empty hash in response")
	}
	return out.Hash, nil
}
