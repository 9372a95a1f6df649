package pin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Web3StorageProvider pins through the web3.storage upload API. Second in the
// chain: decentralized network service, free tier with generous limits.
type Web3StorageProvider struct {
	baseURL string
	token   string
	http    *http.Client
}

const web3StorageURL = "https://api.web3.storage"

func NewWeb3StorageProvider(token string) *Web3StorageProvider {
	return &Web3StorageProvider{
		baseURL: web3StorageURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *Web3StorageProvider) Name() string { return "web3.storage" }

func (p *Web3StorageProvider) Pin(ctx context.Context, content []byte, name string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/upload", bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("web3.storage upload: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.token)
	req.Header.Set("X-NAME", name)

	resp, err := p.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("web3.storage upload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("web3.storage upload: status %d", resp.StatusCode)
	}

	var out struct {
		CID string `json:"cid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("web3.storage upload: decode: %w", err)
	}
	if out.CID == "" {
		return "", fmt.Errorf("web3.storage upload: empty cid in response")
	}
	return out.CID, nil
}
