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

// PinataProvider pins through Pinata's managed pinning service. Last in the
// chain: pin-count-metered, so it only runs when everything else failed.
type PinataProvider struct {
	baseURL string
	jwt     string
	http    *http.Client
}

const pinataURL = "https://api.pinata.cloud"

func NewPinataProvider(jwt string) *PinataProvider {
	return &PinataProvider{
		baseURL: pinataURL,
		jwt:     jwt,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *PinataProvider) Name() string { return "pinata" }

func (p *PinataProvider) Pin(ctx context.Context, content []byte, name string) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return "", fmt.Errorf("pinata pin: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return "", fmt.Errorf("pinata pin: %w", err)
	}
	meta, _ := json.Marshal(map[string]string{"name": name})
	if err := mw.WriteField("pinataMetadata", string(meta)); err != nil {
		return "", fmt.Errorf("pinata pin: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("pinata pin: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/pinning/pinFileToIPFS", &buf)
	if err != nil {
		return "", fmt.Errorf("pinata pin: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.jwt)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("pinata pin: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("pinata pin: status %d", resp.StatusCode)
	}

	var out struct {
		IpfsHash string `json:"IpfsHash"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("pinata pin: decode: %w", err)
	}
	if out.IpfsHash == "" {
		return "", fmt.Errorf("pinata pin: empty hash in response")
	}
	return out.IpfsHash, nil
}
