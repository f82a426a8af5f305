package xahau

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Ghostrayu/xahpayroll-sub001/internal/services"
)

const signTimeout = 15 * time.Second

// HTTPSigner asks a wallet daemon to sign a claim. Keys live in the daemon;
// this process only ever holds the unsigned parameters and the resulting blob.
type HTTPSigner struct {
	signerURL  string
	httpClient *http.Client
}

func NewHTTPSigner(signerURL string) *HTTPSigner {
	return &HTTPSigner{
		signerURL:  signerURL,
		httpClient: &http.Client{Timeout: signTimeout},
	}
}

var _ services.SigningProvider = (*HTTPSigner)(nil)

type signResponse struct {
	SignedBlob string `json:"signed_blob"`
	Error      string `json:"error,omitempty"`
}

func (s *HTTPSigner) SignClaim(ctx context.Context, claim services.ClaimRequest) ([]byte, error) {
	body, err := json.Marshal(claim)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.signerURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("signer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("signer: status %d", resp.StatusCode)
	}
	var out signResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("signer: invalid JSON: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("signer refused claim for channel %s: %s", claim.ChannelID, out.Error)
	}
	blob, err := hex.DecodeString(out.SignedBlob)
	if err != nil {
		return nil, fmt.Errorf("signer returned malformed blob: %w", err)
	}
	return blob, nil
}
