// Package xahau talks to the external ledger node and the wallet signing
// daemon. Both are opaque, possibly-failing collaborators: nothing here
// retries, and nothing here touches local state.
package xahau

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Ghostrayu/xahpayroll-sub001/internal/services"
)

const rpcTimeout = 10 * time.Second

// Client is a JSON-RPC client for the ledger node.
type Client struct {
	rpcURL     string
	httpClient *http.Client
}

func NewClient(rpcURL string) *Client {
	return &Client{
		rpcURL:     rpcURL,
		httpClient: &http.Client{Timeout: rpcTimeout},
	}
}

var _ services.LedgerClient = (*Client)(nil)

type rpcRequest struct {
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

type channelInfoParams struct {
	ChannelID string `json:"channel_id"`
}

type channelInfoResult struct {
	Result struct {
		Status string `json:"status"`
		Error  string `json:"error,omitempty"`
		Channel struct {
			Amount      string `json:"amount"`
			Balance     string `json:"balance"`
			Settled     bool   `json:"settled"`
			CloseTxHash string `json:"close_tx_hash,omitempty"`
		} `json:"channel"`
	} `json:"result"`
}

// GetChannelState fetches {balance, fundedAmount} plus the terminal closure
// state for the channel.
func (c *Client) GetChannelState(ctx context.Context, channelID string) (*services.ChannelState, error) {
	var res channelInfoResult
	if err := c.call(ctx, "channel_info", channelInfoParams{ChannelID: channelID}, &res); err != nil {
		return nil, err
	}
	if res.Result.Status != "success" {
		return nil, fmt.Errorf("ledger error for channel %s: %s", channelID, res.Result.Error)
	}

	balance, err := decimal.NewFromString(res.Result.Channel.Balance)
	if err != nil {
		return nil, fmt.Errorf("parse channel balance %q: %w", res.Result.Channel.Balance, err)
	}
	funded, err := decimal.NewFromString(res.Result.Channel.Amount)
	if err != nil {
		return nil, fmt.Errorf("parse channel amount %q: %w", res.Result.Channel.Amount, err)
	}
	return &services.ChannelState{
		Balance:       balance,
		FundedAmount:  funded,
		Closed:        res.Result.Channel.Settled,
		ClosureTxHash: res.Result.Channel.CloseTxHash,
	}, nil
}

type submitParams struct {
	TxBlob string `json:"tx_blob"`
}

type submitResult struct {
	Result struct {
		Status       string `json:"status"`
		Error        string `json:"error,omitempty"`
		EngineResult string `json:"engine_result"`
		TxJSON       struct {
			Hash string `json:"hash"`
		} `json:"tx_json"`
	} `json:"result"`
}

// SubmitClaim broadcasts a signed claim blob and returns the transaction hash.
// The claim parameters themselves ride inside the signed blob; req is accepted
// only so the signer and submitter agree on what is being claimed.
func (c *Client) SubmitClaim(ctx context.Context, req services.ClaimRequest, signedPayload []byte) (string, error) {
	var res submitResult
	if err := c.call(ctx, "submit", submitParams{TxBlob: hex.EncodeToString(signedPayload)}, &res); err != nil {
		return "", err
	}
	if res.Result.Status != "success" {
		return "", fmt.Errorf("submit failed for channel %s: %s", req.ChannelID, res.Result.Error)
	}
	if res.Result.EngineResult != "tesSUCCESS" {
		return "", fmt.Errorf("claim rejected for channel %s: %s", req.ChannelID, res.Result.EngineResult)
	}
	if res.Result.TxJSON.Hash == "" {
		return "", fmt.Errorf("submit succeeded but no tx hash returned for channel %s", req.ChannelID)
	}
	return res.Result.TxJSON.Hash, nil
}

func (c *Client) call(ctx context.Context, method string, params, out interface{}) error {
	body, err := json.Marshal(rpcRequest{Method: method, Params: []interface{}{params}})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ledger rpc %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ledger rpc %s: status %d", method, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("ledger rpc %s: invalid JSON: %w", method, err)
	}
	return nil
}
