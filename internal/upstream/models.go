package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/hivetechs/consensus/internal/consensuserrors"
	"github.com/hivetechs/consensus/internal/consensustypes"
)

// modelsResponse/modelInfo mirror OpenRouter's GET /models wire shape
// (original_source/providers/openrouter/client.rs's ModelsResponse/ModelInfo),
// trimmed to the fields ModelMetadata needs. Pricing arrives as decimal
// strings per-token, not per-1k, hence the *1000 conversion below.
type modelsResponse struct {
	Data []modelInfo `json:"data"`
}

type modelInfo struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ContextLength int    `json:"context_length"`
	Pricing       struct {
		Prompt     string `json:"prompt"`
		Completion string `json:"completion"`
	} `json:"pricing"`
}

// ListModels fetches the gateway's model catalog (spec.md §4.H: "augmented
// at startup by a one-shot fetch of <gateway>/v1/models"), mapping each
// entry into a ModelMetadata with Provider/Tier/Capabilities left zero so
// Registry.RegisterModel infers them the same way it does for seed-file
// entries.
func (c *Client) ListModels(ctx context.Context) ([]consensustypes.ModelMetadata, error) {
	if c.apiKey == "" {
		return nil, consensuserrors.ErrNoAPIKey
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("build models request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError("", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read models response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatusError("", resp.StatusCode, raw)
	}

	var parsed modelsResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal models response: %w", err)
	}

	out := make([]consensustypes.ModelMetadata, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		out = append(out, consensustypes.ModelMetadata{
			ID:              m.ID,
			Name:            m.Name,
			ContextWindow:   m.ContextLength,
			CostPer1kInput:  pricePerToken(m.Pricing.Prompt) * 1000,
			CostPer1kOutput: pricePerToken(m.Pricing.Completion) * 1000,
		})
	}
	return out, nil
}

func pricePerToken(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
