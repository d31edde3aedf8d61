package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/drummonds/pdfextract/config"
)

// ModelRegistry asks the inference server which models it currently serves
type ModelRegistry struct {
	Provider   string
	Endpoint   string
	APIKey     string
	HTTPClient *http.Client
}

// NewModelRegistry creates a registry client for the configured endpoint
func NewModelRegistry(inference config.InferenceConfig, httpClient *http.Client) *ModelRegistry {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &ModelRegistry{
		Provider:   inference.Provider,
		Endpoint:   strings.TrimRight(inference.Endpoint, "/"),
		APIKey:     inference.APIKey,
		HTTPClient: httpClient,
	}
}

// openAIModelsResponse represents GET /models from an OpenAI compatible server
type openAIModelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// ollamaTagsResponse represents GET /api/tags from ollama
type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// ListModels returns the model names the server reports
func (r *ModelRegistry) ListModels(ctx context.Context) ([]string, error) {
	url := r.Endpoint + "/models"
	if r.Provider == "ollama" {
		url = r.Endpoint + "/api/tags"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if r.APIKey != "" && r.Provider != "ollama" {
		req.Header.Set("Authorization", "Bearer "+r.APIKey)
	}

	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach inference server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("inference server returned error status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var names []string
	if r.Provider == "ollama" {
		var tags ollamaTagsResponse
		if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
			return nil, fmt.Errorf("failed to decode model list: %w", err)
		}
		for _, m := range tags.Models {
			names = append(names, m.Name)
		}
		return names, nil
	}

	var models openAIModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&models); err != nil {
		return nil, fmt.Errorf("failed to decode model list: %w", err)
	}
	for _, m := range models.Data {
		names = append(names, m.ID)
	}
	return names, nil
}

// EnsureModel fails unless the server lists the model. Ollama's implicit :latest tag is accepted.
func (r *ModelRegistry) EnsureModel(ctx context.Context, model string) error {
	names, err := r.ListModels(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == model || name == model+":latest" {
			return nil
		}
	}
	return fmt.Errorf("model %s is not served at %s (available: %s)", model, r.Endpoint, strings.Join(names, ", "))
}
