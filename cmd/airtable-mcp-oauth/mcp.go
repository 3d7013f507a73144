package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	oauth "github.com/onimsha/airtable-mcp-server-oauth"
	"github.com/onimsha/airtable-mcp-server-oauth/internal/util"
	"github.com/onimsha/airtable-mcp-server-oauth/providers/airtable"
)

const (
	defaultAirtableAPIURL = "https://api.airtable.com"
	whoamiPath            = "/v0/meta/whoami"
)

var errNoAccessToken = errors.New("request carries no bearer token")

type whoamiInput struct{}

type whoamiOutput struct {
	UserID string   `json:"user_id"`
	Email  string   `json:"email,omitempty"`
	Scopes []string `json:"scopes,omitempty"`
}

// airtableTools serves MCP tools that act as the caller against the Airtable API
type airtableTools struct {
	provider   *airtable.Provider
	apiURL     string
	httpClient *http.Client
	logger     *slog.Logger
}

func newAirtableTools(provider *airtable.Provider, apiURL string, logger *slog.Logger) *airtableTools {
	return &airtableTools{
		provider:   provider,
		apiURL:     util.NormalizeURL(apiURL),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

// newMCPServer builds the MCP server exposed at /mcp
func newMCPServer(name, version string, tools *airtableTools) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: name, Version: version}, nil)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "whoami",
		Description: "Return the Airtable user and scopes the bearer token acts for",
	}, tools.whoami)
	return server
}

func (t *airtableTools) whoami(ctx context.Context, req *mcp.CallToolRequest, _ whoamiInput) (*mcp.CallToolResult, whoamiOutput, error) {
	var token string
	if req != nil && req.Extra != nil {
		token = oauth.AccessTokenFromInfo(req.Extra.TokenInfo)
	}
	if token == "" {
		return nil, whoamiOutput{}, errNoAccessToken
	}

	caller := t.provider.ForAccessToken(token)
	if !caller.EnsureValidToken(ctx) {
		return nil, whoamiOutput{}, fmt.Errorf("access token is not usable")
	}
	headers, err := caller.AuthHeaders()
	if err != nil {
		return nil, whoamiOutput{}, fmt.Errorf("failed to build auth headers: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, util.JoinURL(t.apiURL, whoamiPath), nil)
	if err != nil {
		return nil, whoamiOutput{}, err
	}
	for key, values := range headers {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, whoamiOutput{}, fmt.Errorf("airtable request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, whoamiOutput{}, fmt.Errorf("failed to read airtable response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.logger.Warn("Airtable whoami failed", "status", resp.StatusCode)
		return nil, whoamiOutput{}, fmt.Errorf("airtable returned status %d", resp.StatusCode)
	}

	var payload struct {
		ID     string   `json:"id"`
		Email  string   `json:"email"`
		Scopes []string `json:"scopes"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, whoamiOutput{}, fmt.Errorf("failed to decode airtable response: %w", err)
	}

	return nil, whoamiOutput{
		UserID: payload.ID,
		Email:  strings.TrimSpace(payload.Email),
		Scopes: payload.Scopes,
	}, nil
}
