// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"

	"github.com/AleutianAI/AleutianInvestigate/services/llm"
)

const (
	// DefaultCallTimeout bounds every remote call.
	DefaultCallTimeout = 30 * time.Second

	maxResponseBytes = 8 << 20
)

// Operation names used for spans, metrics, and errors.
const (
	OpRefine          = "refine"
	OpTranslateSQL    = "translate_sql"
	OpTranslateCypher = "translate_cypher"
	OpExecuteSQL      = "execute_sql"
	OpExecuteCypher   = "execute_cypher"
	OpConsolidate     = "consolidate"
	OpHealth          = "health"
)

// Paths holds the endpoint paths relative to the base URL.
type Paths struct {
	Converser       string `yaml:"converser"`
	SQLTranslate    string `yaml:"sql_translate"`
	CypherTranslate string `yaml:"cypher_translate"`
	ExecuteSQL      string `yaml:"execute_sql"`
	ExecuteCypher   string `yaml:"execute_cypher"`
	Consolidate     string `yaml:"consolidate"`
	Health          string `yaml:"health"`
}

// DefaultPaths returns the paths served by the agent service.
func DefaultPaths() Paths {
	return Paths{
		Converser:       "/api/converser",
		SQLTranslate:    "/api/sql-translate",
		CypherTranslate: "/api/cypher-translate",
		ExecuteSQL:      "/api/execute-sql",
		ExecuteCypher:   "/api/execute-cypher",
		Consolidate:     "/api/consolidate",
		Health:          "/api/health",
	}
}

func (p Paths) withDefaults() Paths {
	d := DefaultPaths()
	fill := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	fill(&p.Converser, d.Converser)
	fill(&p.SQLTranslate, d.SQLTranslate)
	fill(&p.CypherTranslate, d.CypherTranslate)
	fill(&p.ExecuteSQL, d.ExecuteSQL)
	fill(&p.ExecuteCypher, d.ExecuteCypher)
	fill(&p.Consolidate, d.Consolidate)
	fill(&p.Health, d.Health)
	return p
}

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL     string
	CallTimeout time.Duration
	Paths       Paths

	// HTTPClient overrides the transport. Nil uses a default client.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// StatusError is returned when an endpoint answers with a non-2xx status.
type StatusError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("agents: %s returned status %d: %s", e.Operation, e.StatusCode, e.Body)
}

// Client calls the agent endpoints over HTTP+JSON.
//
// Description:
//
//	Every call runs under its own timeout derived from the caller's
//	context, records a span named agents.Client.<Op>, propagates the trace
//	context in request headers, and records Prometheus metrics.
//
// Thread Safety: Client is safe for concurrent use.
type Client struct {
	baseURL     string
	callTimeout time.Duration
	paths       Paths
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewClient creates a Client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		callTimeout: cfg.CallTimeout,
		paths:       cfg.Paths.withDefaults(),
		httpClient:  cfg.HTTPClient,
		logger:      cfg.Logger,
	}
}

// Refine calls the converser endpoint.
func (c *Client) Refine(ctx context.Context, req RefineRequest) (*RefineResponse, error) {
	var out RefineResponse
	if err := c.do(ctx, OpRefine, http.MethodPost, c.paths.Converser, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TranslateSQL calls the structured translation endpoint.
func (c *Client) TranslateSQL(ctx context.Context, req TranslationRequest) (*SQLTranslation, error) {
	var out SQLTranslation
	if err := c.do(ctx, OpTranslateSQL, http.MethodPost, c.paths.SQLTranslate, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TranslateCypher calls the graph translation endpoint.
func (c *Client) TranslateCypher(ctx context.Context, req TranslationRequest) (*CypherTranslation, error) {
	var out CypherTranslation
	if err := c.do(ctx, OpTranslateCypher, http.MethodPost, c.paths.CypherTranslate, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExecuteSQL calls the structured execution endpoint.
func (c *Client) ExecuteSQL(ctx context.Context, queries SQLTranslation) (*ExecutionResult, error) {
	var out ExecutionResult
	if err := c.do(ctx, OpExecuteSQL, http.MethodPost, c.paths.ExecuteSQL, queries, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExecuteCypher calls the graph execution endpoint.
func (c *Client) ExecuteCypher(ctx context.Context, queries CypherTranslation) (*ExecutionResult, error) {
	var out ExecutionResult
	if err := c.do(ctx, OpExecuteCypher, http.MethodPost, c.paths.ExecuteCypher, queries, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Consolidate calls the consolidation endpoint.
func (c *Client) Consolidate(ctx context.Context, req ConsolidationRequest) (*ConsolidationResponse, error) {
	var out ConsolidationResponse
	if err := c.do(ctx, OpConsolidate, http.MethodPost, c.paths.Consolidate, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health calls the health endpoint.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var out HealthResponse
	if err := c.do(ctx, OpHealth, http.MethodGet, c.paths.Health, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do performs one JSON round trip.
//
// Inputs:
//   - op: Operation name for spans, metrics, and errors.
//   - in: Request body, or nil for no body.
//   - out: Decode target for a 2xx response.
//
// Outputs:
//   - error: Transport, status (*StatusError), or decode failure. A call
//     that outlives the timeout fails with an error wrapping
//     context.DeadlineExceeded.
func (c *Client) do(ctx context.Context, op, method, path string, in, out any) (err error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "agents.Client."+op)
	defer span.End()
	span.SetAttributes(
		attribute.String("agents.operation", op),
		attribute.String("http.method", method),
		attribute.String("http.path", path),
	)

	start := time.Now()
	activeCalls.WithLabelValues(op).Inc()
	defer func() {
		activeCalls.WithLabelValues(op).Dec()
		recordCall(op, time.Since(start), err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, classifyError(err))
		}
	}()

	var body io.Reader
	if in != nil {
		payload, mErr := json.Marshal(in)
		if mErr != nil {
			return fmt.Errorf("agents: %s: encoding request: %w", op, mErr)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("agents: %s: creating request: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("agents: %s: request failed: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("agents: %s: reading response: %w", op, err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{
			Operation:  op,
			StatusCode: resp.StatusCode,
			Body:       truncate(llm.SafeLogString(string(raw)), 512),
		}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		c.logger.Warn("agents: undecodable response",
			slog.String("operation", op),
			slog.String("body", truncate(llm.SafeLogString(string(raw)), 256)),
		)
		return fmt.Errorf("agents: %s: decoding response: %w", op, err)
	}

	c.logger.Debug("agents: call completed",
		slog.String("operation", op),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
