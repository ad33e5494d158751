// Package genjob talks to the remote generation service: job creation, job
// status and the per-user quota endpoint.
package genjob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"studio/internal/domain"
	"studio/internal/infra"
)

var (
	// ErrMissingAPIKey indicates that the client was configured without credentials.
	ErrMissingAPIKey = errors.New("genjob: api key is required")
	// ErrNetwork marks transport failures; the request may be retried.
	ErrNetwork = errors.New("genjob: network error")
	// ErrValidation marks requests the service rejected as malformed.
	ErrValidation = errors.New("genjob: request rejected")
	// ErrServer marks unexpected service responses.
	ErrServer = errors.New("genjob: server error")
)

const maxResponseBytes = 1 << 20

// Options configures the generation service client.
type Options struct {
	APIKey         string
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls against the generation service.
type Client struct {
	apiKey     string
	baseURL    string
	userID     string
	httpClient *http.Client
	logger     *infra.Logger
}

type createJobRequest struct {
	Kind       domain.JobKind       `json:"kind"`
	Inputs     []domain.ArtifactRef `json:"inputs"`
	Parameters map[string]string    `json:"parameters,omitempty"`
}

type jobPayload struct {
	JobID                 string              `json:"job_id"`
	Kind                  string              `json:"kind"`
	Status                string              `json:"status"`
	Attempts              int                 `json:"attempts"`
	CreatedAt             *time.Time          `json:"created_at"`
	UpdatedAt             *time.Time          `json:"updated_at"`
	EstimatedTimeSeconds  int                 `json:"estimated_time_seconds"`
	QueuePosition         *int                `json:"queue_position"`
	ProcessingTimeSeconds *float64            `json:"processing_time_seconds"`
	QueueTimeSeconds      *float64            `json:"queue_time_seconds"`
	Result                *domain.ArtifactRef `json:"result"`
	Error                 json.RawMessage     `json:"error"`
}

type quotaPayload struct {
	MonthlyLimit  int        `json:"monthly_limit"`
	UsedThisMonth int        `json:"used_this_month"`
	Remaining     int        `json:"remaining"`
	ResetDate     *time.Time `json:"reset_date"`
	HasQuota      bool       `json:"has_quota"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	errorResponse
	Error *errorResponse `json:"error"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("genjob: base url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("genjob: invalid base url: %w", err)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// ForUser returns a copy of the client whose calls act on behalf of userID.
func (c *Client) ForUser(userID string) *Client {
	scoped := *c
	scoped.userID = strings.TrimSpace(userID)
	return &scoped
}

// CreateJob submits a new job and returns it in its initial state.
func (c *Client) CreateJob(ctx context.Context, in domain.InputRefs) (domain.GenerationJob, error) {
	payload := createJobRequest{Kind: in.Kind, Inputs: in.Artifacts, Parameters: in.Parameters}
	var decoded jobPayload
	if err := c.do(ctx, "create job", http.MethodPost, "/v1/jobs", payload, &decoded); err != nil {
		return domain.GenerationJob{}, err
	}
	job, err := decoded.toDomain()
	if err != nil {
		return domain.GenerationJob{}, err
	}
	if job.Kind == "" {
		job.Kind = in.Kind
	}
	c.logger.Debug().
		Str("job_id", job.ID).
		Str("kind", string(job.Kind)).
		Str("status", string(job.Status)).
		Int("estimated_time_seconds", job.EstimatedTimeSeconds).
		Msg("genjob: job created")
	return job, nil
}

// JobStatus fetches the current state of a job.
func (c *Client) JobStatus(ctx context.Context, jobID string) (domain.GenerationJob, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return domain.GenerationJob{}, fmt.Errorf("genjob: %w: job id is required", domain.ErrInvalidInput)
	}
	var decoded jobPayload
	if err := c.do(ctx, "job status", http.MethodGet, "/v1/jobs/"+url.PathEscape(jobID), nil, &decoded); err != nil {
		return domain.GenerationJob{}, err
	}
	if decoded.JobID == "" {
		decoded.JobID = jobID
	}
	return decoded.toDomain()
}

// FetchQuota returns the authoritative quota snapshot of the scoped user.
func (c *Client) FetchQuota(ctx context.Context) (domain.QuotaState, error) {
	var decoded quotaPayload
	if err := c.do(ctx, "quota", http.MethodGet, "/v1/quota", nil, &decoded); err != nil {
		return domain.QuotaState{}, err
	}
	state := domain.QuotaState{
		MonthlyLimit:  decoded.MonthlyLimit,
		UsedThisMonth: decoded.UsedThisMonth,
		Remaining:     decoded.Remaining,
		HasQuota:      decoded.HasQuota,
	}
	if decoded.ResetDate != nil {
		state.ResetDate = decoded.ResetDate.UTC()
	}
	return state, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body any, out any) error {
	if !c.HasCredentials() {
		return ErrMissingAPIKey
	}
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("genjob: encode %s request: %w", op, err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("genjob: build %s request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if c.userID != "" {
		req.Header.Set("X-User-ID", c.userID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.NetworkError{Op: "genjob: " + op, Err: fmt.Errorf("%w: %w", ErrNetwork, err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &domain.NetworkError{Op: "genjob: " + op, Err: fmt.Errorf("%w: read response: %w", ErrNetwork, err)}
	}
	if resp.StatusCode >= 300 {
		return statusError(op, resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("genjob: decode %s response: %w: %w", op, ErrServer, err)
	}
	return nil
}

func statusError(op string, status int, raw []byte) error {
	var envelope errorEnvelope
	detail := errorResponse{}
	if err := json.Unmarshal(raw, &envelope); err == nil {
		detail = envelope.errorResponse
		if envelope.Error != nil {
			detail = *envelope.Error
		}
	}
	message := strings.TrimSpace(detail.Message)
	if message == "" {
		message = strings.TrimSpace(string(raw))
	}
	switch {
	case status == http.StatusPaymentRequired, status == http.StatusTooManyRequests, strings.EqualFold(detail.Code, "quota_exceeded"):
		return &domain.QuotaExhaustedError{ServerReported: true}
	case status == http.StatusNotFound:
		return fmt.Errorf("genjob: %s: %w: %s", op, domain.ErrNotFound, message)
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return fmt.Errorf("genjob: %s: %w: status %d: %s", op, ErrServer, status, message)
	case status >= 400 && status < 500:
		if detail.Code != "" {
			message = fmt.Sprintf("%s (%s)", message, detail.Code)
		}
		return fmt.Errorf("genjob: %s: %w: %w: %s", op, ErrValidation, domain.ErrInvalidInput, message)
	default:
		return fmt.Errorf("genjob: %s: %w: status %d: %s", op, ErrServer, status, message)
	}
}

func (p jobPayload) toDomain() (domain.GenerationJob, error) {
	status, ok := normalizeStatus(p.Status)
	if !ok {
		return domain.GenerationJob{}, fmt.Errorf("genjob: %w: unknown job status %q", ErrServer, p.Status)
	}
	job := domain.GenerationJob{
		ID:                    strings.TrimSpace(p.JobID),
		Status:                status,
		Attempts:              p.Attempts,
		EstimatedTimeSeconds:  p.EstimatedTimeSeconds,
		QueuePosition:         p.QueuePosition,
		ProcessingTimeSeconds: p.ProcessingTimeSeconds,
		QueueTimeSeconds:      p.QueueTimeSeconds,
	}
	if kind, ok := domain.ParseJobKind(p.Kind); ok {
		job.Kind = kind
	}
	if p.CreatedAt != nil {
		job.CreatedAt = p.CreatedAt.UTC()
	}
	if p.UpdatedAt != nil {
		job.UpdatedAt = p.UpdatedAt.UTC()
	}
	if p.Result != nil && strings.TrimSpace(p.Result.URL) != "" {
		job.Result = &domain.JobResult{Artifact: *p.Result, Origin: domain.OriginRemote}
	}
	if jobErr := decodeJobError(p.Error); jobErr != nil {
		job.Error = jobErr
	}
	return job, nil
}

// The service reports errors either as a bare string or as {code, message}.
func decodeJobError(raw json.RawMessage) *domain.JobError {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if text = strings.TrimSpace(text); text == "" {
			return nil
		}
		return &domain.JobError{Message: text}
	}
	var detail errorResponse
	if err := json.Unmarshal(raw, &detail); err != nil {
		return &domain.JobError{Message: strings.TrimSpace(string(raw))}
	}
	if detail.Message == "" && detail.Code == "" {
		return nil
	}
	return &domain.JobError{Message: detail.Message, Code: detail.Code}
}

func normalizeStatus(raw string) (domain.JobStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "queued", "pending", "waiting", "submitted":
		return domain.JobStatusQueued, true
	case "processing", "running", "in_progress":
		return domain.JobStatusProcessing, true
	case "succeeded", "success", "completed", "done":
		return domain.JobStatusSucceeded, true
	case "failed", "error", "cancelled", "canceled":
		return domain.JobStatusFailed, true
	default:
		return "", false
	}
}
