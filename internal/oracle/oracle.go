package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sokinpui/revise/internal/logging"
	"github.com/sokinpui/revise/internal/metrics"
	"github.com/sokinpui/revise/internal/project"
	"github.com/sokinpui/revise/model"
)

// Roles understood by every Client.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Capability names, used in errors, logs and metrics.
const (
	CapabilityPlan       = "plan"
	CapabilitySynthesize = "synthesize"
	CapabilityScan       = "scan"
	CapabilityPatch      = "patch"
)

// DefaultTimeout bounds a single oracle call.
const DefaultTimeout = 120 * time.Second

// Message is one turn of a request.
type Message struct {
	Role    string
	Content string
}

// Request is a complete prompt for a Client.
type Request struct {
	System   string
	Messages []Message
}

// Client sends a prompt to a model and returns its full text reply.
type Client interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// PlanOracle turns a task into a raw plan reply.
type PlanOracle interface {
	ProducePlan(ctx context.Context, task string, pc project.Context) (string, error)
}

// ContentOracle produces the full new content of one file. current is nil
// when the file does not exist yet.
type ContentOracle interface {
	SynthesizeContent(ctx context.Context, op model.Operation, current *string, task string) (string, error)
}

// ScanOracle screens and repairs file content.
type ScanOracle interface {
	Scan(ctx context.Context, content string) (string, error)
	Patch(ctx context.Context, content string) (string, error)
}

// Oracle bundles every capability the pipeline needs.
type Oracle interface {
	PlanOracle
	ContentOracle
	ScanOracle
}

// TimeoutError is returned when an oracle call exceeds its deadline.
type TimeoutError struct {
	Capability string
	Timeout    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s call timed out after %s", e.Capability, e.Timeout)
}

// Capabilities implements PlanOracle, ContentOracle and ScanOracle on top of
// a single Client. Each call is bounded by the configured timeout.
type Capabilities struct {
	client  Client
	timeout time.Duration
	metrics *metrics.Metrics
}

// NewCapabilities wraps client. A zero timeout selects DefaultTimeout; m
// may be nil.
func NewCapabilities(client Client, timeout time.Duration, m *metrics.Metrics) *Capabilities {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Capabilities{client: client, timeout: timeout, metrics: m}
}

func (c *Capabilities) ProducePlan(ctx context.Context, task string, pc project.Context) (string, error) {
	return c.call(ctx, CapabilityPlan, Request{
		System:   planSystemPrompt,
		Messages: []Message{{Role: RoleUser, Content: planPrompt(task, pc)}},
	})
}

func (c *Capabilities) SynthesizeContent(ctx context.Context, op model.Operation, current *string, task string) (string, error) {
	return c.call(ctx, CapabilitySynthesize, Request{
		System:   synthSystemPrompt,
		Messages: []Message{{Role: RoleUser, Content: synthPrompt(op, current, task)}},
	})
}

func (c *Capabilities) Scan(ctx context.Context, content string) (string, error) {
	return c.call(ctx, CapabilityScan, Request{
		System:   scanSystemPrompt,
		Messages: []Message{{Role: RoleUser, Content: content}},
	})
}

func (c *Capabilities) Patch(ctx context.Context, content string) (string, error) {
	return c.call(ctx, CapabilityPatch, Request{
		System:   patchSystemPrompt,
		Messages: []Message{{Role: RoleUser, Content: content}},
	})
}

func (c *Capabilities) call(ctx context.Context, capability string, req Request) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	out, err := c.client.Generate(callCtx, req)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		c.metrics.OracleCall(capability, "ok", elapsed)
		logging.Debug("oracle call", "capability", capability, "duration", elapsed, "bytes", len(out))
		return out, nil
	case ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded):
		c.metrics.OracleCall(capability, "timeout", elapsed)
		logging.Warn("oracle call timed out", "capability", capability, "timeout", c.timeout)
		return "", &TimeoutError{Capability: capability, Timeout: c.timeout}
	default:
		c.metrics.OracleCall(capability, "error", elapsed)
		logging.Warn("oracle call failed", "capability", capability, "error", err)
		return "", fmt.Errorf("%s: %w", capability, err)
	}
}
