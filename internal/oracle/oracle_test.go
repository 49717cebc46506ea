package oracle

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/sokinpui/revise/internal/project"
	"github.com/sokinpui/revise/model"
)

type recordingClient struct {
	reply string
	err   error
	last  Request
	block bool
}

func (c *recordingClient) Generate(ctx context.Context, req Request) (string, error) {
	c.last = req
	if c.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return c.reply, c.err
}

func TestCapabilitiesBuildRequests(t *testing.T) {
	client := &recordingClient{reply: "ok"}
	caps := NewCapabilities(client, time.Second, nil)
	ctx := context.Background()

	t.Run("plan carries task and project context", func(t *testing.T) {
		pc := project.Context{Type: "Go project", Files: []string{"main.go"}, Candidates: []string{"main.go"}}
		if _, err := caps.ProducePlan(ctx, "add a flag", pc); err != nil {
			t.Fatal(err)
		}
		msg := client.last.Messages[0].Content
		for _, want := range []string{"Go project", "main.go", "add a flag"} {
			if !strings.Contains(msg, want) {
				t.Errorf("plan prompt missing %q", want)
			}
		}
		if client.last.System == "" {
			t.Error("plan request has no system prompt")
		}
	})

	t.Run("synthesis of a new file says so", func(t *testing.T) {
		op := model.Operation{File: "utils/trim.txt", Action: model.ActionCreate, Explanation: "list trim helpers"}
		if _, err := caps.SynthesizeContent(ctx, op, nil, "task"); err != nil {
			t.Fatal(err)
		}
		msg := client.last.Messages[0].Content
		if !strings.Contains(msg, "does not exist yet") || !strings.Contains(msg, "utils/trim.txt") {
			t.Errorf("unexpected synthesis prompt:\n%s", msg)
		}
	})

	t.Run("synthesis of a modify carries current content", func(t *testing.T) {
		current := "package main\n"
		op := model.Operation{File: "main.go", Action: model.ActionModify}
		if _, err := caps.SynthesizeContent(ctx, op, &current, "task"); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(client.last.Messages[0].Content, current) {
			t.Error("synthesis prompt does not include current content")
		}
	})

	t.Run("scan and patch send content verbatim", func(t *testing.T) {
		if _, err := caps.Scan(ctx, "rm -rf /"); err != nil {
			t.Fatal(err)
		}
		if client.last.Messages[0].Content != "rm -rf /" {
			t.Errorf("scan content = %q", client.last.Messages[0].Content)
		}
		scanSystem := client.last.System
		if _, err := caps.Patch(ctx, "rm -rf /"); err != nil {
			t.Fatal(err)
		}
		if client.last.System == scanSystem {
			t.Error("patch and scan share a system prompt")
		}
	})
}

func TestCapabilitiesTimeout(t *testing.T) {
	caps := NewCapabilities(&recordingClient{block: true}, 20*time.Millisecond, nil)

	_, err := caps.Scan(context.Background(), "x")
	var timeout *TimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("err = %v, want TimeoutError", err)
	}
	if timeout.Capability != CapabilityScan || timeout.Timeout != 20*time.Millisecond {
		t.Errorf("unexpected timeout error: %+v", timeout)
	}
}

func TestCapabilitiesCancelIsNotTimeout(t *testing.T) {
	caps := NewCapabilities(&recordingClient{block: true}, time.Minute, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := caps.Scan(ctx, "x")
	var timeout *TimeoutError
	if errors.As(err, &timeout) {
		t.Fatal("cancellation reported as timeout")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestCapabilitiesWrapErrors(t *testing.T) {
	cause := errors.New("quota")
	caps := NewCapabilities(&recordingClient{err: cause}, time.Second, nil)
	_, err := caps.ProducePlan(context.Background(), "t", project.Context{})
	if !errors.Is(err, cause) {
		t.Fatalf("err = %v, want wrapped cause", err)
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{context.Canceled, false},
		{fmt.Errorf("call: %w", context.DeadlineExceeded), false},
		{&net.OpError{Op: "dial", Err: errors.New("refused")}, true},
		{errors.New("Error 429, Message: Resource has been exhausted"), true},
		{errors.New("Error 503: UNAVAILABLE"), true},
		{errors.New("unexpected EOF"), true},
		{errors.New("Error 400: invalid argument"), false},
	}
	for _, tt := range tests {
		if got := IsRetryableError(tt.err); got != tt.want {
			t.Errorf("IsRetryableError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestCalculateBackoff(t *testing.T) {
	for attempt := 0; attempt < 10; attempt++ {
		d := CalculateBackoff(time.Second, attempt, 8*time.Second)
		base := time.Second << uint(attempt)
		if base > 8*time.Second {
			base = 8 * time.Second
		}
		if d < base || d > base+base/4 {
			t.Errorf("attempt %d: backoff %s outside [%s, %s]", attempt, d, base, base+base/4)
		}
	}
	if d := CalculateBackoff(0, 3, time.Second); d != 0 {
		t.Errorf("zero base delay gave %s", d)
	}
}
