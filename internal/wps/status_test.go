package wps

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"geoexport/internal/apperrors"
)

func TestExecutionFromLocation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		location string
		wantBase string
		wantID   string
		wantCode string
	}{
		{
			name:     "status location",
			location: "http://example.com/geoserver/ows?service=WPS&executionId=abc-123",
			wantBase: "http://example.com/geoserver/ows",
			wantID:   "abc-123",
		},
		{
			name:     "stored result reference",
			location: "http://example.com/ows?service=WPS&request=GetExecutionResult&executionId=e9&outputId=result.zip",
			wantBase: "http://example.com/ows",
			wantID:   "e9",
		},
		{
			name:     "missing execution id",
			location: "http://example.com/geoserver/ows?service=WPS",
			wantCode: apperrors.CodeNoExecutionID,
		},
		{
			name:     "unparseable url",
			location: "http://example.com/%zz",
			wantCode: apperrors.CodeNoExecutionID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			base, execID, err := ExecutionFromLocation(tt.location)
			if tt.wantCode != "" {
				if apperrors.CodeOf(err) != tt.wantCode {
					t.Errorf("code = %q, want %q (err: %v)", apperrors.CodeOf(err), tt.wantCode, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if base != tt.wantBase {
				t.Errorf("base = %q, want %q", base, tt.wantBase)
			}
			if execID != tt.wantID {
				t.Errorf("execID = %q, want %q", execID, tt.wantID)
			}
		})
	}
}

func TestExecutionStatusRequest(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		handler   http.HandlerFunc
		wantState ExecutionState
		wantRef   string
		wantGone  bool
		wantCode  string
	}{
		{
			name: "running",
			handler: func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, `<ExecuteResponse><Status><ProcessStarted/></Status></ExecuteResponse>`)
			},
			wantState: StateRunning,
		},
		{
			name: "succeeded with reference",
			handler: func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, `<ExecuteResponse><Status><ProcessSucceeded/></Status>`+
					`<ProcessOutputs><Output><Identifier>result</Identifier>`+
					`<Reference href="http://example.com/out.zip"/></Output></ProcessOutputs></ExecuteResponse>`)
			},
			wantState: StateSucceeded,
			wantRef:   "http://example.com/out.zip",
		},
		{
			name: "failed",
			handler: func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, `<ExecuteResponse><Status><ProcessFailed><ExceptionReport>`+
					`<Exception><ExceptionText>disk full</ExceptionText></Exception>`+
					`</ExceptionReport></ProcessFailed></Status></ExecuteResponse>`)
			},
			wantState: StateFailed,
		},
		{
			name: "purged execution answers 404",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.NotFound(w, r)
			},
			wantGone: true,
		},
		{
			name: "purged execution answers exception document",
			handler: func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, `<ExceptionReport><Exception>`+
					`<ExceptionText>Unknown execution id abc</ExceptionText></Exception></ExceptionReport>`)
			},
			wantGone: true,
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusBadGateway)
			},
			wantCode: apperrors.CodeStatusPollFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			server := httptest.NewServer(tt.handler)
			t.Cleanup(server.Close)

			c := NewClient(5 * time.Second)
			status, err := c.ExecutionStatusRequest(context.Background(), server.URL, "abc")

			if tt.wantGone {
				if !errors.Is(err, ErrExecutionGone) {
					t.Errorf("expected ErrExecutionGone, got %v", err)
				}
				return
			}
			if tt.wantCode != "" {
				if apperrors.CodeOf(err) != tt.wantCode {
					t.Errorf("code = %q, want %q (err: %v)", apperrors.CodeOf(err), tt.wantCode, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if status.State != tt.wantState {
				t.Errorf("State = %q, want %q", status.State, tt.wantState)
			}
			if status.ReferenceURL != tt.wantRef {
				t.Errorf("ReferenceURL = %q, want %q", status.ReferenceURL, tt.wantRef)
			}
		})
	}
}

func TestWaitForCompletionPollsUntilSuccess(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	polls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("request") != "GetExecutionStatus" {
			t.Errorf("request = %q, want GetExecutionStatus", r.URL.Query().Get("request"))
		}
		mu.Lock()
		polls++
		n := polls
		mu.Unlock()
		if n < 3 {
			io.WriteString(w, `<ExecuteResponse><Status><ProcessStarted/></Status></ExecuteResponse>`)
			return
		}
		io.WriteString(w, `<ExecuteResponse><Status><ProcessSucceeded/></Status>`+
			`<ProcessOutputs><Output><Identifier>result</Identifier>`+
			`<Reference href="http://example.com/out.zip"/></Output></ProcessOutputs></ExecuteResponse>`)
	}))
	t.Cleanup(server.Close)

	c := NewClient(5 * time.Second)
	ref, err := c.WaitForCompletion(context.Background(), server.URL, "abc", 5*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForCompletion failed: %v", err)
	}
	if ref != "http://example.com/out.zip" {
		t.Errorf("ref = %q", ref)
	}

	mu.Lock()
	defer mu.Unlock()
	if polls < 3 {
		t.Errorf("polls = %d, want at least 3", polls)
	}
}

func TestWaitForCompletionFailure(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<ExecuteResponse><Status><ProcessFailed><ExceptionReport>`+
			`<Exception><ExceptionText>out of memory</ExceptionText></Exception>`+
			`</ExceptionReport></ProcessFailed></Status></ExecuteResponse>`)
	}))
	t.Cleanup(server.Close)

	c := NewClient(5 * time.Second)
	_, err := c.WaitForCompletion(context.Background(), server.URL, "abc", 5*time.Millisecond)

	if apperrors.CodeOf(err) != apperrors.CodeProcessFailed {
		t.Errorf("code = %q, want %q", apperrors.CodeOf(err), apperrors.CodeProcessFailed)
	}
}

func TestWaitForCompletionSucceededWithoutReference(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<ExecuteResponse><Status><ProcessSucceeded/></Status></ExecuteResponse>`)
	}))
	t.Cleanup(server.Close)

	c := NewClient(5 * time.Second)
	_, err := c.WaitForCompletion(context.Background(), server.URL, "abc", 5*time.Millisecond)

	if apperrors.CodeOf(err) != apperrors.CodeUnexpectedStatus {
		t.Errorf("code = %q, want %q", apperrors.CodeOf(err), apperrors.CodeUnexpectedStatus)
	}
}

func TestWaitForCompletionCanceled(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<ExecuteResponse><Status><ProcessStarted/></Status></ExecuteResponse>`)
	}))
	t.Cleanup(server.Close)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	c := NewClient(5 * time.Second)
	_, err := c.WaitForCompletion(ctx, server.URL, "abc", 5*time.Millisecond)

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
