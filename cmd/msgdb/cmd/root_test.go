package cmd

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spf13/cobra"
)

// newTestRootCmd creates a fresh root command so tests do not mutate the
// global rootCmd.
func newTestRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "msgdb",
		Short: "Local message database with live views",
	}
}

// TestExecuteContext_CancellationPropagates verifies that cancelling the
// context handed to ExecuteContext reaches running command handlers.
func TestExecuteContext_CancellationPropagates(t *testing.T) {
	handlerStarted := make(chan struct{})
	testRoot := newTestRootCmd()
	testRoot.AddCommand(&cobra.Command{
		Use: "test-cancel",
		RunE: func(cmd *cobra.Command, args []string) error {
			close(handlerStarted)
			select {
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			case <-time.After(5 * time.Second):
				return nil
			}
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		testRoot.SetArgs([]string{"test-cancel"})
		done <- testRoot.ExecuteContext(ctx)
	}()

	select {
	case <-handlerStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("command handler did not start in time")
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ExecuteContext did not return after context cancellation")
	}
}

// TestExecuteContext_PropagatesContext swaps the global rootCmd and must
// not run in parallel with other tests.
func TestExecuteContext_PropagatesContext(t *testing.T) {
	savedRootCmd := rootCmd
	defer func() { rootCmd = savedRootCmd }()

	type ctxKey string
	var receivedCtx context.Context
	testRoot := newTestRootCmd()
	testRoot.AddCommand(&cobra.Command{
		Use: "test-ctx",
		RunE: func(cmd *cobra.Command, args []string) error {
			receivedCtx = cmd.Context()
			return nil
		},
	})
	rootCmd = testRoot

	ctx := context.WithValue(context.Background(), ctxKey("k"), "v")
	testRoot.SetArgs([]string{"test-ctx"})
	if err := ExecuteContext(ctx); err != nil {
		t.Fatalf("ExecuteContext: %v", err)
	}
	if receivedCtx == nil {
		t.Fatal("command did not receive context")
	}
	if got := receivedCtx.Value(ctxKey("k")); got != "v" {
		t.Errorf("context value = %v, want v", got)
	}
}

func TestExecute_UsesBackgroundContext(t *testing.T) {
	savedRootCmd := rootCmd
	defer func() { rootCmd = savedRootCmd }()

	var receivedCtx context.Context
	testRoot := newTestRootCmd()
	testRoot.AddCommand(&cobra.Command{
		Use: "test-bg-ctx",
		RunE: func(cmd *cobra.Command, args []string) error {
			receivedCtx = cmd.Context()
			return nil
		},
	})
	rootCmd = testRoot

	testRoot.SetArgs([]string{"test-bg-ctx"})
	if err := Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if receivedCtx == nil {
		t.Fatal("command did not receive context")
	}
	if deadline, ok := receivedCtx.Deadline(); ok {
		t.Errorf("expected no deadline, got %v", deadline)
	}
}

func TestParseGID(t *testing.T) {
	tests := []struct {
		arg     string
		want    uint32
		wantErr bool
	}{
		{"1", 1, false},
		{"4294967295", 4294967295, false},
		{"0", 0, true},
		{"-3", 0, true},
		{"abc", 0, true},
		{"4294967296", 0, true},
	}
	for _, tc := range tests {
		got, err := parseGID(tc.arg)
		if (err != nil) != tc.wantErr {
			t.Errorf("parseGID(%q) error = %v, wantErr %v", tc.arg, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("parseGID(%q) = %d, want %d", tc.arg, got, tc.want)
		}
	}
}
