// Package main provides the collector command: fetch, clean and save federal award snapshots.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// exitErr carries a numeric exit code through the cobra error path.
type exitErr struct {
	code int
	msg  string
}

func (e *exitErr) Error() string { return e.msg }

// Exit codes.
const (
	exitRunFailed     = 1
	exitQualityReject = 2
	exitConfig        = 3
)

func codeError(code int, format string, args ...any) error {
	return &exitErr{code: code, msg: fmt.Sprintf(format, args...)}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := newRootCmd().ExecuteContext(ctx)

	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)

		var ee *exitErr
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}

		os.Exit(exitRunFailed)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "collector",
		Short:         "Collect federal spending awards into validated snapshots",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "", "Path to YAML configuration file (defaults are used when empty)")
	root.PersistentFlags().String("env", ".env", "Optional .env file with FEDSPEND_* overrides")

	root.AddCommand(
		newCollectCmd(),
		newShowCmd(),
		newVerifyCmd(),
		newHistoryCmd(),
		newGroupsCmd(),
		newConfigCmd(),
	)

	return root
}
