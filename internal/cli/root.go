// Package cli implements assistctl, the command line client for the
// background's message endpoint.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/k8ika0s/shop-assistant/internal/logging"
	"github.com/k8ika0s/shop-assistant/internal/protocol"
)

type globalFlags struct {
	address  string
	token    string
	timeout  time.Duration
	logLevel string
}

type globalState struct {
	ctx    context.Context
	stdOut io.Writer
	stdErr io.Writer
	flags  globalFlags
	logger *logrus.Logger
}

func (gs *globalState) client() (*protocol.Client, error) {
	return protocol.New(gs.flags.address,
		protocol.WithToken(gs.flags.token),
		protocol.WithTimeout(gs.flags.timeout),
		protocol.WithLogger(gs.logger.WithField("component", "assistctl")),
	)
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// NewRootCommand builds the assistctl command tree writing to out.
func NewRootCommand(ctx context.Context, out, errOut io.Writer) *cobra.Command {
	gs := &globalState{ctx: ctx, stdOut: out, stdErr: errOut, logger: logging.Discard()}
	root := &cobra.Command{
		Use:           "assistctl",
		Short:         "Control the shop assistant action queue",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			gs.logger = logging.NewWithOutput(gs.stdErr, gs.flags.logLevel, "text")
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	pf := root.PersistentFlags()
	pf.StringVarP(&gs.flags.address, "address", "a", envOr("BACKGROUND_URL", "http://localhost:8080"), "background address")
	pf.StringVar(&gs.flags.token, "token", os.Getenv("AGENT_TOKEN"), "shared agent token")
	pf.DurationVar(&gs.flags.timeout, "timeout", protocol.DefaultTimeout, "per-request timeout")
	pf.StringVar(&gs.flags.logLevel, "log-level", "warn", "log level")

	root.AddCommand(
		getCmdAppend(gs),
		getCmdPop(gs),
		getCmdClear(gs),
		getCmdLength(gs),
		getCmdStatus(gs),
		getCmdEnable(gs, true),
		getCmdEnable(gs, false),
		getCmdSession(gs),
		getCmdSignIn(gs),
		getCmdSignOut(gs),
		getCmdEvents(gs),
		getCmdRules(gs),
	)
	return root
}

// Execute runs assistctl against os.Args and exits non-zero on error.
func Execute(ctx context.Context) {
	root := NewRootCommand(ctx, os.Stdout, os.Stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// yamlPrint renders v as YAML using its JSON field names.
func yamlPrint(w io.Writer, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("could not marshal to JSON: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return fmt.Errorf("could not write YAML: %w", err)
	}
	return enc.Close()
}
