package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/k8ika0s/shop-assistant/internal/queue"
)

type appendFlags struct {
	label      string
	kind       string
	tag        string
	attrs      []string
	priority   int
	maxRetries int
	file       string
}

func getCmdAppend(gs *globalState) *cobra.Command {
	var f appendFlags
	appendCmd := &cobra.Command{
		Use:   "append",
		Short: "Queue one or more actions",
		Long: `Queue one or more actions.

  Describe a single action with --tag and --attr, or pass --file with a YAML
  or JSON document holding one action or a list of them ("-" reads stdin).`,
		Example: `  assistctl append --action "buy now" --tag input --attr id=buy-now-button
  assistctl append --file checkout.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			actions, err := f.actions(cmd.InOrStdin())
			if err != nil {
				return err
			}
			c, err := gs.client()
			if err != nil {
				return err
			}
			resp, err := c.Append(gs.ctx, actions...)
			if err != nil {
				return err
			}
			if err := yamlPrint(gs.stdOut, resp); err != nil {
				return err
			}
			if !resp.Success {
				return errors.New(resp.Error)
			}
			return nil
		},
	}
	fl := appendCmd.Flags()
	fl.StringVar(&f.label, "action", "", "human label, e.g. \"buy now\"")
	fl.StringVar(&f.kind, "type", "", "action type, e.g. buy_now")
	fl.StringVar(&f.tag, "tag", "", "element tag to click")
	fl.StringArrayVar(&f.attrs, "attr", nil, "element attribute as key=value (repeatable)")
	fl.IntVar(&f.priority, "priority", 0, "higher runs first")
	fl.IntVar(&f.maxRetries, "max-retries", 0, "retry budget (0 uses the background default)")
	fl.StringVarP(&f.file, "file", "f", "", "YAML or JSON file with actions")
	return appendCmd
}

func (f appendFlags) actions(stdin io.Reader) ([]queue.Action, error) {
	if f.file != "" {
		var (
			raw []byte
			err error
		)
		if f.file == "-" {
			raw, err = io.ReadAll(stdin)
		} else {
			raw, err = os.ReadFile(f.file)
		}
		if err != nil {
			return nil, err
		}
		return parseActions(raw)
	}
	if f.tag == "" && f.kind == "" && f.label == "" {
		return nil, errors.New("nothing to append: pass --tag, --type, --action or --file")
	}
	a := queue.Action{
		Label:      f.label,
		Type:       f.kind,
		Tag:        f.tag,
		Priority:   f.priority,
		MaxRetries: f.maxRetries,
	}
	for _, kv := range f.attrs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid --attr %q, want key=value", kv)
		}
		if a.Attributes == nil {
			a.Attributes = map[string]string{}
		}
		a.Attributes[strings.TrimSpace(k)] = v
	}
	return []queue.Action{a}, nil
}

// parseActions reads one action or a list of actions. YAML keys follow the
// JSON wire names, and plain JSON is accepted as YAML.
func parseActions(raw []byte) ([]queue.Action, error) {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse actions: %w", err)
	}
	switch doc.(type) {
	case map[string]any:
		doc = []any{doc}
	case []any:
	case nil:
		return nil, errors.New("actions file is empty")
	default:
		return nil, errors.New("actions file must hold an action or a list of actions")
	}
	wire, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var actions []queue.Action
	if err := json.Unmarshal(wire, &actions); err != nil {
		return nil, fmt.Errorf("parse actions: %w", err)
	}
	return actions, nil
}

func getCmdPop(gs *globalState) *cobra.Command {
	return &cobra.Command{
		Use:   "pop",
		Short: "Take the next action off the queue",
		Long: `Take the next action off the queue.

  The action is handed out as if an agent had fetched it; report it back
  with an agent or it will not be retried.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := gs.client()
			if err != nil {
				return err
			}
			resp, err := c.Pop(gs.ctx)
			if err != nil {
				return err
			}
			return yamlPrint(gs.stdOut, resp)
		},
	}
}

func getCmdClear(gs *globalState) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Drop every queued action",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := gs.client()
			if err != nil {
				return err
			}
			resp, err := c.Clear(gs.ctx)
			if err != nil {
				return err
			}
			return yamlPrint(gs.stdOut, resp)
		},
	}
}

func getCmdLength(gs *globalState) *cobra.Command {
	return &cobra.Command{
		Use:   "length",
		Short: "Show how many actions are queued",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := gs.client()
			if err != nil {
				return err
			}
			resp, err := c.Length(gs.ctx)
			if err != nil {
				return err
			}
			return yamlPrint(gs.stdOut, resp)
		},
	}
}

func getCmdStatus(gs *globalState) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue counts by status and whether queueing is enabled",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := gs.client()
			if err != nil {
				return err
			}
			resp, err := c.Status(gs.ctx)
			if err != nil {
				return err
			}
			return yamlPrint(gs.stdOut, resp)
		},
	}
}

func getCmdEnable(gs *globalState, enabled bool) *cobra.Command {
	use, short := "enable", "Accept new actions"
	if !enabled {
		use, short = "disable", "Stop accepting actions and clear the queue"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := gs.client()
			if err != nil {
				return err
			}
			resp, err := c.SetEnabled(gs.ctx, enabled)
			if err != nil {
				return err
			}
			return yamlPrint(gs.stdOut, resp)
		},
	}
}
