package cli

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/k8ika0s/shop-assistant/internal/events"
	"github.com/k8ika0s/shop-assistant/internal/locator"
)

func getCmdEvents(gs *globalState) *cobra.Command {
	var (
		brokers string
		topic   string
		limit   int
		wait    time.Duration
	)
	eventsCmd := &cobra.Command{
		Use:   "events",
		Short: "Read queue events from Kafka",
		Long: `Read queue events from Kafka.

  Reads from the start of the topic the background publishes to and stops
  after --limit events or once --wait passes without a new one.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if brokers == "" {
				return errors.New("--brokers (or KAFKA_BROKERS) is required")
			}
			kp := events.NewKafkaPublisher(brokers, topic)
			defer kp.Close()
			evts, err := kp.Tail(gs.ctx, limit, wait)
			if err != nil {
				return err
			}
			return yamlPrint(gs.stdOut, evts)
		},
	}
	fl := eventsCmd.Flags()
	fl.StringVar(&brokers, "brokers", envOr("KAFKA_BROKERS", ""), "comma-separated Kafka brokers")
	fl.StringVar(&topic, "topic", envOr("KAFKA_TOPIC", "assistant.outcomes"), "event topic")
	fl.IntVar(&limit, "limit", 50, "maximum events to read")
	fl.DurationVar(&wait, "wait", 2*time.Second, "stop after this long without a new event")
	return eventsCmd
}

func getCmdRules(gs *globalState) *cobra.Command {
	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect the locator's fallback selector rules",
	}
	rulesCmd.AddCommand(&cobra.Command{
		Use:   "list [dir]",
		Short: "List built-in rules plus those loaded from dir",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rules := locator.NewRules(locator.DefaultRules()...)
			if len(args) == 1 {
				if _, err := locator.LoadRulesFromDir(rules, args[0]); err != nil {
					return err
				}
			}
			return yamlPrint(gs.stdOut, rules.List())
		},
	})
	rulesCmd.AddCommand(&cobra.Command{
		Use:   "validate dir",
		Short: "Check rule files without loading them into an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := locator.LoadRulesFromDir(locator.NewRules(), args[0])
			if err != nil {
				return err
			}
			if err := yamlPrint(gs.stdOut, res); err != nil {
				return err
			}
			if len(res.Errors) > 0 {
				return errors.New("some rules are invalid")
			}
			return nil
		},
	})
	return rulesCmd
}
