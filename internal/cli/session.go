package cli

import (
	"github.com/spf13/cobra"

	"github.com/k8ika0s/shop-assistant/internal/session"
)

func getCmdSession(gs *globalState) *cobra.Command {
	return &cobra.Command{
		Use:   "session",
		Short: "Show the signed-in state agents check before acting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := gs.client()
			if err != nil {
				return err
			}
			resp, err := c.Session(gs.ctx)
			if err != nil {
				return err
			}
			return yamlPrint(gs.stdOut, resp)
		},
	}
}

func getCmdSignIn(gs *globalState) *cobra.Command {
	return &cobra.Command{
		Use:   "signin [user]",
		Short: "Mark the session as signed in",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st := session.State{Authorized: true}
			if len(args) == 1 {
				st.User = args[0]
			}
			return setSession(gs, st)
		},
	}
}

func getCmdSignOut(gs *globalState) *cobra.Command {
	return &cobra.Command{
		Use:   "signout",
		Short: "Mark the session as signed out",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return setSession(gs, session.State{})
		},
	}
}

func setSession(gs *globalState, st session.State) error {
	c, err := gs.client()
	if err != nil {
		return err
	}
	resp, err := c.SetSession(gs.ctx, st)
	if err != nil {
		return err
	}
	return yamlPrint(gs.stdOut, resp)
}
