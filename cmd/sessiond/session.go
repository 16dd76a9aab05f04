package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"text/tabwriter"

	httpAdapter "github.com/aretw0/sessiond/pkg/adapters/http"
	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect and remove stored sessions",
}

var sessionListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List all sessions",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, _, err := openService(cmd)
		if err != nil {
			return err
		}
		defer svc.Close()

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tUSER\tCONTEXT\tLOGIN\tCREATED")
		for _, s := range svc.Storage.GetAllSessions(cmd.Context()) {
			fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\n", s.ID, s.UserID, s.ContextID, s.Login, s.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

var sessionInspectCmd = &cobra.Command{
	Use:   "inspect [id]",
	Short: "Print a session as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, _, err := openService(cmd)
		if err != nil {
			return err
		}
		defer svc.Close()

		s, err := svc.Storage.Lookup(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(httpAdapter.NewSessionView(s))
	},
}

var sessionRemoveCmd = &cobra.Command{
	Use:     "rm [id...]",
	Aliases: []string{"delete"},
	Short:   "Remove sessions by identifier",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, _, err := openService(cmd)
		if err != nil {
			return err
		}
		defer svc.Close()

		removed, err := svc.Storage.RemoveMultiple(cmd.Context(), args)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d of %d session(s)\n", len(removed), len(args))
		return nil
	},
}

var sessionRemoveUserCmd = &cobra.Command{
	Use:   "rm-user [user] [context]",
	Short: "Remove every session of a user",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, contextID, err := parseUser(args)
		if err != nil {
			return err
		}
		svc, _, err := openService(cmd)
		if err != nil {
			return err
		}
		defer svc.Close()

		remove := svc.Storage.RemoveSessionsForUser
		if local, _ := cmd.Flags().GetBool("local"); local {
			remove = svc.Storage.RemoveLocalSessionsForUser
		}
		removed, err := remove(cmd.Context(), userID, contextID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d session(s)\n", len(removed))
		return nil
	},
}

var sessionCountCmd = &cobra.Command{
	Use:   "count [user context]",
	Short: "Count all sessions, or the sessions of one user",
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 0 && len(args) != 2 {
			return fmt.Errorf("accepts 0 or 2 arg(s), received %d", len(args))
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		var userID, contextID int
		if len(args) == 2 {
			var err error
			if userID, contextID, err = parseUser(args); err != nil {
				return err
			}
		}
		svc, _, err := openService(cmd)
		if err != nil {
			return err
		}
		defer svc.Close()

		n := 0
		if len(args) == 0 {
			n = svc.Storage.CountActiveSessions(cmd.Context())
		} else if n, err = svc.Storage.CountUserSessions(cmd.Context(), userID, contextID); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), n)
		return nil
	},
}

var sessionTouchCmd = &cobra.Command{
	Use:   "touch [id...]",
	Short: "Reset the idle timer of sessions",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, _, err := openService(cmd)
		if err != nil {
			return err
		}
		defer svc.Close()

		n, err := svc.Storage.Touch(cmd.Context(), args)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Touched %d of %d session(s)\n", n, len(args))
		return nil
	},
}

func parseUser(args []string) (int, int, error) {
	userID, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid user id %q", args[0])
	}
	contextID, err := strconv.Atoi(args[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid context id %q", args[1])
	}
	return userID, contextID, nil
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionListCmd, sessionInspectCmd, sessionRemoveCmd, sessionRemoveUserCmd, sessionCountCmd, sessionTouchCmd)
	sessionRemoveUserCmd.Flags().Bool("local", false, "Only remove sessions owned by this node")
}
