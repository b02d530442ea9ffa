package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/linedrive-go/internal/config"
	"github.com/tonimelisma/linedrive-go/internal/store"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Long:  "Create or upgrade the SQLite or PostgreSQL schema. serve does this on startup too.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if resolvedCfg.Storage.Backend == config.BackendMemory {
				return fmt.Errorf("storage.backend is %q, nothing to migrate", config.BackendMemory)
			}

			db, err := openStore(cmd.Context(), resolvedCfg, buildLogger())
			if err != nil {
				return err
			}

			statusf(flagQuiet, "Database is up to date.\n")

			return db.Close()
		},
	}
}

func newCredentialsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Inspect and revoke stored OneDrive credentials",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List users with a stored credential",
		Args:  cobra.NoArgs,
		RunE:  runCredentialsList,
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "revoke <user-id>",
		Short: "Delete a user's stored credential",
		Long:  "Delete a user's stored credential. Their next file prompts them to connect again.",
		Args:  cobra.ExactArgs(1),
		RunE:  runCredentialsRevoke,
	})

	return cmd
}

// credentialJSON is the --json view of a credential. Tokens are never
// printed.
type credentialJSON struct {
	UserID    string    `json:"user_id"`
	Expiry    time.Time `json:"expiry,omitzero"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func runCredentialsList(cmd *cobra.Command, _ []string) error {
	db, err := openAdminStore(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	creds, err := db.Credentials(cmd.Context())
	if err != nil {
		return err
	}

	if flagJSON {
		out := make([]credentialJSON, 0, len(creds))
		for i := range creds {
			c := &creds[i]
			out = append(out, credentialJSON{UserID: c.UserID, Expiry: c.Expiry, CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt})
		}

		return printJSON(cmd.OutOrStdout(), out)
	}

	if len(creds) == 0 {
		statusf(flagQuiet, "No stored credentials.\n")
		return nil
	}

	rows := make([][]string, 0, len(creds))
	for i := range creds {
		c := &creds[i]
		rows = append(rows, []string{c.UserID, formatExpiry(c.Expiry), formatTime(c.UpdatedAt)})
	}

	printTable(cmd.OutOrStdout(), []string{"USER", "TOKEN EXPIRES", "UPDATED"}, rows)

	return nil
}

func runCredentialsRevoke(cmd *cobra.Command, args []string) error {
	db, err := openAdminStore(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	userID := args[0]

	existing, err := db.Credential(cmd.Context(), userID)
	if err != nil {
		return err
	}

	if existing == nil {
		return fmt.Errorf("no credential stored for %s", userID)
	}

	if err := db.DeleteCredential(cmd.Context(), userID); err != nil {
		return err
	}

	statusf(flagQuiet, "Revoked credential for %s.\n", userID)

	return nil
}

func newMembersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "members",
		Short: "Inspect recorded group memberships",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list [group-id]",
		Short: "List groups, or the members recorded for one group",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runMembersList,
	})

	return cmd
}

type groupJSON struct {
	GroupID  string    `json:"group_id"`
	Kind     string    `json:"kind"`
	Members  int       `json:"members"`
	LastSeen time.Time `json:"last_seen"`
}

type memberJSON struct {
	UserID    string    `json:"user_id"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

func runMembersList(cmd *cobra.Command, args []string) error {
	db, err := openAdminStore(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	if len(args) == 0 {
		return listGroups(cmd, db)
	}

	members, err := db.Members(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if flagJSON {
		out := make([]memberJSON, 0, len(members))
		for i := range members {
			m := &members[i]
			out = append(out, memberJSON{UserID: m.UserID, FirstSeen: m.FirstSeen, LastSeen: m.LastSeen})
		}

		return printJSON(cmd.OutOrStdout(), out)
	}

	if len(members) == 0 {
		statusf(flagQuiet, "No members recorded for %s.\n", args[0])
		return nil
	}

	rows := make([][]string, 0, len(members))
	for i := range members {
		m := &members[i]
		rows = append(rows, []string{m.UserID, formatTime(m.FirstSeen), formatTime(m.LastSeen)})
	}

	printTable(cmd.OutOrStdout(), []string{"USER", "FIRST SEEN", "LAST SEEN"}, rows)

	return nil
}

func listGroups(cmd *cobra.Command, db store.Backend) error {
	groups, err := db.Groups(cmd.Context())
	if err != nil {
		return err
	}

	if flagJSON {
		out := make([]groupJSON, 0, len(groups))
		for i := range groups {
			g := &groups[i]
			out = append(out, groupJSON{GroupID: g.GroupID, Kind: string(g.Kind), Members: g.Members, LastSeen: g.LastSeen})
		}

		return printJSON(cmd.OutOrStdout(), out)
	}

	if len(groups) == 0 {
		statusf(flagQuiet, "No groups recorded.\n")
		return nil
	}

	rows := make([][]string, 0, len(groups))
	for i := range groups {
		g := &groups[i]
		rows = append(rows, []string{g.GroupID, string(g.Kind), fmt.Sprint(g.Members), formatTime(g.LastSeen)})
	}

	printTable(cmd.OutOrStdout(), []string{"GROUP", "KIND", "MEMBERS", "LAST SEEN"}, rows)

	return nil
}

// openAdminStore opens the durable store for a CLI command. The memory
// backend is refused because it would always look empty.
func openAdminStore(cmd *cobra.Command) (store.Backend, error) {
	if resolvedCfg.Storage.Backend == config.BackendMemory {
		return nil, fmt.Errorf("storage.backend is %q, there is nothing to inspect outside a running server", config.BackendMemory)
	}

	return openStore(cmd.Context(), resolvedCfg, buildLogger())
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}
