package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/headline-tracker/internal/tracker"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the profile store if it does not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.Store().Ping(cmd.Context()); err != nil {
				return fmt.Errorf("store not reachable: %w", err)
			}
			printf(cmd, "Store ready at %s\n", a.StoreLocation())
			return nil
		},
	}
}

func newAddCmd() *cobra.Command {
	var name, url, firm string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a profile to track",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			p, err := a.Store().AddProfile(cmd.Context(), tracker.NewProfile{Name: name, URL: url, Firm: firm})
			if err != nil {
				return err
			}
			printf(cmd, "Added #%d %s%s\n", p.ID, p.Name, firmSuffix(p.Firm))
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "person's name")
	cmd.Flags().StringVar(&url, "url", "", "public profile URL")
	cmd.Flags().StringVar(&firm, "firm", "", "firm used to group profiles")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func newAddFromURLCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add-from-url URL...",
		Short: "Add profiles by fetching each page and detecting the name and firm",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			added := 0
			for _, raw := range args {
				p, err := a.Runner().AddFromURL(cmd.Context(), raw)
				if err != nil {
					a.Logger().Debug("add from url failed", zap.String("url", raw), zap.Error(err))
					printf(cmd, "[SKIP] %s: %v\n", raw, err)
					if cmd.Context().Err() != nil {
						return cmd.Context().Err()
					}
					continue
				}
				added++
				printf(cmd, "[ADDED] #%d %s%s\n", p.ID, p.Name, firmSuffix(p.Firm))
			}
			if added == 0 {
				return errors.New("no profiles added")
			}
			return nil
		},
	}
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list [FIRM]",
		Short: "List tracked profiles",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			firm := ""
			if len(args) == 1 {
				firm = strings.TrimSpace(args[0])
			}
			profiles, err := a.Store().ListProfiles(cmd.Context(), firm)
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleRounded)
			t.AppendHeader(table.Row{"ID", "Name", "Firm", "Title @ Company", "Last Checked"})
			for _, p := range profiles {
				checked := "never"
				if p.LastCheckedAt != nil {
					checked = p.LastCheckedAt.UTC().Format(time.DateTime)
				}
				t.AppendRow(table.Row{p.ID, p.Name, p.Firm, p.Snapshot().Display(), checked})
			}
			t.AppendFooter(table.Row{"Total", len(profiles)})
			t.Render()
			return nil
		},
	}
}

func newSetFirmCmd() *cobra.Command {
	var (
		id        int64
		url       string
		firm      string
		clearFirm bool
	)
	cmd := &cobra.Command{
		Use:   "set-firm",
		Short: "Set or clear the firm of a profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if clearFirm {
				firm = ""
			} else if strings.TrimSpace(firm) == "" {
				return errors.New("--firm is required unless --clear is set")
			}
			if url != "" {
				n, err := a.Store().SetFirmByURL(cmd.Context(), url, firm)
				if err != nil {
					return err
				}
				if n == 0 {
					return fmt.Errorf("%w: %s", tracker.ErrProfileNotFound, url)
				}
				printf(cmd, "Updated %d profile(s) with URL %s\n", n, strings.TrimSpace(url))
				return nil
			}
			if err := a.Store().SetFirm(cmd.Context(), id, firm); err != nil {
				return err
			}
			if firm == "" {
				printf(cmd, "Cleared firm of #%d\n", id)
			} else {
				printf(cmd, "Set firm of #%d to %s\n", id, strings.TrimSpace(firm))
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&id, "id", 0, "profile id")
	cmd.Flags().StringVar(&url, "url", "", "profile URL")
	cmd.Flags().StringVar(&firm, "firm", "", "new firm")
	cmd.Flags().BoolVar(&clearFirm, "clear", false, "remove the firm")
	cmd.MarkFlagsOneRequired("id", "url")
	cmd.MarkFlagsMutuallyExclusive("id", "url")
	cmd.MarkFlagsMutuallyExclusive("firm", "clear")
	return cmd
}

func firmSuffix(firm string) string {
	if firm == "" {
		return ""
	}
	return " (" + firm + ")"
}

// printf writes command output to stdout; cobra's own Printf targets stderr.
func printf(cmd *cobra.Command, format string, args ...any) {
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
