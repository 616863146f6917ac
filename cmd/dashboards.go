package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/KaramelBytes/dashloom-cli/internal/patch"
)

var (
	patchExpected  int
	patchReason    string
	patchAuthor    string
	rbExpected     int
	rbReason       string
	showVersion    int
	historyFormat  string
	listFormatJSON bool
)

var patchCmd = &cobra.Command{
	Use:   "patch <dashboard-id> <patch.json>",
	Short: "Apply a JSON patch to a dashboard's live spec",
	Long: `Patch applies add/remove/replace/move/copy/test operations to the live spec and
commits the result as a new version. The file holds either an operation list or
an object with a "patch" list.`,
	Example: `  dashloom patch 3f1c... rename.json --expected-version 2 --reason "rename"`,
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireConfig()
		if err != nil {
			return err
		}
		ops, err := readPatchFile(args[1])
		if err != nil {
			return err
		}
		logger := newLogger(cmd.ErrOrStderr())
		ctx := commandContext(cmd)
		svc, closeStore, err := openService(ctx, c, nil, logger)
		if err != nil {
			return err
		}
		defer closeStore()

		req := patch.Request{DashboardID: args[0], Patch: ops, ChangeReason: patchReason, Author: patchAuthor}
		if cmd.Flags().Changed("expected-version") {
			req.ExpectedVersion = &patchExpected
		}
		resp, err := svc.Patch(ctx, req)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "✓ Committed version %d (was %d)\n", resp.Version, resp.PreviousVersion)
		return writeJSON(cmd.OutOrStdout(), resp)
	},
}

func readPatchFile(path string) ([]patch.Op, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read patch: %w", err)
	}
	var ops []patch.Op
	if err := json.Unmarshal(b, &ops); err == nil {
		return ops, nil
	}
	var wrapped struct {
		Patch []patch.Op `json:"patch"`
	}
	if err := json.Unmarshal(b, &wrapped); err != nil {
		return nil, fmt.Errorf("decode patch: %w", err)
	}
	return wrapped.Patch, nil
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback <dashboard-id> <version>",
	Short: "Make an older version live again as a new version",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireConfig()
		if err != nil {
			return err
		}
		to, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version %q", args[1])
		}
		logger := newLogger(cmd.ErrOrStderr())
		ctx := commandContext(cmd)
		svc, closeStore, err := openService(ctx, c, nil, logger)
		if err != nil {
			return err
		}
		defer closeStore()

		req := patch.RollbackRequest{DashboardID: args[0], ToVersion: to, Reason: rbReason, Author: patchAuthor}
		if cmd.Flags().Changed("expected-version") {
			req.ExpectedVersion = &rbExpected
		}
		resp, err := svc.Rollback(ctx, req)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "✓ Version %d restored as version %d\n", to, resp.Version)
		return writeJSON(cmd.OutOrStdout(), resp)
	},
}

var showCmd = &cobra.Command{
	Use:   "show <dashboard-id>",
	Short: "Print the live (or a specific) spec of a dashboard",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireConfig()
		if err != nil {
			return err
		}
		ctx := commandContext(cmd)
		svc, closeStore, err := openService(ctx, c, nil, newLogger(cmd.ErrOrStderr()))
		if err != nil {
			return err
		}
		defer closeStore()
		if showVersion > 0 {
			v, err := svc.Version(ctx, args[0], showVersion)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), v.Spec)
		}
		_, v, err := svc.Dashboard(ctx, args[0])
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), v.Spec)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <dashboard-id>",
	Short: "List the versions of a dashboard",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireConfig()
		if err != nil {
			return err
		}
		ctx := commandContext(cmd)
		svc, closeStore, err := openService(ctx, c, nil, newLogger(cmd.ErrOrStderr()))
		if err != nil {
			return err
		}
		defer closeStore()
		h, err := svc.History(ctx, args[0])
		if err != nil {
			return err
		}
		if historyFormat == "json" {
			return writeJSON(cmd.OutOrStdout(), h)
		}
		t := table.NewWriter()
		t.SetOutputMirror(cmd.OutOrStdout())
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"Version", "Created", "Author", "Notes"})
		for _, e := range h {
			t.AppendRow(table.Row{e.Version, e.CreatedAt.Local().Format(time.DateTime), e.Author, e.Notes})
		}
		t.Render()
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored dashboards",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireConfig()
		if err != nil {
			return err
		}
		ctx := commandContext(cmd)
		svc, closeStore, err := openService(ctx, c, nil, newLogger(cmd.ErrOrStderr()))
		if err != nil {
			return err
		}
		defer closeStore()
		ds, err := svc.List(ctx)
		if err != nil {
			return err
		}
		if listFormatJSON {
			return writeJSON(cmd.OutOrStdout(), ds)
		}
		if len(ds) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "(no dashboards)")
			return nil
		}
		t := table.NewWriter()
		t.SetOutputMirror(cmd.OutOrStdout())
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"ID", "Title", "Dataset", "Version", "Created"})
		for _, d := range ds {
			t.AppendRow(table.Row{d.ID, d.Title, d.Dataset, d.LatestVersion, d.CreatedAt.Local().Format(time.DateTime)})
		}
		t.Render()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(patchCmd, rollbackCmd, showCmd, historyCmd, listCmd)

	patchCmd.Flags().IntVar(&patchExpected, "expected-version", 0, "reject unless the live version equals this")
	patchCmd.Flags().StringVar(&patchReason, "reason", "", "change reason recorded with the version")
	patchCmd.Flags().StringVar(&patchAuthor, "author", os.Getenv("USER"), "author recorded with the version")

	rollbackCmd.Flags().IntVar(&rbExpected, "expected-version", 0, "reject unless the live version equals this")
	rollbackCmd.Flags().StringVar(&rbReason, "reason", "", "reason recorded with the new version")
	rollbackCmd.Flags().StringVar(&patchAuthor, "author", os.Getenv("USER"), "author recorded with the version")

	showCmd.Flags().IntVar(&showVersion, "version", 0, "print this version instead of the live one")
	historyCmd.Flags().StringVar(&historyFormat, "format", "table", "output format: table|json")
	listCmd.Flags().BoolVar(&listFormatJSON, "json", false, "print JSON instead of a table")
}
