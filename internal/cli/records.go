package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/assetdesk/internal/console"
	"github.com/mesh-intelligence/assetdesk/internal/form"
	"github.com/mesh-intelligence/assetdesk/internal/nav"
	"github.com/mesh-intelligence/assetdesk/pkg/types"
)

// recordCommand opens a signed-in console for one of the record commands
// and closes it when run returns.
func recordCommand(flags *rootFlags, run func(ctx context.Context, cmd *cobra.Command, s *session, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		s, err := openConsole(flags)
		if err != nil {
			return err
		}
		defer s.Close()
		ctx := commandContext(cmd)
		if _, err := s.signIn(ctx); err != nil {
			return err
		}
		return run(ctx, cmd, s, args)
	}
}

func newKindsCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "List the entity kinds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openConsole(flags)
			if err != nil {
				return err
			}
			defer s.Close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KIND\tLABEL\tFIELDS")
			for _, kind := range s.Kinds() {
				v, err := s.View(kind)
				if err != nil {
					return err
				}
				sch := v.Schema()
				names := make([]string, 0, len(sch.Fields))
				for _, f := range sch.Writable() {
					names = append(names, f.Name)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", kind, sch.Label, strings.Join(names, ","))
			}
			return w.Flush()
		},
	}
}

func newListCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list <kind>",
		Short: "List the records of a kind",
		Example: `  assetdesk list machines
  assetdesk list task_statuses --json`,
		Args: cobra.ExactArgs(1),
		RunE: recordCommand(flags, func(ctx context.Context, cmd *cobra.Command, s *session, args []string) error {
			v, err := s.view(args[0])
			if err != nil {
				return err
			}
			if _, err := s.Navigate(ctx, s.Binder().Format(nav.Route{Kind: v.Kind()})); err != nil {
				return err
			}
			if err := v.Refresh(ctx); err != nil {
				return err
			}
			records := v.Records()
			if flags.jsonMode {
				return printJSON(cmd.OutOrStdout(), records)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\n", r.RecordID(), displayName(r))
			}
			return w.Flush()
		}),
	}
}

// openRecord navigates to the record's view (or edit) path. A record the
// backend does not have is reported as types.ErrNotFound.
func openRecord(ctx context.Context, s *session, v console.View, id string, mode form.Mode) (types.Record, error) {
	path := s.Binder().Format(nav.Route{Kind: v.Kind(), ID: id, Mode: mode})
	if _, err := s.Navigate(ctx, path); err != nil {
		return nil, err
	}
	if v.State().NotFound {
		return nil, fmt.Errorf("%w: %s %s", types.ErrNotFound, v.Kind(), id)
	}
	rec, ok := v.Find(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", types.ErrNotFound, v.Kind(), id)
	}
	return rec, nil
}

func newShowCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show <kind> <id>",
		Short: "Show one record",
		Args:  cobra.ExactArgs(2),
		RunE: recordCommand(flags, func(ctx context.Context, cmd *cobra.Command, s *session, args []string) error {
			v, err := s.view(args[0])
			if err != nil {
				return err
			}
			rec, err := openRecord(ctx, s, v, args[1], form.Viewing)
			if err != nil {
				return err
			}
			if flags.jsonMode {
				return printJSON(cmd.OutOrStdout(), rec)
			}
			return printRecord(cmd.OutOrStdout(), v.Schema(), rec)
		}),
	}
}

func newCreateCmd(flags *rootFlags) *cobra.Command {
	var sets []string
	cmd := &cobra.Command{
		Use:   "create <kind> --set field=value...",
		Short: "Create a record",
		Example: `  assetdesk create facilities --set name=North --set "address=1 Mill Road"
  assetdesk create machines --set name=Lathe --set machine_type=<id> --set status=<id>`,
		Args: cobra.ExactArgs(1),
		RunE: recordCommand(flags, func(ctx context.Context, cmd *cobra.Command, s *session, args []string) error {
			v, err := s.view(args[0])
			if err != nil {
				return err
			}
			s.loadLookups(ctx, v.Schema())
			if _, err := s.Navigate(ctx, s.Binder().Format(nav.Route{Kind: v.Kind(), Mode: form.Creating})); err != nil {
				return err
			}
			if err := applySets(v, sets); err != nil {
				return err
			}
			id, err := save(ctx, cmd, v)
			if err != nil {
				return err
			}
			return printSaved(cmd, flags, v, "Created", id)
		}),
	}
	cmd.Flags().StringArrayVar(&sets, "set", nil, "field=value assignment (repeatable; refs take comma-separated ids)")
	return cmd
}

func newEditCmd(flags *rootFlags) *cobra.Command {
	var sets []string
	cmd := &cobra.Command{
		Use:   "edit <kind> <id> --set field=value...",
		Short: "Edit a record",
		Args:  cobra.ExactArgs(2),
		RunE: recordCommand(flags, func(ctx context.Context, cmd *cobra.Command, s *session, args []string) error {
			v, err := s.view(args[0])
			if err != nil {
				return err
			}
			if len(sets) == 0 {
				return fmt.Errorf("%w: edit needs at least one --set", errUsage)
			}
			s.loadLookups(ctx, v.Schema())
			if _, err := openRecord(ctx, s, v, args[1], form.Editing); err != nil {
				return err
			}
			if err := applySets(v, sets); err != nil {
				return err
			}
			id, err := save(ctx, cmd, v)
			if err != nil {
				return err
			}
			return printSaved(cmd, flags, v, "Updated", id)
		}),
	}
	cmd.Flags().StringArrayVar(&sets, "set", nil, "field=value assignment (repeatable)")
	return cmd
}

func printSaved(cmd *cobra.Command, flags *rootFlags, v console.View, verb, id string) error {
	if flags.jsonMode {
		rec, ok := v.Find(id)
		if !ok {
			return fmt.Errorf("%w: %s %s", types.ErrNotFound, v.Kind(), id)
		}
		return printJSON(cmd.OutOrStdout(), rec)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %s\n", verb, strings.ToLower(v.Schema().Label), id)
	return nil
}

func newDeleteCmd(flags *rootFlags) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <kind> <id>",
		Short: "Delete a record",
		Args:  cobra.ExactArgs(2),
		RunE: recordCommand(flags, func(ctx context.Context, cmd *cobra.Command, s *session, args []string) error {
			v, err := s.view(args[0])
			if err != nil {
				return err
			}
			rec, err := openRecord(ctx, s, v, args[1], form.Viewing)
			if err != nil {
				return err
			}
			if err := v.RequestDelete(); err != nil {
				return err
			}
			if !yes && !confirm(cmd, fmt.Sprintf("Delete %s %q?", strings.ToLower(v.Schema().Label), displayName(rec))) {
				v.DismissDelete()
				fmt.Fprintln(cmd.OutOrStdout(), "Cancelled")
				return nil
			}
			if err := v.ConfirmDelete(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s: %s\n", strings.ToLower(v.Schema().Label), args[1])
			return nil
		}),
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "delete without asking")
	return cmd
}

// confirm asks question on stdout and reads y/yes from stdin.
func confirm(cmd *cobra.Command, question string) bool {
	fmt.Fprintf(cmd.OutOrStdout(), "%s [y/N] ", question)
	line, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func newOpenCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "open <path>",
		Short: "Resolve a console path and print the resulting state",
		Example: `  assetdesk open /machines
  assetdesk open /tasks/<id>/edit`,
		Args: cobra.ExactArgs(1),
		RunE: recordCommand(flags, func(ctx context.Context, cmd *cobra.Command, s *session, args []string) error {
			route, err := s.Binder().Parse(args[0])
			if err != nil {
				return err
			}
			v, err := s.view(route.Kind)
			if err != nil {
				return err
			}
			if _, err := s.Navigate(ctx, args[0]); err != nil {
				return err
			}
			st := v.State()
			out := cmd.OutOrStdout()
			if flags.jsonMode {
				return printJSON(out, map[string]any{
					"path":      s.Binder().Current(),
					"kind":      st.Kind,
					"mode":      st.Mode.String(),
					"id":        st.ID,
					"not_found": st.NotFound,
					"draft":     v.Draft(),
				})
			}
			fmt.Fprintf(out, "Path: %s\nKind: %s\nMode: %s\n", s.Binder().Current(), st.Kind, st.Mode)
			switch {
			case st.NotFound:
				fmt.Fprintf(out, "Record %s was not found\n", st.ID)
			case st.Mode == form.Idle:
				if err := v.Refresh(ctx); err != nil {
					return err
				}
				fmt.Fprintf(out, "Records: %d\n", len(v.Records()))
			case st.Mode == form.Viewing:
				if rec, ok := v.Find(st.ID); ok {
					return printRecord(out, v.Schema(), rec)
				}
			default:
				for _, f := range v.Schema().Writable() {
					fmt.Fprintf(out, "%s: %s\n", f.Label, formatDraft(v.Draft()[f.Name]))
				}
			}
			return nil
		}),
	}
}
