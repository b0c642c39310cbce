package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/assetdesk/internal/console"
	"github.com/mesh-intelligence/assetdesk/internal/schema"
	"github.com/mesh-intelligence/assetdesk/pkg/types"
)

// session is a console opened from the loaded settings.
type session struct {
	*console.Console
	settings *settings
}

// openConsole loads the configuration and attaches a console to the
// backend. The caller must Close it.
func openConsole(flags *rootFlags) (*session, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	s := &session{settings: cfg}
	c, err := console.New(cfg.Console(),
		console.WithLoginHandler(func() { glog.V(1).Infof("session ended; login required") }),
		console.WithNoticeHandler(func(kind string, err error) {
			glog.Warningf("%s: %v", kind, err)
		}),
	)
	if err != nil {
		return nil, err
	}
	s.Console = c
	return s, nil
}

// signIn restores the saved session. It fails with types.ErrUnauthorized
// when there is none.
func (s *session) signIn(ctx context.Context) (*types.Account, error) {
	acct, err := s.Authenticate(ctx)
	if errors.Is(err, types.ErrUnauthorized) {
		return nil, fmt.Errorf("%w: run \"assetdesk login --email <address>\"", err)
	}
	return acct, err
}

// view resolves kind to its panel.
func (s *session) view(kind string) (console.View, error) {
	v, err := s.View(kind)
	if err != nil {
		return nil, fmt.Errorf("%w %q (valid: %s)", types.ErrUnknownKind, kind, strings.Join(s.Kinds(), ", "))
	}
	return v, nil
}

// loadLookups refreshes the collections that the kind's known-id rules
// check against. A lookup that cannot be loaded only disables its rule;
// the backend still validates.
func (s *session) loadLookups(ctx context.Context, sch *schema.Schema) {
	seen := map[string]bool{}
	var kinds []string
	for _, f := range sch.Fields {
		if f.Known && f.Ref != "" && !seen[f.Ref] {
			seen[f.Ref] = true
			kinds = append(kinds, f.Ref)
		}
	}
	if len(kinds) == 0 {
		return
	}
	if err := s.Refresh(ctx, kinds...); err != nil {
		glog.Warningf("loading lookups for %s: %v", sch.Kind, err)
	}
}

// applySets parses field=value assignments and sets them on the draft.
func applySets(v console.View, sets []string) error {
	sch := v.Schema()
	for _, set := range sets {
		field, text, ok := strings.Cut(set, "=")
		if !ok || field == "" {
			return fmt.Errorf("%w: invalid --set %q (expected field=value)", errUsage, set)
		}
		value, err := sch.Parse(field, text)
		if err != nil {
			return err
		}
		if err := v.Set(field, value); err != nil {
			return err
		}
	}
	return nil
}

// save submits the draft. Field errors are printed one per line as
// "field: message".
func save(ctx context.Context, cmd *cobra.Command, v console.View) (string, error) {
	id, err := v.Save(ctx)
	if err == nil {
		return id, nil
	}
	if errs := v.Errors(); len(errs) > 0 {
		printValidation(cmd.ErrOrStderr(), errs)
		if serr := v.SubmitError(); serr != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), serr)
		}
		return "", &reportedError{err: err}
	}
	return "", err
}

func printValidation(w io.Writer, errs types.ValidationErrors) {
	fields := make([]string, 0, len(errs))
	for f := range errs {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		fmt.Fprintf(w, "%s: %s\n", f, errs[f])
	}
}

// displayName derives a record's label the same way references are named.
func displayName(r types.Record) string {
	data, err := json.Marshal(r)
	if err != nil {
		return ""
	}
	var ref types.Ref
	if err := json.Unmarshal(data, &ref); err != nil {
		return ""
	}
	return ref.Name
}

// formatValue renders a decoded JSON value for terminal output. References
// print as their name.
func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "-"
	case string:
		if x == "" {
			return "-"
		}
		return x
	case map[string]any:
		if name, _ := x["name"].(string); name != "" {
			return name
		}
		return formatValue(x["id"])
	case []any:
		if len(x) == 0 {
			return "-"
		}
		parts := make([]string, len(x))
		for i, item := range x {
			parts[i] = formatValue(item)
		}
		return strings.Join(parts, ", ")
	case float64:
		return fmt.Sprintf("%g", x)
	default:
		return fmt.Sprint(x)
	}
}

// formatDraft renders a draft value for terminal output.
func formatDraft(v any) string {
	switch x := v.(type) {
	case time.Time:
		if x.IsZero() {
			return "-"
		}
		return x.Format(time.RFC3339)
	case []string:
		if len(x) == 0 {
			return "-"
		}
		return strings.Join(x, ", ")
	default:
		return formatValue(v)
	}
}

// printRecord writes r in schema order as "Label: value" lines.
func printRecord(w io.Writer, sch *schema.Schema, r types.Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	fmt.Fprintf(w, "ID: %s\n", r.RecordID())
	for _, f := range sch.Fields {
		fmt.Fprintf(w, "%s: %s\n", f.Label, formatValue(fields[f.Name]))
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	fmt.Fprintln(w, string(out))
	return nil
}
