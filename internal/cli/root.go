// Package cli implements the assetdesk command-line interface. Record
// commands drive the console the way the browser would: they navigate to a
// path, edit the form session and submit it.
package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/golang/glog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/mesh-intelligence/assetdesk/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	configDir string
	dataDir   string
	apiURL    string
	jsonMode  bool
}

// NewRootCmd creates the top-level "assetdesk" command with global flags
// and all subcommands registered.
func NewRootCmd() *cobra.Command {
	var flags rootFlags
	root := &cobra.Command{
		Use:   "assetdesk",
		Short: "Manage machines, tasks and reports of an asset-management backend",
		Long: `assetdesk is a console for an asset-management REST backend. It lists,
shows, creates, edits and deletes machines, tasks, reports, users, roles,
facilities and their lookup categories, and can run a local development
backend with "assetdesk serve".`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.configDir, "config-dir", "", "configuration directory (default: platform config dir)")
	root.PersistentFlags().StringVar(&flags.dataDir, "data-dir", "", "dev server data directory (default: ./.assetdesk)")
	root.PersistentFlags().StringVar(&flags.apiURL, "api-url", "", "backend API URL (overrides api_url)")
	root.PersistentFlags().BoolVar(&flags.jsonMode, "json", false, "output in JSON format")
	root.PersistentFlags().AddFlagSet(logFlags())

	root.AddCommand(newVersionCmd())
	root.AddCommand(newLoginCmd(&flags))
	root.AddCommand(newLogoutCmd(&flags))
	root.AddCommand(newWhoamiCmd(&flags))
	root.AddCommand(newKindsCmd(&flags))
	root.AddCommand(newListCmd(&flags))
	root.AddCommand(newShowCmd(&flags))
	root.AddCommand(newCreateCmd(&flags))
	root.AddCommand(newEditCmd(&flags))
	root.AddCommand(newDeleteCmd(&flags))
	root.AddCommand(newOpenCmd(&flags))
	root.AddCommand(newServeCmd(&flags))

	return root
}

// logFlags exposes glog's flags (-v, -logtostderr, ...) on the command line.
func logFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("glog", pflag.ContinueOnError)
	flag.CommandLine.VisitAll(func(f *flag.Flag) {
		if strings.HasPrefix(f.Name, "test.") {
			return
		}
		fs.AddGoFlag(f)
	})
	return fs
}

// Execute runs the root command and exits with the appropriate code.
func Execute() {
	code := run(NewRootCmd(), os.Args[1:], os.Stderr)
	glog.Flush()
	os.Exit(code)
}

func run(root *cobra.Command, args []string, stderr io.Writer) int {
	root.SetArgs(args)
	err := root.Execute()
	if err == nil {
		return exitSuccess
	}
	var shown *reportedError
	if !errors.As(err, &shown) {
		fmt.Fprintln(stderr, "assetdesk:", err)
	}
	return exitCode(err)
}

// reportedError is an error whose details were already printed.
type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

// userErrors are failures caused by the input or the account rather than
// the system.
var userErrors = []error{
	types.ErrValidation,
	types.ErrRejected,
	types.ErrUnauthorized,
	types.ErrForbidden,
	types.ErrNotFound,
	types.ErrUnknownKind,
	types.ErrUnknownField,
	types.ErrInvalidRoute,
	types.ErrInvalidID,
	errUsage,
}

var errUsage = errors.New("usage")

func exitCode(err error) int {
	for _, target := range userErrors {
		if errors.Is(err, target) {
			return exitUserError
		}
	}
	if strings.HasPrefix(err.Error(), "unknown command") ||
		strings.HasPrefix(err.Error(), "unknown flag") ||
		strings.Contains(err.Error(), "arg(s)") {
		return exitUserError
	}
	return exitSysError
}
