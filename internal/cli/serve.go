package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/assetdesk/internal/devserver"
	"github.com/mesh-intelligence/assetdesk/internal/schema"
	"github.com/mesh-intelligence/assetdesk/internal/sqlite"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local development backend",
		Long: `Serve the REST API the console talks to from a local data directory.
Records are kept as one JSONL file per kind and indexed in SQLite. A new
data directory is seeded with lookup categories, an Administrator role and
the admin@example.com account.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			srvCfg, err := cfg.Server(flags.dataDir)
			if err != nil {
				return err
			}
			if listen != "" {
				srvCfg.Listen = listen
			}
			if err := srvCfg.Validate(); err != nil {
				return fmt.Errorf("invalid server config: %w", err)
			}

			reg, err := schema.Default()
			if err != nil {
				return err
			}
			backend := sqlite.NewBackend(reg)
			if err := backend.Attach(srvCfg.DataDir); err != nil {
				return fmt.Errorf("attach storage: %w", err)
			}
			defer func() {
				if err := backend.Detach(); err != nil {
					glog.Errorf("detach storage: %v", err)
				}
			}()

			srv, err := devserver.New(srvCfg, reg, backend)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Fprintf(cmd.OutOrStdout(), "assetdesk v%s serving http://%s/api (data: %s)\n", Version, srvCfg.Listen, srvCfg.DataDir)
			return srv.ListenAndServe(ctx)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides listen)")
	return cmd
}
