package cli

import (
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/ralt/repoindex/internal/server"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewServeCmd creates the serve command
func NewServeCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the configured repositories over HTTP",
		Long: `Serves every configured repository. Packages are uploaded with PUT or
POST to /<repo>/<file>, removed with DELETE /<repo>/<path> and downloaded
with GET /<repo>/<path>. Prometheus metrics are exposed on /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			a, err := newApp(ctx, cmd, reg)
			if err != nil {
				return err
			}
			defer a.Close()

			if listen == "" {
				listen = a.config.Listen
			}
			logrus.WithField("repositories", a.registry.Names()).Info("Repositories loaded")

			srv := server.New(a.registry, a.coordinator, a.storage, reg)
			return srv.ListenAndServe(ctx, listen)
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Address to listen on (overrides the configuration)")

	return cmd
}
