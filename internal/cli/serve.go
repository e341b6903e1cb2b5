package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"toolvm/internal/server"
)

var serveAddr string

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "127.0.0.1:7317", "listen address for the API server")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openManager()
		if err != nil {
			return err
		}
		defer m.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv := &server.Server{Addr: serveAddr, Manager: m}
		return srv.Start(ctx)
	},
}
