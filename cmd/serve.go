package cmd

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/echofix/echofix/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP trigger API",
	Long: `Start the HTTP API that external schedulers and workflow engines call
to drive the pipeline. By default it listens on port 8080. Use --port
to change it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port := viper.GetInt("port")

		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}

		srv := api.NewServer(a.store, a.ingester, a.refresher, a.grouper,
			a.synthesizer, a.publisher, a.gate, a.runner)

		addr := fmt.Sprintf(":%d", port)
		slog.Info("serving trigger API", "addr", addr)
		return http.ListenAndServe(addr, srv.Router())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8080, "port to listen on")
	_ = viper.BindPFlag("port", serveCmd.Flags().Lookup("port"))
}
