package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"testimpact/internal/httpapi"
)

var flagServeAddr string

// serveCmd runs the optional HTTP façade instead of a one-shot verb;
// every request opens its own Handle against the solutionRoot it
// carries in its body rather than --solution, so one running server
// can serve multiple solutions.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP façade over the library surface",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagServeAddr, "addr", ":8761", "Address to listen on")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "listening on %s\n", flagServeAddr)
	return httpapi.Serve(cmdContext(cmd), flagServeAddr, cfg)
}
