package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"
)

const appName = "sensor-data-aggregation"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   appName,
		Short: "Aggregates air-quality sensor data from several providers",
		Long: `sensor-data-aggregation queries air-quality providers over arbitrary
time ranges and harvests sources that only expose recent data.

Commands:
  serve     Run the HTTP API and the collection scheduler (default)
  collect   Run one collection for a scheduled source and print the run
  sources   Print every source and whether it is configured`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}

	root.AddCommand(
		newServeCmd(),
		newCollectCmd(),
		newSourcesCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Printf("%s: %v", appName, err)
		os.Exit(1)
	}
}
