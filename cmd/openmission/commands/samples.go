package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/openmission/openmission/pkg/transports/sshgw"
)

func newSamplesCommand() *cobra.Command {
	var (
		gatewayHost       string
		gatewayUser       string
		gatewayKey        string
		gatewayKnownHosts string
		gatewayInsecure   bool
		outDir            string
		fetch             bool
	)

	cmd := &cobra.Command{
		Use:   "samples <instrument-id>",
		Short: "List or fetch archived instrument samples",
		Long: `List or fetch sample files the gateway has archived for an
instrument. Samples are retrieved over SFTP from the gateway's
sample directory.`,
		Example: `  # List samples for an instrument
  openmission samples SBE37_SIM_02 --gateway shore01.example.org --gateway-user ops

  # Fetch everything into ./samples
  openmission samples SBE37_SIM_02 --gateway shore01.example.org --gateway-user ops --fetch --out ./samples`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			instrumentID := args[0]

			logger, err := newCommandLogger()
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}

			gwConfig := sshgw.DefaultConfig(gatewayHost, gatewayUser)
			if gatewayKey != "" {
				gwConfig.PrivateKeyPath = gatewayKey
			}
			if gatewayKnownHosts != "" {
				gwConfig.KnownHostsPath = gatewayKnownHosts
			}
			if gatewayInsecure {
				gwConfig.StrictHostKeyChecking = false
			}

			gateway, err := sshgw.NewClient(gwConfig, logger)
			if err != nil {
				return err
			}
			if err := gateway.Connect(ctx); err != nil {
				return err
			}
			defer gateway.Close()

			if fetch {
				paths, err := gateway.FetchAllSamples(ctx, instrumentID, outDir)
				if err != nil {
					return err
				}
				for _, path := range paths {
					fmt.Println(path)
				}
				logger.Infof("fetched %d sample(s) for %s", len(paths), instrumentID)
				return nil
			}

			samples, err := gateway.ListSamples(ctx, instrumentID)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(samples)
			}

			if len(samples) == 0 {
				fmt.Printf("no samples archived for %s\n", instrumentID)
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSIZE\tMODIFIED")
			for _, sample := range samples {
				fmt.Fprintf(w, "%s\t%d\t%s\n",
					sample.Name, sample.Size, sample.ModTime.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&gatewayHost, "gateway", "", "instrument gateway hostname")
	cmd.Flags().StringVar(&gatewayUser, "gateway-user", "", "instrument gateway SSH user")
	cmd.Flags().StringVar(&gatewayKey, "gateway-key", "", "private key for gateway authentication")
	cmd.Flags().StringVar(&gatewayKnownHosts, "gateway-known-hosts", "", "known_hosts file for gateway host verification")
	cmd.Flags().BoolVar(&gatewayInsecure, "gateway-insecure", false, "skip gateway host key verification")
	cmd.Flags().StringVar(&outDir, "out", "samples", "local directory for fetched samples")
	cmd.Flags().BoolVar(&fetch, "fetch", false, "download samples instead of listing them")
	_ = cmd.MarkFlagRequired("gateway")
	_ = cmd.MarkFlagRequired("gateway-user")

	return cmd
}
