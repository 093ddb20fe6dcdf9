package main

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/codefionn/tilewall/internal/consts"
	"github.com/codefionn/tilewall/internal/discovery"
)

var (
	discoverTarget string
	discoverWait   time.Duration
)

// discoverCmd broadcasts a discovery request and lists the servers that answer.
var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find wall servers on the local network",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), discoverWait+consts.Timeout1Second)
		defer cancel()

		servers, err := discovery.Probe(ctx, discoverTarget, "", "", discoverWait)
		if err != nil {
			return err
		}
		if len(servers) == 0 {
			fmt.Println(color.YellowString("No servers answered"))
			return nil
		}

		fmt.Print(color.CyanString("Servers:\n"))
		for _, addr := range servers {
			fmt.Printf("  %s\n", addr)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(discoverCmd)
	discoverCmd.Flags().StringVar(&discoverTarget, "target", net.JoinHostPort("255.255.255.255", strconv.Itoa(consts.DefaultDiscoveryPort)), "Address the request is sent to")
	discoverCmd.Flags().DurationVar(&discoverWait, "wait", 2*time.Second, "How long to collect answers")
}
