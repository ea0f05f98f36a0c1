package devices

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tphakala/audiosrc/internal/audiocore/sources"
	"github.com/tphakala/audiosrc/internal/audiocore/sources/malgo"
	"github.com/tphakala/audiosrc/internal/conf"
)

// Command creates a command listing capture endpoints.
func Command(settings *conf.Settings) *cobra.Command {
	var loopback bool

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List audio capture devices",
		Long:  "List capture endpoints, or render endpoints usable for loopback capture.",
		RunE: func(cmd *cobra.Command, args []string) error {
			endpoints, err := sources.ListAvailableDevices(loopback)
			if err != nil {
				return err
			}
			return printEndpoints(cmd.OutOrStdout(), endpoints, settings.Capture.Device)
		},
	}

	cmd.Flags().BoolVar(&loopback, "loopback", settings.Capture.Loopback, "List render endpoints for loopback capture")
	return cmd
}

func printEndpoints(w io.Writer, endpoints []malgo.Endpoint, configured string) error {
	if len(endpoints) == 0 {
		_, err := fmt.Fprintln(w, "No audio devices found")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tDEFAULT\tSELECTED\tNAME\tID")

	selected, selErr := malgo.SelectEndpoint(endpoints, configured)
	for _, ep := range endpoints {
		def, sel := "", ""
		if ep.Default {
			def = "*"
		}
		if selErr == nil && ep.ID == selected.ID {
			sel = "*"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", ep.Index, def, sel, ep.Name, ep.ID)
	}
	return tw.Flush()
}
