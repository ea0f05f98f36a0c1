package capture

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/audiosrc/internal/capture"
	"github.com/tphakala/audiosrc/internal/conf"
)

// Command creates a new command for capturing audio.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Capture audio from a device",
		Long:  "Open the configured capture device and pull clock-slaved buffers, optionally writing them to a WAV file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return capture.Run(cmd.Context(), settings)
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// setupFlags configures flags specific to the capture command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	c := &settings.Capture
	cmd.Flags().StringVar(&c.Source, "source", viper.GetString("capture.source"), "Capture source (\"malgo\" or \"synthetic\")")
	cmd.Flags().StringVar(&c.Device, "device", viper.GetString("capture.device"), "Device ID or name, empty follows the default device")
	cmd.Flags().StringVar(&c.Role, "role", viper.GetString("capture.role"), "Default device role (console, multimedia, communications)")
	cmd.Flags().BoolVar(&c.Loopback, "loopback", viper.GetBool("capture.loopback"), "Capture what the render endpoint plays")
	cmd.Flags().BoolVar(&c.Exclusive, "exclusive", viper.GetBool("capture.exclusive"), "Request exclusive device access")
	cmd.Flags().BoolVar(&c.LowLatency, "low-latency", viper.GetBool("capture.low_latency"), "Prefer the smallest device period")
	cmd.Flags().StringVar(&c.SlaveMode, "slave-mode", viper.GetString("capture.slave_mode"), "Clock slaving mode (none, retimestamp, skew, resample)")
	cmd.Flags().DurationVar(&c.DriftThreshold, "drift-threshold", viper.GetDuration("capture.drift_threshold"), "Drift tolerance in resample mode")
	cmd.Flags().IntVar(&c.SampleRate, "rate", viper.GetInt("capture.sample_rate"), "Sample rate in Hz")
	cmd.Flags().IntVar(&c.Channels, "channels", viper.GetInt("capture.channels"), "Channel count")
	cmd.Flags().IntVar(&c.BitDepth, "bit-depth", viper.GetInt("capture.bit_depth"), "Sample bit depth (16, 24, 32)")
	cmd.Flags().StringVarP(&settings.Output.Path, "output", "o", viper.GetString("output.path"), "WAV file to write, empty discards audio")
	cmd.Flags().DurationVar(&settings.Output.Duration, "duration", viper.GetDuration("output.duration"), "Stop after this long, 0 runs until interrupted")
	cmd.Flags().BoolVar(&settings.Telemetry.Enabled, "telemetry", viper.GetBool("telemetry.enabled"), "Enable Prometheus telemetry endpoint")
	cmd.Flags().StringVar(&settings.Telemetry.Listen, "listen", viper.GetString("telemetry.listen"), "Listen address and port of telemetry endpoint")

	// Bind flags to the viper settings
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}

	return nil
}
