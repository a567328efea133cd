package cmd

import (
	"fmt"
	"log/slog"
	"runtime"

	"github.com/audiolibrelab/audiomemo/internal/audio"

	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List available audio sources and sinks",
	Long:  `List the PulseAudio capture sources and playback sinks that can be set as audio.source and audio.sink.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("🎵 Audio Devices (%s)\n", runtime.GOOS)
		fmt.Printf("═══════════════════════════════════════\n\n")

		fmt.Printf("Backends: %v\n\n", audio.GetAvailableBackends())

		sources, sinks, err := audio.ListEndpoints()
		if len(sources) == 0 && len(sinks) == 0 && err != nil {
			return fmt.Errorf("failed to list audio devices: %w", err)
		}
		if err != nil {
			slog.Warn("Device listing incomplete", "error", err)
		}

		printEndpoints("🎙️  SOURCES", sources)
		printEndpoints("🔈 SINKS", sinks)

		fmt.Printf("💡 Usage:\n")
		fmt.Printf("  • Configure audio.source / audio.sink with the ID shown above\n")
		fmt.Printf("  • Leave empty to use the server default (marked with *)\n\n")

		return nil
	},
}

func printEndpoints(title string, endpoints []audio.Endpoint) {
	fmt.Printf("%s (%d found):\n", title, len(endpoints))
	for i, e := range endpoints {
		marker := " "
		if e.Default {
			marker = "*"
		}
		fmt.Printf("  %d.%s %s\n     %s\n", i+1, marker, e.ID, e.Description)
	}
	fmt.Println()
}
