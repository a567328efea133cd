package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/audiolibrelab/audiomemo/internal/audio"
	"github.com/audiolibrelab/audiomemo/internal/config"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the memo file, its size and the recording format",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		dir, err := cfg.Storage.ResolveDirectory()
		if err != nil {
			return fmt.Errorf("failed to resolve storage directory: %w", err)
		}
		path := filepath.Join(dir, config.MemoFileName)

		fmt.Fprintf(out, "=== MEMO ===\n")
		fmt.Fprintf(out, "file: %s\n", path)

		info, err := os.Stat(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			fmt.Fprintf(out, "status: not recorded yet\n")
		case err != nil:
			return fmt.Errorf("failed to stat memo: %w", err)
		default:
			fmt.Fprintf(out, "size: %s\n", formatBytes(info.Size()))
			fmt.Fprintf(out, "modified: %s\n", info.ModTime().Format("2006-01-02 15:04:05"))
		}

		fmt.Fprintf(out, "\n=== FORMAT ===\n")
		fmt.Fprintf(out, "codec: %s\n", audio.MemoFormat.Codec)
		fmt.Fprintf(out, "container: %s\n", audio.MemoFormat.Container)
		fmt.Fprintf(out, "sample_rate: %d\n", audio.MemoFormat.SampleRate)
		fmt.Fprintf(out, "channels: %d\n", audio.MemoFormat.Channels)
		fmt.Fprintf(out, "quality: %s (%s)\n", audio.MemoFormat.Quality, audio.MemoFormat.Quality.Bitrate())

		fmt.Fprintf(out, "\n=== AUDIO ===\n")
		fmt.Fprintf(out, "backend: %s\n", cfg.Audio.Backend)
		fmt.Fprintf(out, "source: %s\n", orDefault(cfg.Audio.Source))
		fmt.Fprintf(out, "sink: %s\n", orDefault(cfg.Audio.Sink))

		return nil
	},
}

func orDefault(name string) string {
	if name == "" {
		return "(default)"
	}
	return name
}

// formatBytes formats bytes in human readable format
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
