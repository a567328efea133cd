package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/audiolibrelab/audiomemo/internal/service"

	"github.com/spf13/cobra"
)

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Play the memo",
	Long:  `Play the recorded memo through the configured sink until it ends or Ctrl+C is pressed.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		observer, finished := completionWaiter(service.OperationPlay)

		controller, setupErr, err := openController(observer)
		if err != nil {
			return err
		}
		defer controller.Close()

		// Playback only needs the memo file, not a prepared capture device
		if setupErr != nil && controller.Path() == "" {
			return setupErr
		}

		fmt.Printf("▶️  Playing %s\n", controller.Path())
		if err := controller.Play(context.Background()); err != nil {
			return fmt.Errorf("playback failed: %w", err)
		}

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		select {
		case <-sigChan:
			slog.Info("Stopping playback...")
			controller.Stop()
			return nil
		case completion := <-finished:
			if !completion.Success {
				return fmt.Errorf("failed to play the recording: %w", completionErr(completion))
			}
			fmt.Printf("✅ %s\n", noticePlayFinished)
			return nil
		}
	},
}
