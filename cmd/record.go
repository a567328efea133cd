package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/audiolibrelab/audiomemo/internal/service"

	"github.com/spf13/cobra"
)

var recordDuration time.Duration

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record the memo",
	Long: `Record the memo from the configured source, replacing the previous one.
Recording stops after --duration, or on Ctrl+C when no duration is given.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		observer, finished := completionWaiter(service.OperationRecord)

		controller, setupErr, err := openController(observer)
		if err != nil {
			return err
		}
		defer controller.Close()

		if setupErr != nil {
			return setupErr
		}

		if err := controller.Record(context.Background()); err != nil {
			return fmt.Errorf("failed to start recording: %w", err)
		}

		// Handle interruption
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		if recordDuration > 0 {
			slog.Info("Recording... Press Ctrl+C to stop early", "duration", recordDuration)
			select {
			case <-sigChan:
			case <-time.After(recordDuration):
			case completion := <-finished:
				return recordResult(controller.Path(), completion)
			}
		} else {
			slog.Info("Recording... Press Ctrl+C to stop")
			select {
			case <-sigChan:
			case completion := <-finished:
				return recordResult(controller.Path(), completion)
			}
		}

		slog.Info("Stopping recording...")
		controller.Stop()

		select {
		case completion := <-finished:
			return recordResult(controller.Path(), completion)
		case <-time.After(cfg.Audio.StopTimeout):
			return fmt.Errorf("recording did not finish within %s", cfg.Audio.StopTimeout)
		}
	},
}

func recordResult(path string, completion service.Completion) error {
	if !completion.Success {
		return fmt.Errorf("failed to record the audio: %w", completionErr(completion))
	}
	fmt.Printf("✅ %s\n", noticeRecordFinished)
	fmt.Printf("📁 %s\n", path)
	return nil
}

func init() {
	recordCmd.Flags().DurationVarP(&recordDuration, "duration", "d", 0, "stop after this long (e.g. 30s); 0 records until Ctrl+C")
}
