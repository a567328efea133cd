package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/audiolibrelab/audiomemo/internal/service"

	"github.com/spf13/cobra"
)

const (
	noticeRecordFinished = "Finish recording: Successfully recorded the audio."
	noticePlayFinished   = "Finish playing: Finish playing the recording"
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Interactive recorder with record, stop and play buttons",
	Long: `Start the interactive console. Type a command and press Enter:

  r  record, or pause / resume while recording
  s  stop recording or playback
  p  play the memo
  q  quit`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		out := cmd.OutOrStdout()
		view := newConsoleView(out)

		controller, setupErr, err := openController(view)
		if err != nil {
			return err
		}
		defer controller.Close()

		if setupErr != nil {
			view.notify(errorNotice(setupErr))
		}
		fmt.Fprintf(out, "🎙️  Memo: %s\n", displayPath(controller.Path()))
		fmt.Fprintln(out, "Commands: r=record/pause, s=stop, p=play, q=quit")
		view.StateChanged(controller.State())

		return runConsole(ctx, cmd.InOrStdin(), controller, view)
	},
}

// session is the part of the controller the console drives
type session interface {
	Record(ctx context.Context) error
	Stop()
	Play(ctx context.Context) error
}

// runConsole dispatches one command per input line until quit, EOF or ctx is done
func runConsole(ctx context.Context, in io.Reader, s session, view *consoleView) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			s.Stop()
			return nil
		case line, ok := <-lines:
			if !ok {
				s.Stop()
				return nil
			}
			if quit := dispatch(ctx, s, view, line); quit {
				s.Stop()
				return nil
			}
		}
	}
}

func dispatch(ctx context.Context, s session, view *consoleView, line string) (quit bool) {
	var err error

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "":
		return false
	case "r", "record":
		err = s.Record(ctx)
	case "s", "stop":
		s.Stop()
	case "p", "play":
		err = s.Play(ctx)
	case "q", "quit", "exit":
		return true
	default:
		view.printf("Unknown command %q (r=record/pause, s=stop, p=play, q=quit)\n", line)
		return false
	}

	if err != nil {
		view.notify(errorNotice(err))
	}
	return false
}

// buttons is what the three console buttons look like in one state
type buttons struct {
	RecordIcon  string
	StopEnabled bool
	PlayEnabled bool
	PlayIcon    string
}

func buttonsFor(state service.State) buttons {
	b := buttons{RecordIcon: "record", PlayIcon: "play"}

	switch state {
	case service.StateIdle:
		b.PlayEnabled = true
	case service.StateRecording:
		b.RecordIcon = "recording"
		b.StopEnabled = true
	case service.StatePaused:
		b.RecordIcon = "pause"
		b.StopEnabled = true
	case service.StatePlaying:
		b.StopEnabled = true
		b.PlayIcon = "playing"
	}
	return b
}

func (b buttons) String() string {
	recordGlyph := map[string]string{"record": "⏺", "recording": "🔴", "pause": "⏸"}[b.RecordIcon]
	playGlyph := map[string]string{"play": "▶", "playing": "🔊"}[b.PlayIcon]

	return fmt.Sprintf("[%s %s] [%s] [%s]",
		recordGlyph, b.RecordIcon,
		button("⏹ stop", b.StopEnabled),
		button(playGlyph+" "+b.PlayIcon, b.PlayEnabled))
}

func button(label string, enabled bool) string {
	if enabled {
		return label
	}
	return label + " (disabled)"
}

// consoleView renders controller notifications. It is called from the
// controller goroutine and from the input loop.
type consoleView struct {
	mutex sync.Mutex
	out   io.Writer
}

func newConsoleView(out io.Writer) *consoleView {
	return &consoleView{out: out}
}

func (v *consoleView) StateChanged(state service.State) {
	v.printf("%-9s %s\n", state, buttonsFor(state))
}

func (v *consoleView) Completed(completion service.Completion) {
	switch {
	case completion.Operation == service.OperationRecord && completion.Success:
		v.notify(noticeRecordFinished)
	case completion.Operation == service.OperationRecord:
		v.notify(errorNotice(fmt.Errorf("failed to record the audio: %w", completionErr(completion))))
	case completion.Success:
		v.notify(noticePlayFinished)
	default:
		v.notify(errorNotice(fmt.Errorf("failed to play the recording: %w", completionErr(completion))))
	}
}

func (v *consoleView) notify(notice string) {
	v.printf("🔔 %s\n", notice)
}

func (v *consoleView) printf(format string, args ...any) {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	fmt.Fprintf(v.out, format, args...)
}

func errorNotice(err error) string {
	return "Error: " + err.Error()
}

func completionErr(completion service.Completion) error {
	if completion.Err != nil {
		return completion.Err
	}
	return fmt.Errorf("%s did not complete", completion.Operation)
}

func displayPath(path string) string {
	if path == "" {
		return "(storage unavailable)"
	}
	return path
}
