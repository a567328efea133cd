package cmd

import (
	"fmt"
	"log/slog"

	"github.com/audiolibrelab/audiomemo/internal/audio"
	"github.com/audiolibrelab/audiomemo/internal/service"
)

// openController builds the configured device and a controller on top of it.
// Only a device construction failure is returned as err; a setup failure of
// the controller comes back as setupErr with a controller in degraded mode.
func openController(observer service.Observer) (controller *service.Controller, setupErr error, err error) {
	device, err := audio.NewDevice(cfg.Audio)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create audio device: %w", err)
	}
	slog.Debug("Audio device created", "backend", cfg.Audio.Backend)

	controller, setupErr = service.New(device, cfg.Storage, observer)
	return controller, setupErr, nil
}

// completionWaiter forwards completions of one operation to a channel
func completionWaiter(op service.Operation) (service.Observer, <-chan service.Completion) {
	done := make(chan service.Completion, 1)
	observer := service.ObserverFuncs{
		OnStateChanged: func(state service.State) {
			slog.Debug("State changed", "state", state.String())
		},
		OnCompleted: func(completion service.Completion) {
			if completion.Operation != op {
				return
			}
			select {
			case done <- completion:
			default:
			}
		},
	}
	return observer, done
}
