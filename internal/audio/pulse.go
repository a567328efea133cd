package audio

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"
)

const clientName = "audiomemo"

// Endpoint is a PulseAudio source or sink as shown to the user
type Endpoint struct {
	ID          string
	Description string
	Default     bool
}

// newPulseClient opens a client connection to the PulseAudio server
func newPulseClient() (*pulse.Client, error) {
	c, err := pulse.NewClient(pulse.ClientApplicationName(clientName))
	if err != nil {
		return nil, fmt.Errorf("unable to open a client to Pulse: %w", err)
	}
	return c, nil
}

// ListEndpoints returns all capture sources and playback sinks
func ListEndpoints() (sources, sinks []Endpoint, _ error) {
	c, err := newPulseClient()
	if err != nil {
		return nil, nil, err
	}
	defer c.Close()

	var mErr *multierror.Error

	if list, err := c.ListSources(); err != nil {
		mErr = multierror.Append(mErr, fmt.Errorf("failed to list sources: %w", err))
	} else {
		var defaultID string
		if def, err := c.DefaultSource(); err == nil {
			defaultID = def.ID()
		}
		for _, s := range list {
			sources = append(sources, Endpoint{ID: s.ID(), Description: s.Name(), Default: s.ID() == defaultID})
		}
	}

	if list, err := c.ListSinks(); err != nil {
		mErr = multierror.Append(mErr, fmt.Errorf("failed to list sinks: %w", err))
	} else {
		var defaultID string
		if def, err := c.DefaultSink(); err == nil {
			defaultID = def.ID()
		}
		for _, s := range list {
			sinks = append(sinks, Endpoint{ID: s.ID(), Description: s.Name(), Default: s.ID() == defaultID})
		}
	}

	return sources, sinks, mErr.ErrorOrNil()
}

// lookupSource returns the named source, or the default source when name is empty
func lookupSource(c *pulse.Client, name string) (*pulse.Source, error) {
	if name == "" {
		source, err := c.DefaultSource()
		if err != nil {
			return nil, fmt.Errorf("no default capture source: %w", err)
		}
		return source, nil
	}
	source, err := c.SourceByID(name)
	if err != nil {
		return nil, fmt.Errorf("capture source not found: %s: %w", name, err)
	}
	return source, nil
}

// lookupSink returns the named sink, or the default sink when name is empty
func lookupSink(c *pulse.Client, name string) (*pulse.Sink, error) {
	if name == "" {
		sink, err := c.DefaultSink()
		if err != nil {
			return nil, fmt.Errorf("no default playback sink: %w", err)
		}
		return sink, nil
	}
	sink, err := c.SinkByID(name)
	if err != nil {
		return nil, fmt.Errorf("playback sink not found: %s: %w", name, err)
	}
	return sink, nil
}

// channelMap returns the Pulse channel layout for a mono or stereo stream
func channelMap(channels int) (proto.ChannelMap, error) {
	switch channels {
	case 1:
		return proto.ChannelMap{proto.ChannelMono}, nil
	case 2:
		return proto.ChannelMap{proto.ChannelLeft, proto.ChannelRight}, nil
	default:
		return nil, fmt.Errorf("do not know how to configure %d channels", channels)
	}
}
