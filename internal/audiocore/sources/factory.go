// Package sources provides audio source implementations
package sources

import (
	"github.com/tphakala/audiosrc/internal/audiocore"
	"github.com/tphakala/audiosrc/internal/audiocore/sources/malgo"
	"github.com/tphakala/audiosrc/internal/audiocore/sources/synthetic"
	"github.com/tphakala/audiosrc/internal/conf"
	"github.com/tphakala/audiosrc/internal/errors"
)

// Source type names accepted in capture.source
const (
	TypeMalgo     = "malgo"
	TypeSynthetic = "synthetic"
)

// CreateSource creates a capture source based on the capture settings
func CreateSource(settings *conf.CaptureSettings) (audiocore.CaptureSource, error) {
	switch settings.Source {
	case TypeMalgo, "":
		return malgo.New(), nil

	case TypeSynthetic:
		cfg := synthetic.DefaultConfig()
		cfg.Format = audiocore.Format{
			SampleRate: settings.SampleRate,
			Channels:   settings.Channels,
			BitDepth:   settings.BitDepth,
		}
		return synthetic.New(cfg), nil

	default:
		return nil, errors.Newf("unknown source type: %s", settings.Source).
			Component(audiocore.ComponentAudioCore).
			Category(errors.CategoryValidation).
			Context("source_type", settings.Source).
			Build()
	}
}

// Watcher returns the source's default device notifier, or nil when the
// source cannot report default device changes.
func Watcher(source audiocore.CaptureSource) audiocore.DeviceWatcher {
	if w, ok := source.(audiocore.DeviceWatcher); ok {
		return w
	}
	return nil
}

// ListAvailableDevices returns the capture endpoints, or the render
// endpoints usable for loopback capture.
func ListAvailableDevices(loopback bool) ([]malgo.Endpoint, error) {
	return malgo.ListEndpoints(loopback)
}
