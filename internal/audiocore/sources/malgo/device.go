package malgo

import (
	"encoding/hex"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/patrickmn/go-cache"

	"github.com/tphakala/audiosrc/internal/audiocore"
	"github.com/tphakala/audiosrc/internal/errors"
)

// Endpoint is one enumerated capture (or, for loopback, render) device
type Endpoint struct {
	Index   int
	Name    string
	ID      string // decoded device id, e.g. ":1,0" on ALSA
	Default bool

	raw malgo.DeviceID
}

const (
	endpointCacheTTL = 30 * time.Second
	kindCapture      = "capture"
	kindRender       = "render"
)

// endpointCache keeps enumeration results; opening a device by name and the
// devices command both enumerate.
var endpointCache = cache.New(endpointCacheTTL, 2*endpointCacheTTL)

// backendForPlatform returns the miniaudio backend for the current platform.
// Loopback capture is a WASAPI feature.
func backendForPlatform(loopback bool) (malgo.Backend, error) {
	if loopback && runtime.GOOS != "windows" {
		return malgo.BackendNull, configError("select_backend", "loopback capture requires WASAPI")
	}
	switch runtime.GOOS {
	case "linux":
		return malgo.BackendAlsa, nil
	case "windows":
		return malgo.BackendWasapi, nil
	case "darwin":
		return malgo.BackendCoreaudio, nil
	default:
		return malgo.BackendNull, configError("select_backend", "unsupported operating system "+runtime.GOOS)
	}
}

func endpointKind(loopback bool) (string, malgo.DeviceType) {
	if loopback {
		return kindRender, malgo.Playback
	}
	return kindCapture, malgo.Capture
}

// enumerate lists endpoints through an initialised context, bypassing the cache.
func enumerate(mctx *malgo.AllocatedContext, devType malgo.DeviceType) ([]Endpoint, error) {
	infos, err := mctx.Devices(devType)
	if err != nil {
		return nil, errors.New(err).
			Component(audiocore.ComponentAudioCore).
			Category(errors.CategoryAudioSource).
			Context("operation", "enumerate_devices").
			Build()
	}

	endpoints := make([]Endpoint, 0, len(infos))
	for i := range infos {
		// Skip the discard/null device
		if strings.Contains(infos[i].Name(), "Discard all samples") {
			continue
		}
		decodedID, err := hexToASCII(infos[i].ID.String())
		if err != nil {
			decodedID = infos[i].ID.String()
		}
		endpoints = append(endpoints, Endpoint{
			Index:   i,
			Name:    infos[i].Name(),
			ID:      decodedID,
			Default: infos[i].IsDefault == 1,
			raw:     infos[i].ID,
		})
	}
	return endpoints, nil
}

// cachedEndpoints returns the cached enumeration for kind, refreshing it
// through mctx when it expired.
func cachedEndpoints(mctx *malgo.AllocatedContext, loopback bool) ([]Endpoint, error) {
	kind, devType := endpointKind(loopback)
	if cached, found := endpointCache.Get(kind); found {
		return cached.([]Endpoint), nil
	}
	endpoints, err := enumerate(mctx, devType)
	if err != nil {
		return nil, err
	}
	endpointCache.Set(kind, endpoints, cache.DefaultExpiration)
	return endpoints, nil
}

// ListEndpoints enumerates capture endpoints, or render endpoints when
// loopback is set.
func ListEndpoints(loopback bool) ([]Endpoint, error) {
	backend, err := backendForPlatform(loopback)
	if err != nil {
		return nil, err
	}
	mctx, err := malgo.InitContext([]malgo.Backend{backend}, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, openError(err, "init_context")
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()
	return cachedEndpoints(mctx, loopback)
}

// FlushEndpointCache forgets cached enumerations.
func FlushEndpointCache() {
	endpointCache.Flush()
}

// SelectEndpoint finds an endpoint by exact name, decoded id or partial
// name, in that order. "", "default" and "sysdefault" pick the default
// endpoint, or the first one when none is flagged.
func SelectEndpoint(endpoints []Endpoint, want string) (Endpoint, error) {
	switch want {
	case "", "default", "sysdefault":
		if ep, ok := defaultEndpoint(endpoints); ok {
			return ep, nil
		}
	}

	for _, ep := range endpoints {
		if ep.Name == want {
			return ep, nil
		}
	}
	for _, ep := range endpoints {
		if ep.ID == want {
			return ep, nil
		}
	}
	for _, ep := range endpoints {
		if want != "" && strings.Contains(ep.Name, want) {
			return ep, nil
		}
	}

	return Endpoint{}, errors.New(fmt.Errorf("%w: no capture device matches %q", audiocore.ErrDeviceOpen, want)).
		Component(audiocore.ComponentAudioCore).
		Category(errors.CategoryAudioSource).
		Context("operation", "select_device").
		Context("available_devices", len(endpoints)).
		Build()
}

func defaultEndpoint(endpoints []Endpoint) (Endpoint, bool) {
	for _, ep := range endpoints {
		if ep.Default {
			return ep, true
		}
	}
	if len(endpoints) > 0 {
		return endpoints[0], true
	}
	return Endpoint{}, false
}

// hexToASCII converts a hexadecimal string to an ASCII string
func hexToASCII(hexStr string) (string, error) {
	bytes, err := hex.DecodeString(hexStr)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(bytes), "\x00"), nil
}

// formatType maps a requested format to the miniaudio sample format.
// Zero bit depth leaves the choice to the device.
func formatType(f audiocore.Format) (malgo.FormatType, error) {
	switch {
	case f.BitDepth == 0:
		return malgo.FormatUnknown, nil
	case f.Encoding == audiocore.EncodingF32LE:
		return malgo.FormatF32, nil
	case f.BitDepth == 16:
		return malgo.FormatS16, nil
	case f.BitDepth == 24:
		return malgo.FormatS24, nil
	case f.BitDepth == 32:
		return malgo.FormatS32, nil
	}
	return malgo.FormatUnknown, configError("map_format", fmt.Sprintf("unsupported bit depth %d", f.BitDepth))
}

// negotiatedFormat converts what the device reports back to a Format.
func negotiatedFormat(ft malgo.FormatType, channels, rate uint32) (audiocore.Format, error) {
	f := audiocore.Format{SampleRate: int(rate), Channels: int(channels)}
	switch ft {
	case malgo.FormatS16:
		f.BitDepth, f.Encoding = 16, audiocore.EncodingS16LE
	case malgo.FormatS24:
		f.BitDepth, f.Encoding = 24, audiocore.EncodingS24LE
	case malgo.FormatS32:
		f.BitDepth, f.Encoding = 32, audiocore.EncodingS32LE
	case malgo.FormatF32:
		f.BitDepth, f.Encoding = 32, audiocore.EncodingF32LE
	default:
		return audiocore.Format{}, configError("negotiate_format", fmt.Sprintf("device delivers unsupported sample format %d", ft))
	}
	return f, nil
}

func configError(operation, msg string) error {
	return errors.New(fmt.Errorf("%w: %s", audiocore.ErrConfiguration, msg)).
		Component(audiocore.ComponentAudioCore).
		Category(errors.CategoryValidation).
		Context("operation", operation).
		Build()
}

func openError(err error, operation string) error {
	return errors.New(fmt.Errorf("%w: %w", audiocore.ErrDeviceOpen, err)).
		Component(audiocore.ComponentAudioCore).
		Category(errors.CategoryAudioSource).
		Context("operation", operation).
		Context("backend", runtime.GOOS).
		Build()
}
