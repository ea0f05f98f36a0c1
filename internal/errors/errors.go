// Package errors wraps errors with the component, category and context that
// telemetry needs and passes the standard library helpers through, so
// callers import one errors package.
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"strings"
	"sync/atomic"
)

// ErrorCategory groups errors for telemetry and for IsCategory checks
type ErrorCategory string

const (
	CategoryValidation    ErrorCategory = "validation"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryFileIO        ErrorCategory = "file-io"
	CategorySystem        ErrorCategory = "system-resource"
	CategoryNetwork       ErrorCategory = "network"
	CategoryCancellation  ErrorCategory = "cancellation"
	CategoryGeneric       ErrorCategory = "generic"

	// capture pipeline
	CategoryAudioSource ErrorCategory = "audio-source" // device open, start, loss
	CategoryAudio       ErrorCategory = "audio-processing"
	CategoryBuffer      ErrorCategory = "audio-buffer" // ring, overflow and driver buffers
	CategoryClock       ErrorCategory = "clock-sync"

	// session event publishing
	CategoryMQTTConnect ErrorCategory = "mqtt-connection"
	CategoryMQTTPublish ErrorCategory = "mqtt-publish"
)

// Priorities accepted by ErrorBuilder.Priority
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// ComponentUnknown is used when the component cannot be determined.
const ComponentUnknown = "unknown"

// EnhancedError is an error annotated for telemetry. It is immutable after
// Build except for the reported flag.
type EnhancedError struct {
	Err      error
	Category ErrorCategory
	Priority string
	Context  map[string]any

	component string
	reported  atomic.Bool
}

func (ee *EnhancedError) Error() string {
	return ee.Err.Error()
}

func (ee *EnhancedError) Unwrap() error {
	return ee.Err
}

// Is reports identity first, then falls back to the wrapped error chain.
// Two distinct EnhancedErrors never match just because they share a category;
// use IsCategory for that.
func (ee *EnhancedError) Is(target error) bool {
	if other, ok := target.(*EnhancedError); ok {
		return ee == other
	}
	return stderrors.Is(ee.Err, target)
}

// GetComponent returns the component that raised the error.
func (ee *EnhancedError) GetComponent() string {
	return ee.component
}

// GetPriority returns the explicit priority, or "" when none was set.
func (ee *EnhancedError) GetPriority() string {
	return ee.Priority
}

// GetContext returns a copy of the error context.
func (ee *EnhancedError) GetContext() map[string]any {
	if ee.Context == nil {
		return nil
	}
	return maps.Clone(ee.Context)
}

// GetMessage returns the wrapped error's message.
func (ee *EnhancedError) GetMessage() string {
	if ee.Err == nil {
		return ""
	}
	return ee.Err.Error()
}

// MarkReported records that telemetry has seen the error.
func (ee *EnhancedError) MarkReported() {
	ee.reported.Store(true)
}

// IsReported reports whether telemetry has seen the error.
func (ee *EnhancedError) IsReported() bool {
	return ee.reported.Load()
}

// ErrorBuilder assembles an EnhancedError
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	priority  string
	context   map[string]any
}

// New starts building an enhanced error around err.
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err}
}

// Newf starts building an enhanced error from a format string.
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Component sets the component name. Without it the component is detected
// from the call stack when telemetry is active.
func (eb *ErrorBuilder) Component(component string) *ErrorBuilder {
	eb.component = component
	return eb
}

func (eb *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	eb.category = category
	return eb
}

// Priority sets an explicit priority. Unknown values become PriorityMedium.
func (eb *ErrorBuilder) Priority(priority string) *ErrorBuilder {
	switch priority {
	case "":
	case PriorityLow, PriorityMedium, PriorityHigh:
		eb.priority = priority
	default:
		eb.priority = PriorityMedium
	}
	return eb
}

func (eb *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if eb.context == nil {
		eb.context = make(map[string]any)
	}
	eb.context[key] = value
	return eb
}

// DeviceContext adds capture device context. Device identifiers are reduced
// to a kind so raw endpoint IDs never reach telemetry.
func (eb *ErrorBuilder) DeviceContext(deviceID string, loopback bool) *ErrorBuilder {
	return eb.Context("device_kind", deviceKind(deviceID)).Context("loopback", loopback)
}

// Build creates the EnhancedError and hands it to the telemetry reporter.
// Stack walking and category guessing only happen while a reporter is active.
func (eb *ErrorBuilder) Build() *EnhancedError {
	reporting := hasActiveReporting.Load()

	component := eb.component
	if component == "" {
		component = ComponentUnknown
		if reporting {
			component = callerComponent()
		}
	}

	category := eb.category
	if category == "" {
		category = CategoryGeneric
		if reporting {
			category = detectCategory(eb.err, component)
		}
	}

	ee := &EnhancedError{
		Err:       eb.err,
		Category:  category,
		Priority:  eb.priority,
		Context:   eb.context,
		component: component,
	}
	if reporting {
		reportToTelemetry(ee)
	}
	return ee
}

var hasActiveReporting atomic.Bool

// messageCategories guesses a category from the error text, first match wins.
var messageCategories = []struct {
	words    []string
	category ErrorCategory
}{
	{[]string{"device", "endpoint"}, CategoryAudioSource},
	{[]string{"buffer", "overflow", "segment"}, CategoryBuffer},
	{[]string{"clock", "drift"}, CategoryClock},
	{[]string{"connection", "timeout", "broker"}, CategoryNetwork},
	{[]string{"file", "wav"}, CategoryFileIO},
	{[]string{"invalid", "validation"}, CategoryValidation},
}

// detectCategory inherits a wrapped EnhancedError's category, then guesses
// from the message and finally from the component.
func detectCategory(err error, component string) ErrorCategory {
	if err == nil {
		return CategoryGeneric
	}
	var inner *EnhancedError
	if stderrors.As(err, &inner) && inner.Category != "" {
		return inner.Category
	}

	msg := strings.ToLower(err.Error())
	for _, mc := range messageCategories {
		for _, w := range mc.words {
			if strings.Contains(msg, w) {
				return mc.category
			}
		}
	}

	switch {
	case strings.HasPrefix(component, "audiocore"):
		return CategoryAudio
	case component == "configuration":
		return CategoryConfiguration
	case component == "mqtt":
		return CategoryMQTTPublish
	}
	return CategoryGeneric
}

// deviceKind classifies a capture device identifier without revealing it.
func deviceKind(deviceID string) string {
	switch {
	case deviceID == "":
		return "default"
	case strings.HasPrefix(deviceID, "{") || strings.Contains(deviceID, "#"):
		return "endpoint-id"
	default:
		return "named"
	}
}

// NewStd creates a plain error.
func NewStd(text string) error {
	return stderrors.New(text)
}

func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

func As(err error, target any) bool {
	return stderrors.As(err, target)
}

func Join(errs ...error) error {
	return stderrors.Join(errs...)
}

// IsCategory checks if an error is an EnhancedError with the specified category.
func IsCategory(err error, category ErrorCategory) bool {
	var ee *EnhancedError
	return stderrors.As(err, &ee) && ee.Category == category
}
