package rthost

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/shaban/rthost/graph"
	"github.com/shaban/rthost/internal/queue"
	"github.com/shaban/rthost/plugins"
	"github.com/shaban/rthost/processor"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyInUse    = errors.New("already in use")
	ErrInvalidChannels = errors.New("invalid channel configuration")
	ErrOutOfRange      = errors.New("out of range")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrQueueFull       = errors.New("event queue full")
	ErrTimeout         = errors.New("operation timed out")
	ErrFaulted         = errors.New("engine faulted")
)

// Status is the coarse outcome of an engine call, for callers that report
// results over a wire instead of inspecting errors.
type Status int

const (
	StatusOK Status = iota
	StatusError
	StatusNotFound
	StatusAlreadyInUse
	StatusInvalidChannels
	StatusOutOfRange
	StatusInvalidArgument
	StatusUnknownPlugin
	StatusQueueFull
	StatusTimeout
	StatusFaulted
)

var statusNames = [...]string{
	"ok", "error", "not found", "already in use", "invalid channels", "out of range",
	"invalid argument", "unknown plugin", "queue full", "timeout", "faulted",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return statusNames[s]
}

// StatusOf maps an error returned by the engine to a Status.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrNotFound), errors.Is(err, processor.ErrNotFound),
		errors.Is(err, processor.ErrParameterNotFound):
		return StatusNotFound
	case errors.Is(err, ErrAlreadyInUse), errors.Is(err, processor.ErrDuplicateName):
		return StatusAlreadyInUse
	case errors.Is(err, ErrInvalidChannels):
		return StatusInvalidChannels
	case errors.Is(err, ErrOutOfRange):
		return StatusOutOfRange
	case errors.Is(err, ErrInvalidArgument):
		return StatusInvalidArgument
	case errors.Is(err, plugins.ErrUnknownPlugin):
		return StatusUnknownPlugin
	case errors.Is(err, ErrQueueFull), errors.Is(err, queue.ErrFull):
		return StatusQueueFull
	case errors.Is(err, ErrTimeout), errors.Is(err, queue.ErrTimeout):
		return StatusTimeout
	case errors.Is(err, ErrFaulted), errors.Is(err, graph.ErrDeadlineMissed):
		return StatusFaulted
	}
	return StatusError
}

// ErrorHandler defines the interface for handling engine errors that have no
// caller to return to, such as a render fault seen by the dispatcher.
type ErrorHandler interface {
	HandleError(error)
}

// DefaultErrorHandler logs errors through a logrus logger.
type DefaultErrorHandler struct {
	Logger logrus.FieldLogger
}

// HandleError implements ErrorHandler interface with logrus logging
func (h *DefaultErrorHandler) HandleError(err error) {
	log := h.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	log.WithError(err).WithField("status", StatusOf(err).String()).Error("engine error")
}

// LoggingErrorHandler logs an error with its status and a fixed set of
// fields describing the running setup, then hands it to Next if set.
type LoggingErrorHandler struct {
	Next   ErrorHandler
	log    logrus.FieldLogger
	fields logrus.Fields
}

func NewLoggingErrorHandler(next ErrorHandler, log logrus.FieldLogger, fields logrus.Fields) *LoggingErrorHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LoggingErrorHandler{Next: next, log: log, fields: fields}
}

func (h *LoggingErrorHandler) HandleError(err error) {
	status := StatusOf(err)
	entry := h.log.WithFields(h.fields).WithError(err).WithField("status", status.String())
	if status == StatusFaulted {
		entry.Error("render fault: the chain does not fit the block period, raise block_size or lower cores")
	} else {
		entry.Error("engine error")
	}
	if h.Next != nil {
		h.Next.HandleError(err)
	}
}

// PanicErrorHandler panics with the error. Used in strict runs so a fault
// stops the process with a stack trace.
type PanicErrorHandler struct{}

func (PanicErrorHandler) HandleError(err error) {
	panic(fmt.Errorf("rthost %s: %w", StatusOf(err), err))
}
