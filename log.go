package rntbd

import (
	"fmt"
	"sync"

	azlog "github.com/Azure/azure-sdk-for-go/sdk/azcore/log"
)

// Event classifications for this package's log output, modeled on
// azcore/log's own SetListener/SetEvents idiom: azcore/log.Event is just
// a named string, and azcore/log's public surface is a listener/filter
// pair rather than a Write function (Write itself is internal to azcore).
// A caller who already wires one azcore log sink for their Azure SDK
// clients can reuse azlog.Event values to filter this package's output
// through the same sink.
const (
	EventConnection azlog.Event = "rntbd.Connection"
	EventFrame      azlog.Event = "rntbd.Frame"
	EventRequest    azlog.Event = "rntbd.Request"
	EventTimeout    azlog.Event = "rntbd.Timeout"
	EventClose      azlog.Event = "rntbd.Close"
)

var (
	logMu       sync.RWMutex
	logListener func(cls azlog.Event, msg string)
	logEvents   map[azlog.Event]bool
)

// SetListener installs the sink invoked for every logged event. A nil
// listener disables logging; this is the default.
func SetListener(lst func(cls azlog.Event, msg string)) {
	logMu.Lock()
	defer logMu.Unlock()
	logListener = lst
}

// SetEvents restricts which classifications reach the listener. With no
// call (or an empty list), every classification is enabled.
func SetEvents(cls ...azlog.Event) {
	logMu.Lock()
	defer logMu.Unlock()
	if len(cls) == 0 {
		logEvents = nil
		return
	}
	logEvents = make(map[azlog.Event]bool, len(cls))
	for _, c := range cls {
		logEvents[c] = true
	}
}

func logf(cls azlog.Event, format string, args ...any) {
	logMu.RLock()
	lst := logListener
	enabled := logEvents == nil || logEvents[cls]
	logMu.RUnlock()
	if lst == nil || !enabled {
		return
	}
	lst(cls, fmt.Sprintf(format, args...))
}
