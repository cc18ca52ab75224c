// Package plugins provides the built-in processors and their registry.
//
// Model:
//   - List returns lightweight PluginInfo entries keyed by uid.
//   - New instantiates a processor by uid; Introspect describes its parameters.
//   - PluginInfos can be filtered by category or name before instantiation.
package plugins

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shaban/rthost/processor"
)

// ErrUnknownPlugin is returned for uids without a registered constructor.
var ErrUnknownPlugin = errors.New("unknown plugin uid")

// Categories.
const (
	CategoryEffect  = "Effect"
	CategoryUtility = "Utility"
	CategoryMidi    = "MIDI"
	CategoryMeter   = "Meter"
)

// Clock is the musical time source available to processors that follow the
// transport. It is read on the audio goroutine only.
type Clock interface {
	CurrentBeats(offset int) float64
	Playing() bool
}

// PluginInfo identifies a built-in processor.
type PluginInfo struct {
	UID         string `json:"uid"`
	Name        string `json:"name"`
	Category    string `json:"category"`
	Description string `json:"description"`
}

// PluginInfos is a collection of PluginInfo with filtering methods.
type PluginInfos []PluginInfo

// Plugin is a PluginInfo with the parameters an instance exposes.
type Plugin struct {
	PluginInfo
	Parameters []Parameter `json:"parameters"`
}

// Parameter describes one processor parameter.
type Parameter struct {
	ID          uint32  `json:"id"`
	Name        string  `json:"name"`
	Label       string  `json:"label"`
	Unit        string  `json:"unit"`
	Type        string  `json:"type"`
	Min         float32 `json:"min"`
	Max         float32 `json:"max"`
	Default     float32 `json:"default"`
	Automatable bool    `json:"automatable"`
}

type constructor func(name string, clock Clock) processor.Processor

type entry struct {
	info PluginInfo
	make constructor
}

var registry = map[string]entry{}

func register(info PluginInfo, make constructor) {
	if _, dup := registry[info.UID]; dup {
		panic("plugins: duplicate uid " + info.UID)
	}
	registry[info.UID] = entry{info: info, make: make}
}

// List returns every built-in processor sorted by uid.
func List() PluginInfos {
	infos := make(PluginInfos, 0, len(registry))
	for _, e := range registry {
		infos = append(infos, e.info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].UID < infos[j].UID })
	return infos
}

// Lookup returns the info registered for uid.
func Lookup(uid string) (PluginInfo, bool) {
	e, ok := registry[uid]
	return e.info, ok
}

// New creates an instance of the processor registered as uid. clock may be
// nil for processors that do not follow the transport.
func New(uid, name string, clock Clock) (processor.Processor, error) {
	e, ok := registry[uid]
	if !ok {
		return nil, fmt.Errorf("%q: %w", uid, ErrUnknownPlugin)
	}
	if name == "" {
		name = uid
	}
	return e.make(name, clock), nil
}

// ByCategory returns plugin infos of a specific category.
func (infos PluginInfos) ByCategory(category string) PluginInfos {
	var filtered PluginInfos
	for _, info := range infos {
		if info.Category == category {
			filtered = append(filtered, info)
		}
	}
	return filtered
}

// ByName returns plugin infos whose name contains pattern, case-insensitive.
func (infos PluginInfos) ByName(pattern string) PluginInfos {
	var filtered PluginInfos
	pattern = strings.ToLower(pattern)
	for _, info := range infos {
		if strings.Contains(strings.ToLower(info.Name), pattern) {
			filtered = append(filtered, info)
		}
	}
	return filtered
}

// Introspect instantiates the plugin once and describes its parameters.
func (info PluginInfo) Introspect() (Plugin, error) {
	p, err := New(info.UID, info.UID, nil)
	if err != nil {
		return Plugin{}, err
	}
	out := Plugin{PluginInfo: info}
	for _, param := range p.Parameters() {
		out.Parameters = append(out.Parameters, Parameter{
			ID:          uint32(param.ID),
			Name:        param.Name,
			Label:       param.Label,
			Unit:        param.Unit,
			Type:        param.Type.String(),
			Min:         param.Min,
			Max:         param.Max,
			Default:     param.Default,
			Automatable: param.Automatable,
		})
	}
	return out, nil
}

// Introspect maps Introspect over the collection.
func (infos PluginInfos) Introspect() ([]Plugin, error) {
	out := make([]Plugin, 0, len(infos))
	for _, info := range infos {
		p, err := info.Introspect()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
