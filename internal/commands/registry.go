package commands

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Translation failure kinds. Callers match these with errors.Is to
// distinguish a bad zone from a bad command from a bad argument.
var (
	// ErrInvalidZone indicates the requested zone is not in the registry
	ErrInvalidZone = errors.New("invalid zone")
	// ErrInvalidCommand indicates the command resolves to no mnemonic in the zone
	ErrInvalidCommand = errors.New("invalid command")
	// ErrInvalidArgument indicates the argument matches no declared value or range
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnrecognizedFrame indicates an inbound wire string matches no zone/mnemonic
	ErrUnrecognizedFrame = errors.New("unrecognized frame")
)

// mnemonicLen is the fixed width of a wire mnemonic. All zones in the
// protocol documentation use three-character codes.
const mnemonicLen = 3

// commandsData is the protocol command set, generated from the Integra
// serial control documentation. Parsed once at startup into a Registry.
//
//go:embed data/commands.yaml
var commandsData []byte

// Dataset is the on-disk (YAML) shape of the command tables.
type Dataset struct {
	Zones []ZoneData `yaml:"zones"`
}

// ZoneData holds one zone's command declarations in registration order.
type ZoneData struct {
	Zone     string        `yaml:"zone"`
	Commands []CommandData `yaml:"commands"`
}

// CommandData declares a single command: its wire mnemonic, canonical
// human name, extra aliases, and the recognized wire values.
type CommandData struct {
	Mnemonic    string      `yaml:"mnemonic"`
	Name        string      `yaml:"name"`
	Description string      `yaml:"description,omitempty"`
	Aliases     []string    `yaml:"aliases,omitempty"`
	Values      []ValueData `yaml:"values,omitempty"`
	Ranges      []RangeData `yaml:"ranges,omitempty"`
}

// ValueData declares a discrete wire value and its human names.
// A value may carry several equivalent names (e.g. "standby" and "off").
type ValueData struct {
	Code        string   `yaml:"code"`
	Names       []string `yaml:"names,omitempty"`
	Description string   `yaml:"description,omitempty"`
}

// RangeData declares a numeric interval whose matching argument is
// hex-encoded rather than looked up. Declaration order is significant:
// overlapping ranges are scanned first-to-last and the first match wins.
type RangeData struct {
	Min         int    `yaml:"min"`
	Max         int    `yaml:"max"`
	Name        string `yaml:"name,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// Value is a discrete wire value of a command.
type Value struct {
	Code        string
	Names       []string
	Description string
}

// CanonicalName returns the display name for the value. Values with
// several equivalent names are joined with a comma.
func (v Value) CanonicalName() string {
	return strings.Join(v.Names, ",")
}

// Range is a numeric interval accepted as a command argument.
type Range struct {
	Min         int
	Max         int
	Name        string
	Description string
}

// Contains reports whether n falls inside the interval (inclusive).
func (r Range) Contains(n int) bool {
	return n >= r.Min && n <= r.Max
}

// Encode converts a matched argument to its wire token: uppercase
// hexadecimal, zero-padded to at least two digits.
func (r Range) Encode(n int) string {
	return fmt.Sprintf("%02X", n)
}

// Command is one registry entry, keyed by (zone, mnemonic).
type Command struct {
	Zone        string
	Mnemonic    string
	Name        string
	Description string
	Aliases     []string
	Values      []Value
	Ranges      []Range

	valueByCode map[string]int    // wire code -> index into Values
	codeByName  map[string]string // normalized value name -> wire code
}

// ValueByCode looks up a declared discrete value by its wire code.
func (c *Command) ValueByCode(code string) (Value, bool) {
	i, ok := c.valueByCode[code]
	if !ok {
		return Value{}, false
	}
	return c.Values[i], true
}

// CodeForName resolves a human value name to its wire code.
func (c *Command) CodeForName(name string) (string, bool) {
	code, ok := c.codeByName[Normalize(name)]
	return code, ok
}

// zoneTable indexes one zone's commands.
type zoneTable struct {
	name       string
	commands   []*Command          // registration order
	byMnemonic map[string]*Command
	byName     map[string]*Command // normalized human name -> command
}

// Registry is the immutable, process-wide command translation table.
// It is built once (from the embedded dataset or a caller-supplied one)
// and is safe for concurrent use.
type Registry struct {
	zones  []*zoneTable // fixed scan order for inbound translation
	byZone map[string]*zoneTable
}

// DefaultZone is assumed when a command spec names no zone.
const DefaultZone = "main"

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
	defaultRegistryErr  error
)

// Default returns the registry built from the embedded command dataset.
// The registry is built once; subsequent calls return the same instance.
func Default() (*Registry, error) {
	defaultRegistryOnce.Do(func() {
		defaultRegistry, defaultRegistryErr = Load(commandsData)
	})
	return defaultRegistry, defaultRegistryErr
}

// MustDefault is Default for contexts where the embedded dataset is
// known-good (it is validated by the package tests).
func MustDefault() *Registry {
	r, err := Default()
	if err != nil {
		panic(err)
	}
	return r
}

// Load parses a YAML dataset and builds a registry from it.
func Load(data []byte) (*Registry, error) {
	var ds Dataset
	if err := yaml.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("failed to parse command dataset: %w", err)
	}
	return New(&ds)
}

// New builds a registry from an in-memory dataset, deriving the lookup
// indexes the translation hot path needs.
func New(ds *Dataset) (*Registry, error) {
	if len(ds.Zones) == 0 {
		return nil, fmt.Errorf("command dataset declares no zones")
	}

	reg := &Registry{
		byZone: make(map[string]*zoneTable, len(ds.Zones)),
	}

	for _, zd := range ds.Zones {
		if zd.Zone == "" {
			return nil, fmt.Errorf("command dataset has a zone without a name")
		}
		if _, exists := reg.byZone[zd.Zone]; exists {
			return nil, fmt.Errorf("duplicate zone %q in command dataset", zd.Zone)
		}

		zt := &zoneTable{
			name:       zd.Zone,
			byMnemonic: make(map[string]*Command, len(zd.Commands)),
			byName:     make(map[string]*Command, len(zd.Commands)),
		}

		for _, cd := range zd.Commands {
			if len(cd.Mnemonic) != mnemonicLen {
				return nil, fmt.Errorf("zone %q: mnemonic %q is not %d characters",
					zd.Zone, cd.Mnemonic, mnemonicLen)
			}
			if _, exists := zt.byMnemonic[cd.Mnemonic]; exists {
				return nil, fmt.Errorf("zone %q: duplicate mnemonic %q", zd.Zone, cd.Mnemonic)
			}

			cmd := &Command{
				Zone:        zd.Zone,
				Mnemonic:    cd.Mnemonic,
				Name:        cd.Name,
				Description: cd.Description,
				Aliases:     cd.Aliases,
				valueByCode: make(map[string]int, len(cd.Values)),
				codeByName:  make(map[string]string, len(cd.Values)),
			}

			for _, vd := range cd.Values {
				v := Value{Code: vd.Code, Names: vd.Names, Description: vd.Description}
				cmd.Values = append(cmd.Values, v)
				if _, dup := cmd.valueByCode[v.Code]; !dup {
					cmd.valueByCode[v.Code] = len(cmd.Values) - 1
				}
				for _, n := range v.Names {
					key := Normalize(n)
					if _, dup := cmd.codeByName[key]; !dup {
						cmd.codeByName[key] = v.Code
					}
				}
			}
			for _, rd := range cd.Ranges {
				cmd.Ranges = append(cmd.Ranges, Range{
					Min: rd.Min, Max: rd.Max,
					Name: rd.Name, Description: rd.Description,
				})
			}

			zt.commands = append(zt.commands, cmd)
			zt.byMnemonic[cmd.Mnemonic] = cmd
			// Later declarations win for ambiguous names (e.g. a zone with
			// both a legacy and a current tuning command named "tuning").
			zt.byName[Normalize(cmd.Name)] = cmd
			for _, a := range cd.Aliases {
				zt.byName[Normalize(a)] = cmd
			}
		}

		reg.zones = append(reg.zones, zt)
		reg.byZone[zd.Zone] = zt
	}

	return reg, nil
}

// Zones returns the zone names in registration (scan) order.
func (r *Registry) Zones() []string {
	names := make([]string, len(r.zones))
	for i, zt := range r.zones {
		names[i] = zt.name
	}
	return names
}

// HasZone reports whether the registry knows the (normalized) zone.
func (r *Registry) HasZone(zone string) bool {
	_, ok := r.byZone[Normalize(zone)]
	return ok
}

// Lookup finds a command by zone and either its human name (canonical or
// alias) or its raw mnemonic.
func (r *Registry) Lookup(zone, command string) (*Command, error) {
	zt, ok := r.byZone[Normalize(zone)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidZone, zone)
	}
	if cmd, ok := zt.byName[Normalize(command)]; ok {
		return cmd, nil
	}
	// The caller may already hold a raw mnemonic.
	if cmd, ok := zt.byMnemonic[strings.ToUpper(strings.TrimSpace(command))]; ok {
		return cmd, nil
	}
	return nil, fmt.Errorf("%w: %q is not a valid command in zone %q",
		ErrInvalidCommand, command, zone)
}

// Normalize maps a human-provided zone/command/argument token to its index
// form: trimmed, lower-cased, with underscores and inner spaces treated as
// hyphens.
func Normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "_", "-")
	return strings.ReplaceAll(s, " ", "-")
}
