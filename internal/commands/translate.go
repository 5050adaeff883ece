package commands

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// hexArgPattern matches the signed hexadecimal wire arguments used by
// level-style commands (volume, tone, tuning offsets).
var hexArgPattern = regexp.MustCompile(`^[+-]?[0-9a-fA-F]+$`)

// Spec is a parsed command spec: zone, command and argument tokens not
// yet resolved against the registry.
type Spec struct {
	Zone      string
	Command   string
	Arguments []string
}

// ParseSpec splits a free-text command spec into its tokens.
//
// Two shapes are accepted. With an explicit argument separator,
// "zone.command=arg" or "zone.command:arg" (zone optional, several
// space/comma-separated arguments allowed). Without one, whitespace and
// dots both separate tokens: "zone command arg" or "command arg". When
// no zone is named the default zone is assumed.
func ParseSpec(raw string) (Spec, error) {
	raw = strings.TrimSpace(raw)

	if i := strings.IndexAny(raw, ":="); i >= 0 {
		base, argPart := raw[:i], raw[i+1:]
		parts := strings.FieldsFunc(base, func(r rune) bool {
			return r == '.' || r == ' '
		})
		args := strings.FieldsFunc(argPart, func(r rune) bool {
			return r == ' ' || r == ','
		})
		switch len(parts) {
		case 2:
			return Spec{Zone: parts[0], Command: parts[1], Arguments: args}, nil
		case 1:
			return Spec{Zone: DefaultZone, Command: parts[0], Arguments: args}, nil
		default:
			return Spec{}, fmt.Errorf("%w: cannot parse command spec %q",
				ErrInvalidCommand, raw)
		}
	}

	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return r == '.' || r == ' '
	})
	switch {
	case len(parts) >= 3:
		return Spec{Zone: parts[0], Command: parts[1], Arguments: parts[2:]}, nil
	case len(parts) == 2:
		return Spec{Zone: DefaultZone, Command: parts[0], Arguments: parts[1:]}, nil
	default:
		return Spec{}, fmt.Errorf("%w: command spec %q needs a command and an argument",
			ErrInvalidCommand, raw)
	}
}

// ToWire resolves a free-text command spec to its wire form, e.g.
// "zone2.volume=66" to "ZVL42".
func (r *Registry) ToWire(raw string) (string, error) {
	spec, err := ParseSpec(raw)
	if err != nil {
		return "", err
	}
	return r.ToWireParts(spec.Zone, spec.Command, spec.Arguments)
}

// ToWireParts resolves pre-split zone/command/argument tokens to the
// wire form mnemonic+value.
func (r *Registry) ToWireParts(zone, command string, arguments []string) (string, error) {
	cmd, err := r.Lookup(zone, command)
	if err != nil {
		return "", err
	}
	if len(arguments) == 0 {
		return "", fmt.Errorf("%w: command %q requires an argument",
			ErrInvalidArgument, command)
	}

	code, err := cmd.encodeArgument(arguments[0])
	if err != nil {
		return "", err
	}
	return cmd.Mnemonic + code, nil
}

// encodeArgument maps one argument token to the wire value: a declared
// value name first, then the numeric ranges in declaration order.
func (c *Command) encodeArgument(argument string) (string, error) {
	if code, ok := c.CodeForName(argument); ok {
		return code, nil
	}
	if isDigits(argument) {
		n, err := strconv.Atoi(argument)
		if err == nil {
			for _, rng := range c.Ranges {
				if rng.Contains(n) {
					return rng.Encode(n), nil
				}
			}
		}
	}
	return "", fmt.Errorf("%w: %q is not a valid argument for command %q",
		ErrInvalidArgument, argument, c.Name)
}

// Update is a translated inbound status message.
type Update struct {
	Zone    string
	Command string
	// Value is a string for named or raw values, an int for hex-coded
	// numeric values, or a []string when the receiver reported a
	// comma-separated tuple.
	Value any
}

// FromWire translates an inbound wire string (mnemonic plus value, with
// the protocol envelope already stripped) back to zone, command name and
// a decoded value. Zones are scanned in registration order and the first
// zone declaring the mnemonic claims the message.
func (r *Registry) FromWire(wire string) (Update, error) {
	if len(wire) < mnemonicLen {
		return Update{}, fmt.Errorf("%w: %q", ErrUnrecognizedFrame, wire)
	}
	mnemonic, rest := wire[:mnemonicLen], wire[mnemonicLen:]

	for _, zt := range r.zones {
		cmd, ok := zt.byMnemonic[mnemonic]
		if !ok {
			continue
		}
		return Update{Zone: zt.name, Command: cmd.Name, Value: cmd.decodeValue(rest)}, nil
	}
	return Update{}, fmt.Errorf("%w: %q", ErrUnrecognizedFrame, wire)
}

// decodeValue maps a wire value back to its human form: the declared
// name when one exists, a parsed int for hex-looking values, a string
// slice for comma-separated tuples, and the raw text otherwise.
func (c *Command) decodeValue(rest string) any {
	if v, ok := c.ValueByCode(rest); ok && len(v.Names) > 0 {
		return v.CanonicalName()
	}
	if hexArgPattern.MatchString(rest) {
		if n, err := strconv.ParseInt(rest, 16, 64); err == nil {
			return int(n)
		}
	}
	if strings.Contains(rest, ",") {
		return strings.Split(rest, ",")
	}
	return rest
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
