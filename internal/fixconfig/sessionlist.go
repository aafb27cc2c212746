package fixconfig

import "gopkg.in/yaml.v3"

// SessionList is a list of SessionConfig values that accepts a mix of
// plain-string and mapping entries in YAML: a bare scalar sets only the
// session's Name, while a mapping node fully specifies a session's fields.
// ApplyDefaults does not supply sender-comp-id, target-comp-id, role or
// port, so a bare-scalar entry read through Load fails Validate.
type SessionList []SessionConfig

// UnmarshalYAML handles both scalar strings and mapping nodes in a YAML
// sequence of sessions.
func (sl *SessionList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.SequenceNode {
		return &yaml.TypeError{Errors: []string{"fixconfig: sessions must be a sequence"}}
	}
	var result SessionList
	for _, item := range value.Content {
		switch item.Kind {
		case yaml.ScalarNode:
			result = append(result, SessionConfig{Name: item.Value})
		case yaml.MappingNode:
			var sc SessionConfig
			if err := item.Decode(&sc); err != nil {
				return err
			}
			result = append(result, sc)
		default:
			return &yaml.TypeError{Errors: []string{"fixconfig: session entry must be a string or mapping"}}
		}
	}
	*sl = result
	return nil
}

// MarshalYAML serializes SessionList back to a plain sequence of mappings.
func (sl SessionList) MarshalYAML() (any, error) {
	out := make([]SessionConfig, len(sl))
	copy(out, sl)
	return out, nil
}
