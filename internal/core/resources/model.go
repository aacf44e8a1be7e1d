// Package resources turns stored models into JSON:API resource objects.
package resources

// Model is a resource as loaded by the store. Values are keyed by field
// name; Refs holds related ids by relationship name and is only set for
// relationships that were loaded.
type Model struct {
	Type   string
	ID     string
	Values map[string]any
	Refs   map[string][]string
}

// NewModel returns an empty model of the given type.
func NewModel(resourceType, id string) *Model {
	return &Model{Type: resourceType, ID: id, Values: map[string]any{}, Refs: map[string][]string{}}
}

// Value returns a field value.
func (m *Model) Value(field string) (any, bool) {
	if m == nil {
		return nil, false
	}
	v, ok := m.Values[field]
	return v, ok
}

// String returns a field value as a string, or "" when absent or not a
// string.
func (m *Model) String(field string) string {
	v, _ := m.Value(field)
	s, _ := v.(string)
	return s
}

// SetRefs records the related ids of a loaded relationship.
func (m *Model) SetRefs(relation string, ids ...string) {
	if m.Refs == nil {
		m.Refs = map[string][]string{}
	}
	m.Refs[relation] = append([]string{}, ids...)
}

// Key identifies a model across types.
func (m *Model) Key() string {
	return m.Type + ":" + m.ID
}
