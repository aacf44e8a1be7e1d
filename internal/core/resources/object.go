package resources

// Attribute is one serialized attribute. Objects keep attributes in
// schema declaration order.
type Attribute struct {
	Name  string
	Value any
}

// Relationship is one serialized relationship of an Object.
type Relationship struct {
	Name    string
	Related string
	ToMany  bool
	// Loaded is false when linkage was not fetched; only links are
	// rendered then.
	Loaded bool
	IDs    []string
}

// Object is a JSON:API resource object ready to be encoded.
type Object struct {
	Type          string
	ID            string
	Attributes    []Attribute
	Relationships []Relationship
	Meta          map[string]any
}

// Attribute returns an attribute by name.
func (o *Object) Attribute(name string) (any, bool) {
	for _, a := range o.Attributes {
		if a.Name == name {
			return a.Value, true
		}
	}
	return nil, false
}

// Relationship returns a relationship by name.
func (o *Object) Relationship(name string) (Relationship, bool) {
	for _, r := range o.Relationships {
		if r.Name == name {
			return r, true
		}
	}
	return Relationship{}, false
}
