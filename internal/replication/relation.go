package replication

// ReplicaIdentity names the per-table setting that determines which columns
// are reported in the "old" half of an update or delete.
type ReplicaIdentity byte

const (
	ReplicaIdentityDefault ReplicaIdentity = 'd'
	ReplicaIdentityNothing ReplicaIdentity = 'n'
	ReplicaIdentityFull    ReplicaIdentity = 'f'
	ReplicaIdentityIndex   ReplicaIdentity = 'i'
)

// String renders the replica identity mode using PostgreSQL's own names.
func (r ReplicaIdentity) String() string {
	switch r {
	case ReplicaIdentityDefault:
		return "default"
	case ReplicaIdentityNothing:
		return "nothing"
	case ReplicaIdentityFull:
		return "full"
	case ReplicaIdentityIndex:
		return "index"
	default:
		return "unknown"
	}
}

// Column describes one column of a Relation as announced by the server.
type Column struct {
	Flags      uint8
	Name       string
	TypeOid    uint32
	TypeMod    int32
	TypeSchema string // populated only if a Type message for TypeOid was seen first
	TypeName   string
	Parse      TypeParser
}

// IsKey reports whether this column is part of the table's replica-identity key.
func (c Column) IsKey() bool { return c.Flags&1 == 1 }

// CustomType is a user-defined type announcement, cached by OID so later
// Relation columns referencing it can be enriched with its schema-qualified name.
type CustomType struct {
	TypeOid    uint32
	TypeSchema string
	TypeName   string
}

// Relation is the schema-qualified table description as seen in the
// replication stream. Events reference relations by value: each Relation
// event carries a fresh snapshot, and subsequent tuple events embed the
// snapshot current at cache-lookup time.
type Relation struct {
	OID             uint32
	Schema          string
	Name            string
	ReplicaIdentity ReplicaIdentity
	Columns         []Column
	KeyColumns      []string
}

func deriveKeyColumns(cols []Column) []string {
	var keys []string
	for _, c := range cols {
		if c.IsKey() {
			keys = append(keys, c.Name)
		}
	}
	return keys
}

// Field is one value within a TupleData, preserving the wire order and the
// kind byte ('n', 't', 'b', 'u') that produced it.
type Field struct {
	Name    string
	Kind    byte
	Value   any  // nil for 'n' and for an absent-without-fallback 'u'
	Present bool // false only for an absent-without-fallback 'u' field
}

// TupleData holds one row's worth of field values in wire order.
type TupleData struct {
	Fields []Field
}

// Map collapses the tuple into a plain map from column name to value,
// omitting fields that are absent (an unchanged-TOAST field with no
// fallback tuple to draw from).
func (t *TupleData) Map() map[string]any {
	if t == nil {
		return nil
	}
	m := make(map[string]any, len(t.Fields))
	for _, f := range t.Fields {
		if !f.Present {
			continue
		}
		m[f.Name] = f.Value
	}
	return m
}

// Get looks up a single field's value by column name.
func (t *TupleData) Get(name string) (any, bool) {
	if t == nil {
		return nil, false
	}
	for _, f := range t.Fields {
		if f.Name == name && f.Present {
			return f.Value, true
		}
	}
	return nil, false
}

// relationCache owns the decoder's per-OID relation and custom-type state.
// It is mutated only during frame decoding on the single consuming task, so
// no synchronization is needed.
type relationCache struct {
	relations map[uint32]Relation
	types     map[uint32]CustomType
}

func newRelationCache() *relationCache {
	return &relationCache{
		relations: make(map[uint32]Relation),
		types:     make(map[uint32]CustomType),
	}
}

func (c *relationCache) putType(t CustomType) {
	c.types[t.TypeOid] = t
}

func (c *relationCache) lookupType(oid uint32) (CustomType, bool) {
	t, ok := c.types[oid]
	return t, ok
}

func (c *relationCache) put(r Relation) {
	c.relations[r.OID] = r
}

func (c *relationCache) get(oid uint32) (Relation, bool) {
	r, ok := c.relations[oid]
	return r, ok
}
