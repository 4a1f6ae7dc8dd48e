package replication

import "testing"

func TestColumnIsKey(t *testing.T) {
	key := Column{Flags: 1}
	notKey := Column{Flags: 0}
	if !key.IsKey() {
		t.Error("flags=1 column should be a key column")
	}
	if notKey.IsKey() {
		t.Error("flags=0 column should not be a key column")
	}
}

func TestDeriveKeyColumns(t *testing.T) {
	cols := []Column{
		{Name: "id", Flags: 1},
		{Name: "value", Flags: 0},
		{Name: "tenant", Flags: 1},
	}
	got := deriveKeyColumns(cols)
	want := []string{"id", "tenant"}
	if len(got) != len(want) {
		t.Fatalf("deriveKeyColumns() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("deriveKeyColumns()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestReplicaIdentityString(t *testing.T) {
	cases := map[ReplicaIdentity]string{
		ReplicaIdentityDefault: "default",
		ReplicaIdentityNothing: "nothing",
		ReplicaIdentityFull:    "full",
		ReplicaIdentityIndex:   "index",
		ReplicaIdentity('?'):   "unknown",
	}
	for ri, want := range cases {
		if got := ri.String(); got != want {
			t.Errorf("ReplicaIdentity(%q).String() = %q, want %q", byte(ri), got, want)
		}
	}
}

func TestTupleDataMapOmitsAbsent(t *testing.T) {
	td := &TupleData{Fields: []Field{
		{Name: "id", Value: int64(1), Present: true},
		{Name: "ghost", Present: false},
	}}
	m := td.Map()
	if len(m) != 1 {
		t.Fatalf("Map() = %v, want exactly one entry", m)
	}
	if _, ok := m["ghost"]; ok {
		t.Error("Map() should omit absent fields")
	}
}

func TestTupleDataGet(t *testing.T) {
	td := &TupleData{Fields: []Field{{Name: "value", Value: "v1", Present: true}}}
	v, ok := td.Get("value")
	if !ok || v != "v1" {
		t.Fatalf("Get(%q) = %v, %v", "value", v, ok)
	}
	if _, ok := td.Get("missing"); ok {
		t.Error("Get() on missing field should return false")
	}
}

func TestRelationCache(t *testing.T) {
	c := newRelationCache()
	if _, ok := c.get(1); ok {
		t.Fatal("empty cache should not find OID 1")
	}
	rel := Relation{OID: 1, Name: "t"}
	c.put(rel)
	got, ok := c.get(1)
	if !ok || got.Name != "t" {
		t.Fatalf("get(1) = %v, %v", got, ok)
	}

	ct := CustomType{TypeOid: 99, TypeName: "my_enum"}
	c.putType(ct)
	gotType, ok := c.lookupType(99)
	if !ok || gotType.TypeName != "my_enum" {
		t.Fatalf("lookupType(99) = %v, %v", gotType, ok)
	}
}
