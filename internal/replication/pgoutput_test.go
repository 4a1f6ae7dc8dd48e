package replication

import (
	"encoding/binary"
	"testing"
	"time"
)

// wireBuilder assembles pgoutput message bytes by hand for tests, mirroring
// the big-endian, length-prefixed grammar pgoutput uses on the wire.
type wireBuilder struct {
	buf []byte
}

func (b *wireBuilder) u8(v uint8) *wireBuilder {
	b.buf = append(b.buf, v)
	return b
}

func (b *wireBuilder) u16(v uint16) *wireBuilder {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	b.buf = append(b.buf, tmp[:]...)
	return b
}

func (b *wireBuilder) i16(v int16) *wireBuilder { return b.u16(uint16(v)) }

func (b *wireBuilder) u32(v uint32) *wireBuilder {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	b.buf = append(b.buf, tmp[:]...)
	return b
}

func (b *wireBuilder) i32(v int32) *wireBuilder { return b.u32(uint32(v)) }

func (b *wireBuilder) u64(v uint64) *wireBuilder {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	b.buf = append(b.buf, tmp[:]...)
	return b
}

func (b *wireBuilder) cstring(s string) *wireBuilder {
	b.buf = append(b.buf, []byte(s)...)
	b.buf = append(b.buf, 0)
	return b
}

func (b *wireBuilder) lenPrefixed(s string) *wireBuilder {
	b.i32(int32(len(s)))
	b.buf = append(b.buf, []byte(s)...)
	return b
}

func (b *wireBuilder) lsn(hi, lo uint32) *wireBuilder { return b.u32(hi).u32(lo) }

func (b *wireBuilder) timestamp(t time.Time) *wireBuilder {
	micros := uint64(t.UnixMicro() - postgresEpochMicros)
	return b.u64(micros)
}

func (b *wireBuilder) textField(s string) *wireBuilder {
	b.u8('t')
	return b.lenPrefixed(s)
}

func (b *wireBuilder) nullField() *wireBuilder { return b.u8('n') }

func (b *wireBuilder) unchangedField() *wireBuilder { return b.u8('u') }

func (b *wireBuilder) bytes() []byte { return b.buf }

func relationMessage(oid uint32, schema, name string, ri byte, cols []Column) []byte {
	b := &wireBuilder{}
	b.u8(tagRelation).u32(oid).cstring(schema).cstring(name).u8(ri).i16(int16(len(cols)))
	for _, c := range cols {
		b.u8(c.Flags).cstring(c.Name).u32(c.TypeOid).i32(c.TypeMod)
	}
	return b.bytes()
}

func TestDecodeBegin(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	msg := (&wireBuilder{}).u8(tagBegin).lsn(1, 100).timestamp(now).u32(42).bytes()

	d := NewPgOutputDecoder(nil)
	ev, err := d.Decode(msg)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Kind != EventBegin {
		t.Fatalf("Kind = %v, want EventBegin", ev.Kind)
	}
	if ev.Begin.XID != 42 || ev.Begin.FinalLSN != "1/64" {
		t.Errorf("Begin = %+v", ev.Begin)
	}
	if !ev.Begin.CommitTime.Equal(now) {
		t.Errorf("CommitTime = %v, want %v", ev.Begin.CommitTime, now)
	}
}

func TestDecodeCommit(t *testing.T) {
	now := time.Now().UTC().Round(time.Microsecond)
	msg := (&wireBuilder{}).u8(tagCommit).u8(0).lsn(0, 100).lsn(0, 200).timestamp(now).bytes()

	d := NewPgOutputDecoder(nil)
	ev, err := d.Decode(msg)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Kind != EventCommit || ev.Commit.CommitLSN != "0/64" || ev.Commit.EndLSN != "0/C8" {
		t.Errorf("Commit = %+v", ev.Commit)
	}
}

func TestDecodeRelationThenInsert(t *testing.T) {
	d := NewPgOutputDecoder(nil)

	relMsg := relationMessage(1, "public", "t", byte(ReplicaIdentityDefault), []Column{
		{Flags: 1, Name: "id", TypeOid: oidInt4},
		{Flags: 0, Name: "value", TypeOid: oidText},
	})
	ev, err := d.Decode(relMsg)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Kind != EventRelation {
		t.Fatalf("Kind = %v, want EventRelation", ev.Kind)
	}
	if len(ev.Relation.Relation.KeyColumns) != 1 || ev.Relation.Relation.KeyColumns[0] != "id" {
		t.Fatalf("KeyColumns = %v", ev.Relation.Relation.KeyColumns)
	}

	insMsg := (&wireBuilder{}).u8(tagInsert).u32(1).u8(subNew).
		i16(2).textField("1").textField("v1").bytes()
	ev, err = d.Decode(insMsg)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Kind != EventInsert {
		t.Fatalf("Kind = %v, want EventInsert", ev.Kind)
	}
	m := ev.Insert.New.Map()
	if m["id"] != "1" || m["value"] != "v1" {
		t.Errorf("Insert.New = %v", m)
	}
}

func TestDecodeInsertUnknownRelationOID(t *testing.T) {
	d := NewPgOutputDecoder(nil)
	insMsg := (&wireBuilder{}).u8(tagInsert).u32(999).u8(subNew).i16(0).bytes()
	_, err := d.Decode(insMsg)
	if _, ok := err.(*ProtocolError); !ok {
		t.Fatalf("expected *ProtocolError, got %v (%T)", err, err)
	}
}

func TestDecodeUnknownTag(t *testing.T) {
	d := NewPgOutputDecoder(nil)
	_, err := d.Decode([]byte{'Z'})
	if _, ok := err.(*ProtocolError); !ok {
		t.Fatalf("expected *ProtocolError, got %v (%T)", err, err)
	}
}

func setupRelationWithFull(t *testing.T, d *PgOutputDecoder) {
	t.Helper()
	relMsg := relationMessage(5, "public", "u", byte(ReplicaIdentityFull), []Column{
		{Flags: 1, Name: "id", TypeOid: oidInt4},
		{Flags: 1, Name: "value", TypeOid: oidText},
	})
	if _, err := d.Decode(relMsg); err != nil {
		t.Fatal(err)
	}
}

func TestDecodeUpdateSubmessageO_UnchangedToastFallback(t *testing.T) {
	d := NewPgOutputDecoder(nil)
	setupRelationWithFull(t, d)

	upd := (&wireBuilder{}).u8(tagUpdate).u32(5).u8(subOld).
		i16(2).textField("1").textField("a"). // old tuple
		u8(subNew).
		i16(2).unchangedField().textField("b"). // new tuple: id unchanged, value changed
		bytes()

	ev, err := d.Decode(upd)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Kind != EventUpdate {
		t.Fatalf("Kind = %v", ev.Kind)
	}
	newMap := ev.Update.New.Map()
	if newMap["id"] != "1" {
		t.Errorf("New[id] = %v, want fallback %q", newMap["id"], "1")
	}
	if newMap["value"] != "b" {
		t.Errorf("New[value] = %v, want %q", newMap["value"], "b")
	}
	if ev.Update.Old == nil || ev.Update.Old.Map()["value"] != "a" {
		t.Errorf("Old = %v", ev.Update.Old)
	}
}

func TestDecodeUpdateSubmessageN_NoFallback(t *testing.T) {
	d := NewPgOutputDecoder(nil)
	setupRelationWithFull(t, d)

	upd := (&wireBuilder{}).u8(tagUpdate).u32(5).u8(subNew).
		i16(2).unchangedField().textField("b").
		bytes()

	ev, err := d.Decode(upd)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Update.Old != nil {
		t.Errorf("Old = %v, want nil for submessage N", ev.Update.Old)
	}
	newMap := ev.Update.New.Map()
	if _, present := newMap["id"]; present {
		t.Error("New[id] should be absent (unchanged with no fallback)")
	}
}

func TestDecodeUpdateSubmessageK_KeyTupleProjection(t *testing.T) {
	d := NewPgOutputDecoder(nil)
	relMsg := relationMessage(6, "public", "t", byte(ReplicaIdentityIndex), []Column{
		{Flags: 1, Name: "id", TypeOid: oidInt4},
		{Flags: 0, Name: "value", TypeOid: oidText},
	})
	if _, err := d.Decode(relMsg); err != nil {
		t.Fatal(err)
	}

	upd := (&wireBuilder{}).u8(tagUpdate).u32(6).u8(subKey).
		i16(2).textField("7").nullField(). // key tuple: id=7, value=null-placeholder
		u8(subNew).
		i16(2).textField("7").textField("v2").
		bytes()

	ev, err := d.Decode(upd)
	if err != nil {
		t.Fatal(err)
	}
	if !ev.Update.OldIsKey {
		t.Error("OldIsKey should be true for submessage K")
	}
	keyMap := ev.Update.Old.Map()
	if len(keyMap) != 1 || keyMap["id"] != "7" {
		t.Errorf("key tuple = %v, want only {id: 7}", keyMap)
	}
}

func TestDecodeDeleteSubmessageK(t *testing.T) {
	d := NewPgOutputDecoder(nil)
	relMsg := relationMessage(7, "public", "t", byte(ReplicaIdentityDefault), []Column{
		{Flags: 1, Name: "id", TypeOid: oidInt4},
	})
	if _, err := d.Decode(relMsg); err != nil {
		t.Fatal(err)
	}
	del := (&wireBuilder{}).u8(tagDelete).u32(7).u8(subKey).i16(1).textField("9").bytes()
	ev, err := d.Decode(del)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Kind != EventDelete || ev.Delete.Old.Map()["id"] != "9" {
		t.Errorf("Delete = %+v", ev.Delete)
	}
}

func TestDecodeTruncate(t *testing.T) {
	d := NewPgOutputDecoder(nil)
	for _, oid := range []uint32{10, 11} {
		relMsg := relationMessage(oid, "public", "t", byte(ReplicaIdentityDefault), nil)
		if _, err := d.Decode(relMsg); err != nil {
			t.Fatal(err)
		}
	}
	trunc := (&wireBuilder{}).u8(tagTruncate).i32(2).u8(0b11).u32(10).u32(11).bytes()
	ev, err := d.Decode(trunc)
	if err != nil {
		t.Fatal(err)
	}
	if !ev.Truncate.Cascade || !ev.Truncate.RestartSeq || len(ev.Truncate.Relations) != 2 {
		t.Errorf("Truncate = %+v", ev.Truncate)
	}
}

func TestDecodeMessage(t *testing.T) {
	d := NewPgOutputDecoder(nil)
	msg := (&wireBuilder{}).u8(tagMessage).u8(0).lsn(0, 500).cstring("myprefix").lenPrefixed("hello").bytes()
	ev, err := d.Decode(msg)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Kind != EventMessage {
		t.Fatalf("Kind = %v", ev.Kind)
	}
	if ev.Message.Transactional {
		t.Error("Transactional should be false for flags=0")
	}
	if ev.Message.Prefix != "myprefix" || string(ev.Message.Content) != "hello" {
		t.Errorf("Message = %+v", ev.Message)
	}
}

func TestDecodeTypeEnrichesLaterRelation(t *testing.T) {
	d := NewPgOutputDecoder(nil)
	typeMsg := (&wireBuilder{}).u8(tagType).u32(16400).cstring("public").cstring("my_enum").bytes()
	if _, err := d.Decode(typeMsg); err != nil {
		t.Fatal(err)
	}
	relMsg := relationMessage(20, "public", "t", byte(ReplicaIdentityDefault), []Column{
		{Flags: 1, Name: "id", TypeOid: 16400},
	})
	ev, err := d.Decode(relMsg)
	if err != nil {
		t.Fatal(err)
	}
	col := ev.Relation.Relation.Columns[0]
	if col.TypeName != "my_enum" || col.TypeSchema != "public" {
		t.Errorf("Column = %+v, want type enriched from earlier Type message", col)
	}
}

func TestDecodeOrigin(t *testing.T) {
	d := NewPgOutputDecoder(nil)
	msg := (&wireBuilder{}).u8(tagOrigin).lsn(0, 1).cstring("node-a").bytes()
	ev, err := d.Decode(msg)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Kind != EventOrigin || ev.Origin.Name != "node-a" {
		t.Errorf("Origin = %+v", ev.Origin)
	}
}
