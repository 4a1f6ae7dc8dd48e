package replication


// Message tag bytes for the pgoutput v1 grammar.
const (
	tagBegin    = 'B'
	tagCommit   = 'C'
	tagOrigin   = 'O'
	tagType     = 'Y'
	tagRelation = 'R'
	tagInsert   = 'I'
	tagUpdate   = 'U'
	tagDelete   = 'D'
	tagTruncate = 'T'
	tagMessage  = 'M'

	subNew = 'N'
	subKey = 'K'
	subOld = 'O'
)

// PgOutputDecoder turns one pgoutput message body (everything after the
// outer WAL envelope) into a ChangeEvent. It owns the relation and
// custom-type caches for the lifetime of a session; these caches are
// mutated only from the single task driving decode, so no synchronization
// is required.
type PgOutputDecoder struct {
	cache    *relationCache
	resolve  ParserLookup
}

// NewPgOutputDecoder constructs a decoder with fresh, empty caches.
// resolve supplies the external type-parser registry (see DefaultParserRegistry);
// it is consulted once per column, at relation-parse time.
func NewPgOutputDecoder(resolve ParserLookup) *PgOutputDecoder {
	if resolve == nil {
		resolve = DefaultParserRegistry()
	}
	return &PgOutputDecoder{cache: newRelationCache(), resolve: resolve}
}

// Decode parses one complete pgoutput message and returns the ChangeEvent
// it describes. buf must contain exactly one message (the tag byte plus its
// body); trailing or missing bytes are a protocol error.
func (d *PgOutputDecoder) Decode(buf []byte) (*ChangeEvent, error) {
	if len(buf) == 0 {
		return nil, newProtocolError("empty pgoutput message")
	}
	tag := buf[0]
	r := NewReader(buf[1:])
	ev, err := d.decodeBody(tag, r)
	if err != nil {
		return nil, err
	}
	if n := len(r.Remaining()); n > 0 {
		return nil, newProtocolError("%d trailing byte(s) after pgoutput message %q", n, rune(tag))
	}
	return ev, nil
}

// decodeBody dispatches on tag and decodes the message body from r.
func (d *PgOutputDecoder) decodeBody(tag byte, r *Reader) (*ChangeEvent, error) {
	switch tag {
	case tagBegin:
		return d.decodeBegin(r)
	case tagCommit:
		return d.decodeCommit(r)
	case tagOrigin:
		return d.decodeOrigin(r)
	case tagType:
		return d.decodeType(r)
	case tagRelation:
		return d.decodeRelation(r)
	case tagInsert:
		return d.decodeInsert(r)
	case tagUpdate:
		return d.decodeUpdate(r)
	case tagDelete:
		return d.decodeDelete(r)
	case tagTruncate:
		return d.decodeTruncate(r)
	case tagMessage:
		return d.decodeMessage(r)
	default:
		return nil, newProtocolError("unexpected pgoutput message tag %q", rune(tag))
	}
}

func wrapOOB(err error) error {
	if oob, ok := err.(*OutOfBoundsError); ok {
		return newProtocolError("%s", oob.Error())
	}
	return err
}

func (d *PgOutputDecoder) decodeBegin(r *Reader) (*ChangeEvent, error) {
	lsn, err := r.ReadLSN()
	if err != nil {
		return nil, wrapOOB(err)
	}
	ts, err := r.ReadTimestamp()
	if err != nil {
		return nil, wrapOOB(err)
	}
	xid, err := r.ReadU32()
	if err != nil {
		return nil, wrapOOB(err)
	}
	return &ChangeEvent{Kind: EventBegin, Begin: &BeginEvent{FinalLSN: lsn, CommitTime: ts, XID: xid}}, nil
}

func (d *PgOutputDecoder) decodeCommit(r *Reader) (*ChangeEvent, error) {
	flags, err := r.ReadU8()
	if err != nil {
		return nil, wrapOOB(err)
	}
	commitLSN, err := r.ReadLSN()
	if err != nil {
		return nil, wrapOOB(err)
	}
	endLSN, err := r.ReadLSN()
	if err != nil {
		return nil, wrapOOB(err)
	}
	ts, err := r.ReadTimestamp()
	if err != nil {
		return nil, wrapOOB(err)
	}
	return &ChangeEvent{Kind: EventCommit, Commit: &CommitEvent{
		Flags: flags, CommitLSN: commitLSN, EndLSN: endLSN, CommitTime: ts,
	}}, nil
}

func (d *PgOutputDecoder) decodeOrigin(r *Reader) (*ChangeEvent, error) {
	lsn, err := r.ReadLSN()
	if err != nil {
		return nil, wrapOOB(err)
	}
	name, err := r.ReadCString()
	if err != nil {
		return nil, wrapOOB(err)
	}
	return &ChangeEvent{Kind: EventOrigin, Origin: &OriginEvent{CommitLSN: lsn, Name: name}}, nil
}

func (d *PgOutputDecoder) decodeType(r *Reader) (*ChangeEvent, error) {
	oid, err := r.ReadU32()
	if err != nil {
		return nil, wrapOOB(err)
	}
	schema, err := r.ReadCString()
	if err != nil {
		return nil, wrapOOB(err)
	}
	name, err := r.ReadCString()
	if err != nil {
		return nil, wrapOOB(err)
	}
	ct := CustomType{TypeOid: oid, TypeSchema: schema, TypeName: name}
	d.cache.putType(ct)
	return &ChangeEvent{Kind: EventType, Type: &TypeEvent{Type: ct}}, nil
}

func (d *PgOutputDecoder) decodeRelation(r *Reader) (*ChangeEvent, error) {
	oid, err := r.ReadU32()
	if err != nil {
		return nil, wrapOOB(err)
	}
	schema, err := r.ReadCString()
	if err != nil {
		return nil, wrapOOB(err)
	}
	name, err := r.ReadCString()
	if err != nil {
		return nil, wrapOOB(err)
	}
	riByte, err := r.ReadU8()
	if err != nil {
		return nil, wrapOOB(err)
	}
	ri := ReplicaIdentity(riByte)
	switch ri {
	case ReplicaIdentityDefault, ReplicaIdentityNothing, ReplicaIdentityFull, ReplicaIdentityIndex:
	default:
		return nil, newProtocolError("unknown replica identity code %q", rune(riByte))
	}
	nCols, err := r.ReadI16()
	if err != nil {
		return nil, wrapOOB(err)
	}
	if nCols < 0 {
		return nil, newProtocolError("negative relation column count %d", nCols)
	}
	cols := make([]Column, nCols)
	for i := range cols {
		flags, err := r.ReadU8()
		if err != nil {
			return nil, wrapOOB(err)
		}
		colName, err := r.ReadCString()
		if err != nil {
			return nil, wrapOOB(err)
		}
		typeOid, err := r.ReadU32()
		if err != nil {
			return nil, wrapOOB(err)
		}
		typeMod, err := r.ReadI32()
		if err != nil {
			return nil, wrapOOB(err)
		}
		col := Column{Flags: flags, Name: colName, TypeOid: typeOid, TypeMod: typeMod, Parse: d.resolve(typeOid)}
		if ct, ok := d.cache.lookupType(typeOid); ok {
			col.TypeSchema = ct.TypeSchema
			col.TypeName = ct.TypeName
		}
		cols[i] = col
	}
	rel := Relation{
		OID:             oid,
		Schema:          schema,
		Name:            name,
		ReplicaIdentity: ri,
		Columns:         cols,
		KeyColumns:      deriveKeyColumns(cols),
	}
	d.cache.put(rel)
	return &ChangeEvent{Kind: EventRelation, Relation: &RelationEvent{Relation: rel}}, nil
}

func (d *PgOutputDecoder) lookupRelation(oid uint32) (Relation, error) {
	rel, ok := d.cache.get(oid)
	if !ok {
		return Relation{}, newProtocolError("reference to unknown relation OID %d", oid)
	}
	return rel, nil
}

func (d *PgOutputDecoder) decodeInsert(r *Reader) (*ChangeEvent, error) {
	relid, err := r.ReadU32()
	if err != nil {
		return nil, wrapOOB(err)
	}
	rel, err := d.lookupRelation(relid)
	if err != nil {
		return nil, err
	}
	marker, err := r.ReadU8()
	if err != nil {
		return nil, wrapOOB(err)
	}
	if marker != subNew {
		return nil, newProtocolError("unexpected insert submessage marker %q", rune(marker))
	}
	newTuple, err := d.readTuple(r, rel, nil)
	if err != nil {
		return nil, err
	}
	return &ChangeEvent{Kind: EventInsert, Insert: &InsertEvent{Relation: rel, New: newTuple}}, nil
}

func (d *PgOutputDecoder) decodeUpdate(r *Reader) (*ChangeEvent, error) {
	relid, err := r.ReadU32()
	if err != nil {
		return nil, wrapOOB(err)
	}
	rel, err := d.lookupRelation(relid)
	if err != nil {
		return nil, err
	}
	marker, err := r.ReadU8()
	if err != nil {
		return nil, wrapOOB(err)
	}

	ev := &UpdateEvent{Relation: rel}

	switch marker {
	case subKey:
		key, err := d.readTuple(r, rel, nil)
		if err != nil {
			return nil, err
		}
		key = projectKeyTuple(key, rel.KeyColumns)
		ev.Old = &key
		ev.OldIsKey = true
		if err := d.expectMarker(r, subNew); err != nil {
			return nil, err
		}
		newTuple, err := d.readTuple(r, rel, nil)
		if err != nil {
			return nil, err
		}
		ev.New = newTuple
	case subOld:
		old, err := d.readTuple(r, rel, nil)
		if err != nil {
			return nil, err
		}
		if err := d.expectMarker(r, subNew); err != nil {
			return nil, err
		}
		newTuple, err := d.readTuple(r, rel, &old)
		if err != nil {
			return nil, err
		}
		ev.Old = &old
		ev.New = newTuple
	case subNew:
		newTuple, err := d.readTuple(r, rel, nil)
		if err != nil {
			return nil, err
		}
		ev.New = newTuple
	default:
		return nil, newProtocolError("unexpected update submessage marker %q", rune(marker))
	}

	return &ChangeEvent{Kind: EventUpdate, Update: ev}, nil
}

func (d *PgOutputDecoder) expectMarker(r *Reader, want byte) error {
	got, err := r.ReadU8()
	if err != nil {
		return wrapOOB(err)
	}
	if got != want {
		return newProtocolError("expected submessage marker %q, got %q", rune(want), rune(got))
	}
	return nil
}

func (d *PgOutputDecoder) decodeDelete(r *Reader) (*ChangeEvent, error) {
	relid, err := r.ReadU32()
	if err != nil {
		return nil, wrapOOB(err)
	}
	rel, err := d.lookupRelation(relid)
	if err != nil {
		return nil, err
	}
	marker, err := r.ReadU8()
	if err != nil {
		return nil, wrapOOB(err)
	}

	ev := &DeleteEvent{Relation: rel}
	switch marker {
	case subKey:
		key, err := d.readTuple(r, rel, nil)
		if err != nil {
			return nil, err
		}
		key = projectKeyTuple(key, rel.KeyColumns)
		ev.Old = &key
		ev.OldIsKey = true
	case subOld:
		old, err := d.readTuple(r, rel, nil)
		if err != nil {
			return nil, err
		}
		ev.Old = &old
	default:
		return nil, newProtocolError("unexpected delete submessage marker %q", rune(marker))
	}
	return &ChangeEvent{Kind: EventDelete, Delete: ev}, nil
}

func (d *PgOutputDecoder) decodeTruncate(r *Reader) (*ChangeEvent, error) {
	nRels, err := r.ReadI32()
	if err != nil {
		return nil, wrapOOB(err)
	}
	if nRels < 0 {
		return nil, newProtocolError("negative truncate relation count %d", nRels)
	}
	flags, err := r.ReadU8()
	if err != nil {
		return nil, wrapOOB(err)
	}
	rels := make([]Relation, nRels)
	for i := range rels {
		relid, err := r.ReadU32()
		if err != nil {
			return nil, wrapOOB(err)
		}
		rel, err := d.lookupRelation(relid)
		if err != nil {
			return nil, err
		}
		rels[i] = rel
	}
	return &ChangeEvent{Kind: EventTruncate, Truncate: &TruncateEvent{
		Cascade:    flags&1 != 0,
		RestartSeq: flags&2 != 0,
		Relations:  rels,
	}}, nil
}

func (d *PgOutputDecoder) decodeMessage(r *Reader) (*ChangeEvent, error) {
	flags, err := r.ReadU8()
	if err != nil {
		return nil, wrapOOB(err)
	}
	lsn, err := r.ReadLSN()
	if err != nil {
		return nil, wrapOOB(err)
	}
	prefix, err := r.ReadCString()
	if err != nil {
		return nil, wrapOOB(err)
	}
	n, err := r.ReadI32()
	if err != nil {
		return nil, wrapOOB(err)
	}
	if n < 0 {
		return nil, newProtocolError("negative message content length %d", n)
	}
	content, err := r.Read(int(n))
	if err != nil {
		return nil, wrapOOB(err)
	}
	buf := make([]byte, len(content))
	copy(buf, content)
	return &ChangeEvent{Kind: EventMessage, Message: &MessageEvent{
		Transactional: flags&1 != 0,
		LSN:           lsn,
		Prefix:        prefix,
		Content:       buf,
	}}, nil
}

// readTuple decodes one tuple given the field count on the wire. Fields are
// matched to rel.Columns positionally; a field index beyond the relation's
// known columns is decoded with a passthrough parser and an empty name
// rather than rejected, tolerating a relation whose cached column set is
// momentarily behind the wire.
func (d *PgOutputDecoder) readTuple(r *Reader, rel Relation, fallback *TupleData) (TupleData, error) {
	nFields, err := r.ReadI16()
	if err != nil {
		return TupleData{}, wrapOOB(err)
	}
	if nFields < 0 {
		return TupleData{}, newProtocolError("negative tuple field count %d", nFields)
	}
	fields := make([]Field, nFields)
	for i := range fields {
		var colName string
		var parse TypeParser = passthroughParser
		if i < len(rel.Columns) {
			colName = rel.Columns[i].Name
			if rel.Columns[i].Parse != nil {
				parse = rel.Columns[i].Parse
			}
		}
		f, err := d.readField(r, colName, parse, fallback)
		if err != nil {
			return TupleData{}, err
		}
		fields[i] = f
	}
	return TupleData{Fields: fields}, nil
}

func (d *PgOutputDecoder) readField(r *Reader, name string, parse TypeParser, fallback *TupleData) (Field, error) {
	kind, err := r.ReadU8()
	if err != nil {
		return Field{}, wrapOOB(err)
	}
	switch kind {
	case 'n':
		return Field{Name: name, Kind: 'n', Value: nil, Present: true}, nil
	case 't':
		text, err := r.ReadLengthPrefixedString()
		if err != nil {
			return Field{}, wrapOOB(err)
		}
		val, err := parse(text)
		if err != nil {
			return Field{}, newProtocolError("parsing column %q: %s", name, err)
		}
		return Field{Name: name, Kind: 't', Value: val, Present: true}, nil
	case 'b':
		n, err := r.ReadI32()
		if err != nil {
			return Field{}, wrapOOB(err)
		}
		if n < 0 {
			return Field{}, newProtocolError("negative binary field length %d", n)
		}
		raw, err := r.Read(int(n))
		if err != nil {
			return Field{}, wrapOOB(err)
		}
		buf := make([]byte, len(raw))
		copy(buf, raw)
		return Field{Name: name, Kind: 'b', Value: buf, Present: true}, nil
	case 'u':
		if fallback != nil {
			if v, ok := fallback.Get(name); ok {
				return Field{Name: name, Kind: 'u', Value: v, Present: true}, nil
			}
		}
		return Field{Name: name, Kind: 'u', Value: nil, Present: false}, nil
	default:
		return Field{}, newProtocolError("unexpected tuple field kind %q", rune(kind))
	}
}

// projectKeyTuple retains only the relation's key columns, dropping any
// field whose decoded value is null (a placeholder for a non-key position
// in the wire encoding rather than a genuine key value).
func projectKeyTuple(t TupleData, keyColumns []string) TupleData {
	keys := make(map[string]bool, len(keyColumns))
	for _, k := range keyColumns {
		keys[k] = true
	}
	var out []Field
	for _, f := range t.Fields {
		if !keys[f.Name] {
			continue
		}
		if f.Kind == 'n' {
			continue
		}
		out = append(out, f)
	}
	return TupleData{Fields: out}
}
