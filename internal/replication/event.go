package replication

import "time"

// EventKind discriminates the concrete type carried by a ChangeEvent.
type EventKind byte

const (
	EventBegin EventKind = iota
	EventCommit
	EventOrigin
	EventRelation
	EventType
	EventInsert
	EventUpdate
	EventDelete
	EventTruncate
	EventMessage
)

func (k EventKind) String() string {
	switch k {
	case EventBegin:
		return "begin"
	case EventCommit:
		return "commit"
	case EventOrigin:
		return "origin"
	case EventRelation:
		return "relation"
	case EventType:
		return "type"
	case EventInsert:
		return "insert"
	case EventUpdate:
		return "update"
	case EventDelete:
		return "delete"
	case EventTruncate:
		return "truncate"
	case EventMessage:
		return "message"
	default:
		return "unknown"
	}
}

// ChangeEvent is the decoder's single output type: a tagged union over the
// ten pgoutput message kinds. Exactly one of the typed fields below is
// populated, selected by Kind.
type ChangeEvent struct {
	Kind EventKind

	Begin    *BeginEvent
	Commit   *CommitEvent
	Origin   *OriginEvent
	Relation *RelationEvent
	Type     *TypeEvent
	Insert   *InsertEvent
	Update   *UpdateEvent
	Delete   *DeleteEvent
	Truncate *TruncateEvent
	Message  *MessageEvent
}

// BeginEvent opens a transaction ('B').
type BeginEvent struct {
	FinalLSN   string
	CommitTime time.Time
	XID        uint32
}

// CommitEvent closes a transaction ('C').
type CommitEvent struct {
	Flags          uint8
	CommitLSN      string
	EndLSN         string
	CommitTime     time.Time
}

// OriginEvent reports the replication origin a transaction was replayed
// from on the publisher ('O'). The server sends it ahead of the
// transaction's changes when that transaction carries a replication origin.
type OriginEvent struct {
	CommitLSN string
	Name      string
}

// RelationEvent announces (or re-announces) a table's schema ('R'). It is
// cached by OID so that subsequent tuple events can resolve their columns.
type RelationEvent struct {
	Relation Relation
}

// TypeEvent announces a user-defined type's schema-qualified name ('Y'),
// cached by OID for later Relation column enrichment.
type TypeEvent struct {
	Type CustomType
}

// InsertEvent reports a new row ('I').
type InsertEvent struct {
	Relation Relation
	New      TupleData
}

// UpdateEvent reports a changed row ('U'). Old is nil unless the relation's
// replica identity is FULL or INDEX (submessage 'O' or 'K').
type UpdateEvent struct {
	Relation Relation
	Old      *TupleData
	OldIsKey bool // true when Old came from a 'K' (key-only) submessage
	New      TupleData
}

// DeleteEvent reports a removed row ('D'). Old is populated according to the
// same replica-identity rules as UpdateEvent.Old.
type DeleteEvent struct {
	Relation Relation
	Old      *TupleData
	OldIsKey bool
}

// TruncateEvent reports one or more tables truncated together ('T').
type TruncateEvent struct {
	Cascade    bool
	RestartSeq bool
	Relations  []Relation
}

// MessageEvent carries an application-defined logical decoding message
// ('M'), only surfaced when the session was constructed with
// includeCustomMessages set.
type MessageEvent struct {
	Transactional bool
	LSN           string
	Prefix        string
	Content       []byte
}
