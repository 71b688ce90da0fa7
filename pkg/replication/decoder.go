// Package replication implements the logical-replication event bus: a pure
// decoder for the PostgreSQL pgoutput wire protocol (C9), a connection
// state machine and supervising manager guaranteeing at most one active
// consumer cluster-wide (C10), and a per-table hook dispatcher (C11).
package replication

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// pgEpochOffsetMicros is the number of microseconds between the Unix epoch and
// 2000-01-01T00:00:00Z, the epoch the replication protocol's clock fields
// and transaction timestamps use.
const pgEpochOffsetMicros = 946684800000000

// Begin marks the start of a transaction's change stream. Semantically
// ignored beyond state bookkeeping, per spec §4.9.
type Begin struct {
	FinalLSN  uint64
	Timestamp int64 // microseconds since 2000-01-01
	XID       uint32
}

// Commit marks the end of a transaction's change stream.
type Commit struct {
	Flags          uint8
	CommitLSN      uint64
	EndLSN         uint64
	Timestamp      int64
}

// Origin records a replication origin; ignored semantically.
type Origin struct {
	CommitLSN uint64
	Name      string
}

// Column describes one column of a relation, as reported by a Relation
// message.
type Column struct {
	Flags   uint8
	Name    string
	TypeOID uint32
	TypeMod int32
}

// Relation is stored in connection state keyed by its ID so later
// Insert/Update/Delete messages, which only carry the ID, can be resolved
// to a namespace/table/column shape.
type Relation struct {
	ID              uint32
	Namespace       string
	Name            string
	ReplicaIdentity uint8
	Columns         []Column
}

// Tuple is a decoded row: column name to its text-format value. Null and
// unchanged-TOASTed columns are omitted.
type Tuple map[string]string

// Insert is a decoded row insertion.
type Insert struct {
	RelationID uint32
	Tuple      Tuple
}

// Update is a decoded row update. OldTuple is nil unless the relation's
// replica identity includes the old row (FULL, or the key columns only).
type Update struct {
	RelationID uint32
	OldTuple   Tuple
	Tuple      Tuple
}

// Delete is a decoded row deletion.
type Delete struct {
	RelationID uint32
	OldTuple   Tuple
}

// Truncate is a decoded TRUNCATE of one or more relations; ignored
// semantically beyond state bookkeeping.
type Truncate struct {
	RelationIDs []uint32
	Cascade     bool
	RestartSeq  bool
}

// TypeMessage reports a custom type referenced by a relation column;
// ignored semantically.
type TypeMessage struct {
	ID        uint32
	Namespace string
	Name      string
}

// Unsupported wraps any pgoutput message tag this decoder doesn't
// recognize. DecodeWAL is pure and total: it never errors on unknown
// input, it returns Unsupported, per spec §4.9.
type Unsupported struct {
	Tag byte
	Raw []byte
}

// KeepAlive is a decoded primary keepalive message ('k').
type KeepAlive struct {
	WALEnd     uint64
	ServerTime int64
	ReplyNow   bool
}

// WriteHeader is the envelope around a WAL data message ('w'): the
// positions the server reports alongside the pgoutput payload.
type WriteHeader struct {
	WALStart   uint64
	WALEnd     uint64
	ServerTime int64
	Payload    []byte
}

// DecodeServerMessage parses the outermost replication protocol framing:
// a KeepAlive ('k') or a Write envelope ('w') carrying a pgoutput payload,
// per spec §4.9.
func DecodeServerMessage(raw []byte) (any, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty replication message")
	}
	r := bytes.NewReader(raw[1:])
	switch raw[0] {
	case 'k':
		var walEnd uint64
		var serverTime int64
		var replyRequested uint8
		if err := readFields(r, &walEnd, &serverTime, &replyRequested); err != nil {
			return nil, fmt.Errorf("decoding keepalive: %w", err)
		}
		return KeepAlive{WALEnd: walEnd, ServerTime: serverTime, ReplyNow: replyRequested != 0}, nil
	case 'w':
		var walStart, walEnd uint64
		var serverTime int64
		if err := readFields(r, &walStart, &walEnd, &serverTime); err != nil {
			return nil, fmt.Errorf("decoding write header: %w", err)
		}
		payload := make([]byte, r.Len())
		_, _ = r.Read(payload)
		return WriteHeader{WALStart: walStart, WALEnd: walEnd, ServerTime: serverTime, Payload: payload}, nil
	default:
		return Unsupported{Tag: raw[0], Raw: raw}, nil
	}
}

// DecodeWAL parses one pgoutput payload, updating relations as Relation
// messages are seen so later Insert/Update/Delete can resolve their
// relation ID.
func DecodeWAL(payload []byte, relations map[uint32]*Relation) (any, error) {
	if len(payload) == 0 {
		return Unsupported{Raw: payload}, nil
	}
	tag := payload[0]
	r := bytes.NewReader(payload[1:])

	switch tag {
	case 'B':
		var finalLSN uint64
		var ts int64
		var xid uint32
		if err := readFields(r, &finalLSN, &ts, &xid); err != nil {
			return Unsupported{Tag: tag, Raw: payload}, nil
		}
		return Begin{FinalLSN: finalLSN, Timestamp: ts, XID: xid}, nil

	case 'C':
		var flags uint8
		var commitLSN, endLSN uint64
		var ts int64
		if err := readFields(r, &flags, &commitLSN, &endLSN, &ts); err != nil {
			return Unsupported{Tag: tag, Raw: payload}, nil
		}
		return Commit{Flags: flags, CommitLSN: commitLSN, EndLSN: endLSN, Timestamp: ts}, nil

	case 'O':
		var commitLSN uint64
		if err := readFields(r, &commitLSN); err != nil {
			return Unsupported{Tag: tag, Raw: payload}, nil
		}
		name, err := readCString(r)
		if err != nil {
			return Unsupported{Tag: tag, Raw: payload}, nil
		}
		return Origin{CommitLSN: commitLSN, Name: name}, nil

	case 'R':
		rel, err := decodeRelation(r)
		if err != nil {
			return Unsupported{Tag: tag, Raw: payload}, nil
		}
		relations[rel.ID] = rel
		return *rel, nil

	case 'Y':
		var id uint32
		if err := readFields(r, &id); err != nil {
			return Unsupported{Tag: tag, Raw: payload}, nil
		}
		namespace, err := readCString(r)
		if err != nil {
			return Unsupported{Tag: tag, Raw: payload}, nil
		}
		name, err := readCString(r)
		if err != nil {
			return Unsupported{Tag: tag, Raw: payload}, nil
		}
		return TypeMessage{ID: id, Namespace: namespace, Name: name}, nil

	case 'I':
		var relID uint32
		if err := readFields(r, &relID); err != nil {
			return Unsupported{Tag: tag, Raw: payload}, nil
		}
		if _, err := readByte(r); err != nil { // 'N' tuple marker
			return Unsupported{Tag: tag, Raw: payload}, nil
		}
		tuple, err := decodeTuple(r, relations[relID])
		if err != nil {
			return Unsupported{Tag: tag, Raw: payload}, nil
		}
		return Insert{RelationID: relID, Tuple: tuple}, nil

	case 'U':
		return decodeUpdate(r, payload, relations)

	case 'D':
		var relID uint32
		if err := readFields(r, &relID); err != nil {
			return Unsupported{Tag: tag, Raw: payload}, nil
		}
		marker, err := readByte(r)
		if err != nil {
			return Unsupported{Tag: tag, Raw: payload}, nil
		}
		if marker != 'K' && marker != 'O' {
			return Unsupported{Tag: tag, Raw: payload}, nil
		}
		tuple, err := decodeTuple(r, relations[relID])
		if err != nil {
			return Unsupported{Tag: tag, Raw: payload}, nil
		}
		return Delete{RelationID: relID, OldTuple: tuple}, nil

	case 'T':
		return decodeTruncate(r, payload)

	default:
		return Unsupported{Tag: tag, Raw: payload}, nil
	}
}

func decodeUpdate(r *bytes.Reader, payload []byte, relations map[uint32]*Relation) (any, error) {
	var relID uint32
	if err := readFields(r, &relID); err != nil {
		return Unsupported{Tag: 'U', Raw: payload}, nil
	}
	marker, err := readByte(r)
	if err != nil {
		return Unsupported{Tag: 'U', Raw: payload}, nil
	}

	var oldTuple Tuple
	if marker == 'K' || marker == 'O' {
		oldTuple, err = decodeTuple(r, relations[relID])
		if err != nil {
			return Unsupported{Tag: 'U', Raw: payload}, nil
		}
		marker, err = readByte(r)
		if err != nil {
			return Unsupported{Tag: 'U', Raw: payload}, nil
		}
	}
	if marker != 'N' {
		return Unsupported{Tag: 'U', Raw: payload}, nil
	}
	newTuple, err := decodeTuple(r, relations[relID])
	if err != nil {
		return Unsupported{Tag: 'U', Raw: payload}, nil
	}
	return Update{RelationID: relID, OldTuple: oldTuple, Tuple: newTuple}, nil
}

func decodeTruncate(r *bytes.Reader, payload []byte) (any, error) {
	var nrelids uint32
	var options uint8
	if err := readFields(r, &nrelids, &options); err != nil {
		return Unsupported{Tag: 'T', Raw: payload}, nil
	}
	ids := make([]uint32, 0, nrelids)
	for i := uint32(0); i < nrelids; i++ {
		var id uint32
		if err := readFields(r, &id); err != nil {
			return Unsupported{Tag: 'T', Raw: payload}, nil
		}
		ids = append(ids, id)
	}
	return Truncate{RelationIDs: ids, Cascade: options&1 != 0, RestartSeq: options&2 != 0}, nil
}

func decodeRelation(r *bytes.Reader) (*Relation, error) {
	var id uint32
	if err := readFields(r, &id); err != nil {
		return nil, err
	}
	namespace, err := readCString(r)
	if err != nil {
		return nil, err
	}
	name, err := readCString(r)
	if err != nil {
		return nil, err
	}
	replicaIdentity, err := readByte(r)
	if err != nil {
		return nil, err
	}
	var numCols uint16
	if err := readFields(r, &numCols); err != nil {
		return nil, err
	}
	cols := make([]Column, 0, numCols)
	for i := uint16(0); i < numCols; i++ {
		flags, err := readByte(r)
		if err != nil {
			return nil, err
		}
		colName, err := readCString(r)
		if err != nil {
			return nil, err
		}
		var typeOID uint32
		var typeMod int32
		if err := readFields(r, &typeOID, &typeMod); err != nil {
			return nil, err
		}
		cols = append(cols, Column{Flags: flags, Name: colName, TypeOID: typeOID, TypeMod: typeMod})
	}
	return &Relation{ID: id, Namespace: namespace, Name: name, ReplicaIdentity: replicaIdentity, Columns: cols}, nil
}

func decodeTuple(r *bytes.Reader, rel *Relation) (Tuple, error) {
	var numCols uint16
	if err := readFields(r, &numCols); err != nil {
		return nil, err
	}
	tuple := make(Tuple, numCols)
	for i := uint16(0); i < numCols; i++ {
		kind, err := readByte(r)
		if err != nil {
			return nil, err
		}
		var name string
		if rel != nil && int(i) < len(rel.Columns) {
			name = rel.Columns[i].Name
		} else {
			name = fmt.Sprintf("col%d", i)
		}
		switch kind {
		case 'n', 'u':
			// null, or unchanged TOAST — omit from the tuple.
			continue
		case 't':
			var length uint32
			if err := readFields(r, &length); err != nil {
				return nil, err
			}
			buf := make([]byte, length)
			if _, err := readFull(r, buf); err != nil {
				return nil, err
			}
			tuple[name] = string(buf)
		default:
			return nil, fmt.Errorf("unknown tuple column kind %q", kind)
		}
	}
	return tuple, nil
}

func readFields(r *bytes.Reader, fields ...any) error {
	for _, f := range fields {
		if err := binary.Read(r, binary.BigEndian, f); err != nil {
			return err
		}
	}
	return nil
}

func readByte(r *bytes.Reader) (byte, error) {
	return r.ReadByte()
}

func readFull(r *bytes.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, fmt.Errorf("unexpected end of buffer")
		}
	}
	return total, nil
}

func readCString(r *bytes.Reader) (string, error) {
	var buf bytes.Buffer
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		if b == 0 {
			return buf.String(), nil
		}
		buf.WriteByte(b)
	}
}
