package replication

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"
)

func encodeKeepAlive(walEnd uint64, serverTime int64, replyRequested uint8) []byte {
	var buf bytes.Buffer
	buf.WriteByte('k')
	_ = binary.Write(&buf, binary.BigEndian, walEnd)
	_ = binary.Write(&buf, binary.BigEndian, serverTime)
	buf.WriteByte(replyRequested)
	return buf.Bytes()
}

// TestKeepAliveReplyNow asserts property 6: a primary keepalive with
// reply_requested set decodes with ReplyNow true and preserves WALEnd so
// the connection can reply with wal_end+1 for write/flush/apply, and the
// protocol's epoch conversion matches 2000-01-01T00:00:00Z.
func TestKeepAliveReplyNow(t *testing.T) {
	raw := encodeKeepAlive(0x1234, 999, 1)
	msg, err := DecodeServerMessage(raw)
	if err != nil {
		t.Fatalf("DecodeServerMessage: %v", err)
	}
	ka, ok := msg.(KeepAlive)
	if !ok {
		t.Fatalf("expected KeepAlive, got %T", msg)
	}
	if !ka.ReplyNow {
		t.Fatalf("expected ReplyNow true when reply_requested byte is 1")
	}
	if ka.WALEnd != 0x1234 {
		t.Fatalf("WALEnd = %#x, want %#x", ka.WALEnd, 0x1234)
	}

	raw2 := encodeKeepAlive(0x1234, 999, 0)
	msg2, err := DecodeServerMessage(raw2)
	if err != nil {
		t.Fatalf("DecodeServerMessage: %v", err)
	}
	ka2 := msg2.(KeepAlive)
	if ka2.ReplyNow {
		t.Fatalf("expected ReplyNow false when reply_requested byte is 0")
	}
}

func TestPgEpochMicros(t *testing.T) {
	epoch := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := PgEpochMicros(epoch); got != 0 {
		t.Fatalf("PgEpochMicros(2000-01-01) = %d, want 0", got)
	}
	oneSecondLater := epoch.Add(time.Second)
	if got := PgEpochMicros(oneSecondLater); got != 1_000_000 {
		t.Fatalf("PgEpochMicros(epoch+1s) = %d, want 1000000", got)
	}
}

func TestDecodeWALUnsupportedOnUnknownTag(t *testing.T) {
	msg, err := DecodeWAL([]byte{'Z', 1, 2, 3}, map[uint32]*Relation{})
	if err != nil {
		t.Fatalf("DecodeWAL must be total and never error, got: %v", err)
	}
	if _, ok := msg.(Unsupported); !ok {
		t.Fatalf("expected Unsupported for unknown tag, got %T", msg)
	}
}

func TestDecodeWALInsertRoundTrip(t *testing.T) {
	rel := &Relation{ID: 7, Namespace: "public", Name: "widgets", Columns: []Column{
		{Name: "id"}, {Name: "name"},
	}}
	relations := map[uint32]*Relation{7: rel}

	var buf bytes.Buffer
	buf.WriteByte('I')
	_ = binary.Write(&buf, binary.BigEndian, uint32(7))
	buf.WriteByte('N')
	_ = binary.Write(&buf, binary.BigEndian, uint16(2))
	buf.WriteByte('t')
	_ = binary.Write(&buf, binary.BigEndian, uint32(1))
	buf.WriteString("1")
	buf.WriteByte('t')
	_ = binary.Write(&buf, binary.BigEndian, uint32(6))
	buf.WriteString("widget")

	msg, err := DecodeWAL(buf.Bytes(), relations)
	if err != nil {
		t.Fatalf("DecodeWAL: %v", err)
	}
	ins, ok := msg.(Insert)
	if !ok {
		t.Fatalf("expected Insert, got %T", msg)
	}
	if ins.RelationID != 7 || ins.Tuple["id"] != "1" || ins.Tuple["name"] != "widget" {
		t.Fatalf("unexpected Insert: %+v", ins)
	}
}
