package replication

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"
)

func querySingleBool(ctx context.Context, conn *pgconn.PgConn, sql string) (bool, error) {
	results, err := conn.Exec(ctx, sql).ReadAll()
	if err != nil {
		return false, fmt.Errorf("running %q: %w", sql, err)
	}
	if len(results) == 0 || len(results[0].Rows) == 0 {
		return false, fmt.Errorf("no rows returned for %q", sql)
	}
	val := string(results[0].Rows[0][0])
	return val == "t" || val == "true", nil
}

func execSimple(ctx context.Context, conn *pgconn.PgConn, sql string) error {
	_, err := conn.Exec(ctx, sql).ReadAll()
	if err != nil {
		return fmt.Errorf("running %q: %w", sql, err)
	}
	return nil
}

// sendStandbyStatusUpdate writes a StandbyStatusUpdate ('r') CopyData
// message with the given write/flush/apply LSNs and clock offset.
func sendStandbyStatusUpdate(ctx context.Context, conn *pgconn.PgConn, writeLSN, flushLSN, applyLSN uint64, clock int64) error {
	var buf bytes.Buffer
	buf.WriteByte('r')
	_ = binary.Write(&buf, binary.BigEndian, writeLSN)
	_ = binary.Write(&buf, binary.BigEndian, flushLSN)
	_ = binary.Write(&buf, binary.BigEndian, applyLSN)
	_ = binary.Write(&buf, binary.BigEndian, clock)
	buf.WriteByte(0) // reply requested = false

	frontend := conn.Frontend()
	frontend.Send(&pgproto3.CopyData{Data: buf.Bytes()})
	return frontend.Flush()
}
