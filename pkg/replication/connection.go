package replication

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"
)

// Step is a connection's position in the handshake state machine of spec §3/§4.10.
type Step int

const (
	StepDisconnected Step = iota
	StepCheckPublication
	StepCreatePublication
	StepCheckReplicationSlot
	StepCreateSlot
	StepStartReplicationSlot
	StepStreaming
)

// State is the process-local replication state; it holds no durable data
// beyond what lives in the slot on the server.
type State struct {
	Schema               string
	Step                 Step
	PublicationName      string
	ReplicationSlotName  string
	OutputPlugin         string
	ProtoVersion         int
	TableSubscriptions   []string
	Relations            map[uint32]*Relation
}

// NewState creates replication state in StepDisconnected, ready to begin
// the handshake.
func NewState(schema, publicationName, slotName, outputPlugin string, protoVersion int, tables []string) *State {
	return &State{
		Schema: schema, Step: StepDisconnected,
		PublicationName: publicationName, ReplicationSlotName: slotName,
		OutputPlugin: outputPlugin, ProtoVersion: protoVersion,
		TableSubscriptions: tables, Relations: make(map[uint32]*Relation),
	}
}

// OnWrite is invoked once per decoded data message, strictly in WAL order —
// callers must process a write fully (including the dispatcher fan-out)
// before the next one is read off the socket, per spec §4.10.
type OnWrite func(ctx context.Context, msg any) error

// Connection drives one replication connection through its handshake and
// then its streaming loop, issuing StandbyStatusUpdate replies inline.
type Connection struct {
	conn    *pgconn.PgConn
	state   *State
	onWrite OnWrite
}

// NewConnection wraps an already-established replication-mode pgconn with
// the handshake/streaming state machine.
func NewConnection(conn *pgconn.PgConn, state *State, onWrite OnWrite) *Connection {
	return &Connection{conn: conn, state: state, onWrite: onWrite}
}

// Run drives the connection from StepDisconnected through StepStreaming and
// then blocks processing WAL messages until ctx is cancelled or the
// connection fails, per spec §4.10's state diagram.
func (c *Connection) Run(ctx context.Context) error {
	if err := c.handshake(ctx); err != nil {
		c.state.Step = StepDisconnected
		return fmt.Errorf("replication handshake: %w", err)
	}
	if err := c.stream(ctx); err != nil {
		c.state.Step = StepDisconnected
		return fmt.Errorf("replication streaming: %w", err)
	}
	return nil
}

func (c *Connection) handshake(ctx context.Context) error {
	c.state.Step = StepCheckPublication
	exists, err := c.publicationExists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		c.state.Step = StepCreatePublication
		if err := c.createPublication(ctx); err != nil {
			return err
		}
	}

	c.state.Step = StepCheckReplicationSlot
	slotExists, err := c.slotExists(ctx)
	if err != nil {
		return err
	}
	if !slotExists {
		c.state.Step = StepCreateSlot
		if err := c.createSlot(ctx); err != nil {
			return err
		}
	}

	c.state.Step = StepStartReplicationSlot
	if err := c.startReplication(ctx); err != nil {
		return err
	}
	c.state.Step = StepStreaming
	return nil
}

func (c *Connection) publicationExists(ctx context.Context) (bool, error) {
	return querySingleBool(ctx, c.conn,
		fmt.Sprintf("SELECT EXISTS(SELECT 1 FROM pg_publication WHERE pubname = '%s')", c.state.PublicationName))
}

func (c *Connection) createPublication(ctx context.Context) error {
	tables := make([]string, len(c.state.TableSubscriptions))
	for i, t := range c.state.TableSubscriptions {
		tables[i] = fmt.Sprintf("%s.%s", c.state.Schema, t)
	}
	sql := fmt.Sprintf("CREATE PUBLICATION %s FOR TABLE %s", c.state.PublicationName, strings.Join(tables, ", "))
	return execSimple(ctx, c.conn, sql)
}

func (c *Connection) slotExists(ctx context.Context) (bool, error) {
	return querySingleBool(ctx, c.conn,
		fmt.Sprintf("SELECT EXISTS(SELECT 1 FROM pg_replication_slots WHERE slot_name = '%s')", c.state.ReplicationSlotName))
}

func (c *Connection) createSlot(ctx context.Context) error {
	sql := fmt.Sprintf("CREATE_REPLICATION_SLOT %s LOGICAL %s NOEXPORT_SNAPSHOT", c.state.ReplicationSlotName, c.state.OutputPlugin)
	return execSimple(ctx, c.conn, sql)
}

func (c *Connection) startReplication(ctx context.Context) error {
	sql := fmt.Sprintf(
		"START_REPLICATION SLOT %s LOGICAL 0/0 (proto_version '%d', publication_names '%s')",
		c.state.ReplicationSlotName, c.state.ProtoVersion, c.state.PublicationName,
	)
	mrr := c.conn.Exec(ctx, sql)
	_, err := mrr.ReadAll()
	return err
}

func (c *Connection) stream(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msg, err := c.conn.ReceiveMessage(ctx)
		if err != nil {
			return fmt.Errorf("receiving replication message: %w", err)
		}
		cdm, ok := msg.(*pgproto3.CopyData)
		if !ok {
			continue
		}

		decoded, err := DecodeServerMessage(cdm.Data)
		if err != nil {
			return fmt.Errorf("decoding replication message: %w", err)
		}

		switch m := decoded.(type) {
		case KeepAlive:
			if m.ReplyNow {
				if err := c.sendStandbyStatusUpdate(ctx, m.WALEnd); err != nil {
					return err
				}
			}
		case WriteHeader:
			walMsg, err := DecodeWAL(m.Payload, c.state.Relations)
			if err != nil {
				return fmt.Errorf("decoding WAL payload: %w", err)
			}
			if c.onWrite != nil {
				if err := c.onWrite(ctx, walMsg); err != nil {
					return fmt.Errorf("on_write callback: %w", err)
				}
			}
		}
	}
}

// sendStandbyStatusUpdate replies to a reply=now KeepAlive with wal_end+1
// for the write/flush/apply positions and the µs clock offset from
// 2000-01-01T00:00:00Z, per spec §4.10 and testable property 6.
func (c *Connection) sendStandbyStatusUpdate(ctx context.Context, walEnd uint64) error {
	clock := PgEpochMicros(time.Now())
	return sendStandbyStatusUpdate(ctx, c.conn, walEnd+1, walEnd+1, walEnd+1, clock)
}

// PgEpochMicros converts a wall-clock time to microseconds since
// 2000-01-01T00:00:00Z, the epoch the replication protocol's clock fields
// use.
func PgEpochMicros(t time.Time) int64 {
	return t.UnixMicro() - pgEpochOffsetMicros
}
