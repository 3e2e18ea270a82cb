// Package recorder keeps the latest BMS snapshot and a capped fault history
// in Redis, and republishes both on a Redis channel for remote watchers.
//
// Keys, for prefix p and box b:
//
//	p:b:snapshot  hash of the latest snapshot
//	p:b:faults    list of fault events, newest first, capped at History
//	p:b:events    channel carrying every snapshot and fault as JSON
package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"bmscore-go/bus"
	"bmscore-go/services/config"
	"bmscore-go/types"
	"bmscore-go/x/logx"
)

type Recorder struct {
	rdb     *redis.Client
	prefix  string
	box     uint8
	history int
	session string
	log     *slog.Logger
}

// Dial parses cfg.URL and connects.
func Dial(ctx context.Context, cfg config.RecorderConfig, box uint8, log *slog.Logger) (*Recorder, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	r := New(opts, cfg, box, log)
	if err := r.Ping(ctx); err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("redis unreachable at %s: %w", opts.Addr, err)
	}
	return r, nil
}

// New builds a recorder with a fresh session id.
func New(opts *redis.Options, cfg config.RecorderConfig, box uint8, log *slog.Logger) *Recorder {
	if log == nil {
		log = logx.Discard()
	}
	return &Recorder{
		rdb:     redis.NewClient(opts),
		prefix:  cfg.Prefix,
		box:     box,
		history: cfg.History,
		session: uuid.NewString(),
		log:     log,
	}
}

func (r *Recorder) Close() error { return r.rdb.Close() }

func (r *Recorder) Ping(ctx context.Context) error { return r.rdb.Ping(ctx).Err() }

// Session identifies this process run in every record.
func (r *Recorder) Session() string { return r.session }

func (r *Recorder) key(name string) string {
	return fmt.Sprintf("%s:%d:%s", r.prefix, r.box, name)
}

func (r *Recorder) SnapshotKey() string { return r.key("snapshot") }
func (r *Recorder) FaultsKey() string   { return r.key("faults") }
func (r *Recorder) EventsChannel() string {
	return r.key("events")
}

type event struct {
	Type    string `json:"type"`
	Session string `json:"session"`
	Data    any    `json:"data"`
}

func snapshotHash(session string, s types.Snapshot) (map[string]any, error) {
	cells, err := json.Marshal(s.Cells)
	if err != nil {
		return nil, err
	}
	temps, err := json.Marshal(s.Temps)
	if err != nil {
		return nil, err
	}
	f := strconv.FormatFloat
	return map[string]any{
		"session":       session,
		"seq":           strconv.FormatUint(s.Seq, 10),
		"ts_ms":         strconv.FormatInt(s.TS, 10),
		"mode":          s.Mode,
		"slaves":        strconv.Itoa(s.Slaves),
		"total_v":       f(s.TotalVolts, 'f', 3, 64),
		"amps":          f(s.Amps, 'f', 3, 64),
		"pack_v":        f(s.PackVolts, 'f', 3, 64),
		"current_fresh": strconv.FormatBool(s.CurrentFresh),
		"min_cell_v":    f(s.MinCell.Value, 'f', 4, 64),
		"min_cell_idx":  strconv.Itoa(s.MinCell.Index),
		"max_cell_v":    f(s.MaxCell.Value, 'f', 4, 64),
		"max_cell_idx":  strconv.Itoa(s.MaxCell.Index),
		"min_temp_c":    f(s.MinTemp.Value, 'f', 2, 64),
		"min_temp_idx":  strconv.Itoa(s.MinTemp.Index),
		"max_temp_c":    f(s.MaxTemp.Value, 'f', 2, 64),
		"max_temp_idx":  strconv.Itoa(s.MaxTemp.Index),
		"cycle_ms":      f(s.CycleMs, 'f', 3, 64),
		"cells_v":       string(cells),
		"temps_c":       string(temps),
	}, nil
}

// RecordSnapshot overwrites the snapshot hash and publishes the snapshot.
func (r *Recorder) RecordSnapshot(ctx context.Context, s types.Snapshot) error {
	hash, err := snapshotHash(r.session, s)
	if err != nil {
		return fmt.Errorf("failed to serialize snapshot: %w", err)
	}
	if err := r.rdb.HSet(ctx, r.SnapshotKey(), hash).Err(); err != nil {
		return fmt.Errorf("failed to write snapshot to Redis: %w", err)
	}
	return r.publish(ctx, "snapshot", s)
}

// RecordFault pushes ev onto the capped history and publishes it.
func (r *Recorder) RecordFault(ctx context.Context, ev types.FaultEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to serialize fault: %w", err)
	}
	key := r.FaultsKey()
	_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, key, raw)
		p.LTrim(ctx, key, 0, int64(r.history-1))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write fault to Redis: %w", err)
	}
	return r.publish(ctx, "fault", ev)
}

func (r *Recorder) publish(ctx context.Context, typ string, data any) error {
	raw, err := json.Marshal(event{Type: typ, Session: r.session, Data: data})
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", typ, err)
	}
	if err := r.rdb.Publish(ctx, r.EventsChannel(), raw).Err(); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", typ, err)
	}
	return nil
}

// Faults returns the recorded history, newest first.
func (r *Recorder) Faults(ctx context.Context) ([]types.FaultEvent, error) {
	raws, err := r.rdb.LRange(ctx, r.FaultsKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read faults from Redis: %w", err)
	}
	out := make([]types.FaultEvent, 0, len(raws))
	for _, raw := range raws {
		var ev types.FaultEvent
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return nil, fmt.Errorf("failed to deserialize fault: %w", err)
		}
		out = append(out, ev)
	}
	return out, nil
}

// Start records snapshots and faults from the bus until ctx is done.
func (r *Recorder) Start(ctx context.Context, conn *bus.Connection) error {
	snaps := conn.Subscribe(types.TopicSnapshot())
	faults := conn.Subscribe(types.TopicFault())
	go func() {
		defer conn.Unsubscribe(snaps)
		defer conn.Unsubscribe(faults)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-snaps.Channel():
				if !ok {
					return
				}
				if s, ok := msg.Payload.(types.Snapshot); ok {
					if err := r.RecordSnapshot(ctx, s); err != nil {
						r.log.Warn("snapshot not recorded", "seq", s.Seq, logx.Err(err))
					}
				}
			case msg, ok := <-faults.Channel():
				if !ok {
					return
				}
				if ev, ok := msg.Payload.(types.FaultEvent); ok {
					if err := r.RecordFault(ctx, ev); err != nil {
						r.log.Warn("fault not recorded", "code", ev.Code, logx.Err(err))
					}
				}
			}
		}
	}()
	return nil
}
