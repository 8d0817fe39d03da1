package adapter

import (
	"context"
	"log/slog"
	"net"
	"os"
	"strings"

	"github.com/bootjp/pendingq/model"
	"github.com/bootjp/pendingq/persistence"
	"github.com/bootjp/pendingq/queue"
	"github.com/cockroachdb/errors"
	"github.com/tidwall/redcon"
)

//nolint:mnd
var argsLen = map[string]int{
	"PING":        1,
	"MULTI":       1,
	"EXEC":        1,
	"DISCARD":     1,
	"PQ.USER":     -1, // negative means minimum number of args
	"PQ.LEN":      1,
	"PQ.EMPTY":    1,
	"PQ.NEXTID":   1,
	"PQ.ACKED":    1,
	"PQ.TOKEN":    1,
	"PQ.SETTOKEN": 2,
	"PQ.ADD":      2,
	"PQ.SET":      3,
	"PQ.PATCH":    -3,
	"PQ.DEL":      2,
	"PQ.GET":      2,
	"PQ.NEXT":     2,
	"PQ.ALL":      1,
	"PQ.THROUGH":  2,
	"PQ.DOC":      -2,
	"PQ.QUERY":    2,
	"PQ.ACK":      -2,
	"PQ.REMOVE":   -2,
	"PQ.CHECK":    1,
}

// writeCommands run inside a persistence transaction.
var writeCommands = map[string]bool{
	"PQ.SETTOKEN": true,
	"PQ.ADD":      true,
	"PQ.SET":      true,
	"PQ.PATCH":    true,
	"PQ.DEL":      true,
	"PQ.ACK":      true,
	"PQ.REMOVE":   true,
}

type handler func(ctx context.Context, state *connState, args [][]byte) (redisResult, error)

// RedisServer exposes mutation queues over RESP so that local tooling can
// inspect and drive them. Every connection starts as the unauthenticated user
// and may switch with PQ.USER.
type RedisServer struct {
	listen      net.Listener
	persistence *persistence.Persistence
	log         *slog.Logger

	route map[string]handler
}

type connState struct {
	user  model.User
	queue *queue.MutationQueue

	inTxn  bool
	queued []redcon.Command
}

// RedisServerOption configures the server.
type RedisServerOption func(*RedisServer)

// WithRedisLogger sets a custom logger.
func WithRedisLogger(l *slog.Logger) RedisServerOption {
	return func(r *RedisServer) {
		r.log = l
	}
}

func NewRedisServer(listen net.Listener, p *persistence.Persistence, opts ...RedisServerOption) *RedisServer {
	r := &RedisServer{
		listen:      listen,
		persistence: p,
		log: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelWarn,
		})),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.route = map[string]handler{
		"PQ.USER":     r.user,
		"PQ.LEN":      r.length,
		"PQ.EMPTY":    r.empty,
		"PQ.NEXTID":   r.nextID,
		"PQ.ACKED":    r.acked,
		"PQ.TOKEN":    r.token,
		"PQ.SETTOKEN": r.setToken,
		"PQ.ADD":      r.add,
		"PQ.SET":      r.set,
		"PQ.PATCH":    r.patch,
		"PQ.DEL":      r.del,
		"PQ.GET":      r.get,
		"PQ.NEXT":     r.next,
		"PQ.ALL":      r.all,
		"PQ.THROUGH":  r.through,
		"PQ.DOC":      r.doc,
		"PQ.QUERY":    r.query,
		"PQ.ACK":      r.ack,
		"PQ.REMOVE":   r.remove,
		"PQ.CHECK":    r.check,
	}

	return r
}

func getConnState(conn redcon.Conn) *connState {
	if ctx := conn.Context(); ctx != nil {
		if st, ok := ctx.(*connState); ok {
			return st
		}
	}
	st := &connState{user: model.Unauthenticated}
	conn.SetContext(st)
	return st
}

func (r *RedisServer) Run() error {
	err := redcon.Serve(r.listen,
		r.serve,
		func(conn redcon.Conn) bool {
			r.log.Debug("accept", slog.String("remote", conn.RemoteAddr()))
			return true
		},
		func(conn redcon.Conn, err error) {
			if err != nil {
				r.log.Debug("closed", slog.String("remote", conn.RemoteAddr()), slog.Any("error", err))
			}
		})

	return errors.WithStack(err)
}

func (r *RedisServer) Stop() {
	_ = r.listen.Close()
}

func (r *RedisServer) serve(conn redcon.Conn, cmd redcon.Command) {
	state := getConnState(conn)
	name := strings.ToUpper(string(cmd.Args[0]))

	if err := r.validateCmd(cmd); err != nil {
		conn.WriteError(err.Error())
		return
	}

	switch name {
	case "PING":
		conn.WriteString("PONG")
		return
	case "MULTI":
		r.multi(conn, state)
		return
	case "EXEC":
		r.exec(conn, state)
		return
	case "DISCARD":
		r.discard(conn, state)
		return
	}

	if _, ok := r.route[name]; !ok {
		conn.WriteError("ERR unsupported command '" + string(cmd.Args[0]) + "'")
		return
	}

	if state.inTxn {
		state.queued = append(state.queued, cmd)
		conn.WriteString("QUEUED")
		return
	}

	res, err := r.dispatch(context.Background(), state, cmd)
	if err != nil {
		commandCounter.WithLabelValues(name, "error").Inc()
		conn.WriteError(errorReply(err))
		return
	}
	commandCounter.WithLabelValues(name, "ok").Inc()
	writeResult(conn, res)
}

func (r *RedisServer) dispatch(ctx context.Context, state *connState, cmd redcon.Command) (redisResult, error) {
	name := strings.ToUpper(string(cmd.Args[0]))
	f := r.route[name]
	if !writeCommands[name] {
		return f(ctx, state, cmd.Args)
	}

	var res redisResult
	err := r.persistence.RunTransaction(ctx, name, func(ctx context.Context) error {
		var err error
		res, err = f(ctx, state, cmd.Args)
		return err
	})
	return res, err
}

func (r *RedisServer) validateCmd(cmd redcon.Command) error {
	name := strings.ToUpper(string(cmd.Args[0]))
	expected, ok := argsLen[name]
	if !ok {
		return nil
	}

	switch {
	case expected > 0 && len(cmd.Args) != expected:
		//nolint:wrapcheck
		return errors.WithStack(errors.Newf("ERR wrong number of arguments for '%s' command", string(cmd.Args[0])))
	case expected < 0 && len(cmd.Args) < -expected:
		return errors.WithStack(errors.Newf("ERR wrong number of arguments for '%s' command", string(cmd.Args[0])))
	}
	return nil
}

// MULTI/EXEC/DISCARD: queued commands run in a single persistence transaction.
func (r *RedisServer) multi(conn redcon.Conn, state *connState) {
	if state.inTxn {
		conn.WriteError("ERR MULTI calls can not be nested")
		return
	}
	state.inTxn = true
	state.queued = nil
	conn.WriteString("OK")
}

func (r *RedisServer) discard(conn redcon.Conn, state *connState) {
	if !state.inTxn {
		conn.WriteError("ERR DISCARD without MULTI")
		return
	}
	state.inTxn = false
	state.queued = nil
	conn.WriteString("OK")
}

func (r *RedisServer) exec(conn redcon.Conn, state *connState) {
	if !state.inTxn {
		conn.WriteError("ERR EXEC without MULTI")
		return
	}
	queued := state.queued
	state.inTxn = false
	state.queued = nil

	// Connection state changed by a rolled back PQ.USER must not stick.
	user, q := state.user, state.queue
	results := make([]redisResult, 0, len(queued))
	err := r.persistence.RunTransaction(context.Background(), "EXEC", func(ctx context.Context) error {
		for _, cmd := range queued {
			res, err := r.dispatch(ctx, state, cmd)
			if err != nil {
				return err
			}
			results = append(results, res)
		}
		return nil
	})
	if err != nil {
		commandCounter.WithLabelValues("EXEC", "error").Inc()
		state.user, state.queue = user, q
		conn.WriteError(errorReply(err))
		return
	}
	commandCounter.WithLabelValues("EXEC", "ok").Inc()

	conn.WriteArray(len(results))
	for _, res := range results {
		writeResult(conn, res)
	}
}

func (r *RedisServer) queueFor(ctx context.Context, state *connState) (*queue.MutationQueue, error) {
	if state.queue != nil {
		return state.queue, nil
	}
	q, err := r.persistence.StartMutationQueue(ctx, state.user)
	if err != nil {
		return nil, err
	}
	state.queue = q
	return q, nil
}

func errorReply(err error) string {
	msg := err.Error()
	if strings.HasPrefix(msg, "ERR ") {
		return msg
	}
	return "ERR " + msg
}
