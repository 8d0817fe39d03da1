package main

import (
	"log/slog"
	"strings"

	"github.com/bootjp/pendingq/model"
	"github.com/bootjp/pendingq/persistence"
	"github.com/cockroachdb/errors"
)

type config struct {
	storage        persistence.Config
	redisAddress   string
	metricsAddress string
	users          []model.User
	logLevel       slog.Level
	lookupChunk    int
}

var (
	ErrAddressRequired = errors.New("address is required")
	ErrInvalidChunk    = errors.New("lookup chunk size must be positive")
)

// parseUsers reads a comma separated list of uids whose queues are recovered
// at boot. "-" stands for the unauthenticated user.
func parseUsers(raw string) ([]model.User, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	users := make([]model.User, 0, len(parts))
	seen := map[string]struct{}{}
	for _, part := range parts {
		uid := strings.TrimSpace(part)
		if uid == "" {
			continue
		}
		if uid == "-" {
			uid = model.Unauthenticated.UID
		}
		if _, ok := seen[uid]; ok {
			return nil, errors.WithStack(errors.Newf("duplicate user %q", part))
		}
		seen[uid] = struct{}{}
		users = append(users, model.User{UID: uid})
	}
	return users, nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(raw)); err != nil {
		return 0, errors.Wrapf(err, "invalid log level %q", raw)
	}
	return l, nil
}

func parseConfig(engine, dataDir, redisAddr, metricsAddr, users, logLevel string, lookupChunk int) (config, error) {
	e, err := persistence.ParseEngine(engine)
	if err != nil {
		return config{}, err
	}
	storage := persistence.Config{Engine: e, DataDir: dataDir}
	if err := storage.Validate(); err != nil {
		return config{}, err
	}
	if redisAddr == "" {
		return config{}, errors.Wrap(ErrAddressRequired, "redis address")
	}
	if lookupChunk <= 0 {
		return config{}, errors.WithStack(ErrInvalidChunk)
	}
	us, err := parseUsers(users)
	if err != nil {
		return config{}, err
	}
	level, err := parseLogLevel(logLevel)
	if err != nil {
		return config{}, err
	}
	return config{
		storage:        storage,
		redisAddress:   redisAddr,
		metricsAddress: metricsAddr,
		users:          us,
		logLevel:       level,
		lookupChunk:    lookupChunk,
	}, nil
}
