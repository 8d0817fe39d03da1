package persistence

import (
	"github.com/cockroachdb/errors"
)

// Engine names a storage backend.
type Engine string

const (
	EngineMemory Engine = "memory"
	EngineBolt   Engine = "bolt"
	EnginePebble Engine = "pebble"
)

var (
	ErrUnknownEngine  = errors.New("unknown storage engine")
	ErrMissingDataDir = errors.New("data directory is required for durable engines")
)

// Config selects and locates the storage backend.
type Config struct {
	Engine  Engine
	DataDir string
}

func ParseEngine(s string) (Engine, error) {
	switch e := Engine(s); e {
	case EngineMemory, EngineBolt, EnginePebble:
		return e, nil
	default:
		return "", errors.Wrapf(ErrUnknownEngine, "%q", s)
	}
}

func (c Config) Validate() error {
	if _, err := ParseEngine(string(c.Engine)); err != nil {
		return err
	}
	if c.Engine != EngineMemory && c.DataDir == "" {
		return errors.WithStack(ErrMissingDataDir)
	}
	return nil
}
