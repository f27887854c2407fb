package store

import (
	"fmt"
	"log/slog"

	"github.com/user/cartograph/packages/config"
)

// Open returns the store cfg selects.
func Open(cfg config.Storage, logger *slog.Logger) (Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return NewMemory(), nil
	case config.DriverDir:
		d, err := NewDir(cfg.Path)
		if err != nil {
			return nil, err
		}
		return d, nil
	case config.DriverSQLite, config.DriverPostgres:
		s, err := OpenSQL(cfg.DSN)
		if err != nil {
			return nil, err
		}
		if want := cfg.Driver == config.DriverPostgres; want != (s.Driver() == DriverPostgres) {
			s.Close()
			return nil, fmt.Errorf("dsn does not match storage driver %s", cfg.Driver)
		}
		return s, nil
	case config.DriverBadger:
		bc := DefaultBadgerConfig(cfg.Path)
		bc.Logger = logger
		b, err := OpenBadger(bc)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
