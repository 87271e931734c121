package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/carbon-exchange/internal/adapter/oracle"
	"github.com/rl1809/carbon-exchange/internal/adapter/payment"
	"github.com/rl1809/carbon-exchange/internal/adapter/storage"
	"github.com/rl1809/carbon-exchange/internal/config"
	"github.com/rl1809/carbon-exchange/internal/port"
)

// infra holds the adapters selected by the configuration. close releases
// them in reverse order of acquisition.
type infra struct {
	events    port.EventStore
	cache     port.CacheRepository
	payments  port.PaymentGateway
	funds     port.Funder
	publisher port.EventPublisher
	oracle    port.VerificationOracle

	closers []func() error
}

func (in *infra) close() error {
	var errs []error
	for i := len(in.closers) - 1; i >= 0; i-- {
		errs = append(errs, in.closers[i]())
	}
	return errors.Join(errs...)
}

func openEventStore(ctx context.Context, cfg config.StoreConfig, in *infra) error {
	switch cfg.Driver {
	case config.StoreMemory:
		in.events = storage.NewMemoryEventStore()
		return nil

	case config.StoreSQLite:
		st, err := storage.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return err
		}
		in.closers = append(in.closers, st.Close)
		if err := st.Migrate(ctx); err != nil {
			return err
		}
		in.events = st
		return nil

	case config.StoreMySQL:
		db, err := storage.OpenMySQL(ctx, cfg.MySQLDSN)
		if err != nil {
			return err
		}
		st := storage.NewMySQLAdapter(db)
		in.closers = append(in.closers, st.Close)
		if err := st.Migrate(ctx); err != nil {
			return err
		}
		in.events = st
		return nil
	}
	return fmt.Errorf("unknown store driver %q", cfg.Driver)
}

func openRedis(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return rdb, nil
}

// openInfra connects every adapter the server needs. On error, whatever was
// already opened is closed.
func openInfra(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (_ *infra, err error) {
	in := &infra{}
	defer func() {
		if err != nil {
			in.close()
		}
	}()

	if err := openEventStore(ctx, cfg.Store, in); err != nil {
		return nil, err
	}
	log.WithField("driver", cfg.Store.Driver).Info("event store ready")

	if cfg.RedisAddr != "" {
		rdb, err := openRedis(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, err
		}
		in.closers = append(in.closers, rdb.Close)
		adapter := storage.NewRedisAdapter(rdb)
		in.cache = adapter
		in.publisher = adapter
		gw := payment.NewRedisGateway(rdb)
		in.payments = gw
		in.funds = gw
		log.WithField("addr", cfg.RedisAddr).Info("connected to redis")
	} else {
		in.cache = storage.NewMemoryCache()
		in.publisher = storage.NewLogPublisher(log)
		gw := payment.NewMemoryGateway()
		in.payments = gw
		in.funds = gw
		log.Warn("no redis configured, idempotency and payments are process-local")
	}

	if cfg.Oracle.URL != "" {
		o, err := oracle.NewHTTPOracle(cfg.Oracle.URL, &http.Client{Timeout: cfg.Oracle.Timeout})
		if err != nil {
			return nil, err
		}
		in.oracle = o
	} else {
		in.oracle = oracle.Disabled{}
	}
	return in, nil
}
