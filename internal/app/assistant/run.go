package assistant

import (
	"context"
	"strconv"
	"time"

	"order-assistant/internal/availability"
	"order-assistant/internal/cart"
	"order-assistant/internal/catalog"
	"order-assistant/internal/common/config"
	"order-assistant/internal/common/db"
	"order-assistant/internal/common/httpx"
	"order-assistant/internal/common/logger"
	"order-assistant/internal/common/mq"
	"order-assistant/internal/confirm"
	"order-assistant/internal/dispatch"
	"order-assistant/internal/metrics"
	"order-assistant/internal/scheduling"
	"order-assistant/internal/timewindow"
)

// Run wires the whole engine together and serves it until ctx is canceled.
func Run(ctx context.Context, cfg config.App) error {
	lg := logger.New("order-assistant")

	conn, err := db.Connect(ctx, cfg.Database.Host, cfg.Database.Port, cfg.Database.User, cfg.Database.Pass, cfg.Database.Name)
	if err != nil {
		return err
	}
	defer conn.Close()
	lg.Info("db_connected", map[string]any{"host": cfg.Database.Host, "database": cfg.Database.Name})

	rabbit, err := mq.Dial(cfg.Rabbit.Host, cfg.Rabbit.Port, cfg.Rabbit.User, cfg.Rabbit.Pass)
	if err != nil {
		return err
	}
	defer rabbit.Close()
	if err := rabbit.DeclareAll(); err != nil {
		return err
	}
	lg.Info("mq_connected", map[string]any{"host": cfg.Rabbit.Host})

	clock := timewindow.SystemClock{}
	reg := metrics.NewRegistry()

	hours := availability.NewRepository(conn)
	avail := availability.NewEvaluator(hours, hours, clock)
	validator := scheduling.NewValidator(scheduling.NewRepository(conn), clock)
	menu := catalog.NewService(catalog.NewPGRepository(conn),
		time.Duration(cfg.Assistant.CatalogCacheTTLSeconds)*time.Second, clock)
	carts := cart.NewService(cart.NewPGRepository(conn), menu, hours, validator, clock,
		time.Duration(cfg.Assistant.CartTTLHours)*time.Hour)
	transition := confirm.NewTransition(carts, avail, validator, confirm.NewPGCommitter(conn))

	dispatcher := dispatch.NewDispatcher(carts, transition, menu, avail,
		dispatch.NewPGDedupStore(conn), rabbit, reg, lg,
		time.Duration(cfg.Assistant.CallTimeoutSeconds)*time.Second)

	h := NewHandler(dispatcher, conn.Pool, reg, lg)
	srv := httpx.New(":"+strconv.Itoa(cfg.HTTP.Port), Router(h))
	lg.Info("service_started", map[string]any{"port": cfg.HTTP.Port})
	return srv.Run(ctx)
}
