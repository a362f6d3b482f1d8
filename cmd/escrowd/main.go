package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/otcswap/params"
	"github.com/uhyunpark/otcswap/pkg/api"
	"github.com/uhyunpark/otcswap/pkg/auth"
	"github.com/uhyunpark/otcswap/pkg/escrow"
	"github.com/uhyunpark/otcswap/pkg/fees"
	"github.com/uhyunpark/otcswap/pkg/reputation"
	"github.com/uhyunpark/otcswap/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile)

	// ---- Fee schedule ----
	var collectors []fees.Collector
	for i, addrHex := range cfg.Fees.Collectors {
		if !common.IsHexAddress(addrHex) {
			sugar.Fatalw("bad_fee_collector", "addr", addrHex)
		}
		collectors = append(collectors, fees.Collector{
			Addr: common.HexToAddress(addrHex),
			Bps:  cfg.Fees.Bps[i],
		})
	}
	schedule, err := fees.NewSchedule(cfg.Escrow.AllowedCoins, cfg.Escrow.AllowedFiats, collectors)
	if err != nil {
		sugar.Fatalw("fee_schedule", "err", err)
	}

	// ---- Auth ----
	authReg := auth.NewRegistry()
	for _, addrHex := range cfg.Escrow.Admins {
		if common.IsHexAddress(addrHex) {
			authReg.RegisterAdmin(common.HexToAddress(addrHex))
		}
	}

	// ---- Storage + reputation ----
	store, err := escrow.NewStore(cfg.Node.DBPath)
	if err != nil {
		sugar.Fatalw("store_open", "err", err, "path", cfg.Node.DBPath)
	}
	defer store.Close()

	book := reputation.NewBook(store)
	seeded, err := store.LoadAllStats()
	if err != nil {
		sugar.Fatalw("stats_load", "err", err)
	}
	for addr, stats := range seeded {
		book.Seed(addr, stats)
	}

	// ---- Engine ----
	engine := escrow.NewEngine(escrow.EngineConfig{
		Store:           store,
		Auth:            authReg,
		Fees:            schedule,
		Reputation:      book,
		Logger:          logger,
		MinFillDeadline: cfg.Escrow.MinFillDeadline,
	})
	if err := engine.Load(); err != nil {
		sugar.Fatalw("engine_load", "err", err)
	}

	// ---- API ----
	server := api.NewServer(engine, book)
	go func() {
		if err := server.Start(cfg.Node.APIAddr); err != nil {
			sugar.Fatalw("api_server", "err", err)
		}
	}()

	sugar.Infow("escrowd_started", "api", cfg.Node.APIAddr, "db", cfg.Node.DBPath)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	sugar.Infow("escrowd_stopping")
}
