// A one-shot quote lookup for debugging provider routes:
//
//	go run ./cmd/fetch -symbol RELIANCE -exchange NSE
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"stockleague/internal/config"
	"stockleague/internal/fetcher"
	"stockleague/internal/httpx"
	"stockleague/internal/quote"
	"stockleague/pkg/logger"
)

func main() {
	var symbol string
	var exchangeName string
	var timeout int
	var configPath string
	var direct bool

	flag.StringVar(&symbol, "symbol", "RELIANCE", "stock symbol")
	flag.StringVar(&exchangeName, "exchange", "NSE", "exchange (NSE or BSE)")
	flag.IntVar(&timeout, "timeout", 15, "request timeout seconds")
	flag.StringVar(&configPath, "config", os.Getenv("CONFIG_FILE"), "path to config.json (optional)")
	flag.BoolVar(&direct, "direct", false, "use only the direct route, no proxies")
	flag.Parse()

	log := logger.New(logger.Config{Level: "debug", Pretty: true})

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load configuration")
	}

	exchange, err := quote.ParseExchange(exchangeName)
	if err != nil {
		log.Fatal().Err(err).Msg("bad exchange")
	}

	routes := []fetcher.Route{fetcher.Direct()}
	if !direct {
		for _, prefix := range cfg.Provider.Proxies {
			routes = append(routes, fetcher.ProxyFromPrefix(prefix))
		}
	}
	f := fetcher.New(fetcher.Config{
		BaseURL:        cfg.Provider.BaseURL,
		Routes:         routes,
		AttemptTimeout: time.Duration(cfg.Provider.AttemptTimeoutSec) * time.Second,
	}, httpx.New(time.Duration(timeout)*time.Second), log)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
	defer cancel()

	q, err := f.FetchPrice(ctx, symbol, exchange)
	if err != nil {
		log.Fatal().Err(err).Msg("fetch failed")
	}
	out, _ := json.MarshalIndent(q, "", "  ")
	fmt.Println(string(out))
}
