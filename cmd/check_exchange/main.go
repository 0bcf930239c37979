package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/vitos/crypto_trade_dsl/internal/infrastructure/exchange"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Exchanges []struct {
		Name         string `yaml:"name"`
		APIKey       string `yaml:"api_key"`
		APISecret    string `yaml:"api_secret"`
		WSEndpoint   string `yaml:"ws_endpoint"`
		RESTEndpoint string `yaml:"rest_endpoint"`
		Quote        string `yaml:"quote"`
	} `yaml:"exchanges"`
}

func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	asset := flag.String("asset", "BTC", "asset to probe")
	flag.Parse()

	// 1. Load Config
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if len(cfg.Exchanges) == 0 {
		fmt.Println("No exchanges configured")
		os.Exit(1)
	}

	bybitCfg := cfg.Exchanges[0]
	fmt.Printf("Testing Bybit Interaction...\n")
	fmt.Printf("Endpoint: %s\n", bybitCfg.RESTEndpoint)
	if len(bybitCfg.APIKey) >= 4 {
		fmt.Printf("API Key: %s...\n", bybitCfg.APIKey[:4])
	}

	adapter := exchange.NewBybitAdapter(bybitCfg.APIKey, bybitCfg.APISecret, bybitCfg.RESTEndpoint, bybitCfg.WSEndpoint, bybitCfg.Quote, nil)
	symbol := adapter.Symbol(*asset)

	// 2. Check Public Endpoint (REST price)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	price, err := adapter.GetPrice(ctx, *asset)
	cancel()
	if err != nil {
		fmt.Printf("❌ Failed to get price: %v\n", err)
	} else {
		fmt.Printf("✅ REST Price (%s): %f\n", symbol, price)
	}

	// 3. Check Stream (one ticker snapshot)
	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	wsPrice, err := adapter.StreamFeed().GetPrice(ctx, *asset)
	cancel()
	if err != nil {
		fmt.Printf("❌ Failed to get WS price: %v\n", err)
	} else {
		fmt.Printf("✅ WS Price (%s): %f\n", symbol, wsPrice)
	}

	// 4. Check Private Endpoint (Position)
	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	pos, err := adapter.GetPosition(ctx, *asset)
	cancel()
	if err != nil {
		fmt.Printf("❌ Failed to get position: %v\n", err)
	} else {
		fmt.Printf("✅ Position (%s): Size=%f, Side=%s, Entry=%f, PnL=%f, Leverage=%.0f\n",
			symbol, pos.Size, pos.Side, pos.EntryPrice, pos.UnrealizedPnL, pos.Leverage)
	}
}
