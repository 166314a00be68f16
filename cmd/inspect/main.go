// Command inspect opens a configured cache store and dumps its raw
// keys and values, or serves them over HTTP with -serve for poking at
// a live cache during development.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"chatcache/pkg/config"
	"chatcache/pkg/keys"
	"chatcache/pkg/logger"
	"chatcache/pkg/storage"
)

func main() {
	var (
		cfgPath  = flag.String("config", "", "path to YAML config")
		prefix   = flag.String("prefix", keys.Prefix, "key prefix to list")
		user     = flag.String("user", "", "restrict to one user's namespace")
		keysOnly = flag.Bool("keys-only", false, "print keys without values")
		serve    = flag.Bool("serve", false, "serve the inspection API instead of dumping")
		addr     = flag.String("addr", "127.0.0.1:8099", "listen address for -serve")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(2)
	}
	logger.InitWithLevel(cfg.Logging.Level)
	defer logger.Sync()

	drv, err := openDriver(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open storage: %v\n", err)
		os.Exit(1)
	}
	defer drv.Close()

	p := *prefix
	if *user != "" {
		p = keys.Namespace(*user)
	}

	if *serve {
		if err := serveInspect(*addr, cfg.Storage.Driver, drv); err != nil {
			fmt.Fprintf(os.Stderr, "serve: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx := context.Background()
	ks, err := drv.ListKeys(ctx, p)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list keys: %v\n", err)
		os.Exit(1)
	}
	for _, k := range ks {
		if *keysOnly {
			fmt.Println(k)
			continue
		}
		v, err := drv.GetItem(ctx, k)
		if err != nil {
			fmt.Fprintf(os.Stderr, "get %s: %v\n", k, err)
			continue
		}
		fmt.Printf("%s\t%s\n", k, v)
	}
	fmt.Fprintf(os.Stderr, "%d keys under %s\n", len(ks), p)
}

func openDriver(cfg *config.Config) (storage.Driver, error) {
	switch cfg.Storage.Driver {
	case "pebble":
		return storage.OpenPebble(cfg.Storage.Pebble.Path)
	case "sqlite":
		return storage.OpenSQLite(cfg.Storage.SQLite.DSN)
	case "redis":
		return storage.OpenRedis(cfg.Storage.Redis.Addr, cfg.Storage.Redis.Password, cfg.Storage.Redis.DB)
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
}
