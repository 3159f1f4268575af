package core

import (
	"context"
	"fmt"

	"imp/cache"
	"imp/config"
	"imp/logger"
)

// BoilerplateModule is the name of the built-in module that provides the
// shared facilities every application gets for free: logger,
// configuration, cache and scheduler. It wires before any user module and
// its lifecycle callbacks run first in every stage.
const BoilerplateModule = "boilerplate"

func boilerplateSchema() config.Schema {
	return config.Schema{
		"LOG_LEVEL": {
			Type:        config.String,
			Default:     "info",
			Enum:        []string{"trace", "debug", "info", "warn", "error", "fatal"},
			Description: "Minimum log severity emitted",
		},
		"CONFIG": {
			Type:        config.String,
			Description: "Replace config file discovery with this single file",
		},
		"CACHE_PROVIDER": {
			Type:        config.String,
			Default:     "memory",
			Enum:        []string{"memory", "redis"},
			Description: "Backing store for the shared cache",
		},
		"CACHE_PREFIX": {
			Type:        config.String,
			Default:     "imp_",
			Description: "Namespace prefix applied to every cache key",
		},
		"CACHE_TTL": {
			Type:        config.Number,
			Default:     86400,
			Description: "Default cache entry lifetime in seconds",
		},
		"REDIS_URL": {
			Type:        config.String,
			Default:     "redis://localhost:6379",
			Description: "Connection URL for the redis cache provider",
		},
		"SCAN_CONFIG": {
			Type:        config.Boolean,
			Default:     false,
			Description: "Dump the resolved configuration schema as JSON after load",
		},
	}
}

// newBoilerplate builds the built-in module. Its services hand the
// kernel-owned collaborators out through the regular wiring path and bind
// their activation to the lifecycle: log level applies at PostConfig, the
// cache provider resolves at PostConfig, the scheduler starts at Ready
// and quiesces at PreShutdown.
func (k *Kernel) newBoilerplate() (*Library, error) {
	return NewLibrary(LibraryOptions{
		Name:          BoilerplateModule,
		Configuration: boilerplateSchema(),
		PriorityInit:  []string{"logger", "configuration"},
		Services: map[string]ServiceFactory{
			"logger": func(_ context.Context, p *ServiceParams) (any, error) {
				p.Lifecycle.OnPostConfig(func(context.Context) error {
					logger.SetGlobalLevel(asString(p.Config.Get("LOG_LEVEL")))
					return nil
				}, 1)
				p.Config.OnUpdate(func(_, _ string, value any) {
					logger.SetGlobalLevel(asString(value))
				}, "LOG_LEVEL")
				return k.internal.Logger, nil
			},
			"configuration": func(_ context.Context, p *ServiceParams) (any, error) {
				p.Lifecycle.OnPostConfig(func(context.Context) error {
					if asBool(p.Config.Get("SCAN_CONFIG")) {
						dump, err := k.config.DumpSchema()
						if err != nil {
							return err
						}
						fmt.Println(string(dump))
					}
					return nil
				}, 2)
				return k.config, nil
			},
			"cache": func(_ context.Context, p *ServiceParams) (any, error) {
				p.Lifecycle.OnPostConfig(func(context.Context) error {
					client, err := cache.New(cache.Options{
						Provider:   asString(p.Config.Get("CACHE_PROVIDER")),
						Prefix:     asString(p.Config.Get("CACHE_PREFIX")),
						DefaultTTL: cache.TTLFromSeconds(asNumber(p.Config.Get("CACHE_TTL"))),
						RedisURL:   asString(p.Config.Get("REDIS_URL")),
					}, p.Logger)
					if err != nil {
						return err
					}
					k.cache.Configure(client)
					return nil
				}, 3)
				return k.cache, nil
			},
			"scheduler": func(ctx context.Context, p *ServiceParams) (any, error) {
				p.Lifecycle.OnReady(func(readyCtx context.Context) error {
					k.sched.Start(readyCtx)
					return nil
				}, 1)
				p.Lifecycle.OnPreShutdown(func(context.Context) error {
					k.sched.Stop()
					return nil
				}, 1)
				return k.sched, nil
			},
		},
	})
}

func asString(value any) string {
	s, _ := value.(string)
	return s
}

func asBool(value any) bool {
	b, _ := value.(bool)
	return b
}

func asNumber(value any) float64 {
	switch n := value.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}
