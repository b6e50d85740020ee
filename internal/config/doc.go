// Package config loads the engine configuration.
//
// Settings are merged in layers, each overriding the one before it:
//
//	┌──────────────────────────────┐
//	│  4. ASSETSYNC_* environment  │  ← Highest priority
//	├──────────────────────────────┤
//	│  3. .env file                │
//	├──────────────────────────────┤
//	│  2. TOML config file         │  ← assetsync.toml
//	├──────────────────────────────┤
//	│  1. Built-in defaults        │  ← Lowest priority
//	└──────────────────────────────┘
//
// Environment names map to keys by section: ASSETSYNC_RESOURCE_STOP_TIMEOUT
// sets resource.stop_timeout. Durations accept Go duration strings ("250ms").
//
// The merged result is decoded into a typed Config, validated, and converted
// into the option structs of the packages that consume it:
//
//	cfg, err := config.Load(config.Options{File: "assetsync.toml"})
//	if err != nil {
//	    return err
//	}
//	proj, err := project.Open(ctx, dir, project.WithConfig(cfg.ProjectConfig()))
package config
