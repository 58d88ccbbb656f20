// Package config loads labelgen settings from defaults, an optional YAML file
// and LABELGEN_* environment variables, and validates them.
//
// Every command needs the server, database, store and dispatcher sections.
// Only the generation worker needs API keys; see Config.RequireWorker.
package config
