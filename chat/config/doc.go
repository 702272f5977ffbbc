// Package config provides configuration management for the chatroom server.
//
// The config package handles:
//   - Defaults for every setting, so the server runs with no file at all
//   - Loading an optional YAML, JSON or TOML file
//   - CHAT_* environment overrides
//   - Validation before anything is started
//
// Configuration Sources:
//
// Sources are applied in increasing priority: built-in defaults, the config
// file, then environment variables. Command-line flags are applied by the
// caller on top of the loaded Config. When no path is given, ./chatroom.yaml is
// read if it exists.
//
// Environment variables use the CHAT_ prefix and replace dots with
// underscores, so chat.outbox_capacity becomes CHAT_CHAT_OUTBOX_CAPACITY and
// server.port becomes CHAT_SERVER_PORT. The ngrok auth token is also read from
// NGROK_AUTHTOKEN.
//
// Example File:
//
//	server:
//	  host: 0.0.0.0
//	  port: 8080
//	chat:
//	  transport: coder
//	  outbox_capacity: 256
//	  rate_limit: 5
//	  rate_burst: 10
//	redis:
//	  url: redis://localhost:6379/0
//	kafka:
//	  brokers: [localhost:9092]
//
// Usage:
//
//	cfg, err := config.Load("")
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(cfg.Addr())
package config
