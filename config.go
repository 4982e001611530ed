package main

import "time"

const (
	sessionMemory    = "memory"
	sessionRedis     = "redis"
	sessionUpstash   = "upstash"
	sessionFirestore = "firestore"

	schedulerTimer  = "timer"
	schedulerQStash = "qstash"

	notifierOutbox  = "outbox"
	notifierSlack   = "slack"
	notifierDiscord = "discord"
	notifierLog     = "log"
)

// AppConfig selects the backends and timings of the service. Loaded with the APP prefix.
type AppConfig struct {
	Port int `default:"8080"`

	SessionBackend string        `split_words:"true" default:"memory"`
	SessionTTL     time.Duration `split_words:"true" default:"0s"`

	LedgerDriver string `split_words:"true" default:"sqlite"`
	LedgerDSN    string `envconfig:"LEDGER_DSN"`

	Scheduler string   `default:"timer"`
	Notifiers []string `default:"outbox"`
	Generator string   `default:"eino"`

	InactivityWindow time.Duration `split_words:"true" default:"24h"`
	DispatchTimeout  time.Duration `split_words:"true" default:"300s"`
	SweepInterval    time.Duration `split_words:"true" default:"1m"`
	RetryWindow      time.Duration `split_words:"true" default:"30m"`

	// Prompts overrides the embedded prompt pack.
	Prompts string
	// Advisors is a static roster "id=contact,..."; empty means the ledger roster.
	Advisors string
}
