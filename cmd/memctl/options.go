package main

import (
	"time"

	"github.com/tailored-agentic-units/sharedmem/memory"
)

// Options is the root of the CLI. Struct tags are interpreted by
// github.com/jessevdk/go-flags.
type Options struct {
	Config       string        `short:"f" long:"config" description:"Memory configuration YAML/JSON path"`
	Host         string        `long:"host" env:"REDIS_HOST" description:"Redis host"`
	Port         int           `long:"port" env:"REDIS_PORT" description:"Redis port"`
	Prefix       string        `long:"prefix" env:"REDIS_PREFIX" description:"Key prefix"`
	Conversation string        `short:"c" long:"conversation" description:"Conversation id to scope keys to"`
	Timeout      time.Duration `long:"timeout" description:"Per-call store timeout"`
	Spool        string        `long:"spool" description:"Spool file keeping writes the server did not take"`
	Verbose      bool          `short:"v" long:"verbose" description:"Log engine events to stderr"`

	Get     *GetCmd     `command:"get"     description:"Print an attribute as JSON"`
	Set     *SetCmd     `command:"set"     description:"Write an attribute; the value is parsed as JSON, falling back to a string"`
	Del     *DelCmd     `command:"del"     description:"Remove an attribute"`
	Keys    *KeysCmd    `command:"keys"    description:"List attribute names"`
	Sync    *SyncCmd    `command:"sync"    description:"Reconcile an attribute by last-modified time and print it"`
	Pending *PendingCmd `command:"pending" description:"List writes the server has not confirmed, including spooled ones"`
}

func newOptions(a *app) *Options {
	return &Options{
		Get:     &GetCmd{app: a},
		Set:     &SetCmd{app: a},
		Del:     &DelCmd{app: a},
		Keys:    &KeysCmd{app: a},
		Sync:    &SyncCmd{app: a},
		Pending: &PendingCmd{app: a},
	}
}

// config merges, in increasing precedence, the defaults, the config file
// and the flags.
func (o *Options) config() (*memory.Config, error) {
	cfg := memory.DefaultConfig()
	if o.Config != "" {
		loaded, err := memory.LoadConfig(o.Config)
		if err != nil {
			return nil, err
		}
		cfg = *loaded
	}

	cfg.Merge(&memory.Config{
		Host:         o.Host,
		Port:         o.Port,
		Prefix:       o.Prefix,
		Conversation: o.Conversation,
		Timeout:      o.Timeout,
		SpoolPath:    o.Spool,
	})
	return &cfg, nil
}
