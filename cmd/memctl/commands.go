package main

import (
	"fmt"

	"github.com/tailored-agentic-units/sharedmem/codec"
)

type nameArg struct {
	Name string `positional-arg-name:"name" required:"yes"`
}

// GetCmd prints one attribute.
type GetCmd struct {
	Args nameArg `positional-args:"yes"`
	app  *app
}

func (c *GetCmd) Execute(_ []string) error {
	mem, err := c.app.memory()
	if err != nil {
		return err
	}
	v, err := mem.Read(c.app.ctx, c.Args.Name)
	if err != nil {
		return err
	}
	return c.app.print(v)
}

// SetCmd writes one attribute.
type SetCmd struct {
	Args struct {
		Name  string `positional-arg-name:"name" required:"yes"`
		Value string `positional-arg-name:"value" required:"yes"`
	} `positional-args:"yes"`
	app *app
}

func (c *SetCmd) Execute(_ []string) error {
	mem, err := c.app.memory()
	if err != nil {
		return err
	}
	return mem.Write(c.app.ctx, c.Args.Name, parseValue(c.Args.Value))
}

// parseValue reads s as JSON. Anything that is not valid JSON is taken as
// a plain string.
func parseValue(s string) any {
	v, err := codec.Decode([]byte(s))
	if err != nil {
		return s
	}
	return v
}

// DelCmd removes one attribute.
type DelCmd struct {
	Args nameArg `positional-args:"yes"`
	app  *app
}

func (c *DelCmd) Execute(_ []string) error {
	mem, err := c.app.memory()
	if err != nil {
		return err
	}
	return mem.Remove(c.app.ctx, c.Args.Name)
}

// KeysCmd lists attribute names, one per line.
type KeysCmd struct {
	app *app
}

func (c *KeysCmd) Execute(_ []string) error {
	mem, err := c.app.memory()
	if err != nil {
		return err
	}
	names, err := mem.Names(c.app.ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Fprintln(c.app.out, name)
	}
	return nil
}

// SyncCmd reconciles one attribute and prints the winning value.
type SyncCmd struct {
	Args nameArg `positional-args:"yes"`
	app  *app
}

func (c *SyncCmd) Execute(_ []string) error {
	mem, err := c.app.memory()
	if err != nil {
		return err
	}
	v, err := mem.Sync(c.app.ctx, c.Args.Name)
	if err != nil {
		return err
	}
	return c.app.print(v)
}

// PendingCmd lists unconfirmed writes as "KIND key last_modified".
type PendingCmd struct {
	app *app
}

func (c *PendingCmd) Execute(_ []string) error {
	mem, err := c.app.memory()
	if err != nil {
		return err
	}
	for _, w := range mem.Pending() {
		fmt.Fprintf(c.app.out, "%s\t%s\t%d\n", w.Kind, w.Key, w.LastModified)
	}
	return nil
}
