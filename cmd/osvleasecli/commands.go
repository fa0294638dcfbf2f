package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/veesix-networks/osvlease/pkg/lease"
	"github.com/veesix-networks/osvlease/pkg/leaseapi"
)

// LeaseClient is the subset of leaseapi.Client the commands use.
type LeaseClient interface {
	List(ctx context.Context) ([]leaseapi.InterfaceStatus, error)
	Get(ctx context.Context, iface string) (leaseapi.InterfaceStatus, error)
	Start(ctx context.Context, iface string) error
	Stop(ctx context.Context, iface string) error
	Renew(ctx context.Context, iface string) error
	SetVersion(ctx context.Context, iface string, v lease.IPVersion) error
}

type Command struct {
	Name        string
	Description string
	Args        []string
	// Interface-valued arguments complete from the daemon's list.
	CompleteInterface bool
	Run               func(ctx context.Context, env *Env, args []string) error
}

// Env is what commands write to and talk through.
type Env struct {
	Client LeaseClient
	Out    io.Writer
	Format OutputFormat
}

var commands = []*Command{
	{
		Name:        "list",
		Description: "List every managed interface and its lease state",
		Run:         runList,
	},
	{
		Name:              "show",
		Description:       "Show the lease held on an interface",
		Args:              []string{"interface"},
		CompleteInterface: true,
		Run:               runShow,
	},
	{
		Name:              "start",
		Description:       "Start acquiring a lease on an interface",
		Args:              []string{"interface"},
		CompleteInterface: true,
		Run:               action("Lease start requested", (LeaseClient).Start),
	},
	{
		Name:              "stop",
		Description:       "Stop the lease on an interface",
		Args:              []string{"interface"},
		CompleteInterface: true,
		Run:               action("Lease stopped", (LeaseClient).Stop),
	},
	{
		Name:              "renew",
		Description:       "Renew the lease on an interface now",
		Args:              []string{"interface"},
		CompleteInterface: true,
		Run:               action("Renewal requested", (LeaseClient).Renew),
	},
	{
		Name:              "set-version",
		Description:       "Switch an interface between DHCPv4 and DHCPv6",
		Args:              []string{"interface", "v4|v6"},
		CompleteInterface: true,
		Run:               runSetVersion,
	},
}

func findCommand(name string) *Command {
	for _, c := range commands {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func commandNames() []string {
	names := make([]string, 0, len(commands))
	for _, c := range commands {
		names = append(names, c.Name)
	}
	sort.Strings(names)
	return names
}

func (c *Command) usage() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Name)
	for _, a := range c.Args {
		parts = append(parts, "<"+a+">")
	}
	return strings.Join(parts, " ")
}

// Execute runs a command after checking its argument count.
func (c *Command) Execute(ctx context.Context, env *Env, args []string) error {
	if len(args) != len(c.Args) {
		return fmt.Errorf("usage: %s", c.usage())
	}
	return c.Run(ctx, env, args)
}

func runList(ctx context.Context, env *Env, _ []string) error {
	list, err := env.Client.List(ctx)
	if err != nil {
		return err
	}
	out, err := formatStatuses(list, env.Format)
	if err != nil {
		return err
	}
	_, err = io.WriteString(env.Out, out)
	return err
}

func runShow(ctx context.Context, env *Env, args []string) error {
	st, err := env.Client.Get(ctx, args[0])
	if err != nil {
		return err
	}
	out, err := formatStatus(st, env.Format)
	if err != nil {
		return err
	}
	_, err = io.WriteString(env.Out, out)
	return err
}

func action(done string, call func(LeaseClient, context.Context, string) error) func(context.Context, *Env, []string) error {
	return func(ctx context.Context, env *Env, args []string) error {
		if err := call(env.Client, ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(env.Out, "%s: %s\n", done, args[0])
		return nil
	}
}

func runSetVersion(ctx context.Context, env *Env, args []string) error {
	v, err := lease.ParseIPVersion(args[1])
	if err != nil {
		return err
	}
	if err := env.Client.SetVersion(ctx, args[0], v); err != nil {
		return err
	}
	fmt.Fprintf(env.Out, "IP version of %s set to %s\n", args[0], v)
	return nil
}
