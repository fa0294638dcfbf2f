package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/veesix-networks/osvlease/pkg/config"
	"github.com/veesix-networks/osvlease/pkg/leaseapi"
	"github.com/veesix-networks/osvlease/pkg/version"
)

func connect(c *cli.Context) (*leaseapi.Client, *Env, error) {
	format, err := ParseOutputFormat(c.String("format"))
	if err != nil {
		return nil, nil, err
	}
	client, err := leaseapi.Dial(c.String("server"))
	if err != nil {
		return nil, nil, err
	}
	return client, &Env{Client: client, Out: c.App.Writer, Format: format}, nil
}

func runCommand(cmd *Command) cli.ActionFunc {
	return func(c *cli.Context) error {
		client, env, err := connect(c)
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, cancel := context.WithTimeout(c.Context, commandTimeout)
		defer cancel()

		return cmd.Execute(ctx, env, c.Args().Slice())
	}
}

func runShell(c *cli.Context) error {
	client, env, err := connect(c)
	if err != nil {
		return err
	}
	defer client.Close()

	shell := NewShell(env, c.String("server"))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(env.Out, "\nShutting down...")
		shell.Stop()
		os.Exit(0)
	}()

	return shell.Run()
}

func runPing(c *cli.Context) error {
	client, env, err := connect(c)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(c.Context, commandTimeout)
	defer cancel()

	resp, err := healthpb.NewHealthClient(client.Conn()).Check(ctx, &healthpb.HealthCheckRequest{Service: leaseapi.ServiceName})
	if err != nil {
		return err
	}
	fmt.Fprintf(env.Out, "%s: %s\n", leaseapi.ServiceName, resp.GetStatus())
	return nil
}

func newApp() *cli.App {
	cmds := make([]*cli.Command, 0, len(commands)+2)
	for _, name := range commandNames() {
		cmd := findCommand(name)
		cmds = append(cmds, &cli.Command{
			Name:      cmd.Name,
			Usage:     cmd.Description,
			ArgsUsage: cmd.usage()[len(cmd.Name):],
			Action:    runCommand(cmd),
		})
	}
	cmds = append(cmds,
		&cli.Command{
			Name:   "shell",
			Usage:  "Start the interactive shell",
			Action: runShell,
		},
		&cli.Command{
			Name:   "ping",
			Usage:  "Check that the daemon is serving",
			Action: runPing,
		},
	)

	return &cli.App{
		Name:     "osvleasecli",
		Usage:    "Inspect and control the osvlease DHCP client daemon",
		HelpName: "osvleasecli",
		Version:  version.Get().String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Usage:   "Address of the osvleased control API",
				Value:   config.DefaultAPIListen,
				Aliases: []string{"s"},
				EnvVars: []string{"OSVLEASE_SERVER"},
			},
			&cli.StringFlag{
				Name:    "format",
				Usage:   "Output format: cli, json or yaml",
				Value:   string(FormatCLI),
				Aliases: []string{"o"},
			},
		},
		Commands: cmds,
		Action:   runShell,
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
