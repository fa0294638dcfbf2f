package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/chzyer/readline"
)

const commandTimeout = 10 * time.Second

type Shell struct {
	env        *Env
	serverAddr string
	rl         *readline.Instance
	running    bool
}

func NewShell(env *Env, serverAddr string) *Shell {
	return &Shell{env: env, serverAddr: serverAddr, running: true}
}

func (s *Shell) Run() error {
	var err error
	s.rl, err = readline.NewEx(&readline.Config{
		Prompt:          "osvlease> ",
		HistoryFile:     os.ExpandEnv("$HOME/.osvlease_history"),
		AutoComplete:    s.completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		FuncFilterInputRune: func(r rune) (rune, bool) {
			if r == readline.CharCtrlZ {
				return r, false
			}
			return r, true
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize readline: %w", err)
	}
	defer s.rl.Close()

	s.printBanner()

	for s.running {
		line, err := s.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				if len(line) == 0 {
					break
				}
				continue
			} else if errors.Is(err, io.EOF) {
				break
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if err := s.processCommand(line); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}

	return nil
}

func (s *Shell) Stop() {
	s.running = false
}

func (s *Shell) printBanner() {
	fmt.Fprintln(s.env.Out, "=====================================")
	fmt.Fprintln(s.env.Out, "    osvlease Interactive CLI")
	fmt.Fprintln(s.env.Out, "=====================================")
	fmt.Fprintf(s.env.Out, "Connected to: %s\n", s.serverAddr)
	fmt.Fprintln(s.env.Out, "Type 'help' for available commands")
	fmt.Fprintln(s.env.Out, "Type 'exit' or 'quit' to exit")
	fmt.Fprintln(s.env.Out)
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.env.Out)
	for _, name := range commandNames() {
		c := findCommand(name)
		fmt.Fprintf(s.env.Out, "  %-32s %s\n", c.usage(), c.Description)
	}
	fmt.Fprintf(s.env.Out, "  %-32s %s\n", "format <cli|json|yaml>", "Change the output format")
	fmt.Fprintf(s.env.Out, "  %-32s %s\n", "exit", "Leave the shell")
	fmt.Fprintln(s.env.Out)
}

func (s *Shell) processCommand(line string) error {
	fields := strings.Fields(line)

	switch fields[0] {
	case "exit", "quit":
		s.running = false
		return nil
	case "help", "?":
		s.printHelp()
		return nil
	case "format":
		if len(fields) != 2 {
			return fmt.Errorf("usage: format <cli|json|yaml>")
		}
		f, err := ParseOutputFormat(fields[1])
		if err != nil {
			return err
		}
		s.env.Format = f
		return nil
	}

	cmd := findCommand(fields[0])
	if cmd == nil {
		return fmt.Errorf("unknown command %q, type 'help'", fields[0])
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	return cmd.Execute(ctx, s.env, fields[1:])
}

func (s *Shell) completer() readline.AutoCompleter {
	items := make([]readline.PrefixCompleterInterface, 0, len(commands)+3)
	for _, name := range commandNames() {
		c := findCommand(name)
		if c.CompleteInterface {
			items = append(items, readline.PcItem(c.Name, readline.PcItemDynamic(s.interfaceNames)))
		} else {
			items = append(items, readline.PcItem(c.Name))
		}
	}
	items = append(items,
		readline.PcItem("format", readline.PcItem("cli"), readline.PcItem("json"), readline.PcItem("yaml")),
		readline.PcItem("help"),
		readline.PcItem("exit"),
	)
	return readline.NewPrefixCompleter(items...)
}

func (s *Shell) interfaceNames(string) []string {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	list, err := s.env.Client.List(ctx)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(list))
	for _, st := range list {
		names = append(names, st.Interface)
	}
	return names
}
