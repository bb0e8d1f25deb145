package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"

	"github.com/dotsetgreg/dotcompanion/pkg/bus"
	"github.com/dotsetgreg/dotcompanion/pkg/logger"
)

// consoleInput reads typed lines for the orchestrator. It prefers readline
// and falls back to plain buffered stdin when no terminal is available.
type consoleInput struct {
	rl     *readline.Instance
	reader *bufio.Reader
	out    io.Writer
}

func newConsoleInput() *consoleInput {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		HistoryFile:     filepath.Join(os.TempDir(), ".dotcompanion_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Printf("Error initializing readline: %v\n", err)
		fmt.Println("Falling back to simple input mode...")
		return newSimpleConsoleInput(os.Stdin, os.Stdout)
	}
	return &consoleInput{rl: rl, out: rl.Stdout()}
}

func newSimpleConsoleInput(in io.Reader, out io.Writer) *consoleInput {
	return &consoleInput{reader: bufio.NewReader(in), out: out}
}

// Writer is where transcript lines go so they do not garble the prompt.
func (c *consoleInput) Writer() io.Writer {
	return c.out
}

// Run forwards lines into queue until input ends. Interrupt and end of
// input are forwarded as an EOF line so the orchestrator can shut down.
func (c *consoleInput) Run(ctx context.Context, queue *bus.Queue[bus.ConsoleLine]) {
	for {
		line, err := c.readLine()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				queue.Publish(bus.ConsoleLine{EOF: true})
				return
			}
			logger.WarnCF("console", "Error reading input", map[string]interface{}{
				"error": err.Error(),
			})
			continue
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if !queue.Publish(bus.ConsoleLine{Text: input}) {
			logger.WarnCF("console", "Console line dropped", map[string]interface{}{
				"queue": queue.Name(),
			})
		}
	}
}

func (c *consoleInput) readLine() (string, error) {
	if c.rl != nil {
		return c.rl.Readline()
	}
	line, err := c.reader.ReadString('\n')
	if err != nil && line != "" && errors.Is(err, io.EOF) {
		return line, nil
	}
	return line, err
}

func (c *consoleInput) Close() error {
	if c.rl != nil {
		return c.rl.Close()
	}
	return nil
}
