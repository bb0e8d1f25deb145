package conversation

import (
	"fmt"
	"io"
	"sync"
)

// Console prints the user-visible transcript. A nil Console discards
// everything.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

// User prints "User (Alice, joy): text".
func (c *Console) User(name, emotion, text string) {
	if name == "" {
		name = "User"
	}
	c.printf("User (%s, %s): %s\n", name, emotion, text)
}

// Assistant prints "Julie (joy): text".
func (c *Console) Assistant(name, emotion, text string) {
	c.printf("%s (%s): %s\n", name, emotion, text)
}

func (c *Console) Notice(text string) {
	c.printf("%s\n", text)
}

func (c *Console) Prompt(text string) {
	c.printf("%s", text)
}

func (c *Console) printf(format string, args ...interface{}) {
	if c == nil || c.w == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, format, args...)
}
