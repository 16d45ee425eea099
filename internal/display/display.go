package display

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
)

// clearScreen homes the cursor and erases the terminal.
const clearScreen = "\033[H\033[2J"

// Sink receives the message log and hard error notifications.
type Sink interface {
	// Line appends one line to the message log.
	Line(text string)

	// Error shows a notification the user must notice, separate from the log.
	Error(title, text string)
}

// Clearer is implemented by sinks whose log can be wiped.
type Clearer interface {
	Clear()
}

// Console writes the log to out and errors to errOut.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Console struct {
	mu     sync.Mutex
	out    io.Writer
	errOut io.Writer

	errTitle *color.Color
	errText  *color.Color
	colors   bool
}

// NewConsole creates a console sink. Colours follow fatih/color's terminal
// detection unless overridden with SetColor.
func NewConsole(out, errOut io.Writer) *Console {
	return &Console{
		out:      out,
		errOut:   errOut,
		errTitle: color.New(color.FgRed, color.Bold),
		errText:  color.New(color.FgRed),
		colors:   !color.NoColor,
	}
}

// SetColor forces colour output on or off.
func (c *Console) SetColor(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.colors = enabled
	for _, col := range []*color.Color{c.errTitle, c.errText} {
		if enabled {
			col.EnableColor()
		} else {
			col.DisableColor()
		}
	}
}

// Line writes text followed by a newline.
func (c *Console) Line(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, text)
}

// Error writes "title: text" in red.
func (c *Console) Error(title, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.errOut, "%s %s\n", c.errTitle.Sprint(title+":"), c.errText.Sprint(text))
}

// Clear erases the terminal. Without colour support (not a terminal) it
// does nothing.
func (c *Console) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.colors {
		fmt.Fprint(c.out, clearScreen)
	}
}

// Notice is a hard error captured by Memory.
type Notice struct {
	Title string
	Text  string
}

// Memory is a sink that records everything it is given.
type Memory struct {
	mu      sync.Mutex
	lines   []string
	notices []Notice
	clears  int
}

// NewMemory creates an empty recording sink.
func NewMemory() *Memory {
	return &Memory{}
}

// Line records a log line.
func (m *Memory) Line(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines = append(m.lines, text)
}

// Error records a notice.
func (m *Memory) Error(title, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notices = append(m.notices, Notice{Title: title, Text: text})
}

// Clear drops recorded lines.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines = nil
	m.clears++
}

// Lines returns a copy of the recorded lines.
func (m *Memory) Lines() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.lines...)
}

// Notices returns a copy of the recorded notices.
func (m *Memory) Notices() []Notice {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Notice(nil), m.notices...)
}

// Clears returns how many times Clear was called.
func (m *Memory) Clears() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clears
}
