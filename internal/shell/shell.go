package shell

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/nerrad567/tinymqtt/internal/controller"
	"github.com/nerrad567/tinymqtt/internal/history"
	"github.com/nerrad567/tinymqtt/internal/settings"
)

const (
	promptText          = "tinymqtt> "
	defaultHistoryLimit = 20
	historyTimeFormat   = "2006-01-02 15:04:05"
)

// Controller is the command surface the shell drives.
type Controller interface {
	Connect(ctx context.Context) error
	Reconnect(ctx context.Context) error
	Disconnect()
	Publish(topic, payload string) error
	PublishPending() error
	PublishPreset(topic, payload string) error
	SetPending(text string)
	Pending() string
	Subscribe(filter string) error
	SetTopic(topic string) error
	Topic() string
	Settings() settings.Connection
	ApplySettings(fields map[string]string) error
	Connected() bool
	Status() string
	SettingsPath() string
	Health(ctx context.Context) []controller.Component
	History(ctx context.Context, limit int) ([]history.Entry, error)
	ClearLog(ctx context.Context) error
}

// Shell reads commands from in and writes results to out.
type Shell struct {
	ctl Controller
	in  io.Reader

	mu  sync.Mutex
	out io.Writer

	prompt *color.Color
	errCol *color.Color
	okCol  *color.Color

	historyLimit int
}

// New creates a shell. Colours follow fatih/color's terminal detection
// unless overridden with SetColor.
func New(ctl Controller, in io.Reader, out io.Writer) *Shell {
	return &Shell{
		ctl:          ctl,
		in:           in,
		out:          out,
		prompt:       color.New(color.FgCyan, color.Bold),
		errCol:       color.New(color.FgRed),
		okCol:        color.New(color.FgGreen),
		historyLimit: defaultHistoryLimit,
	}
}

// SetColor forces colour output on or off.
func (s *Shell) SetColor(enabled bool) {
	for _, c := range []*color.Color{s.prompt, s.errCol, s.okCol} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
}

// SetHistoryLimit sets how many entries "history" lists without an argument.
func (s *Shell) SetHistoryLimit(n int) {
	if n > 0 {
		s.historyLimit = n
	}
}

// Run reads commands until quit, end of input, or ctx is done.
func (s *Shell) Run(ctx context.Context) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(s.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-stop:
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		s.printf("%s", s.prompt.Sprint(promptText))

		select {
		case <-ctx.Done():
			s.printf("\n")
			return nil
		case line, ok := <-lines:
			if !ok {
				s.printf("\n")
				select {
				case err := <-scanErr:
					if err != nil {
						return fmt.Errorf("reading commands: %w", err)
					}
				default:
				}
				return nil
			}
			if s.Execute(ctx, line) {
				return nil
			}
		}
	}
}

// Execute runs one command line and reports whether the shell should exit.
// Command errors are printed, never returned.
func (s *Shell) Execute(ctx context.Context, line string) (quit bool) {
	name, rest := splitCommand(line)
	if name == "" {
		return false
	}

	var err error
	switch name {
	case "quit", "exit":
		return true
	case "help", "?":
		s.printf("%s", helpText)
	case "connect":
		err = s.ctl.Connect(ctx)
	case "reconnect":
		err = s.ctl.Reconnect(ctx)
	case "disconnect":
		s.ctl.Disconnect()
	case "topic":
		err = s.topic(rest)
	case "msg":
		s.msg(rest)
	case "pub":
		err = s.pub(rest)
	case "pubto":
		err = s.pubto(rest)
	case "sub":
		err = s.sub(rest)
	case "qos0", "qos1":
		err = s.ctl.PublishPreset(name, rest)
	case "config":
		err = s.config(rest)
	case "status":
		s.status(ctx)
	case "history":
		err = s.history(ctx, rest)
	case "clear":
		err = s.ctl.ClearLog(ctx)
	default:
		s.errorf("unknown command %q, type help for a list", name)
		return false
	}

	if err != nil {
		s.errorf("%s: %v", name, err)
	}
	return false
}

func (s *Shell) topic(arg string) error {
	if arg == "" {
		s.printf("%s\n", s.ctl.Topic())
		return nil
	}
	if err := s.ctl.SetTopic(arg); err != nil {
		return err
	}
	s.okf("topic set to %s", arg)
	return nil
}

func (s *Shell) msg(arg string) {
	if arg == "" {
		s.printf("%q\n", s.ctl.Pending())
		return
	}
	s.ctl.SetPending(arg)
}

func (s *Shell) pub(arg string) error {
	if arg == "" {
		return s.ctl.PublishPending()
	}
	return s.ctl.Publish(s.ctl.Topic(), arg)
}

func (s *Shell) pubto(arg string) error {
	topic, payload := splitCommand(arg)
	if topic == "" {
		return fmt.Errorf("usage: pubto <topic> <payload>")
	}
	return s.ctl.Publish(topic, payload)
}

func (s *Shell) sub(arg string) error {
	if arg == "" {
		arg = s.ctl.Topic()
	}
	if err := s.ctl.Subscribe(arg); err != nil {
		return err
	}
	s.okf("subscribing to %s", arg)
	return nil
}

func (s *Shell) config(arg string) error {
	sub, rest := splitCommand(arg)
	switch sub {
	case "", "show":
		c := s.ctl.Settings().Redacted()
		s.printf("broker:   %s\nport:     %d\nuser:     %s\npassword: %s\n", c.Broker, c.Port, c.User, c.Password)
		return nil
	case "set":
		fields, err := parseAssignments(rest)
		if err != nil {
			return err
		}
		if err := s.ctl.ApplySettings(fields); err != nil {
			return err
		}
		s.okf("settings saved, use reconnect to apply")
		return nil
	default:
		return fmt.Errorf("usage: config [show] | config set key=value ...")
	}
}

func (s *Shell) status(ctx context.Context) {
	state := "disconnected"
	if s.ctl.Connected() {
		state = "connected"
	}
	s.printf("status:  %s\nstate:   %s\ntopic:   %s\npending: %q\n",
		s.ctl.Status(), state, s.ctl.Topic(), s.ctl.Pending())
	if path := s.ctl.SettingsPath(); path != "" {
		s.printf("settings: %s\n", path)
	}
	for _, c := range s.ctl.Health(ctx) {
		if c.Err != nil {
			s.printf("%s: %s (%s)\n", c.Name, s.errCol.Sprintf("error: %v", c.Err), c.Detail)
			continue
		}
		s.printf("%s: %s (%s)\n", c.Name, s.okCol.Sprint("ok"), c.Detail)
	}
}

func (s *Shell) history(ctx context.Context, arg string) error {
	limit := s.historyLimit
	if arg != "" {
		n, err := strconv.Atoi(arg)
		if err != nil || n <= 0 {
			return fmt.Errorf("usage: history [n], n a positive number")
		}
		limit = n
	}

	entries, err := s.ctl.History(ctx, limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		s.printf("no history\n")
		return nil
	}
	for _, e := range entries {
		s.printf("%s\n", formatEntry(e))
	}
	return nil
}

// formatEntry renders one history row.
func formatEntry(e history.Entry) string {
	at := e.OccurredAt.Local().Format(historyTimeFormat)
	switch {
	case e.Reason != "":
		return fmt.Sprintf("%s  #%d  %-16s %s", at, e.Session, e.Kind, e.Reason)
	case e.Topic != "":
		return fmt.Sprintf("%s  #%d  %-16s %s -> %s", at, e.Session, e.Kind, e.Topic, e.Payload)
	default:
		return fmt.Sprintf("%s  #%d  %s", at, e.Session, e.Kind)
	}
}

// splitCommand returns the first word and the remainder with leading
// whitespace removed. Interior spacing of the remainder is kept.
func splitCommand(line string) (string, string) {
	line = strings.TrimSpace(line)
	name, rest, _ := strings.Cut(line, " ")
	return strings.ToLower(name), strings.TrimLeft(rest, " \t")
}

// parseAssignments parses "k=v k2=v2". Values cannot contain spaces.
func parseAssignments(s string) (map[string]string, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil, fmt.Errorf("usage: config set key=value ...")
	}
	out := make(map[string]string, len(fields))
	for _, f := range fields {
		k, v, ok := strings.Cut(f, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("expected key=value, got %q", f)
		}
		out[k] = v
	}
	return out, nil
}

func (s *Shell) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, format, args...)
}

func (s *Shell) errorf(format string, args ...any) {
	s.printf("%s\n", s.errCol.Sprintf(format, args...))
}

func (s *Shell) okf(format string, args ...any) {
	s.printf("%s\n", s.okCol.Sprintf(format, args...))
}

const helpText = `commands:
  connect                   connect with the saved settings
  reconnect                 reconnect, applying changed settings
  disconnect                close the connection
  topic [topic]             show or set the current topic
  msg [text]                show or set the pending message
  pub [payload]             publish payload, or the pending message, to the topic
  pubto <topic> <payload>   publish to another topic
  sub [filter]              subscribe, defaults to the current topic
  qos0 <0|1>                predefined publish to qos0
  qos1 <0|1>                predefined publish to qos1
  config [show]             show connection settings
  config set key=value ...  set broker, port, user, password
  status                    connection status and store health
  history [n]               last n logged events
  clear                     clear the message log and history
  help                      this text
  quit                      exit
`
