// Package shell is the interactive command line: a prompt loop dispatching
// numbered and named commands against the sensor session.
package shell

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/inkley/sensorctl/internal/model"
	"github.com/inkley/sensorctl/internal/notify"
	"github.com/inkley/sensorctl/internal/ports"
	"github.com/inkley/sensorctl/internal/recorder"
	"github.com/inkley/sensorctl/internal/repository"
	"github.com/inkley/sensorctl/internal/sensor"
	"github.com/inkley/sensorctl/pkg/logger"
)

const intro = `Inkley Sensor Command Line Interface. Type 'help' for commands.

Inkley Sensor CLI Menu:
  1 - Display version
  2 - Start real-time streaming
  3 - Read buffered data
  4 - Stop streaming
  5 - Display current readings
  6 - Scan and select CAN ports
  7 - Show system information
  8 - Exit program

Additional commands:
  set_channel      - Set the serial port for the CANable interface
  set_outdir       - Set output directory for CSV logging
  set_filename     - Set CSV filename for logging
  set_output       - Set both directory and filename
  runs             - Show recent recording runs
`

// Session holds the settings the shell commands adjust between runs.
type Session struct {
	Channel    string
	Bitrate    int
	OutDir     string
	OutFile    string
	FlushEvery int
}

type command struct {
	name   string
	number string // "" when the command has no numeric alias
	help   string
	run    func(arg string) bool // true means leave the loop
}

// Shell is the interactive REPL over one sensor session.
type Shell struct {
	ctrl     *sensor.Controller
	runs     *repository.RunRepository
	notifier *notify.Notifier
	scanOpts ports.Options
	scan     func(ports.Options) []ports.PortInfo
	session  Session
	version  string // shown when the module never reports its own

	in  *bufio.Scanner
	out io.Writer

	cmds    map[string]*command
	numbers []string
}

// New builds the shell and resolves the command table once.
func New(ctrl *sensor.Controller, runs *repository.RunRepository, notifier *notify.Notifier, scanOpts ports.Options, session Session, version string, in io.Reader, out io.Writer) *Shell {
	s := &Shell{
		ctrl:     ctrl,
		runs:     runs,
		notifier: notifier,
		scanOpts: scanOpts,
		scan:     ports.Scan,
		session:  session,
		version:  version,
		in:       bufio.NewScanner(in),
		out:      out,
		cmds:     make(map[string]*command),
	}

	s.register("version", "1", "Display the version of the sensor module firmware", s.cmdVersion)
	s.register("start", "2", "Start real-time sensor streaming", s.cmdStart)
	s.register("stream_buffer", "3", "Read buffered sensor data", s.cmdStreamBuffer)
	s.register("stop", "4", "Stop streaming", s.cmdStop)
	s.register("readings", "5", "Display current sensor readings", s.cmdReadings)
	s.register("scan_ports", "6", "Scan for available CAN interface ports and allow selection", s.cmdScanPorts)
	s.register("system_info", "7", "Display system information and available ports", s.cmdSystemInfo)
	s.register("quit", "8", "Exit the command line interface", s.cmdQuit)
	s.register("exit", "", "Alias for quit command", s.cmdQuit)
	s.register("set_channel", "", "Set the serial port for the CANable interface", s.cmdSetChannel)
	s.register("set_outdir", "", "Set output directory for CSV logging", s.cmdSetOutdir)
	s.register("set_filename", "", "Set output CSV filename for logging", s.cmdSetFilename)
	s.register("set_output", "", "Set both directory and filename", s.cmdSetOutput)
	s.register("runs", "", "Show recent recording runs", s.cmdRuns)
	s.register("help", "", "List available commands with help text", s.cmdHelp)
	return s
}

func (s *Shell) register(name, number, help string, run func(string) bool) {
	c := &command{name: name, number: number, help: help, run: run}
	s.cmds[name] = c
	if number != "" {
		s.cmds[number] = c
		s.numbers = append(s.numbers, number)
	}
}

// Run prints the menu and processes commands until quit or end of input.
func (s *Shell) Run() error {
	fmt.Fprint(s.out, intro)
	for {
		fmt.Fprint(s.out, "> ")
		if !s.in.Scan() {
			// End of input counts as quit.
			fmt.Fprintln(s.out)
			s.cmdQuit("")
			return s.in.Err()
		}
		line := strings.TrimSpace(s.in.Text())
		if line == "" {
			continue
		}
		name, arg := splitCommand(line)
		cmd, ok := s.cmds[name]
		if !ok {
			fmt.Fprintf(s.out, "Unknown command: %s. Type 'help' for available commands.\n", name)
			continue
		}
		if cmd.run(arg) {
			return nil
		}
	}
}

func splitCommand(line string) (name, arg string) {
	parts := strings.SplitN(line, " ", 2)
	if len(parts) == 2 {
		return parts[0], strings.TrimSpace(parts[1])
	}
	return parts[0], ""
}

// ensureConnected lazily opens the session the way every CAN command
// expects: connect on first use, complain when no channel is set.
func (s *Shell) ensureConnected() bool {
	if s.ctrl.State() == sensor.Connected {
		return true
	}
	err := s.ctrl.Connect(sensor.Config{Channel: s.session.Channel, Bitrate: s.session.Bitrate})
	if err == nil {
		fmt.Fprintf(s.out, "CAN bus initialized successfully on %s\n", s.session.Channel)
		return true
	}
	if errors.Is(err, sensor.ErrNoChannel) {
		fmt.Fprintln(s.out, "No CAN channel configured. Use 'scan_ports' or 'set_channel' to configure a port.")
		return false
	}
	fmt.Fprintf(s.out, "Error initializing CAN bus on %s: %v\n", s.session.Channel, err)
	return false
}

func (s *Shell) cmdVersion(string) bool {
	if !s.ensureConnected() {
		return false
	}
	fmt.Fprintln(s.out, "Version request sent to sensor module. Waiting for response...")
	v, err := s.ctrl.Version()
	switch {
	case err == nil:
		fmt.Fprintf(s.out, "Sensor module firmware version: %s\n", v)
	case errors.Is(err, sensor.ErrVersionTimeout):
		fmt.Fprintln(s.out, "No response received from sensor module. Using local version.")
		if cached, ok := s.ctrl.CachedVersion(); ok {
			fmt.Fprintf(s.out, "Local version: %s\n", cached)
		} else {
			fmt.Fprintf(s.out, "Local version: %s\n", s.version)
		}
	default:
		fmt.Fprintf(s.out, "Error receiving version response: %v\n", err)
	}
	return false
}

func (s *Shell) cmdStart(string) bool {
	if s.ctrl.Streaming() {
		fmt.Fprintln(s.out, "Streaming is already active")
		return false
	}
	if !s.ensureConnected() {
		return false
	}

	csv, err := recorder.Open(s.session.OutDir, s.session.OutFile, s.session.FlushEvery)
	if err != nil {
		fmt.Fprintf(s.out, "Failed to open output file: %v\n", err)
		return false
	}

	run := &model.Run{
		Port:       s.ctrl.Device(),
		Mode:       sensor.Realtime.String(),
		OutputPath: csv.Path(),
		StartedAt:  time.Now(),
	}
	if err := s.runs.Create(run); err != nil {
		logger.Log.Warnf("Failed to record run: %v", err)
	}

	opts := sensor.StreamOptions{
		Sinks: []sensor.ReadingSink{csv},
		OnEnd: s.runFinisher(run, csv.Path()),
	}
	if err := s.ctrl.StartStream(opts); err != nil {
		csv.Close()
		if errors.Is(err, sensor.ErrStreaming) {
			fmt.Fprintln(s.out, "Streaming is already active")
		} else {
			fmt.Fprintf(s.out, "Failed to send start streaming command: %v\n", err)
		}
		return false
	}
	fmt.Fprintf(s.out, "Logging to: %s\n", csv.Path())
	fmt.Fprintln(s.out, "Started real-time streaming")
	return false
}

// runFinisher finalizes the run ledger entry and notifies watchers when a
// stream winds down. Runs on the stream goroutine.
func (s *Shell) runFinisher(run *model.Run, path string) func(sensor.StreamStats, error) {
	return func(stats sensor.StreamStats, err error) {
		if ferr := s.runs.Finish(run, stats.Samples, stats.DecodeErrors); ferr != nil {
			logger.Log.Warnf("Failed to finalize run: %v", ferr)
		}
		s.notifier.RunFinished(*run)
		if err != nil {
			fmt.Fprintf(s.out, "Streaming error: %v\n", err)
		}
		fmt.Fprintf(s.out, "Sensor data saved to %s\n", path)
	}
}

func (s *Shell) cmdStreamBuffer(string) bool {
	if s.ctrl.Streaming() {
		fmt.Fprintln(s.out, "Streaming is already active")
		return false
	}
	if !s.ensureConnected() {
		return false
	}

	csv, err := recorder.Open(s.session.OutDir, s.session.OutFile, s.session.FlushEvery)
	if err != nil {
		fmt.Fprintf(s.out, "Failed to open output file: %v\n", err)
		return false
	}

	run := &model.Run{
		Port:       s.ctrl.Device(),
		Mode:       sensor.Buffered.String(),
		OutputPath: csv.Path(),
		StartedAt:  time.Now(),
	}
	if err := s.runs.Create(run); err != nil {
		logger.Log.Warnf("Failed to record run: %v", err)
	}

	fmt.Fprintln(s.out, "Reading buffered data...")
	count, drainErr := s.ctrl.DrainBuffered(csv)
	if cerr := csv.Close(); cerr != nil {
		fmt.Fprintf(s.out, "Failed to close output file: %v\n", cerr)
	}

	var decodeErrors int64
	if drainErr == nil {
		decodeErrors = s.ctrl.LastStats().DecodeErrors
	}
	if ferr := s.runs.Finish(run, int64(count), decodeErrors); ferr != nil {
		logger.Log.Warnf("Failed to finalize run: %v", ferr)
	}
	s.notifier.RunFinished(*run)

	if drainErr != nil {
		fmt.Fprintf(s.out, "Error reading buffered data: %v\n", drainErr)
	}
	fmt.Fprintf(s.out, "Drained %d buffered readings to %s\n", count, csv.Path())
	return false
}

func (s *Shell) cmdStop(string) bool {
	if err := s.ctrl.StopStream(); errors.Is(err, sensor.ErrNotStreaming) {
		fmt.Fprintln(s.out, "Streaming is not active")
		return false
	}
	fmt.Fprintln(s.out, "Stopped real-time streaming")
	return false
}

func (s *Shell) cmdReadings(string) bool {
	if !s.ensureConnected() {
		return false
	}
	readings, err := s.ctrl.Readings()
	if err != nil {
		fmt.Fprintf(s.out, "Failed to send reading request command: %v\n", err)
		return false
	}
	fmt.Fprintln(s.out, "Reading request sent to sensor module")
	fmt.Fprintln(s.out, "Current sensor readings:")
	for _, ch := range sensor.Channels {
		if r, ok := readings[ch]; ok {
			fmt.Fprintf(s.out, "%s: %g\n", ch, r.Value)
		} else {
			fmt.Fprintf(s.out, "%s: No data\n", ch)
		}
	}
	return false
}

func (s *Shell) cmdScanPorts(string) bool {
	old := s.session.Channel
	selected, ok := s.selectPort()
	if !ok || selected == "" {
		return false
	}
	s.session.Channel = selected
	if selected != old && s.ctrl.State() == sensor.Connected {
		if err := s.ctrl.Disconnect(); err != nil {
			logger.Log.Warnf("Disconnect after port change: %v", err)
		}
		fmt.Fprintln(s.out, "Port changed - reconnecting on next CAN action.")
	}
	return false
}

func (s *Shell) cmdQuit(string) bool {
	if s.ctrl.Streaming() {
		if err := s.ctrl.StopStream(); err != nil {
			logger.Log.Warnf("Stop stream on quit: %v", err)
		}
	}
	if s.ctrl.State() == sensor.Connected {
		if err := s.ctrl.Disconnect(); err != nil {
			logger.Log.Warnf("Disconnect on quit: %v", err)
		}
	}
	fmt.Fprintln(s.out, "Exiting Sensor Commander")
	return true
}

func (s *Shell) cmdSetChannel(arg string) bool {
	if arg == "" {
		current := s.session.Channel
		if current == "" {
			current = "Not configured"
		}
		fmt.Fprintf(s.out, "Current CAN channel is %s\n", current)
		fmt.Fprintln(s.out, "Usage: set_channel <port>")
		fmt.Fprintln(s.out, "Example: set_channel /dev/ttyACM0")
		return false
	}

	if s.ctrl.State() == sensor.Connected {
		if err := s.ctrl.Disconnect(); err != nil {
			logger.Log.Warnf("Disconnect before channel change: %v", err)
		}
	}
	s.session.Channel = arg
	fmt.Fprintf(s.out, "CAN channel set to %s\n", arg)

	if err := s.ctrl.Connect(sensor.Config{Channel: arg, Bitrate: s.session.Bitrate}); err == nil {
		fmt.Fprintln(s.out, "Successfully connected to the new channel")
	} else {
		fmt.Fprintln(s.out, "Failed to connect to the new channel, but it will be used for future connection attempts")
	}
	return false
}

func (s *Shell) cmdSetOutdir(arg string) bool {
	if arg == "" {
		fmt.Fprintf(s.out, "Current output directory: %s\n", absPath(s.session.OutDir))
		return false
	}
	s.session.OutDir = arg
	fmt.Fprintf(s.out, "Output directory set to: %s\n", absPath(arg))
	return false
}

func (s *Shell) cmdSetFilename(arg string) bool {
	if arg == "" {
		fmt.Fprintf(s.out, "Current filename: %s\n", s.session.OutFile)
		return false
	}
	if !strings.HasSuffix(strings.ToLower(arg), ".csv") {
		arg += ".csv"
	}
	s.session.OutFile = arg
	fmt.Fprintf(s.out, "Filename set to: %s\n", arg)
	return false
}

func (s *Shell) cmdSetOutput(arg string) bool {
	parts := strings.Fields(arg)
	if len(parts) < 2 {
		fmt.Fprintln(s.out, "Usage: set_output <dir> <filename>")
		return false
	}
	dir := parts[0]
	filename := strings.Join(parts[1:], " ")
	if !strings.HasSuffix(strings.ToLower(filename), ".csv") {
		filename += ".csv"
	}
	s.session.OutDir = dir
	s.session.OutFile = filename
	fmt.Fprintf(s.out, "Output set to: %s\n", absPath(filepath.Join(dir, filename)))
	return false
}

func (s *Shell) cmdRuns(string) bool {
	runs, err := s.runs.Recent(10)
	if err != nil {
		fmt.Fprintf(s.out, "Failed to list runs: %v\n", err)
		return false
	}
	if len(runs) == 0 {
		fmt.Fprintln(s.out, "No recorded runs yet")
		return false
	}
	for _, r := range runs {
		ended := "running"
		if r.EndedAt != nil {
			ended = r.EndedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(s.out, "#%d %s %s samples=%d errors=%d started=%s ended=%s\n",
			r.ID, r.Port, r.Mode, r.Samples, r.DecodeErrors,
			r.StartedAt.Format("2006-01-02 15:04:05"), ended)
		fmt.Fprintf(s.out, "    -> %s\n", r.OutputPath)
	}
	return false
}

func (s *Shell) cmdHelp(string) bool {
	fmt.Fprintln(s.out, "Available commands:")
	fmt.Fprintln(s.out, "  Command Numbers:")
	for _, num := range s.numbers {
		fmt.Fprintf(s.out, "  %s - %s\n", num, s.cmds[num].help)
	}
	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, "  Commands:")
	names := make([]string, 0, len(s.cmds))
	for name, c := range s.cmds {
		if name == c.name && name != "help" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(s.out, "  %s - %s\n", name, s.cmds[name].help)
	}
	return false
}

func absPath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return abs
}
