package shell

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/inkley/sensorctl/internal/ports"
)

// selectPort scans, renders the numbered port menu and reads a choice.
// Returns ok=false when the operator skips, cancels or input ends.
// Malformed input re-prompts; it never aborts the shell.
func (s *Shell) selectPort() (string, bool) {
	fmt.Fprintf(s.out, "\nDetected OS: %s\n", osName())
	fmt.Fprintln(s.out, "Scanning for available serial ports...")

	infos := s.scan(s.scanOpts)
	if len(infos) == 0 {
		fmt.Fprintln(s.out, "No serial ports found!")
		return "", false
	}
	likely, other := ports.Partition(infos)

	fmt.Fprintf(s.out, "\n%s\n", strings.Repeat("=", 80))
	fmt.Fprintln(s.out, "AVAILABLE SERIAL PORTS")
	fmt.Fprintln(s.out, strings.Repeat("=", 80))

	var options []ports.PortInfo
	if len(likely) > 0 {
		fmt.Fprintln(s.out, "\nLikely CAN Interface Devices:")
		fmt.Fprintln(s.out, strings.Repeat("-", 40))
		for _, p := range likely {
			fmt.Fprintf(s.out, "  %d. %s\n", len(options)+1, p.Device)
			s.printPortMeta(p, "     ")
			options = append(options, p)
		}
	}
	if len(other) > 0 {
		fmt.Fprintln(s.out, "Other Serial Ports:")
		fmt.Fprintln(s.out, strings.Repeat("-", 40))
		for _, p := range other {
			fmt.Fprintf(s.out, "  %d. %s\n", len(options)+1, p.Device)
			s.printPortMeta(p, "     ")
			options = append(options, p)
		}
	}

	manual := len(options) + 1
	skip := len(options) + 2
	fmt.Fprintf(s.out, "  %d. Enter custom port manually\n", manual)
	fmt.Fprintf(s.out, "  %d. Skip port selection (use default)\n", skip)

	for {
		fmt.Fprintf(s.out, "\nSelect a port (1-%d): ", skip)
		if !s.in.Scan() {
			fmt.Fprintln(s.out, "\nPort selection cancelled.")
			return "", false
		}
		choice := strings.TrimSpace(s.in.Text())
		if choice == "" {
			continue
		}
		n, err := strconv.Atoi(choice)
		if err != nil {
			fmt.Fprintln(s.out, "Invalid input. Please enter a number.")
			continue
		}

		switch {
		case n >= 1 && n <= len(options):
			device := options[n-1].Device
			fmt.Fprintf(s.out, "Selected port: %s\n", device)
			return device, true

		case n == manual:
			fmt.Fprint(s.out, "Enter custom port (e.g., COM8, /dev/ttyUSB0): ")
			if !s.in.Scan() {
				fmt.Fprintln(s.out, "\nPort selection cancelled.")
				return "", false
			}
			custom := strings.TrimSpace(s.in.Text())
			if custom != "" {
				fmt.Fprintf(s.out, "Using custom port: %s\n", custom)
				return custom, true
			}

		case n == skip:
			fmt.Fprintln(s.out, "Skipping port selection. You can set it later using 'set_channel' command.")
			return "", false

		default:
			fmt.Fprintf(s.out, "Invalid choice. Please enter a number between 1 and %d\n", skip)
		}
	}
}

// printPortMeta prints the descriptive lines under a numbered menu entry.
func (s *Shell) printPortMeta(p ports.PortInfo, indent string) {
	fmt.Fprintf(s.out, "%sDescription: %s\n", indent, p.Description)
	if p.Manufacturer != "" {
		fmt.Fprintf(s.out, "%sManufacturer: %s\n", indent, p.Manufacturer)
	}
	if p.VIDPID() != "" {
		fmt.Fprintf(s.out, "%sVID:PID: %s\n", indent, p.VIDPID())
	}
	if p.SerialNumber != "" {
		fmt.Fprintf(s.out, "%sSerial: %s\n", indent, p.SerialNumber)
	}
	fmt.Fprintln(s.out)
}
