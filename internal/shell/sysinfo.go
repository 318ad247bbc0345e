package shell

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/inkley/sensorctl/internal/ports"
)

// osName maps GOOS to the names operators expect in reports.
func osName() string {
	switch runtime.GOOS {
	case "windows":
		return "Windows"
	case "darwin":
		return "macOS"
	case "linux":
		return "Linux"
	default:
		return fmt.Sprintf("Unknown (%s)", runtime.GOOS)
	}
}

func (s *Shell) cmdSystemInfo(string) bool {
	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, "System Information:")
	fmt.Fprintf(s.out, "Operating System: %s\n", osName())
	fmt.Fprintf(s.out, "Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(s.out, "Go Version: %s\n", runtime.Version())
	channel := s.session.Channel
	if channel == "" {
		channel = "Not configured"
	}
	fmt.Fprintf(s.out, "Current CAN Channel: %s\n", channel)

	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, "Scanning for serial ports...")
	infos := s.scan(s.scanOpts)
	if len(infos) == 0 {
		fmt.Fprintln(s.out, "No serial ports found!")
		return false
	}

	likely, other := ports.Partition(infos)
	if len(likely) > 0 {
		fmt.Fprintf(s.out, "\nDetected CAN Interface Devices (%d):\n", len(likely))
		fmt.Fprintln(s.out, strings.Repeat("-", 50))
		for _, p := range likely {
			fmt.Fprintf(s.out, "  Port: %s\n", p.Device)
			s.printPortMeta(p, "  ")
		}
	}
	if len(other) > 0 {
		fmt.Fprintf(s.out, "Other Serial Ports (%d):\n", len(other))
		fmt.Fprintln(s.out, strings.Repeat("-", 50))
		for _, p := range other {
			fmt.Fprintf(s.out, "  Port: %s\n", p.Device)
			s.printPortMeta(p, "  ")
		}
	}
	return false
}
