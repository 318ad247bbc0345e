package shell

import (
	"strings"
	"testing"

	"github.com/inkley/sensorctl/internal/ports"
)

func fakeScan(infos ...ports.PortInfo) func(ports.Options) []ports.PortInfo {
	return func(ports.Options) []ports.PortInfo { return infos }
}

func scanResult() []ports.PortInfo {
	return []ports.PortInfo{
		{
			Device:         "/dev/ttyACM0",
			Description:    "CANable b158aa7",
			VID:            "1D50",
			PID:            "606F",
			IsUSB:          true,
			Classification: ports.LikelyCAN,
		},
		{
			Device:         "/dev/ttyACM1",
			Description:    "CANtact",
			IsUSB:          true,
			Classification: ports.LikelyCAN,
		},
		{
			Device:      "/dev/ttyS0",
			Description: "16550A UART",
		},
	}
}

func TestSelectPort_PicksByNumber(t *testing.T) {
	ts := newTestShell(t, "", "2\n")
	ts.scan = fakeScan(scanResult()...)

	device, ok := ts.selectPort()
	if !ok {
		t.Fatal("Expected a selection")
	}
	if device != "/dev/ttyACM1" {
		t.Errorf("Selected %q, expected /dev/ttyACM1", device)
	}

	out := ts.out.String()
	mustContain(t, out, "AVAILABLE SERIAL PORTS")
	mustContain(t, out, "Likely CAN Interface Devices:")
	mustContain(t, out, "Other Serial Ports:")
	mustContain(t, out, "1. /dev/ttyACM0")
	mustContain(t, out, "VID:PID: 1D50:606F")
	mustContain(t, out, "4. Enter custom port manually")
	mustContain(t, out, "5. Skip port selection (use default)")
	mustContain(t, out, "Selected port: /dev/ttyACM1")
}

func TestSelectPort_InvalidInputReprompts(t *testing.T) {
	ts := newTestShell(t, "", "abc\n99\n3\n")
	ts.scan = fakeScan(scanResult()...)

	device, ok := ts.selectPort()
	if !ok || device != "/dev/ttyS0" {
		t.Fatalf("Selected %q ok=%v, expected /dev/ttyS0", device, ok)
	}

	out := ts.out.String()
	mustContain(t, out, "Invalid input. Please enter a number.")
	mustContain(t, out, "Invalid choice. Please enter a number between 1 and 5")
	// The prompt must have been shown once per attempt.
	if got := strings.Count(out, "Select a port (1-5):"); got != 3 {
		t.Errorf("Prompt shown %d times, expected 3", got)
	}
}

func TestSelectPort_CustomEntry(t *testing.T) {
	ts := newTestShell(t, "", "4\nCOM9\n")
	ts.scan = fakeScan(scanResult()...)

	device, ok := ts.selectPort()
	if !ok || device != "COM9" {
		t.Fatalf("Selected %q ok=%v, expected COM9", device, ok)
	}
	mustContain(t, ts.out.String(), "Using custom port: COM9")
}

func TestSelectPort_Skip(t *testing.T) {
	ts := newTestShell(t, "", "5\n")
	ts.scan = fakeScan(scanResult()...)

	if _, ok := ts.selectPort(); ok {
		t.Error("Expected skip to return no selection")
	}
	mustContain(t, ts.out.String(), "Skipping port selection. You can set it later using 'set_channel' command.")
}

func TestSelectPort_EndOfInputCancels(t *testing.T) {
	ts := newTestShell(t, "", "")
	ts.scan = fakeScan(scanResult()...)

	if _, ok := ts.selectPort(); ok {
		t.Error("Expected cancel on end of input")
	}
	mustContain(t, ts.out.String(), "Port selection cancelled.")
}

func TestSelectPort_NoPorts(t *testing.T) {
	ts := newTestShell(t, "", "")
	ts.scan = fakeScan()

	if _, ok := ts.selectPort(); ok {
		t.Error("Expected no selection when no ports exist")
	}
	mustContain(t, ts.out.String(), "No serial ports found!")
}

func TestScanPorts_ChangedPortDisconnects(t *testing.T) {
	// "readings" lazily connects, then the port change must drop the
	// connection so the next command reconnects on the new port.
	ts := newTestShell(t, "oldCAN", "readings\nscan_ports\n1\n8\n")
	ts.scan = fakeScan(scanResult()...)

	out := ts.mustRun(t)
	mustContain(t, out, "CAN bus initialized successfully on oldCAN")
	mustContain(t, out, "Selected port: /dev/ttyACM0")
	mustContain(t, out, "Port changed - reconnecting on next CAN action.")
	if len(ts.opener.buses) != 1 {
		t.Fatalf("Expected 1 open during the script, got %d", len(ts.opener.buses))
	}
	if ts.opener.buses[0].closes != 1 {
		t.Errorf("Expected the old connection closed once, got %d", ts.opener.buses[0].closes)
	}
}

func TestSystemInfo_ListsPorts(t *testing.T) {
	ts := newTestShell(t, "", "system_info\n8\n")
	ts.scan = fakeScan(scanResult()...)

	out := ts.mustRun(t)
	mustContain(t, out, "System Information:")
	mustContain(t, out, "Operating System:")
	mustContain(t, out, "Current CAN Channel: Not configured")
	mustContain(t, out, "Detected CAN Interface Devices (2):")
	mustContain(t, out, "Other Serial Ports (1):")
	mustContain(t, out, "Port: /dev/ttyS0")
}
