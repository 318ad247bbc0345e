package ports

import (
	"testing"
)

func TestClassify_Keywords(t *testing.T) {
	tests := []struct {
		name string
		port PortInfo
		want Classification
	}{
		{
			name: "canable in description",
			port: PortInfo{Description: "CANable b158aa7 github.com/normaldotcom/canable-fw"},
			want: LikelyCAN,
		},
		{
			name: "mixed case",
			port: PortInfo{Description: "CANABLE NANO"},
			want: LikelyCAN,
		},
		{
			name: "cantact manufacturer",
			port: PortInfo{Description: "USB Serial", Manufacturer: "CANtact"},
			want: LikelyCAN,
		},
		{
			name: "usb2can converter",
			port: PortInfo{Description: "USB2CAN converter"},
			want: LikelyCAN,
		},
		{
			name: "slcan in serial number",
			port: PortInfo{Description: "Virtual COM Port", SerialNumber: "SLCAN-0042"},
			want: LikelyCAN,
		},
		{
			name: "plain ftdi",
			port: PortInfo{Description: "FT232R USB UART", Manufacturer: "FTDI"},
			want: Other,
		},
		{
			name: "empty descriptors",
			port: PortInfo{Device: "/dev/ttyS0"},
			want: Other,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.port, nil); got != tt.want {
				t.Errorf("Classify() = %v, expected %v", got, tt.want)
			}
		})
	}
}

func TestClassify_VIDPID(t *testing.T) {
	// CANable sticks enumerate with the OpenMoko VID:PID and an empty
	// description on some hosts; the USB ID alone must be enough.
	p := PortInfo{Device: "/dev/ttyACM0", VID: "1d50", PID: "606f"}
	if got := Classify(p, nil); got != LikelyCAN {
		t.Errorf("Classify() = %v, expected LikelyCAN for OpenMoko VID:PID", got)
	}

	unknown := PortInfo{Device: "/dev/ttyACM1", VID: "0403", PID: "6001"}
	if got := Classify(unknown, nil); got != Other {
		t.Errorf("Classify() = %v, expected Other for unrelated VID:PID", got)
	}
}

func TestClassify_ExtraKeywords(t *testing.T) {
	p := PortInfo{Description: "Blue Box Interface"}
	if got := Classify(p, []string{"blue box"}); got != LikelyCAN {
		t.Errorf("Classify() = %v, expected LikelyCAN with extra keyword", got)
	}
	if got := Classify(p, []string{""}); got != Other {
		t.Errorf("Classify() = %v, expected empty extra keyword to be ignored", got)
	}
}

func TestVIDPID(t *testing.T) {
	tests := []struct {
		vid, pid string
		want     string
	}{
		{"1d50", "606f", "1D50:606F"},
		{"0483", "5740", "0483:5740"},
		{"", "606f", ""},
		{"1d50", "", ""},
		{"", "", ""},
	}
	for _, tt := range tests {
		p := PortInfo{VID: tt.vid, PID: tt.pid}
		if got := p.VIDPID(); got != tt.want {
			t.Errorf("VIDPID(%q, %q) = %q, expected %q", tt.vid, tt.pid, got, tt.want)
		}
	}
}

func TestPartition(t *testing.T) {
	infos := []PortInfo{
		{Device: "/dev/ttyACM0", Classification: LikelyCAN},
		{Device: "/dev/ttyS0", Classification: Other},
		{Device: "/dev/ttyUSB0", Classification: LikelyCAN},
	}
	likely, other := Partition(infos)
	if len(likely) != 2 || len(other) != 1 {
		t.Fatalf("Partition split %d/%d, expected 2/1", len(likely), len(other))
	}
	if likely[0].Device != "/dev/ttyACM0" || likely[1].Device != "/dev/ttyUSB0" {
		t.Errorf("Unexpected likely set: %v", likely)
	}
	if other[0].Device != "/dev/ttyS0" {
		t.Errorf("Unexpected other set: %v", other)
	}
}

func TestClassificationString(t *testing.T) {
	if LikelyCAN.String() != "likely CAN" {
		t.Errorf("LikelyCAN.String() = %q", LikelyCAN.String())
	}
	if Other.String() != "other" {
		t.Errorf("Other.String() = %q", Other.String())
	}
}

func TestIsExcluded(t *testing.T) {
	excluded := []string{"/dev/ttyS0", "/dev/ttyS1"}
	if !isExcluded("/dev/ttyS0", excluded) {
		t.Error("Expected /dev/ttyS0 to be excluded")
	}
	if isExcluded("/dev/ttyACM0", excluded) {
		t.Error("Expected /dev/ttyACM0 to pass")
	}
}
