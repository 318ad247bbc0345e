// Package ports enumerates serial ports and flags the ones that look like
// CAN adapters, so the operator picks from a short list instead of guessing
// device names.
package ports

import (
	"sort"
	"strings"

	"go.bug.st/serial/enumerator"

	"github.com/inkley/sensorctl/pkg/logger"
)

// Classification says whether a port looks like a CAN interface.
type Classification int

const (
	Other Classification = iota
	LikelyCAN
)

func (c Classification) String() string {
	if c == LikelyCAN {
		return "likely CAN"
	}
	return "other"
}

// PortInfo holds details about one serial port at scan time.
type PortInfo struct {
	Device         string
	Description    string
	Manufacturer   string
	SerialNumber   string
	VID            string
	PID            string
	IsUSB          bool
	Classification Classification
}

// VIDPID renders the USB identifiers as "VID:PID", or "" when unknown.
func (p PortInfo) VIDPID() string {
	if p.VID == "" || p.PID == "" {
		return ""
	}
	return strings.ToUpper(p.VID + ":" + p.PID)
}

// Substrings that mark a port description as a CAN adapter. Matched
// case-insensitively against description, manufacturer and serial number.
var canKeywords = []string{
	"canable",
	"cando",
	"slcan",
	"can",
	"cantact",
	"usb2can",
	"peak",
	"kvaser",
}

// USB IDs of common SLCAN hardware: CANable/CANtact (OpenMoko),
// USBtin (V-USB shared ID) and the STM32 virtual COM port.
var canVIDPIDs = map[string]bool{
	"1D50:606F": true,
	"16C0:27DD": true,
	"0483:5740": true,
}

// Options narrows and extends a scan.
type Options struct {
	ExtraKeywords []string // additional classifier keywords
	ExcludePorts  []string // device names to drop entirely
}

// Classify decides whether a port looks like a CAN adapter, first by USB
// VID:PID, then by keyword match on its descriptive strings.
func Classify(p PortInfo, extraKeywords []string) Classification {
	if canVIDPIDs[p.VIDPID()] {
		return LikelyCAN
	}
	haystack := strings.ToLower(p.Description + " " + p.Manufacturer + " " + p.SerialNumber)
	for _, kw := range canKeywords {
		if strings.Contains(haystack, kw) {
			return LikelyCAN
		}
	}
	for _, kw := range extraKeywords {
		if kw == "" {
			continue
		}
		if strings.Contains(haystack, strings.ToLower(kw)) {
			return LikelyCAN
		}
	}
	return Other
}

// Scan enumerates serial ports and classifies each. Enumeration failure is
// reported as an empty list; callers treat "no ports" as a normal answer.
// Likely CAN adapters sort before other ports.
func Scan(opts Options) []PortInfo {
	detailed, err := enumerator.GetDetailedPortsList()
	if err != nil {
		logger.Log.Warnf("Failed to list serial ports: %v", err)
		return nil
	}

	var infos []PortInfo
	for _, p := range detailed {
		if isExcluded(p.Name, opts.ExcludePorts) {
			continue
		}
		// The enumerator has no manufacturer field; the product string
		// doubles as the description.
		info := PortInfo{
			Device:       p.Name,
			Description:  p.Product,
			SerialNumber: p.SerialNumber,
			VID:          p.VID,
			PID:          p.PID,
			IsUSB:        p.IsUSB,
		}
		info.Classification = Classify(info, opts.ExtraKeywords)
		infos = append(infos, info)
	}

	sort.SliceStable(infos, func(i, j int) bool {
		if infos[i].Classification != infos[j].Classification {
			return infos[i].Classification > infos[j].Classification
		}
		return infos[i].Device < infos[j].Device
	})
	return infos
}

// Partition splits a scan result into likely CAN adapters and the rest.
func Partition(infos []PortInfo) (likely, other []PortInfo) {
	for _, p := range infos {
		if p.Classification == LikelyCAN {
			likely = append(likely, p)
		} else {
			other = append(other, p)
		}
	}
	return likely, other
}

func isExcluded(device string, excluded []string) bool {
	for _, e := range excluded {
		if device == e {
			return true
		}
	}
	return false
}
