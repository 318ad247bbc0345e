// Package sensor speaks the Inkley sensor-module firmware protocol and owns
// the single CAN session used by the CLI.
package sensor

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/inkley/sensorctl/internal/can"
)

// CAN identifiers fixed by the sensor-module firmware.
const (
	// CommandID carries commands from the host to the module.
	CommandID = 0x107
	// ResponseID carries ACK/response frames back to the host. It is
	// echoed inside every command payload so the firmware knows where to
	// answer.
	ResponseID = 0x108
	// BroadcastID carries realtime sample broadcasts.
	BroadcastID = 0x7DF
)

// Command codes understood by the firmware.
const (
	CmdVersion      = 0x01
	CmdStartStream  = 0x02
	CmdStreamBuffer = 0x03
	CmdStopStream   = 0x04
	CmdGetReadings  = 0x05
)

// Broadcast frames carry this type marker in byte 0.
const sampleFrameType = 0x05

// Channel names one of the four measurement streams.
type Channel string

const (
	Pressure1    Channel = "Pressure1"
	Pressure2    Channel = "Pressure2"
	Temperature1 Channel = "Temperature1"
	Temperature2 Channel = "Temperature2"
)

// Channels lists all channels in display order.
var Channels = []Channel{Pressure1, Pressure2, Temperature1, Temperature2}

// Sensor tag 0x12 packs both pressures into one frame; the single-channel
// tags carry one 32-bit value each.
const packedPressureTag = 0x12

var channelTags = map[byte]Channel{
	0x01: Pressure1,
	0x02: Pressure2,
	0x03: Temperature1,
	0x04: Temperature2,
}

// Reading is one decoded sample. Immutable once produced.
type Reading struct {
	Time    time.Time `json:"time"`
	Channel Channel   `json:"channel"`
	Value   float64   `json:"value"`
}

// Version is a firmware build number.
type Version struct {
	Major, Minor, Patch, Build byte
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", v.Major, v.Minor, v.Patch, v.Build)
}

// Response is a decoded ACK frame from the module.
type Response struct {
	Cmd     byte
	Version Version // set when Cmd == CmdVersion
	Value   uint32  // generic status otherwise
}

// encodeCommand builds the 8-byte command frame sent to the module:
// [0]=cmd, [1..2]=response CAN ID big endian, [3..6]=uint32 argument, [7]=0.
func encodeCommand(cmd byte, arg uint32) can.Frame {
	var data [8]byte
	data[0] = cmd
	data[1] = byte(ResponseID >> 8)
	data[2] = byte(ResponseID & 0xFF)
	binary.BigEndian.PutUint32(data[3:7], arg)
	data[7] = 0
	return can.Frame{ID: CommandID, Len: 8, Data: data}
}

// decodeResponse interprets an ACK frame. Byte 3 echoes the command; a
// version reply carries major.minor.patch.build in bytes 4..7, anything else
// a big-endian status value.
func decodeResponse(f can.Frame) (Response, error) {
	if f.Len != 8 {
		return Response{}, &DecodeError{Frame: f, Reason: "response shorter than 8 bytes"}
	}
	resp := Response{Cmd: f.Data[3]}
	if resp.Cmd == CmdVersion {
		resp.Version = Version{
			Major: f.Data[4],
			Minor: f.Data[5],
			Patch: f.Data[6],
			Build: f.Data[7],
		}
		return resp, nil
	}
	resp.Value = binary.BigEndian.Uint32(f.Data[4:8])
	return resp, nil
}

// decodeSample expands a broadcast frame into readings. A packed pressure
// frame (tag 0x12) carries both pressures as 16-bit counts and yields two
// readings; single-channel tags carry one 32-bit value.
func decodeSample(f can.Frame, now time.Time) ([]Reading, error) {
	if f.Len != 8 {
		return nil, &DecodeError{Frame: f, Reason: "broadcast shorter than 8 bytes"}
	}
	if f.Data[0] != sampleFrameType {
		return nil, &DecodeError{Frame: f, Reason: fmt.Sprintf("unknown frame type 0x%02X", f.Data[0])}
	}

	tag := f.Data[1]
	if tag == packedPressureTag {
		p1 := uint16(f.Data[2])<<8 | uint16(f.Data[3])
		p2 := uint16(f.Data[4])<<8 | uint16(f.Data[5])
		return []Reading{
			{Time: now, Channel: Pressure1, Value: float64(p1)},
			{Time: now, Channel: Pressure2, Value: float64(p2)},
		}, nil
	}

	ch, ok := channelTags[tag]
	if !ok {
		return nil, &DecodeError{Frame: f, Reason: fmt.Sprintf("unknown sensor tag 0x%02X", tag)}
	}
	value := binary.BigEndian.Uint32(f.Data[4:8])
	return []Reading{{Time: now, Channel: ch, Value: float64(value)}}, nil
}
