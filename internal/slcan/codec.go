package slcan

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/inkley/sensorctl/internal/can"
)

// Lawicel ASCII records. Every record ends with CR; the adapter answers a
// failed command with a single BEL byte instead.
const (
	cr  = '\r'
	bel = '\a'
)

// Bitrate codes from the Lawicel "Sn" setup command.
var bitrateCodes = map[int]byte{
	10000:   '0',
	20000:   '1',
	50000:   '2',
	100000:  '3',
	125000:  '4',
	250000:  '5',
	500000:  '6',
	800000:  '7',
	1000000: '8',
}

// encodeFrame renders a data frame as a transmit record:
// "tIIIL<data>" for standard IDs, "TIIIIIIIIL<data>" for extended ones.
// The trailing CR is appended by the caller.
func encodeFrame(f can.Frame) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	var rec []byte
	if f.Extended {
		rec = append(rec, []byte(fmt.Sprintf("T%08X%X", f.ID, f.Len))...)
	} else {
		rec = append(rec, []byte(fmt.Sprintf("t%03X%X", f.ID, f.Len))...)
	}
	rec = append(rec, []byte(fmt.Sprintf("%X", f.Payload()))...)
	return rec, nil
}

// parseRecord decodes one CR-terminated record (CR stripped). Records other
// than received data frames, such as command acks "z"/"Z" or status replies,
// yield ok=false and are skipped by the read path.
func parseRecord(rec []byte) (can.Frame, bool) {
	if len(rec) == 0 {
		return can.Frame{}, false
	}
	var idLen int
	var extended bool
	switch rec[0] {
	case 't':
		idLen = 3
	case 'T':
		idLen = 8
		extended = true
	default:
		return can.Frame{}, false
	}
	if len(rec) < 1+idLen+1 {
		return can.Frame{}, false
	}
	id, err := strconv.ParseUint(string(rec[1:1+idLen]), 16, 32)
	if err != nil {
		return can.Frame{}, false
	}
	dlc, err := strconv.ParseUint(string(rec[1+idLen:1+idLen+1]), 16, 8)
	if err != nil || dlc > 8 {
		return can.Frame{}, false
	}
	hexData := rec[1+idLen+1:]
	if len(hexData) < int(dlc)*2 {
		return can.Frame{}, false
	}
	data, err := hex.DecodeString(string(hexData[:dlc*2]))
	if err != nil {
		return can.Frame{}, false
	}
	f := can.Frame{ID: uint32(id), Extended: extended, Len: uint8(dlc)}
	copy(f.Data[:], data)
	if f.Validate() != nil {
		return can.Frame{}, false
	}
	return f, true
}
