package can

import (
	"github.com/JP-Makers/rs-dbc/dbc"
)

const MicroPerMilli = 1000

// Filter selects the messages and signals that get decoded. A disabled
// filter lets everything through.
type Filter interface {
	IsEnable() bool
	QueryByCanId(canId uint64) bool
	QueryByCanIdAndSignal(canId uint64, signal string) bool
}

type SignalValue struct {
	Name  string  `json:"name"`
	Raw   uint64  `json:"raw"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
	Label string  `json:"label,omitempty"` // value description for Raw, if any
}

type Frame struct {
	TimeStamp int64         `json:"ts"` // milliseconds
	CanName   string        `json:"name"`
	CanId     uint32        `json:"id"`
	BusId     uint8         `json:"bus"`
	Direction uint8         `json:"d"`
	Signals   []SignalValue `json:"signals"`
	Payload   []byte        `json:"payload"`
}

// Decoder turns PDUs into physical signal values using a parsed Dbc.
type Decoder struct {
	messages map[uint32]*dbc.Message
	filter   Filter
}

func NewDecoder(d *dbc.Dbc, filter Filter) *Decoder {
	messages := make(map[uint32]*dbc.Message, len(d.Messages))
	for i := range d.Messages {
		m := &d.Messages[i]
		messages[m.ID.ID()] = m
		// extended ids are written with bit 31 set in DBC files but arrive without it
		messages[m.ID.FrameID()] = m
	}

	return &Decoder{messages: messages, filter: filter}
}

// Message returns the message definition for a CAN id.
func (d *Decoder) Message(canId uint32) (*dbc.Message, bool) {
	m, ok := d.messages[canId]
	return m, ok
}

// Decode splits pdus into decoded frames and frames the filter leaves raw.
// PDUs with no DBC definition are dropped.
func (d *Decoder) Decode(pdus []PDU) (decoded []Frame, other []Frame) {
	for i := range pdus {
		pdu := &pdus[i]
		frame := Frame{
			TimeStamp: pdu.Timestamp / MicroPerMilli,
			CanId:     pdu.CanId,
			BusId:     pdu.BusId,
			Direction: pdu.Direction,
			Payload:   pdu.Payload,
		}

		if d.filterEnabled() && !d.filter.QueryByCanId(uint64(pdu.CanId)) {
			other = append(other, frame)
			continue
		}

		if !d.decodeCan(pdu, &frame) {
			continue
		}
		decoded = append(decoded, frame)
	}

	return decoded, other
}

func (d *Decoder) filterEnabled() bool {
	return d.filter != nil && d.filter.IsEnable()
}

func (d *Decoder) decodeCan(pdu *PDU, frame *Frame) bool {
	msg, ok := d.messages[pdu.CanId]
	if !ok {
		log.Warnf("No dbc data !!! canId(%d)", pdu.CanId)
		return false
	}

	frame.CanName = msg.Name
	// keep DBC signal order
	for i := range msg.Signals {
		sig := &msg.Signals[i]
		if d.filterEnabled() && !d.filter.QueryByCanIdAndSignal(uint64(pdu.CanId), sig.Name) {
			continue
		}
		frame.Signals = append(frame.Signals, DecodeSignal(sig, pdu.Payload))
	}

	return true
}

// DecodeSignal extracts sig from payload and applies factor and offset.
// Bits that fall outside the payload read as zero.
func DecodeSignal(sig *dbc.Signal, payload []byte) SignalValue {
	var raw uint64
	size := int(sig.Size)
	if size > 64 {
		size = 64
	}

	if sig.ByteOrder == dbc.Intel {
		raw = extractIntel(payload, int(sig.StartBit), size)
	} else {
		raw = extractMotorola(payload, int(sig.StartBit), size)
	}

	value := float64(raw)
	if sig.IsSigned() && size > 0 && size < 64 && raw&(uint64(1)<<(size-1)) != 0 {
		value = float64(int64(raw | ^(uint64(1)<<size - 1)))
	} else if sig.IsSigned() && size == 64 {
		value = float64(int64(raw))
	}

	return SignalValue{
		Name:  sig.Name,
		Raw:   raw,
		Value: value*sig.Factor + sig.Offset,
		Unit:  sig.Unit,
		Label: sig.ValueDescriptions[raw],
	}
}

// extractIntel reads little-endian bits upward from startBit.
func extractIntel(data []byte, startBit, size int) uint64 {
	var v uint64
	for i := 0; i < size; i++ {
		pos := startBit + i
		byteIdx, bitIdx := pos/8, pos%8
		if byteIdx >= len(data) {
			break
		}
		v |= uint64(data[byteIdx]>>bitIdx&0x01) << i
	}
	return v
}

// extractMotorola reads big-endian bits starting at the MSB (startBit)
// and walking the DBC sawtooth: down within a byte, then to bit 7 of the
// next byte.
func extractMotorola(data []byte, startBit, size int) uint64 {
	var v uint64
	pos := startBit
	for i := 0; i < size; i++ {
		byteIdx, bitIdx := pos/8, pos%8
		v <<= 1
		if byteIdx < len(data) {
			v |= uint64(data[byteIdx] >> bitIdx & 0x01)
		}
		if bitIdx == 0 {
			pos += 15
		} else {
			pos--
		}
	}
	return v
}
