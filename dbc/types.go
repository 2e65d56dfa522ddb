package dbc

import (
	"strconv"
	"strings"
)

const (
	// NoTransmitter is the placeholder node name DBC files use when a
	// message has no sender.
	NoTransmitter = "Vector__XXX"

	// NoTransmitterLabel is what Message.TransmitterName reports for NoTransmitter.
	NoTransmitterLabel = "No Transmitter"

	maxStandardID = 0x7FF
	extendedFlag  = uint32(1) << 31

	// FrameIDMask keeps the 29 arbitration bits of an id as it travels on the bus.
	FrameIDMask = uint32(0x1FFFFFFF)
)

// MessageID is a CAN arbitration identifier, either Standard (11-bit)
// or Extended (29-bit).
type MessageID struct {
	std      uint16
	ext      uint32
	extended bool
}

func StandardID(id uint16) MessageID {
	return MessageID{std: id}
}

func ExtendedID(id uint32) MessageID {
	return MessageID{ext: id, extended: true}
}

// NewMessageID classifies the numeric id found in a BO_ header: ids
// below 0x800 are Standard, all others Extended.
func NewMessageID(id uint32) MessageID {
	if id <= maxStandardID {
		return StandardID(uint16(id))
	}
	return ExtendedID(id)
}

func (m MessageID) IsExtended() bool {
	return m.extended
}

// ID returns the identifier without the IDE marker.
func (m MessageID) ID() uint32 {
	if m.extended {
		return m.ext
	}
	return uint32(m.std)
}

// FrameID is the arbitration id as a CAN controller reports it, without
// the IDE marker DBC files set on extended headers.
func (m MessageID) FrameID() uint32 {
	if m.extended {
		return m.ext & FrameIDMask
	}
	return uint32(m.std)
}

// Raw returns the wire-format identifier. Extended ids carry bit 31.
func (m MessageID) Raw() uint32 {
	if m.extended {
		return m.ext | extendedFlag
	}
	return uint32(m.std)
}

func (m MessageID) Kind() string {
	if m.extended {
		return "CAN Extended"
	}
	return "CAN Standard"
}

func (m MessageID) String() string {
	if m.extended {
		return "Extended(" + strconv.FormatUint(uint64(m.ext), 10) + ")"
	}
	return "Standard(" + strconv.FormatUint(uint64(m.std), 10) + ")"
}

func (m MessageID) MarshalJSON() ([]byte, error) {
	return []byte(`{"id":` + strconv.FormatUint(uint64(m.ID()), 10) +
		`,"raw":` + strconv.FormatUint(uint64(m.Raw()), 10) +
		`,"kind":"` + m.Kind() + `"}`), nil
}

// ByteOrder has exactly two values; the order bit of an SG_ line is 1
// for Intel and anything else for Motorola.
type ByteOrder uint8

const (
	Motorola ByteOrder = iota
	Intel
)

func (b ByteOrder) String() string {
	if b == Intel {
		return "Intel"
	}
	return "Motorola"
}

func (b ByteOrder) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

type ValueType uint8

const (
	Unsigned ValueType = iota
	Signed
)

func (v ValueType) String() string {
	if v == Signed {
		return "Signed"
	}
	return "Unsigned"
}

func (v ValueType) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

type MultiplexerType uint8

const (
	Plain MultiplexerType = iota
	// Multiplexer selects the active group of multiplexed signals.
	Multiplexer
	// Multiplexed is only valid when the multiplexer carries MultiplexValue.
	Multiplexed
)

func (m MultiplexerType) String() string {
	switch m {
	case Multiplexer:
		return "Multiplexer"
	case Multiplexed:
		return "Multiplexed"
	default:
		return "Plain"
	}
}

func (m MultiplexerType) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// parseMultiplexer classifies the mux field between the signal name and
// the colon of an SG_ line.
func parseMultiplexer(info string) (MultiplexerType, uint64) {
	switch {
	case info == "":
		return Plain, 0
	case info == "M":
		return Multiplexer, 0
	case strings.HasPrefix(info, "m"):
		v, _ := strconv.ParseUint(info[1:], 10, 64)
		return Multiplexed, v
	default:
		return Plain, 0
	}
}

// Signal is one bit-field of a message.
type Signal struct {
	Name              string            `json:"name"`
	StartBit          uint64            `json:"startBit"`
	Size              uint64            `json:"signalSize"`
	ByteOrder         ByteOrder         `json:"byteOrder"`
	ValueType         ValueType         `json:"valueType"`
	Factor            float64           `json:"factor"`
	Offset            float64           `json:"offset"`
	Min               float64           `json:"min"`
	Max               float64           `json:"max"`
	Unit              string            `json:"unit"`
	Receivers         []string          `json:"receivers"`
	ValueDescriptions map[uint64]string `json:"valueDescriptions"`
	MultiplexerType   MultiplexerType   `json:"multiplexerType"`
	MultiplexValue    uint64            `json:"multiplexValue,omitempty"`
	InitialValue      float64           `json:"initialValue"`
}

func (s *Signal) IsSigned() bool {
	return s.ValueType == Signed
}

// VectorStartBit returns the start bit as CANdb++ displays it.
//
// Intel signals are shown unchanged. Motorola signals are re-anchored to
// their lowest bit, except single-byte signals that begin at the byte's
// most significant bit, which keep the raw start bit.
func (s *Signal) VectorStartBit() uint64 {
	if s.ByteOrder == Intel {
		return s.StartBit
	}

	span := uint64(0)
	if s.Size > 0 {
		span = s.Size - 1
	}

	var endBit uint64
	if s.StartBit > span {
		endBit = s.StartBit - span
	}

	startByte := s.StartBit / 8
	endByte := endBit / 8
	if startByte != endByte || s.Size > 8 {
		return endBit
	}

	if s.StartBit%8 == 7 {
		return s.StartBit
	}
	return endBit
}

// VectorInitialValue is the physical initial value: raw*factor+offset.
func (s *Signal) VectorInitialValue() float64 {
	return s.InitialValue*s.Factor + s.Offset
}

// Message is one CAN frame template.
type Message struct {
	Name        string    `json:"messageName"`
	ID          MessageID `json:"messageId"`
	Size        uint64    `json:"messageSize"`
	CycleTime   uint32    `json:"cycleTime"`
	Transmitter string    `json:"transmitter"`
	Signals     []Signal  `json:"signals"`
}

// MessageID returns the wire-format id and its kind.
func (m *Message) MessageID() (uint32, string) {
	return m.ID.Raw(), m.ID.Kind()
}

// TransmitterName reports NoTransmitterLabel for the Vector__XXX placeholder.
func (m *Message) TransmitterName() string {
	if strings.HasPrefix(m.Transmitter, NoTransmitter) {
		return NoTransmitterLabel
	}
	return m.Transmitter
}

func (m *Message) SignalByName(name string) (*Signal, bool) {
	for i := range m.Signals {
		if m.Signals[i].Name == name {
			return &m.Signals[i], true
		}
	}
	return nil, false
}

// Dbc is a parsed network description. Messages keep the order in which
// their headers first appear in the source text.
type Dbc struct {
	Messages []Message `json:"messages"`
}

// MessageByID looks a message up by the numeric id written in its BO_
// header (without the IDE marker).
func (d *Dbc) MessageByID(id uint32) (*Message, bool) {
	for i := range d.Messages {
		if d.Messages[i].ID.ID() == id {
			return &d.Messages[i], true
		}
	}
	return nil, false
}

// MessageByFrameID looks a message up by the id seen on the bus. The
// header form with bit 31 set is accepted too.
func (d *Dbc) MessageByFrameID(id uint32) (*Message, bool) {
	for i := range d.Messages {
		if d.Messages[i].ID.FrameID() == id&FrameIDMask {
			return &d.Messages[i], true
		}
	}
	return nil, false
}

func (d *Dbc) MessageByName(name string) (*Message, bool) {
	for i := range d.Messages {
		if d.Messages[i].Name == name {
			return &d.Messages[i], true
		}
	}
	return nil, false
}
