package dbc

import (
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"

	"github.com/JP-Makers/rs-dbc/base"
)

var log = base.Logger

// Parse builds a Dbc from DBC text. It fails with an *InvalidError when
// no BO_ header could be recovered; every other mismatch is skipped.
func Parse(input string) (*Dbc, error) {
	messages := parseMessages(input)
	d := &Dbc{Messages: messages}

	if len(messages) == 0 {
		return nil, &InvalidError{Dbc: d, Input: input}
	}

	log.Debugf("parsed %d messages", len(messages))
	return d, nil
}

// FromSlice parses a buffer that must be valid UTF-8. Invalid input is
// reported as ErrInvalidUTF8 and never parsed.
func FromSlice(buf []byte) (*Dbc, error) {
	if !utf8.Valid(buf) {
		return nil, errors.Wrapf(ErrInvalidUTF8, "at byte %d", firstInvalidUTF8(buf))
	}
	return Parse(string(buf))
}

// FromSliceLossy parses a buffer, replacing invalid UTF-8 sequences with
// U+FFFD.
func FromSliceLossy(buf []byte) (*Dbc, error) {
	return FromSliceEncoding(buf, unicode.UTF8)
}

// FromSliceEncoding decodes buf from enc (e.g. GBK or Windows-1252
// exports) before parsing.
func FromSliceEncoding(buf []byte, enc encoding.Encoding) (*Dbc, error) {
	text, err := DecodeText(buf, enc)
	if err != nil {
		return nil, err
	}
	return Parse(text)
}

// DecodeText converts buf from enc to the UTF-8 text FromSliceEncoding
// parses.
func DecodeText(buf []byte, enc encoding.Encoding) (string, error) {
	text, err := enc.NewDecoder().Bytes(buf)
	if err != nil {
		return "", errors.Wrap(err, "decode dbc text")
	}
	return string(text), nil
}

func firstInvalidUTF8(buf []byte) int {
	for i := 0; i < len(buf); {
		r, size := utf8.DecodeRune(buf[i:])
		if r == utf8.RuneError && size <= 1 {
			return i
		}
		i += size
	}
	return len(buf)
}

// parseMessages runs every extraction pass over the same text and left
// joins them on the ids named by BO_ headers.
func parseMessages(input string) []Message {
	names := extractMessageNames(input)
	sizes := extractMessageSizes(input)
	transmitters := extractTransmitters(input)
	defaultCycleTime := extractDefaultCycleTime(input)
	explicitCycleTimes := extractExplicitCycleTimes(input)
	valueDescriptions := extractValueDescriptions(input)
	initialValues := extractInitialValues(input)
	signals := assembleSignals(input, valueDescriptions, initialValues)

	return mergeMessages(names, sizes, transmitters, defaultCycleTime, explicitCycleTimes, signals)
}

func mergeMessages(
	names *messageNames,
	sizes map[uint32]uint64,
	transmitters map[uint32]string,
	defaultCycleTime uint32,
	explicitCycleTimes map[uint32]uint32,
	signals map[uint32][]Signal,
) []Message {
	messages := make([]Message, 0, names.Len())

	for _, id := range names.order {
		cycleTime, ok := explicitCycleTimes[id]
		if !ok {
			cycleTime = defaultCycleTime
		}

		transmitter, ok := transmitters[id]
		if !ok {
			transmitter = NoTransmitter
		}

		sigs := signals[id]
		if sigs == nil {
			sigs = []Signal{}
		}

		messages = append(messages, Message{
			Name:        names.names[id],
			ID:          NewMessageID(id),
			Size:        sizes[id],
			CycleTime:   cycleTime,
			Transmitter: transmitter,
			Signals:     sigs,
		})
	}

	return messages
}
