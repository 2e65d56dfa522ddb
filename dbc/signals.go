package dbc

import (
	"strconv"
	"strings"
)

var (
	reMessageHeader = compile(`BO_\s+(\d+)\s+\w+:`)
	reSignal        = compile(`SG_\s+(\w+)\s*([mM]?\d*)\s*:\s*(\d+)\|(\d+)@([01])([+-])\s*\(([^,]+),([^)]+)\)\s*\[([^|]+)\|([^\]]+)\]\s*"([^"]*)"\s*(.*)`)
)

// signal line capture groups
const (
	sgName = iota + 1
	sgMux
	sgStartBit
	sgSize
	sgOrder
	sgSign
	sgFactor
	sgOffset
	sgMin
	sgMax
	sgUnit
	sgReceivers
)

// signalAssembler folds the lines of a DBC file into per-message signal
// lists. Its only state besides the result is the id of the BO_ header
// most recently seen.
type signalAssembler struct {
	current uint32
	signals map[uint32][]Signal

	valueDescriptions map[signalKey]map[uint64]string
	initialValues     map[signalKey]float64
}

func newSignalAssembler(valueDescriptions map[signalKey]map[uint64]string, initialValues map[signalKey]float64) *signalAssembler {
	return &signalAssembler{
		signals:           make(map[uint32][]Signal),
		valueDescriptions: valueDescriptions,
		initialValues:     initialValues,
	}
}

// feed applies one line: the header test first, then the signal test.
func (a *signalAssembler) feed(line string) {
	if m := reMessageHeader.FindStringSubmatch(line); m != nil {
		if id, ok := parseID(m[1]); ok {
			a.current = id
			if _, ok := a.signals[id]; !ok {
				a.signals[id] = []Signal{}
			}
		}
	}

	m := reSignal.FindStringSubmatch(line)
	if m == nil {
		return
	}

	sig, ok := a.buildSignal(m)
	if !ok {
		log.Debugf("skip signal line with unparsable numbers: %q", line)
		return
	}

	// Lines seen before any header only land when a header for the
	// current id already opened a list.
	if list, ok := a.signals[a.current]; ok {
		a.signals[a.current] = append(list, sig)
	}
}

func (a *signalAssembler) buildSignal(m []string) (Signal, bool) {
	startBit, err := strconv.ParseUint(m[sgStartBit], 10, 64)
	if err != nil {
		return Signal{}, false
	}
	size, err := strconv.ParseUint(m[sgSize], 10, 64)
	if err != nil {
		return Signal{}, false
	}

	var floats [4]float64
	for i, group := range []int{sgFactor, sgOffset, sgMin, sgMax} {
		if floats[i], err = strconv.ParseFloat(m[group], 64); err != nil {
			return Signal{}, false
		}
	}

	sig := Signal{
		Name:      m[sgName],
		StartBit:  startBit,
		Size:      size,
		ByteOrder: Motorola,
		ValueType: Signed,
		Factor:    floats[0],
		Offset:    floats[1],
		Min:       floats[2],
		Max:       floats[3],
		Unit:      m[sgUnit],
		Receivers: splitReceivers(m[sgReceivers]),
	}
	if m[sgOrder] == "1" {
		sig.ByteOrder = Intel
	}
	if m[sgSign] == "+" {
		sig.ValueType = Unsigned
	}
	sig.MultiplexerType, sig.MultiplexValue = parseMultiplexer(m[sgMux])

	key := signalKey{a.current, sig.Name}
	sig.ValueDescriptions = make(map[uint64]string, len(a.valueDescriptions[key]))
	for k, v := range a.valueDescriptions[key] {
		sig.ValueDescriptions[k] = v
	}
	sig.InitialValue = a.initialValues[key]

	return sig, true
}

func splitReceivers(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return []string{}
	}

	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// splitLines breaks the input on '\n' and drops a trailing '\r' from
// each line, so CRLF files scan the same as LF files.
func splitLines(input string) []string {
	lines := strings.Split(input, "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}

func assembleSignals(input string, valueDescriptions map[signalKey]map[uint64]string, initialValues map[signalKey]float64) map[uint32][]Signal {
	a := newSignalAssembler(valueDescriptions, initialValues)
	for _, line := range splitLines(input) {
		a.feed(line)
	}
	return a.signals
}
