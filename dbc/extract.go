package dbc

import (
	"regexp"
	"strconv"
	"strings"
)

// wordClass is \w widened to every script: names in files decoded from
// GBK or Windows-1252 are letters outside ASCII.
const wordClass = `[\p{L}\p{M}\p{Nd}\p{Pc}]`

// compile expands \w to wordClass. Patterns must not use \w inside a
// bracket expression.
func compile(expr string) *regexp.Regexp {
	return regexp.MustCompile(strings.ReplaceAll(expr, `\w`, wordClass))
}

// Patterns are compiled once; every extraction pass shares them read-only.
var (
	reMessageName        = compile(`BO_\s+(\d+)\s+(\w+):`)
	reMessageSize        = compile(`BO_\s+(\d+)\s+\w+:\s+(\d+)`)
	reMessageTransmitter = compile(`BO_\s+(\d+)\s+\w+:\s+\d+\s+(\w+)`)
	reDefaultCycleTime   = regexp.MustCompile(`BA_DEF_DEF_\s+"GenMsgCycleTime"\s+(\d+);`)
	reExplicitCycleTime  = regexp.MustCompile(`BA_\s+"GenMsgCycleTime"\s+BO_\s+(\d+)\s+(\d+);`)
	reInitialValue       = regexp.MustCompile(`BA_\s+"GenSigStartValue"\s+SG_\s+(\d+)\s+(\S+)\s+([^;]+);`)
	reValueTable         = compile(`VAL_\s+(\d+)\s+(\w+)\s+(.+?);`)
	reValuePair          = regexp.MustCompile(`(\d+)\s+"([^"]+)"`)
)

// signalKey joins per-signal attributes declared outside the BO_ block
// with the signal they belong to.
type signalKey struct {
	messageID uint32
	signal    string
}

// messageNames keeps the id order of first appearance while letting a
// later header with the same id replace the name.
type messageNames struct {
	order []uint32
	names map[uint32]string
}

func (n *messageNames) set(id uint32, name string) {
	if _, ok := n.names[id]; !ok {
		n.order = append(n.order, id)
	}
	n.names[id] = name
}

func (n *messageNames) Len() int {
	return len(n.order)
}

func parseID(s string) (uint32, bool) {
	id, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(id), true
}

func extractMessageNames(input string) *messageNames {
	n := &messageNames{names: make(map[uint32]string)}
	for _, m := range reMessageName.FindAllStringSubmatch(input, -1) {
		if id, ok := parseID(m[1]); ok {
			n.set(id, m[2])
		}
	}
	return n
}

func extractMessageSizes(input string) map[uint32]uint64 {
	sizes := make(map[uint32]uint64)
	for _, m := range reMessageSize.FindAllStringSubmatch(input, -1) {
		id, ok := parseID(m[1])
		if !ok {
			continue
		}
		size, err := strconv.ParseUint(m[2], 10, 64)
		if err != nil {
			continue
		}
		sizes[id] = size
	}
	return sizes
}

func extractTransmitters(input string) map[uint32]string {
	transmitters := make(map[uint32]string)
	for _, m := range reMessageTransmitter.FindAllStringSubmatch(input, -1) {
		if id, ok := parseID(m[1]); ok {
			transmitters[id] = m[2]
		}
	}
	return transmitters
}

// extractDefaultCycleTime returns the document-wide GenMsgCycleTime
// default, or 0 when the file declares none.
func extractDefaultCycleTime(input string) uint32 {
	m := reDefaultCycleTime.FindStringSubmatch(input)
	if m == nil {
		return 0
	}
	v, err := strconv.ParseUint(m[1], 10, 32)
	if err != nil {
		return 0
	}
	return uint32(v)
}

func extractExplicitCycleTimes(input string) map[uint32]uint32 {
	cycles := make(map[uint32]uint32)
	for _, m := range reExplicitCycleTime.FindAllStringSubmatch(input, -1) {
		id, ok := parseID(m[1])
		if !ok {
			continue
		}
		v, err := strconv.ParseUint(m[2], 10, 32)
		if err != nil {
			continue
		}
		cycles[id] = uint32(v)
	}
	return cycles
}

func extractInitialValues(input string) map[signalKey]float64 {
	values := make(map[signalKey]float64)
	for _, m := range reInitialValue.FindAllStringSubmatch(input, -1) {
		id, ok := parseID(m[1])
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(m[3]), 64)
		if err != nil {
			continue
		}
		values[signalKey{id, m[2]}] = v
	}
	return values
}

// extractValueDescriptions collects VAL_ tables. A table without a single
// parseable `<int> "<label>"` pair leaves no entry behind.
func extractValueDescriptions(input string) map[signalKey]map[uint64]string {
	tables := make(map[signalKey]map[uint64]string)
	for _, m := range reValueTable.FindAllStringSubmatch(input, -1) {
		id, ok := parseID(m[1])
		if !ok {
			continue
		}

		descriptions := make(map[uint64]string)
		for _, pair := range reValuePair.FindAllStringSubmatch(m[3], -1) {
			v, err := strconv.ParseUint(pair[1], 10, 64)
			if err != nil {
				continue
			}
			descriptions[v] = pair[2]
		}

		if len(descriptions) > 0 {
			tables[signalKey{id, m[2]}] = descriptions
		}
	}
	return tables
}
