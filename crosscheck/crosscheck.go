// Package crosscheck compares a parsed model with the output of the
// go.einride.tech/can reference parser for the same DBC text.
package crosscheck

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	cdbc "go.einride.tech/can/pkg/dbc"

	"github.com/JP-Makers/rs-dbc/dbc"
)

var ErrReferenceParse = errors.New("crosscheck: reference parser rejected input")

// Mismatch is one field where the two parsers disagree. Got is the value
// from our model, Want the reference value. An empty Signal means the
// difference is on the message itself.
type Mismatch struct {
	MessageID uint32 `json:"messageId"`
	Message   string `json:"message"`
	Signal    string `json:"signal,omitempty"`
	Field     string `json:"field"`
	Got       string `json:"got"`
	Want      string `json:"want"`
}

func (m Mismatch) String() string {
	var b strings.Builder
	b.WriteString(strconv.FormatUint(uint64(m.MessageID), 10))
	b.WriteByte(' ')
	b.WriteString(m.Message)
	if m.Signal != "" {
		b.WriteByte('.')
		b.WriteString(m.Signal)
	}
	b.WriteString(" " + m.Field + ": got " + strconv.Quote(m.Got) + ", want " + strconv.Quote(m.Want))
	return b.String()
}

// Compare parses text with the reference parser and lists every
// difference from d. The reference parser is strict, so text it cannot
// parse yields ErrReferenceParse.
func Compare(d *dbc.Dbc, name string, text []byte) ([]Mismatch, error) {
	p := cdbc.NewParser(name, text)
	if err := p.Parse(); err != nil {
		return nil, errors.Wrapf(ErrReferenceParse, "%s: %v", name, err)
	}

	var refs []*cdbc.MessageDef
	for _, def := range p.Defs() {
		if m, ok := def.(*cdbc.MessageDef); ok && m.MessageID != cdbc.IndependentSignalsMessageID {
			refs = append(refs, m)
		}
	}

	var c comparer
	seen := make(map[uint32]bool, len(refs))

	for i := range d.Messages {
		msg := &d.Messages[i]
		id := msg.ID.ID()
		seen[id] = true

		ref := findMessage(refs, id)
		if ref == nil {
			c.add(id, msg.Name, "", "present", "true", "false")
			continue
		}
		c.message(msg, ref)
	}

	for _, ref := range refs {
		if id := uint32(ref.MessageID); !seen[id] {
			c.add(id, string(ref.Name), "", "present", "false", "true")
		}
	}

	return c.mismatches, nil
}

func findMessage(refs []*cdbc.MessageDef, id uint32) *cdbc.MessageDef {
	for _, ref := range refs {
		if uint32(ref.MessageID) == id {
			return ref
		}
	}
	return nil
}

type comparer struct {
	mismatches []Mismatch
}

func (c *comparer) add(id uint32, message, signal, field, got, want string) {
	c.mismatches = append(c.mismatches, Mismatch{
		MessageID: id,
		Message:   message,
		Signal:    signal,
		Field:     field,
		Got:       got,
		Want:      want,
	})
}

func (c *comparer) message(msg *dbc.Message, ref *cdbc.MessageDef) {
	id := msg.ID.ID()
	check := func(field, got, want string) {
		if got != want {
			c.add(id, msg.Name, "", field, got, want)
		}
	}

	check("Name", msg.Name, string(ref.Name))
	check("Size", formatUint(msg.Size), formatUint(uint64(ref.Size)))
	check("Transmitter", msg.Transmitter, string(ref.Transmitter))

	for i := range msg.Signals {
		sig := &msg.Signals[i]
		refSig := findSignal(ref, sig.Name)
		if refSig == nil {
			c.add(id, msg.Name, sig.Name, "present", "true", "false")
			continue
		}
		c.signal(id, msg.Name, sig, refSig)
	}

	for i := range ref.Signals {
		if _, ok := msg.SignalByName(string(ref.Signals[i].Name)); !ok {
			c.add(id, msg.Name, string(ref.Signals[i].Name), "present", "false", "true")
		}
	}
}

func findSignal(ref *cdbc.MessageDef, name string) *cdbc.SignalDef {
	for i := range ref.Signals {
		if string(ref.Signals[i].Name) == name {
			return &ref.Signals[i]
		}
	}
	return nil
}

func (c *comparer) signal(id uint32, message string, sig *dbc.Signal, ref *cdbc.SignalDef) {
	check := func(field, got, want string) {
		if got != want {
			c.add(id, message, sig.Name, field, got, want)
		}
	}

	refOrder := dbc.Intel
	if ref.IsBigEndian {
		refOrder = dbc.Motorola
	}
	refType := dbc.Unsigned
	if ref.IsSigned {
		refType = dbc.Signed
	}
	refMux, refMuxValue := dbc.Plain, uint64(0)
	switch {
	case ref.IsMultiplexerSwitch:
		refMux = dbc.Multiplexer
	case ref.IsMultiplexed:
		refMux, refMuxValue = dbc.Multiplexed, uint64(ref.MultiplexerSwitch)
	}

	receivers := make([]string, 0, len(ref.Receivers))
	for _, r := range ref.Receivers {
		receivers = append(receivers, string(r))
	}

	check("StartBit", formatUint(sig.StartBit), formatUint(uint64(ref.StartBit)))
	check("Size", formatUint(sig.Size), formatUint(uint64(ref.Size)))
	check("ByteOrder", sig.ByteOrder.String(), refOrder.String())
	check("ValueType", sig.ValueType.String(), refType.String())
	check("Factor", formatFloat(sig.Factor), formatFloat(ref.Factor))
	check("Offset", formatFloat(sig.Offset), formatFloat(ref.Offset))
	check("Min", formatFloat(sig.Min), formatFloat(ref.Minimum))
	check("Max", formatFloat(sig.Max), formatFloat(ref.Maximum))
	check("Unit", sig.Unit, ref.Unit)
	check("Receivers", strings.Join(sig.Receivers, ","), strings.Join(receivers, ","))
	check("MultiplexerType", sig.MultiplexerType.String(), refMux.String())
	if refMux == dbc.Multiplexed {
		check("MultiplexValue", formatUint(sig.MultiplexValue), formatUint(refMuxValue))
	}
}

func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
