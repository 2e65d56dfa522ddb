package crosscheck

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JP-Makers/rs-dbc/dbc"
)

const testDBC = `VERSION ""

BU_: ECU Dash

BO_ 100 EngineData: 8 ECU
 SG_ RPM : 7|16@0+ (0.25,0) [0|16000] "rpm" Dash
 SG_ Temp : 16|8@1- (1,-40) [-128|87] "degC" Dash

BO_ 200 Status: 2 Dash
 SG_ Mode M : 0|4@1+ (1,0) [0|15] "" ECU
 SG_ Level m1 : 4|4@1+ (1,0) [0|15] "" ECU
`

func parse(t *testing.T) *dbc.Dbc {
	t.Helper()
	d, err := dbc.Parse(testDBC)
	require.NoError(t, err)
	return d
}

func TestCompareAgrees(t *testing.T) {
	mismatches, err := Compare(parse(t), "test.dbc", []byte(testDBC))
	require.NoError(t, err)
	assert.Empty(t, mismatches)
}

func TestCompareReportsFields(t *testing.T) {
	d := parse(t)
	d.Messages[0].Signals[0].StartBit = 15
	d.Messages[0].Signals[1].ValueType = dbc.Unsigned
	d.Messages[1].Transmitter = "ECU"

	mismatches, err := Compare(d, "test.dbc", []byte(testDBC))
	require.NoError(t, err)
	require.Len(t, mismatches, 3)

	assert.Equal(t, Mismatch{MessageID: 100, Message: "EngineData", Signal: "RPM", Field: "StartBit", Got: "15", Want: "7"}, mismatches[0])
	assert.Equal(t, "ValueType", mismatches[1].Field)
	assert.Equal(t, Mismatch{MessageID: 200, Message: "Status", Field: "Transmitter", Got: "ECU", Want: "Dash"}, mismatches[2])
	assert.Equal(t, `200 Status Transmitter: got "ECU", want "Dash"`, mismatches[2].String())
}

func TestComparePresence(t *testing.T) {
	d := parse(t)
	d.Messages[1].Signals = d.Messages[1].Signals[:1]
	d.Messages = append(d.Messages, dbc.Message{Name: "Extra", ID: dbc.NewMessageID(300)})

	mismatches, err := Compare(d, "test.dbc", []byte(testDBC))
	require.NoError(t, err)
	require.Len(t, mismatches, 2)

	assert.Equal(t, "Level", mismatches[0].Signal)
	assert.Equal(t, "present", mismatches[0].Field)
	assert.Equal(t, "false", mismatches[0].Got)

	assert.Equal(t, uint32(300), mismatches[1].MessageID)
	assert.Equal(t, "true", mismatches[1].Got)
}

func TestCompareReferenceParseError(t *testing.T) {
	_, err := Compare(parse(t), "bad.dbc", []byte(`BO_ notanumber Broken: 8 ECU`))
	require.ErrorIs(t, err, ErrReferenceParse)
}
