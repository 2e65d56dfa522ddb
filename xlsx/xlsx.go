// Package xlsx converts between a parsed DBC and the spreadsheet layout
// used by the ECU teams: one row per signal on a sheet named "DBC".
package xlsx

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/xuri/excelize/v2"

	"github.com/JP-Makers/rs-dbc/base"
	"github.com/JP-Makers/rs-dbc/dbc"
)

var log = base.Logger

const SheetName = "DBC"

// columns
const (
	CanId = iota
	CanName
	PeriodOfTx
	MsgLen
	StartByte
	StartBit
	BitWidth
	SignalName
	ByteOrder
	ValueType
	Factor
	Offset
	Min
	Max
	Unit
	Receivers
	TransmitterECU
	ExcelMaxColumn
)

var Header = [ExcelMaxColumn]string{
	"CanId", "CanName", "PeriodOfTx", "MsgLen", "StartByte", "StartBit", "BitWidth", "SignalName",
	"ByteOrder", "ValueType", "Factor", "Offset", "Min", "Max", "Unit", "Receivers", "TransmitterECU",
}

var ErrMissingSheet = errors.New("xlsx: no DBC sheet")

// Export writes d to a new workbook. A message without signals still gets
// one row, with the signal columns left empty.
func Export(d *dbc.Dbc) (*excelize.File, error) {
	f := excelize.NewFile()

	idx, err := f.NewSheet(SheetName)
	if err != nil {
		return nil, errors.Wrap(err, "new sheet")
	}
	f.SetActiveSheet(idx)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, errors.Wrap(err, "delete default sheet")
	}

	header := make([]any, 0, ExcelMaxColumn)
	for _, h := range Header {
		header = append(header, h)
	}

	rowNum := 1
	if err := setRow(f, rowNum, header); err != nil {
		return nil, err
	}

	for i := range d.Messages {
		m := &d.Messages[i]
		if len(m.Signals) == 0 {
			rowNum++
			if err := setRow(f, rowNum, messageRow(m, nil)); err != nil {
				return nil, err
			}
			continue
		}

		for j := range m.Signals {
			rowNum++
			if err := setRow(f, rowNum, messageRow(m, &m.Signals[j])); err != nil {
				return nil, err
			}
		}
	}

	log.Debugf("exported %d rows", rowNum-1)
	return f, nil
}

func setRow(f *excelize.File, rowNum int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, rowNum)
	if err != nil {
		return errors.Wrapf(err, "row %d", rowNum)
	}
	if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
		return errors.Wrapf(err, "write row %d", rowNum)
	}
	return nil
}

func messageRow(m *dbc.Message, s *dbc.Signal) []any {
	row := make([]any, ExcelMaxColumn)
	for i := range row {
		row[i] = ""
	}

	row[CanId] = m.ID.ID()
	row[CanName] = m.Name
	row[PeriodOfTx] = m.CycleTime
	row[MsgLen] = m.Size
	row[TransmitterECU] = m.Transmitter

	if s == nil {
		return row
	}

	row[StartByte] = s.StartBit / 8
	row[StartBit] = s.StartBit
	row[BitWidth] = s.Size
	row[SignalName] = s.Name
	row[ByteOrder] = s.ByteOrder.String()
	row[ValueType] = s.ValueType.String()
	row[Factor] = s.Factor
	row[Offset] = s.Offset
	row[Min] = s.Min
	row[Max] = s.Max
	row[Unit] = s.Unit
	row[Receivers] = strings.Join(s.Receivers, ",")
	return row
}

// Import reads the DBC sheet back into a model. Rows sharing a CanId form
// one message whose attributes come from its first row.
func Import(f *excelize.File) (*dbc.Dbc, error) {
	idx, err := f.GetSheetIndex(SheetName)
	if err != nil || idx < 0 {
		return nil, ErrMissingSheet
	}

	rows, err := f.GetRows(SheetName, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, errors.Wrap(err, "read rows")
	}

	var messages []dbc.Message
	index := make(map[uint32]int)

	for rowIdx, row := range rows {
		if rowIdx == 0 || isBlank(row) {
			continue
		}

		// trailing empty cells are not returned
		for len(row) < ExcelMaxColumn {
			row = append(row, "")
		}

		r := rowReader{row: row, rowNum: rowIdx + 1}
		id := uint32(r.parseUint(CanId, 32))

		pos, ok := index[id]
		if !ok {
			pos = len(messages)
			index[id] = pos
			messages = append(messages, dbc.Message{
				Name:        row[CanName],
				ID:          dbc.NewMessageID(id),
				Size:        r.parseUint(MsgLen, 64),
				CycleTime:   uint32(r.parseUint(PeriodOfTx, 32)),
				Transmitter: row[TransmitterECU],
				Signals:     []dbc.Signal{},
			})
		}

		if row[SignalName] != "" {
			messages[pos].Signals = append(messages[pos].Signals, r.signal())
		}

		if r.err != nil {
			return nil, r.err
		}
	}

	d := &dbc.Dbc{Messages: messages}
	if len(messages) == 0 {
		return nil, &dbc.InvalidError{Dbc: d}
	}
	return d, nil
}

func isBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// rowReader keeps the first conversion error of a row.
type rowReader struct {
	row    []string
	rowNum int
	err    error
}

func (r *rowReader) fail(col int, err error) {
	if r.err == nil {
		r.err = errors.Wrapf(err, "row %d column %s", r.rowNum, Header[col])
	}
}

func (r *rowReader) parseUint(col, bitSize int) uint64 {
	s := strings.TrimSpace(r.row[col])
	if s == "" {
		return 0
	}
	v, err := strconv.ParseUint(s, 10, bitSize)
	if err != nil {
		r.fail(col, err)
	}
	return v
}

func (r *rowReader) parseFloat(col int) float64 {
	s := strings.TrimSpace(r.row[col])
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		r.fail(col, err)
	}
	return v
}

func (r *rowReader) signal() dbc.Signal {
	s := dbc.Signal{
		Name:              r.row[SignalName],
		StartBit:          r.parseUint(StartBit, 64),
		Size:              r.parseUint(BitWidth, 64),
		Factor:            r.parseFloat(Factor),
		Offset:            r.parseFloat(Offset),
		Min:               r.parseFloat(Min),
		Max:               r.parseFloat(Max),
		Unit:              r.row[Unit],
		Receivers:         []string{},
		ValueDescriptions: map[uint64]string{},
	}

	if strings.EqualFold(r.row[ByteOrder], dbc.Intel.String()) {
		s.ByteOrder = dbc.Intel
	}
	if strings.EqualFold(r.row[ValueType], dbc.Signed.String()) {
		s.ValueType = dbc.Signed
	}
	if receivers := strings.TrimSpace(r.row[Receivers]); receivers != "" {
		s.Receivers = strings.Split(receivers, ",")
	}

	return s
}
