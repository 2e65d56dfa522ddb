package can

import (
	"bytes"
	"strconv"

	jsoniter "github.com/json-iterator/go"
)

/*
{
	"ts": 1692179443894,
	"raw": {
		"EngineStatus": "1692179443894 256 12 Rx d 8 00 00 00 AA 0D 00 00 00"
	},
	"EngineStatus": {
		"id": 256,
		"bus": 12,
		"d": 0,
		"t": 1692179443894,
		"EngineSpeed": 1250.5,
		"Gear": 3
	}
}
*/

type CanData struct {
	CanId     uint32
	BusId     uint8
	Direction uint8
	TimeStamp int64
	Signals   []SignalValue
}

type JsonData struct {
	TimeStamp int64
	Raw       map[string]string
	Attr      map[string]*CanData
}

func (j *JsonData) MarshalJSON() ([]byte, error) {
	datas := make(map[string]any, len(j.Attr)+2)
	datas["ts"] = j.TimeStamp
	datas["raw"] = j.Raw

	for k, v := range j.Attr {
		cans := make(map[string]any, len(v.Signals)+4)
		cans["id"] = v.CanId
		cans["bus"] = v.BusId
		cans["d"] = v.Direction
		cans["t"] = v.TimeStamp
		for _, s := range v.Signals {
			cans[s.Name] = s.Value
		}

		datas[k] = cans
	}

	return jsoniter.Marshal(datas)
}

// MarshalFrames renders decoded frames as one JSON document keyed by
// message name. It returns nil for an empty batch.
func MarshalFrames(frames []Frame) ([]byte, error) {
	if len(frames) == 0 {
		return nil, nil
	}

	timeStamp := frames[0].TimeStamp
	jData := &JsonData{
		TimeStamp: timeStamp,
		Raw:       make(map[string]string, len(frames)),
		Attr:      make(map[string]*CanData, len(frames)),
	}

	for i := range frames {
		frame := &frames[i]
		jData.Raw[frame.CanName] = string(rawLine(frame, frame.TimeStamp))
		jData.Attr[frame.CanName] = &CanData{
			CanId:     frame.CanId,
			BusId:     frame.BusId,
			Direction: frame.Direction,
			TimeStamp: timeStamp,
			Signals:   frame.Signals,
		}
	}

	return jsoniter.Marshal(jData)
}

// RawLines renders frames as newline-terminated text lines stamped with
// the batch time, e.g. "1690681909000 372 8 Rx d 8 00 00 00 AA 0D 00 00 00".
func RawLines(frames []Frame) []byte {
	if len(frames) == 0 {
		return nil
	}

	timeStamp := frames[0].TimeStamp
	var out bytes.Buffer
	for i := range frames {
		out.Write(rawLine(&frames[i], timeStamp))
		out.WriteByte('\n')
	}
	return out.Bytes()
}

func rawLine(frame *Frame, timeStamp int64) []byte {
	var rawData bytes.Buffer
	rawData.WriteString(strconv.FormatInt(timeStamp, 10))
	rawData.WriteByte(' ')
	rawData.WriteString(strconv.FormatUint(uint64(frame.CanId), 10))
	rawData.WriteByte(' ')
	rawData.WriteString(strconv.FormatUint(uint64(frame.BusId), 10))
	rawData.WriteByte(' ')
	switch frame.Direction {
	case SDPERecv:
		rawData.WriteString("Rx d")
	case SDPESend:
		rawData.WriteString("Tx d")
	}
	rawData.WriteByte(' ')
	rawData.WriteString(strconv.Itoa(len(frame.Payload)))
	for _, oneByte := range frame.Payload {
		rawData.WriteByte(' ')
		rawData.Write(byteToHexChar(oneByte))
	}
	return rawData.Bytes()
}

const hexDigits = "0123456789ABCDEF"

func byteToHexChar(oneByte byte) []byte {
	return []byte{hexDigits[oneByte>>4], hexDigits[oneByte&0x0F]}
}
