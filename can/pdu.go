package can

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"

	"github.com/JP-Makers/rs-dbc/base"
)

var log = base.Logger

// PDU is one CAN frame as mirrored to ethernet by the gateway.
type PDU struct {
	UdpTimeStamp uint64
	Timestamp    int64 // local receive time, microseconds
	CanId        uint32
	BusId        uint8
	Direction    uint8
	PayloadLen   uint16
	Payload      []byte
}

// SDPE Direction
const (
	SDPERecv = iota
	SDPESend
)

// datagram msg type
const (
	ETHSendFrame = iota + 1
	CanMirrorToETH
)

// pdu
const (
	HeaderLen = 8

	TimeStampLen = 8
	CanIdLen     = 4
	BusIdLen     = 1
	DirectionLen = 1
	LengthLen    = 2

	PduHeaderLen = TimeStampLen + CanIdLen + BusIdLen + DirectionLen + LengthLen

	// CAN FD data field limit
	MaxPayloadLen = 64
)

var (
	ErrShortDatagram  = errors.New("datagram shorter than header")
	ErrUnknownMsgType = errors.New("unknown datagram msg type")
	ErrTruncatedPDU   = errors.New("truncated pdu")
)

// DecodeDatagram splits a gateway datagram into PDUs. On a truncated
// PDU it returns the PDUs decoded so far together with ErrTruncatedPDU.
func DecodeDatagram(data []byte, recvTime int64) ([]PDU, error) {
	if len(data) <= HeaderLen {
		return nil, errors.Wrapf(ErrShortDatagram, "dataLen(%d)", len(data))
	}

	if msgType := data[2]; msgType != CanMirrorToETH {
		return nil, errors.Wrapf(ErrUnknownMsgType, "msgType(%d)", msgType)
	}

	var pdus []PDU
	rest := data[HeaderLen:]

	for len(rest) > 0 {
		if len(rest) < PduHeaderLen {
			return pdus, errors.Wrapf(ErrTruncatedPDU, "header dataLen(%d)", len(rest))
		}

		var pdu PDU
		pdu.Timestamp = recvTime
		pdu.UdpTimeStamp = binary.BigEndian.Uint64(rest[:TimeStampLen])
		pdu.CanId = binary.BigEndian.Uint32(rest[TimeStampLen : TimeStampLen+CanIdLen])
		pdu.BusId = rest[TimeStampLen+CanIdLen]
		pdu.Direction = rest[PduHeaderLen-LengthLen-DirectionLen]
		pdu.PayloadLen = binary.BigEndian.Uint16(rest[PduHeaderLen-LengthLen : PduHeaderLen])

		pduLen := PduHeaderLen + int(pdu.PayloadLen)
		if len(rest) < pduLen {
			return pdus, errors.Wrapf(ErrTruncatedPDU, "pduLen want(%d), has(%d), canId(%d)", pduLen, len(rest), pdu.CanId)
		}

		pdu.Payload = rest[PduHeaderLen:pduLen]
		rest = rest[pduLen:]

		pdus = append(pdus, pdu)
	}

	return pdus, nil
}

// EncodeDatagram is the inverse of DecodeDatagram; the gateway simulator
// and tests use it to build intake traffic.
func EncodeDatagram(pdus []PDU) []byte {
	size := HeaderLen
	for _, pdu := range pdus {
		size += PduHeaderLen + len(pdu.Payload)
	}

	buf := make([]byte, HeaderLen, size)
	buf[2] = CanMirrorToETH

	for _, pdu := range pdus {
		buf = binary.BigEndian.AppendUint64(buf, pdu.UdpTimeStamp)
		buf = binary.BigEndian.AppendUint32(buf, pdu.CanId)
		buf = append(buf, pdu.BusId, pdu.Direction)
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(pdu.Payload)))
		buf = append(buf, pdu.Payload...)
	}

	return buf
}
