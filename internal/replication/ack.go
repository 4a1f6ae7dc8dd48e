package replication

import (
	"encoding/binary"
	"time"

	"github.com/jfoltran/pgreplicate/pkg/lsn"
)

// standbyStatusUpdateByteID is the CopyData tag for a client-to-server
// standby status update ('r').
const standbyStatusUpdateByteID = 'r'

// ackPacketLen is the fixed wire size of a standby-status-update packet:
// 1 tag byte + 3 LSN fields (8 bytes each) + 1 clock field (8 bytes) + 1
// reply-requested byte.
const ackPacketLen = 1 + 8 + 8 + 8 + 8 + 1

// BuildAckPacket encodes a standby-status-update packet reporting that the
// consumer has received, flushed, and applied up to (and including) the
// given textual LSN. Per the wire protocol, the position reported is "one
// past" the acknowledged LSN: see lsn.LSN.Next.
func BuildAckPacket(ackLSN string, now time.Time) ([]byte, error) {
	l, err := lsn.Parse(ackLSN)
	if err != nil {
		return nil, err
	}
	return buildAckPacket(l.Next(), now), nil
}

func buildAckPacket(reported lsn.LSN, now time.Time) []byte {
	buf := make([]byte, ackPacketLen)
	buf[0] = standbyStatusUpdateByteID

	binary.BigEndian.PutUint64(buf[1:9], uint64(reported))
	binary.BigEndian.PutUint64(buf[9:17], uint64(reported))
	binary.BigEndian.PutUint64(buf[17:25], uint64(reported))

	clientClock := now.UnixMicro() - postgresEpochMicros
	binary.BigEndian.PutUint64(buf[25:33], uint64(clientClock))

	buf[33] = 0 // do not request an immediate reply
	return buf
}
