// Package meshproto is the wire encoding for the mesh and mesh-access
// protocol messages the firmware pump exchanges over a Connection's
// packet queue. The conn/mesh/meshaccess packages model the protocol's
// semantics against plain Go structs; this package is the thin binary
// layer in between, following the same manual little-endian layout the
// flash snapshot format (internal/snapshot) uses rather than a generic
// serialization library, since these are small fixed-shape control
// packets, not a format any dependency in the pack addresses.
package meshproto

import (
	"encoding/binary"
	"fmt"

	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/conn"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/mesh"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/meshaccess"
)

// Tag identifies a message's type as the first byte of its payload.
type Tag byte

const (
	TagClusterWelcome Tag = iota + 1
	TagClusterAck1
	TagClusterAck2
	TagClusterInfoUpdate
	TagTimeSync
	TagReconnect
	TagEnrolledNodesSync
	TagAppData
	TagMAStart
	TagMAAnonce
	TagMASnonce
	TagMADone
	TagMADeadData
	TagMAEncrypted
	TagSplit
	TagSplitEnd
)

// PeekTag reads the leading tag byte without consuming the rest of the
// payload, used by the connection-type resolver chain to decide which
// resolver (mesh-access, then mesh) claims an unresolved connection.
func PeekTag(payload []byte) (Tag, error) {
	if len(payload) < 1 {
		return 0, fmt.Errorf("meshproto: empty payload")
	}
	return Tag(payload[0]), nil
}

// EncodeWelcome serializes a CLUSTER_WELCOME.
func EncodeWelcome(w mesh.Welcome) []byte {
	b := make([]byte, 1+4+2+2+1+2+2+2)
	b[0] = byte(TagClusterWelcome)
	binary.LittleEndian.PutUint32(b[1:5], w.ClusterID)
	binary.LittleEndian.PutUint16(b[5:7], uint16(w.ClusterSize))
	binary.LittleEndian.PutUint16(b[7:9], w.MeshWriteHandle)
	b[9] = byte(w.HopsToSink)
	binary.LittleEndian.PutUint16(b[10:12], w.PreferredConnectionInterval)
	binary.LittleEndian.PutUint16(b[12:14], w.NetworkID)
	binary.LittleEndian.PutUint16(b[14:16], w.SenderNodeID)
	return b
}

// DecodeWelcome parses a CLUSTER_WELCOME payload (tag already checked).
func DecodeWelcome(b []byte) (mesh.Welcome, error) {
	if len(b) < 16 {
		return mesh.Welcome{}, fmt.Errorf("meshproto: welcome payload too short")
	}
	return mesh.Welcome{
		ClusterID:                   binary.LittleEndian.Uint32(b[1:5]),
		ClusterSize:                 int16(binary.LittleEndian.Uint16(b[5:7])),
		MeshWriteHandle:             binary.LittleEndian.Uint16(b[7:9]),
		HopsToSink:                  int8(b[9]),
		PreferredConnectionInterval: binary.LittleEndian.Uint16(b[10:12]),
		NetworkID:                   binary.LittleEndian.Uint16(b[12:14]),
		SenderNodeID:                binary.LittleEndian.Uint16(b[14:16]),
	}, nil
}

// EncodeAck1 serializes a CLUSTER_ACK_1.
func EncodeAck1(a mesh.Ack1) []byte {
	return []byte{byte(TagClusterAck1), byte(a.HopsToSink)}
}

// DecodeAck1 parses a CLUSTER_ACK_1 payload.
func DecodeAck1(b []byte) (mesh.Ack1, error) {
	if len(b) < 2 {
		return mesh.Ack1{}, fmt.Errorf("meshproto: ack1 payload too short")
	}
	return mesh.Ack1{HopsToSink: int8(b[1])}, nil
}

// EncodeAck2 serializes a CLUSTER_ACK_2.
func EncodeAck2(a mesh.Ack2) []byte {
	b := make([]byte, 1+4+2+1)
	b[0] = byte(TagClusterAck2)
	binary.LittleEndian.PutUint32(b[1:5], a.ClusterIDBackup)
	binary.LittleEndian.PutUint16(b[5:7], uint16(a.ClusterSizeBackup))
	b[7] = byte(a.HopsToSink)
	return b
}

// DecodeAck2 parses a CLUSTER_ACK_2 payload.
func DecodeAck2(b []byte) (mesh.Ack2, error) {
	if len(b) < 8 {
		return mesh.Ack2{}, fmt.Errorf("meshproto: ack2 payload too short")
	}
	return mesh.Ack2{
		ClusterIDBackup:   binary.LittleEndian.Uint32(b[1:5]),
		ClusterSizeBackup: int16(binary.LittleEndian.Uint16(b[5:7])),
		HopsToSink:        int8(b[7]),
	}, nil
}

// EncodeClusterInfoUpdate serializes the coalesced CLUSTER_INFO_UPDATE.
func EncodeClusterInfoUpdate(u conn.ClusterInfoUpdate) []byte {
	b := make([]byte, 1+2+1+1+2)
	b[0] = byte(TagClusterInfoUpdate)
	binary.LittleEndian.PutUint16(b[1:3], uint16(u.SizeChange))
	if u.MasterBitHandover {
		b[3] = 1
	}
	b[4] = byte(u.HopsToSink)
	binary.LittleEndian.PutUint16(b[5:7], u.Counter)
	return b
}

// DecodeClusterInfoUpdate parses a CLUSTER_INFO_UPDATE payload.
func DecodeClusterInfoUpdate(b []byte) (conn.ClusterInfoUpdate, error) {
	if len(b) < 7 {
		return conn.ClusterInfoUpdate{}, fmt.Errorf("meshproto: cluster info update payload too short")
	}
	return conn.ClusterInfoUpdate{
		Pending:           true,
		SizeChange:        int16(binary.LittleEndian.Uint16(b[1:3])),
		MasterBitHandover: b[3] != 0,
		HopsToSink:        int8(b[4]),
		Counter:           binary.LittleEndian.Uint16(b[5:7]),
	}, nil
}

// EncodeTimeSync serializes a TIME_SYNC message.
func EncodeTimeSync(m mesh.TimeSyncMessage) []byte {
	b := make([]byte, 1+1+4)
	b[0] = byte(TagTimeSync)
	b[1] = byte(m.Type)
	binary.LittleEndian.PutUint32(b[2:6], uint32(m.CorrectionTicks))
	return b
}

// DecodeTimeSync parses a TIME_SYNC payload.
func DecodeTimeSync(b []byte) (mesh.TimeSyncMessage, error) {
	if len(b) < 6 {
		return mesh.TimeSyncMessage{}, fmt.Errorf("meshproto: time sync payload too short")
	}
	return mesh.TimeSyncMessage{
		Type:            mesh.TimeSyncMessageType(b[1]),
		CorrectionTicks: int32(binary.LittleEndian.Uint32(b[2:6])),
	}, nil
}

// EncodeReconnect serializes a RECONNECT message.
func EncodeReconnect(r mesh.Reconnect) []byte {
	b := make([]byte, 1+2+2)
	b[0] = byte(TagReconnect)
	binary.LittleEndian.PutUint16(b[1:3], r.Sender)
	binary.LittleEndian.PutUint16(b[3:5], r.PartnerID)
	return b
}

// DecodeReconnect parses a RECONNECT payload.
func DecodeReconnect(b []byte) (mesh.Reconnect, error) {
	if len(b) < 5 {
		return mesh.Reconnect{}, fmt.Errorf("meshproto: reconnect payload too short")
	}
	return mesh.Reconnect{
		Sender:    binary.LittleEndian.Uint16(b[1:3]),
		PartnerID: binary.LittleEndian.Uint16(b[3:5]),
	}, nil
}

// EncodeEnrolledNodesSync serializes the enrolled-device-count gossip.
func EncodeEnrolledNodesSync(count uint16) []byte {
	b := make([]byte, 3)
	b[0] = byte(TagEnrolledNodesSync)
	binary.LittleEndian.PutUint16(b[1:3], count)
	return b
}

// DecodeEnrolledNodesSync parses an enrolled-nodes-sync payload.
func DecodeEnrolledNodesSync(b []byte) (uint16, error) {
	if len(b) < 3 {
		return 0, fmt.Errorf("meshproto: enrolled nodes sync payload too short")
	}
	return binary.LittleEndian.Uint16(b[1:3]), nil
}

// AppData is a general mesh-routed application message (spec §4.7):
// sender/receiver node ids plus an opaque payload, dispatched through the
// routing package's destination resolution.
type AppData struct {
	SenderID   uint16
	ReceiverID uint16
	ChunkID    uint32
	Payload    []byte
}

// EncodeAppData serializes an AppData message.
func EncodeAppData(a AppData) []byte {
	b := make([]byte, 1+2+2+4+len(a.Payload))
	b[0] = byte(TagAppData)
	binary.LittleEndian.PutUint16(b[1:3], a.SenderID)
	binary.LittleEndian.PutUint16(b[3:5], a.ReceiverID)
	binary.LittleEndian.PutUint32(b[5:9], a.ChunkID)
	copy(b[9:], a.Payload)
	return b
}

// DecodeAppData parses an AppData payload.
func DecodeAppData(b []byte) (AppData, error) {
	if len(b) < 9 {
		return AppData{}, fmt.Errorf("meshproto: app data payload too short")
	}
	payload := make([]byte, len(b)-9)
	copy(payload, b[9:])
	return AppData{
		SenderID:   binary.LittleEndian.Uint16(b[1:3]),
		ReceiverID: binary.LittleEndian.Uint16(b[3:5]),
		ChunkID:    binary.LittleEndian.Uint32(b[5:9]),
		Payload:    payload,
	}, nil
}

// EncodeMAStart serializes ENCRYPT_CUSTOM_START.
func EncodeMAStart(s meshaccess.Start) []byte {
	return []byte{byte(TagMAStart), s.Version, byte(s.FmKeyID), byte(s.TunnelType)}
}

// DecodeMAStart parses an ENCRYPT_CUSTOM_START payload.
func DecodeMAStart(b []byte) (meshaccess.Start, error) {
	if len(b) < 4 {
		return meshaccess.Start{}, fmt.Errorf("meshproto: ma start payload too short")
	}
	return meshaccess.Start{
		Version:    b[1],
		FmKeyID:    meshaccess.FmKeyID(b[2]),
		TunnelType: conn.TunnelType(b[3]),
	}, nil
}

// EncodeMAAnonce serializes ENCRYPT_CUSTOM_ANONCE.
func EncodeMAAnonce(a meshaccess.Anonce) []byte {
	b := make([]byte, 1+8)
	b[0] = byte(TagMAAnonce)
	binary.LittleEndian.PutUint32(b[1:5], a.ANonce[0])
	binary.LittleEndian.PutUint32(b[5:9], a.ANonce[1])
	return b
}

// DecodeMAAnonce parses an ENCRYPT_CUSTOM_ANONCE payload.
func DecodeMAAnonce(b []byte) (meshaccess.Anonce, error) {
	if len(b) < 9 {
		return meshaccess.Anonce{}, fmt.Errorf("meshproto: ma anonce payload too short")
	}
	return meshaccess.Anonce{ANonce: [2]uint32{
		binary.LittleEndian.Uint32(b[1:5]),
		binary.LittleEndian.Uint32(b[5:9]),
	}}, nil
}

// EncodeMASnonce serializes the (plaintext, pre-encryption) ENCRYPT_CUSTOM_SNONCE body.
func EncodeMASnonce(s meshaccess.Snonce) []byte {
	b := make([]byte, 1+8)
	b[0] = byte(TagMASnonce)
	binary.LittleEndian.PutUint32(b[1:5], s.SNonce[0])
	binary.LittleEndian.PutUint32(b[5:9], s.SNonce[1])
	return b
}

// DecodeMASnonce parses a decrypted ENCRYPT_CUSTOM_SNONCE body.
func DecodeMASnonce(b []byte) (meshaccess.Snonce, error) {
	if len(b) < 9 {
		return meshaccess.Snonce{}, fmt.Errorf("meshproto: ma snonce payload too short")
	}
	return meshaccess.Snonce{SNonce: [2]uint32{
		binary.LittleEndian.Uint32(b[1:5]),
		binary.LittleEndian.Uint32(b[5:9]),
	}}, nil
}

// EncodeMADone serializes the (plaintext, pre-encryption) ENCRYPT_CUSTOM_DONE body.
func EncodeMADone(status meshaccess.DoneStatus) []byte {
	return []byte{byte(TagMADone), byte(status)}
}

// DecodeMADone parses a decrypted ENCRYPT_CUSTOM_DONE body.
func DecodeMADone(b []byte) (meshaccess.DoneStatus, error) {
	if len(b) < 2 {
		return meshaccess.DoneFailure, fmt.Errorf("meshproto: ma done payload too short")
	}
	return meshaccess.DoneStatus(b[1]), nil
}

// EncodeMADeadData serializes a DEAD_DATA message using the magic the
// corrupted-message recovery path defines.
func EncodeMADeadData() []byte {
	b := make([]byte, 9)
	b[0] = byte(TagMADeadData)
	copy(b[1:], meshaccess.DeadDataMagic[:])
	return b
}

// EncodeSplitChunk serializes one chunk of a message split to fit the
// usable payload: a SPLIT_WRITE_CMD (or, for the terminating chunk,
// SPLIT_WRITE_CMD_END) tag, the chunk's index, and its data slice.
func EncodeSplitChunk(index uint8, end bool, data []byte) []byte {
	b := make([]byte, 2+len(data))
	b[0] = byte(TagSplit)
	if end {
		b[0] = byte(TagSplitEnd)
	}
	b[1] = index
	copy(b[2:], data)
	return b
}

// DecodeSplitChunk parses a split chunk's index and data (tag already
// inspected by the caller to distinguish continuation from end).
func DecodeSplitChunk(b []byte) (index uint8, data []byte, err error) {
	if len(b) < 2 {
		return 0, nil, fmt.Errorf("meshproto: split chunk too short")
	}
	data = make([]byte, len(b)-2)
	copy(data, b[2:])
	return b[1], data, nil
}

// EncryptedEnvelope wraps a mesh-access ciphertext with its MIC, the shape
// every post-handshake mesh-access packet (including the encrypted SNONCE
// and DONE messages) is carried in.
type EncryptedEnvelope struct {
	Ciphertext []byte
	MIC        [4]byte
}

// EncodeEncrypted serializes an EncryptedEnvelope.
func EncodeEncrypted(e EncryptedEnvelope) []byte {
	b := make([]byte, 1+len(e.Ciphertext)+4)
	b[0] = byte(TagMAEncrypted)
	copy(b[1:], e.Ciphertext)
	copy(b[1+len(e.Ciphertext):], e.MIC[:])
	return b
}

// DecodeEncrypted parses an EncryptedEnvelope.
func DecodeEncrypted(b []byte) (EncryptedEnvelope, error) {
	if len(b) < 5 {
		return EncryptedEnvelope{}, fmt.Errorf("meshproto: encrypted envelope too short")
	}
	ciphertext := make([]byte, len(b)-1-4)
	copy(ciphertext, b[1:1+len(ciphertext)])
	var mic [4]byte
	copy(mic[:], b[len(b)-4:])
	return EncryptedEnvelope{Ciphertext: ciphertext, MIC: mic}, nil
}
