package meshproto

import (
	"testing"

	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/conn"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/mesh"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/meshaccess"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWelcomeRoundTrip(t *testing.T) {
	w := mesh.Welcome{
		ClusterID:                   0xCAFEBABE,
		ClusterSize:                 7,
		MeshWriteHandle:             42,
		HopsToSink:                  3,
		PreferredConnectionInterval: 15,
		NetworkID:                   1,
		SenderNodeID:                99,
	}
	b := EncodeWelcome(w)
	tag, err := PeekTag(b)
	require.NoError(t, err)
	assert.Equal(t, TagClusterWelcome, tag)

	got, err := DecodeWelcome(b)
	require.NoError(t, err)
	assert.Equal(t, w, got)
}

func TestAck1RoundTrip(t *testing.T) {
	a := mesh.Ack1{HopsToSink: -1}
	got, err := DecodeAck1(EncodeAck1(a))
	require.NoError(t, err)
	assert.Equal(t, a, got)
}

func TestAck2RoundTrip(t *testing.T) {
	a := mesh.Ack2{ClusterIDBackup: 123456, ClusterSizeBackup: 12, HopsToSink: 5}
	got, err := DecodeAck2(EncodeAck2(a))
	require.NoError(t, err)
	assert.Equal(t, a, got)
}

func TestClusterInfoUpdateRoundTrip(t *testing.T) {
	u := conn.ClusterInfoUpdate{SizeChange: -3, MasterBitHandover: true, HopsToSink: 2, Counter: 9}
	got, err := DecodeClusterInfoUpdate(EncodeClusterInfoUpdate(u))
	require.NoError(t, err)
	u.Pending = true
	assert.Equal(t, u, got)
}

func TestTimeSyncRoundTrip(t *testing.T) {
	m := mesh.TimeSyncMessage{Type: mesh.TimeSyncCorrection, CorrectionTicks: -17}
	got, err := DecodeTimeSync(EncodeTimeSync(m))
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestReconnectRoundTrip(t *testing.T) {
	r := mesh.Reconnect{Sender: 5, PartnerID: 6}
	got, err := DecodeReconnect(EncodeReconnect(r))
	require.NoError(t, err)
	assert.Equal(t, r, got)
}

func TestEnrolledNodesSyncRoundTrip(t *testing.T) {
	got, err := DecodeEnrolledNodesSync(EncodeEnrolledNodesSync(4242))
	require.NoError(t, err)
	assert.Equal(t, uint16(4242), got)
}

func TestAppDataRoundTrip(t *testing.T) {
	a := AppData{SenderID: 1, ReceiverID: 2, ChunkID: 7, Payload: []byte("hello mesh")}
	got, err := DecodeAppData(EncodeAppData(a))
	require.NoError(t, err)
	assert.Equal(t, a, got)
}

func TestMAHandshakeMessagesRoundTrip(t *testing.T) {
	start := meshaccess.Start{Version: 1, FmKeyID: meshaccess.FmKeyNetwork, TunnelType: conn.TunnelRemoteMesh}
	gotStart, err := DecodeMAStart(EncodeMAStart(start))
	require.NoError(t, err)
	assert.Equal(t, start, gotStart)

	anonce := meshaccess.Anonce{ANonce: [2]uint32{1, 2}}
	gotAnonce, err := DecodeMAAnonce(EncodeMAAnonce(anonce))
	require.NoError(t, err)
	assert.Equal(t, anonce, gotAnonce)

	snonce := meshaccess.Snonce{SNonce: [2]uint32{3, 4}}
	gotSnonce, err := DecodeMASnonce(EncodeMASnonce(snonce))
	require.NoError(t, err)
	assert.Equal(t, snonce, gotSnonce)

	gotDone, err := DecodeMADone(EncodeMADone(meshaccess.DoneSuccess))
	require.NoError(t, err)
	assert.Equal(t, meshaccess.DoneSuccess, gotDone)
}

func TestEncodeMADeadDataCarriesMagic(t *testing.T) {
	b := EncodeMADeadData()
	tag, err := PeekTag(b)
	require.NoError(t, err)
	assert.Equal(t, TagMADeadData, tag)
	assert.Equal(t, meshaccess.DeadDataMagic[:], b[1:])
}

func TestEncryptedEnvelopeRoundTrip(t *testing.T) {
	e := EncryptedEnvelope{Ciphertext: []byte{1, 2, 3, 4, 5}, MIC: [4]byte{9, 8, 7, 6}}
	got, err := DecodeEncrypted(EncodeEncrypted(e))
	require.NoError(t, err)
	assert.Equal(t, e, got)
}

func TestSplitChunkRoundTrip(t *testing.T) {
	b := EncodeSplitChunk(2, false, []byte{0xAA, 0xBB})
	tag, err := PeekTag(b)
	require.NoError(t, err)
	assert.Equal(t, TagSplit, tag)

	index, data, err := DecodeSplitChunk(b)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), index)
	assert.Equal(t, []byte{0xAA, 0xBB}, data)

	end := EncodeSplitChunk(3, true, nil)
	tag, err = PeekTag(end)
	require.NoError(t, err)
	assert.Equal(t, TagSplitEnd, tag)

	_, _, err = DecodeSplitChunk([]byte{byte(TagSplit)})
	assert.Error(t, err)
}

func TestDecodeRejectsShortPayloads(t *testing.T) {
	_, err := DecodeWelcome([]byte{byte(TagClusterWelcome)})
	assert.Error(t, err)
	_, err = PeekTag(nil)
	assert.Error(t, err)
}
