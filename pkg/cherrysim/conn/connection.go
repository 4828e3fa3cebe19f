// Package conn implements the connection pool: a slab of tagged-variant
// connection records (Mesh, MeshAccess, or an as-yet-unresolved Resolver
// slot), accessed through handles that safely resolve to nil once the
// underlying slot has been freed and possibly reused.
package conn

// Direction is which side of the BLE GAP link a connection occupies.
type Direction uint8

const (
	DirectionIn  Direction = iota // this node is GAP peripheral (slave)
	DirectionOut                  // this node is GAP central (master)
)

// State is a connection's lifecycle stage.
type State uint8

const (
	StateConnecting State = iota
	StateConnected
	StateHandshaking
	StateHandshakeDone
	StateReestablishing
	StateReestablishingHandshake
	StateDisconnected
)

// EncryptionState tracks mesh-access link-layer encryption progress,
// distinct from the mesh-access application-layer session key state.
type EncryptionState uint8

const (
	EncryptionNotEncrypted EncryptionState = iota
	EncryptionEncrypting
	EncryptionEncrypted
)

// Kind tags which variant a Connection record currently is. A slot starts
// as KindResolver (type not yet known from the first received write) and
// is promoted in place to KindMesh or KindMeshAccess once a resolver
// matches.
type Kind uint8

const (
	KindResolver Kind = iota
	KindMesh
	KindMeshAccess
)

// Connection is the tagged-variant connection record. Fields common to
// every connection type live directly on the struct; variant-specific
// state lives behind the Mesh/MeshAccess pointers, exactly one of which is
// non-nil once Kind is KindMesh or KindMeshAccess (both are nil while
// Kind == KindResolver).
type Connection struct {
	UniqueConnectionID uint32 // never 0; 0 means "invalid handle"
	ConnectionID       int    // pool slot index
	Direction          Direction
	State              State
	EncryptionState     EncryptionState
	ConnectionHandle    uint16 // BLE-stack-assigned

	PartnerAddress [6]byte
	PartnerID      uint16

	ConnectionMTU         uint16
	ConnectionPayloadSize uint16

	CreationTimeDs      uint32
	HandshakeStartedDs  uint32

	LastReportedRSSI      int32
	RSSIAverageTimes1000  int64

	Queue             *PacketQueue
	ReassemblyBuffer  []byte
	reassembling      bool

	DroppedPackets  uint32
	SentReliable    uint32
	SentUnreliable  uint32

	DisconnectionReason    uint8
	AppDisconnectionReason uint8

	Kind       Kind
	Mesh       *MeshVariant
	MeshAccess *MeshAccessVariant
}

// NewConnection allocates a bare KindResolver connection with the given
// pool-assigned identity; its variant is decided later by a resolver chain
// matching on the first received write.
func NewConnection(uniqueID uint32, connectionID int, dir Direction, creationTimeDs uint32) *Connection {
	return &Connection{
		UniqueConnectionID: uniqueID,
		ConnectionID:       connectionID,
		Direction:          dir,
		State:              StateConnecting,
		ConnectionMTU:      23, // default ATT_MTU
		CreationTimeDs:     creationTimeDs,
		Queue:              NewPacketQueue(),
		Kind:               KindResolver,
	}
}

// PromoteToMesh converts a resolver slot into a Mesh connection in place,
// preserving the common fields and unique id.
func (c *Connection) PromoteToMesh() *MeshVariant {
	c.Kind = KindMesh
	c.Mesh = &MeshVariant{TimeSyncState: TimeSyncUnsynced}
	return c.Mesh
}

// PromoteToMeshAccess converts a resolver slot into a MeshAccess connection
// in place, preserving the common fields and unique id.
func (c *Connection) PromoteToMeshAccess() *MeshAccessVariant {
	c.Kind = KindMeshAccess
	c.MeshAccess = &MeshAccessVariant{}
	return c.MeshAccess
}

// TimeSyncState is a MeshConnection's time-synchronization handshake
// progress, piggybacked on the connection rather than negotiated
// separately.
type TimeSyncState uint8

const (
	TimeSyncUnsynced TimeSyncState = iota
	TimeSyncInitialSent
	TimeSyncCorrectionSent
)

// ClusterInfoUpdate is the coalescing vital-priority packet: repeated calls
// to Merge accumulate sizeChange and keep the latest hopsToSink between
// flushes instead of queuing one packet per call.
type ClusterInfoUpdate struct {
	Pending           bool
	SizeChange        int16
	MasterBitHandover bool
	HopsToSink        int8
	Counter           uint16
}

// Merge folds another update into the pending coalesced one, marking it
// pending so the next Drain will flush it.
func (c *ClusterInfoUpdate) Merge(sizeChange int16, masterBitHandover bool, hopsToSink int8) {
	c.Pending = true
	c.SizeChange += sizeChange
	if masterBitHandover {
		c.MasterBitHandover = true
	}
	c.HopsToSink = hopsToSink
	c.Counter++
}

// Drain returns the accumulated update and clears pending state, or false
// if nothing was pending.
func (c *ClusterInfoUpdate) Drain() (ClusterInfoUpdate, bool) {
	if !c.Pending {
		return ClusterInfoUpdate{}, false
	}
	out := *c
	*c = ClusterInfoUpdate{}
	return out, true
}

// MeshVariant holds MeshConnection-specific state.
type MeshVariant struct {
	PartnerWriteCharacteristicHandle uint16
	ConnectionMasterBit              uint8 // 0 or 1
	ConnectedClusterID               uint32
	ConnectedClusterSize             int16
	HopsToSink                       int8
	ClusterIDBackup                  uint32
	ClusterSizeBackup                int16

	CurrentClusterInfoUpdatePacket ClusterInfoUpdate

	TimeSyncState TimeSyncState

	EnrolledNodesSynced bool

	ReestablishmentStartedDs uint32
}

// TunnelType is what kind of traffic a MeshAccessConnection tunnels.
type TunnelType uint8

const (
	TunnelPeerToPeer TunnelType = iota
	TunnelRemoteMesh
	TunnelLocalMesh
)

// MeshAccessVariant holds MeshAccessConnection-specific state: the
// encrypted tunnel's key material, nonce counters, and virtual partner id.
type MeshAccessVariant struct {
	FmKeyID    uint8
	TunnelType TunnelType

	VirtualPartnerID uint16

	SessionEncryptionKey [16]byte
	SessionDecryptionKey [16]byte

	// EncryptionNonce/DecryptionNonce are the [counter-high, counter-low]
	// pair used as the AES-CTR nonce; index 1 is strictly monotonic for
	// the connection's lifetime per the spec invariant.
	EncryptionNonce [2]uint32
	DecryptionNonce [2]uint32

	UseCustomKey bool
	CustomKey    [16]byte

	AmountOfCorruptedMessages     uint32
	AllowCorruptedEncryptionStart bool

	ConnectionStateSubscriberID uint16

	ScheduledConnectionRemovalTimeDs uint32
}
