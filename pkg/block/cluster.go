package block

// Ref points at a vertex of another block: Block indexes one of the
// cluster's reference lists, Offset is the vertex offset inside that block.
type Ref struct {
	Block  uint32
	Offset uint32
}

// Flags are the per-edge booleans.
type Flags struct {
	Shortcut bool
	Forward  bool
	Backward bool
	Core     bool
}

// InternalEdge targets a vertex of the same block.
type InternalEdge struct {
	Target uint32 // vertex offset
	Weight uint32
	Flags
}

// ExternalEdge targets a vertex of a block in the Adj list. Zero locates
// the target's level-zero identity and is only stored above level 0.
type ExternalEdge struct {
	Target Ref
	Zero   Ref
	Weight uint32
	Flags
}

// VertexRecord is the stored form of one vertex. Fields whose section is
// absent for the cluster's level are zero.
type VertexRecord struct {
	Neighborhood uint32 // Infinite beyond NumWithNeighborhood
	Lon, Lat     int32  // microdegrees, level 0 only
	Below        Ref    // into Subj, level > 1
	Above        Ref    // into Overly, first NumHigher vertices below the top level
	Zero         Ref    // into LvlZero, level > 0
	Internal     []InternalEdge
	External     []ExternalEdge
}

// Cluster is the value form of a block, the input of Encode.
type Cluster struct {
	Level uint8

	// Vertices [0, NumWithNeighborhood) carry a neighborhood value and
	// vertices [0, NumHigher) exist on the next level.
	NumWithNeighborhood uint32
	NumHigher           uint32

	Adj     []uint32 // blocks targeted by external edges
	Subj    []uint32 // blocks holding these vertices one level down
	Overly  []uint32 // blocks holding these vertices one level up
	LvlZero []uint32 // blocks holding level-zero identities

	Vertices []VertexRecord
}

// Vertex is the decoded view of one vertex. It is meant to be reused.
type Vertex struct {
	ID           VertexID
	Below        VertexID
	Above        VertexID
	Zero         VertexID
	Level        uint8
	Neighborhood uint32
	Lon, Lat     int32

	FirstInternal, NumInternal uint32
	FirstExternal, NumExternal uint32
}

// NumOutbound returns the number of edges OutboundEdge can enumerate.
func (v *Vertex) NumOutbound() uint32 {
	return v.NumInternal + v.NumExternal
}

// HasNeighborhood reports whether the neighborhood radius is finite.
func (v *Vertex) HasNeighborhood() bool {
	return v.Neighborhood != Infinite
}

// Edge is the decoded view of one outbound edge.
type Edge struct {
	Source     VertexID
	Target     VertexID
	TargetZero VertexID // level-zero identity of Target
	Weight     uint32
	Internal   bool
	Flags
}
