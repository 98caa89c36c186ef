package i3s

import "encoding/json"

// Document types mirroring the I3S JSON resources this provider consumes.
// Fields not used by tile synthesis are carried as raw JSON where their
// shape is owned by the external decoders.

// ServiceDocument is a multi-layer SceneServer description.
type ServiceDocument struct {
	ServiceVersion string           `json:"serviceVersion"`
	Layers         []*LayerDocument `json:"layers"`
}

// LayerDocument is one scene layer's metadata. A service URL addressing a
// single layer sub-resource returns this document directly.
type LayerDocument struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	Href      string `json:"href"`
	LayerType string `json:"layerType"`

	Store                *StoreDocument         `json:"store"`
	AttributeStorageInfo []AttributeStorageInfo `json:"attributeStorageInfo"`
	NodePages            *NodePageDescriptor    `json:"nodePages"`
	GeometryDefinitions  []GeometryDefinition   `json:"geometryDefinitions"`
	SpatialReference     *SpatialReference      `json:"spatialReference"`
	FullExtent           *FullExtent            `json:"fullExtent"`
}

// StoreDocument carries the layer's storage description, including the
// legacy root-node pointer and the default geometry schema handed to the
// decoders.
type StoreDocument struct {
	ID      string `json:"id"`
	Version string `json:"version"`

	// Extent is [west, south, east, north] in degrees.
	Extent []float64 `json:"extent"`

	RootNode              string          `json:"rootNode"`
	DefaultGeometrySchema json.RawMessage `json:"defaultGeometrySchema"`
}

// AttributeStorageInfo declares one per-feature attribute field.
type AttributeStorageInfo struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

// NodePageDescriptor describes how paged layers index their nodes.
type NodePageDescriptor struct {
	NodesPerPage           int    `json:"nodesPerPage"`
	LODSelectionMetricType string `json:"lodSelectionMetricType"`
}

// GeometryDefinition lists the alternative geometry buffer encodings a
// paged layer offers. Buffer internals belong to the decoders and are kept
// raw; only the compressed marker is inspected for buffer selection.
type GeometryDefinition struct {
	GeometryBuffers []GeometryBuffer `json:"geometryBuffers"`
}

// GeometryBuffer is one buffer encoding inside a geometry definition.
type GeometryBuffer struct {
	Compressed bool
	Raw        json.RawMessage
}

// UnmarshalJSON keeps the full buffer description available to decoders
// while exposing the compression marker.
func (b *GeometryBuffer) UnmarshalJSON(data []byte) error {
	var probe struct {
		CompressedAttributes json.RawMessage `json:"compressedAttributes"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	b.Compressed = probe.CompressedAttributes != nil
	b.Raw = append(b.Raw[:0], data...)
	return nil
}

// SpatialReference identifies the layer's coordinate system.
type SpatialReference struct {
	WKID       int `json:"wkid"`
	LatestWKID int `json:"latestWkid"`
}

// FullExtent is the layer extent in degrees.
type FullExtent struct {
	XMin float64 `json:"xmin"`
	YMin float64 `json:"ymin"`
	XMax float64 `json:"xmax"`
	YMax float64 `json:"ymax"`
}

// OBB is an oriented bounding box: geographic center (longitude, latitude
// in degrees, height in meters), half-extents in meters, and an optional
// [x, y, z, w] unit quaternion.
type OBB struct {
	Center     []float64 `json:"center"`
	HalfSize   []float64 `json:"halfSize"`
	Quaternion []float64 `json:"quaternion"`
}

// LODSelection is one legacy LOD-selection entry.
type LODSelection struct {
	MetricType string  `json:"metricType"`
	MaxError   float64 `json:"maxError"`
}

// Resource is a reference to a node sub-resource.
type Resource struct {
	Href string `json:"href"`
}

// NodeDocument is a legacy (3dNodeIndexDocument) node record. Child
// entries may be href references or inline records; both decode into
// NodeDocument, distinguished by an empty Href.
type NodeDocument struct {
	ID    string `json:"id"`
	Href  string `json:"href"`
	Level int    `json:"level"`

	// MBS is [longitude, latitude, height, radius].
	MBS []float64 `json:"mbs"`
	OBB *OBB      `json:"obb"`

	LODSelection []LODSelection `json:"lodSelection"`

	Children []*NodeDocument `json:"children"`

	GeometryData  []Resource `json:"geometryData"`
	FeatureData   []Resource `json:"featureData"`
	AttributeData []Resource `json:"attributeData"`
}

// NodePage is one block of paged node records.
type NodePage struct {
	Nodes []*PagedNode `json:"nodes"`
}

// PagedNode is a node record from a node page.
type PagedNode struct {
	Index        int     `json:"index"`
	ParentIndex  int     `json:"parentIndex"`
	Children     []int   `json:"children"`
	OBB          *OBB    `json:"obb"`
	LODThreshold float64 `json:"lodThreshold"`
	Mesh         *Mesh   `json:"mesh"`
}

// Mesh references a paged node's geometry and attribute buffers.
type Mesh struct {
	Geometry  *MeshComponent `json:"geometry"`
	Attribute *MeshComponent `json:"attribute"`
}

// MeshComponent points into the layer's geometry definitions and the
// node-addressed resource space.
type MeshComponent struct {
	Definition int `json:"definition"`
	Resource   int `json:"resource"`
}
