package viewerproto

import (
	"encoding/json"

	"kiddoverse.ai/internal/sim/catalogs"
)

// Version is the viewer protocol version.
const Version = "0.1"

const (
	TypeSubscribe  = "SUBSCRIBE"
	TypeView       = "VIEW"
	TypeSetBlock   = "SET_BLOCK"
	TypeHello      = "HELLO"
	TypeMaterials  = "MATERIALS"
	TypeChunkDrop  = "CHUNK_DROP"
	TypeEditResult = "EDIT_RESULT"
)

// Edit modes carried by SET_BLOCK.
const (
	EditSet   = "SET"
	EditBreak = "BREAK"
	EditPlace = "PLACE"
)

type Base struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
}

func DecodeBase(b []byte) (Base, error) {
	var base Base
	err := json.Unmarshal(b, &base)
	return base, err
}

// Client -> Server. First message on the connection.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	// ViewRadius limits streamed chunks to this many chunks from the
	// viewer's own VIEW on x and z. Zero means every meshed chunk.
	ViewRadius int `json:"view_radius,omitempty"`
}

// Client -> Server. Latest camera position in scene units.
type ViewMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	Pos             [3]float32 `json:"pos"`
}

// Client -> Server.
type SetBlockMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id,omitempty"`
	Mode            string `json:"mode,omitempty"`
	Pos             [3]int `json:"pos"`
	Block           uint16 `json:"block,omitempty"`
}

// Server -> Client. Reply to SUBSCRIBE.
type HelloMsg struct {
	Type            string                `json:"type"`
	ProtocolVersion string                `json:"protocol_version"`
	SessionID       string                `json:"session_id"`
	WorldID         string                `json:"world_id"`
	Theme           string                `json:"theme"`
	Presentation    catalogs.Presentation `json:"presentation"`
	ChunkSize       int                   `json:"chunk_size"`
	BlockSize       float64               `json:"block_size"`
	BlockPalette    []string              `json:"block_palette"`
}

type MaterialInfo struct {
	ID                int     `json:"id"`
	Texture           string  `json:"texture"`
	Color             string  `json:"color"`
	Light             string  `json:"light,omitempty"`
	Dark              string  `json:"dark,omitempty"`
	Bevel             int     `json:"bevel,omitempty"`
	Roughness         float64 `json:"roughness"`
	Metalness         float64 `json:"metalness"`
	Transparent       bool    `json:"transparent,omitempty"`
	DoubleSided       bool    `json:"double_sided,omitempty"`
	Emissive          string  `json:"emissive,omitempty"`
	EmissiveIntensity float64 `json:"emissive_intensity,omitempty"`
	Fallback          bool    `json:"fallback,omitempty"`
}

// Server -> Client. Materials created since the previous MATERIALS message.
type MaterialsMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	Materials       []MaterialInfo `json:"materials"`
}

// Server -> Client. The chunk left the scene.
type ChunkDropMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Key             [3]int `json:"key"`
}

type EditResultMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id,omitempty"`
	OK              bool   `json:"ok"`
	Changed         bool   `json:"changed,omitempty"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
}

// HTTP response for GET /viewer/v1/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string                `json:"protocol_version"`
	WorldID         string                `json:"world_id"`
	Theme           string                `json:"theme"`
	Seed            int64                 `json:"seed"`
	Presentation    catalogs.Presentation `json:"presentation"`
	ChunkSize       int                   `json:"chunk_size"`
	BlockSize       float64               `json:"block_size"`
	RenderDistance  int                   `json:"render_distance"`
	BlockPalette    []string              `json:"block_palette"`
	Digests         map[string]string     `json:"digests"`
}
