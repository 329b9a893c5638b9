package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"kiddoverse.ai/internal/sim/catalogs"
	"kiddoverse.ai/internal/sim/world"
	"kiddoverse.ai/internal/sim/world/logic/mathx"
	"kiddoverse.ai/internal/sim/world/mesh"
	"kiddoverse.ai/internal/viewerproto"
)

type Config struct {
	// EditRate and EditBurst bound SET_BLOCK per session.
	EditRate  rate.Limit
	EditBurst int
	// ChunksPerSecond bounds CHUNK_MESH messages per session.
	ChunksPerSecond int
	// EditLoopbackOnly rejects edits from non-loopback peers.
	EditLoopbackOnly bool
	SyncInterval     time.Duration
}

func (c *Config) applyDefaults() {
	if c.EditRate <= 0 {
		c.EditRate = 20
	}
	if c.EditBurst <= 0 {
		c.EditBurst = 40
	}
	if c.ChunksPerSecond <= 0 {
		c.ChunksPerSecond = 120
	}
	if c.SyncInterval <= 0 {
		c.SyncInterval = 50 * time.Millisecond
	}
}

// Server streams the world's scene to websocket viewers and applies their
// edits. It is also the world's ViewSource: the most recent VIEW from any
// viewer drives streaming.
type Server struct {
	world *world.World
	cats  *catalogs.Catalogs
	cfg   Config
	log   *log.Logger

	upgrader websocket.Upgrader
	viewers  atomic.Int64

	mu   sync.Mutex
	view mgl32.Vec3
}

func NewServer(w *world.World, cats *catalogs.Catalogs, cfg Config, spawn mgl32.Vec3, logger *log.Logger) *Server {
	cfg.applyDefaults()
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		world: w,
		cats:  cats,
		cfg:   cfg,
		log:   logger,
		view:  spawn,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Viewpoint() mgl32.Vec3 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

func (s *Server) setView(p mgl32.Vec3) {
	s.mu.Lock()
	s.view = p
	s.mu.Unlock()
}

func (s *Server) Viewers() int { return int(s.viewers.Load()) }

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		cfg := s.world.Config()
		theme := s.world.Theme()
		resp := viewerproto.BootstrapResponse{
			ProtocolVersion: viewerproto.Version,
			WorldID:         cfg.ID,
			Theme:           theme.Name,
			Seed:            cfg.Seed,
			Presentation:    theme.Presentation,
			ChunkSize:       cfg.ChunkSize,
			BlockSize:       cfg.BlockSize,
			RenderDistance:  cfg.RenderDistance,
			BlockPalette:    s.world.Blocks().Palette,
			Digests:         s.digests(),
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) digests() map[string]string {
	out := map[string]string{}
	if s.cats == nil {
		return out
	}
	if s.cats.Blocks != nil {
		out["blocks_palette"] = s.cats.Blocks.PaletteDigest
		out["blocks_defs"] = s.cats.Blocks.DefsDigest
	}
	if s.cats.Textures != nil {
		out["textures"] = s.cats.Textures.Digest
	}
	if s.cats.Themes != nil {
		out["themes"] = s.cats.Themes.Digest
	}
	return out
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := viewerproto.ValidateClient(msg)
		if err != nil || base.Type != viewerproto.TypeSubscribe {
			closeWith(conn, websocket.ClosePolicyViolation, "expected SUBSCRIBE")
			return
		}
		var sub viewerproto.SubscribeMsg
		_ = json.Unmarshal(msg, &sub)

		st := &session{
			id:       uuid.NewString(),
			radius:   sub.ViewRadius,
			loopback: isLoopbackRemote(r.RemoteAddr),
			edits:    rate.NewLimiter(s.cfg.EditRate, s.cfg.EditBurst),
			chunks:   rate.NewLimiter(rate.Limit(s.cfg.ChunksPerSecond), s.cfg.ChunksPerSecond),
			results:  make(chan viewerproto.EditResultMsg, 64),
			sent:     map[[3]int]uint64{},
		}
		st.view = s.Viewpoint()

		if err := s.hello(conn, st); err != nil {
			return
		}
		s.viewers.Add(1)
		defer s.viewers.Add(-1)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		writeErr := make(chan error, 1)
		go func() { writeErr <- s.writeLoop(ctx, conn, st) }()

		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			base, err := viewerproto.ValidateClient(msg)
			if err != nil {
				continue
			}
			switch base.Type {
			case viewerproto.TypeView:
				var v viewerproto.ViewMsg
				if json.Unmarshal(msg, &v) == nil {
					p := mgl32.Vec3(v.Pos)
					st.setView(p)
					s.setView(p)
				}
			case viewerproto.TypeSubscribe:
				var sub viewerproto.SubscribeMsg
				if json.Unmarshal(msg, &sub) == nil {
					st.setRadius(sub.ViewRadius)
				}
			case viewerproto.TypeSetBlock:
				var m viewerproto.SetBlockMsg
				if json.Unmarshal(msg, &m) == nil {
					s.handleSetBlock(ctx, st, m)
				}
			}
		}

		cancel()
		closeWith(conn, websocket.CloseNormalClosure, "bye")

		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (s *Server) hello(conn *websocket.Conn, st *session) error {
	cfg := s.world.Config()
	theme := s.world.Theme()
	return writeJSON(conn, viewerproto.HelloMsg{
		Type:            viewerproto.TypeHello,
		ProtocolVersion: viewerproto.Version,
		SessionID:       st.id,
		WorldID:         cfg.ID,
		Theme:           theme.Name,
		Presentation:    theme.Presentation,
		ChunkSize:       cfg.ChunkSize,
		BlockSize:       cfg.BlockSize,
		BlockPalette:    s.world.Blocks().Palette,
	})
}

func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, st *session) error {
	ticker := time.NewTicker(s.cfg.SyncInterval)
	defer ticker.Stop()
	if err := s.sync(conn, st); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res := <-st.results:
			if err := writeJSON(conn, res); err != nil {
				return err
			}
		case <-ticker.C:
			if err := s.sync(conn, st); err != nil {
				return err
			}
		}
	}
}

// sync sends new materials, changed meshes (nearest first, paced by the
// session's chunk limiter) and drops for chunks that left the scene or the
// session's radius.
func (s *Server) sync(conn *websocket.Conn, st *session) error {
	scene := s.world.Scene()
	nodes := scene.Nodes()
	if err := s.sendMaterials(conn, st); err != nil {
		return err
	}

	center, radius := s.world.ChunkKeyAt(st.getView()).Array(), st.getRadius()
	inRange := func(k [3]int) bool {
		if radius <= 0 {
			return true
		}
		return mathx.AbsInt(k[0]-center[0]) <= radius && mathx.AbsInt(k[2]-center[2]) <= radius
	}

	live := make(map[[3]int]bool, len(nodes))
	var pending []meshNodeRef
	for _, n := range nodes {
		if !inRange(n.Key) {
			continue
		}
		live[n.Key] = true
		if st.sent[n.Key] != n.Version {
			pending = append(pending, meshNodeRef{key: n.Key, dist: dist2(n.Key, center)})
		}
	}

	var drops [][3]int
	for k := range st.sent {
		if !live[k] {
			drops = append(drops, k)
		}
	}
	sort.Slice(drops, func(i, j int) bool { return lessKey(drops[i], drops[j]) })
	for _, k := range drops {
		delete(st.sent, k)
		if err := writeJSON(conn, viewerproto.ChunkDropMsg{Type: viewerproto.TypeChunkDrop, ProtocolVersion: viewerproto.Version, Key: k}); err != nil {
			return err
		}
	}

	sort.Slice(pending, func(i, j int) bool {
		if pending[i].dist != pending[j].dist {
			return pending[i].dist < pending[j].dist
		}
		return lessKey(pending[i].key, pending[j].key)
	})
	for _, p := range pending {
		if !st.chunks.Allow() {
			break
		}
		if err := s.sendMesh(conn, st, scene, p.key); err != nil {
			return err
		}
	}
	return nil
}

// sendMaterials sends every material created since the session's last
// MATERIALS message.
func (s *Server) sendMaterials(conn *websocket.Conn, st *session) error {
	mats := s.world.Materials().Materials()
	if len(mats) <= st.materials {
		return nil
	}
	msg := viewerproto.MaterialsMsg{Type: viewerproto.TypeMaterials, ProtocolVersion: viewerproto.Version}
	for _, m := range mats[st.materials:] {
		msg.Materials = append(msg.Materials, materialInfo(m))
	}
	if err := writeJSON(conn, msg); err != nil {
		return err
	}
	st.materials = len(mats)
	return nil
}

// sendMesh writes the current batch at key. The chunk may have been rebuilt
// since the scene was listed, so any material the encoded batch references
// that the session has not seen goes out first.
func (s *Server) sendMesh(conn *websocket.Conn, st *session, scene *mesh.Scene, key [3]int) error {
	var (
		data    []byte
		version uint64
		maxMat  = -1
		err     error
	)
	if !scene.Read(key, func(n mesh.Node) {
		version = n.Version
		data, err = viewerproto.EncodeMesh(n)
		if err != nil {
			return
		}
		for _, m := range n.Batch.Materials() {
			if m.ID > maxMat {
				maxMat = m.ID
			}
		}
	}) {
		return nil
	}
	if err != nil {
		s.log.Printf("viewer %s: encode %v: %v", st.id, key, err)
		return nil
	}
	if maxMat >= st.materials {
		if err := s.sendMaterials(conn, st); err != nil {
			return err
		}
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return err
	}
	st.sent[key] = version
	return nil
}

func (s *Server) handleSetBlock(ctx context.Context, st *session, m viewerproto.SetBlockMsg) {
	reply := viewerproto.EditResultMsg{Type: viewerproto.TypeEditResult, ProtocolVersion: viewerproto.Version, ID: m.ID}
	reject := func(code, message string) {
		reply.Code, reply.Message = code, message
		select {
		case st.results <- reply:
		default:
		}
	}
	if s.cfg.EditLoopbackOnly && !st.loopback {
		reject("FORBIDDEN", "edits are loopback-only")
		return
	}
	if !st.edits.Allow() {
		reject("RATE_LIMITED", "too many edits")
		return
	}

	x, y, z := m.Pos[0], m.Pos[1], m.Pos[2]
	var e *world.Edit
	switch m.Mode {
	case "", viewerproto.EditSet:
		e = s.world.SetBlock(x, y, z, catalogs.BlockID(m.Block))
	case viewerproto.EditBreak:
		e = s.world.BreakBlock(x, y, z)
	case viewerproto.EditPlace:
		e = s.world.PlaceBlock(x, y, z, catalogs.BlockID(m.Block))
	default:
		reject("BAD_REQUEST", "unknown mode "+m.Mode)
		return
	}

	go func() {
		err := e.Wait(ctx)
		if err != nil {
			reply.Code, reply.Message = editCode(err), err.Error()
		} else {
			reply.OK, reply.Changed = true, e.Changed()
		}
		select {
		case st.results <- reply:
		case <-ctx.Done():
		}
	}()
}

func editCode(err error) string {
	switch {
	case errors.Is(err, world.ErrUnknownBlock):
		return "UNKNOWN_BLOCK"
	case errors.Is(err, world.ErrUnbreakable):
		return "UNBREAKABLE"
	case errors.Is(err, world.ErrOccupied):
		return "OCCUPIED"
	case errors.Is(err, world.ErrClosed):
		return "CLOSED"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "CANCELED"
	default:
		return "FAILED"
	}
}

func materialInfo(m *mesh.Material) viewerproto.MaterialInfo {
	return viewerproto.MaterialInfo{
		ID:                m.ID,
		Texture:           m.Key.Texture,
		Color:             m.Color(),
		Light:             m.Texture.Light,
		Dark:              m.Texture.Dark,
		Bevel:             m.Texture.Bevel,
		Roughness:         m.Key.Roughness,
		Metalness:         m.Key.Metalness,
		Transparent:       m.Key.Transparent,
		DoubleSided:       m.Key.DoubleSided,
		Emissive:          m.Key.Emissive,
		EmissiveIntensity: m.Key.EmissiveIntensity,
		Fallback:          m.Fallback,
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func closeWith(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
