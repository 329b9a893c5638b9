package viewer

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"kiddoverse.ai/internal/sim/catalogs"
	"kiddoverse.ai/internal/sim/world"
	"kiddoverse.ai/internal/viewerproto"
)

var spawn = mgl32.Vec3{4, 12, 4}

func newTestWorld(t *testing.T) (*world.World, *catalogs.Catalogs) {
	t.Helper()
	cats, err := catalogs.Load(filepath.Join("..", "..", "..", "configs"))
	if err != nil {
		t.Fatalf("catalogs: %v", err)
	}
	w, err := world.New(world.WorldConfig{
		Theme:                  "DEFAULT",
		Seed:                   42,
		ChunkSize:              8,
		RenderDistance:         1,
		VerticalRenderDistance: 1,
		MaxRebuildsPerFrame:    64,
		GenerationWorkers:      2,
		Logger:                 log.New(io.Discard, "", 0),
	}, cats, nil)
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	t.Cleanup(w.Close)
	w.StepOnce(spawn)
	for i := 0; i < 10 && w.Update(spawn).Rebuilt > 0; i++ {
	}
	if w.Scene().Len() == 0 {
		t.Fatalf("world produced no meshes")
	}
	return w, cats
}

func startServer(t *testing.T, s *Server) string {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/viewer/v1/bootstrap", s.BootstrapHandler())
	mux.HandleFunc("/viewer/v1/ws", s.WSHandler())
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv.URL
}

func dial(t *testing.T, base string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(base, "http") + "/viewer/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// readUntil reads messages until fn returns true.
func readUntil(t *testing.T, conn *websocket.Conn, fn func(mt int, data []byte) bool) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if fn(mt, data) {
			return
		}
	}
}

func subscribe(t *testing.T, conn *websocket.Conn) viewerproto.HelloMsg {
	t.Helper()
	send(t, conn, viewerproto.SubscribeMsg{Type: viewerproto.TypeSubscribe, ProtocolVersion: viewerproto.Version})
	var hello viewerproto.HelloMsg
	readUntil(t, conn, func(mt int, data []byte) bool {
		return mt == websocket.TextMessage && json.Unmarshal(data, &hello) == nil && hello.Type == viewerproto.TypeHello
	})
	return hello
}

func testConfig() Config {
	return Config{ChunksPerSecond: 1000, SyncInterval: 10 * time.Millisecond}
}

func TestStreamsSceneAfterSubscribe(t *testing.T) {
	w, cats := newTestWorld(t)
	s := NewServer(w, cats, testConfig(), spawn, log.New(io.Discard, "", 0))
	conn := dial(t, startServer(t, s))

	hello := subscribe(t, conn)
	if hello.SessionID == "" || hello.ChunkSize != 8 || hello.Theme != "DEFAULT" || len(hello.BlockPalette) == 0 {
		t.Fatalf("hello=%+v", hello)
	}

	want := w.Scene().Len()
	meshes := map[[3]int]bool{}
	materials := map[int]bool{}
	readUntil(t, conn, func(mt int, data []byte) bool {
		switch mt {
		case websocket.BinaryMessage:
			f, err := viewerproto.DecodeMesh(data)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			for _, g := range f.Groups {
				if !materials[int(g.Material)] {
					t.Fatalf("mesh %v uses material %d before MATERIALS", f.Key, g.Material)
				}
			}
			meshes[f.Key] = true
		case websocket.TextMessage:
			var m viewerproto.MaterialsMsg
			if json.Unmarshal(data, &m) == nil && m.Type == viewerproto.TypeMaterials {
				for _, info := range m.Materials {
					materials[info.ID] = true
				}
			}
		}
		return len(meshes) == want
	})
	if s.Viewers() != 1 {
		t.Fatalf("viewers=%d", s.Viewers())
	}
}

func TestViewDrivesViewpoint(t *testing.T) {
	w, cats := newTestWorld(t)
	s := NewServer(w, cats, testConfig(), spawn, nil)
	conn := dial(t, startServer(t, s))
	subscribe(t, conn)

	if s.Viewpoint() != spawn {
		t.Fatalf("viewpoint before VIEW=%v", s.Viewpoint())
	}
	p := mgl32.Vec3{40, 10, -3}
	send(t, conn, viewerproto.ViewMsg{Type: viewerproto.TypeView, ProtocolVersion: viewerproto.Version, Pos: p})
	deadline := time.Now().Add(5 * time.Second)
	for s.Viewpoint() != p {
		if time.Now().After(deadline) {
			t.Fatalf("viewpoint=%v want %v", s.Viewpoint(), p)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readEditResult(t *testing.T, conn *websocket.Conn, id string) viewerproto.EditResultMsg {
	t.Helper()
	var res viewerproto.EditResultMsg
	readUntil(t, conn, func(mt int, data []byte) bool {
		if mt != websocket.TextMessage {
			return false
		}
		res = viewerproto.EditResultMsg{}
		return json.Unmarshal(data, &res) == nil && res.Type == viewerproto.TypeEditResult && res.ID == id
	})
	return res
}

func TestSetBlockRoundTrip(t *testing.T) {
	w, cats := newTestWorld(t)
	s := NewServer(w, cats, testConfig(), spawn, nil)
	conn := dial(t, startServer(t, s))
	subscribe(t, conn)

	stone, _ := cats.Blocks.ID("STONE")
	send(t, conn, viewerproto.SetBlockMsg{
		Type: viewerproto.TypeSetBlock, ProtocolVersion: viewerproto.Version,
		ID: "p1", Mode: viewerproto.EditPlace, Pos: [3]int{1, 300, 1}, Block: uint16(stone),
	})
	if res := readEditResult(t, conn, "p1"); !res.OK || !res.Changed {
		t.Fatalf("place=%+v", res)
	}
	if got := w.GetBlock(1, 300, 1); got != stone {
		t.Fatalf("block=%d want stone", got)
	}

	send(t, conn, viewerproto.SetBlockMsg{
		Type: viewerproto.TypeSetBlock, ProtocolVersion: viewerproto.Version,
		ID: "p2", Mode: viewerproto.EditPlace, Pos: [3]int{1, 300, 1}, Block: uint16(stone),
	})
	if res := readEditResult(t, conn, "p2"); res.OK || res.Code != "OCCUPIED" {
		t.Fatalf("second place=%+v", res)
	}

	send(t, conn, viewerproto.SetBlockMsg{
		Type: viewerproto.TypeSetBlock, ProtocolVersion: viewerproto.Version,
		ID: "s1", Pos: [3]int{1, 300, 1}, Block: 999,
	})
	if res := readEditResult(t, conn, "s1"); res.OK || res.Code != "UNKNOWN_BLOCK" {
		t.Fatalf("unknown=%+v", res)
	}
}

func TestEditsAreRateLimited(t *testing.T) {
	w, cats := newTestWorld(t)
	cfg := testConfig()
	cfg.EditRate = rate.Limit(0.001)
	cfg.EditBurst = 1
	s := NewServer(w, cats, cfg, spawn, nil)
	conn := dial(t, startServer(t, s))
	subscribe(t, conn)

	for _, id := range []string{"a", "b"} {
		send(t, conn, viewerproto.SetBlockMsg{
			Type: viewerproto.TypeSetBlock, ProtocolVersion: viewerproto.Version,
			ID: id, Mode: viewerproto.EditBreak, Pos: [3]int{2, 300, 2},
		})
	}
	results := map[string]viewerproto.EditResultMsg{}
	readUntil(t, conn, func(mt int, data []byte) bool {
		var res viewerproto.EditResultMsg
		if mt == websocket.TextMessage && json.Unmarshal(data, &res) == nil && res.Type == viewerproto.TypeEditResult {
			results[res.ID] = res
		}
		return len(results) == 2
	})
	if !results["a"].OK {
		t.Fatalf("first edit=%+v", results["a"])
	}
	if results["b"].Code != "RATE_LIMITED" {
		t.Fatalf("second edit=%+v", results["b"])
	}
}

func TestRejectsMissingSubscribe(t *testing.T) {
	w, cats := newTestWorld(t)
	s := NewServer(w, cats, testConfig(), spawn, nil)
	conn := dial(t, startServer(t, s))

	send(t, conn, viewerproto.ViewMsg{Type: viewerproto.TypeView, ProtocolVersion: viewerproto.Version})
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	var ce *websocket.CloseError
	if !errors.As(err, &ce) || ce.Code != websocket.ClosePolicyViolation {
		t.Fatalf("err=%v want policy violation close", err)
	}
}

func TestBootstrap(t *testing.T) {
	w, cats := newTestWorld(t)
	s := NewServer(w, cats, testConfig(), spawn, nil)
	base := startServer(t, s)

	resp, err := http.Get(base + "/viewer/v1/bootstrap")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var b viewerproto.BootstrapResponse
	if err := json.NewDecoder(resp.Body).Decode(&b); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b.ProtocolVersion != viewerproto.Version || b.Seed != 42 || b.ChunkSize != 8 || b.WorldID != w.ID() {
		t.Fatalf("bootstrap=%+v", b)
	}
	if b.Digests["blocks_palette"] != cats.Blocks.PaletteDigest || b.Digests["themes"] == "" {
		t.Fatalf("digests=%v", b.Digests)
	}
	if b.Presentation.SkyColor == "" {
		t.Fatalf("presentation missing")
	}

	post, err := http.Post(base+"/viewer/v1/bootstrap", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	post.Body.Close()
	if post.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("post status=%d", post.StatusCode)
	}
}

func TestMeshFollowsItsNewMaterials(t *testing.T) {
	w, cats := newTestWorld(t)
	s := NewServer(w, cats, testConfig(), spawn, log.New(io.Discard, "", 0))

	// The session has seen every material that exists now; the chunk is then
	// rebuilt with a texture nobody has used yet.
	st := &session{id: "rebuilt", sent: map[[3]int]uint64{}, materials: w.Materials().Len()}
	alien, ok := cats.Blocks.ID("ALIEN_GREEN")
	if !ok {
		t.Fatalf("no ALIEN_GREEN block")
	}
	if err := w.SetBlock(4, 13, 4, catalogs.Air).Err(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := w.SetBlock(4, 12, 4, alien).Err(); err != nil {
		t.Fatalf("set: %v", err)
	}
	for i := 0; i < 10 && w.Update(spawn).Rebuilt > 0; i++ {
	}
	if w.Materials().Len() <= st.materials {
		t.Fatalf("rebuild created no material (have %d)", w.Materials().Len())
	}

	key := w.ChunkKeyAt(spawn).Array()
	sendErr := make(chan error, 1)
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(rw, r, nil)
		if err != nil {
			sendErr <- err
			return
		}
		defer conn.Close()
		sendErr <- s.sendMesh(conn, st, w.Scene(), key)
		_, _, _ = conn.ReadMessage()
	}))
	t.Cleanup(srv.Close)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	known := map[int]bool{}
	for i := 0; i < st.materials; i++ {
		known[i] = true
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	mt, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read materials: %v", err)
	}
	var mats viewerproto.MaterialsMsg
	if mt != websocket.TextMessage || json.Unmarshal(data, &mats) != nil || mats.Type != viewerproto.TypeMaterials {
		t.Fatalf("first message is not MATERIALS: %s", data)
	}
	for _, info := range mats.Materials {
		known[info.ID] = true
	}

	mt, data, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("read mesh: %v", err)
	}
	if mt != websocket.BinaryMessage {
		t.Fatalf("second message type=%d want binary", mt)
	}
	f, err := viewerproto.DecodeMesh(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, g := range f.Groups {
		if !known[int(g.Material)] {
			t.Fatalf("mesh %v uses material %d before MATERIALS", f.Key, g.Material)
		}
	}
	if err := <-sendErr; err != nil {
		t.Fatalf("sendMesh: %v", err)
	}
	if st.materials != w.Materials().Len() {
		t.Fatalf("session materials=%d want %d", st.materials, w.Materials().Len())
	}
}
