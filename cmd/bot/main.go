package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"kiddoverse.ai/internal/viewerproto"
)

// bot is a headless viewer: it walks a circle, streams meshes and places a
// block now and then.
func main() {
	var (
		url     = flag.String("url", "ws://localhost:8080/viewer/v1/ws", "viewer ws url")
		radius  = flag.Float64("radius", 48, "walk radius in scene units")
		height  = flag.Float64("height", 24, "walk height in scene units")
		period  = flag.Duration("period", 60*time.Second, "time for one lap")
		block   = flag.String("block", "STONE", "block name to place")
		every   = flag.Duration("place_every", 10*time.Second, "place interval (0 disables edits)")
		viewRad = flag.Int("view_radius", 0, "SUBSCRIBE view radius in chunks (0 = all)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	sub := viewerproto.SubscribeMsg{
		Type:            viewerproto.TypeSubscribe,
		ProtocolVersion: viewerproto.Version,
		ViewRadius:      *viewRad,
	}
	if err := conn.WriteJSON(sub); err != nil {
		logger.Fatalf("send SUBSCRIBE: %v", err)
	}

	msgs := make(chan []byte, 64)
	meshes := make(chan viewerproto.MeshFrame, 64)
	go readLoop(conn, logger, msgs, meshes)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	walk := time.NewTicker(100 * time.Millisecond)
	defer walk.Stop()
	var place <-chan time.Time
	if *every > 0 {
		t := time.NewTicker(*every)
		defer t.Stop()
		place = t.C
	}
	report := time.NewTicker(5 * time.Second)
	defer report.Stop()

	var (
		blockID  uint16
		haveID   bool
		pos      [3]float32
		seq      int
		received int
		faces    int
		dropped  int
	)
	start := time.Now()
	for {
		select {
		case <-stop:
			return
		case raw, ok := <-msgs:
			if !ok {
				logger.Printf("connection closed")
				return
			}
			base, err := viewerproto.DecodeBase(raw)
			if err != nil {
				continue
			}
			switch base.Type {
			case viewerproto.TypeHello:
				var h viewerproto.HelloMsg
				if err := json.Unmarshal(raw, &h); err != nil {
					continue
				}
				for i, name := range h.BlockPalette {
					if name == *block {
						blockID, haveID = uint16(i), true
					}
				}
				logger.Printf("HELLO session=%s world=%s theme=%s chunk=%d", h.SessionID, h.WorldID, h.Theme, h.ChunkSize)
			case viewerproto.TypeChunkDrop:
				dropped++
			case viewerproto.TypeEditResult:
				var r viewerproto.EditResultMsg
				if err := json.Unmarshal(raw, &r); err != nil {
					continue
				}
				logger.Printf("EDIT_RESULT id=%s ok=%v changed=%v code=%s", r.ID, r.OK, r.Changed, r.Code)
			}
		case m := <-meshes:
			received++
			faces += m.Faces()
		case now := <-walk.C:
			a := 2 * math.Pi * now.Sub(start).Seconds() / period.Seconds()
			pos = [3]float32{float32(*radius * math.Cos(a)), float32(*height), float32(*radius * math.Sin(a))}
			view := viewerproto.ViewMsg{Type: viewerproto.TypeView, ProtocolVersion: viewerproto.Version, Pos: pos}
			if err := conn.WriteJSON(view); err != nil {
				logger.Printf("send VIEW: %v", err)
				return
			}
		case <-place:
			if !haveID {
				continue
			}
			seq++
			edit := viewerproto.SetBlockMsg{
				Type:            viewerproto.TypeSetBlock,
				ProtocolVersion: viewerproto.Version,
				ID:              fmt.Sprintf("E_place_%d", seq),
				Mode:            viewerproto.EditPlace,
				Pos:             [3]int{int(math.Floor(float64(pos[0]))), int(math.Floor(float64(pos[1]))) - 3, int(math.Floor(float64(pos[2])))},
				Block:           blockID,
			}
			if err := conn.WriteJSON(edit); err != nil {
				logger.Printf("send SET_BLOCK: %v", err)
				return
			}
		case <-report.C:
			logger.Printf("meshes=%d faces=%d drops=%d pos=%v", received, faces, dropped, pos)
		}
	}
}

func readLoop(conn *websocket.Conn, logger *log.Logger, msgs chan<- []byte, meshes chan<- viewerproto.MeshFrame) {
	defer close(msgs)
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if mt == websocket.BinaryMessage {
			m, err := viewerproto.DecodeMesh(data)
			if err != nil {
				logger.Printf("bad mesh: %v", err)
				continue
			}
			meshes <- m
			continue
		}
		msgs <- data
	}
}
