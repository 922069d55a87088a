package rendezvous

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/sweetspace/internal/util"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// roomAlphabet is the set of characters room codes are drawn from.
const roomAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Server is the rendezvous service. One WebSocket connection per peer; a
// peer that opened a room owns it until its connection closes.
type Server struct {
	mu    sync.Mutex
	peers map[string]*peerConn // peer id → connection
	rooms map[string]string    // room code → host peer id

	// newCode is swapped in tests that need predictable room codes.
	newCode func() string
}

// peerConn serializes writes to one WebSocket connection.
type peerConn struct {
	id   string
	ws   *websocket.Conn
	mu   sync.Mutex
	room string
}

// NewServer creates an empty rendezvous server.
func NewServer() *Server {
	return &Server{
		peers:   make(map[string]*peerConn),
		rooms:   make(map[string]string),
		newCode: func() string { return generateRoomCode(RoomCodeLength) },
	}
}

// Handler returns the HTTP handler serving the WebSocket endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(Path, s.handleWS)
	return mux
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start rendezvous server: %w", err)
	}
	util.LogInfo("rendezvous server listening on %s", listener.Addr())

	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Rooms returns the number of open rooms.
func (s *Server) Rooms() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get(PeerParam)
	if id == "" {
		http.Error(w, "missing peer id", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	_, taken := s.peers[id]
	s.mu.Unlock()
	if taken {
		http.Error(w, "peer id already connected", http.StatusConflict)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	pc := &peerConn{id: id, ws: ws}
	s.mu.Lock()
	s.peers[id] = pc
	s.mu.Unlock()
	util.LogDebug("peer %s connected to rendezvous", util.PeerTag(id))

	defer s.drop(pc)

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		msg, err := Unmarshal(data)
		if err != nil {
			util.LogWarning("peer %s sent malformed message: %v", util.PeerTag(id), err)
			pc.send(&Message{Op: OpError, Code: CodeBadRequest})
			continue
		}
		s.handle(pc, msg)
	}
}

// drop unregisters a peer and closes the room it hosted.
func (s *Server) drop(pc *peerConn) {
	s.mu.Lock()
	if s.peers[pc.id] == pc {
		delete(s.peers, pc.id)
	}
	if pc.room != "" && s.rooms[pc.room] == pc.id {
		delete(s.rooms, pc.room)
	}
	s.mu.Unlock()

	pc.ws.Close()
	util.LogDebug("peer %s left rendezvous", util.PeerTag(pc.id))
}

func (s *Server) handle(from *peerConn, msg *Message) {
	switch msg.Op {
	case OpHost:
		code := s.openRoom(from)
		util.LogInfo("peer %s opened room %s", util.PeerTag(from.id), code)
		from.send(&Message{Op: OpRoom, Room: code})

	case OpResolve:
		s.mu.Lock()
		host, ok := s.rooms[msg.Room]
		s.mu.Unlock()
		if !ok {
			from.send(&Message{Op: OpError, Code: CodeRoomNotFound, Ref: OpResolve, Room: msg.Room})
			return
		}
		from.send(&Message{Op: OpResolved, Room: msg.Room, Peer: host})

	case OpPunch:
		target := s.lookup(msg.Target)
		if target == nil {
			from.send(&Message{Op: OpError, Code: CodeTargetNotConnected, Ref: OpPunch, Target: msg.Target})
			return
		}
		from.send(&Message{Op: OpPunched, Peer: target.id})
		target.send(&Message{Op: OpPunched, Peer: from.id})

	case OpOffer, OpAnswer, OpReject:
		target := s.lookup(msg.Target)
		if target == nil {
			from.send(&Message{Op: OpError, Code: CodeTargetNotConnected, Ref: msg.Op, Target: msg.Target})
			return
		}
		target.send(&Message{Op: msg.Op, Peer: from.id, SDP: msg.SDP})

	default:
		from.send(&Message{Op: OpError, Code: CodeBadRequest, Ref: msg.Op})
	}
}

// openRoom assigns a fresh room code to the peer, replacing any room it
// already held.
func (s *Server) openRoom(pc *peerConn) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pc.room != "" {
		delete(s.rooms, pc.room)
	}

	code := s.newCode()
	for {
		if _, used := s.rooms[code]; !used {
			break
		}
		code = s.newCode()
	}

	s.rooms[code] = pc.id
	pc.room = code
	return code
}

func (s *Server) lookup(id string) *peerConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peers[id]
}

// send writes one message, guarded by the connection's write mutex.
func (pc *peerConn) send(msg *Message) {
	data, err := Marshal(msg)
	if err != nil {
		util.LogError("failed to encode %s message: %v", msg.Op, err)
		return
	}

	pc.mu.Lock()
	defer pc.mu.Unlock()
	if err := pc.ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
		util.LogDebug("write to peer %s failed: %v", util.PeerTag(pc.id), err)
	}
}

// generateRoomCode returns a random code of the given length.
func generateRoomCode(length int) string {
	code := make([]byte, length)
	limit := big.NewInt(int64(len(roomAlphabet)))
	for i := range code {
		n, _ := rand.Int(rand.Reader, limit)
		code[i] = roomAlphabet[n.Int64()]
	}
	return string(code)
}
