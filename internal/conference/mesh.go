package conference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/songjam/rooms-server/internal/model"
)

type MeshConfig struct {
	BaseURL string
	APIKey  string
}

// MeshProvider is the room-URL conferencing backend. A room is addressed
// by the join URL returned at creation; sessions keep a websocket to the
// room's signaling endpoint for connection state and peer updates.
type MeshProvider struct {
	cfg    MeshConfig
	client *http.Client
	dialer *websocket.Dialer
}

func NewMeshProvider(cfg MeshConfig) *MeshProvider {
	return &MeshProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

func (p *MeshProvider) Name() model.Provider {
	return model.ProviderMesh
}

func (p *MeshProvider) CreateRoom(ctx context.Context, title string) (string, error) {
	var resp struct {
		URL string `json:"url"`
	}
	err := p.do(ctx, http.MethodPost, "/v1/rooms", map[string]any{
		"name": slugify(title),
		"properties": map[string]any{
			"enable_audio": true,
			"enable_video": false,
		},
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.URL, nil
}

func (p *MeshProvider) Credential(ctx context.Context, roomRef string, user *model.User, role model.Role) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	err := p.do(ctx, http.MethodPost, "/v1/meeting-tokens", map[string]any{
		"room_url":  roomRef,
		"user_id":   user.ID,
		"user_name": user.DisplayName,
		"is_owner":  role == model.RoleHost,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Token, nil
}

func (p *MeshProvider) Join(ctx context.Context, cfg JoinConfig) (Session, error) {
	wsURL, err := signalingURL(cfg.RoomRef, cfg.Credential)
	if err != nil {
		return nil, err
	}

	conn, _, err := p.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial signaling: %w", err)
	}

	s := &meshSession{
		conn:   conn,
		states: make(chan ConnState, 8),
		peers:  make(chan []Peer, 8),
		done:   make(chan struct{}),
	}
	s.pushState(StateConnecting)

	if err := conn.WriteJSON(meshMessage{
		Type:   "join",
		UserID: cfg.UserID,
		Name:   cfg.DisplayName,
		Role:   string(cfg.Role),
	}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send join: %w", err)
	}

	go s.readLoop()

	return s, nil
}

func (p *MeshProvider) ChangeRole(ctx context.Context, roomRef, peerRef string, role model.Role, force bool) error {
	roomName, err := roomNameFromURL(roomRef)
	if err != nil {
		return err
	}

	err = p.do(ctx, http.MethodPost,
		fmt.Sprintf("/v1/rooms/%s/participants/%s/role", roomName, peerRef),
		map[string]any{
			"role":  string(role),
			"force": force,
		}, nil)
	if isMeshStatus(err, http.StatusNotFound) {
		return ErrPeerNotPresent
	}
	return err
}

func (p *MeshProvider) do(ctx context.Context, method, apiPath string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.cfg.BaseURL+apiPath, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &meshStatusError{status: resp.StatusCode, body: string(data)}
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

type meshStatusError struct {
	status int
	body   string
}

func (e *meshStatusError) Error() string {
	return fmt.Sprintf("mesh api: status %d: %s", e.status, e.body)
}

func isMeshStatus(err error, status int) bool {
	var se *meshStatusError
	if errors.As(err, &se) {
		return se.status == status
	}
	return false
}

// signalingURL derives the websocket signaling endpoint from a room URL.
func signalingURL(roomURL, credential string) (string, error) {
	u, err := url.Parse(roomURL)
	if err != nil {
		return "", fmt.Errorf("parse room url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = path.Join(u.Path, "ws")
	q := u.Query()
	q.Set("token", credential)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func roomNameFromURL(roomURL string) (string, error) {
	u, err := url.Parse(roomURL)
	if err != nil {
		return "", fmt.Errorf("parse room url: %w", err)
	}
	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		return "", fmt.Errorf("room url %q has no room name", roomURL)
	}
	return name, nil
}

func slugify(title string) string {
	slug := strings.ToLower(strings.TrimSpace(title))
	var b strings.Builder
	for _, r := range slug {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteByte('-')
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		out = "room"
	}
	return out
}

// meshMessage is the signaling wire format, both directions.
type meshMessage struct {
	Type    string `json:"type"`
	UserID  string `json:"user_id,omitempty"`
	Name    string `json:"name,omitempty"`
	Role    string `json:"role,omitempty"`
	PeerID  string `json:"peer_id,omitempty"`
	Enabled bool   `json:"enabled,omitempty"`
	Peers   []Peer `json:"peers,omitempty"`
}

type meshSession struct {
	conn   *websocket.Conn
	states chan ConnState
	peers  chan []Peer

	mu     sync.Mutex
	peerID string
	closed bool
	done   chan struct{}
}

func (s *meshSession) PeerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerID
}

func (s *meshSession) ConnectionStates() <-chan ConnState {
	return s.states
}

func (s *meshSession) Peers() <-chan []Peer {
	return s.peers
}

func (s *meshSession) SetAudioEnabled(_ context.Context, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("session closed")
	}
	return s.conn.WriteJSON(meshMessage{Type: "audio", Enabled: enabled})
}

func (s *meshSession) Leave(_ context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	_ = s.conn.WriteJSON(meshMessage{Type: "leave"})
	err := s.conn.Close()

	// readLoop observes the close and finishes the state stream
	<-s.done
	return err
}

func (s *meshSession) readLoop() {
	defer func() {
		s.pushState(StateDisconnected)
		close(s.states)
		close(s.done)
	}()

	for {
		var msg meshMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			s.mu.Lock()
			closed := s.closed
			s.closed = true
			s.mu.Unlock()
			if !closed {
				log.Warn().Err(err).Msg("signaling read failed")
				s.conn.Close()
			}
			return
		}

		switch msg.Type {
		case "joined":
			s.mu.Lock()
			s.peerID = msg.PeerID
			s.mu.Unlock()
			s.pushState(StateConnected)
		case "peers":
			select {
			case s.peers <- msg.Peers:
			default:
			}
		case "bye":
			s.conn.Close()
			s.mu.Lock()
			s.closed = true
			s.mu.Unlock()
			return
		}
	}
}

func (s *meshSession) pushState(state ConnState) {
	select {
	case s.states <- state:
	default:
		log.Warn().Msg("connection state buffer full, dropping state")
	}
}
