package conference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/rs/zerolog/log"

	"github.com/songjam/rooms-server/internal/model"
	"github.com/songjam/rooms-server/internal/util"
)

const sfuPeerPollInterval = 5 * time.Second

type SFUConfig struct {
	BaseURL   string
	AccessKey string
	Secret    string
	TokenTTL  time.Duration
}

// SFUProvider is the token-credential conferencing backend. Rooms are
// addressed by a provider-assigned call ID and every join carries a
// signed room token.
type SFUProvider struct {
	cfg    SFUConfig
	client *http.Client
}

func NewSFUProvider(cfg SFUConfig) *SFUProvider {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	return &SFUProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *SFUProvider) Name() model.Provider {
	return model.ProviderSFU
}

func (p *SFUProvider) CreateRoom(ctx context.Context, title string) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	err := p.do(ctx, http.MethodPost, "/v2/rooms", map[string]any{
		"name": title,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

// Credential mints a room token signed with the app secret. The token
// carries the room, user and role claims the SFU enforces at join time.
func (p *SFUProvider) Credential(_ context.Context, roomRef string, user *model.User, role model.Role) (string, error) {
	jti, err := util.GenerateToken()
	if err != nil {
		return "", err
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"access_key": p.cfg.AccessKey,
		"type":       "app",
		"version":    2,
		"room_id":    roomRef,
		"user_id":    user.ID,
		"role":       string(role),
		"jti":        jti,
		"iat":        now.Unix(),
		"nbf":        now.Unix(),
		"exp":        now.Add(p.cfg.TokenTTL).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(p.cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("sign room token: %w", err)
	}
	return signed, nil
}

func (p *SFUProvider) Join(ctx context.Context, cfg JoinConfig) (Session, error) {
	var resp struct {
		PeerID string `json:"peer_id"`
	}
	err := p.do(ctx, http.MethodPost, fmt.Sprintf("/v2/rooms/%s/peers", cfg.RoomRef), map[string]any{
		"user_id": cfg.UserID,
		"name":    cfg.DisplayName,
		"role":    string(cfg.Role),
		"token":   cfg.Credential,
	}, &resp)
	if err != nil {
		return nil, err
	}

	s := &sfuSession{
		provider: p,
		roomRef:  cfg.RoomRef,
		peerID:   resp.PeerID,
		states:   make(chan ConnState, 8),
		peers:    make(chan []Peer, 8),
		done:     make(chan struct{}),
	}

	// the REST register is the connection handshake for this provider:
	// once it succeeds the peer is live
	s.pushState(StateConnecting)
	s.pushState(StateConnected)

	go s.pollPeers()

	return s, nil
}

func (p *SFUProvider) ChangeRole(ctx context.Context, roomRef, peerRef string, role model.Role, force bool) error {
	err := p.do(ctx, http.MethodPost, fmt.Sprintf("/v2/rooms/%s/peers/%s/role", roomRef, peerRef), map[string]any{
		"role":  string(role),
		"force": force,
	}, nil)
	if isStatus(err, http.StatusNotFound) {
		return ErrPeerNotPresent
	}
	return err
}

func (p *SFUProvider) listPeers(ctx context.Context, roomRef string) ([]Peer, error) {
	var resp struct {
		Peers []struct {
			PeerID       string `json:"peer_id"`
			UserID       string `json:"user_id"`
			Role         string `json:"role"`
			AudioEnabled bool   `json:"audio_enabled"`
			Speaking     bool   `json:"speaking"`
		} `json:"peers"`
	}
	if err := p.do(ctx, http.MethodGet, fmt.Sprintf("/v2/rooms/%s/peers", roomRef), nil, &resp); err != nil {
		return nil, err
	}

	peers := make([]Peer, 0, len(resp.Peers))
	for _, pr := range resp.Peers {
		peers = append(peers, Peer{
			PeerID:       pr.PeerID,
			UserID:       pr.UserID,
			Role:         model.Role(pr.Role),
			AudioEnabled: pr.AudioEnabled,
			Speaking:     pr.Speaking,
		})
	}
	return peers, nil
}

// managementToken signs a short-lived token for server-to-server calls.
func (p *SFUProvider) managementToken() (string, error) {
	jti, err := util.GenerateToken()
	if err != nil {
		return "", err
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"access_key": p.cfg.AccessKey,
		"type":       "management",
		"version":    2,
		"jti":        jti,
		"iat":        now.Unix(),
		"nbf":        now.Unix(),
		"exp":        now.Add(5 * time.Minute).Unix(),
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(p.cfg.Secret))
}

type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("sfu api: status %d: %s", e.status, e.body)
}

func isStatus(err error, status int) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.status == status
	}
	return false
}

func (p *SFUProvider) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.cfg.BaseURL+path, reader)
	if err != nil {
		return err
	}

	token, err := p.managementToken()
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
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
		return &statusError{status: resp.StatusCode, body: string(data)}
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

type sfuSession struct {
	provider *SFUProvider
	roomRef  string
	peerID   string
	states   chan ConnState
	peers    chan []Peer

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func (s *sfuSession) PeerID() string {
	return s.peerID
}

func (s *sfuSession) ConnectionStates() <-chan ConnState {
	return s.states
}

func (s *sfuSession) Peers() <-chan []Peer {
	return s.peers
}

func (s *sfuSession) SetAudioEnabled(ctx context.Context, enabled bool) error {
	return s.provider.do(ctx, http.MethodPost,
		fmt.Sprintf("/v2/rooms/%s/peers/%s/audio", s.roomRef, s.peerID),
		map[string]any{"enabled": enabled}, nil)
}

func (s *sfuSession) Leave(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()

	err := s.provider.do(ctx, http.MethodDelete,
		fmt.Sprintf("/v2/rooms/%s/peers/%s", s.roomRef, s.peerID), nil, nil)

	s.pushState(StateDisconnected)
	close(s.states)

	if isStatus(err, http.StatusNotFound) {
		// already gone server-side
		return nil
	}
	return err
}

func (s *sfuSession) pushState(state ConnState) {
	select {
	case s.states <- state:
	default:
		log.Warn().Str("peerId", s.peerID).Msg("connection state buffer full, dropping state")
	}
}

func (s *sfuSession) pollPeers() {
	ticker := time.NewTicker(sfuPeerPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			peers, err := s.provider.listPeers(ctx, s.roomRef)
			cancel()
			if err != nil {
				log.Warn().Err(err).Str("roomRef", s.roomRef).Msg("peer poll failed")
				continue
			}
			select {
			case s.peers <- peers:
			default:
			}
		}
	}
}
