// Package servers is the registry of game servers allowed to authenticate and receive sync events.
package servers

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/gflze/gflbans/internal/auth"
	"github.com/gofrs/uuid/v5"
)

var (
	ErrInvalidServer  = errors.New("invalid server")
	ErrInvalidAddress = errors.New("invalid server address")
	ErrDisabled       = errors.New("server is disabled")
	ErrUnauthorized   = errors.New("invalid server credentials")
)

type Server struct {
	ServerID uuid.UUID `json:"server_id"`
	Name     string    `json:"name"`
	IP       string    `json:"ip"`
	GamePort uint16    `json:"game_port"`
	// KeyHash and KeySalt are the salted digest of the secret handed out when the server was created.
	KeyHash string `json:"-"`
	KeySalt string `json:"-"`
	// AllowUnknown accepts the server key from any address instead of only IP.
	AllowUnknown  bool            `json:"allow_unknown"`
	Enabled       bool            `json:"enabled"`
	IgnoreGlobals bool            `json:"ignore_globals"`
	Permissions   auth.Permission `json:"permissions"`
	CreatedOn     time.Time       `json:"created_on"`
	UpdatedOn     time.Time       `json:"updated_on"`
}

// NewServer creates a registration and returns it along with its plain text secret. The secret is not
// recoverable afterwards.
func NewServer(name string, ip string, port uint16) (Server, string, error) {
	serverID, errID := uuid.NewV7()
	if errID != nil {
		return Server{}, "", errors.Join(errID, ErrInvalidServer)
	}

	now := time.Now()
	server := Server{
		ServerID:    serverID,
		Name:        strings.TrimSpace(name),
		IP:          ip,
		GamePort:    port,
		Enabled:     true,
		Permissions: auth.PermServerKey,
		CreatedOn:   now,
		UpdatedOn:   now,
	}

	if err := server.Validate(); err != nil {
		return Server{}, "", err
	}

	secret := server.RotateKey()

	return server, secret, nil
}

// RotateKey replaces the key and returns the new secret.
func (s *Server) RotateKey() string {
	secret := auth.NewSecret()
	s.KeySalt = auth.NewSecret()
	s.KeyHash = auth.HashKey(secret, s.KeySalt)

	return secret
}

func (s Server) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidServer)
	}

	if _, errAddr := netip.ParseAddr(s.IP); errAddr != nil {
		return fmt.Errorf("%w: %s", ErrInvalidAddress, s.IP)
	}

	if s.GamePort == 0 {
		return fmt.Errorf("%w: game port is required", ErrInvalidAddress)
	}

	return nil
}

func (s Server) Addr() string {
	return net.JoinHostPort(s.IP, strconv.Itoa(int(s.GamePort)))
}

// Authenticate checks a secret presented from remoteIP.
func (s Server) Authenticate(secret string, remoteIP string) error {
	if !auth.VerifyKey(secret, s.KeySalt, s.KeyHash) {
		return ErrUnauthorized
	}

	if !s.Enabled {
		return ErrDisabled
	}

	if !s.AllowUnknown && remoteIP != s.IP {
		return fmt.Errorf("%w: unexpected address %s", ErrUnauthorized, remoteIP)
	}

	return nil
}

func (s Server) Actor() auth.Actor {
	return auth.Actor{
		Kind:          auth.ActorServer,
		ServerID:      s.ServerID,
		IgnoreGlobals: s.IgnoreGlobals,
		Name:          s.Name,
		Permissions:   s.Permissions,
	}
}

// ParseAddress splits an ip:port address.
func ParseAddress(address string) (string, uint16, error) {
	addrPort, errAddr := netip.ParseAddrPort(strings.TrimSpace(address))
	if errAddr != nil {
		return "", 0, errors.Join(errAddr, ErrInvalidAddress)
	}

	return addrPort.Addr().String(), addrPort.Port(), nil
}
