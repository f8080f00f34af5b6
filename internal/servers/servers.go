package servers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gflze/gflbans/internal/auth"
	"github.com/gflze/gflbans/internal/database"
	"github.com/gofrs/uuid/v5"
)

// RequestServerUpdate holds the editable fields of a registration. Nil fields are left unchanged.
type RequestServerUpdate struct {
	Name          *string          `json:"name,omitempty"`
	IP            *string          `json:"ip,omitempty" binding:"omitempty,ip_addr"`
	GamePort      *uint16          `json:"game_port,omitempty"`
	AllowUnknown  *bool            `json:"allow_unknown,omitempty"`
	Enabled       *bool            `json:"enabled,omitempty"`
	IgnoreGlobals *bool            `json:"ignore_globals,omitempty"`
	Permissions   *auth.Permission `json:"permissions,omitempty"`
}

type RequestServerCreate struct {
	Name          string `json:"name" binding:"required"`
	IP            string `json:"ip" binding:"required,ip_addr"`
	GamePort      uint16 `json:"game_port" binding:"required"`
	AllowUnknown  bool   `json:"allow_unknown"`
	IgnoreGlobals bool   `json:"ignore_globals"`
}

// ServerCredential is returned once, when a server is created or its key rotated.
type ServerCredential struct {
	Server        Server `json:"server"`
	Authorization string `json:"authorization"`
}

func NewServers(repository Repository) Servers {
	return Servers{repository: repository}
}

type Servers struct {
	repository Repository
}

// All returns every enabled server.
func (s Servers) All(ctx context.Context) ([]Server, error) {
	return s.repository.Servers(ctx, false)
}

func (s Servers) List(ctx context.Context, includeDisabled bool) ([]Server, error) {
	return s.repository.Servers(ctx, includeDisabled)
}

// EnabledIDs returns the ids of every enabled server.
func (s Servers) EnabledIDs(ctx context.Context) ([]uuid.UUID, error) {
	servers, errServers := s.All(ctx)
	if errServers != nil {
		return nil, errServers
	}

	ids := make([]uuid.UUID, len(servers))
	for i, server := range servers {
		ids[i] = server.ServerID
	}

	return ids, nil
}

func (s Servers) Server(ctx context.Context, serverID uuid.UUID) (Server, error) {
	if serverID.IsNil() {
		return Server{}, ErrInvalidServer
	}

	return s.repository.Server(ctx, serverID)
}

// ByAddress looks up a server by its ip:port game address.
func (s Servers) ByAddress(ctx context.Context, address string) (Server, error) {
	ip, port, errAddr := ParseAddress(address)
	if errAddr != nil {
		return Server{}, errAddr
	}

	return s.repository.ByAddress(ctx, ip, port)
}

// ByKey authenticates a server credential presented from remoteIP.
func (s Servers) ByKey(ctx context.Context, credential auth.Credential, remoteIP string) (Server, error) {
	if credential.Kind != auth.CredentialServer {
		return Server{}, ErrUnauthorized
	}

	serverID, errID := uuid.FromString(credential.ID)
	if errID != nil {
		return Server{}, errors.Join(errID, ErrUnauthorized)
	}

	server, errServer := s.repository.Server(ctx, serverID)
	if errServer != nil {
		if errors.Is(errServer, database.ErrNoResult) {
			return Server{}, ErrUnauthorized
		}

		return Server{}, errServer
	}

	if err := server.Authenticate(credential.Secret, remoteIP); err != nil {
		return Server{}, err
	}

	return server, nil
}

// ResolveServers maps a search term to server ids. Terms that parse as an ip:port address match that
// server exactly, anything else matches names containing the term.
func (s Servers) ResolveServers(ctx context.Context, query string) ([]uuid.UUID, error) {
	var matched []Server

	if ip, port, errAddr := ParseAddress(query); errAddr == nil {
		server, errServer := s.repository.ByAddress(ctx, ip, port)
		if errServer != nil && !errors.Is(errServer, database.ErrNoResult) {
			return nil, errServer
		}

		if errServer == nil {
			matched = append(matched, server)
		}
	} else {
		byName, errName := s.repository.ByName(ctx, strings.TrimSpace(query))
		if errName != nil {
			return nil, errName
		}

		matched = byName
	}

	ids := make([]uuid.UUID, len(matched))
	for i, server := range matched {
		ids[i] = server.ServerID
	}

	return ids, nil
}

func (s Servers) Create(ctx context.Context, req RequestServerCreate) (ServerCredential, error) {
	server, secret, errServer := NewServer(req.Name, req.IP, req.GamePort)
	if errServer != nil {
		return ServerCredential{}, errServer
	}

	server.AllowUnknown = req.AllowUnknown
	server.IgnoreGlobals = req.IgnoreGlobals

	if err := s.repository.Save(ctx, server); err != nil {
		return ServerCredential{}, err
	}

	slog.Info("Created new server", slog.String("name", server.Name), slog.String("server_id", server.ServerID.String()))

	return newCredential(server, secret), nil
}

func (s Servers) Update(ctx context.Context, serverID uuid.UUID, req RequestServerUpdate) (Server, error) {
	server, errServer := s.Server(ctx, serverID)
	if errServer != nil {
		return Server{}, errServer
	}

	if req.Name != nil {
		server.Name = strings.TrimSpace(*req.Name)
	}

	if req.IP != nil {
		server.IP = *req.IP
	}

	if req.GamePort != nil {
		server.GamePort = *req.GamePort
	}

	if req.AllowUnknown != nil {
		server.AllowUnknown = *req.AllowUnknown
	}

	if req.Enabled != nil {
		server.Enabled = *req.Enabled
	}

	if req.IgnoreGlobals != nil {
		server.IgnoreGlobals = *req.IgnoreGlobals
	}

	if req.Permissions != nil {
		server.Permissions = *req.Permissions
	}

	if err := server.Validate(); err != nil {
		return Server{}, err
	}

	server.UpdatedOn = time.Now()

	if err := s.repository.Save(ctx, server); err != nil {
		return Server{}, err
	}

	slog.Info("Updated server successfully", slog.String("name", server.Name))

	return server, nil
}

// RotateKey invalidates the current key and issues a new one.
func (s Servers) RotateKey(ctx context.Context, serverID uuid.UUID) (ServerCredential, error) {
	server, errServer := s.Server(ctx, serverID)
	if errServer != nil {
		return ServerCredential{}, errServer
	}

	secret := server.RotateKey()
	server.UpdatedOn = time.Now()

	if err := s.repository.Save(ctx, server); err != nil {
		return ServerCredential{}, err
	}

	slog.Info("Rotated server key", slog.String("name", server.Name))

	return newCredential(server, secret), nil
}

func (s Servers) Delete(ctx context.Context, serverID uuid.UUID) error {
	if serverID.IsNil() {
		return ErrInvalidServer
	}

	if err := s.repository.Delete(ctx, serverID); err != nil {
		return fmt.Errorf("failed to delete server: %w", err)
	}

	slog.Info("Deleted server", slog.String("server_id", serverID.String()))

	return nil
}

func newCredential(server Server, secret string) ServerCredential {
	credential := auth.Credential{Kind: auth.CredentialServer, ID: server.ServerID.String(), Secret: secret}

	return ServerCredential{Server: server, Authorization: credential.String()}
}
