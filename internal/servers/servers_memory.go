package servers

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/gflze/gflbans/internal/database"
	"github.com/gofrs/uuid/v5"
)

type MemoryRepository struct {
	mu      sync.RWMutex
	servers map[uuid.UUID]Server
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{servers: map[uuid.UUID]Server{}}
}

func (r *MemoryRepository) filter(match func(Server) bool) []Server {
	r.mu.RLock()
	defer r.mu.RUnlock()

	results := []Server{}

	for _, server := range r.servers {
		if match(server) {
			results = append(results, server)
		}
	}

	slices.SortFunc(results, func(a Server, b Server) int {
		return strings.Compare(a.Name, b.Name)
	})

	return results
}

func (r *MemoryRepository) Servers(_ context.Context, includeDisabled bool) ([]Server, error) {
	return r.filter(func(server Server) bool {
		return includeDisabled || server.Enabled
	}), nil
}

func (r *MemoryRepository) Server(_ context.Context, serverID uuid.UUID) (Server, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	server, found := r.servers[serverID]
	if !found {
		return Server{}, database.ErrNoResult
	}

	return server, nil
}

func (r *MemoryRepository) ByAddress(_ context.Context, ip string, port uint16) (Server, error) {
	matched := r.filter(func(server Server) bool {
		return server.IP == ip && server.GamePort == port
	})
	if len(matched) == 0 {
		return Server{}, database.ErrNoResult
	}

	return matched[0], nil
}

func (r *MemoryRepository) ByName(_ context.Context, name string) ([]Server, error) {
	name = strings.ToLower(name)

	return r.filter(func(server Server) bool {
		return strings.Contains(strings.ToLower(server.Name), name)
	}), nil
}

func (r *MemoryRepository) Save(_ context.Context, server Server) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.servers {
		if existing.ServerID != server.ServerID && existing.IP == server.IP && existing.GamePort == server.GamePort {
			return database.ErrDuplicate
		}
	}

	r.servers[server.ServerID] = server

	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, serverID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, found := r.servers[serverID]; !found {
		return database.ErrNoResult
	}

	delete(r.servers, serverID)

	return nil
}
