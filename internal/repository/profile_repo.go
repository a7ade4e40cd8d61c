package repository

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"marketplace-chat/internal/domain"
)

// ProfileRepository resuelve la identidad publica de usuarios en lote.
// Los ids ausentes simplemente no aparecen en el mapa.
type ProfileRepository interface {
	GetMany(ctx context.Context, ids []string) (map[string]domain.PublicProfile, error)
}

// PgProfileRepository lee la tabla profiles del marketplace (solo lectura).
type PgProfileRepository struct {
	pool *pgxpool.Pool
}

func NewPgProfileRepository(pool *pgxpool.Pool) *PgProfileRepository {
	return &PgProfileRepository{pool: pool}
}

func (r *PgProfileRepository) GetMany(ctx context.Context, ids []string) (map[string]domain.PublicProfile, error) {
	out := make(map[string]domain.PublicProfile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	const query = `
		SELECT id::text, COALESCE(name, ''), avatar_url
		FROM profiles
		WHERE id = ANY($1::uuid[])
	`
	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.PublicProfile
		if err := rows.Scan(&p.ID, &p.Name, &p.AvatarURL); err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// MemoryProfileRepository sirve perfiles fijos; se usa en modo desarrollo y en tests.
type MemoryProfileRepository struct {
	mu       sync.RWMutex
	profiles map[string]domain.PublicProfile
}

func NewMemoryProfileRepository(profiles ...domain.PublicProfile) *MemoryProfileRepository {
	r := &MemoryProfileRepository{profiles: make(map[string]domain.PublicProfile)}
	for _, p := range profiles {
		r.profiles[p.ID] = p
	}
	return r
}

func (r *MemoryProfileRepository) Put(p domain.PublicProfile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[p.ID] = p
}

func (r *MemoryProfileRepository) GetMany(_ context.Context, ids []string) (map[string]domain.PublicProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]domain.PublicProfile, len(ids))
	for _, id := range ids {
		if p, ok := r.profiles[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}
