package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-cbt/internal/model"
)

// PacketRepository handles exam packet data access.
type PacketRepository struct {
	pool *pgxpool.Pool
}

// NewPacketRepository creates a new PacketRepository.
func NewPacketRepository(pool *pgxpool.Pool) *PacketRepository {
	return &PacketRepository{pool: pool}
}

const packetColumns = `p.id, p.owner_id, p.title, p.duration_minutes, p.join_token, p.is_active, p.created_at,
	(SELECT COUNT(*) FROM questions q WHERE q.packet_id = p.id)`

func scanPacket(row pgx.Row) (*model.Packet, error) {
	p := &model.Packet{}
	err := row.Scan(&p.ID, &p.OwnerID, &p.Title, &p.DurationMinutes, &p.JoinToken, &p.IsActive, &p.CreatedAt, &p.QuestionCount)
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

// Create inserts a new packet. A join token collision with the unique index
// is reported as ErrDuplicateToken so the caller can draw a new token.
func (r *PacketRepository) Create(ctx context.Context, p *model.Packet) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO exam_packets (owner_id, title, duration_minutes, join_token, is_active)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		p.OwnerID, p.Title, p.DurationMinutes, p.JoinToken, p.IsActive,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateToken
		}
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// TokenExists reports whether any packet currently holds token (case-insensitive).
func (r *PacketRepository) TokenExists(ctx context.Context, token string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM exam_packets WHERE UPPER(join_token) = UPPER($1))`, token,
	).Scan(&exists)
	return exists, err
}

// GetByID retrieves a packet by ID.
func (r *PacketRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Packet, error) {
	return scanPacket(r.pool.QueryRow(ctx,
		`SELECT `+packetColumns+` FROM exam_packets p WHERE p.id = $1`, id))
}

// GetByToken resolves a join token (case-insensitive) to its packet.
func (r *PacketRepository) GetByToken(ctx context.Context, token string) (*model.Packet, error) {
	return scanPacket(r.pool.QueryRow(ctx,
		`SELECT `+packetColumns+` FROM exam_packets p WHERE UPPER(p.join_token) = UPPER($1)`, token))
}

// ListByOwner lists packets authored by ownerID, newest first.
func (r *PacketRepository) ListByOwner(ctx context.Context, ownerID int) ([]model.Packet, error) {
	return r.list(ctx, `WHERE p.owner_id = $1`, ownerID)
}

// ListAll lists every packet, newest first.
func (r *PacketRepository) ListAll(ctx context.Context) ([]model.Packet, error) {
	return r.list(ctx, ``)
}

func (r *PacketRepository) list(ctx context.Context, where string, args ...any) ([]model.Packet, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+packetColumns+` FROM exam_packets p `+where+` ORDER BY p.created_at DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	packets := []model.Packet{}
	for rows.Next() {
		p, err := scanPacket(rows)
		if err != nil {
			return nil, err
		}
		packets = append(packets, *p)
	}
	return packets, rows.Err()
}

// SetActive flips the activation gate.
func (r *PacketRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE exam_packets SET is_active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a packet. Questions, sessions, answers and violations go with it.
func (r *PacketRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM exam_packets WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
