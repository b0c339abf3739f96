package repository

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reshala/support-desk/internal/domain"
)

// KnowledgeRepository searches the support knowledge base.
type KnowledgeRepository interface {
	// Search returns articles whose title, category or content mention any of words.
	Search(ctx context.Context, words []string, limit int) ([]domain.KnowledgeArticle, error)
}

type knowledgeRepository struct {
	pool *pgxpool.Pool
}

// NewKnowledgeRepository constructs repository.
func NewKnowledgeRepository(pool *pgxpool.Pool) KnowledgeRepository {
	return &knowledgeRepository{pool: pool}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (r *knowledgeRepository) Search(ctx context.Context, words []string, limit int) ([]domain.KnowledgeArticle, error) {
	if len(words) == 0 || limit <= 0 {
		return nil, nil
	}
	patterns := make([]string, len(words))
	for i, w := range words {
		patterns[i] = "%" + likeEscaper.Replace(w) + "%"
	}

	const query = `
        SELECT id::text, title, category, content
        FROM knowledge_articles
        WHERE title ILIKE ANY($1) OR content ILIKE ANY($1) OR category ILIKE ANY($1)
        ORDER BY updated_at DESC
        LIMIT $2`
	rows, err := r.pool.Query(ctx, query, patterns, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.KnowledgeArticle
	for rows.Next() {
		var article domain.KnowledgeArticle
		if err := rows.Scan(&article.ID, &article.Title, &article.Category, &article.Content); err != nil {
			return nil, err
		}
		result = append(result, article)
	}
	return result, rows.Err()
}
