package domain

// KnowledgeArticle is a read-only help article used to ground AI replies.
type KnowledgeArticle struct {
	ID       string
	Title    string
	Category string
	Content  string
}
