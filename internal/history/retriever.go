// Package history builds the conversation context for a reply: the primary
// ancestor chain of the post being answered, ambient excerpts from the
// topic's other branches, and the token-budget pruning of both.
package history

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"forllm/internal/domain"
)

// ErrPostNotInTopic is returned when the answered post is not among the
// topic's posts.
var ErrPostNotInTopic = errors.New("history: post not found in topic")

// Option configures a Retriever.
type Option func(*Retriever)

// WithLogger sets the retriever's logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Retriever) {
		if l != nil {
			r.logger = l
		}
	}
}

// Retriever loads a topic once and walks it in memory.
type Retriever struct {
	forum    domain.ForumStore
	personas domain.PersonaStore
	logger   *zap.Logger
}

// NewRetriever returns a Retriever. Both stores must be non-nil.
func NewRetriever(forum domain.ForumStore, personas domain.PersonaStore, opts ...Option) *Retriever {
	if forum == nil {
		panic("history: forum store must not be nil")
	}
	if personas == nil {
		panic("history: persona store must not be nil")
	}
	r := &Retriever{forum: forum, personas: personas, logger: zap.NewNop()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// arena indexes a topic's posts by id.
type arena struct {
	posts []domain.Post
	byID  map[int64]int
}

func newArena(posts []domain.Post) *arena {
	a := &arena{posts: posts, byID: make(map[int64]int, len(posts))}
	for i, p := range posts {
		a.byID[p.ID] = i
	}
	return a
}

func (a *arena) get(id int64) (*domain.Post, bool) {
	i, ok := a.byID[id]
	if !ok {
		return nil, false
	}
	return &a.posts[i], true
}

// parent returns the in-topic parent of p.
func (a *arena) parent(p *domain.Post) (*domain.Post, bool) {
	if p.ParentPostID == nil {
		return nil, false
	}
	return a.get(*p.ParentPostID)
}

// ancestry returns the chain from the topic root down to and including id.
// The walk stops at a missing parent or a cycle.
func (a *arena) ancestry(id int64) []*domain.Post {
	var chain []*domain.Post
	seen := make(map[int64]bool)
	cur, ok := a.get(id)
	for ok && !seen[cur.ID] {
		seen[cur.ID] = true
		chain = append(chain, cur)
		cur, ok = a.parent(cur)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// branchRoot returns the topmost ancestor of p that is outside primary.
func (a *arena) branchRoot(p *domain.Post, primary map[int64]bool, memo map[int64]int64) int64 {
	if root, ok := memo[p.ID]; ok {
		return root
	}
	visited := []int64{p.ID}
	seen := map[int64]bool{p.ID: true}
	cur := p
	for {
		parent, ok := a.parent(cur)
		if !ok || primary[parent.ID] || seen[parent.ID] {
			break
		}
		if root, ok := memo[parent.ID]; ok {
			for _, id := range visited {
				memo[id] = root
			}
			return root
		}
		seen[parent.ID] = true
		visited = append(visited, parent.ID)
		cur = parent
	}
	for _, id := range visited {
		memo[id] = cur.ID
	}
	return cur.ID
}

func newer(a, b *domain.Post) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// RawHistory returns the primary and ambient history text for postID.
// Primary is the ancestor chain ending with postID. Ambient holds, per
// sibling branch, the limits.MaxPostsPerSiblingBranch most recent posts,
// capped overall at limits.MaxAmbientPosts most recent, in chronological
// order.
func (r *Retriever) RawHistory(ctx context.Context, postID, topicID int64, limits domain.ChatHistorySettings) (primary, ambient string, err error) {
	limits.MaxPostsPerSiblingBranch = max(limits.MaxPostsPerSiblingBranch, 0)
	limits.MaxAmbientPosts = max(limits.MaxAmbientPosts, 0)
	posts, err := r.forum.ListTopicPosts(ctx, topicID)
	if err != nil {
		return "", "", fmt.Errorf("history: list topic %d: %w", topicID, err)
	}
	a := newArena(posts)
	if _, ok := a.get(postID); !ok {
		return "", "", fmt.Errorf("%w: post %d, topic %d", ErrPostNotInTopic, postID, topicID)
	}

	chain := a.ancestry(postID)
	inPrimary := make(map[int64]bool, len(chain))
	for _, p := range chain {
		inPrimary[p.ID] = true
	}

	branches := make(map[int64][]*domain.Post)
	memo := make(map[int64]int64)
	for i := range a.posts {
		p := &a.posts[i]
		if inPrimary[p.ID] {
			continue
		}
		root := a.branchRoot(p, inPrimary, memo)
		branches[root] = append(branches[root], p)
	}

	var candidates []*domain.Post
	for _, members := range branches {
		sort.Slice(members, func(i, j int) bool { return newer(members[i], members[j]) })
		if len(members) > limits.MaxPostsPerSiblingBranch {
			members = members[:limits.MaxPostsPerSiblingBranch]
		}
		candidates = append(candidates, members...)
	}
	sort.Slice(candidates, func(i, j int) bool { return newer(candidates[i], candidates[j]) })
	if len(candidates) > limits.MaxAmbientPosts {
		candidates = candidates[:limits.MaxAmbientPosts]
	}
	for i, j := 0, len(candidates)-1; i < j; i, j = i+1, j-1 {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	}

	names := make(map[int64]string)
	return r.render(ctx, chain, names), r.render(ctx, candidates, names), nil
}

func (r *Retriever) render(ctx context.Context, posts []*domain.Post, names map[int64]string) string {
	lines := make([]string, 0, len(posts))
	for _, p := range posts {
		lines = append(lines, r.speaker(ctx, p, names)+": "+strings.TrimSpace(p.Content))
	}
	return strings.Join(lines, "\n")
}

// speaker labels a post as "User" or "LLM (<persona>/<model>)".
func (r *Retriever) speaker(ctx context.Context, p *domain.Post, names map[int64]string) string {
	if !p.IsLLMResponse {
		return "User"
	}
	model := p.LLMModelID
	if model == "" {
		model = "unknown"
	}
	persona := "assistant"
	if p.LLMPersonaID != nil {
		id := *p.LLMPersonaID
		name, ok := names[id]
		if !ok {
			name = fmt.Sprintf("persona %d", id)
			if got, err := r.personas.GetPersona(ctx, id); err == nil && got.Name != "" {
				name = got.Name
			} else if err != nil {
				r.logger.Debug("persona lookup failed", zap.Int64("persona_id", id), zap.Error(err))
			}
			names[id] = name
		}
		persona = name
	}
	return fmt.Sprintf("LLM (%s/%s)", persona, model)
}
