package history

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"forllm/internal/domain"
)

// =============================================================================
// Fakes
// =============================================================================

// wordCounter counts whitespace-separated words; it is deterministic and
// monotone in line suffixes, which keeps budget arithmetic readable.
type wordCounter struct{}

func (wordCounter) Count(text string) int { return len(strings.Fields(text)) }

type fakeForum struct {
	posts []domain.Post
	err   error
}

func (f *fakeForum) GetPost(ctx context.Context, id int64) (*domain.Post, error) {
	for i := range f.posts {
		if f.posts[i].ID == id {
			return &f.posts[i], nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeForum) ListTopicPosts(ctx context.Context, topicID int64) ([]domain.Post, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.Post
	for _, p := range f.posts {
		if p.TopicID == topicID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeForum) ListAttachments(ctx context.Context, postID int64) ([]domain.Attachment, error) {
	return nil, nil
}

func (f *fakeForum) CreatePost(ctx context.Context, p *domain.Post) (int64, error) {
	return 0, errors.New("read-only")
}

type fakePersonas map[int64]string

func (f fakePersonas) GetPersona(ctx context.Context, id int64) (*domain.Persona, error) {
	name, ok := f[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &domain.Persona{ID: id, Name: name}, nil
}

func (f fakePersonas) CreatePersona(ctx context.Context, name, instructions string) (int64, error) {
	return 0, errors.New("read-only")
}

var base = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func post(id int64, parent int64, minute int, content string) domain.Post {
	p := domain.Post{ID: id, TopicID: 1, Content: content, CreatedAt: base.Add(time.Duration(minute) * time.Minute)}
	if parent != 0 {
		p.ParentPostID = &parent
	}
	return p
}

func llmPost(id, parent int64, minute int, content string, persona int64, model string) domain.Post {
	p := post(id, parent, minute, content)
	p.IsLLMResponse = true
	p.LLMPersonaID = &persona
	p.LLMModelID = model
	return p
}

func defaultLimits() domain.ChatHistorySettings { return domain.DefaultChatHistorySettings() }

// =============================================================================
// RawHistory
// =============================================================================

func TestRetriever_RawHistory_WhenBranchingTopic_ShouldSplitPrimaryAndAmbient(t *testing.T) {
	// Given: A(root) -> B -> C, and D replying to A
	forum := &fakeForum{posts: []domain.Post{
		post(1, 0, 0, "A question"),
		llmPost(2, 1, 1, "B answer", 5, "llama3"),
		post(3, 2, 2, "C follow up"),
		post(4, 1, 3, "D side note"),
	}}
	r := NewRetriever(forum, fakePersonas{5: "Sage"})

	// When: retrieving history for C
	primary, ambient, err := r.RawHistory(context.Background(), 3, 1, defaultLimits())

	// Then: primary is A, B, C in order and ambient only holds D
	if err != nil {
		t.Fatalf("RawHistory: %v", err)
	}
	wantPrimary := "User: A question\nLLM (Sage/llama3): B answer\nUser: C follow up"
	if primary != wantPrimary {
		t.Errorf("primary:\n%s\nwant:\n%s", primary, wantPrimary)
	}
	if ambient != "User: D side note" {
		t.Errorf("ambient = %q", ambient)
	}
}

func TestRetriever_RawHistory_WhenBranchIsDeep_ShouldKeepMostRecentPerBranch(t *testing.T) {
	// Given: root 1 -> target 2; branch 3 -> 4 -> 5 -> 6 off the root
	forum := &fakeForum{posts: []domain.Post{
		post(1, 0, 0, "root"),
		post(2, 1, 1, "target"),
		post(3, 1, 2, "b1"),
		post(4, 3, 3, "b2"),
		post(5, 4, 4, "b3"),
		post(6, 5, 5, "b4"),
	}}
	r := NewRetriever(forum, fakePersonas{})

	_, ambient, err := r.RawHistory(context.Background(), 2, 1, domain.ChatHistorySettings{MaxPostsPerSiblingBranch: 2, MaxAmbientPosts: 5})

	if err != nil {
		t.Fatalf("RawHistory: %v", err)
	}
	if ambient != "User: b3\nUser: b4" {
		t.Errorf("ambient = %q", ambient)
	}
}

func TestRetriever_RawHistory_WhenManyBranches_ShouldCapOverallByRecency(t *testing.T) {
	// Given: four sibling branches off the root, one post each
	forum := &fakeForum{posts: []domain.Post{
		post(1, 0, 0, "root"),
		post(2, 1, 1, "target"),
		post(3, 1, 2, "s1"),
		post(4, 1, 3, "s2"),
		post(5, 1, 4, "s3"),
		post(6, 1, 5, "s4"),
	}}
	r := NewRetriever(forum, fakePersonas{})

	_, ambient, _ := r.RawHistory(context.Background(), 2, 1, domain.ChatHistorySettings{MaxPostsPerSiblingBranch: 2, MaxAmbientPosts: 2})

	if ambient != "User: s3\nUser: s4" {
		t.Errorf("ambient = %q", ambient)
	}
}

func TestRetriever_RawHistory_WhenRepliesBelowTarget_ShouldTreatThemAsAmbient(t *testing.T) {
	forum := &fakeForum{posts: []domain.Post{
		post(1, 0, 0, "root"),
		post(2, 1, 1, "target"),
		post(3, 2, 2, "earlier reply to target"),
	}}
	r := NewRetriever(forum, fakePersonas{})

	primary, ambient, _ := r.RawHistory(context.Background(), 2, 1, defaultLimits())

	if primary != "User: root\nUser: target" {
		t.Errorf("primary = %q", primary)
	}
	if ambient != "User: earlier reply to target" {
		t.Errorf("ambient = %q", ambient)
	}
}

func TestRetriever_RawHistory_WhenZeroAmbientLimits_ShouldReturnNoAmbient(t *testing.T) {
	forum := &fakeForum{posts: []domain.Post{post(1, 0, 0, "root"), post(2, 1, 1, "target"), post(3, 1, 2, "side")}}
	r := NewRetriever(forum, fakePersonas{})

	_, ambient, _ := r.RawHistory(context.Background(), 2, 1, domain.ChatHistorySettings{})

	if ambient != "" {
		t.Errorf("ambient = %q, want empty", ambient)
	}
}

func TestRetriever_RawHistory_WhenParentCycle_ShouldTerminate(t *testing.T) {
	a := post(1, 2, 0, "a")
	b := post(2, 1, 1, "b")
	r := NewRetriever(&fakeForum{posts: []domain.Post{a, b}}, fakePersonas{})

	primary, _, err := r.RawHistory(context.Background(), 2, 1, defaultLimits())

	if err != nil {
		t.Fatalf("RawHistory: %v", err)
	}
	if primary != "User: a\nUser: b" {
		t.Errorf("primary = %q", primary)
	}
}

func TestRetriever_RawHistory_WhenPersonaUnknown_ShouldLabelByID(t *testing.T) {
	forum := &fakeForum{posts: []domain.Post{post(1, 0, 0, "q"), llmPost(2, 1, 1, "a", 9, "")}}
	r := NewRetriever(forum, fakePersonas{})

	primary, _, _ := r.RawHistory(context.Background(), 2, 1, defaultLimits())

	if !strings.Contains(primary, "LLM (persona 9/unknown): a") {
		t.Errorf("primary = %q", primary)
	}
}

func TestRetriever_RawHistory_WhenPostMissing_ShouldReturnErrPostNotInTopic(t *testing.T) {
	r := NewRetriever(&fakeForum{posts: []domain.Post{post(1, 0, 0, "root")}}, fakePersonas{})

	_, _, err := r.RawHistory(context.Background(), 42, 1, defaultLimits())

	if !errors.Is(err, ErrPostNotInTopic) {
		t.Fatalf("expected ErrPostNotInTopic, got %v", err)
	}
}

func TestRetriever_RawHistory_WhenStoreFails_ShouldWrapError(t *testing.T) {
	boom := errors.New("database is locked")
	r := NewRetriever(&fakeForum{err: boom}, fakePersonas{})

	if _, _, err := r.RawHistory(context.Background(), 1, 1, defaultLimits()); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
}

func TestRetriever_RawHistory_WhenLimitsNegative_ShouldTreatThemAsZero(t *testing.T) {
	forum := &fakeForum{posts: []domain.Post{
		post(1, 0, 0, "alpha"),
		post(2, 1, 1, "bravo"),
		post(3, 1, 2, "charlie"),
	}}
	limits := domain.ChatHistorySettings{MaxPostsPerSiblingBranch: -1, MaxAmbientPosts: -5, PrimaryBudgetRatio: 0.7}

	primary, ambient, err := NewRetriever(forum, fakePersonas{}).RawHistory(context.Background(), 2, 1, limits)

	if err != nil {
		t.Fatalf("RawHistory: %v", err)
	}
	if primary != "User: alpha\nUser: bravo" || ambient != "" {
		t.Errorf("primary=%q ambient=%q", primary, ambient)
	}
}

// =============================================================================
// PruneLines
// =============================================================================

func TestPruner_PruneLines_ShouldRespectBudgetAndBeIdempotent(t *testing.T) {
	p := NewPruner(wordCounter{})
	text := "one two\nthree four five\nsix\nseven eight"

	for b := 0; b <= 10; b++ {
		got := p.PruneLines(text, b)
		if n := (wordCounter{}).Count(got); n > b {
			t.Errorf("budget %d: got %d tokens", b, n)
		}
		if again := p.PruneLines(got, b); again != got {
			t.Errorf("budget %d: not idempotent: %q vs %q", b, got, again)
		}
		if got != "" && !strings.HasSuffix(text, got) {
			t.Errorf("budget %d: %q is not a suffix", b, got)
		}
	}
}

func TestPruner_PruneLines_ShouldDropOldestLinesFirst(t *testing.T) {
	p := NewPruner(wordCounter{})

	got := p.PruneLines("old old old\nmid mid\nnew", 3)

	if got != "mid mid\nnew" {
		t.Errorf("got %q", got)
	}
}

func TestPruner_PruneLines_WhenNothingFits_ShouldReturnEmpty(t *testing.T) {
	p := NewPruner(wordCounter{})

	if got := p.PruneLines("too many words here", 2); got != "" {
		t.Errorf("got %q, want empty", got)
	}
}

// =============================================================================
// Prune
// =============================================================================

func TestPruner_Prune_WhenAmpleBudget_ShouldKeepEverythingWithHeaders(t *testing.T) {
	p := NewPruner(wordCounter{})

	res := p.Prune("User: hi", "User: other", 100, 0.7, "PRIMARY", "AMBIENT")

	if res.PrimaryWithHeader != "PRIMARY\nUser: hi" {
		t.Errorf("primary = %q", res.PrimaryWithHeader)
	}
	if res.AmbientWithHeader != "AMBIENT\nUser: other" {
		t.Errorf("ambient = %q", res.AmbientWithHeader)
	}
	if res.PrimaryBudget != 69 {
		t.Errorf("primary budget = %d, want 69", res.PrimaryBudget)
	}
	if res.AmbientBudget != 100-3-1 {
		t.Errorf("ambient budget = %d, want 96", res.AmbientBudget)
	}
}

func TestPruner_Prune_WhenContentEmpty_ShouldOmitHeaders(t *testing.T) {
	p := NewPruner(wordCounter{})

	res := p.Prune("", "", 100, 0.7, "PRIMARY", "AMBIENT")

	if res.PrimaryWithHeader != "" || res.AmbientWithHeader != "" {
		t.Errorf("expected empty sections, got %+v", res)
	}
	if res.PrimaryBudget != 70 {
		t.Errorf("header must not be charged without content, budget = %d", res.PrimaryBudget)
	}
}

func TestPruner_Prune_WhenBudgetTooSmallForHeader_ShouldClampToZero(t *testing.T) {
	p := NewPruner(wordCounter{})

	res := p.Prune("User: hi", "User: there", 1, 0.5, "LONG PRIMARY HEADER", "LONG AMBIENT HEADER")

	if res.PrimaryBudget != 0 || res.AmbientBudget != 0 {
		t.Errorf("budgets = %d/%d, want 0/0", res.PrimaryBudget, res.AmbientBudget)
	}
	if res.PrimaryWithHeader != "" || res.AmbientWithHeader != "" {
		t.Errorf("expected everything pruned, got %+v", res)
	}
}

func TestPruner_Prune_WhenPrimaryUnderRatio_ShouldGiveLeftoverToAmbient(t *testing.T) {
	p := NewPruner(wordCounter{})
	ambient := "a1 a1\na2 a2\na3 a3\na4 a4"

	// 20 available, ratio 0.5 -> primary budget 10 - 1 = 9, primary uses 1+2 = 3,
	// ambient budget = 20 - 3 - 1 = 16, so all 8 ambient words fit.
	res := p.Prune("User: hi", ambient, 20, 0.5, "P", "A")

	if res.AmbientWithHeader != "A\n"+ambient {
		t.Errorf("ambient = %q", res.AmbientWithHeader)
	}
}

func TestPruner_Prune_EndToEnd_WhenBudgetBelowPrimary_ShouldKeepRecentSuffixAndDropAmbient(t *testing.T) {
	// Given: the A->B->C / D topic with a budget smaller than the primary chain
	forum := &fakeForum{posts: []domain.Post{
		post(1, 0, 0, "alpha alpha alpha"),
		post(2, 1, 1, "bravo bravo"),
		post(3, 2, 2, "charlie"),
		post(4, 1, 3, "delta delta"),
	}}
	r := NewRetriever(forum, fakePersonas{})
	primary, ambient, err := r.RawHistory(context.Background(), 3, 1, defaultLimits())
	if err != nil {
		t.Fatalf("RawHistory: %v", err)
	}
	full := (wordCounter{}).Count(primary)

	// When: pruning with fewer tokens than the full primary history
	res := NewPruner(wordCounter{}).Prune(primary, ambient, full-1, 1.0, "", "H")

	// Then: primary keeps its most recent suffix and ambient gets nothing
	if !strings.HasSuffix(primary, res.PrimaryWithHeader) || res.PrimaryWithHeader == primary {
		t.Errorf("primary = %q, want a strict suffix of %q", res.PrimaryWithHeader, primary)
	}
	if !strings.HasSuffix(res.PrimaryWithHeader, "User: charlie") {
		t.Errorf("the answered post must survive, got %q", res.PrimaryWithHeader)
	}
	if res.AmbientWithHeader != "" {
		t.Errorf("ambient = %q, want empty", res.AmbientWithHeader)
	}
	if res.PrimaryTokens+res.AmbientTokens > full-1 {
		t.Errorf("used %d tokens, budget %d", res.PrimaryTokens+res.AmbientTokens, full-1)
	}
}

func TestPruner_Prune_WhenRatioNaN_ShouldUseDefaultRatioAndStayWithinBudget(t *testing.T) {
	// Given: fifty primary lines and a NaN ratio
	var lines []string
	for i := 0; i < 50; i++ {
		lines = append(lines, "User: line of history")
	}
	primary := strings.Join(lines, "\n")

	// When: pruning into 20 tokens
	res := NewPruner(wordCounter{}).Prune(primary, "a1 a1", 20, math.NaN(), "P", "A")

	// Then: the default ratio applies and the total stays within 20
	if res.PrimaryBudget < 12 || res.PrimaryBudget > 13 {
		t.Errorf("primary budget = %d, want about 20*0.7 less the header", res.PrimaryBudget)
	}
	if res.PrimaryWithHeader == "" {
		t.Error("expected some primary history to survive")
	}
	if res.PrimaryTokens+res.AmbientTokens > 20 {
		t.Errorf("used %d tokens, budget 20", res.PrimaryTokens+res.AmbientTokens)
	}
}
