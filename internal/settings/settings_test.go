package settings

import (
	"context"
	"errors"
	"testing"

	"forllm/internal/domain"
)

type mapStore struct {
	values map[string]string
	err    error
}

func (m *mapStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	if m.err != nil {
		return "", false, m.err
	}
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *mapStore) SetSetting(ctx context.Context, key, value string) error {
	m.values[key] = value
	return nil
}

func TestReader_ChatHistory_WhenAbsent_ShouldReturnDefaults(t *testing.T) {
	r := NewReader(&mapStore{values: map[string]string{}}, nil)

	got := r.ChatHistory(context.Background())

	if got != domain.DefaultChatHistorySettings() {
		t.Errorf("got %+v, want defaults", got)
	}
}

func TestReader_ChatHistory_WhenValidOverrides_ShouldUseThem(t *testing.T) {
	r := NewReader(&mapStore{values: map[string]string{
		KeyMaxAmbientPosts:          "9",
		KeyMaxPostsPerSiblingBranch: "0",
		KeyPrimaryBudgetRatio:       "0.5",
	}}, nil)

	got := r.ChatHistory(context.Background())

	if got.MaxAmbientPosts != 9 || got.MaxPostsPerSiblingBranch != 0 || got.PrimaryBudgetRatio != 0.5 {
		t.Errorf("unexpected settings: %+v", got)
	}
}

func TestReader_ChatHistory_WhenInvalidValues_ShouldFallBackPerField(t *testing.T) {
	r := NewReader(&mapStore{values: map[string]string{
		KeyMaxAmbientPosts:          "-3",
		KeyMaxPostsPerSiblingBranch: "two",
		KeyPrimaryBudgetRatio:       "1.5",
	}}, nil)

	got := r.ChatHistory(context.Background())

	if got != domain.DefaultChatHistorySettings() {
		t.Errorf("got %+v, want defaults", got)
	}
}

func TestReader_Ratio_WhenNotFinite_ShouldReturnDefault(t *testing.T) {
	for _, v := range []string{"NaN", "nan", "Inf", "-Inf"} {
		r := NewReader(&mapStore{values: map[string]string{KeyPrimaryBudgetRatio: v}}, nil)

		if got := r.Ratio(context.Background(), KeyPrimaryBudgetRatio, 0.7); got != 0.7 {
			t.Errorf("ratio %q: got %v, want default 0.7", v, got)
		}
	}
}

func TestReader_WhenStoreErrors_ShouldReturnDefaults(t *testing.T) {
	r := NewReader(&mapStore{err: errors.New("db locked")}, nil)

	if got := r.SelectedModel(context.Background(), "llama3"); got != "llama3" {
		t.Errorf("SelectedModel = %q", got)
	}
	if _, ok := r.DefaultContextWindow(context.Background()); ok {
		t.Error("DefaultContextWindow should report not ok")
	}
}

func TestReader_DefaultContextWindow(t *testing.T) {
	cases := map[string]struct {
		value  string
		want   int
		wantOK bool
	}{
		"valid":    {"4096", 4096, true},
		"zero":     {"0", 0, false},
		"garbage":  {"lots", 0, false},
		"padded":   {" 8192 ", 8192, true},
		"negative": {"-1", 0, false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			r := NewReader(&mapStore{values: map[string]string{KeyDefaultContextWindow: tc.value}}, nil)
			got, ok := r.DefaultContextWindow(context.Background())
			if got != tc.want || ok != tc.wantOK {
				t.Errorf("got (%d, %v), want (%d, %v)", got, ok, tc.want, tc.wantOK)
			}
		})
	}
}

func TestReader_GlobalDefaultPersonaID(t *testing.T) {
	cases := map[string]int64{"7": 7, "": FallbackPersonaID, "x": FallbackPersonaID, "0": FallbackPersonaID}
	for value, want := range cases {
		r := NewReader(&mapStore{values: map[string]string{KeyGlobalDefaultPersona: value}}, nil)
		if got := r.GlobalDefaultPersonaID(context.Background()); got != want {
			t.Errorf("value %q: got %d, want %d", value, got, want)
		}
	}
}

func TestDefaults_ShouldCoverEveryKey(t *testing.T) {
	d := Defaults()
	for _, k := range []string{KeySelectedModel, KeyDefaultContextWindow, KeyMaxAmbientPosts, KeyMaxPostsPerSiblingBranch, KeyPrimaryBudgetRatio, KeyGlobalDefaultPersona} {
		if d[k] == "" {
			t.Errorf("missing default for %s", k)
		}
	}
}
