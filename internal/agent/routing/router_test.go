package routing

import (
	"testing"

	"github.com/nickmurray47/goose/pkg/models"
)

var (
	mainBinding = models.RoleBinding{Provider: "anthropic", Model: "claude-sonnet-4"}
	leadBinding = models.RoleBinding{Provider: "anthropic", Model: "claude-opus-4"}
)

func TestNewRouterRequiresMain(t *testing.T) {
	tests := []struct {
		name     string
		bindings map[models.ModelRole]models.RoleBinding
		wantErr  bool
	}{
		{"with main", map[models.ModelRole]models.RoleBinding{models.ModelRoleMain: mainBinding}, false},
		{"no bindings", nil, true},
		{"main missing model", map[models.ModelRole]models.RoleBinding{models.ModelRoleMain: {Provider: "anthropic"}}, true},
		{"only lead", map[models.ModelRole]models.RoleBinding{models.ModelRoleLead: leadBinding}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRouter(Config{Bindings: tt.bindings})
			if (err != nil) != tt.wantErr {
				t.Errorf("NewRouter() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestResolveFallbacks(t *testing.T) {
	tests := []struct {
		name     string
		bindings map[models.ModelRole]models.RoleBinding
		role     models.ModelRole
		want     models.RoleBinding
	}{
		{
			name:     "explicit lead",
			bindings: map[models.ModelRole]models.RoleBinding{models.ModelRoleMain: mainBinding, models.ModelRoleLead: leadBinding},
			role:     models.ModelRoleLead,
			want:     leadBinding,
		},
		{
			name:     "worker falls back to main",
			bindings: map[models.ModelRole]models.RoleBinding{models.ModelRoleMain: mainBinding},
			role:     models.ModelRoleWorker,
			want:     mainBinding,
		},
		{
			name:     "planner falls back to main",
			bindings: map[models.ModelRole]models.RoleBinding{models.ModelRoleMain: mainBinding},
			role:     models.ModelRolePlanner,
			want:     mainBinding,
		},
		{
			name: "lead without provider borrows main provider",
			bindings: map[models.ModelRole]models.RoleBinding{
				models.ModelRoleMain: mainBinding,
				models.ModelRoleLead: {Model: "claude-opus-4"},
			},
			role: models.ModelRoleLead,
			want: models.RoleBinding{Provider: "anthropic", Model: "claude-opus-4"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewRouter(Config{Bindings: tt.bindings})
			if err != nil {
				t.Fatal(err)
			}
			got, err := r.Resolve(tt.role)
			if err != nil {
				t.Fatalf("Resolve(%q) error: %v", tt.role, err)
			}
			if got != tt.want {
				t.Errorf("Resolve(%q) = %+v, want %+v", tt.role, got, tt.want)
			}
		})
	}
}

func TestForTurnLeadSwitchover(t *testing.T) {
	r, err := NewRouter(Config{
		Bindings: map[models.ModelRole]models.RoleBinding{
			models.ModelRoleMain:   mainBinding,
			models.ModelRoleLead:   leadBinding,
			models.ModelRoleWorker: {Provider: "openai", Model: "gpt-4o-mini"},
		},
		LeadTurns: 2,
	})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		turn int
		role models.ModelRole
	}{
		{0, models.ModelRoleLead},
		{1, models.ModelRoleLead},
		{2, models.ModelRoleWorker},
		{9, models.ModelRoleWorker},
	}

	for _, tt := range tests {
		b, role, err := r.ForTurn(tt.turn)
		if err != nil {
			t.Fatalf("ForTurn(%d) error: %v", tt.turn, err)
		}
		if role != tt.role {
			t.Errorf("ForTurn(%d) role = %q, want %q", tt.turn, role, tt.role)
		}
		want, _ := r.Resolve(tt.role)
		if b != want {
			t.Errorf("ForTurn(%d) binding = %+v, want %+v", tt.turn, b, want)
		}
	}
}

func TestForTurnNoLeadPhase(t *testing.T) {
	r, err := NewRouter(Config{
		Bindings:  map[models.ModelRole]models.RoleBinding{models.ModelRoleMain: mainBinding},
		LeadTurns: 0,
	})
	if err != nil {
		t.Fatal(err)
	}
	_, role, err := r.ForTurn(0)
	if err != nil {
		t.Fatal(err)
	}
	if role != models.ModelRoleWorker {
		t.Errorf("role = %q, want worker with no lead phase", role)
	}
}
