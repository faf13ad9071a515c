package addins

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"feedplatform/internal/hooks"
	"feedplatform/internal/model"
)

type addinA struct{ tag string }

func newA() *addinA { return &addinA{} }
func (a *addinA) Name() string { return "a" }

type addinB struct{}

func newB() *addinB { return &addinB{} }
func (b *addinB) Name() string { return "b" }
func (b *addinB) Depends() []Decl {
	return []Decl{UseType(TypeOf(newA))}
}

type addinC struct{}

func (c *addinC) Name() string { return "c" }
func (c *addinC) Depends() []Decl {
	return []Decl{UseType(TypeOf(newA)), UseType(TypeOf(newB))}
}

type addinE struct{}

func (e *addinE) Name() string { return "e" }

type withArgs struct{ chatID int64 }

func (w *withArgs) Name() string { return "with-args" }

type needsWithArgs struct{}

func (n *needsWithArgs) Name() string { return "needs-with-args" }
func (n *needsWithArgs) Depends() []Decl {
	return []Decl{UseType(TypeOf[*withArgs](nil))}
}

type wantsInstance struct{ dep *addinA }

func (w *wantsInstance) Name() string { return "wants-instance" }
func (w *wantsInstance) Depends() []Decl { return []Decl{Use(w.dep)} }

type cycleX struct{}

func (x *cycleX) Name() string { return "x" }
func (x *cycleX) Depends() []Decl { return []Decl{UseType(TypeOf(func() *cycleY { return &cycleY{} }))} }

type cycleY struct{}

func (y *cycleY) Name() string { return "y" }
func (y *cycleY) Depends() []Decl { return []Decl{UseType(TypeOf(func() *cycleX { return &cycleX{} }))} }

func names(list []Extension) []string {
	out := make([]string, 0, len(list))
	for _, ext := range list {
		out = append(out, ext.Name())
	}
	return out
}

func TestInstallDependencies(t *testing.T) {
	tests := []struct {
		name  string
		decls []Decl
		want  []string
	}{
		{
			name:  "missing dependency inserted before dependent",
			decls: []Decl{Use(&addinB{})},
			want:  []string{"a", "b"},
		},
		{
			name:  "explicit order kept",
			decls: []Decl{Use(&addinB{}), Use(&addinA{})},
			want:  []string{"b", "a"},
		},
		{
			name:  "transitive dependencies",
			decls: []Decl{Use(&addinC{})},
			want:  []string{"a", "b", "c"},
		},
		{
			name:  "independent extension untouched",
			decls: []Decl{Use(&addinE{}), Use(&addinB{})},
			want:  []string{"e", "a", "b"},
		},
		{
			name:  "satisfied by a later extension",
			decls: []Decl{Use(&addinC{}), Use(&addinA{})},
			want:  []string{"b", "c", "a"},
		},
		{
			name:  "types are constructed",
			decls: []Decl{UseType(TypeOf(newB))},
			want:  []string{"a", "b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := New(hooks.New()).Install(tt.decls...)
			if err != nil {
				t.Fatalf("install: %v", err)
			}
			if diff := cmp.Diff(tt.want, names(got)); diff != "" {
				t.Errorf("active list mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestInstallDependencyInstance(t *testing.T) {
	dep := &addinA{tag: "configured"}
	got, err := New(hooks.New()).Install(Use(&wantsInstance{dep: dep}))
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	if len(got) != 2 || got[0] != Extension(dep) {
		t.Errorf("active list = %v, want the given instance first", names(got))
	}
}

func TestInstallErrors(t *testing.T) {
	tests := []struct {
		name  string
		decls []Decl
		want  error
	}{
		{
			name:  "bare type without constructor",
			decls: []Decl{UseType(TypeOf[*withArgs](nil))},
			want:  ErrNeedsArguments,
		},
		{
			name:  "dependency without constructor",
			decls: []Decl{Use(&needsWithArgs{})},
			want:  ErrNeedsArguments,
		},
		{
			name:  "dependency cycle",
			decls: []Decl{Use(&cycleX{})},
			want:  ErrDependencyCycle,
		},
		{
			name:  "same instance twice",
			decls: func() []Decl { g := &fixedGUID{guid: "x"}; return []Decl{Use(g), Use(g)} }(),
			want:  hooks.ErrDuplicateCallback,
		},
		{
			name:  "callback for unknown hook",
			decls: []Decl{Use(&customConsumer{})},
			want:  ErrInvalidHook,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(hooks.New()).Install(tt.decls...)
			if !errors.Is(err, tt.want) {
				t.Errorf("Install() error = %v, want %v", err, tt.want)
			}
		})
	}

	// Given as an instance the dependency is satisfied.
	got, err := New(hooks.New()).Install(Use(&withArgs{chatID: 1}), Use(&needsWithArgs{}))
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	if diff := cmp.Diff([]string{"with-args", "needs-with-args"}, names(got)); diff != "" {
		t.Errorf("active list mismatch (-want +got):\n%s", diff)
	}
}

type fixedGUID struct {
	guid     string
	priority int
}

func (f *fixedGUID) Name() string { return "fixed-guid-" + f.guid }
func (f *fixedGUID) OnGetGUID(context.Context, *GUIDArgs) (string, error) {
	return f.guid, nil
}
func (f *fixedGUID) Priority(string) int { return f.priority }

type customProvider struct{}

func (p *customProvider) Name() string { return "custom-provider" }
func (p *customProvider) ProvideHooks() []string { return []string{"custom_hook"} }

type customConsumer struct{ calls int }

func (c *customConsumer) Name() string { return "custom-consumer" }
func (c *customConsumer) Callbacks() []Registration {
	return []Registration{{
		Hook:     "custom_hook",
		Callback: hooks.Func(func(context.Context, any) (any, error) {
			c.calls++
			return nil, nil
		}),
	}}
}

func TestInstallBindsCallbacks(t *testing.T) {
	ctx := context.Background()
	h := hooks.New()
	r := New(h)
	if _, err := r.Install(
		Use(&fixedGUID{guid: "low", priority: 1}),
		Use(&fixedGUID{guid: "high", priority: 10}),
	); err != nil {
		t.Fatalf("install: %v", err)
	}

	got, err := h.Trigger(ctx, hooks.GetGUID, &GUIDArgs{})
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if diff := cmp.Diff("high", got); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
	if _, err := h.Trigger(ctx, hooks.GetGUID, "wrong"); err == nil {
		t.Error("expected error for mismatched arguments")
	}
}

func TestInstallCustomHooks(t *testing.T) {
	ctx := context.Background()
	h := hooks.New()
	consumer := &customConsumer{}
	if _, err := New(h).Install(Use(&customProvider{}), Use(consumer)); err != nil {
		t.Fatalf("install: %v", err)
	}
	if err := h.TriggerAll(ctx, "custom_hook", nil); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if diff := cmp.Diff(1, consumer.calls); diff != "" {
		t.Errorf("call count mismatch (-want +got):\n%s", diff)
	}
}

func TestReinstall(t *testing.T) {
	ctx := context.Background()
	h := hooks.New()
	r := New(h)
	if _, err := r.Install(Use(&customProvider{}), Use(&fixedGUID{guid: "first"})); err != nil {
		t.Fatalf("install: %v", err)
	}

	// A failing reinstall leaves the previous configuration active.
	if _, err := r.Reinstall(Use(&fixedGUID{guid: "second"}), Use(&customConsumer{})); !errors.Is(err, ErrInvalidHook) {
		t.Fatalf("Reinstall() error = %v, want ErrInvalidHook", err)
	}
	got, err := h.Trigger(ctx, hooks.GetGUID, &GUIDArgs{})
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if diff := cmp.Diff("first", got); diff != "" {
		t.Errorf("result after failed reinstall mismatch (-want +got):\n%s", diff)
	}
	active, err := r.Active()
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if diff := cmp.Diff([]string{"custom-provider", "fixed-guid-first"}, names(active)); diff != "" {
		t.Errorf("active list mismatch (-want +got):\n%s", diff)
	}

	// A successful reinstall drops the old callbacks and hook names.
	if _, err := r.Reinstall(Use(&fixedGUID{guid: "second"})); err != nil {
		t.Fatalf("reinstall: %v", err)
	}
	got, err = h.Trigger(ctx, hooks.GetGUID, &GUIDArgs{})
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if diff := cmp.Diff("second", got); diff != "" {
		t.Errorf("result after reinstall mismatch (-want +got):\n%s", diff)
	}
	if h.Exists("custom_hook") {
		t.Error("custom hook survived reinstall")
	}
}

func TestActiveInstallsLazily(t *testing.T) {
	h := hooks.New()
	r := New(h, UseType(TypeOf(newB)))
	if ok, _ := h.Any(hooks.GetGUID); ok {
		t.Fatal("callbacks installed before first use")
	}
	active, err := r.Active()
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if diff := cmp.Diff([]string{"a", "b"}, names(active)); diff != "" {
		t.Errorf("active list mismatch (-want +got):\n%s", diff)
	}
}

type fieldsOf struct {
	name   string
	schema model.Schema
}

func (f *fieldsOf) Name() string { return f.name }
func (f *fieldsOf) Fields() model.Schema { return f.schema }

func TestSchema(t *testing.T) {
	r := New(hooks.New(),
		Use(&fieldsOf{name: "one", schema: model.Schema{model.KindItem: {"title": model.TypeString}}}),
		Use(&fieldsOf{name: "two", schema: model.Schema{model.KindItem: {"title": model.TypeString}, model.KindFeed: {"etag": model.TypeString}}}),
	)
	got, err := r.Schema()
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	want := model.Schema{
		model.KindItem: {"title": model.TypeString},
		model.KindFeed: {"etag": model.TypeString},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("schema mismatch (-want +got):\n%s", diff)
	}

	_, err = New(hooks.New()).Install(
		Use(&fieldsOf{name: "one", schema: model.Schema{model.KindItem: {"size": model.TypeInt}}}),
		Use(&fieldsOf{name: "two", schema: model.Schema{model.KindItem: {"size": model.TypeString}}}),
	)
	if err == nil {
		t.Error("expected error for conflicting field types")
	}
}
