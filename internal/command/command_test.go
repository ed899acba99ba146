package command

import (
	"errors"
	"testing"
)

type fakeCmd struct {
	can     bool
	checked bool
	runs    int
}

func (f *fakeCmd) DisplayName() string   { return "Fake" }
func (f *fakeCmd) CanExecute() bool      { return f.can }
func (f *fakeCmd) Execute()              { f.runs++; f.checked = !f.checked }
func (f *fakeCmd) IsChecked() bool       { return f.checked }
func (f *fakeCmd) OnStateChanged(func()) {}

func TestRegistry_ExecuteAndList(t *testing.T) {
	r := NewRegistry()
	a := &fakeCmd{can: true}
	b := &fakeCmd{}
	if err := r.Register("a", a); err != nil {
		t.Fatalf("register a: %v", err)
	}
	if err := r.Register("b", b); err != nil {
		t.Fatalf("register b: %v", err)
	}
	if err := r.Register("a", b); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("want ErrDuplicate, got %v", err)
	}

	info, err := r.Execute("a")
	if err != nil || !info.Checked || a.runs != 1 {
		t.Fatalf("execute a: info=%+v err=%v runs=%d", info, err, a.runs)
	}
	if _, err := r.Execute("b"); !errors.Is(err, ErrCannotExecute) || b.runs != 0 {
		t.Fatalf("execute b: err=%v runs=%d", err, b.runs)
	}
	if _, err := r.Execute("zzz"); !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("want ErrUnknownCommand, got %v", err)
	}

	list := r.List()
	if len(list) != 2 || list[0].Name != "a" || list[1].Name != "b" {
		t.Fatalf("unexpected list %+v", list)
	}
	if list[1].CanExecute || list[0].DisplayName != "Fake" {
		t.Fatalf("unexpected info %+v", list)
	}
}

func TestRegistry_Describe(t *testing.T) {
	r := NewRegistry()
	c := &fakeCmd{can: true, checked: true}
	if err := r.Register("c", c); err != nil {
		t.Fatalf("register: %v", err)
	}
	info, err := r.Describe("c")
	if err != nil || info.Name != "c" || !info.Checked || !info.CanExecute || c.runs != 0 {
		t.Fatalf("describe: info=%+v err=%v runs=%d", info, err, c.runs)
	}
	if _, err := r.Describe("zzz"); !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("want ErrUnknownCommand, got %v", err)
	}
}
