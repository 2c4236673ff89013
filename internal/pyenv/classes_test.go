package pyenv

import (
	"testing"

	"github.com/lumenimaging/segrunner/internal/domain"
)

func TestListTaskClasses(t *testing.T) {
	runner := &stubRunner{result: domain.ProcessExecutionResult{
		Status: 0,
		Stdout: []byte("liver\nspleen\n\nkidney_left\n"),
	}}

	names, err := ListTaskClasses(runner, Runtime{Program: "/usr/bin/python3"}, "total")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"liver", "spleen", "kidney_left"}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestListTaskClasses_UnknownTask(t *testing.T) {
	runner := &stubRunner{result: domain.ProcessExecutionResult{
		Status: 1,
		Stderr: []byte("KeyError: 'bones'"),
	}}

	_, err := ListTaskClasses(runner, Runtime{Program: "/usr/bin/python3"}, "bones")
	if err == nil {
		t.Fatal("expected an error for an unknown task")
	}
}
