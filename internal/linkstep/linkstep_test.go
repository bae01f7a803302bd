package linkstep

import "testing"

func TestIsLinkerInvocation(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want bool
	}{
		{
			name: "shared library output short-circuits",
			args: []string{"-o", "a.so"},
			want: true,
		},
		{
			name: "single object is an ordinary compile",
			args: []string{"x.o"},
			want: false,
		},
		{
			name: "two objects mean a link",
			args: []string{"x.o", "y.o"},
			want: true,
		},
		{
			name: "one object with non-so output",
			args: []string{"-o", "a.out", "x.o"},
			want: false,
		},
		{
			name: "typical compile",
			args: []string{"-O2", "-Wall", "-c", "src/main.cpp", "-o", "obj/main.o"},
			want: false,
		},
		{
			name: "typical link",
			args: []string{"obj/main.o", "obj/util.o", "obj/net.o", "-o", "bin/app", "-lpthread"},
			want: true,
		},
		{
			name: "static archive plus object",
			args: []string{"main.o", "libfoo.a", "-o", "app"},
			want: true,
		},
		{
			name: "compile referencing one pch object",
			args: []string{"-c", "file.cpp", "-include-pch", "all-headers.pch.o", "-o", "file.o"},
			want: false,
		},
		{
			name: "shared library output deep path",
			args: []string{"a.o", "-o", "lib/libfoo.so"},
			want: true,
		},
		{
			name: "output flag with missing value",
			args: []string{"-c", "x.cpp", "-o"},
			want: false,
		},
		{
			name: "empty",
			args: nil,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsLinkerInvocation(tt.args); got != tt.want {
				t.Errorf("IsLinkerInvocation(%q) = %v, want %v", tt.args, got, tt.want)
			}
		})
	}
}

func TestIsLinkerInvocationIsPure(t *testing.T) {
	args := []string{"x.o", "y.o", "-o", "bin"}
	first := IsLinkerInvocation(args)
	for i := 0; i < 100; i++ {
		if IsLinkerInvocation(args) != first {
			t.Fatal("classification changed between identical calls")
		}
	}
	if args[0] != "x.o" || args[3] != "bin" {
		t.Fatal("argument list mutated")
	}
}
