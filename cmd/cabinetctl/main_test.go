package main

import (
	"io"
	"strings"
	"testing"
)

func TestRootCmdTree(t *testing.T) {
	root := NewRootCmd()
	for _, path := range [][]string{
		{"materialize"},
		{"penalty", "show"},
		{"penalty", "activate"},
		{"restore"},
		{"token"},
		{"kiosk", "add"},
	} {
		cmd, _, err := root.Find(path)
		if err != nil || cmd == root {
			t.Fatalf("command %v not registered: %v", path, err)
		}
	}
}

// argument checks run before any database is opened
func TestArgumentValidation(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"penalty", "activate", "abc"}, "invalid id"},
		{[]string{"kiosk", "add", "KIOSK-1", "short"}, "at least"},
		{[]string{"penalty", "activate"}, "accepts 1 arg"},
	}

	for _, tt := range tests {
		root := NewRootCmd()
		root.SetOut(io.Discard)
		root.SetErr(io.Discard)
		root.SetArgs(tt.args)

		err := root.Execute()
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Fatalf("%v: expected error containing %q, got %v", tt.args, tt.want, err)
		}
	}
}
